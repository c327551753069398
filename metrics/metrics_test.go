package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMustRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	MustRegister(reg)

	defer func() {
		if recover() == nil {
			t.Error("Registering twice did not panic")
		}
	}()
	MustRegister(reg)
}

func TestObserveRequest(t *testing.T) {
	tests := []struct {
		name      string
		operation string
		err       error
		wantLabel []string
	}{
		{
			name:      "Success",
			operation: "typing",
			wantLabel: []string{"typing", "success"},
		},
		{
			name:      "Error",
			operation: "nudge",
			err:       errors.New("boom"),
			wantLabel: []string{"nudge", "error"},
		},
		{
			name:      "NoOperation",
			wantLabel: []string{"unknown", "success"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			counter := OutboundRequestTotal.WithLabelValues(tt.wantLabel...)
			before := testutil.ToFloat64(counter)

			ObserveRequest(tt.operation, time.Now(), tt.err)

			if got := testutil.ToFloat64(counter) - before; got != 1 {
				t.Errorf("Counter grew by %v, want 1", got)
			}
		})
	}
}
