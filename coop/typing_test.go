package coop_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/coop-messenger/coop-sync/coop"
)

const kitchen = "https://coop.example/kitchen"

func TestTypingSessionTracker_Expiry(t *testing.T) {
	t0 := time.Unix(1_700_000_000, 0)
	tr := coop.NewTypingSessionTracker("me", 5*time.Second)
	tr.OnTypingSignal(kitchen, "alice", t0)

	tests := []struct {
		name string
		at   time.Time
		want []string
	}{
		{name: "Immediately", at: t0, want: []string{"alice"}},
		{name: "BeforeTTL", at: t0.Add(4999 * time.Millisecond), want: []string{"alice"}},
		{name: "AtTTL", at: t0.Add(5 * time.Second), want: []string{}},
		{name: "AfterTTL", at: t0.Add(time.Minute), want: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, tr.ActiveUsers(kitchen, tt.at)); diff != "" {
				t.Errorf("ActiveUsers() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTypingSessionTracker_Refresh(t *testing.T) {
	t0 := time.Unix(1_700_000_000, 0)
	tr := coop.NewTypingSessionTracker("me", 5*time.Second)
	tr.OnTypingSignal(kitchen, "alice", t0)
	tr.OnTypingSignal(kitchen, "bob", t0.Add(time.Second))
	tr.OnTypingSignal(kitchen, "alice", t0.Add(3*time.Second))

	// alice stays ahead of bob and now expires at t0+8s.
	if diff := cmp.Diff([]string{"alice", "bob"}, tr.ActiveUsers(kitchen, t0.Add(4*time.Second))); diff != "" {
		t.Errorf("ActiveUsers() mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"alice"}, tr.ActiveUsers(kitchen, t0.Add(7*time.Second))); diff != "" {
		t.Errorf("ActiveUsers() after bob expired mismatch (-want +got):\n%s", diff)
	}
}

func TestTypingSessionTracker_Ignored(t *testing.T) {
	t0 := time.Unix(1_700_000_000, 0)
	tr := coop.NewTypingSessionTracker("me", 0)
	if tr.TTL() != coop.DefaultTypingTTL {
		t.Errorf("TTL() = %s, want %s", tr.TTL(), coop.DefaultTypingTTL)
	}

	tr.OnTypingSignal(kitchen, "me", t0)
	tr.OnTypingSignal(kitchen, "", t0)
	if got := tr.ActiveUsers(kitchen, t0); len(got) != 0 {
		t.Errorf("ActiveUsers() = %v, want none", got)
	}
}

func TestTypingSessionTracker_TopicsAreIndependent(t *testing.T) {
	t0 := time.Unix(1_700_000_000, 0)
	tr := coop.NewTypingSessionTracker("me", 5*time.Second)
	tr.OnTypingSignal(kitchen, "alice", t0)
	tr.OnTypingSignal("https://other.example/kitchen", "bob", t0)

	if diff := cmp.Diff([]string{"alice"}, tr.ActiveUsers(kitchen, t0)); diff != "" {
		t.Errorf("ActiveUsers() mismatch (-want +got):\n%s", diff)
	}
}

func TestTypingSessionTracker_SweepAndStop(t *testing.T) {
	t0 := time.Unix(1_700_000_000, 0)
	tr := coop.NewTypingSessionTracker("me", 5*time.Second)
	tr.OnTypingSignal(kitchen, "alice", t0)
	tr.OnTypingSignal(kitchen, "bob", t0.Add(2*time.Second))
	tr.OnTypingSignal(kitchen, "carol", t0.Add(2*time.Second))

	if n := tr.Sweep(t0.Add(5 * time.Second)); n != 1 {
		t.Errorf("Sweep() removed %d, want 1", n)
	}
	tr.Stop(kitchen, "bob")
	tr.Stop(kitchen, "nobody")
	if diff := cmp.Diff([]string{"carol"}, tr.ActiveUsers(kitchen, t0.Add(5*time.Second))); diff != "" {
		t.Errorf("ActiveUsers() mismatch (-want +got):\n%s", diff)
	}

	if n := tr.Sweep(t0.Add(time.Hour)); n != 1 {
		t.Errorf("Sweep() removed %d, want 1", n)
	}
	// A user signalling again after expiry goes to the back.
	tr.OnTypingSignal(kitchen, "bob", t0.Add(time.Hour))
	tr.OnTypingSignal(kitchen, "alice", t0.Add(time.Hour))
	if diff := cmp.Diff([]string{"bob", "alice"}, tr.ActiveUsers(kitchen, t0.Add(time.Hour))); diff != "" {
		t.Errorf("ActiveUsers() mismatch (-want +got):\n%s", diff)
	}
}

func TestTypingSessionTracker_Run(t *testing.T) {
	t0 := time.Unix(1_700_000_000, 0)
	tr := coop.NewTypingSessionTracker("me", 5*time.Second)
	tr.OnTypingSignal(kitchen, "alice", t0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		tr.Run(ctx, time.Millisecond, func() time.Time { return t0.Add(time.Minute) })
		close(done)
	}()

	deadline := time.After(time.Second)
	for len(tr.ActiveUsers(kitchen, t0)) != 0 {
		select {
		case <-deadline:
			t.Fatal("Run() did not sweep the expired entry")
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	<-done
}
