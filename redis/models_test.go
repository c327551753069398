package redis

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/coop-messenger/coop-sync/coop"
)

func TestSubscription_CoopSubscription(t *testing.T) {
	tests := []struct {
		name string
		sub  coop.Subscription
	}{
		{
			name: "Full",
			sub: coop.Subscription{
				ID:          "s1",
				BaseURL:     "https://coop.example",
				Topic:       "kitchen",
				DisplayName: "Kitchen",
				MutedUntil:  1700000000,
				New:         2,
				Reservation: json.RawMessage(`{"everyone":"read-only"}`),
			},
		},
		{
			name: "NoReservation",
			sub: coop.Subscription{
				ID:       "s2",
				BaseURL:  "https://coop.example",
				Topic:    "self",
				Internal: true,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := newSubscription(tt.sub).CoopSubscription()
			if diff := cmp.Diff(tt.sub, got); diff != "" {
				t.Errorf("CoopSubscription() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestNotification_CoopNotification(t *testing.T) {
	want := coop.Notification{
		ID:             "m1",
		SubscriptionID: "s1",
		Event:          coop.EventMessage,
		Time:           1000,
		Seq:            3,
		Sender:         "alice",
		Message:        "hi",
		Tags:           []string{"tada", "wave"},
		Priority:       5,
		Attachment:     &coop.Attachment{Name: "a.png", Size: 42, URL: "https://coop.example/file/a.png"},
	}

	m, err := newNotification(want)
	if err != nil {
		t.Fatal(err)
	}
	if m.Tags != `["tada","wave"]` {
		t.Errorf("Tags stored as %q", m.Tags)
	}
	got, err := m.CoopNotification()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("CoopNotification() mismatch (-want +got):\n%s", diff)
	}
}

func TestNotification_CoopNotification_BadJSON(t *testing.T) {
	_, err := notification{ID: "m1", Tags: "not json"}.CoopNotification()
	if err == nil {
		t.Error("CoopNotification() accepted malformed tags")
	}
}

func TestKeys(t *testing.T) {
	if got, want := notificationKey("s1", "m1"), "notifications:s1:m1"; got != want {
		t.Errorf("notificationKey() = %q, want %q", got, want)
	}
	if got, want := logKey("s1"), "notifications:s1"; got != want {
		t.Errorf("logKey() = %q, want %q", got, want)
	}
	if got, want := subscriptionKey("s1"), "subscriptions:s1"; got != want {
		t.Errorf("subscriptionKey() = %q, want %q", got, want)
	}
}
