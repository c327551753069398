package coop_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/neilotoole/slogt"

	"github.com/coop-messenger/coop-sync/coop"
	"github.com/coop-messenger/coop-sync/memstore"
	"github.com/coop-messenger/coop-sync/validator"
)

func TestSubscriptionID(t *testing.T) {
	a := coop.SubscriptionID("https://coop.example", "kitchen")
	if b := coop.SubscriptionID("https://coop.example/", "kitchen"); a != b {
		t.Errorf("Trailing slash changed the id: %s != %s", a, b)
	}
	if c := coop.SubscriptionID("https://coop.example", "garden"); a == c {
		t.Error("Different topics share an id")
	}
	if c := coop.SubscriptionID("https://other.example", "kitchen"); a == c {
		t.Error("Different servers share an id")
	}
}

func TestSubscriptionRegistry_Add(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		topic   string
		wantErr error
	}{
		{name: "OK", baseURL: "https://coop.example", topic: "kitchen"},
		{name: "TrailingSlash", baseURL: "https://coop.example/", topic: "kitchen_2"},
		{name: "EmptyTopic", baseURL: "https://coop.example", topic: "", wantErr: coop.ErrInvalidTopic},
		{name: "Spaces", baseURL: "https://coop.example", topic: "my topic", wantErr: coop.ErrInvalidTopic},
		{name: "Slash", baseURL: "https://coop.example", topic: "a/b", wantErr: coop.ErrInvalidTopic},
		{
			name:    "TooLong",
			baseURL: "https://coop.example",
			topic:   "a123456789012345678901234567890123456789012345678901234567890123",
			wantErr: coop.ErrInvalidTopic,
		},
		{name: "BadBaseURL", baseURL: "coop.example", topic: "kitchen", wantErr: coop.ErrInvalidBaseURL},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := coop.NewSubscriptionRegistry(memstore.New(), validator.New(), slogt.New(t))

			sub, err := r.Add(context.Background(), tt.baseURL, tt.topic, coop.SubscribeOptions{})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Add() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				if n := len(r.List()); n != 0 {
					t.Errorf("Rejected Add() left %d subscriptions", n)
				}
				return
			}
			if sub.BaseURL != "https://coop.example" {
				t.Errorf("Got base URL %q", sub.BaseURL)
			}
			if sub.ID != coop.SubscriptionID(tt.baseURL, tt.topic) {
				t.Errorf("Got id %s", sub.ID)
			}
		})
	}
}

func TestSubscriptionRegistry_Add_Merge(t *testing.T) {
	ctx := context.Background()
	r := coop.NewSubscriptionRegistry(memstore.New(), validator.New(), slogt.New(t))

	for i := 0; i < 2; i++ {
		if _, err := r.Add(ctx, "https://coop.example", "kitchen", coop.SubscribeOptions{DisplayName: "X"}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := r.Add(ctx, "https://coop.example", "kitchen", coop.SubscribeOptions{
		Reservation: json.RawMessage(`{"everyone":"deny-all"}`),
	}); err != nil {
		t.Fatal(err)
	}

	subs := r.List()
	if len(subs) != 1 {
		t.Fatalf("Got %d subscriptions, want 1", len(subs))
	}
	if subs[0].DisplayName != "X" {
		t.Errorf("Empty option cleared the display name: %q", subs[0].DisplayName)
	}
	if string(subs[0].Reservation) != `{"everyone":"deny-all"}` {
		t.Errorf("Got reservation %s", subs[0].Reservation)
	}
}

func TestSubscriptionRegistry_Mute(t *testing.T) {
	ctx := context.Background()
	r := coop.NewSubscriptionRegistry(memstore.New(), validator.New(), slogt.New(t))
	sub, err := r.Add(ctx, "https://coop.example", "kitchen", coop.SubscribeOptions{})
	if err != nil {
		t.Fatal(err)
	}
	now := time.Unix(1_700_000_000, 0)

	tests := []struct {
		name      string
		value     int64
		wantMuted bool
	}{
		{name: "Unmuted", value: coop.NotMuted, wantMuted: false},
		{name: "Indefinitely", value: coop.MutedIndefinitely, wantMuted: true},
		{name: "Future", value: now.Unix() + 3600, wantMuted: true},
		{name: "Expired", value: now.Unix() - 1, wantMuted: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.SetMutedUntil(ctx, sub.ID, tt.value)
			if err != nil {
				t.Fatal(err)
			}
			if got.MutedUntil != tt.value {
				t.Errorf("Stored %d, want raw value %d", got.MutedUntil, tt.value)
			}
			if got.Muted(now) != tt.wantMuted {
				t.Errorf("Muted() = %v, want %v", got.Muted(now), tt.wantMuted)
			}
		})
	}

	if _, err := r.SetMutedUntil(ctx, "nope", 1); !errors.Is(err, coop.ErrNotFound) {
		t.Errorf("SetMutedUntil() of unknown id error = %v", err)
	}
}

func TestSubscriptionRegistry_SetDisplayName(t *testing.T) {
	ctx := context.Background()
	r := coop.NewSubscriptionRegistry(memstore.New(), validator.New(), slogt.New(t))
	sub, err := r.Add(ctx, "https://coop.example", "kitchen", coop.SubscribeOptions{})
	if err != nil {
		t.Fatal(err)
	}

	got, err := r.SetDisplayName(ctx, sub.ID, "  Kitchen  ")
	if err != nil {
		t.Fatal(err)
	}
	if got.Title() != "Kitchen" {
		t.Errorf("Title() = %q, want Kitchen", got.Title())
	}
	got, err = r.SetDisplayName(ctx, sub.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	if got.Title() != "kitchen" {
		t.Errorf("Title() after clearing = %q, want kitchen", got.Title())
	}
}

func TestSubscriptionRegistry_RemoveCascades(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	e := newTestEngine(t, store, nil)
	kitchen := mustSubscribe(t, e, "kitchen")
	garden := mustSubscribe(t, e, "garden")

	for _, id := range []string{kitchen.ID, garden.ID} {
		if _, err := e.Cache.Ingest(ctx, id, msg("m1", 10), coop.IngestOptions{}); err != nil {
			t.Fatal(err)
		}
	}

	if err := e.Registry.Remove(ctx, kitchen.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Registry.Get(kitchen.ID); !errors.Is(err, coop.ErrNotFound) {
		t.Errorf("Get() after Remove error = %v", err)
	}
	if e.Cache.Len(kitchen.ID) != 0 {
		t.Error("Remove kept the notification log in memory")
	}
	if stored, _ := store.ListNotifications(ctx, kitchen.ID); len(stored) != 0 {
		t.Errorf("Remove kept %d stored notifications", len(stored))
	}
	if _, err := store.GetSubscription(ctx, kitchen.ID); !errors.Is(err, coop.ErrNotFound) {
		t.Errorf("Remove kept the stored subscription: %v", err)
	}
	if e.Cache.Len(garden.ID) != 1 {
		t.Error("Remove touched another subscription's log")
	}

	if err := e.Registry.Remove(ctx, kitchen.ID); !errors.Is(err, coop.ErrNotFound) {
		t.Errorf("Second Remove() error = %v, want ErrNotFound", err)
	}
}

func TestSubscriptionRegistry_First(t *testing.T) {
	ctx := context.Background()
	r := coop.NewSubscriptionRegistry(memstore.New(), validator.New(), slogt.New(t))

	if _, ok := r.First(); ok {
		t.Error("First() of an empty registry reported a subscription")
	}

	var added []coop.Subscription
	for _, topic := range []string{"a", "b", "c"} {
		sub, err := r.Add(ctx, "https://coop.example", topic, coop.SubscribeOptions{})
		if err != nil {
			t.Fatal(err)
		}
		added = append(added, sub)
	}

	lowest := added[0]
	for _, s := range added[1:] {
		if s.ID < lowest.ID {
			lowest = s
		}
	}
	first, ok := r.First()
	if !ok || first.ID != lowest.ID {
		t.Errorf("First() = %s, want %s", first.ID, lowest.ID)
	}
}

func TestSubscriptionRegistry_Load(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	r := coop.NewSubscriptionRegistry(store, validator.New(), slogt.New(t))
	sub, err := r.Add(ctx, "https://coop.example", "kitchen", coop.SubscribeOptions{DisplayName: "Kitchen"})
	if err != nil {
		t.Fatal(err)
	}
	if err := r.IncrementNew(ctx, sub.ID); err != nil {
		t.Fatal(err)
	}

	reloaded := coop.NewSubscriptionRegistry(store, validator.New(), slogt.New(t))
	if err := reloaded.Load(ctx); err != nil {
		t.Fatal(err)
	}
	want, _ := r.Get(sub.ID)
	got, err := reloaded.Get(sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Reloaded subscription mismatch (-want +got):\n%s", diff)
	}
	if got.New != 1 {
		t.Errorf("Got new %d, want 1", got.New)
	}
}
