package coop

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/coop-messenger/coop-sync/validator"
)

// SubscribeOptions carries optional subscription metadata. Empty fields are
// left untouched when merging into an existing subscription.
type SubscribeOptions struct {
	DisplayName string
	Internal    bool
	Reservation json.RawMessage
}

// logDropper removes the notification log of a subscription.
type logDropper interface {
	drop(ctx context.Context, subscriptionID string) error
}

// SubscriptionRegistry holds the set of subscriptions, at most one per
// (baseURL, topic) pair.
type SubscriptionRegistry struct {
	Logger *slog.Logger

	store LocalStore
	val   *validator.Validator
	logs  logDropper

	mu   sync.RWMutex
	subs map[string]Subscription
}

// NewSubscriptionRegistry returns an empty registry writing through to store.
func NewSubscriptionRegistry(store LocalStore, val *validator.Validator, logger *slog.Logger) *SubscriptionRegistry {
	return &SubscriptionRegistry{
		Logger: logger,
		store:  store,
		val:    val,
		subs:   make(map[string]Subscription),
	}
}

// Load replaces the in-memory set with the store's subscriptions.
func (r *SubscriptionRegistry) Load(ctx context.Context) error {
	stored, err := r.store.ListSubscriptions(ctx)
	if err != nil {
		return fmt.Errorf("list subscriptions: %w", err)
	}
	subs := make(map[string]Subscription, len(stored))
	for _, s := range stored {
		subs[s.ID] = s
	}

	r.mu.Lock()
	r.subs = subs
	r.mu.Unlock()
	r.Logger.Debug("Loaded subscriptions", "count", len(subs))
	return nil
}

// Add creates the subscription for (baseURL, topic), or merges the non-empty
// fields of opts into the existing one.
func (r *SubscriptionRegistry) Add(ctx context.Context, baseURL, topic string, opts SubscribeOptions) (Subscription, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if !r.val.ValidBaseURL(baseURL) {
		return Subscription{}, fmt.Errorf("%w: %q", ErrInvalidBaseURL, baseURL)
	}
	if !r.val.ValidTopic(topic) {
		return Subscription{}, fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}

	id := SubscriptionID(baseURL, topic)

	r.mu.Lock()
	defer r.mu.Unlock()

	sub, exists := r.subs[id]
	if !exists {
		sub = Subscription{ID: id, BaseURL: baseURL, Topic: topic}
	}
	if opts.DisplayName != "" {
		sub.DisplayName = opts.DisplayName
	}
	if opts.Internal {
		sub.Internal = true
	}
	if len(opts.Reservation) > 0 {
		sub.Reservation = opts.Reservation
	}

	if err := r.store.PutSubscription(ctx, sub); err != nil {
		return Subscription{}, fmt.Errorf("put subscription: %w", err)
	}
	r.subs[id] = sub
	if !exists {
		r.Logger.Info("Subscribed", "id", id, "topic_url", sub.TopicURL())
	}
	return sub, nil
}

// Get returns the subscription with id.
func (r *SubscriptionRegistry) Get(id string) (Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.subs[id]
	if !ok {
		return Subscription{}, fmt.Errorf("subscription %s: %w", id, ErrNotFound)
	}
	return sub, nil
}

// Lookup returns the subscription of (baseURL, topic).
func (r *SubscriptionRegistry) Lookup(baseURL, topic string) (Subscription, error) {
	return r.Get(SubscriptionID(strings.TrimRight(baseURL, "/"), topic))
}

// List returns all subscriptions ordered by id.
func (r *SubscriptionRegistry) List() []Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Subscription, 0, len(r.subs))
	for _, s := range r.subs {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// update applies fn to the subscription with id and persists the result.
func (r *SubscriptionRegistry) update(ctx context.Context, id string, fn func(*Subscription)) (Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.subs[id]
	if !ok {
		return Subscription{}, fmt.Errorf("subscription %s: %w", id, ErrNotFound)
	}
	fn(&sub)
	if err := r.store.PutSubscription(ctx, sub); err != nil {
		return Subscription{}, fmt.Errorf("put subscription: %w", err)
	}
	r.subs[id] = sub
	return sub, nil
}

// SetMutedUntil stores the raw mute value: NotMuted, MutedIndefinitely or an
// expiry in epoch seconds. Expiry is not enforced here; see Subscription.Muted.
func (r *SubscriptionRegistry) SetMutedUntil(ctx context.Context, id string, value int64) (Subscription, error) {
	return r.update(ctx, id, func(s *Subscription) { s.MutedUntil = value })
}

// SetDisplayName sets the label of a subscription. An empty name clears it.
func (r *SubscriptionRegistry) SetDisplayName(ctx context.Context, id, name string) (Subscription, error) {
	return r.update(ctx, id, func(s *Subscription) { s.DisplayName = strings.TrimSpace(name) })
}

// IncrementNew adds one to the unread counter of a subscription.
func (r *SubscriptionRegistry) IncrementNew(ctx context.Context, id string) error {
	_, err := r.update(ctx, id, func(s *Subscription) { s.New++ })
	return err
}

// ResetNew sets the unread counter of a subscription to zero.
func (r *SubscriptionRegistry) ResetNew(ctx context.Context, id string) error {
	r.mu.RLock()
	sub, ok := r.subs[id]
	r.mu.RUnlock()
	if ok && sub.New == 0 {
		return nil
	}
	_, err := r.update(ctx, id, func(s *Subscription) { s.New = 0 })
	return err
}

// Remove deletes a subscription together with its notification log.
func (r *SubscriptionRegistry) Remove(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.subs[id]
	if !ok {
		return fmt.Errorf("subscription %s: %w", id, ErrNotFound)
	}
	if r.logs != nil {
		if err := r.logs.drop(ctx, id); err != nil {
			return fmt.Errorf("drop notifications: %w", err)
		}
	}
	if err := r.store.DeleteSubscription(ctx, id); err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	delete(r.subs, id)
	r.Logger.Info("Unsubscribed", "id", id, "topic_url", sub.TopicURL())
	return nil
}

// First returns the remaining subscription with the lowest id. It is meant
// as a fallback selection, not as a meaningful order.
func (r *SubscriptionRegistry) First() (Subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var (
		first Subscription
		found bool
	)
	for id, s := range r.subs {
		if !found || id < first.ID {
			first, found = s, true
		}
	}
	return first, found
}
