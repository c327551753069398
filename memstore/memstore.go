// Package memstore keeps a coop.LocalStore in process memory. Nothing survives
// a restart; it backs tests and the default "memory" store.
package memstore

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/coop-messenger/coop-sync/coop"
)

// Store is an in-memory coop.LocalStore. It is safe for concurrent use.
type Store struct {
	mu            sync.RWMutex
	subscriptions map[string]coop.Subscription
	notifications map[string]map[string]coop.Notification // subscription id -> id
	prefs         map[string]string
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		subscriptions: make(map[string]coop.Subscription),
		notifications: make(map[string]map[string]coop.Notification),
		prefs:         make(map[string]string),
	}
}

// GetSubscription returns the subscription with id.
func (s *Store) GetSubscription(_ context.Context, id string) (coop.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subscriptions[id]
	if !ok {
		return coop.Subscription{}, fmt.Errorf("subscription %s: %w", id, coop.ErrNotFound)
	}
	return sub, nil
}

// ListSubscriptions returns all subscriptions.
func (s *Store) ListSubscriptions(context.Context) ([]coop.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]coop.Subscription, 0, len(s.subscriptions))
	for _, sub := range s.subscriptions {
		out = append(out, sub)
	}
	return out, nil
}

// PutSubscription inserts or replaces a subscription.
func (s *Store) PutSubscription(_ context.Context, sub coop.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub.Reservation = slices.Clone(sub.Reservation)
	s.subscriptions[sub.ID] = sub
	return nil
}

// DeleteSubscription deletes the subscription with id.
func (s *Store) DeleteSubscription(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscriptions, id)
	return nil
}

// GetNotification returns a notification of a subscription.
func (s *Store) GetNotification(_ context.Context, subscriptionID, id string) (coop.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.notifications[subscriptionID][id]
	if !ok {
		return coop.Notification{}, fmt.Errorf("notification %s: %w", id, coop.ErrNotFound)
	}
	return n, nil
}

// ListNotifications returns the notifications of a subscription.
func (s *Store) ListNotifications(_ context.Context, subscriptionID string) ([]coop.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log := s.notifications[subscriptionID]
	out := make([]coop.Notification, 0, len(log))
	for _, n := range log {
		out = append(out, n)
	}
	return out, nil
}

// PutNotification inserts a notification. An existing entry is kept.
func (s *Store) PutNotification(_ context.Context, n coop.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	log, ok := s.notifications[n.SubscriptionID]
	if !ok {
		log = make(map[string]coop.Notification)
		s.notifications[n.SubscriptionID] = log
	}
	if _, ok := log[n.ID]; ok {
		return nil
	}
	n.Tags = slices.Clone(n.Tags)
	log[n.ID] = n
	return nil
}

// DeleteNotifications deletes the whole log of a subscription.
func (s *Store) DeleteNotifications(_ context.Context, subscriptionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.notifications, subscriptionID)
	return nil
}

// GetPref returns the preference stored under key.
func (s *Store) GetPref(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.prefs[key]
	if !ok {
		return "", fmt.Errorf("pref %s: %w", key, coop.ErrNotFound)
	}
	return v, nil
}

// PutPref stores value under key.
func (s *Store) PutPref(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs[key] = value
	return nil
}
