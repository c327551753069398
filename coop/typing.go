package coop

import (
	"context"
	"sync"
	"time"
)

// DefaultTypingTTL is how long a typing signal keeps its sender visible.
const DefaultTypingTTL = 5 * time.Second

// TypingSessionTracker keeps the users currently typing in each topic. Entries
// expire TTL after their last signal. Nothing here is persisted.
type TypingSessionTracker struct {
	localUser string
	ttl       time.Duration

	mu     sync.Mutex
	topics map[string][]TypingEntry // insertion order
}

// NewTypingSessionTracker returns a tracker ignoring signals from localUser.
// A non-positive ttl means DefaultTypingTTL.
func NewTypingSessionTracker(localUser string, ttl time.Duration) *TypingSessionTracker {
	if ttl <= 0 {
		ttl = DefaultTypingTTL
	}
	return &TypingSessionTracker{
		localUser: localUser,
		ttl:       ttl,
		topics:    make(map[string][]TypingEntry),
	}
}

// TTL returns the expiry window of an entry.
func (t *TypingSessionTracker) TTL() time.Duration {
	return t.ttl
}

// OnTypingSignal records that username is typing in topic at now. A user
// already present keeps their position and gets a fresh expiry.
func (t *TypingSessionTracker) OnTypingSignal(topic, username string, now time.Time) {
	if username == "" || username == t.localUser {
		return
	}
	expires := now.Add(t.ttl)

	t.mu.Lock()
	defer t.mu.Unlock()

	entries := t.topics[topic]
	for i := range entries {
		if entries[i].Username == username {
			entries[i].ExpiresAt = expires
			return
		}
	}
	t.topics[topic] = append(entries, TypingEntry{Username: username, Topic: topic, ExpiresAt: expires})
}

// Stop removes username from topic, e.g. once their message arrived.
func (t *TypingSessionTracker) Stop(topic, username string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entries := t.topics[topic]
	for i := range entries {
		if entries[i].Username == username {
			t.set(topic, append(entries[:i:i], entries[i+1:]...))
			return
		}
	}
}

// Sweep removes every entry with ExpiresAt <= now and returns how many went.
func (t *TypingSessionTracker) Sweep(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	var removed int
	for topic, entries := range t.topics {
		kept := entries[:0:0]
		for _, e := range entries {
			if now.Before(e.ExpiresAt) {
				kept = append(kept, e)
			}
		}
		removed += len(entries) - len(kept)
		t.set(topic, kept)
	}
	return removed
}

func (t *TypingSessionTracker) set(topic string, entries []TypingEntry) {
	if len(entries) == 0 {
		delete(t.topics, topic)
		return
	}
	t.topics[topic] = entries
}

// ActiveUsers returns the users typing in topic at now, oldest signal first.
// Expired entries are never returned, swept or not.
func (t *TypingSessionTracker) ActiveUsers(topic string, now time.Time) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	users := []string{}
	for _, e := range t.topics[topic] {
		if now.Before(e.ExpiresAt) {
			users = append(users, e.Username)
		}
	}
	return users
}

// Run sweeps on every tick of interval until ctx is done.
func (t *TypingSessionTracker) Run(ctx context.Context, interval time.Duration, now func() time.Time) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Sweep(now())
		}
	}
}
