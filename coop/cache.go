package coop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/coop-messenger/coop-sync/metrics"
	"github.com/coop-messenger/coop-sync/validator"
)

// DefaultPageSize is the number of entries a timeline grows by per page.
const DefaultPageSize = 20

// unreadCounter maintains the unread counter of a subscription.
type unreadCounter interface {
	IncrementNew(ctx context.Context, subscriptionID string) error
	ResetNew(ctx context.Context, subscriptionID string) error
}

type notificationLog struct {
	mu      sync.RWMutex
	entries []Notification // ascending by (Time, Seq)
	ids     map[string]struct{}
}

func newNotificationLog() *notificationLog {
	return &notificationLog{ids: make(map[string]struct{})}
}

// insert places n at its time-sorted position. n.Seq must be greater than the
// Seq of every entry already in the log.
func (l *notificationLog) insert(n Notification) {
	i := sort.Search(len(l.entries), func(i int) bool {
		return n.Before(l.entries[i])
	})
	l.entries = append(l.entries, Notification{})
	copy(l.entries[i+1:], l.entries[i:])
	l.entries[i] = n
	l.ids[n.ID] = struct{}{}
}

// IngestOptions carries the caller's unread policy for one ingestion.
type IngestOptions struct {
	// CountUnread increments the subscription's unread counter on insert.
	CountUnread bool
}

// ListOptions selects a window of a timeline.
type ListOptions struct {
	// Events keeps only entries whose event is listed. Empty keeps all.
	Events []string
	// MaxCount bounds the window to the newest MaxCount entries. Zero means
	// DefaultPageSize.
	MaxCount int
}

// NotificationCache is the deduplicated, time-ordered log of events of each
// subscription. Logs of different subscriptions are independent.
type NotificationCache struct {
	Logger *slog.Logger

	store   LocalStore
	val     *validator.Validator
	counter unreadCounter

	mu   sync.RWMutex
	logs map[string]*notificationLog
	seq  atomic.Int64
}

// NewNotificationCache returns an empty cache writing through to store.
func NewNotificationCache(store LocalStore, val *validator.Validator, logger *slog.Logger) *NotificationCache {
	return &NotificationCache{
		Logger: logger,
		store:  store,
		val:    val,
		logs:   make(map[string]*notificationLog),
	}
}

// Load replaces the in-memory logs of subscriptionIDs with the store's content.
func (c *NotificationCache) Load(ctx context.Context, subscriptionIDs ...string) error {
	for _, id := range subscriptionIDs {
		stored, err := c.store.ListNotifications(ctx, id)
		if err != nil {
			return fmt.Errorf("list notifications: %w", err)
		}
		sort.SliceStable(stored, func(i, j int) bool { return stored[i].Before(stored[j]) })

		l := newNotificationLog()
		l.entries = stored
		for _, n := range stored {
			l.ids[n.ID] = struct{}{}
			for {
				cur := c.seq.Load()
				if n.Seq <= cur || c.seq.CompareAndSwap(cur, n.Seq) {
					break
				}
			}
		}

		c.mu.Lock()
		c.logs[id] = l
		c.mu.Unlock()
		c.Logger.Debug("Loaded notifications", "subscription_id", id, "count", len(stored))
	}
	return nil
}

func (c *NotificationCache) log(subscriptionID string, create bool) *notificationLog {
	c.mu.RLock()
	l := c.logs[subscriptionID]
	c.mu.RUnlock()
	if l != nil || !create {
		return l
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if l = c.logs[subscriptionID]; l == nil {
		l = newNotificationLog()
		c.logs[subscriptionID] = l
	}
	return l
}

// lockLog returns the current log of subscriptionID with its write lock held.
// A log that was dropped or replaced while waiting for the lock is skipped.
func (c *NotificationCache) lockLog(subscriptionID string) *notificationLog {
	for {
		l := c.log(subscriptionID, true)
		l.mu.Lock()
		c.mu.RLock()
		current := c.logs[subscriptionID] == l
		c.mu.RUnlock()
		if current {
			return l
		}
		l.mu.Unlock()
	}
}

func (c *NotificationCache) validate(n Notification) error {
	if errs := c.val.ValidateStruct(n); len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidNotification, errs[0].Message)
	}
	return nil
}

// Ingest inserts n into the log of subscriptionID unless an entry with the
// same id is already present. It reports whether an insert occurred.
// Entries with an unknown event are ignored.
func (c *NotificationCache) Ingest(ctx context.Context, subscriptionID string, n Notification, opts IngestOptions) (bool, error) {
	if err := c.validate(n); err != nil {
		return false, err
	}
	switch n.Event {
	case EventMessage, EventNudge, EventTyping:
	default:
		c.Logger.Debug("Ignoring notification with unknown event", "event", n.Event, "id", n.ID)
		return false, nil
	}

	l := c.lockLog(subscriptionID)
	if _, ok := l.ids[n.ID]; ok {
		l.mu.Unlock()
		metrics.NotificationsDuplicate.Inc()
		return false, nil
	}

	n.SubscriptionID = subscriptionID
	n.Seq = c.seq.Add(1)
	if err := c.store.PutNotification(ctx, n); err != nil {
		l.mu.Unlock()
		return false, fmt.Errorf("put notification: %w", err)
	}
	l.insert(n)
	l.mu.Unlock()

	metrics.NotificationsIngested.WithLabelValues(n.Event).Inc()
	if opts.CountUnread && c.counter != nil {
		if err := c.counter.IncrementNew(ctx, subscriptionID); err != nil {
			return true, fmt.Errorf("increment unread: %w", err)
		}
	}
	return true, nil
}

// List returns the newest opts.MaxCount entries matching opts.Events, oldest
// first, and whether older matching entries exist beyond the window.
func (c *NotificationCache) List(subscriptionID string, opts ListOptions) ([]Notification, bool) {
	l := c.log(subscriptionID, false)
	if l == nil {
		return []Notification{}, false
	}
	limit := opts.MaxCount
	if limit <= 0 {
		limit = DefaultPageSize
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	matched := make([]Notification, 0, len(l.entries))
	for _, n := range l.entries {
		if matchesEvent(n.Event, opts.Events) {
			matched = append(matched, n)
		}
	}
	if len(matched) <= limit {
		return matched, false
	}
	window := make([]Notification, limit)
	copy(window, matched[len(matched)-limit:])
	return window, true
}

func matchesEvent(event string, events []string) bool {
	if len(events) == 0 {
		return true
	}
	for _, e := range events {
		if e == event {
			return true
		}
	}
	return false
}

// Len returns the number of entries in the log of subscriptionID.
func (c *NotificationCache) Len(subscriptionID string) int {
	l := c.log(subscriptionID, false)
	if l == nil {
		return 0
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Has reports whether the log of subscriptionID holds an entry with id.
func (c *NotificationCache) Has(subscriptionID, id string) bool {
	l := c.log(subscriptionID, false)
	if l == nil {
		return false
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.ids[id]
	return ok
}

// LastMessageTime returns the time of the newest message entry, or 0.
func (c *NotificationCache) LastMessageTime(subscriptionID string) int64 {
	l := c.log(subscriptionID, false)
	if l == nil {
		return 0
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].Event == EventMessage {
			return l.entries[i].Time
		}
	}
	return 0
}

// LastID returns the id of the newest persisted entry, or "".
func (c *NotificationCache) LastID(subscriptionID string) string {
	l := c.log(subscriptionID, false)
	if l == nil {
		return ""
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].Event != EventTyping {
			return l.entries[i].ID
		}
	}
	return ""
}

// MarkRead resets the unread counter of subscriptionID. The log is untouched.
func (c *NotificationCache) MarkRead(ctx context.Context, subscriptionID string) error {
	if c.counter == nil {
		return nil
	}
	return c.counter.ResetNew(ctx, subscriptionID)
}

// Clear empties the log of subscriptionID and resets its unread counter.
func (c *NotificationCache) Clear(ctx context.Context, subscriptionID string) error {
	if err := c.drop(ctx, subscriptionID); err != nil {
		return err
	}
	if err := c.MarkRead(ctx, subscriptionID); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("reset unread: %w", err)
	}
	return nil
}

// drop deletes the log of subscriptionID from the store and from memory.
func (c *NotificationCache) drop(ctx context.Context, subscriptionID string) error {
	l := c.lockLog(subscriptionID)
	defer l.mu.Unlock()

	if err := c.store.DeleteNotifications(ctx, subscriptionID); err != nil {
		return fmt.Errorf("delete notifications: %w", err)
	}
	l.entries = nil
	l.ids = make(map[string]struct{})

	c.mu.Lock()
	delete(c.logs, subscriptionID)
	c.mu.Unlock()
	return nil
}
