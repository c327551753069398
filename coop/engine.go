package coop

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/coop-messenger/coop-sync/validator"
)

// DefaultTypingInterval is the minimum gap between two outbound typing signals
// for the same subscription.
const DefaultTypingInterval = 3 * time.Second

// Config tunes an Engine. Zero values select the defaults.
type Config struct {
	// LocalUser is the username the engine acts for.
	LocalUser      string
	CallTimeout    time.Duration
	TypingTTL      time.Duration
	TypingInterval time.Duration
	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// Engine ties the subscription registry, the notification cache, the reaction
// reconciler and the typing tracker to one store and one server client.
type Engine struct {
	Logger *slog.Logger

	Registry  *SubscriptionRegistry
	Cache     *NotificationCache
	Reactions *ReactionReconciler
	Typing    *TypingSessionTracker
	Prefs     *Prefs

	client Client
	cfg    Config

	mu       sync.Mutex
	active   string
	limiters map[string]*rate.Limiter
	syncErrs map[string]error // messageID -> last failed reaction sync
	tasks    sync.WaitGroup
}

// New returns an Engine over store and client.
func New(store LocalStore, client Client, cfg Config, logger *slog.Logger) *Engine {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.TypingInterval <= 0 {
		cfg.TypingInterval = DefaultTypingInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	val := validator.New()
	registry := NewSubscriptionRegistry(store, val, logger)
	cache := NewNotificationCache(store, val, logger)
	registry.logs = cache
	cache.counter = registry

	e := &Engine{
		Logger:    logger,
		Registry:  registry,
		Cache:     cache,
		Reactions: NewReactionReconciler(cfg.LocalUser, client.ToggleReaction, cfg.CallTimeout, logger),
		Typing:    NewTypingSessionTracker(cfg.LocalUser, cfg.TypingTTL),
		Prefs:     NewPrefs(store),
		client:    client,
		cfg:       cfg,
		limiters:  make(map[string]*rate.Limiter),
		syncErrs:  make(map[string]error),
	}
	e.Reactions.OnError = e.reactionFailed
	return e
}

// LocalUser returns the username the engine acts for.
func (e *Engine) LocalUser() string {
	return e.cfg.LocalUser
}

// Load restores subscriptions and their logs from the store.
func (e *Engine) Load(ctx context.Context) error {
	if err := e.Registry.Load(ctx); err != nil {
		return err
	}
	subs := e.Registry.List()
	ids := make([]string, len(subs))
	for i, s := range subs {
		ids[i] = s.ID
	}
	return e.Cache.Load(ctx, ids...)
}

// Subscribe adds or merges the subscription of (baseURL, topic).
func (e *Engine) Subscribe(ctx context.Context, baseURL, topic string, opts SubscribeOptions) (Subscription, error) {
	return e.Registry.Add(ctx, baseURL, topic, opts)
}

// Unsubscribe removes a subscription and its log. If it was the active one,
// another remaining subscription becomes active and is returned.
func (e *Engine) Unsubscribe(ctx context.Context, id string) (Subscription, bool, error) {
	if err := e.Registry.Remove(ctx, id); err != nil {
		return Subscription{}, false, err
	}

	e.mu.Lock()
	delete(e.limiters, id)
	wasActive := e.active == id
	if wasActive {
		e.active = ""
	}
	e.mu.Unlock()

	next, ok := e.Registry.First()
	if ok && wasActive {
		if err := e.SetActive(ctx, next.ID); err != nil {
			return Subscription{}, false, err
		}
	}
	return next, ok, nil
}

// SetActive marks id as the subscription being viewed and marks it read.
// An empty id clears the selection.
func (e *Engine) SetActive(ctx context.Context, id string) error {
	if id == "" {
		e.mu.Lock()
		e.active = ""
		e.mu.Unlock()
		return nil
	}
	if _, err := e.Registry.Get(id); err != nil {
		return err
	}
	e.mu.Lock()
	e.active = id
	e.mu.Unlock()
	return e.Cache.MarkRead(ctx, id)
}

// Active returns the id of the subscription being viewed, or "".
func (e *Engine) Active() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// HandleEvent routes one push event received from baseURL. It reports whether
// the event added an entry to a log.
func (e *Engine) HandleEvent(ctx context.Context, baseURL string, ev Event) (bool, error) {
	sub, err := e.Registry.Lookup(baseURL, ev.Topic)
	if err != nil {
		return false, err
	}

	switch ev.Event {
	case EventTyping:
		e.Typing.OnTypingSignal(sub.TopicURL(), ev.Sender, e.cfg.Now())
		return false, nil
	case EventMessage, EventNudge:
		if ev.Event == EventMessage {
			e.Typing.Stop(sub.TopicURL(), ev.Sender)
		}
		opts := IngestOptions{CountUnread: ev.Sender != e.cfg.LocalUser && sub.ID != e.Active()}
		return e.Cache.Ingest(ctx, sub.ID, ev.Notification(sub.ID), opts)
	default:
		e.Logger.Debug("Ignoring event", "event", ev.Event, "topic_url", sub.TopicURL())
		return false, nil
	}
}

// Notifications lists the timeline of a subscription.
func (e *Engine) Notifications(id string, opts ListOptions) ([]Notification, bool, error) {
	if _, err := e.Registry.Get(id); err != nil {
		return nil, false, err
	}
	ns, more := e.Cache.List(id, opts)
	return ns, more, nil
}

// MarkRead resets the unread counter of a subscription.
func (e *Engine) MarkRead(ctx context.Context, id string) error {
	if _, err := e.Registry.Get(id); err != nil {
		return err
	}
	return e.Cache.MarkRead(ctx, id)
}

// Clear empties the log of a subscription.
func (e *Engine) Clear(ctx context.Context, id string) error {
	if _, err := e.Registry.Get(id); err != nil {
		return err
	}
	return e.Cache.Clear(ctx, id)
}

// Sorted returns the visible subscriptions ordered by activity.
func (e *Engine) Sorted() []Subscription {
	return SortByActivity(e.Registry.List(), e.Cache.LastMessageTime)
}

// ToggleReaction flips the local user's emoji on a message of a subscription.
// The returned state is optimistic; server failures roll it back later.
func (e *Engine) ToggleReaction(subscriptionID, messageID, emoji string) (ReactionGroup, error) {
	sub, err := e.Registry.Get(subscriptionID)
	if err != nil {
		return ReactionGroup{}, err
	}
	e.mu.Lock()
	delete(e.syncErrs, messageID)
	e.mu.Unlock()
	return e.Reactions.Toggle(sub.BaseURL, messageID, emoji), nil
}

func (e *Engine) reactionFailed(messageID, emoji string, err error) {
	e.mu.Lock()
	e.syncErrs[messageID] = err
	e.mu.Unlock()
}

// ReactionError returns the error of the last reaction toggle on a message
// that was rolled back, or nil. A new toggle on the message clears it.
func (e *Engine) ReactionError(messageID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.syncErrs[messageID]
}

// RefreshReactions loads the server's reactions of a subscription's topic.
func (e *Engine) RefreshReactions(ctx context.Context, subscriptionID string) error {
	sub, err := e.Registry.Get(subscriptionID)
	if err != nil {
		return err
	}
	var all []MessageReactions
	err = callWithTimeout(ctx, e.cfg.CallTimeout, "list reactions", func(ctx context.Context) error {
		all, err = e.client.ListReactions(ctx, sub.BaseURL, sub.Topic)
		return err
	})
	if err != nil {
		return err
	}
	for _, mr := range all {
		e.Reactions.Apply(mr.MessageID, mr.Reactions)
	}
	return nil
}

func (e *Engine) limiter(id string) *rate.Limiter {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.limiters[id]
	if !ok {
		l = rate.NewLimiter(rate.Every(e.cfg.TypingInterval), 1)
		e.limiters[id] = l
	}
	return l
}

// SendTyping tells the server the local user is typing. Signals closer than
// the typing interval are dropped; the result reports whether one was sent.
// Failures of the call itself are logged and otherwise ignored.
func (e *Engine) SendTyping(ctx context.Context, subscriptionID string) (bool, error) {
	sub, err := e.Registry.Get(subscriptionID)
	if err != nil {
		return false, err
	}
	if !e.limiter(sub.ID).AllowN(e.cfg.Now(), 1) {
		return false, nil
	}
	e.spawn(ctx, "typing", func(ctx context.Context) error {
		return e.client.SendTyping(ctx, sub.BaseURL, sub.Topic)
	}, func(err error) {
		e.Logger.Debug("Could not send typing signal", "topic_url", sub.TopicURL(), "error", err.Error())
	})
	return true, nil
}

// Nudge sends a nudge to a subscription's topic. A server-side rate limit is
// ignored; other failures are logged.
func (e *Engine) Nudge(ctx context.Context, subscriptionID string) error {
	sub, err := e.Registry.Get(subscriptionID)
	if err != nil {
		return err
	}
	e.spawn(ctx, "nudge", func(ctx context.Context) error {
		return e.client.SendNudge(ctx, sub.BaseURL, sub.Topic)
	}, func(err error) {
		if errors.Is(err, ErrRateLimited) {
			return
		}
		e.Logger.Warn("Could not send nudge", "topic_url", sub.TopicURL(), "error", err.Error())
	})
	return nil
}

// spawn runs fn in the background, detached from ctx's cancellation, and
// hands any error to onErr.
func (e *Engine) spawn(ctx context.Context, op string, fn func(ctx context.Context) error, onErr func(error)) {
	ctx = context.WithoutCancel(ctx)
	e.tasks.Add(1)
	go func() {
		defer e.tasks.Done()
		if err := callWithTimeout(ctx, e.cfg.CallTimeout, op, fn); err != nil {
			onErr(err)
		}
	}()
}

// Publish sends a message to a subscription's topic and adds the server's
// copy to the local log. Failures of the call are returned; a reply that
// cannot be stored is logged and still returned.
func (e *Engine) Publish(ctx context.Context, subscriptionID string, req PublishRequest) (Notification, error) {
	sub, err := e.Registry.Get(subscriptionID)
	if err != nil {
		return Notification{}, err
	}
	req.Topic = sub.Topic

	var ev Event
	err = callWithTimeout(ctx, e.cfg.CallTimeout, "publish", func(ctx context.Context) error {
		ev, err = e.client.Publish(ctx, sub.BaseURL, req)
		return err
	})
	if err != nil {
		return Notification{}, err
	}
	if ev.Topic == "" {
		ev.Topic = sub.Topic
	}
	n := ev.Notification(sub.ID)
	if _, err := e.Cache.Ingest(ctx, sub.ID, n, IngestOptions{}); err != nil {
		// The server has the message; the stream delivers it again.
		e.Logger.Warn("Could not store published message", "topic_url", sub.TopicURL(), "error", err.Error())
	}
	return n, nil
}

// TypingUsers returns who is typing in a subscription's topic right now.
func (e *Engine) TypingUsers(subscriptionID string) ([]string, error) {
	sub, err := e.Registry.Get(subscriptionID)
	if err != nil {
		return nil, err
	}
	return e.Typing.ActiveUsers(sub.TopicURL(), e.cfg.Now()), nil
}

// ShouldNotify reports whether n warrants an alert for sub at now.
func (e *Engine) ShouldNotify(ctx context.Context, sub Subscription, n Notification, now time.Time) (bool, error) {
	if n.Event != EventMessage && n.Event != EventNudge {
		return false, nil
	}
	if n.Sender == e.cfg.LocalUser || sub.Muted(now) {
		return false, nil
	}
	minPriority, err := e.Prefs.MinPriority(ctx)
	if err != nil {
		return false, err
	}
	priority := n.Priority
	if priority == 0 {
		priority = 3
	}
	return priority >= minPriority, nil
}

// RunSweeper expires typing entries every interval until ctx is done.
func (e *Engine) RunSweeper(ctx context.Context, interval time.Duration) {
	e.Typing.Run(ctx, interval, e.cfg.Now)
}

// Wait blocks until background calls have finished.
func (e *Engine) Wait() {
	e.tasks.Wait()
	e.Reactions.Wait()
}
