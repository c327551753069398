package coop

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/coop-messenger/coop-sync/metrics"
)

// ToggleFunc asks the server to flip the local user's reaction emoji on a message.
type ToggleFunc func(ctx context.Context, baseURL, messageID, emoji string) error

type reactionKey struct {
	messageID string
	emoji     string
}

// reactionEntry tracks one (message, emoji) pair. confirmed is the last state
// the server agreed to; desired is the state the user asked for last.
type reactionEntry struct {
	confirmed ReactionGroup
	desired   bool
	inFlight  bool
	baseURL   string
}

func (e *reactionEntry) displayed(user string) ReactionGroup {
	g := e.confirmed
	g.Users = slices.Clone(e.confirmed.Users)
	if e.desired == g.Reacted {
		return g
	}
	return withReaction(g, user, e.desired)
}

// withReaction returns g with user's reaction set to on.
func withReaction(g ReactionGroup, user string, on bool) ReactionGroup {
	g.Users = slices.Clone(g.Users)
	has := slices.Contains(g.Users, user)
	switch {
	case on && !has:
		g.Users = append(g.Users, user)
		g.Count++
	case !on && has:
		g.Users = slices.DeleteFunc(g.Users, func(u string) bool { return u == user })
		g.Count--
	case !on && g.Reacted:
		g.Count--
	}
	if g.Count < 0 {
		g.Count = 0
	}
	g.Reacted = on
	return g
}

// ReactionReconciler applies the local user's reaction toggles optimistically
// and reconciles them with the server, one in-flight call per (message, emoji).
type ReactionReconciler struct {
	Logger *slog.Logger
	// OnChange is called after the visible reactions of a message changed.
	OnChange func(messageID string)
	// OnError is called with an ErrReactionSync error after a rollback.
	OnError func(messageID, emoji string, err error)

	user    string
	send    ToggleFunc
	timeout time.Duration

	mu      sync.Mutex
	entries map[reactionKey]*reactionEntry
	order   map[string][]string // messageID -> emojis by first appearance
	wg      sync.WaitGroup
}

// NewReactionReconciler returns a reconciler acting for user through send.
func NewReactionReconciler(user string, send ToggleFunc, timeout time.Duration, logger *slog.Logger) *ReactionReconciler {
	return &ReactionReconciler{
		Logger:  logger,
		user:    user,
		send:    send,
		timeout: timeout,
		entries: make(map[reactionKey]*reactionEntry),
		order:   make(map[string][]string),
	}
}

func (r *ReactionReconciler) entry(key reactionKey) *reactionEntry {
	e, ok := r.entries[key]
	if !ok {
		e = &reactionEntry{confirmed: ReactionGroup{Emoji: key.emoji, Users: []string{}}}
		r.entries[key] = e
		r.order[key.messageID] = append(r.order[key.messageID], key.emoji)
	}
	return e
}

// Toggle flips the local user's reaction immediately and schedules the server
// call. It returns the visible state of the emoji after the flip.
func (r *ReactionReconciler) Toggle(baseURL, messageID, emoji string) ReactionGroup {
	key := reactionKey{messageID: messageID, emoji: emoji}

	r.mu.Lock()
	e := r.entry(key)
	e.desired = !e.desired
	e.baseURL = baseURL
	if !e.inFlight && e.desired != e.confirmed.Reacted {
		e.inFlight = true
		r.wg.Add(1)
		go r.sync(key)
	}
	shown := e.displayed(r.user)
	r.mu.Unlock()

	r.changed(messageID)
	return shown
}

// sync drives the server towards the desired state of key until it matches
// or a call fails. Every call flips the server state, so the target is always
// the opposite of the confirmed state.
func (r *ReactionReconciler) sync(key reactionKey) {
	defer r.wg.Done()
	calls := 0
	for {
		r.mu.Lock()
		e := r.entries[key]
		if e.desired == e.confirmed.Reacted {
			e.inFlight = false
			reacted := e.confirmed.Reacted
			r.mu.Unlock()
			if calls > 0 {
				r.Logger.Debug("Reaction confirmed", "message_id", key.messageID, "emoji", key.emoji,
					"reacted", reacted, "calls", calls)
				r.changed(key.messageID)
			}
			return
		}
		target, baseURL := !e.confirmed.Reacted, e.baseURL
		r.mu.Unlock()

		calls++
		err := callWithTimeout(context.Background(), r.timeout, "toggle reaction", func(ctx context.Context) error {
			return r.send(ctx, baseURL, key.messageID, key.emoji)
		})

		r.mu.Lock()
		if err != nil {
			e.desired = e.confirmed.Reacted
			e.inFlight = false
			r.mu.Unlock()
			r.rollback(key, err)
			return
		}
		e.confirmed = withReaction(e.confirmed, r.user, target)
		r.mu.Unlock()
	}
}

func (r *ReactionReconciler) rollback(key reactionKey, cause error) {
	err := fmt.Errorf("%w: %w", ErrReactionSync, cause)
	metrics.ReactionRollbacks.Inc()
	r.Logger.Error("Could not sync reaction", "message_id", key.messageID, "emoji", key.emoji, "error", err.Error())
	r.changed(key.messageID)
	if r.OnError != nil {
		r.OnError(key.messageID, key.emoji, err)
	}
}

func (r *ReactionReconciler) changed(messageID string) {
	if r.OnChange != nil {
		r.OnChange(messageID)
	}
}

// Apply replaces the confirmed reactions of a message with groups as reported
// by the server. Emojis with a call in flight keep their local state.
func (r *ReactionReconciler) Apply(messageID string, groups []ReactionGroup) {
	r.mu.Lock()
	seen := make(map[string]bool, len(groups))
	for _, g := range groups {
		seen[g.Emoji] = true
		e := r.entry(reactionKey{messageID: messageID, emoji: g.Emoji})
		if e.inFlight {
			continue
		}
		confirmed := ReactionGroup{Emoji: g.Emoji, Count: g.Count, Users: slices.Clone(g.Users), Reacted: g.Reacted}
		if len(confirmed.Users) > 0 {
			confirmed.Reacted = slices.Contains(confirmed.Users, r.user)
		}
		if confirmed.Users == nil {
			confirmed.Users = []string{}
		}
		e.confirmed = confirmed
		e.desired = confirmed.Reacted
	}
	for _, emoji := range r.order[messageID] {
		e := r.entries[reactionKey{messageID: messageID, emoji: emoji}]
		if seen[emoji] || e.inFlight {
			continue
		}
		e.confirmed = ReactionGroup{Emoji: emoji, Users: []string{}}
		e.desired = false
	}
	r.mu.Unlock()

	r.changed(messageID)
}

// Reactions returns the visible reactions of a message in order of first
// appearance. Emojis whose count dropped to zero are omitted.
func (r *ReactionReconciler) Reactions(messageID string) []ReactionGroup {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]ReactionGroup, 0, len(r.order[messageID]))
	for _, emoji := range r.order[messageID] {
		g := r.entries[reactionKey{messageID: messageID, emoji: emoji}].displayed(r.user)
		if g.Count > 0 {
			out = append(out, g)
		}
	}
	return out
}

// State returns the visible state of one emoji on a message.
func (r *ReactionReconciler) State(messageID, emoji string) ReactionGroup {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[reactionKey{messageID: messageID, emoji: emoji}]
	if !ok {
		return ReactionGroup{Emoji: emoji, Users: []string{}}
	}
	return e.displayed(r.user)
}

// Pending reports whether a server call for the emoji is in flight.
func (r *ReactionReconciler) Pending(messageID, emoji string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[reactionKey{messageID: messageID, emoji: emoji}]
	return ok && e.inFlight
}

// Wait blocks until no server call is in flight.
func (r *ReactionReconciler) Wait() {
	r.wg.Wait()
}
