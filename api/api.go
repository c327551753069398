package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coop-messenger/coop-sync/coop"
	"github.com/coop-messenger/coop-sync/validator"
)

// API provides the REST endpoints the view layer uses to drive the engine.
type API struct {
	Logger *slog.Logger
	Engine *coop.Engine
	Val    *validator.Validator
	// Location is the time zone of day separators; nil means time.Local.
	Location *time.Location
	// Now is the clock; nil means time.Now.
	Now func() time.Time

	once sync.Once
	mux  *http.ServeMux
}

func (a *API) setupRoutes() {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /subscriptions", a.listSubscriptions)
	mux.HandleFunc("POST /subscriptions", a.subscribe)
	mux.HandleFunc("DELETE /subscriptions/{id}", a.unsubscribe)
	mux.HandleFunc("PUT /subscriptions/{id}/mute", a.setMute)
	mux.HandleFunc("PUT /subscriptions/{id}/display-name", a.setDisplayName)
	mux.HandleFunc("PUT /subscriptions/{id}/active", a.setActive)
	mux.HandleFunc("DELETE /subscriptions/active", a.clearActive)
	mux.HandleFunc("GET /subscriptions/{id}/notifications", a.listNotifications)
	mux.HandleFunc("DELETE /subscriptions/{id}/notifications", a.clearNotifications)
	mux.HandleFunc("POST /subscriptions/{id}/read", a.markRead)
	mux.HandleFunc("GET /subscriptions/{id}/typing", a.listTyping)
	mux.HandleFunc("POST /subscriptions/{id}/typing", a.sendTyping)
	mux.HandleFunc("POST /subscriptions/{id}/nudge", a.nudge)
	mux.HandleFunc("POST /subscriptions/{id}/messages", a.publish)
	mux.HandleFunc("POST /subscriptions/{id}/reactions/refresh", a.refreshReactions)
	mux.HandleFunc("GET /messages/{messageID}/reactions", a.listReactions)
	mux.HandleFunc("POST /messages/{messageID}/reactions", a.toggleReaction)
	mux.HandleFunc("GET /prefs", a.getPrefs)
	mux.HandleFunc("PUT /prefs", a.putPrefs)

	a.mux = mux
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.once.Do(a.setupRoutes)
	a.Logger.Info("Request received", "method", r.Method, "path", r.URL.Path)
	a.mux.ServeHTTP(w, r)
}

func (a *API) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

func (a *API) respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		a.Logger.Error("Could not encode JSON body", "error", err.Error())
	}
}

func (a *API) respondError(w http.ResponseWriter, status int, err error, msg string) {
	type response struct {
		Error string `json:"error"`
	}
	a.Logger.Error("Error", "error", err.Error())
	a.respond(w, status, response{Error: msg})
}

// respondEngineError maps an engine error to its status. Validation and
// lookup failures carry their own message; anything else is reported as msg.
func (a *API) respondEngineError(w http.ResponseWriter, err error, msg string) {
	switch {
	case errors.Is(err, coop.ErrNotFound):
		a.respondError(w, http.StatusNotFound, err, "Subscription not found")
	case errors.Is(err, coop.ErrInvalidTopic):
		a.respondError(w, http.StatusBadRequest, err, "Invalid topic")
	case errors.Is(err, coop.ErrInvalidBaseURL):
		a.respondError(w, http.StatusBadRequest, err, "Invalid base URL")
	case errors.Is(err, coop.ErrNetworkTimeout):
		a.respondError(w, http.StatusGatewayTimeout, err, msg)
	default:
		a.respondError(w, http.StatusInternalServerError, err, msg)
	}
}

func (a *API) validateBody(w http.ResponseWriter, s any) bool {
	errs := a.Val.ValidateStruct(s)
	type response struct {
		Errors []validator.ValidationError `json:"errors"`
	}

	if len(errs) > 0 {
		a.respond(w, http.StatusBadRequest, &response{
			Errors: errs,
		})
		return false
	}
	return true
}

// decodeBody decodes and validates the JSON request body into dst. It
// responds and returns false on failure.
func (a *API) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		a.respondError(w, http.StatusBadRequest, err, "Could not decode request body")
		return false
	}
	if err := r.Body.Close(); err != nil {
		a.respondError(w, http.StatusInternalServerError, err, "Could not close request body")
		return false
	}
	return a.validateBody(w, dst)
}

func (a *API) subscription(s coop.Subscription) Subscription {
	return newSubscription(s, a.Engine.Cache.LastMessageTime(s.ID), a.now())
}

func (a *API) listSubscriptions(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Subscriptions []Subscription `json:"subscriptions"`
	}

	sorted := a.Engine.Sorted()
	res := response{Subscriptions: make([]Subscription, len(sorted))}
	for i, s := range sorted {
		res.Subscriptions[i] = a.subscription(s)
	}
	a.respond(w, http.StatusOK, res)
}

func (a *API) subscribe(w http.ResponseWriter, r *http.Request) {
	type request struct {
		BaseURL     string          `json:"base_url" validate:"required,http_url"`
		Topic       string          `json:"topic" validate:"required,topic"`
		DisplayName string          `json:"display_name"`
		Internal    bool            `json:"internal"`
		Reservation json.RawMessage `json:"reservation"`
	}

	var body request
	if !a.decodeBody(w, r, &body) {
		return
	}

	sub, err := a.Engine.Subscribe(r.Context(), body.BaseURL, body.Topic, coop.SubscribeOptions{
		DisplayName: body.DisplayName,
		Internal:    body.Internal,
		Reservation: body.Reservation,
	})
	if err != nil {
		a.respondEngineError(w, err, "Could not subscribe")
		return
	}
	a.respond(w, http.StatusCreated, a.subscription(sub))
}

func (a *API) unsubscribe(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Next *Subscription `json:"next"`
	}

	next, ok, err := a.Engine.Unsubscribe(r.Context(), r.PathValue("id"))
	if err != nil {
		a.respondEngineError(w, err, "Could not unsubscribe")
		return
	}
	var res response
	if ok {
		s := a.subscription(next)
		res.Next = &s
	}
	a.respond(w, http.StatusOK, res)
}

func (a *API) setMute(w http.ResponseWriter, r *http.Request) {
	type request struct {
		MutedUntil *int64 `json:"muted_until" validate:"required,gte=0"`
	}

	var body request
	if !a.decodeBody(w, r, &body) {
		return
	}

	sub, err := a.Engine.Registry.SetMutedUntil(r.Context(), r.PathValue("id"), *body.MutedUntil)
	if err != nil {
		a.respondEngineError(w, err, "Could not update subscription")
		return
	}
	a.respond(w, http.StatusOK, a.subscription(sub))
}

func (a *API) setDisplayName(w http.ResponseWriter, r *http.Request) {
	type request struct {
		DisplayName string `json:"display_name" validate:"max=256"`
	}

	var body request
	if !a.decodeBody(w, r, &body) {
		return
	}

	sub, err := a.Engine.Registry.SetDisplayName(r.Context(), r.PathValue("id"), body.DisplayName)
	if err != nil {
		a.respondEngineError(w, err, "Could not update subscription")
		return
	}
	a.respond(w, http.StatusOK, a.subscription(sub))
}

func (a *API) setActive(w http.ResponseWriter, r *http.Request) {
	if err := a.Engine.SetActive(r.Context(), r.PathValue("id")); err != nil {
		a.respondEngineError(w, err, "Could not select subscription")
		return
	}
	a.respond(w, http.StatusNoContent, nil)
}

func (a *API) clearActive(w http.ResponseWriter, r *http.Request) {
	if err := a.Engine.SetActive(r.Context(), ""); err != nil {
		a.respondEngineError(w, err, "Could not clear selection")
		return
	}
	a.respond(w, http.StatusNoContent, nil)
}

func (a *API) listNotifications(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Notifications []Notification `json:"notifications"`
		Days          []Day          `json:"days,omitempty"`
		More          bool           `json:"more"`
	}

	q := r.URL.Query()
	opts := coop.ListOptions{Events: q["event"]}
	if v := q.Get("max"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			if err == nil {
				err = errors.New("max must be positive")
			}
			a.respondError(w, http.StatusBadRequest, err, "Invalid max")
			return
		}
		opts.MaxCount = n
	}

	ns, more, err := a.Engine.Notifications(r.PathValue("id"), opts)
	if err != nil {
		a.respondEngineError(w, err, "Could not list notifications")
		return
	}

	res := response{Notifications: newNotifications(ns), More: more}
	if q.Get("group") == "day" {
		for _, d := range coop.GroupByDay(ns, a.Location) {
			res.Days = append(res.Days, Day{
				Date:          d.Date.Format(time.DateOnly),
				Notifications: newNotifications(d.Notifications),
			})
		}
	}
	a.respond(w, http.StatusOK, res)
}

func (a *API) clearNotifications(w http.ResponseWriter, r *http.Request) {
	if err := a.Engine.Clear(r.Context(), r.PathValue("id")); err != nil {
		a.respondEngineError(w, err, "Could not clear notifications")
		return
	}
	a.respond(w, http.StatusNoContent, nil)
}

func (a *API) markRead(w http.ResponseWriter, r *http.Request) {
	if err := a.Engine.MarkRead(r.Context(), r.PathValue("id")); err != nil {
		a.respondEngineError(w, err, "Could not mark read")
		return
	}
	a.respond(w, http.StatusNoContent, nil)
}

func (a *API) listTyping(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Users []string `json:"users"`
	}

	users, err := a.Engine.TypingUsers(r.PathValue("id"))
	if err != nil {
		a.respondEngineError(w, err, "Could not list typing users")
		return
	}
	a.respond(w, http.StatusOK, response{Users: users})
}

func (a *API) sendTyping(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Sent bool `json:"sent"`
	}

	sent, err := a.Engine.SendTyping(r.Context(), r.PathValue("id"))
	if err != nil {
		a.respondEngineError(w, err, "Could not send typing signal")
		return
	}
	a.respond(w, http.StatusAccepted, response{Sent: sent})
}

func (a *API) nudge(w http.ResponseWriter, r *http.Request) {
	if err := a.Engine.Nudge(r.Context(), r.PathValue("id")); err != nil {
		a.respondEngineError(w, err, "Could not send nudge")
		return
	}
	a.respond(w, http.StatusAccepted, nil)
}

func (a *API) publish(w http.ResponseWriter, r *http.Request) {
	type request struct {
		Message  string   `json:"message" validate:"required"`
		Title    string   `json:"title"`
		Tags     []string `json:"tags"`
		Priority int      `json:"priority" validate:"gte=0,lte=5"`
		Markdown bool     `json:"markdown"`
		ReplyTo  string   `json:"reply_to"`
	}

	var body request
	if !a.decodeBody(w, r, &body) {
		return
	}

	n, err := a.Engine.Publish(r.Context(), r.PathValue("id"), coop.PublishRequest{
		Message:  body.Message,
		Title:    body.Title,
		Tags:     body.Tags,
		Priority: body.Priority,
		Markdown: body.Markdown,
		ReplyTo:  body.ReplyTo,
	})
	if err != nil {
		a.respondEngineError(w, err, "Could not send message")
		return
	}
	a.respond(w, http.StatusCreated, newNotification(n))
}

func (a *API) refreshReactions(w http.ResponseWriter, r *http.Request) {
	if err := a.Engine.RefreshReactions(r.Context(), r.PathValue("id")); err != nil {
		a.respondEngineError(w, err, "Could not load reactions")
		return
	}
	a.respond(w, http.StatusNoContent, nil)
}

func (a *API) listReactions(w http.ResponseWriter, r *http.Request) {
	type response struct {
		MessageID string               `json:"message_id"`
		Reactions []coop.ReactionGroup `json:"reactions"`
		// Error is set when the last toggle was rolled back.
		Error string `json:"error,omitempty"`
	}

	messageID := r.PathValue("messageID")
	resp := response{
		MessageID: messageID,
		Reactions: a.Engine.Reactions.Reactions(messageID),
	}
	if err := a.Engine.ReactionError(messageID); err != nil {
		resp.Error = "Could not sync reaction"
	}
	a.respond(w, http.StatusOK, resp)
}

func (a *API) toggleReaction(w http.ResponseWriter, r *http.Request) {
	type request struct {
		SubscriptionID string `json:"subscription_id" validate:"required"`
		Emoji          string `json:"emoji" validate:"required"`
	}

	var body request
	if !a.decodeBody(w, r, &body) {
		return
	}

	group, err := a.Engine.ToggleReaction(body.SubscriptionID, r.PathValue("messageID"), body.Emoji)
	if err != nil {
		a.respondEngineError(w, err, "Could not toggle reaction")
		return
	}
	a.respond(w, http.StatusAccepted, group)
}

func (a *API) getPrefs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sound, err := a.Engine.Prefs.Sound(ctx)
	if err != nil {
		a.respondError(w, http.StatusInternalServerError, err, "Could not read preferences")
		return
	}
	minPriority, err := a.Engine.Prefs.MinPriority(ctx)
	if err != nil {
		a.respondError(w, http.StatusInternalServerError, err, "Could not read preferences")
		return
	}
	deleteAfter, err := a.Engine.Prefs.DeleteAfter(ctx)
	if err != nil {
		a.respondError(w, http.StatusInternalServerError, err, "Could not read preferences")
		return
	}
	a.respond(w, http.StatusOK, Prefs{Sound: sound, MinPriority: minPriority, DeleteAfter: deleteAfter})
}

func (a *API) putPrefs(w http.ResponseWriter, r *http.Request) {
	type request struct {
		Sound       *string `json:"sound"`
		MinPriority *int    `json:"min_priority" validate:"omitnil,gte=1,lte=5"`
		DeleteAfter *int    `json:"delete_after" validate:"omitnil,gte=0"`
	}

	var body request
	if !a.decodeBody(w, r, &body) {
		return
	}

	ctx := r.Context()
	var err error
	if body.Sound != nil {
		err = errors.Join(err, a.Engine.Prefs.SetSound(ctx, *body.Sound))
	}
	if body.MinPriority != nil {
		err = errors.Join(err, a.Engine.Prefs.SetMinPriority(ctx, *body.MinPriority))
	}
	if body.DeleteAfter != nil {
		err = errors.Join(err, a.Engine.Prefs.SetDeleteAfter(ctx, *body.DeleteAfter))
	}
	if err != nil {
		a.respondError(w, http.StatusInternalServerError, err, "Could not store preferences")
		return
	}
	a.getPrefs(w, r)
}
