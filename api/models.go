package api

import (
	"encoding/json"
	"time"

	"github.com/coop-messenger/coop-sync/coop"
)

// A Subscription is a subscription as shown to the view layer.
type Subscription struct {
	ID              string          `json:"id"`
	BaseURL         string          `json:"base_url"`
	Topic           string          `json:"topic"`
	TopicURL        string          `json:"topic_url"`
	Title           string          `json:"title"`
	DisplayName     string          `json:"display_name,omitempty"`
	MutedUntil      int64           `json:"muted_until"`
	Muted           bool            `json:"muted"`
	New             int             `json:"new"`
	LastMessageTime int64           `json:"last_message_time"`
	Reservation     json.RawMessage `json:"reservation,omitempty"`
}

func newSubscription(s coop.Subscription, lastMessage int64, now time.Time) Subscription {
	return Subscription{
		ID:              s.ID,
		BaseURL:         s.BaseURL,
		Topic:           s.Topic,
		TopicURL:        s.TopicURL(),
		Title:           s.Title(),
		DisplayName:     s.DisplayName,
		MutedUntil:      s.MutedUntil,
		Muted:           s.Muted(now),
		New:             s.New,
		LastMessageTime: lastMessage,
		Reservation:     s.Reservation,
	}
}

// A Notification is one timeline entry.
type Notification struct {
	ID          string           `json:"id"`
	Event       string           `json:"event"`
	Time        int64            `json:"time"`
	Sender      string           `json:"sender,omitempty"`
	Message     string           `json:"message,omitempty"`
	Title       string           `json:"title,omitempty"`
	Tags        []string         `json:"tags,omitempty"`
	Priority    int              `json:"priority,omitempty"`
	Attachment  *coop.Attachment `json:"attachment,omitempty"`
	ReplyTo     string           `json:"reply_to,omitempty"`
	ReplyToText string           `json:"reply_to_text,omitempty"`
}

func newNotification(n coop.Notification) Notification {
	return Notification{
		ID:          n.ID,
		Event:       n.Event,
		Time:        n.Time,
		Sender:      n.Sender,
		Message:     n.Message,
		Title:       n.Title,
		Tags:        n.Tags,
		Priority:    n.Priority,
		Attachment:  n.Attachment,
		ReplyTo:     n.ReplyTo,
		ReplyToText: n.ReplyToText,
	}
}

func newNotifications(ns []coop.Notification) []Notification {
	out := make([]Notification, len(ns))
	for i, n := range ns {
		out[i] = newNotification(n)
	}
	return out
}

// A Day is a run of timeline entries of one calendar date.
type Day struct {
	Date          string         `json:"date"`
	Notifications []Notification `json:"notifications"`
}

// Prefs are the user preferences.
type Prefs struct {
	Sound       string `json:"sound"`
	MinPriority int    `json:"min_priority"`
	DeleteAfter int    `json:"delete_after"`
}
