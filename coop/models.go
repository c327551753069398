package coop

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event discriminators carried by inbound push events.
const (
	EventMessage   = "message"
	EventNudge     = "coop_nudge"
	EventTyping    = "coop_typing"
	EventOpen      = "open"
	EventKeepalive = "keepalive"
)

// Mute sentinels for Subscription.MutedUntil.
const (
	NotMuted          int64 = 0
	MutedIndefinitely int64 = 1
)

// A Subscription is the local record of interest in a (baseURL, topic) pair.
type Subscription struct {
	ID          string          `json:"id"`
	BaseURL     string          `json:"base_url"`
	Topic       string          `json:"topic"`
	DisplayName string          `json:"display_name,omitempty"`
	MutedUntil  int64           `json:"muted_until"`
	New         int             `json:"new"`
	Internal    bool            `json:"internal"`
	Reservation json.RawMessage `json:"reservation,omitempty"`
}

// SubscriptionID derives the stable identifier of a (baseURL, topic) pair.
func SubscriptionID(baseURL, topic string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(TopicURL(baseURL, topic))).String()
}

// TopicURL joins a base URL and a topic the way the server addresses topics.
func TopicURL(baseURL, topic string) string {
	return strings.TrimRight(baseURL, "/") + "/" + topic
}

// TopicURL returns the full URL of the subscribed topic.
func (s Subscription) TopicURL() string {
	return TopicURL(s.BaseURL, s.Topic)
}

// Title is the label shown for the subscription.
func (s Subscription) Title() string {
	if s.DisplayName != "" {
		return s.DisplayName
	}
	return s.Topic
}

// Muted reports whether the subscription is muted at now. MutedIndefinitely
// never expires; any other non-zero value is an expiry in epoch seconds.
func (s Subscription) Muted(now time.Time) bool {
	switch {
	case s.MutedUntil == NotMuted:
		return false
	case s.MutedUntil == MutedIndefinitely:
		return true
	default:
		return s.MutedUntil > now.Unix()
	}
}

// An Attachment describes a file attached to a message.
type Attachment struct {
	Name    string `json:"name"`
	Type    string `json:"type,omitempty"`
	Size    int64  `json:"size,omitempty"`
	Expires int64  `json:"expires,omitempty"`
	URL     string `json:"url"`
}

// A Notification is one immutable entry in a subscription's timeline.
type Notification struct {
	ID             string      `json:"id" validate:"required"`
	SubscriptionID string      `json:"subscription_id"`
	Event          string      `json:"event" validate:"required"`
	Time           int64       `json:"time" validate:"required,gt=0"`
	Seq            int64       `json:"seq"`
	Sender         string      `json:"sender,omitempty"`
	Message        string      `json:"message,omitempty"`
	Title          string      `json:"title,omitempty"`
	Tags           []string    `json:"tags,omitempty"`
	Priority       int         `json:"priority,omitempty"`
	Attachment     *Attachment `json:"attachment,omitempty"`
	ReplyTo        string      `json:"reply_to,omitempty"`
	ReplyToText    string      `json:"reply_to_text,omitempty"`
}

// Before reports whether n sorts before o in a timeline: by time, then by
// arrival sequence.
func (n Notification) Before(o Notification) bool {
	if n.Time != o.Time {
		return n.Time < o.Time
	}
	return n.Seq < o.Seq
}

// An Event is a push event as delivered by the server.
type Event struct {
	ID          string      `json:"id"`
	Event       string      `json:"event"`
	Time        int64       `json:"time"`
	Topic       string      `json:"topic"`
	Sender      string      `json:"sender,omitempty"`
	Message     string      `json:"message,omitempty"`
	Title       string      `json:"title,omitempty"`
	Tags        []string    `json:"tags,omitempty"`
	Priority    int         `json:"priority,omitempty"`
	Attachment  *Attachment `json:"attachment,omitempty"`
	ReplyTo     string      `json:"reply_to,omitempty"`
	ReplyToText string      `json:"reply_to_text,omitempty"`
}

// Notification converts the event into a log entry of subscriptionID.
func (e Event) Notification(subscriptionID string) Notification {
	return Notification{
		ID:             e.ID,
		SubscriptionID: subscriptionID,
		Event:          e.Event,
		Time:           e.Time,
		Sender:         e.Sender,
		Message:        e.Message,
		Title:          e.Title,
		Tags:           e.Tags,
		Priority:       e.Priority,
		Attachment:     e.Attachment,
		ReplyTo:        e.ReplyTo,
		ReplyToText:    e.ReplyToText,
	}
}

// A ReactionGroup is the tally of one emoji on one message.
type ReactionGroup struct {
	Emoji   string   `json:"emoji"`
	Count   int      `json:"count"`
	Users   []string `json:"users"`
	Reacted bool     `json:"reacted"`
}

// MessageReactions groups the reactions of a single message.
type MessageReactions struct {
	MessageID string          `json:"message_id"`
	Reactions []ReactionGroup `json:"reactions"`
}

// A TypingEntry records that Username is typing in Topic until ExpiresAt.
type TypingEntry struct {
	Username  string
	Topic     string
	ExpiresAt time.Time
}

// PublishRequest is a chat message to send to a topic.
type PublishRequest struct {
	Topic    string   `json:"topic"`
	Message  string   `json:"message"`
	Title    string   `json:"title,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	Priority int      `json:"priority,omitempty"`
	Markdown bool     `json:"markdown,omitempty"`
	ReplyTo  string   `json:"reply_to,omitempty"`
}
