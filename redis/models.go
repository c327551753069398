package redis

import (
	"encoding/json"
	"fmt"

	"github.com/coop-messenger/coop-sync/coop"
)

// A subscription represents a subscription hash in Redis.
type subscription struct {
	ID          string `redis:"id"`
	BaseURL     string `redis:"base_url"`
	Topic       string `redis:"topic"`
	DisplayName string `redis:"display_name"`
	MutedUntil  int64  `redis:"muted_until"`
	New         int    `redis:"new"`
	Internal    bool   `redis:"internal"`
	Reservation string `redis:"reservation"`
}

// A notification represents a log entry hash in Redis. Nested values are
// stored as JSON.
type notification struct {
	ID             string `redis:"id"`
	SubscriptionID string `redis:"subscription_id"`
	Event          string `redis:"event"`
	Time           int64  `redis:"time"`
	Seq            int64  `redis:"seq"`
	Sender         string `redis:"sender"`
	Message        string `redis:"message"`
	Title          string `redis:"title"`
	Tags           string `redis:"tags"`
	Priority       int    `redis:"priority"`
	Attachment     string `redis:"attachment"`
	ReplyTo        string `redis:"reply_to"`
	ReplyToText    string `redis:"reply_to_text"`
}

func newSubscription(s coop.Subscription) subscription {
	return subscription{
		ID:          s.ID,
		BaseURL:     s.BaseURL,
		Topic:       s.Topic,
		DisplayName: s.DisplayName,
		MutedUntil:  s.MutedUntil,
		New:         s.New,
		Internal:    s.Internal,
		Reservation: string(s.Reservation),
	}
}

func (s subscription) CoopSubscription() coop.Subscription {
	sub := coop.Subscription{
		ID:          s.ID,
		BaseURL:     s.BaseURL,
		Topic:       s.Topic,
		DisplayName: s.DisplayName,
		MutedUntil:  s.MutedUntil,
		New:         s.New,
		Internal:    s.Internal,
	}
	if s.Reservation != "" {
		sub.Reservation = json.RawMessage(s.Reservation)
	}
	return sub
}

func newNotification(n coop.Notification) (notification, error) {
	m := notification{
		ID:             n.ID,
		SubscriptionID: n.SubscriptionID,
		Event:          n.Event,
		Time:           n.Time,
		Seq:            n.Seq,
		Sender:         n.Sender,
		Message:        n.Message,
		Title:          n.Title,
		Priority:       n.Priority,
		ReplyTo:        n.ReplyTo,
		ReplyToText:    n.ReplyToText,
	}
	if len(n.Tags) > 0 {
		b, err := json.Marshal(n.Tags)
		if err != nil {
			return notification{}, fmt.Errorf("marshal tags: %w", err)
		}
		m.Tags = string(b)
	}
	if n.Attachment != nil {
		b, err := json.Marshal(n.Attachment)
		if err != nil {
			return notification{}, fmt.Errorf("marshal attachment: %w", err)
		}
		m.Attachment = string(b)
	}
	return m, nil
}

func (m notification) CoopNotification() (coop.Notification, error) {
	n := coop.Notification{
		ID:             m.ID,
		SubscriptionID: m.SubscriptionID,
		Event:          m.Event,
		Time:           m.Time,
		Seq:            m.Seq,
		Sender:         m.Sender,
		Message:        m.Message,
		Title:          m.Title,
		Priority:       m.Priority,
		ReplyTo:        m.ReplyTo,
		ReplyToText:    m.ReplyToText,
	}
	if m.Tags != "" {
		if err := json.Unmarshal([]byte(m.Tags), &n.Tags); err != nil {
			return coop.Notification{}, fmt.Errorf("unmarshal tags: %w", err)
		}
	}
	if m.Attachment != "" {
		n.Attachment = &coop.Attachment{}
		if err := json.Unmarshal([]byte(m.Attachment), n.Attachment); err != nil {
			return coop.Notification{}, fmt.Errorf("unmarshal attachment: %w", err)
		}
	}
	return n, nil
}
