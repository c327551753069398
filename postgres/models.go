package postgres

import (
	"encoding/json"

	"github.com/uptrace/bun"

	"github.com/coop-messenger/coop-sync/coop"
)

// A subscription represents a subscription in the database.
type subscription struct {
	bun.BaseModel `bun:"table:subscriptions"`

	ID          string          `bun:",pk"`
	BaseURL     string          `bun:",notnull"`
	Topic       string          `bun:",notnull"`
	DisplayName string          `bun:",nullzero"`
	MutedUntil  int64           `bun:",notnull,default:0"`
	New         int             `bun:",notnull,default:0"`
	Internal    bool            `bun:",notnull,default:false"`
	Reservation json.RawMessage `bun:"type:jsonb,nullzero"`
}

// A notification is one log entry of a subscription. The primary key is
// (subscription_id, id) because server ids are only unique per topic.
type notification struct {
	bun.BaseModel `bun:"table:notifications"`

	SubscriptionID string           `bun:",pk"`
	ID             string           `bun:",pk"`
	Event          string           `bun:",notnull"`
	Time           int64            `bun:",notnull"`
	Seq            int64            `bun:",notnull"`
	Sender         string           `bun:",nullzero"`
	Message        string           `bun:",nullzero"`
	Title          string           `bun:",nullzero"`
	Tags           []string         `bun:",array"`
	Priority       int              `bun:",notnull,default:0"`
	Attachment     *coop.Attachment `bun:"type:jsonb"`
	ReplyTo        string           `bun:",nullzero"`
	ReplyToText    string           `bun:",nullzero"`
}

type pref struct {
	bun.BaseModel `bun:"table:prefs"`

	Key   string `bun:",pk"`
	Value string `bun:",notnull"`
}

func newSubscription(s coop.Subscription) *subscription {
	return &subscription{
		ID:          s.ID,
		BaseURL:     s.BaseURL,
		Topic:       s.Topic,
		DisplayName: s.DisplayName,
		MutedUntil:  s.MutedUntil,
		New:         s.New,
		Internal:    s.Internal,
		Reservation: s.Reservation,
	}
}

func (s subscription) CoopSubscription() coop.Subscription {
	return coop.Subscription{
		ID:          s.ID,
		BaseURL:     s.BaseURL,
		Topic:       s.Topic,
		DisplayName: s.DisplayName,
		MutedUntil:  s.MutedUntil,
		New:         s.New,
		Internal:    s.Internal,
		Reservation: s.Reservation,
	}
}

func newNotification(n coop.Notification) *notification {
	return &notification{
		SubscriptionID: n.SubscriptionID,
		ID:             n.ID,
		Event:          n.Event,
		Time:           n.Time,
		Seq:            n.Seq,
		Sender:         n.Sender,
		Message:        n.Message,
		Title:          n.Title,
		Tags:           n.Tags,
		Priority:       n.Priority,
		Attachment:     n.Attachment,
		ReplyTo:        n.ReplyTo,
		ReplyToText:    n.ReplyToText,
	}
}

func (n notification) CoopNotification() coop.Notification {
	return coop.Notification{
		ID:             n.ID,
		SubscriptionID: n.SubscriptionID,
		Event:          n.Event,
		Time:           n.Time,
		Seq:            n.Seq,
		Sender:         n.Sender,
		Message:        n.Message,
		Title:          n.Title,
		Tags:           n.Tags,
		Priority:       n.Priority,
		Attachment:     n.Attachment,
		ReplyTo:        n.ReplyTo,
		ReplyToText:    n.ReplyToText,
	}
}
