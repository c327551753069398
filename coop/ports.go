package coop

import "context"

// A LocalStore persists subscriptions, notifications and preferences.
// Lookups of missing records return ErrNotFound.
type LocalStore interface {
	GetSubscription(ctx context.Context, id string) (Subscription, error)
	ListSubscriptions(ctx context.Context) ([]Subscription, error)
	PutSubscription(ctx context.Context, sub Subscription) error
	DeleteSubscription(ctx context.Context, id string) error

	GetNotification(ctx context.Context, subscriptionID, id string) (Notification, error)
	// ListNotifications returns the log of subscriptionID; order is unspecified.
	ListNotifications(ctx context.Context, subscriptionID string) ([]Notification, error)
	PutNotification(ctx context.Context, n Notification) error
	DeleteNotifications(ctx context.Context, subscriptionID string) error

	GetPref(ctx context.Context, key string) (string, error)
	PutPref(ctx context.Context, key, value string) error
}

// A Client talks to the Coop server on behalf of the local user.
type Client interface {
	ToggleReaction(ctx context.Context, baseURL, messageID, emoji string) error
	ListReactions(ctx context.Context, baseURL, topic string) ([]MessageReactions, error)
	SendTyping(ctx context.Context, baseURL, topic string) error
	SendNudge(ctx context.Context, baseURL, topic string) error
	Publish(ctx context.Context, baseURL string, req PublishRequest) (Event, error)
}
