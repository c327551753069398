package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/coop-messenger/coop-sync/coop"
)

// Redis provides coop.LocalStore storage in Redis.
type Redis struct {
	cli *redis.Client
}

// Connect connects to the Redis server and pings the server to ensure the
// connection is working.
func Connect(ctx context.Context, addr string) (*Redis, error) {
	cli := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	if err := cli.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Redis{
		cli: cli,
	}, nil
}

// Close closes the client.
func (r *Redis) Close() error {
	return r.cli.Close()
}

const (
	subscriptionPrefix = "subscriptions"
	notificationPrefix = "notifications"
	prefsKey           = "prefs"
)

func subscriptionKey(id string) string {
	return fmt.Sprintf("%s:%s", subscriptionPrefix, id)
}

// logKey is the sorted set of a subscription's notification keys, scored by time.
func logKey(subscriptionID string) string {
	return fmt.Sprintf("%s:%s", notificationPrefix, subscriptionID)
}

func notificationKey(subscriptionID, id string) string {
	return fmt.Sprintf("%s:%s:%s", notificationPrefix, subscriptionID, id)
}

// hgetall scans the hash at key into dst and reports coop.ErrNotFound for a
// missing key.
func (r *Redis) hgetall(ctx context.Context, key string, dst any) error {
	cmd := r.cli.HGetAll(ctx, key)
	vals, err := cmd.Result()
	if err != nil {
		return fmt.Errorf("hgetall: %w", err)
	}
	if len(vals) == 0 {
		return fmt.Errorf("%s: %w", key, coop.ErrNotFound)
	}
	if err := cmd.Scan(dst); err != nil {
		return fmt.Errorf("scan: %w", err)
	}
	return nil
}

// GetSubscription returns the subscription with id.
func (r *Redis) GetSubscription(ctx context.Context, id string) (coop.Subscription, error) {
	var s subscription
	if err := r.hgetall(ctx, subscriptionKey(id), &s); err != nil {
		return coop.Subscription{}, err
	}
	return s.CoopSubscription(), nil
}

// ListSubscriptions returns all subscriptions ordered by id.
func (r *Redis) ListSubscriptions(ctx context.Context) ([]coop.Subscription, error) {
	keys, err := r.cli.ZRange(ctx, subscriptionPrefix, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("zrange: %w", err)
	}
	out := make([]coop.Subscription, 0, len(keys))
	for _, key := range keys {
		var s subscription
		err := r.hgetall(ctx, key, &s)
		if errors.Is(err, coop.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, s.CoopSubscription())
	}
	return out, nil
}

// PutSubscription stores a subscription under subscriptions:ID and adds the
// key to the subscriptions set.
func (r *Redis) PutSubscription(ctx context.Context, sub coop.Subscription) error {
	s := newSubscription(sub)
	key := subscriptionKey(s.ID)

	err := r.cli.Watch(ctx, func(tx *redis.Tx) error {
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, s)
			pipe.ZAdd(ctx, subscriptionPrefix, redis.Z{Score: 0, Member: key})
			return nil
		})
		return err
	}, key)
	if err != nil {
		return fmt.Errorf("redis put subscription: %w", err)
	}
	return nil
}

// DeleteSubscription removes a subscription.
func (r *Redis) DeleteSubscription(ctx context.Context, id string) error {
	key := subscriptionKey(id)
	_, err := r.cli.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, subscriptionPrefix, key)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete subscription: %w", err)
	}
	return nil
}

// GetNotification returns a notification of a subscription.
func (r *Redis) GetNotification(ctx context.Context, subscriptionID, id string) (coop.Notification, error) {
	var n notification
	if err := r.hgetall(ctx, notificationKey(subscriptionID, id), &n); err != nil {
		return coop.Notification{}, err
	}
	return n.CoopNotification()
}

// ListNotifications returns the notifications of a subscription sorted by
// time. Entries of equal time are not ordered.
func (r *Redis) ListNotifications(ctx context.Context, subscriptionID string) ([]coop.Notification, error) {
	keys, err := r.cli.ZRangeByScore(ctx, logKey(subscriptionID), &redis.ZRangeBy{
		Min: "-inf",
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("zrange: %w", err)
	}

	out := make([]coop.Notification, 0, len(keys))
	for _, key := range keys {
		var n notification
		err := r.hgetall(ctx, key, &n)
		if errors.Is(err, coop.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		cn, err := n.CoopNotification()
		if err != nil {
			return nil, err
		}
		out = append(out, cn)
	}
	return out, nil
}

// PutNotification adds the notification under
// notifications:SUBSCRIPTION_ID:ID and adds the key to the subscription's log.
// Log entries are immutable; an existing entry is kept.
func (r *Redis) PutNotification(ctx context.Context, n coop.Notification) error {
	m, err := newNotification(n)
	if err != nil {
		return err
	}
	key := notificationKey(n.SubscriptionID, n.ID)

	err = r.cli.Watch(ctx, func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if exists > 0 {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, m)
			pipe.ZAdd(ctx, logKey(n.SubscriptionID), redis.Z{
				Score:  float64(n.Time),
				Member: key,
			})
			return nil
		})
		return err
	}, key)
	if err != nil {
		return fmt.Errorf("redis put notification: %w", err)
	}
	return nil
}

// DeleteNotifications removes the whole log of a subscription.
func (r *Redis) DeleteNotifications(ctx context.Context, subscriptionID string) error {
	log := logKey(subscriptionID)
	keys, err := r.cli.ZRange(ctx, log, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("zrange: %w", err)
	}
	_, err = r.cli.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(keys) > 0 {
			pipe.Del(ctx, keys...)
		}
		pipe.Del(ctx, log)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete notifications: %w", err)
	}
	return nil
}

// GetPref returns the preference stored under key.
func (r *Redis) GetPref(ctx context.Context, key string) (string, error) {
	v, err := r.cli.HGet(ctx, prefsKey, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("pref %s: %w", key, coop.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("hget: %w", err)
	}
	return v, nil
}

// PutPref stores value under key.
func (r *Redis) PutPref(ctx context.Context, key, value string) error {
	if err := r.cli.HSet(ctx, prefsKey, key, value).Err(); err != nil {
		return fmt.Errorf("hset: %w", err)
	}
	return nil
}
