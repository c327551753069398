package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/coop-messenger/coop-sync/coop"
)

// Postgres provides coop.LocalStore storage in PostgreSQL.
type Postgres struct {
	bun *bun.DB
}

// Connect connects to the database, pings it to ensure the connection is
// working and creates the tables if needed.
func Connect(ctx context.Context, connStr string) (*Postgres, error) {
	sqlDB := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(connStr)))
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	pg := &Postgres{
		bun: bun.NewDB(sqlDB, pgdialect.New()),
	}
	if err := pg.migrate(ctx); err != nil {
		return nil, err
	}
	return pg, nil
}

func (pg *Postgres) migrate(ctx context.Context) error {
	for _, model := range []any{(*subscription)(nil), (*notification)(nil), (*pref)(nil)} {
		if _, err := pg.bun.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	_, err := pg.bun.NewCreateIndex().
		Model((*notification)(nil)).
		Index("notifications_subscription_id_idx").
		IfNotExists().
		Column("subscription_id").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	return nil
}

// Close closes the database.
func (pg *Postgres) Close() error {
	return pg.bun.Close()
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, coop.ErrNotFound)
	}
	return fmt.Errorf("scan: %w", err)
}

// GetSubscription returns the subscription with id.
func (pg *Postgres) GetSubscription(ctx context.Context, id string) (coop.Subscription, error) {
	var s subscription
	if err := pg.bun.NewSelect().Model(&s).Where("id = ?", id).Scan(ctx); err != nil {
		return coop.Subscription{}, notFound(err, "subscription "+id)
	}
	return s.CoopSubscription(), nil
}

// ListSubscriptions returns all subscriptions.
func (pg *Postgres) ListSubscriptions(ctx context.Context) ([]coop.Subscription, error) {
	var subs []subscription
	if err := pg.bun.NewSelect().Model(&subs).Order("id").Scan(ctx); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	out := make([]coop.Subscription, len(subs))
	for i, s := range subs {
		out[i] = s.CoopSubscription()
	}
	return out, nil
}

// PutSubscription inserts or replaces a subscription.
func (pg *Postgres) PutSubscription(ctx context.Context, sub coop.Subscription) error {
	s := newSubscription(sub)
	_, err := pg.bun.NewInsert().
		Model(s).
		On("CONFLICT (id) DO UPDATE").
		Set("display_name = EXCLUDED.display_name").
		Set("muted_until = EXCLUDED.muted_until").
		Set(`"new" = EXCLUDED."new"`).
		Set("internal = EXCLUDED.internal").
		Set("reservation = EXCLUDED.reservation").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upsert: %w", err)
	}
	return nil
}

// DeleteSubscription deletes the subscription with id.
func (pg *Postgres) DeleteSubscription(ctx context.Context, id string) error {
	if _, err := pg.bun.NewDelete().Model((*subscription)(nil)).Where("id = ?", id).Exec(ctx); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	return nil
}

// GetNotification returns a notification of a subscription.
func (pg *Postgres) GetNotification(ctx context.Context, subscriptionID, id string) (coop.Notification, error) {
	var n notification
	err := pg.bun.NewSelect().
		Model(&n).
		Where("subscription_id = ?", subscriptionID).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		return coop.Notification{}, notFound(err, "notification "+id)
	}
	return n.CoopNotification(), nil
}

// ListNotifications returns the notifications of a subscription ordered by
// time and arrival.
func (pg *Postgres) ListNotifications(ctx context.Context, subscriptionID string) ([]coop.Notification, error) {
	var ns []notification
	err := pg.bun.NewSelect().
		Model(&ns).
		Where("subscription_id = ?", subscriptionID).
		Order("time ASC", "seq ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	out := make([]coop.Notification, len(ns))
	for i, n := range ns {
		out[i] = n.CoopNotification()
	}
	return out, nil
}

// PutNotification inserts a notification. Log entries are immutable, so an
// existing row is left as is.
func (pg *Postgres) PutNotification(ctx context.Context, n coop.Notification) error {
	_, err := pg.bun.NewInsert().
		Model(newNotification(n)).
		On("CONFLICT (subscription_id, id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("insert: %w", err)
	}
	return nil
}

// DeleteNotifications deletes the whole log of a subscription.
func (pg *Postgres) DeleteNotifications(ctx context.Context, subscriptionID string) error {
	_, err := pg.bun.NewDelete().
		Model((*notification)(nil)).
		Where("subscription_id = ?", subscriptionID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	return nil
}

// GetPref returns the preference stored under key.
func (pg *Postgres) GetPref(ctx context.Context, key string) (string, error) {
	var p pref
	if err := pg.bun.NewSelect().Model(&p).Where(`"key" = ?`, key).Scan(ctx); err != nil {
		return "", notFound(err, "pref "+key)
	}
	return p.Value, nil
}

// PutPref stores value under key.
func (pg *Postgres) PutPref(ctx context.Context, key, value string) error {
	_, err := pg.bun.NewInsert().
		Model(&pref{Key: key, Value: value}).
		On("CONFLICT (key) DO UPDATE").
		Set("value = EXCLUDED.value").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upsert: %w", err)
	}
	return nil
}
