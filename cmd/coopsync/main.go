// Command coopsync runs the Coop sync engine: it keeps one stream per
// subscription open, persists what arrives and serves the local REST API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/coop-messenger/coop-sync/api"
	"github.com/coop-messenger/coop-sync/client"
	"github.com/coop-messenger/coop-sync/config"
	"github.com/coop-messenger/coop-sync/coop"
	"github.com/coop-messenger/coop-sync/memstore"
	"github.com/coop-messenger/coop-sync/metrics"
	"github.com/coop-messenger/coop-sync/postgres"
	"github.com/coop-messenger/coop-sync/redis"
	"github.com/coop-messenger/coop-sync/stream"
	"github.com/coop-messenger/coop-sync/validator"
)

func main() {
	if err := run(); err != nil {
		slog.Error("Exiting", "error", err.Error())
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	level, _ := cfg.Level()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	engine := coop.New(store, client.New(client.WithToken(cfg.Token)), coop.Config{
		LocalUser:      cfg.User,
		CallTimeout:    cfg.Sync.CallTimeout,
		TypingTTL:      cfg.Sync.TypingTTL,
		TypingInterval: cfg.Sync.TypingInterval,
	}, logger)
	if err := engine.Load(ctx); err != nil {
		return fmt.Errorf("load engine: %w", err)
	}
	for _, topic := range cfg.Topics {
		if _, err := engine.Subscribe(ctx, cfg.BaseURL, topic, coop.SubscribeOptions{}); err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/", &api.API{
		Logger: logger.With("component", "api"),
		Engine: engine,
		Val:    validator.New(),
	})
	srv := &http.Server{Addr: cfg.Server.ListenAddr, Handler: mux}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		engine.RunSweeper(ctx, cfg.Sync.SweepInterval)
		return nil
	})

	streams := &streams{
		logger: logger.With("component", "stream"),
		engine: engine,
		cfg:    cfg,
		handle: alerting(engine, logger),
		cancel: make(map[string]context.CancelFunc),
	}
	g.Go(func() error {
		streams.run(ctx, cfg.Sync.SweepInterval)
		return nil
	})

	err = g.Wait()
	engine.Wait()
	return err
}

func openStore(ctx context.Context, cfg config.Config) (coop.LocalStore, func(), error) {
	switch cfg.Store.Backend {
	case config.StorePostgres:
		pg, err := postgres.Connect(ctx, cfg.Store.PGDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		return pg, func() { _ = pg.Close() }, nil
	case config.StoreRedis:
		r, err := redis.Connect(ctx, cfg.Store.RedisAddr)
		if err != nil {
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		return r, func() { _ = r.Close() }, nil
	default:
		return memstore.New(), func() {}, nil
	}
}

// streams keeps one stream.Subscriber running per subscription, following
// subscribes and unsubscribes made through the API.
type streams struct {
	logger *slog.Logger
	engine *coop.Engine
	cfg    config.Config
	handle stream.HandlerFunc

	cancel map[string]context.CancelFunc
	wg     sync.WaitGroup
}

func (s *streams) run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		s.reconcile(ctx)
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return
		case <-ticker.C:
		}
	}
}

func (s *streams) reconcile(ctx context.Context) {
	want := make(map[string]bool)
	for _, sub := range s.engine.Registry.List() {
		want[sub.ID] = true
		if _, ok := s.cancel[sub.ID]; ok {
			continue
		}
		subCtx, cancel := context.WithCancel(ctx)
		s.cancel[sub.ID] = cancel
		id := sub.ID
		subscriber := &stream.Subscriber{
			Logger:         s.logger,
			BaseURL:        sub.BaseURL,
			Topic:          sub.Topic,
			Token:          s.cfg.Token,
			Since:          func() string { return s.engine.Cache.LastID(id) },
			Handle:         s.handle,
			ReconnectDelay: s.cfg.Sync.ReconnectDelay,
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			_ = subscriber.Run(subCtx)
		}()
	}
	for id, cancel := range s.cancel {
		if !want[id] {
			cancel()
			delete(s.cancel, id)
		}
	}
}

// alerting wraps engine.HandleEvent and logs an alert for each new entry that
// passes the notification rules.
func alerting(engine *coop.Engine, logger *slog.Logger) stream.HandlerFunc {
	return func(ctx context.Context, baseURL string, ev coop.Event) (bool, error) {
		added, err := engine.HandleEvent(ctx, baseURL, ev)
		if err != nil || !added {
			return added, err
		}
		sub, err := engine.Registry.Lookup(baseURL, ev.Topic)
		if err != nil {
			return added, err
		}
		notify, err := engine.ShouldNotify(ctx, sub, ev.Notification(sub.ID), time.Now())
		if err != nil || !notify {
			return added, err
		}
		sound, err := engine.Prefs.Sound(ctx)
		if err != nil {
			return added, err
		}
		logger.Info("Notification", "topic_url", sub.TopicURL(), "title", sub.Title(),
			"sender", ev.Sender, "event", ev.Event, "sound", sound)
		return added, nil
	}
}
