// Package config loads the process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// Config is the process configuration, read from the environment.
type Config struct {
	BaseURL  string   `envconfig:"COOP_BASE_URL" default:"https://coop.sh"`
	User     string   `envconfig:"COOP_USER" required:"true"`
	Token    string   `envconfig:"COOP_TOKEN"`
	Topics   []string `envconfig:"COOP_TOPICS"`
	LogLevel string   `envconfig:"LOG_LEVEL" default:"info"`

	Store struct {
		Backend   string `envconfig:"COOP_STORE" default:"memory"`
		PGDSN     string `envconfig:"PG_DSN"`
		RedisAddr string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	} `envconfig:""`

	Server struct {
		ListenAddr      string        `envconfig:"COOP_LISTEN_ADDR" default:"127.0.0.1:8090"`
		ShutdownTimeout time.Duration `envconfig:"COOP_SHUTDOWN_TIMEOUT" default:"10s"`
	} `envconfig:""`

	Sync struct {
		CallTimeout    time.Duration `envconfig:"COOP_CALL_TIMEOUT" default:"10s"`
		TypingTTL      time.Duration `envconfig:"COOP_TYPING_TTL" default:"5s"`
		TypingInterval time.Duration `envconfig:"COOP_TYPING_INTERVAL" default:"3s"`
		SweepInterval  time.Duration `envconfig:"COOP_SWEEP_INTERVAL" default:"1s"`
		ReconnectDelay time.Duration `envconfig:"COOP_RECONNECT_DELAY" default:"5s"`
	} `envconfig:""`
}

// Load reads files (".env" when none are given) into the environment,
// without overriding variables already set, and processes the environment
// into a Config. Missing files are skipped.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("process env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Store.Backend {
	case StoreMemory, StoreRedis:
	case StorePostgres:
		if c.Store.PGDSN == "" {
			return errors.New("PG_DSN is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown COOP_STORE %q", c.Store.Backend)
	}
	if c.Sync.SweepInterval <= 0 {
		return errors.New("COOP_SWEEP_INTERVAL must be positive")
	}
	for i, t := range c.Topics {
		c.Topics[i] = strings.TrimSpace(t)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level returns the slog level named by LogLevel.
func (c Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return l, nil
}
