// Package config loads chatstore settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/samber/lo"
)

// Prefix is prepended to every environment variable name.
const Prefix = "CHATSTORE"

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendBadger   = "badger"
)

// Change event sinks.
const (
	SinkNone  = "none"
	SinkLog   = "log"
	SinkKafka = "kafka"
	SinkRedis = "redis"
)

// ErrInvalid is matched by every error returned from Validate.
var ErrInvalid = errors.New("invalid configuration")

// Config holds every setting needed to open a Database.
type Config struct {
	Backend      string `envconfig:"BACKEND" default:"memory"`
	DSN          string `envconfig:"DSN"`
	BadgerPath   string `envconfig:"BADGER_PATH"`
	SyncWrites   bool   `envconfig:"BADGER_SYNC_WRITES" default:"false"`
	MaxOpenConns int    `envconfig:"MAX_OPEN_CONNS" default:"10"`
	MaxIdleConns int    `envconfig:"MAX_IDLE_CONNS" default:"5"`
	Migrate      bool   `envconfig:"MIGRATE" default:"true"`

	// Sinks is a comma separated list of log, kafka and redis. Several sinks
	// receive every batch.
	Sinks           []string      `envconfig:"SINKS" default:"none"`
	KafkaBrokers    []string      `envconfig:"KAFKA_BROKERS"`
	KafkaTopic      string        `envconfig:"KAFKA_TOPIC" default:"chatstore.changes"`
	RedisAddr       string        `envconfig:"REDIS_ADDR"`
	RedisChannel    string        `envconfig:"REDIS_CHANNEL" default:"chatstore.changes"`
	DispatchWorkers int           `envconfig:"DISPATCH_WORKERS" default:"0"`
	RetryAttempts   int           `envconfig:"RETRY_ATTEMPTS" default:"3"`
	RetryBackoff    time.Duration `envconfig:"RETRY_BACKOFF" default:"100ms"`
	DeliveryTimeout time.Duration `envconfig:"DELIVERY_TIMEOUT" default:"30s"`

	Metrics bool `envconfig:"METRICS" default:"true"`
}

// Load reads the given .env files, then the environment, and validates the
// result. Without arguments ".env" is read when it exists. Variables already
// set in the environment win over file values.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return Config{}, fmt.Errorf("failed to read %s: %w", f, err)
		}
	}

	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	cfg.normalize()
	return cfg, cfg.Validate()
}

// Default returns the configuration of an in-memory store without sinks.
func Default() Config {
	return Config{
		Backend:         BackendMemory,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		Migrate:         true,
		Sinks:           []string{SinkNone},
		KafkaTopic:      "chatstore.changes",
		RedisChannel:    "chatstore.changes",
		RetryAttempts:   3,
		RetryBackoff:    100 * time.Millisecond,
		DeliveryTimeout: 30 * time.Second,
		Metrics:         true,
	}
}

func (c *Config) normalize() {
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	c.Sinks = lo.Uniq(lo.FilterMap(c.Sinks, func(s string, _ int) (string, bool) {
		s = strings.ToLower(strings.TrimSpace(s))
		return s, s != ""
	}))
	if len(c.KafkaBrokers) > 0 {
		c.KafkaBrokers = lo.Compact(lo.Map(c.KafkaBrokers, func(s string, _ int) string {
			return strings.TrimSpace(s)
		}))
	}
}

// EnabledSinks returns the configured sinks, ignoring "none".
func (c Config) EnabledSinks() []string {
	return lo.Without(c.Sinks, SinkNone)
}

// Validate reports every problem found, not only the first.
func (c Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	switch c.Backend {
	case BackendMemory:
	case BackendSQLite, BackendPostgres:
		if c.DSN == "" {
			add("%s_DSN is required for the %s backend", Prefix, c.Backend)
		}
	case BackendBadger:
		if c.BadgerPath == "" {
			add("%s_BADGER_PATH is required for the badger backend", Prefix)
		}
	default:
		add("unknown backend %q", c.Backend)
	}
	if c.MaxOpenConns < 0 {
		add("max open connections cannot be negative")
	}
	if c.MaxIdleConns < 0 {
		add("max idle connections cannot be negative")
	}

	for _, s := range c.Sinks {
		switch s {
		case SinkNone, SinkLog:
		case SinkKafka:
			if len(c.KafkaBrokers) == 0 {
				add("%s_KAFKA_BROKERS is required for the kafka sink", Prefix)
			}
			if c.KafkaTopic == "" {
				add("%s_KAFKA_TOPIC is required for the kafka sink", Prefix)
			}
		case SinkRedis:
			if c.RedisAddr == "" {
				add("%s_REDIS_ADDR is required for the redis sink", Prefix)
			}
			if c.RedisChannel == "" {
				add("%s_REDIS_CHANNEL is required for the redis sink", Prefix)
			}
		default:
			add("unknown sink %q", s)
		}
	}
	if lo.Contains(c.Sinks, SinkNone) && len(c.EnabledSinks()) > 0 {
		add("sink none cannot be combined with other sinks")
	}
	if c.DispatchWorkers < 0 {
		add("dispatch workers cannot be negative")
	}
	if c.RetryAttempts <= 0 {
		add("retry attempts must be greater than 0")
	}
	if c.RetryBackoff < 0 {
		add("retry backoff cannot be negative")
	}
	if c.DeliveryTimeout <= 0 {
		add("delivery timeout must be positive")
	}

	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
}
