// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package chatstore opens a configured storage backend and wires the unit of
// work manager, change notification and metrics around it.
package chatstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/poiesic/chatstore/config"
	"github.com/poiesic/chatstore/export"
	"github.com/poiesic/chatstore/metrics"
	"github.com/poiesic/chatstore/notify"
	"github.com/poiesic/chatstore/storage"
	"github.com/poiesic/chatstore/storage/badger"
	"github.com/poiesic/chatstore/storage/memory"
	"github.com/poiesic/chatstore/storage/relational"
	"github.com/poiesic/chatstore/sweep"
)

// Database is an opened store.
type Database struct {
	cfg        config.Config
	backend    storage.Backend
	manager    *storage.Manager
	dispatcher *notify.Dispatcher
	metrics    *metrics.Collector
	clock      func() time.Time
	logger     *slog.Logger
}

// DatabaseOption configures a Database.
type DatabaseOption func(*databaseOptions)

type databaseOptions struct {
	logger     *slog.Logger
	registerer prometheus.Registerer
	sinks      []notify.Sink
	clock      func() time.Time
}

// WithLogger sets the logger handed to every component.
func WithLogger(logger *slog.Logger) DatabaseOption {
	return func(o *databaseOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRegisterer registers metrics on reg instead of the default registerer.
func WithRegisterer(reg prometheus.Registerer) DatabaseOption {
	return func(o *databaseOptions) {
		o.registerer = reg
	}
}

// WithSink delivers change events to sink in addition to the configured sinks.
func WithSink(sink notify.Sink) DatabaseOption {
	return func(o *databaseOptions) {
		if sink != nil {
			o.sinks = append(o.sinks, sink)
		}
	}
}

// WithClock sets the clock used for commit timestamps and sweeps.
func WithClock(now func() time.Time) DatabaseOption {
	return func(o *databaseOptions) {
		if now != nil {
			o.clock = now
		}
	}
}

// Open validates cfg and opens the store it describes. Relational schemas are
// created when cfg.Migrate is set.
func Open(cfg config.Config, opts ...DatabaseOption) (*Database, error) {
	options := &databaseOptions{
		logger: slog.Default(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(options)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	backend, err := openBackend(cfg, options.logger)
	if err != nil {
		return nil, err
	}
	db := &Database{cfg: cfg, backend: backend, clock: options.clock, logger: options.logger}

	managerOpts := []storage.ManagerOption{
		storage.WithLogger(options.logger.With("component", "storage")),
		storage.WithClock(options.clock),
	}
	if cfg.Metrics {
		db.metrics, err = metrics.New(options.registerer)
		if err != nil {
			backend.Close()
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
		managerOpts = append(managerOpts, storage.WithObserver(db.metrics))
	}

	sink, closeSinks, err := buildSink(cfg, options)
	if err != nil {
		backend.Close()
		return nil, err
	}
	if sink != nil {
		dispatchOpts := []notify.Option{
			notify.WithLogger(options.logger.With("component", "notify")),
			notify.WithRetry(cfg.RetryAttempts, cfg.RetryBackoff),
			notify.WithTimeout(cfg.DeliveryTimeout),
		}
		if cfg.DispatchWorkers > 0 {
			dispatchOpts = append(dispatchOpts, notify.WithPoolSize(cfg.DispatchWorkers))
		}
		if db.metrics != nil {
			dispatchOpts = append(dispatchOpts, notify.WithRecorder(db.metrics))
		}
		db.dispatcher, err = notify.NewDispatcher(sink, dispatchOpts...)
		if err != nil {
			closeSinks()
			backend.Close()
			return nil, err
		}
		managerOpts = append(managerOpts, storage.WithPublisher(db.dispatcher))
	}

	db.manager, err = storage.NewManager(backend, managerOpts...)
	if err != nil {
		db.closeDispatcher()
		backend.Close()
		return nil, err
	}
	db.logger.Info("store opened", "component", "chatstore", "backend", cfg.Backend, "sinks", cfg.EnabledSinks())
	return db, nil
}

func openBackend(cfg config.Config, logger *slog.Logger) (storage.Backend, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return memory.New(memory.WithLogger(logger.With("component", "memory-backend")))
	case config.BackendBadger:
		return badger.Open(cfg.BadgerPath,
			badger.WithLogger(logger.With("component", "badger-backend")),
			badger.WithSyncWrites(cfg.SyncWrites))
	case config.BackendSQLite, config.BackendPostgres:
		dialect, err := relational.ParseDialect(cfg.Backend)
		if err != nil {
			return nil, err
		}
		ctx := context.Background()
		b, err := relational.Open(ctx, dialect, cfg.DSN,
			relational.WithLogger(logger.With("component", "relational-backend")),
			relational.WithMaxOpenConns(cfg.MaxOpenConns),
			relational.WithMaxIdleConns(cfg.MaxIdleConns))
		if err != nil {
			return nil, err
		}
		if cfg.Migrate {
			if err := b.Migrate(ctx); err != nil {
				b.Close()
				return nil, err
			}
		}
		return b, nil
	}
	return nil, fmt.Errorf("%w: unknown backend %q", config.ErrInvalid, cfg.Backend)
}

// sinkBuilders construct the sinks named in configuration.
var sinkBuilders = map[string]func(cfg config.Config, logger *slog.Logger) (notify.Sink, error){
	config.SinkLog: func(_ config.Config, logger *slog.Logger) (notify.Sink, error) {
		return notify.NewLogSink(logger, slog.LevelInfo), nil
	},
	config.SinkKafka: func(cfg config.Config, _ *slog.Logger) (notify.Sink, error) {
		s, err := notify.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return nil, err
		}
		return s, nil
	},
	config.SinkRedis: func(cfg config.Config, _ *slog.Logger) (notify.Sink, error) {
		s, err := notify.NewRedisSink(cfg.RedisAddr, cfg.RedisChannel)
		if err != nil {
			return nil, err
		}
		return s, nil
	},
}

// buildSink combines the configured sinks with the ones passed to Open.
// closeOwned closes the configured ones only; callers close their own.
func buildSink(cfg config.Config, options *databaseOptions) (sink notify.Sink, closeOwned func(), err error) {
	var owned []notify.Sink
	closeOwned = func() {
		for _, s := range owned {
			c, ok := s.(interface{ Close() error })
			if !ok {
				continue
			}
			if err := c.Close(); err != nil {
				options.logger.Warn("failed to close sink", "component", "chatstore", "sink", s.Name(), "error", err)
			}
		}
	}

	for _, name := range cfg.EnabledSinks() {
		build, ok := sinkBuilders[name]
		if !ok {
			closeOwned()
			return nil, nil, fmt.Errorf("%w: unknown sink %q", config.ErrInvalid, name)
		}
		s, err := build(cfg, options.logger)
		if err != nil {
			closeOwned()
			return nil, nil, fmt.Errorf("failed to build %s sink: %w", name, err)
		}
		owned = append(owned, s)
	}

	sinks := slices.Concat(owned, options.sinks)
	switch len(sinks) {
	case 0:
		return nil, closeOwned, nil
	case 1:
		return sinks[0], closeOwned, nil
	}
	fan, err := notify.NewFanOut(sinks...)
	if err != nil {
		closeOwned()
		return nil, nil, err
	}
	return fan, closeOwned, nil
}

// Manager returns the unit of work manager.
func (db *Database) Manager() *storage.Manager {
	return db.manager
}

// Config returns the configuration the store was opened with.
func (db *Database) Config() config.Config {
	return db.cfg
}

// Do runs fn in a unit of work. See storage.Run.
func (db *Database) Do(ctx context.Context, iso storage.Isolation, fn func(ctx context.Context, uow *storage.UnitOfWork) error) error {
	return db.manager.Do(ctx, iso, fn)
}

// Migrate creates the relational schema. Other backends need no schema.
func (db *Database) Migrate(ctx context.Context) error {
	if b, ok := db.backend.(*relational.Backend); ok {
		return b.Migrate(ctx)
	}
	return nil
}

// CollectGarbage compacts the Badger value log until no file can be
// rewritten. It returns the number of rewritten files and does nothing on
// other backends.
func (db *Database) CollectGarbage(discardRatio float64) (int, error) {
	b, ok := db.backend.(*badger.Backend)
	if !ok {
		return 0, nil
	}
	rewritten := 0
	for {
		ok, err := b.CollectGarbage(discardRatio)
		if err != nil {
			return rewritten, err
		}
		if !ok {
			return rewritten, nil
		}
		rewritten++
	}
}

// Stats counts the stored entities of every kind in one unit of work.
func (db *Database) Stats(ctx context.Context) (map[string]int64, error) {
	return storage.Run(ctx, db.manager, storage.IsolationDefault, func(ctx context.Context, uow *storage.UnitOfWork) (map[string]int64, error) {
		r := uow.Repositories()
		counters := map[string]func(context.Context) (int64, error){
			storage.EntityUser:              r.Users.Count,
			storage.EntityChannel:           r.Channels.Count,
			storage.EntityMessage:           r.Messages.Count,
			storage.EntitySession:           r.Sessions.Count,
			storage.EntityAccessToken:       r.AccessTokens.Count,
			storage.EntityRefreshToken:      r.RefreshTokens.Count,
			storage.EntityChannelInvitation: r.ChannelInvitations.Count,
			storage.EntityAppInvitation:     r.AppInvitations.Count,
		}
		out := make(map[string]int64, len(counters))
		for entity, count := range counters {
			n, err := count(ctx)
			if err != nil {
				return nil, fmt.Errorf("failed to count %s: %w", entity, err)
			}
			out[entity] = n
		}
		return out, nil
	})
}

// NewSweeper creates a sweeper over the store using the store's clock.
func (db *Database) NewSweeper(opts ...sweep.Option) (*sweep.Sweeper, error) {
	opts = append([]sweep.Option{
		sweep.WithClock(db.clock),
		sweep.WithLogger(db.logger.With("component", "sweep")),
	}, opts...)
	return sweep.New(db.manager, opts...)
}

// NewExporter creates an exporter over the store.
func (db *Database) NewExporter(opts ...export.Option) (*export.Exporter, error) {
	opts = append([]export.Option{export.WithLogger(db.logger.With("component", "export"))}, opts...)
	return export.New(db.manager, opts...)
}

// Flush waits for scheduled change events to be delivered.
func (db *Database) Flush() {
	if db.dispatcher != nil {
		db.dispatcher.Flush()
	}
}

func (db *Database) closeDispatcher() error {
	if db.dispatcher == nil {
		return nil
	}
	return db.dispatcher.Close()
}

// Close closes the backend first, then drains and closes the notifier.
func (db *Database) Close() error {
	var errs []error
	if err := db.manager.Close(); err != nil {
		db.logger.Error("error closing backend storage", "component", "chatstore", "err", err)
		errs = append(errs, err)
	}
	if err := db.closeDispatcher(); err != nil {
		db.logger.Error("error closing notifier", "component", "chatstore", "err", err)
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
