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

// Package badger provides a storage backend over an embedded BadgerDB.
//
// Each unit of work runs inside one read-write Badger transaction. Badger
// detects conflicting concurrent writers when a unit commits, so every
// isolation level behaves as serializable and a losing writer fails at commit.
package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/poiesic/chatstore/core"
	"github.com/poiesic/chatstore/storage"
)

// Backend wraps a BadgerDB instance.
type Backend struct {
	db     *badger.DB
	logger *slog.Logger
	closed atomic.Bool
}

// badgerLoggerAdapter adapts slog.Logger to badger.Logger interface.
type badgerLoggerAdapter struct {
	logger *slog.Logger
}

var _ badger.Logger = (*badgerLoggerAdapter)(nil)

func (bl *badgerLoggerAdapter) Errorf(msg string, items ...any) {
	bl.logger.Error(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Warningf(msg string, items ...any) {
	bl.logger.Warn(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Infof(msg string, items ...any) {
	bl.logger.Info(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Debugf(msg string, items ...any) {
	bl.logger.Debug(fmt.Sprintf(msg, items...))
}

type settings struct {
	logger     *slog.Logger
	inMemory   bool
	syncWrites bool
}

// Option configures Open.
type Option func(*settings) error

// WithLogger sets the logger. Badger's own messages are routed through it.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		s.logger = logger
		return nil
	}
}

// WithInMemory keeps all data in memory. The path given to Open is ignored.
func WithInMemory() Option {
	return func(s *settings) error {
		s.inMemory = true
		return nil
	}
}

// WithSyncWrites makes every commit wait for an fsync.
func WithSyncWrites(sync bool) Option {
	return func(s *settings) error {
		s.syncWrites = sync
		return nil
	}
}

// Open opens a BadgerDB database at the specified path.
// Creates the directory if it doesn't exist.
func Open(filePath string, opts ...Option) (*Backend, error) {
	cfg := settings{logger: slog.Default().With("component", "badger-backend")}
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	var bopts badger.Options
	if cfg.inMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := ensureDir(filePath); err != nil {
			return nil, err
		}
		bopts = badger.DefaultOptions(filePath).WithSyncWrites(cfg.syncWrites)
	}
	bopts.Logger = &badgerLoggerAdapter{logger: cfg.logger}
	bopts.Compression = options.None

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, err
	}
	return &Backend{db: db, logger: cfg.logger}, nil
}

func ensureDir(filePath string) error {
	info, err := os.Stat(filePath)
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		if err := os.MkdirAll(filePath, 0755); err != nil {
			return err
		}
		if info, err = os.Stat(filePath); err != nil {
			return err
		}
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", filePath)
	}
	return nil
}

// Close closes the BadgerDB database.
func (b *Backend) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	return b.db.Close()
}

// IsClosed returns true if the database is closed.
func (b *Backend) IsClosed() bool {
	return b.closed.Load() || b.db.IsClosed()
}

// CollectGarbage rewrites value log files in which at least discardRatio of
// the data is stale. Reports whether a file was rewritten.
func (b *Backend) CollectGarbage(discardRatio float64) (bool, error) {
	if b.IsClosed() {
		return false, storage.ErrStorageClosed
	}
	err := b.db.RunValueLogGC(discardRatio)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, badger.ErrNoRewrite), errors.Is(err, badger.ErrGCInMemoryMode):
		return false, nil
	}
	return false, err
}

// Begin opens a read-write transaction. Isolation levels weaker than
// serializable are upgraded.
func (b *Backend) Begin(ctx context.Context, iso storage.Isolation, journal *storage.Journal) (storage.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b.IsClosed() {
		return nil, storage.ErrStorageClosed
	}
	if iso != storage.IsolationDefault && iso != storage.Serializable {
		b.logger.Debug("isolation level runs as serializable", "requested", iso)
	}
	t := &tx{txn: b.db.NewTransaction(true), journal: journal}
	t.repos = storage.Repositories{
		Users:              &users{repo[core.User, core.ID]{t, userTable}},
		Channels:           &channels{repo[core.Channel, core.ID]{t, channelTable}},
		Messages:           &messages{repo[core.Message, core.ID]{t, messageTable}},
		Sessions:           &sessions{repo[core.Session, core.ID]{t, sessionTable}},
		AccessTokens:       &accessTokens{repo[core.AccessToken, core.Token]{t, accessTokenTable}},
		RefreshTokens:      &refreshTokens{repo[core.RefreshToken, core.Token]{t, refreshTokenTable}},
		ChannelInvitations: &channelInvitations{repo[core.ChannelInvitation, core.ID]{t, channelInvitationTable}},
		AppInvitations:     &appInvitations{repo[core.AppInvitation, core.Token]{t, appInvitationTable}},
	}
	return t, nil
}

type tx struct {
	txn     *badger.Txn
	journal *storage.Journal
	done    bool
	repos   storage.Repositories
}

func (t *tx) Repositories() storage.Repositories {
	return t.repos
}

// Commit fails with badger.ErrConflict when a concurrent unit committed a
// write to a key this unit read.
func (t *tx) Commit() error {
	if t.done {
		return storage.ErrInactive
	}
	t.done = true
	return t.txn.Commit()
}

func (t *tx) Rollback() error {
	if t.done {
		return storage.ErrInactive
	}
	t.done = true
	t.txn.Discard()
	return nil
}

func (t *tx) active() error {
	if t.done {
		return storage.ErrInactive
	}
	return nil
}
