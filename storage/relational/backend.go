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

// Package relational provides a storage backend over database/sql for SQLite
// and PostgreSQL.
//
// Each unit of work runs inside one database transaction opened at the
// requested isolation level. Identifier high-water marks live in a sequences
// table so that they roll back with the unit that advanced them. Times are
// stored as Unix nanoseconds and channel memberships in a child table.
package relational

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/poiesic/chatstore/core"
	"github.com/poiesic/chatstore/storage"

	// database/sql drivers for the supported dialects
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Backend is a relational storage backend.
type Backend struct {
	db      *sql.DB
	dialect *Dialect
	ownsDB  bool
	closed  atomic.Bool
	logger  *slog.Logger

	maxOpenConns int
	maxIdleConns int
}

// Option configures a Backend.
type Option func(*Backend) error

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Backend) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		b.logger = logger
		return nil
	}
}

// WithMaxOpenConns limits the number of open connections.
func WithMaxOpenConns(n int) Option {
	return func(b *Backend) error {
		if n < 0 {
			return errors.New("max open connections cannot be negative")
		}
		b.maxOpenConns = n
		return nil
	}
}

// WithMaxIdleConns limits the number of idle connections kept in the pool.
func WithMaxIdleConns(n int) Option {
	return func(b *Backend) error {
		if n < 0 {
			return errors.New("max idle connections cannot be negative")
		}
		b.maxIdleConns = n
		return nil
	}
}

// Open connects to the database named by dsn. The backend owns the
// connection pool and closes it on Close.
func Open(ctx context.Context, dialect *Dialect, dsn string, opts ...Option) (*Backend, error) {
	if dialect == nil {
		return nil, errors.New("dialect cannot be nil")
	}
	db, err := sql.Open(dialect.Driver, dialect.dsn(dsn))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dialect == SQLite && inMemory(dsn) {
		// every connection would see its own empty database
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	b, err := New(db, dialect, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	b.ownsDB = true
	return b, nil
}

// New wraps an open connection pool. The caller keeps ownership of db.
func New(db *sql.DB, dialect *Dialect, opts ...Option) (*Backend, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	if dialect == nil {
		return nil, errors.New("dialect cannot be nil")
	}
	b := &Backend{
		db:      db,
		dialect: dialect,
		logger:  slog.Default().With("component", "relational-backend", "dialect", dialect.Name),
	}
	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, err
		}
	}
	if b.maxOpenConns > 0 {
		db.SetMaxOpenConns(b.maxOpenConns)
	}
	if b.maxIdleConns > 0 {
		db.SetMaxIdleConns(b.maxIdleConns)
	}
	return b, nil
}

// Dialect returns the backend's SQL dialect.
func (b *Backend) Dialect() *Dialect {
	return b.dialect
}

// Migrate creates any missing tables and seeds the identifier sequences.
func (b *Backend) Migrate(ctx context.Context) error {
	if b.closed.Load() {
		return storage.ErrStorageClosed
	}
	ddl, err := migrations.ReadFile(b.dialect.migration)
	if err != nil {
		return fmt.Errorf("failed to read %s schema: %w", b.dialect.Name, err)
	}
	if _, err := b.db.ExecContext(ctx, string(ddl)); err != nil {
		return fmt.Errorf("failed to apply %s schema: %w", b.dialect.Name, err)
	}
	seed := b.dialect.rebind("INSERT INTO sequences (entity, high_water) VALUES (?, 0) ON CONFLICT (entity) DO NOTHING")
	for _, entity := range storage.Entities {
		if _, err := b.db.ExecContext(ctx, seed, entity); err != nil {
			return fmt.Errorf("failed to seed %s sequence: %w", entity, err)
		}
	}
	b.logger.Debug("schema migrated")
	return nil
}

// Truncate removes every row and resets the identifier sequences.
func (b *Backend) Truncate(ctx context.Context) error {
	if b.closed.Load() {
		return storage.ErrStorageClosed
	}
	tables := []string{
		"users", "channels", "channel_members", "messages", "sessions",
		"access_tokens", "refresh_tokens", "channel_invitations", "app_invitations",
	}
	for _, table := range tables {
		if _, err := b.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to truncate %s: %w", table, err)
		}
	}
	if _, err := b.db.ExecContext(ctx, "UPDATE sequences SET high_water = 0"); err != nil {
		return fmt.Errorf("failed to reset sequences: %w", err)
	}
	return nil
}

// Begin opens a database transaction at iso.
func (b *Backend) Begin(ctx context.Context, iso storage.Isolation, journal *storage.Journal) (storage.Tx, error) {
	if b.closed.Load() {
		return nil, storage.ErrStorageClosed
	}
	sqlTx, err := b.db.BeginTx(ctx, &sql.TxOptions{Isolation: iso.SQL()})
	if err != nil {
		if errors.Is(err, sql.ErrConnDone) {
			return nil, storage.ErrStorageClosed
		}
		return nil, err
	}
	t := &tx{sqlTx: sqlTx, dialect: b.dialect, journal: journal}
	t.repos = storage.Repositories{
		Users:              &users{repo[core.User, core.ID]{t, userRows}},
		Channels:           &channels{repo[core.Channel, core.ID]{t, channelRows}},
		Messages:           &messages{repo[core.Message, core.ID]{t, messageRows}},
		Sessions:           &sessions{repo[core.Session, core.ID]{t, sessionRows}},
		AccessTokens:       &accessTokens{repo[core.AccessToken, core.Token]{t, accessTokenRows}},
		RefreshTokens:      &refreshTokens{repo[core.RefreshToken, core.Token]{t, refreshTokenRows}},
		ChannelInvitations: &channelInvitations{repo[core.ChannelInvitation, core.ID]{t, channelInvitationRows}},
		AppInvitations:     &appInvitations{repo[core.AppInvitation, core.Token]{t, appInvitationRows}},
	}
	return t, nil
}

// Close marks the backend closed and, when it opened the pool, closes it.
func (b *Backend) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	if !b.ownsDB {
		return nil
	}
	return b.db.Close()
}

type tx struct {
	sqlTx   *sql.Tx
	dialect *Dialect
	journal *storage.Journal
	done    bool
	repos   storage.Repositories
}

func (t *tx) Repositories() storage.Repositories {
	return t.repos
}

func (t *tx) Commit() error {
	if t.done {
		return storage.ErrInactive
	}
	t.done = true
	return t.sqlTx.Commit()
}

func (t *tx) Rollback() error {
	if t.done {
		return storage.ErrInactive
	}
	t.done = true
	if err := t.sqlTx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

func (t *tx) active() error {
	if t.done {
		return storage.ErrInactive
	}
	return nil
}

func (t *tx) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.sqlTx.ExecContext(ctx, t.dialect.rebind(query), args...)
}

func (t *tx) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.sqlTx.QueryContext(ctx, t.dialect.rebind(query), args...)
}

func (t *tx) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return t.sqlTx.QueryRowContext(ctx, t.dialect.rebind(query), args...)
}
