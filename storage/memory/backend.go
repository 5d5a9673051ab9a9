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

// Package memory provides an in-memory storage backend.
//
// One unit of work at a time holds the backend's writer slot, so every
// isolation level behaves as serializable. Writes apply in place and are
// reverted from an undo log when the unit rolls back. The backend is meant for
// tests and local tools; its data does not survive the process.
package memory

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/poiesic/chatstore/core"
	"github.com/poiesic/chatstore/storage"
)

// Backend is the in-memory storage backend.
type Backend struct {
	slot   chan struct{}
	closed atomic.Bool
	logger *slog.Logger

	users              *table[core.User, core.ID]
	channels           *table[core.Channel, core.ID]
	messages           *table[core.Message, core.ID]
	sessions           *table[core.Session, core.ID]
	accessTokens       *table[core.AccessToken, core.Token]
	refreshTokens      *table[core.RefreshToken, core.Token]
	channelInvitations *table[core.ChannelInvitation, core.ID]
	appInvitations     *table[core.AppInvitation, core.Token]
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

// New creates an empty in-memory backend.
func New(opts ...Option) (*Backend, error) {
	b := &Backend{
		slot:               make(chan struct{}, 1),
		logger:             slog.Default().With("component", "memory-backend"),
		users:              newTable(storage.UserSchema),
		channels:           newTable(storage.ChannelSchema),
		messages:           newTable(storage.MessageSchema),
		sessions:           newTable(storage.SessionSchema),
		accessTokens:       newTable(storage.AccessTokenSchema),
		refreshTokens:      newTable(storage.RefreshTokenSchema),
		channelInvitations: newTable(storage.ChannelInvitationSchema),
		appInvitations:     newTable(storage.AppInvitationSchema),
	}
	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// Begin waits for the writer slot and opens a unit on it.
func (b *Backend) Begin(ctx context.Context, iso storage.Isolation, journal *storage.Journal) (storage.Tx, error) {
	if b.closed.Load() {
		return nil, storage.ErrStorageClosed
	}
	select {
	case b.slot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if b.closed.Load() {
		<-b.slot
		return nil, storage.ErrStorageClosed
	}
	if iso != storage.IsolationDefault && iso != storage.Serializable {
		b.logger.Debug("isolation level runs as serializable", "requested", iso)
	}
	t := &tx{backend: b, journal: journal}
	t.repos = storage.Repositories{
		Users:              &users{repo[core.User, core.ID]{t, b.users}},
		Channels:           &channels{repo[core.Channel, core.ID]{t, b.channels}},
		Messages:           &messages{repo[core.Message, core.ID]{t, b.messages}},
		Sessions:           &sessions{repo[core.Session, core.ID]{t, b.sessions}},
		AccessTokens:       &accessTokens{repo[core.AccessToken, core.Token]{t, b.accessTokens}, b.sessions},
		RefreshTokens:      &refreshTokens{repo[core.RefreshToken, core.Token]{t, b.refreshTokens}, b.sessions},
		ChannelInvitations: &channelInvitations{repo[core.ChannelInvitation, core.ID]{t, b.channelInvitations}},
		AppInvitations:     &appInvitations{repo[core.AppInvitation, core.Token]{t, b.appInvitations}},
	}
	return t, nil
}

// Close marks the backend closed. Units already open may still finish.
func (b *Backend) Close() error {
	b.closed.Store(true)
	return nil
}

type tx struct {
	backend *Backend
	journal *storage.Journal
	undo    []func()
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
	t.undo = nil
	<-t.backend.slot
	return nil
}

func (t *tx) Rollback() error {
	if t.done {
		return storage.ErrInactive
	}
	t.done = true
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
	<-t.backend.slot
	return nil
}

func (t *tx) active() error {
	if t.done {
		return storage.ErrInactive
	}
	return nil
}

func (t *tx) onRollback(fn func()) {
	t.undo = append(t.undo, fn)
}
