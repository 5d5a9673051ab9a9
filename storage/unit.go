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

package storage

import (
	"context"
	"sync"

	"github.com/poiesic/chatstore/core"
)

// State is the lifecycle state of a unit of work.
type State int

const (
	Active State = iota
	Committed
	RolledBack
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Committed:
		return "committed"
	case RolledBack:
		return "rolled back"
	}
	return "unknown"
}

// UnitOfWork is the bundle of repository handles sharing one backend
// transaction. Handles are valid only while the unit is Active.
type UnitOfWork struct {
	mu        sync.Mutex
	state     State
	failure   error
	rbErr     error
	isolation Isolation
	tx        Tx
	journal   *Journal
	repos     Repositories
}

func newUnit(tx Tx, iso Isolation, journal *Journal) *UnitOfWork {
	u := &UnitOfWork{tx: tx, isolation: iso, journal: journal}
	inner := tx.Repositories()
	u.repos = Repositories{
		Users:              &users{guarded[core.User, core.ID]{u, inner.Users}, inner.Users},
		Channels:           &channels{guarded[core.Channel, core.ID]{u, inner.Channels}, inner.Channels},
		Messages:           &messages{guarded[core.Message, core.ID]{u, inner.Messages}, inner.Messages},
		Sessions:           &sessions{guarded[core.Session, core.ID]{u, inner.Sessions}, inner.Sessions},
		AccessTokens:       &accessTokens{guarded[core.AccessToken, core.Token]{u, inner.AccessTokens}, inner.AccessTokens},
		RefreshTokens:      &refreshTokens{guarded[core.RefreshToken, core.Token]{u, inner.RefreshTokens}, inner.RefreshTokens},
		ChannelInvitations: &channelInvitations{guarded[core.ChannelInvitation, core.ID]{u, inner.ChannelInvitations}, inner.ChannelInvitations},
		AppInvitations:     &appInvitations{guarded[core.AppInvitation, core.Token]{u, inner.AppInvitations}, inner.AppInvitations},
	}
	return u
}

func (u *UnitOfWork) Users() UserRepository                           { return u.repos.Users }
func (u *UnitOfWork) Channels() ChannelRepository                     { return u.repos.Channels }
func (u *UnitOfWork) Messages() MessageRepository                     { return u.repos.Messages }
func (u *UnitOfWork) Sessions() SessionRepository                     { return u.repos.Sessions }
func (u *UnitOfWork) AccessTokens() AccessTokenRepository             { return u.repos.AccessTokens }
func (u *UnitOfWork) RefreshTokens() RefreshTokenRepository           { return u.repos.RefreshTokens }
func (u *UnitOfWork) ChannelInvitations() ChannelInvitationRepository { return u.repos.ChannelInvitations }
func (u *UnitOfWork) AppInvitations() AppInvitationRepository         { return u.repos.AppInvitations }

// Repositories returns every handle of the unit.
func (u *UnitOfWork) Repositories() Repositories { return u.repos }

// Isolation returns the level the unit was opened with.
func (u *UnitOfWork) Isolation() Isolation { return u.isolation }

// State returns the current lifecycle state.
func (u *UnitOfWork) State() State {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state
}

// Rollback ends the unit at once. Every later repository call fails with
// ErrInactive and the surrounding Run returns ErrRolledBack. Calling it on a
// unit that already ended has no effect.
func (u *UnitOfWork) Rollback() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.state != Active {
		return
	}
	u.state = RolledBack
	u.rbErr = txError(OpRollback, u.tx.Rollback())
}

// RollbackOnly reports the error that prevents the unit from committing, if any.
func (u *UnitOfWork) RollbackOnly() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.failure
}

func (u *UnitOfWork) rollbackErr() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.rbErr
}

// enter fails when the unit is no longer active.
func (u *UnitOfWork) enter() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.state != Active {
		return ErrInactive
	}
	return nil
}

// observe marks the unit rollback-only when err is fatal and returns err.
func (u *UnitOfWork) observe(err error) error {
	if !Fatal(err) {
		return err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.failure == nil {
		u.failure = err
	}
	return err
}

// end performs the terminal transition chosen by the manager. ended is false
// when the unit had already left the Active state.
func (u *UnitOfWork) end(commit bool) (ended bool, err error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.state != Active {
		return false, nil
	}
	if commit {
		if err := u.tx.Commit(); err != nil {
			u.state = RolledBack
			return true, txError(OpCommit, err)
		}
		u.state = Committed
		return true, nil
	}
	u.state = RolledBack
	return true, txError(OpRollback, u.tx.Rollback())
}

// call runs fn when the unit is active and marks the unit on fatal errors.
func call[R any](u *UnitOfWork, fn func() (R, error)) (R, error) {
	if err := u.enter(); err != nil {
		var zero R
		return zero, err
	}
	r, err := fn()
	return r, u.observe(err)
}

func exec(u *UnitOfWork, fn func() error) error {
	_, err := call(u, func() (struct{}, error) { return struct{}{}, fn() })
	return err
}

type unitKey struct{}

func withUnit(ctx context.Context, u *UnitOfWork) context.Context {
	return context.WithValue(ctx, unitKey{}, u)
}

// UnitFrom returns the unit of work ctx was derived from, if any.
func UnitFrom(ctx context.Context) (*UnitOfWork, bool) {
	u, ok := ctx.Value(unitKey{}).(*UnitOfWork)
	return u, ok
}
