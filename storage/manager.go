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
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Outcome is how a Run call ended.
type Outcome string

const (
	OutcomeCommitted  Outcome = "committed"
	OutcomeRolledBack Outcome = "rolled_back"
	OutcomeFailed     Outcome = "failed"
	OutcomePanicked   Outcome = "panicked"
)

// Observer is notified when a Run call ends.
type Observer interface {
	TransactionFinished(iso Isolation, outcome Outcome, elapsed time.Duration)
}

// Manager opens units of work on a backend and guarantees that each one
// ends in exactly one commit or rollback.
type Manager struct {
	backend   Backend
	publisher Publisher
	observer  Observer
	logger    *slog.Logger
	now       func() time.Time
	seq       atomic.Uint64
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager) error

// WithPublisher sets the receiver of committed change events.
func WithPublisher(p Publisher) ManagerOption {
	return func(m *Manager) error {
		m.publisher = p
		return nil
	}
}

// WithObserver sets the observer notified when units end.
func WithObserver(o Observer) ManagerOption {
	return func(m *Manager) error {
		m.observer = o
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		m.logger = logger
		return nil
	}
}

// WithClock sets the clock used for commit timestamps and durations.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) error {
		if now == nil {
			return errors.New("clock cannot be nil")
		}
		m.now = now
		return nil
	}
}

// NewManager creates a Manager over backend.
func NewManager(backend Backend, opts ...ManagerOption) (*Manager, error) {
	if backend == nil {
		return nil, errors.New("backend cannot be nil")
	}
	m := &Manager{
		backend: backend,
		logger:  slog.Default().With("component", "storage"),
		now:     time.Now,
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Close closes the backend.
func (m *Manager) Close() error {
	return m.backend.Close()
}

// Do runs fn in a new unit of work. See Run.
func (m *Manager) Do(ctx context.Context, iso Isolation, fn func(ctx context.Context, uow *UnitOfWork) error) error {
	_, err := Run(ctx, m, iso, func(ctx context.Context, uow *UnitOfWork) (struct{}, error) {
		return struct{}{}, fn(ctx, uow)
	})
	return err
}

// Run opens a unit of work at iso and calls fn with it.
//
// The unit commits when fn returns a nil error, has not rolled back and no
// repository call failed fatally; the result of fn is then returned and the
// unit's events are handed to the publisher. Otherwise the unit rolls back and
// Run returns fn's error, the fatal repository error, or ErrRolledBack after an
// explicit Rollback. A panic in fn rolls the unit back and is re-raised.
//
// The context passed to fn marks the unit; calling Run with it, or with a
// context derived from it, fails with ErrNestedTransaction.
func Run[R any](ctx context.Context, m *Manager, iso Isolation, fn func(ctx context.Context, uow *UnitOfWork) (R, error)) (R, error) {
	var zero R
	if _, nested := UnitFrom(ctx); nested {
		return zero, ErrNestedTransaction
	}
	if !iso.Valid() {
		return zero, fmt.Errorf("%w: %s", ErrInvalidQuery, iso)
	}

	start := m.now()
	journal := &Journal{}
	tx, err := m.backend.Begin(ctx, iso, journal)
	if err != nil {
		m.finished(iso, OutcomeFailed, start)
		return zero, txError(OpBegin, err)
	}
	u := newUnit(tx, iso, journal)

	defer func() {
		if p := recover(); p != nil {
			if _, rbErr := u.end(false); rbErr != nil {
				m.logger.Error("rollback after panic failed", "error", rbErr)
			}
			m.finished(iso, OutcomePanicked, start)
			panic(p)
		}
	}()

	result, err := fn(withUnit(ctx, u), u)

	switch {
	case err != nil:
		_, rbErr := u.end(false)
		m.finished(iso, OutcomeRolledBack, start)
		return zero, joinErr(err, rbErr)
	case u.State() == RolledBack:
		m.finished(iso, OutcomeRolledBack, start)
		return zero, joinErr(ErrRolledBack, u.rollbackErr())
	}

	if failure := u.RollbackOnly(); failure != nil {
		_, rbErr := u.end(false)
		m.finished(iso, OutcomeRolledBack, start)
		return zero, joinErr(failure, rbErr)
	}

	if _, err := u.end(true); err != nil {
		m.finished(iso, OutcomeFailed, start)
		return zero, err
	}
	m.finished(iso, OutcomeCommitted, start)
	m.publish(ctx, u)
	return result, nil
}

func joinErr(err, secondary error) error {
	if secondary == nil {
		return err
	}
	return errors.Join(err, secondary)
}

func (m *Manager) finished(iso Isolation, outcome Outcome, start time.Time) {
	elapsed := m.now().Sub(start)
	if outcome != OutcomeCommitted {
		m.logger.Debug("unit of work ended", "isolation", iso, "outcome", outcome, "elapsed", elapsed)
	}
	if m.observer != nil {
		m.observer.TransactionFinished(iso, outcome, elapsed)
	}
}

func (m *Manager) publish(ctx context.Context, u *UnitOfWork) {
	if m.publisher == nil || u.journal.Len() == 0 {
		return
	}
	batch := u.journal.seal(m.seq.Add(1), m.now().UTC(), u.isolation)
	if err := m.publisher.Publish(context.WithoutCancel(ctx), batch); err != nil {
		m.logger.Warn("failed to publish change events",
			"sequence", batch.Sequence, "events", len(batch.Events), "error", err)
	}
}
