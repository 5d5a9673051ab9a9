// Package sweep removes expired sessions, tokens and invitations.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/samber/lo"

	"github.com/poiesic/chatstore/storage"
)

// Report lists how many entities a sweep removed.
type Report struct {
	At       time.Time
	Removed  map[string]int64
	Resolved int64
}

// Total is the number of entities removed by the sweep.
func (r Report) Total() int64 {
	return lo.Sum(lo.Values(r.Removed)) + r.Resolved
}

type step struct {
	entity string
	run    func(ctx context.Context, uow *storage.UnitOfWork, now time.Time) (int64, error)
}

// Tokens go before sessions so that tokens of sessions removed by this sweep
// are still matched through their session's expiry.
var steps = []step{
	{storage.EntityAccessToken, func(ctx context.Context, uow *storage.UnitOfWork, now time.Time) (int64, error) {
		return uow.AccessTokens().DeleteExpired(ctx, now)
	}},
	{storage.EntityRefreshToken, func(ctx context.Context, uow *storage.UnitOfWork, now time.Time) (int64, error) {
		return uow.RefreshTokens().DeleteExpired(ctx, now)
	}},
	{storage.EntitySession, func(ctx context.Context, uow *storage.UnitOfWork, now time.Time) (int64, error) {
		return uow.Sessions().DeleteExpired(ctx, now)
	}},
	{storage.EntityChannelInvitation, func(ctx context.Context, uow *storage.UnitOfWork, now time.Time) (int64, error) {
		return uow.ChannelInvitations().DeleteExpired(ctx, now)
	}},
	{storage.EntityAppInvitation, func(ctx context.Context, uow *storage.UnitOfWork, now time.Time) (int64, error) {
		return uow.AppInvitations().DeleteExpired(ctx, now)
	}},
}

// Sweeper runs every DeleteExpired operation in a single unit of work.
type Sweeper struct {
	manager   *storage.Manager
	now       func() time.Time
	isolation storage.Isolation
	resolved  bool
	logger    *slog.Logger
}

// Option configures a Sweeper.
type Option func(*Sweeper) error

// WithClock sets the clock that decides what has expired.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) error {
		if now == nil {
			return errors.New("clock cannot be nil")
		}
		s.now = now
		return nil
	}
}

// WithIsolation sets the isolation level of the sweep's unit of work.
// Default is storage.Serializable.
func WithIsolation(iso storage.Isolation) Option {
	return func(s *Sweeper) error {
		if !iso.Valid() {
			return fmt.Errorf("%w: %s", storage.ErrInvalidQuery, iso)
		}
		s.isolation = iso
		return nil
	}
}

// WithResolvedInvitations also removes accepted and rejected channel invitations.
func WithResolvedInvitations(enabled bool) Option {
	return func(s *Sweeper) error {
		s.resolved = enabled
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sweeper) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// New creates a Sweeper working through manager.
func New(manager *storage.Manager, opts ...Option) (*Sweeper, error) {
	if manager == nil {
		return nil, errors.New("manager cannot be nil")
	}
	s := &Sweeper{
		manager:   manager,
		now:       time.Now,
		isolation: storage.Serializable,
		logger:    slog.Default().With("component", "sweep"),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Run removes everything that expired before the current time. Either every
// removal commits or none does.
func (s *Sweeper) Run(ctx context.Context) (Report, error) {
	now := s.now().UTC()
	report, err := storage.Run(ctx, s.manager, s.isolation, func(ctx context.Context, uow *storage.UnitOfWork) (Report, error) {
		r := Report{At: now, Removed: make(map[string]int64, len(steps))}
		for _, st := range steps {
			n, err := st.run(ctx, uow, now)
			if err != nil {
				return Report{}, fmt.Errorf("failed to sweep %s: %w", st.entity, err)
			}
			r.Removed[st.entity] = n
		}
		if s.resolved {
			n, err := uow.ChannelInvitations().DeleteResolved(ctx)
			if err != nil {
				return Report{}, fmt.Errorf("failed to sweep resolved invitations: %w", err)
			}
			r.Resolved = n
		}
		return r, nil
	})
	if err != nil {
		return Report{}, err
	}
	s.logger.Info("sweep complete", "removed", report.Total(), "at", now)
	for _, entity := range lo.Keys(report.Removed) {
		if n := report.Removed[entity]; n > 0 {
			s.logger.Debug("swept", "entity", entity, "count", n)
		}
	}
	return report, nil
}
