package storage_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/chatstore/core"
	"github.com/poiesic/chatstore/pagination"
	"github.com/poiesic/chatstore/storage"
	"github.com/poiesic/chatstore/storage/memory"
	"github.com/poiesic/chatstore/storage/storagetest"
)

var errDisk = errors.New("disk on fire")

// flakyBackend wraps a memory backend and fails selected transaction steps.
type flakyBackend struct {
	storage.Backend
	failBegin  bool
	failCommit bool
}

func (b *flakyBackend) Begin(ctx context.Context, iso storage.Isolation, j *storage.Journal) (storage.Tx, error) {
	if b.failBegin {
		return nil, errDisk
	}
	tx, err := b.Backend.Begin(ctx, iso, j)
	if err != nil {
		return nil, err
	}
	return &flakyTx{Tx: tx, failCommit: b.failCommit}, nil
}

type flakyTx struct {
	storage.Tx
	failCommit bool
}

func (t *flakyTx) Commit() error {
	if t.failCommit {
		_ = t.Tx.Rollback()
		return errDisk
	}
	return t.Tx.Commit()
}

type outcomeRecorder struct {
	mu       sync.Mutex
	outcomes []storage.Outcome
}

func (o *outcomeRecorder) TransactionFinished(_ storage.Isolation, outcome storage.Outcome, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
}

func newManager(t *testing.T, wrap func(storage.Backend) storage.Backend, opts ...storage.ManagerOption) *storage.Manager {
	t.Helper()
	b, err := memory.New()
	require.NoError(t, err)
	var backend storage.Backend = b
	if wrap != nil {
		backend = wrap(b)
	}
	m, err := storage.NewManager(backend, opts...)
	require.NoError(t, err)
	return m
}

func saveAlice(t *testing.T) func(ctx context.Context, uow *storage.UnitOfWork) error {
	return func(ctx context.Context, uow *storage.UnitOfWork) error {
		_, err := uow.Users().Save(ctx, storagetest.NewUser(t, 0, "alice"))
		return err
	}
}

func TestNewManagerValidation(t *testing.T) {
	_, err := storage.NewManager(nil)
	assert.Error(t, err)

	b, err := memory.New()
	require.NoError(t, err)
	_, err = storage.NewManager(b, storage.WithLogger(nil))
	assert.Error(t, err)
	_, err = storage.NewManager(b, storage.WithClock(nil))
	assert.Error(t, err)
}

func TestBeginFailureIsTransactionError(t *testing.T) {
	obs := &outcomeRecorder{}
	m := newManager(t, func(b storage.Backend) storage.Backend {
		return &flakyBackend{Backend: b, failBegin: true}
	}, storage.WithObserver(obs))

	err := m.Do(context.Background(), storage.IsolationDefault, saveAlice(t))
	var txErr *storage.TransactionError
	require.ErrorAs(t, err, &txErr)
	assert.Equal(t, storage.OpBegin, txErr.Op)
	assert.ErrorIs(t, err, storage.ErrTransaction)
	assert.ErrorIs(t, err, errDisk)
	assert.Equal(t, []storage.Outcome{storage.OutcomeFailed}, obs.outcomes)
}

func TestCommitFailureDropsEvents(t *testing.T) {
	rec := &storagetest.Recorder{}
	obs := &outcomeRecorder{}
	m := newManager(t, func(b storage.Backend) storage.Backend {
		return &flakyBackend{Backend: b, failCommit: true}
	}, storage.WithPublisher(rec), storage.WithObserver(obs))

	var unit *storage.UnitOfWork
	err := m.Do(context.Background(), storage.IsolationDefault, func(ctx context.Context, uow *storage.UnitOfWork) error {
		unit = uow
		return saveAlice(t)(ctx, uow)
	})
	var txErr *storage.TransactionError
	require.ErrorAs(t, err, &txErr)
	assert.Equal(t, storage.OpCommit, txErr.Op)
	assert.Equal(t, storage.RolledBack, unit.State())
	assert.Empty(t, rec.Batches())
	assert.Equal(t, []storage.Outcome{storage.OutcomeFailed}, obs.outcomes)
}

func TestObserverOutcomes(t *testing.T) {
	obs := &outcomeRecorder{}
	m := newManager(t, nil, storage.WithObserver(obs))
	ctx := context.Background()

	require.NoError(t, m.Do(ctx, storage.IsolationDefault, saveAlice(t)))
	_ = m.Do(ctx, storage.IsolationDefault, func(context.Context, *storage.UnitOfWork) error { return errDisk })
	_ = m.Do(ctx, storage.IsolationDefault, func(_ context.Context, uow *storage.UnitOfWork) error {
		uow.Rollback()
		return nil
	})
	assert.Panics(t, func() {
		_ = m.Do(ctx, storage.IsolationDefault, func(context.Context, *storage.UnitOfWork) error { panic("boom") })
	})

	assert.Equal(t, []storage.Outcome{
		storage.OutcomeCommitted,
		storage.OutcomeRolledBack,
		storage.OutcomeRolledBack,
		storage.OutcomePanicked,
	}, obs.outcomes)
}

func TestRunReturnsResult(t *testing.T) {
	m := newManager(t, nil)
	user, err := storage.Run(context.Background(), m, storage.ReadCommitted, func(ctx context.Context, uow *storage.UnitOfWork) (core.User, error) {
		return uow.Users().Save(ctx, storagetest.NewUser(t, 0, "alice"))
	})
	require.NoError(t, err)
	assert.Equal(t, core.MustID(1), user.ID)

	n, err := storage.Run(context.Background(), m, storage.ReadCommitted, func(ctx context.Context, uow *storage.UnitOfWork) (int64, error) {
		n, err := uow.Users().Count(ctx)
		if err != nil {
			return 0, err
		}
		return n, errDisk
	})
	assert.ErrorIs(t, err, errDisk)
	assert.Zero(t, n, "no result on failure")
}

func TestPublishFailureKeepsCommit(t *testing.T) {
	failing := storage.PublisherFunc(func(context.Context, storage.Batch) error { return errDisk })
	m := newManager(t, nil, storage.WithPublisher(failing))

	require.NoError(t, m.Do(context.Background(), storage.IsolationDefault, saveAlice(t)))
	n, err := storage.Run(context.Background(), m, storage.IsolationDefault, func(ctx context.Context, uow *storage.UnitOfWork) (int64, error) {
		return uow.Users().Count(ctx)
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestBatchTimestampUsesClock(t *testing.T) {
	at := time.Date(2030, 1, 2, 3, 4, 5, 0, time.FixedZone("X", 3600))
	rec := &storagetest.Recorder{}
	m := newManager(t, nil, storage.WithPublisher(rec), storage.WithClock(func() time.Time { return at }))

	require.NoError(t, m.Do(context.Background(), storage.RepeatableRead, saveAlice(t)))
	batches := rec.Batches()
	require.Len(t, batches, 1)
	assert.True(t, at.Equal(batches[0].CommittedAt))
	assert.Equal(t, time.UTC, batches[0].CommittedAt.Location())
	assert.Equal(t, storage.RepeatableRead, batches[0].Isolation)
}

func TestFatal(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"validation", &core.ValidationError{Violations: []core.Violation{{Field: "name"}}}, false},
		{"invalid query", storage.ErrInvalidQuery, false},
		{"inactive", storage.ErrInactive, false},
		{"cancelled", context.Canceled, false},
		{"conflict", &storage.ConflictError{Entity: "user", Constraint: "name", Value: "x"}, true},
		{"serialization", storage.ErrSerializationFailed, true},
		{"driver", errDisk, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, storage.Fatal(tt.err))
		})
	}
}

func TestEventIDIsStable(t *testing.T) {
	a := storage.EventID(7, 0, storage.EntityPersisted, storage.EntityUser, "1")
	assert.Equal(t, a, storage.EventID(7, 0, storage.EntityPersisted, storage.EntityUser, "1"))
	assert.NotEqual(t, a, storage.EventID(8, 0, storage.EntityPersisted, storage.EntityUser, "1"))
	assert.NotEqual(t, a, storage.EventID(7, 1, storage.EntityPersisted, storage.EntityUser, "1"))
	assert.NotEqual(t, a, storage.EventID(7, 0, storage.EntityUpdated, storage.EntityUser, "1"))
	assert.NotEqual(t, a, storage.EventID(7, 0, storage.EntityPersisted, storage.EntityUser, "11"))
}

func TestParseIsolation(t *testing.T) {
	for _, iso := range []storage.Isolation{storage.IsolationDefault, storage.ReadUncommitted, storage.ReadCommitted, storage.RepeatableRead, storage.Serializable} {
		got, err := storage.ParseIsolation(iso.String())
		require.NoError(t, err)
		assert.Equal(t, iso, got)
	}
	got, err := storage.ParseIsolation("read committed")
	require.NoError(t, err)
	assert.Equal(t, storage.ReadCommitted, got)

	_, err = storage.ParseIsolation("snapshot")
	assert.ErrorIs(t, err, storage.ErrInvalidQuery)
}

func TestSchemaSortFields(t *testing.T) {
	assert.Equal(t, []string{"id", "name", "email"}, storage.UserSchema.SortFields())
	assert.Equal(t, []string{"token", "status", "expiresAt"}, storage.AppInvitationSchema.SortFields())

	_, err := storage.MessageSchema.Field("content")
	assert.ErrorIs(t, err, storage.ErrInvalidQuery)

	f, err := storage.MessageSchema.Field("")
	require.NoError(t, err)
	assert.Equal(t, "id", f.Column)
}

func TestPageIterator(t *testing.T) {
	m := newManager(t, nil)
	require.NoError(t, m.Do(context.Background(), storage.IsolationDefault, func(ctx context.Context, uow *storage.UnitOfWork) error {
		for i := range 23 {
			_, err := uow.Sessions().Save(ctx, storagetest.NewSession(t, 0, int64(i%2+1), storagetest.Now))
			if err != nil {
				return err
			}
		}
		return nil
	}))

	it := storage.NewPageIterator(m, 10, pagination.Sort{By: "userId"}, storage.AllPages(
		func(u *storage.UnitOfWork) storage.Repository[core.Session, core.ID] { return u.Sessions() }))

	var sizes []int
	var seen []core.Session
	require.NoError(t, it.ForEach(context.Background(), func(batch []core.Session) error {
		sizes = append(sizes, len(batch))
		seen = append(seen, batch...)
		return nil
	}))
	assert.Equal(t, []int{10, 10, 3}, sizes)
	require.Len(t, seen, 23)
	assert.Equal(t, core.MustID(1), seen[0].UserID)
	assert.Equal(t, core.MustID(2), seen[22].UserID)

	stop := errors.New("stop")
	calls := 0
	err := it.ForEach(context.Background(), func([]core.Session) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}
