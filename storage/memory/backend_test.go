package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/chatstore/storage"
	"github.com/poiesic/chatstore/storage/storagetest"
)

func newBackend(t *testing.T) storage.Backend {
	b, err := New()
	require.NoError(t, err)
	return b
}

func TestConformance(t *testing.T) {
	storagetest.Run(t, newBackend)
}

func TestBeginWaitsForActiveUnit(t *testing.T) {
	b, err := New()
	require.NoError(t, err)

	first, err := b.Begin(context.Background(), storage.IsolationDefault, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = b.Begin(ctx, storage.ReadCommitted, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, first.Commit())
	second, err := b.Begin(context.Background(), storage.ReadCommitted, nil)
	require.NoError(t, err)
	require.NoError(t, second.Rollback())
	assert.ErrorIs(t, second.Rollback(), storage.ErrInactive)
}

func TestClosedBackend(t *testing.T) {
	b, err := New()
	require.NoError(t, err)
	require.NoError(t, b.Close())

	_, err = b.Begin(context.Background(), storage.IsolationDefault, nil)
	assert.ErrorIs(t, err, storage.ErrStorageClosed)

	m, err := storage.NewManager(b)
	require.NoError(t, err)
	err = m.Do(context.Background(), storage.IsolationDefault, func(context.Context, *storage.UnitOfWork) error { return nil })
	assert.ErrorIs(t, err, storage.ErrTransaction)
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
}

func TestRollbackRestoresOverwrittenRows(t *testing.T) {
	b, err := New()
	require.NoError(t, err)
	m, err := storage.NewManager(b)
	require.NoError(t, err)

	alice := storagetest.NewUser(t, 0, "alice")
	require.NoError(t, m.Do(context.Background(), storage.IsolationDefault, func(ctx context.Context, uow *storage.UnitOfWork) error {
		var err error
		alice, err = uow.Users().Save(ctx, alice)
		return err
	}))

	renamed := storagetest.NewUser(t, alice.ID.Int64(), "alice-renamed")
	err = m.Do(context.Background(), storage.IsolationDefault, func(ctx context.Context, uow *storage.UnitOfWork) error {
		_, err := uow.Users().Save(ctx, renamed)
		require.NoError(t, err)
		require.NoError(t, uow.Users().DeleteByID(ctx, alice.ID))
		_, err = uow.Users().Save(ctx, renamed)
		require.NoError(t, err)
		uow.Rollback()
		return nil
	})
	require.ErrorIs(t, err, storage.ErrRolledBack)

	assert.Equal(t, alice, b.users.rows[alice.ID])
	assert.Len(t, b.users.rows, 1)
	assert.Equal(t, int64(1), b.users.seq)
}
