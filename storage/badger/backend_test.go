package badger

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/chatstore/core"
	"github.com/poiesic/chatstore/storage"
	"github.com/poiesic/chatstore/storage/storagetest"
)

func TestConformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Backend {
		backend, err := NewMemoryBackend()
		require.NoError(t, err)
		return backend
	})
}

func TestOpen_FileSystem(t *testing.T) {
	backend, err := Open(filepath.Join(t.TempDir(), "db"))
	require.NoError(t, err)
	defer backend.Close()

	assert.False(t, backend.IsClosed())
}

func TestOpen_FileInTheWay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))

	_, err := Open(path)
	assert.ErrorContains(t, err, "is not a directory")
}

func TestOpen_NilLogger(t *testing.T) {
	_, err := Open("", WithInMemory(), WithLogger(nil))
	assert.Error(t, err)
}

func TestBackendClose(t *testing.T) {
	backend, err := NewMemoryBackend()
	require.NoError(t, err)
	assert.False(t, backend.IsClosed())

	require.NoError(t, backend.Close())
	assert.True(t, backend.IsClosed())
	require.NoError(t, backend.Close())

	_, err = backend.Begin(context.Background(), storage.IsolationDefault, nil)
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
	_, err = backend.CollectGarbage(0.5)
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
}

func TestCollectGarbageInMemory(t *testing.T) {
	backend, err := NewMemoryBackend()
	require.NoError(t, err)
	defer backend.Close()

	rewrote, err := backend.CollectGarbage(0.5)
	require.NoError(t, err)
	assert.False(t, rewrote)
}

func TestDataSurvivesReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	ctx := context.Background()

	backend, err := Open(dir)
	require.NoError(t, err)
	m, err := storage.NewManager(backend)
	require.NoError(t, err)
	alice := storagetest.NewUser(t, 0, "alice")
	alice, err = storage.Run(ctx, m, storage.IsolationDefault, func(ctx context.Context, uow *storage.UnitOfWork) (core.User, error) {
		return uow.Users().Save(ctx, alice)
	})
	require.NoError(t, err)
	require.NoError(t, m.Close())

	backend, err = Open(dir)
	require.NoError(t, err)
	m, err = storage.NewManager(backend)
	require.NoError(t, err)
	defer m.Close()

	found, err := storage.Run(ctx, m, storage.IsolationDefault, func(ctx context.Context, uow *storage.UnitOfWork) (core.User, error) {
		u, ok, err := uow.Users().FindByEmail(ctx, alice.Email)
		assert.True(t, ok)
		return u, err
	})
	require.NoError(t, err)
	assert.Equal(t, alice, found)

	bob, err := storage.Run(ctx, m, storage.IsolationDefault, func(ctx context.Context, uow *storage.UnitOfWork) (core.User, error) {
		return uow.Users().Save(ctx, storagetest.NewUser(t, 0, "bob"))
	})
	require.NoError(t, err)
	assert.Equal(t, core.MustID(2), bob.ID)
}

func TestRenameReleasesUniqueIndex(t *testing.T) {
	backend, err := NewMemoryBackend()
	require.NoError(t, err)
	m, err := storage.NewManager(backend)
	require.NoError(t, err)
	defer m.Close()
	ctx := context.Background()

	alice, err := storage.Run(ctx, m, storage.IsolationDefault, func(ctx context.Context, uow *storage.UnitOfWork) (core.User, error) {
		return uow.Users().Save(ctx, storagetest.NewUser(t, 0, "alice"))
	})
	require.NoError(t, err)

	require.NoError(t, m.Do(ctx, storage.IsolationDefault, func(ctx context.Context, uow *storage.UnitOfWork) error {
		_, err := uow.Users().Save(ctx, storagetest.NewUser(t, alice.ID.Int64(), "alicia"))
		return err
	}))

	require.NoError(t, m.Do(ctx, storage.IsolationDefault, func(ctx context.Context, uow *storage.UnitOfWork) error {
		_, ok, err := uow.Users().FindByName(ctx, alice.Name)
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = uow.Users().Save(ctx, storagetest.NewUser(t, 0, "alice"))
		return err
	}))
}
