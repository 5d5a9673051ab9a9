package storagetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/chatstore/core"
	"github.com/poiesic/chatstore/storage"
)

func testRollbackOnError(t *testing.T, h *harness) {
	h.do(func(ctx context.Context, uow *storage.UnitOfWork) error {
		_, err := uow.Users().Save(ctx, NewUser(t, 0, "kept"))
		return err
	})

	errBoom := errors.New("boom")
	err := h.manager.Do(context.Background(), storage.IsolationDefault, func(ctx context.Context, uow *storage.UnitOfWork) error {
		_, err := uow.Users().Save(ctx, NewUser(t, 0, "discarded"))
		require.NoError(t, err)
		require.NoError(t, uow.Users().DeleteByID(ctx, core.MustID(1)))
		_, err = uow.Sessions().Save(ctx, NewSession(t, 0, 1, Now))
		require.NoError(t, err)
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)

	h.do(func(ctx context.Context, uow *storage.UnitOfWork) error {
		users, err := uow.Users().FindAll(ctx)
		require.NoError(t, err)
		require.Len(t, users, 1)
		assert.Equal(t, "kept", users[0].Name.String())

		n, err := uow.Sessions().Count(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
		return nil
	})
}

func testExplicitRollback(t *testing.T, h *harness) {
	var unit *storage.UnitOfWork
	err := h.manager.Do(context.Background(), storage.Serializable, func(ctx context.Context, uow *storage.UnitOfWork) error {
		unit = uow
		_, err := uow.Users().Save(ctx, NewUser(t, 0, "alice"))
		require.NoError(t, err)

		uow.Rollback()
		assert.Equal(t, storage.RolledBack, uow.State())

		_, err = uow.Users().Save(ctx, NewUser(t, 0, "bob"))
		assert.ErrorIs(t, err, storage.ErrInactive)
		_, _, err = uow.Users().FindByID(ctx, core.MustID(1))
		assert.ErrorIs(t, err, storage.ErrInactive)
		return nil
	})
	require.ErrorIs(t, err, storage.ErrRolledBack)
	assert.Equal(t, storage.RolledBack, unit.State())

	_, err = unit.Users().Count(context.Background())
	assert.ErrorIs(t, err, storage.ErrInactive, "handles stay invalid after Run returns")
	assert.Zero(t, h.count(userCount))
}

func testRollbackOnPanic(t *testing.T, h *harness) {
	assert.PanicsWithValue(t, "boom", func() {
		_ = h.manager.Do(context.Background(), storage.IsolationDefault, func(ctx context.Context, uow *storage.UnitOfWork) error {
			_, err := uow.Users().Save(ctx, NewUser(t, 0, "alice"))
			require.NoError(t, err)
			panic("boom")
		})
	})

	// the backend is usable again and the write is gone
	assert.Zero(t, h.count(userCount))
	assert.Empty(t, h.events.Batches())
}

func testConflictForcesRollback(t *testing.T, h *harness) {
	h.do(func(ctx context.Context, uow *storage.UnitOfWork) error {
		_, err := uow.Users().Save(ctx, NewUser(t, 0, "alice"))
		require.NoError(t, err)
		_, err = uow.Channels().Save(ctx, NewChannel(t, 0, "general", 1, core.VisibilityPublic))
		return err
	})

	tests := []struct {
		name       string
		write      func(ctx context.Context, uow *storage.UnitOfWork) error
		constraint string
	}{
		{
			name: "user name",
			write: func(ctx context.Context, uow *storage.UnitOfWork) error {
				u := NewUser(t, 0, "alice")
				email, _ := core.NewEmail("other@example.com")
				u.Email = email
				_, err := uow.Users().Save(ctx, u)
				return err
			},
			constraint: "name",
		},
		{
			name: "user email",
			write: func(ctx context.Context, uow *storage.UnitOfWork) error {
				u := NewUser(t, 0, "alice2")
				email, _ := core.NewEmail("alice@example.com")
				u.Email = email
				_, err := uow.Users().Save(ctx, u)
				return err
			},
			constraint: "email",
		},
		{
			name: "channel name",
			write: func(ctx context.Context, uow *storage.UnitOfWork) error {
				_, err := uow.Channels().Save(ctx, NewChannel(t, 0, "general", 1, core.VisibilityPrivate))
				return err
			},
			constraint: "name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.manager.Do(context.Background(), storage.IsolationDefault, func(ctx context.Context, uow *storage.UnitOfWork) error {
				_, err := uow.Sessions().Save(ctx, NewSession(t, 0, 1, Now))
				require.NoError(t, err)

				conflict := tt.write(ctx, uow)
				var cerr *storage.ConflictError
				require.ErrorAs(t, conflict, &cerr)
				assert.Equal(t, tt.constraint, cerr.Constraint)
				assert.ErrorIs(t, uow.RollbackOnly(), storage.ErrConflict)
				// swallowed on purpose
				return nil
			})
			require.ErrorIs(t, err, storage.ErrConflict)
			assert.Zero(t, h.count(func(ctx context.Context, uow *storage.UnitOfWork) (int64, error) {
				return uow.Sessions().Count(ctx)
			}))
		})
	}
	assert.Equal(t, int64(1), h.count(userCount))
}

func testCallerErrorsDoNotForceRollback(t *testing.T, h *harness) {
	h.do(func(ctx context.Context, uow *storage.UnitOfWork) error {
		_, err := uow.Users().Save(ctx, core.User{})
		assert.ErrorIs(t, err, core.ErrValidation)

		_, err = uow.Users().Save(ctx, NewUser(t, 0, "alice"))
		require.NoError(t, err)

		_, err = uow.AccessTokens().Save(ctx, core.AccessToken{SessionID: core.MustID(1), ExpiresAt: Now})
		assert.ErrorIs(t, err, core.ErrValidation)

		assert.NoError(t, uow.RollbackOnly())
		return nil
	})
	assert.Equal(t, int64(1), h.count(userCount))
}

func testNestedRunRejected(t *testing.T, h *harness) {
	type key struct{}
	h.do(func(ctx context.Context, uow *storage.UnitOfWork) error {
		err := h.manager.Do(ctx, storage.IsolationDefault, func(context.Context, *storage.UnitOfWork) error {
			t.Fatal("nested unit must not start")
			return nil
		})
		assert.ErrorIs(t, err, storage.ErrNestedTransaction)

		derived, cancel := context.WithCancel(context.WithValue(ctx, key{}, 1))
		defer cancel()
		_, err = storage.Run(derived, h.manager, storage.Serializable, func(context.Context, *storage.UnitOfWork) (int, error) {
			return 0, nil
		})
		assert.ErrorIs(t, err, storage.ErrNestedTransaction)

		_, err = uow.Users().Save(ctx, NewUser(t, 0, "alice"))
		return err
	})
	assert.Equal(t, int64(1), h.count(userCount))
}

func testIsolationLevels(t *testing.T, h *harness) {
	levels := []storage.Isolation{
		storage.IsolationDefault,
		storage.ReadUncommitted,
		storage.ReadCommitted,
		storage.RepeatableRead,
		storage.Serializable,
	}
	for i, iso := range levels {
		t.Run(iso.String(), func(t *testing.T) {
			saved, err := storage.Run(context.Background(), h.manager, iso, func(ctx context.Context, uow *storage.UnitOfWork) (core.User, error) {
				assert.Equal(t, iso, uow.Isolation())
				return uow.Users().Save(ctx, NewUser(t, 0, fmt.Sprintf("user-%d", i)))
			})
			require.NoError(t, err)
			assert.Equal(t, core.MustID(int64(i+1)), saved.ID)
		})
	}

	_, err := storage.Run(context.Background(), h.manager, storage.Isolation(42), func(context.Context, *storage.UnitOfWork) (int, error) {
		return 0, nil
	})
	assert.ErrorIs(t, err, storage.ErrInvalidQuery)
}

func testConcurrentWriters(t *testing.T, h *harness) {
	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := range writers {
		u := NewUser(t, 0, fmt.Sprintf("writer-%d", i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			var err error
			// optimistic backends may reject a racing commit; callers retry the whole unit
			for attempt := 0; attempt < 50; attempt++ {
				err = h.manager.Do(context.Background(), storage.Serializable, func(ctx context.Context, uow *storage.UnitOfWork) error {
					_, err := uow.Users().Save(ctx, u)
					return err
				})
				if err == nil {
					break
				}
				time.Sleep(time.Duration(attempt+1) * time.Millisecond)
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	ids, err := storage.Run(context.Background(), h.manager, storage.IsolationDefault, func(ctx context.Context, uow *storage.UnitOfWork) ([]int64, error) {
		users, err := uow.Users().FindAll(ctx)
		var ids []int64
		for _, u := range users {
			ids = append(ids, u.ID.Int64())
		}
		return ids, err
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7, 8}, ids)
}
