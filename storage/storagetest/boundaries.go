package storagetest

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/chatstore/core"
	"github.com/poiesic/chatstore/storage"
)

func testTimeBounds(t *testing.T, h *harness) {
	farFuture := time.Date(2300, 1, 1, 0, 0, 0, 0, time.UTC)

	h.do(func(ctx context.Context, uow *storage.UnitOfWork) error {
		_, err := uow.Sessions().Save(ctx, core.Session{ID: core.MustID(9), UserID: core.MustID(1), ExpiresAt: farFuture})
		require.ErrorIs(t, err, core.ErrValidation)
		_, err = uow.AppInvitations().Save(ctx, core.AppInvitation{
			Token:     token(t, "far"),
			Status:    core.AppInvitationPending,
			ExpiresAt: farFuture,
		})
		require.ErrorIs(t, err, core.ErrValidation)

		roundTrip(t, ctx, uow.Sessions(), storage.SessionSchema, NewSession(t, 1, 1, core.MaxTime))
		roundTrip(t, ctx, uow.Sessions(), storage.SessionSchema, NewSession(t, 2, 1, core.MinTime))
		roundTrip(t, ctx, uow.AppInvitations(), storage.AppInvitationSchema, NewAppInvitation(t, "latest", core.MaxTime))
		return nil
	})

	h.do(func(ctx context.Context, uow *storage.UnitOfWork) error {
		n, err := uow.Sessions().Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n, "rejected session is not stored")

		removed, err := uow.Sessions().DeleteExpired(ctx, Now)
		require.NoError(t, err)
		assert.Equal(t, int64(1), removed)
		removed, err = uow.AppInvitations().DeleteExpired(ctx, Now)
		require.NoError(t, err)
		assert.Zero(t, removed)

		latest, ok, err := uow.Sessions().FindByID(ctx, core.MustID(1))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, core.MaxTime, latest.ExpiresAt)

		_, ok, err = uow.Sessions().FindByID(ctx, core.MustID(2))
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	})
}

func testSequenceExhaustion(t *testing.T, h *harness) {
	h.do(func(ctx context.Context, uow *storage.UnitOfWork) error {
		last, err := uow.Users().Save(ctx, NewUser(t, math.MaxInt64, "last-user"))
		require.NoError(t, err)
		assert.Equal(t, core.MustID(math.MaxInt64), last.ID)

		_, err = uow.Users().Save(ctx, NewUser(t, 0, "next-user"))
		require.ErrorIs(t, err, storage.ErrSequenceExhausted)
		assert.ErrorIs(t, err, storage.ErrInvalidQuery)

		// other kinds keep their own sequence
		s, err := uow.Sessions().Save(ctx, NewSession(t, 0, 1, Now))
		require.NoError(t, err)
		assert.Equal(t, core.MustID(1), s.ID)
		return nil
	})

	assert.Equal(t, int64(1), h.count(userCount))
	h.do(func(ctx context.Context, uow *storage.UnitOfWork) error {
		_, err := uow.Users().Save(ctx, NewUser(t, 0, "next-user"))
		assert.ErrorIs(t, err, storage.ErrSequenceExhausted, "exhaustion survives commit")
		return nil
	})
}

func testReturnedValuesAreCopies(t *testing.T, h *harness) {
	content, err := core.NewContent("edited")
	require.NoError(t, err)
	edited, err := NewMessage(t, 0, 1, 1, "draft", Now).Edit(content, Now.Add(time.Minute))
	require.NoError(t, err)
	editedAt := *edited.EditedAt
	tampered := time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC)

	h.do(func(ctx context.Context, uow *storage.UnitOfWork) error {
		saved, err := uow.Messages().Save(ctx, edited)
		require.NoError(t, err)
		*edited.EditedAt = tampered
		*saved.EditedAt = tampered

		got, ok, err := uow.Messages().FindByID(ctx, core.MustID(1))
		require.NoError(t, err)
		require.True(t, ok)
		require.NotNil(t, got.EditedAt)
		assert.Equal(t, editedAt, *got.EditedAt)
		*got.EditedAt = tampered

		all, err := uow.Messages().FindAll(ctx)
		require.NoError(t, err)
		require.Len(t, all, 1)
		*all[0].EditedAt = tampered

		page, err := uow.Messages().FindPage(ctx, firstPage(t))
		require.NoError(t, err)
		require.Len(t, page.Items, 1)
		*page.Items[0].EditedAt = tampered
		return nil
	})

	h.do(func(ctx context.Context, uow *storage.UnitOfWork) error {
		got, ok, err := uow.Messages().FindByID(ctx, core.MustID(1))
		require.NoError(t, err)
		require.True(t, ok)
		require.NotNil(t, got.EditedAt)
		assert.Equal(t, editedAt, *got.EditedAt)
		assert.NoError(t, got.Validate())
		return nil
	})
}
