package storagetest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/chatstore/core"
	"github.com/poiesic/chatstore/storage"
)

type eventSummary struct {
	Kind   storage.EventKind
	Entity string
	Key    string
}

func summarize(events []storage.Event) []eventSummary {
	out := make([]eventSummary, len(events))
	for i, e := range events {
		out[i] = eventSummary{e.Kind, e.Entity, e.Key}
	}
	return out
}

func testEventsAfterCommit(t *testing.T, h *harness) {
	alice := NewUser(t, 0, "alice")
	var published int
	err := h.manager.Do(context.Background(), storage.IsolationDefault, func(ctx context.Context, uow *storage.UnitOfWork) error {
		var err error
		alice, err = uow.Users().Save(ctx, alice)
		require.NoError(t, err)

		email, err := core.NewEmail("alice@example.org")
		require.NoError(t, err)
		alice.Email = email
		alice, err = uow.Users().Save(ctx, alice)
		require.NoError(t, err)

		_, err = uow.Channels().Save(ctx, NewChannel(t, 0, "general", alice.ID.Int64(), core.VisibilityPublic))
		require.NoError(t, err)

		// reads and no-op deletes record nothing
		_, _, err = uow.Users().FindByID(ctx, alice.ID)
		require.NoError(t, err)
		require.NoError(t, uow.Sessions().DeleteByID(ctx, core.MustID(7)))

		published = len(h.events.Batches())
		return nil
	})
	require.NoError(t, err)
	assert.Zero(t, published, "nothing is published before commit")

	batches := h.events.Batches()
	require.Len(t, batches, 1)
	batch := batches[0]
	assert.Equal(t, uint64(1), batch.Sequence)
	assert.Equal(t, []eventSummary{
		{storage.EntityPersisted, storage.EntityUser, "1"},
		{storage.EntityUpdated, storage.EntityUser, "1"},
		{storage.EntityPersisted, storage.EntityChannel, "1"},
	}, summarize(batch.Events))
	assert.Equal(t, alice, batch.Events[1].Value)

	ids := map[string]bool{}
	for i, e := range batch.Events {
		assert.Equal(t, i, e.Position)
		assert.Equal(t, batch.Sequence, e.Sequence)
		assert.Len(t, e.ID, 32)
		ids[e.ID] = true
	}
	assert.Len(t, ids, 3)

	// read-only units publish nothing
	h.do(func(ctx context.Context, uow *storage.UnitOfWork) error {
		_, err := uow.Users().FindAll(ctx)
		return err
	})
	assert.Len(t, h.events.Batches(), 1)
}

func testNoEventsOnRollback(t *testing.T, h *harness) {
	errBoom := errors.New("boom")
	err := h.manager.Do(context.Background(), storage.IsolationDefault, func(ctx context.Context, uow *storage.UnitOfWork) error {
		_, err := uow.Users().Save(ctx, NewUser(t, 0, "alice"))
		require.NoError(t, err)
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)

	err = h.manager.Do(context.Background(), storage.IsolationDefault, func(ctx context.Context, uow *storage.UnitOfWork) error {
		_, err := uow.Users().Save(ctx, NewUser(t, 0, "bob"))
		require.NoError(t, err)
		uow.Rollback()
		return nil
	})
	require.ErrorIs(t, err, storage.ErrRolledBack)
	assert.Empty(t, h.events.Batches())

	h.do(func(ctx context.Context, uow *storage.UnitOfWork) error {
		_, err := uow.Users().Save(ctx, NewUser(t, 0, "carol"))
		return err
	})
	batches := h.events.Batches()
	require.Len(t, batches, 1)
	assert.Equal(t, uint64(1), batches[0].Sequence, "rolled back units consume no sequence number")
}

func testRemovalEvents(t *testing.T, h *harness) {
	var saved []core.Message
	h.do(func(ctx context.Context, uow *storage.UnitOfWork) error {
		var err error
		saved, err = uow.Messages().SaveAll(ctx, []core.Message{
			NewMessage(t, 0, 1, 1, "one", Now),
			NewMessage(t, 0, 2, 1, "two", Now),
			NewMessage(t, 0, 1, 1, "three", Now),
		})
		return err
	})

	h.do(func(ctx context.Context, uow *storage.UnitOfWork) error {
		n, err := uow.Messages().DeleteByChannel(ctx, core.MustID(1))
		require.NoError(t, err)
		require.Equal(t, int64(2), n)
		return uow.Messages().DeleteAll(ctx)
	})

	batches := h.events.Batches()
	require.Len(t, batches, 2)
	removed := batches[1].Events
	assert.Equal(t, []eventSummary{
		{storage.EntityRemoved, storage.EntityMessage, "1"},
		{storage.EntityRemoved, storage.EntityMessage, "3"},
		{storage.EntityRemoved, storage.EntityMessage, "2"},
	}, summarize(removed))
	assert.Equal(t, saved[0], removed[0].Value)
	assert.Equal(t, saved[2], removed[1].Value)
	assert.Equal(t, saved[1], removed[2].Value)
}
