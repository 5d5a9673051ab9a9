package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/chatstore/core"
	"github.com/poiesic/chatstore/pagination"
	"github.com/poiesic/chatstore/storage"
)

func firstPage(t *testing.T) pagination.Request {
	t.Helper()
	r, err := pagination.First(pagination.MaxSize)
	require.NoError(t, err)
	return r
}

func channelIDs(cs []core.Channel) []int64 {
	out := make([]int64, len(cs))
	for i, c := range cs {
		out[i] = c.ID.Int64()
	}
	return out
}

func testUserQueries(t *testing.T, h *harness) {
	alice := NewUser(t, 0, "alice")
	h.do(func(ctx context.Context, uow *storage.UnitOfWork) error {
		var err error
		alice, err = uow.Users().Save(ctx, alice)
		require.NoError(t, err)
		_, err = uow.Users().Save(ctx, NewUser(t, 0, "bob"))
		return err
	})

	h.do(func(ctx context.Context, uow *storage.UnitOfWork) error {
		got, ok, err := uow.Users().FindByName(ctx, name(t, "alice"))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, alice, got)

		_, ok, err = uow.Users().FindByName(ctx, name(t, "Alice"))
		require.NoError(t, err)
		assert.False(t, ok, "names are case sensitive")

		got, ok, err = uow.Users().FindByEmail(ctx, alice.Email)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, alice, got)

		email, err := core.NewEmail("nobody@example.com")
		require.NoError(t, err)
		_, ok, err = uow.Users().FindByEmail(ctx, email)
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	})
}

func testChannelQueries(t *testing.T, h *harness) {
	guest := core.Member{UserID: core.MustID(1), Role: core.RoleGuest}
	h.do(func(ctx context.Context, uow *storage.UnitOfWork) error {
		_, err := uow.Channels().SaveAll(ctx, []core.Channel{
			NewChannel(t, 0, "general", 1, core.VisibilityPublic),
			NewChannel(t, 0, "secret", 1, core.VisibilityPrivate),
			NewChannel(t, 0, "random", 2, core.VisibilityPublic, guest),
			NewChannel(t, 0, "hidden", 3, core.VisibilityPrivate),
		})
		return err
	})

	h.do(func(ctx context.Context, uow *storage.UnitOfWork) error {
		repo := uow.Channels()
		owned, err := repo.FindByOwner(ctx, core.MustID(1), firstPage(t))
		require.NoError(t, err)
		assert.Equal(t, []int64{1, 2}, channelIDs(owned.Items))

		member, err := repo.FindByMember(ctx, core.MustID(1), firstPage(t))
		require.NoError(t, err)
		assert.Equal(t, []int64{1, 2, 3}, channelIDs(member.Items))
		assert.Equal(t, int64(3), *member.Info.Total)

		nobody, err := repo.FindByMember(ctx, core.MustID(9), firstPage(t))
		require.NoError(t, err)
		assert.Empty(t, nobody.Items)

		public, err := repo.FindPublic(ctx, firstPage(t))
		require.NoError(t, err)
		assert.Equal(t, []int64{1, 3}, channelIDs(public.Items))

		byName, ok, err := repo.FindByName(ctx, name(t, "random"))
		require.NoError(t, err)
		require.True(t, ok)
		role, ok := byName.RoleOf(core.MustID(1))
		require.True(t, ok)
		assert.Equal(t, core.RoleGuest, role)

		// membership changes are persisted with the channel
		updated, err := byName.WithMember(core.MustID(4), core.RoleMember)
		require.NoError(t, err)
		updated, err = updated.WithoutMember(core.MustID(1))
		require.NoError(t, err)
		updated, err = updated.WithOwner(core.MustID(4))
		require.NoError(t, err)
		_, err = repo.Save(ctx, updated)
		require.NoError(t, err)

		got, ok, err := repo.FindByID(ctx, updated.ID)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, updated, got)

		member, err = repo.FindByMember(ctx, core.MustID(1), firstPage(t))
		require.NoError(t, err)
		assert.Equal(t, []int64{1, 2}, channelIDs(member.Items))

		owned, err = repo.FindByOwner(ctx, core.MustID(4), firstPage(t))
		require.NoError(t, err)
		assert.Equal(t, []int64{3}, channelIDs(owned.Items))
		return nil
	})
}

func testMessageQueries(t *testing.T, h *harness) {
	h.do(func(ctx context.Context, uow *storage.UnitOfWork) error {
		_, err := uow.Messages().SaveAll(ctx, []core.Message{
			NewMessage(t, 0, 1, 1, "one", Now),
			NewMessage(t, 0, 2, 1, "two", Now),
			NewMessage(t, 0, 1, 2, "three", Now),
			NewMessage(t, 0, 1, 1, "four", Now),
		})
		return err
	})

	h.do(func(ctx context.Context, uow *storage.UnitOfWork) error {
		repo := uow.Messages()
		byAuthor, err := repo.FindByAuthor(ctx, core.MustID(1), firstPage(t))
		require.NoError(t, err)
		assert.Equal(t, []int64{1, 2, 4}, messageIDs(byAuthor.Items))

		n, err := repo.DeleteByChannel(ctx, core.MustID(1))
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)

		n, err = repo.DeleteByChannel(ctx, core.MustID(1))
		require.NoError(t, err)
		assert.Zero(t, n)

		rest, err := repo.FindAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, []int64{2}, messageIDs(rest))
		return nil
	})
}

func testSessionAndTokenQueries(t *testing.T, h *harness) {
	h.do(func(ctx context.Context, uow *storage.UnitOfWork) error {
		_, err := uow.Sessions().SaveAll(ctx, []core.Session{
			NewSession(t, 0, 1, Now),
			NewSession(t, 0, 2, Now),
			NewSession(t, 0, 1, Now),
		})
		require.NoError(t, err)
		_, err = uow.AccessTokens().SaveAll(ctx, []core.AccessToken{
			NewAccessToken(t, "access-b", 1, Now),
			NewAccessToken(t, "access-a", 1, Now),
			NewAccessToken(t, "access-c", 2, Now),
		})
		require.NoError(t, err)
		_, err = uow.RefreshTokens().SaveAll(ctx, []core.RefreshToken{
			NewRefreshToken(t, "refresh-a", 3),
			NewRefreshToken(t, "refresh-b", 1),
		})
		return err
	})

	h.do(func(ctx context.Context, uow *storage.UnitOfWork) error {
		sessions, err := uow.Sessions().FindByUser(ctx, core.MustID(1))
		require.NoError(t, err)
		require.Len(t, sessions, 2)
		assert.Equal(t, core.MustID(1), sessions[0].ID)
		assert.Equal(t, core.MustID(3), sessions[1].ID)

		access, err := uow.AccessTokens().FindBySession(ctx, core.MustID(1))
		require.NoError(t, err)
		require.Len(t, access, 2)
		assert.Equal(t, "access-a", access[0].Token.String())
		assert.Equal(t, "access-b", access[1].Token.String())

		refresh, err := uow.RefreshTokens().FindBySession(ctx, core.MustID(3))
		require.NoError(t, err)
		require.Len(t, refresh, 1)

		n, err := uow.AccessTokens().DeleteBySession(ctx, core.MustID(1))
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
		n, err = uow.RefreshTokens().DeleteBySession(ctx, core.MustID(3))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		n, err = uow.Sessions().DeleteByUser(ctx, core.MustID(1))
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		left, err := uow.Sessions().FindAll(ctx)
		require.NoError(t, err)
		require.Len(t, left, 1)
		assert.Equal(t, core.MustID(2), left[0].UserID)
		return nil
	})
}

func testInvitationQueries(t *testing.T, h *harness) {
	h.do(func(ctx context.Context, uow *storage.UnitOfWork) error {
		accepted, err := NewChannelInvitation(t, 0, 1, 1, 2, Now.Add(time.Hour)).Accept(Now)
		require.NoError(t, err)
		rejected, err := NewChannelInvitation(t, 0, 1, 1, 2, Now.Add(time.Hour)).Reject(Now)
		require.NoError(t, err)
		_, err = uow.ChannelInvitations().SaveAll(ctx, []core.ChannelInvitation{
			NewChannelInvitation(t, 0, 1, 1, 2, Now.Add(time.Hour)),
			accepted,
			NewChannelInvitation(t, 0, 2, 1, 2, Now.Add(time.Hour)),
			NewChannelInvitation(t, 0, 1, 1, 3, Now.Add(time.Hour)),
			rejected,
		})
		return err
	})

	h.do(func(ctx context.Context, uow *storage.UnitOfWork) error {
		repo := uow.ChannelInvitations()
		byChannel, err := repo.FindByChannel(ctx, core.MustID(1), firstPage(t))
		require.NoError(t, err)
		assert.Equal(t, int64(4), *byChannel.Info.Total)

		byInvitee, err := repo.FindByInvitee(ctx, core.MustID(2), firstPage(t))
		require.NoError(t, err)
		assert.Equal(t, int64(4), *byInvitee.Info.Total)

		pending, err := repo.FindPending(ctx, core.MustID(1), core.MustID(2))
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, core.MustID(1), pending[0].ID)

		n, err := repo.DeleteResolved(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		n, err = repo.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)
		return nil
	})
}

func testDeleteExpired(t *testing.T, h *harness) {
	past, future := Now.Add(-time.Hour), Now.Add(time.Hour)
	h.do(func(ctx context.Context, uow *storage.UnitOfWork) error {
		_, err := uow.Sessions().SaveAll(ctx, []core.Session{
			NewSession(t, 1, 1, past),
			NewSession(t, 2, 1, Now),
			NewSession(t, 3, 1, future),
		})
		require.NoError(t, err)
		_, err = uow.AccessTokens().SaveAll(ctx, []core.AccessToken{
			NewAccessToken(t, "own-expiry", 3, past),
			NewAccessToken(t, "alive", 2, Now),
			NewAccessToken(t, "session-expired", 1, future),
			NewAccessToken(t, "session-missing", 99, future),
		})
		require.NoError(t, err)
		_, err = uow.RefreshTokens().SaveAll(ctx, []core.RefreshToken{
			NewRefreshToken(t, "session-expired", 1),
			NewRefreshToken(t, "alive", 3),
			NewRefreshToken(t, "session-missing", 99),
		})
		require.NoError(t, err)

		accepted, err := NewChannelInvitation(t, 3, 1, 1, 2, future).Accept(Now)
		require.NoError(t, err)
		_, err = uow.ChannelInvitations().SaveAll(ctx, []core.ChannelInvitation{
			NewChannelInvitation(t, 1, 1, 1, 2, past),
			NewChannelInvitation(t, 2, 1, 1, 2, Now),
			accepted,
		})
		require.NoError(t, err)

		used, err := NewAppInvitation(t, "used", future).Use(Now)
		require.NoError(t, err)
		_, err = uow.AppInvitations().SaveAll(ctx, []core.AppInvitation{
			NewAppInvitation(t, "expired", past),
			used,
			NewAppInvitation(t, "pending", future),
			NewAppInvitation(t, "boundary", Now),
		})
		return err
	})

	h.do(func(ctx context.Context, uow *storage.UnitOfWork) error {
		n, err := uow.AccessTokens().DeleteExpired(ctx, Now)
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)
		access, err := uow.AccessTokens().FindAll(ctx)
		require.NoError(t, err)
		require.Len(t, access, 1)
		assert.Equal(t, "alive", access[0].Token.String())

		n, err = uow.RefreshTokens().DeleteExpired(ctx, Now)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
		refresh, err := uow.RefreshTokens().FindAll(ctx)
		require.NoError(t, err)
		require.Len(t, refresh, 1)
		assert.Equal(t, "alive", refresh[0].Token.String())

		n, err = uow.Sessions().DeleteExpired(ctx, Now)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		sessions, err := uow.Sessions().FindAll(ctx)
		require.NoError(t, err)
		require.Len(t, sessions, 2)
		assert.Equal(t, []int64{2, 3}, []int64{sessions[0].ID.Int64(), sessions[1].ID.Int64()})

		n, err = uow.ChannelInvitations().DeleteExpired(ctx, Now)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		n, err = uow.ChannelInvitations().Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		n, err = uow.AppInvitations().DeleteExpired(ctx, Now)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
		apps, err := uow.AppInvitations().FindAll(ctx)
		require.NoError(t, err)
		require.Len(t, apps, 2)
		assert.Equal(t, "boundary", apps[0].Token.String())
		assert.Equal(t, "pending", apps[1].Token.String())

		// nothing left to remove
		n, err = uow.Sessions().DeleteExpired(ctx, Now)
		require.NoError(t, err)
		assert.Zero(t, n)
		return nil
	})
}
