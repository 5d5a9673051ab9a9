package storagetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/chatstore/core"
	"github.com/poiesic/chatstore/storage"
)

func roundTrip[T storage.Entity, K storage.Key](t *testing.T, ctx context.Context, repo storage.Repository[T, K], s storage.Schema[T, K], v T) T {
	t.Helper()
	saved, err := repo.Save(ctx, v)
	require.NoError(t, err)
	got, ok, err := repo.FindByID(ctx, s.KeyOf(saved))
	require.NoError(t, err)
	require.True(t, ok, "%s %s not found after save", s.Entity, s.KeyOf(saved))
	assert.Equal(t, saved, got)
	return saved
}

func testReadYourWrites(t *testing.T, h *harness) {
	edited := NewMessage(t, 0, 1, 1, "edited later", Now)
	content, err := core.NewContent("edited now")
	require.NoError(t, err)
	edited, err = edited.Edit(content, Now.Add(time.Minute))
	require.NoError(t, err)

	guest := core.Member{UserID: core.MustID(2), Role: core.RoleGuest}
	member := core.Member{UserID: core.MustID(3), Role: core.RoleMember}

	var saved []any
	h.do(func(ctx context.Context, uow *storage.UnitOfWork) error {
		saved = append(saved,
			roundTrip(t, ctx, uow.Users(), storage.UserSchema, NewUser(t, 0, "alice")),
			roundTrip(t, ctx, uow.Channels(), storage.ChannelSchema, NewChannel(t, 0, "general", 1, core.VisibilityPrivate, guest, member)),
			roundTrip(t, ctx, uow.Messages(), storage.MessageSchema, NewMessage(t, 0, 1, 1, "hello", Now)),
			roundTrip(t, ctx, uow.Messages(), storage.MessageSchema, edited),
			roundTrip(t, ctx, uow.Sessions(), storage.SessionSchema, NewSession(t, 0, 1, Now.Add(time.Hour))),
			roundTrip(t, ctx, uow.AccessTokens(), storage.AccessTokenSchema, NewAccessToken(t, "access-1", 1, Now.Add(time.Minute))),
			roundTrip(t, ctx, uow.RefreshTokens(), storage.RefreshTokenSchema, NewRefreshToken(t, "refresh-1", 1)),
			roundTrip(t, ctx, uow.ChannelInvitations(), storage.ChannelInvitationSchema, NewChannelInvitation(t, 0, 1, 1, 2, Now.Add(time.Hour))),
			roundTrip(t, ctx, uow.AppInvitations(), storage.AppInvitationSchema, NewAppInvitation(t, "invite-1", Now.Add(time.Hour))),
		)
		return nil
	})

	// visible to later units too
	var reread []any
	h.do(func(ctx context.Context, uow *storage.UnitOfWork) error {
		for _, find := range []func() (any, bool, error){
			func() (any, bool, error) { return uow.Users().FindByID(ctx, core.MustID(1)) },
			func() (any, bool, error) { return uow.Channels().FindByID(ctx, core.MustID(1)) },
			func() (any, bool, error) { return uow.Messages().FindByID(ctx, core.MustID(1)) },
			func() (any, bool, error) { return uow.Messages().FindByID(ctx, core.MustID(2)) },
			func() (any, bool, error) { return uow.Sessions().FindByID(ctx, core.MustID(1)) },
			func() (any, bool, error) { return uow.AccessTokens().FindByID(ctx, token(t, "access-1")) },
			func() (any, bool, error) { return uow.RefreshTokens().FindByID(ctx, token(t, "refresh-1")) },
			func() (any, bool, error) { return uow.ChannelInvitations().FindByID(ctx, core.MustID(1)) },
			func() (any, bool, error) { return uow.AppInvitations().FindByID(ctx, token(t, "invite-1")) },
		} {
			v, ok, err := find()
			require.NoError(t, err)
			require.True(t, ok)
			reread = append(reread, v)
		}
		return nil
	})
	assert.Equal(t, saved, reread)
}

func testUpsert(t *testing.T, h *harness) {
	alice := NewUser(t, 0, "alice")
	h.do(func(ctx context.Context, uow *storage.UnitOfWork) error {
		var err error
		alice, err = uow.Users().Save(ctx, alice)
		return err
	})

	email, err := core.NewEmail("alice@example.org")
	require.NoError(t, err)
	alice.Email = email

	h.do(func(ctx context.Context, uow *storage.UnitOfWork) error {
		saved, err := uow.Users().Save(ctx, alice)
		require.NoError(t, err)
		assert.Equal(t, alice, saved)

		n, err := uow.Users().Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		got, ok, err := uow.Users().FindByEmail(ctx, email)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, alice, got)
		return nil
	})
}

func testGeneratedIDs(t *testing.T, h *harness) {
	saveUser := func(ctx context.Context, uow *storage.UnitOfWork, u core.User) core.User {
		t.Helper()
		saved, err := uow.Users().Save(ctx, u)
		require.NoError(t, err)
		return saved
	}

	h.do(func(ctx context.Context, uow *storage.UnitOfWork) error {
		assert.Equal(t, core.MustID(1), saveUser(ctx, uow, NewUser(t, 0, "user-a")).ID)
		assert.Equal(t, core.MustID(2), saveUser(ctx, uow, NewUser(t, 0, "user-b")).ID)
		assert.Equal(t, core.MustID(10), saveUser(ctx, uow, NewUser(t, 10, "user-c")).ID)
		assert.Equal(t, core.MustID(11), saveUser(ctx, uow, NewUser(t, 0, "user-d")).ID)
		// an explicit key below the high-water mark does not move it
		assert.Equal(t, core.MustID(5), saveUser(ctx, uow, NewUser(t, 5, "user-e")).ID)
		assert.Equal(t, core.MustID(12), saveUser(ctx, uow, NewUser(t, 0, "user-f")).ID)
		return nil
	})

	errBoom := errors.New("boom")
	err := h.manager.Do(context.Background(), storage.IsolationDefault, func(ctx context.Context, uow *storage.UnitOfWork) error {
		assert.Equal(t, core.MustID(13), saveUser(ctx, uow, NewUser(t, 0, "user-g")).ID)
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)

	h.do(func(ctx context.Context, uow *storage.UnitOfWork) error {
		assert.Equal(t, core.MustID(13), saveUser(ctx, uow, NewUser(t, 0, "user-g")).ID, "sequence rolls back with the unit")
		return uow.Users().DeleteByID(ctx, core.MustID(13))
	})

	h.do(func(ctx context.Context, uow *storage.UnitOfWork) error {
		assert.Equal(t, core.MustID(14), saveUser(ctx, uow, NewUser(t, 0, "user-h")).ID, "deleted identifiers are not reused")
		// sequences are per entity kind
		s, err := uow.Sessions().Save(ctx, NewSession(t, 0, 1, Now))
		require.NoError(t, err)
		assert.Equal(t, core.MustID(1), s.ID)
		return nil
	})
}

func testKeyedLookups(t *testing.T, h *harness) {
	h.do(func(ctx context.Context, uow *storage.UnitOfWork) error {
		for _, n := range []string{"user-c", "user-a", "user-b"} {
			_, err := uow.Users().Save(ctx, NewUser(t, 0, n))
			require.NoError(t, err)
		}
		_, err := uow.AccessTokens().SaveAll(ctx, []core.AccessToken{
			NewAccessToken(t, "tok-b", 1, Now),
			NewAccessToken(t, "tok-c", 1, Now),
			NewAccessToken(t, "tok-a", 1, Now),
		})
		return err
	})

	h.do(func(ctx context.Context, uow *storage.UnitOfWork) error {
		found, err := uow.Users().FindAllByID(ctx, []core.ID{core.MustID(3), core.MustID(9), core.MustID(1), core.MustID(3)})
		require.NoError(t, err)
		require.Len(t, found, 2)
		assert.Equal(t, core.MustID(1), found[0].ID)
		assert.Equal(t, core.MustID(3), found[1].ID)

		none, err := uow.Users().FindAllByID(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, none)

		ok, err := uow.Users().ExistsByID(ctx, core.MustID(2))
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = uow.Users().ExistsByID(ctx, core.MustID(4))
		require.NoError(t, err)
		assert.False(t, ok)

		_, ok, err = uow.Users().FindByID(ctx, core.MustID(4))
		require.NoError(t, err)
		assert.False(t, ok)

		tokens, err := uow.AccessTokens().FindAll(ctx)
		require.NoError(t, err)
		var keys []string
		for _, tok := range tokens {
			keys = append(keys, tok.Token.String())
		}
		assert.Equal(t, []string{"tok-a", "tok-b", "tok-c"}, keys)

		n, err := uow.AccessTokens().Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)
		return nil
	})
}

func testDeletes(t *testing.T, h *harness) {
	h.do(func(ctx context.Context, uow *storage.UnitOfWork) error {
		for i := 1; i <= 6; i++ {
			_, err := uow.Sessions().Save(ctx, NewSession(t, 0, 1, Now))
			require.NoError(t, err)
		}
		return nil
	})

	h.do(func(ctx context.Context, uow *storage.UnitOfWork) error {
		repo := uow.Sessions()
		require.NoError(t, repo.DeleteByID(ctx, core.MustID(42)), "absent key is a no-op")
		require.NoError(t, repo.DeleteByID(ctx, core.MustID(1)))
		require.NoError(t, repo.Delete(ctx, NewSession(t, 2, 1, Now)))
		require.NoError(t, repo.DeleteAllByID(ctx, []core.ID{core.MustID(4), core.MustID(3), core.MustID(99)}))

		rest, err := repo.FindAll(ctx)
		require.NoError(t, err)
		require.Len(t, rest, 2)
		assert.Equal(t, core.MustID(5), rest[0].ID)
		assert.Equal(t, core.MustID(6), rest[1].ID)

		require.NoError(t, repo.DeleteAll(ctx))
		n, err := repo.Count(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
		return nil
	})
}
