package storagetest

import (
	"context"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/chatstore/core"
	"github.com/poiesic/chatstore/pagination"
	"github.com/poiesic/chatstore/storage"
)

func seedMessages(t *testing.T, h *harness, n int, channel int64) {
	t.Helper()
	h.do(func(ctx context.Context, uow *storage.UnitOfWork) error {
		for i := range n {
			_, err := uow.Messages().Save(ctx, NewMessage(t, 0, channel, 1, fmt.Sprintf("message %d", i+1), Now.Add(time.Duration(i)*time.Second)))
			require.NoError(t, err)
		}
		return nil
	})
}

func messageIDs(ms []core.Message) []int64 {
	out := make([]int64, len(ms))
	for i, m := range ms {
		out[i] = m.ID.Int64()
	}
	return out
}

func idRange(from, to int64) []int64 {
	var out []int64
	if from <= to {
		for i := from; i <= to; i++ {
			out = append(out, i)
		}
		return out
	}
	for i := from; i >= to; i-- {
		out = append(out, i)
	}
	return out
}

func testFiftySevenItems(t *testing.T, h *harness) {
	seedMessages(t, h, 57, 1)

	h.do(func(ctx context.Context, uow *storage.UnitOfWork) error {
		for page := 1; page <= 7; page++ {
			r, err := pagination.NewRequest(page, 10, pagination.ByID)
			require.NoError(t, err)
			p, err := uow.Messages().FindPage(ctx, r)
			require.NoError(t, err)

			require.NotNil(t, p.Info.Total)
			require.NotNil(t, p.Info.TotalPages)
			assert.Equal(t, int64(57), *p.Info.Total)
			assert.Equal(t, 6, *p.Info.TotalPages)
			assert.Equal(t, page, p.Info.CurrentPage)

			switch {
			case page <= 5:
				assert.Equal(t, idRange(int64(page-1)*10+1, int64(page)*10), messageIDs(p.Items))
				require.NotNil(t, p.Info.NextPage)
				assert.Equal(t, page+1, *p.Info.NextPage)
			case page == 6:
				assert.Equal(t, idRange(51, 57), messageIDs(p.Items))
				assert.Nil(t, p.Info.NextPage)
				require.NotNil(t, p.Info.PrevPage)
				assert.Equal(t, 5, *p.Info.PrevPage)
			default:
				assert.Empty(t, p.Items, "page beyond the last one")
				assert.NotNil(t, p.Items)
				assert.Nil(t, p.Info.NextPage)
			}
		}

		r, err := pagination.NewRequest(2, 10, pagination.Sort{By: "createdAt", Direction: pagination.Desc})
		require.NoError(t, err)
		p, err := uow.Messages().FindByChannel(ctx, core.MustID(1), r)
		require.NoError(t, err)
		assert.Equal(t, idRange(47, 38), messageIDs(p.Items))

		empty, err := uow.Messages().FindByChannel(ctx, core.MustID(2), r)
		require.NoError(t, err)
		assert.Empty(t, empty.Items)
		assert.Equal(t, int64(0), *empty.Info.Total)
		assert.Equal(t, 0, *empty.Info.TotalPages)
		assert.Nil(t, empty.Info.NextPage)
		return nil
	})
}

func testFirstAndLastWindows(t *testing.T, h *harness) {
	seedMessages(t, h, 25, 1)

	h.do(func(ctx context.Context, uow *storage.UnitOfWork) error {
		first, err := uow.Messages().FindFirst(ctx, 1, 10)
		require.NoError(t, err)
		assert.Equal(t, idRange(1, 10), messageIDs(first))

		third, err := uow.Messages().FindFirst(ctx, 3, 10)
		require.NoError(t, err)
		assert.Equal(t, idRange(21, 25), messageIDs(third))

		last, err := uow.Messages().FindLast(ctx, 1, 10)
		require.NoError(t, err)
		assert.Equal(t, idRange(25, 16), messageIDs(last))

		lastThird, err := uow.Messages().FindLast(ctx, 3, 10)
		require.NoError(t, err)
		assert.Equal(t, idRange(5, 1), messageIDs(lastThird))

		beyond, err := uow.Messages().FindLast(ctx, 4, 10)
		require.NoError(t, err)
		assert.Empty(t, beyond)

		_, err = uow.Messages().FindFirst(ctx, 0, 10)
		assert.ErrorIs(t, err, core.ErrValidation)
		_, err = uow.Messages().FindLast(ctx, 1, pagination.MaxSize+1)
		assert.ErrorIs(t, err, core.ErrValidation)
		return nil
	})
}

func testUncountedPages(t *testing.T, h *harness) {
	seedMessages(t, h, 20, 1)

	h.do(func(ctx context.Context, uow *storage.UnitOfWork) error {
		for page, wantNext := range map[int]bool{1: true, 2: false, 3: false} {
			r, err := pagination.NewRequest(page, 10, pagination.ByID)
			require.NoError(t, err)
			p, err := uow.Messages().FindByChannel(ctx, core.MustID(1), r.WithoutCount())
			require.NoError(t, err)
			assert.Nil(t, p.Info.Total)
			assert.Nil(t, p.Info.TotalPages)
			assert.Equal(t, wantNext, p.Info.NextPage != nil, "page %d", page)
			if page < 3 {
				assert.Len(t, p.Items, 10)
			} else {
				assert.Empty(t, p.Items)
			}
		}
		return nil
	})
}

func testUnknownSortField(t *testing.T, h *harness) {
	seedMessages(t, h, 3, 1)

	h.do(func(ctx context.Context, uow *storage.UnitOfWork) error {
		r, err := pagination.NewRequest(1, 10, pagination.Sort{By: "content; DROP TABLE messages"})
		require.NoError(t, err)
		_, err = uow.Messages().FindPage(ctx, r)
		assert.ErrorIs(t, err, storage.ErrInvalidQuery)
		_, err = uow.Messages().FindByAuthor(ctx, core.MustID(1), r)
		assert.ErrorIs(t, err, storage.ErrInvalidQuery)

		// editedAt is nullable and never sortable
		r.Sort.By = "editedAt"
		_, err = uow.Messages().FindPage(ctx, r)
		assert.ErrorIs(t, err, storage.ErrInvalidQuery)

		assert.NoError(t, uow.RollbackOnly())
		return nil
	})
	assert.Equal(t, int64(3), h.count(func(ctx context.Context, uow *storage.UnitOfWork) (int64, error) {
		return uow.Messages().Count(ctx)
	}))
}

// checkSorts pages through every entity with every sort field and direction
// and compares the concatenated pages with the schema's reference ordering.
func checkSorts[T storage.Entity, K storage.Key](t *testing.T, h *harness, s storage.Schema[T, K], repo func(*storage.UnitOfWork) storage.Repository[T, K]) {
	t.Helper()
	h.do(func(ctx context.Context, uow *storage.UnitOfWork) error {
		all, err := repo(uow).FindAll(ctx)
		require.NoError(t, err)
		require.NotEmpty(t, all)

		for _, field := range s.SortFields() {
			for _, dir := range []pagination.Direction{pagination.Asc, pagination.Desc} {
				sort := pagination.Sort{By: field, Direction: dir}
				want := slices.Clone(all)
				require.NoError(t, s.Order(want, sort))

				var got []T
				for page := 1; ; page++ {
					r, err := pagination.NewRequest(page, 3, sort)
					require.NoError(t, err)
					p, err := repo(uow).FindPage(ctx, r)
					require.NoError(t, err)
					got = append(got, p.Items...)
					if p.Info.NextPage == nil {
						break
					}
				}
				assert.Equal(t, want, got, "%s sorted by %s", s.Entity, sort)
			}
		}
		return nil
	})
}

func testSortParity(t *testing.T, h *harness) {
	h.do(func(ctx context.Context, uow *storage.UnitOfWork) error {
		for i, n := range []string{"mallory", "Bob", "alice", "zed", "carol", "bob"} {
			_, err := uow.Users().Save(ctx, NewUser(t, int64(10-i), n))
			require.NoError(t, err)
		}
		for i, n := range []string{"random", "General", "dev", "ops", "Announcements"} {
			vis := core.VisibilityPublic
			if i%2 == 0 {
				vis = core.VisibilityPrivate
			}
			_, err := uow.Channels().Save(ctx, NewChannel(t, 0, n, int64(3-i%3), vis))
			require.NoError(t, err)
		}
		for i := range 10 {
			// ties on every field
			_, err := uow.Messages().Save(ctx, NewMessage(t, int64(20-i), int64(i%3+1), int64(i%2+1), "hi", Now.Add(time.Duration(i%4)*time.Minute)))
			require.NoError(t, err)
			_, err = uow.Sessions().Save(ctx, NewSession(t, 0, int64(i%3+1), Now.Add(time.Duration(i%2)*time.Hour)))
			require.NoError(t, err)
			_, err = uow.AccessTokens().Save(ctx, NewAccessToken(t, fmt.Sprintf("a-%02d", 9-i), int64(i%4+1), Now.Add(time.Duration(i%3)*time.Minute)))
			require.NoError(t, err)
			_, err = uow.RefreshTokens().Save(ctx, NewRefreshToken(t, fmt.Sprintf("r-%d", i*7%10), int64(i%2+1)))
			require.NoError(t, err)

			inv := NewChannelInvitation(t, 0, int64(i%2+1), int64(i%3+1), int64(i%3+5), Now.Add(time.Duration(i%2)*time.Hour))
			if i%3 == 0 {
				inv, err = inv.Accept(Now)
				require.NoError(t, err)
			}
			if i%4 == 1 {
				inv.Role = core.RoleGuest
			}
			_, err = uow.ChannelInvitations().Save(ctx, inv)
			require.NoError(t, err)

			app := NewAppInvitation(t, fmt.Sprintf("inv-%d", i*3%10), Now.Add(time.Duration(i%2)*time.Hour))
			if i%3 == 1 {
				app, err = app.Use(Now)
				require.NoError(t, err)
			}
			_, err = uow.AppInvitations().Save(ctx, app)
			require.NoError(t, err)
		}
		return nil
	})

	checkSorts(t, h, storage.UserSchema, func(u *storage.UnitOfWork) storage.Repository[core.User, core.ID] { return u.Users() })
	checkSorts(t, h, storage.ChannelSchema, func(u *storage.UnitOfWork) storage.Repository[core.Channel, core.ID] { return u.Channels() })
	checkSorts(t, h, storage.MessageSchema, func(u *storage.UnitOfWork) storage.Repository[core.Message, core.ID] { return u.Messages() })
	checkSorts(t, h, storage.SessionSchema, func(u *storage.UnitOfWork) storage.Repository[core.Session, core.ID] { return u.Sessions() })
	checkSorts(t, h, storage.AccessTokenSchema, func(u *storage.UnitOfWork) storage.Repository[core.AccessToken, core.Token] {
		return u.AccessTokens()
	})
	checkSorts(t, h, storage.RefreshTokenSchema, func(u *storage.UnitOfWork) storage.Repository[core.RefreshToken, core.Token] {
		return u.RefreshTokens()
	})
	checkSorts(t, h, storage.ChannelInvitationSchema, func(u *storage.UnitOfWork) storage.Repository[core.ChannelInvitation, core.ID] {
		return u.ChannelInvitations()
	})
	checkSorts(t, h, storage.AppInvitationSchema, func(u *storage.UnitOfWork) storage.Repository[core.AppInvitation, core.Token] {
		return u.AppInvitations()
	})
}
