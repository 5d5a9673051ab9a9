package badger

import (
	"context"
	"time"

	"github.com/poiesic/chatstore/core"
	"github.com/poiesic/chatstore/pagination"
)

type users struct {
	repo[core.User, core.ID]
}

func (r *users) FindByName(ctx context.Context, name core.Name) (core.User, bool, error) {
	return r.findUnique(ctx, "name", name.String())
}

func (r *users) FindByEmail(ctx context.Context, email core.Email) (core.User, bool, error) {
	return r.findUnique(ctx, "email", email.String())
}

type channels struct {
	repo[core.Channel, core.ID]
}

func (r *channels) FindByName(ctx context.Context, name core.Name) (core.Channel, bool, error) {
	return r.findUnique(ctx, "name", name.String())
}

func (r *channels) FindByOwner(ctx context.Context, owner core.ID, req pagination.Request) (pagination.Page[core.Channel], error) {
	return r.page(ctx, func(c core.Channel) bool { return c.OwnerID == owner }, req)
}

func (r *channels) FindByMember(ctx context.Context, user core.ID, req pagination.Request) (pagination.Page[core.Channel], error) {
	return r.page(ctx, func(c core.Channel) bool {
		_, ok := c.RoleOf(user)
		return ok
	}, req)
}

func (r *channels) FindPublic(ctx context.Context, req pagination.Request) (pagination.Page[core.Channel], error) {
	return r.page(ctx, func(c core.Channel) bool { return c.Visibility == core.VisibilityPublic }, req)
}

type messages struct {
	repo[core.Message, core.ID]
}

func (r *messages) FindByChannel(ctx context.Context, channel core.ID, req pagination.Request) (pagination.Page[core.Message], error) {
	return r.page(ctx, func(m core.Message) bool { return m.ChannelID == channel }, req)
}

func (r *messages) FindByAuthor(ctx context.Context, author core.ID, req pagination.Request) (pagination.Page[core.Message], error) {
	return r.page(ctx, func(m core.Message) bool { return m.AuthorID == author }, req)
}

func (r *messages) DeleteByChannel(ctx context.Context, channel core.ID) (int64, error) {
	return r.removeWhere(ctx, func(m core.Message) bool { return m.ChannelID == channel })
}

type sessions struct {
	repo[core.Session, core.ID]
}

func (r *sessions) FindByUser(ctx context.Context, user core.ID) ([]core.Session, error) {
	return r.findAll(ctx, func(s core.Session) bool { return s.UserID == user })
}

func (r *sessions) DeleteByUser(ctx context.Context, user core.ID) (int64, error) {
	return r.removeWhere(ctx, func(s core.Session) bool { return s.UserID == user })
}

func (r *sessions) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return r.removeWhere(ctx, func(s core.Session) bool { return s.Expired(now) })
}

// liveSessions loads every session in the unit, keyed by ID.
func liveSessions(t *tx) (map[core.ID]core.Session, error) {
	all, err := repo[core.Session, core.ID]{t, sessionTable}.scan(nil)
	if err != nil {
		return nil, err
	}
	out := make(map[core.ID]core.Session, len(all))
	for _, s := range all {
		out[s.ID] = s
	}
	return out, nil
}

type accessTokens struct {
	repo[core.AccessToken, core.Token]
}

func (r *accessTokens) FindBySession(ctx context.Context, session core.ID) ([]core.AccessToken, error) {
	return r.findAll(ctx, func(t core.AccessToken) bool { return t.SessionID == session })
}

func (r *accessTokens) DeleteBySession(ctx context.Context, session core.ID) (int64, error) {
	return r.removeWhere(ctx, func(t core.AccessToken) bool { return t.SessionID == session })
}

func (r *accessTokens) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	if err := r.ready(ctx); err != nil {
		return 0, err
	}
	live, err := liveSessions(r.tx)
	if err != nil {
		return 0, err
	}
	return r.removeWhere(ctx, func(t core.AccessToken) bool { return t.Expired(now, live[t.SessionID]) })
}

type refreshTokens struct {
	repo[core.RefreshToken, core.Token]
}

func (r *refreshTokens) FindBySession(ctx context.Context, session core.ID) ([]core.RefreshToken, error) {
	return r.findAll(ctx, func(t core.RefreshToken) bool { return t.SessionID == session })
}

func (r *refreshTokens) DeleteBySession(ctx context.Context, session core.ID) (int64, error) {
	return r.removeWhere(ctx, func(t core.RefreshToken) bool { return t.SessionID == session })
}

func (r *refreshTokens) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	if err := r.ready(ctx); err != nil {
		return 0, err
	}
	live, err := liveSessions(r.tx)
	if err != nil {
		return 0, err
	}
	return r.removeWhere(ctx, func(t core.RefreshToken) bool { return t.Expired(now, live[t.SessionID]) })
}

type channelInvitations struct {
	repo[core.ChannelInvitation, core.ID]
}

func (r *channelInvitations) FindByChannel(ctx context.Context, channel core.ID, req pagination.Request) (pagination.Page[core.ChannelInvitation], error) {
	return r.page(ctx, func(i core.ChannelInvitation) bool { return i.ChannelID == channel }, req)
}

func (r *channelInvitations) FindByInvitee(ctx context.Context, invitee core.ID, req pagination.Request) (pagination.Page[core.ChannelInvitation], error) {
	return r.page(ctx, func(i core.ChannelInvitation) bool { return i.InviteeID == invitee }, req)
}

func (r *channelInvitations) FindPending(ctx context.Context, channel, invitee core.ID) ([]core.ChannelInvitation, error) {
	return r.findAll(ctx, func(i core.ChannelInvitation) bool {
		return i.ChannelID == channel && i.InviteeID == invitee && i.Status == core.InvitationPending
	})
}

func (r *channelInvitations) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return r.removeWhere(ctx, func(i core.ChannelInvitation) bool { return i.Expired(now) })
}

func (r *channelInvitations) DeleteResolved(ctx context.Context) (int64, error) {
	return r.removeWhere(ctx, func(i core.ChannelInvitation) bool { return i.Status != core.InvitationPending })
}

type appInvitations struct {
	repo[core.AppInvitation, core.Token]
}

func (r *appInvitations) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return r.removeWhere(ctx, func(i core.AppInvitation) bool {
		return i.Expired(now) || i.Status == core.AppInvitationUsed
	})
}
