package relational

import (
	"context"
	"time"

	"github.com/poiesic/chatstore/core"
	"github.com/poiesic/chatstore/pagination"
	"github.com/poiesic/chatstore/storage"
)

type users struct {
	repo[core.User, core.ID]
}

func (r *users) FindByName(ctx context.Context, name core.Name) (core.User, bool, error) {
	return r.findOne(ctx, "WHERE name = ?", name.String())
}

func (r *users) FindByEmail(ctx context.Context, email core.Email) (core.User, bool, error) {
	return r.findOne(ctx, "WHERE email = ?", email.String())
}

type channels struct {
	repo[core.Channel, core.ID]
}

func (r *channels) FindByName(ctx context.Context, name core.Name) (core.Channel, bool, error) {
	return r.findOne(ctx, "WHERE name = ?", name.String())
}

func (r *channels) FindByOwner(ctx context.Context, owner core.ID, req pagination.Request) (pagination.Page[core.Channel], error) {
	return r.page(ctx, "WHERE owner_id = ?", []any{owner.Int64()}, req)
}

func (r *channels) FindByMember(ctx context.Context, user core.ID, req pagination.Request) (pagination.Page[core.Channel], error) {
	return r.page(ctx, "WHERE id IN (SELECT channel_id FROM channel_members WHERE user_id = ?)", []any{user.Int64()}, req)
}

func (r *channels) FindPublic(ctx context.Context, req pagination.Request) (pagination.Page[core.Channel], error) {
	return r.page(ctx, "WHERE visibility = ?", []any{string(core.VisibilityPublic)}, req)
}

type messages struct {
	repo[core.Message, core.ID]
}

func (r *messages) FindByChannel(ctx context.Context, channel core.ID, req pagination.Request) (pagination.Page[core.Message], error) {
	return r.page(ctx, "WHERE channel_id = ?", []any{channel.Int64()}, req)
}

func (r *messages) FindByAuthor(ctx context.Context, author core.ID, req pagination.Request) (pagination.Page[core.Message], error) {
	return r.page(ctx, "WHERE author_id = ?", []any{author.Int64()}, req)
}

func (r *messages) DeleteByChannel(ctx context.Context, channel core.ID) (int64, error) {
	return r.removeWhere(ctx, "WHERE channel_id = ?", channel.Int64())
}

type sessions struct {
	repo[core.Session, core.ID]
}

func (r *sessions) FindByUser(ctx context.Context, user core.ID) ([]core.Session, error) {
	return r.findAll(ctx, "WHERE user_id = ?", user.Int64())
}

func (r *sessions) DeleteByUser(ctx context.Context, user core.ID) (int64, error) {
	return r.removeWhere(ctx, "WHERE user_id = ?", user.Int64())
}

func (r *sessions) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return r.removeWhere(ctx, "WHERE expires_at < ?", storage.Nanos(now))
}

// liveSessions selects the sessions that have not expired at its one argument.
const liveSessions = "SELECT id FROM sessions WHERE expires_at >= ?"

type accessTokens struct {
	repo[core.AccessToken, core.Token]
}

func (r *accessTokens) FindBySession(ctx context.Context, session core.ID) ([]core.AccessToken, error) {
	return r.findAll(ctx, "WHERE session_id = ?", session.Int64())
}

func (r *accessTokens) DeleteBySession(ctx context.Context, session core.ID) (int64, error) {
	return r.removeWhere(ctx, "WHERE session_id = ?", session.Int64())
}

func (r *accessTokens) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	at := storage.Nanos(now)
	return r.removeWhere(ctx, "WHERE expires_at < ? OR session_id NOT IN ("+liveSessions+")", at, at)
}

type refreshTokens struct {
	repo[core.RefreshToken, core.Token]
}

func (r *refreshTokens) FindBySession(ctx context.Context, session core.ID) ([]core.RefreshToken, error) {
	return r.findAll(ctx, "WHERE session_id = ?", session.Int64())
}

func (r *refreshTokens) DeleteBySession(ctx context.Context, session core.ID) (int64, error) {
	return r.removeWhere(ctx, "WHERE session_id = ?", session.Int64())
}

func (r *refreshTokens) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return r.removeWhere(ctx, "WHERE session_id NOT IN ("+liveSessions+")", storage.Nanos(now))
}

type channelInvitations struct {
	repo[core.ChannelInvitation, core.ID]
}

func (r *channelInvitations) FindByChannel(ctx context.Context, channel core.ID, req pagination.Request) (pagination.Page[core.ChannelInvitation], error) {
	return r.page(ctx, "WHERE channel_id = ?", []any{channel.Int64()}, req)
}

func (r *channelInvitations) FindByInvitee(ctx context.Context, invitee core.ID, req pagination.Request) (pagination.Page[core.ChannelInvitation], error) {
	return r.page(ctx, "WHERE invitee_id = ?", []any{invitee.Int64()}, req)
}

func (r *channelInvitations) FindPending(ctx context.Context, channel, invitee core.ID) ([]core.ChannelInvitation, error) {
	return r.findAll(ctx, "WHERE channel_id = ? AND invitee_id = ? AND status = ?",
		channel.Int64(), invitee.Int64(), string(core.InvitationPending))
}

func (r *channelInvitations) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return r.removeWhere(ctx, "WHERE expires_at < ?", storage.Nanos(now))
}

func (r *channelInvitations) DeleteResolved(ctx context.Context) (int64, error) {
	return r.removeWhere(ctx, "WHERE status <> ?", string(core.InvitationPending))
}

type appInvitations struct {
	repo[core.AppInvitation, core.Token]
}

func (r *appInvitations) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return r.removeWhere(ctx, "WHERE expires_at < ? OR status = ?", storage.Nanos(now), string(core.AppInvitationUsed))
}
