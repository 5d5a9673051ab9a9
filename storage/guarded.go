package storage

import (
	"context"
	"time"

	"github.com/poiesic/chatstore/core"
	"github.com/poiesic/chatstore/pagination"
)

// guarded wraps a backend repository with the unit of work's rules: no use
// after the unit ended, validation before writes, rollback-only on fatal errors.
type guarded[T Entity, K Key] struct {
	u     *UnitOfWork
	inner Repository[T, K]
}

func (g guarded[T, K]) Save(ctx context.Context, v T) (T, error) {
	return call(g.u, func() (T, error) {
		if err := v.Validate(); err != nil {
			var zero T
			return zero, err
		}
		return g.inner.Save(ctx, v)
	})
}

func (g guarded[T, K]) SaveAll(ctx context.Context, vs []T) ([]T, error) {
	return call(g.u, func() ([]T, error) {
		for _, v := range vs {
			if err := v.Validate(); err != nil {
				return nil, err
			}
		}
		return g.inner.SaveAll(ctx, vs)
	})
}

func (g guarded[T, K]) FindByID(ctx context.Context, key K) (T, bool, error) {
	return lookup(g.u, func() (T, bool, error) { return g.inner.FindByID(ctx, key) })
}

func (g guarded[T, K]) FindAll(ctx context.Context) ([]T, error) {
	return call(g.u, func() ([]T, error) { return g.inner.FindAll(ctx) })
}

func (g guarded[T, K]) FindFirst(ctx context.Context, page, size int) ([]T, error) {
	return call(g.u, func() ([]T, error) { return g.inner.FindFirst(ctx, page, size) })
}

func (g guarded[T, K]) FindLast(ctx context.Context, page, size int) ([]T, error) {
	return call(g.u, func() ([]T, error) { return g.inner.FindLast(ctx, page, size) })
}

func (g guarded[T, K]) FindPage(ctx context.Context, r pagination.Request) (pagination.Page[T], error) {
	return call(g.u, func() (pagination.Page[T], error) { return g.inner.FindPage(ctx, r) })
}

func (g guarded[T, K]) FindAllByID(ctx context.Context, keys []K) ([]T, error) {
	return call(g.u, func() ([]T, error) { return g.inner.FindAllByID(ctx, keys) })
}

func (g guarded[T, K]) DeleteByID(ctx context.Context, key K) error {
	return exec(g.u, func() error { return g.inner.DeleteByID(ctx, key) })
}

func (g guarded[T, K]) ExistsByID(ctx context.Context, key K) (bool, error) {
	return call(g.u, func() (bool, error) { return g.inner.ExistsByID(ctx, key) })
}

func (g guarded[T, K]) Count(ctx context.Context) (int64, error) {
	return call(g.u, func() (int64, error) { return g.inner.Count(ctx) })
}

func (g guarded[T, K]) Delete(ctx context.Context, v T) error {
	return exec(g.u, func() error { return g.inner.Delete(ctx, v) })
}

func (g guarded[T, K]) DeleteAll(ctx context.Context) error {
	return exec(g.u, func() error { return g.inner.DeleteAll(ctx) })
}

func (g guarded[T, K]) DeleteAllByID(ctx context.Context, keys []K) error {
	return exec(g.u, func() error { return g.inner.DeleteAllByID(ctx, keys) })
}

// lookup adapts the (value, found, error) shape to call.
func lookup[T any](u *UnitOfWork, fn func() (T, bool, error)) (T, bool, error) {
	var found bool
	v, err := call(u, func() (v T, err error) {
		v, found, err = fn()
		return v, err
	})
	return v, found, err
}

type users struct {
	guarded[core.User, core.ID]
	ext UserRepository
}

func (r *users) FindByName(ctx context.Context, name core.Name) (core.User, bool, error) {
	return lookup(r.u, func() (core.User, bool, error) { return r.ext.FindByName(ctx, name) })
}

func (r *users) FindByEmail(ctx context.Context, email core.Email) (core.User, bool, error) {
	return lookup(r.u, func() (core.User, bool, error) { return r.ext.FindByEmail(ctx, email) })
}

type channels struct {
	guarded[core.Channel, core.ID]
	ext ChannelRepository
}

func (r *channels) FindByName(ctx context.Context, name core.Name) (core.Channel, bool, error) {
	return lookup(r.u, func() (core.Channel, bool, error) { return r.ext.FindByName(ctx, name) })
}

func (r *channels) FindByOwner(ctx context.Context, owner core.ID, req pagination.Request) (pagination.Page[core.Channel], error) {
	return call(r.u, func() (pagination.Page[core.Channel], error) { return r.ext.FindByOwner(ctx, owner, req) })
}

func (r *channels) FindByMember(ctx context.Context, user core.ID, req pagination.Request) (pagination.Page[core.Channel], error) {
	return call(r.u, func() (pagination.Page[core.Channel], error) { return r.ext.FindByMember(ctx, user, req) })
}

func (r *channels) FindPublic(ctx context.Context, req pagination.Request) (pagination.Page[core.Channel], error) {
	return call(r.u, func() (pagination.Page[core.Channel], error) { return r.ext.FindPublic(ctx, req) })
}

type messages struct {
	guarded[core.Message, core.ID]
	ext MessageRepository
}

func (r *messages) FindByChannel(ctx context.Context, channel core.ID, req pagination.Request) (pagination.Page[core.Message], error) {
	return call(r.u, func() (pagination.Page[core.Message], error) { return r.ext.FindByChannel(ctx, channel, req) })
}

func (r *messages) FindByAuthor(ctx context.Context, author core.ID, req pagination.Request) (pagination.Page[core.Message], error) {
	return call(r.u, func() (pagination.Page[core.Message], error) { return r.ext.FindByAuthor(ctx, author, req) })
}

func (r *messages) DeleteByChannel(ctx context.Context, channel core.ID) (int64, error) {
	return call(r.u, func() (int64, error) { return r.ext.DeleteByChannel(ctx, channel) })
}

type sessions struct {
	guarded[core.Session, core.ID]
	ext SessionRepository
}

func (r *sessions) FindByUser(ctx context.Context, user core.ID) ([]core.Session, error) {
	return call(r.u, func() ([]core.Session, error) { return r.ext.FindByUser(ctx, user) })
}

func (r *sessions) DeleteByUser(ctx context.Context, user core.ID) (int64, error) {
	return call(r.u, func() (int64, error) { return r.ext.DeleteByUser(ctx, user) })
}

func (r *sessions) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return call(r.u, func() (int64, error) { return r.ext.DeleteExpired(ctx, now) })
}

type accessTokens struct {
	guarded[core.AccessToken, core.Token]
	ext AccessTokenRepository
}

func (r *accessTokens) FindBySession(ctx context.Context, session core.ID) ([]core.AccessToken, error) {
	return call(r.u, func() ([]core.AccessToken, error) { return r.ext.FindBySession(ctx, session) })
}

func (r *accessTokens) DeleteBySession(ctx context.Context, session core.ID) (int64, error) {
	return call(r.u, func() (int64, error) { return r.ext.DeleteBySession(ctx, session) })
}

func (r *accessTokens) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return call(r.u, func() (int64, error) { return r.ext.DeleteExpired(ctx, now) })
}

type refreshTokens struct {
	guarded[core.RefreshToken, core.Token]
	ext RefreshTokenRepository
}

func (r *refreshTokens) FindBySession(ctx context.Context, session core.ID) ([]core.RefreshToken, error) {
	return call(r.u, func() ([]core.RefreshToken, error) { return r.ext.FindBySession(ctx, session) })
}

func (r *refreshTokens) DeleteBySession(ctx context.Context, session core.ID) (int64, error) {
	return call(r.u, func() (int64, error) { return r.ext.DeleteBySession(ctx, session) })
}

func (r *refreshTokens) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return call(r.u, func() (int64, error) { return r.ext.DeleteExpired(ctx, now) })
}

type channelInvitations struct {
	guarded[core.ChannelInvitation, core.ID]
	ext ChannelInvitationRepository
}

func (r *channelInvitations) FindByChannel(ctx context.Context, channel core.ID, req pagination.Request) (pagination.Page[core.ChannelInvitation], error) {
	return call(r.u, func() (pagination.Page[core.ChannelInvitation], error) { return r.ext.FindByChannel(ctx, channel, req) })
}

func (r *channelInvitations) FindByInvitee(ctx context.Context, invitee core.ID, req pagination.Request) (pagination.Page[core.ChannelInvitation], error) {
	return call(r.u, func() (pagination.Page[core.ChannelInvitation], error) { return r.ext.FindByInvitee(ctx, invitee, req) })
}

func (r *channelInvitations) FindPending(ctx context.Context, channel, invitee core.ID) ([]core.ChannelInvitation, error) {
	return call(r.u, func() ([]core.ChannelInvitation, error) { return r.ext.FindPending(ctx, channel, invitee) })
}

func (r *channelInvitations) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return call(r.u, func() (int64, error) { return r.ext.DeleteExpired(ctx, now) })
}

func (r *channelInvitations) DeleteResolved(ctx context.Context) (int64, error) {
	return call(r.u, func() (int64, error) { return r.ext.DeleteResolved(ctx) })
}

type appInvitations struct {
	guarded[core.AppInvitation, core.Token]
	ext AppInvitationRepository
}

func (r *appInvitations) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return call(r.u, func() (int64, error) { return r.ext.DeleteExpired(ctx, now) })
}
