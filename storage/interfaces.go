package storage

import (
	"context"
	"time"

	"github.com/poiesic/chatstore/core"
	"github.com/poiesic/chatstore/pagination"
)

// Repository provides the storage operations shared by every entity kind.
// Every backend must produce the same observable results for the same calls.
type Repository[T any, K Key] interface {
	// Save inserts or replaces v. A zero generated key is replaced with the
	// next identifier of the entity kind. Returns the stored value.
	// Returns a *ConflictError when a uniqueness constraint is violated.
	Save(ctx context.Context, v T) (T, error)

	// SaveAll saves each value in order and returns the stored values.
	SaveAll(ctx context.Context, vs []T) ([]T, error)

	// FindByID returns the entity stored under key. The boolean is false
	// when no such entity exists.
	FindByID(ctx context.Context, key K) (T, bool, error)

	// FindAll returns every entity in ascending key order.
	FindAll(ctx context.Context) ([]T, error)

	// FindFirst returns a page of entities in ascending key order.
	FindFirst(ctx context.Context, page, size int) ([]T, error)

	// FindLast returns a page of entities in descending key order.
	FindLast(ctx context.Context, page, size int) ([]T, error)

	// FindPage returns the page selected by r.
	// Returns ErrInvalidQuery when r sorts by an unknown field.
	FindPage(ctx context.Context, r pagination.Request) (pagination.Page[T], error)

	// FindAllByID returns the entities that exist among keys, in ascending key order.
	FindAllByID(ctx context.Context, keys []K) ([]T, error)

	// DeleteByID removes the entity stored under key. Absent keys are ignored.
	DeleteByID(ctx context.Context, key K) error

	// ExistsByID reports whether an entity is stored under key.
	ExistsByID(ctx context.Context, key K) (bool, error)

	// Count returns the number of stored entities.
	Count(ctx context.Context) (int64, error)

	// Delete removes the entity with v's key.
	Delete(ctx context.Context, v T) error

	// DeleteAll removes every entity of the kind.
	DeleteAll(ctx context.Context) error

	// DeleteAllByID removes the entities stored under keys.
	DeleteAllByID(ctx context.Context, keys []K) error
}

// UserRepository provides operations for users.
type UserRepository interface {
	Repository[core.User, core.ID]
	FindByName(ctx context.Context, name core.Name) (core.User, bool, error)
	FindByEmail(ctx context.Context, email core.Email) (core.User, bool, error)
}

// ChannelRepository provides operations for channels and their membership.
type ChannelRepository interface {
	Repository[core.Channel, core.ID]
	FindByName(ctx context.Context, name core.Name) (core.Channel, bool, error)
	FindByOwner(ctx context.Context, owner core.ID, r pagination.Request) (pagination.Page[core.Channel], error)
	// FindByMember returns the channels user belongs to with any role.
	FindByMember(ctx context.Context, user core.ID, r pagination.Request) (pagination.Page[core.Channel], error)
	FindPublic(ctx context.Context, r pagination.Request) (pagination.Page[core.Channel], error)
}

// MessageRepository provides operations for messages.
type MessageRepository interface {
	Repository[core.Message, core.ID]
	FindByChannel(ctx context.Context, channel core.ID, r pagination.Request) (pagination.Page[core.Message], error)
	FindByAuthor(ctx context.Context, author core.ID, r pagination.Request) (pagination.Page[core.Message], error)
	// DeleteByChannel removes every message of channel and returns how many were removed.
	DeleteByChannel(ctx context.Context, channel core.ID) (int64, error)
}

// SessionRepository provides operations for sessions.
type SessionRepository interface {
	Repository[core.Session, core.ID]
	FindByUser(ctx context.Context, user core.ID) ([]core.Session, error)
	DeleteByUser(ctx context.Context, user core.ID) (int64, error)
	// DeleteExpired removes sessions whose expiry is strictly before now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// AccessTokenRepository provides operations for access tokens.
type AccessTokenRepository interface {
	Repository[core.AccessToken, core.Token]
	FindBySession(ctx context.Context, session core.ID) ([]core.AccessToken, error)
	DeleteBySession(ctx context.Context, session core.ID) (int64, error)
	// DeleteExpired removes tokens that expired strictly before now, along with
	// tokens whose session expired strictly before now or no longer exists.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// RefreshTokenRepository provides operations for refresh tokens.
type RefreshTokenRepository interface {
	Repository[core.RefreshToken, core.Token]
	FindBySession(ctx context.Context, session core.ID) ([]core.RefreshToken, error)
	DeleteBySession(ctx context.Context, session core.ID) (int64, error)
	// DeleteExpired removes tokens whose session expired strictly before now
	// or no longer exists.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// ChannelInvitationRepository provides operations for channel invitations.
type ChannelInvitationRepository interface {
	Repository[core.ChannelInvitation, core.ID]
	FindByChannel(ctx context.Context, channel core.ID, r pagination.Request) (pagination.Page[core.ChannelInvitation], error)
	FindByInvitee(ctx context.Context, invitee core.ID, r pagination.Request) (pagination.Page[core.ChannelInvitation], error)
	// FindPending returns the pending invitations of invitee to channel.
	FindPending(ctx context.Context, channel, invitee core.ID) ([]core.ChannelInvitation, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	// DeleteResolved removes accepted and rejected invitations.
	DeleteResolved(ctx context.Context) (int64, error)
}

// AppInvitationRepository provides operations for application invitations.
type AppInvitationRepository interface {
	Repository[core.AppInvitation, core.Token]
	// DeleteExpired removes invitations that expired strictly before now or were already used.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Repositories is the bundle of repository handles of one transaction.
type Repositories struct {
	Users              UserRepository
	Channels           ChannelRepository
	Messages           MessageRepository
	Sessions           SessionRepository
	AccessTokens       AccessTokenRepository
	RefreshTokens      RefreshTokenRepository
	ChannelInvitations ChannelInvitationRepository
	AppInvitations     AppInvitationRepository
}

// Backend is a storage adapter. Begin opens a backend transaction whose
// writes are recorded in journal.
type Backend interface {
	Begin(ctx context.Context, iso Isolation, journal *Journal) (Tx, error)
	Close() error
}

// Tx is one backend transaction. Exactly one of Commit or Rollback is called.
type Tx interface {
	Repositories() Repositories
	Commit() error
	Rollback() error
}

// Publisher receives the events of committed units of work.
type Publisher interface {
	Publish(ctx context.Context, batch Batch) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, batch Batch) error

func (f PublisherFunc) Publish(ctx context.Context, batch Batch) error {
	return f(ctx, batch)
}
