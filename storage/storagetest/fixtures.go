package storagetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/poiesic/chatstore/core"
	"github.com/poiesic/chatstore/storage"
)

// Now is the reference instant of the suite's fixtures.
var Now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// argon2id is deliberately slow; every fixture user shares one hash.
var passwordHash = sync.OnceValue(func() core.PasswordHash {
	p, err := core.NewPassword("Str0ng!Pass")
	if err != nil {
		panic(err)
	}
	h, err := core.HashPassword(p)
	if err != nil {
		panic(err)
	}
	return h
})

func id(t testing.TB, v int64) core.ID {
	t.Helper()
	out, err := core.NewID(v)
	require.NoError(t, err)
	return out
}

func name(t testing.TB, raw string) core.Name {
	t.Helper()
	out, err := core.NewName(raw)
	require.NoError(t, err)
	return out
}

func token(t testing.TB, raw string) core.Token {
	t.Helper()
	out, err := core.NewToken(raw)
	require.NoError(t, err)
	return out
}

// NewUser builds a user called username with a derived email address.
func NewUser(t testing.TB, userID int64, username string) core.User {
	t.Helper()
	email, err := core.NewEmail(username + "@example.com")
	require.NoError(t, err)
	u, err := core.NewUser(id(t, userID), name(t, username), email, passwordHash())
	require.NoError(t, err)
	return u
}

// NewChannel builds a channel; the owner is added as OWNER.
func NewChannel(t testing.TB, channelID int64, channelName string, owner int64, vis core.Visibility, members ...core.Member) core.Channel {
	t.Helper()
	c, err := core.NewChannel(id(t, channelID), name(t, channelName), id(t, owner), vis, members...)
	require.NoError(t, err)
	return c
}

// NewMessage builds an unedited message.
func NewMessage(t testing.TB, messageID, channel, author int64, text string, at time.Time) core.Message {
	t.Helper()
	content, err := core.NewContent(text)
	require.NoError(t, err)
	m, err := core.NewMessage(id(t, messageID), id(t, channel), id(t, author), content, at)
	require.NoError(t, err)
	return m
}

// NewSession builds a session.
func NewSession(t testing.TB, sessionID, user int64, expiresAt time.Time) core.Session {
	t.Helper()
	s, err := core.NewSession(id(t, sessionID), id(t, user), expiresAt)
	require.NoError(t, err)
	return s
}

// NewAccessToken builds an access token.
func NewAccessToken(t testing.TB, raw string, session int64, expiresAt time.Time) core.AccessToken {
	t.Helper()
	tok, err := core.NewAccessToken(token(t, raw), id(t, session), expiresAt)
	require.NoError(t, err)
	return tok
}

// NewRefreshToken builds a refresh token.
func NewRefreshToken(t testing.TB, raw string, session int64) core.RefreshToken {
	t.Helper()
	tok, err := core.NewRefreshToken(token(t, raw), id(t, session))
	require.NoError(t, err)
	return tok
}

// NewChannelInvitation builds a pending MEMBER invitation.
func NewChannelInvitation(t testing.TB, invitationID, channel, inviter, invitee int64, expiresAt time.Time) core.ChannelInvitation {
	t.Helper()
	inv, err := core.NewChannelInvitation(id(t, invitationID), id(t, channel), id(t, inviter), id(t, invitee), core.RoleMember, expiresAt)
	require.NoError(t, err)
	return inv
}

// NewAppInvitation builds a pending application invitation.
func NewAppInvitation(t testing.TB, raw string, expiresAt time.Time) core.AppInvitation {
	t.Helper()
	inv, err := core.NewAppInvitation(token(t, raw), expiresAt)
	require.NoError(t, err)
	return inv
}

// Recorder is a storage.Publisher that keeps every batch it receives.
type Recorder struct {
	mu      sync.Mutex
	batches []storage.Batch
}

func (r *Recorder) Publish(_ context.Context, batch storage.Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, batch)
	return nil
}

// Batches returns the received batches in order.
func (r *Recorder) Batches() []storage.Batch {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]storage.Batch(nil), r.batches...)
}

// Events returns every received event in order.
func (r *Recorder) Events() []storage.Event {
	var out []storage.Event
	for _, b := range r.Batches() {
		out = append(out, b.Events...)
	}
	return out
}
