package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustName(t *testing.T, raw string) Name {
	t.Helper()
	n, err := NewName(raw)
	require.NoError(t, err)
	return n
}

func TestNewChannelAddsOwner(t *testing.T) {
	owner, guest := MustID(7), MustID(3)
	c, err := NewChannel(MustID(1), mustName(t, "general"), owner, VisibilityPublic,
		Member{UserID: guest, Role: RoleGuest})
	require.NoError(t, err)

	assert.Equal(t, []Member{
		{UserID: guest, Role: RoleGuest},
		{UserID: owner, Role: RoleOwner},
	}, c.Members())

	role, ok := c.RoleOf(owner)
	assert.True(t, ok)
	assert.Equal(t, RoleOwner, role)

	_, ok = c.RoleOf(MustID(99))
	assert.False(t, ok)
}

func TestNewChannelRejectsInvalidMembership(t *testing.T) {
	owner := MustID(7)
	tests := []struct {
		name    string
		members []Member
	}{
		{name: "owner demoted", members: []Member{{UserID: owner, Role: RoleMember}}},
		{name: "second owner", members: []Member{{UserID: MustID(8), Role: RoleOwner}}},
		{name: "duplicate user", members: []Member{{UserID: MustID(8), Role: RoleGuest}, {UserID: MustID(8), Role: RoleMember}}},
		{name: "unknown role", members: []Member{{UserID: MustID(8), Role: Role("ADMIN")}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewChannel(MustID(1), mustName(t, "general"), owner, VisibilityPrivate, tt.members...)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestChannelMembershipIsImmutable(t *testing.T) {
	owner, user := MustID(1), MustID(2)
	c, err := NewChannel(MustID(1), mustName(t, "general"), owner, VisibilityPublic)
	require.NoError(t, err)

	withUser, err := c.WithMember(user, RoleMember)
	require.NoError(t, err)
	assert.Len(t, c.Members(), 1)
	assert.Len(t, withUser.Members(), 2)

	members := withUser.Members()
	members[0].Role = RoleGuest
	role, _ := withUser.RoleOf(owner)
	assert.Equal(t, RoleOwner, role)

	promoted, err := withUser.WithMember(user, RoleGuest)
	require.NoError(t, err)
	role, _ = promoted.RoleOf(user)
	assert.Equal(t, RoleGuest, role)
	role, _ = withUser.RoleOf(user)
	assert.Equal(t, RoleMember, role)

	_, err = withUser.WithMember(owner, RoleMember)
	assert.ErrorIs(t, err, ErrOwnerMembership)
	_, err = withUser.WithMember(user, RoleOwner)
	assert.ErrorIs(t, err, ErrOwnerMembership)
	_, err = withUser.WithoutMember(owner)
	assert.ErrorIs(t, err, ErrOwnerMembership)
	_, err = c.WithoutMember(user)
	assert.ErrorIs(t, err, ErrNotMember)

	removed, err := withUser.WithoutMember(user)
	require.NoError(t, err)
	assert.Equal(t, c.Members(), removed.Members())
}

func TestChannelWithOwner(t *testing.T) {
	owner, user := MustID(1), MustID(2)
	c, err := NewChannel(MustID(1), mustName(t, "general"), owner, VisibilityPublic, Member{UserID: user, Role: RoleMember})
	require.NoError(t, err)

	transferred, err := c.WithOwner(user)
	require.NoError(t, err)
	assert.Equal(t, user, transferred.OwnerID)
	role, _ := transferred.RoleOf(owner)
	assert.Equal(t, RoleMember, role)
	role, _ = transferred.RoleOf(user)
	assert.Equal(t, RoleOwner, role)

	_, err = c.WithOwner(MustID(50))
	assert.ErrorIs(t, err, ErrNotMember)
}

func TestSessionExpiry(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s, err := NewSession(MustID(1), MustID(2), now)
	require.NoError(t, err)

	assert.False(t, s.Expired(now), "expiry equal to now is not expired")
	assert.True(t, s.Expired(now.Add(time.Nanosecond)))

	refreshed := s.Refresh(now.Add(time.Hour))
	assert.Equal(t, now, s.ExpiresAt)
	assert.False(t, refreshed.Expired(now.Add(time.Minute)))
}

func TestTokenExpiryFollowsSession(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	session, err := NewSession(MustID(1), MustID(2), now.Add(time.Hour))
	require.NoError(t, err)

	access, err := NewAccessToken(GenerateToken(), session.ID, now.Add(time.Minute))
	require.NoError(t, err)
	refresh, err := NewRefreshToken(GenerateToken(), session.ID)
	require.NoError(t, err)

	assert.False(t, access.Expired(now, session))
	assert.True(t, access.Expired(now.Add(2*time.Minute), session), "own expiry")
	assert.False(t, refresh.Expired(now.Add(2*time.Minute), session))
	assert.True(t, refresh.Expired(now.Add(2*time.Hour), session), "session expiry")
	assert.True(t, access.Expired(now, Session{ID: MustID(9), ExpiresAt: now.Add(time.Hour)}), "foreign session")
}

func TestChannelInvitationTransitions(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	inv, err := NewChannelInvitation(MustID(1), MustID(2), MustID(3), MustID(4), RoleMember, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, InvitationPending, inv.Status)

	accepted, err := inv.Accept(now)
	require.NoError(t, err)
	assert.Equal(t, InvitationAccepted, accepted.Status)
	assert.Equal(t, InvitationPending, inv.Status)

	_, err = accepted.Reject(now)
	assert.ErrorIs(t, err, ErrInvitationNotPending)

	_, err = inv.Reject(now.Add(2 * time.Hour))
	assert.ErrorIs(t, err, ErrInvitationExpired)

	_, err = NewChannelInvitation(MustID(1), MustID(2), MustID(3), MustID(3), RoleOwner, now)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.True(t, verr.Has("invitee", RuleRelation))
	assert.True(t, verr.Has("role", RuleRelation))
}

func TestAppInvitationUse(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	inv, err := NewAppInvitation(GenerateToken(), now.Add(time.Hour))
	require.NoError(t, err)

	used, err := inv.Use(now)
	require.NoError(t, err)
	assert.Equal(t, AppInvitationUsed, used.Status)

	_, err = used.Use(now)
	assert.ErrorIs(t, err, ErrInvitationNotPending)

	_, err = inv.Use(now.Add(time.Hour + time.Second))
	assert.ErrorIs(t, err, ErrInvitationExpired)
}

func TestMessageEdit(t *testing.T) {
	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))
	content, err := NewContent("hello")
	require.NoError(t, err)
	m, err := NewMessage(MustID(1), MustID(2), MustID(3), content, created)
	require.NoError(t, err)
	assert.Equal(t, time.UTC, m.CreatedAt.Location())
	assert.Nil(t, m.EditedAt)

	edited, err := m.Edit(content, created.Add(time.Minute))
	require.NoError(t, err)
	require.NotNil(t, edited.EditedAt)
	assert.Nil(t, m.EditedAt)

	_, err = m.Edit(content, created.Add(-time.Minute))
	assert.ErrorIs(t, err, ErrValidation)
}

func TestUserValidateRequiresConstructedValues(t *testing.T) {
	err := User{}.Validate()
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Violations, 3)
}

func TestStoredTimesMustFitNanoseconds(t *testing.T) {
	farFuture := time.Date(2300, 1, 1, 0, 0, 0, 0, time.UTC)
	farPast := time.Date(1600, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		build func(at time.Time) error
		field string
	}{
		{"session", func(at time.Time) error {
			_, err := NewSession(MustID(1), MustID(2), at)
			return err
		}, "expiresAt"},
		{"access token", func(at time.Time) error {
			_, err := NewAccessToken(Token{value: "tok"}, MustID(2), at)
			return err
		}, "expiresAt"},
		{"channel invitation", func(at time.Time) error {
			_, err := NewChannelInvitation(MustID(1), MustID(2), MustID(3), MustID(4), RoleMember, at)
			return err
		}, "expiresAt"},
		{"app invitation", func(at time.Time) error {
			_, err := NewAppInvitation(Token{value: "code"}, at)
			return err
		}, "expiresAt"},
		{"message", func(at time.Time) error {
			_, err := NewMessage(MustID(1), MustID(2), MustID(3), Content{value: "hi"}, at)
			return err
		}, "createdAt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, at := range []time.Time{farFuture, farPast} {
				err := tt.build(at)
				var verr *ValidationError
				require.ErrorAs(t, err, &verr, "time %s", at)
				assert.True(t, verr.Has(tt.field, RuleRange))
			}
			assert.NoError(t, tt.build(MaxTime))
			assert.NoError(t, tt.build(MinTime))
		})
	}
}

func TestEditedAtMustFitNanoseconds(t *testing.T) {
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m, err := NewMessage(MustID(1), MustID(2), MustID(3), Content{value: "hi"}, created)
	require.NoError(t, err)

	_, err = m.Edit(Content{value: "later"}, time.Date(2300, 1, 1, 0, 0, 0, 0, time.UTC))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.True(t, verr.Has("editedAt", RuleRange))
}
