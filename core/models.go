package core

import (
	"math"
	"slices"
	"time"
)

// NormalizeTime strips the monotonic clock reading and converts t to UTC so that
// values read back from any storage backend compare equal to the ones written.
func NormalizeTime(t time.Time) time.Time {
	return t.Round(0).UTC()
}

// Stored times are Unix nanoseconds, so they must lie within these bounds.
var (
	MinTime = time.Unix(0, math.MinInt64).UTC()
	MaxTime = time.Unix(0, math.MaxInt64).UTC()
)

// checkTime requires t to be set and storable.
func (vs *violations) checkTime(t time.Time, field string) {
	if t.IsZero() {
		vs.add(field, RuleRequired, "must be set")
		return
	}
	vs.check(!t.Before(MinTime) && !t.After(MaxTime), field, RuleRange,
		"must be between "+MinTime.Format(time.RFC3339)+" and "+MaxTime.Format(time.RFC3339))
}

// Visibility controls who can discover a channel.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// ParseVisibility validates raw as a Visibility.
func ParseVisibility(raw string) (Visibility, error) {
	return parseEnum("visibility", raw, VisibilityPublic, VisibilityPrivate)
}

// Role is a user's role within a channel.
type Role string

const (
	RoleOwner  Role = "OWNER"
	RoleMember Role = "MEMBER"
	RoleGuest  Role = "GUEST"
)

// ParseRole validates raw as a Role.
func ParseRole(raw string) (Role, error) {
	return parseEnum("role", raw, RoleOwner, RoleMember, RoleGuest)
}

// InvitationStatus is the lifecycle state of a ChannelInvitation.
type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "PENDING"
	InvitationAccepted InvitationStatus = "ACCEPTED"
	InvitationRejected InvitationStatus = "REJECTED"
)

// ParseInvitationStatus validates raw as an InvitationStatus.
func ParseInvitationStatus(raw string) (InvitationStatus, error) {
	return parseEnum("status", raw, InvitationPending, InvitationAccepted, InvitationRejected)
}

// AppInvitationStatus is the lifecycle state of an AppInvitation.
type AppInvitationStatus string

const (
	AppInvitationPending AppInvitationStatus = "PENDING"
	AppInvitationUsed    AppInvitationStatus = "USED"
)

// ParseAppInvitationStatus validates raw as an AppInvitationStatus.
func ParseAppInvitationStatus(raw string) (AppInvitationStatus, error) {
	return parseEnum("status", raw, AppInvitationPending, AppInvitationUsed)
}

func parseEnum[E ~string](field, raw string, allowed ...E) (E, error) {
	if slices.Contains(allowed, E(raw)) {
		return E(raw), nil
	}
	var vs violations
	vs.add(field, RuleEnum, "unknown value "+`"`+raw+`"`)
	return "", vs.err()
}

// User is a registered account.
type User struct {
	ID       ID
	Name     Name
	Email    Email
	Password PasswordHash
}

// NewUser builds a validated User.
func NewUser(id ID, name Name, email Email, password PasswordHash) (User, error) {
	u := User{ID: id, Name: name, Email: email, Password: password}
	return u, u.Validate()
}

// Validate checks that every field holds a constructed value.
func (u User) Validate() error {
	var vs violations
	vs.check(!u.Name.IsZero(), "name", RuleRequired, "must be set")
	vs.check(!u.Email.IsZero(), "email", RuleRequired, "must be set")
	vs.check(!u.Password.IsZero(), "password", RuleRequired, "must be set")
	return vs.err()
}

// Member is one entry of a channel's membership.
type Member struct {
	UserID ID
	Role   Role
}

// Channel is a conversation space. Its membership always contains the owner
// with RoleOwner and no other owner.
type Channel struct {
	ID         ID
	Name       Name
	OwnerID    ID
	Visibility Visibility

	// sorted by UserID, one entry per user
	members []Member
}

// NewChannel builds a validated Channel. The owner is added with RoleOwner when
// members does not already list it.
func NewChannel(id ID, name Name, owner ID, visibility Visibility, members ...Member) (Channel, error) {
	c := Channel{ID: id, Name: name, OwnerID: owner, Visibility: visibility}
	var vs violations
	seen := make(map[ID]bool, len(members)+1)
	for _, m := range members {
		if seen[m.UserID] {
			vs.add("members", RuleRelation, "user "+m.UserID.String()+" is listed more than once")
			continue
		}
		seen[m.UserID] = true
		c.members = append(c.members, m)
	}
	if !seen[owner] {
		c.members = append(c.members, Member{UserID: owner, Role: RoleOwner})
	}
	sortMembers(c.members)
	if err := vs.err(); err != nil {
		return Channel{}, err
	}
	return c, c.Validate()
}

func sortMembers(members []Member) {
	slices.SortFunc(members, func(a, b Member) int { return a.UserID.Compare(b.UserID) })
}

// Validate checks field values and the membership invariants.
func (c Channel) Validate() error {
	var vs violations
	vs.check(!c.Name.IsZero(), "name", RuleRequired, "must be set")
	vs.check(!c.OwnerID.IsZero(), "owner", RuleRequired, "must be set")
	if _, err := ParseVisibility(string(c.Visibility)); err != nil {
		vs.merge("visibility", err)
	}
	ownerSeen := false
	for _, m := range c.members {
		if _, err := ParseRole(string(m.Role)); err != nil {
			vs.merge("members", err)
			continue
		}
		vs.check(!m.UserID.IsZero(), "members", RuleRequired, "member user must be set")
		if m.UserID == c.OwnerID {
			ownerSeen = true
			vs.check(m.Role == RoleOwner, "members", RuleRelation, "owner must hold the OWNER role")
		} else {
			vs.check(m.Role != RoleOwner, "members", RuleRelation, "only the owner may hold the OWNER role")
		}
	}
	vs.check(ownerSeen, "members", RuleRelation, "owner must be a member")
	return vs.err()
}

// Members returns a copy of the membership ordered by user.
func (c Channel) Members() []Member {
	return slices.Clone(c.members)
}

// RoleOf returns the role of user in the channel.
func (c Channel) RoleOf(user ID) (Role, bool) {
	i, ok := c.memberIndex(user)
	if !ok {
		return "", false
	}
	return c.members[i].Role, true
}

func (c Channel) memberIndex(user ID) (int, bool) {
	return slices.BinarySearchFunc(c.members, user, func(m Member, id ID) int { return m.UserID.Compare(id) })
}

// WithMember returns a copy with user added, or its role changed, to role.
// The owner's role cannot be changed and RoleOwner cannot be granted; use WithOwner.
func (c Channel) WithMember(user ID, role Role) (Channel, error) {
	if user == c.OwnerID || role == RoleOwner {
		return Channel{}, ErrOwnerMembership
	}
	if _, err := ParseRole(string(role)); err != nil {
		return Channel{}, err
	}
	next := c
	next.members = slices.Clone(c.members)
	if i, ok := next.memberIndex(user); ok {
		next.members[i].Role = role
	} else {
		next.members = slices.Insert(next.members, i, Member{UserID: user, Role: role})
	}
	return next, next.Validate()
}

// WithoutMember returns a copy without user. The owner cannot be removed.
func (c Channel) WithoutMember(user ID) (Channel, error) {
	if user == c.OwnerID {
		return Channel{}, ErrOwnerMembership
	}
	i, ok := c.memberIndex(user)
	if !ok {
		return Channel{}, ErrNotMember
	}
	next := c
	next.members = slices.Delete(slices.Clone(c.members), i, i+1)
	return next, nil
}

// WithOwner returns a copy owned by user. The previous owner stays as a member.
func (c Channel) WithOwner(user ID) (Channel, error) {
	if user == c.OwnerID {
		return c, nil
	}
	if _, ok := c.memberIndex(user); !ok {
		return Channel{}, ErrNotMember
	}
	next := c
	next.OwnerID = user
	next.members = slices.Clone(c.members)
	for i := range next.members {
		switch next.members[i].UserID {
		case user:
			next.members[i].Role = RoleOwner
		case c.OwnerID:
			next.members[i].Role = RoleMember
		}
	}
	return next, next.Validate()
}

// Message is a post in a channel.
type Message struct {
	ID        ID
	ChannelID ID
	AuthorID  ID
	Content   Content
	CreatedAt time.Time
	EditedAt  *time.Time
}

// NewMessage builds a validated, unedited Message.
func NewMessage(id, channel, author ID, content Content, createdAt time.Time) (Message, error) {
	m := Message{ID: id, ChannelID: channel, AuthorID: author, Content: content, CreatedAt: NormalizeTime(createdAt)}
	return m, m.Validate()
}

// Validate checks field values.
func (m Message) Validate() error {
	var vs violations
	vs.check(!m.ChannelID.IsZero(), "channel", RuleRequired, "must be set")
	vs.check(!m.AuthorID.IsZero(), "author", RuleRequired, "must be set")
	vs.check(!m.Content.IsZero(), "content", RuleRequired, "must be set")
	vs.checkTime(m.CreatedAt, "createdAt")
	if m.EditedAt != nil {
		vs.checkTime(*m.EditedAt, "editedAt")
		vs.check(!m.EditedAt.Before(m.CreatedAt), "editedAt", RuleRange, "must not precede createdAt")
	}
	return vs.err()
}

// Edit returns a copy with new content, marked as edited at the given time.
func (m Message) Edit(content Content, at time.Time) (Message, error) {
	at = NormalizeTime(at)
	next := m
	next.Content = content
	next.EditedAt = &at
	return next, next.Validate()
}

// Session is an authenticated login of a user.
type Session struct {
	ID        ID
	UserID    ID
	ExpiresAt time.Time
}

// NewSession builds a validated Session.
func NewSession(id, user ID, expiresAt time.Time) (Session, error) {
	s := Session{ID: id, UserID: user, ExpiresAt: NormalizeTime(expiresAt)}
	return s, s.Validate()
}

// Validate checks field values.
func (s Session) Validate() error {
	var vs violations
	vs.check(!s.UserID.IsZero(), "user", RuleRequired, "must be set")
	vs.checkTime(s.ExpiresAt, "expiresAt")
	return vs.err()
}

// Expired reports whether the session expired strictly before now.
func (s Session) Expired(now time.Time) bool {
	return s.ExpiresAt.Before(now)
}

// Refresh returns a copy expiring at newExpiry.
func (s Session) Refresh(newExpiry time.Time) Session {
	next := s
	next.ExpiresAt = NormalizeTime(newExpiry)
	return next
}

// AccessToken is a short lived credential bound to a session.
type AccessToken struct {
	Token     Token
	SessionID ID
	ExpiresAt time.Time
}

// NewAccessToken builds a validated AccessToken.
func NewAccessToken(token Token, session ID, expiresAt time.Time) (AccessToken, error) {
	t := AccessToken{Token: token, SessionID: session, ExpiresAt: NormalizeTime(expiresAt)}
	return t, t.Validate()
}

// Validate checks field values.
func (t AccessToken) Validate() error {
	var vs violations
	vs.check(!t.Token.IsZero(), "token", RuleRequired, "must be set")
	vs.check(!t.SessionID.IsZero(), "session", RuleRequired, "must be set")
	vs.checkTime(t.ExpiresAt, "expiresAt")
	return vs.err()
}

// Expired reports whether the token or its session expired before now.
// A session other than the owning one counts as expired.
func (t AccessToken) Expired(now time.Time, session Session) bool {
	return t.ExpiresAt.Before(now) || session.ID != t.SessionID || session.Expired(now)
}

// RefreshToken is a long lived credential that lives as long as its session.
type RefreshToken struct {
	Token     Token
	SessionID ID
}

// NewRefreshToken builds a validated RefreshToken.
func NewRefreshToken(token Token, session ID) (RefreshToken, error) {
	t := RefreshToken{Token: token, SessionID: session}
	return t, t.Validate()
}

// Validate checks field values.
func (t RefreshToken) Validate() error {
	var vs violations
	vs.check(!t.Token.IsZero(), "token", RuleRequired, "must be set")
	vs.check(!t.SessionID.IsZero(), "session", RuleRequired, "must be set")
	return vs.err()
}

// Expired reports whether the owning session expired before now.
func (t RefreshToken) Expired(now time.Time, session Session) bool {
	return session.ID != t.SessionID || session.Expired(now)
}

// ChannelInvitation invites a user into a channel with a role.
type ChannelInvitation struct {
	ID        ID
	ChannelID ID
	InviterID ID
	InviteeID ID
	Status    InvitationStatus
	Role      Role
	ExpiresAt time.Time
}

// NewChannelInvitation builds a validated, pending ChannelInvitation.
func NewChannelInvitation(id, channel, inviter, invitee ID, role Role, expiresAt time.Time) (ChannelInvitation, error) {
	inv := ChannelInvitation{
		ID:        id,
		ChannelID: channel,
		InviterID: inviter,
		InviteeID: invitee,
		Status:    InvitationPending,
		Role:      role,
		ExpiresAt: NormalizeTime(expiresAt),
	}
	return inv, inv.Validate()
}

// Validate checks field values.
func (i ChannelInvitation) Validate() error {
	var vs violations
	vs.check(!i.ChannelID.IsZero(), "channel", RuleRequired, "must be set")
	vs.check(!i.InviterID.IsZero(), "inviter", RuleRequired, "must be set")
	vs.check(!i.InviteeID.IsZero(), "invitee", RuleRequired, "must be set")
	vs.check(i.InviterID != i.InviteeID, "invitee", RuleRelation, "must differ from inviter")
	if _, err := ParseInvitationStatus(string(i.Status)); err != nil {
		vs.merge("status", err)
	}
	if _, err := ParseRole(string(i.Role)); err != nil {
		vs.merge("role", err)
	} else {
		vs.check(i.Role != RoleOwner, "role", RuleRelation, "cannot invite as owner")
	}
	vs.checkTime(i.ExpiresAt, "expiresAt")
	return vs.err()
}

// Expired reports whether the invitation expired strictly before now.
func (i ChannelInvitation) Expired(now time.Time) bool {
	return i.ExpiresAt.Before(now)
}

// Accept returns a copy in the accepted state.
func (i ChannelInvitation) Accept(now time.Time) (ChannelInvitation, error) {
	return i.resolve(now, InvitationAccepted)
}

// Reject returns a copy in the rejected state.
func (i ChannelInvitation) Reject(now time.Time) (ChannelInvitation, error) {
	return i.resolve(now, InvitationRejected)
}

func (i ChannelInvitation) resolve(now time.Time, status InvitationStatus) (ChannelInvitation, error) {
	if i.Status != InvitationPending {
		return ChannelInvitation{}, ErrInvitationNotPending
	}
	if i.Expired(now) {
		return ChannelInvitation{}, ErrInvitationExpired
	}
	next := i
	next.Status = status
	return next, nil
}

// AppInvitation is a single use code that allows registering an account.
type AppInvitation struct {
	Token     Token
	Status    AppInvitationStatus
	ExpiresAt time.Time
}

// NewAppInvitation builds a validated, pending AppInvitation.
func NewAppInvitation(token Token, expiresAt time.Time) (AppInvitation, error) {
	inv := AppInvitation{Token: token, Status: AppInvitationPending, ExpiresAt: NormalizeTime(expiresAt)}
	return inv, inv.Validate()
}

// Validate checks field values.
func (i AppInvitation) Validate() error {
	var vs violations
	vs.check(!i.Token.IsZero(), "token", RuleRequired, "must be set")
	if _, err := ParseAppInvitationStatus(string(i.Status)); err != nil {
		vs.merge("status", err)
	}
	vs.checkTime(i.ExpiresAt, "expiresAt")
	return vs.err()
}

// Expired reports whether the invitation expired strictly before now.
func (i AppInvitation) Expired(now time.Time) bool {
	return i.ExpiresAt.Before(now)
}

// Use returns a copy in the used state.
func (i AppInvitation) Use(now time.Time) (AppInvitation, error) {
	if i.Status != AppInvitationPending {
		return AppInvitation{}, ErrInvitationNotPending
	}
	if i.Expired(now) {
		return AppInvitation{}, ErrInvitationExpired
	}
	next := i
	next.Status = AppInvitationUsed
	return next, nil
}
