package storage

import (
	"github.com/poiesic/chatstore/core"
)

// Entity kinds.
const (
	EntityUser              = "user"
	EntityChannel           = "channel"
	EntityMessage           = "message"
	EntitySession           = "session"
	EntityAccessToken       = "access_token"
	EntityRefreshToken      = "refresh_token"
	EntityChannelInvitation = "channel_invitation"
	EntityAppInvitation     = "app_invitation"
)

func idSequence[T any](assign func(T, core.ID) T) *Sequence[T, core.ID] {
	return &Sequence[T, core.ID]{Value: core.ID.Int64, Key: core.MustID, Assign: assign}
}

func idOf(id core.ID) int64 { return id.Int64() }

var UserSchema = Schema[core.User, core.ID]{
	Entity:      EntityUser,
	Table:       "users",
	KeyField:    "id",
	KeyOf:       func(u core.User) core.ID { return u.ID },
	CompareKeys: core.ID.Compare,
	Sequence:    idSequence(func(u core.User, id core.ID) core.User { u.ID = id; return u }),
	Fields: []Field[core.User]{
		{Name: "name", Column: "name", Compare: byString(func(u core.User) string { return u.Name.String() })},
		{Name: "email", Column: "email", Compare: byString(func(u core.User) string { return u.Email.String() })},
	},
	Unique: []Unique[core.User]{
		{Name: "name", Column: "name", Value: func(u core.User) string { return u.Name.String() }},
		{Name: "email", Column: "email", Value: func(u core.User) string { return u.Email.String() }},
	},
}

var ChannelSchema = Schema[core.Channel, core.ID]{
	Entity:      EntityChannel,
	Table:       "channels",
	KeyField:    "id",
	KeyOf:       func(c core.Channel) core.ID { return c.ID },
	CompareKeys: core.ID.Compare,
	Sequence:    idSequence(func(c core.Channel, id core.ID) core.Channel { c.ID = id; return c }),
	Fields: []Field[core.Channel]{
		{Name: "name", Column: "name", Compare: byString(func(c core.Channel) string { return c.Name.String() })},
		{Name: "ownerId", Column: "owner_id", Compare: byInt(func(c core.Channel) int64 { return idOf(c.OwnerID) })},
		{Name: "visibility", Column: "visibility", Compare: byString(func(c core.Channel) string { return string(c.Visibility) })},
	},
	Unique: []Unique[core.Channel]{
		{Name: "name", Column: "name", Value: func(c core.Channel) string { return c.Name.String() }},
	},
}

var MessageSchema = Schema[core.Message, core.ID]{
	Entity:      EntityMessage,
	Table:       "messages",
	KeyField:    "id",
	KeyOf:       func(m core.Message) core.ID { return m.ID },
	CompareKeys: core.ID.Compare,
	Sequence:    idSequence(func(m core.Message, id core.ID) core.Message { m.ID = id; return m }),
	Fields: []Field[core.Message]{
		{Name: "channelId", Column: "channel_id", Compare: byInt(func(m core.Message) int64 { return idOf(m.ChannelID) })},
		{Name: "authorId", Column: "author_id", Compare: byInt(func(m core.Message) int64 { return idOf(m.AuthorID) })},
		{Name: "createdAt", Column: "created_at", Compare: byInt(func(m core.Message) int64 { return m.CreatedAt.UnixNano() })},
	},
	Normalize: func(m core.Message) core.Message {
		m.CreatedAt = core.NormalizeTime(m.CreatedAt)
		if m.EditedAt != nil {
			at := core.NormalizeTime(*m.EditedAt)
			m.EditedAt = &at
		}
		return m
	},
	Clone: func(m core.Message) core.Message {
		if m.EditedAt != nil {
			at := *m.EditedAt
			m.EditedAt = &at
		}
		return m
	},
}

var SessionSchema = Schema[core.Session, core.ID]{
	Entity:      EntitySession,
	Table:       "sessions",
	KeyField:    "id",
	KeyOf:       func(s core.Session) core.ID { return s.ID },
	CompareKeys: core.ID.Compare,
	Sequence:    idSequence(func(s core.Session, id core.ID) core.Session { s.ID = id; return s }),
	Fields: []Field[core.Session]{
		{Name: "userId", Column: "user_id", Compare: byInt(func(s core.Session) int64 { return idOf(s.UserID) })},
		{Name: "expiresAt", Column: "expires_at", Compare: byInt(func(s core.Session) int64 { return s.ExpiresAt.UnixNano() })},
	},
	Normalize: func(s core.Session) core.Session {
		s.ExpiresAt = core.NormalizeTime(s.ExpiresAt)
		return s
	},
}

var AccessTokenSchema = Schema[core.AccessToken, core.Token]{
	Entity:      EntityAccessToken,
	Table:       "access_tokens",
	KeyField:    "token",
	KeyOf:       func(t core.AccessToken) core.Token { return t.Token },
	CompareKeys: core.Token.Compare,
	Fields: []Field[core.AccessToken]{
		{Name: "sessionId", Column: "session_id", Compare: byInt(func(t core.AccessToken) int64 { return idOf(t.SessionID) })},
		{Name: "expiresAt", Column: "expires_at", Compare: byInt(func(t core.AccessToken) int64 { return t.ExpiresAt.UnixNano() })},
	},
	Normalize: func(t core.AccessToken) core.AccessToken {
		t.ExpiresAt = core.NormalizeTime(t.ExpiresAt)
		return t
	},
}

var RefreshTokenSchema = Schema[core.RefreshToken, core.Token]{
	Entity:      EntityRefreshToken,
	Table:       "refresh_tokens",
	KeyField:    "token",
	KeyOf:       func(t core.RefreshToken) core.Token { return t.Token },
	CompareKeys: core.Token.Compare,
	Fields: []Field[core.RefreshToken]{
		{Name: "sessionId", Column: "session_id", Compare: byInt(func(t core.RefreshToken) int64 { return idOf(t.SessionID) })},
	},
}

var ChannelInvitationSchema = Schema[core.ChannelInvitation, core.ID]{
	Entity:      EntityChannelInvitation,
	Table:       "channel_invitations",
	KeyField:    "id",
	KeyOf:       func(i core.ChannelInvitation) core.ID { return i.ID },
	CompareKeys: core.ID.Compare,
	Sequence: idSequence(func(i core.ChannelInvitation, id core.ID) core.ChannelInvitation {
		i.ID = id
		return i
	}),
	Fields: []Field[core.ChannelInvitation]{
		{Name: "channelId", Column: "channel_id", Compare: byInt(func(i core.ChannelInvitation) int64 { return idOf(i.ChannelID) })},
		{Name: "inviterId", Column: "inviter_id", Compare: byInt(func(i core.ChannelInvitation) int64 { return idOf(i.InviterID) })},
		{Name: "inviteeId", Column: "invitee_id", Compare: byInt(func(i core.ChannelInvitation) int64 { return idOf(i.InviteeID) })},
		{Name: "status", Column: "status", Compare: byString(func(i core.ChannelInvitation) string { return string(i.Status) })},
		{Name: "role", Column: "role", Compare: byString(func(i core.ChannelInvitation) string { return string(i.Role) })},
		{Name: "expiresAt", Column: "expires_at", Compare: byInt(func(i core.ChannelInvitation) int64 { return i.ExpiresAt.UnixNano() })},
	},
	Normalize: func(i core.ChannelInvitation) core.ChannelInvitation {
		i.ExpiresAt = core.NormalizeTime(i.ExpiresAt)
		return i
	},
}

var AppInvitationSchema = Schema[core.AppInvitation, core.Token]{
	Entity:      EntityAppInvitation,
	Table:       "app_invitations",
	KeyField:    "token",
	KeyOf:       func(i core.AppInvitation) core.Token { return i.Token },
	CompareKeys: core.Token.Compare,
	Fields: []Field[core.AppInvitation]{
		{Name: "status", Column: "status", Compare: byString(func(i core.AppInvitation) string { return string(i.Status) })},
		{Name: "expiresAt", Column: "expires_at", Compare: byInt(func(i core.AppInvitation) int64 { return i.ExpiresAt.UnixNano() })},
	},
	Normalize: func(i core.AppInvitation) core.AppInvitation {
		i.ExpiresAt = core.NormalizeTime(i.ExpiresAt)
		return i
	},
}

// Entities lists every entity kind in dependency order.
var Entities = []string{
	EntityUser,
	EntityChannel,
	EntityMessage,
	EntitySession,
	EntityAccessToken,
	EntityRefreshToken,
	EntityChannelInvitation,
	EntityAppInvitation,
}
