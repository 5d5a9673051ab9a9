package relational

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/poiesic/chatstore/core"
	"github.com/poiesic/chatstore/storage"
)

type scanner interface {
	Scan(dest ...any) error
}

// mapping binds an entity schema to its table. The key column comes first in columns.
type mapping[T storage.Entity, K storage.Key] struct {
	schema  storage.Schema[T, K]
	columns []string
	keyArg  func(K) any
	values  func(T) []any
	scan    func(scanner) (T, error)

	// hydrate, saved and removed maintain child tables.
	hydrate func(ctx context.Context, t *tx, items []T) ([]T, error)
	saved   func(ctx context.Context, t *tx, v T) error
	removed func(ctx context.Context, t *tx, keys []any) error
}

func (m *mapping[T, K]) key() string {
	return m.schema.KeyField
}

func (m *mapping[T, K]) selectSQL() string {
	return "SELECT " + strings.Join(m.columns, ", ") + " FROM " + m.schema.Table
}

func (m *mapping[T, K]) upsertSQL() string {
	sets := make([]string, 0, len(m.columns)-1)
	for _, c := range m.columns[1:] {
		sets = append(sets, c+" = excluded."+c)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		m.schema.Table,
		strings.Join(m.columns, ", "),
		placeholders(len(m.columns)),
		m.key(),
		strings.Join(sets, ", "))
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func idArg(id core.ID) any      { return id.Int64() }
func tokenArg(t core.Token) any  { return t.String() }

var userRows = &mapping[core.User, core.ID]{
	schema:  storage.UserSchema,
	columns: []string{"id", "name", "email", "password"},
	keyArg:  idArg,
	values: func(u core.User) []any {
		return []any{u.ID.Int64(), u.Name.String(), u.Email.String(), u.Password.String()}
	},
	scan: func(row scanner) (core.User, error) {
		var (
			id                    int64
			name, email, password string
		)
		if err := row.Scan(&id, &name, &email, &password); err != nil {
			return core.User{}, err
		}
		d := storage.Decoder{Entity: storage.EntityUser}
		u := core.User{ID: d.ID(id), Name: d.Name(name), Email: d.Email(email), Password: d.PasswordHash(password)}
		return u, d.Err()
	},
}

var channelRows = &mapping[core.Channel, core.ID]{
	schema:  storage.ChannelSchema,
	columns: []string{"id", "name", "owner_id", "visibility"},
	keyArg:  idArg,
	values: func(c core.Channel) []any {
		return []any{c.ID.Int64(), c.Name.String(), c.OwnerID.Int64(), string(c.Visibility)}
	},
	scan: func(row scanner) (core.Channel, error) {
		var (
			id, owner        int64
			name, visibility string
		)
		if err := row.Scan(&id, &name, &owner, &visibility); err != nil {
			return core.Channel{}, err
		}
		d := storage.Decoder{Entity: storage.EntityChannel}
		c := core.Channel{ID: d.ID(id), Name: d.Name(name), OwnerID: d.ID(owner), Visibility: d.Visibility(visibility)}
		return c, d.Err()
	},
	hydrate: loadMembers,
	saved:   storeMembers,
	removed: func(ctx context.Context, t *tx, keys []any) error {
		_, err := t.exec(ctx, "DELETE FROM channel_members WHERE channel_id IN ("+placeholders(len(keys))+")", keys...)
		return err
	},
}

// loadMembers attaches the membership rows to each channel.
func loadMembers(ctx context.Context, t *tx, items []core.Channel) ([]core.Channel, error) {
	if len(items) == 0 {
		return items, nil
	}
	members := make(map[int64][]core.Member, len(items))
	ids := make([]any, 0, len(items))
	for _, c := range items {
		ids = append(ids, c.ID.Int64())
	}
	for _, chunk := range chunks(ids) {
		rows, err := t.query(ctx,
			"SELECT channel_id, user_id, role FROM channel_members WHERE channel_id IN ("+placeholders(len(chunk))+") ORDER BY channel_id, user_id",
			chunk...)
		if err != nil {
			return nil, fmt.Errorf("failed to load channel members: %w", err)
		}
		for rows.Next() {
			var (
				channel, user int64
				role          string
			)
			if err := rows.Scan(&channel, &user, &role); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan channel member: %w", err)
			}
			d := storage.Decoder{Entity: storage.EntityChannel}
			m := core.Member{UserID: d.ID(user), Role: d.Role(role)}
			if err := d.Err(); err != nil {
				rows.Close()
				return nil, err
			}
			members[channel] = append(members[channel], m)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to load channel members: %w", err)
		}
	}
	out := make([]core.Channel, 0, len(items))
	for _, c := range items {
		full, err := core.NewChannel(c.ID, c.Name, c.OwnerID, c.Visibility, members[c.ID.Int64()]...)
		if err != nil {
			return nil, fmt.Errorf("%w: %s %s: %w", storage.ErrSerializationFailed, storage.EntityChannel, c.ID, err)
		}
		out = append(out, full)
	}
	return out, nil
}

// storeMembers replaces the membership rows of c.
func storeMembers(ctx context.Context, t *tx, c core.Channel) error {
	if _, err := t.exec(ctx, "DELETE FROM channel_members WHERE channel_id = ?", c.ID.Int64()); err != nil {
		return fmt.Errorf("failed to clear channel members: %w", err)
	}
	for _, m := range c.Members() {
		if _, err := t.exec(ctx, "INSERT INTO channel_members (channel_id, user_id, role) VALUES (?, ?, ?)",
			c.ID.Int64(), m.UserID.Int64(), string(m.Role)); err != nil {
			return fmt.Errorf("failed to store channel member: %w", err)
		}
	}
	return nil
}

var messageRows = &mapping[core.Message, core.ID]{
	schema:  storage.MessageSchema,
	columns: []string{"id", "channel_id", "author_id", "content", "created_at", "edited_at"},
	keyArg:  idArg,
	values: func(m core.Message) []any {
		var edited any
		if m.EditedAt != nil {
			edited = storage.Nanos(*m.EditedAt)
		}
		return []any{m.ID.Int64(), m.ChannelID.Int64(), m.AuthorID.Int64(), m.Content.String(), storage.Nanos(m.CreatedAt), edited}
	},
	scan: func(row scanner) (core.Message, error) {
		var (
			id, channel, author, created int64
			content                      string
			edited                       sql.NullInt64
		)
		if err := row.Scan(&id, &channel, &author, &content, &created, &edited); err != nil {
			return core.Message{}, err
		}
		d := storage.Decoder{Entity: storage.EntityMessage}
		m := core.Message{
			ID:        d.ID(id),
			ChannelID: d.ID(channel),
			AuthorID:  d.ID(author),
			Content:   d.Content(content),
			CreatedAt: d.Time(created),
		}
		if edited.Valid {
			at := d.Time(edited.Int64)
			m.EditedAt = &at
		}
		return m, d.Err()
	},
}

var sessionRows = &mapping[core.Session, core.ID]{
	schema:  storage.SessionSchema,
	columns: []string{"id", "user_id", "expires_at"},
	keyArg:  idArg,
	values: func(s core.Session) []any {
		return []any{s.ID.Int64(), s.UserID.Int64(), storage.Nanos(s.ExpiresAt)}
	},
	scan: func(row scanner) (core.Session, error) {
		var id, user, expires int64
		if err := row.Scan(&id, &user, &expires); err != nil {
			return core.Session{}, err
		}
		d := storage.Decoder{Entity: storage.EntitySession}
		s := core.Session{ID: d.ID(id), UserID: d.ID(user), ExpiresAt: d.Time(expires)}
		return s, d.Err()
	},
}

var accessTokenRows = &mapping[core.AccessToken, core.Token]{
	schema:  storage.AccessTokenSchema,
	columns: []string{"token", "session_id", "expires_at"},
	keyArg:  tokenArg,
	values: func(t core.AccessToken) []any {
		return []any{t.Token.String(), t.SessionID.Int64(), storage.Nanos(t.ExpiresAt)}
	},
	scan: func(row scanner) (core.AccessToken, error) {
		var (
			token            string
			session, expires int64
		)
		if err := row.Scan(&token, &session, &expires); err != nil {
			return core.AccessToken{}, err
		}
		d := storage.Decoder{Entity: storage.EntityAccessToken}
		t := core.AccessToken{Token: d.Token(token), SessionID: d.ID(session), ExpiresAt: d.Time(expires)}
		return t, d.Err()
	},
}

var refreshTokenRows = &mapping[core.RefreshToken, core.Token]{
	schema:  storage.RefreshTokenSchema,
	columns: []string{"token", "session_id"},
	keyArg:  tokenArg,
	values: func(t core.RefreshToken) []any {
		return []any{t.Token.String(), t.SessionID.Int64()}
	},
	scan: func(row scanner) (core.RefreshToken, error) {
		var (
			token   string
			session int64
		)
		if err := row.Scan(&token, &session); err != nil {
			return core.RefreshToken{}, err
		}
		d := storage.Decoder{Entity: storage.EntityRefreshToken}
		t := core.RefreshToken{Token: d.Token(token), SessionID: d.ID(session)}
		return t, d.Err()
	},
}

var channelInvitationRows = &mapping[core.ChannelInvitation, core.ID]{
	schema:  storage.ChannelInvitationSchema,
	columns: []string{"id", "channel_id", "inviter_id", "invitee_id", "status", "role", "expires_at"},
	keyArg:  idArg,
	values: func(i core.ChannelInvitation) []any {
		return []any{
			i.ID.Int64(), i.ChannelID.Int64(), i.InviterID.Int64(), i.InviteeID.Int64(),
			string(i.Status), string(i.Role), storage.Nanos(i.ExpiresAt),
		}
	},
	scan: func(row scanner) (core.ChannelInvitation, error) {
		var (
			id, channel, inviter, invitee, expires int64
			status, role                           string
		)
		if err := row.Scan(&id, &channel, &inviter, &invitee, &status, &role, &expires); err != nil {
			return core.ChannelInvitation{}, err
		}
		d := storage.Decoder{Entity: storage.EntityChannelInvitation}
		i := core.ChannelInvitation{
			ID:        d.ID(id),
			ChannelID: d.ID(channel),
			InviterID: d.ID(inviter),
			InviteeID: d.ID(invitee),
			Status:    d.InvitationStatus(status),
			Role:      d.Role(role),
			ExpiresAt: d.Time(expires),
		}
		return i, d.Err()
	},
}

var appInvitationRows = &mapping[core.AppInvitation, core.Token]{
	schema:  storage.AppInvitationSchema,
	columns: []string{"token", "status", "expires_at"},
	keyArg:  tokenArg,
	values: func(i core.AppInvitation) []any {
		return []any{i.Token.String(), string(i.Status), storage.Nanos(i.ExpiresAt)}
	},
	scan: func(row scanner) (core.AppInvitation, error) {
		var (
			token, status string
			expires       int64
		)
		if err := row.Scan(&token, &status, &expires); err != nil {
			return core.AppInvitation{}, err
		}
		d := storage.Decoder{Entity: storage.EntityAppInvitation}
		i := core.AppInvitation{Token: d.Token(token), Status: d.AppInvitationStatus(status), ExpiresAt: d.Time(expires)}
		return i, d.Err()
	},
}
