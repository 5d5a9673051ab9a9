package badger

import (
	"errors"
	"fmt"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/varint"

	"github.com/poiesic/chatstore/core"
	"github.com/poiesic/chatstore/storage"
)

// formatVersion prefixes every encoded value.
const formatVersion byte = 1

var errTrailingBytes = errors.New("trailing bytes after value")

// encoder appends MUS-encoded fields to a buffer.
type encoder struct {
	bs []byte
}

func newEncoder() *encoder {
	return &encoder{bs: []byte{formatVersion}}
}

func (e *encoder) put(size int, marshal func([]byte) int) {
	start := len(e.bs)
	e.bs = append(e.bs, make([]byte, size)...)
	marshal(e.bs[start:])
}

func (e *encoder) int64(v int64) {
	e.put(varint.Int64.Size(v), func(bs []byte) int { return varint.Int64.Marshal(v, bs) })
}

func (e *encoder) string(v string) {
	e.put(ord.String.Size(v), func(bs []byte) int { return ord.String.Marshal(v, bs) })
}

func (e *encoder) bool(v bool) {
	e.put(ord.Bool.Size(v), func(bs []byte) int { return ord.Bool.Marshal(v, bs) })
}

func (e *encoder) id(v core.ID) {
	e.int64(v.Int64())
}

// decoder reads fields in the order they were encoded. The first failure sticks.
type decoder struct {
	bs  []byte
	err error
}

func newDecoder(bs []byte) *decoder {
	d := &decoder{bs: bs}
	switch {
	case len(bs) == 0:
		d.err = storage.ErrTruncatedData
	case bs[0] != formatVersion:
		d.err = fmt.Errorf("unsupported format version %d", bs[0])
	default:
		d.bs = bs[1:]
	}
	return d
}

func take[V any](d *decoder, unmarshal func([]byte) (V, int, error)) V {
	var zero V
	if d.err != nil {
		return zero
	}
	v, n, err := unmarshal(d.bs)
	if err != nil {
		d.err = fmt.Errorf("%w: %w", storage.ErrTruncatedData, err)
		return zero
	}
	d.bs = d.bs[n:]
	return v
}

func (d *decoder) int64() int64 {
	return take(d, varint.Int64.Unmarshal)
}

func (d *decoder) string() string {
	return take(d, ord.String.Unmarshal)
}

func (d *decoder) bool() bool {
	return take(d, ord.Bool.Unmarshal)
}

// finish reports the first decoding failure, or trailing input.
func (d *decoder) finish() error {
	if d.err == nil && len(d.bs) > 0 {
		d.err = errTrailingBytes
	}
	return d.err
}

// codec encodes one entity kind.
type codec[T any] struct {
	encode func(*encoder, T)
	// decode builds the entity through v, which validates every field.
	decode func(d *decoder, v *storage.Decoder) T
}

func (c codec[T]) marshal(v T) []byte {
	e := newEncoder()
	c.encode(e, v)
	return e.bs
}

func (c codec[T]) unmarshal(entity string, bs []byte) (T, error) {
	var zero T
	d := newDecoder(bs)
	v := storage.Decoder{Entity: entity}
	out := c.decode(d, &v)
	if err := d.finish(); err != nil {
		return zero, fmt.Errorf("%w: %s: %w", storage.ErrSerializationFailed, entity, err)
	}
	if err := v.Err(); err != nil {
		return zero, err
	}
	return out, nil
}

var userCodec = codec[core.User]{
	encode: func(e *encoder, u core.User) {
		e.id(u.ID)
		e.string(u.Name.String())
		e.string(u.Email.String())
		e.string(u.Password.String())
	},
	decode: func(d *decoder, v *storage.Decoder) core.User {
		return core.User{
			ID:       v.ID(d.int64()),
			Name:     v.Name(d.string()),
			Email:    v.Email(d.string()),
			Password: v.PasswordHash(d.string()),
		}
	},
}

var channelCodec = codec[core.Channel]{
	encode: func(e *encoder, c core.Channel) {
		e.id(c.ID)
		e.string(c.Name.String())
		e.id(c.OwnerID)
		e.string(string(c.Visibility))
		members := c.Members()
		e.int64(int64(len(members)))
		for _, m := range members {
			e.id(m.UserID)
			e.string(string(m.Role))
		}
	},
	decode: func(d *decoder, v *storage.Decoder) core.Channel {
		id := v.ID(d.int64())
		name := v.Name(d.string())
		owner := v.ID(d.int64())
		visibility := v.Visibility(d.string())
		n := d.int64()
		if n < 0 || n > int64(len(d.bs)) {
			v.Fail(storage.ErrTruncatedData)
			return core.Channel{}
		}
		members := make([]core.Member, 0, n)
		for range n {
			members = append(members, core.Member{UserID: v.ID(d.int64()), Role: v.Role(d.string())})
		}
		if d.err != nil {
			return core.Channel{}
		}
		c, err := core.NewChannel(id, name, owner, visibility, members...)
		v.Fail(err)
		return c
	},
}

var messageCodec = codec[core.Message]{
	encode: func(e *encoder, m core.Message) {
		e.id(m.ID)
		e.id(m.ChannelID)
		e.id(m.AuthorID)
		e.string(m.Content.String())
		e.int64(storage.Nanos(m.CreatedAt))
		e.bool(m.EditedAt != nil)
		if m.EditedAt != nil {
			e.int64(storage.Nanos(*m.EditedAt))
		}
	},
	decode: func(d *decoder, v *storage.Decoder) core.Message {
		m := core.Message{
			ID:        v.ID(d.int64()),
			ChannelID: v.ID(d.int64()),
			AuthorID:  v.ID(d.int64()),
			Content:   v.Content(d.string()),
			CreatedAt: v.Time(d.int64()),
		}
		if d.bool() {
			at := v.Time(d.int64())
			m.EditedAt = &at
		}
		return m
	},
}

var sessionCodec = codec[core.Session]{
	encode: func(e *encoder, s core.Session) {
		e.id(s.ID)
		e.id(s.UserID)
		e.int64(storage.Nanos(s.ExpiresAt))
	},
	decode: func(d *decoder, v *storage.Decoder) core.Session {
		return core.Session{ID: v.ID(d.int64()), UserID: v.ID(d.int64()), ExpiresAt: v.Time(d.int64())}
	},
}

var accessTokenCodec = codec[core.AccessToken]{
	encode: func(e *encoder, t core.AccessToken) {
		e.string(t.Token.String())
		e.id(t.SessionID)
		e.int64(storage.Nanos(t.ExpiresAt))
	},
	decode: func(d *decoder, v *storage.Decoder) core.AccessToken {
		return core.AccessToken{Token: v.Token(d.string()), SessionID: v.ID(d.int64()), ExpiresAt: v.Time(d.int64())}
	},
}

var refreshTokenCodec = codec[core.RefreshToken]{
	encode: func(e *encoder, t core.RefreshToken) {
		e.string(t.Token.String())
		e.id(t.SessionID)
	},
	decode: func(d *decoder, v *storage.Decoder) core.RefreshToken {
		return core.RefreshToken{Token: v.Token(d.string()), SessionID: v.ID(d.int64())}
	},
}

var channelInvitationCodec = codec[core.ChannelInvitation]{
	encode: func(e *encoder, i core.ChannelInvitation) {
		e.id(i.ID)
		e.id(i.ChannelID)
		e.id(i.InviterID)
		e.id(i.InviteeID)
		e.string(string(i.Status))
		e.string(string(i.Role))
		e.int64(storage.Nanos(i.ExpiresAt))
	},
	decode: func(d *decoder, v *storage.Decoder) core.ChannelInvitation {
		return core.ChannelInvitation{
			ID:        v.ID(d.int64()),
			ChannelID: v.ID(d.int64()),
			InviterID: v.ID(d.int64()),
			InviteeID: v.ID(d.int64()),
			Status:    v.InvitationStatus(d.string()),
			Role:      v.Role(d.string()),
			ExpiresAt: v.Time(d.int64()),
		}
	},
}

var appInvitationCodec = codec[core.AppInvitation]{
	encode: func(e *encoder, i core.AppInvitation) {
		e.string(i.Token.String())
		e.string(string(i.Status))
		e.int64(storage.Nanos(i.ExpiresAt))
	},
	decode: func(d *decoder, v *storage.Decoder) core.AppInvitation {
		return core.AppInvitation{Token: v.Token(d.string()), Status: v.AppInvitationStatus(d.string()), ExpiresAt: v.Time(d.int64())}
	},
}
