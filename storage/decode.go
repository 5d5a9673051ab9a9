package storage

import (
	"fmt"
	"time"

	"github.com/poiesic/chatstore/core"
)

// Decoder rebuilds domain values from stored primitives. It keeps the first
// failure and turns every later call into a no-op.
type Decoder struct {
	Entity string
	err    error
}

// Fail records err unless a failure was already recorded.
func (d *Decoder) Fail(err error) {
	if d.err == nil && err != nil {
		d.err = err
	}
}

// Err returns the recorded failure wrapped in ErrSerializationFailed.
func (d *Decoder) Err() error {
	if d.err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrSerializationFailed, d.Entity, d.err)
}

func decode[V any](d *Decoder, build func() (V, error)) V {
	var zero V
	if d.err != nil {
		return zero
	}
	v, err := build()
	if err != nil {
		d.Fail(err)
		return zero
	}
	return v
}

func (d *Decoder) ID(v int64) core.ID {
	return decode(d, func() (core.ID, error) { return core.NewID(v) })
}

func (d *Decoder) Name(s string) core.Name {
	return decode(d, func() (core.Name, error) { return core.NewName(s) })
}

func (d *Decoder) Email(s string) core.Email {
	return decode(d, func() (core.Email, error) { return core.NewEmail(s) })
}

func (d *Decoder) PasswordHash(s string) core.PasswordHash {
	return decode(d, func() (core.PasswordHash, error) { return core.ParsePasswordHash(s) })
}

func (d *Decoder) Content(s string) core.Content {
	return decode(d, func() (core.Content, error) { return core.NewContent(s) })
}

func (d *Decoder) Token(s string) core.Token {
	return decode(d, func() (core.Token, error) { return core.NewToken(s) })
}

func (d *Decoder) Visibility(s string) core.Visibility {
	return decode(d, func() (core.Visibility, error) { return core.ParseVisibility(s) })
}

func (d *Decoder) Role(s string) core.Role {
	return decode(d, func() (core.Role, error) { return core.ParseRole(s) })
}

func (d *Decoder) InvitationStatus(s string) core.InvitationStatus {
	return decode(d, func() (core.InvitationStatus, error) { return core.ParseInvitationStatus(s) })
}

func (d *Decoder) AppInvitationStatus(s string) core.AppInvitationStatus {
	return decode(d, func() (core.AppInvitationStatus, error) { return core.ParseAppInvitationStatus(s) })
}

// Time converts Unix nanoseconds to a UTC time.
func (d *Decoder) Time(nanos int64) time.Time {
	return time.Unix(0, nanos).UTC()
}

// Nanos is the stored form of a time.
func Nanos(t time.Time) int64 {
	return t.UnixNano()
}
