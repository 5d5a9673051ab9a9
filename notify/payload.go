package notify

import (
	"encoding/hex"
	"time"

	"github.com/go-crypt/x/blake2b"

	"github.com/poiesic/chatstore/core"
	"github.com/poiesic/chatstore/storage"
)

// Envelope is the wire form of one event. Secrets never leave the process:
// password hashes are omitted and tokens are replaced by a fingerprint.
type Envelope struct {
	ID          string    `json:"id"`
	Sequence    uint64    `json:"sequence"`
	Position    int       `json:"position"`
	Kind        string    `json:"kind"`
	Entity      string    `json:"entity"`
	Key         string    `json:"key"`
	CommittedAt time.Time `json:"committedAt"`
	Data        any       `json:"data,omitempty"`
}

// BatchEnvelope is the wire form of a whole batch.
type BatchEnvelope struct {
	Sequence    uint64     `json:"sequence"`
	CommittedAt time.Time  `json:"committedAt"`
	Isolation   string     `json:"isolation"`
	Events      []Envelope `json:"events"`
}

// Fingerprint returns a short stable digest of a secret.
func Fingerprint(secret string) string {
	h, _ := blake2b.New(8, nil)
	h.Write([]byte(secret))
	return hex.EncodeToString(h.Sum(nil))
}

// secretKeyed lists the entity kinds whose key is a bearer secret.
var secretKeyed = map[string]bool{
	storage.EntityAccessToken:   true,
	storage.EntityRefreshToken:  true,
	storage.EntityAppInvitation: true,
}

// PublicKey returns key as it may be shown outside the store: secret keys
// are replaced by their fingerprint.
func PublicKey(entity, key string) string {
	if secretKeyed[entity] {
		return Fingerprint(key)
	}
	return key
}

// NewEnvelope converts e for publication.
func NewEnvelope(e storage.Event, committedAt time.Time) Envelope {
	return Envelope{
		ID:          e.ID,
		Sequence:    e.Sequence,
		Position:    e.Position,
		Kind:        string(e.Kind),
		Entity:      e.Entity,
		Key:         PublicKey(e.Entity, e.Key),
		CommittedAt: committedAt,
		Data:        Payload(e.Value),
	}
}

// NewBatchEnvelope converts every event of b.
func NewBatchEnvelope(b storage.Batch) BatchEnvelope {
	out := BatchEnvelope{
		Sequence:    b.Sequence,
		CommittedAt: b.CommittedAt,
		Isolation:   b.Isolation.String(),
		Events:      make([]Envelope, len(b.Events)),
	}
	for i, e := range b.Events {
		out.Events[i] = NewEnvelope(e, b.CommittedAt)
	}
	return out
}

type userPayload struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type memberPayload struct {
	UserID int64  `json:"userId"`
	Role   string `json:"role"`
}

type channelPayload struct {
	ID         int64           `json:"id"`
	Name       string          `json:"name"`
	OwnerID    int64           `json:"ownerId"`
	Visibility string          `json:"visibility"`
	Members    []memberPayload `json:"members"`
}

type messagePayload struct {
	ID        int64      `json:"id"`
	ChannelID int64      `json:"channelId"`
	AuthorID  int64      `json:"authorId"`
	Content   string     `json:"content"`
	CreatedAt time.Time  `json:"createdAt"`
	EditedAt  *time.Time `json:"editedAt,omitempty"`
}

type sessionPayload struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type tokenPayload struct {
	Fingerprint string     `json:"fingerprint"`
	SessionID   int64      `json:"sessionId"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
}

type channelInvitationPayload struct {
	ID        int64     `json:"id"`
	ChannelID int64     `json:"channelId"`
	InviterID int64     `json:"inviterId"`
	InviteeID int64     `json:"inviteeId"`
	Status    string    `json:"status"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type appInvitationPayload struct {
	Fingerprint string    `json:"fingerprint"`
	Status      string    `json:"status"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Payload maps an entity onto its public JSON shape. Unknown values map to nil.
func Payload(v any) any {
	switch v := v.(type) {
	case core.User:
		return userPayload{ID: v.ID.Int64(), Name: v.Name.String(), Email: v.Email.String()}
	case core.Channel:
		members := make([]memberPayload, 0, len(v.Members()))
		for _, m := range v.Members() {
			members = append(members, memberPayload{UserID: m.UserID.Int64(), Role: string(m.Role)})
		}
		return channelPayload{
			ID:         v.ID.Int64(),
			Name:       v.Name.String(),
			OwnerID:    v.OwnerID.Int64(),
			Visibility: string(v.Visibility),
			Members:    members,
		}
	case core.Message:
		return messagePayload{
			ID:        v.ID.Int64(),
			ChannelID: v.ChannelID.Int64(),
			AuthorID:  v.AuthorID.Int64(),
			Content:   v.Content.String(),
			CreatedAt: v.CreatedAt,
			EditedAt:  v.EditedAt,
		}
	case core.Session:
		return sessionPayload{ID: v.ID.Int64(), UserID: v.UserID.Int64(), ExpiresAt: v.ExpiresAt}
	case core.AccessToken:
		at := v.ExpiresAt
		return tokenPayload{Fingerprint: Fingerprint(v.Token.String()), SessionID: v.SessionID.Int64(), ExpiresAt: &at}
	case core.RefreshToken:
		return tokenPayload{Fingerprint: Fingerprint(v.Token.String()), SessionID: v.SessionID.Int64()}
	case core.ChannelInvitation:
		return channelInvitationPayload{
			ID:        v.ID.Int64(),
			ChannelID: v.ChannelID.Int64(),
			InviterID: v.InviterID.Int64(),
			InviteeID: v.InviteeID.Int64(),
			Status:    string(v.Status),
			Role:      string(v.Role),
			ExpiresAt: v.ExpiresAt,
		}
	case core.AppInvitation:
		return appInvitationPayload{Fingerprint: Fingerprint(v.Token.String()), Status: string(v.Status), ExpiresAt: v.ExpiresAt}
	}
	return nil
}
