package notify

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/chatstore/storage"
	"github.com/poiesic/chatstore/storage/storagetest"
)

func TestFingerprint(t *testing.T) {
	a := Fingerprint("secret-token")
	assert.Len(t, a, 16)
	assert.Equal(t, a, Fingerprint("secret-token"))
	assert.NotEqual(t, a, Fingerprint("other-token"))
}

func TestEnvelope_OmitsPasswordHash(t *testing.T) {
	u := storagetest.NewUser(t, 1, "alice")
	env := NewEnvelope(storage.Event{Kind: storage.EntityPersisted, Entity: storage.EntityUser, Key: "1", Value: u}, committedAt)

	b, err := json.Marshal(env)
	require.NoError(t, err)
	assert.NotContains(t, string(b), u.Password.String())
	assert.Contains(t, string(b), `"name":"alice"`)
	assert.Contains(t, string(b), `"email":"alice@example.com"`)
}

func TestEnvelope_FingerprintsTokens(t *testing.T) {
	expires := committedAt.Add(time.Hour)
	tests := []struct {
		name   string
		entity string
		raw    string
		value  any
	}{
		{"access token", storage.EntityAccessToken, "access-secret", storagetest.NewAccessToken(t, "access-secret", 1, expires)},
		{"refresh token", storage.EntityRefreshToken, "refresh-secret", storagetest.NewRefreshToken(t, "refresh-secret", 1)},
		{"app invitation", storage.EntityAppInvitation, "invite-secret", storagetest.NewAppInvitation(t, "invite-secret", expires)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := NewEnvelope(storage.Event{Kind: storage.EntityRemoved, Entity: tt.entity, Key: tt.raw, Value: tt.value}, committedAt)
			assert.Equal(t, Fingerprint(tt.raw), env.Key)

			b, err := json.Marshal(env)
			require.NoError(t, err)
			assert.NotContains(t, string(b), tt.raw)
			assert.Contains(t, string(b), Fingerprint(tt.raw))
		})
	}
}

func TestEnvelope_Message(t *testing.T) {
	m := storagetest.NewMessage(t, 4, 2, 1, "hello", committedAt)
	env := NewEnvelope(storage.Event{Kind: storage.EntityPersisted, Entity: storage.EntityMessage, Key: "4", Value: m}, committedAt)

	data, ok := env.Data.(messagePayload)
	require.True(t, ok)
	assert.Equal(t, int64(4), data.ID)
	assert.Equal(t, "hello", data.Content)
	assert.Nil(t, data.EditedAt)
}

func TestPayload_Unknown(t *testing.T) {
	assert.Nil(t, Payload(42))
}

func TestNewBatchEnvelope(t *testing.T) {
	b := userBatch(t, 7)
	env := NewBatchEnvelope(b)
	assert.Equal(t, uint64(7), env.Sequence)
	assert.Equal(t, "READ_COMMITTED", env.Isolation)
	require.Len(t, env.Events, 1)
	assert.Equal(t, b.Events[0].ID, env.Events[0].ID)
	assert.Equal(t, committedAt, env.Events[0].CommittedAt)
}
