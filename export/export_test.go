package export

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/chatstore/notify"
	"github.com/poiesic/chatstore/pagination"
	"github.com/poiesic/chatstore/storage"
	"github.com/poiesic/chatstore/storage/memory"
	st "github.com/poiesic/chatstore/storage/storagetest"
)

func newManager(t *testing.T) *storage.Manager {
	b, err := memory.New()
	require.NoError(t, err)
	mgr, err := storage.NewManager(b)
	require.NoError(t, err)
	t.Cleanup(func() { mgr.Close() })
	return mgr
}

func decode(t *testing.T, out *bytes.Buffer) []Record {
	var recs []Record
	sc := bufio.NewScanner(out)
	for sc.Scan() {
		var r Record
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r))
		recs = append(recs, r)
	}
	require.NoError(t, sc.Err())
	return recs
}

func TestExport_Messages(t *testing.T) {
	mgr := newManager(t)
	err := mgr.Do(context.Background(), storage.IsolationDefault, func(ctx context.Context, uow *storage.UnitOfWork) error {
		for i := int64(1); i <= 7; i++ {
			if _, err := uow.Messages().Save(ctx, st.NewMessage(t, 0, 1, 1, "m", st.Now)); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	var out, progress bytes.Buffer
	e, err := New(mgr, WithBatchSize(3), WithProgress(&progress, 2))
	require.NoError(t, err)

	n, err := e.Export(context.Background(), storage.EntityMessage, pagination.Sort{By: "id", Direction: pagination.Desc}, &out)
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	recs := decode(t, &out)
	require.Len(t, recs, 7)
	assert.Equal(t, "7", recs[0].Key)
	assert.Equal(t, "1", recs[6].Key)
	assert.Equal(t, storage.EntityMessage, recs[0].Entity)

	assert.Contains(t, progress.String(), "message: 7/7 (100.0%)")
	assert.True(t, strings.HasSuffix(progress.String(), "\n"))
}

func TestExport_HidesSecrets(t *testing.T) {
	mgr := newManager(t)
	err := mgr.Do(context.Background(), storage.IsolationDefault, func(ctx context.Context, uow *storage.UnitOfWork) error {
		if _, err := uow.Users().Save(ctx, st.NewUser(t, 0, "alice")); err != nil {
			return err
		}
		_, err := uow.RefreshTokens().Save(ctx, st.NewRefreshToken(t, "very-secret", 1))
		return err
	})
	require.NoError(t, err)

	e, err := New(mgr)
	require.NoError(t, err)

	var out bytes.Buffer
	_, err = e.Export(context.Background(), storage.EntityRefreshToken, pagination.ByID, &out)
	require.NoError(t, err)
	assert.NotContains(t, out.String(), "very-secret")
	assert.Contains(t, out.String(), notify.Fingerprint("very-secret"))

	out.Reset()
	_, err = e.Export(context.Background(), storage.EntityUser, pagination.ByID, &out)
	require.NoError(t, err)
	assert.NotContains(t, out.String(), "argon2")
}

func TestExport_Errors(t *testing.T) {
	e, err := New(newManager(t))
	require.NoError(t, err)

	_, err = e.Export(context.Background(), "widget", pagination.ByID, &bytes.Buffer{})
	assert.ErrorIs(t, err, ErrUnknownEntity)

	_, err = e.Export(context.Background(), storage.EntityUser, pagination.Sort{By: "shoeSize"}, &bytes.Buffer{})
	assert.ErrorIs(t, err, storage.ErrInvalidQuery)

	_, err = New(nil)
	assert.Error(t, err)
	_, err = New(newManager(t), WithBatchSize(0))
	assert.Error(t, err)
}

func TestExport_Empty(t *testing.T) {
	e, err := New(newManager(t))
	require.NoError(t, err)
	var out bytes.Buffer
	n, err := e.Export(context.Background(), storage.EntitySession, pagination.ByID, &out)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, out.String())
}

func TestKinds(t *testing.T) {
	kinds := Kinds()
	assert.Len(t, kinds, 8)
	kinds[0] = "mutated"
	assert.Equal(t, storage.EntityUser, Kinds()[0])
}
