package relational

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/chatstore/core"
	"github.com/poiesic/chatstore/storage"
	"github.com/poiesic/chatstore/storage/storagetest"
)

// postgresEnv names a PostgreSQL DSN used for the conformance suite.
const postgresEnv = "CHATSTORE_TEST_POSTGRES_DSN"

func openSQLite(t *testing.T) *Backend {
	t.Helper()
	b, err := Open(context.Background(), SQLite, filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	require.NoError(t, b.Migrate(context.Background()))
	return b
}

func TestSQLiteConformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Backend {
		return openSQLite(t)
	})
}

func TestPostgresConformance(t *testing.T) {
	dsn := os.Getenv(postgresEnv)
	if dsn == "" {
		t.Skipf("%s not set", postgresEnv)
	}
	storagetest.Run(t, func(t *testing.T) storage.Backend {
		b, err := Open(context.Background(), Postgres, dsn)
		require.NoError(t, err)
		require.NoError(t, b.Migrate(context.Background()))
		require.NoError(t, b.Truncate(context.Background()))
		return b
	})
}

func TestRebind(t *testing.T) {
	q := "SELECT 1 FROM users WHERE name = ? AND id <> ? LIMIT 1"
	assert.Equal(t, q, SQLite.rebind(q))
	assert.Equal(t, "SELECT 1 FROM users WHERE name = $1 AND id <> $2 LIMIT 1", Postgres.rebind(q))
}

func TestParseDialect(t *testing.T) {
	for name, want := range map[string]*Dialect{
		"sqlite":     SQLite,
		"SQLite3":    SQLite,
		"postgres":   Postgres,
		"postgresql": Postgres,
		"pgx":        Postgres,
	} {
		got, err := ParseDialect(name)
		require.NoError(t, err, name)
		assert.Same(t, want, got, name)
	}
	_, err := ParseDialect("mysql")
	assert.Error(t, err)
}

func TestSQLiteDSN(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/tmp/chat.db", "file:/tmp/chat.db?_txlock=immediate&_busy_timeout=5000&_journal_mode=WAL"},
		{"file:chat.db?cache=shared", "file:chat.db?cache=shared&_txlock=immediate&_busy_timeout=5000&_journal_mode=WAL"},
		{":memory:", ":memory:?_txlock=immediate&_busy_timeout=5000"},
		{"file:x.db?_txlock=deferred&_busy_timeout=1&_journal_mode=DELETE", "file:x.db?_txlock=deferred&_busy_timeout=1&_journal_mode=DELETE"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sqliteDSN(tt.in), tt.in)
	}
}

func TestUpsertSQL(t *testing.T) {
	assert.Equal(t,
		"INSERT INTO sessions (id, user_id, expires_at) VALUES (?, ?, ?) ON CONFLICT (id) DO UPDATE SET user_id = excluded.user_id, expires_at = excluded.expires_at",
		sessionRows.upsertSQL())
}

func TestChunks(t *testing.T) {
	args := make([]any, 2*maxParams+3)
	got := chunks(args)
	require.Len(t, got, 3)
	assert.Len(t, got[0], maxParams)
	assert.Len(t, got[2], 3)
	assert.Empty(t, chunks(nil))
}

func TestInMemorySQLite(t *testing.T) {
	b, err := Open(context.Background(), SQLite, ":memory:")
	require.NoError(t, err)
	require.NoError(t, b.Migrate(context.Background()))

	m, err := storage.NewManager(b)
	require.NoError(t, err)
	defer m.Close()

	saved, err := storage.Run(context.Background(), m, storage.IsolationDefault, func(ctx context.Context, uow *storage.UnitOfWork) (core.User, error) {
		return uow.Users().Save(ctx, storagetest.NewUser(t, 0, "alice"))
	})
	require.NoError(t, err)
	assert.Equal(t, core.MustID(1), saved.ID)
}

func TestMigrateIsIdempotent(t *testing.T) {
	b := openSQLite(t)
	defer b.Close()
	require.NoError(t, b.Migrate(context.Background()))

	m, err := storage.NewManager(b)
	require.NoError(t, err)
	require.NoError(t, m.Do(context.Background(), storage.IsolationDefault, func(ctx context.Context, uow *storage.UnitOfWork) error {
		_, err := uow.Users().Save(ctx, storagetest.NewUser(t, 0, "alice"))
		return err
	}))

	require.NoError(t, b.Truncate(context.Background()))
	saved, err := storage.Run(context.Background(), m, storage.IsolationDefault, func(ctx context.Context, uow *storage.UnitOfWork) (core.User, error) {
		return uow.Users().Save(ctx, storagetest.NewUser(t, 0, "bob"))
	})
	require.NoError(t, err)
	assert.Equal(t, core.MustID(1), saved.ID)
}

func TestChannelMembersSurviveReload(t *testing.T) {
	b := openSQLite(t)
	m, err := storage.NewManager(b)
	require.NoError(t, err)
	defer m.Close()

	channel := storagetest.NewChannel(t, 0, "general", 1, core.VisibilityPrivate,
		core.Member{UserID: core.MustID(3), Role: core.RoleGuest},
		core.Member{UserID: core.MustID(2), Role: core.RoleMember})

	ctx := context.Background()
	saved, err := storage.Run(ctx, m, storage.IsolationDefault, func(ctx context.Context, uow *storage.UnitOfWork) (core.Channel, error) {
		return uow.Channels().Save(ctx, channel)
	})
	require.NoError(t, err)

	loaded, err := storage.Run(ctx, m, storage.IsolationDefault, func(ctx context.Context, uow *storage.UnitOfWork) (core.Channel, error) {
		c, ok, err := uow.Channels().FindByID(ctx, saved.ID)
		require.True(t, ok)
		return c, err
	})
	require.NoError(t, err)
	assert.Equal(t, saved, loaded)
	assert.Equal(t, []core.Member{
		{UserID: core.MustID(1), Role: core.RoleOwner},
		{UserID: core.MustID(2), Role: core.RoleMember},
		{UserID: core.MustID(3), Role: core.RoleGuest},
	}, loaded.Members())

	require.NoError(t, m.Do(ctx, storage.IsolationDefault, func(ctx context.Context, uow *storage.UnitOfWork) error {
		return uow.Channels().DeleteByID(ctx, saved.ID)
	}))
	var orphans int
	require.NoError(t, b.db.QueryRow("SELECT COUNT(*) FROM channel_members").Scan(&orphans))
	assert.Zero(t, orphans)
}
