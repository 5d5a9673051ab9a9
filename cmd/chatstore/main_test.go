package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/chatstore"
	"github.com/poiesic/chatstore/config"
	"github.com/poiesic/chatstore/storage"
	st "github.com/poiesic/chatstore/storage/storagetest"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	app := newApp()
	var out, errOut bytes.Buffer
	app.Writer = &out
	app.ErrWriter = &errOut
	err := app.Run(append([]string{"chatstore", "--env-file", filepath.Join(t.TempDir(), "none.env")}, args...))
	return out.String(), err
}

func seedSQLite(t *testing.T, dsn string) {
	cfg := config.Default()
	cfg.Backend = config.BackendSQLite
	cfg.DSN = dsn
	cfg.Metrics = false
	db, err := chatstore.Open(cfg)
	require.NoError(t, err)
	defer db.Close()

	err = db.Do(context.Background(), storage.IsolationDefault, func(ctx context.Context, uow *storage.UnitOfWork) error {
		for _, name := range []string{"alice", "bob", "carol"} {
			if _, err := uow.Users().Save(ctx, st.NewUser(t, 0, name)); err != nil {
				return err
			}
		}
		// long expired, whatever the wall clock says
		_, err := uow.Sessions().Save(ctx, st.NewSession(t, 0, 1, time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)))
		return err
	})
	require.NoError(t, err)
}

func TestInvalidLogLevel(t *testing.T) {
	_, err := run(t, "--log-level", "loud", "stats")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestMigrate(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "chat.db")
	out, err := run(t, "--backend", "sqlite", "--dsn", dsn, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "schema is up to date (sqlite)")

	_, err = os.Stat(dsn)
	assert.NoError(t, err)
}

func TestStats(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "chat.db")
	seedSQLite(t, dsn)

	out, err := run(t, "--backend", "sqlite", "--dsn", dsn, "stats")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, len(storage.Entities))
	assert.Equal(t, []string{"user", "3"}, strings.Fields(lines[0]))

	out, err = run(t, "--backend", "sqlite", "--dsn", dsn, "stats", "--json")
	require.NoError(t, err)
	var counts map[string]int64
	require.NoError(t, json.Unmarshal([]byte(out), &counts))
	assert.Equal(t, int64(3), counts[storage.EntityUser])
	assert.Equal(t, int64(1), counts[storage.EntitySession])
}

func TestSweep(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "chat.db")
	seedSQLite(t, dsn)

	out, err := run(t, "--backend", "sqlite", "--dsn", dsn, "sweep", "--resolved")
	require.NoError(t, err)
	assert.Contains(t, out, "resolved_invitation")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Equal(t, []string{"total", "1"}, strings.Fields(lines[len(lines)-1]))
}

func TestSweepBadgerWithCompaction(t *testing.T) {
	_, err := run(t, "--db", filepath.Join(t.TempDir(), "badger"), "sweep", "--gc-ratio", "0.5")
	require.NoError(t, err)
}

func TestExport(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "chat.db")
	seedSQLite(t, dsn)

	out, err := run(t, "--backend", "sqlite", "--dsn", dsn, "export", "--entity", "user", "--sort", "name", "--direction", "desc")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], `"name":"carol"`)
	assert.Contains(t, lines[2], `"name":"alice"`)

	file := filepath.Join(t.TempDir(), "sessions.jsonl")
	_, err = run(t, "--backend", "sqlite", "--dsn", dsn, "export", "-e", "session", "-o", file)
	require.NoError(t, err)
	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(data), "\n"))
}

func TestExportErrors(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "chat.db")

	_, err := run(t, "--backend", "sqlite", "--dsn", dsn, "export")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "entity")

	_, err = run(t, "--backend", "sqlite", "--dsn", dsn, "export", "-e", "widget")
	assert.Error(t, err)

	_, err = run(t, "--backend", "sqlite", "--dsn", dsn, "export", "-e", "user", "--direction", "sideways")
	assert.Error(t, err)
}

func TestLoadConfigRequiresDSN(t *testing.T) {
	_, err := run(t, "--backend", "postgres", "stats")
	assert.ErrorIs(t, err, config.ErrInvalid)
}
