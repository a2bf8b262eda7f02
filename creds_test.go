package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/drivedrop/internal/config"
	"github.com/tonimelisma/drivedrop/internal/store"
)

// writeSQLiteConfig writes a config pointing at a fresh SQLite file.
func writeSQLiteConfig(t *testing.T) (cfgPath, dbPath string) {
	t.Helper()

	dir := t.TempDir()
	dbPath = filepath.Join(dir, "drivedrop.db")
	cfgPath = filepath.Join(dir, "config.toml")

	content := fmt.Sprintf("[store]\ndriver = \"sqlite\"\ndsn = %q\n", dbPath)
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o600))

	return cfgPath, dbPath
}

func seedCredential(t *testing.T, dbPath, userID string) {
	t.Helper()

	ctx := context.Background()

	backend, err := store.Open(ctx, store.DriverSQLite, dbPath, testLogger())
	require.NoError(t, err)
	defer backend.Close()

	now := time.Now()
	require.NoError(t, backend.Credentials.Put(ctx, &store.Credential{
		UserID:       userID,
		AccessToken:  "secret-access",
		RefreshToken: "secret-refresh",
		ExpiresAt:    now.Add(time.Hour),
		CreatedAt:    now,
		UpdatedAt:    now,
	}))
}

func runRoot(t *testing.T, args ...string) error {
	t.Helper()

	cmd := newRootCmd()
	cmd.SetArgs(args)

	return cmd.Execute()
}

func TestMigrateCmd_CreatesDatabase(t *testing.T) {
	cfgPath, dbPath := writeSQLiteConfig(t)

	require.NoError(t, runRoot(t, "--config", cfgPath, "--quiet", "migrate"))

	_, err := os.Stat(dbPath)
	assert.NoError(t, err)
}

func TestCredsShow_Missing(t *testing.T) {
	cfgPath, _ := writeSQLiteConfig(t)

	err := runRoot(t, "--config", cfgPath, "--quiet", "creds", "show", "U404")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no credential stored for U404")
}

func TestCredsShow_Found(t *testing.T) {
	cfgPath, dbPath := writeSQLiteConfig(t)
	seedCredential(t, dbPath, "U1")

	require.NoError(t, runRoot(t, "--config", cfgPath, "--quiet", "--json", "creds", "show", "U1"))
}

func TestCredsRevoke(t *testing.T) {
	cfgPath, dbPath := writeSQLiteConfig(t)
	seedCredential(t, dbPath, "U1")

	require.NoError(t, runRoot(t, "--config", cfgPath, "--quiet", "creds", "revoke", "U1"))

	ctx := context.Background()

	backend, err := store.Open(ctx, store.DriverSQLite, dbPath, testLogger())
	require.NoError(t, err)
	defer backend.Close()

	_, err = backend.Credentials.Get(ctx, "U1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	// Revoking again is not an error.
	require.NoError(t, runRoot(t, "--config", cfgPath, "--quiet", "creds", "revoke", "U1"))
}

func TestSummarize_HidesTokens(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	s := summarize(&store.Credential{
		UserID:       "U1",
		AccessToken:  "secret-access",
		RefreshToken: "secret-refresh",
		ExpiresAt:    now.Add(-time.Minute),
		CreatedAt:    now.Add(-time.Hour),
		UpdatedAt:    now.Add(-time.Hour),
	}, now)

	assert.Equal(t, "U1", s.UserID)
	assert.True(t, s.HasRefreshToken)
	assert.True(t, s.Expired)

	out := fmt.Sprintf("%+v", s)
	assert.NotContains(t, out, "secret")
}

func TestAuthURL_RequiresSharedState(t *testing.T) {
	cfgPath, _ := writeSQLiteConfig(t)

	err := runRoot(t, "--config", cfgPath, "--quiet", "auth-url", "U1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "state.redis_addr")
}

func TestFormatTime(t *testing.T) {
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.Local)

	assert.Equal(t, "unknown", formatTime(time.Time{}, now))
	assert.Equal(t, "Mar  4 09:30", formatTime(time.Date(2026, 3, 4, 9, 30, 0, 0, time.Local), now))
	assert.Equal(t, "Mar  4  2024", formatTime(time.Date(2024, 3, 4, 9, 30, 0, 0, time.Local), now))
}

func TestSessionClose_LogsNonceStoreError(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Store.Driver = "memory"

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	s, err := openSession(context.Background(), cfg, logger)
	require.NoError(t, err)

	s.closeNonces = func() error { return errors.New("redis: connection reset") }
	s.Close()

	assert.Contains(t, buf.String(), "closing authorization state store")
	assert.Contains(t, buf.String(), "redis: connection reset")
}
