package store

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func newTestSQLStore(t *testing.T) *SQLStore {
	t.Helper()

	db, err := openSQLite(filepath.Join(t.TempDir(), "drivedrop.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s, err := NewSQLStore(context.Background(), db, goose.DialectSQLite3, testLogger(t))
	require.NoError(t, err)

	return s
}

func TestSQLStore_CredentialRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLStore(t)

	exp := time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)
	require.NoError(t, s.Put(ctx, &Credential{
		UserID: "U1", AccessToken: "access", RefreshToken: "refresh", ExpiresAt: exp,
	}))

	got, err := s.Get(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, "access", got.AccessToken)
	assert.Equal(t, "refresh", got.RefreshToken)
	assert.True(t, got.ExpiresAt.Equal(exp))
}

func TestSQLStore_OptionalFieldsStoredAsNull(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLStore(t)

	require.NoError(t, s.Put(ctx, &Credential{UserID: "U1", AccessToken: "access"}))

	got, err := s.Get(ctx, "U1")
	require.NoError(t, err)
	assert.Empty(t, got.RefreshToken)
	assert.True(t, got.ExpiresAt.IsZero())
}

func TestSQLStore_PutTwiceLeavesOneRecord(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLStore(t)

	t0 := time.Now()
	require.NoError(t, s.Put(ctx, &Credential{UserID: "U1", AccessToken: "r1", UpdatedAt: t0}))
	require.NoError(t, s.Put(ctx, &Credential{UserID: "U1", AccessToken: "r2", UpdatedAt: t0.Add(time.Second)}))

	got, err := s.Get(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, "r2", got.AccessToken)
	assert.True(t, got.CreatedAt.Equal(time.Unix(0, t0.UnixNano())), "created_at is preserved across upserts")

	var n int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM user_tokens WHERE user_id = ?`, "U1").Scan(&n))
	assert.Equal(t, 1, n)
}

func TestSQLStore_StaleWriteIgnored(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLStore(t)

	t0 := time.Now()
	require.NoError(t, s.Put(ctx, &Credential{UserID: "U1", AccessToken: "newer", UpdatedAt: t0}))
	require.NoError(t, s.Put(ctx, &Credential{UserID: "U1", AccessToken: "older", UpdatedAt: t0.Add(-time.Minute)}))

	got, err := s.Get(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, "newer", got.AccessToken)
}

func TestSQLStore_DeleteAndNotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLStore(t)

	require.NoError(t, s.Put(ctx, &Credential{UserID: "U1", AccessToken: "a"}))
	require.NoError(t, s.Delete(ctx, "U1"))
	require.NoError(t, s.Delete(ctx, "U1"))

	_, err := s.Get(ctx, "U1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLStore_RecordActivityIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLStore(t)

	t1 := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)

	require.NoError(t, s.RecordActivity(ctx, "G1", "U1", GroupTypeGroup, t1))
	require.NoError(t, s.RecordActivity(ctx, "G1", "U1", GroupTypeGroup, t2))

	var (
		n          int
		lastActive int64
	)

	require.NoError(t, s.db.QueryRow(
		`SELECT COUNT(*), MAX(last_active) FROM group_members WHERE group_id = ? AND user_id = ?`,
		"G1", "U1").Scan(&n, &lastActive))
	assert.Equal(t, 1, n)
	assert.Equal(t, t2.UnixNano(), lastActive)

	// An older observation never moves last_active backwards.
	require.NoError(t, s.RecordActivity(ctx, "G1", "U1", GroupTypeGroup, t1))
	require.NoError(t, s.db.QueryRow(
		`SELECT last_active FROM group_members WHERE group_id = ? AND user_id = ?`,
		"G1", "U1").Scan(&lastActive))
	assert.Equal(t, t2.UnixNano(), lastActive)
}

func TestSQLStore_ListAuthenticatedMembers(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLStore(t)

	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	window := 30 * 24 * time.Hour

	for _, u := range []string{"alice", "bob", "carol"} {
		require.NoError(t, s.Put(ctx, &Credential{UserID: u, AccessToken: "tok-" + u}))
	}

	require.NoError(t, s.RecordActivity(ctx, "G1", "bob", GroupTypeGroup, now.Add(-time.Hour)))
	require.NoError(t, s.RecordActivity(ctx, "G1", "alice", GroupTypeGroup, now.Add(-24*time.Hour)))
	// Stale member, outside the window.
	require.NoError(t, s.RecordActivity(ctx, "G1", "carol", GroupTypeGroup, now.Add(-window-time.Hour)))
	// Active but unauthenticated.
	require.NoError(t, s.RecordActivity(ctx, "G1", "dave", GroupTypeGroup, now))
	// Another group.
	require.NoError(t, s.RecordActivity(ctx, "G2", "carol", GroupTypeRoom, now))

	users, err := s.ListAuthenticatedMembers(ctx, "G1", now.Add(-window))
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, users)

	users, err = s.ListAuthenticatedMembers(ctx, "G2", now.Add(-window))
	require.NoError(t, err)
	assert.Equal(t, []string{"carol"}, users)
}

func TestSQLStore_ConcurrentPutsDifferentUsers(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLStore(t)

	var wg sync.WaitGroup

	for i := range 10 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			u := string(rune('a' + i))
			assert.NoError(t, s.Put(ctx, &Credential{UserID: u, AccessToken: "tok"}))
		}()
	}

	wg.Wait()

	var n int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM user_tokens`).Scan(&n))
	assert.Equal(t, 10, n)
}

func TestSQLStore_Rebind(t *testing.T) {
	pg := &SQLStore{dialect: goose.DialectPostgres}
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", pg.rebind("SELECT a FROM t WHERE x = ? AND y = ?"))

	lite := &SQLStore{dialect: goose.DialectSQLite3}
	assert.Equal(t, "x = ?", lite.rebind("x = ?"))
}

func TestOpen_Memory(t *testing.T) {
	b, err := Open(context.Background(), DriverMemory, "", testLogger(t))
	require.NoError(t, err)
	defer b.Close()

	assert.IsType(t, &MemoryCredentials{}, b.Credentials)
	assert.IsType(t, NoMembership{}, b.Members)
}

func TestOpen_SQLite(t *testing.T) {
	b, err := Open(context.Background(), DriverSQLite, filepath.Join(t.TempDir(), "x.db"), testLogger(t))
	require.NoError(t, err)
	defer b.Close()

	assert.IsType(t, &SQLStore{}, b.Credentials)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "", testLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown driver")
}
