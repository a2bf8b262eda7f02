package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/pressly/goose/v3"
)

// SQL statements, written with "?" placeholders and rebound per dialect.
const (
	sqlUpsertCredential = `INSERT INTO user_tokens
		(user_id, access_token, refresh_token, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
		 access_token = excluded.access_token,
		 refresh_token = excluded.refresh_token,
		 expires_at = excluded.expires_at,
		 updated_at = excluded.updated_at
		WHERE excluded.updated_at >= user_tokens.updated_at`

	sqlGetCredential = `SELECT user_id, access_token, refresh_token, expires_at,
		created_at, updated_at
		FROM user_tokens WHERE user_id = ?`

	sqlDeleteCredential = `DELETE FROM user_tokens WHERE user_id = ?`

	sqlUpsertMember = `INSERT INTO group_members
		(group_id, user_id, group_type, last_active)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(group_id, user_id) DO UPDATE SET
		 group_type = excluded.group_type,
		 last_active = excluded.last_active
		WHERE excluded.last_active > group_members.last_active`

	sqlListAuthenticatedMembers = `SELECT m.user_id
		FROM group_members m
		JOIN user_tokens t ON t.user_id = m.user_id
		WHERE m.group_id = ? AND m.last_active >= ?
		ORDER BY m.user_id`
)

// SQLStore implements CredentialStore and MembershipTracker on database/sql.
// The same statements run on SQLite and PostgreSQL; only placeholder syntax
// differs.
type SQLStore struct {
	db      *sql.DB
	dialect goose.Dialect
	logger  *slog.Logger
	nowFunc func() time.Time // injectable for deterministic tests
}

// NewSQLStore wraps an open database, applies pending migrations, and returns
// the store. The caller keeps ownership of db.
func NewSQLStore(ctx context.Context, db *sql.DB, dialect goose.Dialect, logger *slog.Logger) (*SQLStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := runMigrations(ctx, db, dialect, logger); err != nil {
		return nil, err
	}

	return &SQLStore{
		db:      db,
		dialect: dialect,
		logger:  logger,
		nowFunc: time.Now,
	}, nil
}

// Put upserts cred keyed by user ID. A stale write (older UpdatedAt than the
// stored row) leaves the row unchanged.
func (s *SQLStore) Put(ctx context.Context, cred *Credential) error {
	if err := checkCredential(cred); err != nil {
		return err
	}

	now := s.nowFunc()

	updated := cred.UpdatedAt
	if updated.IsZero() {
		updated = now
	}

	created := cred.CreatedAt
	if created.IsZero() {
		created = updated
	}

	_, err := s.db.ExecContext(ctx, s.rebind(sqlUpsertCredential),
		cred.UserID,
		cred.AccessToken,
		nullString(cred.RefreshToken),
		nullTime(cred.ExpiresAt),
		created.UnixNano(),
		updated.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("store: upserting credential for %s: %w", cred.UserID, err)
	}

	s.logger.Debug("credential stored",
		slog.String("user_id", cred.UserID),
		slog.Time("expires_at", cred.ExpiresAt),
	)

	return nil
}

// Get returns the stored credential for userID or ErrNotFound.
func (s *SQLStore) Get(ctx context.Context, userID string) (*Credential, error) {
	var (
		c         Credential
		refresh   sql.NullString
		expiresAt sql.NullInt64
		created   int64
		updated   int64
	)

	err := s.db.QueryRowContext(ctx, s.rebind(sqlGetCredential), userID).Scan(
		&c.UserID, &c.AccessToken, &refresh, &expiresAt, &created, &updated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("store: reading credential for %s: %w", userID, err)
	}

	c.RefreshToken = refresh.String
	if expiresAt.Valid {
		c.ExpiresAt = time.Unix(0, expiresAt.Int64)
	}

	c.CreatedAt = time.Unix(0, created)
	c.UpdatedAt = time.Unix(0, updated)

	return &c, nil
}

// Delete removes the credential for userID. Missing rows are not an error.
func (s *SQLStore) Delete(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, s.rebind(sqlDeleteCredential), userID); err != nil {
		return fmt.Errorf("store: deleting credential for %s: %w", userID, err)
	}

	return nil
}

// RecordActivity upserts the membership of userID in groupID. last_active
// only moves forward; an older observation leaves the row untouched.
func (s *SQLStore) RecordActivity(
	ctx context.Context, groupID, userID string, groupType GroupType, at time.Time,
) error {
	if at.IsZero() {
		at = s.nowFunc()
	}

	_, err := s.db.ExecContext(ctx, s.rebind(sqlUpsertMember),
		groupID, userID, string(groupType), at.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("store: recording activity of %s in %s: %w", userID, groupID, err)
	}

	return nil
}

// ListAuthenticatedMembers returns members of groupID active since the given
// time that also have a credential record.
func (s *SQLStore) ListAuthenticatedMembers(ctx context.Context, groupID string, since time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(sqlListAuthenticatedMembers), groupID, since.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("store: listing members of %s: %w", groupID, err)
	}
	defer rows.Close()

	var users []string

	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("store: scanning member row: %w", err)
		}

		users = append(users, userID)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating member rows: %w", err)
	}

	return users, nil
}

// rebind rewrites "?" placeholders to "$n" for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != goose.DialectPostgres {
		return query
	}

	var b strings.Builder

	b.Grow(len(query) + 8)

	n := 0

	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))

			continue
		}

		b.WriteRune(r)
	}

	return b.String()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}

	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}
