// Package store persists per-user OAuth credentials and group membership
// observations. Two strategies share one contract: an in-process map for
// deployments without a database, and a SQL store (SQLite or PostgreSQL)
// with goose-managed schema.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by CredentialStore.Get when no record exists.
var ErrNotFound = errors.New("store: not found")

// GroupType records the kind of shared chat context a membership was seen in.
type GroupType string

// Shared chat context kinds.
const (
	GroupTypeGroup GroupType = "group"
	GroupTypeRoom  GroupType = "room"
)

// Credential is the persisted OAuth token material for one user.
// AccessToken is never empty for a stored record.
type Credential struct {
	UserID       string
	AccessToken  string
	RefreshToken string    // empty when the provider issued none
	ExpiresAt    time.Time // zero when unknown
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Expired reports whether the credential is expired at now, treating tokens
// that expire within skew as already expired. A zero ExpiresAt never expires.
func (c *Credential) Expired(now time.Time, skew time.Duration) bool {
	if c.ExpiresAt.IsZero() {
		return false
	}

	return !now.Add(skew).Before(c.ExpiresAt)
}

// Membership records that a user was active in a group or room.
type Membership struct {
	GroupID    string
	UserID     string
	GroupType  GroupType
	LastActive time.Time
}

// CredentialStore persists at most one Credential per user. Implementations
// must tolerate concurrent upserts for different users without cross-user
// locking; same-user writes are last-writer-wins on UpdatedAt.
type CredentialStore interface {
	Put(ctx context.Context, cred *Credential) error
	Get(ctx context.Context, userID string) (*Credential, error)
	Delete(ctx context.Context, userID string) error
}

// MembershipTracker remembers which users have been active in which groups.
type MembershipTracker interface {
	RecordActivity(ctx context.Context, groupID, userID string, groupType GroupType, at time.Time) error
	// ListAuthenticatedMembers returns users of groupID active at or after
	// since who also hold a credential record, sorted by user ID.
	ListAuthenticatedMembers(ctx context.Context, groupID string, since time.Time) ([]string, error)
}

// Backend bundles the two stores selected for a deployment.
type Backend struct {
	Credentials CredentialStore
	Members     MembershipTracker

	closeFunc func() error
}

// Close releases the underlying database, if any.
func (b *Backend) Close() error {
	if b.closeFunc == nil {
		return nil
	}

	return b.closeFunc()
}
