package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrEmptyAccessToken rejects credentials that would violate the non-empty
// access token invariant.
var ErrEmptyAccessToken = errors.New("store: access token must not be empty")

// MemoryCredentials is an in-process CredentialStore. Contents are lost on
// restart. Thread-safe.
type MemoryCredentials struct {
	mu    sync.RWMutex
	creds map[string]Credential

	nowFunc func() time.Time
}

// NewMemoryCredentials returns an empty in-process credential store.
func NewMemoryCredentials() *MemoryCredentials {
	return &MemoryCredentials{
		creds:   make(map[string]Credential),
		nowFunc: time.Now,
	}
}

// Put upserts cred. A write older than the stored record (by UpdatedAt) is
// dropped so concurrent refreshes settle on the newest token.
func (m *MemoryCredentials) Put(_ context.Context, cred *Credential) error {
	if err := checkCredential(cred); err != nil {
		return err
	}

	rec := *cred
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = m.nowFunc()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.creds[rec.UserID]; ok {
		if existing.UpdatedAt.After(rec.UpdatedAt) {
			return nil
		}

		rec.CreatedAt = existing.CreatedAt
	} else if rec.CreatedAt.IsZero() {
		rec.CreatedAt = rec.UpdatedAt
	}

	m.creds[rec.UserID] = rec

	return nil
}

// Get returns a copy of the stored credential or ErrNotFound.
func (m *MemoryCredentials) Get(_ context.Context, userID string) (*Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.creds[userID]
	if !ok {
		return nil, ErrNotFound
	}

	return &rec, nil
}

// Delete removes the record for userID. Deleting a missing record is not an error.
func (m *MemoryCredentials) Delete(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.creds, userID)

	return nil
}

// NoMembership is the MembershipTracker used when no database is configured.
// Group fan-out then reaches only the sender.
type NoMembership struct{}

// RecordActivity discards the observation.
func (NoMembership) RecordActivity(context.Context, string, string, GroupType, time.Time) error {
	return nil
}

// ListAuthenticatedMembers always returns no members.
func (NoMembership) ListAuthenticatedMembers(context.Context, string, time.Time) ([]string, error) {
	return nil, nil
}

func checkCredential(cred *Credential) error {
	if cred == nil || cred.UserID == "" {
		return fmt.Errorf("store: credential requires a user ID")
	}

	if cred.AccessToken == "" {
		return ErrEmptyAccessToken
	}

	return nil
}
