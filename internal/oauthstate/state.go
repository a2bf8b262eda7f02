// Package oauthstate issues and verifies the correlation state round-tripped
// through an OAuth2 authorization redirect. A state is an HS256-signed JWT
// naming the user and a random nonce; the nonce and the PKCE verifier are held
// server-side and consumed exactly once, so a state can neither be forged nor
// replayed.
package oauthstate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Sentinel errors returned by Verify. All of them mean the callback must be
// rejected without persisting anything.
var (
	ErrMissing  = errors.New("oauthstate: state missing")
	ErrInvalid  = errors.New("oauthstate: state invalid")
	ErrConsumed = errors.New("oauthstate: state unknown or already used")
)

// minSecretLen guards against trivially guessable signing keys.
const minSecretLen = 32

// issuerName is stamped into the iss claim and required on verification.
const issuerName = "drivedrop"

// Pending is what Verify hands back for a valid, first-time state.
type Pending struct {
	UserID   string
	Verifier string // PKCE code verifier bound to this authorization request
}

// claims carries the correlation payload. Subject is the user ID and ID the
// nonce.
type claims struct {
	jwt.RegisteredClaims
}

// Issuer creates and verifies correlation states.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	nonces NonceStore
	logger *slog.Logger

	nowFunc func() time.Time
}

// NewIssuer returns an Issuer signing with secret. States expire after ttl.
func NewIssuer(secret []byte, ttl time.Duration, nonces NonceStore, logger *slog.Logger) (*Issuer, error) {
	if len(secret) < minSecretLen {
		return nil, fmt.Errorf("oauthstate: signing secret must be at least %d bytes", minSecretLen)
	}

	if ttl <= 0 {
		return nil, fmt.Errorf("oauthstate: state ttl must be positive")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Issuer{
		secret:  secret,
		ttl:     ttl,
		nonces:  nonces,
		logger:  logger,
		nowFunc: time.Now,
	}, nil
}

// Issue mints a state for userID and records its nonce with the PKCE
// verifier until the state expires.
func (i *Issuer) Issue(ctx context.Context, userID, verifier string) (string, error) {
	now := i.nowFunc()
	nonce := uuid.NewString()

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuerName,
			Subject:   userID,
			ID:        nonce,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	})

	signed, err := tok.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("oauthstate: signing state: %w", err)
	}

	if err := i.nonces.Put(ctx, nonce, verifier, i.ttl); err != nil {
		return "", fmt.Errorf("oauthstate: recording nonce: %w", err)
	}

	i.logger.Debug("correlation state issued",
		slog.String("user_id", userID),
		slog.Time("expires", now.Add(i.ttl)),
	)

	return signed, nil
}

// Verify checks the signature and expiry of state and consumes its nonce.
// A second Verify of the same state fails with ErrConsumed.
func (i *Issuer) Verify(ctx context.Context, state string) (*Pending, error) {
	if state == "" {
		return nil, ErrMissing
	}

	var c claims

	_, err := jwt.ParseWithClaims(state, &c, func(*jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuerName),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.nowFunc),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	if c.Subject == "" || c.ID == "" {
		return nil, fmt.Errorf("%w: missing subject or nonce", ErrInvalid)
	}

	verifier, ok, err := i.nonces.Take(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("oauthstate: consuming nonce: %w", err)
	}

	if !ok {
		i.logger.Warn("correlation state replayed or expired",
			slog.String("user_id", c.Subject),
		)

		return nil, ErrConsumed
	}

	return &Pending{UserID: c.Subject, Verifier: verifier}, nil
}
