package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/tonimelisma/drivedrop/internal/auth"
	"github.com/tonimelisma/drivedrop/internal/config"
	"github.com/tonimelisma/drivedrop/internal/oauthstate"
	"github.com/tonimelisma/drivedrop/internal/store"
)

// session bundles the stores and the credential manager that every command
// touching user credentials needs.
type session struct {
	backend *store.Backend
	auth    *auth.Manager
	logger  *slog.Logger

	closeNonces func() error
}

// openSession opens the configured store and, when the config carries an
// OAuth registration, builds the credential manager on top of it.
func openSession(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*session, error) {
	backend, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DSN, logger)
	if err != nil {
		return nil, err
	}

	s := &session{backend: backend, logger: logger, closeNonces: func() error { return nil }}

	if config.ValidateAuthorization(cfg) != nil {
		return s, nil
	}

	nonces, closeNonces, err := newNonceStore(ctx, cfg, logger)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.closeNonces = closeNonces

	issuer, err := oauthstate.NewIssuer(
		[]byte(cfg.State.Secret), config.Duration(cfg.State.TTL, 10*time.Minute), nonces, logger)
	if err != nil {
		s.Close()
		return nil, err
	}

	mgr, err := auth.NewManager(auth.Options{
		ClientID:        cfg.OAuth.ClientID,
		ClientSecret:    cfg.OAuth.ClientSecret,
		Tenant:          cfg.OAuth.Tenant,
		RedirectURL:     cfg.RedirectURL(),
		Scopes:          cfg.OAuth.Scopes,
		DefaultTokenTTL: config.Duration(cfg.OAuth.DefaultTokenTTL, auth.DefaultTokenTTL),
		RefreshTimeout:  config.Duration(cfg.OAuth.RefreshTimeout, auth.DefaultRefreshTimeout),
		HTTPClient: &http.Client{
			Timeout: config.Duration(cfg.OAuth.RefreshTimeout, auth.DefaultRefreshTimeout),
		},
	}, backend.Credentials, issuer, logger)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.auth = mgr

	return s, nil
}

// requireAuth returns the credential manager or explains what is missing.
func (s *session) requireAuth(cfg *config.Config) (*auth.Manager, error) {
	if s.auth != nil {
		return s.auth, nil
	}

	return nil, fmt.Errorf("OAuth is not configured: %w", config.ValidateAuthorization(cfg))
}

// Close releases the nonce store and the database.
func (s *session) Close() {
	if err := s.closeNonces(); err != nil {
		s.logger.Warn("closing authorization state store", slog.String("error", err.Error()))
	}

	if err := s.backend.Close(); err != nil {
		s.logger.Warn("closing store", slog.String("error", err.Error()))
	}
}

// newNonceStore picks Redis when an address is configured, otherwise an
// in-process store.
func newNonceStore(
	ctx context.Context, cfg *config.Config, logger *slog.Logger,
) (oauthstate.NonceStore, func() error, error) {
	if cfg.State.RedisAddr == "" {
		return oauthstate.NewMemoryNonces(), func() error { return nil }, nil
	}

	r := oauthstate.NewRedisNonces(cfg.State.RedisAddr, cfg.State.RedisPassword, cfg.State.RedisDB)
	if err := r.Ping(ctx); err != nil {
		r.Close()
		return nil, nil, err
	}

	logger.Info("authorization state shared through redis", slog.String("addr", cfg.State.RedisAddr))

	return r, r.Close, nil
}
