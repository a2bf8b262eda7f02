// Package auth manages the per-user OAuth2 credential lifecycle: building
// authorization links, completing the code exchange, and handing out live
// (refreshed when necessary) credentials on demand.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"

	"github.com/tonimelisma/drivedrop/internal/oauthstate"
	"github.com/tonimelisma/drivedrop/internal/store"
)

// Sentinel errors. Callers branch on these with errors.Is.
var (
	// ErrNotAuthenticated means no usable credential exists for the user.
	ErrNotAuthenticated = errors.New("auth: not authenticated")
	// ErrInvalidSession means the callback's correlation state was missing,
	// forged, expired, or replayed.
	ErrInvalidSession = errors.New("auth: invalid authorization session")
	// ErrTokenExchangeFailed means the provider refused the authorization code.
	ErrTokenExchangeFailed = errors.New("auth: token exchange failed")
	// ErrRefreshFailed means the provider refused a refresh. Always wrapped
	// together with ErrNotAuthenticated.
	ErrRefreshFailed = errors.New("auth: token refresh failed")
)

// MinimalScopes is the narrowest grant that allows writing into the app's
// own OneDrive folder, plus a refresh token.
var MinimalScopes = []string{
	"offline_access",
	"Files.ReadWrite.AppFolder",
}

// expirySkew treats tokens this close to expiry as already expired, so a
// credential handed out is still valid when the upload request lands.
const expirySkew = 10 * time.Second

// Default policy values used when Options leaves them zero.
const (
	DefaultTokenTTL       = time.Hour
	DefaultRefreshTimeout = 15 * time.Second
)

// Options configures a Manager.
type Options struct {
	ClientID     string
	ClientSecret string
	Tenant       string // Azure AD tenant; "common" when empty
	RedirectURL  string
	Scopes       []string // MinimalScopes when empty

	// Endpoint overrides the Microsoft identity endpoint (tests).
	Endpoint *oauth2.Endpoint

	// DefaultTokenTTL applies when the provider reports no expiry.
	DefaultTokenTTL time.Duration
	// RefreshTimeout bounds each refresh exchange.
	RefreshTimeout time.Duration
	// HTTPClient carries token endpoint requests. Its timeout also bounds
	// the code exchange.
	HTTPClient *http.Client
}

// Manager obtains, refreshes, and invalidates per-user credentials.
type Manager struct {
	cfg            *oauth2.Config
	creds          store.CredentialStore
	states         *oauthstate.Issuer
	httpClient     *http.Client
	defaultTTL     time.Duration
	refreshTimeout time.Duration
	logger         *slog.Logger

	nowFunc func() time.Time // injectable for deterministic tests
}

// NewManager builds a Manager persisting to creds and correlating callbacks
// through states.
func NewManager(
	opts Options, creds store.CredentialStore, states *oauthstate.Issuer, logger *slog.Logger,
) (*Manager, error) {
	if opts.ClientID == "" {
		return nil, errors.New("auth: client ID is required")
	}

	if opts.RedirectURL == "" {
		return nil, errors.New("auth: redirect URL is required")
	}

	if logger == nil {
		logger = slog.Default()
	}

	tenant := opts.Tenant
	if tenant == "" {
		tenant = "common"
	}

	endpoint := microsoft.AzureADEndpoint(tenant)
	if opts.Endpoint != nil {
		endpoint = *opts.Endpoint
	}

	scopes := opts.Scopes
	if len(scopes) == 0 {
		scopes = MinimalScopes
	}

	m := &Manager{
		cfg: &oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			Endpoint:     endpoint,
			RedirectURL:  opts.RedirectURL,
			Scopes:       scopes,
		},
		creds:          creds,
		states:         states,
		httpClient:     opts.HTTPClient,
		defaultTTL:     opts.DefaultTokenTTL,
		refreshTimeout: opts.RefreshTimeout,
		logger:         logger,
		nowFunc:        time.Now,
	}

	if m.httpClient == nil {
		m.httpClient = &http.Client{Timeout: DefaultRefreshTimeout}
	}

	if m.defaultTTL <= 0 {
		m.defaultTTL = DefaultTokenTTL
	}

	if m.refreshTimeout <= 0 {
		m.refreshTimeout = DefaultRefreshTimeout
	}

	return m, nil
}

// BeginAuthorization returns the provider URL that lets userID grant storage
// access. The URL embeds a single-use correlation state and a PKCE challenge.
func (m *Manager) BeginAuthorization(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", errors.New("auth: user ID is required")
	}

	verifier := oauth2.GenerateVerifier()

	state, err := m.states.Issue(ctx, userID, verifier)
	if err != nil {
		return "", fmt.Errorf("auth: issuing state: %w", err)
	}

	authURL := m.cfg.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.S256ChallengeOption(verifier),
	)

	m.logger.Info("authorization link issued", slog.String("user_id", userID))

	return authURL, nil
}

// CompleteAuthorization handles the provider redirect. The correlation state
// is verified and consumed before anything else happens; on success the
// exchanged token is stored and the bound user ID returned.
func (m *Manager) CompleteAuthorization(ctx context.Context, params url.Values) (string, error) {
	pending, err := m.states.Verify(ctx, params.Get("state"))
	if err != nil {
		m.logger.Warn("rejected authorization callback", slog.String("error", err.Error()))
		return "", fmt.Errorf("%w: %w", ErrInvalidSession, err)
	}

	userID := pending.UserID

	if errParam := params.Get("error"); errParam != "" {
		m.logger.Warn("provider denied authorization",
			slog.String("user_id", userID),
			slog.String("error", errParam),
			slog.String("description", params.Get("error_description")),
		)

		return "", fmt.Errorf("%w: provider returned %s", ErrTokenExchangeFailed, errParam)
	}

	code := params.Get("code")
	if code == "" {
		return "", fmt.Errorf("%w: callback missing authorization code", ErrTokenExchangeFailed)
	}

	tok, err := m.cfg.Exchange(m.clientContext(ctx), code, oauth2.VerifierOption(pending.Verifier))
	if err != nil {
		m.logger.Warn("token exchange failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)

		return "", fmt.Errorf("%w: %w", ErrTokenExchangeFailed, err)
	}

	if tok.AccessToken == "" {
		return "", fmt.Errorf("%w: provider returned an empty access token", ErrTokenExchangeFailed)
	}

	now := m.nowFunc()
	cred := &store.Credential{
		UserID:       userID,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    m.expiresAt(tok, now),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := m.creds.Put(ctx, cred); err != nil {
		return "", fmt.Errorf("auth: saving credential: %w", err)
	}

	m.logger.Info("authorization completed",
		slog.String("user_id", userID),
		slog.Time("expires_at", cred.ExpiresAt),
		slog.Bool("refreshable", cred.RefreshToken != ""),
	)

	return userID, nil
}

// LiveCredential returns a credential for userID that is valid right now,
// refreshing and persisting it first if it has expired. A missing record,
// a missing refresh token, or a failed refresh all yield ErrNotAuthenticated.
// The stored record is never deleted here; a transient refresh failure must
// not throw away a grant that may still work.
func (m *Manager) LiveCredential(ctx context.Context, userID string) (*store.Credential, error) {
	cred, err := m.creds.Get(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotAuthenticated
	}

	if err != nil {
		return nil, fmt.Errorf("auth: loading credential: %w", err)
	}

	now := m.nowFunc()
	if !cred.Expired(now, expirySkew) {
		return cred, nil
	}

	if cred.RefreshToken == "" {
		m.logger.Info("credential expired and not refreshable",
			slog.String("user_id", userID),
			slog.Time("expired_at", cred.ExpiresAt),
		)

		return nil, ErrNotAuthenticated
	}

	return m.refresh(ctx, cred)
}

// refresh exchanges cred's refresh token for a new access token under the
// refresh timeout and persists the result.
func (m *Manager) refresh(ctx context.Context, cred *store.Credential) (*store.Credential, error) {
	rctx, cancel := context.WithTimeout(m.clientContext(ctx), m.refreshTimeout)
	defer cancel()

	// An empty access token forces the token source to refresh immediately.
	src := m.cfg.TokenSource(rctx, &oauth2.Token{RefreshToken: cred.RefreshToken})

	tok, err := src.Token()
	if err != nil {
		m.logger.Warn("token refresh failed",
			slog.String("user_id", cred.UserID),
			slog.String("error", err.Error()),
		)

		return nil, fmt.Errorf("%w: %w: %w", ErrNotAuthenticated, ErrRefreshFailed, err)
	}

	if tok.AccessToken == "" {
		return nil, fmt.Errorf("%w: %w: empty access token", ErrNotAuthenticated, ErrRefreshFailed)
	}

	now := m.nowFunc()
	next := &store.Credential{
		UserID:       cred.UserID,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    m.expiresAt(tok, now),
		CreatedAt:    cred.CreatedAt,
		UpdatedAt:    now,
	}

	// Keep the old refresh token when the provider did not rotate it.
	if next.RefreshToken == "" {
		next.RefreshToken = cred.RefreshToken
	}

	if err := m.creds.Put(ctx, next); err != nil {
		return nil, fmt.Errorf("auth: saving refreshed credential: %w", err)
	}

	m.logger.Info("credential refreshed",
		slog.String("user_id", cred.UserID),
		slog.Time("expires_at", next.ExpiresAt),
	)

	return next, nil
}

// Revoke forgets userID's credential. The next attempt re-prompts sign-in.
func (m *Manager) Revoke(ctx context.Context, userID string) error {
	if err := m.creds.Delete(ctx, userID); err != nil {
		return fmt.Errorf("auth: revoking credential: %w", err)
	}

	m.logger.Info("credential revoked", slog.String("user_id", userID))

	return nil
}

// expiresAt uses the provider-reported expiry, else now plus the default TTL.
func (m *Manager) expiresAt(tok *oauth2.Token, now time.Time) time.Time {
	if !tok.Expiry.IsZero() {
		return tok.Expiry
	}

	return now.Add(m.defaultTTL)
}

// clientContext makes the oauth2 package use the Manager's HTTP client.
func (m *Manager) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
}
