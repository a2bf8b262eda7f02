package graph

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// DefaultBaseURL is the Graph v1.0 endpoint.
const DefaultBaseURL = "https://graph.microsoft.com/v1.0"

const defaultUserAgent = "drivedrop/0.1"

// TokenSource provides OAuth2 bearer tokens. Defined at the consumer
// (graph package) per Go convention "accept interfaces, return structs".
type TokenSource interface {
	Token() (string, error)
}

// StaticToken is a TokenSource for a token that is already known to be live.
type StaticToken string

// Token returns the token itself.
func (t StaticToken) Token() (string, error) {
	return string(t), nil
}

// Client is an HTTP client for the Microsoft Graph API.
// It handles request construction, authentication, and error classification.
// Requests are never retried.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      TokenSource
	userAgent  string
	logger     *slog.Logger
}

// NewClient creates a Graph API client.
// baseURL is typically DefaultBaseURL. An empty userAgent uses the default.
func NewClient(baseURL string, httpClient *http.Client, token TokenSource, logger *slog.Logger, userAgent string) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		token:      token,
		userAgent:  userAgent,
		logger:     logger,
	}
}

// Do executes one authenticated request against the Graph API.
// The path is appended to the client's base URL. Non-2xx responses are
// returned as *GraphError; the caller closes the body on success.
func (c *Client) Do(ctx context.Context, method, path, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("graph: creating request: %w", err)
	}

	tok, err := c.token.Token()
	if err != nil {
		return nil, fmt.Errorf("graph: obtaining token: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("User-Agent", c.userAgent)

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("graph request failed",
			slog.String("method", method),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)

		return nil, fmt.Errorf("graph: %s %s: %w", method, path, err)
	}

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		c.logger.Debug("request succeeded",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
		)

		return resp, nil
	}

	return nil, errorFromResponse(resp)
}

// errorFromResponse drains and closes resp and builds a GraphError.
func errorFromResponse(resp *http.Response) error {
	defer resp.Body.Close()

	errBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if readErr != nil {
		errBody = []byte("(failed to read response body)")
	}

	return &GraphError{
		StatusCode: resp.StatusCode,
		RequestID:  resp.Header.Get("request-id"),
		Message:    string(errBody),
		Err:        classifyStatus(resp.StatusCode),
	}
}

// maxErrorBody caps how much of an error response is kept for messages.
const maxErrorBody = 4096

// encodePathSegments URL-encodes each segment of a slash-separated path.
// Characters like #, ?, %, and spaces are encoded per-segment so the
// resulting path is safe for interpolation into Graph API URLs.
func encodePathSegments(path string) string {
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}

	return strings.Join(segments, "/")
}
