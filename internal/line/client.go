// Package line is a minimal LINE Messaging API adapter: webhook parsing and
// signature verification, text push/reply, and message content download.
package line

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Default API hosts. Content downloads live on a separate data host.
const (
	DefaultAPIBaseURL  = "https://api.line.me"
	DefaultDataBaseURL = "https://api-data.line.me"
)

// DefaultMaxContentSize bounds attachment downloads (LINE allows files up to 300 MB).
const DefaultMaxContentSize = 300 * 1024 * 1024

// maxTextLength is LINE's limit for a text message, in characters.
const maxTextLength = 5000

// maxErrorBody caps how much of an error response is kept for messages.
const maxErrorBody = 4096

// ErrContentTooLarge is returned when an attachment exceeds the download limit.
var ErrContentTooLarge = errors.New("line: content too large")

// APIError is a non-2xx response from the Messaging API.
type APIError struct {
	StatusCode int
	RequestID  string
	Message    string
}

func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("line: HTTP %d (request-id: %s): %s", e.StatusCode, e.RequestID, e.Message)
	}

	return fmt.Sprintf("line: HTTP %d: %s", e.StatusCode, e.Message)
}

// Content is a downloaded message attachment.
type Content struct {
	Data        []byte
	ContentType string
}

// Client talks to the Messaging API with a channel access token.
type Client struct {
	apiBaseURL     string
	dataBaseURL    string
	channelToken   string
	httpClient     *http.Client
	maxContentSize int64
	logger         *slog.Logger
}

// NewClient creates a Messaging API client. Empty base URLs use the defaults.
func NewClient(apiBaseURL, dataBaseURL, channelToken string, httpClient *http.Client, logger *slog.Logger) *Client {
	if apiBaseURL == "" {
		apiBaseURL = DefaultAPIBaseURL
	}

	if dataBaseURL == "" {
		dataBaseURL = DefaultDataBaseURL
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		apiBaseURL:     apiBaseURL,
		dataBaseURL:    dataBaseURL,
		channelToken:   channelToken,
		httpClient:     httpClient,
		maxContentSize: DefaultMaxContentSize,
		logger:         logger,
	}
}

// SetMaxContentSize overrides the attachment download limit. Non-positive
// values keep the default.
func (c *Client) SetMaxContentSize(n int64) {
	if n > 0 {
		c.maxContentSize = n
	}
}

type textMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type pushRequest struct {
	To       string        `json:"to"`
	Messages []textMessage `json:"messages"`
}

type replyRequest struct {
	ReplyToken string        `json:"replyToken"`
	Messages   []textMessage `json:"messages"`
}

// PushText sends text to a user, group, or room ID.
func (c *Client) PushText(ctx context.Context, to, text string) error {
	body := pushRequest{To: to, Messages: []textMessage{newText(text)}}

	// A retry key lets LINE drop duplicates if the same push is sent twice.
	header := http.Header{}
	header.Set("X-Line-Retry-Key", uuid.NewString())

	if err := c.postJSON(ctx, "/v2/bot/message/push", body, header); err != nil {
		return fmt.Errorf("line: push to %s: %w", to, err)
	}

	return nil
}

// ReplyText answers an event through its reply token.
func (c *Client) ReplyText(ctx context.Context, replyToken, text string) error {
	body := replyRequest{ReplyToken: replyToken, Messages: []textMessage{newText(text)}}

	if err := c.postJSON(ctx, "/v2/bot/message/reply", body, nil); err != nil {
		return fmt.Errorf("line: reply: %w", err)
	}

	return nil
}

// FetchContent downloads the binary content of an image or file message.
func (c *Client) FetchContent(ctx context.Context, messageID string) (*Content, error) {
	u := c.dataBaseURL + "/v2/bot/message/" + url.PathEscape(messageID) + "/content"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("line: creating content request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.channelToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("line: fetching content %s: %w", messageID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("line: fetching content %s: %w", messageID, apiErrorFrom(resp))
	}

	if resp.ContentLength > c.maxContentSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrContentTooLarge, resp.ContentLength)
	}

	// Read one byte past the limit to detect oversize bodies without a length.
	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxContentSize+1))
	if err != nil {
		return nil, fmt.Errorf("line: reading content %s: %w", messageID, err)
	}

	if int64(len(data)) > c.maxContentSize {
		return nil, fmt.Errorf("%w: exceeds %d bytes", ErrContentTooLarge, c.maxContentSize)
	}

	c.logger.Debug("content fetched",
		slog.String("message_id", messageID),
		slog.Int("size", len(data)),
	)

	return &Content{Data: data, ContentType: resp.Header.Get("Content-Type")}, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body any, header http.Header) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	req.Header.Set("Authorization", "Bearer "+c.channelToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiErrorFrom(resp)
	}

	_, _ = io.Copy(io.Discard, resp.Body)

	return nil
}

func apiErrorFrom(resp *http.Response) error {
	b, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if readErr != nil {
		b = []byte("(failed to read response body)")
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		RequestID:  resp.Header.Get("X-Line-Request-Id"),
		Message:    string(b),
	}
}

// newText builds a text message, truncated to LINE's length limit.
func newText(text string) textMessage {
	if utf8.RuneCountInString(text) > maxTextLength {
		runes := []rune(text)
		text = string(runes[:maxTextLength-1]) + "…"
	}

	return textMessage{Type: "text", Text: text}
}
