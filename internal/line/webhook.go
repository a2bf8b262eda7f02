package line

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SignatureHeader carries the base64 HMAC-SHA256 of the request body.
const SignatureHeader = "X-Line-Signature"

// maxWebhookBody bounds webhook request bodies.
const maxWebhookBody = 1 << 20

// ErrInvalidSignature means the webhook body was not signed with the channel secret.
var ErrInvalidSignature = errors.New("line: invalid webhook signature")

// Event and message type names used by the relay.
const (
	EventTypeMessage = "message"

	MessageTypeText  = "text"
	MessageTypeImage = "image"
	MessageTypeFile  = "file"

	SourceTypeUser  = "user"
	SourceTypeGroup = "group"
	SourceTypeRoom  = "room"
)

// Source identifies where an event came from.
type Source struct {
	Type    string `json:"type"`
	UserID  string `json:"userId,omitempty"`
	GroupID string `json:"groupId,omitempty"`
	RoomID  string `json:"roomId,omitempty"`
}

// Message is the subset of a message event payload the relay needs.
type Message struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	FileName string `json:"fileName,omitempty"`
	FileSize int64  `json:"fileSize,omitempty"`
}

// DeliveryContext tells whether LINE is redelivering a failed webhook.
type DeliveryContext struct {
	IsRedelivery bool `json:"isRedelivery"`
}

// Event is one webhook event.
type Event struct {
	Type            string          `json:"type"`
	WebhookEventID  string          `json:"webhookEventId"`
	ReplyToken      string          `json:"replyToken,omitempty"`
	Timestamp       int64           `json:"timestamp"` // unix milliseconds
	Source          Source          `json:"source"`
	Message         *Message        `json:"message,omitempty"`
	DeliveryContext DeliveryContext `json:"deliveryContext"`
}

// Time returns the event timestamp.
func (e *Event) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}

type webhookBody struct {
	Destination string  `json:"destination"`
	Events      []Event `json:"events"`
}

// Signature computes the X-Line-Signature value for body.
func Signature(channelSecret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(channelSecret))
	mac.Write(body)

	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature matches body under channelSecret.
func VerifySignature(channelSecret string, body []byte, signature string) bool {
	got, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(channelSecret))
	mac.Write(body)

	return hmac.Equal(got, mac.Sum(nil))
}

// ParseRequest reads, authenticates, and decodes a webhook request.
func ParseRequest(r *http.Request, channelSecret string) ([]Event, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		return nil, fmt.Errorf("line: reading webhook body: %w", err)
	}

	if !VerifySignature(channelSecret, body, r.Header.Get(SignatureHeader)) {
		return nil, ErrInvalidSignature
	}

	var wb webhookBody
	if err := json.Unmarshal(body, &wb); err != nil {
		return nil, fmt.Errorf("line: decoding webhook body: %w", err)
	}

	return wb.Events, nil
}
