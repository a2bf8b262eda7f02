// Package relay turns inbound chat attachments into per-user uploads. It
// resolves which users should receive a copy, uploads one copy per
// recipient under that recipient's own credential, and tells everyone what
// happened. Chat and storage platforms are reached through narrow interfaces
// so the package never depends on a concrete API client.
package relay

import (
	"context"
	"errors"
	"time"

	"github.com/tonimelisma/drivedrop/internal/store"
)

// ErrGrantRejected must be wrapped by Uploader implementations when the
// storage service refuses the credential itself (revoked or invalid grant).
// Any other upload error is treated as a transport failure.
var ErrGrantRejected = errors.New("relay: storage rejected credential")

// SourceKind is the kind of conversation an event came from.
type SourceKind string

// Conversation kinds.
const (
	SourceDirect SourceKind = "direct"
	SourceGroup  SourceKind = "group"
	SourceRoom   SourceKind = "room"
)

// EventContext locates an event: who sent it and in which conversation.
type EventContext struct {
	Kind       SourceKind
	SenderID   string
	GroupID    string // group or room ID; empty for direct chats
	ReplyToken string // single-use; empty when the platform gave none
}

// Shared reports whether the conversation has more than one human in it.
func (ec EventContext) Shared() bool {
	return ec.Kind == SourceGroup || ec.Kind == SourceRoom
}

// groupType maps the conversation kind onto the stored membership type.
func (ec EventContext) groupType() store.GroupType {
	if ec.Kind == SourceRoom {
		return store.GroupTypeRoom
	}

	return store.GroupTypeGroup
}

// AttachmentKind distinguishes photos from arbitrary files.
type AttachmentKind string

// Attachment kinds.
const (
	KindImage AttachmentKind = "image"
	KindFile  AttachmentKind = "file"
)

// Event is an already-authenticated inbound chat event.
type Event struct {
	Context   EventContext
	MessageID string
	Kind      AttachmentKind // empty for text events
	FileName  string         // original name for file attachments
	Text      string         // text events only
	At        time.Time
}

// File is the attachment handed to the fan-out engine.
type File struct {
	Name     string
	MimeType string
	Data     []byte
}

// StoredFile describes a successful upload.
type StoredFile struct {
	StorageID   string
	DisplayName string
	ViewURL     string
}

// Reason tags a failed outcome.
type Reason string

// Failure reasons. An empty Reason means success.
const (
	ReasonUnauthenticated  Reason = "Unauthenticated"
	ReasonUploadRejected   Reason = "UploadRejected"
	ReasonTransportFailure Reason = "TransportFailure"
)

// Outcome is the result of uploading one copy for one recipient.
type Outcome struct {
	UserID string
	Reason Reason
	File   *StoredFile // set on success
	Err    error       // underlying error for logs; never shown to users
}

// Success reports whether the upload landed.
func (o Outcome) Success() bool {
	return o.Reason == ""
}

// Report summarizes what HandleAttachment did with one event.
type Report struct {
	Recipients    []string
	Outcomes      []Outcome
	AuthRequested bool
	Saved         int
	Acknowledged  bool
}

// Credentials hands out live credentials and evicts rejected ones.
type Credentials interface {
	LiveCredential(ctx context.Context, userID string) (*store.Credential, error)
	Revoke(ctx context.Context, userID string) error
}

// Authorizer builds sign-in links.
type Authorizer interface {
	BeginAuthorization(ctx context.Context, userID string) (string, error)
}

// Uploader writes one file into one user's storage.
type Uploader interface {
	Upload(ctx context.Context, cred *store.Credential, f File) (*StoredFile, error)
}

// ContentFetcher downloads the bytes of an attachment message.
type ContentFetcher interface {
	Fetch(ctx context.Context, messageID string) (data []byte, contentType string, err error)
}

// Notifier sends chat messages.
type Notifier interface {
	PushText(ctx context.Context, to, text string) error
	ReplyText(ctx context.Context, replyToken, text string) error
}

// Policy holds the tunables that may change while the server runs.
type Policy struct {
	MembershipWindow time.Duration
	UploadTimeout    time.Duration
	FanoutWorkers    int
}

// Default policy values.
const (
	DefaultMembershipWindow = 30 * 24 * time.Hour
	DefaultUploadTimeout    = 2 * time.Minute
	DefaultFanoutWorkers    = 4
)

// DefaultPolicy returns the default policy.
func DefaultPolicy() Policy {
	return Policy{
		MembershipWindow: DefaultMembershipWindow,
		UploadTimeout:    DefaultUploadTimeout,
		FanoutWorkers:    DefaultFanoutWorkers,
	}
}

// PolicyFunc returns the current policy. It is called once per operation,
// so a reloaded configuration applies to the next event.
type PolicyFunc func() Policy

// StaticPolicy wraps a fixed policy.
func StaticPolicy(p Policy) PolicyFunc {
	return func() Policy { return p }
}

func (f PolicyFunc) current() Policy {
	p := DefaultPolicy()
	if f != nil {
		p = f()
	}

	if p.MembershipWindow <= 0 {
		p.MembershipWindow = DefaultMembershipWindow
	}

	if p.UploadTimeout <= 0 {
		p.UploadTimeout = DefaultUploadTimeout
	}

	if p.FanoutWorkers <= 0 {
		p.FanoutWorkers = DefaultFanoutWorkers
	}

	return p
}
