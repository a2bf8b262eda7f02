package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tonimelisma/drivedrop/internal/auth"
	"github.com/tonimelisma/drivedrop/internal/store"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// fakeCreds serves live credentials for a fixed set of users.
type fakeCreds struct {
	mu      sync.Mutex
	live    map[string]bool
	broken  error // returned for every lookup when set
	revoked []string
}

func newFakeCreds(users ...string) *fakeCreds {
	f := &fakeCreds{live: make(map[string]bool)}
	for _, u := range users {
		f.live[u] = true
	}

	return f
}

func (f *fakeCreds) LiveCredential(_ context.Context, userID string) (*store.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.broken != nil {
		return nil, f.broken
	}

	if !f.live[userID] {
		return nil, auth.ErrNotAuthenticated
	}

	return &store.Credential{UserID: userID, AccessToken: "tok-" + userID}, nil
}

func (f *fakeCreds) Revoke(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.live, userID)
	f.revoked = append(f.revoked, userID)

	return nil
}

func (f *fakeCreds) revokedUsers() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return slices.Clone(f.revoked)
}

// fakeMembers is an in-memory membership tracker that knows which users
// hold credentials.
type fakeMembers struct {
	mu       sync.Mutex
	active   map[string]map[string]time.Time
	hasCreds func(userID string) bool
	err      error
	calls    []string
}

func newFakeMembers(hasCreds func(string) bool) *fakeMembers {
	return &fakeMembers{active: make(map[string]map[string]time.Time), hasCreds: hasCreds}
}

func (m *fakeMembers) RecordActivity(_ context.Context, groupID, userID string, _ store.GroupType, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, "record:"+userID)

	if m.err != nil {
		return m.err
	}

	if m.active[groupID] == nil {
		m.active[groupID] = make(map[string]time.Time)
	}

	if at.After(m.active[groupID][userID]) {
		m.active[groupID][userID] = at
	}

	return nil
}

func (m *fakeMembers) ListAuthenticatedMembers(_ context.Context, groupID string, since time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, "list")

	if m.err != nil {
		return nil, m.err
	}

	var out []string

	for u, at := range m.active[groupID] {
		if !at.Before(since) && m.hasCreds(u) {
			out = append(out, u)
		}
	}

	slices.Sort(out)

	return out, nil
}

// fakeAuthorizer returns a predictable link per user.
type fakeAuthorizer struct {
	err error
}

func (a fakeAuthorizer) BeginAuthorization(_ context.Context, userID string) (string, error) {
	if a.err != nil {
		return "", a.err
	}

	return "https://login.example/authorize?for=" + userID, nil
}

// fakeUploader records uploads; fail maps user IDs to errors.
type fakeUploader struct {
	mu       sync.Mutex
	fail     map[string]error
	uploaded map[string]File
	inFlight atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
}

func newFakeUploader() *fakeUploader {
	return &fakeUploader{fail: make(map[string]error), uploaded: make(map[string]File)}
}

func (u *fakeUploader) Upload(ctx context.Context, cred *store.Credential, f File) (*StoredFile, error) {
	n := u.inFlight.Add(1)
	defer u.inFlight.Add(-1)

	for {
		p := u.peak.Load()
		if n <= p || u.peak.CompareAndSwap(p, n) {
			break
		}
	}

	if u.delay > 0 {
		select {
		case <-time.After(u.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	if err := u.fail[cred.UserID]; err != nil {
		return nil, err
	}

	u.uploaded[cred.UserID] = f

	return &StoredFile{
		StorageID:   "item-" + cred.UserID,
		DisplayName: f.Name,
		ViewURL:     "https://onedrive.example/" + cred.UserID,
	}, nil
}

func (u *fakeUploader) count() int {
	u.mu.Lock()
	defer u.mu.Unlock()

	return len(u.uploaded)
}

// fakeFetcher serves fixed content.
type fakeFetcher struct {
	data        []byte
	contentType string
	err         error
	calls       atomic.Int32
}

func (f *fakeFetcher) Fetch(context.Context, string) ([]byte, string, error) {
	f.calls.Add(1)

	if f.err != nil {
		return nil, "", f.err
	}

	return f.data, f.contentType, nil
}

type sentMessage struct {
	Kind string // "push" or "reply"
	To   string // user/group ID or reply token
	Text string
}

// fakeNotifier records every message; pushes to users in failPush fail,
// and every reply fails when replyErr is set.
type fakeNotifier struct {
	mu       sync.Mutex
	sent     []sentMessage
	failPush map[string]bool
	replyErr error
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{failPush: make(map[string]bool)}
}

func (n *fakeNotifier) PushText(_ context.Context, to, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.failPush[to] {
		return fmt.Errorf("push to %s: %w", to, errors.New("not a friend"))
	}

	n.sent = append(n.sent, sentMessage{Kind: "push", To: to, Text: text})

	return nil
}

func (n *fakeNotifier) ReplyText(_ context.Context, replyToken, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.replyErr != nil {
		return n.replyErr
	}

	n.sent = append(n.sent, sentMessage{Kind: "reply", To: replyToken, Text: text})

	return nil
}

func (n *fakeNotifier) messagesTo(to string) []sentMessage {
	n.mu.Lock()
	defer n.mu.Unlock()

	var out []sentMessage

	for _, m := range n.sent {
		if m.To == to {
			out = append(out, m)
		}
	}

	return out
}

func (n *fakeNotifier) all() []sentMessage {
	n.mu.Lock()
	defer n.mu.Unlock()

	return slices.Clone(n.sent)
}
