package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/drivedrop/internal/line"
	"github.com/tonimelisma/drivedrop/internal/relay"
)

const testSecret = "channel-secret"

type recordingHandler struct {
	mu          sync.Mutex
	attachments []relay.Event
	texts       []relay.Event
	block       chan struct{}
	sawCancel   bool
}

func (h *recordingHandler) HandleAttachment(ctx context.Context, ev relay.Event) (*relay.Report, error) {
	if h.block != nil {
		select {
		case <-h.block:
		case <-ctx.Done():
			h.mu.Lock()
			h.sawCancel = true
			h.mu.Unlock()
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.attachments = append(h.attachments, ev)

	return &relay.Report{Recipients: []string{ev.Context.SenderID}, Saved: 1}, nil
}

func (h *recordingHandler) HandleText(_ context.Context, ev relay.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.texts = append(h.texts, ev)

	return errors.New("ignored error is only logged")
}

type fakeCallbacks struct {
	userID string
	err    error

	mu  sync.Mutex
	got url.Values
}

func (f *fakeCallbacks) CompleteAuthorization(_ context.Context, params url.Values) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.got = params

	return f.userID, f.err
}

func (f *fakeCallbacks) params() url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.got
}

func newTestServer(t *testing.T, h *recordingHandler, cb *fakeCallbacks, opts Options) (*Server, *httptest.Server) {
	t.Helper()

	opts.ChannelSecret = testSecret
	s := New(opts, h, cb, nil)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	return s, ts
}

func postWebhook(t *testing.T, url, body, signature string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(http.MethodPost, url+"/webhook", strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set(line.SignatureHeader, signature)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	return resp
}

const webhookBody = `{"destination":"Ubot","events":[
 {"type":"message","webhookEventId":"e1","replyToken":"rt1","timestamp":1718000000000,
  "source":{"type":"group","groupId":"G1","userId":"U1"},
  "message":{"id":"m1","type":"image"}},
 {"type":"message","webhookEventId":"e2","replyToken":"rt2","timestamp":1718000000000,
  "source":{"type":"room","roomId":"R1","userId":"U2"},
  "message":{"id":"m2","type":"file","fileName":"a.pdf"}},
 {"type":"message","webhookEventId":"e3","replyToken":"rt3","timestamp":1718000000000,
  "source":{"type":"user","userId":"U3"},
  "message":{"id":"m3","type":"text","text":"login"}},
 {"type":"message","webhookEventId":"e4","timestamp":1718000000000,
  "source":{"type":"user","userId":"U4"},
  "message":{"id":"m4","type":"sticker"}},
 {"type":"follow","webhookEventId":"e5","timestamp":1718000000000,
  "source":{"type":"user","userId":"U5"}}
]}`

func TestWebhook_DispatchesEvents(t *testing.T) {
	h := &recordingHandler{}
	s, ts := newTestServer(t, h, &fakeCallbacks{}, Options{})

	resp := postWebhook(t, ts.URL, webhookBody, line.Signature(testSecret, []byte(webhookBody)))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, s.Drain(context.Background()))

	h.mu.Lock()
	defer h.mu.Unlock()

	require.Len(t, h.attachments, 2)
	require.Len(t, h.texts, 1)

	byID := map[string]relay.Event{}
	for _, ev := range h.attachments {
		byID[ev.MessageID] = ev
	}

	img := byID["m1"]
	assert.Equal(t, relay.EventContext{Kind: relay.SourceGroup, SenderID: "U1", GroupID: "G1", ReplyToken: "rt1"}, img.Context)
	assert.Equal(t, relay.KindImage, img.Kind)
	assert.Equal(t, int64(1718000000000), img.At.UnixMilli())

	file := byID["m2"]
	assert.Equal(t, relay.SourceRoom, file.Context.Kind)
	assert.Equal(t, "R1", file.Context.GroupID)
	assert.Equal(t, "a.pdf", file.FileName)

	assert.Equal(t, "login", h.texts[0].Text)
	assert.Equal(t, relay.SourceDirect, h.texts[0].Context.Kind)
}

func TestWebhook_BadSignature(t *testing.T) {
	h := &recordingHandler{}
	s, ts := newTestServer(t, h, &fakeCallbacks{}, Options{})

	resp := postWebhook(t, ts.URL, webhookBody, line.Signature("wrong", []byte(webhookBody)))
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	require.NoError(t, s.Drain(context.Background()))
	assert.Empty(t, h.attachments)
}

func TestWebhook_BadBody(t *testing.T) {
	_, ts := newTestServer(t, &recordingHandler{}, &fakeCallbacks{}, Options{})

	body := `not json`
	resp := postWebhook(t, ts.URL, body, line.Signature(testSecret, []byte(body)))
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebhook_MethodNotAllowed(t *testing.T) {
	_, ts := newTestServer(t, &recordingHandler{}, &fakeCallbacks{}, Options{})

	resp, err := http.Get(ts.URL + "/webhook")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestWebhook_AcknowledgesBeforeHandling(t *testing.T) {
	h := &recordingHandler{block: make(chan struct{})}
	s, ts := newTestServer(t, h, &fakeCallbacks{}, Options{})

	body := `{"events":[{"type":"message","timestamp":1,"source":{"type":"user","userId":"U1"},"message":{"id":"m1","type":"image"}}]}`

	resp := postWebhook(t, ts.URL, body, line.Signature(testSecret, []byte(body)))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode, "answered while the handler is still blocked")

	close(h.block)
	require.NoError(t, s.Drain(context.Background()))

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Len(t, h.attachments, 1)
}

func TestDrain_TimeoutCancelsEvents(t *testing.T) {
	h := &recordingHandler{block: make(chan struct{})}
	s, ts := newTestServer(t, h, &fakeCallbacks{}, Options{})

	body := `{"events":[{"type":"message","timestamp":1,"source":{"type":"user","userId":"U1"},"message":{"id":"m1","type":"image"}}]}`
	resp := postWebhook(t, ts.URL, body, line.Signature(testSecret, []byte(body)))
	resp.Body.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := s.Drain(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.True(t, h.sawCancel)
}

func TestCallback_Success(t *testing.T) {
	cb := &fakeCallbacks{userID: "U1"}

	signedIn := make(chan string, 1)
	s, ts := newTestServer(t, &recordingHandler{}, cb, Options{
		OnSignIn: func(_ context.Context, userID string) { signedIn <- userID },
	})

	resp, err := http.Get(ts.URL + "/oauth/callback?state=s1&code=c1")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "signed in")
	assert.Equal(t, "s1", cb.params().Get("state"))
	assert.Equal(t, "c1", cb.params().Get("code"))

	require.NoError(t, s.Drain(context.Background()))
	assert.Equal(t, "U1", <-signedIn)
}

func TestCallback_FailureIsGeneric(t *testing.T) {
	cb := &fakeCallbacks{err: errors.New("auth: invalid authorization session: token has expired")}
	_, ts := newTestServer(t, &recordingHandler{}, cb, Options{})

	resp, err := http.Get(ts.URL + "/oauth/callback?state=bad")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
	assert.Contains(t, string(body), "Sign-in failed")
	assert.NotContains(t, string(body), "invalid authorization session")
}

func TestHealthz(t *testing.T) {
	_, ts := newTestServer(t, &recordingHandler{}, &fakeCallbacks{}, Options{})

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestToRelayEvent_Rejects(t *testing.T) {
	tests := []struct {
		name string
		ev   line.Event
	}{
		{"not a message", line.Event{Type: "join", Source: line.Source{Type: "group", GroupID: "G", UserID: "U"}}},
		{"no user", line.Event{Type: "message", Source: line.Source{Type: "group", GroupID: "G"}, Message: &line.Message{Type: "image"}}},
		{"group without id", line.Event{Type: "message", Source: line.Source{Type: "group", UserID: "U"}, Message: &line.Message{Type: "image"}}},
		{"unknown source", line.Event{Type: "message", Source: line.Source{Type: "channel", UserID: "U"}, Message: &line.Message{Type: "image"}}},
		{"video", line.Event{Type: "message", Source: line.Source{Type: "user", UserID: "U"}, Message: &line.Message{Type: "video"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, ok := toRelayEvent(&tt.ev)
			assert.False(t, ok)
		})
	}
}
