// Package server exposes the HTTP endpoints: the chat webhook, the OAuth
// redirect target, and a health probe. Webhook events are acknowledged as
// soon as they are authenticated and handled on their own goroutines.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/tonimelisma/drivedrop/internal/line"
	"github.com/tonimelisma/drivedrop/internal/relay"
)

// DefaultEventTimeout bounds the handling of one webhook event.
const DefaultEventTimeout = 10 * time.Minute

// EventHandler processes relay events.
type EventHandler interface {
	HandleAttachment(ctx context.Context, ev relay.Event) (*relay.Report, error)
	HandleText(ctx context.Context, ev relay.Event) error
}

// CallbackHandler completes an OAuth authorization from redirect parameters.
type CallbackHandler interface {
	CompleteAuthorization(ctx context.Context, params url.Values) (string, error)
}

// Options configures a Server.
type Options struct {
	ChannelSecret string
	EventTimeout  time.Duration

	// OnSignIn, when set, runs after a user completes authorization.
	OnSignIn func(ctx context.Context, userID string)
}

// Server routes HTTP requests and tracks in-flight events.
type Server struct {
	events    EventHandler
	callbacks CallbackHandler
	opts      Options
	logger    *slog.Logger

	// baseCtx parents every event context; cancel aborts stragglers on
	// forced shutdown.
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a Server.
func New(opts Options, events EventHandler, callbacks CallbackHandler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	if opts.EventTimeout <= 0 {
		opts.EventTimeout = DefaultEventTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		events:    events,
		callbacks: callbacks,
		opts:      opts,
		logger:    logger,
		baseCtx:   ctx,
		cancel:    cancel,
	}
}

// Handler returns the routed, logged HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /webhook", s.handleWebhook)
	mux.HandleFunc("GET /oauth/callback", s.handleCallback)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	return logging(s.logger, mux)
}

// Drain waits for in-flight events. If ctx ends first, remaining events are
// canceled and ctx's error is returned.
func (s *Server) Drain(ctx context.Context) error {
	done := make(chan struct{})

	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done

		return ctx.Err()
	}
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	events, err := line.ParseRequest(r, s.opts.ChannelSecret)
	if errors.Is(err, line.ErrInvalidSignature) {
		s.logger.Warn("webhook signature rejected", slog.String("remote", r.RemoteAddr))
		http.Error(w, "invalid signature", http.StatusUnauthorized)

		return
	}

	if err != nil {
		s.logger.Warn("webhook body rejected", slog.String("error", err.Error()))
		http.Error(w, "bad request", http.StatusBadRequest)

		return
	}

	for i := range events {
		ev, kind, ok := toRelayEvent(&events[i])
		if !ok {
			s.logger.Debug("ignoring webhook event",
				slog.String("type", events[i].Type),
				slog.String("event_id", events[i].WebhookEventID),
			)

			continue
		}

		s.dispatch(ev, kind, events[i].WebhookEventID, events[i].DeliveryContext.IsRedelivery)
	}

	w.WriteHeader(http.StatusOK)
}

// dispatch handles one event on its own goroutine.
func (s *Server) dispatch(ev relay.Event, kind eventKind, eventID string, redelivery bool) {
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(s.baseCtx, s.opts.EventTimeout)
		defer cancel()

		logger := s.logger.With(
			slog.String("event_id", eventID),
			slog.String("message_id", ev.MessageID),
			slog.String("sender", ev.Context.SenderID),
		)

		if redelivery {
			logger.Info("handling redelivered event")
		}

		switch kind {
		case eventAttachment:
			report, err := s.events.HandleAttachment(ctx, ev)
			if err != nil {
				logger.Warn("attachment handling incomplete", slog.String("error", err.Error()))
			}

			if report != nil {
				logger.Info("attachment handled",
					slog.Int("recipients", len(report.Recipients)),
					slog.Int("saved", report.Saved),
					slog.Bool("auth_requested", report.AuthRequested),
				)
			}

		case eventText:
			if err := s.events.HandleText(ctx, ev); err != nil {
				logger.Warn("command handling failed", slog.String("error", err.Error()))
			}
		}
	}()
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	userID, err := s.callbacks.CompleteAuthorization(r.Context(), r.URL.Query())
	if err != nil {
		// The page never shows failure details.
		s.logger.Warn("authorization callback failed", slog.String("error", err.Error()))
		writePage(w, http.StatusBadRequest, pageFailure)

		return
	}

	if s.opts.OnSignIn != nil {
		s.wg.Add(1)

		go func() {
			defer s.wg.Done()

			ctx, cancel := context.WithTimeout(s.baseCtx, time.Minute)
			defer cancel()

			s.opts.OnSignIn(ctx, userID)
		}()
	}

	writePage(w, http.StatusOK, pageSuccess)
}
