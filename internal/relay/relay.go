package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tonimelisma/drivedrop/internal/store"
)

// Chat commands understood in text messages.
const (
	CommandLogin  = "login"
	CommandLogout = "logout"
)

// Deps are the collaborators a Relay needs.
type Deps struct {
	Members     store.MembershipTracker
	Credentials Credentials
	Authorizer  Authorizer
	Uploader    Uploader
	Fetcher     ContentFetcher
	Notifier    Notifier
	Policy      PolicyFunc
}

// Relay handles inbound chat events end to end.
type Relay struct {
	resolver   *Resolver
	engine     *Engine
	dispatcher *Dispatcher
	creds      Credentials
	fetcher    ContentFetcher
	notifier   Notifier
	logger     *slog.Logger

	nowFunc func() time.Time
}

// New wires a Relay from its collaborators.
func New(d Deps, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}

	return &Relay{
		resolver:   NewResolver(d.Members, d.Credentials, d.Policy, logger),
		engine:     NewEngine(d.Credentials, d.Uploader, d.Policy, logger),
		dispatcher: NewDispatcher(d.Authorizer, d.Notifier, logger),
		creds:      d.Credentials,
		fetcher:    d.Fetcher,
		notifier:   d.Notifier,
		logger:     logger,
		nowFunc:    time.Now,
	}
}

// HandleAttachment relays one image or file event. With no authenticated
// recipient the sender gets a sign-in prompt and nothing is downloaded.
// Otherwise the attachment is fetched once, uploaded for every recipient,
// each recipient is told their result, and the originating conversation
// gets one aggregate acknowledgement. The returned error reports failures
// that were already surfaced to users; it is meant for logging.
func (r *Relay) HandleAttachment(ctx context.Context, ev Event) (*Report, error) {
	ec := ev.Context
	report := &Report{}

	report.Recipients = r.resolver.Resolve(ctx, ec)
	if len(report.Recipients) == 0 {
		report.AuthRequested = true

		if err := r.dispatcher.RequestAuth(ctx, ec.SenderID, ec); err != nil {
			return report, fmt.Errorf("relay: requesting sign-in for %s: %w", ec.SenderID, err)
		}

		return report, nil
	}

	data, reported, err := r.fetcher.Fetch(ctx, ev.MessageID)
	if err != nil {
		for _, userID := range report.Recipients {
			report.Outcomes = append(report.Outcomes, Outcome{UserID: userID, Reason: ReasonTransportFailure, Err: err})
		}

		if nerr := respond(ctx, r.notifier, ec, msgProcessingFailed); nerr != nil {
			err = errors.Join(err, nerr)
		}

		return report, fmt.Errorf("relay: fetching message %s: %w", ev.MessageID, err)
	}

	at := ev.At
	if at.IsZero() {
		at = r.nowFunc()
	}

	name := FileName(at, ec.SenderID, ev.Kind, ev.FileName, ev.MessageID)
	f := File{Name: name, MimeType: DetectMIME(name, reported, data), Data: data}

	r.logger.Info("relaying attachment",
		slog.String("message_id", ev.MessageID),
		slog.String("name", name),
		slog.Int("size", len(data)),
		slog.Int("recipients", len(report.Recipients)),
	)

	report.Outcomes = r.engine.UploadAll(ctx, report.Recipients, f)

	var errs []error

	for _, o := range report.Outcomes {
		if o.Success() {
			report.Saved++
		}

		// In a direct chat the sender's result goes into the acknowledgement.
		if !ec.Shared() && o.UserID == ec.SenderID {
			continue
		}

		if err := r.notify(ctx, notificationFor(o)); err != nil {
			errs = append(errs, err)
		}
	}

	ack := fmt.Sprintf(msgAggregate, report.Saved, len(report.Outcomes))
	if !ec.Shared() && len(report.Outcomes) == 1 {
		ack = notificationFor(report.Outcomes[0]).Text()
	}

	if err := respond(ctx, r.notifier, ec, ack); err != nil {
		errs = append(errs, fmt.Errorf("relay: acknowledging: %w", err))
	} else {
		report.Acknowledged = true
	}

	if !ec.Shared() && len(report.Outcomes) == 1 && notificationFor(report.Outcomes[0]).needsSignIn() {
		if err := r.dispatcher.prompt(ctx, ec.SenderID); err != nil {
			errs = append(errs, err)
		}
	}

	r.logger.Info("attachment relayed",
		slog.String("message_id", ev.MessageID),
		slog.Int("saved", report.Saved),
		slog.Int("recipients", len(report.Outcomes)),
	)

	return report, errors.Join(errs...)
}

// notify pushes one recipient's result, followed by a fresh sign-in link
// when their credential is missing or was just revoked.
func (r *Relay) notify(ctx context.Context, n Notification) error {
	if err := r.notifier.PushText(ctx, n.RecipientID, n.Text()); err != nil {
		r.logger.Warn("notification not delivered",
			slog.String("user_id", n.RecipientID),
			slog.String("error", err.Error()),
		)

		return fmt.Errorf("relay: notifying %s: %w", n.RecipientID, err)
	}

	if n.needsSignIn() {
		return r.dispatcher.prompt(ctx, n.RecipientID)
	}

	return nil
}

// HandleText runs chat commands. "login" sends a sign-in prompt, "logout"
// forgets the sender's credential. Other text is ignored.
func (r *Relay) HandleText(ctx context.Context, ev Event) error {
	ec := ev.Context

	switch strings.ToLower(strings.TrimSpace(ev.Text)) {
	case CommandLogin:
		return r.dispatcher.RequestAuth(ctx, ec.SenderID, ec)

	case CommandLogout:
		if err := r.creds.Revoke(ctx, ec.SenderID); err != nil {
			if nerr := respond(ctx, r.notifier, ec, msgProcessingFailed); nerr != nil {
				err = errors.Join(err, nerr)
			}

			return fmt.Errorf("relay: logging out %s: %w", ec.SenderID, err)
		}

		return respond(ctx, r.notifier, ec, msgLoggedOut)

	default:
		return nil
	}
}
