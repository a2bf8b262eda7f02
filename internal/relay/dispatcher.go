package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Dispatcher sends sign-in prompts. The link only ever goes to the user's
// private chat; shared conversations see an acknowledgement without it.
type Dispatcher struct {
	auth     Authorizer
	notifier Notifier
	logger   *slog.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(auth Authorizer, notifier Notifier, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}

	return &Dispatcher{auth: auth, notifier: notifier, logger: logger}
}

// RequestAuth pushes a sign-in link to userID privately. When ec is a group
// or room, the conversation is told the link went out privately (or, when
// the private push failed, asked to add the bot as a friend).
func (d *Dispatcher) RequestAuth(ctx context.Context, userID string, ec EventContext) error {
	pushErr := d.prompt(ctx, userID)

	if !ec.Shared() {
		return pushErr
	}

	ack := msgLinkSentPrivately
	if pushErr != nil {
		ack = msgAddFriendFirst
	}

	if err := respond(ctx, d.notifier, ec, ack); err != nil {
		d.logger.Warn("sign-in acknowledgement failed",
			slog.String("group_id", ec.GroupID),
			slog.String("error", err.Error()),
		)
	}

	return pushErr
}

// prompt pushes a fresh sign-in link to userID's private chat.
func (d *Dispatcher) prompt(ctx context.Context, userID string) error {
	link, err := d.auth.BeginAuthorization(ctx, userID)
	if err != nil {
		return fmt.Errorf("relay: building sign-in link: %w", err)
	}

	if err := d.notifier.PushText(ctx, userID, fmt.Sprintf(msgSignIn, link)); err != nil {
		d.logger.Warn("sign-in prompt not delivered",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)

		return fmt.Errorf("relay: sending sign-in link: %w", err)
	}

	d.logger.Info("sign-in prompt sent", slog.String("user_id", userID))

	return nil
}

// respond answers in the conversation an event came from: through the
// reply token when there is one, else by push to the group or sender.
// Reply tokens expire quickly, so a failed reply is retried as a push.
func respond(ctx context.Context, n Notifier, ec EventContext, text string) error {
	to := ec.SenderID
	if ec.Shared() {
		to = ec.GroupID
	}

	if ec.ReplyToken == "" {
		return n.PushText(ctx, to, text)
	}

	replyErr := n.ReplyText(ctx, ec.ReplyToken, text)
	if replyErr == nil {
		return nil
	}

	if err := n.PushText(ctx, to, text); err != nil {
		return errors.Join(replyErr, err)
	}

	return nil
}
