package relay

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/drivedrop/internal/auth"
)

// Engine uploads one attachment to many recipients.
type Engine struct {
	creds    Credentials
	uploader Uploader
	policy   PolicyFunc
	logger   *slog.Logger
}

// NewEngine creates an Engine.
func NewEngine(creds Credentials, uploader Uploader, policy PolicyFunc, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		creds:    creds,
		uploader: uploader,
		policy:   policy,
		logger:   logger,
	}
}

// UploadAll uploads f for every recipient, at most FanoutWorkers at a time,
// and returns exactly one outcome per recipient in input order. One
// recipient's failure never affects another's. When storage rejects a
// recipient's credential, that credential is revoked so the next attempt
// prompts a fresh sign-in.
func (e *Engine) UploadAll(ctx context.Context, recipients []string, f File) []Outcome {
	p := e.policy.current()
	outcomes := make([]Outcome, len(recipients))

	// Tasks never return errors, so a plain Group (no shared cancellation)
	// keeps recipients independent.
	var g errgroup.Group

	g.SetLimit(p.FanoutWorkers)

	for i, userID := range recipients {
		g.Go(func() error {
			outcomes[i] = e.uploadOne(ctx, userID, f, p.UploadTimeout)
			return nil
		})
	}

	_ = g.Wait()

	return outcomes
}

func (e *Engine) uploadOne(ctx context.Context, userID string, f File, timeout time.Duration) Outcome {
	cred, err := e.creds.LiveCredential(ctx, userID)
	if err != nil {
		reason := ReasonTransportFailure
		if errors.Is(err, auth.ErrNotAuthenticated) {
			reason = ReasonUnauthenticated
		}

		e.logger.Info("recipient has no live credential",
			slog.String("user_id", userID),
			slog.String("reason", string(reason)),
			slog.String("error", err.Error()),
		)

		return Outcome{UserID: userID, Reason: reason, Err: err}
	}

	uctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()

	stored, err := e.uploader.Upload(uctx, cred, f)
	if err == nil {
		e.logger.Info("upload succeeded",
			slog.String("user_id", userID),
			slog.String("name", stored.DisplayName),
			slog.Duration("elapsed", time.Since(start)),
		)

		return Outcome{UserID: userID, File: stored}
	}

	if !errors.Is(err, ErrGrantRejected) {
		e.logger.Warn("upload failed",
			slog.String("user_id", userID),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("error", err.Error()),
		)

		return Outcome{UserID: userID, Reason: ReasonTransportFailure, Err: err}
	}

	e.logger.Warn("storage rejected credential, revoking",
		slog.String("user_id", userID),
		slog.String("error", err.Error()),
	)

	// Revoke with the parent context; the upload deadline may have passed.
	if revokeErr := e.creds.Revoke(ctx, userID); revokeErr != nil {
		e.logger.Error("revoking rejected credential failed",
			slog.String("user_id", userID),
			slog.String("error", revokeErr.Error()),
		)
	}

	return Outcome{UserID: userID, Reason: ReasonUploadRejected, Err: err}
}
