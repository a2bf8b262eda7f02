package relay

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/tonimelisma/drivedrop/internal/store"
)

// Resolver computes who should receive a copy of an attachment.
type Resolver struct {
	members store.MembershipTracker
	creds   Credentials
	policy  PolicyFunc
	logger  *slog.Logger

	nowFunc func() time.Time
}

// NewResolver creates a Resolver.
func NewResolver(members store.MembershipTracker, creds Credentials, policy PolicyFunc, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}

	return &Resolver{
		members: members,
		creds:   creds,
		policy:  policy,
		logger:  logger,
		nowFunc: time.Now,
	}
}

// Resolve returns the sorted recipient IDs for an event. In a direct chat
// that is the sender when authenticated. In a group or room it is every
// recently active member holding a credential, plus the sender when
// authenticated. Activity is recorded before members are listed so a user
// who just signed in is picked up by the next event. Store failures yield
// an empty set, which sends the caller down the sign-in path.
func (r *Resolver) Resolve(ctx context.Context, ec EventContext) []string {
	if ec.SenderID == "" {
		return nil
	}

	if !ec.Shared() {
		if r.live(ctx, ec.SenderID) {
			return []string{ec.SenderID}
		}

		return nil
	}

	now := r.nowFunc()

	if err := r.members.RecordActivity(ctx, ec.GroupID, ec.SenderID, ec.groupType(), now); err != nil {
		r.logger.Warn("recording group activity failed",
			slog.String("group_id", ec.GroupID),
			slog.String("user_id", ec.SenderID),
			slog.String("error", err.Error()),
		)

		return nil
	}

	since := now.Add(-r.policy.current().MembershipWindow)

	members, err := r.members.ListAuthenticatedMembers(ctx, ec.GroupID, since)
	if err != nil {
		r.logger.Warn("listing group members failed",
			slog.String("group_id", ec.GroupID),
			slog.String("error", err.Error()),
		)

		return nil
	}

	recipients := slices.Clone(members)
	if !slices.Contains(recipients, ec.SenderID) && r.live(ctx, ec.SenderID) {
		recipients = append(recipients, ec.SenderID)
	}

	slices.Sort(recipients)

	recipients = slices.Compact(recipients)

	r.logger.Debug("recipients resolved",
		slog.String("group_id", ec.GroupID),
		slog.Int("count", len(recipients)),
	)

	return recipients
}

func (r *Resolver) live(ctx context.Context, userID string) bool {
	_, err := r.creds.LiveCredential(ctx, userID)

	return err == nil
}
