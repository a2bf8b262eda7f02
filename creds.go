package main

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/drivedrop/internal/store"
)

func newCredsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "creds",
		Short: "Inspect or revoke stored user credentials",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show <user-id>",
		Short: "Show a user's stored credential (tokens are never printed)",
		Args:  cobra.ExactArgs(1),
		RunE:  runCredsShow,
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "revoke <user-id>",
		Short: "Delete a user's stored credential",
		Args:  cobra.ExactArgs(1),
		RunE:  runCredsRevoke,
	})

	return cmd
}

// credentialSummary is the printable view of a credential. Token material
// is reduced to presence flags.
type credentialSummary struct {
	UserID          string    `json:"user_id"`
	HasRefreshToken bool      `json:"has_refresh_token"`
	ExpiresAt       time.Time `json:"expires_at,omitzero"`
	Expired         bool      `json:"expired"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func summarize(c *store.Credential, now time.Time) credentialSummary {
	return credentialSummary{
		UserID:          c.UserID,
		HasRefreshToken: c.RefreshToken != "",
		ExpiresAt:       c.ExpiresAt,
		Expired:         c.Expired(now, 0),
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
	}
}

func runCredsShow(cmd *cobra.Command, args []string) error {
	logger, closeLog, err := buildLogger(resolvedCfg)
	if err != nil {
		return err
	}
	defer closeLog()

	s, err := openSession(cmd.Context(), resolvedCfg, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	cred, err := s.backend.Credentials.Get(cmd.Context(), args[0])
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("no credential stored for %s", args[0])
	}

	if err != nil {
		return err
	}

	now := time.Now()
	summary := summarize(cred, now)

	if flagJSON {
		return printJSON(summary)
	}

	fmt.Printf("User:          %s\n", summary.UserID)
	fmt.Printf("Refresh token: %s\n", yesNo(summary.HasRefreshToken))

	expiry := formatTime(summary.ExpiresAt, now)
	if summary.Expired {
		expiry += " (expired)"
	}

	fmt.Printf("Expires:       %s\n", expiry)
	fmt.Printf("Signed in:     %s\n", formatTime(summary.CreatedAt, now))
	fmt.Printf("Updated:       %s\n", formatTime(summary.UpdatedAt, now))

	return nil
}

func runCredsRevoke(cmd *cobra.Command, args []string) error {
	logger, closeLog, err := buildLogger(resolvedCfg)
	if err != nil {
		return err
	}
	defer closeLog()

	s, err := openSession(cmd.Context(), resolvedCfg, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	userID := args[0]

	if _, err := s.backend.Credentials.Get(cmd.Context(), userID); errors.Is(err, store.ErrNotFound) {
		statusf("No credential stored for %s.\n", userID)
		return nil
	}

	// Revoke needs no OAuth registration, so it goes straight to the store.
	if err := s.backend.Credentials.Delete(cmd.Context(), userID); err != nil {
		return err
	}

	logger.Info("credential revoked", slog.String("user_id", userID))

	statusf("Revoked credential for %s. The user will be asked to sign in again.\n", userID)

	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}

	return "no"
}
