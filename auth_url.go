package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newAuthURLCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "auth-url <user-id>",
		Short: "Print a sign-in link for a user",
		Long: `Prints a single-use OneDrive sign-in link bound to the given LINE user ID.

The link is verified by the running server, so the authorization state must
live somewhere both processes can reach: state.redis_addr must be set.`,
		Args: cobra.ExactArgs(1),
		RunE: runAuthURL,
	}
}

func runAuthURL(cmd *cobra.Command, args []string) error {
	if resolvedCfg.State.RedisAddr == "" {
		return errors.New("auth-url requires state.redis_addr; " +
			"links issued with in-process state cannot be completed by the server")
	}

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

	mgr, err := s.requireAuth(resolvedCfg)
	if err != nil {
		return err
	}

	link, err := mgr.BeginAuthorization(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	if flagJSON {
		return printJSON(map[string]string{"user_id": args[0], "url": link})
	}

	fmt.Println(link)

	return nil
}
