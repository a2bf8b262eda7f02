package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/drivedrop/internal/auth"
	"github.com/tonimelisma/drivedrop/internal/config"
	"github.com/tonimelisma/drivedrop/internal/line"
	"github.com/tonimelisma/drivedrop/internal/relay"
	"github.com/tonimelisma/drivedrop/internal/server"
	"github.com/tonimelisma/drivedrop/internal/store"
)

// msgSignedIn confirms a completed sign-in in the user's private chat.
const msgSignedIn = "You're signed in. Files shared with you will now be saved to your OneDrive."

// readHeaderTimeout bounds how long a client may take to send request headers.
const readHeaderTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server",
		Long: `Runs the LINE webhook endpoint and the OAuth redirect target.

Images and files posted in a chat are saved to the OneDrive of every
signed-in recipient. The [policy] section of the config file is reloaded
when the file changes or on SIGHUP.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}

	cmd.Flags().StringVar(&flagListen, "listen", "", "listen address (overrides server.listen)")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg := resolvedCfg

	if err := config.ValidateServe(cfg); err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger, closeLog, err := buildLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx := shutdownContext(cmd.Context(), logger)

	s, err := openSession(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	mgr, err := s.requireAuth(cfg)
	if err != nil {
		return err
	}

	holder := config.NewHolder(cfg, resolvedCfgPath)
	srv := newServer(holder, s.backend, mgr, logger)

	go watchConfig(ctx, holder, logger)
	go reloadOnHangup(ctx, holder, logger)

	ln, err := net.Listen("tcp", cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	httpSrv := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	return serveUntilDone(ctx, ln, httpSrv, srv,
		config.Duration(cfg.Server.ShutdownTimeout, 30*time.Second), logger)
}

// newServer wires the chat client, the relay, and the HTTP endpoints.
func newServer(holder *config.Holder, backend *store.Backend, mgr *auth.Manager, logger *slog.Logger) *server.Server {
	cfg := holder.Config()
	httpClient := newHTTPClient(cfg)

	lineClient := line.NewClient(cfg.Line.APIBaseURL, cfg.Line.DataBaseURL, cfg.Line.ChannelToken, httpClient, logger)
	lineClient.SetMaxContentSize(config.Size(cfg.Line.MaxContentSize, line.DefaultMaxContentSize))

	rl := relay.New(relay.Deps{
		Members:     backend.Members,
		Credentials: mgr,
		Authorizer:  mgr,
		Uploader: &graphUploader{
			baseURL:    cfg.Storage.GraphBaseURL,
			folder:     cfg.Storage.Folder,
			userAgent:  cfg.Network.UserAgent,
			httpClient: httpClient,
			logger:     logger,
		},
		Fetcher:  lineFetcher{client: lineClient},
		Notifier: lineClient,
		Policy:   policyFrom(holder),
	}, logger)

	return server.New(server.Options{
		ChannelSecret: cfg.Line.ChannelSecret,
		EventTimeout:  config.Duration(cfg.Server.EventTimeout, server.DefaultEventTimeout),
		OnSignIn: func(ctx context.Context, userID string) {
			if err := lineClient.PushText(ctx, userID, msgSignedIn); err != nil {
				logger.Warn("sign-in confirmation not delivered",
					slog.String("user_id", userID),
					slog.String("error", err.Error()),
				)
			}
		},
	}, rl, mgr, logger)
}

// serveUntilDone serves on ln until ctx ends, then stops accepting requests
// and waits for in-flight events up to timeout.
func serveUntilDone(
	ctx context.Context, ln net.Listener, httpSrv *http.Server, srv *server.Server,
	timeout time.Duration, logger *slog.Logger,
) error {
	errCh := make(chan error, 1)

	go func() {
		errCh <- httpSrv.Serve(ln)
	}()

	logger.Info("drivedrop serving", slog.String("listen", ln.Addr().String()), slog.String("version", version))

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}

		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", slog.String("error", err.Error()))
	}

	if err := srv.Drain(shutdownCtx); err != nil {
		logger.Warn("abandoned in-flight events at shutdown", slog.String("error", err.Error()))
		return nil
	}

	logger.Info("shutdown complete")

	return nil
}

// policyFrom reads the fan-out policy from the live config on every call.
func policyFrom(h *config.Holder) relay.PolicyFunc {
	return func() relay.Policy {
		p := h.Config().Policy

		return relay.Policy{
			MembershipWindow: config.Duration(p.MembershipWindow, relay.DefaultMembershipWindow),
			UploadTimeout:    config.Duration(p.UploadTimeout, relay.DefaultUploadTimeout),
			FanoutWorkers:    p.FanoutWorkers,
		}
	}
}

func watchConfig(ctx context.Context, h *config.Holder, logger *slog.Logger) {
	if err := config.Watch(ctx, h, logger, nil); err != nil {
		logger.Info("config file watching disabled", slog.String("error", err.Error()))
	}
}
