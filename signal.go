package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/tonimelisma/drivedrop/internal/config"
)

// shutdownContext returns a context that cancels on the first SIGINT/SIGTERM
// and force-exits on the second, so a hung drain can still be interrupted.
func shutdownContext(parent context.Context, logger *slog.Logger) context.Context {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigCh)

		select {
		case sig := <-sigCh:
			logger.Info("received signal, initiating graceful shutdown",
				slog.String("signal", sig.String()),
			)
			cancel()
		case <-ctx.Done():
			return
		}

		select {
		case sig := <-sigCh:
			logger.Warn("received second signal, forcing exit",
				slog.String("signal", sig.String()),
			)
			os.Exit(1)
		case <-parent.Done():
			return
		}
	}()

	return ctx
}

// reloadOnHangup re-reads the [policy] section on every SIGHUP until ctx ends.
func reloadOnHangup(ctx context.Context, h *config.Holder, logger *slog.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)

	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sigCh:
			policy, err := h.ReloadPolicy()
			if err != nil {
				logger.Warn("SIGHUP reload rejected, keeping previous policy", slog.String("error", err.Error()))
				continue
			}

			logger.Info("policy reloaded on SIGHUP",
				slog.String("membership_window", policy.MembershipWindow),
				slog.String("upload_timeout", policy.UploadTimeout),
				slog.Int("fanout_workers", policy.FanoutWorkers),
			)
		}
	}
}
