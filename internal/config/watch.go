package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the [policy] section whenever the config file changes and
// calls onReload with the new policy. It watches the parent directory so
// editors that replace the file by rename are still seen through the
// Create that follows. Watch blocks until ctx is done.
func Watch(ctx context.Context, h *Holder, logger *slog.Logger, onReload func(PolicyConfig)) error {
	if logger == nil {
		logger = slog.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: creating watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(h.Path())
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("config: watching %s: %w", dir, err)
	}

	target := filepath.Clean(h.Path())

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if filepath.Clean(ev.Name) != target || !isContentChange(ev) {
				continue
			}

			policy, err := h.ReloadPolicy()
			if err != nil {
				logger.Warn("config reload rejected, keeping previous policy",
					slog.String("path", target),
					slog.String("error", err.Error()),
				)

				continue
			}

			logger.Info("policy reloaded",
				slog.String("membership_window", policy.MembershipWindow),
				slog.String("upload_timeout", policy.UploadTimeout),
				slog.Int("fanout_workers", policy.FanoutWorkers),
			)

			if onReload != nil {
				onReload(policy)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			logger.Warn("config watcher error", slog.String("error", err.Error()))
		}
	}
}

func isContentChange(ev fsnotify.Event) bool {
	return ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)
}
