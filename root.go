package main

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/drivedrop/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagListen     string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// resolvedCfg holds the effective configuration loaded by PersistentPreRunE,
// and resolvedCfgPath the file it came from.
var (
	resolvedCfg     *config.Config
	resolvedCfgPath string
)

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "drivedrop",
		Short:   "Save LINE chat attachments to OneDrive",
		Long:    "A LINE bot that saves images and files shared in chats to every signed-in participant's OneDrive.",
		Version: version,
		// Errors are printed by exitOnError.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadConfig(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")
	cmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newCredsCmd())
	cmd.AddCommand(newAuthURLCmd())

	return cmd
}

// loadConfig resolves the effective configuration from the override chain
// and stores the result for use by subcommands.
func loadConfig(cmd *cobra.Command) error {
	cli := config.CLIOverrides{
		ConfigPath: flagConfigPath,
	}

	if f := cmd.Flags().Lookup("listen"); f != nil && f.Changed {
		cli.Listen = flagListen
	}

	cfg, path, err := config.Resolve(config.ReadEnvOverrides(), cli)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	resolvedCfg = cfg
	resolvedCfgPath = path

	return nil
}

// buildLogger creates an slog.Logger from the logging section and CLI flags.
// --verbose and --quiet override the configured level. The returned func
// closes the log file, if one was opened.
func buildLogger(cfg *config.Config) (*slog.Logger, func(), error) {
	level := slog.LevelInfo
	format := "auto"

	var out io.Writer = os.Stderr

	closeLog := func() {}

	if cfg != nil {
		switch cfg.Logging.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}

		format = cfg.Logging.LogFormat

		if cfg.Logging.LogFile != "" {
			f, err := os.OpenFile(cfg.Logging.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
			if err != nil {
				return nil, nil, fmt.Errorf("opening log file: %w", err)
			}

			out = f
			closeLog = func() { f.Close() }
		}
	}

	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if useJSONLogs(format, out) {
		return slog.New(slog.NewJSONHandler(out, opts)), closeLog, nil
	}

	return slog.New(slog.NewTextHandler(out, opts)), closeLog, nil
}

// useJSONLogs resolves "auto" to text on a terminal and JSON otherwise.
func useJSONLogs(format string, out io.Writer) bool {
	switch format {
	case "json":
		return true
	case "text":
		return false
	}

	f, ok := out.(*os.File)
	if !ok {
		return true
	}

	return !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd())
}

// newHTTPClient returns the outbound client shared by the Graph and LINE
// calls. request_timeout bounds the wait for response headers; transfers
// themselves are bounded by their contexts.
func newHTTPClient(cfg *config.Config) *http.Client {
	dialer := &net.Dialer{
		Timeout:   config.Duration(cfg.Network.ConnectTimeout, 10*time.Second),
		KeepAlive: 30 * time.Second,
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = dialer.DialContext
	transport.ResponseHeaderTimeout = config.Duration(cfg.Network.RequestTimeout, time.Minute)

	return &http.Client{Transport: transport}
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
