package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/gdrive-go/internal/config"
	"github.com/tonimelisma/gdrive-go/internal/gdrive"
	"github.com/tonimelisma/gdrive-go/internal/session"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath  string
	flagSecretsPath string
	flagJSON        bool
	flagVerbose     bool
	flagQuiet       bool
)

// resolvedCfg holds the effective configuration loaded by PersistentPreRunE.
var resolvedCfg *config.Resolved

// newRootCmd builds the root command with all subcommands registered. The
// root command itself runs the shell.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "gdrive-go",
		Short:   "Google Drive terminal client",
		Long:    "An interactive terminal client for browsing and transferring files in Google Drive.",
		Version: version,
		// Errors are printed by exitOnError.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadConfig(cmd)
		},
		Args: cobra.NoArgs,
		RunE: runShell,
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagSecretsPath, "secrets", "", "OAuth client secrets file path")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	addLoginFlags(cmd)

	cmd.AddCommand(newShellCmd())
	cmd.AddCommand(newAuthURLCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// loadConfig resolves the effective configuration from the override chain
// and stores the result in resolvedCfg for use by subcommands.
func loadConfig(_ *cobra.Command) error {
	cli := config.CLIOverrides{
		ConfigPath:  flagConfigPath,
		SecretsPath: flagSecretsPath,
	}

	resolved, err := config.Resolve(config.ReadEnvOverrides(), cli)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	resolvedCfg = resolved

	return nil
}

// buildLogger creates an slog.Logger configured by the resolved config and
// CLI flags. --verbose and --quiet override the config file's level.
func buildLogger() *slog.Logger {
	level := slog.LevelInfo

	if resolvedCfg != nil {
		switch resolvedCfg.Logging.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}

	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// metaHTTPClient bounds metadata and token calls by the configured timeout.
func metaHTTPClient(cfg *config.Resolved) *http.Client {
	return &http.Client{Timeout: cfg.Network.TimeoutDuration()}
}

// transferHTTPClient has no overall timeout: a large download may take
// arbitrarily long and is bounded by its context instead.
func transferHTTPClient() *http.Client {
	return &http.Client{}
}

// sessionFactory returns a constructor for sessions bound to cfg. The
// OAuth client registration is passed per call because the loopback login
// flow only learns its redirect URI after binding a port.
func sessionFactory(cfg *config.Resolved, logger *slog.Logger) func(gdrive.ClientConfig) driveSession {
	return func(cc gdrive.ClientConfig) driveSession {
		return session.New(session.Options{
			Client: cc,
			Endpoints: gdrive.Endpoints{
				APIBase:    cfg.Network.APIBaseURL,
				UploadBase: cfg.Network.UploadBaseURL,
				UserInfo:   cfg.Network.UserInfoURL,
			},
			MetaHTTP:     metaHTTPClient(cfg),
			TransferHTTP: transferHTTPClient(),
			PageSize:     cfg.Listing.PageSize,
			CacheTTL:     cfg.Cache.TTLDuration(),
			Logger:       logger,
		})
	}
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
