package cli

import (
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/lane"
	"github.com/roach88/lane/internal/config"
)

// RootOptions holds global flags for all commands, and the configuration
// resolved from them before any command runs.
type RootOptions struct {
	ConfigFile string
	Verbose    bool
	Format     string // "json" | "text"

	// Config is filled by the root command's pre-run hook.
	Config config.Config
}

// NewRootCommand creates the root command for the lane CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}
	defaults := config.Default()

	cmd := &cobra.Command{
		Use:   "lane",
		Short: "lane - serialized SQLite access",
		Long: `Run statements against a SQLite database through a single worker lane.

Settings come from flags, LANE_* environment variables, and an optional
lane.yaml in the working directory (or --config), in that order of precedence.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.ConfigFile, cmd.Flags())
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid configuration", err)
			}
			opts.Config = cfg
			opts.Format = cfg.Format
			opts.Verbose = cfg.Verbose

			setupLogging(cmd, cfg.Verbose)
			return nil
		},
	}

	// Global flags
	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.ConfigFile, "config", "", "config file (default: ./lane.yaml if present)")
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	flags.StringVar(&opts.Format, "format", defaults.Format, "output format (json|text)")
	flags.String("db", defaults.DB, "path to SQLite database")
	flags.String("journal-mode", defaults.JournalMode, "SQLite journal mode")
	flags.String("synchronous", defaults.Synchronous, "SQLite synchronous level")
	flags.Duration("busy-timeout", defaults.BusyTimeout, "how long to wait on a locked database")

	// Add subcommands
	cmd.AddCommand(NewGetCommand(opts))
	cmd.AddCommand(NewInsertCommand(opts))
	cmd.AddCommand(NewUpdateCommand(opts))
	cmd.AddCommand(NewDeleteCommand(opts))
	cmd.AddCommand(NewExecCommand(opts))
	cmd.AddCommand(NewQueryCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewBenchCommand(opts))

	return cmd
}

// setupLogging installs a text handler on stderr as the default logger.
func setupLogging(cmd *cobra.Command, verbose bool) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

// openDB opens the configured database.
func openDB(opts *RootOptions, extra ...lane.Option) (*lane.DB, error) {
	dbOpts := append(opts.Config.Options(), lane.WithLogger(slog.Default()))
	dbOpts = append(dbOpts, extra...)

	start := time.Now()
	db, err := lane.Open(opts.Config.DB, dbOpts...)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	slog.Debug("database ready", "path", opts.Config.DB, "elapsed", time.Since(start))
	return db, nil
}

// closeDB closes db, logging rather than returning a failure so it can be
// deferred.
func closeDB(db *lane.DB) {
	if err := db.Close(); err != nil {
		slog.Error("error closing database", "error", err)
	}
}

// formatter returns the output formatter for cmd.
func formatter(cmd *cobra.Command, opts *RootOptions) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}
