package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/lane/internal/config"
	"github.com/roach88/lane/internal/harness"
)

// Error codes reported by run.
const (
	CodeBadScript    = "E003" // script cannot be read or parsed
	CodeScriptFailed = "E004" // an expectation or assertion did not hold
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions

	// Persist runs against the configured database instead of a fresh
	// in-memory one.
	Persist bool
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <script>",
		Short: "Run a YAML script and check its expectations",
		Long: `Run a script of setup statements and steps through a single worker, then
print the execution trace and check the script's expectations and assertions.

Each run uses a fresh in-memory database unless --persist is given, in which
case it runs against --db.

Example:
  lane run testdata/users.yaml
  lane run --persist --db ./scratch.db testdata/users.yaml --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScript(cmd, opts, args[0])
		},
	}

	cmd.Flags().BoolVar(&opts.Persist, "persist", false, "run against --db instead of an in-memory database")

	return cmd
}

func runScript(cmd *cobra.Command, opts *RunOptions, path string) error {
	f := formatter(cmd, opts.RootOptions)

	script, err := harness.LoadScript(path)
	if err != nil {
		_ = f.Error(CodeBadScript, err.Error(), map[string]string{"script": path})
		return WrapExitError(ExitCommandError, "failed to load script", err)
	}

	runOpts := []harness.Option{harness.WithLogger(slog.Default())}
	if opts.Persist {
		runOpts = append(runOpts, harness.WithPath(opts.Config.DB))
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	slog.Debug("running script", "name", script.Name, "steps", len(script.Steps), "persist", opts.Persist)
	result, err := harness.Run(ctx, script, runOpts...)
	if err != nil {
		_ = f.Error(CodeScriptFailed, err.Error(), map[string]string{"script": script.Name})
		return WrapExitError(ExitFailure, "script aborted", err)
	}

	if opts.Format == config.FormatJSON {
		if err := f.Success(result); err != nil {
			return err
		}
	} else {
		if _, err := f.Writer.Write(harness.FormatTrace(script.Name, result.Trace)); err != nil {
			return err
		}
		for _, msg := range result.Errors {
			f.VerboseLog("FAIL %s", msg)
		}
	}

	if !result.Pass {
		if opts.Format != config.FormatJSON {
			_ = f.Error(CodeScriptFailed, "script failed", result.Errors)
		}
		return NewExitError(ExitFailure, "script failed")
	}
	return nil
}

// signalContext derives a context from the command's that is cancelled on
// SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(cmdContext(cmd))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}
