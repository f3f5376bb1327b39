package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/tessera-maps/anchorbatch/internal/batch"
	"github.com/tessera-maps/anchorbatch/internal/batch/testutil"
	"github.com/tessera-maps/anchorbatch/internal/config"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	ConfigPath string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <config.yaml>",
		Short: "Start a batch anchor run from a config file",
		Long: `Start a batch anchor run.

Loads a run configuration from YAML, expands the origin tile into a
dependency-ordered anchor plan, and drives it to completion under the
configured scheduling mode.

Example:
  anchorbatch run ./run.yaml
  anchorbatch run ./run.yaml --verbose`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ConfigPath = args[0]
			return runBatch(opts, cmd)
		},
	}

	return cmd
}

func runBatch(opts *RunOptions, cmd *cobra.Command) error {
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("loading config", "path", opts.ConfigPath)
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	input := cfg.ToInput()
	if cfg.FixtureDir != "" {
		slog.Info("replaying fixture tiles", "dir", cfg.FixtureDir)
		exec, err := newFixtureExecutor(cfg.FixtureDir)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load fixture tiles", err)
		}
		input.ExecuteAnchor = exec.Execute
		input.RefreshParentLevel = fixtureParentRefresher{}.Refresh
	} else {
		slog.Info("using in-memory fake collaborators, no generation backend configured")
		fakeExec := testutil.NewFakeAnchorExecutor(nil)
		fakeRefresh := &testutil.FakeParentRefresher{}
		input.ExecuteAnchor = fakeExec.Execute
		input.RefreshParentLevel = fakeRefresh.Refresh
	}

	printer := message.NewPrinter(language.English)
	input.OnState = func(state batch.BatchRunState) {
		if !opts.Verbose {
			return
		}
		printer.Fprintf(cmd.OutOrStdout(), "status=%s success=%d failed=%d blocked=%d pending=%d running=%d waves=%d\n",
			state.Status, state.Generate.Success, state.Generate.Failed, state.Generate.Blocked,
			state.Generate.Pending, state.Generate.Running, state.Generate.WavesCompleted)
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, cancelling run", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	slog.Info("starting batch run", "origin_x", input.OriginX, "origin_y", input.OriginY, "layers", input.Layers)
	handle, err := batch.StartBatchRun(ctx, input)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start batch run", err)
	}

	<-handle.Done()
	final := handle.State()

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	if final.Status == batch.RunFailed {
		return formatter.Error("E_RUN_FAILED", final.Error, final)
	}
	return formatter.Success(final)
}
