package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/protoflow/internal/harness"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database string
	Timeout  time.Duration
}

// RunResult is the JSON payload of the run command.
type RunResult struct {
	Scenario string               `json:"scenario"`
	Pass     bool                 `json:"pass"`
	Steps    []harness.StepResult `json:"steps"`
	Errors   []string             `json:"errors,omitempty"`
	Database string               `json:"database,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario-file>",
		Short: "Run one scenario and keep its trace",
		Long: `Run a single scenario file and print every step's result.

With --db the dispatch trace is written to a new SQLite database that
"protoflow trace" can read afterwards. The database must not exist yet.

Example:
  protoflow run ./scenarios/checkout.yaml --db ./trace.db
  protoflow run ./scenarios/checkout.yaml --timeout 500ms --verbose`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenario(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "write the trace to a new SQLite database")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", harness.DefaultStepTimeout, "how long one step may wait for its future")

	return cmd
}

func runScenario(opts *RunOptions, path string, cmd *cobra.Command) error {
	logLevel := slog.LevelWarn
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: logLevel,
	}))

	scenario, err := harness.LoadScenario(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}

	runOpts := []harness.Option{
		harness.WithLogger(logger),
		harness.WithStepTimeout(opts.Timeout),
	}
	if opts.Database != "" {
		if _, err := os.Stat(opts.Database); err == nil {
			return NewExitError(ExitCommandError, fmt.Sprintf("database already exists: %s", opts.Database))
		}
		runOpts = append(runOpts, harness.WithStorePath(opts.Database))
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Debug("running scenario", "name", scenario.Name, "path", path)
	result, err := harness.RunContext(ctx, scenario, runOpts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "scenario could not run", err)
	}

	out := RunResult{
		Scenario: scenario.Name,
		Pass:     result.Pass,
		Steps:    result.Steps,
		Errors:   result.Errors,
		Database: opts.Database,
	}
	if formatter := newFormatter(opts.RootOptions, cmd); formatter.JSON() {
		if err := formatter.Respond(CLIResponse{Status: "ok", Data: out}); err != nil {
			return err
		}
	} else {
		printRunText(cmd, out)
	}

	if !result.Pass {
		return NewExitError(ExitFailure, fmt.Sprintf("scenario %s failed", scenario.Name))
	}
	return nil
}

func printRunText(cmd *cobra.Command, out RunResult) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Scenario: %s\n\n", out.Scenario)
	for _, step := range out.Steps {
		fmt.Fprintf(w, "  [%d] %s %s", step.Index, step.Ref, step.State)
		if step.Error != "" {
			fmt.Fprintf(w, ": %s", step.Error)
		} else if step.Value != nil {
			fmt.Fprintf(w, " %s", formatValue(step.Value))
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w)
	for _, e := range out.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
	if out.Pass {
		fmt.Fprintln(w, "✓ Scenario passed")
	} else {
		fmt.Fprintln(w, "✗ Scenario failed")
	}
	if out.Database != "" {
		fmt.Fprintf(w, "Trace written to %s\n", out.Database)
	}
}
