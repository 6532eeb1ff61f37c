package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/amp-labs/stage-engine/logger"
	"github.com/amp-labs/stage-engine/telemetry"
	"github.com/spf13/cobra"
)

const appName = "stagectl"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "text" | "json"
	Env     string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"} //nolint:gochecknoglobals

// NewRootCommand creates the stagectl command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Inspect and drive stage engine configurations",
		Long: `stagectl validates stage engine YAML configurations, renders them as
Mermaid or Graphviz diagrams and runs them interactively.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return commandError(fmt.Sprintf("format %q must be one of %v", opts.Format, ValidFormats), ErrInvalidFormat)
			}

			return setupObservability(cmd.Context(), opts, cmd.ErrOrStderr())
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (text|json)")
	cmd.PersistentFlags().StringVar(&opts.Env, "env", "local", "deployment environment reported to OpenTelemetry")

	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewDiagramCommand(opts))
	cmd.AddCommand(NewStagesCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))

	return cmd
}

// setupObservability configures logging from the environment, then starts
// the OTLP pipeline and tees logs into it when a logs endpoint is set.
func setupObservability(ctx context.Context, opts *RootOptions, stderr io.Writer) error {
	logOpts := []logger.Option{logger.WithOutput(stderr)}
	if opts.Verbose {
		logOpts = append(logOpts, logger.WithLevel(slog.LevelDebug))
	}

	if _, err := logger.ConfigureLogging(appName, logOpts...); err != nil {
		return commandError("configure logging", err)
	}

	otelConfig, err := telemetry.LoadConfigFromEnv(opts.Env)
	if err != nil {
		return commandError("load telemetry config", err)
	}

	if err := telemetry.Initialize(logger.WithMuted(ctx, !opts.Verbose), otelConfig); err != nil {
		return commandError("initialize telemetry", err)
	}

	if handler := telemetry.LogHandler(); handler != nil {
		if _, err := logger.ConfigureLogging(appName, append(logOpts, logger.WithHandler(handler))...); err != nil {
			return commandError("configure logging", err)
		}
	}

	return nil
}

// Execute runs stagectl with args and returns the process exit code.
// Telemetry is flushed whether or not the command succeeds.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)

	if shutdownErr := telemetry.Shutdown(context.WithoutCancel(ctx)); shutdownErr != nil {
		logger.Get(ctx).Warn("telemetry shutdown failed", "error", shutdownErr)
	}

	if err != nil {
		logger.Get(ctx).Debug("command failed", "error", err)
		fmt.Fprintf(stderr, "Error: %v\n", err)
	}

	return ExitCode(err)
}
