package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"

	"github.com/amp-labs/stage-engine/logger"
	"github.com/amp-labs/stage-engine/statemachine"
	"github.com/spf13/cobra"
)

const consolePluginName = "stagectl-console"

// RunOptions holds flags for the run command.
type RunOptions struct {
	Steps        []string
	AskPayload   bool
	DenyGuards   []string
	HistoryLimit int
}

// NewRunCommand creates the run command.
func NewRunCommand(_ *RootOptions) *cobra.Command {
	opts := &RunOptions{}

	cmd := &cobra.Command{
		Use:   "run <config.yaml>",
		Short: "Drive a stage configuration interactively",
		Long: `Start an engine for the configuration and pick events from a menu until
a final stage is reached or [Quit] is chosen. Stage timers run on the
wall clock.

Named guards are simulated: every guard passes unless listed with
--deny-guard. With --send the given events are sent in order instead of
prompting; "event=<yaml>" attaches a payload.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := statemachine.LoadConfig(args[0])
			if err != nil {
				return commandError("load config", err)
			}

			var prompter Prompter = NewTerminalPrompter(opts.AskPayload)

			if len(opts.Steps) > 0 {
				steps := make([]ScriptedStep, 0, len(opts.Steps))

				for _, arg := range opts.Steps {
					step, err := ParseStep(arg)
					if err != nil {
						return commandError("parse --send", err)
					}

					steps = append(steps, step)
				}

				prompter = NewScriptedPrompter(steps...)
			}

			if err := checkDeniedGuards(config, opts.DenyGuards); err != nil {
				return commandError("parse --deny-guard", err)
			}

			runner := &Runner{
				Prompter: prompter,
				Out:      cmd.OutOrStdout(),
				FailFast: len(opts.Steps) > 0,
			}

			engineOpts := []statemachine.Option{
				statemachine.WithGuards(simulatedGuards(config, opts.DenyGuards)),
			}

			if cmd.Flags().Changed("history") {
				engineOpts = append(engineOpts, statemachine.WithHistoryLimit(opts.HistoryLimit))
			}

			return runner.Run(cmd.Context(), config, engineName(config, args[0]), engineOpts...)
		},
	}

	cmd.Flags().StringArrayVar(&opts.Steps, "send", nil, "event to send, optionally event=<yaml payload> (repeatable)")
	cmd.Flags().BoolVar(&opts.AskPayload, "ask-payload", false, "prompt for a payload after each event")
	cmd.Flags().StringSliceVar(&opts.DenyGuards, "deny-guard", nil, "named guards that fail")
	cmd.Flags().IntVar(&opts.HistoryLimit, "history", 0, "keep only the last N history entries (0 keeps all)")

	return cmd
}

func engineName(config *statemachine.Config, path string) string {
	if config.Name != "" {
		return config.Name
	}

	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

func checkDeniedGuards(config *statemachine.Config, deny []string) error {
	known := simulatedGuards(config, nil)

	for _, name := range deny {
		if _, ok := known[name]; !ok {
			return fmt.Errorf("%w: no transition uses guard %q", ErrInvalidGuard, name)
		}
	}

	return nil
}

func simulatedGuards(config *statemachine.Config, deny []string) map[string]statemachine.Guard {
	denied := make(map[string]bool, len(deny))
	for _, name := range deny {
		denied[name] = true
	}

	guards := make(map[string]statemachine.Guard)

	for _, stage := range config.Stages {
		for _, transition := range stage.Transitions {
			if transition.GuardName == "" {
				continue
			}

			pass := !denied[transition.GuardName]
			guards[transition.GuardName] = func(any, any) bool { return pass }
		}
	}

	return guards
}

// Runner connects an engine to a Prompter and prints each stage it enters.
type Runner struct {
	Prompter Prompter
	Out      io.Writer

	// FailFast stops the run on the first rejected event.
	FailFast bool

	mu sync.Mutex
}

func (r *Runner) printf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fmt.Fprintf(r.Out, format, args...)
}

func (r *Runner) banner(stage, effect string) {
	text := StageTitle(stage)
	if effect != "" {
		text += "\neffect: " + effect
	}

	r.printf("%s", Banner(text, TerminalWidth(), AlignCenter))
}

func (r *Runner) consolePlugin() statemachine.Plugin {
	return statemachine.Plugin{
		Name: consolePluginName,
		OnStageChange: func(_ context.Context, change statemachine.StageChange) error {
			if change.Origin == statemachine.OriginTimer {
				r.printf("⏱ timer fired: %s\n", change.Event)
			}

			return nil
		},
	}
}

// Run starts an engine for config and drives it until the prompter quits or
// the engine settles in a stage with no events and no timers.
func (r *Runner) Run(ctx context.Context, config *statemachine.Config, name string, opts ...statemachine.Option) error {
	ctx = logger.With(ctx, "engine", name)

	changed := make(chan struct{}, 1)

	opts = append([]statemachine.Option{
		statemachine.WithName(name),
		statemachine.WithSlogLogger(logger.Get(ctx)),
		statemachine.WithPlugins(r.consolePlugin()),
	}, opts...)

	engine, err := statemachine.New(config, opts...)
	if err != nil {
		return failure("create engine", err)
	}

	engine.Subscribe(func(_ context.Context, stage string, _ any) {
		effect, _ := engine.StageEffect(stage)
		r.banner(stage, effect)

		select {
		case changed <- struct{}{}:
		default:
		}
	})

	if err := engine.Start(ctx); err != nil {
		return failure("start engine", err)
	}

	defer func() {
		if err := engine.Stop(context.WithoutCancel(ctx)); err != nil {
			logger.Get(ctx).Warn("engine stop failed", "error", err)
		}
	}()

	err = r.loop(ctx, engine, changed)

	r.printf("History: %s\n", strings.Join(engine.History(), " → "))

	return err
}

func (r *Runner) loop(ctx context.Context, engine *statemachine.Engine, changed <-chan struct{}) error {
	for {
		stage := engine.CurrentStage()
		events := engine.AvailableEvents()

		if len(events) == 0 {
			if engine.ActiveTimers() == 0 {
				r.printf("Reached final stage %q\n", stage)

				return nil
			}

			// Only a timer can move the engine on.
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-changed:
				continue
			}
		}

		event, err := r.Prompter.SelectEvent(stage, events)
		if errors.Is(err, ErrQuit) {
			return nil
		}

		if err != nil {
			return commandError("prompt", err)
		}

		payload, err := r.Prompter.Payload(event)
		if errors.Is(err, ErrQuit) {
			return nil
		}

		if err != nil {
			return commandError("prompt", err)
		}

		var data []any
		if payload != nil {
			data = append(data, payload)
		}

		result, err := engine.Send(ctx, event, data...)
		if err != nil {
			err = logger.AnnotateError(err, "stage", stage, "event", event)
			logger.Get(ctx).Debug("event rejected", "error", err)
			r.printf("✗ %s: %v\n", event, err)

			if r.FailFast {
				return failure("send "+event, err)
			}

			continue
		}

		if result.Cancelled {
			r.printf("✗ %s cancelled by %s: %s\n", event, result.CancelledBy, result.Reason)
		}
	}
}
