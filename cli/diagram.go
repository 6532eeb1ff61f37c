package cli

import (
	"fmt"
	"os"

	"github.com/amp-labs/stage-engine/statemachine"
	"github.com/amp-labs/stage-engine/statemachine/visualizer"
	"github.com/spf13/cobra"
)

// DiagramOptions holds flags for the diagram command.
type DiagramOptions struct {
	Kind      string // "mermaid" | "dot"
	Direction string
	Current   string
	Highlight []string
	NoGuards  bool
	NoTimers  bool
	NoEffects bool
	Markdown  bool
	Output    string
}

// NewDiagramCommand creates the diagram command.
func NewDiagramCommand(_ *RootOptions) *cobra.Command {
	opts := &DiagramOptions{}

	cmd := &cobra.Command{
		Use:   "diagram <config.yaml>",
		Short: "Render a stage configuration as Mermaid or Graphviz DOT",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadValidConfig(args[0])
			if err != nil {
				return err
			}

			diagram, err := renderDiagram(config, opts)
			if err != nil {
				return failure("render diagram", err)
			}

			if opts.Output != "" {
				if err := os.WriteFile(opts.Output, []byte(diagram), 0o600); err != nil { //nolint:mnd
					return commandError("write diagram", err)
				}

				return nil
			}

			_, err = fmt.Fprint(cmd.OutOrStdout(), diagram)

			return err
		},
	}

	cmd.Flags().StringVarP(&opts.Kind, "type", "t", "mermaid", "diagram type (mermaid|dot)")
	cmd.Flags().StringVar(&opts.Direction, "direction", "TD", "layout direction (TD|LR|RL|BT)")
	cmd.Flags().StringVar(&opts.Current, "current", "", "stage to mark as current")
	cmd.Flags().StringSliceVar(&opts.Highlight, "highlight", nil, "stages to highlight, in path order")
	cmd.Flags().BoolVar(&opts.NoGuards, "no-guards", false, "omit guard names from labels")
	cmd.Flags().BoolVar(&opts.NoTimers, "no-timers", false, "omit timer durations from labels")
	cmd.Flags().BoolVar(&opts.NoEffects, "no-effects", false, "omit stage effects")
	cmd.Flags().BoolVar(&opts.Markdown, "markdown", false, "wrap Mermaid output in a fenced code block")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write to a file instead of stdout")

	return cmd
}

func renderDiagram(config *statemachine.Config, opts *DiagramOptions) (string, error) {
	vizOpts := visualizer.DefaultOptions().
		WithShowGuards(!opts.NoGuards).
		WithShowTimers(!opts.NoTimers).
		WithShowEffects(!opts.NoEffects).
		WithDirection(opts.Direction).
		WithHighlightPath(opts.Highlight).
		WithCurrent(opts.Current).
		WithMarkdown(opts.Markdown)

	switch opts.Kind {
	case "mermaid":
		return visualizer.GenerateMermaidWithOptions(config, vizOpts)
	case "dot":
		return visualizer.GenerateDOTWithOptions(config, vizOpts)
	default:
		return "", fmt.Errorf("%w: diagram type %q", ErrInvalidFormat, opts.Kind)
	}
}
