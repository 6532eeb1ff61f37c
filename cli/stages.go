package cli

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"facette.io/natsort"
	"github.com/amp-labs/stage-engine/statemachine"
	"github.com/amp-labs/stage-engine/statemachine/validator"
	"github.com/spf13/cobra"
)

// StageSummary is one row of the stages listing.
type StageSummary struct {
	Name      string   `json:"name"`
	Effect    string   `json:"effect,omitempty"`
	Events    []string `json:"events,omitempty"`
	Timers    []string `json:"timers,omitempty"`
	Initial   bool     `json:"initial,omitempty"`
	Reachable bool     `json:"reachable"`
}

// NewStagesCommand creates the stages command.
func NewStagesCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stages <config.yaml>",
		Short: "List the stages of a configuration in natural order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadValidConfig(args[0])
			if err != nil {
				return err
			}

			summaries := SummarizeStages(config)

			if rootOpts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), summaries)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0) //nolint:mnd
			fmt.Fprintln(tw, "STAGE\tEFFECT\tEVENTS\tTIMERS\t")

			for _, s := range summaries {
				name := s.Name
				if s.Initial {
					name += " (initial)"
				}

				if !s.Reachable {
					name += " (unreachable)"
				}

				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t\n",
					name, dash(s.Effect), dash(strings.Join(s.Events, ", ")), dash(strings.Join(s.Timers, ", ")))
			}

			return tw.Flush()
		},
	}
}

// SummarizeStages describes every stage of config, sorted naturally by name.
func SummarizeStages(config *statemachine.Config) []StageSummary {
	reachable := validator.Reachable(config)
	summaries := make([]StageSummary, 0, len(config.Stages))

	for i := range config.Stages {
		stage := &config.Stages[i]

		summary := StageSummary{
			Name:      stage.Name,
			Effect:    stage.Effect,
			Events:    statemachine.AvailableEvents(stage),
			Initial:   stage.Name == config.Initial,
			Reachable: reachable[stage.Name],
		}

		for _, timer := range stage.Timers {
			summary.Timers = append(summary.Timers, fmt.Sprintf("%s after %s", timer.Event, timer.Duration))
		}

		summaries = append(summaries, summary)
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		return natsort.Compare(summaries[i].Name, summaries[j].Name)
	})

	return summaries
}

func dash(s string) string {
	if s == "" {
		return "-"
	}

	return s
}

// loadValidConfig loads path and rejects structurally invalid configs.
func loadValidConfig(path string) (*statemachine.Config, error) {
	config, err := statemachine.LoadConfig(path)
	if err != nil {
		return nil, commandError("load config", err)
	}

	if err := config.Validate(); err != nil {
		return nil, commandError("invalid config "+path, err)
	}

	return config, nil
}
