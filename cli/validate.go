package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/amp-labs/stage-engine/logger"
	"github.com/amp-labs/stage-engine/statemachine"
	"github.com/amp-labs/stage-engine/statemachine/validator"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	Strict bool
	Fix    bool
	Output string
}

// FileReport is the JSON form of one validated file.
type FileReport struct {
	File     string   `json:"file"`
	Valid    bool     `json:"valid"`
	Errors   []Issue  `json:"errors,omitempty"`
	Warnings []Issue  `json:"warnings,omitempty"`
	Info     []Issue  `json:"info,omitempty"`
	Fixes    []string `json:"fixes,omitempty"`
}

// Issue is the JSON form of a validation error or warning.
type Issue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Stage   string `json:"stage,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{}

	cmd := &cobra.Command{
		Use:   "validate <config.yaml>...",
		Short: "Lint stage configurations",
		Long: `Validate stage configurations: structural checks first, then rules for
unreachable stages, timers without transitions, shadowed transitions,
naming and dead ends.

With --fix the suggested fixes of a single file are applied and the
result is written to --output.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Fix && (len(args) != 1 || opts.Output == "") {
				return commandError("--fix needs exactly one config and --output", nil)
			}

			return runValidate(cmd, rootOpts, opts, args)
		},
	}

	cmd.Flags().BoolVar(&opts.Strict, "strict", false, "treat warnings as errors")
	cmd.Flags().BoolVar(&opts.Fix, "fix", false, "apply suggested fixes")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "where --fix writes the fixed config")

	return cmd
}

func runValidate(cmd *cobra.Command, rootOpts *RootOptions, opts *ValidateOptions, paths []string) error {
	out := cmd.OutOrStdout()
	reports := make([]FileReport, 0, len(paths))
	failed := 0

	for _, path := range paths {
		result, err := validator.ValidateFileWithOptions(path, opts.Strict)
		if err != nil {
			logger.Get(cmd.Context()).Debug("config load failed", "file", path, "error", err)
		}

		if !result.Valid {
			failed++
		}

		report := newFileReport(path, result)
		reports = append(reports, report)

		if rootOpts.Format == "text" {
			fmt.Fprintf(out, "%s\n%s", path, result.String())
		}

		if opts.Fix && err == nil {
			if err := writeFixed(path, opts.Output, result); err != nil {
				return failure("apply fixes", err)
			}

			if rootOpts.Format == "text" {
				fmt.Fprintf(out, "Applied %d fix(es), wrote %s\n", len(report.Fixes), opts.Output)
			}
		}
	}

	if rootOpts.Format == "json" {
		if err := writeJSON(out, reports); err != nil {
			return commandError("write report", err)
		}
	}

	if failed > 0 {
		return failure(fmt.Sprintf("%d of %d config(s) invalid", failed, len(paths)), nil)
	}

	return nil
}

func newFileReport(path string, result validator.ValidationResult) FileReport {
	report := FileReport{File: path, Valid: result.Valid}

	for _, e := range result.Errors {
		report.Errors = append(report.Errors, Issue{Code: e.Code, Message: e.Message, Stage: e.Location.Stage})
	}

	for _, w := range result.Warnings {
		report.Warnings = append(report.Warnings, Issue{Code: w.Code, Message: w.Message, Stage: w.Location.Stage})
	}

	for _, i := range result.Info {
		report.Info = append(report.Info, Issue{Code: i.Code, Message: i.Message, Stage: i.Location.Stage})
	}

	for _, fix := range result.Fixes() {
		report.Fixes = append(report.Fixes, fix.Description)
	}

	return report
}

func writeFixed(path, output string, result validator.ValidationResult) error {
	config, err := statemachine.LoadConfig(path)
	if err != nil {
		return err
	}

	if err := validator.ApplyFixes(config, result.Fixes()); err != nil {
		return err
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	return os.WriteFile(output, data, 0o600) //nolint:mnd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}
