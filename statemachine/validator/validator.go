// Package validator lints stage machine configurations beyond the structural checks done by New.
package validator

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"facette.io/natsort"
	"github.com/amp-labs/stage-engine/statemachine"
)

// ValidationResult contains the results of validating a stage machine config.
type ValidationResult struct {
	Valid       bool
	Errors      []ValidationError
	Warnings    []ValidationWarning
	Info        []ValidationWarning
	Suggestions []Suggestion
}

// ValidationError represents a validation error with an optional fix.
type ValidationError struct {
	Code     string   // Error code like "INVALID_CONFIG", "TIMER_WITHOUT_TRANSITION"
	Message  string   // Human-readable error message
	Location Location // Where the error occurred
	Fix      *Fix     // Optional auto-fix suggestion
}

// ValidationWarning represents a non-critical issue.
type ValidationWarning struct {
	Code     string
	Message  string
	Location Location
	Fix      *Fix
}

// Suggestion provides improvement recommendations.
type Suggestion struct {
	Message string // Suggestion description
	Example string // Config snippet showing the improvement
}

// Location identifies where an issue occurred.
type Location struct {
	File  string // Config file path
	Stage string // Stage name if applicable
}

// Validate runs the structural checks and every default and registered rule.
func Validate(config *statemachine.Config) ValidationResult {
	return ValidateWithRules(config, append(DefaultRules(), Registered()...))
}

// ValidateFile loads a config from a file and validates it.
func ValidateFile(path string) (ValidationResult, error) {
	return ValidateFileWithOptions(path, false)
}

// ValidateFileStrict loads a config from a file and validates it in strict mode.
func ValidateFileStrict(path string) (ValidationResult, error) {
	return ValidateFileWithOptions(path, true)
}

// ValidateFileWithOptions loads a config from a file and validates it with options.
func ValidateFileWithOptions(path string, strict bool) (ValidationResult, error) {
	config, err := statemachine.LoadConfig(path)
	if err != nil {
		return ValidationResult{
			Valid: false,
			Errors: []ValidationError{
				{
					Code:     "CONFIG_LOAD_FAILED",
					Message:  fmt.Sprintf("Failed to load config: %v", err),
					Location: Location{File: path},
				},
			},
		}, err
	}

	result := Validate(config)
	if strict {
		result = promoteWarnings(result)
	}

	for i := range result.Errors {
		if result.Errors[i].Location.File == "" {
			result.Errors[i].Location.File = path
		}
	}

	for i := range result.Warnings {
		if result.Warnings[i].Location.File == "" {
			result.Warnings[i].Location.File = path
		}
	}

	for i := range result.Info {
		if result.Info[i].Location.File == "" {
			result.Info[i].Location.File = path
		}
	}

	return result, nil
}

// ValidateWithRules validates using custom rules.
// Rules only run when the config is structurally sound.
func ValidateWithRules(config *statemachine.Config, rules []Rule) ValidationResult {
	var result ValidationResult

	result.Errors = structuralErrors(config.Validate())

	if len(result.Errors) == 0 {
		for _, rule := range rules {
			ruleResult := rule.Check(config)

			switch rule.Severity() {
			case SeverityError:
				result.Errors = append(result.Errors, asErrors(ruleResult)...)
			case SeverityWarning:
				result.Warnings = append(result.Warnings, ruleResult...)
			case SeverityInfo:
				result.Info = append(result.Info, ruleResult...)
			}
		}

		result.Suggestions = generateSuggestions(config)
	}

	sortIssues(result.Errors, func(e ValidationError) (string, string) { return e.Location.Stage, e.Code })
	sortIssues(result.Warnings, func(w ValidationWarning) (string, string) { return w.Location.Stage, w.Code })
	sortIssues(result.Info, func(w ValidationWarning) (string, string) { return w.Location.Stage, w.Code })

	result.Valid = len(result.Errors) == 0

	return result
}

// ValidateWithRulesStrict validates with strict mode (treats warnings as errors).
func ValidateWithRulesStrict(config *statemachine.Config, rules []Rule) ValidationResult {
	return promoteWarnings(ValidateWithRules(config, rules))
}

func promoteWarnings(result ValidationResult) ValidationResult {
	result.Errors = append(result.Errors, asErrors(result.Warnings)...)
	result.Warnings = nil
	result.Valid = len(result.Errors) == 0

	return result
}

func asErrors(warnings []ValidationWarning) []ValidationError {
	errs := make([]ValidationError, 0, len(warnings))
	for _, warning := range warnings {
		errs = append(errs, ValidationError(warning))
	}

	return errs
}

// structuralErrors flattens the error from Config.Validate into one entry per problem.
func structuralErrors(err error) []ValidationError {
	if err == nil {
		return nil
	}

	problems := []error{err}

	var list statemachine.ConfigErrors
	if errors.As(err, &list) {
		problems = list
	}

	errs := make([]ValidationError, 0, len(problems))

	for _, problem := range problems {
		var location Location

		var stageErr *statemachine.StageError
		if errors.As(problem, &stageErr) {
			location.Stage = stageErr.Stage
		}

		errs = append(errs, ValidationError{
			Code:     "INVALID_CONFIG",
			Message:  problem.Error(),
			Location: location,
		})
	}

	return errs
}

// sortIssues orders issues by stage, then code, using natural ordering so step2 sorts before step10.
func sortIssues[T any](issues []T, key func(T) (string, string)) {
	less := func(a, b T) bool {
		stageA, codeA := key(a)
		stageB, codeB := key(b)

		if stageA != stageB {
			return natsort.Compare(stageA, stageB)
		}

		return codeA < codeB
	}

	// Stable, so equal issues keep rule order.
	sort.SliceStable(issues, func(i, j int) bool {
		return less(issues[i], issues[j])
	})
}

// generateSuggestions provides general improvement suggestions.
func generateSuggestions(config *statemachine.Config) []Suggestion {
	var suggestions []Suggestion

	hasTerminal := false

	for _, stage := range config.Stages {
		if isTerminal(stage) {
			hasTerminal = true

			break
		}
	}

	if !hasTerminal && len(config.Stages) > 2 {
		suggestions = append(suggestions, Suggestion{
			Message: "Consider marking stages that intentionally end the flow as terminal",
			Example: `stages:
  - name: done
    metadata:
      terminal: true`,
		})
	}

	hasEffect := false

	for _, stage := range config.Stages {
		if stage.Effect != "" {
			hasEffect = true

			break
		}
	}

	if !hasEffect && len(config.Stages) > 3 {
		suggestions = append(suggestions, Suggestion{
			Message: "Consider naming an effect for stages the presentation layer animates",
			Example: `stages:
  - name: loading
    effect: fade-in`,
		})
	}

	return suggestions
}

// HasErrors returns true if the result has any errors.
func (r ValidationResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// HasWarnings returns true if the result has any warnings.
func (r ValidationResult) HasWarnings() bool {
	return len(r.Warnings) > 0
}

// Fixes returns the fixes attached to every reported issue, errors first.
func (r ValidationResult) Fixes() []*Fix {
	var fixes []*Fix

	for _, err := range r.Errors {
		if err.Fix != nil {
			fixes = append(fixes, err.Fix)
		}
	}

	for _, warn := range r.Warnings {
		if warn.Fix != nil {
			fixes = append(fixes, warn.Fix)
		}
	}

	return fixes
}

// String returns a human-readable summary of validation results.
func (r ValidationResult) String() string {
	var sb strings.Builder

	if r.Valid {
		sb.WriteString("✓ Configuration is valid\n")
	} else {
		fmt.Fprintf(&sb, "✗ Configuration has %d error(s)\n", len(r.Errors))

		for _, err := range r.Errors {
			writeIssue(&sb, err.Code, err.Message, err.Location, err.Fix)
		}
	}

	if len(r.Warnings) > 0 {
		fmt.Fprintf(&sb, "\n⚠ %d warning(s):\n", len(r.Warnings))

		for _, warn := range r.Warnings {
			writeIssue(&sb, warn.Code, warn.Message, warn.Location, warn.Fix)
		}
	}

	if len(r.Info) > 0 {
		fmt.Fprintf(&sb, "\nℹ %d note(s):\n", len(r.Info))

		for _, info := range r.Info {
			writeIssue(&sb, info.Code, info.Message, info.Location, nil)
		}
	}

	if len(r.Suggestions) > 0 {
		fmt.Fprintf(&sb, "\n💡 %d suggestion(s) for improvement\n", len(r.Suggestions))
	}

	return sb.String()
}

func writeIssue(sb *strings.Builder, code, message string, location Location, fix *Fix) {
	fmt.Fprintf(sb, "  [%s] %s", code, message)

	if location.Stage != "" {
		fmt.Fprintf(sb, " (stage: %s)", location.Stage)
	}

	sb.WriteString("\n")

	if fix != nil {
		fmt.Fprintf(sb, "    Fix: %s\n", fix.Description)
	}
}
