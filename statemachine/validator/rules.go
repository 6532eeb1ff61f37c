//nolint:lll // Long validation messages
package validator

import (
	"fmt"
	"sync"

	"github.com/amp-labs/stage-engine/statemachine"
)

// Severity defines the severity level of a validation issue.
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
	SeverityInfo
)

// Rule defines a validation rule that can check a config for specific issues.
// Every issue a rule reports is filed under the rule's severity.
type Rule interface {
	Name() string
	Severity() Severity
	Check(config *statemachine.Config) []ValidationWarning
}

// DefaultRules returns the standard set of validation rules.
func DefaultRules() []Rule {
	return []Rule{
		&timerWithoutTransitionRule{},
		&unreachableStageRule{},
		&shadowedTransitionRule{},
		&namingConventionRule{},
		&deadEndRule{},
	}
}

var (
	registryMu sync.RWMutex
	registered []Rule
)

// RegisterRule adds a custom rule that Validate runs after the defaults.
func RegisterRule(rule Rule) {
	registryMu.Lock()
	defer registryMu.Unlock()

	registered = append(registered, rule)
}

// Registered returns the custom rules added with RegisterRule.
func Registered() []Rule {
	registryMu.RLock()
	defer registryMu.RUnlock()

	return append([]Rule(nil), registered...)
}

// terminalKey marks a stage that intentionally has no way out.
const terminalKey = "terminal"

func isTerminal(stage statemachine.Stage) bool {
	terminal, _ := stage.Metadata[terminalKey].(bool)

	return terminal
}

// timerWithoutTransitionRule flags timers whose event no transition of the stage handles.
// Such a timer fires and is always rejected.
type timerWithoutTransitionRule struct{}

func (r *timerWithoutTransitionRule) Name() string {
	return "TimerWithoutTransition"
}

func (r *timerWithoutTransitionRule) Severity() Severity {
	return SeverityError
}

func (r *timerWithoutTransitionRule) Check(config *statemachine.Config) []ValidationWarning {
	var issues []ValidationWarning

	for _, stage := range config.Stages {
		events := make(map[string]bool, len(stage.Transitions))
		for _, transition := range stage.Transitions {
			events[transition.Event] = true
		}

		for _, timer := range stage.Timers {
			if events[timer.Event] {
				continue
			}

			issues = append(issues, ValidationWarning{
				Code:     "TIMER_WITHOUT_TRANSITION",
				Message:  fmt.Sprintf("Timer event '%s' after %s has no transition in stage '%s'", timer.Event, timer.Duration, stage.Name),
				Location: Location{Stage: stage.Name},
				Fix:      AddTransition(stage.Name, timer.Event, stage.Name),
			})
		}
	}

	return issues
}

// unreachableStageRule checks for stages that no transition leads to from the initial stage.
// GoTo can still reach them, hence a warning.
type unreachableStageRule struct{}

func (r *unreachableStageRule) Name() string {
	return "UnreachableStage"
}

func (r *unreachableStageRule) Severity() Severity {
	return SeverityWarning
}

func (r *unreachableStageRule) Check(config *statemachine.Config) []ValidationWarning {
	var issues []ValidationWarning

	reachable := Reachable(config)

	for _, stage := range config.Stages {
		if !reachable[stage.Name] {
			issues = append(issues, ValidationWarning{
				Code:     "UNREACHABLE_STAGE",
				Message:  fmt.Sprintf("Stage '%s' cannot be reached from initial stage '%s'", stage.Name, config.Initial),
				Location: Location{Stage: stage.Name},
				Fix:      RemoveStage(stage.Name),
			})
		}
	}

	return issues
}

// Reachable returns the stages reachable from the initial stage through declared transitions.
func Reachable(config *statemachine.Config) map[string]bool {
	reachable := map[string]bool{config.Initial: true}

	queue := []string{config.Initial}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		stage, ok := config.Stage(current)
		if !ok {
			continue
		}

		for _, transition := range stage.Transitions {
			if !reachable[transition.Target] {
				reachable[transition.Target] = true
				queue = append(queue, transition.Target)
			}
		}
	}

	return reachable
}

// shadowedTransitionRule flags transitions that can never be selected because an earlier
// transition on the same event is unguarded or uses the same named guard.
type shadowedTransitionRule struct{}

func (r *shadowedTransitionRule) Name() string {
	return "ShadowedTransition"
}

func (r *shadowedTransitionRule) Severity() Severity {
	return SeverityWarning
}

func (r *shadowedTransitionRule) Check(config *statemachine.Config) []ValidationWarning {
	var issues []ValidationWarning

	for _, stage := range config.Stages {
		unguarded := make(map[string]bool)
		named := make(map[string]bool)

		for i, transition := range stage.Transitions {
			key := transition.Event + "\x00" + transition.GuardName

			switch {
			case unguarded[transition.Event]:
				issues = append(issues, ValidationWarning{
					Code:     "SHADOWED_TRANSITION",
					Message:  fmt.Sprintf("Transition %d on '%s' to '%s' follows an unguarded transition on the same event and is never taken", i, transition.Event, transition.Target),
					Location: Location{Stage: stage.Name},
					Fix:      RemoveTransition(stage.Name, transition.Event, transition.Target),
				})
			case transition.GuardName != "" && named[key]:
				issues = append(issues, ValidationWarning{
					Code:     "SHADOWED_TRANSITION",
					Message:  fmt.Sprintf("Transition %d on '%s' to '%s' repeats guard '%s' of an earlier transition and is never taken", i, transition.Event, transition.Target, transition.GuardName),
					Location: Location{Stage: stage.Name},
					Fix:      RemoveTransition(stage.Name, transition.Event, transition.Target),
				})
			}

			if transition.Guard == nil && transition.GuardName == "" {
				unguarded[transition.Event] = true
			}

			if transition.GuardName != "" {
				named[key] = true
			}
		}
	}

	return issues
}

// namingConventionRule warns about naming convention violations.
type namingConventionRule struct{}

func (r *namingConventionRule) Name() string {
	return "NamingConvention"
}

func (r *namingConventionRule) Severity() Severity {
	return SeverityWarning
}

func (r *namingConventionRule) Check(config *statemachine.Config) []ValidationWarning {
	var issues []ValidationWarning

	for _, stage := range config.Stages {
		if !isSnakeCase(stage.Name) {
			suggested := toSnakeCase(stage.Name)

			issues = append(issues, ValidationWarning{
				Code:     "NAMING_CONVENTION",
				Message:  fmt.Sprintf("Stage '%s' should use snake_case naming (suggested: '%s')", stage.Name, suggested),
				Location: Location{Stage: stage.Name},
				Fix:      RenameStage(stage.Name, suggested),
			})
		}
	}

	return issues
}

// deadEndRule notes stages without transitions or timers that are not marked terminal.
type deadEndRule struct{}

func (r *deadEndRule) Name() string {
	return "DeadEnd"
}

func (r *deadEndRule) Severity() Severity {
	return SeverityInfo
}

func (r *deadEndRule) Check(config *statemachine.Config) []ValidationWarning {
	var issues []ValidationWarning

	for _, stage := range config.Stages {
		if len(stage.Transitions) > 0 || len(stage.Timers) > 0 || isTerminal(stage) {
			continue
		}

		issues = append(issues, ValidationWarning{
			Code:     "DEAD_END",
			Message:  fmt.Sprintf("Stage '%s' has no transitions; only GoTo and Reset leave it", stage.Name),
			Location: Location{Stage: stage.Name},
			Fix:      MarkTerminal(stage.Name),
		})
	}

	return issues
}

func isSnakeCase(s string) bool {
	for _, r := range s {
		if r >= 'A' && r <= 'Z' {
			return false
		}

		if r == '-' || r == ' ' {
			return false
		}
	}

	return true
}

func toSnakeCase(s string) string {
	var result []rune

	for i, r := range s {
		switch {
		case r >= 'A' && r <= 'Z':
			if i > 0 {
				result = append(result, '_')
			}

			result = append(result, r+('a'-'A'))
		case r == '-' || r == ' ':
			result = append(result, '_')
		default:
			result = append(result, r)
		}
	}

	return string(result)
}
