package validator

import (
	"errors"
	"fmt"
	"slices"

	"github.com/amp-labs/stage-engine/statemachine"
)

var (
	// ErrTransitionExists is returned when attempting to add a transition that already exists.
	ErrTransitionExists = errors.New("transition already exists")
	// ErrTransitionNotFound is returned when attempting to remove a transition that doesn't exist.
	ErrTransitionNotFound = errors.New("transition not found")
	// ErrStageNotFound is returned when a fix names a stage that doesn't exist.
	ErrStageNotFound = errors.New("stage not found")
	// ErrStageAlreadyExists is returned when attempting to rename to an existing stage name.
	ErrStageAlreadyExists = errors.New("stage already exists")
	// ErrAlreadyTerminal is returned when attempting to mark a stage terminal that already is.
	ErrAlreadyTerminal = errors.New("already a terminal stage")
)

// Fix represents an automatic fix for a validation issue.
type Fix struct {
	Description string
	Apply       func(config *statemachine.Config) error
}

// AddTransition creates a fix that adds an unguarded transition to a stage.
func AddTransition(stage, event, target string) *Fix {
	return &Fix{
		Description: fmt.Sprintf("Add transition on '%s' from '%s' to '%s'", event, stage, target),
		Apply: func(config *statemachine.Config) error {
			s, ok := config.Stage(stage)
			if !ok {
				return fmt.Errorf("%w: '%s'", ErrStageNotFound, stage)
			}

			for _, t := range s.Transitions {
				if t.Event == event && t.Target == target {
					return ErrTransitionExists
				}
			}

			s.Transitions = append(s.Transitions, statemachine.Transition{Event: event, Target: target})

			return nil
		},
	}
}

// RemoveTransition creates a fix that removes the last transition on event to target.
func RemoveTransition(stage, event, target string) *Fix {
	return &Fix{
		Description: fmt.Sprintf("Remove transition on '%s' from '%s' to '%s'", event, stage, target),
		Apply: func(config *statemachine.Config) error {
			s, ok := config.Stage(stage)
			if !ok {
				return fmt.Errorf("%w: '%s'", ErrStageNotFound, stage)
			}

			for i := len(s.Transitions) - 1; i >= 0; i-- {
				if s.Transitions[i].Event == event && s.Transitions[i].Target == target {
					s.Transitions = slices.Delete(s.Transitions, i, i+1)

					return nil
				}
			}

			return ErrTransitionNotFound
		},
	}
}

// RemoveStage creates a fix that removes a stage and every transition leading to it.
func RemoveStage(stageName string) *Fix {
	return &Fix{
		Description: fmt.Sprintf("Remove stage '%s'", stageName),
		Apply: func(config *statemachine.Config) error {
			idx := slices.IndexFunc(config.Stages, func(s statemachine.Stage) bool { return s.Name == stageName })
			if idx < 0 {
				return fmt.Errorf("%w: '%s'", ErrStageNotFound, stageName)
			}

			config.Stages = slices.Delete(config.Stages, idx, idx+1)

			for i := range config.Stages {
				config.Stages[i].Transitions = slices.DeleteFunc(config.Stages[i].Transitions,
					func(t statemachine.Transition) bool { return t.Target == stageName })
			}

			return nil
		},
	}
}

// RenameStage creates a fix that renames a stage and every reference to it.
func RenameStage(oldName, newName string) *Fix {
	return &Fix{
		Description: fmt.Sprintf("Rename stage from '%s' to '%s'", oldName, newName),
		Apply: func(config *statemachine.Config) error {
			if _, exists := config.Stage(newName); exists {
				return fmt.Errorf("%w: '%s'", ErrStageAlreadyExists, newName)
			}

			stage, ok := config.Stage(oldName)
			if !ok {
				return fmt.Errorf("%w: '%s'", ErrStageNotFound, oldName)
			}

			stage.Name = newName

			if config.Initial == oldName {
				config.Initial = newName
			}

			for i := range config.Stages {
				for j := range config.Stages[i].Transitions {
					if config.Stages[i].Transitions[j].Target == oldName {
						config.Stages[i].Transitions[j].Target = newName
					}
				}
			}

			return nil
		},
	}
}

// MarkTerminal creates a fix that marks a stage as intentionally terminal.
func MarkTerminal(stageName string) *Fix {
	return &Fix{
		Description: fmt.Sprintf("Mark '%s' as a terminal stage", stageName),
		Apply: func(config *statemachine.Config) error {
			stage, ok := config.Stage(stageName)
			if !ok {
				return fmt.Errorf("%w: '%s'", ErrStageNotFound, stageName)
			}

			if isTerminal(*stage) {
				return fmt.Errorf("%w: '%s'", ErrAlreadyTerminal, stageName)
			}

			if stage.Metadata == nil {
				stage.Metadata = map[string]any{}
			}

			stage.Metadata[terminalKey] = true

			return nil
		},
	}
}

// ApplyFixes applies a list of fixes to a config.
func ApplyFixes(config *statemachine.Config, fixes []*Fix) error {
	for _, fix := range fixes {
		if fix != nil && fix.Apply != nil {
			err := fix.Apply(config)
			if err != nil {
				return fmt.Errorf("failed to apply fix '%s': %w", fix.Description, err)
			}
		}
	}

	return nil
}
