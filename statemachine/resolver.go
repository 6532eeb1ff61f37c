package statemachine

import (
	"fmt"
)

// Resolve finds the transition taken from stage on event. Transitions are scanned in declaration
// order and the first one whose guard is nil or returns true wins. It never mutates anything.
func Resolve(stage *Stage, event string, data, payload any) (Transition, error) {
	if stage == nil {
		return Transition{}, WrapTransitionError("", event, "", ErrUnknownStage)
	}

	for _, transition := range stage.Transitions {
		if transition.Event != event {
			continue
		}

		ok, err := evaluateGuard(transition.Guard, data, payload)
		if err != nil {
			return Transition{}, WrapTransitionError(stage.Name, event, transition.Target, err)
		}

		if ok {
			return transition, nil
		}
	}

	return Transition{}, WrapTransitionError(stage.Name, event, "", ErrInvalidTransition)
}

// evaluateGuard runs a guard, converting a panic into ErrGuardPanic.
func evaluateGuard(guard Guard, data, payload any) (ok bool, err error) {
	if guard == nil {
		return true, nil
	}

	defer func() {
		if r := recover(); r != nil {
			ok = false
			err = fmt.Errorf("%w: %v", ErrGuardPanic, r)
		}
	}()

	return guard(data, payload), nil
}

// AvailableEvents lists the distinct events declared on a stage, in declaration order.
func AvailableEvents(stage *Stage) []string {
	if stage == nil {
		return nil
	}

	seen := make(map[string]bool, len(stage.Transitions))
	events := make([]string, 0, len(stage.Transitions))

	for _, transition := range stage.Transitions {
		if seen[transition.Event] {
			continue
		}

		seen[transition.Event] = true
		events = append(events, transition.Event)
	}

	return events
}
