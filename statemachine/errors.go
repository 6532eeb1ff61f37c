package statemachine

import (
	"errors"
	"fmt"
	"strings"
)

// Predefined error types.
var (
	ErrInvalidTransition   = errors.New("no matching transition")
	ErrUnknownStage        = errors.New("unknown stage")
	ErrDuplicatePlugin     = errors.New("plugin already installed")
	ErrUnknownPlugin       = errors.New("plugin not installed")
	ErrDuplicateMiddleware = errors.New("middleware already registered")
	ErrUnknownMiddleware   = errors.New("middleware not registered")
	ErrEngineNotStarted    = errors.New("engine not started")
	ErrAlreadyStarted      = errors.New("engine already started")
	ErrEngineStopped       = errors.New("engine stopped")
	ErrTransitionCancelled = errors.New("transition cancelled by middleware")
	ErrGuardPanic          = errors.New("panic in transition guard")
	ErrMiddlewarePanic     = errors.New("panic in middleware")
	ErrHookPanic           = errors.New("panic in plugin hook")
	ErrListenerPanic       = errors.New("panic in subscriber")

	// ErrPluginNameRequired indicates that a plugin was registered without a name.
	ErrPluginNameRequired = errors.New("plugin name is required")
	// ErrMiddlewareNameRequired indicates that a middleware was registered without a name.
	ErrMiddlewareNameRequired = errors.New("middleware name is required")
	// ErrMiddlewareHandlerRequired indicates that a middleware has no Handle func.
	ErrMiddlewareHandlerRequired = errors.New("middleware handler is required")

	// ErrInvalidConfiguration wraps every construction-time configuration problem.
	ErrInvalidConfiguration = errors.New("invalid configuration")
	// ErrConfigNil indicates that no configuration was provided.
	ErrConfigNil = errors.New("config is nil")
	// ErrInitialStageRequired indicates that the initial stage is required.
	ErrInitialStageRequired = errors.New("initial stage is required")
	// ErrInitialStageNotFound indicates that the initial stage does not exist.
	ErrInitialStageNotFound = errors.New("initial stage does not exist")
	// ErrStageRequired indicates that at least one stage is required.
	ErrStageRequired = errors.New("at least one stage is required")
	// ErrStageNameRequired indicates that a stage name is required.
	ErrStageNameRequired = errors.New("stage name is required")
	// ErrDuplicateStageName indicates that a duplicate stage name was found.
	ErrDuplicateStageName = errors.New("duplicate stage name")
	// ErrTransitionEventRequired indicates that a transition has no event.
	ErrTransitionEventRequired = errors.New("transition event is required")
	// ErrTransitionTargetNotFound indicates that a transition targets a stage that does not exist.
	ErrTransitionTargetNotFound = errors.New("transition target does not exist")
	// ErrTimerDurationInvalid indicates that a timer duration is not positive.
	ErrTimerDurationInvalid = errors.New("timer duration must be positive")
	// ErrTimerEventRequired indicates that a timer has no event.
	ErrTimerEventRequired = errors.New("timer event is required")
	// ErrUnknownGuard indicates that a transition references a guard that was never registered.
	ErrUnknownGuard = errors.New("unknown guard")
)

// StageError wraps an error with stage context.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// TransitionError wraps an error with transition context.
type TransitionError struct {
	From  string
	Event string
	To    string
	Err   error
}

func (e *TransitionError) Error() string {
	switch {
	case e.Event != "" && e.To != "":
		return fmt.Sprintf("transition %s -(%s)-> %s: %v", e.From, e.Event, e.To, e.Err)
	case e.Event != "":
		return fmt.Sprintf("transition from %s on %q: %v", e.From, e.Event, e.Err)
	default:
		return fmt.Sprintf("transition %s -> %s: %v", e.From, e.To, e.Err)
	}
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}

// CancelledError is returned for a cancelled transition when WithCancelAsError is enabled.
type CancelledError struct {
	Middleware string
	Reason     string
	Err        error
}

func (e *CancelledError) Error() string {
	msg := "transition cancelled by " + e.Middleware
	if e.Reason != "" {
		msg += ": " + e.Reason
	}

	if e.Err != nil {
		msg += fmt.Sprintf(" (%v)", e.Err)
	}

	return msg
}

// Unwrap exposes both ErrTransitionCancelled and the middleware supplied error.
func (e *CancelledError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrTransitionCancelled}
	}

	return []error{ErrTransitionCancelled, e.Err}
}

// WrapStageError wraps an error with stage context.
func WrapStageError(stage string, err error) error {
	if err == nil {
		return nil
	}

	return &StageError{
		Stage: stage,
		Err:   err,
	}
}

// WrapTransitionError wraps an error with transition context.
func WrapTransitionError(from, event, to string, err error) error {
	if err == nil {
		return nil
	}

	return &TransitionError{
		From:  from,
		Event: event,
		To:    to,
		Err:   err,
	}
}

// ConfigErrors lists every structural problem found by Config.Validate.
type ConfigErrors []error

func (e ConfigErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}

	return strings.Join(msgs, "\n")
}

func (e ConfigErrors) Unwrap() []error {
	return e
}

func configError(err error) error {
	return fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
}
