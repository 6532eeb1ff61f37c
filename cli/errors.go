package cli

import (
	"errors"
	"fmt"
)

// Exit codes for stagectl.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // validation failed or a scripted run was rejected
	ExitCommandError = 2 // bad flags, unreadable files
)

var (
	ErrEmptyEvent    = errors.New("event name is empty")
	ErrInvalidFormat = errors.New("invalid format")
	ErrInvalidGuard  = errors.New("invalid guard flag")
)

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}

	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func failure(message string, err error) *ExitError {
	return &ExitError{Code: ExitFailure, Message: message, Err: err}
}

func commandError(message string, err error) *ExitError {
	return &ExitError{Code: ExitCommandError, Message: message, Err: err}
}

// ExitCode maps err to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}

	return ExitFailure
}
