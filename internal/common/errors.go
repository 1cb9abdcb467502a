package common

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("resource not found")
	ErrInvalidInput    = errors.New("invalid input")
	ErrDatabase        = errors.New("database error")
	ErrValidation      = errors.New("validation failed")
	ErrUnsupportedFile = errors.New("unsupported file type")
	ErrNoText          = errors.New("no text extracted")
)

// Process exit codes for the command line.
const (
	ExitFailure  = 1
	ExitUsage    = 2
	ExitNotFound = 3
	ExitStorage  = 4
)

// UserError is an error whose message is fit to print to an operator as is.
// Op names the command or step that failed.
type UserError struct {
	Op  string
	Err error
}

func (e *UserError) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *UserError) Unwrap() error { return e.Err }

// ExitCode maps an error chain to a process exit code by its sentinel.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrValidation), errors.Is(err, ErrUnsupportedFile):
		return ExitUsage
	case errors.Is(err, ErrNotFound):
		return ExitNotFound
	case errors.Is(err, ErrDatabase):
		return ExitStorage
	default:
		return ExitFailure
	}
}
