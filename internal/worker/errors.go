package worker

import (
	"errors"
	"fmt"
)

var (
	ErrWorkerExited      = errors.New("worker process exited")
	ErrMalformedResponse = errors.New("malformed worker response")
	ErrShutdown          = errors.New("worker manager is shut down")
)

// Error is a transport or lifecycle failure talking to a worker process.
type Error struct {
	Worker string
	Op     string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("worker %s: %s: %v", e.Worker, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// RemoteError is a failure reported by the worker's own handler.
type RemoteError struct {
	Worker  string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("worker %s: %s", e.Worker, e.Message)
}
