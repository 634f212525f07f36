package task

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidID   = errors.New("task id is required")
	ErrDuplicateID = errors.New("task id is already tracked")
	ErrTerminal    = errors.New("task is in a terminal state")
	ErrNoHandler   = errors.New("no handler registered")
	ErrRejected    = errors.New("handler reported failure")
)

// SubmissionError is returned synchronously by Submit; the task never enters
// the queue.
type SubmissionError struct {
	TaskID string
	Err    error
}

func (e *SubmissionError) Error() string {
	if e.TaskID == "" {
		return fmt.Sprintf("submit: %v", e.Err)
	}
	return fmt.Sprintf("submit %q: %v", e.TaskID, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// RoutingError means no worker is registered for the task's category at all.
type RoutingError struct {
	Category string
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("no worker registered for category %q", e.Category)
}

// HandlerError wraps a failed handler execution: ok=false, a returned error,
// a panic, or a missing handler.
type HandlerError struct {
	Category string
	Err      error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %q: %v", e.Category, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// RetryAfter provides a suggested delay before the task is retried.
//
// Useful when the downstream system returns a Retry-After value (e.g. HTTP
// 429). The hint only delays the re-enqueue; the retry budget is unchanged.
//
// Example:
//
//	return false, task.RetryAfter(err, 30*time.Second)
func RetryAfter(err error, after time.Duration) error {
	if err == nil {
		return nil
	}
	if after < 0 {
		after = 0
	}
	return retryAfterError{err: err, after: after}
}

// RetryAfterError is implemented by errors that carry an explicit retry delay.
type RetryAfterError interface {
	error
	RetryAfter() time.Duration
}

type retryAfterError struct {
	err   error
	after time.Duration
}

func (e retryAfterError) Error() string             { return fmt.Sprintf("retry-after(%s): %v", e.after, e.err) }
func (e retryAfterError) Unwrap() error             { return e.err }
func (e retryAfterError) RetryAfter() time.Duration { return e.after }
