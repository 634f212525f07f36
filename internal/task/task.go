// Package task defines the unit of work routed by the orchestrator: its data
// model and lifecycle, the FIFO queue tasks wait in, and the retry policy
// applied when a task fails.
package task

import (
	"encoding/json"
	"time"
)

// DefaultMaxRetries is used when a submitted task leaves MaxRetries at 0.
const DefaultMaxRetries = 3

// Status is the lifecycle state of a Task.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Task is a unit of work.
//
// ID, Description, Category, Priority and Payload are the immutable identity
// supplied by the caller. The remaining fields are lifecycle state owned by the
// orchestrator once the task is submitted.
//
// AssignedWorkerID is 0 while the task is not held by a worker (worker ids
// start at 1).
type Task struct {
	ID          string          `json:"id"`
	Description string          `json:"description,omitempty"`
	Category    string          `json:"category"`
	Priority    int             `json:"priority,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`

	Status           Status    `json:"status"`
	RetryCount       int       `json:"retryCount"`
	MaxRetries       int       `json:"maxRetries"`
	AssignedWorkerID int       `json:"assignedWorkerId,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	CompletedAt      time.Time `json:"completedAt,omitempty"`
	LastError        string    `json:"lastError,omitempty"`
}

// Normalize resets lifecycle fields for a fresh submission.
//
// MaxRetries == 0 takes def (DefaultMaxRetries when def <= 0); a negative
// MaxRetries means "never retry" and is stored as 0.
func (t *Task) Normalize(now time.Time, def int) {
	if def <= 0 {
		def = DefaultMaxRetries
	}
	switch {
	case t.MaxRetries == 0:
		t.MaxRetries = def
	case t.MaxRetries < 0:
		t.MaxRetries = 0
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.Status = StatusPending
	t.RetryCount = 0
	t.AssignedWorkerID = 0
	t.CompletedAt = time.Time{}
	t.LastError = ""
}

// Start marks the task IN_PROGRESS on workerID.
func (t *Task) Start(workerID int) error {
	if t.Status.Terminal() {
		return ErrTerminal
	}
	t.Status = StatusInProgress
	t.AssignedWorkerID = workerID
	return nil
}

// Complete marks the task COMPLETED and releases the worker reference.
func (t *Task) Complete(now time.Time) error {
	if t.Status.Terminal() {
		return ErrTerminal
	}
	t.Status = StatusCompleted
	t.CompletedAt = now
	t.AssignedWorkerID = 0
	return nil
}

// Fail records err on the task, releases the worker reference and applies
// Decide. The returned Action tells the caller whether to re-enqueue.
func (t *Task) Fail(now time.Time, err error) (Action, error) {
	if t.Status.Terminal() {
		return ActionFail, ErrTerminal
	}
	if err != nil {
		t.LastError = err.Error()
	}
	t.AssignedWorkerID = 0
	a := Decide(t)
	if a == ActionFail {
		t.CompletedAt = now
	}
	return a, nil
}
