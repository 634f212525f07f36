// Package worker holds the named, categorized execution slots tasks are
// routed to, and the registry that answers "which worker is idle for
// category C".
package worker

import "errors"

// Status is the state of a Worker.
type Status string

const (
	StatusIdle    Status = "IDLE"
	StatusWorking Status = "WORKING"
	// StatusError is transient: the pool flips it back to IDLE once the failed
	// execution is recorded.
	StatusError Status = "ERROR"
)

var (
	ErrBusy    = errors.New("worker is not idle")
	ErrNotHeld = errors.New("worker does not hold this task")
)

// Worker is a named slot that processes at most one task at a time.
//
// CurrentTaskID is set iff Status is WORKING (or ERROR while the failure is
// being recorded).
type Worker struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`

	Status            Status `json:"status"`
	CurrentTaskID     string `json:"currentTaskId,omitempty"`
	TasksCompleted    uint64 `json:"tasksCompleted"`
	ErrorsEncountered uint64 `json:"errorsEncountered"`
}

// Assign marks the worker WORKING on taskID.
func (w *Worker) Assign(taskID string) error {
	if w.Status != StatusIdle || w.CurrentTaskID != "" {
		return ErrBusy
	}
	w.Status = StatusWorking
	w.CurrentTaskID = taskID
	return nil
}

// MarkError flags the worker while a crashed execution is being recovered.
func (w *Worker) MarkError(taskID string) error {
	if w.CurrentTaskID != taskID {
		return ErrNotHeld
	}
	w.Status = StatusError
	return nil
}

// Release returns the worker to IDLE and bumps the matching counter. Errors
// belong to tasks, so a failed execution never leaves the worker blocked.
func (w *Worker) Release(taskID string, succeeded bool) error {
	if w.CurrentTaskID != taskID {
		return ErrNotHeld
	}
	if succeeded {
		w.TasksCompleted++
	} else {
		w.ErrorsEncountered++
	}
	w.Status = StatusIdle
	w.CurrentTaskID = ""
	return nil
}
