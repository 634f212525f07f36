// Package snapshot persists a point-in-time summary of orchestrator state for
// external dashboards and notifiers.
//
// Each write replaces the previous document. Snapshots are never read back by
// the orchestrator. Supported drivers:
//   - "file":   JSON document, replaced atomically (tmp + rename)
//   - "sqlite": single-row table holding the latest document, plus a bounded
//     history of task counts
//   - "redis":  key holding the latest document, plus a pub/sub notification
//
// If Driver is empty or "none", persistence is disabled.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"crew/internal/worker"
)

var (
	ErrDisabled = errors.New("snapshot store disabled")
	ErrNotFound = errors.New("no snapshot written yet")
)

// Config configures the snapshot store.
type Config struct {
	Driver string
	Path   string

	BusyTimeout  time.Duration // sqlite only; 0 means default
	HistoryLimit int           // sqlite only; 0 means DefaultHistoryLimit, < 0 disables history

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisKey      string
}

// Document is the persisted JSON schema.
type Document struct {
	Timestamp string        `json:"timestamp"` // RFC3339
	Workers   []WorkerState `json:"workers"`
	Tasks     TaskCounts    `json:"tasks"`
	IsRunning bool          `json:"isRunning"`
}

type WorkerState struct {
	ID                int    `json:"id"`
	Name              string `json:"name"`
	Category          string `json:"category"`
	Status            string `json:"status"`
	TasksCompleted    uint64 `json:"tasksCompleted"`
	ErrorsEncountered uint64 `json:"errorsEncountered"`
}

type TaskCounts struct {
	Pending    int `json:"pending"`
	InProgress int `json:"inProgress"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// NewDocument assembles a Document. Callers build it under their own lock
// and hand it to the Writer, which serializes outside that lock.
func NewDocument(now time.Time, workers []worker.Worker, tasks TaskCounts, running bool) Document {
	ws := make([]WorkerState, len(workers))
	for i, w := range workers {
		ws[i] = WorkerState{
			ID:                w.ID,
			Name:              w.Name,
			Category:          w.Category,
			Status:            string(w.Status),
			TasksCompleted:    w.TasksCompleted,
			ErrorsEncountered: w.ErrorsEncountered,
		}
	}
	return Document{
		Timestamp: now.UTC().Format(time.RFC3339),
		Workers:   ws,
		Tasks:     tasks,
		IsRunning: running,
	}
}

// Store is a durable sink for snapshots.
type Store interface {
	Write(ctx context.Context, doc Document) error
	Close() error
}

// Reader is implemented by stores that can return the last written snapshot.
// Used by external consumers such as `crewd status`.
type Reader interface {
	Read(ctx context.Context) (Document, error)
}

// PersistError is a failed snapshot write. It is logged, never propagated to
// task or worker state.
type PersistError struct {
	Driver string
	Err    error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("snapshot %s: %v", e.Driver, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }
