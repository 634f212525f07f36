package orchestrator

import (
	"crew/internal/snapshot"
	"crew/internal/task"
	"crew/internal/worker"
)

// StatusReport is a lock-consistent point-in-time view of the orchestrator.
type StatusReport struct {
	State   State         `json:"state"`
	Workers WorkerSummary `json:"workers"`
	Tasks   TaskSummary   `json:"tasks"`
	Queue   QueueSummary  `json:"queue"`
}

type WorkerSummary struct {
	Total          int    `json:"total"`
	Idle           int    `json:"idle"`
	Working        int    `json:"working"`
	Errored        int    `json:"errored"`
	TasksCompleted uint64 `json:"tasksCompleted"`
	Errors         uint64 `json:"errors"`
}

type TaskSummary struct {
	Pending    int `json:"pending"`
	InProgress int `json:"inProgress"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// Total is the number of tracked lifecycles.
func (s TaskSummary) Total() int { return s.Pending + s.InProgress + s.Completed + s.Failed }

// QueueSummary counts tasks that are ready to dequeue and tasks waiting on a
// requeue or retry delay.
type QueueSummary struct {
	Ready   int `json:"ready"`
	Delayed int `json:"delayed"`
}

func summarizeWorkers(ws []worker.Worker) WorkerSummary {
	s := WorkerSummary{Total: len(ws)}
	for _, w := range ws {
		switch w.Status {
		case worker.StatusIdle:
			s.Idle++
		case worker.StatusWorking:
			s.Working++
		case worker.StatusError:
			s.Errored++
		}
		s.TasksCompleted += w.TasksCompleted
		s.Errors += w.ErrorsEncountered
	}
	return s
}

func summarizeTasks(ts []*task.Task) TaskSummary {
	var s TaskSummary
	for _, t := range ts {
		switch t.Status {
		case task.StatusPending:
			s.Pending++
		case task.StatusInProgress:
			s.InProgress++
		case task.StatusCompleted:
			s.Completed++
		case task.StatusFailed:
			s.Failed++
		}
	}
	return s
}

func (s TaskSummary) counts() snapshot.TaskCounts {
	return snapshot.TaskCounts{
		Pending:    s.Pending,
		InProgress: s.InProgress,
		Completed:  s.Completed,
		Failed:     s.Failed,
	}
}
