package handlers

import (
	"context"

	"crew/internal/task"
	logx "crew/pkg/logx"
)

// Log succeeds after writing the task to the log. Useful for dry runs and
// for categories whose work happens elsewhere.
type Log struct {
	log logx.Logger
}

func NewLog(log logx.Logger) *Log {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Log{log: log}
}

func (h *Log) Execute(_ context.Context, t task.Task) (bool, error) {
	h.log.Info("task handled",
		logx.String("task", t.ID),
		logx.String("category", t.Category),
		logx.String("description", t.Description),
		logx.Int("priority", t.Priority),
		logx.Int("retry", t.RetryCount),
	)
	return true, nil
}
