package orchestrator

import (
	"context"

	"crew/internal/task"
)

// Handler performs the domain work for one category.
//
// ok=false or a non-nil error fails the attempt and the task is retried
// within its budget. The orchestrator never cancels an in-flight Execute
// during shutdown; handlers that may hang should bound themselves or honour
// the deadline set by Config.HandlerTimeout.
type Handler interface {
	Execute(ctx context.Context, t task.Task) (ok bool, err error)
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, t task.Task) (bool, error)

func (f HandlerFunc) Execute(ctx context.Context, t task.Task) (bool, error) { return f(ctx, t) }
