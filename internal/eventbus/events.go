package eventbus

// Task lifecycle event types. Data is always a TaskEvent.
const (
	TaskSubmitted = "task.submitted"
	TaskStarted   = "task.started"
	TaskCompleted = "task.completed"
	TaskRetry     = "task.retry"
	TaskFailed    = "task.failed"
	TaskRequeued  = "task.requeued"

	OrchestratorState = "orchestrator.state"
)

type TaskEvent struct {
	TaskID     string `json:"taskId"`
	Category   string `json:"category"`
	WorkerID   int    `json:"workerId,omitempty"`
	RetryCount int    `json:"retryCount"`
	Error      string `json:"error,omitempty"`
}

// StateEvent accompanies OrchestratorState.
type StateEvent struct {
	From string `json:"from"`
	To   string `json:"to"`
}
