package orchestrator

import "errors"

// State is the lifecycle state of the pool.
type State string

const (
	StateStopped  State = "STOPPED"
	StateStarting State = "STARTING"
	StateRunning  State = "RUNNING"
	StateStopping State = "STOPPING"
)

// ErrStopping is returned by Start while a Stop is draining.
var ErrStopping = errors.New("orchestrator is stopping")
