package task

import "github.com/google/uuid"

// NewID returns a system-generated task id for callers that have none.
func NewID() string {
	return "tsk-" + uuid.NewString()
}
