package task

import (
	"errors"
	"math/rand"
	"time"
)

// Action is the outcome of a retry decision.
type Action int

const (
	ActionRetry Action = iota
	ActionFail
)

func (a Action) String() string {
	switch a {
	case ActionRetry:
		return "retry"
	case ActionFail:
		return "fail"
	default:
		return "unknown"
	}
}

// Decide converts a failure into a retry or a terminal failure.
//
// If another attempt fits in the budget (RetryCount+1 <= MaxRetries) the retry
// count is incremented and the task goes back to PENDING. Otherwise the task
// becomes FAILED with LastError retained. Decide touches nothing but t.
func Decide(t *Task) Action {
	if t.RetryCount+1 <= t.MaxRetries {
		t.RetryCount++
		t.Status = StatusPending
		return ActionRetry
	}
	t.Status = StatusFailed
	return ActionFail
}

// Backoff controls the optional delay before a retried task is re-enqueued.
//
// A zero Base means retries go straight back to the tail of the queue.
type Backoff struct {
	Base     time.Duration
	MaxDelay time.Duration
	Jitter   float64 // 0.2 = 20%
}

func (b Backoff) withDefaults() Backoff {
	if b.MaxDelay <= 0 {
		b.MaxDelay = 15 * time.Second
	}
	if b.Jitter < 0 {
		b.Jitter = 0
	}
	return b
}

// Delay returns how long to wait before re-enqueueing the given retry
// (1-based). A RetryAfter hint in err wins over the exponential schedule; both
// are bounded by MaxDelay.
func (b Backoff) Delay(retry int, err error, rng *rand.Rand) time.Duration {
	b = b.withDefaults()

	var ra RetryAfterError
	if err != nil && errors.As(err, &ra) {
		d := ra.RetryAfter()
		if d < 0 {
			d = 0
		}
		if d > b.MaxDelay {
			d = b.MaxDelay
		}
		return d
	}

	if b.Base <= 0 {
		return 0
	}
	d := b.Base
	for i := 1; i < retry; i++ {
		d *= 2
		if d > b.MaxDelay {
			d = b.MaxDelay
			break
		}
	}
	if b.Jitter > 0 && rng != nil {
		r := (rng.Float64()*2 - 1) * b.Jitter
		d = time.Duration(float64(d) * (1 + r))
		if d < 0 {
			d = 0
		}
	}
	if d > b.MaxDelay {
		d = b.MaxDelay
	}
	return d
}
