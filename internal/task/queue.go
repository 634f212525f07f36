package task

import (
	"sync"
	"sync/atomic"
	"time"
)

// Queue is an unbounded, thread-safe FIFO of pending tasks.
//
// Enqueue never blocks. Dequeue blocks up to a timeout so consumers can poll a
// shutdown flag between waits. Retried and re-routed tasks go to the tail, so
// they never jump ahead of fresh work.
type Queue struct {
	mu    sync.Mutex
	items []*Task
	head  int

	// ready holds at most one wakeup token. A consumer that takes an item and
	// sees more behind it passes the token on.
	ready chan struct{}

	delayed int64
}

func NewQueue() *Queue {
	return &Queue{ready: make(chan struct{}, 1)}
}

// Enqueue appends t to the tail.
func (q *Queue) Enqueue(t *Task) {
	if t == nil {
		return
	}
	q.mu.Lock()
	q.items = append(q.items, t)
	q.mu.Unlock()
	q.signal()
}

// EnqueueAfter appends t to the tail once d has elapsed. d <= 0 enqueues now.
func (q *Queue) EnqueueAfter(t *Task, d time.Duration) {
	if t == nil {
		return
	}
	if d <= 0 {
		q.Enqueue(t)
		return
	}
	atomic.AddInt64(&q.delayed, 1)
	time.AfterFunc(d, func() {
		atomic.AddInt64(&q.delayed, -1)
		q.Enqueue(t)
	})
}

// Dequeue removes the head task, waiting up to timeout for one to arrive.
// ok is false on timeout.
func (q *Queue) Dequeue(timeout time.Duration) (*Task, bool) {
	if t, ok := q.tryPop(); ok {
		return t, true
	}
	if timeout <= 0 {
		return nil, false
	}

	tmr := time.NewTimer(timeout)
	defer tmr.Stop()
	for {
		select {
		case <-q.ready:
			if t, ok := q.tryPop(); ok {
				return t, true
			}
		case <-tmr.C:
			// Last look: an item may have landed while the token was held elsewhere.
			return q.tryPop()
		}
	}
}

func (q *Queue) tryPop() (*Task, bool) {
	q.mu.Lock()
	if q.head >= len(q.items) {
		q.mu.Unlock()
		return nil, false
	}
	t := q.items[q.head]
	q.items[q.head] = nil
	q.head++
	more := q.head < len(q.items)
	if !more {
		q.items = q.items[:0]
		q.head = 0
	} else if q.head > 64 && q.head*2 >= len(q.items) {
		// Compact so the backing array does not grow without bound.
		n := copy(q.items, q.items[q.head:])
		for i := n; i < len(q.items); i++ {
			q.items[i] = nil
		}
		q.items = q.items[:n]
		q.head = 0
	}
	q.mu.Unlock()

	if more {
		q.signal()
	}
	return t, true
}

func (q *Queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Len returns the number of tasks ready to be dequeued.
func (q *Queue) Len() int {
	q.mu.Lock()
	n := len(q.items) - q.head
	q.mu.Unlock()
	return n
}

// Delayed returns the number of tasks waiting on an EnqueueAfter timer.
func (q *Queue) Delayed() int {
	return int(atomic.LoadInt64(&q.delayed))
}
