package orchestrator

import (
	"context"
	"fmt"
	"math/rand"
	"runtime/debug"
	"time"

	"crew/internal/eventbus"
	"crew/internal/task"
	"crew/internal/worker"
	logx "crew/pkg/logx"

	"golang.org/x/time/rate"
)

const warnThrottleEvery = 5 * time.Second

// loop is one execution loop. It returns nil once ctx is cancelled; any
// other exit is a bug and the supervisor restarts it.
func (o *Orchestrator) loop(ctx context.Context, idx int) error {
	// Per-loop RNG so concurrent retries don't contend on a shared source.
	rng := rand.New(rand.NewSource(time.Now().UnixNano() ^ int64(idx)<<32))
	log := o.log.With(logx.String("comp", "pool"), logx.Int("loop", idx))
	routeWarn := rate.Sometimes{Interval: warnThrottleEvery}

	for {
		if ctx.Err() != nil {
			return nil
		}
		t, ok := o.queue.Dequeue(o.cfg.PollInterval)
		if !ok {
			continue
		}
		if ctx.Err() != nil {
			// Shutdown won the race; leave the task for the next run.
			o.queue.Enqueue(t)
			return nil
		}
		o.process(ctx, t, rng, log, &routeWarn)
	}
}

// attempt is everything an execution needs once the lock is released.
type attempt struct {
	rec     *task.Task
	w       *worker.Worker
	handler Handler
	view    task.Task
}

func (o *Orchestrator) process(ctx context.Context, rec *task.Task, rng *rand.Rand, log logx.Logger, routeWarn *rate.Sometimes) {
	a, ok := o.dispatch(rec, rng, log, routeWarn)
	if !ok {
		return
	}

	log.Debug("task started",
		logx.String("task", a.view.ID),
		logx.String("category", a.view.Category),
		logx.Int("worker", a.w.ID),
		logx.Int("retry", a.view.RetryCount),
	)
	o.publish(eventbus.TaskStarted, taskEvent(&a.view, nil))
	o.writer.Request()

	start := time.Now()
	err := o.execute(ctx, a)
	o.finish(a, err, time.Since(start), rng, log)
}

// dispatch routes rec to an idle worker and performs the assignment in one
// critical section. ok is false when the task was sent back to the queue or
// failed without running.
func (o *Orchestrator) dispatch(rec *task.Task, rng *rand.Rand, log logx.Logger, routeWarn *rate.Sometimes) (attempt, bool) {
	o.mu.Lock()

	if rec.Status != task.StatusPending {
		// Only PENDING lifecycles are ever queued; anything else is stale.
		o.mu.Unlock()
		return attempt{}, false
	}

	w, found := o.registry.FindIdleWorker(rec.Category)
	if !found {
		if o.registry.HasCategory(rec.Category) {
			ev := taskEvent(rec, nil)
			o.queue.EnqueueAfter(rec, o.cfg.RequeueDelay)
			o.mu.Unlock()
			o.publish(eventbus.TaskRequeued, ev)
			return attempt{}, false
		}

		rerr := &task.RoutingError{Category: rec.Category}
		act, _ := rec.Fail(o.now(), rerr)
		ev := taskEvent(rec, rerr)
		if act == task.ActionRetry {
			o.queue.EnqueueAfter(rec, max(o.cfg.RequeueDelay, o.retryDelay(rec, rerr, rng)))
		}
		o.mu.Unlock()

		routeWarn.Do(func() {
			log.Warn("no worker registered for category",
				logx.String("category", rec.Category),
				logx.String("task", ev.TaskID),
				logx.Int("retry", ev.RetryCount),
			)
		})
		o.afterFailure(act, ev, log)
		return attempt{}, false
	}

	_ = w.Assign(rec.ID)
	_ = rec.Start(w.ID)
	a := attempt{rec: rec, w: w, handler: o.handlers[rec.Category], view: *rec}
	o.mu.Unlock()
	return a, true
}

// execute runs the handler outside the lock. Panics are recovered and turned
// into a HandlerError; the worker shows ERROR until finish releases it.
func (o *Orchestrator) execute(ctx context.Context, a attempt) (err error) {
	if a.handler == nil {
		return &task.HandlerError{Category: a.view.Category, Err: task.ErrNoHandler}
	}

	// Shutdown does not cancel an in-flight handler.
	hctx := context.WithoutCancel(ctx)
	if o.cfg.HandlerTimeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(hctx, o.cfg.HandlerTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			o.mu.Lock()
			_ = a.w.MarkError(a.view.ID)
			o.mu.Unlock()
			o.writer.Request()
			o.log.Error("handler panicked",
				logx.String("task", a.view.ID),
				logx.String("category", a.view.Category),
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())),
			)
			err = &task.HandlerError{Category: a.view.Category, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	ok, herr := a.handler.Execute(hctx, a.view)
	switch {
	case herr != nil:
		return &task.HandlerError{Category: a.view.Category, Err: herr}
	case !ok:
		return &task.HandlerError{Category: a.view.Category, Err: task.ErrRejected}
	}
	return nil
}

// finish records the outcome and releases the worker in one critical
// section.
func (o *Orchestrator) finish(a attempt, err error, took time.Duration, rng *rand.Rand, log logx.Logger) {
	o.mu.Lock()
	now := o.now()
	if err == nil {
		_ = a.rec.Complete(now)
		_ = a.w.Release(a.view.ID, true)
		ev := taskEvent(a.rec, nil)
		ev.WorkerID = a.w.ID
		o.mu.Unlock()

		log.Debug("task completed", logx.String("task", ev.TaskID), logx.Int("worker", ev.WorkerID), logx.Duration("took", took))
		o.publish(eventbus.TaskCompleted, ev)
		o.writer.Request()
		return
	}

	act, _ := a.rec.Fail(now, err)
	_ = a.w.Release(a.view.ID, false)
	ev := taskEvent(a.rec, err)
	ev.WorkerID = a.w.ID
	if act == task.ActionRetry {
		o.queue.EnqueueAfter(a.rec, o.retryDelay(a.rec, err, rng))
	}
	o.mu.Unlock()

	o.afterFailure(act, ev, log)
}

func (o *Orchestrator) afterFailure(act task.Action, ev eventbus.TaskEvent, log logx.Logger) {
	fields := []logx.Field{
		logx.String("task", ev.TaskID),
		logx.String("category", ev.Category),
		logx.Int("retry", ev.RetryCount),
		logx.String("err", ev.Error),
	}
	if act == task.ActionRetry {
		log.Debug("task retry", fields...)
		o.publish(eventbus.TaskRetry, ev)
	} else {
		log.Warn("task failed", fields...)
		o.publish(eventbus.TaskFailed, ev)
	}
	o.writer.Request()
}

// retryDelay must be called with o.mu held; rec.RetryCount is the attempt
// about to be made.
func (o *Orchestrator) retryDelay(rec *task.Task, err error, rng *rand.Rand) time.Duration {
	b := task.Backoff{Base: o.cfg.RetryBase, MaxDelay: o.cfg.RetryMaxDelay, Jitter: o.cfg.RetryJitter}
	return b.Delay(rec.RetryCount, err, rng)
}
