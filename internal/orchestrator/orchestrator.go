// Package orchestrator routes submitted tasks to idle workers of the
// matching category and runs them through per-category handlers on a fixed
// pool of execution loops.
//
// All task and worker state lives behind one mutex. Assignment (worker
// WORKING, task IN_PROGRESS) happens in a single critical section; handlers
// run outside it.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"crew/internal/eventbus"
	rtsup "crew/internal/runtime/supervisor"
	"crew/internal/snapshot"
	"crew/internal/task"
	"crew/internal/worker"
	logx "crew/pkg/logx"
)

// Config tunes the execution loops. Zero values take the defaults below.
type Config struct {
	PollInterval   time.Duration // Dequeue timeout; bounds shutdown latency
	RequeueDelay   time.Duration // delay before retrying routing when no worker is idle
	MaxRetries     int           // default for tasks submitted with MaxRetries == 0
	HandlerTimeout time.Duration // 0 means no deadline on the handler context

	RetryBase     time.Duration // 0 re-enqueues retries immediately
	RetryMaxDelay time.Duration
	RetryJitter   float64

	SnapshotInterval time.Duration // minimum spacing between snapshot writes
}

const (
	DefaultPollInterval     = 200 * time.Millisecond
	DefaultRequeueDelay     = 100 * time.Millisecond
	DefaultRetryMaxDelay    = 15 * time.Second
	DefaultSnapshotInterval = 250 * time.Millisecond
)

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.RequeueDelay < 0 {
		c.RequeueDelay = 0
	} else if c.RequeueDelay == 0 {
		c.RequeueDelay = DefaultRequeueDelay
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = task.DefaultMaxRetries
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = DefaultRetryMaxDelay
	}
	if c.SnapshotInterval < 0 {
		c.SnapshotInterval = 0
	} else if c.SnapshotInterval == 0 {
		c.SnapshotInterval = DefaultSnapshotInterval
	}
	return c
}

type Option func(*Orchestrator)

func WithLogger(log logx.Logger) Option {
	return func(o *Orchestrator) { o.log = log }
}

// WithBus publishes task lifecycle events on bus.
func WithBus(bus eventbus.Bus) Option {
	return func(o *Orchestrator) { o.bus = bus }
}

// WithSnapshotStore persists a snapshot after every mutation batch. driver
// only labels log lines and errors.
func WithSnapshotStore(store snapshot.Store, driver string) Option {
	return func(o *Orchestrator) {
		o.store = store
		o.storeDriver = driver
	}
}

// WithClock overrides time.Now for task timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

type Orchestrator struct {
	cfg Config
	log logx.Logger
	bus eventbus.Bus
	now func() time.Time

	store       snapshot.Store
	storeDriver string
	writer      *snapshot.Writer

	queue *task.Queue

	// mu guards everything below, including every *task.Task reachable from
	// records and every worker in registry.
	mu       sync.Mutex
	registry *worker.Registry
	handlers map[string]Handler
	records  []*task.Task          // every lifecycle, in submission order
	byID     map[string]*task.Task // latest lifecycle per id
	state    State
	sup      *rtsup.Supervisor
	loops    int
}

// New builds an orchestrator over the workers described by defs.
func New(cfg Config, defs []worker.Def, opts ...Option) (*Orchestrator, error) {
	reg, err := worker.NewRegistry(defs)
	if err != nil {
		return nil, err
	}
	o := &Orchestrator{
		cfg:      cfg.withDefaults(),
		now:      time.Now,
		queue:    task.NewQueue(),
		registry: reg,
		handlers: map[string]Handler{},
		byID:     map[string]*task.Task{},
		state:    StateStopped,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.log.IsZero() {
		o.log = logx.Nop()
	}
	o.log = o.log.With(logx.String("comp", "orchestrator"))
	o.writer = snapshot.NewWriter(o.store, o.storeDriver, o.snapshotDocument, o.cfg.SnapshotInterval,
		o.log.With(logx.String("comp", "snapshot")))
	return o, nil
}

// RegisterHandler binds h to category, replacing any previous handler.
func (o *Orchestrator) RegisterHandler(category string, h Handler) {
	category = strings.TrimSpace(category)
	o.mu.Lock()
	if h == nil {
		delete(o.handlers, category)
	} else {
		o.handlers[category] = h
	}
	o.mu.Unlock()
}

// SetSnapshotInterval changes the snapshot debounce at runtime.
func (o *Orchestrator) SetSnapshotInterval(d time.Duration) {
	o.writer.SetMinInterval(d)
}

// Submit validates t and enqueues a fresh lifecycle for it.
//
// It fails only on an empty id or an id whose latest lifecycle is still
// PENDING or IN_PROGRESS. Resubmitting a finished id starts a new lifecycle;
// the previous one is still counted by Status.
func (o *Orchestrator) Submit(t task.Task) error {
	t.ID = strings.TrimSpace(t.ID)
	t.Category = strings.TrimSpace(t.Category)
	if t.ID == "" {
		return &task.SubmissionError{Err: task.ErrInvalidID}
	}

	o.mu.Lock()
	if prev, ok := o.byID[t.ID]; ok && !prev.Status.Terminal() {
		o.mu.Unlock()
		return &task.SubmissionError{TaskID: t.ID, Err: task.ErrDuplicateID}
	}
	t.Normalize(o.now(), o.cfg.MaxRetries)
	rec := &t
	o.records = append(o.records, rec)
	o.byID[t.ID] = rec
	ev := taskEvent(rec, nil)
	o.queue.Enqueue(rec)
	o.mu.Unlock()

	o.publish(eventbus.TaskSubmitted, ev)
	o.writer.Request()
	return nil
}

// SubmitBatch submits each task in order and reports how many were accepted
// along with the error of every rejected one.
func (o *Orchestrator) SubmitBatch(ts []task.Task) (int, []error) {
	accepted := 0
	var errs []error
	for _, t := range ts {
		if err := o.Submit(t); err != nil {
			errs = append(errs, err)
			continue
		}
		accepted++
	}
	return accepted, errs
}

// Status returns a lock-consistent summary of workers, tasks and the queue.
func (o *Orchestrator) Status() StatusReport {
	o.mu.Lock()
	defer o.mu.Unlock()
	return StatusReport{
		State:   o.state,
		Workers: summarizeWorkers(o.registry.Snapshot()),
		Tasks:   summarizeTasks(o.records),
		Queue:   QueueSummary{Ready: o.queue.Len(), Delayed: o.queue.Delayed()},
	}
}

// Task returns a copy of the latest lifecycle for id.
func (o *Orchestrator) Task(id string) (task.Task, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	t, ok := o.byID[id]
	if !ok {
		return task.Task{}, false
	}
	return *t, true
}

// Tasks returns copies of every tracked lifecycle in submission order.
func (o *Orchestrator) Tasks() []task.Task {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]task.Task, len(o.records))
	for i, t := range o.records {
		out[i] = *t
	}
	return out
}

// Workers returns copies of every worker ordered by id.
func (o *Orchestrator) Workers() []worker.Worker {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.registry.Snapshot()
}

// Categories returns the categories that have at least one worker.
func (o *Orchestrator) Categories() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.registry.AllCategories()
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// FlushSnapshot persists the current state now, bypassing the debounce.
// It is a no-op when no snapshot store is configured.
func (o *Orchestrator) FlushSnapshot(ctx context.Context) error { return o.writer.Flush(ctx) }

// SnapshotStats reports snapshot writer counters.
func (o *Orchestrator) SnapshotStats() snapshot.WriterStats { return o.writer.Stats() }

// LoopStats reports per-loop supervisor counters for the current run.
func (o *Orchestrator) LoopStats() []rtsup.LoopStats {
	o.mu.Lock()
	sup := o.sup
	o.mu.Unlock()
	if sup == nil {
		return nil
	}
	return sup.Stats()
}

// Start spawns n execution loops. n == 0 is legal: submissions are accepted
// and stay PENDING.
//
// Calling Start while RUNNING logs a warning and does nothing. Loops exit
// when ctx is cancelled or Stop is called; either way the pool ends STOPPED.
func (o *Orchestrator) Start(ctx context.Context, n int) error {
	if n < 0 {
		return fmt.Errorf("orchestrator: negative loop count %d", n)
	}
	o.mu.Lock()
	switch o.state {
	case StateRunning, StateStarting:
		loops := o.loops
		o.mu.Unlock()
		o.log.Warn("start ignored: already running", logx.Int("loops", loops))
		return nil
	case StateStopping:
		o.mu.Unlock()
		return ErrStopping
	}
	o.setStateLocked(StateStarting)

	sup := rtsup.New(ctx, rtsup.WithLogger(o.log))
	o.sup = sup
	o.loops = n
	for i := 1; i <= n; i++ {
		idx := i
		sup.GoRestart(fmt.Sprintf("pool.loop.%d", idx), func(ctx context.Context) error {
			return o.loop(ctx, idx)
		}, rtsup.WithPublishFirstError(true))
	}
	sup.Go("snapshot.writer", o.writer.Run)
	sup.Go("pool.watch", func(ctx context.Context) error {
		<-ctx.Done()
		o.abandon(sup)
		return nil
	})
	o.setStateLocked(StateRunning)
	o.mu.Unlock()

	o.log.Info("orchestrator started",
		logx.Int("loops", n),
		logx.Int("workers", o.registry.Len()),
		logx.Any("categories", o.Categories()),
	)
	o.writer.Request()
	return nil
}

// abandon moves a pool whose Start context was cancelled to STOPPED so that a
// later Start can run it again. When Stop got there first it owns the
// transition and abandon does nothing.
func (o *Orchestrator) abandon(sup *rtsup.Supervisor) {
	o.mu.Lock()
	if o.sup != sup || o.state != StateRunning {
		o.mu.Unlock()
		return
	}
	o.sup = nil
	o.loops = 0
	o.setStateLocked(StateStopped)
	o.mu.Unlock()

	o.log.Warn("orchestrator context cancelled; pool stopped")
	fctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = o.writer.Flush(fctx)
}

// Stop signals every loop to exit and waits for them until ctx is done, then
// writes a final snapshot and moves to STOPPED. In-flight handlers are not
// cancelled; if ctx expires first their results are still recorded when they
// return.
//
// Stop on a pool that is not running is a no-op.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	if o.state != StateRunning {
		o.mu.Unlock()
		return nil
	}
	o.setStateLocked(StateStopping)
	sup := o.sup
	o.mu.Unlock()

	o.log.Info("orchestrator stopping")
	err := sup.Stop(ctx)
	if err != nil && ctx.Err() != nil {
		o.log.Warn("stop timed out; abandoning in-flight handlers", logx.Err(err))
	} else {
		err = nil
	}

	o.mu.Lock()
	o.sup = nil
	o.loops = 0
	o.setStateLocked(StateStopped)
	o.mu.Unlock()

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	_ = o.writer.Flush(fctx)

	st := o.Status()
	o.log.Info("orchestrator stopped",
		logx.Int("pending", st.Tasks.Pending),
		logx.Int("completed", st.Tasks.Completed),
		logx.Int("failed", st.Tasks.Failed),
	)
	if err != nil {
		return fmt.Errorf("orchestrator stop: %w", err)
	}
	return nil
}

func (o *Orchestrator) setStateLocked(s State) {
	from := o.state
	o.state = s
	if from != s && o.bus != nil {
		o.bus.Publish(eventbus.Event{Type: eventbus.OrchestratorState, Data: eventbus.StateEvent{From: string(from), To: string(s)}})
	}
}

// snapshotDocument is the writer's source. It copies state under the lock;
// serialization happens in the writer.
func (o *Orchestrator) snapshotDocument() snapshot.Document {
	o.mu.Lock()
	defer o.mu.Unlock()
	return snapshot.NewDocument(o.now(), o.registry.Snapshot(), summarizeTasks(o.records).counts(), o.state == StateRunning)
}

func (o *Orchestrator) publish(typ string, ev eventbus.TaskEvent) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(eventbus.Event{Type: typ, Data: ev})
}

func taskEvent(t *task.Task, err error) eventbus.TaskEvent {
	ev := eventbus.TaskEvent{
		TaskID:     t.ID,
		Category:   t.Category,
		WorkerID:   t.AssignedWorkerID,
		RetryCount: t.RetryCount,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	return ev
}
