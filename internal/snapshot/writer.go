package snapshot

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	logx "crew/pkg/logx"

	"golang.org/x/time/rate"
)

const writeTimeout = 5 * time.Second

// Writer coalesces snapshot requests and persists them at most once per
// min interval. Requests never block the caller.
//
// source is invoked from the writer goroutine and must return a consistent
// copy of the state it describes; serialization and I/O happen after it
// returns.
type Writer struct {
	store  Store
	driver string
	source func() Document
	log    logx.Logger

	limiter *rate.Limiter
	kick    chan struct{}

	persistMu sync.Mutex
	running   atomic.Int32 // active Run loops

	writes   atomic.Uint64
	failures atomic.Uint64
	lastErr  atomic.Value // string
}

// WriterStats is a point-in-time view of writer counters.
type WriterStats struct {
	Driver    string `json:"driver"`
	Writes    uint64 `json:"writes"`
	Failures  uint64 `json:"failures"`
	LastError string `json:"lastError,omitempty"`
}

// NewWriter returns a Writer. A nil store yields a writer whose methods are
// no-ops, so callers never branch on whether persistence is configured.
func NewWriter(store Store, driver string, source func() Document, minInterval time.Duration, log logx.Logger) *Writer {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Writer{
		store:   store,
		driver:  driver,
		source:  source,
		log:     log,
		limiter: rate.NewLimiter(limitFor(minInterval), 1),
		kick:    make(chan struct{}, 1),
	}
}

func limitFor(d time.Duration) rate.Limit {
	if d <= 0 {
		return rate.Inf
	}
	return rate.Every(d)
}

// Enabled reports whether a store is attached.
func (w *Writer) Enabled() bool { return w != nil && w.store != nil }

// SetMinInterval changes the debounce interval at runtime.
func (w *Writer) SetMinInterval(d time.Duration) {
	if w == nil {
		return
	}
	w.limiter.SetLimit(limitFor(d))
}

// Request schedules a snapshot. Multiple requests before the next write
// collapse into one. While no Run loop is active the snapshot is written
// synchronously, so late mutations still reach the store.
func (w *Writer) Request() {
	if !w.Enabled() {
		return
	}
	select {
	case w.kick <- struct{}{}:
	default:
	}
	if w.running.Load() == 0 {
		w.drain()
	}
}

// Running reports whether a Run loop is servicing requests.
func (w *Writer) Running() bool { return w != nil && w.running.Load() > 0 }

// Run services requests until ctx is done.
func (w *Writer) Run(ctx context.Context) error {
	if !w.Enabled() {
		<-ctx.Done()
		return nil
	}
	w.running.Add(1)
	defer func() {
		if w.running.Add(-1) == 0 {
			w.drain()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.kick:
		}
		if err := w.limiter.Wait(ctx); err != nil {
			// ctx cancelled while waiting; the pending state is written by
			// the deferred drain or by Flush.
			w.Request()
			return nil
		}
		_ = w.Flush(ctx)
	}
}

// drain persists a pending request, if any.
func (w *Writer) drain() {
	select {
	case <-w.kick:
		_ = w.Flush(context.Background())
	default:
	}
}

// Flush writes the current state immediately, bypassing the debounce.
// source is read under the write lock so a later state is never overwritten
// by an earlier one.
func (w *Writer) Flush(ctx context.Context) error {
	if !w.Enabled() {
		return nil
	}
	w.persistMu.Lock()
	defer w.persistMu.Unlock()
	return w.write(ctx, w.source())
}

// Persist writes doc to the store. Failures are logged and counted and
// returned as *PersistError.
func (w *Writer) Persist(ctx context.Context, doc Document) error {
	if !w.Enabled() {
		return nil
	}
	w.persistMu.Lock()
	defer w.persistMu.Unlock()
	return w.write(ctx, doc)
}

func (w *Writer) write(ctx context.Context, doc Document) error {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	if err := w.store.Write(wctx, doc); err != nil {
		w.failures.Add(1)
		w.lastErr.Store(err.Error())
		w.log.Warn("snapshot write failed", logx.String("driver", w.driver), logx.Err(err))
		return &PersistError{Driver: w.driver, Err: err}
	}
	w.writes.Add(1)
	return nil
}

func (w *Writer) Stats() WriterStats {
	if w == nil {
		return WriterStats{}
	}
	st := WriterStats{
		Driver:   w.driver,
		Writes:   w.writes.Load(),
		Failures: w.failures.Load(),
	}
	if s, ok := w.lastErr.Load().(string); ok {
		st.LastError = s
	}
	return st
}

// Close releases the underlying store.
func (w *Writer) Close() error {
	if !w.Enabled() {
		return nil
	}
	return w.store.Close()
}
