// Package app wires the crew daemon: config, logging, the snapshot store,
// the orchestrator and its handlers, the admin server, housekeeping jobs,
// systemd notifications and config hot reload.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"crew/internal/config"
	"crew/internal/eventbus"
	"crew/internal/handlers"
	"crew/internal/observability/admin"
	"crew/internal/orchestrator"
	rtsup "crew/internal/runtime/supervisor"
	"crew/internal/snapshot"
	"crew/internal/task"
	logx "crew/pkg/logx"
	"crew/pkg/systemd"
)

const (
	jobSnapshotRefresh = "snapshot.refresh"
	jobStatusLog       = "status.log"
)

type App struct {
	cfgm    *config.ConfigManager // nil when running on defaults
	cfg     *config.Config
	baseDir string

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store snapshot.Store
	orch  *orchestrator.Orchestrator
	admin *admin.Server
	jobs  *jobs

	poolSize    int
	stopTimeout time.Duration

	mu         sync.Mutex
	sup        *rtsup.Supervisor
	categories map[string]bool // categories bound from config handlers
	stopped    bool
}

// New loads and validates cfgPath and builds every component. An empty
// cfgPath runs on config.Default().
func New(cfgPath string) (*App, error) {
	var (
		cfgm    *config.ConfigManager
		cfg     *config.Config
		baseDir = "."
		err     error
	)
	if strings.TrimSpace(cfgPath) != "" {
		cfgm = config.NewConfigManager(cfgPath)
		if cfg, err = cfgm.Load(); err != nil {
			return nil, err
		}
		baseDir = cfgm.Dir()
	} else {
		cfg = config.Default()
	}
	return build(cfgm, cfg, baseDir)
}

func build(cfgm *config.ConfigManager, cfg *config.Config, baseDir string) (*App, error) {
	if err := config.Validate(cfg, baseDir); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	orchSettings, err := cfg.Orchestrator.Settings()
	if err != nil {
		return nil, err
	}
	snapSettings, err := cfg.Snapshot.Settings()
	if err != nil {
		return nil, err
	}
	defs, err := cfg.WorkerDefs(baseDir)
	if err != nil {
		return nil, err
	}
	specs, err := mapHandlerSpecs(cfg)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	appLog := log.With(logx.String("comp", "app"))

	store, err := snapshot.Open(mapSnapshotConfig(snapSettings, baseDir), log.With(logx.String("comp", "snapshot")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("snapshot store: %w", err)
	}
	if store != nil {
		appLog.Info("snapshot store enabled", logx.String("driver", snapshot.DriverName(snapSettings.Driver)))
	}

	bus := eventbus.New()
	orch, err := orchestrator.New(mapOrchestratorConfig(orchSettings, snapSettings), defs,
		orchestrator.WithLogger(log),
		orchestrator.WithBus(bus),
		orchestrator.WithSnapshotStore(store, snapshot.DriverName(snapSettings.Driver)),
	)
	if err != nil {
		closeStore(store)
		_ = logSvc.Close()
		return nil, err
	}
	if err := handlers.Register(orch, specs, log); err != nil {
		closeStore(store)
		_ = logSvc.Close()
		return nil, err
	}
	cats := make(map[string]bool, len(specs))
	for _, s := range specs {
		cats[s.Category] = true
	}

	return &App{
		cfgm:        cfgm,
		cfg:         cfg,
		baseDir:     baseDir,
		log:         appLog,
		logs:        logSvc,
		bus:         bus,
		store:       store,
		orch:        orch,
		admin:       admin.New(orch, log),
		jobs:        newJobs(log.With(logx.String("comp", "jobs"))),
		poolSize:    orchSettings.PoolSize,
		stopTimeout: orchSettings.StopTimeout,
		categories:  cats,
	}, nil
}

func closeStore(s snapshot.Store) {
	if s != nil {
		_ = s.Close()
	}
}

func (a *App) Orchestrator() *orchestrator.Orchestrator { return a.orch }

// Logger returns the app's component logger.
func (a *App) Logger() logx.Logger { return a.log }

// Bus exposes lifecycle events to embedders.
func (a *App) Bus() eventbus.Bus { return a.bus }

// StopTimeout is the configured bound for a graceful Stop.
func (a *App) StopTimeout() time.Duration { return a.stopTimeout }

// AdminAddr returns the admin server's bound address, or "" when disabled.
func (a *App) AdminAddr() string { return a.admin.Addr() }

// Done is closed when the app supervisor context is cancelled (fatal error
// or Stop).
func (a *App) Done() <-chan struct{} {
	a.mu.Lock()
	sup := a.sup
	a.mu.Unlock()
	if sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	a.mu.Lock()
	sup := a.sup
	a.mu.Unlock()
	if sup == nil {
		return nil
	}
	return sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.sup != nil {
		a.mu.Unlock()
		return errors.New("app already started")
	}
	sup := rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.sup = sup
	a.mu.Unlock()

	if a.cfgm != nil {
		a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
		a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
			return config.Validate(cfg, a.baseDir)
		})
	}

	if err := a.orch.Start(sup.Context(), a.poolSize); err != nil {
		return err
	}

	if err := a.applyJobs(a.cfg); err != nil {
		return err
	}
	a.jobs.start()
	a.admin.Reconfigure(sup.Context(), mapAdminConfig(a.cfg))

	// Lifecycle events at debug level; embedders can subscribe themselves.
	events, unsub := a.bus.Subscribe(128)
	sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Any("data", e.Data))
			}
		}
	})

	if a.cfgm != nil {
		sub := a.cfgm.Subscribe(8)
		sup.Go("config.reload", func(c context.Context) error {
			defer a.cfgm.Unsubscribe(sub)
			for {
				select {
				case <-c.Done():
					return nil
				case newCfg, ok := <-sub:
					if !ok {
						return nil
					}
					a.applyReload(c, newCfg)
				}
			}
		})
		sup.Go("config.watch", func(c context.Context) error {
			return a.cfgm.Watch(c)
		})
	}

	sup.Go("systemd.watchdog", func(c context.Context) error {
		return systemd.Watchdog(c, func() bool { return a.orch.State() == orchestrator.StateRunning })
	})
	if sent, err := systemd.Ready(); err != nil {
		a.log.Warn("systemd notify failed", logx.Err(err))
	} else if sent {
		_, _ = systemd.Status("running %d loops", a.poolSize)
	}

	a.log.Info("app started",
		logx.Int("pool_size", a.poolSize),
		logx.Any("categories", a.orch.Categories()),
		logx.String("admin_addr", a.admin.Addr()),
	)
	return nil
}

// SubmitFile submits every task in a JSON/YAML task file.
func (a *App) SubmitFile(path string) (int, []error) {
	ts, err := config.LoadTasks(path)
	if err != nil {
		return 0, []error{fmt.Errorf("tasks file: %w", err)}
	}
	return a.Submit(ts)
}

// Submit submits ts and logs every rejection.
func (a *App) Submit(ts []task.Task) (int, []error) {
	n, errs := a.orch.SubmitBatch(ts)
	for _, err := range errs {
		a.log.Warn("task rejected", logx.Err(err))
	}
	a.log.Info("tasks submitted", logx.Int("accepted", n), logx.Int("rejected", len(errs)))
	return n, errs
}

func (a *App) applyJobs(cfg *config.Config) error {
	snap, err := cfg.Snapshot.Settings()
	if err != nil {
		return err
	}
	refresh := snap.Refresh
	if a.store == nil {
		refresh = ""
	}
	if err := a.jobs.set(jobSnapshotRefresh, refresh, a.refreshSnapshot); err != nil {
		return fmt.Errorf("snapshot.refresh: %w", err)
	}
	if err := a.jobs.set(jobStatusLog, cfg.StatusLog, a.logStatus); err != nil {
		return fmt.Errorf("status_log: %w", err)
	}
	return nil
}

func (a *App) refreshSnapshot() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = a.orch.FlushSnapshot(ctx)
}

func (a *App) logStatus() {
	st := a.orch.Status()
	a.log.Info("status",
		logx.String("state", string(st.State)),
		logx.Int("workers_idle", st.Workers.Idle),
		logx.Int("workers_working", st.Workers.Working),
		logx.Int("pending", st.Tasks.Pending),
		logx.Int("in_progress", st.Tasks.InProgress),
		logx.Int("completed", st.Tasks.Completed),
		logx.Int("failed", st.Tasks.Failed),
		logx.Int("queue_ready", st.Queue.Ready),
		logx.Int("queue_delayed", st.Queue.Delayed),
	)
}

// applyReload applies the hot-reloadable parts of newCfg. Changes that need
// a restart are logged and otherwise ignored.
func (a *App) applyReload(ctx context.Context, newCfg *config.Config) {
	a.mu.Lock()
	prev := a.cfg
	a.mu.Unlock()

	ch := config.SummarizeChange(prev, newCfg)
	if ch.Empty() {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if _, err := systemd.Reloading(); err != nil {
		a.log.Debug("systemd notify failed", logx.Err(err))
	}
	defer func() { _, _ = systemd.Ready() }()

	for _, s := range ch.RestartRequired {
		a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
	}

	a.logs.Apply(mapLoggingConfig(newCfg))

	if snap, err := newCfg.Snapshot.Settings(); err == nil {
		a.orch.SetSnapshotInterval(snap.MinInterval)
	}
	if err := a.applyJobs(newCfg); err != nil {
		a.log.Warn("invalid job schedule; keeping previous", logx.Err(err))
	}

	if specs, err := mapHandlerSpecs(newCfg); err != nil {
		a.log.Warn("invalid handlers config; keeping previous", logx.Err(err))
	} else {
		a.rebindHandlers(specs)
	}

	a.admin.Reconfigure(ctx, mapAdminConfig(newCfg))

	a.mu.Lock()
	a.cfg = newCfg
	a.mu.Unlock()

	fields := append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Fields...)
	a.log.Info("config reloaded", fields...)
}

// rebindHandlers registers specs and unbinds categories whose config entry
// was removed. Handlers registered by embedders for other categories are
// left alone.
func (a *App) rebindHandlers(specs []handlers.Spec) {
	next := make(map[string]bool, len(specs))
	for _, s := range specs {
		h, err := handlers.Build(s, a.log)
		if err != nil {
			a.log.Warn("handler build failed; keeping previous", logx.String("category", s.Category), logx.Err(err))
			next[s.Category] = true
			continue
		}
		a.orch.RegisterHandler(s.Category, h)
		next[s.Category] = true
	}
	a.mu.Lock()
	prev := a.categories
	a.categories = next
	a.mu.Unlock()
	for cat := range prev {
		if !next[cat] {
			a.orch.RegisterHandler(cat, nil)
			a.log.Info("handler unbound", logx.String("category", cat))
		}
	}
}

// Stop shuts everything down in dependency order. Each step is bounded so
// one component cannot stall the rest; the orchestrator drain gets the
// configured stop_timeout. Calling Stop twice is a no-op.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	a.mu.Lock()
	sup := a.sup
	if a.stopped {
		a.mu.Unlock()
		return nil
	}
	a.stopped = true
	a.mu.Unlock()

	a.log.Info("stopping", logx.String("reason", string(reason)))
	if _, err := systemd.Stopping(); err != nil {
		a.log.Debug("systemd notify failed", logx.Err(err))
	}

	a.step(ctx, "jobs", 2*time.Second, func(c context.Context) error { a.jobs.stop(c); return nil })
	a.step(ctx, "admin", 2*time.Second, func(c context.Context) error { a.admin.Stop(c); return nil })
	orchErr := a.step(ctx, "orchestrator", a.stopTimeout, a.orch.Stop)
	if sup != nil {
		a.step(ctx, "supervisor", 2*time.Second, func(c context.Context) error { return sup.Stop(c) })
	}
	a.step(ctx, "snapshot", 1*time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return orchErr
}

// step runs fn with an upper bound that never extends ctx's deadline. It
// returns fn's error, or the step deadline error if fn did not return in time.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) error {
	start := time.Now()
	a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

	stepCtx := ctx
	if max > 0 {
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < max {
				max = rem
			}
		}
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, max)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		took := time.Since(start)
		if took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
		return err
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Err(stepCtx.Err()),
			logx.Duration("elapsed", time.Since(start)),
		)
		go func() {
			err := <-done
			took := time.Since(start)
			if err != nil {
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
			} else {
				a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
			}
		}()
		return fmt.Errorf("stop step %s: %w", name, stepCtx.Err())
	}
}
