package app

import (
	"context"
	"strings"
	"sync"

	"github.com/robfig/cron/v3"

	logx "crew/pkg/logx"
)

// jobs runs the daemon's periodic housekeeping (snapshot refresh, status
// log) on a robfig/cron scheduler. Each job is keyed by name and can be
// rescheduled on config reload.
type jobs struct {
	log logx.Logger
	c   *cron.Cron

	mu      sync.Mutex
	entries map[string]jobEntry
}

type jobEntry struct {
	spec string
	id   cron.EntryID
}

func newJobs(log logx.Logger) *jobs {
	cl := cronLogger{log: log}
	return &jobs{
		log: log,
		c: cron.New(cron.WithChain(
			cron.Recover(cl),
			cron.SkipIfStillRunning(cl),
		)),
		entries: map[string]jobEntry{},
	}
}

// set schedules fn under name. An empty spec removes the job; an unchanged
// spec is a no-op.
func (j *jobs) set(name, spec string, fn func()) error {
	spec = strings.TrimSpace(spec)

	j.mu.Lock()
	defer j.mu.Unlock()
	prev, had := j.entries[name]
	if had && prev.spec == spec {
		return nil
	}
	if had {
		j.c.Remove(prev.id)
		delete(j.entries, name)
	}
	if spec == "" {
		if had {
			j.log.Info("job removed", logx.String("job", name))
		}
		return nil
	}
	id, err := j.c.AddFunc(spec, fn)
	if err != nil {
		return err
	}
	j.entries[name] = jobEntry{spec: spec, id: id}
	j.log.Info("job scheduled", logx.String("job", name), logx.String("spec", spec))
	return nil
}

// specs returns the active schedule per job name.
func (j *jobs) specs() map[string]string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make(map[string]string, len(j.entries))
	for name, e := range j.entries {
		out[name] = e.spec
	}
	return out
}

func (j *jobs) start() { j.c.Start() }

// stop halts triggering and waits for running jobs, bounded by ctx.
func (j *jobs) stop(ctx context.Context) {
	select {
	case <-j.c.Stop().Done():
	case <-ctx.Done():
	}
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			continue
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
