package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"crew/internal/config"
	"crew/internal/snapshot"
	"crew/internal/task"
	logx "crew/pkg/logx"
)

const testConfigYAML = `
logging: { level: warn, console: true }
orchestrator:
  pool_size: 2
  poll_interval: 10ms
  requeue_delay: 2ms
  stop_timeout: 2s
snapshot:
  driver: file
  path: status/crew-status.json
  min_interval: 1ms
status_log: "@every 1h"
workers:
  - { name: writer, category: docs, count: 2 }
  - { name: mailer, category: email }
handlers:
  - { category: docs, kind: log }
  - { category: email, kind: log }
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func newTestApp(t *testing.T, body string) (*App, string) {
	t.Helper()
	dir := t.TempDir()
	a, err := New(writeFile(t, dir, "crew.yaml", body))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Stop(ctx, StopAppStop)
	})
	return a, dir
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestAppRunsTaskFileAndPersistsSnapshot(t *testing.T) {
	a, dir := newTestApp(t, testConfigYAML)
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	tasksPath := writeFile(t, dir, "tasks.yaml", `
- { id: d1, category: docs }
- { id: d2, category: docs }
- { id: d3, category: docs }
- { id: e1, category: email, payload: { to: ops } }
- { category: email }
`)
	n, errs := a.SubmitFile(tasksPath)
	if n != 5 || len(errs) != 0 {
		t.Fatalf("SubmitFile = %d %v", n, errs)
	}
	waitFor(t, "all tasks completed", func() bool {
		return a.Orchestrator().Status().Tasks.Completed == 5
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Stop(ctx, StopAppStop); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	st, err := snapshot.Open(snapshot.Config{Driver: "file", Path: filepath.Join(dir, "status", "crew-status.json")}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	doc, err := st.(snapshot.Reader).Read(context.Background())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if doc.IsRunning || doc.Tasks.Completed != 5 || len(doc.Workers) != 3 {
		t.Fatalf("snapshot = %+v", doc)
	}
}

func TestAppStopIsIdempotent(t *testing.T) {
	a, _ := newTestApp(t, testConfigYAML)
	if err := a.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := a.Start(context.Background()); err == nil {
		t.Fatal("second Start should fail")
	}
	for i := 0; i < 2; i++ {
		if err := a.Stop(context.Background(), StopSIGTERM); err != nil {
			t.Fatalf("Stop #%d: %v", i+1, err)
		}
	}
	select {
	case <-a.Done():
	default:
		t.Fatal("Done not closed after Stop")
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "handler kind", body: "handlers: [{category: docs, kind: teleport}]\n", want: "unknown kind"},
		{name: "duplicate worker", body: "workers: [{name: a, category: x}, {name: a, category: y}]\n", want: "workers"},
		{name: "bad cron", body: "status_log: every now and then\n", want: "status_log"},
		{name: "unknown field", body: "nope: 1\n", want: "unknown field"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			_, err := New(writeFile(t, dir, "crew.yaml", "snapshot: {driver: none}\n"+tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestApplyReloadRebindsHandlersAndJobs(t *testing.T) {
	a, _ := newTestApp(t, testConfigYAML)
	if err := a.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	next, err := config.Decode("crew.yaml", []byte(strings.Replace(testConfigYAML,
		"  - { category: email, kind: log }\n", "", 1)+"\n"))
	if err != nil {
		t.Fatal(err)
	}
	next.StatusLog = "@every 2h"
	next.Snapshot.Refresh = "@every 1h"
	a.applyReload(context.Background(), next)

	specs := a.jobs.specs()
	if specs[jobStatusLog] != "@every 2h" || specs[jobSnapshotRefresh] != "@every 1h" {
		t.Fatalf("job specs = %v", specs)
	}

	if err := a.Orchestrator().Submit(task.Task{ID: "e1", Category: "email", MaxRetries: -1}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "email task to fail", func() bool {
		tk, ok := a.Orchestrator().Task("e1")
		return ok && tk.Status == task.StatusFailed
	})
	tk, _ := a.Orchestrator().Task("e1")
	if !strings.Contains(tk.LastError, task.ErrNoHandler.Error()) {
		t.Fatalf("LastError = %q", tk.LastError)
	}

	if err := a.Orchestrator().Submit(task.Task{ID: "d1", Category: "docs"}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "docs task to complete", func() bool {
		tk, ok := a.Orchestrator().Task("d1")
		return ok && tk.Status == task.StatusCompleted
	})
}

func TestJobsSet(t *testing.T) {
	j := newJobs(logx.Nop())
	noop := func() {}

	if err := j.set("a", "@every 1m", noop); err != nil {
		t.Fatal(err)
	}
	if err := j.set("a", "@every 1m", noop); err != nil {
		t.Fatal(err)
	}
	if err := j.set("b", "not a spec", noop); err == nil {
		t.Fatal("expected parse error")
	}
	if got := j.specs(); len(got) != 1 || got["a"] != "@every 1m" {
		t.Fatalf("specs = %v", got)
	}
	if err := j.set("a", "", noop); err != nil {
		t.Fatal(err)
	}
	if got := j.specs(); len(got) != 0 {
		t.Fatalf("specs after removal = %v", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	j.start()
	j.stop(ctx)
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		t.Fatal("stop should not need the full deadline")
	}
}
