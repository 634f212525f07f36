package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"crew/internal/worker"
)

const sampleYAML = `
logging:
  level: debug
orchestrator:
  pool_size: 0
  poll_interval: 50ms
  max_retries: 5
snapshot:
  driver: sqlite
  path: ./crew.db
  refresh: "@every 30s"
status_log: "@every 1m"
workers:
  - {name: writer, category: docs, count: 2}
handlers:
  - {category: docs, kind: log}
  - {category: shell, kind: exec, command: ["sh", "-c"], timeout: 5s}
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	m := NewConfigManager(writeFile(t, dir, "crew.yaml", sampleYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Fatalf("logging = %+v (console default should survive)", cfg.Logging)
	}
	s, err := cfg.Orchestrator.Settings()
	if err != nil {
		t.Fatalf("Settings: %v", err)
	}
	if s.PoolSize != 0 || s.PollInterval != 50*time.Millisecond || s.MaxRetries != 5 {
		t.Fatalf("orchestrator settings = %+v", s)
	}
	if s.RequeueDelay != DefaultRequeueDelay || s.StopTimeout != DefaultStopTimeout {
		t.Fatalf("defaults not applied: %+v", s)
	}
	if err := Validate(cfg, dir); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if m.Get() != cfg {
		t.Fatal("Load should commit")
	}
}

func TestDecodeStrict(t *testing.T) {
	tests := []struct {
		name string
		path string
		body string
	}{
		{"unknown json field", "c.json", `{"bogus": 1}`},
		{"unknown yaml field", "c.yaml", "orchestrator:\n  pool: 3\n"},
		{"trailing json", "c.json", `{} {}`},
		{"bad yaml", "c.yml", "logging: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.path, []byte(tt.body)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestDecodeSniffsFormat(t *testing.T) {
	cfg, err := Decode("crew.conf", []byte(`{"status_log": "@hourly"}`))
	if err != nil || cfg.StatusLog != "@hourly" {
		t.Fatalf("json sniff: %+v, %v", cfg, err)
	}
	cfg, err = Decode("crew.conf", []byte("status_log: '@daily'\n"))
	if err != nil || cfg.StatusLog != "@daily" {
		t.Fatalf("yaml sniff: %+v, %v", cfg, err)
	}
	cfg, err = Decode("empty.yaml", nil)
	if err != nil || cfg.Snapshot.Driver != "file" {
		t.Fatalf("empty: %+v, %v", cfg, err)
	}
}

func TestValidateRejects(t *testing.T) {
	neg := -1
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"negative pool", func(c *Config) { c.Orchestrator.PoolSize = &neg }, "pool_size"},
		{"bad duration", func(c *Config) { c.Orchestrator.PollInterval = "soon" }, "poll_interval"},
		{"unknown driver", func(c *Config) { c.Snapshot.Driver = "mongo" }, "snapshot.driver"},
		{"redis without addr", func(c *Config) { c.Snapshot.Driver = "redis" }, "redis_addr"},
		{"bad cron", func(c *Config) { c.StatusLog = "every so often" }, "status_log"},
		{"dup worker", func(c *Config) {
			c.Workers = []worker.Def{{Name: "a", Category: "x"}, {Name: "a", Category: "y"}}
		}, "duplicate"},
		{"exec without command", func(c *Config) {
			c.Handlers = []HandlerConfig{{Category: "x", Kind: "exec"}}
		}, "command"},
		{"unknown kind", func(c *Config) {
			c.Handlers = []HandlerConfig{{Category: "x", Kind: "lambda"}}
		}, "kind"},
		{"public admin without token", func(c *Config) {
			c.Admin = AdminConfig{Enabled: true, Addr: "0.0.0.0:7070"}
		}, "admin.addr"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := Validate(cfg, "")
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestWorkerDefsAppendsFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "workers.yaml", "- {name: extra, category: ops}\n")
	cfg := Default()
	cfg.Workers = []worker.Def{{Name: "inline", Category: "docs"}}
	cfg.WorkersFile = "workers.yaml"

	defs, err := cfg.WorkerDefs(dir)
	if err != nil {
		t.Fatalf("WorkerDefs: %v", err)
	}
	if len(defs) != 2 || defs[0].Name != "inline" || defs[1].Name != "extra" {
		t.Fatalf("defs = %+v", defs)
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	tests := map[string]bool{
		"127.0.0.1:7070": true,
		"localhost:1":    true,
		"[::1]:80":       true,
		":7070":          false,
		"0.0.0.0:7070":   false,
		"10.0.0.1:7070":  false,
		"garbage":        false,
	}
	for addr, want := range tests {
		if got := IsLoopbackAddr(addr); got != want {
			t.Errorf("IsLoopbackAddr(%q) = %v, want %v", addr, got, want)
		}
	}
}

func TestSummarizeChange(t *testing.T) {
	a := Default()
	b := Default()
	if ch := SummarizeChange(a, b); !ch.Empty() {
		t.Fatalf("identical configs changed: %+v", ch.Sections)
	}

	b.Logging.Level = "debug"
	b.Snapshot.MinInterval = "1s"
	ch := SummarizeChange(a, b)
	if len(ch.Sections) != 2 || len(ch.RestartRequired) != 0 {
		t.Fatalf("change = %+v", ch)
	}

	b.Snapshot.Driver = "sqlite"
	b.Workers = []worker.Def{{Name: "w", Category: "c"}}
	ch = SummarizeChange(a, b)
	if strings.Join(ch.RestartRequired, ",") != "snapshot,workers" {
		t.Fatalf("restart required = %v", ch.RestartRequired)
	}
}

func TestWatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "crew.json", `{"status_log": "@hourly"}`)
	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	m.SetValidator(func(ctx context.Context, cfg *Config) error { return Validate(cfg, dir) })
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = m.Watch(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	// Give the watcher a moment to register before writing.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, dir, "crew.json", `{"status_log": "@every 5m"}`)

	select {
	case cfg := <-sub:
		if cfg.StatusLog != "@every 5m" {
			t.Fatalf("reloaded status_log = %q", cfg.StatusLog)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload published")
	}
	if m.Get().StatusLog != "@every 5m" {
		t.Fatal("reload not committed")
	}
}

func TestReloadRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "crew.json", `{}`)
	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	m.SetValidator(func(ctx context.Context, cfg *Config) error { return Validate(cfg, dir) })

	writeFile(t, dir, "crew.json", `{"snapshot": {"driver": "mongo"}}`)
	if m.reload(context.Background()) {
		t.Fatal("invalid config was published")
	}
	writeFile(t, dir, "crew.json", `{}`)
	if m.reload(context.Background()) {
		t.Fatal("unchanged config was republished")
	}
}

func TestDecodeTasks(t *testing.T) {
	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{name: "yaml list", path: "t.yaml", body: "- {id: a, category: docs}\n- {category: docs, payload: {to: ops}}\n", want: 2},
		{name: "yaml wrapped", path: "t.yml", body: "tasks:\n  - id: a\n    category: docs\n", want: 1},
		{name: "json list", path: "t.json", body: `[{"id":"a","category":"docs","payload":"hi"}]`, want: 1},
		{name: "empty yaml", path: "t.yaml", body: "", want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, err := DecodeTasks(tt.path, []byte(tt.body))
			if err != nil {
				t.Fatalf("DecodeTasks: %v", err)
			}
			if len(ts) != tt.want {
				t.Fatalf("got %d tasks, want %d", len(ts), tt.want)
			}
			for _, tk := range ts {
				if tk.ID == "" || tk.Category != "docs" {
					t.Fatalf("bad task %+v", tk)
				}
			}
		})
	}

	ts, err := DecodeTasks("t.yaml", []byte("- {category: docs, payload: {to: ops}}\n"))
	if err != nil {
		t.Fatal(err)
	}
	if got := string(ts[0].Payload); got != `{"to":"ops"}` {
		t.Fatalf("payload = %s", got)
	}
	if _, err := DecodeTasks("t.json", []byte(`{"tasks":[],"extra":1}`)); err == nil {
		t.Fatal("expected unknown field error")
	}
}

func TestParseDurationField(t *testing.T) {
	tests := []struct {
		raw     string
		def     time.Duration
		want    time.Duration
		wantErr string
	}{
		{raw: "", def: time.Second, want: time.Second},
		{raw: "0s", def: time.Second, want: time.Second},
		{raw: " 250ms ", want: 250 * time.Millisecond},
		{raw: "-1s", wantErr: "negative"},
		{raw: "soon", wantErr: "invalid duration"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseDurationOrDefault("x.interval", tt.raw, tt.def)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) || !strings.HasPrefix(err.Error(), "x.interval: ") {
					t.Fatalf("err = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Fatalf("got %v, %v; want %v", got, err, tt.want)
			}
		})
	}
}
