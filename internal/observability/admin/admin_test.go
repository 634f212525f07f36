package admin

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"crew/internal/orchestrator"
	"crew/internal/task"
	"crew/internal/worker"
	logx "crew/pkg/logx"
)

func newTestOrchestrator(t *testing.T) *orchestrator.Orchestrator {
	t.Helper()
	o, err := orchestrator.New(orchestrator.Config{SnapshotInterval: -1}, []worker.Def{
		{Name: "writer", Category: "docs"},
	})
	if err != nil {
		t.Fatalf("orchestrator.New: %v", err)
	}
	return o
}

func do(t *testing.T, h http.Handler, method, target, body string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthzAndStatus(t *testing.T) {
	o := newTestOrchestrator(t)
	h := Handler(o, "", false)

	if rec := do(t, h, http.MethodGet, "/healthz", "", nil); rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz = %d %q", rec.Code, rec.Body.String())
	}

	if err := o.Submit(task.Task{ID: "a", Category: "docs"}); err != nil {
		t.Fatal(err)
	}
	rec := do(t, h, http.MethodGet, "/status", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d", rec.Code)
	}
	var st StatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.State != orchestrator.StateStopped || st.Tasks.Pending != 1 || st.Workers.Total != 1 {
		t.Fatalf("status = %+v", st.StatusReport)
	}
}

func TestSubmitAndLookup(t *testing.T) {
	o := newTestOrchestrator(t)
	h := Handler(o, "", false)

	tests := []struct {
		name     string
		body     string
		code     int
		accepted int
	}{
		{name: "single", body: `{"id":"one","category":"docs"}`, code: http.StatusAccepted, accepted: 1},
		{name: "list", body: `[{"id":"two","category":"docs"},{"category":"docs"}]`, code: http.StatusAccepted, accepted: 2},
		{name: "wrapped with duplicate", body: `{"tasks":[{"id":"one","category":"docs"},{"id":"three","category":"x"}]}`, code: http.StatusMultiStatus, accepted: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/tasks", tt.body, nil)
			if rec.Code != tt.code {
				t.Fatalf("code = %d, want %d (%s)", rec.Code, tt.code, rec.Body.String())
			}
			var resp SubmitResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Accepted != tt.accepted {
				t.Fatalf("accepted = %d, want %d", resp.Accepted, tt.accepted)
			}
			for _, id := range resp.IDs {
				if id == "" {
					t.Fatal("empty id in response")
				}
			}
		})
	}

	rec := do(t, h, http.MethodGet, "/tasks/two", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("lookup code = %d", rec.Code)
	}
	var got task.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.ID != "two" || got.Status != task.StatusPending || got.MaxRetries != task.DefaultMaxRetries {
		t.Fatalf("task = %+v", got)
	}

	if rec := do(t, h, http.MethodGet, "/tasks/missing", "", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("missing code = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/tasks", "nope", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad body code = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/workers", "", nil); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"writer"`) {
		t.Fatalf("workers = %d %s", rec.Code, rec.Body.String())
	}
}

func TestTokenAuth(t *testing.T) {
	h := Handler(newTestOrchestrator(t), "s3cret", false)

	tests := []struct {
		name   string
		target string
		hdr    map[string]string
		code   int
	}{
		{name: "missing", target: "/healthz", code: http.StatusUnauthorized},
		{name: "wrong", target: "/healthz?token=nope", code: http.StatusUnauthorized},
		{name: "query", target: "/healthz?token=s3cret", code: http.StatusOK},
		{name: "bearer", target: "/healthz", hdr: map[string]string{"Authorization": "Bearer s3cret"}, code: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := do(t, h, http.MethodGet, tt.target, "", tt.hdr); rec.Code != tt.code {
				t.Fatalf("code = %d, want %d", rec.Code, tt.code)
			}
		})
	}
}

func TestPprofMountedOnlyWhenEnabled(t *testing.T) {
	o := newTestOrchestrator(t)
	if rec := do(t, Handler(o, "", false), http.MethodGet, "/debug/pprof/", "", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("pprof disabled code = %d", rec.Code)
	}
	if rec := do(t, Handler(o, "", true), http.MethodGet, "/debug/pprof/", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("pprof enabled code = %d", rec.Code)
	}
}

func TestServerLifecycle(t *testing.T) {
	s := New(newTestOrchestrator(t), logx.Nop())
	ctx := context.Background()
	s.Reconfigure(ctx, Config{Enabled: true, Addr: "127.0.0.1:0"})
	t.Cleanup(func() { s.Stop(context.Background()) })

	select {
	case <-s.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("server not ready")
	}
	addr := s.Addr()
	if addr == "" {
		t.Fatal("no bound addr")
	}
	resp, err := http.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz = %d", resp.StatusCode)
	}

	s.Reconfigure(ctx, Config{Enabled: false})
	if s.Addr() != "" {
		t.Fatalf("addr after disable = %q", s.Addr())
	}
}

func TestServerRefusesInsecureBind(t *testing.T) {
	s := New(newTestOrchestrator(t), logx.Nop())
	s.Reconfigure(context.Background(), Config{Enabled: true, Addr: "0.0.0.0:0"})
	defer s.Stop(context.Background())

	select {
	case <-s.Ready():
		t.Fatal("insecure bind should not become ready")
	case <-time.After(100 * time.Millisecond):
	}
}
