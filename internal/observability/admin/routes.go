package admin

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	hpprof "net/http/pprof"
	"strings"

	"crew/internal/orchestrator"
	rtsup "crew/internal/runtime/supervisor"
	"crew/internal/snapshot"
	"crew/internal/task"
	"crew/internal/worker"
)

const maxBodyBytes = 1 << 20

// Orchestrator is the part of the orchestrator the admin API needs.
type Orchestrator interface {
	Status() orchestrator.StatusReport
	SubmitBatch(ts []task.Task) (int, []error)
	Task(id string) (task.Task, bool)
	Workers() []worker.Worker
	SnapshotStats() snapshot.WriterStats
	LoopStats() []rtsup.LoopStats
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	orchestrator.StatusReport
	Snapshot snapshot.WriterStats `json:"snapshot"`
	Loops    []rtsup.LoopStats    `json:"loops,omitempty"`
}

// SubmitResponse is the body of POST /tasks.
type SubmitResponse struct {
	Accepted int      `json:"accepted"`
	IDs      []string `json:"ids"`
	Errors   []string `json:"errors,omitempty"`
}

// Handler returns the admin routes. token, when non-empty, is required as a
// bearer token or ?token= query parameter on every route.
func Handler(o Orchestrator, token string, withPprof bool) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, StatusResponse{
			StatusReport: o.Status(),
			Snapshot:     o.SnapshotStats(),
			Loops:        o.LoopStats(),
		})
	})
	mux.HandleFunc("GET /workers", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, o.Workers())
	})
	mux.HandleFunc("GET /tasks/{id}", func(w http.ResponseWriter, r *http.Request) {
		t, ok := o.Task(r.PathValue("id"))
		if !ok {
			http.Error(w, "task not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, t)
	})
	mux.HandleFunc("POST /tasks", func(w http.ResponseWriter, r *http.Request) {
		ts, err := decodeTasks(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
			return
		}
		resp := SubmitResponse{IDs: make([]string, len(ts))}
		for i := range ts {
			if strings.TrimSpace(ts[i].ID) == "" {
				ts[i].ID = task.NewID()
			}
			resp.IDs[i] = ts[i].ID
		}
		var errs []error
		resp.Accepted, errs = o.SubmitBatch(ts)
		for _, e := range errs {
			resp.Errors = append(resp.Errors, e.Error())
		}
		code := http.StatusAccepted
		if len(errs) > 0 {
			code = http.StatusMultiStatus
		}
		writeJSON(w, code, resp)
	})

	if withPprof {
		mux.HandleFunc("/debug/pprof/", hpprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", hpprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", hpprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", hpprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", hpprof.Trace)
	}
	return withAuth(token, mux)
}

// decodeTasks accepts a single task, a list, or {"tasks": [...]}.
func decodeTasks(r io.Reader) ([]task.Task, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return nil, errors.New("empty body")
	}
	switch trimmed[0] {
	case '[':
		var ts []task.Task
		err := json.Unmarshal(raw, &ts)
		return ts, err
	case '{':
		var probe struct {
			Tasks *[]task.Task `json:"tasks"`
		}
		if err := json.Unmarshal(raw, &probe); err != nil {
			return nil, err
		}
		if probe.Tasks != nil {
			return *probe.Tasks, nil
		}
		var t task.Task
		err := json.Unmarshal(raw, &t)
		return []task.Task{t}, err
	default:
		return nil, errors.New("expected a JSON object or array")
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func withAuth(token string, h http.Handler) http.Handler {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return h
	}
	want := []byte(tok)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.URL.Query().Get("token")
		if got == "" {
			if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, "Bearer ") {
				got = strings.TrimSpace(strings.TrimPrefix(ah, "Bearer "))
			}
		}
		if got == "" || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		h.ServeHTTP(w, r)
	})
}
