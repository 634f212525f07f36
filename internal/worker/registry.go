package worker

import (
	"fmt"
	"sort"
	"strings"
)

// Registry holds all workers, indexed by category.
//
// Registry does no locking of its own: the orchestrator mutates workers and
// tasks under one lock, and the registry lives behind that lock.
type Registry struct {
	workers    []*Worker            // ordered by ID
	byCategory map[string][]*Worker // each slice ordered by ID
}

// NewRegistry builds workers from a category table. Ids are assigned from 1
// in table order after Count expansion.
func NewRegistry(defs []Def) (*Registry, error) {
	r := &Registry{
		byCategory: map[string][]*Worker{},
	}
	names := map[string]struct{}{}
	for _, d := range Expand(defs) {
		name := strings.TrimSpace(d.Name)
		cat := strings.TrimSpace(d.Category)
		if name == "" {
			return nil, fmt.Errorf("worker %d: name is required", len(r.workers)+1)
		}
		if cat == "" {
			return nil, fmt.Errorf("worker %q: category is required", name)
		}
		if _, dup := names[name]; dup {
			return nil, fmt.Errorf("worker %q: duplicate name", name)
		}
		names[name] = struct{}{}

		w := &Worker{ID: len(r.workers) + 1, Name: name, Category: cat, Status: StatusIdle}
		r.workers = append(r.workers, w)
		r.byCategory[cat] = append(r.byCategory[cat], w)
	}
	return r, nil
}

// FindIdleWorker returns the lowest-id IDLE worker in category.
//
// It never hands out a busy worker; callers re-enqueue and try again later.
func (r *Registry) FindIdleWorker(category string) (*Worker, bool) {
	for _, w := range r.byCategory[category] {
		if w.Status == StatusIdle && w.CurrentTaskID == "" {
			return w, true
		}
	}
	return nil, false
}

// HasCategory reports whether any worker is registered for category.
func (r *Registry) HasCategory(category string) bool {
	return len(r.byCategory[category]) > 0
}

// AllCategories returns the registered categories, sorted.
func (r *Registry) AllCategories() []string {
	out := make([]string, 0, len(r.byCategory))
	for c := range r.byCategory {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Len() int { return len(r.workers) }

// Snapshot returns copies of all workers ordered by id.
func (r *Registry) Snapshot() []Worker {
	out := make([]Worker, len(r.workers))
	for i, w := range r.workers {
		out[i] = *w
	}
	return out
}
