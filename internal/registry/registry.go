// Package registry holds the in-process table of task_name -> handler that
// the execution engine consults to dispatch a claimed run, and that the
// public spawn path consults when validating a spawn request.
package registry

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/seantiz/chronos/internal/stepctx"
)

// Handler is a task handler: an async function of its JSON params and the
// per-run step context, returning an arbitrary serializable result or an
// error. Handlers must be deterministic in step order and step names —
// non-deterministic values must be captured inside a Step call.
type Handler func(ctx context.Context, params json.RawMessage, sc *stepctx.Context) (any, error)

// TaskDef is what a task_name resolves to: its handler plus default policy.
type TaskDef struct {
	Name               string
	Handler            Handler
	DefaultMaxAttempts int
	// BoundQueue, if set, is the only queue this task may be spawned onto;
	// a spawn naming a different queue explicitly fails with QueueMismatch.
	BoundQueue string
}

// Registry maps task_name to TaskDef. It is process-wide and read-mostly;
// Register overwrites are not synchronized with in-flight invocations —
// handlers already running keep the TaskDef they were dispatched with.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]TaskDef
}

// New creates an empty task registry.
func New() *Registry {
	return &Registry{tasks: make(map[string]TaskDef)}
}

// Register inserts or overwrites the definition for def.Name.
func (r *Registry) Register(def TaskDef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[def.Name] = def
}

// Resolve returns the TaskDef registered under name, if any.
func (r *Registry) Resolve(name string) (TaskDef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.tasks[name]
	return d, ok
}

// List returns all registered task definitions, sorted by name for a
// stable API response.
func (r *Registry) List() []TaskDef {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]TaskDef, 0, len(r.tasks))
	for _, d := range r.tasks {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
