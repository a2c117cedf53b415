// Package chronos is the public entry point for the SDK: it wires the
// datastore adapter, registry, execution engine, and worker loop together
// and exposes the domain-level operations callers need — queue
// administration, spawn, event emission, and worker lifecycle.
package chronos

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/seantiz/chronos/internal/dsa"
	"github.com/seantiz/chronos/internal/engine"
	"github.com/seantiz/chronos/internal/model"
	"github.com/seantiz/chronos/internal/registry"
	"github.com/seantiz/chronos/internal/spawner"
	"github.com/seantiz/chronos/internal/stepctx"
	"github.com/seantiz/chronos/internal/worker"
)

// SpawnOptions controls a spawned task's queue, attempt policy, and
// schedule. It is the façade-level mirror of stepctx.SpawnOptions.
type SpawnOptions = stepctx.SpawnOptions

// TaskOptions configures a registered task's default behavior.
type TaskOptions struct {
	// Queue binds the task name to one queue; spawn calls that name a
	// different queue fail with ErrQueueMismatch.
	Queue string
	// DefaultMaxAttempts is used when a spawn call does not set MaxAttempts.
	DefaultMaxAttempts int
}

// Facade is the SDK's entry object: one per process (or per queue, if the
// caller chooses to run multiple), holding the registry and engine that
// back spawn/admin/worker operations.
type Facade struct {
	store        dsa.Store
	registry     *registry.Registry
	engine       *engine.Engine
	logger       *slog.Logger
	defaultQueue string
}

// New constructs a Facade over store. defaultQueue is the queue a spawn of
// a registered task lands on when neither the spawn options nor the task's
// registration name one; an unregistered task always needs an explicit
// queue. A nil logger defaults to a JSON logger discarding output.
func New(store dsa.Store, defaultQueue string, logger *slog.Logger) *Facade {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	reg := registry.New()
	return &Facade{
		store:        store,
		registry:     reg,
		engine:       engine.NewEngine(store, reg, logger, defaultQueue),
		logger:       logger,
		defaultQueue: defaultQueue,
	}
}

// CreateQueue creates the backing tables for queue.
func (f *Facade) CreateQueue(ctx context.Context, queue string) error {
	return f.store.CreateQueue(ctx, queue)
}

// DropQueue removes queue's backing tables. Tolerates a missing queue.
func (f *Facade) DropQueue(ctx context.Context, queue string) error {
	return f.store.DropQueue(ctx, queue)
}

// ListQueues returns every queue name currently backed by tables.
func (f *Facade) ListQueues(ctx context.Context) ([]string, error) {
	return f.store.ListQueues(ctx)
}

// RegisterTask registers name with a raw handler: a function taking
// undecoded params and a *stepctx.Context, returning any serializable
// value. Most callers should use the generic RegisterTask function instead,
// which handles param/result (de)serialization.
func (f *Facade) RegisterTask(name string, handler registry.Handler, opts TaskOptions) {
	f.registry.Register(registry.TaskDef{
		Name:               name,
		Handler:            handler,
		DefaultMaxAttempts: opts.DefaultMaxAttempts,
		BoundQueue:         opts.Queue,
	})
}

// Spawn creates a task and its first run. See spawner.Spawn for the
// validation rules applied against the registry.
func (f *Facade) Spawn(ctx context.Context, name string, params any, opts SpawnOptions) (*model.Task, *model.Run, error) {
	return spawner.Spawn(ctx, f.store, f.registry, f.defaultQueue, name, params, opts, "")
}

// EmitEvent delivers an event on queue: it wakes the oldest run parked on
// name, or, if no run is parked on it, caches the event for a later
// AwaitEvent.
func (f *Facade) EmitEvent(ctx context.Context, queue, name string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("chronos: encode event payload: %w", err)
	}
	return f.store.EmitEvent(ctx, queue, name, raw)
}

// CancelTask cancels the task with id along with its in-flight runs and
// waiters, and cascades to descendants spawned with OnParentCancel set.
// Cancelling an already-terminal task is a no-op.
func (f *Facade) CancelTask(ctx context.Context, queue, id string) error {
	return f.store.CancelTask(ctx, queue, id)
}

// GetTask returns the task with id, or dsa.ErrNotFound.
func (f *Facade) GetTask(ctx context.Context, queue, id string) (*model.Task, error) {
	return f.store.GetTask(ctx, queue, id)
}

// GetRun returns the run with id, or dsa.ErrNotFound.
func (f *Facade) GetRun(ctx context.Context, queue, id string) (*model.Run, error) {
	return f.store.GetRun(ctx, queue, id)
}

// ClaimTasks claims up to batchSize eligible runs on queue for workerID.
func (f *Facade) ClaimTasks(ctx context.Context, queue string, batchSize int, claimTimeout time.Duration, workerID string) ([]model.ClaimedRun, error) {
	return f.store.ClaimTasks(ctx, queue, batchSize, claimTimeout, workerID)
}

// ExecuteTask runs one claimed run to its next durable boundary.
func (f *Facade) ExecuteTask(ctx context.Context, claimed model.ClaimedRun, workerID string, claimTimeout time.Duration) error {
	return f.engine.ExecuteTask(ctx, claimed, workerID, claimTimeout)
}

// WorkBatch claims and executes up to batchSize runs synchronously, one
// after another; while each run executes, the engine's lease manager extends
// its claim at claimTimeout/3. It returns the number of claims processed.
func (f *Facade) WorkBatch(ctx context.Context, queue, workerID string, claimTimeout time.Duration, batchSize int) (int, error) {
	return worker.WorkBatch(ctx, f.store, f.engine, queue, workerID, claimTimeout, batchSize)
}

// Worker is a handle to a running worker loop, returned by StartWorker.
type Worker struct {
	loop   *worker.Loop
	cancel context.CancelFunc
	done   chan struct{}
}

// StartWorker launches a worker loop against queue in a background
// goroutine. Close stops polling and waits for in-flight runs to reach
// their next durable boundary.
func (f *Facade) StartWorker(ctx context.Context, queue string, cfg worker.Config) *Worker {
	loopCtx, cancel := context.WithCancel(ctx)
	loop := worker.New(f.store, f.engine, queue, cfg, f.logger)
	done := make(chan struct{})
	go func() {
		loop.Run(loopCtx)
		close(done)
	}()
	return &Worker{loop: loop, cancel: cancel, done: done}
}

// Close stops the worker loop and waits for it to fully drain.
func (w *Worker) Close() {
	w.loop.Close()
	w.cancel()
	<-w.done
}

// Broker returns the engine's run-lifecycle log broker for SSE subscription.
func (f *Facade) Broker() *engine.LogBroker {
	return f.engine.Broker()
}

// Store exposes the underlying datastore adapter for callers (such as
// internal/adminapi) that need direct access beyond the façade's surface.
func (f *Facade) Store() dsa.Store {
	return f.store
}

// Registry exposes the task registry for callers that need to list
// registered tasks.
func (f *Facade) Registry() *registry.Registry {
	return f.registry
}
