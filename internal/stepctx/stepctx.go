// Package stepctx implements the per-run handle passed to task handlers:
// the durable step cache, the event/sleep suspension protocol, and child
// task spawning.
package stepctx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/seantiz/chronos/internal/dsa"
	"github.com/seantiz/chronos/internal/model"
)

// SpawnOptions carries the caller-supplied portion of a spawn request,
// shared between the top-level façade spawn and SpawnChild.
type SpawnOptions struct {
	Queue         string
	MaxAttempts   int
	RunAt         *time.Time
	RunAfter      time.Duration
	RetryStrategy []byte
	Cancellation  model.CancellationPolicy
	Headers       map[string]string
}

// SpawnFunc spawns a child task on behalf of a running handler. The engine
// supplies the concrete implementation when it constructs a Context so that
// this package never needs to depend on the registry or spawn validation.
type SpawnFunc func(ctx context.Context, name string, params any, opts SpawnOptions) (*model.Task, *model.Run, error)

// TraceFunc receives step-level lifecycle notices (a step body executing,
// a checkpoint or sleep replaying from cache, a checkpoint write, a cached
// event consumption) for the engine's run trace stream. Implementations
// must not block.
type TraceFunc func(stage, step, detail string)

// Context is the durable handle a task handler uses to take replay-safe
// steps, await events, sleep, and spawn children. One Context is built per
// run attempt; its name counters do not survive across attempts, which is
// exactly why checkpoint lookups (not in-memory state) are what makes a
// retried run replay-safe.
type Context struct {
	Queue   string
	TaskID  string
	RunID   string
	Attempt int

	store  dsa.Store
	logger *slog.Logger
	spawn  SpawnFunc
	trace  TraceFunc

	nameCounts map[string]int
}

// New constructs a Context for one run attempt. spawn and trace may be nil,
// in which case SpawnChild fails and trace notices are discarded.
func New(store dsa.Store, logger *slog.Logger, spawn SpawnFunc, trace TraceFunc, queue, taskID, runID string, attempt int) *Context {
	return &Context{
		Queue:      queue,
		TaskID:     taskID,
		RunID:      runID,
		Attempt:    attempt,
		store:      store,
		logger:     logger,
		spawn:      spawn,
		trace:      trace,
		nameCounts: make(map[string]int),
	}
}

func (c *Context) traceEvent(stage, step, detail string) {
	if c.trace != nil {
		c.trace(stage, step, detail)
	}
}

// canonicalName implements the k-th-occurrence naming rule: name for k=1,
// "name#k" for k>=2. Handlers must visit steps in the same order on every
// attempt for this to remain stable.
func (c *Context) canonicalName(name string) string {
	c.nameCounts[name]++
	n := c.nameCounts[name]
	if n == 1 {
		return name
	}
	return fmt.Sprintf("%s#%d", name, n)
}

// Step runs body only if its canonical checkpoint has not been written yet;
// otherwise it decodes and returns the cached state without calling body.
// A body error is never checkpointed and is returned to the caller
// unchanged, so the step is retried verbatim on the next attempt.
//
// Step is a free function, not a method, because Go methods cannot carry
// their own type parameters.
func Step[T any](ctx context.Context, sc *Context, name string, body func() (T, error)) (T, error) {
	var zero T
	cname := sc.canonicalName(name)

	cp, err := sc.store.ReadCheckpoint(ctx, sc.Queue, sc.TaskID, cname)
	if err != nil && !errors.Is(err, dsa.ErrNotFound) {
		return zero, fmt.Errorf("stepctx: read checkpoint %q: %w", cname, err)
	}
	if cp != nil {
		var v T
		if err := json.Unmarshal(cp.State, &v); err != nil {
			return zero, fmt.Errorf("stepctx: decode checkpoint %q: %w", cname, err)
		}
		sc.traceEvent("cache_hit", cname, "replayed from checkpoint")
		return v, nil
	}

	sc.traceEvent("step", cname, "executing")
	v, err := body()
	if err != nil {
		return zero, err
	}

	state, err := json.Marshal(v)
	if err != nil {
		return zero, fmt.Errorf("stepctx: encode step %q result: %w", name, err)
	}
	if err := sc.store.WriteCheckpoint(ctx, sc.Queue, sc.TaskID, cname, state, sc.RunID); err != nil {
		return zero, fmt.Errorf("stepctx: write checkpoint %q: %w", cname, err)
	}
	sc.traceEvent("checkpoint", cname, "written")
	return v, nil
}

// AwaitEvent suspends the run until a matching event arrives, or returns
// immediately if a cached, unconsumed event already matches (or this run
// was just woken by one). A non-nil, non-Suspend error indicates an
// adapter failure; a *Suspend error indicates the run has been durably
// parked and the handler should treat it as an unrecoverable return from
// this call — the engine reads it back out via errors.As and stops the
// handler goroutine by letting it unwind naturally.
func (c *Context) AwaitEvent(ctx context.Context, name string) (json.RawMessage, error) {
	res, err := c.store.SuspendForEvent(ctx, c.Queue, c.TaskID, c.RunID, name)
	if err != nil {
		return nil, fmt.Errorf("stepctx: await event %q: %w", name, err)
	}
	if res.Cached {
		c.traceEvent("event", name, "consumed cached payload")
		return json.RawMessage(res.Payload), nil
	}
	return nil, &Suspend{Kind: KindEvent, Event: name}
}

// sleepMarker is the reserved checkpoint name sleeps are counted under.
// Like steps, the k-th sleep in a run gets a stable canonical name, which
// is what lets the replayed handler fall through sleeps it already took
// instead of re-parking forever.
const sleepMarker = "chronos.sleep"

// Sleep suspends the run until d has elapsed, measured against the
// datastore's clock. On replay after the wake time, it returns nil
// immediately.
func (c *Context) Sleep(ctx context.Context, d time.Duration) error {
	marker := c.canonicalName(sleepMarker)

	_, err := c.store.ReadCheckpoint(ctx, c.Queue, c.TaskID, marker)
	if err == nil {
		c.traceEvent("cache_hit", marker, "sleep satisfied")
		return nil
	}
	if !errors.Is(err, dsa.ErrNotFound) {
		return fmt.Errorf("stepctx: read sleep marker %q: %w", marker, err)
	}

	at := c.store.Now().Add(d)
	if err := c.store.SuspendForSleep(ctx, c.Queue, c.TaskID, c.RunID, at, marker); err != nil {
		return fmt.Errorf("stepctx: sleep: %w", err)
	}
	return &Suspend{Kind: KindSleep, Seconds: int(d.Seconds())}
}

// SpawnChild transactionally spawns a child task bound to the current task
// as parent. The call is not awaited; observing the child's outcome on
// resume is the handler's responsibility, typically via a preceding Step
// that records the child's task ID.
func (c *Context) SpawnChild(ctx context.Context, name string, params any, opts SpawnOptions) (*model.Task, *model.Run, error) {
	if c.spawn == nil {
		return nil, nil, fmt.Errorf("stepctx: spawn child %q: no spawn function configured", name)
	}
	return c.spawn(ctx, name, params, opts)
}
