package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/seantiz/chronos/internal/dsa"
	"github.com/seantiz/chronos/internal/lease"
	"github.com/seantiz/chronos/internal/model"
	"github.com/seantiz/chronos/internal/registry"
	"github.com/seantiz/chronos/internal/retry"
	"github.com/seantiz/chronos/internal/spawner"
	"github.com/seantiz/chronos/internal/stepctx"
)

// ErrTaskNotRegistered is returned by ExecuteTask when a claimed run's task
// name has no handler registered in this process.
var ErrTaskNotRegistered = errors.New("engine: task not registered")

// Engine runs one claimed run to its next durable boundary: a completed
// result, a terminal or retryable failure, or a suspension (sleep/event).
// It resolves the handler from the registry, wires a lease.Manager to keep
// the claim alive for the duration of the call, and drives the handler
// through a stepctx.Context so checkpoints, events, and child spawns all
// flow through the datastore adapter.
type Engine struct {
	store        dsa.Store
	registry     *registry.Registry
	logger       *slog.Logger
	broker       *LogBroker
	defaultQueue string
}

// NewEngine creates a new execution engine. defaultQueue is the queue a
// child spawn of a registered task lands on when neither the spawn options
// nor the task's registration name one; an unregistered task always needs
// an explicit queue.
func NewEngine(store dsa.Store, reg *registry.Registry, logger *slog.Logger, defaultQueue string) *Engine {
	return &Engine{
		store:        store,
		registry:     reg,
		logger:       logger,
		broker:       NewLogBroker(),
		defaultQueue: defaultQueue,
	}
}

// Broker returns the engine's run-lifecycle log broker for SSE subscription.
func (e *Engine) Broker() *LogBroker {
	return e.broker
}

// ExecuteTask runs a single claimed run to completion, failure, or
// suspension. claimTimeout must match the timeout ClaimTasks used to claim
// it; the lease manager extends it at claimTimeout/3 for the duration of
// the call.
func (e *Engine) ExecuteTask(ctx context.Context, claimed model.ClaimedRun, workerID string, claimTimeout time.Duration) error {
	def, ok := e.registry.Resolve(claimed.TaskName)
	if !ok {
		reason := model.FailureReason{Message: fmt.Sprintf("task %q is not registered on this worker", claimed.TaskName)}
		e.failTerminal(ctx, claimed, reason)
		return fmt.Errorf("%w: %q", ErrTaskNotRegistered, claimed.TaskName)
	}

	lm := lease.New(e.store, claimed.Queue, claimed.RunID, workerID, claimTimeout)
	lost := lm.Start(ctx)
	defer lm.Stop()

	spawnFn := func(ctx context.Context, name string, params any, opts stepctx.SpawnOptions) (*model.Task, *model.Run, error) {
		return spawner.Spawn(ctx, e.store, e.registry, e.defaultQueue, name, params, opts, claimed.TaskID)
	}
	trace := func(stage, step, detail string) {
		e.publish(claimed, stage, step, detail)
	}
	sc := stepctx.New(e.store, e.logger, spawnFn, trace, claimed.Queue, claimed.TaskID, claimed.RunID, claimed.Attempt)

	e.publish(claimed, StageClaimed, "", fmt.Sprintf("task %q attempt %d on %s", claimed.TaskName, claimed.Attempt, workerID))
	result, handlerErr := e.invoke(ctx, def.Handler, claimed.Params, sc)

	select {
	case lerr := <-lost:
		e.logger.Warn("lease lost during task execution", "run_id", claimed.RunID, "task_id", claimed.TaskID, "error", lerr)
		return lerr
	default:
	}

	if handlerErr != nil {
		if suspend, ok := stepctx.AsSuspend(handlerErr); ok {
			e.publish(claimed, StageSuspended, "", string(suspend.Kind))
			return nil
		}
		return e.fail(ctx, claimed, handlerErr)
	}

	return e.complete(ctx, claimed, result)
}

// publish records one structured entry on the run's trace stream.
func (e *Engine) publish(claimed model.ClaimedRun, stage, step, detail string) {
	e.broker.Publish(Entry{
		RunID:  claimed.RunID,
		TaskID: claimed.TaskID,
		Stage:  stage,
		Step:   step,
		Detail: detail,
		At:     e.store.Now(),
	})
}

// invoke calls the handler, converting a panic into an ordinary handler
// error carrying the goroutine stack, so a panicking handler fails its run
// instead of taking down the worker process.
func (e *Engine) invoke(ctx context.Context, h registry.Handler, params json.RawMessage, sc *stepctx.Context) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r, stack: string(debug.Stack())}
		}
	}()
	return h(ctx, params, sc)
}

// panicError wraps a recovered handler panic with its stack trace.
type panicError struct {
	value any
	stack string
}

func (p *panicError) Error() string {
	return fmt.Sprintf("handler panic: %v", p.value)
}

// terminalWriteAttempts bounds retries of the complete/fail datastore
// writes before the error is surfaced and the run abandoned.
const terminalWriteAttempts = 3

// withRetries retries fn on transient adapter failures. NotOwner and
// NotFound are never retried: the run is gone or belongs to someone else.
func withRetries(fn func() error) error {
	var err error
	for i := 0; i < terminalWriteAttempts; i++ {
		err = fn()
		if err == nil || errors.Is(err, dsa.ErrNotOwner) || errors.Is(err, dsa.ErrNotFound) {
			return err
		}
		time.Sleep(time.Duration(i+1) * 50 * time.Millisecond)
	}
	return err
}

func (e *Engine) complete(ctx context.Context, claimed model.ClaimedRun, result any) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return e.fail(ctx, claimed, fmt.Errorf("encode result: %w", err))
	}
	if err := withRetries(func() error {
		return e.store.CompleteRun(ctx, claimed.Queue, claimed.RunID, payload)
	}); err != nil {
		return fmt.Errorf("complete run %s: %w", claimed.RunID, err)
	}
	e.publish(claimed, StageCompleted, "", "")
	e.broker.Close(claimed.RunID)
	return nil
}

// fail decides, from the task's current attempt count and retry strategy,
// whether this failure should produce a new run or terminate the task, then
// records it via FailRun. The retry decision lives here rather than in the
// datastore adapter so FailRun stays mechanical.
func (e *Engine) fail(ctx context.Context, claimed model.ClaimedRun, handlerErr error) error {
	reason := model.FailureReason{Message: handlerErr.Error()}
	var pe *panicError
	if errors.As(handlerErr, &pe) {
		reason.Stack = pe.stack
	}

	task, err := e.store.GetTask(ctx, claimed.Queue, claimed.TaskID)
	if err != nil {
		return fmt.Errorf("load task %s for failure decision: %w", claimed.TaskID, err)
	}

	var nextAvailableAt *time.Time
	if claimed.Attempt < task.MaxAttempts {
		strategy := retry.Decode(task.RetryStrategy)
		at := e.store.Now().Add(strategy.NextDelay(claimed.Attempt))
		nextAvailableAt = &at
	}

	var outcome dsa.FailOutcome
	if err := withRetries(func() error {
		var ferr error
		outcome, ferr = e.store.FailRun(ctx, claimed.Queue, claimed.RunID, reason, nextAvailableAt)
		return ferr
	}); err != nil {
		return fmt.Errorf("fail run %s: %w", claimed.RunID, err)
	}

	if outcome.Retried {
		e.publish(claimed, StageRetrying, "", fmt.Sprintf("attempt %d as run %s: %v", claimed.Attempt+1, outcome.NextRunID, handlerErr))
	} else {
		e.publish(claimed, StageFailed, "", handlerErr.Error())
	}
	e.broker.Close(claimed.RunID)
	return handlerErr
}

// failTerminal is used for failures that precede any handler invocation
// (for example, an unregistered task name) and therefore never produce a
// retry: whatever the task's retry policy says, there is no handler to retry.
func (e *Engine) failTerminal(ctx context.Context, claimed model.ClaimedRun, reason model.FailureReason) {
	if _, err := e.store.FailRun(ctx, claimed.Queue, claimed.RunID, reason, nil); err != nil {
		e.logger.Error("failed to record terminal failure", "run_id", claimed.RunID, "error", err)
	}
	e.publish(claimed, StageFailed, "", reason.Message)
	e.broker.Close(claimed.RunID)
}
