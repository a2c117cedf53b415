// Package spawner implements the spawn-validation rules shared by the
// top-level Spawn operation and child spawns from within a running task: it
// resolves the effective queue and max_attempts against the registry,
// enforces UnregisteredTask/QueueMismatch, and computes the initial
// available_at from RunAt/RunAfter before delegating the actual row
// creation to the datastore adapter. It is shared by the façade's top-level
// Spawn and by stepctx.Context.SpawnChild so both go through one rulebook.
package spawner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/seantiz/chronos/internal/dsa"
	"github.com/seantiz/chronos/internal/model"
	"github.com/seantiz/chronos/internal/registry"
	"github.com/seantiz/chronos/internal/stepctx"
)

// ErrUnregisteredTask is returned when name is not registered and no
// explicit queue was supplied in opts.
var ErrUnregisteredTask = errors.New("spawner: task not registered")

// ErrQueueMismatch is returned when name is registered with a bound queue
// and opts names a different one.
var ErrQueueMismatch = errors.New("spawner: queue does not match task's bound queue")

// Spawn validates name/opts against reg, computes the effective queue,
// max_attempts, and available_at, and creates the task/run pair via store.
// parentTaskID is empty for a top-level spawn and set to the caller's task
// ID for SpawnChild.
func Spawn(ctx context.Context, store dsa.Store, reg *registry.Registry, defaultQueue, name string, params any, opts stepctx.SpawnOptions, parentTaskID string) (*model.Task, *model.Run, error) {
	def, registered := reg.Resolve(name)

	queue := opts.Queue
	if registered && def.BoundQueue != "" {
		if queue != "" && queue != def.BoundQueue {
			return nil, nil, fmt.Errorf("%w: task %q is bound to queue %q, got %q", ErrQueueMismatch, name, def.BoundQueue, queue)
		}
		queue = def.BoundQueue
	}
	if queue == "" {
		queue = defaultQueue
	}
	if queue == "" {
		if !registered {
			return nil, nil, fmt.Errorf("%w: %q", ErrUnregisteredTask, name)
		}
		return nil, nil, fmt.Errorf("spawner: no queue resolved for task %q", name)
	}
	if !registered && opts.Queue == "" {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnregisteredTask, name)
	}

	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		if registered && def.DefaultMaxAttempts > 0 {
			maxAttempts = def.DefaultMaxAttempts
		} else {
			maxAttempts = 1
		}
	}

	paramBytes, err := json.Marshal(params)
	if err != nil {
		return nil, nil, fmt.Errorf("spawner: encode params for %q: %w", name, err)
	}

	now := store.Now()
	availableAt := now
	if opts.RunAfter > 0 {
		availableAt = now.Add(opts.RunAfter)
	}
	if opts.RunAt != nil {
		// runAt takes precedence over runAfter when both are present.
		availableAt = *opts.RunAt
	}

	return store.SpawnTask(ctx, dsa.SpawnTaskInput{
		Queue:         queue,
		TaskName:      name,
		Params:        paramBytes,
		Headers:       opts.Headers,
		RetryStrategy: opts.RetryStrategy,
		MaxAttempts:   maxAttempts,
		Cancellation:  opts.Cancellation,
		ParentTaskID:  parentTaskID,
		AvailableAt:   availableAt,
	})
}
