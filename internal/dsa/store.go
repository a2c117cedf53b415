// Package dsa is the datastore adapter: the single boundary between the
// execution engine and the relational store that holds all task, run,
// checkpoint, and event state. It is kept interface-shaped so alternate
// backends (in-memory for tests, other SQL dialects) can substitute without
// touching the engine.
package dsa

import (
	"context"
	"errors"
	"time"

	"github.com/seantiz/chronos/internal/model"
)

// Sentinel errors returned by Store implementations.
var (
	// ErrNotFound is returned when a task, run, or checkpoint does not exist.
	ErrNotFound = errors.New("dsa: not found")
	// ErrNotOwner is returned by ExtendClaim and the terminal-run calls when
	// the calling worker no longer holds the claim on a run.
	ErrNotOwner = errors.New("dsa: worker does not own claim")
	// ErrQueueExists is returned by CreateQueue when the queue already exists.
	ErrQueueExists = errors.New("dsa: queue already exists")
	// ErrInvalidQueueName is returned when a queue name is not a safe SQL identifier.
	ErrInvalidQueueName = errors.New("dsa: invalid queue name")
)

// FailOutcome reports what FailRun did to the task/run pair: either a new
// run was enqueued for retry, or the task reached its terminal failed state.
type FailOutcome struct {
	Retried    bool
	NextRunID  string
	TaskFailed bool
}

// SuspendEventResult is returned by SuspendForEvent.
type SuspendEventResult struct {
	// Cached is true if a previously emitted, unconsumed event matched and
	// was consumed synchronously; Payload holds its data.
	Cached  bool
	Payload []byte
}

// Store is the datastore adapter surface every queue implementation must
// satisfy. Every method is safe for concurrent use; exclusivity of claims
// and checkpoint writes is enforced by the implementation's own
// transactions, not by caller-side locking.
type Store interface {
	CreateQueue(ctx context.Context, queue string) error
	DropQueue(ctx context.Context, queue string) error
	ListQueues(ctx context.Context) ([]string, error)

	SpawnTask(ctx context.Context, in SpawnTaskInput) (*model.Task, *model.Run, error)
	EmitEvent(ctx context.Context, queue, eventName string, payload []byte) error

	ClaimTasks(ctx context.Context, queue string, batchSize int, claimTimeout time.Duration, workerID string) ([]model.ClaimedRun, error)
	ExtendClaim(ctx context.Context, queue, runID, workerID string, claimTimeout time.Duration) error

	CompleteRun(ctx context.Context, queue, runID string, result []byte) error
	FailRun(ctx context.Context, queue, runID string, reason model.FailureReason, nextAvailableAt *time.Time) (FailOutcome, error)

	SuspendForEvent(ctx context.Context, queue, taskID, runID, eventName string) (SuspendEventResult, error)
	// SuspendForSleep parks the run until availableAt and, in the same
	// transaction, writes a checkpoint under marker so the replayed handler
	// can tell a satisfied sleep from one it has yet to take.
	SuspendForSleep(ctx context.Context, queue, taskID, runID string, availableAt time.Time, marker string) error

	ReadCheckpoint(ctx context.Context, queue, taskID, name string) (*model.Checkpoint, error)
	WriteCheckpoint(ctx context.Context, queue, taskID, name string, state []byte, ownerRunID string) error

	// CancelTask cancels a non-terminal task and its non-terminal runs,
	// removes its waiters, and cascades to descendants spawned with the
	// OnParentCancel policy. Cancelling an already-terminal task is a no-op.
	CancelTask(ctx context.Context, queue, taskID string) error

	GetTask(ctx context.Context, queue, taskID string) (*model.Task, error)
	GetRun(ctx context.Context, queue, runID string) (*model.Run, error)

	// Now returns the adapter's notion of the current time, the single clock
	// all durable decisions (available_at, claim_expires_at, ...) are made
	// against. SetClockOverride lets tests pin it.
	Now() time.Time
	SetClockOverride(t *time.Time)

	Close() error
}

// SpawnTaskInput groups SpawnTask's parameters; it mirrors the Task row
// fields that are caller-supplied rather than adapter-generated.
type SpawnTaskInput struct {
	Queue         string
	TaskName      string
	Params        []byte
	Headers       map[string]string
	RetryStrategy []byte
	MaxAttempts   int
	Cancellation  model.CancellationPolicy
	ParentTaskID  string
	AvailableAt   time.Time
}
