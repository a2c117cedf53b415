package model

import "time"

// Task and run status constants.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusSleeping  = "sleeping"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// validTaskTransitions maps each task status to the set of statuses it may
// transition to.
var validTaskTransitions = map[string]map[string]bool{
	StatusPending: {
		StatusRunning:   true,
		StatusCancelled: true,
	},
	StatusRunning: {
		StatusCompleted: true,
		StatusFailed:    true,
		StatusPending:   true, // retry: run failed but attempts remain
		StatusSleeping:  true,
		StatusCancelled: true,
	},
	StatusSleeping: {
		StatusRunning:   true,
		StatusCancelled: true,
	},
}

// ValidTaskTransition reports whether a task may move from one status to another.
func ValidTaskTransition(from, to string) bool {
	targets, ok := validTaskTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// CancellationPolicy controls how a task reacts to its parent's cancellation.
type CancellationPolicy struct {
	// OnParentCancel, when true, cancels this task when its parent task is
	// cancelled before this task reaches a terminal state.
	OnParentCancel bool `json:"on_parent_cancel"`
}

// Task is a logical unit of work identified by TaskID, carrying params and policy.
type Task struct {
	TaskID   string `json:"task_id"`
	Queue    string `json:"queue"`
	TaskName string `json:"task_name"`

	Params  []byte            `json:"params"`
	Headers map[string]string `json:"headers,omitempty"`

	RetryStrategy []byte `json:"retry_strategy,omitempty"`
	MaxAttempts   int    `json:"max_attempts"`

	Cancellation CancellationPolicy `json:"cancellation"`
	ParentTaskID string             `json:"parent_task_id,omitempty"`

	Status   string `json:"status"`
	Attempts int    `json:"attempts"`

	FirstStartedAt   *time.Time `json:"first_started_at,omitempty"`
	LastAttemptRun   string     `json:"last_attempt_run,omitempty"`
	CompletedPayload []byte     `json:"completed_payload,omitempty"`
	FailureReason    []byte     `json:"failure_reason,omitempty"`
	CancelledAt      *time.Time `json:"cancelled_at,omitempty"`

	EnqueueAt time.Time `json:"enqueue_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Run is one attempt at executing a task, identified by RunID.
type Run struct {
	RunID   string `json:"run_id"`
	TaskID  string `json:"task_id"`
	Attempt int    `json:"attempt"`

	Status string `json:"status"`

	ClaimedBy      string     `json:"claimed_by,omitempty"`
	ClaimExpiresAt *time.Time `json:"claim_expires_at,omitempty"`

	AvailableAt  time.Time `json:"available_at"`
	WakeEvent    string    `json:"wake_event,omitempty"`
	EventPayload []byte    `json:"event_payload,omitempty"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	FailedAt    *time.Time `json:"failed_at,omitempty"`

	Result        []byte `json:"result,omitempty"`
	FailureReason []byte `json:"failure_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// ClaimedRun is the subset of task/run state returned by ClaimTasks, enough
// for a worker to load the registered handler and construct a step context.
type ClaimedRun struct {
	TaskID   string            `json:"task_id"`
	RunID    string            `json:"run_id"`
	Attempt  int               `json:"attempt"`
	TaskName string            `json:"task_name"`
	Queue    string            `json:"queue"`
	Params   []byte            `json:"params"`
	Headers  map[string]string `json:"headers,omitempty"`
}

// Checkpoint is the persisted record of a completed step.
type Checkpoint struct {
	TaskID         string    `json:"task_id"`
	CheckpointName string    `json:"checkpoint_name"`
	State          []byte    `json:"state"`
	OwnerRunID     string    `json:"owner_run_id"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Event is an emitted, cached occurrence that a waiter may consume.
type Event struct {
	EventName string    `json:"event_name"`
	Sequence  int64     `json:"sequence"`
	Payload   []byte    `json:"payload"`
	EmittedAt time.Time `json:"emitted_at"`
}

// Waiter records that a run is parked awaiting a named event.
type Waiter struct {
	TaskID    string    `json:"task_id"`
	RunID     string    `json:"run_id"`
	EventName string    `json:"event_name"`
	CreatedAt time.Time `json:"created_at"`
}

// FailureReason is the structured shape stored in Run.FailureReason / Task.FailureReason.
type FailureReason struct {
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}
