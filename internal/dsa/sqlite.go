package dsa

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/seantiz/chronos/internal/model"

	_ "modernc.org/sqlite"
)

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite. It serializes every
// transaction through a single connection (SetMaxOpenConns(1)): SQLite is
// single-writer regardless, and pinning the pool to one connection turns
// claim/extend/complete/fail/checkpoint races into ordinary sequential
// transactions instead of requiring hand-rolled row locking.
type SQLiteStore struct {
	db *sql.DB

	mu       sync.Mutex
	clockSet bool
	clock    time.Time
}

// NewSQLiteStore opens the SQLite database at dbPath (":memory:" for an
// ephemeral store) in WAL mode with a busy timeout.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Now returns the adapter's notion of the current time.
func (s *SQLiteStore) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clockSet {
		return s.clock
	}
	return time.Now().UTC()
}

// SetClockOverride pins the adapter's clock for tests. Pass nil to resume
// tracking wall-clock time.
func (s *SQLiteStore) SetClockOverride(t *time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t == nil {
		s.clockSet = false
		return
	}
	s.clockSet = true
	s.clock = *t
}

// --- Queue lifecycle -------------------------------------------------------

const queueSchema = `
CREATE TABLE %[1]s (
	task_id               TEXT PRIMARY KEY,
	task_name             TEXT NOT NULL,
	params                BLOB,
	headers               TEXT,
	retry_strategy        BLOB,
	max_attempts          INTEGER NOT NULL,
	cancel_on_parent_stop INTEGER NOT NULL DEFAULT 0,
	parent_task_id        TEXT,
	status                TEXT NOT NULL,
	attempts              INTEGER NOT NULL DEFAULT 0,
	first_started_at      DATETIME,
	last_attempt_run      TEXT,
	completed_payload     BLOB,
	failure_reason        BLOB,
	cancelled_at          DATETIME,
	enqueue_at            DATETIME NOT NULL,
	created_at            DATETIME NOT NULL,
	updated_at            DATETIME NOT NULL
);
CREATE TABLE %[2]s (
	run_id           TEXT PRIMARY KEY,
	task_id          TEXT NOT NULL,
	attempt          INTEGER NOT NULL,
	status           TEXT NOT NULL,
	claimed_by       TEXT,
	claim_expires_at DATETIME,
	available_at     DATETIME NOT NULL,
	wake_event       TEXT,
	event_payload    BLOB,
	started_at       DATETIME,
	completed_at     DATETIME,
	failed_at        DATETIME,
	result           BLOB,
	failure_reason   BLOB,
	created_at       DATETIME NOT NULL
);
CREATE INDEX %[2]s_claim_idx ON %[2]s (status, available_at);
CREATE INDEX %[2]s_task_idx ON %[2]s (task_id);
CREATE TABLE %[3]s (
	task_id         TEXT NOT NULL,
	checkpoint_name TEXT NOT NULL,
	state           BLOB,
	owner_run_id    TEXT,
	updated_at      DATETIME NOT NULL,
	PRIMARY KEY (task_id, checkpoint_name)
);
CREATE TABLE %[4]s (
	sequence    INTEGER PRIMARY KEY AUTOINCREMENT,
	event_name  TEXT NOT NULL,
	payload     BLOB,
	emitted_at  DATETIME NOT NULL,
	consumed_at DATETIME
);
CREATE INDEX %[4]s_name_idx ON %[4]s (event_name, consumed_at, sequence);
CREATE TABLE %[5]s (
	task_id    TEXT NOT NULL,
	run_id     TEXT NOT NULL,
	event_name TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	PRIMARY KEY (task_id, run_id)
);
CREATE INDEX %[5]s_name_idx ON %[5]s (event_name, created_at);
`

// CreateQueue creates the five per-queue tables. It fails with
// ErrQueueExists if the queue's tasks table already exists.
func (s *SQLiteStore) CreateQueue(ctx context.Context, queue string) error {
	if err := validateQueueName(queue); err != nil {
		return err
	}

	exists, err := s.tableExists(ctx, tasksTable(queue))
	if err != nil {
		return fmt.Errorf("check queue existence: %w", err)
	}
	if exists {
		return ErrQueueExists
	}

	ddl := fmt.Sprintf(queueSchema, tasksTable(queue), runsTable(queue), checkpointsTable(queue), eventsTable(queue), waitersTable(queue))
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create queue %q: %w", queue, err)
	}
	return nil
}

// DropQueue drops all five per-queue tables. Missing tables are tolerated.
func (s *SQLiteStore) DropQueue(ctx context.Context, queue string) error {
	if err := validateQueueName(queue); err != nil {
		return err
	}
	for _, tbl := range []string{tasksTable(queue), runsTable(queue), checkpointsTable(queue), eventsTable(queue), waitersTable(queue)} {
		if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+tbl); err != nil {
			return fmt.Errorf("drop table %s: %w", tbl, err)
		}
	}
	return nil
}

// ListQueues returns the distinct queue names with a tasks table present.
func (s *SQLiteStore) ListQueues(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type='table' AND name LIKE 't\_%' ESCAPE '\' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list queues: %w", err)
	}
	defer rows.Close()

	var queues []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan queue name: %w", err)
		}
		queues = append(queues, name[2:]) // strip "t_" prefix
	}
	return queues, rows.Err()
}

func (s *SQLiteStore) tableExists(ctx context.Context, name string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name = ?`, name).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// --- Task/run creation ------------------------------------------------------

// SpawnTask creates a task row and its first run.
func (s *SQLiteStore) SpawnTask(ctx context.Context, in SpawnTaskInput) (*model.Task, *model.Run, error) {
	if err := validateQueueName(in.Queue); err != nil {
		return nil, nil, err
	}

	now := s.Now()
	taskID := model.NewID()
	runID := model.NewID()

	headersJSON, err := json.Marshal(in.Headers)
	if err != nil {
		return nil, nil, fmt.Errorf("encode headers: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s (
		task_id, task_name, params, headers, retry_strategy, max_attempts,
		cancel_on_parent_stop, parent_task_id, status, attempts,
		last_attempt_run, enqueue_at, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, tasksTable(in.Queue)),
		taskID, in.TaskName, in.Params, string(headersJSON), in.RetryStrategy, in.MaxAttempts,
		boolToInt(in.Cancellation.OnParentCancel), nullableString(in.ParentTaskID), model.StatusPending, 1,
		runID, in.AvailableAt, now, now,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("insert task: %w", err)
	}

	_, err = tx.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s (
		run_id, task_id, attempt, status, available_at, created_at
	) VALUES (?, ?, ?, ?, ?, ?)`, runsTable(in.Queue)),
		runID, taskID, 1, model.StatusPending, in.AvailableAt, now,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("insert run: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit spawn: %w", err)
	}

	task := &model.Task{
		TaskID: taskID, Queue: in.Queue, TaskName: in.TaskName, Params: in.Params, Headers: in.Headers,
		RetryStrategy: in.RetryStrategy, MaxAttempts: in.MaxAttempts, Cancellation: in.Cancellation,
		ParentTaskID: in.ParentTaskID, Status: model.StatusPending, Attempts: 1, LastAttemptRun: runID,
		EnqueueAt: in.AvailableAt, CreatedAt: now, UpdatedAt: now,
	}
	run := &model.Run{
		RunID: runID, TaskID: taskID, Attempt: 1, Status: model.StatusPending,
		AvailableAt: in.AvailableAt, CreatedAt: now,
	}
	return task, run, nil
}

// --- Events and waiters ------------------------------------------------------

// EmitEvent wakes the oldest run parked on eventName, handing it the
// payload; if no waiter is parked, it caches the event instead.
func (s *SQLiteStore) EmitEvent(ctx context.Context, queue, eventName string, payload []byte) error {
	if err := validateQueueName(queue); err != nil {
		return err
	}
	now := s.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var taskID, runID string
	err = tx.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT task_id, run_id FROM %s WHERE event_name = ? ORDER BY created_at ASC, run_id ASC LIMIT 1`, waitersTable(queue)),
		eventName,
	).Scan(&taskID, &runID)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx, fmt.Sprintf(
			`INSERT INTO %s (event_name, payload, emitted_at) VALUES (?, ?, ?)`, eventsTable(queue)),
			eventName, payload, now,
		)
		if err != nil {
			return fmt.Errorf("cache event: %w", err)
		}
	case err != nil:
		return fmt.Errorf("find waiter: %w", err)
	default:
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE task_id = ? AND run_id = ?`, waitersTable(queue)), taskID, runID); err != nil {
			return fmt.Errorf("delete waiter: %w", err)
		}
		// wake_event stays set: the woken run replays its handler from the
		// top, and SuspendForEvent matches wake_event/event_payload to hand
		// the delivered payload back instead of re-parking.
		_, err = tx.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET status = ?, event_payload = ?,
			available_at = ?, claimed_by = NULL, claim_expires_at = NULL WHERE run_id = ?`, runsTable(queue)),
			model.StatusPending, payload, now, runID,
		)
		if err != nil {
			return fmt.Errorf("wake run: %w", err)
		}
		if err := s.touchTaskStatus(ctx, tx, queue, taskID, model.StatusPending, now); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// SuspendForEvent implements the event side of the suspension protocol: it
// first checks whether this run already carries a resolved event payload
// (it was just woken by EmitEvent and is replaying), then whether a cached
// unconsumed event matches, and only then parks a new waiter.
func (s *SQLiteStore) SuspendForEvent(ctx context.Context, queue, taskID, runID, eventName string) (SuspendEventResult, error) {
	if err := validateQueueName(queue); err != nil {
		return SuspendEventResult{}, err
	}
	now := s.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return SuspendEventResult{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var wakeEvent sql.NullString
	var eventPayload []byte
	err = tx.QueryRowContext(ctx, fmt.Sprintf(`SELECT wake_event, event_payload FROM %s WHERE run_id = ?`, runsTable(queue)), runID).
		Scan(&wakeEvent, &eventPayload)
	if errors.Is(err, sql.ErrNoRows) {
		return SuspendEventResult{}, ErrNotFound
	}
	if err != nil {
		return SuspendEventResult{}, fmt.Errorf("load run: %w", err)
	}

	if wakeEvent.Valid && wakeEvent.String == eventName && eventPayload != nil {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET wake_event = NULL, event_payload = NULL WHERE run_id = ?`, runsTable(queue)), runID); err != nil {
			return SuspendEventResult{}, fmt.Errorf("clear resolved event: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return SuspendEventResult{}, fmt.Errorf("commit: %w", err)
		}
		return SuspendEventResult{Cached: true, Payload: eventPayload}, nil
	}

	var sequence int64
	var payload []byte
	err = tx.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT sequence, payload FROM %s WHERE event_name = ? AND consumed_at IS NULL ORDER BY sequence ASC LIMIT 1`, eventsTable(queue)),
		eventName,
	).Scan(&sequence, &payload)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx, fmt.Sprintf(
			`INSERT INTO %s (task_id, run_id, event_name, created_at) VALUES (?, ?, ?, ?)`, waitersTable(queue)),
			taskID, runID, eventName, now,
		)
		if err != nil {
			return SuspendEventResult{}, fmt.Errorf("insert waiter: %w", err)
		}
		_, err = tx.ExecContext(ctx, fmt.Sprintf(
			`UPDATE %s SET status = ?, wake_event = ?, event_payload = NULL, claimed_by = NULL, claim_expires_at = NULL WHERE run_id = ?`, runsTable(queue)),
			model.StatusSleeping, eventName, runID,
		)
		if err != nil {
			return SuspendEventResult{}, fmt.Errorf("park run: %w", err)
		}
		if err := s.touchTaskStatus(ctx, tx, queue, taskID, model.StatusSleeping, now); err != nil {
			return SuspendEventResult{}, err
		}
		if err := tx.Commit(); err != nil {
			return SuspendEventResult{}, fmt.Errorf("commit: %w", err)
		}
		return SuspendEventResult{Cached: false}, nil
	case err != nil:
		return SuspendEventResult{}, fmt.Errorf("read cached event: %w", err)
	default:
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET consumed_at = ? WHERE sequence = ?`, eventsTable(queue)), now, sequence); err != nil {
			return SuspendEventResult{}, fmt.Errorf("consume cached event: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return SuspendEventResult{}, fmt.Errorf("commit: %w", err)
		}
		return SuspendEventResult{Cached: true, Payload: payload}, nil
	}
}

// SuspendForSleep parks the run until availableAt and records the sleep's
// marker checkpoint in the same transaction, so the replayed handler skips
// a sleep it has already taken.
func (s *SQLiteStore) SuspendForSleep(ctx context.Context, queue, taskID, runID string, availableAt time.Time, marker string) error {
	if err := validateQueueName(queue); err != nil {
		return err
	}
	now := s.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET status = ?, available_at = ?, wake_event = NULL,
		event_payload = NULL, claimed_by = NULL, claim_expires_at = NULL WHERE run_id = ?`, runsTable(queue)),
		model.StatusSleeping, availableAt, runID,
	)
	if err != nil {
		return fmt.Errorf("park run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if marker != "" {
		state, err := json.Marshal(availableAt.UTC())
		if err != nil {
			return fmt.Errorf("encode sleep marker: %w", err)
		}
		_, err = tx.ExecContext(ctx, fmt.Sprintf(
			`INSERT INTO %s (task_id, checkpoint_name, state, owner_run_id, updated_at) VALUES (?, ?, ?, ?, ?)`, checkpointsTable(queue)),
			taskID, marker, state, runID, now,
		)
		if err != nil {
			return fmt.Errorf("write sleep marker %q: %w", marker, err)
		}
	}
	if err := s.touchTaskStatus(ctx, tx, queue, taskID, model.StatusSleeping, now); err != nil {
		return err
	}
	return tx.Commit()
}

// --- Checkpoints -------------------------------------------------------------

// ReadCheckpoint returns the checkpoint for (taskID, name), or ErrNotFound.
func (s *SQLiteStore) ReadCheckpoint(ctx context.Context, queue, taskID, name string) (*model.Checkpoint, error) {
	if err := validateQueueName(queue); err != nil {
		return nil, err
	}
	cp := &model.Checkpoint{TaskID: taskID, CheckpointName: name}
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT state, owner_run_id, updated_at FROM %s WHERE task_id = ? AND checkpoint_name = ?`, checkpointsTable(queue)),
		taskID, name,
	).Scan(&cp.State, &cp.OwnerRunID, &cp.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	return cp, nil
}

// WriteCheckpoint writes the checkpoint for (taskID, name). Checkpoints are
// write-once: a second write for the same (taskID, name) fails on the
// primary key constraint.
func (s *SQLiteStore) WriteCheckpoint(ctx context.Context, queue, taskID, name string, state []byte, ownerRunID string) error {
	if err := validateQueueName(queue); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (task_id, checkpoint_name, state, owner_run_id, updated_at) VALUES (?, ?, ?, ?, ?)`, checkpointsTable(queue)),
		taskID, name, state, ownerRunID, s.Now(),
	)
	if err != nil {
		return fmt.Errorf("write checkpoint %q: %w", name, err)
	}
	return nil
}

// --- Claim/extend/complete/fail ----------------------------------------------

// ClaimTasks claims up to batchSize eligible runs, FIFO by available_at.
// Eligibility is a hard SQL predicate (never a Go-side post-filter), which
// is what makes spawn's runAfter/runAt honored by construction. A running
// run whose claim_expires_at has lapsed is eligible again: that is how work
// fails over from a crashed worker.
func (s *SQLiteStore) ClaimTasks(ctx context.Context, queue string, batchSize int, claimTimeout time.Duration, workerID string) ([]model.ClaimedRun, error) {
	if err := validateQueueName(queue); err != nil {
		return nil, err
	}
	if batchSize <= 0 {
		return nil, nil
	}
	now := s.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, fmt.Sprintf(
		`SELECT run_id, task_id, attempt FROM %s
		 WHERE (status = ? AND available_at <= ?)
		    OR (status = ? AND wake_event IS NULL AND available_at <= ?)
		    OR (status = ? AND claim_expires_at IS NOT NULL AND claim_expires_at <= ?)
		 ORDER BY available_at ASC, run_id ASC LIMIT ?`, runsTable(queue)),
		model.StatusPending, now, model.StatusSleeping, now, model.StatusRunning, now, batchSize,
	)
	if err != nil {
		return nil, fmt.Errorf("select eligible runs: %w", err)
	}
	type candidate struct {
		runID, taskID string
		attempt       int
	}
	var candidates []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.runID, &c.taskID, &c.attempt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	claimed := make([]model.ClaimedRun, 0, len(candidates))
	expiresAt := now.Add(claimTimeout)
	for _, c := range candidates {
		var taskName string
		var params []byte
		var headersJSON sql.NullString
		if err := tx.QueryRowContext(ctx, fmt.Sprintf(`SELECT task_name, params, headers FROM %s WHERE task_id = ?`, tasksTable(queue)), c.taskID).
			Scan(&taskName, &params, &headersJSON); err != nil {
			return nil, fmt.Errorf("load task %s: %w", c.taskID, err)
		}

		_, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET status = ?, claimed_by = ?, claim_expires_at = ?,
			started_at = COALESCE(started_at, ?) WHERE run_id = ?`, runsTable(queue)),
			model.StatusRunning, workerID, expiresAt, now, c.runID,
		)
		if err != nil {
			return nil, fmt.Errorf("claim run %s: %w", c.runID, err)
		}
		if err := s.touchTaskStatus(ctx, tx, queue, c.taskID, model.StatusRunning, now); err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET first_started_at = COALESCE(first_started_at, ?) WHERE task_id = ?`, tasksTable(queue)), now, c.taskID); err != nil {
			return nil, fmt.Errorf("touch first_started_at: %w", err)
		}

		var headers map[string]string
		if headersJSON.Valid && headersJSON.String != "" {
			_ = json.Unmarshal([]byte(headersJSON.String), &headers)
		}

		claimed = append(claimed, model.ClaimedRun{
			TaskID: c.taskID, RunID: c.runID, Attempt: c.attempt, TaskName: taskName,
			Queue: queue, Params: params, Headers: headers,
		})
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	return claimed, nil
}

// ExtendClaim extends run_id's claim_expires_at, provided workerID still
// owns it.
func (s *SQLiteStore) ExtendClaim(ctx context.Context, queue, runID, workerID string, claimTimeout time.Duration) error {
	if err := validateQueueName(queue); err != nil {
		return err
	}
	now := s.Now()
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`UPDATE %s SET claim_expires_at = ? WHERE run_id = ? AND claimed_by = ? AND status = ?`, runsTable(queue)),
		now.Add(claimTimeout), runID, workerID, model.StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("extend claim: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		exists, err := s.runExists(ctx, queue, runID)
		if err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		return ErrNotOwner
	}
	return nil
}

func (s *SQLiteStore) runExists(ctx context.Context, queue, runID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE run_id = ?`, runsTable(queue)), runID).Scan(&count)
	return count > 0, err
}

// CompleteRun marks run_id completed with result, and the owning task
// completed with the same payload.
func (s *SQLiteStore) CompleteRun(ctx context.Context, queue, runID string, result []byte) error {
	if err := validateQueueName(queue); err != nil {
		return err
	}
	now := s.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var taskID, runStatus string
	err = tx.QueryRowContext(ctx, fmt.Sprintf(`SELECT task_id, status FROM %s WHERE run_id = ?`, runsTable(queue)), runID).
		Scan(&taskID, &runStatus)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load run: %w", err)
	}
	if runStatus == model.StatusCancelled {
		// Cancelled out from under the worker; the outcome no longer belongs
		// to it.
		return ErrNotOwner
	}

	_, err = tx.ExecContext(ctx, fmt.Sprintf(
		`UPDATE %s SET status = ?, completed_at = ?, result = ? WHERE run_id = ?`, runsTable(queue)),
		model.StatusCompleted, now, result, runID,
	)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	_, err = tx.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET status = ?, completed_payload = ?, updated_at = ? WHERE task_id = ?`, tasksTable(queue)),
		model.StatusCompleted, result, now, taskID,
	)
	if err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	return tx.Commit()
}

// FailRun records the failure. If nextAvailableAt is non-nil, a new run is
// created at that time and the task returns to pending; otherwise the task
// becomes terminally failed. The caller (the engine) decides which applies
// by comparing attempts to max_attempts before calling FailRun.
func (s *SQLiteStore) FailRun(ctx context.Context, queue, runID string, reason model.FailureReason, nextAvailableAt *time.Time) (FailOutcome, error) {
	if err := validateQueueName(queue); err != nil {
		return FailOutcome{}, err
	}
	now := s.Now()
	reasonJSON, err := json.Marshal(reason)
	if err != nil {
		return FailOutcome{}, fmt.Errorf("encode failure reason: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return FailOutcome{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var taskID, runStatus string
	var attempt int
	if err := tx.QueryRowContext(ctx, fmt.Sprintf(`SELECT task_id, attempt, status FROM %s WHERE run_id = ?`, runsTable(queue)), runID).
		Scan(&taskID, &attempt, &runStatus); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return FailOutcome{}, ErrNotFound
		}
		return FailOutcome{}, fmt.Errorf("load run: %w", err)
	}
	if runStatus == model.StatusCancelled {
		return FailOutcome{}, ErrNotOwner
	}

	_, err = tx.ExecContext(ctx, fmt.Sprintf(
		`UPDATE %s SET status = ?, failed_at = ?, failure_reason = ? WHERE run_id = ?`, runsTable(queue)),
		model.StatusFailed, now, reasonJSON, runID,
	)
	if err != nil {
		return FailOutcome{}, fmt.Errorf("fail run: %w", err)
	}

	if nextAvailableAt == nil {
		_, err = tx.ExecContext(ctx, fmt.Sprintf(
			`UPDATE %s SET status = ?, failure_reason = ?, attempts = ?, updated_at = ? WHERE task_id = ?`, tasksTable(queue)),
			model.StatusFailed, reasonJSON, attempt, now, taskID,
		)
		if err != nil {
			return FailOutcome{}, fmt.Errorf("fail task: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return FailOutcome{}, fmt.Errorf("commit: %w", err)
		}
		return FailOutcome{TaskFailed: true}, nil
	}

	nextRunID := model.NewID()
	nextAttempt := attempt + 1
	_, err = tx.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (run_id, task_id, attempt, status, available_at, created_at) VALUES (?, ?, ?, ?, ?, ?)`, runsTable(queue)),
		nextRunID, taskID, nextAttempt, model.StatusPending, *nextAvailableAt, now,
	)
	if err != nil {
		return FailOutcome{}, fmt.Errorf("create retry run: %w", err)
	}
	_, err = tx.ExecContext(ctx, fmt.Sprintf(
		`UPDATE %s SET status = ?, attempts = ?, last_attempt_run = ?, updated_at = ? WHERE task_id = ?`, tasksTable(queue)),
		model.StatusPending, nextAttempt, nextRunID, now, taskID,
	)
	if err != nil {
		return FailOutcome{}, fmt.Errorf("update task for retry: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return FailOutcome{}, fmt.Errorf("commit: %w", err)
	}
	return FailOutcome{Retried: true, NextRunID: nextRunID}, nil
}

// CancelTask cancels the task and its non-terminal runs, removes any
// waiters parked for it, and cascades to descendant tasks spawned with the
// cancel-on-parent policy. A task that is already terminal is left alone.
func (s *SQLiteStore) CancelTask(ctx context.Context, queue, taskID string) error {
	if err := validateQueueName(queue); err != nil {
		return err
	}
	now := s.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := s.cancelTaskTx(ctx, tx, queue, taskID, now, false); err != nil {
		return err
	}
	return tx.Commit()
}

// cancelTaskTx cancels one task inside tx. When cascading, the task is only
// cancelled if it was spawned with OnParentCancel set, and a missing row is
// tolerated (the child may live on another queue).
func (s *SQLiteStore) cancelTaskTx(ctx context.Context, tx *sql.Tx, queue, taskID string, now time.Time, cascading bool) error {
	var status string
	var cancelOnParent int
	err := tx.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT status, cancel_on_parent_stop FROM %s WHERE task_id = ?`, tasksTable(queue)), taskID).
		Scan(&status, &cancelOnParent)
	if errors.Is(err, sql.ErrNoRows) {
		if cascading {
			return nil
		}
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load task %s: %w", taskID, err)
	}

	if status == model.StatusCompleted || status == model.StatusFailed || status == model.StatusCancelled {
		return nil
	}
	if cascading && cancelOnParent == 0 {
		return nil
	}

	_, err = tx.ExecContext(ctx, fmt.Sprintf(
		`UPDATE %s SET status = ?, cancelled_at = ?, updated_at = ? WHERE task_id = ?`, tasksTable(queue)),
		model.StatusCancelled, now, now, taskID,
	)
	if err != nil {
		return fmt.Errorf("cancel task %s: %w", taskID, err)
	}
	_, err = tx.ExecContext(ctx, fmt.Sprintf(
		`UPDATE %s SET status = ?, claimed_by = NULL, claim_expires_at = NULL
		 WHERE task_id = ? AND status IN (?, ?, ?)`, runsTable(queue)),
		model.StatusCancelled, taskID, model.StatusPending, model.StatusRunning, model.StatusSleeping,
	)
	if err != nil {
		return fmt.Errorf("cancel runs for %s: %w", taskID, err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE task_id = ?`, waitersTable(queue)), taskID); err != nil {
		return fmt.Errorf("delete waiters for %s: %w", taskID, err)
	}

	rows, err := tx.QueryContext(ctx, fmt.Sprintf(`SELECT task_id FROM %s WHERE parent_task_id = ?`, tasksTable(queue)), taskID)
	if err != nil {
		return fmt.Errorf("list children of %s: %w", taskID, err)
	}
	var children []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("scan child: %w", err)
		}
		children = append(children, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, child := range children {
		if err := s.cancelTaskTx(ctx, tx, queue, child, now, true); err != nil {
			return err
		}
	}
	return nil
}

// touchTaskStatus mirrors a run's status onto its owning task, leaving
// terminal task states (completed/failed/cancelled) to the dedicated
// complete/fail paths.
func (s *SQLiteStore) touchTaskStatus(ctx context.Context, tx *sql.Tx, queue, taskID, status string, now time.Time) error {
	_, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET status = ?, updated_at = ? WHERE task_id = ?`, tasksTable(queue)), status, now, taskID)
	if err != nil {
		return fmt.Errorf("touch task status: %w", err)
	}
	return nil
}

// --- Reads -------------------------------------------------------------------

// GetTask returns the task with taskID, or ErrNotFound.
func (s *SQLiteStore) GetTask(ctx context.Context, queue, taskID string) (*model.Task, error) {
	if err := validateQueueName(queue); err != nil {
		return nil, err
	}
	t := &model.Task{TaskID: taskID, Queue: queue}
	var headersJSON sql.NullString
	var cancelOnParent int
	var parentTaskID, lastAttemptRun sql.NullString
	var firstStartedAt, cancelledAt sql.NullTime

	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT task_name, params, headers, retry_strategy, max_attempts,
		cancel_on_parent_stop, parent_task_id, status, attempts, first_started_at, last_attempt_run,
		completed_payload, failure_reason, cancelled_at, enqueue_at, created_at, updated_at
		FROM %s WHERE task_id = ?`, tasksTable(queue)), taskID).Scan(
		&t.TaskName, &t.Params, &headersJSON, &t.RetryStrategy, &t.MaxAttempts,
		&cancelOnParent, &parentTaskID, &t.Status, &t.Attempts, &firstStartedAt, &lastAttemptRun,
		&t.CompletedPayload, &t.FailureReason, &cancelledAt, &t.EnqueueAt, &t.CreatedAt, &t.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}

	t.Cancellation = model.CancellationPolicy{OnParentCancel: cancelOnParent != 0}
	t.ParentTaskID = parentTaskID.String
	t.LastAttemptRun = lastAttemptRun.String
	if firstStartedAt.Valid {
		t.FirstStartedAt = &firstStartedAt.Time
	}
	if cancelledAt.Valid {
		t.CancelledAt = &cancelledAt.Time
	}
	if headersJSON.Valid && headersJSON.String != "" {
		_ = json.Unmarshal([]byte(headersJSON.String), &t.Headers)
	}
	return t, nil
}

// GetRun returns the run with runID, or ErrNotFound.
func (s *SQLiteStore) GetRun(ctx context.Context, queue, runID string) (*model.Run, error) {
	if err := validateQueueName(queue); err != nil {
		return nil, err
	}
	r := &model.Run{RunID: runID}
	var claimedBy, wakeEvent sql.NullString
	var claimExpiresAt, startedAt, completedAt, failedAt sql.NullTime

	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT task_id, attempt, status, claimed_by, claim_expires_at,
		available_at, wake_event, event_payload, started_at, completed_at, failed_at, result, failure_reason, created_at
		FROM %s WHERE run_id = ?`, runsTable(queue)), runID).Scan(
		&r.TaskID, &r.Attempt, &r.Status, &claimedBy, &claimExpiresAt,
		&r.AvailableAt, &wakeEvent, &r.EventPayload, &startedAt, &completedAt, &failedAt, &r.Result, &r.FailureReason, &r.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}

	r.ClaimedBy = claimedBy.String
	r.WakeEvent = wakeEvent.String
	if claimExpiresAt.Valid {
		r.ClaimExpiresAt = &claimExpiresAt.Time
	}
	if startedAt.Valid {
		r.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		r.CompletedAt = &completedAt.Time
	}
	if failedAt.Valid {
		r.FailedAt = &failedAt.Time
	}
	return r, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
