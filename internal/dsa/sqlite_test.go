package dsa_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/seantiz/chronos/internal/dsa"
	"github.com/seantiz/chronos/internal/model"
)

func newStore(t *testing.T) *dsa.SQLiteStore {
	t.Helper()
	s, err := dsa.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustCreateQueue(t *testing.T, s *dsa.SQLiteStore, queue string) {
	t.Helper()
	if err := s.CreateQueue(context.Background(), queue); err != nil {
		t.Fatalf("CreateQueue(%q): %v", queue, err)
	}
}

func TestCreateQueueListDrop(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	mustCreateQueue(t, s, "billing")

	if err := s.CreateQueue(ctx, "billing"); !errors.Is(err, dsa.ErrQueueExists) {
		t.Fatalf("second CreateQueue err = %v, want ErrQueueExists", err)
	}

	queues, err := s.ListQueues(ctx)
	if err != nil {
		t.Fatalf("ListQueues: %v", err)
	}
	if len(queues) != 1 || queues[0] != "billing" {
		t.Fatalf("ListQueues = %v, want [billing]", queues)
	}

	if err := s.DropQueue(ctx, "billing"); err != nil {
		t.Fatalf("DropQueue: %v", err)
	}
	queues, err = s.ListQueues(ctx)
	if err != nil {
		t.Fatalf("ListQueues after drop: %v", err)
	}
	if len(queues) != 0 {
		t.Fatalf("ListQueues after drop = %v, want empty", queues)
	}
}

func TestInvalidQueueNameRejected(t *testing.T) {
	s := newStore(t)
	if err := s.CreateQueue(context.Background(), "bad-name"); !errors.Is(err, dsa.ErrInvalidQueueName) {
		t.Fatalf("err = %v, want ErrInvalidQueueName", err)
	}
}

func TestSpawnTaskCreatesFirstRun(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	mustCreateQueue(t, s, "q")

	task, run, err := s.SpawnTask(ctx, dsa.SpawnTaskInput{
		Queue: "q", TaskName: "send_email", Params: []byte(`{"to":"a@b.com"}`),
		MaxAttempts: 3, AvailableAt: s.Now(),
	})
	if err != nil {
		t.Fatalf("SpawnTask: %v", err)
	}
	if task.Status != model.StatusPending || run.Attempt != 1 || run.TaskID != task.TaskID {
		t.Fatalf("task=%+v run=%+v", task, run)
	}

	got, err := s.GetTask(ctx, "q", task.TaskID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.TaskName != "send_email" || got.MaxAttempts != 3 {
		t.Fatalf("GetTask = %+v", got)
	}
}

func TestGetTaskNotFound(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	mustCreateQueue(t, s, "q")

	_, err := s.GetTask(ctx, "q", "missing")
	if !errors.Is(err, dsa.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestClaimTasksRespectsAvailableAt(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	mustCreateQueue(t, s, "q")

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.SetClockOverride(&now)

	future := now.Add(time.Hour)
	_, _, err := s.SpawnTask(ctx, dsa.SpawnTaskInput{Queue: "q", TaskName: "later", MaxAttempts: 1, AvailableAt: future})
	if err != nil {
		t.Fatalf("SpawnTask later: %v", err)
	}
	_, _, err = s.SpawnTask(ctx, dsa.SpawnTaskInput{Queue: "q", TaskName: "now", MaxAttempts: 1, AvailableAt: now})
	if err != nil {
		t.Fatalf("SpawnTask now: %v", err)
	}

	// The lease outlives the clock advance below, so the claimed 'now' run is
	// not eligible for failover when 'later' becomes available.
	claimed, err := s.ClaimTasks(ctx, "q", 10, 3*time.Hour, "worker1")
	if err != nil {
		t.Fatalf("ClaimTasks: %v", err)
	}
	if len(claimed) != 1 || claimed[0].TaskName != "now" {
		t.Fatalf("claimed = %+v, want exactly the 'now' task", claimed)
	}

	later := now.Add(2 * time.Hour)
	s.SetClockOverride(&later)
	claimed, err = s.ClaimTasks(ctx, "q", 10, time.Minute, "worker1")
	if err != nil {
		t.Fatalf("ClaimTasks after advancing clock: %v", err)
	}
	if len(claimed) != 1 || claimed[0].TaskName != "later" {
		t.Fatalf("claimed = %+v, want exactly the 'later' task", claimed)
	}
}

func TestClaimTasksZeroBatchSize(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	mustCreateQueue(t, s, "q")

	if _, _, err := s.SpawnTask(ctx, dsa.SpawnTaskInput{Queue: "q", TaskName: "one", MaxAttempts: 1, AvailableAt: s.Now()}); err != nil {
		t.Fatalf("SpawnTask: %v", err)
	}
	claimed, err := s.ClaimTasks(ctx, "q", 0, time.Minute, "worker1")
	if err != nil {
		t.Fatalf("ClaimTasks: %v", err)
	}
	if len(claimed) != 0 {
		t.Fatalf("claimed = %+v, want empty for batchSize 0", claimed)
	}
}

func TestClaimTasksExcludesAlreadyClaimed(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	mustCreateQueue(t, s, "q")

	_, _, err := s.SpawnTask(ctx, dsa.SpawnTaskInput{Queue: "q", TaskName: "one", MaxAttempts: 1, AvailableAt: s.Now()})
	if err != nil {
		t.Fatalf("SpawnTask: %v", err)
	}

	first, err := s.ClaimTasks(ctx, "q", 10, time.Minute, "worker1")
	if err != nil || len(first) != 1 {
		t.Fatalf("first claim = %+v, err = %v", first, err)
	}
	second, err := s.ClaimTasks(ctx, "q", 10, time.Minute, "worker2")
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("second claim = %+v, want empty", second)
	}
}

func TestClaimTasksReclaimsExpiredLease(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	mustCreateQueue(t, s, "q")

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.SetClockOverride(&now)

	_, _, err := s.SpawnTask(ctx, dsa.SpawnTaskInput{Queue: "q", TaskName: "one", MaxAttempts: 1, AvailableAt: now})
	if err != nil {
		t.Fatalf("SpawnTask: %v", err)
	}
	first, err := s.ClaimTasks(ctx, "q", 10, time.Minute, "crashed-worker")
	if err != nil || len(first) != 1 {
		t.Fatalf("first claim = %+v, err = %v", first, err)
	}

	// Lease still live: no failover yet.
	midway := now.Add(30 * time.Second)
	s.SetClockOverride(&midway)
	second, err := s.ClaimTasks(ctx, "q", 10, time.Minute, "worker2")
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("second claim = %+v, want empty while lease is live", second)
	}

	// Lease expired: the run fails over to the next claimer.
	expired := now.Add(61 * time.Second)
	s.SetClockOverride(&expired)
	third, err := s.ClaimTasks(ctx, "q", 10, time.Minute, "worker2")
	if err != nil || len(third) != 1 {
		t.Fatalf("claim after expiry = %+v, err = %v", third, err)
	}
	if third[0].RunID != first[0].RunID {
		t.Fatalf("reclaimed run = %s, want %s", third[0].RunID, first[0].RunID)
	}

	if err := s.ExtendClaim(ctx, "q", third[0].RunID, "crashed-worker", time.Minute); !errors.Is(err, dsa.ErrNotOwner) {
		t.Fatalf("stale worker ExtendClaim err = %v, want ErrNotOwner", err)
	}
}

func TestExtendClaimNotOwner(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	mustCreateQueue(t, s, "q")

	_, _, err := s.SpawnTask(ctx, dsa.SpawnTaskInput{Queue: "q", TaskName: "one", MaxAttempts: 1, AvailableAt: s.Now()})
	if err != nil {
		t.Fatalf("SpawnTask: %v", err)
	}
	claimed, err := s.ClaimTasks(ctx, "q", 10, time.Minute, "worker1")
	if err != nil || len(claimed) != 1 {
		t.Fatalf("ClaimTasks: %+v %v", claimed, err)
	}
	runID := claimed[0].RunID

	if err := s.ExtendClaim(ctx, "q", runID, "worker1", time.Minute); err != nil {
		t.Fatalf("ExtendClaim by owner: %v", err)
	}
	if err := s.ExtendClaim(ctx, "q", runID, "worker2", time.Minute); !errors.Is(err, dsa.ErrNotOwner) {
		t.Fatalf("ExtendClaim by non-owner err = %v, want ErrNotOwner", err)
	}
}

func TestCompleteRunMarksTaskCompleted(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	mustCreateQueue(t, s, "q")

	task, _, err := s.SpawnTask(ctx, dsa.SpawnTaskInput{Queue: "q", TaskName: "one", MaxAttempts: 1, AvailableAt: s.Now()})
	if err != nil {
		t.Fatalf("SpawnTask: %v", err)
	}
	claimed, err := s.ClaimTasks(ctx, "q", 10, time.Minute, "worker1")
	if err != nil || len(claimed) != 1 {
		t.Fatalf("ClaimTasks: %+v %v", claimed, err)
	}

	if err := s.CompleteRun(ctx, "q", claimed[0].RunID, []byte(`"ok"`)); err != nil {
		t.Fatalf("CompleteRun: %v", err)
	}

	got, err := s.GetTask(ctx, "q", task.TaskID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Status != model.StatusCompleted || string(got.CompletedPayload) != `"ok"` {
		t.Fatalf("task = %+v", got)
	}
}

func TestFailRunRetriesThenTerminates(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	mustCreateQueue(t, s, "q")

	task, _, err := s.SpawnTask(ctx, dsa.SpawnTaskInput{Queue: "q", TaskName: "flaky", MaxAttempts: 2, AvailableAt: s.Now()})
	if err != nil {
		t.Fatalf("SpawnTask: %v", err)
	}

	claimed, err := s.ClaimTasks(ctx, "q", 10, time.Minute, "worker1")
	if err != nil || len(claimed) != 1 {
		t.Fatalf("ClaimTasks: %+v %v", claimed, err)
	}
	retryAt := s.Now().Add(time.Second)
	outcome, err := s.FailRun(ctx, "q", claimed[0].RunID, model.FailureReason{Message: "boom"}, &retryAt)
	if err != nil {
		t.Fatalf("FailRun (retry): %v", err)
	}
	if !outcome.Retried || outcome.NextRunID == "" {
		t.Fatalf("outcome = %+v, want Retried with NextRunID", outcome)
	}

	future := retryAt.Add(time.Millisecond)
	s.SetClockOverride(&future)
	claimed, err = s.ClaimTasks(ctx, "q", 10, time.Minute, "worker1")
	if err != nil || len(claimed) != 1 || claimed[0].Attempt != 2 {
		t.Fatalf("retry claim = %+v, err = %v", claimed, err)
	}

	outcome, err = s.FailRun(ctx, "q", claimed[0].RunID, model.FailureReason{Message: "boom again"}, nil)
	if err != nil {
		t.Fatalf("FailRun (terminal): %v", err)
	}
	if !outcome.TaskFailed {
		t.Fatalf("outcome = %+v, want TaskFailed", outcome)
	}

	got, err := s.GetTask(ctx, "q", task.TaskID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Status != model.StatusFailed {
		t.Fatalf("task.Status = %q, want failed", got.Status)
	}
}

func TestCancelTaskCancelsTaskAndRuns(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	mustCreateQueue(t, s, "q")

	task, run, err := s.SpawnTask(ctx, dsa.SpawnTaskInput{Queue: "q", TaskName: "one", MaxAttempts: 3, AvailableAt: s.Now()})
	if err != nil {
		t.Fatalf("SpawnTask: %v", err)
	}

	if err := s.CancelTask(ctx, "q", task.TaskID); err != nil {
		t.Fatalf("CancelTask: %v", err)
	}

	got, err := s.GetTask(ctx, "q", task.TaskID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Status != model.StatusCancelled || got.CancelledAt == nil {
		t.Fatalf("task = status %q, cancelled_at %v; want cancelled with timestamp", got.Status, got.CancelledAt)
	}

	gotRun, err := s.GetRun(ctx, "q", run.RunID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if gotRun.Status != model.StatusCancelled {
		t.Fatalf("run.Status = %q, want cancelled", gotRun.Status)
	}

	claimed, err := s.ClaimTasks(ctx, "q", 10, time.Minute, "worker1")
	if err != nil {
		t.Fatalf("ClaimTasks: %v", err)
	}
	if len(claimed) != 0 {
		t.Fatalf("claimed = %+v, want empty after cancellation", claimed)
	}

	// Cancelling again is a no-op, not an error.
	if err := s.CancelTask(ctx, "q", task.TaskID); err != nil {
		t.Fatalf("second CancelTask: %v", err)
	}
}

func TestCancelTaskNotFound(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	mustCreateQueue(t, s, "q")

	if err := s.CancelTask(ctx, "q", "missing"); !errors.Is(err, dsa.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestCancelTaskCascadesPerChildPolicy(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	mustCreateQueue(t, s, "q")

	parent, _, err := s.SpawnTask(ctx, dsa.SpawnTaskInput{Queue: "q", TaskName: "parent", MaxAttempts: 1, AvailableAt: s.Now()})
	if err != nil {
		t.Fatalf("SpawnTask parent: %v", err)
	}
	linked, _, err := s.SpawnTask(ctx, dsa.SpawnTaskInput{
		Queue: "q", TaskName: "linked-child", MaxAttempts: 1, AvailableAt: s.Now(),
		ParentTaskID: parent.TaskID, Cancellation: model.CancellationPolicy{OnParentCancel: true},
	})
	if err != nil {
		t.Fatalf("SpawnTask linked child: %v", err)
	}
	detached, _, err := s.SpawnTask(ctx, dsa.SpawnTaskInput{
		Queue: "q", TaskName: "detached-child", MaxAttempts: 1, AvailableAt: s.Now(),
		ParentTaskID: parent.TaskID,
	})
	if err != nil {
		t.Fatalf("SpawnTask detached child: %v", err)
	}

	if err := s.CancelTask(ctx, "q", parent.TaskID); err != nil {
		t.Fatalf("CancelTask: %v", err)
	}

	gotLinked, err := s.GetTask(ctx, "q", linked.TaskID)
	if err != nil {
		t.Fatalf("GetTask linked: %v", err)
	}
	if gotLinked.Status != model.StatusCancelled {
		t.Errorf("linked child status = %q, want cancelled (OnParentCancel)", gotLinked.Status)
	}

	gotDetached, err := s.GetTask(ctx, "q", detached.TaskID)
	if err != nil {
		t.Fatalf("GetTask detached: %v", err)
	}
	if gotDetached.Status != model.StatusPending {
		t.Errorf("detached child status = %q, want pending (no OnParentCancel)", gotDetached.Status)
	}
}

func TestCancelTaskRemovesWaiter(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	mustCreateQueue(t, s, "q")

	task, run, err := s.SpawnTask(ctx, dsa.SpawnTaskInput{Queue: "q", TaskName: "one", MaxAttempts: 1, AvailableAt: s.Now()})
	if err != nil {
		t.Fatalf("SpawnTask: %v", err)
	}
	if _, err := s.SuspendForEvent(ctx, "q", task.TaskID, run.RunID, "go"); err != nil {
		t.Fatalf("SuspendForEvent: %v", err)
	}

	if err := s.CancelTask(ctx, "q", task.TaskID); err != nil {
		t.Fatalf("CancelTask: %v", err)
	}

	// With the waiter gone, the emission caches instead of waking the run.
	if err := s.EmitEvent(ctx, "q", "go", []byte(`1`)); err != nil {
		t.Fatalf("EmitEvent: %v", err)
	}
	gotRun, err := s.GetRun(ctx, "q", run.RunID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if gotRun.Status != model.StatusCancelled {
		t.Fatalf("run.Status = %q, want cancelled after emit", gotRun.Status)
	}
}

func TestTerminalWritesOnCancelledRunReturnNotOwner(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	mustCreateQueue(t, s, "q")

	task, _, err := s.SpawnTask(ctx, dsa.SpawnTaskInput{Queue: "q", TaskName: "one", MaxAttempts: 2, AvailableAt: s.Now()})
	if err != nil {
		t.Fatalf("SpawnTask: %v", err)
	}
	claimed, err := s.ClaimTasks(ctx, "q", 1, time.Minute, "worker1")
	if err != nil || len(claimed) != 1 {
		t.Fatalf("ClaimTasks: %+v %v", claimed, err)
	}

	// Cancel mid-execution; the worker's terminal writes must not land.
	if err := s.CancelTask(ctx, "q", task.TaskID); err != nil {
		t.Fatalf("CancelTask: %v", err)
	}

	if err := s.CompleteRun(ctx, "q", claimed[0].RunID, []byte(`"late"`)); !errors.Is(err, dsa.ErrNotOwner) {
		t.Fatalf("CompleteRun err = %v, want ErrNotOwner", err)
	}
	if _, err := s.FailRun(ctx, "q", claimed[0].RunID, model.FailureReason{Message: "late"}, nil); !errors.Is(err, dsa.ErrNotOwner) {
		t.Fatalf("FailRun err = %v, want ErrNotOwner", err)
	}

	got, err := s.GetTask(ctx, "q", task.TaskID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Status != model.StatusCancelled {
		t.Fatalf("task.Status = %q, want cancelled preserved", got.Status)
	}
}

func TestCheckpointWriteOnceReadThrough(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	mustCreateQueue(t, s, "q")

	task, run, err := s.SpawnTask(ctx, dsa.SpawnTaskInput{Queue: "q", TaskName: "one", MaxAttempts: 1, AvailableAt: s.Now()})
	if err != nil {
		t.Fatalf("SpawnTask: %v", err)
	}

	if _, err := s.ReadCheckpoint(ctx, "q", task.TaskID, "step1"); !errors.Is(err, dsa.ErrNotFound) {
		t.Fatalf("ReadCheckpoint before write err = %v, want ErrNotFound", err)
	}

	if err := s.WriteCheckpoint(ctx, "q", task.TaskID, "step1", []byte(`1`), run.RunID); err != nil {
		t.Fatalf("WriteCheckpoint: %v", err)
	}
	cp, err := s.ReadCheckpoint(ctx, "q", task.TaskID, "step1")
	if err != nil {
		t.Fatalf("ReadCheckpoint after write: %v", err)
	}
	if string(cp.State) != "1" {
		t.Fatalf("cp.State = %s", cp.State)
	}

	if err := s.WriteCheckpoint(ctx, "q", task.TaskID, "step1", []byte(`2`), run.RunID); err == nil {
		t.Fatal("second WriteCheckpoint for same name succeeded, want error (write-once)")
	}
}

func TestSuspendForEventCachedBeforeAwait(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	mustCreateQueue(t, s, "q")

	task, run, err := s.SpawnTask(ctx, dsa.SpawnTaskInput{Queue: "q", TaskName: "one", MaxAttempts: 1, AvailableAt: s.Now()})
	if err != nil {
		t.Fatalf("SpawnTask: %v", err)
	}

	if err := s.EmitEvent(ctx, "q", "payment.settled", []byte(`{"ok":true}`)); err != nil {
		t.Fatalf("EmitEvent: %v", err)
	}

	res, err := s.SuspendForEvent(ctx, "q", task.TaskID, run.RunID, "payment.settled")
	if err != nil {
		t.Fatalf("SuspendForEvent: %v", err)
	}
	if !res.Cached || string(res.Payload) != `{"ok":true}` {
		t.Fatalf("res = %+v, want cached payload", res)
	}
}

func TestSuspendForEventDeliveredAfterAwait(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	mustCreateQueue(t, s, "q")

	task, run, err := s.SpawnTask(ctx, dsa.SpawnTaskInput{Queue: "q", TaskName: "one", MaxAttempts: 1, AvailableAt: s.Now()})
	if err != nil {
		t.Fatalf("SpawnTask: %v", err)
	}

	res, err := s.SuspendForEvent(ctx, "q", task.TaskID, run.RunID, "payment.settled")
	if err != nil {
		t.Fatalf("SuspendForEvent: %v", err)
	}
	if res.Cached {
		t.Fatalf("res = %+v, want not cached (no event emitted yet)", res)
	}

	parked, err := s.GetRun(ctx, "q", run.RunID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if parked.Status != model.StatusSleeping || parked.WakeEvent != "payment.settled" {
		t.Fatalf("parked run = %+v", parked)
	}

	if err := s.EmitEvent(ctx, "q", "payment.settled", []byte(`{"late":true}`)); err != nil {
		t.Fatalf("EmitEvent: %v", err)
	}

	woken, err := s.GetRun(ctx, "q", run.RunID)
	if err != nil {
		t.Fatalf("GetRun after emit: %v", err)
	}
	if woken.Status != model.StatusPending {
		t.Fatalf("woken run = %+v, want pending", woken)
	}

	res, err = s.SuspendForEvent(ctx, "q", task.TaskID, run.RunID, "payment.settled")
	if err != nil {
		t.Fatalf("SuspendForEvent on replay: %v", err)
	}
	if !res.Cached || string(res.Payload) != `{"late":true}` {
		t.Fatalf("res = %+v, want cached payload delivered onto run", res)
	}
}

func TestSuspendForSleepParksUntilAvailable(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	mustCreateQueue(t, s, "q")

	task, run, err := s.SpawnTask(ctx, dsa.SpawnTaskInput{Queue: "q", TaskName: "one", MaxAttempts: 1, AvailableAt: s.Now()})
	if err != nil {
		t.Fatalf("SpawnTask: %v", err)
	}
	wake := s.Now().Add(time.Hour)
	if err := s.SuspendForSleep(ctx, "q", task.TaskID, run.RunID, wake, "chronos.sleep"); err != nil {
		t.Fatalf("SuspendForSleep: %v", err)
	}

	if _, err := s.ReadCheckpoint(ctx, "q", task.TaskID, "chronos.sleep"); err != nil {
		t.Fatalf("sleep marker checkpoint not written: %v", err)
	}

	claimed, err := s.ClaimTasks(ctx, "q", 10, time.Minute, "worker1")
	if err != nil {
		t.Fatalf("ClaimTasks: %v", err)
	}
	if len(claimed) != 0 {
		t.Fatalf("claimed = %+v, want empty before wake time", claimed)
	}

	after := wake.Add(time.Millisecond)
	s.SetClockOverride(&after)
	claimed, err = s.ClaimTasks(ctx, "q", 10, time.Minute, "worker1")
	if err != nil || len(claimed) != 1 {
		t.Fatalf("claimed after wake = %+v, err = %v", claimed, err)
	}
}

func TestGetRunNotFound(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	mustCreateQueue(t, s, "q")

	_, err := s.GetRun(ctx, "q", "missing")
	if !errors.Is(err, dsa.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
