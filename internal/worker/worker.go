// Package worker implements the worker loop: it polls claimTasks with a
// bounded outstanding count, dispatches claimed runs to the execution
// engine concurrently, and coordinates graceful shutdown.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/seantiz/chronos/internal/dsa"
	"github.com/seantiz/chronos/internal/engine"
	"github.com/seantiz/chronos/internal/lease"
	"github.com/seantiz/chronos/internal/model"
)

// Config controls the loop's polling and dispatch behavior.
type Config struct {
	// WorkerID identifies this worker to ClaimTasks/ExtendClaim. Defaults to
	// a generated ULID if empty.
	WorkerID string
	// Concurrency bounds the number of runs this loop executes at once.
	// Defaults to 1.
	Concurrency int
	// PollInterval is how long the loop sleeps after an empty claim.
	// Defaults to 1s.
	PollInterval time.Duration
	// ClaimTimeout is the lease duration passed to ClaimTasks/ExtendClaim.
	// Defaults to 60s.
	ClaimTimeout time.Duration
	// FatalOnLeaseTimeout, when true, stops the loop entirely if a run's
	// lease is fatally lost; otherwise the loop logs and continues.
	FatalOnLeaseTimeout bool
	// OnError, if set, is invoked for every error ExecuteTask returns.
	OnError func(err error, claimed model.ClaimedRun)
}

func (c Config) withDefaults() Config {
	if c.WorkerID == "" {
		c.WorkerID = model.NewID()
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.ClaimTimeout <= 0 {
		c.ClaimTimeout = 60 * time.Second
	}
	return c
}

// Loop polls a single queue and dispatches claimed runs to an engine.Engine,
// bounded by a semaphore of size Config.Concurrency.
type Loop struct {
	store  dsa.Store
	engine *engine.Engine
	queue  string
	cfg    Config
	logger *slog.Logger

	wg   sync.WaitGroup
	sem  chan struct{}
	stop chan struct{}
	once sync.Once
}

// New constructs a Loop for queue. Call Run to start polling.
func New(store dsa.Store, eng *engine.Engine, queue string, cfg Config, logger *slog.Logger) *Loop {
	cfg = cfg.withDefaults()
	return &Loop{
		store:  store,
		engine: eng,
		queue:  queue,
		cfg:    cfg,
		logger: logger,
		sem:    make(chan struct{}, cfg.Concurrency),
		stop:   make(chan struct{}),
	}
}

// Run polls and dispatches until ctx is cancelled or Close is called. It
// returns once every in-flight handler has been allowed to run to its next
// durable checkpoint, completion, or suspension.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.wg.Wait()
			return
		case <-l.stop:
			l.wg.Wait()
			return
		default:
		}

		inflight := len(l.sem)
		batchSize := l.cfg.Concurrency - inflight
		if batchSize <= 0 {
			l.waitTick(ctx, ticker)
			continue
		}

		claimed, err := l.store.ClaimTasks(ctx, l.queue, batchSize, l.cfg.ClaimTimeout, l.cfg.WorkerID)
		if err != nil {
			l.logger.Error("claim tasks failed", "queue", l.queue, "worker_id", l.cfg.WorkerID, "error", err)
			l.waitTick(ctx, ticker)
			continue
		}
		if len(claimed) == 0 {
			l.waitTick(ctx, ticker)
			continue
		}
		claimsTotal.WithLabelValues(l.queue).Add(float64(len(claimed)))

		for _, c := range claimed {
			l.dispatch(ctx, c)
		}
	}
}

func (l *Loop) waitTick(ctx context.Context, ticker *time.Ticker) {
	select {
	case <-ctx.Done():
	case <-l.stop:
	case <-ticker.C:
	}
}

func (l *Loop) dispatch(ctx context.Context, claimed model.ClaimedRun) {
	l.sem <- struct{}{}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer func() { <-l.sem }()

		inflightRuns.Inc()
		start := time.Now()
		err := l.engine.ExecuteTask(ctx, claimed, l.cfg.WorkerID, l.cfg.ClaimTimeout)
		observeRun(l.queue, start, err)
		inflightRuns.Dec()
		if err == nil {
			return
		}
		l.logger.Error("execute task failed", "task_id", claimed.TaskID, "run_id", claimed.RunID, "error", err)
		if l.cfg.OnError != nil {
			l.cfg.OnError(err, claimed)
		}
		if errors.Is(err, lease.ErrLost) && l.cfg.FatalOnLeaseTimeout {
			l.logger.Error("fatal lease loss, stopping worker loop", "queue", l.queue, "worker_id", l.cfg.WorkerID, "run_id", claimed.RunID)
			l.Close()
		}
	}()
}

// Close signals the loop to stop polling. Polling stops immediately; each
// in-flight handler is allowed to run to its next durable boundary.
func (l *Loop) Close() {
	l.once.Do(func() { close(l.stop) })
}

// WorkBatch is a one-shot synchronous pass: claim up to batchSize runs and
// execute each sequentially through the engine, whose lease manager extends
// each run's claim at claimTimeout/3 while it executes. It returns the
// number of claims processed.
func WorkBatch(ctx context.Context, store dsa.Store, eng *engine.Engine, queue, workerID string, claimTimeout time.Duration, batchSize int) (int, error) {
	claimed, err := store.ClaimTasks(ctx, queue, batchSize, claimTimeout, workerID)
	if err != nil {
		return 0, err
	}
	claimsTotal.WithLabelValues(queue).Add(float64(len(claimed)))
	for _, c := range claimed {
		start := time.Now()
		err := eng.ExecuteTask(ctx, c, workerID, claimTimeout)
		observeRun(queue, start, err)
	}
	return len(claimed), nil
}
