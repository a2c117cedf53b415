// chronosd runs the admin HTTP surface and a worker loop against one queue,
// for embedders that want a standalone process rather than linking the
// chronos package directly. chronosd itself registers no task handlers, so
// any run it claims fails as an unregistered task.
package main

import (
	"context"
	"errors"
	"log"
	"os"

	"github.com/seantiz/chronos"
	"github.com/seantiz/chronos/internal/adminapi"
	"github.com/seantiz/chronos/internal/config"
	"github.com/seantiz/chronos/internal/dsa"
	"github.com/seantiz/chronos/internal/model"
	"github.com/seantiz/chronos/internal/worker"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("chronosd: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"queue", cfg.Queue,
	)

	store, err := dsa.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer store.Close()

	facade := chronos.New(store, cfg.Queue, logger)

	if err := facade.CreateQueue(context.Background(), cfg.Queue); err != nil && !errors.Is(err, dsa.ErrQueueExists) {
		log.Fatalf("failed to create queue %q: %v", cfg.Queue, err)
	}

	wrk := facade.StartWorker(context.Background(), cfg.Queue, worker.Config{
		Concurrency:  cfg.Concurrency,
		PollInterval: cfg.PollInterval,
		ClaimTimeout: cfg.ClaimTimeout,
		OnError: func(err error, claimed model.ClaimedRun) {
			logger.Error("run failed", "task_id", claimed.TaskID, "run_id", claimed.RunID, "error", err)
		},
	})
	defer wrk.Close()

	srv := adminapi.NewServer(cfg.ListenAddr, facade, cfg.Queue, logger)
	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
