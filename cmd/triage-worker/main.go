package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/lanebird/inbox-ai-platform/cmd/mainconfig"
	appconfig "github.com/lanebird/inbox-ai-platform/internal/config"
	"github.com/lanebird/inbox-ai-platform/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	deps, err := mainconfig.Build(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("failed to wire triage worker", "error", err)
		os.Exit(1)
	}
	defer deps.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deps.Worker.Start(ctx)
	logger.Info("triage worker started", "workers", cfg.WorkerCount, "env", cfg.Env)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down triage worker...")
	cancel()

	doneCtx, doneCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer doneCancel()

	waitCh := make(chan struct{})
	go func() {
		deps.Worker.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Info("triage worker stopped")
	case <-doneCtx.Done():
		logger.Error("triage worker shutdown timed out", "error", doneCtx.Err())
	}
}
