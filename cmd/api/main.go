package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lanebird/inbox-ai-platform/cmd/mainconfig"
	"github.com/lanebird/inbox-ai-platform/internal/api/router"
	appconfig "github.com/lanebird/inbox-ai-platform/internal/config"
	"github.com/lanebird/inbox-ai-platform/internal/http/handlers"
	"github.com/lanebird/inbox-ai-platform/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	deps, err := mainconfig.Build(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("failed to wire API", "error", err)
		os.Exit(1)
	}
	defer deps.Close()

	var cache handlers.CacheInvalidator
	if deps.Cache != nil {
		cache = deps.Cache
	}
	triageHandler := handlers.NewAdminTriageHandler(
		deps.DeadLetters,
		deps.ClassifyQueue,
		deps.Auditor,
		deps.Conversations,
		cache,
		logger,
	)

	r := router.New(router.Config{
		AdminAuthSecret: cfg.AdminJWTSecret,
		Triage:          triageHandler,
		MetricsHandler:  promhttp.Handler(),
		Logger:          logger,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("API listening", "port", cfg.Port, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("API server failed", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down API...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("API shutdown failed", "error", err)
	}
}
