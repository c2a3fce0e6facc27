// The triage lambda runs one bounded worker pass per invocation,
// for deployments that schedule triage from EventBridge instead of
// running the long-lived worker binary.
package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/lanebird/inbox-ai-platform/cmd/mainconfig"
	appconfig "github.com/lanebird/inbox-ai-platform/internal/config"
	"github.com/lanebird/inbox-ai-platform/internal/triage"
	"github.com/lanebird/inbox-ai-platform/pkg/logging"
)

type passReport struct {
	Finished int `json:"finished"`
}

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	deps, err := mainconfig.Build(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("failed to wire triage lambda", "error", err)
		os.Exit(1)
	}

	lambda.Start(func(ctx context.Context) (passReport, error) {
		return runPass(ctx, deps.Worker, logger)
	})
}

func runPass(ctx context.Context, worker *triage.Worker, logger *logging.Logger) (passReport, error) {
	finished, err := worker.RunPass(ctx)
	if err != nil {
		logger.Error("triage pass failed", "error", err)
		return passReport{Finished: finished}, err
	}
	logger.Info("triage pass complete", "finished", finished)
	return passReport{Finished: finished}, nil
}
