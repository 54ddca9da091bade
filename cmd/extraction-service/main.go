// The extraction service turns unprocessed failure captures into
// structured failure patterns via schema-enforced model calls.
package main

import (
	"context"

	"github.com/evalforge/evalforge/internal/bootstrap"
	"github.com/evalforge/evalforge/pkg/extraction"
	"github.com/evalforge/evalforge/pkg/httpapi"
)

func main() {
	cfg, logger := bootstrap.Load()

	client, gateway, err := bootstrap.ConnectStore(context.Background(), cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("store connection failed")
	}
	defer func() { _ = client.Disconnect(context.Background()) }()

	llmClient, err := bootstrap.NewLLMClient(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("llm client construction failed")
	}

	svc := extraction.NewService(llmClient, gateway.RawTraces, gateway.FailurePatterns,
		gateway.DiagnosticErrorsFor("extraction"), gateway.RunSummariesFor("extraction"),
		extraction.Config{
			DefaultBatchSize: cfg.Batch.DefaultBatchSize,
			PerItemTimeout:   cfg.Batch.PerItemTimeout,
		}, logger)

	router := httpapi.NewRouter(logger, nil)
	(&httpapi.ExtractionHandler{Service: svc, Logger: logger}).Mount(router)
	(&httpapi.HealthHandler{
		Version: bootstrap.Version,
		Pinger:  gateway,
		Backlog: gateway.RawTraces.CountUnprocessed,
		LastRun: func() any { return svc.Health() },
		Config:  bootstrap.RedactedConfigSummary(cfg),
	}).Mount(router)

	bootstrap.Serve(cfg.Server.Port, router, logger)
}
