// The runbook generator service drafts operational runbooks for
// pending suggestions of type runbook.
package main

import (
	"context"

	"github.com/evalforge/evalforge/internal/bootstrap"
	"github.com/evalforge/evalforge/pkg/generator"
	"github.com/evalforge/evalforge/pkg/generator/runbook"
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

	engine := generator.NewEngine(runbook.Builder{}, llmClient, gateway.Suggestions, gateway.FailurePatterns,
		gateway.DiagnosticErrorsFor("runbook"), gateway.RunSummariesFor("runbook"),
		generator.Config{
			DefaultBatchSize:  cfg.Batch.DefaultBatchSize,
			PerItemTimeout:    cfg.Batch.PerItemTimeout,
			PerItemCostBudget: cfg.Batch.PerItemCostBudget,
			RunCostBudget:     cfg.Batch.RunCostBudget,
			Model:             cfg.LLM.Model,
			Temperature:       cfg.LLM.Temperature,
			MaxTokens:         cfg.LLM.MaxTokens,
		}, logger)

	router := httpapi.NewRouter(logger, nil)
	(&httpapi.GeneratorHandler{Engine: engine, Name: "runbook", Logger: logger}).Mount(router)
	(&httpapi.HealthHandler{
		Version: bootstrap.Version,
		Pinger:  gateway,
		Config:  bootstrap.RedactedConfigSummary(cfg),
	}).Mount(router)

	bootstrap.Serve(cfg.Server.Port, router, logger)
}
