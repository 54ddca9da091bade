// The scheduler binary fires each pipeline stage's batch run on a
// fixed interval, calling the stage services in-process.
package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/evalforge/evalforge/internal/bootstrap"
	"github.com/evalforge/evalforge/pkg/dashboard"
	"github.com/evalforge/evalforge/pkg/dedup"
	"github.com/evalforge/evalforge/pkg/domain"
	"github.com/evalforge/evalforge/pkg/extraction"
	"github.com/evalforge/evalforge/pkg/generator"
	"github.com/evalforge/evalforge/pkg/generator/eval"
	"github.com/evalforge/evalforge/pkg/generator/guardrail"
	"github.com/evalforge/evalforge/pkg/generator/runbook"
	"github.com/evalforge/evalforge/pkg/ingestion"
	"github.com/evalforge/evalforge/pkg/scheduler"
)

func main() {
	cfg, logger := bootstrap.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, gateway, err := bootstrap.ConnectStore(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("store connection failed")
	}
	defer func() { _ = client.Disconnect(context.Background()) }()

	llmClient, err := bootstrap.NewLLMClient(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("llm client construction failed")
	}
	embedder := bootstrap.NewEmbeddingClient(cfg)

	ingestionSvc := ingestion.NewService(ingestion.NewStaticProviderClient(nil), gateway.RawTraces, ingestion.Config{
		DefaultLookbackHours:    cfg.Provider.TraceLookbackHrs,
		DefaultQualityThreshold: cfg.Provider.QualityThreshold,
		PIISalt:                 cfg.PII.Salt,
	}, logger)

	extractionSvc := extraction.NewService(llmClient, gateway.RawTraces, gateway.FailurePatterns,
		gateway.DiagnosticErrorsFor("extraction"), gateway.RunSummariesFor("extraction"),
		extraction.Config{DefaultBatchSize: cfg.Batch.DefaultBatchSize, PerItemTimeout: cfg.Batch.PerItemTimeout}, logger)

	dedupSvc := dedup.NewService(embedder, gateway.FailurePatterns, gateway.Suggestions,
		gateway.RunSummariesFor("dedup"), dedup.Config{DefaultBatchSize: cfg.Batch.DefaultBatchSize}, nil, logger)

	generatorCfg := generator.Config{
		DefaultBatchSize:  cfg.Batch.DefaultBatchSize,
		PerItemTimeout:    cfg.Batch.PerItemTimeout,
		PerItemCostBudget: cfg.Batch.PerItemCostBudget,
		RunCostBudget:     cfg.Batch.RunCostBudget,
		Model:             cfg.LLM.Model,
		Temperature:       cfg.LLM.Temperature,
		MaxTokens:         cfg.LLM.MaxTokens,
	}
	engines := map[string]*generator.Engine{
		"eval":      generator.NewEngine(eval.Builder{}, llmClient, gateway.Suggestions, gateway.FailurePatterns, gateway.DiagnosticErrorsFor("eval_test"), gateway.RunSummariesFor("eval_test"), generatorCfg, logger),
		"guardrail": generator.NewEngine(guardrail.Builder{}, llmClient, gateway.Suggestions, gateway.FailurePatterns, gateway.DiagnosticErrorsFor("guardrail"), gateway.RunSummariesFor("guardrail"), generatorCfg, logger),
		"runbook":   generator.NewEngine(runbook.Builder{}, llmClient, gateway.Suggestions, gateway.FailurePatterns, gateway.DiagnosticErrorsFor("runbook"), gateway.RunSummariesFor("runbook"), generatorCfg, logger),
	}

	aggregator := dashboard.NewAggregator(gateway.Suggestions, gateway.RawTraces, dashboard.NoopPublisher{}, nil, logger)

	sched := scheduler.New(logger)
	sched.Add(scheduler.Job{Name: "ingestion", Interval: cfg.Scheduler.IngestionInterval, Run: func(ctx context.Context) error {
		_, err := ingestionSvc.RunOnce(ctx, ingestion.RunOptions{})
		return err
	}})
	sched.Add(scheduler.Job{Name: "extraction", Interval: cfg.Scheduler.ExtractionInterval, Run: func(ctx context.Context) error {
		_, err := extractionSvc.RunOnce(ctx, extraction.RunOptions{TriggeredBy: domain.TriggeredScheduled})
		return err
	}})
	sched.Add(scheduler.Job{Name: "dedup", Interval: cfg.Scheduler.DedupInterval, Run: func(ctx context.Context) error {
		_, err := dedupSvc.RunOnce(ctx, dedup.RunOptions{TriggeredBy: domain.TriggeredScheduled})
		return err
	}})
	for name, engine := range engines {
		engine := engine
		sched.Add(scheduler.Job{Name: name, Interval: cfg.Scheduler.GeneratorInterval, Run: func(ctx context.Context) error {
			_, err := engine.RunOnce(ctx, generator.RunOptions{TriggeredBy: domain.TriggeredScheduled})
			return err
		}})
	}
	sched.Add(scheduler.Job{Name: "dashboard", Interval: cfg.Scheduler.DashboardInterval, Run: func(ctx context.Context) error {
		_, err := aggregator.RunOnce(ctx)
		return err
	}})

	sched.Start(ctx)
}
