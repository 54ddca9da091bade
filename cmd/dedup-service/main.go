// The deduplication service clusters freshly-extracted failure
// patterns into reviewable suggestions by embedding similarity.
package main

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/evalforge/evalforge/internal/bootstrap"
	"github.com/evalforge/evalforge/pkg/dedup"
	"github.com/evalforge/evalforge/pkg/httpapi"
)

func main() {
	cfg, logger := bootstrap.Load()

	client, gateway, err := bootstrap.ConnectStore(context.Background(), cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("store connection failed")
	}
	defer func() { _ = client.Disconnect(context.Background()) }()

	registry := prometheus.NewRegistry()
	embedder := bootstrap.NewEmbeddingClient(cfg)
	svc := dedup.NewService(embedder, gateway.FailurePatterns, gateway.Suggestions,
		gateway.RunSummariesFor("dedup"),
		dedup.Config{DefaultBatchSize: cfg.Batch.DefaultBatchSize},
		dedup.NewMetrics(registry), logger)

	router := httpapi.NewRouter(logger, registry)
	(&httpapi.DedupHandler{Service: svc, Logger: logger}).Mount(router)
	(&httpapi.HealthHandler{
		Version: bootstrap.Version,
		Pinger:  gateway,
		Backlog: gateway.FailurePatterns.CountUnprocessed,
		Config:  bootstrap.RedactedConfigSummary(cfg),
	}).Mount(router)

	bootstrap.Serve(cfg.Server.Port, router, logger)
}
