// The dashboard service aggregates suggestion-state counts and
// publishes them as gauge series, both to the observability provider
// and on its own /metrics endpoint.
package main

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/evalforge/evalforge/internal/bootstrap"
	"github.com/evalforge/evalforge/pkg/dashboard"
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
	aggregator := dashboard.NewAggregator(gateway.Suggestions, gateway.RawTraces,
		dashboard.NoopPublisher{}, dashboard.NewMetrics(registry), logger)

	router := httpapi.NewRouter(logger, registry)
	(&httpapi.DashboardHandler{Aggregator: aggregator, Logger: logger}).Mount(router)
	(&httpapi.HealthHandler{
		Version: bootstrap.Version,
		Pinger:  gateway,
		Config:  bootstrap.RedactedConfigSummary(cfg),
	}).Mount(router)

	bootstrap.Serve(cfg.Server.Port, router, logger)
}
