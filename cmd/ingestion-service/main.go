// The ingestion service polls the observability provider for failing
// spans and persists them as redacted failure captures.
package main

import (
	"context"

	"github.com/evalforge/evalforge/internal/bootstrap"
	"github.com/evalforge/evalforge/pkg/httpapi"
	"github.com/evalforge/evalforge/pkg/ingestion"
)

func main() {
	cfg, logger := bootstrap.Load()

	client, gateway, err := bootstrap.ConnectStore(context.Background(), cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("store connection failed")
	}
	defer func() { _ = client.Disconnect(context.Background()) }()

	provider := ingestion.NewStaticProviderClient(nil)
	svc := ingestion.NewService(provider, gateway.RawTraces, ingestion.Config{
		DefaultLookbackHours:    cfg.Provider.TraceLookbackHrs,
		DefaultQualityThreshold: cfg.Provider.QualityThreshold,
		PIISalt:                 cfg.PII.Salt,
	}, logger)

	router := httpapi.NewRouter(logger, nil)
	(&httpapi.IngestionHandler{Service: svc, Logger: logger}).Mount(router)
	(&httpapi.HealthHandler{
		Version: bootstrap.Version,
		Pinger:  gateway,
		Backlog: gateway.RawTraces.CountUnprocessed,
		LastRun: func() any { return svc.Health() },
		Config:  bootstrap.RedactedConfigSummary(cfg),
	}).Mount(router)

	bootstrap.Serve(cfg.Server.Port, router, logger)
}
