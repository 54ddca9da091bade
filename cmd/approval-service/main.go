// The approval service exposes the human-review surface: listing,
// approve/reject transitions, and artifact export.
package main

import (
	"context"

	"github.com/evalforge/evalforge/internal/bootstrap"
	"github.com/evalforge/evalforge/pkg/approval"
	"github.com/evalforge/evalforge/pkg/httpapi"
	"github.com/evalforge/evalforge/pkg/notify"
)

func main() {
	cfg, logger := bootstrap.Load()

	client, gateway, err := bootstrap.ConnectStore(context.Background(), cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("store connection failed")
	}
	defer func() { _ = client.Disconnect(context.Background()) }()

	notifier := notify.NewNotifier(cfg.Notification.SlackWebhookURL, cfg.Notification.Timeout, logger)
	svc := approval.NewService(gateway.Suggestions, gateway.RawTraces, gateway.Exports, notifier, logger)

	router := httpapi.NewRouter(logger, nil)
	(&httpapi.ApprovalHandler{Service: svc, APIKey: cfg.Approval.APIKey, Logger: logger}).Mount(router)
	(&httpapi.HealthHandler{
		Version: bootstrap.Version,
		Pinger:  gateway,
		Config:  bootstrap.RedactedConfigSummary(cfg),
	}).Mount(router)

	bootstrap.Serve(cfg.Server.Port, router, logger)
}
