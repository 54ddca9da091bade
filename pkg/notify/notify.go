// Package notify delivers approval-transition notifications to a
// configured Slack-compatible webhook. Delivery is strictly best
// effort: the approval transaction has already committed by the time
// a notifier runs, so nothing here may surface an error to the caller
// beyond a warning log line.
package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/slack-go/slack"

	"github.com/evalforge/evalforge/pkg/domain"
	"github.com/evalforge/evalforge/pkg/platform/httpclient"
	"github.com/evalforge/evalforge/pkg/platform/logging"
)

// defaultTimeout bounds a single webhook delivery attempt.
const defaultTimeout = 5 * time.Second

// Notifier posts suggestion transitions to a webhook URL. A Notifier
// with an empty URL is a no-op that still succeeds.
type Notifier struct {
	url     string
	client  *http.Client
	timeout time.Duration
	logger  *logrus.Logger
}

// NewNotifier builds a Notifier. timeout <= 0 falls back to 5s.
func NewNotifier(url string, timeout time.Duration, logger *logrus.Logger) *Notifier {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Notifier{
		url:     url,
		client:  httpclient.NewClient(httpclient.WebhookClientConfig()),
		timeout: timeout,
		logger:  logger,
	}
}

// NotifyTransition posts a structured notification for an approve or
// reject transition. 429 responses are treated as transient
// non-failures; every other failure is logged at warning level and
// swallowed. The caller never sees an error.
func (n *Notifier) NotifyTransition(ctx context.Context, s *domain.Suggestion, action string) {
	if n.url == "" {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	actor := ""
	if s.ApprovalMetadata != nil {
		actor = s.ApprovalMetadata.Actor
	}

	msg := &slack.WebhookMessage{
		Text: fmt.Sprintf("Suggestion %s %s", s.SuggestionID, action),
		Attachments: []slack.Attachment{{
			Color: colorFor(action),
			Fields: []slack.AttachmentField{
				{Title: "Suggestion", Value: s.SuggestionID, Short: true},
				{Title: "Action", Value: action, Short: true},
				{Title: "Type", Value: string(s.Type), Short: true},
				{Title: "Severity", Value: string(s.Severity), Short: true},
				{Title: "Actor", Value: actor, Short: true},
				{Title: "Source traces", Value: fmt.Sprintf("%d", len(s.SourceTraces)), Short: true},
			},
		}},
	}

	err := slack.PostWebhookCustomHTTPContext(ctx, n.url, n.client, msg)
	if err == nil {
		return
	}

	var statusErr slack.StatusCodeError
	if errors.As(err, &statusErr) && statusErr.Code == http.StatusTooManyRequests {
		n.logger.WithFields(logging.NewFields().Component("notify").Operation("webhook").StatusCode(statusErr.Code).ToLogrus()).
			Info("webhook rate limited, notification dropped")
		return
	}

	n.logger.WithFields(logging.NewFields().Component("notify").Operation("webhook").Error(err).ToLogrus()).
		Warn("webhook delivery failed")
}

func colorFor(action string) string {
	if action == "approved" {
		return "good"
	}
	return "danger"
}
