package ingestion

import (
	"context"
	"time"
)

// TimeWindow bounds a provider query by wall-clock time.
type TimeWindow struct {
	From time.Time
	To   time.Time
}

// ProviderSpan is one observability span matching the failure-quality
// query, shaped after the Datadog span fields a search result
// carries.
type ProviderSpan struct {
	TraceID         string
	FailureType     string
	ServiceName     string
	Severity        string
	QualityScore    float64
	RecurrenceCount int
	Payload         map[string]any
}

// RateLimitSnapshot is the most recent rate-limit state observed on a
// provider response, surfaced through Service.Health.
type RateLimitSnapshot struct {
	Remaining int
	Limit     int
	ResetAt   time.Time
}

// ProviderClient is the external observability-platform collaborator
// ingestion queries for failing spans. Only a fake implementation
// ships with this module; a real deployment wires a Datadog-backed
// implementation behind this same interface.
type ProviderClient interface {
	QuerySpans(ctx context.Context, window TimeWindow, qualityThreshold float64) ([]ProviderSpan, error)
	LastRateLimit() RateLimitSnapshot
}
