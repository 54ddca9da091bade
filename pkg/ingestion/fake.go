package ingestion

import (
	"context"
	"sync"
)

// StaticProviderClient is the only ProviderClient implementation this
// module ships: a fixed, pre-seeded span list returned on every
// QuerySpans call. A real deployment wires a Datadog-backed
// implementation behind the same interface; none is in scope here
// since the observability provider is an external collaborator, not
// part of the pipeline itself.
type StaticProviderClient struct {
	mu        sync.Mutex
	Spans     []ProviderSpan
	RateLimit RateLimitSnapshot
}

// NewStaticProviderClient returns a StaticProviderClient seeded with
// spans.
func NewStaticProviderClient(spans []ProviderSpan) *StaticProviderClient {
	return &StaticProviderClient{Spans: spans}
}

// QuerySpans ignores window and qualityThreshold and returns the
// seeded spans verbatim.
func (c *StaticProviderClient) QuerySpans(_ context.Context, _ TimeWindow, _ float64) ([]ProviderSpan, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ProviderSpan, len(c.Spans))
	copy(out, c.Spans)
	return out, nil
}

// LastRateLimit returns the seeded rate-limit snapshot.
func (c *StaticProviderClient) LastRateLimit() RateLimitSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.RateLimit
}
