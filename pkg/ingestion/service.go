// Package ingestion implements the ingestion stage: querying the
// observability provider for recent failing spans, deduplicating by
// trace id, redacting PII, and upserting each as a FailureCapture.
package ingestion

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/evalforge/evalforge/pkg/domain"
	"github.com/evalforge/evalforge/pkg/platform/ferrors"
	"github.com/evalforge/evalforge/pkg/platform/logging"
	"github.com/evalforge/evalforge/pkg/redact"
)

// traceWriter is the subset of *store.RawTraceRepository ingestion
// needs; declaring it here lets tests supply an in-memory fake
// instead of a live document store.
type traceWriter interface {
	Upsert(ctx context.Context, capture *domain.FailureCapture) error
	CountUnprocessed(ctx context.Context) (int64, error)
}

// Config holds the tunables RunOptions falls back to when a request
// doesn't override them.
type Config struct {
	DefaultLookbackHours    int
	DefaultQualityThreshold float64
	PIISalt                 string
}

// RunOptions is the body of POST /ingestion/run-once.
type RunOptions struct {
	TraceLookbackHours int
	QualityThreshold   float64
}

// HealthReport is returned by GET /health.
type HealthReport struct {
	LastSyncAt    time.Time
	BacklogSize   int64
	LastRateLimit RateLimitSnapshot
	LastError     string
}

// Service is the ingestion stage.
type Service struct {
	provider ProviderClient
	traces   traceWriter
	cfg      Config
	logger   *logrus.Logger

	mu     sync.RWMutex
	health HealthReport
}

// NewService wires a Service against its provider collaborator and
// raw-trace repository.
func NewService(provider ProviderClient, traces traceWriter, cfg Config, logger *logrus.Logger) *Service {
	return &Service{provider: provider, traces: traces, cfg: cfg, logger: logger}
}

// RunOnce queries the provider once, deduplicates and redacts the
// results, upserts each capture, and returns the run summary.
func (s *Service) RunOnce(ctx context.Context, opts RunOptions) (*domain.RunSummary, error) {
	lookback := opts.TraceLookbackHours
	if lookback <= 0 {
		lookback = s.cfg.DefaultLookbackHours
	}
	threshold := opts.QualityThreshold
	if threshold <= 0 {
		threshold = s.cfg.DefaultQualityThreshold
	}

	runID := uuid.NewString()
	startedAt := time.Now().UTC()
	window := TimeWindow{From: startedAt.Add(-time.Duration(lookback) * time.Hour), To: startedAt}

	spans, err := s.provider.QuerySpans(ctx, window, threshold)
	if err != nil {
		s.recordHealthError(startedAt, err)
		return nil, ferrors.FailedTo("query provider spans", err)
	}

	deduped := deduplicateByTraceID(spans)

	counts := domain.RunCounts{}
	items := make([]domain.PerItemOutcome, 0, len(deduped))

	for _, span := range deduped {
		if span.TraceID == "" {
			counts.Skipped++
			continue
		}

		sanitizedPayload, userHash := redact.SanitizePayload(span.Payload, s.cfg.PIISalt)
		capturedAt := time.Now().UTC()
		capture := &domain.FailureCapture{
			TraceID:             span.TraceID,
			CapturedAt:          capturedAt,
			ProviderFailureType: span.FailureType,
			Severity:            domain.Severity(span.Severity),
			ServiceName:         span.ServiceName,
			QualityScore:        span.QualityScore,
			TracePayload:        sanitizedPayload,
			UserHash:            userHash,
			RecurrenceCount:     span.RecurrenceCount,
			Processed:           false,
			Status:              domain.CaptureNew,
			StatusHistory: []domain.StatusHistoryEntry{
				{Status: domain.CaptureNew, Timestamp: capturedAt},
			},
		}

		if err := s.traces.Upsert(ctx, capture); err != nil {
			counts.Errored++
			items = append(items, domain.PerItemOutcome{ItemID: span.TraceID, Outcome: domain.OutcomeError, Detail: err.Error()})
			s.logger.WithFields(logging.NewFields().Component("ingestion").Operation("ingest").TraceID(span.TraceID).Error(err).ToLogrus()).Warn("decision")
			continue
		}

		counts.Stored++
		items = append(items, domain.PerItemOutcome{ItemID: span.TraceID, Outcome: domain.OutcomeStored})
		s.logger.WithFields(logging.NewFields().Component("ingestion").Operation("ingest").TraceID(span.TraceID).Custom("outcome", "written").ToLogrus()).Info("decision")
	}

	endedAt := time.Now().UTC()
	backlog, err := s.traces.CountUnprocessed(ctx)
	if err != nil {
		backlog = -1
	}

	s.mu.Lock()
	s.health = HealthReport{
		LastSyncAt:    endedAt,
		BacklogSize:   backlog,
		LastRateLimit: s.provider.LastRateLimit(),
	}
	s.mu.Unlock()

	return &domain.RunSummary{
		RunID:       runID,
		StartedAt:   startedAt,
		EndedAt:     endedAt,
		TriggeredBy: domain.TriggeredManual,
		BatchSize:   len(deduped),
		Counts:      counts,
		Items:       items,
		DurationMS:  endedAt.Sub(startedAt).Milliseconds(),
	}, nil
}

func (s *Service) recordHealthError(lastSync time.Time, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.health.LastSyncAt = lastSync
	s.health.LastError = cause.Error()
	s.health.LastRateLimit = s.provider.LastRateLimit()
}

// Health returns the most recent run's health snapshot.
func (s *Service) Health() HealthReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.health
}

// deduplicateByTraceID collapses spans sharing a trace id into one,
// summing recurrence_count.
func deduplicateByTraceID(spans []ProviderSpan) []ProviderSpan {
	indexOf := make(map[string]int, len(spans))
	result := make([]ProviderSpan, 0, len(spans))

	for _, span := range spans {
		if span.TraceID == "" {
			result = append(result, span)
			continue
		}
		count := span.RecurrenceCount
		if count <= 0 {
			count = 1
		}
		if idx, ok := indexOf[span.TraceID]; ok {
			result[idx].RecurrenceCount += count
			continue
		}
		span.RecurrenceCount = count
		indexOf[span.TraceID] = len(result)
		result = append(result, span)
	}
	return result
}
