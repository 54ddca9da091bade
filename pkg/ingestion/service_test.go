package ingestion

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/evalforge/evalforge/pkg/domain"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

type fakeProvider struct {
	spans     []ProviderSpan
	err       error
	rateLimit RateLimitSnapshot
}

func (p *fakeProvider) QuerySpans(_ context.Context, _ TimeWindow, _ float64) ([]ProviderSpan, error) {
	return p.spans, p.err
}

func (p *fakeProvider) LastRateLimit() RateLimitSnapshot {
	return p.rateLimit
}

type fakeTraceWriter struct {
	captures map[string]*domain.FailureCapture
	upserts  int
}

func newFakeTraceWriter() *fakeTraceWriter {
	return &fakeTraceWriter{captures: make(map[string]*domain.FailureCapture)}
}

func (w *fakeTraceWriter) Upsert(_ context.Context, capture *domain.FailureCapture) error {
	w.upserts++
	w.captures[capture.TraceID] = capture
	return nil
}

func (w *fakeTraceWriter) CountUnprocessed(_ context.Context) (int64, error) {
	var n int64
	for _, c := range w.captures {
		if !c.Processed {
			n++
		}
	}
	return n, nil
}

func TestDeduplicateByTraceID_SumsRecurrenceCount(t *testing.T) {
	spans := []ProviderSpan{
		{TraceID: "t1", RecurrenceCount: 1},
		{TraceID: "t1", RecurrenceCount: 1},
		{TraceID: "t2", RecurrenceCount: 3},
	}

	got := deduplicateByTraceID(spans)

	if len(got) != 2 {
		t.Fatalf("expected 2 deduplicated spans, got %d", len(got))
	}
	byID := map[string]int{}
	for _, s := range got {
		byID[s.TraceID] = s.RecurrenceCount
	}
	if byID["t1"] != 2 {
		t.Errorf("t1 recurrence_count = %d, want 2", byID["t1"])
	}
	if byID["t2"] != 3 {
		t.Errorf("t2 recurrence_count = %d, want 3", byID["t2"])
	}
}

func TestDeduplicateByTraceID_MissingTraceIDKeptButNotMerged(t *testing.T) {
	spans := []ProviderSpan{{TraceID: ""}, {TraceID: ""}}
	got := deduplicateByTraceID(spans)
	if len(got) != 2 {
		t.Errorf("expected traceless spans to pass through unmerged, got %d", len(got))
	}
}

func TestService_RunOnce_StoresDedupedSpans(t *testing.T) {
	provider := &fakeProvider{
		spans: []ProviderSpan{
			{TraceID: "abc", FailureType: "hallucination", Severity: "high", Payload: map[string]any{"output": "oops"}},
			{TraceID: "abc", FailureType: "hallucination", Severity: "high"},
		},
	}
	traces := newFakeTraceWriter()
	svc := NewService(provider, traces, Config{DefaultLookbackHours: 24, DefaultQualityThreshold: 0.5, PIISalt: "salt"}, testLogger())

	summary, err := svc.RunOnce(context.Background(), RunOptions{})
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if summary.Counts.Stored != 1 {
		t.Errorf("Counts.Stored = %d, want 1", summary.Counts.Stored)
	}
	if traces.upserts != 1 {
		t.Errorf("expected exactly one upsert for the deduplicated trace, got %d", traces.upserts)
	}
	if traces.captures["abc"].RecurrenceCount != 2 {
		t.Errorf("RecurrenceCount = %d, want 2", traces.captures["abc"].RecurrenceCount)
	}
}

func TestService_RunOnce_ProviderErrorRecordsHealth(t *testing.T) {
	provider := &fakeProvider{err: errors.New("upstream unavailable")}
	traces := newFakeTraceWriter()
	svc := NewService(provider, traces, Config{DefaultLookbackHours: 24, DefaultQualityThreshold: 0.5}, testLogger())

	_, err := svc.RunOnce(context.Background(), RunOptions{})
	if err == nil {
		t.Fatal("expected an error when the provider query fails")
	}
	if svc.Health().LastError == "" {
		t.Error("expected Health().LastError to be populated")
	}
}

func TestService_RunOnce_DefaultsAppliedWhenOptionsZero(t *testing.T) {
	provider := &fakeProvider{}
	traces := newFakeTraceWriter()
	svc := NewService(provider, traces, Config{DefaultLookbackHours: 12, DefaultQualityThreshold: 0.4}, testLogger())

	before := time.Now()
	summary, err := svc.RunOnce(context.Background(), RunOptions{})
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if summary.StartedAt.Before(before.Add(-time.Second)) {
		t.Errorf("StartedAt looks stale: %v", summary.StartedAt)
	}
}
