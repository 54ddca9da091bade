package dashboard

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/evalforge/evalforge/pkg/domain"
	"github.com/evalforge/evalforge/pkg/store"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

// fakeCounter answers Count queries from a fixed corpus of
// suggestions so filter composition is exercised for real.
type fakeCounter struct {
	suggestions []domain.Suggestion
}

func (f *fakeCounter) Count(_ context.Context, filter store.ListFilter) (int64, error) {
	var n int64
	for _, s := range f.suggestions {
		if filter.Status != "" && s.Status != filter.Status {
			continue
		}
		if filter.Type != "" && s.Type != filter.Type {
			continue
		}
		if filter.Severity != "" && s.Severity != filter.Severity {
			continue
		}
		n++
	}
	return n, nil
}

type fakeTraceCounter struct {
	total int64
	err   error
}

func (f *fakeTraceCounter) CountAll(context.Context) (int64, error) {
	return f.total, f.err
}

type recordingPublisher struct {
	points map[string]float64
}

func (p *recordingPublisher) PublishGauge(_ context.Context, name string, value float64, tags map[string]string) error {
	if p.points == nil {
		p.points = map[string]float64{}
	}
	key := name
	for _, v := range tags {
		key += ":" + v
	}
	p.points[key] = value
	return nil
}

func corpus() []domain.Suggestion {
	return []domain.Suggestion{
		{SuggestionID: "s1", Type: domain.SuggestionEval, Status: domain.StatusApproved, Severity: domain.SeverityHigh},
		{SuggestionID: "s2", Type: domain.SuggestionEval, Status: domain.StatusPending, Severity: domain.SeverityLow},
		{SuggestionID: "s3", Type: domain.SuggestionGuardrail, Status: domain.StatusRejected, Severity: domain.SeverityHigh},
		{SuggestionID: "s4", Type: domain.SuggestionRunbook, Status: domain.StatusApproved, Severity: domain.SeverityCritical},
	}
}

func TestAggregator_RunOnceCounts(t *testing.T) {
	agg := NewAggregator(&fakeCounter{suggestions: corpus()}, &fakeTraceCounter{total: 10}, nil, nil, testLogger())

	snapshot, err := agg.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if snapshot.Pending != 1 || snapshot.Approved != 2 || snapshot.Rejected != 1 || snapshot.Total != 4 {
		t.Errorf("counts = %d/%d/%d/%d, want 1/2/1/4", snapshot.Pending, snapshot.Approved, snapshot.Rejected, snapshot.Total)
	}
	if snapshot.ByType[domain.SuggestionEval] != 2 {
		t.Errorf("ByType[eval] = %d, want 2", snapshot.ByType[domain.SuggestionEval])
	}
	if snapshot.BySeverity[domain.SeverityHigh] != 2 {
		t.Errorf("BySeverity[high] = %d, want 2", snapshot.BySeverity[domain.SeverityHigh])
	}
}

func TestAggregator_CoverageImprovement(t *testing.T) {
	// One approved eval over ten captured failures = 10%.
	agg := NewAggregator(&fakeCounter{suggestions: corpus()}, &fakeTraceCounter{total: 10}, nil, nil, testLogger())

	snapshot, err := agg.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if math.Abs(snapshot.CoverageImprovement-10.0) > 1e-9 {
		t.Errorf("CoverageImprovement = %v, want 10.0", snapshot.CoverageImprovement)
	}
}

func TestAggregator_CoverageZeroWhenNoFailures(t *testing.T) {
	agg := NewAggregator(&fakeCounter{}, &fakeTraceCounter{total: 0}, nil, nil, testLogger())

	snapshot, err := agg.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if snapshot.CoverageImprovement != 0 {
		t.Errorf("CoverageImprovement = %v, want 0 with an empty corpus", snapshot.CoverageImprovement)
	}
}

func TestAggregator_PublishesGaugeSeries(t *testing.T) {
	publisher := &recordingPublisher{}
	agg := NewAggregator(&fakeCounter{suggestions: corpus()}, &fakeTraceCounter{total: 10}, publisher, nil, testLogger())

	if _, err := agg.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	for _, series := range []string{
		"evalforge.suggestions.pending",
		"evalforge.suggestions.approved",
		"evalforge.suggestions.rejected",
		"evalforge.suggestions.total",
		"evalforge.coverage.improvement",
		"evalforge.suggestions.by_type:eval",
		"evalforge.suggestions.by_severity:high",
	} {
		if _, ok := publisher.points[series]; !ok {
			t.Errorf("expected series %q to be published", series)
		}
	}
}

func TestAggregator_FailsWhenTraceCountUnavailable(t *testing.T) {
	agg := NewAggregator(&fakeCounter{}, &fakeTraceCounter{err: errors.New("store down")}, nil, nil, testLogger())

	if _, err := agg.RunOnce(context.Background()); err == nil {
		t.Fatal("expected an error when the trace count is unavailable")
	}
}
