// Package dashboard counts suggestion states and publishes gauge
// series to the observability provider, with the same series mirrored
// as native Prometheus gauges so operators are not dependent on the
// external provider alone.
package dashboard

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"

	"github.com/evalforge/evalforge/pkg/domain"
	"github.com/evalforge/evalforge/pkg/platform/ferrors"
	"github.com/evalforge/evalforge/pkg/platform/logging"
	"github.com/evalforge/evalforge/pkg/store"
)

// suggestionCounter is the subset of *store.SuggestionRepository the
// aggregator needs.
type suggestionCounter interface {
	Count(ctx context.Context, filter store.ListFilter) (int64, error)
}

// traceCounter is the subset of *store.RawTraceRepository the
// aggregator needs for the coverage denominator.
type traceCounter interface {
	CountAll(ctx context.Context) (int64, error)
}

// MetricsPublisher pushes gauge points to the external observability
// provider. Only a no-op/fake implementation ships with this module.
type MetricsPublisher interface {
	PublishGauge(ctx context.Context, name string, value float64, tags map[string]string) error
}

// NoopPublisher discards every gauge, for deployments without a
// provider credential.
type NoopPublisher struct{}

// PublishGauge implements MetricsPublisher.
func (NoopPublisher) PublishGauge(context.Context, string, float64, map[string]string) error {
	return nil
}

// Snapshot is one aggregation pass over the suggestions collection.
type Snapshot struct {
	TakenAt             time.Time                       `json:"takenAt"`
	Pending             int64                           `json:"pending"`
	Approved            int64                           `json:"approved"`
	Rejected            int64                           `json:"rejected"`
	Total               int64                           `json:"total"`
	ByType              map[domain.SuggestionType]int64 `json:"byType"`
	BySeverity          map[domain.Severity]int64       `json:"bySeverity"`
	CoverageImprovement float64                         `json:"coverageImprovement"`
}

// Metrics mirrors the published series as native Prometheus gauges.
type Metrics struct {
	suggestions *prometheus.GaugeVec
	byType      *prometheus.GaugeVec
	bySeverity  *prometheus.GaugeVec
	coverage    prometheus.Gauge
}

// NewMetrics registers the dashboard gauges against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		suggestions: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "evalforge_suggestions",
			Help: "Suggestion counts by review status.",
		}, []string{"status"}),
		byType: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "evalforge_suggestions_by_type",
			Help: "Suggestion counts by artifact type.",
		}, []string{"type"}),
		bySeverity: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "evalforge_suggestions_by_severity",
			Help: "Suggestion counts by severity.",
		}, []string{"severity"}),
		coverage: factory.NewGauge(prometheus.GaugeOpts{
			Name: "evalforge_coverage_improvement",
			Help: "Approved eval count over total captured failures, as a percentage.",
		}),
	}
}

// Aggregator computes and publishes one dashboard snapshot per run.
type Aggregator struct {
	suggestions suggestionCounter
	traces      traceCounter
	publisher   MetricsPublisher
	metrics     *Metrics
	logger      *logrus.Logger
}

// NewAggregator wires an Aggregator. metrics may be nil when no
// Prometheus registry is available.
func NewAggregator(suggestions suggestionCounter, traces traceCounter, publisher MetricsPublisher, metrics *Metrics, logger *logrus.Logger) *Aggregator {
	if publisher == nil {
		publisher = NoopPublisher{}
	}
	return &Aggregator{suggestions: suggestions, traces: traces, publisher: publisher, metrics: metrics, logger: logger}
}

// RunOnce counts, computes coverage, and publishes every gauge
// series. Publish failures are logged and do not fail the run; the
// snapshot is still returned.
func (a *Aggregator) RunOnce(ctx context.Context) (*Snapshot, error) {
	snapshot := &Snapshot{
		TakenAt:    time.Now().UTC(),
		ByType:     map[domain.SuggestionType]int64{},
		BySeverity: map[domain.Severity]int64{},
	}

	statuses := []domain.SuggestionStatus{domain.StatusPending, domain.StatusApproved, domain.StatusRejected}
	for _, status := range statuses {
		n, err := a.suggestions.Count(ctx, store.ListFilter{Status: status})
		if err != nil {
			return nil, ferrors.FailedTo("count suggestions by status", err)
		}
		switch status {
		case domain.StatusPending:
			snapshot.Pending = n
		case domain.StatusApproved:
			snapshot.Approved = n
		case domain.StatusRejected:
			snapshot.Rejected = n
		}
		snapshot.Total += n
	}

	for _, t := range []domain.SuggestionType{domain.SuggestionEval, domain.SuggestionGuardrail, domain.SuggestionRunbook} {
		n, err := a.suggestions.Count(ctx, store.ListFilter{Type: t})
		if err != nil {
			return nil, ferrors.FailedTo("count suggestions by type", err)
		}
		snapshot.ByType[t] = n
	}

	for _, sev := range []domain.Severity{domain.SeverityLow, domain.SeverityMedium, domain.SeverityHigh, domain.SeverityCritical} {
		n, err := a.suggestions.Count(ctx, store.ListFilter{Severity: sev})
		if err != nil {
			return nil, ferrors.FailedTo("count suggestions by severity", err)
		}
		snapshot.BySeverity[sev] = n
	}

	approvedEvals, err := a.suggestions.Count(ctx, store.ListFilter{Status: domain.StatusApproved, Type: domain.SuggestionEval})
	if err != nil {
		return nil, ferrors.FailedTo("count approved evals", err)
	}
	totalFailures, err := a.traces.CountAll(ctx)
	if err != nil {
		return nil, ferrors.FailedTo("count captured failures", err)
	}
	if totalFailures > 0 {
		snapshot.CoverageImprovement = float64(approvedEvals) / float64(totalFailures) * 100.0
	}

	a.publish(ctx, snapshot)
	return snapshot, nil
}

func (a *Aggregator) publish(ctx context.Context, s *Snapshot) {
	points := []struct {
		name  string
		value float64
		tags  map[string]string
	}{
		{"evalforge.suggestions.pending", float64(s.Pending), nil},
		{"evalforge.suggestions.approved", float64(s.Approved), nil},
		{"evalforge.suggestions.rejected", float64(s.Rejected), nil},
		{"evalforge.suggestions.total", float64(s.Total), nil},
		{"evalforge.coverage.improvement", s.CoverageImprovement, nil},
	}
	for t, n := range s.ByType {
		points = append(points, struct {
			name  string
			value float64
			tags  map[string]string
		}{"evalforge.suggestions.by_type", float64(n), map[string]string{"type": string(t)}})
	}
	for sev, n := range s.BySeverity {
		points = append(points, struct {
			name  string
			value float64
			tags  map[string]string
		}{"evalforge.suggestions.by_severity", float64(n), map[string]string{"severity": string(sev)}})
	}

	for _, p := range points {
		if err := a.publisher.PublishGauge(ctx, p.name, p.value, p.tags); err != nil {
			a.logger.WithFields(logging.MetricsFields("publish", p.name, p.value).Error(err).ToLogrus()).Warn("failed to publish gauge")
		}
	}

	if a.metrics != nil {
		a.metrics.suggestions.WithLabelValues("pending").Set(float64(s.Pending))
		a.metrics.suggestions.WithLabelValues("approved").Set(float64(s.Approved))
		a.metrics.suggestions.WithLabelValues("rejected").Set(float64(s.Rejected))
		a.metrics.suggestions.WithLabelValues("total").Set(float64(s.Total))
		for t, n := range s.ByType {
			a.metrics.byType.WithLabelValues(string(t)).Set(float64(n))
		}
		for sev, n := range s.BySeverity {
			a.metrics.bySeverity.WithLabelValues(string(sev)).Set(float64(n))
		}
		a.metrics.coverage.Set(s.CoverageImprovement)
	}
}
