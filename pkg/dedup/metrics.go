package dedup

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the per-batch deduplication gauges: what fraction of
// the batch merged into an existing suggestion, and the average
// similarity score across those merges (created suggestions don't
// contribute a score).
type Metrics struct {
	MergeRate     prometheus.Gauge
	AvgSimilarity prometheus.Gauge
}

// NewMetrics registers the deduplication gauges against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		MergeRate: factory.NewGauge(prometheus.GaugeOpts{
			Name: "evalforge_dedup_merge_rate",
			Help: "Fraction of the last deduplication batch merged into an existing suggestion.",
		}),
		AvgSimilarity: factory.NewGauge(prometheus.GaugeOpts{
			Name: "evalforge_dedup_avg_similarity",
			Help: "Average similarity score across merges in the last deduplication batch.",
		}),
	}
}
