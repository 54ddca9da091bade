package store

import (
	"context"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/evalforge/evalforge/pkg/domain"
)

// FailurePatternRepository is the typed gateway onto the
// failure-patterns collection: extraction writes to it, deduplication
// reads from it.
type FailurePatternRepository struct {
	coll   *collection[domain.FailurePattern]
	logger *logrus.Logger
}

func newFailurePatternRepository(db *mongo.Database, collName string, logger *logrus.Logger) *FailurePatternRepository {
	return &FailurePatternRepository{coll: newCollection[domain.FailurePattern](db, collName), logger: logger}
}

// Get fetches a pattern by source trace id.
func (r *FailurePatternRepository) Get(ctx context.Context, sourceTraceID string) (*domain.FailurePattern, error) {
	return r.coll.Get(ctx, sourceTraceID)
}

// Upsert writes pattern keyed by its source trace id, making
// re-extraction of the same trace idempotent.
func (r *FailurePatternRepository) Upsert(ctx context.Context, pattern *domain.FailurePattern) error {
	return r.coll.Upsert(ctx, pattern.SourceTraceID, pattern)
}

// MarkProcessed flips processed to true once deduplication has
// considered the pattern.
func (r *FailurePatternRepository) MarkProcessed(ctx context.Context, sourceTraceID string) error {
	return r.coll.mutate(ctx, sourceTraceID, func(p *domain.FailurePattern) error {
		p.Processed = true
		return nil
	})
}

// ListUnprocessed returns a page of patterns not yet considered by
// deduplication.
func (r *FailurePatternRepository) ListUnprocessed(ctx context.Context, pageSize int64, cursor string) ([]domain.FailurePattern, string, error) {
	return r.coll.List(ctx, bson.M{"processed": false}, "extracted_at", pageSize, cursor)
}

// CountUnprocessed reports the extraction-to-dedup backlog size.
func (r *FailurePatternRepository) CountUnprocessed(ctx context.Context) (int64, error) {
	return r.coll.Count(ctx, bson.M{"processed": false})
}
