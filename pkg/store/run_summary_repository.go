package store

import (
	"context"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/evalforge/evalforge/pkg/domain"
)

// RunSummaryRepository is the typed gateway onto a stage's run
// summary collection (e.g. "evalforge_extraction_runs"). Each
// pipeline stage obtains its own instance from
// Gateway.RunSummariesFor.
type RunSummaryRepository struct {
	coll   *collection[domain.RunSummary]
	logger *logrus.Logger
}

func newRunSummaryRepository(db *mongo.Database, collName string, logger *logrus.Logger) *RunSummaryRepository {
	return &RunSummaryRepository{coll: newCollection[domain.RunSummary](db, collName), logger: logger}
}

// Create writes a run summary once per batch execution.
func (r *RunSummaryRepository) Create(ctx context.Context, summary *domain.RunSummary) error {
	return r.coll.Upsert(ctx, summary.RunID, summary)
}

// Get fetches a run summary by id.
func (r *RunSummaryRepository) Get(ctx context.Context, runID string) (*domain.RunSummary, error) {
	return r.coll.Get(ctx, runID)
}

// List returns a page of run summaries ordered most-recent-first.
func (r *RunSummaryRepository) List(ctx context.Context, pageSize int64, cursor string) ([]domain.RunSummary, string, error) {
	return r.coll.List(ctx, bson.M{}, "started_at", pageSize, cursor)
}
