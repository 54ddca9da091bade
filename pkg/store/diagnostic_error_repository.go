package store

import (
	"context"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/evalforge/evalforge/pkg/domain"
)

// DiagnosticErrorRepository is the typed gateway onto a stage's
// error collection (e.g. "evalforge_extraction_errors"). Extraction
// and each generator write one diagnostic error record per failed
// item, keyed by {run_id}:{source_id} so a retried run overwrites
// rather than duplicates its own prior error.
type DiagnosticErrorRepository struct {
	coll   *collection[domain.DiagnosticError]
	logger *logrus.Logger
}

func newDiagnosticErrorRepository(db *mongo.Database, collName string, logger *logrus.Logger) *DiagnosticErrorRepository {
	return &DiagnosticErrorRepository{coll: newCollection[domain.DiagnosticError](db, collName), logger: logger}
}

// Record persists derr, deriving its composite key from RunID and
// SourceID.
func (r *DiagnosticErrorRepository) Record(ctx context.Context, derr *domain.DiagnosticError) error {
	derr.Key = domain.DiagnosticErrorKey(derr.RunID, derr.SourceID)
	return r.coll.Upsert(ctx, derr.Key, derr)
}

// ListForRun returns a page of diagnostic errors recorded by a
// specific run, most-recent-first.
func (r *DiagnosticErrorRepository) ListForRun(ctx context.Context, runID string, pageSize int64, cursor string) ([]domain.DiagnosticError, string, error) {
	return r.coll.List(ctx, bson.M{"run_id": runID}, "recorded_at", pageSize, cursor)
}
