package store

import (
	"context"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/evalforge/evalforge/pkg/domain"
)

// ExportRepository is the typed gateway onto the exports collection,
// one record per successful approval export.
type ExportRepository struct {
	coll   *collection[domain.ExportRecord]
	logger *logrus.Logger
}

func newExportRepository(db *mongo.Database, collName string, logger *logrus.Logger) *ExportRepository {
	return &ExportRepository{coll: newCollection[domain.ExportRecord](db, collName), logger: logger}
}

// Record persists one export record, keyed by ExportID.
func (r *ExportRepository) Record(ctx context.Context, rec *domain.ExportRecord) error {
	return r.coll.Upsert(ctx, rec.ExportID, rec)
}

// ListForSuggestion returns a page of export records for one
// suggestion, most-recent-first.
func (r *ExportRepository) ListForSuggestion(ctx context.Context, suggestionID string, pageSize int64, cursor string) ([]domain.ExportRecord, string, error) {
	return r.coll.List(ctx, bson.M{"suggestion_id": suggestionID}, "exported_at", pageSize, cursor)
}
