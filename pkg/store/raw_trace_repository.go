package store

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/evalforge/evalforge/pkg/domain"
	"github.com/evalforge/evalforge/pkg/platform/ferrors"
)

// RawTraceRepository is the typed gateway onto the raw-traces
// collection: ingestion writes to it, extraction reads from it.
type RawTraceRepository struct {
	coll   *collection[domain.FailureCapture]
	logger *logrus.Logger
}

func newRawTraceRepository(db *mongo.Database, collName string, logger *logrus.Logger) *RawTraceRepository {
	return &RawTraceRepository{coll: newCollection[domain.FailureCapture](db, collName), logger: logger}
}

// Get fetches a capture by trace id.
func (r *RawTraceRepository) Get(ctx context.Context, traceID string) (*domain.FailureCapture, error) {
	return r.coll.Get(ctx, traceID)
}

// Upsert writes capture, preserving an already-captured trace's
// status, status_history, export_ref, and processed flag so
// re-ingestion never clobbers downstream progress.
func (r *RawTraceRepository) Upsert(ctx context.Context, capture *domain.FailureCapture) error {
	existing, err := r.coll.Get(ctx, capture.TraceID)
	if err != nil && ferrors.KindOf(err) != ferrors.KindNotFound {
		return err
	}
	if existing != nil {
		capture.Status = existing.Status
		capture.StatusHistory = existing.StatusHistory
		capture.ExportRef = existing.ExportRef
		capture.Processed = existing.Processed
	}
	return r.coll.Upsert(ctx, capture.TraceID, capture)
}

// MarkProcessed flips processed to true inside a transaction. The
// capture's status is left alone; only a successful approval export
// moves it to exported.
func (r *RawTraceRepository) MarkProcessed(ctx context.Context, traceID string) error {
	return r.coll.mutate(ctx, traceID, func(doc *domain.FailureCapture) error {
		doc.Processed = true
		return nil
	})
}

// MarkExported moves the capture's status to exported and records the
// export reference, appending the transition to status_history inside
// a transaction. Called by the approval service after a successful
// export of a suggestion whose lineage includes this trace.
func (r *RawTraceRepository) MarkExported(ctx context.Context, traceID, exportRef string) error {
	return r.coll.mutate(ctx, traceID, func(doc *domain.FailureCapture) error {
		doc.Status = domain.CaptureExported
		doc.ExportRef = exportRef
		doc.StatusHistory = append(doc.StatusHistory, domain.StatusHistoryEntry{
			Status:    domain.CaptureExported,
			Timestamp: time.Now().UTC(),
			Note:      "exported as " + exportRef,
		})
		return nil
	})
}

// ListUnprocessed returns a page of captures not yet picked up by
// extraction, newest first (captured_at descending).
func (r *RawTraceRepository) ListUnprocessed(ctx context.Context, pageSize int64, cursor string) ([]domain.FailureCapture, string, error) {
	return r.coll.List(ctx, bson.M{"processed": false}, "captured_at", pageSize, cursor)
}

// CountUnprocessed reports the ingestion backlog size for health
// reporting.
func (r *RawTraceRepository) CountUnprocessed(ctx context.Context) (int64, error) {
	return r.coll.Count(ctx, bson.M{"processed": false})
}

// CountAll reports the total number of captured failures, the
// denominator of the dashboard's coverage metric.
func (r *RawTraceRepository) CountAll(ctx context.Context) (int64, error) {
	return r.coll.Count(ctx, bson.M{})
}
