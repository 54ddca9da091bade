package store

import (
	"context"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/evalforge/evalforge/pkg/domain"
	"github.com/evalforge/evalforge/pkg/platform/ferrors"
)

// SuggestionRepository is the typed gateway onto the suggestions
// collection: deduplication creates and merges into suggestions,
// generators fill in their drafts, and the approval service
// transitions their status.
type SuggestionRepository struct {
	coll   *collection[domain.Suggestion]
	logger *logrus.Logger
}

func newSuggestionRepository(db *mongo.Database, collName string, logger *logrus.Logger) *SuggestionRepository {
	return &SuggestionRepository{coll: newCollection[domain.Suggestion](db, collName), logger: logger}
}

// Get fetches a suggestion by id.
func (r *SuggestionRepository) Get(ctx context.Context, suggestionID string) (*domain.Suggestion, error) {
	return r.coll.Get(ctx, suggestionID)
}

// Create writes a brand-new suggestion, keyed by SuggestionID.
func (r *SuggestionRepository) Create(ctx context.Context, s *domain.Suggestion) error {
	return r.coll.Upsert(ctx, s.SuggestionID, s)
}

// Put persists a whole-document update (generator drafts, embedding,
// similarity group) once the caller has the full record in hand.
func (r *SuggestionRepository) Put(ctx context.Context, s *domain.Suggestion) error {
	return r.coll.Upsert(ctx, s.SuggestionID, s)
}

// AppendSourceTrace performs the idempotent array-union merge: a
// transaction re-checks HasSourceTrace so a trace id already
// recorded is never appended twice, even under concurrent merges
// into the same suggestion.
func (r *SuggestionRepository) AppendSourceTrace(ctx context.Context, suggestionID string, ref domain.SourceTraceRef) error {
	return r.coll.mutate(ctx, suggestionID, func(s *domain.Suggestion) error {
		if s.HasSourceTrace(ref.TraceID) {
			return nil
		}
		s.SourceTraces = append(s.SourceTraces, ref)
		s.UpdatedAt = ref.AddedAt
		return nil
	})
}

// Transition moves a suggestion out of pending, recording an
// audit-trail entry and the approval metadata. It refuses — without
// mutating the document — when the suggestion is no longer pending,
// since both approved and rejected are terminal.
func (r *SuggestionRepository) Transition(ctx context.Context, suggestionID string, newStatus domain.SuggestionStatus, entry domain.VersionHistoryEntry, approval *domain.ApprovalMetadata) error {
	return r.coll.mutate(ctx, suggestionID, func(s *domain.Suggestion) error {
		if !s.CanTransition() {
			return ferrors.New(ferrors.KindInvalidTransition, "suggestion "+suggestionID+" is not pending", nil)
		}
		entry.PreviousStatus = s.Status
		entry.NewStatus = newStatus
		s.Status = newStatus
		s.ApprovalMetadata = approval
		s.VersionHistory = append(s.VersionHistory, entry)
		s.UpdatedAt = entry.Timestamp
		return nil
	})
}

// ListFilter composes the supported equality filters: type, status,
// and severity. A zero value matches everything.
type ListFilter struct {
	Type     domain.SuggestionType
	Status   domain.SuggestionStatus
	Severity domain.Severity
}

func (f ListFilter) toBSON() bson.M {
	q := bson.M{}
	if f.Type != "" {
		q["type"] = f.Type
	}
	if f.Status != "" {
		q["status"] = f.Status
	}
	if f.Severity != "" {
		q["severity"] = f.Severity
	}
	return q
}

// List returns a page of suggestions matching filter, ordered by
// created_at descending.
func (r *SuggestionRepository) List(ctx context.Context, filter ListFilter, pageSize int64, cursor string) ([]domain.Suggestion, string, error) {
	return r.coll.List(ctx, filter.toBSON(), "created_at", pageSize, cursor)
}

// Count reports how many suggestions match filter.
func (r *SuggestionRepository) Count(ctx context.Context, filter ListFilter) (int64, error) {
	return r.coll.Count(ctx, filter.toBSON())
}
