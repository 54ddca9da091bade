// Package approval implements the human-review surface of the
// pipeline: listing suggestions, the pending→approved/rejected status
// machine with its audit trail, fire-and-forget notification, and
// format-specific export of approved artifacts.
package approval

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/evalforge/evalforge/pkg/domain"
	"github.com/evalforge/evalforge/pkg/platform/ferrors"
	"github.com/evalforge/evalforge/pkg/platform/logging"
	"github.com/evalforge/evalforge/pkg/store"
)

// suggestionStore is the subset of *store.SuggestionRepository the
// approval service needs.
type suggestionStore interface {
	Get(ctx context.Context, suggestionID string) (*domain.Suggestion, error)
	List(ctx context.Context, filter store.ListFilter, pageSize int64, cursor string) ([]domain.Suggestion, string, error)
	Transition(ctx context.Context, suggestionID string, newStatus domain.SuggestionStatus, entry domain.VersionHistoryEntry, approval *domain.ApprovalMetadata) error
}

// traceMarker is the subset of *store.RawTraceRepository needed to
// move exported captures to their terminal status.
type traceMarker interface {
	MarkExported(ctx context.Context, traceID, exportRef string) error
}

// exportSink is the subset of *store.ExportRepository needed to keep
// the export audit trail.
type exportSink interface {
	Record(ctx context.Context, rec *domain.ExportRecord) error
}

// notifier is the outbound webhook collaborator. Implementations must
// never return an error; delivery is best effort by contract.
type notifier interface {
	NotifyTransition(ctx context.Context, s *domain.Suggestion, action string)
}

// ListOptions filters and paginates GET /suggestions.
type ListOptions struct {
	Status domain.SuggestionStatus
	Type   domain.SuggestionType
	Limit  int
	Cursor string
}

// ListResult is one page of suggestions plus pagination state.
type ListResult struct {
	Suggestions []domain.Suggestion
	NextCursor  string
	HasMore     bool
}

// Service is the approval stage.
type Service struct {
	suggestions suggestionStore
	traces      traceMarker
	exports     exportSink
	notifier    notifier
	logger      *logrus.Logger
}

// NewService wires a Service against its collaborators.
func NewService(suggestions suggestionStore, traces traceMarker, exports exportSink, n notifier, logger *logrus.Logger) *Service {
	return &Service{suggestions: suggestions, traces: traces, exports: exports, notifier: n, logger: logger}
}

// List returns one page of suggestions matching opts.
func (s *Service) List(ctx context.Context, opts ListOptions) (*ListResult, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	page, next, err := s.suggestions.List(ctx, store.ListFilter{Status: opts.Status, Type: opts.Type}, int64(limit), opts.Cursor)
	if err != nil {
		return nil, ferrors.FailedTo("list suggestions", err)
	}
	return &ListResult{Suggestions: page, NextCursor: next, HasMore: next != ""}, nil
}

// Get fetches one suggestion by id.
func (s *Service) Get(ctx context.Context, suggestionID string) (*domain.Suggestion, error) {
	return s.suggestions.Get(ctx, suggestionID)
}

// Approve transitions a pending suggestion to approved and schedules
// the notification. The webhook runs on a detached goroutine after
// the transaction commits; its outcome never affects the returned
// suggestion.
func (s *Service) Approve(ctx context.Context, suggestionID, actor, notes string) (*domain.Suggestion, error) {
	return s.transition(ctx, suggestionID, domain.StatusApproved, "approved", actor, notes, "")
}

// Reject transitions a pending suggestion to rejected. A reason is
// required.
func (s *Service) Reject(ctx context.Context, suggestionID, actor, reason string) (*domain.Suggestion, error) {
	if reason == "" {
		return nil, ferrors.New(ferrors.KindInvalidJSON, "a rejection reason is required", nil)
	}
	return s.transition(ctx, suggestionID, domain.StatusRejected, "rejected", actor, "", reason)
}

func (s *Service) transition(ctx context.Context, suggestionID string, newStatus domain.SuggestionStatus, action, actor, notes, reason string) (*domain.Suggestion, error) {
	if actor == "" {
		actor = "unknown"
	}
	now := time.Now().UTC()

	entry := domain.VersionHistoryEntry{
		Actor:     actor,
		Timestamp: now,
		Notes:     firstNonEmpty(notes, reason),
	}
	meta := &domain.ApprovalMetadata{
		Actor:     actor,
		Action:    action,
		Timestamp: now,
		Notes:     notes,
		Reason:    reason,
	}

	if err := s.suggestions.Transition(ctx, suggestionID, newStatus, entry, meta); err != nil {
		return nil, err
	}

	updated, err := s.suggestions.Get(ctx, suggestionID)
	if err != nil {
		return nil, ferrors.FailedTo("reload suggestion after transition", err)
	}

	s.logger.WithFields(logging.ApprovalFields(action, suggestionID).Custom("actor", actor).ToLogrus()).Info("transition")

	// Detached from the request context: the handler's response must
	// not wait on the webhook, and an abandoned request must not
	// cancel it. The notifier bounds its own runtime.
	go s.notifier.NotifyTransition(context.Background(), updated, action)

	return updated, nil
}

// Export renders an approved suggestion in the requested format and
// records the export, moving every lineage trace to exported.
func (s *Service) Export(ctx context.Context, suggestionID, format string) ([]byte, string, error) {
	sug, err := s.suggestions.Get(ctx, suggestionID)
	if err != nil {
		return nil, "", err
	}
	if sug.Status != domain.StatusApproved {
		return nil, "", ferrors.New(ferrors.KindInvalidTransition, fmt.Sprintf("suggestion %s is %s, not approved", suggestionID, sug.Status), nil)
	}

	content, contentType, err := renderExport(sug, format)
	if err != nil {
		return nil, "", err
	}

	exportID := fmt.Sprintf("export_%s", uuid.NewString()[:8])
	traceIDs := make([]string, 0, len(sug.SourceTraces))
	for _, ref := range sug.SourceTraces {
		traceIDs = append(traceIDs, ref.TraceID)
	}

	if rerr := s.exports.Record(ctx, &domain.ExportRecord{
		ExportID:     exportID,
		SuggestionID: sug.SuggestionID,
		Type:         sug.Type,
		Format:       format,
		ContentType:  contentType,
		TraceIDs:     traceIDs,
		ExportedAt:   time.Now().UTC(),
	}); rerr != nil {
		s.logger.WithFields(logging.ApprovalFields("export", suggestionID).Error(rerr).ToLogrus()).Warn("failed to record export")
	}

	for _, traceID := range traceIDs {
		if merr := s.traces.MarkExported(ctx, traceID, exportID); merr != nil {
			s.logger.WithFields(logging.ApprovalFields("export", suggestionID).TraceID(traceID).Error(merr).ToLogrus()).Warn("failed to mark trace exported")
		}
	}

	return content, contentType, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
