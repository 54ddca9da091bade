// Package dedup implements the deduplication stage: each unprocessed
// FailurePattern is embedded, compared against every existing
// suggestion's embedding, and either merged into the closest match
// above threshold or used to create a brand-new suggestion. The
// scheduling model keeps this stage single-worker within a batch —
// unlike extraction and generation, it is not parallelized here.
package dedup

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/evalforge/evalforge/pkg/domain"
	"github.com/evalforge/evalforge/pkg/platform/ferrors"
	"github.com/evalforge/evalforge/pkg/platform/logging"
	"github.com/evalforge/evalforge/pkg/similarity"
	"github.com/evalforge/evalforge/pkg/store"
)

// embedder is the subset of *embedding.Client deduplication needs.
type embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// patternSource is the subset of *store.FailurePatternRepository
// deduplication needs to pull a batch and retire processed items.
type patternSource interface {
	ListUnprocessed(ctx context.Context, pageSize int64, cursor string) ([]domain.FailurePattern, string, error)
	MarkProcessed(ctx context.Context, sourceTraceID string) error
}

// suggestionStore is the subset of *store.SuggestionRepository
// deduplication needs to find an existing match or record a new one.
type suggestionStore interface {
	List(ctx context.Context, filter store.ListFilter, pageSize int64, cursor string) ([]domain.Suggestion, string, error)
	Create(ctx context.Context, s *domain.Suggestion) error
	AppendSourceTrace(ctx context.Context, suggestionID string, ref domain.SourceTraceRef) error
}

// runSink is the subset of *store.RunSummaryRepository deduplication
// needs to persist a completed batch's summary.
type runSink interface {
	Create(ctx context.Context, summary *domain.RunSummary) error
}

// Config holds tunables RunOptions falls back to.
type Config struct {
	DefaultBatchSize    int
	SimilarityThreshold float64
}

// RunOptions is the body of POST /dedup/run-once.
type RunOptions struct {
	BatchSize   int
	DryRun      bool
	TriggeredBy domain.TriggeredBy
}

// Service is the deduplication stage.
type Service struct {
	embedder    embedder
	patterns    patternSource
	suggestions suggestionStore
	runs        runSink
	cfg         Config
	metrics     *Metrics
	logger      *logrus.Logger
}

// NewService wires a Service against its collaborators. metrics may
// be nil when the caller has no registry (tests, dry-run tooling).
func NewService(embedder embedder, patterns patternSource, suggestions suggestionStore, runs runSink, cfg Config, metrics *Metrics, logger *logrus.Logger) *Service {
	return &Service{embedder: embedder, patterns: patterns, suggestions: suggestions, runs: runs, cfg: cfg, metrics: metrics, logger: logger}
}

func (s *Service) threshold() float64 {
	if s.cfg.SimilarityThreshold <= 0 {
		return 0.85
	}
	return s.cfg.SimilarityThreshold
}

// RunOnce executes the deduplication algorithm once over a batch of
// unprocessed patterns, sequentially, and returns the run summary.
func (s *Service) RunOnce(ctx context.Context, opts RunOptions) (*domain.RunSummary, error) {
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = s.cfg.DefaultBatchSize
	}

	runID := fmt.Sprintf("run_%s", strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
	startedAt := time.Now().UTC()

	patterns, _, err := s.patterns.ListUnprocessed(ctx, int64(batchSize), "")
	if err != nil {
		return nil, ferrors.FailedTo("load deduplication batch", err)
	}

	s.logger.WithFields(logging.PipelineFields("deduplication", runID).Count(len(patterns)).ToLogrus()).Info("run_started")

	if len(patterns) == 0 {
		return s.finish(ctx, runID, startedAt, opts, nil, batchStats{}), nil
	}

	candidates, err := s.loadCandidates(ctx)
	if err != nil {
		return nil, ferrors.FailedTo("load existing suggestion embeddings", err)
	}

	var stats batchStats
	outcomes := make([]domain.PerItemOutcome, 0, len(patterns))
	for _, pattern := range patterns {
		outcome, newCandidate, score := s.processPattern(ctx, runID, &pattern, candidates, opts.DryRun)
		outcomes = append(outcomes, outcome)
		if newCandidate != nil {
			candidates = append(candidates, *newCandidate)
		}
		if outcome.Outcome == domain.OutcomeStored {
			stats.considered++
			if newCandidate == nil {
				stats.merged++
				stats.similaritySum += score
			}
		}
	}

	return s.finish(ctx, runID, startedAt, opts, outcomes, stats), nil
}

// batchStats accumulates the per-batch merge-rate and
// average-similarity figures published as gauges at run end.
type batchStats struct {
	considered    int
	merged        int
	similaritySum float64
}

// loadCandidates pages through every suggestion, in any status, that
// carries an embedding, building the comparison set for the batch.
func (s *Service) loadCandidates(ctx context.Context) ([]similarity.Candidate, error) {
	var candidates []similarity.Candidate
	cursor := ""
	for {
		page, next, err := s.suggestions.List(ctx, store.ListFilter{}, 200, cursor)
		if err != nil {
			return nil, err
		}
		for _, sug := range page {
			if len(sug.Embedding) == 0 {
				continue
			}
			candidates = append(candidates, similarity.Candidate{ID: sug.SuggestionID, Embedding: sug.Embedding})
		}
		if next == "" {
			break
		}
		cursor = next
	}
	return candidates, nil
}

// processPattern embeds one pattern, finds or creates its
// suggestion, and marks the pattern processed. It returns the new
// candidate to fold into the comparison set when a suggestion was
// created, so a later pattern in the same batch can merge into it,
// plus the merge similarity score (zero when a new suggestion was
// created rather than merged).
func (s *Service) processPattern(ctx context.Context, runID string, pattern *domain.FailurePattern, candidates []similarity.Candidate, dryRun bool) (domain.PerItemOutcome, *similarity.Candidate, float64) {
	fields := logging.NewFields().Component("deduplication").Operation("dedup").Custom("run_id", runID).Custom("source_trace_id", pattern.SourceTraceID)

	text := embeddingText(pattern)
	vectors, err := s.embedder.Embed(ctx, []string{text})
	if err != nil || len(vectors) == 0 {
		s.logger.WithFields(fields.Error(err).ToLogrus()).Warn("decision")
		return domain.PerItemOutcome{ItemID: pattern.SourceTraceID, Outcome: domain.OutcomeError, Detail: ferrors.FailedTo("compute embedding", err).Error()}, nil, 0
	}
	embedding := vectors[0]

	match, matched := similarity.FindBestMatch(embedding, candidates, s.threshold())

	var outcome domain.PerItemOutcome
	var newCandidate *similarity.Candidate
	var score float64

	if matched {
		score = match.Score
		outcome = domain.PerItemOutcome{
			ItemID:  pattern.SourceTraceID,
			Outcome: domain.OutcomeStored,
			Detail:  fmt.Sprintf("merged into %s at similarity %.4f", match.ID, match.Score),
		}
		if !dryRun {
			ref := domain.SourceTraceRef{
				TraceID:         pattern.SourceTraceID,
				PatternID:       pattern.SourceTraceID,
				AddedAt:         time.Now().UTC(),
				SimilarityScore: match.Score,
			}
			if err := s.suggestions.AppendSourceTrace(ctx, match.ID, ref); err != nil {
				outcome = domain.PerItemOutcome{ItemID: pattern.SourceTraceID, Outcome: domain.OutcomeError, Detail: ferrors.FailedTo("merge into suggestion", err).Error()}
			}
		}
		s.logger.WithFields(fields.Custom("decision", "merged").Custom("suggestion_id", match.ID).Custom("similarity_score", match.Score).ToLogrus()).Info("decision")
	} else {
		suggestionID := fmt.Sprintf("sugg_%s", strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
		outcome = domain.PerItemOutcome{ItemID: pattern.SourceTraceID, Outcome: domain.OutcomeStored, Detail: fmt.Sprintf("created %s", suggestionID)}
		if !dryRun {
			now := time.Now().UTC()
			suggestion := &domain.Suggestion{
				SuggestionID: suggestionID,
				Type:         domain.DeriveSuggestionType(pattern.FailureType),
				Status:       domain.StatusPending,
				Severity:     pattern.Severity,
				SourceTraces: []domain.SourceTraceRef{{
					TraceID:         pattern.SourceTraceID,
					PatternID:       pattern.SourceTraceID,
					AddedAt:         now,
					SimilarityScore: 1.0,
				}},
				Pattern: domain.PatternSummary{
					FailureType:      pattern.FailureType,
					TriggerCondition: pattern.TriggerCondition,
					Summary:          pattern.Summary,
				},
				Embedding:       embedding,
				SimilarityGroup: suggestionID,
				VersionHistory: []domain.VersionHistoryEntry{{
					NewStatus: domain.StatusPending,
					Actor:     "deduplication",
					Timestamp: now,
				}},
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := s.suggestions.Create(ctx, suggestion); err != nil {
				outcome = domain.PerItemOutcome{ItemID: pattern.SourceTraceID, Outcome: domain.OutcomeError, Detail: ferrors.FailedTo("create suggestion", err).Error()}
			} else {
				newCandidate = &similarity.Candidate{ID: suggestionID, Embedding: embedding}
			}
		} else {
			newCandidate = &similarity.Candidate{ID: suggestionID, Embedding: embedding}
		}
		s.logger.WithFields(fields.Custom("decision", "created_new").Custom("suggestion_id", suggestionID).ToLogrus()).Info("decision")
	}

	if outcome.Outcome == domain.OutcomeStored && !dryRun {
		if err := s.patterns.MarkProcessed(ctx, pattern.SourceTraceID); err != nil {
			s.logger.WithFields(fields.Error(err).ToLogrus()).Warn("failed to mark pattern processed")
		}
	}

	return outcome, newCandidate, score
}

// finish tallies outcomes, publishes batch metrics, persists the run
// summary, and logs the run-completed line.
func (s *Service) finish(ctx context.Context, runID string, startedAt time.Time, opts RunOptions, outcomes []domain.PerItemOutcome, stats batchStats) *domain.RunSummary {
	counts := domain.RunCounts{PickedUp: len(outcomes)}
	for _, o := range outcomes {
		switch o.Outcome {
		case domain.OutcomeStored:
			counts.Stored++
		case domain.OutcomeSkipped:
			counts.Skipped++
		case domain.OutcomeTimedOut:
			counts.TimedOut++
		default:
			counts.Errored++
		}
	}

	triggeredBy := opts.TriggeredBy
	if triggeredBy == "" {
		triggeredBy = domain.TriggeredManual
	}

	endedAt := time.Now().UTC()
	summary := &domain.RunSummary{
		RunID:       runID,
		StartedAt:   startedAt,
		EndedAt:     endedAt,
		TriggeredBy: triggeredBy,
		BatchSize:   len(outcomes),
		Counts:      counts,
		Items:       outcomes,
		DurationMS:  endedAt.Sub(startedAt).Milliseconds(),
	}

	if s.metrics != nil && stats.considered > 0 {
		s.metrics.MergeRate.Set(float64(stats.merged) / float64(stats.considered))
		if stats.merged > 0 {
			s.metrics.AvgSimilarity.Set(stats.similaritySum / float64(stats.merged))
		}
	}

	if !opts.DryRun && s.runs != nil {
		if err := s.runs.Create(ctx, summary); err != nil {
			s.logger.WithFields(logging.PipelineFields("deduplication", runID).Error(err).ToLogrus()).Warn("failed to persist run summary")
		}
	}

	s.logger.WithFields(logging.PipelineFields("deduplication", runID).Duration(endedAt.Sub(startedAt)).
		Custom("stored", counts.Stored).Custom("errored", counts.Errored).ToLogrus()).Info("run_completed")

	return summary
}

// embeddingText combines failure_type and trigger_condition into the
// semantic text a pattern is embedded from.
func embeddingText(pattern *domain.FailurePattern) string {
	return fmt.Sprintf("%s: %s", pattern.FailureType, pattern.TriggerCondition)
}
