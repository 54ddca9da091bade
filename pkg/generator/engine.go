// Package generator implements the shared control flow of the three
// artifact generators (eval-test, guardrail, runbook): load a pending
// suggestion, pick the canonical source pattern, call the LLM under a
// time and cost budget, validate, and write the typed draft back onto
// the suggestion. Each artifact type supplies a Builder with its
// prompt, schema, and draft composition; everything else — overwrite
// protection, lineage gathering, template fallback, budget
// accounting, cancellation — runs here exactly once.
package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/evalforge/evalforge/pkg/domain"
	"github.com/evalforge/evalforge/pkg/llm"
	"github.com/evalforge/evalforge/pkg/platform/ferrors"
	"github.com/evalforge/evalforge/pkg/platform/logging"
	"github.com/evalforge/evalforge/pkg/store"
)

// maxWorkers bounds how many suggestions a single RunOnce call
// processes concurrently, matching extraction's pool size.
const maxWorkers = 4

// Builder supplies the per-artifact-type behavior an Engine composes
// with its shared pipeline.
type Builder interface {
	// Type is the suggestion type this builder generates for.
	Type() domain.SuggestionType
	// Stage names the run/error collections ("eval_test", "guardrail",
	// "runbook").
	Stage() string
	// Schema is the JSON Schema enforced on the model's output.
	Schema() json.RawMessage
	// BuildPrompt renders the generation prompt from sanitized views.
	BuildPrompt(s *SuggestionView, canonical *PatternView) string
	// ComposeDraft converts validated model output into the typed
	// draft and stores it on s.SuggestionContent. base carries the
	// shared draft fields already filled in by the engine.
	ComposeDraft(s *domain.Suggestion, canonical *domain.FailurePattern, parsed map[string]any, base domain.DraftBase) error
	// TemplateDraft writes the deterministic needs_human_input
	// fallback draft onto s.
	TemplateDraft(s *domain.Suggestion, base domain.DraftBase)
	// ExistingBase returns the current draft's shared fields, or nil
	// when the suggestion has no draft of this type yet.
	ExistingBase(s *domain.Suggestion) *domain.DraftBase
}

// suggestionStore is the subset of *store.SuggestionRepository the
// engine needs.
type suggestionStore interface {
	Get(ctx context.Context, suggestionID string) (*domain.Suggestion, error)
	List(ctx context.Context, filter store.ListFilter, pageSize int64, cursor string) ([]domain.Suggestion, string, error)
	Put(ctx context.Context, s *domain.Suggestion) error
}

// patternSource is the subset of *store.FailurePatternRepository the
// engine needs to hydrate a suggestion's lineage.
type patternSource interface {
	Get(ctx context.Context, sourceTraceID string) (*domain.FailurePattern, error)
}

// errorSink is the subset of *store.DiagnosticErrorRepository the
// engine records failed items into.
type errorSink interface {
	Record(ctx context.Context, derr *domain.DiagnosticError) error
}

// runSink is the subset of *store.RunSummaryRepository the engine
// persists batch summaries into.
type runSink interface {
	Create(ctx context.Context, summary *domain.RunSummary) error
}

// Config holds tunables RunOptions falls back to.
type Config struct {
	DefaultBatchSize  int
	PerItemTimeout    time.Duration
	PerItemCostBudget float64
	RunCostBudget     float64
	Model             string
	Temperature       float64
	MaxTokens         int
}

// RunOptions is the body of POST /<type>/run-once.
type RunOptions struct {
	BatchSize      int
	DryRun         bool
	TriggeredBy    domain.TriggeredBy
	SuggestionIDs  []string
	ForceOverwrite bool
}

// Engine runs the shared eleven-step generation pipeline for one
// artifact type.
type Engine struct {
	builder     Builder
	llmClient   llm.Client
	suggestions suggestionStore
	patterns    patternSource
	errors      errorSink
	runs        runSink
	cfg         Config
	logger      *logrus.Logger
	items       metric.Int64Counter

	cancelled atomic.Bool
}

// NewEngine wires an Engine against its collaborators.
func NewEngine(builder Builder, llmClient llm.Client, suggestions suggestionStore, patterns patternSource, errs errorSink, runs runSink, cfg Config, logger *logrus.Logger) *Engine {
	items, _ := otel.Meter("evalforge/generator").Int64Counter("evalforge.generator.items",
		metric.WithDescription("Generator items processed, by stage and outcome."))
	return &Engine{builder: builder, llmClient: llmClient, suggestions: suggestions, patterns: patterns, errors: errs, runs: runs, cfg: cfg, logger: logger, items: items}
}

// Cancel requests cooperative cancellation of the run in flight.
func (e *Engine) Cancel() {
	e.cancelled.Store(true)
}

// Generate runs the pipeline for a single suggestion, the backend of
// POST /<type>/generate/{suggestion_id}. It returns the updated
// suggestion, or a kinded error the HTTP layer maps to 404/409/429/500.
func (e *Engine) Generate(ctx context.Context, suggestionID string, forceOverwrite bool) (*domain.Suggestion, error) {
	runID := generateRunID(e.builder.Stage())
	budget := NewBudget(e.cfg.RunCostBudget, 1, e.cfg.PerItemCostBudget)

	_, s, err := e.generateItem(ctx, runID, suggestionID, forceOverwrite, false, budget)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// RunOnce executes the generation pipeline over a batch of pending
// suggestions of this engine's type and returns the run summary.
func (e *Engine) RunOnce(ctx context.Context, opts RunOptions) (*domain.RunSummary, error) {
	e.cancelled.Store(false)

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = e.cfg.DefaultBatchSize
	}

	runID := generateRunID(e.builder.Stage())
	startedAt := time.Now().UTC()

	ids, err := e.loadBatchIDs(ctx, batchSize, opts)
	if err != nil {
		return nil, ferrors.FailedTo("load generation batch", err)
	}

	e.logger.WithFields(logging.PipelineFields(e.builder.Stage(), runID).Count(len(ids)).ToLogrus()).Info("run_started")

	budget := NewBudget(e.cfg.RunCostBudget, len(ids), e.cfg.PerItemCostBudget)
	outcomes := make([]domain.PerItemOutcome, len(ids))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxWorkers)

	for i := range ids {
		i := i
		id := ids[i]
		g.Go(func() error {
			outcome, _, _ := e.generateItem(gctx, runID, id, opts.ForceOverwrite, opts.DryRun, budget)
			mu.Lock()
			outcomes[i] = outcome
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	counts := domain.RunCounts{PickedUp: len(ids)}
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
		e.items.Add(ctx, 1, metric.WithAttributes(
			attribute.String("stage", e.builder.Stage()),
			attribute.String("outcome", string(o.Outcome)),
		))
	}

	endedAt := time.Now().UTC()
	triggeredBy := opts.TriggeredBy
	if triggeredBy == "" {
		triggeredBy = domain.TriggeredManual
	}
	summary := &domain.RunSummary{
		RunID:       runID,
		StartedAt:   startedAt,
		EndedAt:     endedAt,
		TriggeredBy: triggeredBy,
		BatchSize:   len(ids),
		Counts:      counts,
		Items:       outcomes,
		DurationMS:  endedAt.Sub(startedAt).Milliseconds(),
	}

	if !opts.DryRun {
		if err := e.runs.Create(ctx, summary); err != nil {
			return nil, ferrors.FailedTo("persist generation run summary", err)
		}
	}

	e.logger.WithFields(logging.PipelineFields(e.builder.Stage(), runID).Duration(endedAt.Sub(startedAt)).
		Custom("stored", counts.Stored).Custom("skipped", counts.Skipped).Custom("errored", counts.Errored).
		Custom("timed_out", counts.TimedOut).Custom("budget_remaining", budget.Remaining()).ToLogrus()).
		Info("run_completed")

	return summary, nil
}

// loadBatchIDs resolves the suggestion ids a batch run will process:
// either the explicit ids the request named, or a page of pending
// suggestions of this engine's type.
func (e *Engine) loadBatchIDs(ctx context.Context, batchSize int, opts RunOptions) ([]string, error) {
	if len(opts.SuggestionIDs) > 0 {
		return opts.SuggestionIDs, nil
	}
	page, _, err := e.suggestions.List(ctx, store.ListFilter{Status: domain.StatusPending, Type: e.builder.Type()}, int64(batchSize), "")
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(page))
	for _, s := range page {
		if e.builder.ExistingBase(&s) != nil {
			// A pending suggestion that already carries a draft is not
			// regenerated by a batch run; the single-item endpoint
			// exists for that.
			continue
		}
		ids = append(ids, s.SuggestionID)
	}
	return ids, nil
}

// generateItem runs the per-suggestion pipeline. The returned error
// carries the closed-set kind the single-item HTTP endpoint maps to a
// status code; batch runs consume only the outcome.
func (e *Engine) generateItem(ctx context.Context, runID, suggestionID string, forceOverwrite, dryRun bool, budget *Budget) (domain.PerItemOutcome, *domain.Suggestion, error) {
	fields := logging.NewFields().Component(e.builder.Stage()).Operation("generate").Custom("run_id", runID).Custom("suggestion_id", suggestionID)

	s, err := e.suggestions.Get(ctx, suggestionID)
	if err != nil {
		outcome := domain.PerItemOutcome{ItemID: suggestionID, Outcome: domain.OutcomeError, Detail: err.Error()}
		if ferrors.KindOf(err) == ferrors.KindNotFound {
			outcome.Outcome = domain.OutcomeSkipped
		}
		return outcome, nil, err
	}

	if s.Type != e.builder.Type() {
		err := ferrors.New(ferrors.KindWrongType, fmt.Sprintf("suggestion %s has type %s, not %s", suggestionID, s.Type, e.builder.Type()), nil)
		return domain.PerItemOutcome{ItemID: suggestionID, Outcome: domain.OutcomeSkipped, Detail: err.Error()}, nil, err
	}

	existing := e.builder.ExistingBase(s)
	if existing != nil && !existing.CanOverwrite(forceOverwrite) {
		err := ferrors.New(ferrors.KindOverwriteBlocked, "draft was edited by a human; pass forceOverwrite to regenerate", nil)
		e.logger.WithFields(fields.Custom("decision", "overwrite_blocked").ToLogrus()).Info("decision")
		return domain.PerItemOutcome{ItemID: suggestionID, Outcome: domain.OutcomeSkipped, Detail: err.Error()}, nil, err
	}

	itemCtx, cancel := context.WithTimeout(ctx, e.perItemTimeout())
	defer cancel()

	canonical := e.selectCanonical(ctx, s)

	charged := false
	reason := ""
	switch {
	case canonical == nil:
		reason = "no source pattern available for this suggestion"
	case canonical.ReproductionContext.InputPattern == "":
		reason = "canonical pattern has no reproduction input"
	case !budget.TryCharge():
		reason = "run cost budget exhausted before this item"
	default:
		charged = true
	}

	if reason != "" {
		base := e.newBase(s, existing, runID, "", "")
		base.Status = domain.DraftStatusNeedsHumanInput
		base.Reason = reason
		e.builder.TemplateDraft(s, base)
		if !dryRun {
			s.UpdatedAt = time.Now().UTC()
			if perr := e.suggestions.Put(ctx, s); perr != nil {
				return e.recordError(ctx, runID, suggestionID, dryRun, domain.DiagUnknown, ferrors.FailedTo("persist template draft", perr), ""), nil, perr
			}
		}
		e.logger.WithFields(fields.Custom("decision", "template_fallback").Custom("reason", reason).ToLogrus()).Info("decision")
		return domain.PerItemOutcome{ItemID: suggestionID, Outcome: domain.OutcomeStored, Detail: "template_fallback: " + reason}, s, nil
	}

	if e.cancelled.Load() || itemCtx.Err() != nil {
		if charged {
			// No attempt was made; the item is not billed.
			budget.Refund()
		}
		outcome := e.recordTimeout(ctx, runID, suggestionID, dryRun, "time budget exceeded before model call")
		return outcome, nil, ferrors.New(ferrors.KindTimeout, outcome.Detail, nil)
	}

	prompt := e.builder.BuildPrompt(newSuggestionView(s), newPatternView(canonical))

	result, err := e.llmClient.Generate(itemCtx, llm.GenerateRequest{
		Prompt:      prompt,
		Schema:      e.builder.Schema(),
		MaxTokens:   e.maxTokens(),
		Temperature: float32(e.cfg.Temperature),
	})
	if err != nil {
		if ferrors.KindOf(err) == ferrors.KindRateLimited {
			budget.Refund()
			outcome := e.recordError(ctx, runID, suggestionID, dryRun, domain.DiagModelError, err, "")
			return outcome, nil, err
		}
		if itemCtx.Err() == context.DeadlineExceeded {
			outcome := e.recordTimeout(ctx, runID, suggestionID, dryRun, "model call exceeded time budget")
			return outcome, nil, ferrors.New(ferrors.KindTimeout, outcome.Detail, err)
		}
		outcome := e.recordError(ctx, runID, suggestionID, dryRun, domain.DiagModelError, err, "")
		return outcome, nil, err
	}

	if itemCtx.Err() == context.DeadlineExceeded {
		outcome := e.recordTimeout(ctx, runID, suggestionID, dryRun, "time budget exceeded after model call")
		return outcome, nil, ferrors.New(ferrors.KindTimeout, outcome.Detail, nil)
	}

	base := e.newBase(s, existing, runID, result.PromptHash, result.ResponseHash)
	if err := e.builder.ComposeDraft(s, canonical, result.Parsed, base); err != nil {
		outcome := e.recordError(ctx, runID, suggestionID, dryRun, domain.DiagSchemaValidation, err, result.ResponseHash)
		outcome.Outcome = domain.OutcomeValidationFailed
		return outcome, nil, err
	}

	if e.cancelled.Load() {
		outcome := e.recordTimeout(ctx, runID, suggestionID, dryRun, "run cancelled before store write")
		return outcome, nil, ferrors.New(ferrors.KindTimeout, outcome.Detail, nil)
	}

	if !dryRun {
		s.UpdatedAt = time.Now().UTC()
		if err := e.suggestions.Put(ctx, s); err != nil {
			outcome := e.recordError(ctx, runID, suggestionID, dryRun, domain.DiagUnknown, ferrors.FailedTo("persist draft", err), result.ResponseHash)
			return outcome, nil, err
		}
	}

	e.logger.WithFields(fields.Custom("decision", "generated").ToLogrus()).Info("decision")
	return domain.PerItemOutcome{ItemID: suggestionID, Outcome: domain.OutcomeStored}, s, nil
}

// selectCanonical hydrates the suggestion's lineage and picks the
// highest-confidence pattern, tie-broken by most-recent extracted_at.
// Returns nil when no pattern could be fetched.
func (e *Engine) selectCanonical(ctx context.Context, s *domain.Suggestion) *domain.FailurePattern {
	seen := make(map[string]bool, len(s.SourceTraces))
	patterns := make([]*domain.FailurePattern, 0, len(s.SourceTraces))
	for _, ref := range s.SourceTraces {
		if ref.PatternID == "" || seen[ref.PatternID] {
			continue
		}
		seen[ref.PatternID] = true
		p, err := e.patterns.Get(ctx, ref.PatternID)
		if err != nil {
			continue
		}
		patterns = append(patterns, p)
	}
	if len(patterns) == 0 {
		return nil
	}

	sort.Slice(patterns, func(i, j int) bool {
		if patterns[i].Confidence != patterns[j].Confidence {
			return patterns[i].Confidence > patterns[j].Confidence
		}
		return patterns[i].ExtractedAt.After(patterns[j].ExtractedAt)
	})
	return patterns[0]
}

// newBase assembles the shared draft fields. A pre-existing draft
// keeps its id and generated_at; everything else is stamped fresh.
func (e *Engine) newBase(s *domain.Suggestion, existing *domain.DraftBase, runID, promptHash, responseHash string) domain.DraftBase {
	now := time.Now().UTC()
	base := domain.DraftBase{
		ID:          fmt.Sprintf("draft_%s", uuid.NewString()[:8]),
		Status:      domain.DraftStatusDraft,
		EditSource:  domain.EditSourceGenerated,
		GeneratedAt: now,
		UpdatedAt:   now,
		GeneratorMeta: domain.GeneratorMeta{
			Model:        e.cfg.Model,
			Temperature:  e.cfg.Temperature,
			PromptHash:   promptHash,
			ResponseHash: responseHash,
			RunID:        runID,
		},
	}
	if existing != nil {
		base.ID = existing.ID
		base.GeneratedAt = existing.GeneratedAt
	}

	ids := make([]string, 0, len(s.SourceTraces))
	seen := make(map[string]bool, len(s.SourceTraces))
	for _, ref := range s.SourceTraces {
		if ref.PatternID == "" || seen[ref.PatternID] {
			continue
		}
		seen[ref.PatternID] = true
		ids = append(ids, ref.PatternID)
	}
	base.SourcePatternIDs = ids
	return base
}

func (e *Engine) perItemTimeout() time.Duration {
	if e.cfg.PerItemTimeout <= 0 {
		return 45 * time.Second
	}
	return e.cfg.PerItemTimeout
}

func (e *Engine) maxTokens() int {
	if e.cfg.MaxTokens <= 0 {
		return 2048
	}
	return e.cfg.MaxTokens
}

func (e *Engine) recordTimeout(ctx context.Context, runID, suggestionID string, dryRun bool, reason string) domain.PerItemOutcome {
	if !dryRun {
		_ = e.errors.Record(ctx, &domain.DiagnosticError{
			RunID: runID, SourceID: suggestionID, ErrorType: domain.DiagTimeout,
			Message: reason, RecordedAt: time.Now().UTC(),
		})
	}
	return domain.PerItemOutcome{ItemID: suggestionID, Outcome: domain.OutcomeTimedOut, Detail: reason}
}

func (e *Engine) recordError(ctx context.Context, runID, suggestionID string, dryRun bool, errType domain.DiagnosticErrorType, cause error, responseHash string) domain.PerItemOutcome {
	if !dryRun {
		_ = e.errors.Record(ctx, &domain.DiagnosticError{
			RunID: runID, SourceID: suggestionID, ErrorType: errType,
			Message: cause.Error(), ResponseHash: responseHash, RecordedAt: time.Now().UTC(),
		})
	}
	return domain.PerItemOutcome{ItemID: suggestionID, Outcome: domain.OutcomeError, Detail: cause.Error()}
}

// StringSlice converts a decoded JSON array into []string, dropping
// non-string entries. Builders share it when lifting list fields out
// of model output.
func StringSlice(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func generateRunID(stage string) string {
	return fmt.Sprintf("%s_run_%s_%s", stage, time.Now().UTC().Format("20060102_150405"), uuid.NewString()[:8])
}
