// Package extraction implements the extraction stage: turning each
// unprocessed FailureCapture into a structured FailurePattern via a
// schema-enforced LLM call, run across a bounded worker pool.
package extraction

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/evalforge/evalforge/pkg/domain"
	"github.com/evalforge/evalforge/pkg/llm"
	"github.com/evalforge/evalforge/pkg/platform/ferrors"
	"github.com/evalforge/evalforge/pkg/platform/logging"
	"github.com/evalforge/evalforge/pkg/redact"
	"github.com/evalforge/evalforge/pkg/traceprep"
)

// maxWorkers bounds how many traces a single RunOnce call processes
// concurrently. Extraction and generation batches cap out at 4
// workers to keep LLM rate-limit risk down without going fully
// sequential.
const maxWorkers = 4

// evidenceExcerptLimit is how long a stored pattern's evidence
// excerpt may be after PII redaction.
const evidenceExcerptLimit = 500

// traceSource is the subset of *store.RawTraceRepository extraction
// needs to pull a batch and mark items processed.
type traceSource interface {
	Get(ctx context.Context, traceID string) (*domain.FailureCapture, error)
	ListUnprocessed(ctx context.Context, pageSize int64, cursor string) ([]domain.FailureCapture, string, error)
	MarkProcessed(ctx context.Context, traceID string) error
}

// patternSink is the subset of *store.FailurePatternRepository
// extraction needs to persist its output.
type patternSink interface {
	Upsert(ctx context.Context, pattern *domain.FailurePattern) error
}

// errorSink is the subset of *store.DiagnosticErrorRepository
// extraction needs to record a failed item.
type errorSink interface {
	Record(ctx context.Context, derr *domain.DiagnosticError) error
}

// runSink is the subset of *store.RunSummaryRepository extraction
// needs to persist a completed batch's summary.
type runSink interface {
	Create(ctx context.Context, summary *domain.RunSummary) error
}

// Config holds tunables RunOptions falls back to.
type Config struct {
	DefaultBatchSize int
	PerItemTimeout   time.Duration
}

// RunOptions is the body of POST /extraction/run-once.
type RunOptions struct {
	BatchSize   int
	DryRun      bool
	TriggeredBy domain.TriggeredBy
	TraceIDs    []string
}

// Service is the extraction stage.
type Service struct {
	llmClient llm.Client
	traces    traceSource
	patterns  patternSink
	errors    errorSink
	runs      runSink
	cfg       Config
	logger    *logrus.Logger
	tracer    oteltrace.Tracer

	cancelled atomic.Bool

	mu      sync.RWMutex
	lastRun *domain.RunSummary
}

// Health returns the most recent run's summary, written only at
// batch end.
func (s *Service) Health() *domain.RunSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastRun
}

// NewService wires a Service against its collaborators.
func NewService(llmClient llm.Client, traces traceSource, patterns patternSink, errs errorSink, runs runSink, cfg Config, logger *logrus.Logger) *Service {
	return &Service{
		llmClient: llmClient, traces: traces, patterns: patterns, errors: errs, runs: runs,
		cfg: cfg, logger: logger,
		tracer: otel.Tracer("evalforge/extraction"),
	}
}

// Cancel requests cooperative cancellation of the run in flight.
// Items that haven't yet passed their pre-call time-budget check are
// skipped as timed out rather than billed to the model.
func (s *Service) Cancel() {
	s.cancelled.Store(true)
}

// RunOnce pulls one batch of unprocessed traces through the
// per-trace pipeline and returns the run summary.
func (s *Service) RunOnce(ctx context.Context, opts RunOptions) (*domain.RunSummary, error) {
	s.cancelled.Store(false)

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = s.cfg.DefaultBatchSize
	}

	runID := generateRunID()
	startedAt := time.Now().UTC()

	traces, err := s.loadBatch(ctx, batchSize, opts.TraceIDs)
	if err != nil {
		return nil, ferrors.FailedTo("load extraction batch", err)
	}

	s.logger.WithFields(logging.PipelineFields("extraction", runID).Count(len(traces)).ToLogrus()).Info("run_started")

	outcomes := make([]domain.PerItemOutcome, len(traces))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxWorkers)

	for i := range traces {
		i := i
		trace := traces[i]
		g.Go(func() error {
			outcome := s.processTrace(gctx, runID, &trace, opts.DryRun)
			mu.Lock()
			outcomes[i] = outcome
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	counts := domain.RunCounts{PickedUp: len(traces)}
	for _, o := range outcomes {
		switch o.Outcome {
		case domain.OutcomeStored:
			counts.Stored++
		case domain.OutcomeSkipped:
			counts.Skipped++
		case domain.OutcomeTimedOut:
			counts.TimedOut++
		case domain.OutcomeValidationFailed, domain.OutcomeError:
			counts.Errored++
		}
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
		BatchSize:   len(traces),
		Counts:      counts,
		Items:       outcomes,
		DurationMS:  endedAt.Sub(startedAt).Milliseconds(),
	}

	if !opts.DryRun {
		if err := s.runs.Create(ctx, summary); err != nil {
			return nil, ferrors.FailedTo("persist extraction run summary", err)
		}
	}

	s.mu.Lock()
	s.lastRun = summary
	s.mu.Unlock()

	s.logger.WithFields(logging.PipelineFields("extraction", runID).Duration(endedAt.Sub(startedAt)).
		Custom("stored", counts.Stored).Custom("errored", counts.Errored).Custom("timed_out", counts.TimedOut).ToLogrus()).
		Info("run_completed")

	return summary, nil
}

func (s *Service) loadBatch(ctx context.Context, batchSize int, traceIDs []string) ([]domain.FailureCapture, error) {
	if len(traceIDs) > 0 {
		out := make([]domain.FailureCapture, 0, len(traceIDs))
		for _, id := range traceIDs {
			trace, err := s.traces.Get(ctx, id)
			if err != nil {
				if ferrors.KindOf(err) == ferrors.KindNotFound {
					continue
				}
				return nil, err
			}
			out = append(out, *trace)
		}
		return out, nil
	}
	items, _, err := s.traces.ListUnprocessed(ctx, int64(batchSize), "")
	return items, err
}

// processTrace runs the ten-step per-trace pipeline: validate,
// prepare/truncate, build prompt, enforce the time budget around the
// model call, classify the outcome, and persist.
func (s *Service) processTrace(ctx context.Context, runID string, trace *domain.FailureCapture, dryRun bool) domain.PerItemOutcome {
	fields := logging.NewFields().Component("extraction").Operation("extract").TraceID(trace.TraceID).Custom("run_id", runID)

	ctx, span := s.tracer.Start(ctx, "extraction.process_trace",
		oteltrace.WithAttributes(
			attribute.String("evalforge.trace_id", trace.TraceID),
			attribute.String("evalforge.run_id", runID),
		))
	defer span.End()

	itemCtx, cancel := context.WithTimeout(ctx, s.perItemTimeout())
	defer cancel()

	prepared, _, err := traceprep.Prepare(trace)
	if err != nil {
		s.logger.WithFields(fields.Error(err).ToLogrus()).Info("trace_skipped")
		return domain.PerItemOutcome{ItemID: trace.TraceID, Outcome: domain.OutcomeSkipped, Detail: err.Error()}
	}

	if s.cancelled.Load() || itemCtx.Err() != nil {
		return s.recordTimeout(ctx, runID, trace.TraceID, dryRun, "time budget exceeded before model call")
	}

	prompt := buildPrompt(trace.ServiceName, string(trace.Severity), prepared)

	result, err := s.llmClient.Generate(itemCtx, llm.GenerateRequest{
		Prompt:      prompt,
		Schema:      FailurePatternSchema,
		MaxTokens:   2048,
		Temperature: 0.2,
	})
	if err != nil {
		if itemCtx.Err() == context.DeadlineExceeded {
			return s.recordTimeout(ctx, runID, trace.TraceID, dryRun, "model call exceeded time budget")
		}
		return s.recordModelError(ctx, runID, trace.TraceID, dryRun, ferrors.FailedTo("call extraction model", err), "")
	}

	if itemCtx.Err() == context.DeadlineExceeded {
		return s.recordTimeout(ctx, runID, trace.TraceID, dryRun, "time budget exceeded after model call")
	}

	pattern, err := parseFailurePattern(trace.TraceID, result.Parsed)
	if err != nil {
		return s.recordValidationFailure(ctx, runID, trace.TraceID, dryRun, err, result.ResponseHash)
	}

	if s.cancelled.Load() {
		return domain.PerItemOutcome{ItemID: trace.TraceID, Outcome: domain.OutcomeSkipped, Detail: "run cancelled before store write"}
	}

	if !dryRun {
		if err := s.patterns.Upsert(ctx, pattern); err != nil {
			return s.recordModelError(ctx, runID, trace.TraceID, dryRun, ferrors.FailedTo("upsert failure pattern", err), result.ResponseHash)
		}
		if err := s.traces.MarkProcessed(ctx, trace.TraceID); err != nil {
			return s.recordModelError(ctx, runID, trace.TraceID, dryRun, ferrors.FailedTo("mark trace processed", err), result.ResponseHash)
		}
	}

	s.logger.WithFields(fields.Custom("failure_type", string(pattern.FailureType)).Custom("confidence", pattern.Confidence).ToLogrus()).Info("pattern_extracted")
	return domain.PerItemOutcome{ItemID: trace.TraceID, Outcome: domain.OutcomeStored}
}

func (s *Service) perItemTimeout() time.Duration {
	if s.cfg.PerItemTimeout <= 0 {
		return 60 * time.Second
	}
	return s.cfg.PerItemTimeout
}

func (s *Service) recordTimeout(ctx context.Context, runID, traceID string, dryRun bool, reason string) domain.PerItemOutcome {
	if !dryRun {
		_ = s.errors.Record(ctx, &domain.DiagnosticError{
			RunID: runID, SourceID: traceID, ErrorType: domain.DiagTimeout,
			Message: reason, RecordedAt: time.Now().UTC(),
		})
	}
	return domain.PerItemOutcome{ItemID: traceID, Outcome: domain.OutcomeTimedOut, Detail: reason}
}

func (s *Service) recordModelError(ctx context.Context, runID, traceID string, dryRun bool, cause error, responseHash string) domain.PerItemOutcome {
	if !dryRun {
		_ = s.errors.Record(ctx, &domain.DiagnosticError{
			RunID: runID, SourceID: traceID, ErrorType: domain.DiagModelError,
			Message: cause.Error(), ResponseHash: responseHash, RecordedAt: time.Now().UTC(),
		})
	}
	return domain.PerItemOutcome{ItemID: traceID, Outcome: domain.OutcomeError, Detail: cause.Error()}
}

func (s *Service) recordValidationFailure(ctx context.Context, runID, traceID string, dryRun bool, cause error, responseHash string) domain.PerItemOutcome {
	if !dryRun {
		_ = s.errors.Record(ctx, &domain.DiagnosticError{
			RunID: runID, SourceID: traceID, ErrorType: domain.DiagSchemaValidation,
			Message: cause.Error(), ResponseHash: responseHash, RecordedAt: time.Now().UTC(),
		})
	}
	return domain.PerItemOutcome{ItemID: traceID, Outcome: domain.OutcomeValidationFailed, Detail: cause.Error()}
}

// parseFailurePattern builds a FailurePattern from the LLM's decoded
// tool-call output, field by field rather than a blind json.Unmarshal,
// since the schema's snake_case property names don't match
// FailurePattern's external-API json tags.
func parseFailurePattern(traceID string, parsed map[string]any) (*domain.FailurePattern, error) {
	evidence := domain.Evidence{}
	if evMap, ok := parsed["evidence"].(map[string]any); ok {
		evidence.Signals = toStringSlice(evMap["signals"])
		if excerpt, ok := evMap["excerpt"].(string); ok {
			evidence.Excerpt = redact.RedactAndTruncate(excerpt, evidenceExcerptLimit)
		}
	}

	repro := domain.ReproductionContext{}
	if rcMap, ok := parsed["reproduction_context"].(map[string]any); ok {
		repro.InputPattern, _ = rcMap["input_pattern"].(string)
		repro.RequiredState, _ = rcMap["required_state"].(string)
		repro.ToolsInvolved = toStringSlice(rcMap["tools_involved"])
	}

	title, _ := parsed["title"].(string)
	failureType, _ := parsed["failure_type"].(string)
	triggerCondition, _ := parsed["trigger_condition"].(string)
	summary, _ := parsed["summary"].(string)
	rootCause, _ := parsed["root_cause_hypothesis"].(string)
	severity, _ := parsed["severity"].(string)
	confidence, _ := parsed["confidence"].(float64)
	confidenceRationale, _ := parsed["confidence_rationale"].(string)

	pattern := &domain.FailurePattern{
		SourceTraceID:       traceID,
		Title:               title,
		FailureType:         domain.FailureType(failureType),
		TriggerCondition:    triggerCondition,
		Summary:             summary,
		RootCauseHypothesis: rootCause,
		Evidence:            evidence,
		RecommendedActions:  toStringSlice(parsed["recommended_actions"]),
		ReproductionContext: repro,
		Severity:            domain.Severity(severity),
		Confidence:          confidence,
		ConfidenceRationale: confidenceRationale,
		ExtractedAt:         time.Now().UTC(),
		Processed:           false,
	}

	if problems := pattern.Validate(); len(problems) > 0 {
		return nil, ferrors.New(ferrors.KindSchemaValidation, fmt.Sprintf("extracted pattern failed validation: %v", problems), nil)
	}
	return pattern, nil
}

func toStringSlice(v any) []string {
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

func generateRunID() string {
	return fmt.Sprintf("run_%s_%s", time.Now().UTC().Format("20060102_150405"), uuid.NewString()[:8])
}
