package generator

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/evalforge/evalforge/pkg/domain"
	"github.com/evalforge/evalforge/pkg/llm"
	"github.com/evalforge/evalforge/pkg/platform/ferrors"
	"github.com/evalforge/evalforge/pkg/store"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

// testBuilder is a minimal Builder that writes into the eval slot, so
// the engine's shared pipeline can be exercised without importing a
// real artifact subpackage.
type testBuilder struct{}

func (testBuilder) Type() domain.SuggestionType { return domain.SuggestionEval }
func (testBuilder) Stage() string               { return "eval_test" }
func (testBuilder) Schema() json.RawMessage     { return json.RawMessage(`{"type":"object"}`) }

func (testBuilder) BuildPrompt(s *SuggestionView, canonical *PatternView) string {
	return "generate for " + s.ID + " from " + canonical.FailureType
}

func (testBuilder) ComposeDraft(s *domain.Suggestion, _ *domain.FailurePattern, parsed map[string]any, base domain.DraftBase) error {
	name, _ := parsed["test_name"].(string)
	if name == "" {
		return ferrors.New(ferrors.KindSchemaValidation, "missing test_name", nil)
	}
	base.Title = name
	s.SuggestionContent.Eval = &domain.EvalTestDraft{DraftBase: base, TestName: name}
	return nil
}

func (testBuilder) TemplateDraft(s *domain.Suggestion, base domain.DraftBase) {
	base.Title = "template"
	s.SuggestionContent.Eval = &domain.EvalTestDraft{DraftBase: base, TestName: "test_template"}
}

func (testBuilder) ExistingBase(s *domain.Suggestion) *domain.DraftBase {
	if s.SuggestionContent.Eval == nil {
		return nil
	}
	return &s.SuggestionContent.Eval.DraftBase
}

type fakeSuggestions struct {
	docs map[string]*domain.Suggestion
	puts []*domain.Suggestion
}

func newFakeSuggestions(docs ...*domain.Suggestion) *fakeSuggestions {
	f := &fakeSuggestions{docs: map[string]*domain.Suggestion{}}
	for _, d := range docs {
		f.docs[d.SuggestionID] = d
	}
	return f
}

func (f *fakeSuggestions) Get(_ context.Context, id string) (*domain.Suggestion, error) {
	d, ok := f.docs[id]
	if !ok {
		return nil, ferrors.New(ferrors.KindNotFound, "suggestion not found", nil)
	}
	copied := *d
	return &copied, nil
}

func (f *fakeSuggestions) List(_ context.Context, filter store.ListFilter, _ int64, _ string) ([]domain.Suggestion, string, error) {
	var out []domain.Suggestion
	for _, d := range f.docs {
		if filter.Status != "" && d.Status != filter.Status {
			continue
		}
		if filter.Type != "" && d.Type != filter.Type {
			continue
		}
		out = append(out, *d)
	}
	return out, "", nil
}

func (f *fakeSuggestions) Put(_ context.Context, s *domain.Suggestion) error {
	copied := *s
	f.docs[s.SuggestionID] = &copied
	f.puts = append(f.puts, &copied)
	return nil
}

type fakePatterns struct {
	docs map[string]*domain.FailurePattern
}

func (f *fakePatterns) Get(_ context.Context, id string) (*domain.FailurePattern, error) {
	d, ok := f.docs[id]
	if !ok {
		return nil, ferrors.New(ferrors.KindNotFound, "pattern not found", nil)
	}
	return d, nil
}

type fakeErrors struct {
	recorded []*domain.DiagnosticError
}

func (f *fakeErrors) Record(_ context.Context, derr *domain.DiagnosticError) error {
	f.recorded = append(f.recorded, derr)
	return nil
}

type fakeRuns struct {
	created []*domain.RunSummary
}

func (f *fakeRuns) Create(_ context.Context, summary *domain.RunSummary) error {
	f.created = append(f.created, summary)
	return nil
}

func pendingSuggestion(id string) *domain.Suggestion {
	return &domain.Suggestion{
		SuggestionID: id,
		Type:         domain.SuggestionEval,
		Status:       domain.StatusPending,
		Severity:     domain.SeverityHigh,
		SourceTraces: []domain.SourceTraceRef{{TraceID: "t-1", PatternID: "t-1"}},
		Pattern:      domain.PatternSummary{FailureType: domain.FailureHallucination, TriggerCondition: "made up a fact"},
	}
}

func patternFor(id string, confidence float64, extractedAt time.Time) *domain.FailurePattern {
	return &domain.FailurePattern{
		SourceTraceID:       id,
		FailureType:         domain.FailureHallucination,
		TriggerCondition:    "made up a fact",
		Confidence:          confidence,
		ExtractedAt:         extractedAt,
		ReproductionContext: domain.ReproductionContext{InputPattern: "What year was the Eiffel Tower built?"},
	}
}

func newTestEngine(suggestions *fakeSuggestions, patterns *fakePatterns, client llm.Client, cfg Config) (*Engine, *fakeErrors, *fakeRuns) {
	errs := &fakeErrors{}
	runs := &fakeRuns{}
	if cfg.DefaultBatchSize == 0 {
		cfg.DefaultBatchSize = 10
	}
	return NewEngine(testBuilder{}, client, suggestions, patterns, errs, runs, cfg, testLogger()), errs, runs
}

func TestEngine_Generate_NotFound(t *testing.T) {
	engine, _, _ := newTestEngine(newFakeSuggestions(), &fakePatterns{docs: map[string]*domain.FailurePattern{}}, &llm.MockClient{}, Config{})

	_, err := engine.Generate(context.Background(), "missing", false)
	if ferrors.KindOf(err) != ferrors.KindNotFound {
		t.Errorf("KindOf(err) = %s, want not_found", ferrors.KindOf(err))
	}
}

func TestEngine_Generate_WrongType(t *testing.T) {
	s := pendingSuggestion("sugg_1")
	s.Type = domain.SuggestionRunbook
	engine, _, _ := newTestEngine(newFakeSuggestions(s), &fakePatterns{docs: map[string]*domain.FailurePattern{}}, &llm.MockClient{}, Config{})

	_, err := engine.Generate(context.Background(), "sugg_1", false)
	if ferrors.KindOf(err) != ferrors.KindWrongType {
		t.Errorf("KindOf(err) = %s, want wrong_type", ferrors.KindOf(err))
	}
}

func TestEngine_Generate_OverwriteBlockedForHumanEdits(t *testing.T) {
	s := pendingSuggestion("sugg_2")
	s.SuggestionContent.Eval = &domain.EvalTestDraft{DraftBase: domain.DraftBase{ID: "draft_old", EditSource: domain.EditSourceHuman}}
	suggestions := newFakeSuggestions(s)
	engine, _, _ := newTestEngine(suggestions, &fakePatterns{docs: map[string]*domain.FailurePattern{}}, &llm.MockClient{}, Config{})

	_, err := engine.Generate(context.Background(), "sugg_2", false)
	if ferrors.KindOf(err) != ferrors.KindOverwriteBlocked {
		t.Errorf("KindOf(err) = %s, want overwrite_blocked", ferrors.KindOf(err))
	}
	if len(suggestions.puts) != 0 {
		t.Error("a blocked overwrite must not mutate the suggestion")
	}
}

func TestEngine_Generate_ForceOverwriteRegeneratesHumanDraft(t *testing.T) {
	s := pendingSuggestion("sugg_3")
	generatedAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.SuggestionContent.Eval = &domain.EvalTestDraft{DraftBase: domain.DraftBase{ID: "draft_old", EditSource: domain.EditSourceHuman, GeneratedAt: generatedAt}}
	suggestions := newFakeSuggestions(s)
	patterns := &fakePatterns{docs: map[string]*domain.FailurePattern{"t-1": patternFor("t-1", 0.9, time.Now())}}
	client := &llm.MockClient{Response: &llm.GenerateResult{Parsed: map[string]any{"test_name": "test_regen"}, PromptHash: "ph", ResponseHash: "rh"}}
	engine, _, _ := newTestEngine(suggestions, patterns, client, Config{})

	updated, err := engine.Generate(context.Background(), "sugg_3", true)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	draft := updated.SuggestionContent.Eval
	if draft.TestName != "test_regen" {
		t.Errorf("TestName = %q, want test_regen", draft.TestName)
	}
	if draft.ID != "draft_old" {
		t.Errorf("draft id = %q, want the pre-existing id preserved", draft.ID)
	}
	if !draft.GeneratedAt.Equal(generatedAt) {
		t.Error("expected generated_at to be preserved on overwrite")
	}
	if draft.EditSource != domain.EditSourceGenerated {
		t.Errorf("EditSource = %s, want generated", draft.EditSource)
	}
}

func TestEngine_Generate_StoredDraftCarriesProvenance(t *testing.T) {
	s := pendingSuggestion("sugg_4")
	suggestions := newFakeSuggestions(s)
	patterns := &fakePatterns{docs: map[string]*domain.FailurePattern{"t-1": patternFor("t-1", 0.9, time.Now())}}
	client := &llm.MockClient{Response: &llm.GenerateResult{Parsed: map[string]any{"test_name": "test_x"}, PromptHash: "ph", ResponseHash: "rh"}}
	engine, _, _ := newTestEngine(suggestions, patterns, client, Config{Model: "claude-3-5-sonnet-20241022", Temperature: 0.3})

	updated, err := engine.Generate(context.Background(), "sugg_4", false)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	meta := updated.SuggestionContent.Eval.GeneratorMeta
	if meta.PromptHash != "ph" || meta.ResponseHash != "rh" {
		t.Error("expected prompt/response hashes to be stamped into generator_meta")
	}
	if meta.Model != "claude-3-5-sonnet-20241022" {
		t.Errorf("Model = %q", meta.Model)
	}
	if meta.RunID == "" {
		t.Error("expected a run id in generator_meta")
	}
	if updated.SuggestionContent.Eval.Status != domain.DraftStatusDraft {
		t.Errorf("Status = %s, want draft", updated.SuggestionContent.Eval.Status)
	}
}

func TestEngine_Generate_TemplateFallbackWhenNoPattern(t *testing.T) {
	s := pendingSuggestion("sugg_5")
	suggestions := newFakeSuggestions(s)
	client := &llm.MockClient{}
	engine, _, _ := newTestEngine(suggestions, &fakePatterns{docs: map[string]*domain.FailurePattern{}}, client, Config{})

	updated, err := engine.Generate(context.Background(), "sugg_5", false)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	draft := updated.SuggestionContent.Eval
	if draft.Status != domain.DraftStatusNeedsHumanInput {
		t.Errorf("Status = %s, want needs_human_input", draft.Status)
	}
	if draft.Reason == "" {
		t.Error("expected a template draft to carry an explicit reason")
	}
	if len(client.Calls) != 0 {
		t.Error("a template fallback must not call the model")
	}
}

func TestEngine_Generate_TemplateFallbackWhenInputPatternEmpty(t *testing.T) {
	s := pendingSuggestion("sugg_6")
	p := patternFor("t-1", 0.9, time.Now())
	p.ReproductionContext.InputPattern = ""
	suggestions := newFakeSuggestions(s)
	engine, _, _ := newTestEngine(suggestions, &fakePatterns{docs: map[string]*domain.FailurePattern{"t-1": p}}, &llm.MockClient{}, Config{})

	updated, err := engine.Generate(context.Background(), "sugg_6", false)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if updated.SuggestionContent.Eval.Status != domain.DraftStatusNeedsHumanInput {
		t.Error("expected template fallback for a pattern with no reproduction input")
	}
}

func TestEngine_Generate_ValidationFailureRecordsDiagnostic(t *testing.T) {
	s := pendingSuggestion("sugg_7")
	suggestions := newFakeSuggestions(s)
	patterns := &fakePatterns{docs: map[string]*domain.FailurePattern{"t-1": patternFor("t-1", 0.9, time.Now())}}
	client := &llm.MockClient{Response: &llm.GenerateResult{Parsed: map[string]any{}, ResponseHash: "rh"}}
	engine, errs, _ := newTestEngine(suggestions, patterns, client, Config{})

	_, err := engine.Generate(context.Background(), "sugg_7", false)
	if ferrors.KindOf(err) != ferrors.KindSchemaValidation {
		t.Errorf("KindOf(err) = %s, want schema_validation", ferrors.KindOf(err))
	}
	if len(errs.recorded) != 1 || errs.recorded[0].ErrorType != domain.DiagSchemaValidation {
		t.Error("expected a schema_validation diagnostic record")
	}
	if len(suggestions.puts) != 0 {
		t.Error("a validation failure must not mutate the suggestion")
	}
}

func TestEngine_Generate_TimeoutDoesNotMutateSuggestion(t *testing.T) {
	s := pendingSuggestion("sugg_8")
	suggestions := newFakeSuggestions(s)
	patterns := &fakePatterns{docs: map[string]*domain.FailurePattern{"t-1": patternFor("t-1", 0.9, time.Now())}}
	engine, errs, _ := newTestEngine(suggestions, patterns, &slowClient{delay: 30 * time.Millisecond}, Config{PerItemTimeout: time.Millisecond})

	_, err := engine.Generate(context.Background(), "sugg_8", false)
	if ferrors.KindOf(err) != ferrors.KindTimeout {
		t.Errorf("KindOf(err) = %s, want timeout", ferrors.KindOf(err))
	}
	if len(errs.recorded) != 1 || errs.recorded[0].ErrorType != domain.DiagTimeout {
		t.Error("expected a timeout diagnostic record")
	}
	if len(suggestions.puts) != 0 {
		t.Error("a timed-out generation must not mutate the suggestion")
	}
}

func TestEngine_RunOnce_ProcessesPendingWithoutDrafts(t *testing.T) {
	withDraft := pendingSuggestion("sugg_has_draft")
	withDraft.SuggestionContent.Eval = &domain.EvalTestDraft{DraftBase: domain.DraftBase{ID: "draft_x"}}
	fresh := pendingSuggestion("sugg_fresh")
	approved := pendingSuggestion("sugg_approved")
	approved.Status = domain.StatusApproved

	suggestions := newFakeSuggestions(withDraft, fresh, approved)
	patterns := &fakePatterns{docs: map[string]*domain.FailurePattern{"t-1": patternFor("t-1", 0.9, time.Now())}}
	client := &llm.MockClient{Response: &llm.GenerateResult{Parsed: map[string]any{"test_name": "test_y"}}}
	engine, _, runs := newTestEngine(suggestions, patterns, client, Config{})

	summary, err := engine.RunOnce(context.Background(), RunOptions{})
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if summary.Counts.PickedUp != 1 {
		t.Errorf("PickedUp = %d, want 1 (only the pending, draft-less suggestion)", summary.Counts.PickedUp)
	}
	if summary.Counts.Stored != 1 {
		t.Errorf("Stored = %d, want 1", summary.Counts.Stored)
	}
	if suggestions.docs["sugg_fresh"].SuggestionContent.Eval == nil {
		t.Error("expected the fresh suggestion to gain a draft")
	}
	if len(runs.created) != 1 {
		t.Errorf("expected one persisted run summary, got %d", len(runs.created))
	}
}

func TestEngine_RunOnce_BudgetExhaustionFallsBackToTemplate(t *testing.T) {
	first := pendingSuggestion("sugg_a")
	second := pendingSuggestion("sugg_b")
	suggestions := newFakeSuggestions(first, second)
	patterns := &fakePatterns{docs: map[string]*domain.FailurePattern{"t-1": patternFor("t-1", 0.9, time.Now())}}
	client := &llm.MockClient{Response: &llm.GenerateResult{Parsed: map[string]any{"test_name": "test_z"}}}
	// Budget covers exactly one item, so the second must template out.
	engine, _, _ := newTestEngine(suggestions, patterns, client, Config{PerItemCostBudget: 1.0, RunCostBudget: 1.0})

	summary, err := engine.RunOnce(context.Background(), RunOptions{SuggestionIDs: []string{"sugg_a", "sugg_b"}})
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if len(client.Calls) != 1 {
		t.Errorf("expected exactly one model call under the budget, got %d", len(client.Calls))
	}
	if summary.Counts.Stored != 2 {
		t.Errorf("Stored = %d, want 2 (one generated, one template)", summary.Counts.Stored)
	}
	templates := 0
	for _, id := range []string{"sugg_a", "sugg_b"} {
		if suggestions.docs[id].SuggestionContent.Eval.Status == domain.DraftStatusNeedsHumanInput {
			templates++
		}
	}
	if templates != 1 {
		t.Errorf("expected exactly one template draft, got %d", templates)
	}
}

func TestEngine_Generate_RateLimitRefundsBudget(t *testing.T) {
	s := pendingSuggestion("sugg_rl")
	suggestions := newFakeSuggestions(s)
	patterns := &fakePatterns{docs: map[string]*domain.FailurePattern{"t-1": patternFor("t-1", 0.9, time.Now())}}
	client := &llm.MockClient{Err: ferrors.New(ferrors.KindRateLimited, "upstream 429", nil)}
	engine, _, _ := newTestEngine(suggestions, patterns, client, Config{PerItemCostBudget: 1.0, RunCostBudget: 5.0})

	budget := NewBudget(5.0, 1, 1.0)
	_, _, err := engine.generateItem(context.Background(), "run_test", "sugg_rl", false, false, budget)
	if ferrors.KindOf(err) != ferrors.KindRateLimited {
		t.Errorf("KindOf(err) = %s, want rate_limited", ferrors.KindOf(err))
	}
	if budget.Remaining() != 1.0 {
		t.Errorf("Remaining = %v, want the full 1.0 refunded", budget.Remaining())
	}
}

func TestSelectCanonical_HighestConfidenceWins(t *testing.T) {
	s := pendingSuggestion("sugg_c")
	s.SourceTraces = []domain.SourceTraceRef{
		{TraceID: "t-1", PatternID: "t-1"},
		{TraceID: "t-2", PatternID: "t-2"},
	}
	patterns := &fakePatterns{docs: map[string]*domain.FailurePattern{
		"t-1": patternFor("t-1", 0.6, time.Now()),
		"t-2": patternFor("t-2", 0.9, time.Now().Add(-time.Hour)),
	}}
	engine, _, _ := newTestEngine(newFakeSuggestions(s), patterns, &llm.MockClient{}, Config{})

	canonical := engine.selectCanonical(context.Background(), s)
	if canonical.SourceTraceID != "t-2" {
		t.Errorf("canonical = %s, want t-2 (highest confidence)", canonical.SourceTraceID)
	}
}

func TestSelectCanonical_TieBreaksMostRecent(t *testing.T) {
	s := pendingSuggestion("sugg_d")
	s.SourceTraces = []domain.SourceTraceRef{
		{TraceID: "t-1", PatternID: "t-1"},
		{TraceID: "t-2", PatternID: "t-2"},
	}
	older := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(48 * time.Hour)
	patterns := &fakePatterns{docs: map[string]*domain.FailurePattern{
		"t-1": patternFor("t-1", 0.8, older),
		"t-2": patternFor("t-2", 0.8, newer),
	}}
	engine, _, _ := newTestEngine(newFakeSuggestions(s), patterns, &llm.MockClient{}, Config{})

	canonical := engine.selectCanonical(context.Background(), s)
	if canonical.SourceTraceID != "t-2" {
		t.Errorf("canonical = %s, want t-2 (most recent extraction)", canonical.SourceTraceID)
	}
}

// slowClient sleeps past the caller's deadline so per-item timeouts
// fire deterministically.
type slowClient struct {
	delay time.Duration
}

func (c *slowClient) Generate(ctx context.Context, _ llm.GenerateRequest) (*llm.GenerateResult, error) {
	timer := time.NewTimer(c.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, ctx.Err()
	}
}
