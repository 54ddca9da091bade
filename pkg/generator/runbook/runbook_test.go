package runbook

import (
	"strings"
	"testing"

	"github.com/evalforge/evalforge/pkg/domain"
	"github.com/evalforge/evalforge/pkg/generator"
	"github.com/evalforge/evalforge/pkg/platform/ferrors"
)

func TestBuilder_ComposeDraft(t *testing.T) {
	s := &domain.Suggestion{Type: domain.SuggestionRunbook}
	parsed := map[string]any{
		"title":       "Vector store connection exhaustion",
		"symptom":     "p99 latency alert on retrieval plus connection-refused errors in service logs",
		"diagnostics": []any{"check connection pool saturation dashboard", "grep logs for 'connection refused'"},
		"remediation": []any{"restart the pooler", "raise max_connections"},
		"escalation":  "page the storage on-call after 30 minutes",
	}

	if err := (Builder{}).ComposeDraft(s, nil, parsed, domain.DraftBase{ID: "draft_1"}); err != nil {
		t.Fatalf("ComposeDraft() error = %v", err)
	}
	draft := s.SuggestionContent.Runbook
	if draft == nil {
		t.Fatal("expected the runbook slot to be populated")
	}
	if len(draft.Diagnostics) != 2 || len(draft.Remediation) != 2 {
		t.Errorf("Diagnostics/Remediation = %d/%d entries, want 2/2", len(draft.Diagnostics), len(draft.Remediation))
	}
	if draft.Escalation == "" {
		t.Error("expected the escalation path to be carried over")
	}
}

func TestBuilder_ComposeDraftRejectsMissingRemediation(t *testing.T) {
	err := (Builder{}).ComposeDraft(&domain.Suggestion{}, nil, map[string]any{
		"title":   "t",
		"symptom": "something is broken",
	}, domain.DraftBase{})
	if ferrors.KindOf(err) != ferrors.KindSchemaValidation {
		t.Errorf("KindOf(err) = %s, want schema_validation", ferrors.KindOf(err))
	}
}

func TestBuilder_BuildPromptCarriesTriageActions(t *testing.T) {
	prompt := Builder{}.BuildPrompt(
		&generator.SuggestionView{ID: "sugg_1", SourceCount: 3},
		&generator.PatternView{
			FailureType:        "infrastructure_error",
			TriggerCondition:   "db connection refused",
			RecommendedActions: []string{"restart the pooler"},
			ToolsInvolved:      []string{"vector_search"},
		},
	)
	for _, want := range []string{"infrastructure_error", "restart the pooler", "vector_search", "3 source failure(s)"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestBuilder_TemplateDraft(t *testing.T) {
	s := &domain.Suggestion{}
	Builder{}.TemplateDraft(s, domain.DraftBase{Status: domain.DraftStatusNeedsHumanInput, Reason: "no source pattern"})
	draft := s.SuggestionContent.Runbook
	if draft == nil || draft.Status != domain.DraftStatusNeedsHumanInput {
		t.Fatal("expected a needs_human_input template draft")
	}
	if len(draft.Remediation) == 0 {
		t.Error("template must still carry placeholder remediation steps")
	}
}
