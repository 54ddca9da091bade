package guardrail

import (
	"strings"
	"testing"

	"github.com/evalforge/evalforge/pkg/domain"
	"github.com/evalforge/evalforge/pkg/generator"
	"github.com/evalforge/evalforge/pkg/platform/ferrors"
)

func canonical(ft domain.FailureType) *domain.FailurePattern {
	return &domain.FailurePattern{SourceTraceID: "t-1", FailureType: ft}
}

func validParsed() map[string]any {
	return map[string]any{
		"title":     "Block repeated tool retries",
		"condition": "same tool invoked more than 5 times in one conversation turn",
		"action":    "block",
		"configuration": map[string]any{
			"max_invocations": float64(5),
			"window":          "turn",
		},
	}
}

func TestBuilder_ComposeDraftDerivesGuardrailType(t *testing.T) {
	cases := []struct {
		ft   domain.FailureType
		want domain.GuardrailType
	}{
		{domain.FailureRunawayLoop, domain.GuardrailRateLimit},
		{domain.FailureToxicity, domain.GuardrailContentFilter},
		{domain.FailurePIILeak, domain.GuardrailRedactionRule},
		{domain.FailurePromptInjection, domain.GuardrailInputSanitization},
		{domain.FailureClientError, domain.GuardrailValidationRule},
	}
	for _, tc := range cases {
		s := &domain.Suggestion{Type: domain.SuggestionGuardrail}
		if err := (Builder{}).ComposeDraft(s, canonical(tc.ft), validParsed(), domain.DraftBase{}); err != nil {
			t.Fatalf("ComposeDraft(%s) error = %v", tc.ft, err)
		}
		if got := s.SuggestionContent.Guardrail.GuardrailType; got != tc.want {
			t.Errorf("GuardrailType(%s) = %s, want %s", tc.ft, got, tc.want)
		}
	}
}

func TestBuilder_ComposeDraftStampsMappingVersion(t *testing.T) {
	s := &domain.Suggestion{}
	if err := (Builder{}).ComposeDraft(s, canonical(domain.FailureRunawayLoop), validParsed(), domain.DraftBase{}); err != nil {
		t.Fatalf("ComposeDraft() error = %v", err)
	}
	if got := s.SuggestionContent.Guardrail.GeneratorMeta.MappingVersion; got != MappingVersion {
		t.Errorf("MappingVersion = %q, want %q", got, MappingVersion)
	}
}

func TestBuilder_ComposeDraftFlagsPlaceholders(t *testing.T) {
	parsed := validParsed()
	parsed["configuration"] = map[string]any{"max_invocations": "TBD"}

	s := &domain.Suggestion{}
	if err := (Builder{}).ComposeDraft(s, canonical(domain.FailureRunawayLoop), parsed, domain.DraftBase{}); err != nil {
		t.Fatalf("ComposeDraft() error = %v", err)
	}
	draft := s.SuggestionContent.Guardrail
	if draft.Status != domain.DraftStatusNeedsHumanInput {
		t.Errorf("Status = %s, want needs_human_input for a placeholder configuration", draft.Status)
	}
	if draft.Reason == "" {
		t.Error("expected an explicit reason on the overridden draft")
	}
}

func TestBuilder_ComposeDraftRejectsEmptyConfiguration(t *testing.T) {
	parsed := validParsed()
	parsed["configuration"] = map[string]any{}

	err := (Builder{}).ComposeDraft(&domain.Suggestion{}, canonical(domain.FailureRunawayLoop), parsed, domain.DraftBase{})
	if ferrors.KindOf(err) != ferrors.KindSchemaValidation {
		t.Errorf("KindOf(err) = %s, want schema_validation", ferrors.KindOf(err))
	}
}

func TestBuilder_BuildPromptNamesTargetGuardrailType(t *testing.T) {
	prompt := Builder{}.BuildPrompt(
		&generator.SuggestionView{ID: "sugg_1", SourceCount: 1},
		&generator.PatternView{FailureType: "runaway_loop", TriggerCondition: "tool retry storm"},
	)
	if !strings.Contains(prompt, "rate_limit") {
		t.Error("prompt should name the derived guardrail type")
	}
	if !strings.Contains(prompt, "tool retry storm") {
		t.Error("prompt should carry the trigger condition")
	}
}

func TestContainsPlaceholder(t *testing.T) {
	cases := []struct {
		condition string
		config    map[string]any
		want      bool
	}{
		{"real condition", map[string]any{"threshold": float64(5)}, false},
		{"todo: decide", map[string]any{"threshold": float64(5)}, true},
		{"real condition", map[string]any{"threshold": "[value]"}, true},
		{"real condition", map[string]any{"note": "fixme later"}, true},
	}
	for _, tc := range cases {
		if got := containsPlaceholder(tc.condition, "block", tc.config); got != tc.want {
			t.Errorf("containsPlaceholder(%q, %v) = %v, want %v", tc.condition, tc.config, got, tc.want)
		}
	}
}

func TestBuilder_TemplateDraftUsesSuggestionFailureType(t *testing.T) {
	s := &domain.Suggestion{Pattern: domain.PatternSummary{FailureType: domain.FailureRunawayLoop}}
	Builder{}.TemplateDraft(s, domain.DraftBase{Status: domain.DraftStatusNeedsHumanInput})
	if s.SuggestionContent.Guardrail.GuardrailType != domain.GuardrailRateLimit {
		t.Errorf("GuardrailType = %s, want rate_limit", s.SuggestionContent.Guardrail.GuardrailType)
	}
}
