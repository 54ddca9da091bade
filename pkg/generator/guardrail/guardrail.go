// Package guardrail generates guardrail-rule drafts for suggestions
// of type guardrail: a declarative runtime-enforcement rule derived
// from the captured failure, typed by a versioned failure-type
// mapping.
package guardrail

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/evalforge/evalforge/pkg/domain"
	"github.com/evalforge/evalforge/pkg/generator"
	"github.com/evalforge/evalforge/pkg/platform/ferrors"
)

// MappingVersion identifies the failure-type → guardrail-type mapping
// stamped into generator_meta, so a future mapping revision can tell
// old drafts apart from new ones.
const MappingVersion = "v1"

// placeholderTokens force a generated configuration into
// needs_human_input when any of them survives into the rendered rule.
var placeholderTokens = []string{"todo", "tbd", "[value]", "xxx", "fixme", "placeholder", "<fill"}

const guardrailSchemaJSON = `{
  "type": "object",
  "properties": {
    "title": {"type": "string"},
    "condition": {"type": "string"},
    "action": {"type": "string"},
    "configuration": {"type": "object"}
  },
  "required": ["title", "condition", "action", "configuration"]
}`

// GuardrailSchema is the JSON Schema enforced on guardrail generation output.
var GuardrailSchema = json.RawMessage(guardrailSchemaJSON)

const promptTemplate = `<|system|>
You are writing a runtime guardrail rule for a production LLM failure that EvalForge captured and distilled.
Return a single JSON object matching the required schema. The rule will be enforced by a policy engine at request time.

RULES
- condition states precisely when the rule fires, in terms of observable request/response properties.
- action states what the enforcement layer does when the condition fires (block, rewrite, flag, rate-limit).
- configuration holds the concrete, fully-specified parameters the policy engine needs. Every value must be real; never emit todo/tbd/placeholder values.
- The rule targets a %s-style guardrail; shape the configuration accordingly.
<|user|>
Failure type: %s
Severity: %s
Trigger condition: %s
Pattern summary: %s
Root cause hypothesis: %s
Evidence signals: %s
Reproduction input: %s
This suggestion clusters %d source failure(s).
<|assistant|>
Respond with exactly one JSON object matching the required schema. No prose.`

// Builder supplies the guardrail-specific pieces of the shared
// generation pipeline.
type Builder struct{}

func (Builder) Type() domain.SuggestionType { return domain.SuggestionGuardrail }
func (Builder) Stage() string               { return "guardrail" }
func (Builder) Schema() json.RawMessage     { return GuardrailSchema }

func (Builder) BuildPrompt(s *generator.SuggestionView, canonical *generator.PatternView) string {
	guardrailType := domain.GuardrailMappingV1(domain.FailureType(canonical.FailureType))
	return fmt.Sprintf(promptTemplate,
		guardrailType,
		canonical.FailureType,
		canonical.Severity,
		canonical.TriggerCondition,
		canonical.Summary,
		canonical.RootCauseHypothesis,
		strings.Join(canonical.Signals, "; "),
		canonical.InputPattern,
		s.SourceCount,
	)
}

func (Builder) ComposeDraft(s *domain.Suggestion, canonical *domain.FailurePattern, parsed map[string]any, base domain.DraftBase) error {
	title, _ := parsed["title"].(string)
	condition, _ := parsed["condition"].(string)
	action, _ := parsed["action"].(string)
	configuration, _ := parsed["configuration"].(map[string]any)

	if condition == "" || action == "" {
		return ferrors.New(ferrors.KindSchemaValidation, "guardrail draft is missing condition or action", nil)
	}
	if len(configuration) == 0 {
		return ferrors.New(ferrors.KindSchemaValidation, "guardrail draft has an empty configuration", nil)
	}

	base.Title = generator.Sanitize(title, generator.CapTitle)
	base.GeneratorMeta.MappingVersion = MappingVersion

	if containsPlaceholder(condition, action, configuration) {
		base.Status = domain.DraftStatusNeedsHumanInput
		base.Reason = "generated configuration contains placeholder tokens"
	}

	s.SuggestionContent.Guardrail = &domain.GuardrailDraft{
		DraftBase:     base,
		GuardrailType: domain.GuardrailMappingV1(canonical.FailureType),
		Condition:     generator.Sanitize(condition, generator.CapLongText),
		Action:        generator.Sanitize(action, generator.CapShortText),
		Configuration: configuration,
	}
	return nil
}

func (Builder) TemplateDraft(s *domain.Suggestion, base domain.DraftBase) {
	base.Title = "Guardrail rule needs human input"
	base.GeneratorMeta.MappingVersion = MappingVersion

	guardrailType := domain.GuardrailValidationRule
	if s.Pattern.FailureType != "" {
		guardrailType = domain.GuardrailMappingV1(s.Pattern.FailureType)
	}

	s.SuggestionContent.Guardrail = &domain.GuardrailDraft{
		DraftBase:     base,
		GuardrailType: guardrailType,
		Condition:     "Describe when this rule should fire.",
		Action:        "block",
		Configuration: map[string]any{"needs_human_input": true},
	}
}

func (Builder) ExistingBase(s *domain.Suggestion) *domain.DraftBase {
	if s.SuggestionContent.Guardrail == nil {
		return nil
	}
	return &s.SuggestionContent.Guardrail.DraftBase
}

// containsPlaceholder scans the rendered rule for tokens that mean
// the model punted on a concrete value.
func containsPlaceholder(condition, action string, configuration map[string]any) bool {
	rendered, err := json.Marshal(configuration)
	if err != nil {
		return true
	}
	haystack := strings.ToLower(condition + "\n" + action + "\n" + string(rendered))
	for _, token := range placeholderTokens {
		if strings.Contains(haystack, token) {
			return true
		}
	}
	return false
}
