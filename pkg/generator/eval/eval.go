// Package eval generates evaluation test drafts for suggestions of
// type eval: a regression test a CI harness can run against the model
// to catch the captured failure recurring.
package eval

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/evalforge/evalforge/pkg/domain"
	"github.com/evalforge/evalforge/pkg/generator"
	"github.com/evalforge/evalforge/pkg/platform/ferrors"
)

const evalSchemaJSON = `{
  "type": "object",
  "properties": {
    "title": {"type": "string"},
    "test_name": {"type": "string"},
    "input": {"type": "string"},
    "expected_behavior": {"type": "string"},
    "assertion_type": {
      "type": "string",
      "enum": ["contains", "not_contains", "exact_match", "regex", "semantic_similarity", "llm_judge"]
    },
    "tags": {"type": "array", "items": {"type": "string"}}
  },
  "required": ["title", "test_name", "input", "expected_behavior", "assertion_type"]
}`

// EvalSchema is the JSON Schema enforced on eval-test generation output.
var EvalSchema = json.RawMessage(evalSchemaJSON)

const promptTemplate = `<|system|>
You are writing a regression evaluation test for a production LLM failure that EvalForge captured and distilled.
Return a single JSON object matching the required schema. The test must fail against the captured behavior and pass once the failure is fixed.

RULES
- test_name must be a valid python identifier in snake_case, prefixed "test_".
- input must reproduce the failing scenario; base it on the reproduction input below, not on your imagination.
- expected_behavior describes what a correct response looks like, concretely enough to assert on.
- assertion_type picks the weakest assertion that still catches the failure.
<|user|>
Failure type: %s
Severity: %s
Trigger condition: %s
Pattern summary: %s
Root cause hypothesis: %s
Evidence signals: %s
Reproduction input: %s
Required state: %s
Tools involved: %s
This suggestion clusters %d source failure(s).
<|assistant|>
Respond with exactly one JSON object matching the required schema. No prose.`

// Builder supplies the eval-specific pieces of the shared generation
// pipeline.
type Builder struct{}

func (Builder) Type() domain.SuggestionType { return domain.SuggestionEval }
func (Builder) Stage() string               { return "eval_test" }
func (Builder) Schema() json.RawMessage     { return EvalSchema }

func (Builder) BuildPrompt(s *generator.SuggestionView, canonical *generator.PatternView) string {
	return fmt.Sprintf(promptTemplate,
		canonical.FailureType,
		canonical.Severity,
		canonical.TriggerCondition,
		canonical.Summary,
		canonical.RootCauseHypothesis,
		strings.Join(canonical.Signals, "; "),
		canonical.InputPattern,
		canonical.RequiredState,
		strings.Join(canonical.ToolsInvolved, ", "),
		s.SourceCount,
	)
}

func (Builder) ComposeDraft(s *domain.Suggestion, _ *domain.FailurePattern, parsed map[string]any, base domain.DraftBase) error {
	title, _ := parsed["title"].(string)
	testName, _ := parsed["test_name"].(string)
	input, _ := parsed["input"].(string)
	expected, _ := parsed["expected_behavior"].(string)
	assertion, _ := parsed["assertion_type"].(string)

	if testName == "" || input == "" || expected == "" {
		return ferrors.New(ferrors.KindSchemaValidation, "eval draft is missing test_name, input, or expected_behavior", nil)
	}

	base.Title = generator.Sanitize(title, generator.CapTitle)
	if base.Title == "" {
		base.Title = generator.Sanitize(testName, generator.CapTitle)
	}

	s.SuggestionContent.Eval = &domain.EvalTestDraft{
		DraftBase:        base,
		TestName:         generator.Sanitize(testName, generator.CapTitle),
		Input:            generator.Sanitize(input, generator.CapLongText),
		ExpectedBehavior: generator.Sanitize(expected, generator.CapLongText),
		AssertionType:    generator.Sanitize(assertion, generator.CapShortText),
		Tags:             generator.SanitizeStrings(generator.StringSlice(parsed["tags"]), generator.CapListEntry),
	}
	return nil
}

func (Builder) TemplateDraft(s *domain.Suggestion, base domain.DraftBase) {
	base.Title = "Eval test needs human input"
	s.SuggestionContent.Eval = &domain.EvalTestDraft{
		DraftBase:        base,
		TestName:         "test_replace_with_descriptive_name",
		Input:            "Describe the failing input here.",
		ExpectedBehavior: "Describe what a correct response looks like.",
		AssertionType:    "llm_judge",
	}
}

func (Builder) ExistingBase(s *domain.Suggestion) *domain.DraftBase {
	if s.SuggestionContent.Eval == nil {
		return nil
	}
	return &s.SuggestionContent.Eval.DraftBase
}
