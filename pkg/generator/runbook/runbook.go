// Package runbook generates operational-runbook drafts for
// suggestions of type runbook: the symptom, diagnostic steps, and
// remediation an on-call engineer follows when the captured failure
// recurs.
package runbook

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/evalforge/evalforge/pkg/domain"
	"github.com/evalforge/evalforge/pkg/generator"
	"github.com/evalforge/evalforge/pkg/platform/ferrors"
)

const runbookSchemaJSON = `{
  "type": "object",
  "properties": {
    "title": {"type": "string"},
    "symptom": {"type": "string"},
    "diagnostics": {"type": "array", "items": {"type": "string"}},
    "remediation": {"type": "array", "items": {"type": "string"}},
    "escalation": {"type": "string"}
  },
  "required": ["title", "symptom", "diagnostics", "remediation"]
}`

// RunbookSchema is the JSON Schema enforced on runbook generation output.
var RunbookSchema = json.RawMessage(runbookSchemaJSON)

const promptTemplate = `<|system|>
You are writing an operational runbook for a production LLM failure that EvalForge captured and distilled.
Return a single JSON object matching the required schema. The runbook is read by an on-call engineer under time pressure.

RULES
- symptom describes what the on-call engineer observes, in terms of alerts and user-visible behavior.
- diagnostics is an ordered list of checks that confirm this failure and rule out look-alikes; name concrete dashboards, queries, and log fields.
- remediation is an ordered list of actions that stop the bleeding, then fix the cause.
- escalation names when and to whom to escalate if remediation does not resolve the incident.
<|user|>
Failure type: %s
Severity: %s
Trigger condition: %s
Pattern summary: %s
Root cause hypothesis: %s
Evidence signals: %s
Recommended actions from triage: %s
Tools involved: %s
This suggestion clusters %d source failure(s).
<|assistant|>
Respond with exactly one JSON object matching the required schema. No prose.`

// Builder supplies the runbook-specific pieces of the shared
// generation pipeline.
type Builder struct{}

func (Builder) Type() domain.SuggestionType { return domain.SuggestionRunbook }
func (Builder) Stage() string               { return "runbook" }
func (Builder) Schema() json.RawMessage     { return RunbookSchema }

func (Builder) BuildPrompt(s *generator.SuggestionView, canonical *generator.PatternView) string {
	return fmt.Sprintf(promptTemplate,
		canonical.FailureType,
		canonical.Severity,
		canonical.TriggerCondition,
		canonical.Summary,
		canonical.RootCauseHypothesis,
		strings.Join(canonical.Signals, "; "),
		strings.Join(canonical.RecommendedActions, "; "),
		strings.Join(canonical.ToolsInvolved, ", "),
		s.SourceCount,
	)
}

func (Builder) ComposeDraft(s *domain.Suggestion, _ *domain.FailurePattern, parsed map[string]any, base domain.DraftBase) error {
	title, _ := parsed["title"].(string)
	symptom, _ := parsed["symptom"].(string)
	escalation, _ := parsed["escalation"].(string)
	diagnostics := generator.StringSlice(parsed["diagnostics"])
	remediation := generator.StringSlice(parsed["remediation"])

	if symptom == "" || len(remediation) == 0 {
		return ferrors.New(ferrors.KindSchemaValidation, "runbook draft is missing symptom or remediation steps", nil)
	}

	base.Title = generator.Sanitize(title, generator.CapTitle)
	if base.Title == "" {
		base.Title = generator.Sanitize(symptom, generator.CapTitle)
	}

	s.SuggestionContent.Runbook = &domain.RunbookDraft{
		DraftBase:   base,
		Symptom:     generator.Sanitize(symptom, generator.CapLongText),
		Diagnostics: generator.SanitizeStrings(diagnostics, generator.CapListEntry),
		Remediation: generator.SanitizeStrings(remediation, generator.CapListEntry),
		Escalation:  generator.Sanitize(escalation, generator.CapShortText),
	}
	return nil
}

func (Builder) TemplateDraft(s *domain.Suggestion, base domain.DraftBase) {
	base.Title = "Runbook needs human input"
	s.SuggestionContent.Runbook = &domain.RunbookDraft{
		DraftBase:   base,
		Symptom:     "Describe what the on-call engineer observes.",
		Diagnostics: []string{"List the checks that confirm this failure."},
		Remediation: []string{"List the actions that resolve this failure."},
	}
}

func (Builder) ExistingBase(s *domain.Suggestion) *domain.DraftBase {
	if s.SuggestionContent.Runbook == nil {
		return nil
	}
	return &s.SuggestionContent.Runbook.DraftBase
}
