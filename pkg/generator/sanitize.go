package generator

import (
	"github.com/evalforge/evalforge/pkg/domain"
	"github.com/evalforge/evalforge/pkg/redact"
)

// Per-field length caps applied when suggestion and pattern text is
// folded into a prompt, and again when model output is folded into a
// draft. Everything passes through the PII redactor on the way.
const (
	CapTitle       = 200
	CapShortText   = 300
	CapLongText    = 2000
	CapExcerpt     = 500
	CapListEntry   = 300
	maxListEntries = 20
)

// Sanitize redacts PII from text and truncates it to maxLen,
// preserving the suffix. Builders call this on every string they lift
// out of model output before it lands in a draft.
func Sanitize(text string, maxLen int) string {
	return redact.RedactAndTruncate(text, maxLen)
}

// SanitizeStrings applies Sanitize to each entry, capping the list at
// a fixed maximum length.
func SanitizeStrings(items []string, perEntry int) []string {
	if len(items) > maxListEntries {
		items = items[:maxListEntries]
	}
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = Sanitize(item, perEntry)
	}
	return out
}

// PatternView is the PII-scrubbed, length-capped view of the
// canonical FailurePattern handed to a prompt builder. Prompt text is
// built exclusively from this copy, never from the raw pattern.
type PatternView struct {
	Title               string
	FailureType         string
	TriggerCondition    string
	Summary             string
	RootCauseHypothesis string
	Signals             []string
	Excerpt             string
	RecommendedActions  []string
	InputPattern        string
	RequiredState       string
	ToolsInvolved       []string
	Severity            string
	Confidence          float64
}

// SuggestionView is the scrubbed view of the Suggestion's own context
// fields.
type SuggestionView struct {
	ID               string
	FailureType      string
	TriggerCondition string
	Summary          string
	Severity         string
	SourceCount      int
}

func newPatternView(p *domain.FailurePattern) *PatternView {
	return &PatternView{
		Title:               Sanitize(p.Title, CapTitle),
		FailureType:         string(p.FailureType),
		TriggerCondition:    Sanitize(p.TriggerCondition, CapShortText),
		Summary:             Sanitize(p.Summary, CapLongText),
		RootCauseHypothesis: Sanitize(p.RootCauseHypothesis, CapLongText),
		Signals:             SanitizeStrings(p.Evidence.Signals, CapListEntry),
		Excerpt:             Sanitize(p.Evidence.Excerpt, CapExcerpt),
		RecommendedActions:  SanitizeStrings(p.RecommendedActions, CapListEntry),
		InputPattern:        Sanitize(p.ReproductionContext.InputPattern, CapLongText),
		RequiredState:       Sanitize(p.ReproductionContext.RequiredState, CapShortText),
		ToolsInvolved:       SanitizeStrings(p.ReproductionContext.ToolsInvolved, CapListEntry),
		Severity:            string(p.Severity),
		Confidence:          p.Confidence,
	}
}

func newSuggestionView(s *domain.Suggestion) *SuggestionView {
	return &SuggestionView{
		ID:               s.SuggestionID,
		FailureType:      string(s.Pattern.FailureType),
		TriggerCondition: Sanitize(s.Pattern.TriggerCondition, CapShortText),
		Summary:          Sanitize(s.Pattern.Summary, CapLongText),
		Severity:         string(s.Severity),
		SourceCount:      len(s.SourceTraces),
	}
}
