package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests pin the wire shapes the HTTP surface and the document
// store share: field names stay camelCase on the JSON side, enums
// stay closed, and a round trip through JSON loses nothing a reader
// depends on.

func TestFailureCaptureWireShape(t *testing.T) {
	capture := FailureCapture{
		TraceID:             "t-1",
		CapturedAt:          time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC),
		ProviderFailureType: "quality_degradation",
		Severity:            SeverityHigh,
		ServiceName:         "qa-bot",
		QualityScore:        0.2,
		TracePayload:        map[string]any{"output": "[REDACTED_CONTENT]"},
		RecurrenceCount:     2,
		Status:              CaptureNew,
		StatusHistory:       []StatusHistoryEntry{{Status: CaptureNew, Timestamp: time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)}},
	}

	raw, err := json.Marshal(capture)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	for _, field := range []string{"traceId", "capturedAt", "severity", "serviceName", "qualityScore", "recurrenceCount", "processed", "status", "statusHistory"} {
		assert.Contains(t, decoded, field)
	}

	var roundTripped FailureCapture
	require.NoError(t, json.Unmarshal(raw, &roundTripped))
	assert.Equal(t, capture.TraceID, roundTripped.TraceID)
	assert.Equal(t, capture.RecurrenceCount, roundTripped.RecurrenceCount)
	assert.Equal(t, capture.Status, roundTripped.Status)
}

func TestFailurePatternWireShape(t *testing.T) {
	pattern := FailurePattern{
		SourceTraceID:       "t-1",
		Title:               "Model invented a construction year",
		FailureType:         FailureHallucination,
		TriggerCondition:    "asked about a historical date",
		Summary:             "confident wrong answer",
		RootCauseHypothesis: "no grounding source available",
		Evidence:            Evidence{Signals: []string{"fact_mismatch"}, Excerpt: "built in 1920"},
		RecommendedActions:  []string{"add a fact-check eval"},
		ReproductionContext: ReproductionContext{InputPattern: "What year was the Eiffel Tower built?"},
		Severity:            SeverityHigh,
		Confidence:          0.85,
		ConfidenceRationale: "clear factual contradiction",
		ExtractedAt:         time.Now().UTC(),
	}
	require.Empty(t, pattern.Validate())

	raw, err := json.Marshal(pattern)
	require.NoError(t, err)

	var roundTripped FailurePattern
	require.NoError(t, json.Unmarshal(raw, &roundTripped))
	assert.Equal(t, pattern.SourceTraceID, roundTripped.SourceTraceID)
	assert.Equal(t, pattern.FailureType, roundTripped.FailureType)
	assert.Equal(t, pattern.Evidence.Signals, roundTripped.Evidence.Signals)
	assert.InDelta(t, pattern.Confidence, roundTripped.Confidence, 1e-9)
}

func TestSuggestionWireShape(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	suggestion := Suggestion{
		SuggestionID: "sugg_1",
		Type:         SuggestionEval,
		Status:       StatusPending,
		Severity:     SeverityHigh,
		SourceTraces: []SourceTraceRef{{TraceID: "t-1", PatternID: "t-1", AddedAt: now, SimilarityScore: 1.0}},
		Pattern:      PatternSummary{FailureType: FailureHallucination, TriggerCondition: "date question"},
		SuggestionContent: SuggestionContent{
			Eval: &EvalTestDraft{
				DraftBase: DraftBase{ID: "draft_1", Status: DraftStatusDraft, EditSource: EditSourceGenerated},
				TestName:  "test_eiffel_tower_year",
			},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	raw, err := json.Marshal(suggestion)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Contains(t, decoded, "suggestionId")
	assert.Contains(t, decoded, "sourceTraces")
	assert.Contains(t, decoded, "suggestionContent")

	content := decoded["suggestionContent"].(map[string]any)
	assert.Contains(t, content, "eval")
	assert.NotContains(t, content, "guardrail", "only the populated draft slot may serialize")
	assert.NotContains(t, content, "runbook")

	var roundTripped Suggestion
	require.NoError(t, json.Unmarshal(raw, &roundTripped))
	require.NotNil(t, roundTripped.SuggestionContent.Eval)
	assert.Equal(t, "test_eiffel_tower_year", roundTripped.SuggestionContent.Eval.TestName)
	assert.True(t, roundTripped.HasSourceTrace("t-1"))
}

func TestEnumClosure(t *testing.T) {
	assert.Len(t, ValidFailureTypes, 9)
	assert.Len(t, ValidSeverities, 4)

	var pattern FailurePattern
	require.NoError(t, json.Unmarshal([]byte(`{"failureType": "made_up_type", "severity": "apocalyptic"}`), &pattern))
	problems := pattern.Validate()
	assert.NotEmpty(t, problems, "unknown enum values must fail validation after decode")
}
