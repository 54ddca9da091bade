package domain

import "time"

// StatusHistoryEntry is one append-only entry in a FailureCapture's
// status_history.
type StatusHistoryEntry struct {
	Status    CaptureStatus `bson:"status" json:"status"`
	Timestamp time.Time     `bson:"timestamp" json:"timestamp"`
	Note      string        `bson:"note,omitempty" json:"note,omitempty"`
}

// FailureCapture is the input to extraction, one document per
// provider trace. Document id = TraceID.
type FailureCapture struct {
	TraceID             string               `bson:"_id" json:"traceId"`
	CapturedAt          time.Time            `bson:"captured_at" json:"capturedAt"`
	ProviderFailureType string               `bson:"provider_failure_type" json:"providerFailureType"`
	Severity            Severity             `bson:"severity" json:"severity"`
	ServiceName         string               `bson:"service_name" json:"serviceName"`
	QualityScore        float64              `bson:"quality_score" json:"qualityScore"`
	TracePayload        map[string]any       `bson:"trace_payload" json:"tracePayload"`
	UserHash            string               `bson:"user_hash,omitempty" json:"userHash,omitempty"`
	RecurrenceCount     int                  `bson:"recurrence_count" json:"recurrenceCount"`
	Processed           bool                 `bson:"processed" json:"processed"`
	Status              CaptureStatus        `bson:"status" json:"status"`
	StatusHistory       []StatusHistoryEntry `bson:"status_history" json:"statusHistory"`
	ExportRef           string               `bson:"export_ref,omitempty" json:"exportRef,omitempty"`
}

// Evidence is the non-empty signal list plus optional PII-redacted
// excerpt backing a FailurePattern's conclusion.
type Evidence struct {
	Signals []string `bson:"signals" json:"signals"`
	Excerpt string   `bson:"excerpt,omitempty" json:"excerpt,omitempty"`
}

// ReproductionContext captures how to reproduce the failure.
type ReproductionContext struct {
	InputPattern  string   `bson:"input_pattern" json:"inputPattern"`
	RequiredState string   `bson:"required_state,omitempty" json:"requiredState,omitempty"`
	ToolsInvolved []string `bson:"tools_involved,omitempty" json:"toolsInvolved,omitempty"`
}

// FailurePattern is the structured output of extraction and the
// input to deduplication. Document id = SourceTraceID (idempotent
// re-extraction).
type FailurePattern struct {
	SourceTraceID       string              `bson:"_id" json:"sourceTraceId"`
	Title               string              `bson:"title" json:"title"`
	FailureType         FailureType         `bson:"failure_type" json:"failureType"`
	TriggerCondition    string              `bson:"trigger_condition" json:"triggerCondition"`
	Summary             string              `bson:"summary" json:"summary"`
	RootCauseHypothesis string              `bson:"root_cause_hypothesis" json:"rootCauseHypothesis"`
	Evidence            Evidence            `bson:"evidence" json:"evidence"`
	RecommendedActions  []string            `bson:"recommended_actions" json:"recommendedActions"`
	ReproductionContext ReproductionContext `bson:"reproduction_context" json:"reproductionContext"`
	Severity            Severity            `bson:"severity" json:"severity"`
	Confidence          float64             `bson:"confidence" json:"confidence"`
	ConfidenceRationale string              `bson:"confidence_rationale" json:"confidenceRationale"`
	ExtractedAt         time.Time           `bson:"extracted_at" json:"extractedAt"`
	Processed           bool                `bson:"processed" json:"processed"`
}

// Validate checks the structural invariants every persisted
// FailurePattern must satisfy.
func (p *FailurePattern) Validate() []string {
	var problems []string
	if p.SourceTraceID == "" {
		problems = append(problems, "source_trace_id is required")
	}
	if !ValidFailureTypes[p.FailureType] {
		problems = append(problems, "failure_type is not a recognized value")
	}
	if !ValidSeverities[p.Severity] {
		problems = append(problems, "severity is not a recognized value")
	}
	if len(p.Evidence.Signals) == 0 {
		problems = append(problems, "evidence must contain at least one signal")
	}
	if len(p.Evidence.Excerpt) > 500 {
		problems = append(problems, "evidence excerpt exceeds 500 chars")
	}
	if len(p.RecommendedActions) == 0 {
		problems = append(problems, "recommended_actions must be non-empty")
	}
	if p.Confidence < 0.0 || p.Confidence > 1.0 {
		problems = append(problems, "confidence must be within [0.0, 1.0]")
	}
	return problems
}

// SourceTraceRef is one lineage entry in a Suggestion's
// source_traces list.
type SourceTraceRef struct {
	TraceID         string    `bson:"trace_id" json:"traceId"`
	PatternID       string    `bson:"pattern_id" json:"patternId"`
	AddedAt         time.Time `bson:"added_at" json:"addedAt"`
	SimilarityScore float64   `bson:"similarity_score" json:"similarityScore"`
}

// ApprovalMetadata is attached to a Suggestion the moment it leaves
// the pending state.
type ApprovalMetadata struct {
	Actor     string    `bson:"actor" json:"actor"`
	Action    string    `bson:"action" json:"action"`
	Timestamp time.Time `bson:"timestamp" json:"timestamp"`
	Notes     string    `bson:"notes,omitempty" json:"notes,omitempty"`
	Reason    string    `bson:"reason,omitempty" json:"reason,omitempty"`
}

// VersionHistoryEntry is one append-only audit-trail entry recorded
// on every status transition.
type VersionHistoryEntry struct {
	PreviousStatus SuggestionStatus `bson:"previous_status" json:"previousStatus"`
	NewStatus      SuggestionStatus `bson:"new_status" json:"newStatus"`
	Actor          string           `bson:"actor" json:"actor"`
	Timestamp      time.Time        `bson:"timestamp" json:"timestamp"`
	Notes          string           `bson:"notes,omitempty" json:"notes,omitempty"`
}

// GeneratorMeta records provenance for a generated draft.
type GeneratorMeta struct {
	Model          string  `bson:"model" json:"model"`
	Temperature    float64 `bson:"temperature" json:"temperature"`
	PromptHash     string  `bson:"prompt_hash" json:"promptHash"`
	ResponseHash   string  `bson:"response_hash" json:"responseHash"`
	RunID          string  `bson:"run_id" json:"runId"`
	MappingVersion string  `bson:"mapping_version,omitempty" json:"mappingVersion,omitempty"`
}

// DraftBase holds the fields common to every artifact draft
// (eval/guardrail/runbook), embedded by each typed draft.
type DraftBase struct {
	ID               string        `bson:"id" json:"id"`
	Title            string        `bson:"title" json:"title"`
	SourcePatternIDs []string      `bson:"source_pattern_ids" json:"sourcePatternIds"`
	Status           DraftStatus   `bson:"status" json:"status"`
	EditSource       EditSource    `bson:"edit_source" json:"editSource"`
	GeneratedAt      time.Time     `bson:"generated_at" json:"generatedAt"`
	UpdatedAt        time.Time     `bson:"updated_at" json:"updatedAt"`
	GeneratorMeta    GeneratorMeta `bson:"generator_meta" json:"generatorMeta"`
	Reason           string        `bson:"reason,omitempty" json:"reason,omitempty"`
}

// CanOverwrite reports whether a regeneration may overwrite this
// draft: always true for a machine-generated draft, true for a
// human-edited one only when forceOverwrite is set.
func (d DraftBase) CanOverwrite(forceOverwrite bool) bool {
	return d.EditSource != EditSourceHuman || forceOverwrite
}

// EvalTestDraft is the eval-test artifact body.
type EvalTestDraft struct {
	DraftBase        `bson:",inline"`
	TestName         string   `bson:"test_name" json:"testName"`
	Input            string   `bson:"input" json:"input"`
	ExpectedBehavior string   `bson:"expected_behavior" json:"expectedBehavior"`
	AssertionType    string   `bson:"assertion_type" json:"assertionType"`
	Tags             []string `bson:"tags,omitempty" json:"tags,omitempty"`
}

// GuardrailDraft is the guardrail-rule artifact body.
type GuardrailDraft struct {
	DraftBase     `bson:",inline"`
	GuardrailType GuardrailType  `bson:"guardrail_type" json:"guardrailType"`
	Condition     string         `bson:"condition" json:"condition"`
	Action        string         `bson:"action" json:"action"`
	Configuration map[string]any `bson:"configuration" json:"configuration"`
}

// RunbookDraft is the operational-runbook artifact body.
type RunbookDraft struct {
	DraftBase   `bson:",inline"`
	Symptom     string   `bson:"symptom" json:"symptom"`
	Diagnostics []string `bson:"diagnostics" json:"diagnostics"`
	Remediation []string `bson:"remediation" json:"remediation"`
	Escalation  string   `bson:"escalation,omitempty" json:"escalation,omitempty"`
}

// SuggestionContent holds exactly one populated typed draft, selected
// by the Suggestion's Type.
type SuggestionContent struct {
	Eval      *EvalTestDraft  `bson:"eval,omitempty" json:"eval,omitempty"`
	Guardrail *GuardrailDraft `bson:"guardrail,omitempty" json:"guardrail,omitempty"`
	Runbook   *RunbookDraft   `bson:"runbook,omitempty" json:"runbook,omitempty"`
}

// PatternSummary is the lightweight context copied onto a Suggestion
// so readers don't need to hydrate the full FailurePattern.
type PatternSummary struct {
	FailureType      FailureType `bson:"failure_type" json:"failureType"`
	TriggerCondition string      `bson:"trigger_condition" json:"triggerCondition"`
	Summary          string      `bson:"summary" json:"summary"`
}

// Suggestion is the reviewable artifact carrier. Document id =
// SuggestionID.
type Suggestion struct {
	SuggestionID      string                `bson:"_id" json:"suggestionId"`
	Type              SuggestionType        `bson:"type" json:"type"`
	Status            SuggestionStatus      `bson:"status" json:"status"`
	Severity          Severity              `bson:"severity" json:"severity"`
	SourceTraces      []SourceTraceRef      `bson:"source_traces" json:"sourceTraces"`
	Pattern           PatternSummary        `bson:"pattern" json:"pattern"`
	Embedding         []float64             `bson:"embedding,omitempty" json:"embedding,omitempty"`
	SimilarityGroup   string                `bson:"similarity_group" json:"similarityGroup"`
	SuggestionContent SuggestionContent     `bson:"suggestion_content" json:"suggestionContent"`
	ApprovalMetadata  *ApprovalMetadata     `bson:"approval_metadata,omitempty" json:"approvalMetadata,omitempty"`
	VersionHistory    []VersionHistoryEntry `bson:"version_history" json:"versionHistory"`
	CreatedAt         time.Time             `bson:"created_at" json:"createdAt"`
	UpdatedAt         time.Time             `bson:"updated_at" json:"updatedAt"`
}

// HasSourceTrace reports whether traceID already appears in
// SourceTraces, the idempotence check run before appending a merge
// entry.
func (s *Suggestion) HasSourceTrace(traceID string) bool {
	for _, ref := range s.SourceTraces {
		if ref.TraceID == traceID {
			return true
		}
	}
	return false
}

// CanTransition reports whether the suggestion may move out of
// pending; the status machine is terminal on both non-pending
// states.
func (s *Suggestion) CanTransition() bool {
	return s.Status == StatusPending
}

// PerItemOutcome is one entry in a RunSummary's per-item outcomes
// list.
type PerItemOutcome struct {
	ItemID  string  `bson:"item_id" json:"itemId"`
	Outcome Outcome `bson:"outcome" json:"outcome"`
	Detail  string  `bson:"detail,omitempty" json:"detail,omitempty"`
}

// RunCounts tallies per-outcome totals for a RunSummary.
type RunCounts struct {
	PickedUp int `bson:"picked_up" json:"pickedUp"`
	Stored   int `bson:"stored" json:"stored"`
	Skipped  int `bson:"skipped" json:"skipped"`
	Errored  int `bson:"errored" json:"errored"`
	TimedOut int `bson:"timed_out" json:"timedOut"`
}

// RunSummary is written once per batch execution per stage.
type RunSummary struct {
	RunID       string           `bson:"_id" json:"runId"`
	StartedAt   time.Time        `bson:"started_at" json:"startedAt"`
	EndedAt     time.Time        `bson:"ended_at" json:"endedAt"`
	TriggeredBy TriggeredBy      `bson:"triggered_by" json:"triggeredBy"`
	BatchSize   int              `bson:"batch_size" json:"batchSize"`
	Counts      RunCounts        `bson:"counts" json:"counts"`
	Items       []PerItemOutcome `bson:"items" json:"items"`
	DurationMS  int64            `bson:"duration_ms" json:"durationMs"`
}

// DiagnosticError is the shared shape for ExtractionError and
// GeneratorError records, keyed by {run_id}:{source_id}.
type DiagnosticError struct {
	Key             string              `bson:"_id" json:"key"`
	RunID           string              `bson:"run_id" json:"runId"`
	SourceID        string              `bson:"source_id" json:"sourceId"`
	ErrorType       DiagnosticErrorType `bson:"error_type" json:"errorType"`
	Message         string              `bson:"message" json:"message"`
	ResponseHash    string              `bson:"response_hash,omitempty" json:"responseHash,omitempty"`
	ResponseExcerpt string              `bson:"response_excerpt,omitempty" json:"responseExcerpt,omitempty"`
	RecordedAt      time.Time           `bson:"recorded_at" json:"recordedAt"`
}

// DiagnosticErrorKey formats the {run_id}:{source_id} composite key
// ExtractionError/GeneratorError documents are stored under.
func DiagnosticErrorKey(runID, sourceID string) string {
	return runID + ":" + sourceID
}

// ExportRecord is written once per successful approval export, so a
// reviewer can trace an exported artifact back to the suggestion and
// the format it shipped in.
type ExportRecord struct {
	ExportID     string         `bson:"_id" json:"exportId"`
	SuggestionID string         `bson:"suggestion_id" json:"suggestionId"`
	Type         SuggestionType `bson:"type" json:"type"`
	Format       string         `bson:"format" json:"format"`
	ContentType  string         `bson:"content_type" json:"contentType"`
	TraceIDs     []string       `bson:"trace_ids" json:"traceIds"`
	ExportedAt   time.Time      `bson:"exported_at" json:"exportedAt"`
}
