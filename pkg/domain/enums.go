// Package domain defines the shared record types that flow through
// the five pipeline stages: FailureCapture, FailurePattern,
// Suggestion (and its three typed drafts), RunSummary, and
// DiagnosticError. Every stage reads one collection of these and
// writes another; this package has no dependency on any stage.
package domain

// FailureType is the closed set a FailurePattern's failure_type must
// belong to.
type FailureType string

const (
	FailureHallucination   FailureType = "hallucination"
	FailureToxicity        FailureType = "toxicity"
	FailureWrongTool       FailureType = "wrong_tool"
	FailureRunawayLoop     FailureType = "runaway_loop"
	FailurePIILeak         FailureType = "pii_leak"
	FailureStaleData       FailureType = "stale_data"
	FailureInfrastructure  FailureType = "infrastructure_error"
	FailureClientError     FailureType = "client_error"
	FailurePromptInjection FailureType = "prompt_injection"
)

// ValidFailureTypes enumerates every FailureType value.
var ValidFailureTypes = map[FailureType]bool{
	FailureHallucination:   true,
	FailureToxicity:        true,
	FailureWrongTool:       true,
	FailureRunawayLoop:     true,
	FailurePIILeak:         true,
	FailureStaleData:       true,
	FailureInfrastructure:  true,
	FailureClientError:     true,
	FailurePromptInjection: true,
}

// Severity is the closed set shared by FailurePattern and Suggestion.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var ValidSeverities = map[Severity]bool{
	SeverityLow:      true,
	SeverityMedium:   true,
	SeverityHigh:     true,
	SeverityCritical: true,
}

// SuggestionType selects which of the three typed drafts a Suggestion
// carries.
type SuggestionType string

const (
	SuggestionEval      SuggestionType = "eval"
	SuggestionGuardrail SuggestionType = "guardrail"
	SuggestionRunbook   SuggestionType = "runbook"
)

// DeriveSuggestionType maps a FailureType to the generator type the
// deduplication service creates a new Suggestion under.
func DeriveSuggestionType(ft FailureType) SuggestionType {
	switch ft {
	case FailureRunawayLoop:
		return SuggestionGuardrail
	case FailureInfrastructure:
		return SuggestionRunbook
	default:
		return SuggestionEval
	}
}

// SuggestionStatus is the terminal-state machine governing artifact
// review.
type SuggestionStatus string

const (
	StatusPending  SuggestionStatus = "pending"
	StatusApproved SuggestionStatus = "approved"
	StatusRejected SuggestionStatus = "rejected"
)

// CaptureStatus tracks whether a FailureCapture has been exported.
type CaptureStatus string

const (
	CaptureNew      CaptureStatus = "new"
	CaptureExported CaptureStatus = "exported"
)

// DraftStatus distinguishes a fully-generated draft from one that
// fell back to the deterministic template.
type DraftStatus string

const (
	DraftStatusDraft           DraftStatus = "draft"
	DraftStatusNeedsHumanInput DraftStatus = "needs_human_input"
)

// EditSource is the provenance flag controlling overwrite protection.
type EditSource string

const (
	EditSourceGenerated EditSource = "generated"
	EditSourceHuman     EditSource = "human"
)

// TriggeredBy distinguishes a scheduler-invoked batch run from one a
// human kicked off manually.
type TriggeredBy string

const (
	TriggeredScheduled TriggeredBy = "scheduled"
	TriggeredManual    TriggeredBy = "manual"
)

// Outcome is the per-item result recorded in a RunSummary.
type Outcome string

const (
	OutcomeStored           Outcome = "stored"
	OutcomeSkipped          Outcome = "skipped"
	OutcomeValidationFailed Outcome = "validation_failed"
	OutcomeTimedOut         Outcome = "timed_out"
	OutcomeError            Outcome = "error"
)

// DiagnosticErrorType is the closed set for ExtractionError /
// GeneratorError records.
type DiagnosticErrorType string

const (
	DiagInvalidJSON      DiagnosticErrorType = "invalid_json"
	DiagSchemaValidation DiagnosticErrorType = "schema_validation"
	DiagModelError       DiagnosticErrorType = "model_error"
	DiagTimeout          DiagnosticErrorType = "timeout"
	DiagUnknown          DiagnosticErrorType = "unknown"
)

// GuardrailType is the closed set a guardrail draft's guardrail_type
// field takes, derived deterministically from FailureType.
type GuardrailType string

const (
	GuardrailValidationRule    GuardrailType = "validation_rule"
	GuardrailContentFilter     GuardrailType = "content_filter"
	GuardrailRateLimit         GuardrailType = "rate_limit"
	GuardrailRedactionRule     GuardrailType = "redaction_rule"
	GuardrailScopeLimit        GuardrailType = "scope_limit"
	GuardrailFreshnessCheck    GuardrailType = "freshness_check"
	GuardrailInputSanitization GuardrailType = "input_sanitization"
)

// GuardrailMappingV1 derives the GuardrailType for a FailureType.
// Unmapped failure types default to GuardrailValidationRule.
func GuardrailMappingV1(ft FailureType) GuardrailType {
	switch ft {
	case FailureHallucination:
		return GuardrailValidationRule
	case FailureToxicity:
		return GuardrailContentFilter
	case FailureRunawayLoop:
		return GuardrailRateLimit
	case FailurePIILeak:
		return GuardrailRedactionRule
	case FailureWrongTool:
		return GuardrailScopeLimit
	case FailureStaleData:
		return GuardrailFreshnessCheck
	case FailurePromptInjection:
		return GuardrailInputSanitization
	default:
		return GuardrailValidationRule
	}
}
