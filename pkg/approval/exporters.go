package approval

import (
	"bytes"
	"encoding/json"
	"strings"
	"text/template"
	"time"

	"sigs.k8s.io/yaml"

	"github.com/evalforge/evalforge/pkg/domain"
	"github.com/evalforge/evalforge/pkg/platform/ferrors"
)

// Export formats accepted by GET /suggestions/{id}/export.
const (
	FormatDeepeval = "deepeval"
	FormatPytest   = "pytest"
	FormatYAML     = "yaml"
)

// deepevalTestCase is the nine-field test-case shape deepeval's
// dataset loader consumes.
type deepevalTestCase struct {
	Name           string   `json:"name"`
	Input          string   `json:"input"`
	ExpectedOutput string   `json:"expected_output"`
	AssertionType  string   `json:"assertion_type"`
	FailureType    string   `json:"failure_type"`
	Severity       string   `json:"severity"`
	Tags           []string `json:"tags"`
	SourceTraceIDs []string `json:"source_trace_ids"`
	GeneratedAt    string   `json:"generated_at"`
}

// guardrailPolicy is the YAML document shape a policy engine loads.
type guardrailPolicy struct {
	APIVersion string              `json:"apiVersion"`
	Kind       string              `json:"kind"`
	Metadata   guardrailPolicyMeta `json:"metadata"`
	Spec       guardrailPolicySpec `json:"spec"`
}

type guardrailPolicyMeta struct {
	Name           string   `json:"name"`
	SuggestionID   string   `json:"suggestionId"`
	SourceTraceIDs []string `json:"sourceTraceIds"`
}

type guardrailPolicySpec struct {
	GuardrailType string         `json:"guardrailType"`
	Condition     string         `json:"condition"`
	Action        string         `json:"action"`
	Configuration map[string]any `json:"configuration"`
}

var pytestTemplate = template.Must(template.New("pytest").Parse(`# Generated by EvalForge from suggestion {{.SuggestionID}}.
# Source traces: {{.TraceList}}
import pytest

from evals.harness import run_model, assert_response


@pytest.mark.evalforge
@pytest.mark.severity("{{.Severity}}")
def {{.TestName}}():
    """{{.Title}}"""
    response = run_model({{.Input}})
    assert_response(
        response,
        assertion={{.AssertionType}},
        expected={{.Expected}},
    )
`))

type pytestContext struct {
	SuggestionID  string
	TraceList     string
	Severity      string
	TestName      string
	Title         string
	Input         string
	AssertionType string
	Expected      string
}

// renderExport dispatches on format. deepeval and pytest require an
// eval draft; yaml is guardrail-only.
func renderExport(s *domain.Suggestion, format string) ([]byte, string, error) {
	switch format {
	case FormatDeepeval:
		return renderDeepeval(s)
	case FormatPytest:
		return renderPytest(s)
	case FormatYAML:
		return renderYAML(s)
	default:
		return nil, "", ferrors.New(ferrors.KindInvalidJSON, "unknown export format: "+format, nil)
	}
}

func renderDeepeval(s *domain.Suggestion) ([]byte, string, error) {
	draft := s.SuggestionContent.Eval
	if draft == nil {
		return nil, "", ferrors.New(ferrors.KindWrongType, "deepeval export requires an eval draft", nil)
	}

	testCase := deepevalTestCase{
		Name:           draft.TestName,
		Input:          draft.Input,
		ExpectedOutput: draft.ExpectedBehavior,
		AssertionType:  draft.AssertionType,
		FailureType:    string(s.Pattern.FailureType),
		Severity:       string(s.Severity),
		Tags:           draft.Tags,
		SourceTraceIDs: traceIDsOf(s),
		GeneratedAt:    draft.GeneratedAt.UTC().Format(time.RFC3339),
	}
	if testCase.Tags == nil {
		testCase.Tags = []string{}
	}

	content, err := json.MarshalIndent(testCase, "", "  ")
	if err != nil {
		return nil, "", ferrors.FailedTo("marshal deepeval test case", err)
	}
	return content, "application/json", nil
}

func renderPytest(s *domain.Suggestion) ([]byte, string, error) {
	draft := s.SuggestionContent.Eval
	if draft == nil {
		return nil, "", ferrors.New(ferrors.KindWrongType, "pytest export requires an eval draft", nil)
	}

	testName := draft.TestName
	if testName == "" {
		testName = "test_" + strings.ReplaceAll(s.SuggestionID, "-", "_")
	}

	var buf bytes.Buffer
	err := pytestTemplate.Execute(&buf, pytestContext{
		SuggestionID:  s.SuggestionID,
		TraceList:     strings.Join(traceIDsOf(s), ", "),
		Severity:      string(s.Severity),
		TestName:      testName,
		Title:         draft.Title,
		Input:         pythonString(draft.Input),
		AssertionType: pythonString(draft.AssertionType),
		Expected:      pythonString(draft.ExpectedBehavior),
	})
	if err != nil {
		return nil, "", ferrors.FailedTo("render pytest source", err)
	}
	return buf.Bytes(), "text/x-python", nil
}

func renderYAML(s *domain.Suggestion) ([]byte, string, error) {
	if s.Type != domain.SuggestionGuardrail {
		return nil, "", ferrors.New(ferrors.KindWrongType, "yaml export is guardrail-only", nil)
	}
	draft := s.SuggestionContent.Guardrail
	if draft == nil {
		return nil, "", ferrors.New(ferrors.KindWrongType, "yaml export requires a guardrail draft", nil)
	}

	policy := guardrailPolicy{
		APIVersion: "evalforge.dev/v1",
		Kind:       "GuardrailPolicy",
		Metadata: guardrailPolicyMeta{
			Name:           draft.ID,
			SuggestionID:   s.SuggestionID,
			SourceTraceIDs: traceIDsOf(s),
		},
		Spec: guardrailPolicySpec{
			GuardrailType: string(draft.GuardrailType),
			Condition:     draft.Condition,
			Action:        draft.Action,
			Configuration: draft.Configuration,
		},
	}

	content, err := yaml.Marshal(policy)
	if err != nil {
		return nil, "", ferrors.FailedTo("marshal guardrail policy", err)
	}
	return content, "application/yaml", nil
}

func traceIDsOf(s *domain.Suggestion) []string {
	ids := make([]string, 0, len(s.SourceTraces))
	for _, ref := range s.SourceTraces {
		ids = append(ids, ref.TraceID)
	}
	return ids
}

// pythonString renders text as a double-quoted Python string literal.
// Go's quoting rules are a compatible subset for the characters that
// survive redaction.
func pythonString(text string) string {
	quoted := strings.ReplaceAll(text, `\`, `\\`)
	quoted = strings.ReplaceAll(quoted, `"`, `\"`)
	quoted = strings.ReplaceAll(quoted, "\n", `\n`)
	return `"` + quoted + `"`
}
