package extraction

import (
	"strings"
	"testing"
)

func TestPromptTemplate_PlaceholderCount(t *testing.T) {
	placeholders := strings.Count(promptTemplate, "%s") + strings.Count(promptTemplate, "%v")
	if placeholders != 3 {
		t.Errorf("promptTemplate has %d format placeholders, want 3", placeholders)
	}
}

func TestPromptTemplate_EssentialSections(t *testing.T) {
	for _, want := range []string{
		"<|system|>",
		"<|user|>",
		"<|assistant|>",
		"FAILURE TYPE DEFINITIONS",
		"CRITICAL DECISION RULES",
		"confidence",
	} {
		if !strings.Contains(promptTemplate, want) {
			t.Errorf("promptTemplate missing expected section %q", want)
		}
	}
}

func TestBuildPrompt_InterpolatesArguments(t *testing.T) {
	prompt := buildPrompt("checkout-service", "high", []byte(`{"trace_id":"t-1"}`))
	if !strings.Contains(prompt, "checkout-service") {
		t.Error("expected prompt to contain the service name")
	}
	if !strings.Contains(prompt, "high") {
		t.Error("expected prompt to contain the severity hint")
	}
	if !strings.Contains(prompt, `"trace_id":"t-1"`) {
		t.Error("expected prompt to contain the prepared payload")
	}
}
