package llm

import (
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/evalforge/evalforge/pkg/platform/ferrors"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func TestNewClient_MissingAPIKey(t *testing.T) {
	_, err := NewClient(Config{Model: "claude-3-5-sonnet-20241022"}, testLogger())
	if err == nil {
		t.Fatal("expected an error for missing API key")
	}
}

func TestNewClient_MissingModel(t *testing.T) {
	_, err := NewClient(Config{APIKey: "sk-ant-test"}, testLogger())
	if err == nil {
		t.Fatal("expected an error for missing model")
	}
}

func TestNewClient_Valid(t *testing.T) {
	client, err := NewClient(Config{
		APIKey:  "sk-ant-test",
		Model:   "claude-3-5-sonnet-20241022",
		Timeout: 30 * time.Second,
	}, testLogger())
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if client == nil {
		t.Fatal("expected a non-nil client")
	}
}

func TestHashText_Deterministic(t *testing.T) {
	a := hashText("hello")
	b := hashText("hello")
	if a != b {
		t.Error("hashText should be deterministic for the same input")
	}
	if len(a) != 64 {
		t.Errorf("expected a 64-char hex digest, got %d chars", len(a))
	}
}

func TestSchemaProperties_InvalidJSON(t *testing.T) {
	got := schemaProperties([]byte("not json"))
	if len(got) != 0 {
		t.Errorf("expected empty map for invalid schema, got %v", got)
	}
}

func TestSchemaProperties_Valid(t *testing.T) {
	got := schemaProperties([]byte(`{"failure_type": {"type": "string"}}`))
	if _, ok := got["failure_type"]; !ok {
		t.Errorf("expected failure_type key in decoded schema, got %v", got)
	}
}

func TestClassifyGenerateError_BreakerOpen(t *testing.T) {
	err := classifyGenerateError(gobreaker.ErrOpenState)
	if ferrors.KindOf(err) != ferrors.KindRateLimited {
		t.Errorf("KindOf(err) = %s, want rate_limited for an open breaker", ferrors.KindOf(err))
	}
}

func TestClassifyGenerateError_Upstream429(t *testing.T) {
	// A 429 that exhausted the retry budget must keep its dedicated
	// kind so generators can skip charging the item.
	for _, msg := range []string{
		"POST /v1/messages: 429 Too Many Requests",
		"anthropic: rate limit exceeded, retry after 12s",
	} {
		err := classifyGenerateError(errors.New(msg))
		if ferrors.KindOf(err) != ferrors.KindRateLimited {
			t.Errorf("KindOf(%q) = %s, want rate_limited", msg, ferrors.KindOf(err))
		}
	}
}

func TestClassifyGenerateError_Transient(t *testing.T) {
	err := classifyGenerateError(errors.New("upstream 503 service unavailable"))
	if ferrors.KindOf(err) != ferrors.KindModelError {
		t.Errorf("KindOf(err) = %s, want model_error", ferrors.KindOf(err))
	}
}

func TestClassifyGenerateError_Generic(t *testing.T) {
	err := classifyGenerateError(errors.New("boom"))
	if ferrors.KindOf(err) != ferrors.KindModelError {
		t.Errorf("KindOf(err) = %s, want model_error", ferrors.KindOf(err))
	}
}

func TestMockClient_ReturnsConfiguredResponse(t *testing.T) {
	mock := &MockClient{Response: &GenerateResult{Parsed: map[string]any{"ok": true}}}

	result, err := mock.Generate(nil, GenerateRequest{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if result.Parsed["ok"] != true {
		t.Errorf("expected configured response to be returned, got %v", result.Parsed)
	}
	if len(mock.Calls) != 1 {
		t.Errorf("expected 1 recorded call, got %d", len(mock.Calls))
	}
}

func TestMockClient_ReturnsConfiguredError(t *testing.T) {
	mock := &MockClient{Err: errors.New("upstream down")}

	_, err := mock.Generate(nil, GenerateRequest{Prompt: "hi"})
	if err == nil {
		t.Fatal("expected the configured error")
	}
}
