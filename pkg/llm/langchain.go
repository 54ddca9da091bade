package llm

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"github.com/evalforge/evalforge/pkg/platform/ferrors"
)

// langchainClient adapts any langchaingo llms.Model to the Client
// contract, for deployments that point at a local or OSS model
// instead of the hosted provider. Structured output is requested via
// JSON mode plus an inlined schema, since most OSS backends have no
// forced-tool-call mechanism; the decoded result still passes through
// the same caller-side validation as the hosted path.
type langchainClient struct {
	model       llms.Model
	modelName   string
	temperature float64
	maxTokens   int
}

// NewLangchainClient wraps model as a Client. modelName is recorded
// in generator provenance only; the model itself decides what runs.
func NewLangchainClient(model llms.Model, modelName string, temperature float64, maxTokens int) Client {
	return &langchainClient{model: model, modelName: modelName, temperature: temperature, maxTokens: maxTokens}
}

// Generate implements Client.
func (c *langchainClient) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	promptHash := hashText(req.Prompt)

	prompt := req.Prompt + "\n\nRespond with a single JSON object conforming to this JSON Schema:\n" + string(req.Schema)

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	temperature := float64(req.Temperature)
	if temperature == 0 {
		temperature = c.temperature
	}

	out, err := llms.GenerateFromSinglePrompt(ctx, c.model, prompt,
		llms.WithTemperature(temperature),
		llms.WithMaxTokens(maxTokens),
		llms.WithJSONMode(),
	)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "rate limit") {
			return nil, ferrors.New(ferrors.KindRateLimited, "local model rate limited", err)
		}
		return nil, ferrors.New(ferrors.KindModelError, "local model call failed", err)
	}

	raw := stripFences(out)
	var parsed map[string]any
	if uerr := json.Unmarshal([]byte(raw), &parsed); uerr != nil {
		return nil, ferrors.New(ferrors.KindInvalidJSON, "local model output was not valid JSON", uerr)
	}

	return &GenerateResult{
		Parsed:       parsed,
		PromptHash:   promptHash,
		ResponseHash: hashText(raw),
	}, nil
}

// stripFences removes a markdown code fence if the model wrapped its
// JSON in one, a common habit of OSS models even under JSON mode.
func stripFences(out string) string {
	trimmed := strings.TrimSpace(out)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
