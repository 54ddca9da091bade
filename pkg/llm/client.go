// Package llm wraps the Anthropic Messages API behind a small
// schema-enforcing interface shared by extraction and the three
// artifact generators. It retries transient upstream failures with
// exponential backoff and trips a circuit breaker on a sustained
// outage so a batch keeps making forward progress instead of burning
// its retry budget item by item.
package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/evalforge/evalforge/pkg/platform/ferrors"
	"github.com/evalforge/evalforge/pkg/platform/logging"
)

// structuredOutputTool is the name of the single forced tool call
// every request uses to coerce the model into emitting JSON matching
// the caller's schema, since Anthropic has no native response-schema
// parameter.
const structuredOutputTool = "emit_structured_output"

// UsageStats mirrors the token accounting the provider returns
// alongside a completion.
type UsageStats struct {
	InputTokens  int64
	OutputTokens int64
}

// GenerateRequest is one schema-enforced completion request.
type GenerateRequest struct {
	Prompt      string
	Schema      json.RawMessage
	MaxTokens   int
	Temperature float32
}

// GenerateResult is the parsed completion plus its provenance
// hashes, used by callers to populate generator_meta.
type GenerateResult struct {
	Parsed       map[string]any
	PromptHash   string
	ResponseHash string
	Usage        UsageStats
}

// Client is the contract every pipeline stage calls the LLM through.
type Client interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error)
}

// Config configures a Client.
type Config struct {
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	// RequestsPerSecond caps the outbound call rate ahead of the
	// provider's own limiter, so a full 4-worker batch doesn't trade
	// throughput for 429 retries. Zero means 2/s.
	RequestsPerSecond float64
}

type anthropicClient struct {
	sdk     anthropic.Client
	model   string
	logger  *logrus.Logger
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

// NewClient constructs a Client. It performs no network I/O — the
// underlying SDK client is constructed lazily and the circuit breaker
// starts closed.
func NewClient(cfg Config, logger *logrus.Logger) (Client, error) {
	if cfg.APIKey == "" {
		return nil, ferrors.New(ferrors.KindConfigurationError, "anthropic API key is required", nil)
	}
	if cfg.Model == "" {
		return nil, ferrors.New(ferrors.KindConfigurationError, "llm model is required", nil)
	}

	sdkClient := anthropic.NewClient(
		option.WithAPIKey(cfg.APIKey),
		option.WithRequestTimeout(cfg.Timeout),
	)

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "llm-client",
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(logging.NewFields().Component("llm").Custom("breaker_from", from.String()).Custom("breaker_to", to.String()).ToLogrus()).
				Warn("llm client circuit breaker state change")
		},
	})

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 2.0
	}

	return &anthropicClient{
		sdk:     sdkClient,
		model:   cfg.Model,
		logger:  logger,
		breaker: breaker,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}, nil
}

// Generate sends req to the model, coercing a JSON response matching
// req.Schema via a single forced tool call, and retries transient
// upstream failures with exponential backoff capped at 3 attempts.
func (c *anthropicClient) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	promptHash := hashText(req.Prompt)

	tool := anthropic.ToolUnionParam{
		OfTool: &anthropic.ToolParam{
			Name:        structuredOutputTool,
			Description: anthropic.String("Emit the structured result matching the required schema."),
			InputSchema: anthropic.ToolInputSchemaParam{
				Type:       "object",
				Properties: schemaProperties(req.Schema),
			},
		},
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		MaxTokens:   int64(req.MaxTokens),
		Temperature: anthropic.Float(float64(req.Temperature)),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
		Tools: []anthropic.ToolUnionParam{tool},
		ToolChoice: anthropic.ToolChoiceUnionParam{
			OfTool: &anthropic.ToolChoiceToolParam{Name: structuredOutputTool},
		},
	}

	backoff := retry.NewExponential(1 * time.Second)
	backoff = retry.WithMaxDuration(10*time.Second, backoff)
	backoff = retry.WithMaxRetries(2, backoff) // 3 total attempts

	var message *anthropic.Message
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if werr := c.limiter.Wait(ctx); werr != nil {
			return werr
		}
		result, breakerErr := c.breaker.Execute(func() (any, error) {
			return c.sdk.Messages.New(ctx, params)
		})
		if breakerErr != nil {
			if !ferrors.IsRetryable(breakerErr) {
				return breakerErr
			}
			return retry.RetryableError(breakerErr)
		}
		message = result.(*anthropic.Message)
		return nil
	})
	if err != nil {
		return nil, classifyGenerateError(err)
	}

	raw, found := extractToolInput(message)
	if !found {
		return nil, ferrors.New(ferrors.KindInvalidJSON, "model did not return a structured tool call", nil)
	}

	var parsed map[string]any
	if unmarshalErr := json.Unmarshal(raw, &parsed); unmarshalErr != nil {
		return nil, ferrors.New(ferrors.KindInvalidJSON, "model output was not valid JSON", unmarshalErr)
	}

	return &GenerateResult{
		Parsed:       parsed,
		PromptHash:   promptHash,
		ResponseHash: hashText(string(raw)),
		Usage: UsageStats{
			InputTokens:  message.Usage.InputTokens,
			OutputTokens: message.Usage.OutputTokens,
		},
	}, nil
}

// extractToolInput finds the structuredOutputTool's call in the
// message content and returns its raw JSON input.
func extractToolInput(message *anthropic.Message) (json.RawMessage, bool) {
	for _, block := range message.Content {
		if block.Type == "tool_use" && block.Name == structuredOutputTool {
			return block.Input, true
		}
	}
	return nil, false
}

// schemaProperties unwraps the JSON-Schema-shaped req.Schema into the
// "properties" field the tool input schema expects: the schema's
// "properties" object when it has one, else the decoded object itself.
// The schema's "required" list is not forwarded. It falls back to an
// empty object if the schema can't be decoded.
func schemaProperties(schema json.RawMessage) map[string]any {
	var decoded map[string]any
	if err := json.Unmarshal(schema, &decoded); err != nil {
		return map[string]any{}
	}
	if props, ok := decoded["properties"].(map[string]any); ok {
		return props
	}
	return decoded
}

// classifyGenerateError maps a transport/breaker failure to the
// closed-set error kinds callers branch on. Rate limiting gets its
// own kind so generators can skip charging the item's cost budget.
func classifyGenerateError(err error) error {
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return ferrors.New(ferrors.KindRateLimited, "llm circuit breaker open", err)
	}
	if isRateLimitError(err) {
		return ferrors.New(ferrors.KindRateLimited, "llm call rate limited after retries", err)
	}
	if ferrors.IsRetryable(err) {
		return ferrors.New(ferrors.KindModelError, "llm call failed after retries", err)
	}
	return ferrors.New(ferrors.KindModelError, "llm call failed", err)
}

// isRateLimitError detects an upstream 429 that survived the retry
// budget, by the SDK's typed status code when available and by
// message otherwise.
func isRateLimitError(err error) bool {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == 429 {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate limit") || strings.Contains(msg, "429")
}

func hashText(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
