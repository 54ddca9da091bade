// Package traceprep serializes a FailureCapture's trace payload for
// LLM submission, truncating it when it is too large to keep latency
// and cost bounded while preserving the most recent context, where
// failures usually manifest.
package traceprep

import (
	"encoding/json"
	"fmt"

	"github.com/evalforge/evalforge/pkg/domain"
	"github.com/evalforge/evalforge/pkg/platform/ferrors"
)

const (
	// MaxPayloadSizeBytes is the threshold above which truncation
	// kicks in.
	MaxPayloadSizeBytes = 200 * 1024
	// maxStringLen is the per-string length above which a string
	// value is truncated, keeping its suffix.
	maxStringLen = 10000
	// maxListLen is the per-list length above which a list is
	// reduced to a leading marker plus its last maxListLen items.
	maxListLen = 100
)

// TruncationMeta describes whether and how much a payload was
// truncated.
type TruncationMeta struct {
	OriginalSizeBytes int  `json:"originalSizeBytes"`
	FinalSizeBytes    int  `json:"finalSizeBytes"`
	WasTruncated      bool `json:"wasTruncated"`
}

// Prepare extracts the fields of trace relevant to extraction,
// serializes them, and truncates the result if it exceeds
// MaxPayloadSizeBytes. It fails with a missing_context kind error,
// its message prefixed missing_required_fields, when trace_id is
// absent or trace_payload is empty.
func Prepare(trace *domain.FailureCapture) (json.RawMessage, TruncationMeta, error) {
	if trace.TraceID == "" {
		return nil, TruncationMeta{}, ferrors.New(ferrors.KindMissingContext, "missing_required_fields: trace_id is empty", nil)
	}
	if len(trace.TracePayload) == 0 {
		return nil, TruncationMeta{}, ferrors.New(ferrors.KindMissingContext, "missing_required_fields: trace_payload is empty", nil)
	}

	extracted := map[string]any{
		"trace_id":      trace.TraceID,
		"failure_type":  trace.ProviderFailureType,
		"severity":      string(trace.Severity),
		"service_name":  trace.ServiceName,
		"trace_payload": trace.TracePayload,
	}

	originalJSON, err := json.Marshal(extracted)
	if err != nil {
		return nil, TruncationMeta{}, ferrors.FailedTo("serialize trace payload", err)
	}
	originalSize := len(originalJSON)

	if originalSize <= MaxPayloadSizeBytes {
		return originalJSON, TruncationMeta{
			OriginalSizeBytes: originalSize,
			FinalSizeBytes:    originalSize,
			WasTruncated:      false,
		}, nil
	}

	truncated := truncateValue(extracted).(map[string]any)
	finalJSON, err := json.Marshal(truncated)
	if err != nil {
		return nil, TruncationMeta{}, ferrors.FailedTo("serialize truncated trace payload", err)
	}

	return finalJSON, TruncationMeta{
		OriginalSizeBytes: originalSize,
		FinalSizeBytes:    len(finalJSON),
		WasTruncated:      true,
	}, nil
}

// truncateValue walks data, shortening over-long strings (keeping
// their suffix) and over-long lists (keeping their tail) wherever
// they occur, at any nesting depth.
func truncateValue(data any) any {
	switch v := data.(type) {
	case map[string]any:
		result := make(map[string]any, len(v))
		for key, val := range v {
			result[key] = truncateValue(val)
		}
		return result
	case []any:
		return truncateList(v)
	case string:
		return truncateString(v)
	default:
		return v
	}
}

func truncateList(list []any) []any {
	truncated := make([]any, len(list))
	for i, item := range list {
		truncated[i] = truncateValue(item)
	}
	if len(truncated) <= maxListLen {
		return truncated
	}
	kept := truncated[len(truncated)-maxListLen:]
	marker := fmt.Sprintf("[...%d earlier items truncated...]", len(truncated)-maxListLen)
	return append([]any{marker}, kept...)
}

func truncateString(s string) string {
	runes := []rune(s)
	if len(runes) <= maxStringLen {
		return s
	}
	cut := len(runes) - maxStringLen
	return fmt.Sprintf("[...truncated %d chars...]", cut) + string(runes[cut:])
}
