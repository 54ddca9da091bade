// Package redact strips personally-identifiable information from
// Datadog trace payloads before they cross the ingestion boundary,
// and from LLM-generated evidence text before a generator persists
// it. It is the single source of truth for PII handling shared by
// every EvalForge service.
package redact

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strconv"
	"strings"
)

// FieldsToStrip names the dotted paths removed wholesale from a
// structured trace payload before it is persisted.
var FieldsToStrip = []string{
	"user.email",
	"user.name",
	"user.phone",
	"user.address",
	"user.id",
	"user.user_id",
	"user.ip",
	"client.ip",
	"session_id",
	"request.headers.authorization",
	"request.headers.cookie",
}

// freeTextKeys are replaced wholesale rather than pattern-scrubbed,
// because LLM trace payloads are unstructured prose that regexes
// alone would not fully catch.
var freeTextKeys = []string{"input", "output", "prompt", "response"}

const redactedContent = "[REDACTED_CONTENT]"

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?\d{1,3}[-.\s]?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`)
	ssnPattern   = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
	cardPattern  = regexp.MustCompile(`\b(?:\d[ -]?){13,19}\b`)
)

// StripPaths removes every dotted path in paths from doc, mutating
// it in place. A path whose intermediate segment is missing or not a
// map is left alone.
func StripPaths(doc map[string]any, paths []string) {
	for _, p := range paths {
		stripPath(doc, p)
	}
}

func stripPath(doc map[string]any, dottedPath string) {
	parts := strings.Split(dottedPath, ".")
	target := doc
	for i, key := range parts {
		if i == len(parts)-1 {
			delete(target, key)
			return
		}
		next, ok := target[key]
		if !ok {
			return
		}
		nested, ok := next.(map[string]any)
		if !ok {
			return
		}
		target = nested
	}
}

// RedactFreeText replaces input/output/prompt/response keys in doc
// wholesale with a fixed token, mutating it in place.
func RedactFreeText(doc map[string]any) {
	for _, key := range freeTextKeys {
		if _, ok := doc[key]; ok {
			doc[key] = redactedContent
		}
	}
}

// HashUserIdentifier computes a salted, irreversible identifier for
// an end user so audit trails can correlate failures to a user
// without retaining the raw identifier.
func HashUserIdentifier(id, salt string) string {
	sum := sha256.Sum256([]byte(id + "||" + salt))
	return hex.EncodeToString(sum[:])
}

// extractUserID looks for an "id" or "user_id" key under a "user"
// sub-map, the shape provider trace payloads carry user identity in.
func extractUserID(payload map[string]any) string {
	userRaw, ok := payload["user"]
	if !ok {
		return ""
	}
	user, ok := userRaw.(map[string]any)
	if !ok {
		return ""
	}
	if id, ok := user["id"].(string); ok && id != "" {
		return id
	}
	if id, ok := user["user_id"].(string); ok && id != "" {
		return id
	}
	return ""
}

// SanitizePayload strips configured PII fields and free-text keys
// from a copy of payload and returns the sanitized copy alongside a
// salted hash of any discovered user identifier (empty if none was
// found). payload is not mutated.
func SanitizePayload(payload map[string]any, salt string) (map[string]any, string) {
	sanitized := deepCopyMap(payload)

	userHash := ""
	if id := extractUserID(sanitized); id != "" {
		userHash = HashUserIdentifier(id, salt)
	}

	StripPaths(sanitized, FieldsToStrip)
	RedactFreeText(sanitized)

	return sanitized, userHash
}

func deepCopyMap(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src))
	for k, v := range src {
		if nested, ok := v.(map[string]any); ok {
			dst[k] = deepCopyMap(nested)
			continue
		}
		dst[k] = v
	}
	return dst
}

// RedactText scrubs emails, phone numbers, national identifiers, and
// Luhn-valid card numbers out of free-form text, for evidence
// excerpts generated by the LLM that are never passed through
// SanitizePayload's structured field stripping.
func RedactText(text string) string {
	text = emailPattern.ReplaceAllString(text, "[REDACTED_EMAIL]")
	text = ssnPattern.ReplaceAllString(text, "[REDACTED_SSN]")
	text = cardPattern.ReplaceAllStringFunc(text, func(match string) string {
		if looksLikeCardNumber(match) {
			return "[REDACTED_CARD]"
		}
		return match
	})
	text = phonePattern.ReplaceAllString(text, "[REDACTED_PHONE]")
	return text
}

// looksLikeCardNumber applies the Luhn checksum to a run of digits
// (ignoring separators) to avoid over-redacting unrelated long
// numbers such as trace IDs.
func looksLikeCardNumber(match string) bool {
	digits := make([]byte, 0, len(match))
	for _, r := range match {
		if r >= '0' && r <= '9' {
			digits = append(digits, byte(r))
		}
	}
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}

	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d, _ := strconv.Atoi(string(digits[i]))
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

// RedactAndTruncate applies RedactText and then truncates the result
// to maxLen characters, preserving the suffix (the most recent
// content in an LLM transcript is usually the most relevant) with a
// leading marker noting how much was cut.
func RedactAndTruncate(text string, maxLen int) string {
	redacted := RedactText(text)
	runes := []rune(redacted)
	if len(runes) <= maxLen {
		return redacted
	}
	cut := len(runes) - maxLen
	return "...[truncated " + strconv.Itoa(cut) + " chars]..." + string(runes[cut:])
}
