// Package sanitize cleans text and nested payloads before they reach a
// model or a serializer, and redacts personal contact details from
// conversational content.
package sanitize

import (
	"math"
	"regexp"
	"strings"
)

var (
	// Control characters, zero-width and bidi marks that break model
	// prompts and JSON consumers.
	invisibleRe = regexp.MustCompile(`[\x{0000}-\x{001F}\x{007F}-\x{009F}\x{200B}-\x{200F}\x{202A}-\x{202E}\x{2060}-\x{206F}\x{FEFF}]`)

	// Literal numeric-sentinel tokens that poison downstream JSON parsing.
	sentinelTokenRe = regexp.MustCompile(`(?i)\b(?:NaN|Infinity|INF)\b`)

	whitespaceRe = regexp.MustCompile(`\s+`)
)

// CleanText removes control and invisible characters and the literal
// tokens NaN/Infinity/INF, collapses whitespace runs to single spaces, and
// trims both ends. Idempotent: CleanText(CleanText(x)) == CleanText(x).
func CleanText(text string) string {
	if text == "" {
		return ""
	}
	text = invisibleRe.ReplaceAllString(text, "")
	text = sentinelTokenRe.ReplaceAllString(text, "")
	text = whitespaceRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// sentinelStrings are string values treated as numeric sentinels.
var sentinelStrings = map[string]struct{}{
	"nan": {}, "inf": {}, "-inf": {}, "infinity": {}, "-infinity": {},
}

// CleanValue recursively scrubs a decoded JSON-like value so it can cross
// a serialization boundary safely:
//
//   - nil entries are dropped from maps and slices
//   - float NaN and ±Inf become 0.0
//   - strings equal (case-insensitively) to a numeric sentinel become ""
//   - everything else passes through unchanged
func CleanValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			if item == nil {
				continue
			}
			out[k] = CleanValue(item)
		}
		return out
	case []any:
		out := make([]any, 0, len(v))
		for _, item := range v {
			if item == nil {
				continue
			}
			out = append(out, CleanValue(item))
		}
		return out
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0.0
		}
		return v
	case float32:
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return 0.0
		}
		return f
	case string:
		if _, ok := sentinelStrings[strings.ToLower(v)]; ok {
			return ""
		}
		return v
	default:
		return value
	}
}

// Redaction patterns: email addresses and mainland mobile numbers with an
// optional +86 country code.
var (
	emailRe      = regexp.MustCompile(`[a-zA-Z0-9_.+-]+@[a-zA-Z0-9-]+\.[a-zA-Z0-9-.]+`)
	phoneRe      = regexp.MustCompile(`(\+86)?1[3-9]\d{9}`)
	phoneCheckRe = regexp.MustCompile(`1[3-9]\d{9}`)
)

const (
	EmailToken = "[EMAIL]"
	PhoneToken = "[PHONE]"
)

// Redact replaces email addresses and phone numbers in conversational text
// with fixed tokens. Text that already carries the tokens, or that cannot
// contain either pattern, is returned unchanged without scanning.
func Redact(text string) string {
	if text == "" || strings.Contains(text, EmailToken) || strings.Contains(text, PhoneToken) {
		return text
	}
	if !strings.Contains(text, "@") && !phoneCheckRe.MatchString(text) {
		return text
	}
	text = emailRe.ReplaceAllString(text, EmailToken)
	text = phoneRe.ReplaceAllString(text, PhoneToken)
	return text
}
