// Package redact masks secrets in event previews and log output. It is
// best-effort: over-masking is preferred to leaking.
package redact

import (
	"encoding/json"
	"io"
	"regexp"
	"strings"

	"github.com/visor-agent/visor/pkg/agent"
)

const masked = "[REDACTED]"

// sensitiveKeyParts flags an object key as sensitive when its lowercased
// form contains any of these substrings.
var sensitiveKeyParts = []string{
	"token",
	"secret",
	"password",
	"key",
	"auth",
	"cookie",
	"authorization",
}

// inlinePatterns catches secret shapes that survive key masking because they
// sit inside otherwise innocent string values.
var inlinePatterns = []*regexp.Regexp{
	// Provider API keys
	regexp.MustCompile(`sk-ant-[a-zA-Z0-9_-]{20,}`),
	regexp.MustCompile(`sk-[a-zA-Z0-9_-]{20,}`),

	// Bearer tokens
	regexp.MustCompile(`Bearer\s+[a-zA-Z0-9._-]+`),

	// AWS access keys
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),

	// Long session-token-like strings
	regexp.MustCompile(`\b[a-zA-Z0-9_-]{40,}\b`),

	// Inline assignments
	regexp.MustCompile(`password["\s:=]+[^\s",}]+`),
	regexp.MustCompile(`secret["\s:=]+[^\s",}]+`),
	regexp.MustCompile(`token["\s:=]+[a-zA-Z0-9._-]{16,}`),
}

// SensitiveKey reports whether an object key should have its value masked.
func SensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, part := range sensitiveKeyParts {
		if strings.Contains(lower, part) {
			return true
		}
	}
	return false
}

// Value walks a value tree and masks every object field whose key looks
// sensitive. Arrays and objects recurse; scalars pass through. The recursion
// needs no shapes beyond object, array, and scalar.
func Value(v agent.Value) agent.Value {
	switch v.Kind() {
	case agent.KindObject:
		obj, _ := v.AsObject()
		out := make(map[string]agent.Value, len(obj))
		for k, field := range obj {
			if SensitiveKey(k) {
				out[k] = agent.String(masked)
				continue
			}
			out[k] = Value(field)
		}
		return agent.Object(out)
	case agent.KindArray:
		arr, _ := v.AsArray()
		out := make([]agent.Value, 0, len(arr))
		for _, item := range arr {
			out = append(out, Value(item))
		}
		return agent.Array(out...)
	default:
		return v
	}
}

// Scrub applies the inline secret patterns to already-serialized text.
func Scrub(s string) string {
	for _, pattern := range inlinePatterns {
		s = pattern.ReplaceAllString(s, masked)
	}
	return s
}

// Preview renders a redacted, length-capped JSON preview of a value for
// event payloads. It never touches the persisted transcript.
func Preview(v agent.Value, limit int) string {
	data, err := json.Marshal(Value(v))
	if err != nil {
		return masked
	}
	s := Scrub(string(data))
	if limit > 0 && len(s) > limit {
		s = s[:limit] + "..."
	}
	return s
}

// PreviewString redacts and caps a plain string preview.
func PreviewString(s string, limit int) string {
	s = Scrub(s)
	if limit > 0 && len(s) > limit {
		s = s[:limit] + "..."
	}
	return s
}

// Writer wraps w so everything written through it passes Scrub first.
func Writer(w io.Writer) io.Writer {
	return &scrubWriter{w: w}
}

type scrubWriter struct {
	w io.Writer
}

func (s *scrubWriter) Write(p []byte) (int, error) {
	if _, err := s.w.Write([]byte(Scrub(string(p)))); err != nil {
		return 0, err
	}
	// Report the caller's byte count; the scrubbed form may differ in length.
	return len(p), nil
}
