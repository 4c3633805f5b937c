// Package redact scrubs listener PII from log output. Questions are
// free-form speech and regularly carry contact details.
package redact

import (
	"regexp"
	"strings"
	"sync/atomic"
)

var enabled atomic.Bool

const maxQuestionLogLen = 200

var patterns = []struct {
	re   *regexp.Regexp
	mask string
}{
	{regexp.MustCompile(`(?i)[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`), "[REDACTED_EMAIL]"},
	{regexp.MustCompile(`\b\+?\d[\d\s\-]{7,}\d\b`), "[REDACTED_PHONE]"},
}

// SetEnabled toggles PII redaction.
func SetEnabled(v bool) {
	enabled.Store(v)
}

// Enabled returns true when redaction is active.
func Enabled() bool {
	return enabled.Load()
}

// Text masks emails and phone numbers when redaction is enabled.
func Text(in string) string {
	if !enabled.Load() || strings.TrimSpace(in) == "" {
		return in
	}
	out := in
	for _, p := range patterns {
		out = p.re.ReplaceAllString(out, p.mask)
	}
	return out
}

// Question prepares a listener question for logging: redacted and
// truncated so a rambling utterance does not flood the log line.
func Question(in string) string {
	out := Text(in)
	if len(out) > maxQuestionLogLen {
		out = out[:maxQuestionLogLen] + "..."
	}
	return out
}
