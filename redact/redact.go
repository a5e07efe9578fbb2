// Package redact masks credentials and keys in log text before it is
// returned to the browser.
package redact

import (
	"regexp"
	"sync/atomic"
)

// Placeholder replaces every sensitive match.
const Placeholder = "[FILTERED]"

var patterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)password\s*[=:]\s*\S+`),
	regexp.MustCompile(`(?i)passwd\s*[=:]\s*\S+`),
	regexp.MustCompile(`(?i)secret\s*[=:]\s*\S+`),
	regexp.MustCompile(`(?i)api[_-]?key\s*[=:]\s*\S+`),
	regexp.MustCompile(`(?i)token\s*[=:]\s*\S+`),
	regexp.MustCompile(`(?i)private[_-]?key\s*[=:]\s*\S+`),
	regexp.MustCompile(`(?i)access[_-]?key\s*[=:]\s*\S+`),
	regexp.MustCompile(`(?i)auth[_-]?key\s*[=:]\s*\S+`),
	regexp.MustCompile(`-----BEGIN\s+(RSA\s+)?PRIVATE\s+KEY-----`),
	regexp.MustCompile(`-----BEGIN\s+OPENSSH\s+PRIVATE\s+KEY-----`),
	regexp.MustCompile(`eyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_.+/-]*`),
}

// Filter applies the sensitive patterns while enabled. It is safe for
// concurrent use and may be toggled at runtime.
type Filter struct {
	enabled atomic.Bool
}

// New returns a Filter in the given state.
func New(enabled bool) *Filter {
	f := &Filter{}
	f.enabled.Store(enabled)
	return f
}

// Enabled reports whether filtering is on.
func (f *Filter) Enabled() bool { return f.enabled.Load() }

// SetEnabled turns filtering on or off.
func (f *Filter) SetEnabled(on bool) { f.enabled.Store(on) }

// Apply returns s with sensitive values replaced, or s unchanged when the
// filter is off.
func (f *Filter) Apply(s string) string {
	if !f.Enabled() || s == "" {
		return s
	}
	return String(s)
}

// String unconditionally redacts s.
func String(s string) string {
	for _, re := range patterns {
		s = re.ReplaceAllLiteralString(s, Placeholder)
	}
	return s
}
