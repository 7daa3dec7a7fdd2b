package validation

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// maxSanitizePasses bounds the fixpoint loop in Sanitize.
const maxSanitizePasses = 8

// Sanitizer strips markup from strings while keeping their visible text.
// Script and style element content is dropped entirely.
type Sanitizer struct {
	policy *bluemonday.Policy
}

// NewSanitizer creates a sanitizer backed by the strict policy: no element or
// attribute survives.
func NewSanitizer() *Sanitizer {
	return &Sanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize strips markup from s. The result is a fixpoint, so sanitizing it
// again returns it unchanged.
func (s *Sanitizer) Sanitize(input string) string {
	if !strings.ContainsAny(input, "<>&") {
		return input
	}

	current := input
	for i := 0; i < maxSanitizePasses; i++ {
		next := html.UnescapeString(s.policy.Sanitize(current))
		if next == current {
			return current
		}
		current = next
	}

	// Entity chains deeper than the pass budget lose their markup characters.
	return strings.Map(func(r rune) rune {
		switch r {
		case '<', '>', '&':
			return -1
		}
		return r
	}, current)
}

// SanitizeValue deep-clones v sanitizing every string, mapping keys included.
// changed reports whether anything was altered.
func (s *Sanitizer) SanitizeValue(v Value) (Value, bool) {
	return Transform(v, s.Sanitize)
}
