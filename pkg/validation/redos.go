package validation

import (
	"strings"
	"unicode"
)

const (
	redosAlnumRun     = 50
	redosLongInput    = 5000
	redosLongInputRun = 200
	redosQuotedSpan   = 5000
)

var redosExploitLiterals = []string{
	"(a+)+",
	"(a*)*",
	"(a|a)*",
	"(.*a){",
	"([a-zA-Z]+)*",
	"(x+x+)+y",
}

func redosPatterns() []Pattern {
	f := FamilyReDoS
	return []Pattern{
		FuncPattern(f, "repeated_alnum_run", func(s string) bool {
			return longestRun(s, isAlnum) >= redosAlnumRun
		}),
		FuncPattern(f, "long_repeated_run", func(s string) bool {
			return len(s) > redosLongInput && longestRun(s, nil) >= redosLongInputRun
		}),
		FuncPattern(f, "exploit_literal", func(s string) bool {
			for _, lit := range redosExploitLiterals {
				if strings.Contains(s, lit) {
					return true
				}
			}
			return false
		}),
		MustRegexPattern(f, "nested_quantifier", `\([^()]*[+*]\)[+*{]`),
		MustRegexPattern(f, "stacked_brace_quantifier", `(\{\d+(,\d*)?\}){2,}`),
		MustRegexPattern(f, "repeated_wildcard", `(\.[*+]){3,}`),
		MustRegexPattern(f, "bracket_run", `[(\[{]{20,}|[)\]}]{20,}`),
		MustRegexPattern(f, "long_negated_class", `\[\^[^\]]{51,}\]`),
		FuncPattern(f, "long_quoted_span", longQuotedSpan),
	}
}

func isAlnum(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// longestRun returns the length of the longest run of one repeated rune
// satisfying accept; a nil accept counts every rune.
func longestRun(s string, accept func(rune) bool) int {
	var (
		best, cur int
		prev      rune = -1
	)
	for _, r := range s {
		if accept != nil && !accept(r) {
			cur, prev = 0, -1
			continue
		}
		if r == prev {
			cur++
		} else {
			cur, prev = 1, r
		}
		if cur > best {
			best = cur
		}
	}
	return best
}

// longQuotedSpan reports a single- or double-quoted span longer than
// redosQuotedSpan characters.
func longQuotedSpan(s string) bool {
	if len(s) <= redosQuotedSpan {
		return false
	}
	for _, q := range []byte{'"', '\''} {
		start := -1
		for i := 0; i < len(s); i++ {
			if s[i] != q {
				continue
			}
			if start < 0 {
				start = i
				continue
			}
			if i-start-1 > redosQuotedSpan {
				return true
			}
			start = -1
		}
	}
	return false
}
