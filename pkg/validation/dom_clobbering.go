package validation

// reservedKeys are property names that must never be planted in a body.
var reservedKeys = map[string]struct{}{
	"__proto__":   {},
	"constructor": {},
	"prototype":   {},
}

func domClobberingPatterns() []Pattern {
	f := FamilyDOMClobbering
	return []Pattern{
		MustRegexPattern(f, "named_element",
			`(?i)<\s*(form|input|div|img|a|iframe|embed|object|span|button|select|textarea|output|svg)\b[^>]*\b(id|name)\s*=\s*["']?\s*(eval|location|constructor|__proto__|prototype|document|window|alert|__\w+)\b`),
		MustRegexPattern(f, "bracket_accessor", `\[\s*["'\x60]?\s*(constructor|prototype|__proto__)\s*["'\x60]?\s*\]`),
		MustRegexPattern(f, "dunder_accessor", `__proto__|\bconstructor\s*\.\s*prototype\b`),
		{
			Name:    "reserved_key",
			Family:  f,
			KeyOnly: true,
			match: func(s string) bool {
				_, ok := reservedKeys[s]
				return ok
			},
		},
	}
}
