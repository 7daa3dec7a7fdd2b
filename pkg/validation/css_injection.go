package validation

func cssInjectionPatterns() []Pattern {
	f := FamilyCSSInjection
	return []Pattern{
		MustRegexPattern(f, "script_url", `(?i)\b(javascript|vbscript)\s*:`),
		MustRegexPattern(f, "html_data_url", `(?i)data\s*:\s*text/html`),
		MustRegexPattern(f, "expression", `(?i)(\bexpression\(|:\s*expression\s*\()`),
		MustRegexPattern(f, "behavior", `(?i)\bbehavior\s*:\s*url\s*\(`),
		MustRegexPattern(f, "binding", `(?i)(-moz-binding\s*:|\bbinding\s*:\s*url\s*\()`),
		MustRegexPattern(f, "font_face_line_escape", `(?i)@font-face\s*\{[^}]*\\\r?\n`),
	}
}
