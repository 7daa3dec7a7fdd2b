package validation

func templateInjectionPatterns() []Pattern {
	f := FamilyTemplateInjection
	return []Pattern{
		// delimiters
		MustRegexPattern(f, "double_brace", `(?s)\{\{.*?\}\}`),
		MustRegexPattern(f, "dollar_brace", `\$\{[^}]*\}`),
		MustRegexPattern(f, "erb", `(?s)<%.*?%>`),
		MustRegexPattern(f, "jinja_block", `(?s)\{%.*?%\}`),
		MustRegexPattern(f, "hash_brace", `#\{[^}]*\}`),

		// evaluation primitives
		MustRegexPattern(f, "constructor_chain", `(?i)constructor\s*\.\s*constructor`),
		MustRegexPattern(f, "process_access", `\bprocess\s*\.\s*(env|mainModule|binding|exit|kill)\b`),
		MustRegexPattern(f, "module_loader", `\b(require|import)\(`),
		MustRegexPattern(f, "global_access", `\bglobal\s*\.\s*\w|\bglobalThis\b`),
		MustRegexPattern(f, "python_escape", `__(class|mro|base|bases|subclasses|globals|builtins|init)__`),
	}
}
