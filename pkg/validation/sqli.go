package validation

import (
	"regexp"
	"strings"
)

// sqlMinLength is the shortest trimmed string the SQL injection family inspects.
const sqlMinLength = 10

// sqlAllowList holds technical phrases common in resumes and skill lists.
// They are blanked out before matching.
var sqlAllowList = regexp.MustCompile(`(?i)\b(ms\s+sql\s+server|sql\s+server|mysql|postgresql|postgres|nosql|sqlite|pl/sql|t-sql|oracle\s+database|drop-?\s?down|select\s+all\s+that\s+apply|order\s+by\s+date)\b`)

func prepareSQL(s string) (string, bool) {
	if len(strings.TrimSpace(s)) < sqlMinLength {
		return s, false
	}
	return sqlAllowList.ReplaceAllString(s, " "), true
}

func sqlInjectionPatterns() []Pattern {
	f := FamilySQLInjection
	return []Pattern{
		// DML/DDL verb followed by its clause keyword
		MustRegexPattern(f, "union_select", `(?i)\bunion\s+(all\s+|distinct\s+)?select\b`),
		MustRegexPattern(f, "select_from", `(?i)\bselect\s+(\*|[\w.\x60"\[\]]+(\s*,\s*[\w.\x60"\[\]]+)*)\s+from\s+[\w.\x60"\[\]]+`),
		MustRegexPattern(f, "insert_into", `(?i)\binsert\s+into\s+[\w.\x60"\[\]]+`),
		MustRegexPattern(f, "update_set", `(?i)\bupdate\s+[\w.\x60"\[\]]+\s+set\s+[\w.\x60"\[\]]+\s*=`),
		MustRegexPattern(f, "delete_from", `(?i)\bdelete\s+from\s+[\w.\x60"\[\]]+`),
		MustRegexPattern(f, "ddl", `(?i)\b(drop|truncate|alter|create)\s+(table|database|schema|index|view|procedure|function|trigger|user)\b`),
		MustRegexPattern(f, "order_group_probe", `(?i)['")]\s*(order|group)\s+by\s+\d+`),

		// boolean tautologies
		MustRegexPattern(f, "numeric_tautology", `(?i)\b(or|and)\s+['"]?\d+['"]?\s*(=|<>|!=|<=|>=|<|>|\blike\b)\s*['"]?\d+`),
		MustRegexPattern(f, "string_tautology", `(?i)['"]\s*(or|and)\s+['"][^'"]*['"]\s*(=|<>|!=|\blike\b)\s*['"]`),

		// comment terminators and stacked statements
		MustRegexPattern(f, "quote_comment", `['"\x60]\s*(--(\s|$)|#\s*$|/\*)`),
		MustRegexPattern(f, "stacked_statement", `(?i);\s*(select\s+(\*|\w+\s*(,|from\b))|insert\s+into|update\s+\w+\s+set|delete\s+from|(drop|truncate|alter|create)\s+(table|database|schema|index|view|procedure|function|user)\b|exec(ute)?\s+(xp_|sp_|@)|declare\s+@|shutdown\b)`),

		// dangerous procedures and time-based probes
		MustRegexPattern(f, "dangerous_procedure", `(?i)\b(xp_cmdshell|xp_regread|xp_dirtree|sp_executesql|sp_oacreate|sp_oamethod|sp_makewebtask|sp_configure)\b`),
		MustRegexPattern(f, "time_probe", `(?i)(\bwaitfor\s+delay\b|\bbenchmark\s*\(|\bpg_sleep\s*\(|\bsleep\s*\(\s*\d)`),
		MustRegexPattern(f, "file_access", `(?i)(\bload_file\s*\(|\binto\s+(out|dump)file\b)`),
		MustRegexPattern(f, "schema_probe", `(?i)\b(information_schema|sysobjects|syscolumns|pg_catalog|sqlite_master)\b`),
		MustRegexPattern(f, "exec_call", `(?i)\bexec(ute)?\s*\(\s*['"@]`),
	}
}
