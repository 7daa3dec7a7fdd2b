package validation

import (
	"strings"
)

var cookieDangerousSubstrings = []string{
	"__proto__",
	"constructor",
	"prototype",
	"<script",
	"</script",
	"../",
	`..\`,
	"javascript:",
	"vbscript:",
	"data:text/html",
}

func cookiePatterns() []Pattern {
	f := FamilyCookie
	return []Pattern{
		FuncPattern(f, "control_character", hasControlCharacter),
		FuncPattern(f, "dangerous_substring", func(s string) bool {
			lower := strings.ToLower(s)
			for _, sub := range cookieDangerousSubstrings {
				if strings.Contains(lower, sub) {
					return true
				}
			}
			return false
		}),
	}
}

// hasControlCharacter reports bytes 0x00-0x1F and 0x7F-0x9F. Header values
// are octets, so a raw C1 byte that is not valid UTF-8 is still caught.
func hasControlCharacter(s string) bool {
	for i := 0; i < len(s); i++ {
		if c := s[i]; c <= 0x1f || (c >= 0x7f && c <= 0x9f) {
			return true
		}
	}
	return false
}

// hasControlRune reports C0 controls, DEL and C1 controls in decoded text
// (U+0000-U+001F, U+007F-U+009F).
func hasControlRune(s string) bool {
	for _, r := range s {
		if r <= 0x1f || (r >= 0x7f && r <= 0x9f) {
			return true
		}
	}
	return false
}

// CookieIssue classifies the first problem found in a Cookie header.
type CookieIssue int

const (
	CookieOK CookieIssue = iota
	CookieMalicious
	CookieTooLong
)

// InspectCookies checks a raw Cookie header. Control characters anywhere in
// the header are malicious; each "name=value" entry is then checked against
// maxEntryLength and the cookie family. reason names the matched pattern.
func (ps *PatternSet) InspectCookies(header string, maxEntryLength int) (issue CookieIssue, reason string) {
	if header == "" {
		return CookieOK, ""
	}
	if hasControlCharacter(header) {
		return CookieMalicious, "control_character"
	}
	for _, entry := range strings.Split(header, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if maxEntryLength > 0 && len(entry) > maxEntryLength {
			return CookieTooLong, "length"
		}
		if name, hit := ps.Match(FamilyCookie, entry); hit {
			return CookieMalicious, name
		}
	}
	return CookieOK, ""
}
