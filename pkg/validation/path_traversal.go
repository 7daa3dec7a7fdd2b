package validation

import (
	"strings"
)

var reservedDeviceNames = map[string]struct{}{
	"CON": {}, "PRN": {}, "AUX": {}, "NUL": {},
	"COM1": {}, "COM2": {}, "COM3": {}, "COM4": {}, "COM5": {}, "COM6": {}, "COM7": {}, "COM8": {}, "COM9": {},
	"LPT1": {}, "LPT2": {}, "LPT3": {}, "LPT4": {}, "LPT5": {}, "LPT6": {}, "LPT7": {}, "LPT8": {}, "LPT9": {},
}

func pathTraversalPatterns() []Pattern {
	f := FamilyPathTraversal
	return []Pattern{
		MustRegexPattern(f, "parent_directory", `\.\.[/\\]`),
		MustRegexPattern(f, "encoded_parent_directory", `(?i)(%2e%2e|\.%2e|%2e\.)(%2f|%5c|/|\\)|\.\.(%2f|%5c)`),
		MustRegexPattern(f, "double_encoded_parent_directory", `(?i)%252e%252e|%252f|%255c`),
		MustRegexPattern(f, "overlong_utf8", `(?i)%c0%ae|%c0%af|%c1%9c|%c1%1c|%e0%80%ae|%c0%2e`),
		FuncPattern(f, "null_byte", func(s string) bool {
			return strings.IndexByte(s, 0) >= 0 || strings.Contains(strings.ToLower(s), "%00")
		}),
		FuncPattern(f, "reserved_device_segment", func(s string) bool {
			// A bare word is an ordinary value; only path-shaped strings are checked.
			if !strings.ContainsAny(s, `/\.:`) {
				return false
			}
			return HasReservedDeviceSegment(s)
		}),
	}
}

// IsReservedDeviceName reports whether a single path segment names a Windows
// device, with or without a single extension ("CON", "nul.txt", "COM1 ").
func IsReservedDeviceName(segment string) bool {
	base := segment
	if strings.Count(base, ".") > 1 {
		return false
	}
	if i := strings.IndexByte(base, '.'); i >= 0 {
		base = base[:i]
	}
	base = strings.TrimRight(strings.TrimSpace(base), ":")
	_, ok := reservedDeviceNames[strings.ToUpper(base)]
	return ok
}

// HasReservedDeviceSegment splits s on both separators and checks every segment.
func HasReservedDeviceSegment(s string) bool {
	for _, seg := range strings.FieldsFunc(s, func(r rune) bool { return r == '/' || r == '\\' }) {
		if IsReservedDeviceName(seg) {
			return true
		}
	}
	return false
}

// ValidFilename reports whether an uploaded file's declared name is safe to
// keep: no traversal, no separators, no device names, no NUL.
func (ps *PatternSet) ValidFilename(name string) bool {
	if name == "" {
		return true
	}
	if strings.ContainsAny(name, "/\\") || IsReservedDeviceName(name) {
		return false
	}
	_, hit := ps.Match(FamilyPathTraversal, name)
	return !hit && name != "." && name != ".."
}
