package validation

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Family identifies an attack family. Each family has its own rejection code.
type Family string

const (
	FamilySQLInjection      Family = "sql_injection"
	FamilyReDoS             Family = "redos"
	FamilyDOMClobbering     Family = "dom_clobbering"
	FamilyTemplateInjection Family = "template_injection"
	FamilyPathTraversal     Family = "path_traversal"
	FamilyCSSInjection      Family = "css_injection"
	FamilyCookie            Family = "cookie"
)

// Families lists every known family in registration order.
var Families = []Family{
	FamilySQLInjection,
	FamilyReDoS,
	FamilyDOMClobbering,
	FamilyTemplateInjection,
	FamilyPathTraversal,
	FamilyCSSInjection,
	FamilyCookie,
}

func (f Family) valid() bool {
	for _, known := range Families {
		if f == known {
			return true
		}
	}
	return false
}

// Pattern is one named predicate of a family.
type Pattern struct {
	Name   string
	Family Family
	// KeyOnly patterns are only evaluated against mapping keys.
	KeyOnly bool
	match   func(string) bool
}

// Match reports whether s matches the pattern.
func (p Pattern) Match(s string) bool {
	return p.match != nil && p.match(s)
}

// RegexPattern compiles expr into a named pattern.
func RegexPattern(family Family, name, expr string) (Pattern, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return Pattern{}, fmt.Errorf("compile pattern %s/%s: %w", family, name, err)
	}
	return Pattern{Name: name, Family: family, match: re.MatchString}, nil
}

// MustRegexPattern is like RegexPattern but panics on a bad expression.
func MustRegexPattern(family Family, name, expr string) Pattern {
	p, err := RegexPattern(family, name, expr)
	if err != nil {
		panic(err)
	}
	return p
}

// FuncPattern wraps a Go predicate for checks a regular expression cannot
// express, such as repeated character runs.
func FuncPattern(family Family, name string, fn func(string) bool) Pattern {
	return Pattern{Name: name, Family: family, match: fn}
}

// Hit describes the first match found by a scan.
type Hit struct {
	Family  Family `json:"family"`
	Pattern string `json:"pattern"`
	Path    string `json:"path"`
}

// PatternSet is the immutable collection of patterns consulted by every
// request. Build it once at startup and share it.
type PatternSet struct {
	families map[Family][]Pattern
}

// NewPatternSet groups patterns by family, preserving order.
func NewPatternSet(patterns ...Pattern) *PatternSet {
	ps := &PatternSet{families: make(map[Family][]Pattern)}
	for _, p := range patterns {
		ps.families[p.Family] = append(ps.families[p.Family], p)
	}
	return ps
}

// With returns a new set containing the receiver's patterns followed by extra.
func (ps *PatternSet) With(extra ...Pattern) *PatternSet {
	out := &PatternSet{families: make(map[Family][]Pattern, len(ps.families))}
	for f, patterns := range ps.families {
		out.families[f] = append([]Pattern(nil), patterns...)
	}
	for _, p := range extra {
		out.families[p.Family] = append(out.families[p.Family], p)
	}
	return out
}

// Patterns returns the patterns registered for family.
func (ps *PatternSet) Patterns(family Family) []Pattern {
	return ps.families[family]
}

// Match checks a single string against every non key-only pattern of family.
func (ps *PatternSet) Match(family Family, s string) (string, bool) {
	return ps.match(family, s, false)
}

// MatchKey checks a mapping key against every pattern of family.
func (ps *PatternSet) MatchKey(family Family, s string) (string, bool) {
	return ps.match(family, s, true)
}

func (ps *PatternSet) match(family Family, s string, isKey bool) (string, bool) {
	if prepare, ok := preparers[family]; ok {
		var check bool
		if s, check = prepare(s); !check {
			return "", false
		}
	}
	for _, p := range ps.families[family] {
		if p.KeyOnly && !isKey {
			continue
		}
		if p.Match(s) {
			return p.Name, true
		}
	}
	return "", false
}

// Scan deep-scans v, short-circuiting on the first string that matches.
// Mapping keys are checked when keys is set.
func (ps *PatternSet) Scan(family Family, v Value, keys bool) (Hit, bool) {
	var hit Hit
	found := WalkStrings(v, keys, func(path, s string, isKey bool) bool {
		name, ok := ps.match(family, s, isKey)
		if ok {
			hit = Hit{Family: family, Pattern: name, Path: path}
		}
		return !ok
	})
	return hit, found
}

// preparers normalise or gate input before a family's patterns run. A false
// result skips the string entirely.
var preparers = map[Family]func(string) (string, bool){
	FamilySQLInjection: prepareSQL,
}

// DefaultPatternSet returns the built-in patterns of every family.
func DefaultPatternSet() *PatternSet {
	var all []Pattern
	all = append(all, sqlInjectionPatterns()...)
	all = append(all, redosPatterns()...)
	all = append(all, domClobberingPatterns()...)
	all = append(all, templateInjectionPatterns()...)
	all = append(all, pathTraversalPatterns()...)
	all = append(all, cssInjectionPatterns()...)
	all = append(all, cookiePatterns()...)
	return NewPatternSet(all...)
}

type patternFile struct {
	Families map[Family][]struct {
		Name    string `yaml:"name"`
		Pattern string `yaml:"pattern"`
	} `yaml:"families"`
}

// LoadPatternSet returns the default set extended with the regular
// expressions listed in the YAML file at path:
//
//	families:
//	  sql_injection:
//	    - name: custom_probe
//	      pattern: '(?i)\bprobe_fn\s*\('
func LoadPatternSet(path string) (*PatternSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pattern file: %w", err)
	}
	return ParsePatternSet(data)
}

// ParsePatternSet is LoadPatternSet over an in-memory document.
func ParsePatternSet(data []byte) (*PatternSet, error) {
	var file patternFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse pattern file: %w", err)
	}

	var extra []Pattern
	for _, family := range Families {
		for _, entry := range file.Families[family] {
			if entry.Name == "" {
				return nil, fmt.Errorf("pattern in family %s has no name", family)
			}
			p, err := RegexPattern(family, entry.Name, entry.Pattern)
			if err != nil {
				return nil, err
			}
			extra = append(extra, p)
		}
	}
	for family := range file.Families {
		if !family.valid() {
			return nil, fmt.Errorf("unknown pattern family %q", family)
		}
	}
	return DefaultPatternSet().With(extra...), nil
}
