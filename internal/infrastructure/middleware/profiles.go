// profiles.go: Stage registry and named pipeline profiles
package middleware

import (
	"fmt"
	"sort"
	"strings"
)

// Stage names
const (
	StageRateLimit         = "rate_limit"
	StageAuthRateLimit     = "auth_rate_limit"
	StageHeaderFlood       = "header_flood"
	StageCookie            = "cookie"
	StagePayloadSize       = "payload_size"
	StageComplexity        = "complexity"
	StageXSS               = "xss"
	StageSQLInjection      = "sql_injection"
	StageReDoS             = "redos"
	StagePathTraversal     = "path_traversal"
	StageRedirect          = "redirect"
	StageDOMClobbering     = "dom_clobbering"
	StageTemplateInjection = "template_injection"
	StageCSSInjection      = "css_injection"
)

// Profile names
const (
	ProfileMinimal  = "minimal"
	ProfileEnhanced = "enhanced"
)

var profiles = map[string][]string{
	ProfileMinimal: {
		StageRateLimit,
		StageAuthRateLimit,
		StagePayloadSize,
		StageComplexity,
		StageXSS,
		StageSQLInjection,
		StageReDoS,
		StagePathTraversal,
	},
	ProfileEnhanced: {
		StageRateLimit,
		StageAuthRateLimit,
		StageHeaderFlood,
		StageCookie,
		StagePayloadSize,
		StageComplexity,
		StageXSS,
		StageSQLInjection,
		StageReDoS,
		StagePathTraversal,
		StageRedirect,
		StageDOMClobbering,
		StageTemplateInjection,
		StageCSSInjection,
	},
}

// ProfileStages returns a copy of the stage list of a named profile.
func ProfileStages(profile string) ([]string, error) {
	stages, ok := profiles[profile]
	if !ok {
		return nil, fmt.Errorf("unknown pipeline profile %q", profile)
	}
	return append([]string(nil), stages...), nil
}

type stageFactory func(d Deps) (Stage, error)

var registry = map[string]stageFactory{
	StageRateLimit: func(d Deps) (Stage, error) {
		if d.GeneralLimiter == nil {
			return nil, fmt.Errorf("stage %s: no limiter configured", StageRateLimit)
		}
		return NewRateLimitStage(StageRateLimit, d.GeneralLimiter, nil, d.Logger), nil
	},
	StageAuthRateLimit: func(d Deps) (Stage, error) {
		if d.AuthLimiter == nil {
			return nil, fmt.Errorf("stage %s: no limiter configured", StageAuthRateLimit)
		}
		return NewRateLimitStage(StageAuthRateLimit, d.AuthLimiter, d.AuthRoutePrefixes, d.Logger), nil
	},
	StageHeaderFlood: func(d Deps) (Stage, error) {
		return NewHeaderFloodStage(d.Limits.MaxHeaders, d.Limits.MaxHeaderLength), nil
	},
	StageCookie: func(d Deps) (Stage, error) {
		return NewCookieStage(d.Patterns, d.Limits.MaxCookieLength), nil
	},
	StagePayloadSize: func(d Deps) (Stage, error) {
		return NewPayloadSizeStage(d.Limits.MaxContentLength), nil
	},
	StageComplexity: func(d Deps) (Stage, error) {
		return NewComplexityStage(d.Limits.MaxDepth, d.Limits.MaxFields), nil
	},
	StageXSS: func(d Deps) (Stage, error) {
		return NewSanitizeStage(d.Sanitizer), nil
	},
	StageSQLInjection: func(d Deps) (Stage, error) {
		return NewSQLInjectionStage(d.Patterns), nil
	},
	StageReDoS: func(d Deps) (Stage, error) {
		return NewReDoSStage(d.Patterns), nil
	},
	StagePathTraversal: func(d Deps) (Stage, error) {
		return NewPathTraversalStage(d.Patterns), nil
	},
	StageRedirect: func(d Deps) (Stage, error) {
		return NewRedirectStage(d.AllowedRedirectHosts), nil
	},
	StageDOMClobbering: func(d Deps) (Stage, error) {
		return NewDOMClobberingStage(d.Patterns), nil
	},
	StageTemplateInjection: func(d Deps) (Stage, error) {
		return NewTemplateInjectionStage(d.Patterns), nil
	},
	StageCSSInjection: func(d Deps) (Stage, error) {
		return NewCSSInjectionStage(d.Patterns), nil
	},
}

// KnownStages returns every registered stage name, sorted.
func KnownStages() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BuildStages constructs the named stages in the given order. Unknown or
// repeated names are configuration errors.
func BuildStages(names []string, deps Deps) ([]Stage, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("empty stage list")
	}
	deps = deps.withDefaults()

	seen := make(map[string]struct{}, len(names))
	stages := make([]Stage, 0, len(names))
	for _, raw := range names {
		name := strings.ToLower(strings.TrimSpace(raw))
		factory, ok := registry[name]
		if !ok {
			return nil, fmt.Errorf("unknown stage %q (known: %s)", raw, strings.Join(KnownStages(), ", "))
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("stage %q listed twice", name)
		}
		seen[name] = struct{}{}

		stage, err := factory(deps)
		if err != nil {
			return nil, err
		}
		stages = append(stages, stage)
	}
	return stages, nil
}

// NewProfilePipeline builds a pipeline from a named profile.
func NewProfilePipeline(profile string, deps Deps) (*Pipeline, error) {
	names, err := ProfileStages(profile)
	if err != nil {
		return nil, err
	}
	stages, err := BuildStages(names, deps)
	if err != nil {
		return nil, err
	}
	return NewPipeline(stages...), nil
}
