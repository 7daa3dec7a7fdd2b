// Package middleware implements the request inspection pipeline: an ordered
// list of stages that either reject a request with a classified verdict or
// hand it, possibly sanitized, to the application handler.
package middleware

import (
	"go.uber.org/zap"

	"github.com/Aidin1998/talentboard/internal/infrastructure/ratelimit"
	"github.com/Aidin1998/talentboard/pkg/validation"
)

// Limits contains the numeric ceilings enforced by the governor stages
type Limits struct {
	MaxContentLength int64 `json:"max_content_length" yaml:"max_content_length" mapstructure:"max_content_length" validate:"gt=0"`
	MaxDepth         int   `json:"max_depth" yaml:"max_depth" mapstructure:"max_depth" validate:"gt=0,lte=50"`
	MaxFields        int   `json:"max_fields" yaml:"max_fields" mapstructure:"max_fields" validate:"gt=0"`
	MaxHeaders       int   `json:"max_headers" yaml:"max_headers" mapstructure:"max_headers" validate:"gt=0"`
	MaxHeaderLength  int   `json:"max_header_length" yaml:"max_header_length" mapstructure:"max_header_length" validate:"gt=0"`
	MaxCookieLength  int   `json:"max_cookie_length" yaml:"max_cookie_length" mapstructure:"max_cookie_length" validate:"gt=0"`
}

// DefaultLimits returns the production ceilings.
func DefaultLimits() Limits {
	return Limits{
		MaxContentLength: 5 << 20,
		MaxDepth:         20,
		MaxFields:        5000,
		MaxHeaders:       100,
		MaxHeaderLength:  8192,
		MaxCookieLength:  4096,
	}
}

// DefaultAuthRoutePrefixes are the routes governed by the auth rate limiter.
var DefaultAuthRoutePrefixes = []string{"/api/v1/auth"}

// Deps carries what BuildStages needs to construct stages. Stages only take
// the fields they use; a nil limiter is an error only if its stage is listed.
type Deps struct {
	Logger    *zap.Logger
	Limits    Limits
	Patterns  *validation.PatternSet
	Sanitizer *validation.Sanitizer

	GeneralLimiter    *ratelimit.Limiter
	AuthLimiter       *ratelimit.Limiter
	AuthRoutePrefixes []string

	AllowedRedirectHosts []string
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Limits == (Limits{}) {
		d.Limits = DefaultLimits()
	}
	if d.Patterns == nil {
		d.Patterns = validation.DefaultPatternSet()
	}
	if d.Sanitizer == nil {
		d.Sanitizer = validation.NewSanitizer()
	}
	if d.AuthRoutePrefixes == nil {
		d.AuthRoutePrefixes = DefaultAuthRoutePrefixes
	}
	return d
}
