// inspectors.go: Sanitizer and pattern-matching stages
package middleware

import (
	"context"

	"github.com/Aidin1998/talentboard/pkg/errors"
	"github.com/Aidin1998/talentboard/pkg/validation"
)

// SanitizeStage strips markup from every string of the body and query,
// keys included. It never rejects.
type SanitizeStage struct {
	sanitizer *validation.Sanitizer
}

func NewSanitizeStage(sanitizer *validation.Sanitizer) *SanitizeStage {
	return &SanitizeStage{sanitizer: sanitizer}
}

func (s *SanitizeStage) Name() string { return StageXSS }

func (s *SanitizeStage) Inspect(_ context.Context, req *Request) *errors.Rejection {
	if req.Inspectable() {
		if body, changed := s.sanitizer.SanitizeValue(req.Body); changed {
			req.SetBody(body)
			sanitizedTotal.WithLabelValues("body").Inc()
		}
	}
	if query, changed := s.sanitizer.SanitizeValue(req.Query); changed {
		req.SetQuery(query)
		sanitizedTotal.WithLabelValues("query").Inc()
	}
	return nil
}

// target selects one part of the request for a pattern stage and the
// rejection reported when it matches.
type target struct {
	part   string
	value  func(req *Request) (validation.Value, bool)
	reject func() *errors.Rejection
}

func bodyTarget(reject func() *errors.Rejection) target {
	return target{
		part: "body",
		value: func(req *Request) (validation.Value, bool) {
			return req.Body, req.Inspectable()
		},
		reject: reject,
	}
}

func queryTarget(reject func() *errors.Rejection) target {
	return target{
		part: "query",
		value: func(req *Request) (validation.Value, bool) {
			return req.Query, true
		},
		reject: reject,
	}
}

func paramsTarget(reject func() *errors.Rejection) target {
	return target{
		part: "params",
		value: func(req *Request) (validation.Value, bool) {
			return req.Params, true
		},
		reject: reject,
	}
}

// PatternStage deep-scans request parts against one attack family and
// rejects on the first hit.
type PatternStage struct {
	name     string
	family   validation.Family
	patterns *validation.PatternSet
	keys     bool
	targets  []target
}

func (s *PatternStage) Name() string { return s.name }

func (s *PatternStage) Inspect(_ context.Context, req *Request) *errors.Rejection {
	for _, t := range s.targets {
		v, ok := t.value(req)
		if !ok {
			continue
		}
		if hit, found := s.patterns.Scan(s.family, v, s.keys); found {
			hit.Path = joinPath(t.part, hit.Path)
			req.Finding = &hit
			return t.reject()
		}
	}
	return nil
}

func joinPath(part, path string) string {
	if path == "" {
		return part
	}
	if path[0] == '[' {
		return part + path
	}
	return part + "." + path
}

// NewSQLInjectionStage reports body hits as SUSPICIOUS_INPUT and URL hits as
// SUSPICIOUS_QUERY.
func NewSQLInjectionStage(patterns *validation.PatternSet) *PatternStage {
	return &PatternStage{
		name:     StageSQLInjection,
		family:   validation.FamilySQLInjection,
		patterns: patterns,
		targets: []target{
			bodyTarget(errors.SuspiciousInput),
			queryTarget(errors.SuspiciousQuery),
			paramsTarget(errors.SuspiciousQuery),
		},
	}
}

func NewReDoSStage(patterns *validation.PatternSet) *PatternStage {
	return &PatternStage{
		name:     StageReDoS,
		family:   validation.FamilyReDoS,
		patterns: patterns,
		targets: []target{
			bodyTarget(errors.ReDoSPattern),
			queryTarget(errors.ReDoSPattern),
			paramsTarget(errors.ReDoSPattern),
		},
	}
}

// NewDOMClobberingStage scans mapping keys as well as values.
func NewDOMClobberingStage(patterns *validation.PatternSet) *PatternStage {
	return &PatternStage{
		name:     StageDOMClobbering,
		family:   validation.FamilyDOMClobbering,
		patterns: patterns,
		keys:     true,
		targets: []target{
			bodyTarget(errors.DOMClobbering),
			queryTarget(errors.DOMClobbering),
		},
	}
}

func NewTemplateInjectionStage(patterns *validation.PatternSet) *PatternStage {
	return &PatternStage{
		name:     StageTemplateInjection,
		family:   validation.FamilyTemplateInjection,
		patterns: patterns,
		targets: []target{
			bodyTarget(errors.TemplateInjection),
			queryTarget(errors.TemplateInjection),
			paramsTarget(errors.TemplateInjection),
		},
	}
}

func NewCSSInjectionStage(patterns *validation.PatternSet) *PatternStage {
	return &PatternStage{
		name:     StageCSSInjection,
		family:   validation.FamilyCSSInjection,
		patterns: patterns,
		targets: []target{
			bodyTarget(errors.MaliciousCSS),
			queryTarget(errors.MaliciousCSS),
		},
	}
}

// PathTraversalStage checks the request path, route params, uploaded file
// names and every string of the body and query.
type PathTraversalStage struct {
	patterns *validation.PatternSet
	content  *PatternStage
}

func NewPathTraversalStage(patterns *validation.PatternSet) *PathTraversalStage {
	return &PathTraversalStage{
		patterns: patterns,
		content: &PatternStage{
			name:     StagePathTraversal,
			family:   validation.FamilyPathTraversal,
			patterns: patterns,
			targets: []target{
				paramsTarget(errors.PathTraversal),
				bodyTarget(errors.PathTraversal),
				queryTarget(errors.PathTraversal),
			},
		},
	}
}

func (s *PathTraversalStage) Name() string { return StagePathTraversal }

func (s *PathTraversalStage) Inspect(ctx context.Context, req *Request) *errors.Rejection {
	for _, p := range []string{req.RawPath, req.Path} {
		if name, ok := s.patterns.Match(validation.FamilyPathTraversal, p); ok {
			req.Finding = &validation.Hit{Family: validation.FamilyPathTraversal, Pattern: name, Path: "path"}
			return errors.InvalidPath()
		}
	}
	for _, filename := range req.Filenames {
		if !s.patterns.ValidFilename(filename) {
			req.Finding = &validation.Hit{Family: validation.FamilyPathTraversal, Pattern: "filename", Path: "filename"}
			return errors.InvalidFilename(filename)
		}
	}
	return s.content.Inspect(ctx, req)
}

// RedirectStage validates query parameters that name a redirect target.
type RedirectStage struct {
	allowedHosts []string
}

func NewRedirectStage(allowedHosts []string) *RedirectStage {
	return &RedirectStage{allowedHosts: allowedHosts}
}

func (s *RedirectStage) Name() string { return StageRedirect }

func (s *RedirectStage) ReadsBody() bool { return false }

func (s *RedirectStage) Inspect(_ context.Context, req *Request) *errors.Rejection {
	for _, f := range req.Query.Fields() {
		if !validation.IsRedirectParam(f.Key) {
			continue
		}
		targets, ok := redirectTargets(f.Value)
		if !ok {
			return errors.InvalidRedirect(f.Key)
		}
		for _, dest := range targets {
			if !validation.ValidRedirect(dest, s.allowedHosts) {
				return errors.InvalidRedirect(f.Key)
			}
		}
	}
	return nil
}

// redirectTargets returns the string values of a parameter. Nested
// structures are never valid targets.
func redirectTargets(v validation.Value) ([]string, bool) {
	if s, ok := v.Str(); ok {
		return []string{s}, true
	}
	if v.Kind() != validation.KindSequence {
		return nil, v.IsEmpty()
	}
	out := make([]string, 0, v.Len())
	for _, item := range v.Items() {
		s, ok := item.Str()
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}
