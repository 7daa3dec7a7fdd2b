// governors.go: Rate, size, header and cookie stages
package middleware

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/Aidin1998/talentboard/internal/infrastructure/ratelimit"
	"github.com/Aidin1998/talentboard/pkg/errors"
	"github.com/Aidin1998/talentboard/pkg/validation"
)

// Rate limit response headers
const (
	HeaderRateLimitLimit     = "RateLimit-Limit"
	HeaderRateLimitRemaining = "RateLimit-Remaining"
	HeaderRateLimitReset     = "RateLimit-Reset"
	HeaderRetryAfter         = "Retry-After"
)

// RateLimitStage counts the request against a fixed-window governor. With
// prefixes set it only governs requests under those paths.
type RateLimitStage struct {
	name     string
	limiter  *ratelimit.Limiter
	prefixes []string
	logger   *zap.Logger
}

// NewRateLimitStage creates a governor stage.
func NewRateLimitStage(name string, limiter *ratelimit.Limiter, prefixes []string, logger *zap.Logger) *RateLimitStage {
	return &RateLimitStage{name: name, limiter: limiter, prefixes: prefixes, logger: logger}
}

func (s *RateLimitStage) Name() string { return s.name }

func (s *RateLimitStage) ReadsBody() bool { return false }

func (s *RateLimitStage) applies(req *Request) bool {
	return len(s.prefixes) == 0 || req.HasPathPrefix(s.prefixes)
}

func (s *RateLimitStage) Inspect(ctx context.Context, req *Request) *errors.Rejection {
	if !s.applies(req) {
		return nil
	}

	res, err := s.limiter.Take(ctx, req.Identity)
	if err != nil {
		rateLimitStoreErrors.WithLabelValues(s.limiter.Name(), "take").Inc()
		s.logger.Warn("rate limit store unavailable, allowing request",
			zap.String("limiter", s.limiter.Name()),
			zap.Error(err))
		return nil
	}
	req.mark(s.name)

	retryAfter := res.RetryAfter(time.Now())
	req.ResponseHeader.Set(HeaderRateLimitLimit, strconv.Itoa(res.Limit))
	req.ResponseHeader.Set(HeaderRateLimitRemaining, strconv.Itoa(res.Remaining))
	req.ResponseHeader.Set(HeaderRateLimitReset, strconv.Itoa(int(retryAfter/time.Second)))

	if !res.Allowed {
		req.ResponseHeader.Set(HeaderRetryAfter, strconv.Itoa(int(retryAfter/time.Second)))
		return errors.RateLimitExceeded(res.Limit)
	}
	return nil
}

// Finish refunds the request when the governor skips successful responses.
func (s *RateLimitStage) Finish(ctx context.Context, req *Request, status int) {
	if !s.limiter.SkipSuccessful() || status >= http.StatusBadRequest || !req.marked(s.name) {
		return
	}
	if err := s.limiter.Release(ctx, req.Identity); err != nil {
		rateLimitStoreErrors.WithLabelValues(s.limiter.Name(), "release").Inc()
		s.logger.Warn("rate limit refund failed",
			zap.String("limiter", s.limiter.Name()),
			zap.Error(err))
	}
}

// PayloadSizeStage rejects bodies whose declared length is over the limit.
type PayloadSizeStage struct {
	maxSize int64
}

func NewPayloadSizeStage(maxSize int64) *PayloadSizeStage {
	return &PayloadSizeStage{maxSize: maxSize}
}

func (s *PayloadSizeStage) Name() string { return StagePayloadSize }

// ReadsBody is false: the declared length is checked before reading, and a
// body found too long while reading is rejected by the adapter.
func (s *PayloadSizeStage) ReadsBody() bool { return false }

func (s *PayloadSizeStage) Inspect(_ context.Context, req *Request) *errors.Rejection {
	if req.ContentLength > s.maxSize || req.BodyTruncated {
		return errors.PayloadTooLarge(s.maxSize)
	}
	return nil
}

// ComplexityStage bounds the nesting depth and field count of the body.
// Depth is checked first.
type ComplexityStage struct {
	maxDepth  int
	maxFields int
}

func NewComplexityStage(maxDepth, maxFields int) *ComplexityStage {
	return &ComplexityStage{maxDepth: maxDepth, maxFields: maxFields}
}

func (s *ComplexityStage) Name() string { return StageComplexity }

func (s *ComplexityStage) Inspect(_ context.Context, req *Request) *errors.Rejection {
	if !req.Inspectable() || !req.Body.IsContainer() {
		return nil
	}
	m := validation.Measure(req.Body)
	if m.Depth > s.maxDepth {
		return errors.ExcessiveNesting(m.Depth, s.maxDepth)
	}
	if m.FieldCount > s.maxFields {
		return errors.ExcessiveFields(m.FieldCount, s.maxFields)
	}
	return nil
}

// HeaderFloodStage bounds the number of distinct header names and the
// length of each header value.
type HeaderFloodStage struct {
	maxHeaders int
	maxLength  int
}

func NewHeaderFloodStage(maxHeaders, maxLength int) *HeaderFloodStage {
	return &HeaderFloodStage{maxHeaders: maxHeaders, maxLength: maxLength}
}

func (s *HeaderFloodStage) Name() string { return StageHeaderFlood }

func (s *HeaderFloodStage) ReadsBody() bool { return false }

func (s *HeaderFloodStage) Inspect(_ context.Context, req *Request) *errors.Rejection {
	if count := len(req.Header); count > s.maxHeaders {
		return errors.HeaderFlood(count, s.maxHeaders)
	}

	names := make([]string, 0, len(req.Header))
	for name := range req.Header {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, value := range req.Header[name] {
			if len(value) > s.maxLength {
				return errors.HeaderTooLong(name, s.maxLength)
			}
		}
	}
	return nil
}

// CookieStage inspects the raw Cookie header.
type CookieStage struct {
	patterns  *validation.PatternSet
	maxLength int
}

func NewCookieStage(patterns *validation.PatternSet, maxLength int) *CookieStage {
	return &CookieStage{patterns: patterns, maxLength: maxLength}
}

func (s *CookieStage) Name() string { return StageCookie }

func (s *CookieStage) ReadsBody() bool { return false }

func (s *CookieStage) Inspect(_ context.Context, req *Request) *errors.Rejection {
	switch issue, reason := s.patterns.InspectCookies(req.Cookie, s.maxLength); issue {
	case validation.CookieTooLong:
		return errors.CookieTooLong(s.maxLength)
	case validation.CookieMalicious:
		req.Finding = &validation.Hit{Family: validation.FamilyCookie, Pattern: reason, Path: "cookie"}
		return errors.MaliciousCookie(reason)
	}
	return nil
}
