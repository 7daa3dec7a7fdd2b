package middleware

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Aidin1998/talentboard/pkg/errors"
	"github.com/Aidin1998/talentboard/pkg/validation"
)

type fakeStage struct {
	name      string
	rejection *apperrors.Rejection
	calls     *[]string
	finished  []int
}

func (s *fakeStage) Name() string { return s.name }

func (s *fakeStage) Inspect(_ context.Context, _ *Request) *apperrors.Rejection {
	*s.calls = append(*s.calls, s.name)
	return s.rejection
}

func (s *fakeStage) Finish(_ context.Context, _ *Request, status int) {
	s.finished = append(s.finished, status)
}

func TestPipelineRunsInOrderAndShortCircuits(t *testing.T) {
	var calls []string
	first := &fakeStage{name: "first", calls: &calls}
	second := &fakeStage{name: "second", calls: &calls, rejection: apperrors.SuspiciousInput()}
	third := &fakeStage{name: "third", calls: &calls}

	p := NewPipeline(first, second, third)
	assert.Equal(t, []string{"first", "second", "third"}, p.Stages())

	res := p.Run(context.Background(), NewRequest(http.MethodPost, "/"))
	assert.False(t, res.Continue())
	assert.Equal(t, "second", res.Stage)
	assert.Equal(t, apperrors.CodeSuspiciousInput, res.Rejection.Code)
	assert.Equal(t, []string{"first", "second"}, calls)
}

func TestPipelineContinue(t *testing.T) {
	var calls []string
	a := &fakeStage{name: "a", calls: &calls}
	b := &fakeStage{name: "b", calls: &calls}
	p := NewPipeline(a, b)

	req := NewRequest(http.MethodGet, "/")
	res := p.Run(context.Background(), req)
	assert.True(t, res.Continue())
	assert.Empty(t, res.Stage)

	p.Finish(context.Background(), req, http.StatusCreated)
	assert.Equal(t, []int{http.StatusCreated}, a.finished)
	assert.Equal(t, []int{http.StatusCreated}, b.finished)
}

func TestEmptyPipelineContinues(t *testing.T) {
	assert.True(t, NewPipeline().Run(context.Background(), NewRequest(http.MethodGet, "/")).Continue())
}

// A body violating both the nesting ceiling and the SQL patterns reports
// whichever stage comes first.
func TestPipelineOrderDecidesCode(t *testing.T) {
	ps := validation.DefaultPatternSet()
	body := `{"a":{"b":{"c":{"q":"1' OR 1=1 --"}}}}`

	complexityFirst := NewPipeline(NewComplexityStage(2, 5000), NewSQLInjectionStage(ps))
	sqlFirst := NewPipeline(NewSQLInjectionStage(ps), NewComplexityStage(2, 5000))

	for i := 0; i < 5; i++ {
		res := complexityFirst.Run(context.Background(), jsonRequest(t, body))
		require.False(t, res.Continue())
		assert.Equal(t, apperrors.CodeExcessiveNesting, res.Rejection.Code)

		res = sqlFirst.Run(context.Background(), jsonRequest(t, body))
		require.False(t, res.Continue())
		assert.Equal(t, apperrors.CodeSuspiciousInput, res.Rejection.Code)
	}
}

// Matchers after the sanitizer see the sanitized body.
func TestMatchersSeeSanitizedBody(t *testing.T) {
	ps := validation.DefaultPatternSet()
	p := NewPipeline(NewSanitizeStage(validation.NewSanitizer()), NewDOMClobberingStage(ps))

	req := jsonRequest(t, `{"bio":"<b>Team lead</b> at Acme"}`)
	res := p.Run(context.Background(), req)
	require.True(t, res.Continue())

	bio, _ := req.Body.Get("bio")
	s, _ := bio.Str()
	assert.Equal(t, "Team lead at Acme", s)
}

// headerStage never looks at the body.
type headerStage struct {
	fakeStage
}

func (s *headerStage) ReadsBody() bool { return false }

func TestPipelineLoadsBodyBeforeFirstBodyStage(t *testing.T) {
	var calls []string
	loads := 0
	newReq := func() *Request {
		req := NewRequest(http.MethodPost, "/api/v1/notes")
		req.load = func(r *Request) error {
			loads++
			r.Body, r.BodyKind = validation.String("note"), BodyText
			return nil
		}
		return req
	}

	// A header-only rejection never reads the body.
	limited := &headerStage{fakeStage{name: "limit", calls: &calls, rejection: apperrors.RateLimitExceeded(1)}}
	req := newReq()
	res := NewPipeline(limited, &fakeStage{name: "scan", calls: &calls}).Run(context.Background(), req)
	assert.Equal(t, apperrors.CodeRateLimitExceeded, res.Rejection.Code)
	assert.Equal(t, 0, loads)
	assert.False(t, req.BodyLoaded())

	calls = nil
	open := &headerStage{fakeStage{name: "limit", calls: &calls}}
	req = newReq()
	res = NewPipeline(open, &fakeStage{name: "scan", calls: &calls}, &fakeStage{name: "scan2", calls: &calls}).Run(context.Background(), req)
	assert.True(t, res.Continue())
	assert.Equal(t, []string{"limit", "scan", "scan2"}, calls)
	assert.Equal(t, 1, loads)
	assert.Equal(t, BodyText, req.BodyKind)

	require.NoError(t, req.LoadBody())
	assert.Equal(t, 1, loads)
}

func TestPipelineUnreadableBody(t *testing.T) {
	var calls []string
	req := NewRequest(http.MethodPost, "/")
	req.load = func(*Request) error { return errors.New("unexpected EOF") }

	res := NewPipeline(&fakeStage{name: "scan", calls: &calls}).Run(context.Background(), req)
	require.False(t, res.Continue())
	assert.Equal(t, "scan", res.Stage)
	assert.Equal(t, apperrors.CodeValidationError, res.Rejection.Code)
	assert.Empty(t, calls)
	assert.Error(t, req.LoadBody())
}
