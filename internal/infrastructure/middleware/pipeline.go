// pipeline.go: Ordered stage execution with short-circuit on rejection
package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/Aidin1998/talentboard/pkg/errors"
)

// Stage is one inspection step. Inspect returns nil to let the request
// continue, or a rejection that terminates it. Stages may mutate the request
// (the sanitizer does) but must never panic or return unclassified failures.
type Stage interface {
	Name() string
	Inspect(ctx context.Context, req *Request) *errors.Rejection
}

// Finisher is implemented by stages that need to see the final response
// status, such as a governor that refunds successful requests.
type Finisher interface {
	Finish(ctx context.Context, req *Request, status int)
}

// BodyReader is implemented by stages that say whether they look at the
// body. The pipeline reads and decodes the body just before the first stage
// that does; stages that do not implement BodyReader are assumed to.
type BodyReader interface {
	ReadsBody() bool
}

func readsBody(s Stage) bool {
	if br, ok := s.(BodyReader); ok {
		return br.ReadsBody()
	}
	return true
}

// Result is the outcome of one pipeline run. A nil Rejection means every
// stage passed and the request goes on to the application handler.
type Result struct {
	Rejection *errors.Rejection
	Stage     string
}

// Continue reports whether the request passed every stage.
func (r Result) Continue() bool { return r.Rejection == nil }

// Pipeline runs its stages in order. It holds no per-request state and is
// safe for concurrent use.
type Pipeline struct {
	stages []Stage
}

// NewPipeline creates a pipeline over stages, in the given order.
func NewPipeline(stages ...Stage) *Pipeline {
	return &Pipeline{stages: stages}
}

// Stages returns the stage names in execution order.
func (p *Pipeline) Stages() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name()
	}
	return names
}

// Run executes the stages against req, stopping at the first rejection.
func (p *Pipeline) Run(ctx context.Context, req *Request) Result {
	ctx, span := tracer.Start(ctx, "security.pipeline",
		trace.WithAttributes(
			attribute.String("http.method", req.Method),
			attribute.String("http.route", req.Path),
			attribute.Int("security.stages", len(p.stages)),
		))
	defer span.End()

	for _, stage := range p.stages {
		name := stage.Name()
		start := time.Now()
		var rejection *errors.Rejection
		if readsBody(stage) && !req.BodyLoaded() {
			if err := req.LoadBody(); err != nil {
				span.RecordError(err)
				rejection = errors.Validation(bodyUnreadable)
			}
		}
		if rejection == nil {
			rejection = stage.Inspect(ctx, req)
		}
		stageDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())

		if rejection == nil {
			span.AddEvent(name)
			continue
		}

		span.AddEvent(name, trace.WithAttributes(attribute.String("security.code", string(rejection.Code))))
		span.SetAttributes(
			attribute.String("security.rejected_by", name),
			attribute.Int("http.status_code", rejection.Status),
		)
		span.SetStatus(codes.Error, string(rejection.Code))
		rejectionsTotal.WithLabelValues(name, string(rejection.Code)).Inc()
		pipelineRuns.WithLabelValues("rejected").Inc()
		verdicts.Add(ctx, 1, metric.WithAttributes(
			attribute.String("outcome", "rejected"),
			attribute.String("stage", name),
		))
		return Result{Rejection: rejection, Stage: name}
	}

	pipelineRuns.WithLabelValues("continued").Inc()
	verdicts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "continued")))
	return Result{}
}

// Finish tells every Finisher stage the response status of a request that
// passed the pipeline.
func (p *Pipeline) Finish(ctx context.Context, req *Request, status int) {
	for _, stage := range p.stages {
		if f, ok := stage.(Finisher); ok {
			f.Finish(ctx, req, status)
		}
	}
}
