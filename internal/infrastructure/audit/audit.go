// Package audit publishes security events for rejected requests. Publishing
// is best effort: a slow or failing sink never delays or fails a request.
package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Event describes one rejected request.
type Event struct {
	ID        string    `json:"id"`
	Time      time.Time `json:"time"`
	RequestID string    `json:"request_id,omitempty"`
	Stage     string    `json:"stage"`
	Code      string    `json:"code"`
	Status    int       `json:"status"`
	Identity  string    `json:"identity"`
	Method    string    `json:"method"`
	Path      string    `json:"path"`
	Pattern   string    `json:"pattern,omitempty"`
	Location  string    `json:"location,omitempty"`
}

// NewEvent returns an event with a fresh ID and the current time.
func NewEvent() Event {
	return Event{ID: uuid.New().String(), Time: time.Now().UTC()}
}

// Publisher delivers events to a sink.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// LogPublisher writes events to a zap logger.
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher creates a publisher logging under the "audit" name.
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.Named("audit")}
}

// Publish implements Publisher.
func (p *LogPublisher) Publish(_ context.Context, e Event) error {
	p.logger.Info("security event",
		zap.String("event_id", e.ID),
		zap.Time("time", e.Time),
		zap.String("request_id", e.RequestID),
		zap.String("stage", e.Stage),
		zap.String("code", e.Code),
		zap.Int("status", e.Status),
		zap.String("identity", e.Identity),
		zap.String("method", e.Method),
		zap.String("path", e.Path),
		zap.String("pattern", e.Pattern),
		zap.String("location", e.Location),
	)
	eventsPublished.WithLabelValues("log").Inc()
	return nil
}

// Close implements Publisher.
func (p *LogPublisher) Close() error {
	_ = p.logger.Sync()
	return nil
}

// MultiPublisher fans an event out to every publisher.
type MultiPublisher []Publisher

// Publish implements Publisher. Every sink is tried; errors are joined.
func (m MultiPublisher) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close implements Publisher.
func (m MultiPublisher) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
