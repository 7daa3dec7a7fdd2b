package audit

import (
	"context"
	"errors"

	"golang.org/x/time/rate"
)

// ErrThrottled is returned for events dropped by a Throttled publisher.
var ErrThrottled = errors.New("audit: event dropped by throttle")

// Throttled caps the event rate reaching next; events over the rate are
// dropped and counted.
type Throttled struct {
	next    Publisher
	limiter *rate.Limiter
}

// NewThrottled allows perSecond events with the given burst.
func NewThrottled(next Publisher, perSecond float64, burst int) *Throttled {
	return &Throttled{next: next, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Publish implements Publisher.
func (t *Throttled) Publish(ctx context.Context, e Event) error {
	if !t.limiter.Allow() {
		eventsDropped.WithLabelValues("throttled").Inc()
		return ErrThrottled
	}
	return t.next.Publish(ctx, e)
}

// Close implements Publisher.
func (t *Throttled) Close() error {
	return t.next.Close()
}
