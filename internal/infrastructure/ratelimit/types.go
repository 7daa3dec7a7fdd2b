// types.go: Core types and the storage port for fixed-window rate limiting
package ratelimit

import (
	"context"
	"errors"
	"time"
)

// Store backends
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
	StoreBadger = "badger"
)

// ErrInvalidConfig is returned for non-positive limits or windows.
var ErrInvalidConfig = errors.New("ratelimit: limit and window must be positive")

// Window is the counter state of one identity: how many requests were seen
// since Start, for a window of Length.
type Window struct {
	Count  int64
	Start  time.Time
	Length time.Duration
}

// ResetAt is the instant the window elapses and the counter restarts.
func (w Window) ResetAt() time.Time {
	return w.Start.Add(w.Length)
}

// Store owns the per-identity windows. Increment must be atomic: two
// concurrent calls for one key never observe the same count.
type Store interface {
	// Increment adds one to key's counter, opening a fresh window of the
	// given length when none is active, and returns the updated window.
	Increment(ctx context.Context, key string, window time.Duration) (Window, error)
	// Decrement refunds one request; it never drops the count below zero.
	Decrement(ctx context.Context, key string) error
	// Reset forgets key's window.
	Reset(ctx context.Context, key string) error
}

// Result is the verdict of one Take.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	Count     int64
	ResetAt   time.Time
}

// RetryAfter is the wait until the window resets, rounded up to whole
// seconds and never below one.
func (r Result) RetryAfter(now time.Time) time.Duration {
	d := r.ResetAt.Sub(now)
	if d < time.Second {
		return time.Second
	}
	return (d + time.Second - 1) / time.Second * time.Second
}
