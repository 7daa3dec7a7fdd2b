// Package ratelimit provides the fixed-window request governor used by the
// inspection pipeline.
//
// A Limiter counts requests per caller identity in a Store. Stores are
// pluggable: an in-process LRU for single nodes and tests, Redis for shared
// counters across replicas, and Badger for counters that survive restarts.
package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Config holds the budget of one governor.
type Config struct {
	Name   string        `mapstructure:"name" yaml:"name"`
	Limit  int           `mapstructure:"limit" yaml:"limit" validate:"gt=0"`
	Window time.Duration `mapstructure:"window" yaml:"window" validate:"gt=0"`
	// SkipSuccessful refunds requests whose response status is below 400.
	SkipSuccessful bool `mapstructure:"skip_successful" yaml:"skip_successful"`
}

// Limiter is one governor instance. Two limiters sharing a Store never share
// counters because keys are namespaced by Name.
type Limiter struct {
	cfg   Config
	store Store
	now   func() time.Time
}

// New creates a limiter over store.
func New(cfg Config, store Store) (*Limiter, error) {
	if cfg.Limit <= 0 || cfg.Window <= 0 {
		return nil, ErrInvalidConfig
	}
	if store == nil {
		return nil, fmt.Errorf("ratelimit: %s: store is required", cfg.Name)
	}
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	return &Limiter{cfg: cfg, store: store, now: time.Now}, nil
}

// Name returns the governor name.
func (l *Limiter) Name() string { return l.cfg.Name }

// Limit returns the request budget per window.
func (l *Limiter) Limit() int { return l.cfg.Limit }

// Window returns the window length.
func (l *Limiter) Window() time.Duration { return l.cfg.Window }

// SkipSuccessful reports whether successful responses are refunded.
func (l *Limiter) SkipSuccessful() bool { return l.cfg.SkipSuccessful }

func (l *Limiter) key(identity string) string {
	return "ratelimit:" + l.cfg.Name + ":" + identity
}

// Take records one request for identity. The request is allowed while the
// post-increment count stays within the limit; rejected requests still count.
//
// A store failure is returned together with an allowing Result: counters
// are best effort and never turn into an outage.
func (l *Limiter) Take(ctx context.Context, identity string) (Result, error) {
	w, err := l.store.Increment(ctx, l.key(identity), l.cfg.Window)
	if err != nil {
		return Result{
			Allowed:   true,
			Limit:     l.cfg.Limit,
			Remaining: l.cfg.Limit,
			ResetAt:   l.now().Add(l.cfg.Window),
		}, fmt.Errorf("ratelimit: %s: increment: %w", l.cfg.Name, err)
	}

	remaining := l.cfg.Limit - int(w.Count)
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   w.Count <= int64(l.cfg.Limit),
		Limit:     l.cfg.Limit,
		Remaining: remaining,
		Count:     w.Count,
		ResetAt:   w.ResetAt(),
	}, nil
}

// Release refunds one request for identity.
func (l *Limiter) Release(ctx context.Context, identity string) error {
	if err := l.store.Decrement(ctx, l.key(identity)); err != nil {
		return fmt.Errorf("ratelimit: %s: decrement: %w", l.cfg.Name, err)
	}
	return nil
}

// Reset clears identity's window.
func (l *Limiter) Reset(ctx context.Context, identity string) error {
	if err := l.store.Reset(ctx, l.key(identity)); err != nil {
		return fmt.Errorf("ratelimit: %s: reset: %w", l.cfg.Name, err)
	}
	return nil
}
