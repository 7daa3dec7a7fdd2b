package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/Aidin1998/talentboard/internal/infrastructure/audit"
	"github.com/Aidin1998/talentboard/internal/infrastructure/config"
	"github.com/Aidin1998/talentboard/internal/infrastructure/middleware"
	"github.com/Aidin1998/talentboard/internal/infrastructure/ratelimit"
	"github.com/Aidin1998/talentboard/pkg/validation"
)

// SecurityStack is the inspection pipeline built from configuration together
// with the resources it owns.
type SecurityStack struct {
	Pipeline *middleware.Pipeline
	Auditor  audit.Publisher
	// StoreKind names the rate-limit store backing both governors.
	StoreKind string

	ping    func(context.Context) error
	closers []io.Closer
}

// NewSecurityStack opens the rate-limit store, builds both governors and the
// configured stages, and sets up audit publishing.
func NewSecurityStack(cfg *config.Config, logger *zap.Logger) (*SecurityStack, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	stack := &SecurityStack{StoreKind: cfg.RateLimit.Store}

	store, err := stack.openStore(cfg.RateLimit, logger)
	if err != nil {
		return nil, err
	}

	general, err := ratelimit.New(cfg.RateLimit.General, store)
	if err != nil {
		stack.Close()
		return nil, fmt.Errorf("general rate limiter: %w", err)
	}
	auth, err := ratelimit.New(cfg.RateLimit.Auth.Config, store)
	if err != nil {
		stack.Close()
		return nil, fmt.Errorf("auth rate limiter: %w", err)
	}

	patterns := validation.DefaultPatternSet()
	if cfg.Security.PatternsFile != "" {
		if patterns, err = validation.LoadPatternSet(cfg.Security.PatternsFile); err != nil {
			stack.Close()
			return nil, err
		}
	}

	names, err := cfg.Security.StageNames()
	if err != nil {
		stack.Close()
		return nil, err
	}
	stages, err := middleware.BuildStages(names, middleware.Deps{
		Logger:               logger,
		Limits:               cfg.Security.Limits,
		Patterns:             patterns,
		Sanitizer:            validation.NewSanitizer(),
		GeneralLimiter:       general,
		AuthLimiter:          auth,
		AuthRoutePrefixes:    cfg.RateLimit.Auth.RoutePrefixes,
		AllowedRedirectHosts: cfg.Security.AllowedRedirectHosts,
	})
	if err != nil {
		stack.Close()
		return nil, fmt.Errorf("build security stages: %w", err)
	}
	stack.Pipeline = middleware.NewPipeline(stages...)

	if stack.Auditor, err = newAuditor(cfg.Kafka, logger); err != nil {
		stack.Close()
		return nil, err
	}
	stack.closers = append(stack.closers, stack.Auditor)

	logger.Info("Security pipeline ready",
		zap.Strings("stages", stack.Pipeline.Stages()),
		zap.String("rate_limit_store", cfg.RateLimit.Store),
		zap.Bool("kafka_audit", cfg.Kafka.Enabled))
	return stack, nil
}

func (s *SecurityStack) openStore(cfg config.RateLimitConfig, logger *zap.Logger) (ratelimit.Store, error) {
	switch cfg.Store {
	case ratelimit.StoreRedis:
		store := ratelimit.NewRedisStore(ratelimit.NewRedisClient(cfg.Redis))
		s.closers = append(s.closers, store)
		s.ping = store.HealthCheck

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := store.HealthCheck(ctx); err != nil {
			// Rate limiting fails open until Redis comes back.
			logger.Warn("Redis rate limit store unreachable", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		return store, nil
	case ratelimit.StoreBadger:
		store, err := ratelimit.OpenBadgerStore(cfg.BadgerDir)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, store)
		return store, nil
	default:
		return ratelimit.NewMemoryStore(cfg.MemorySize)
	}
}

// newAuditor always logs rejections and additionally streams them to Kafka
// when enabled.
func newAuditor(cfg audit.KafkaConfig, logger *zap.Logger) (audit.Publisher, error) {
	publishers := audit.MultiPublisher{audit.NewLogPublisher(logger)}
	if cfg.Enabled {
		sink, err := audit.NewKafkaPublisher(cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("kafka audit publisher: %w", err)
		}
		if cfg.MaxEventsPerSecond <= 0 {
			return append(publishers, sink), nil
		}
		burst := int(cfg.MaxEventsPerSecond)
		if burst < 1 {
			burst = 1
		}
		publishers = append(publishers, audit.NewThrottled(sink, cfg.MaxEventsPerSecond, burst))
	}
	return publishers, nil
}

// Ping checks the rate-limit store. Only the redis store can be unreachable.
func (s *SecurityStack) Ping(ctx context.Context) error {
	if s.ping == nil {
		return nil
	}
	return s.ping(ctx)
}

// Close releases the store and the audit sinks.
func (s *SecurityStack) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
