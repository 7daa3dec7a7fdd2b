package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// HealthStatus represents the health status of a component
type HealthStatus string

const (
	HealthStatusUp   HealthStatus = "UP"
	HealthStatusDown HealthStatus = "DOWN"
)

// ComponentHealth represents the health of a single component
type ComponentHealth struct {
	Status    HealthStatus           `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Duration  time.Duration          `json:"duration"`
	Error     string                 `json:"error,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// HealthReport represents the overall health report
type HealthReport struct {
	Status     HealthStatus                `json:"status"`
	Timestamp  time.Time                   `json:"timestamp"`
	Duration   time.Duration               `json:"duration"`
	Components map[string]*ComponentHealth `json:"components"`
}

// HealthCheckFunc checks one component
type HealthCheckFunc func(ctx context.Context) *ComponentHealth

// HealthChecker runs the registered checks concurrently and caches the
// report for cacheDuration.
type HealthChecker struct {
	logger *zap.Logger

	checks map[string]HealthCheckFunc
	mu     sync.RWMutex

	last          *HealthReport
	cacheDuration time.Duration
}

// NewHealthChecker creates a health checker without checks
func NewHealthChecker(logger *zap.Logger, cacheDuration time.Duration) *HealthChecker {
	return &HealthChecker{
		logger:        logger,
		checks:        make(map[string]HealthCheckFunc),
		cacheDuration: cacheDuration,
	}
}

// RegisterHealthCheck registers a named check
func (hc *HealthChecker) RegisterHealthCheck(name string, check HealthCheckFunc) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checks[name] = check
	hc.last = nil
}

// Handler answers 200 when every component is up and 503 otherwise.
func (hc *HealthChecker) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		report := hc.CheckHealth(c.Request.Context())
		status := http.StatusOK
		if report.Status != HealthStatusUp {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, report)
	}
}

// CheckHealth performs all health checks
func (hc *HealthChecker) CheckHealth(ctx context.Context) *HealthReport {
	start := time.Now()

	hc.mu.RLock()
	if hc.last != nil && time.Since(hc.last.Timestamp) < hc.cacheDuration {
		defer hc.mu.RUnlock()
		return hc.last
	}
	checks := make(map[string]HealthCheckFunc, len(hc.checks))
	for name, check := range hc.checks {
		checks[name] = check
	}
	hc.mu.RUnlock()

	components := make(map[string]*ComponentHealth, len(checks))
	overall := HealthStatusUp

	var wg sync.WaitGroup
	var mu sync.Mutex
	for name, check := range checks {
		wg.Add(1)
		go func(name string, check HealthCheckFunc) {
			defer wg.Done()

			checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			health := check(checkCtx)

			mu.Lock()
			components[name] = health
			if health.Status != HealthStatusUp {
				overall = HealthStatusDown
			}
			mu.Unlock()
		}(name, check)
	}
	wg.Wait()

	report := &HealthReport{
		Status:     overall,
		Timestamp:  time.Now(),
		Duration:   time.Since(start),
		Components: components,
	}
	if overall != HealthStatusUp {
		hc.logger.Warn("health check failed", zap.Any("components", components))
	}

	hc.mu.Lock()
	hc.last = report
	hc.mu.Unlock()
	return report
}

// pingCheck turns a ping function into a check; a nil ping is always up.
func pingCheck(ping func(context.Context) error, details map[string]interface{}) HealthCheckFunc {
	return func(ctx context.Context) *ComponentHealth {
		start := time.Now()
		health := &ComponentHealth{Status: HealthStatusUp, Timestamp: start, Details: details}
		if ping != nil {
			if err := ping(ctx); err != nil {
				health.Status = HealthStatusDown
				health.Error = err.Error()
			}
		}
		health.Duration = time.Since(start)
		return health
	}
}
