package api

import (
	"errors"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/Aidin1998/talentboard/api/responses"
	"github.com/Aidin1998/talentboard/internal/infrastructure/config"
	"github.com/Aidin1998/talentboard/internal/infrastructure/middleware"
	"github.com/Aidin1998/talentboard/internal/kanban"
	apperrors "github.com/Aidin1998/talentboard/pkg/errors"
)

// Server represents the API server
type Server struct {
	router *gin.Engine
	logger *zap.Logger
	kanban kanban.Service
	health *HealthChecker
}

// NewServer wires the ambient middleware, the security pipeline and the
// board routes. A nil service answers every board call with 503.
func NewServer(logger *zap.Logger, cfg *config.Config, stack *SecurityStack, svc kanban.Service) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if svc == nil {
		svc = kanban.Unavailable{}
	}
	server := &Server{
		logger: logger,
		kanban: svc,
		health: NewHealthChecker(logger, 5*time.Second),
	}
	server.health.RegisterHealthCheck("security_pipeline", pingCheck(nil, map[string]interface{}{
		"stages": stack.Pipeline.Stages(),
	}))
	server.health.RegisterHealthCheck("rate_limit_store", pingCheck(stack.Ping, map[string]interface{}{
		"store": stack.StoreKind,
	}))

	router := gin.New()
	// Rate limits key on ClientIP, which only honours forwarding headers
	// from these peers.
	if err := router.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		logger.Error("Invalid trusted proxies, trusting none", zap.Error(err))
		_ = router.SetTrustedProxies(nil)
	}

	router.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(logger, true))
	router.Use(otelgin.Middleware(cfg.Telemetry.ServiceName))
	router.Use(cors.New(corsConfig(cfg.CORS)))
	router.Use(middleware.RequestID())
	router.Use(middleware.Security(stack.Pipeline, middleware.SecurityOptions{
		Logger:       logger,
		Auditor:      stack.Auditor,
		MaxBodyBytes: cfg.Security.Limits.MaxContentLength,
	}))

	router.NoRoute(func(c *gin.Context) {
		responses.Error(c, apperrors.NotFound("Route not found"))
	})

	server.router = router
	server.registerRoutes()
	return server
}

// Router returns the internal Gin engine for testing purposes
func (s *Server) Router() *gin.Engine {
	return s.router
}

func corsConfig(cfg config.CORSConfig) cors.Config {
	c := cors.Config{
		AllowMethods:  cfg.AllowedMethods,
		AllowHeaders:  cfg.AllowedHeaders,
		ExposeHeaders: []string{middleware.RequestIDHeader, middleware.HeaderRateLimitLimit, middleware.HeaderRateLimitRemaining, middleware.HeaderRateLimitReset, middleware.HeaderRetryAfter},
		MaxAge:        cfg.MaxAge,
	}
	for _, origin := range cfg.AllowedOrigins {
		if origin == "*" {
			c.AllowAllOrigins = true
			return c
		}
	}
	c.AllowOrigins = cfg.AllowedOrigins
	c.AllowCredentials = true
	return c
}

// registerRoutes registers all API routes
func (s *Server) registerRoutes() {
	s.router.GET("/health", s.health.Handler())
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/positions/:id/candidates", s.getPositionCandidates)
		v1.PUT("/candidates/:id/stage", s.updateCandidateStage)
	}
}

func (s *Server) getPositionCandidates(c *gin.Context) {
	candidates, err := s.kanban.GetPositionCandidates(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	if candidates == nil {
		candidates = []kanban.Candidate{}
	}
	responses.Success(c, gin.H{"candidates": candidates})
}

type updateStageRequest struct {
	Stage string `json:"stage" binding:"required,oneof=applied screening interview offer hired rejected"`
}

func (s *Server) updateCandidateStage(c *gin.Context) {
	var req updateStageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		responses.Error(c, bindingRejection(err))
		return
	}

	candidate, err := s.kanban.UpdateCandidateStage(c.Request.Context(), c.Param("id"), kanban.Stage(req.Stage))
	if err != nil {
		s.writeError(c, err)
		return
	}
	responses.Success(c, gin.H{"candidate": candidate})
}

func bindingRejection(err error) *apperrors.Rejection {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return apperrors.Validation("Invalid request body").
			With("field", fe.Field()).
			With("rule", fe.Tag())
	}
	return apperrors.Validation("Invalid request body")
}

// writeError maps service errors onto the rejection taxonomy. Causes of
// internal errors are logged, never returned.
func (s *Server) writeError(c *gin.Context, err error) {
	var rejection *apperrors.Rejection
	switch {
	case errors.As(err, &rejection):
	case errors.Is(err, kanban.ErrNotFound):
		rejection = apperrors.NotFound("Resource not found")
	case errors.Is(err, kanban.ErrUnavailable):
		rejection = apperrors.ServiceUnavailable("Board service unavailable")
	default:
		s.logger.Error("board service failed",
			zap.Error(err),
			zap.String("path", c.Request.URL.Path),
			zap.String("request_id", c.GetString(middleware.RequestIDKey)))
		rejection = apperrors.Internal()
	}
	responses.Error(c, rejection)
}
