package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Aidin1998/talentboard/api"
	"github.com/Aidin1998/talentboard/internal/infrastructure/config"
	"github.com/Aidin1998/talentboard/internal/infrastructure/middleware"
	"github.com/Aidin1998/talentboard/internal/infrastructure/ratelimit"
	"github.com/Aidin1998/talentboard/internal/kanban"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// stubBoard records what reached the service.
type stubBoard struct {
	candidates map[string][]kanban.Candidate
	err        error
	calls      int
	positionID string
	updated    map[string]kanban.Stage
}

func (s *stubBoard) GetPositionCandidates(_ context.Context, positionID string) ([]kanban.Candidate, error) {
	s.calls++
	s.positionID = positionID
	if s.err != nil {
		return nil, s.err
	}
	list, ok := s.candidates[positionID]
	if !ok {
		return nil, kanban.ErrNotFound
	}
	return list, nil
}

func (s *stubBoard) UpdateCandidateStage(_ context.Context, candidateID string, stage kanban.Stage) (*kanban.Candidate, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if s.updated == nil {
		s.updated = make(map[string]kanban.Stage)
	}
	s.updated[candidateID] = stage
	return &kanban.Candidate{ID: candidateID, PositionID: "p1", Name: "Ada Lovelace", Stage: stage}, nil
}

func newBoard() *stubBoard {
	return &stubBoard{candidates: map[string][]kanban.Candidate{
		"p1": {
			{ID: "c1", PositionID: "p1", Name: "Ada Lovelace", Stage: kanban.StageInterview},
			{ID: "c2", PositionID: "p1", Name: "Grace Hopper", Stage: kanban.StageApplied},
		},
	}}
}

func testConfig() *config.Config {
	return &config.Config{
		Environment: config.EnvTest,
		Security: config.SecurityConfig{
			Profile: middleware.ProfileEnhanced,
			Limits:  middleware.DefaultLimits(),
		},
		RateLimit: config.RateLimitConfig{
			Store:   ratelimit.StoreMemory,
			General: ratelimit.Config{Name: "general", Limit: 100, Window: 15 * time.Minute},
			Auth: config.AuthRateLimitConfig{
				Config:        ratelimit.Config{Name: "auth", Limit: 5, Window: 15 * time.Minute, SkipSuccessful: true},
				RoutePrefixes: middleware.DefaultAuthRoutePrefixes,
			},
		},
		Telemetry: config.TelemetryConfig{ServiceName: "talentboard-test"},
		CORS: config.CORSConfig{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "PUT", "OPTIONS"},
			AllowedHeaders: []string{"Origin", "Content-Type"},
			MaxAge:         time.Hour,
		},
	}
}

func setupRouter(t *testing.T, cfg *config.Config, svc kanban.Service) *gin.Engine {
	t.Helper()
	stack, err := api.NewSecurityStack(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { stack.Close() })
	return api.NewServer(zap.NewNop(), cfg, stack, svc).Router()
}

func do(router *gin.Engine, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

func TestHealthCheck(t *testing.T) {
	router := setupRouter(t, testConfig(), newBoard())
	w := do(router, http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.Equal(t, "UP", resp["status"])
	assert.Contains(t, resp["components"], "security_pipeline")
	assert.Contains(t, resp["components"], "rate_limit_store")
	assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))
}

func TestHealthCheckReportsUnreachableStore(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.RateLimit.Store = ratelimit.StoreRedis
	cfg.RateLimit.Redis = ratelimit.RedisConfig{Addr: mr.Addr()}
	router := setupRouter(t, cfg, newBoard())
	mr.Close()

	w := do(router, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	resp := decode(t, w)
	assert.Equal(t, "DOWN", resp["status"])
	store := resp["components"].(map[string]interface{})["rate_limit_store"].(map[string]interface{})
	assert.Equal(t, "DOWN", store["status"])
	assert.NotEmpty(t, store["error"])
}

func TestGetPositionCandidates(t *testing.T) {
	board := newBoard()
	router := setupRouter(t, testConfig(), board)

	w := do(router, http.MethodGet, "/api/v1/positions/p1/candidates", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "p1", board.positionID)

	resp := decode(t, w)
	assert.Equal(t, true, resp["success"])
	assert.NotEmpty(t, resp["request_id"])
	data := resp["data"].(map[string]interface{})
	assert.Len(t, data["candidates"], 2)
	assert.Equal(t, "100", w.Header().Get(middleware.HeaderRateLimitLimit))
}

func TestServiceErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		svc    kanban.Service
		target string
		status int
		code   string
	}{
		{"unknown position", newBoard(), "/api/v1/positions/p404/candidates", http.StatusNotFound, "NOT_FOUND"},
		{"default service", nil, "/api/v1/positions/p1/candidates", http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE"},
		{"wrapped unavailable", &stubBoard{err: errors.Join(errors.New("dial"), kanban.ErrUnavailable)}, "/api/v1/positions/p1/candidates", http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE"},
		{"unexpected failure", &stubBoard{err: errors.New("pq: connection reset by peer")}, "/api/v1/positions/p1/candidates", http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := setupRouter(t, testConfig(), tt.svc)
			w := do(router, http.MethodGet, tt.target, "")
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, decode(t, w)["code"])
			assert.NotContains(t, w.Body.String(), "pq:")
		})
	}
}

func TestUpdateCandidateStage(t *testing.T) {
	board := newBoard()
	router := setupRouter(t, testConfig(), board)

	w := do(router, http.MethodPut, "/api/v1/candidates/c2/stage", `{"stage":"interview"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, kanban.StageInterview, board.updated["c2"])

	candidate := decode(t, w)["data"].(map[string]interface{})["candidate"].(map[string]interface{})
	assert.Equal(t, "interview", candidate["stage"])
}

func TestUpdateCandidateStageValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
		rule string
	}{
		{"unknown stage", `{"stage":"archived"}`, "oneof"},
		{"missing stage", `{}`, "required"},
		{"not json", `stage=offer`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			board := newBoard()
			router := setupRouter(t, testConfig(), board)

			w := do(router, http.MethodPut, "/api/v1/candidates/c1/stage", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			resp := decode(t, w)
			assert.Equal(t, "VALIDATION_ERROR", resp["code"])
			if tt.rule != "" {
				assert.Equal(t, tt.rule, resp["rule"])
				assert.Equal(t, "Stage", resp["field"])
			}
			assert.Zero(t, board.calls)
		})
	}
}

func TestSanitizedBodyReachesHandler(t *testing.T) {
	board := newBoard()
	router := setupRouter(t, testConfig(), board)

	w := do(router, http.MethodPut, "/api/v1/candidates/c1/stage", `{"stage":"<b>offer</b>"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, kanban.StageOffer, board.updated["c1"])
}

func TestConfiguredStagesReplaceProfile(t *testing.T) {
	cfg := testConfig()
	cfg.Security.Stages = []string{"sql_injection"}
	board := newBoard()
	router := setupRouter(t, cfg, board)

	// Without the xss stage the markup reaches the binding untouched.
	w := do(router, http.MethodPut, "/api/v1/candidates/c1/stage", `{"stage":"<b>offer</b>"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", decode(t, w)["code"])
	assert.Empty(t, w.Header().Get(middleware.HeaderRateLimitLimit))
}

func TestSecurityRejectsBeforeHandler(t *testing.T) {
	board := newBoard()
	router := setupRouter(t, testConfig(), board)

	query := url.Values{"search": {"x' UNION SELECT password FROM users --"}}
	w := do(router, http.MethodGet, "/api/v1/positions/p1/candidates?"+query.Encode(), "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "SUSPICIOUS_QUERY", decode(t, w)["code"])

	w = do(router, http.MethodPut, "/api/v1/candidates/c1/stage", `{"stage":"offer","note":"Hello {{7*7}}"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "TEMPLATE_INJECTION", decode(t, w)["code"])

	assert.Zero(t, board.calls)
}

func TestUnknownRoutes(t *testing.T) {
	router := setupRouter(t, testConfig(), newBoard())

	w := do(router, http.MethodGet, "/api/v1/offers", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", decode(t, w)["code"])

	// Inspection runs before routing.
	w = do(router, http.MethodGet, "/api/v1/../../etc/passwd", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_PATH", decode(t, w)["code"])
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.General.Limit = 3
	router := setupRouter(t, cfg, newBoard())

	for i := 0; i < 3; i++ {
		w := do(router, http.MethodGet, "/api/v1/positions/p1/candidates", "")
		require.Equal(t, http.StatusOK, w.Code)
	}
	w := do(router, http.MethodGet, "/api/v1/positions/p1/candidates", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", decode(t, w)["code"])
	assert.Equal(t, "0", w.Header().Get(middleware.HeaderRateLimitRemaining))
	assert.NotEmpty(t, w.Header().Get(middleware.HeaderRetryAfter))
}

func TestRateLimitIgnoresSpoofedForwardedFor(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.General.Limit = 2
	router := setupRouter(t, cfg, newBoard())

	codes := make([]int, 0, 5)
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/positions/p1/candidates", nil)
		req.RemoteAddr = "10.0.0.1:40000"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i+1))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{200, 200, 429, 429, 429}, codes)
}

func TestRateLimitTrustedProxyForwardedFor(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.General.Limit = 1
	cfg.Server.TrustedProxies = []string{"10.0.0.0/8"}
	router := setupRouter(t, cfg, newBoard())

	get := func(remote, forwarded string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/positions/p1/candidates", nil)
		req.RemoteAddr = remote
		req.Header.Set("X-Forwarded-For", forwarded)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w.Code
	}

	// Behind the proxy each forwarded client has its own budget.
	assert.Equal(t, http.StatusOK, get("10.0.0.1:40000", "203.0.113.1"))
	assert.Equal(t, http.StatusOK, get("10.0.0.1:40000", "203.0.113.2"))
	assert.Equal(t, http.StatusTooManyRequests, get("10.0.0.1:40000", "203.0.113.1"))

	// An untrusted peer cannot borrow one.
	assert.Equal(t, http.StatusOK, get("198.51.100.7:40000", "203.0.113.3"))
	assert.Equal(t, http.StatusTooManyRequests, get("198.51.100.7:40000", "203.0.113.4"))
}

func TestCORSPreflight(t *testing.T) {
	router := setupRouter(t, testConfig(), newBoard())

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/candidates/c1/stage", nil)
	req.Header.Set("Origin", "https://careers.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPut)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetricsEndpoint(t *testing.T) {
	router := setupRouter(t, testConfig(), newBoard())
	do(router, http.MethodGet, "/health", "")

	w := do(router, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "talentboard_security_pipeline_runs_total")
}

func TestSecurityStackStores(t *testing.T) {
	mr := miniredis.RunT(t)

	tests := []struct {
		name  string
		apply func(*config.RateLimitConfig)
	}{
		{"memory", func(c *config.RateLimitConfig) { c.Store = ratelimit.StoreMemory }},
		{"redis", func(c *config.RateLimitConfig) {
			c.Store = ratelimit.StoreRedis
			c.Redis = ratelimit.RedisConfig{Addr: mr.Addr()}
		}},
		{"badger", func(c *config.RateLimitConfig) {
			c.Store = ratelimit.StoreBadger
			c.BadgerDir = filepath.Join(t.TempDir(), "ratelimit")
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.RateLimit.General.Limit = 2
			tt.apply(&cfg.RateLimit)

			stack, err := api.NewSecurityStack(cfg, zap.NewNop())
			require.NoError(t, err)
			router := api.NewServer(zap.NewNop(), cfg, stack, newBoard()).Router()

			codes := make([]int, 0, 3)
			for i := 0; i < 3; i++ {
				codes = append(codes, do(router, http.MethodGet, "/api/v1/positions/p1/candidates", "").Code)
			}
			assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
			assert.NoError(t, stack.Close())
		})
	}
}

func TestSecurityStackErrors(t *testing.T) {
	cfg := testConfig()
	cfg.Security.PatternsFile = filepath.Join(t.TempDir(), "missing.yaml")
	_, err := api.NewSecurityStack(cfg, zap.NewNop())
	assert.Error(t, err)

	cfg = testConfig()
	cfg.Security.Stages = []string{"xss", "antivirus"}
	_, err = api.NewSecurityStack(cfg, zap.NewNop())
	assert.Error(t, err)

	cfg = testConfig()
	cfg.Kafka.Enabled = true
	_, err = api.NewSecurityStack(cfg, zap.NewNop())
	assert.Error(t, err)
}
