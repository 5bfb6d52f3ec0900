package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NikhilSetiya/fleetwatch/internal/monitoring"
	"github.com/NikhilSetiya/fleetwatch/pkg/alerting"
	"github.com/NikhilSetiya/fleetwatch/pkg/config"
	"github.com/NikhilSetiya/fleetwatch/pkg/errors"
	"github.com/NikhilSetiya/fleetwatch/pkg/logging"
	"github.com/NikhilSetiya/fleetwatch/pkg/resilience"
)

const testSecret = "test-secret"

type stubSampler struct{}

func (stubSampler) Sample(context.Context) (monitoring.SystemSample, error) {
	return monitoring.SystemSample{LoadAvg1: 0.5, Cores: 4, MemoryTotal: 1 << 30, MemoryUsed: 1 << 29, MemoryPercent: 50}, nil
}

type testServer struct {
	router   *gin.Engine
	monitor  *monitoring.Service
	breakers *resilience.CircuitBreakerRegistry
}

func newTestServer(t *testing.T, secret string) *testServer {
	t.Helper()

	logger, err := logging.NewLogger(&logging.Config{Level: "error", Format: "json", Output: "stdout"})
	require.NoError(t, err)
	logger.SetOutput(io.Discard)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	t.Cleanup(upstream.Close)

	alerts := alerting.NewService(&alerting.Config{ServiceName: "fleetwatch"})
	monitor := monitoring.NewService(&monitoring.Config{CheckInterval: time.Hour}, alerts,
		monitoring.WithLogger(logger),
		monitoring.WithSystemSampler(stubSampler{}))
	require.NoError(t, monitor.RegisterService(monitoring.ServiceConfig{Name: "orders", BaseURL: upstream.URL}))

	cfg := &config.Config{}
	cfg.Logging.Level = "error"
	cfg.Server.AdminJWTSecret = secret

	breakers := resilience.NewRegistry(resilience.CircuitBreakerConfig{FailureThreshold: 5, ResetTimeout: time.Minute})

	return &testServer{
		router:   NewRouter(Dependencies{Config: cfg, Logger: logger, Monitor: monitor, Breakers: breakers}),
		monitor:  monitor,
		breakers: breakers,
	}
}

func (s *testServer) do(t *testing.T, method, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(t, "")

	w := s.do(t, http.MethodGet, "/health/live", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alive", decode(t, w)["status"])

	w = s.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServicesAfterManualHealthCheck(t *testing.T) {
	s := newTestServer(t, "")

	w := s.do(t, http.MethodPost, "/api/v1/monitoring/health-check", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/monitoring/services", "")
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, true, body["success"])
	data := body["data"].(map[string]interface{})
	assert.Equal(t, float64(1), data["healthy"])

	services := data["services"].([]interface{})
	require.Len(t, services, 1)
	assert.Equal(t, "orders", services[0].(map[string]interface{})["name"])
	assert.Equal(t, float64(100), services[0].(map[string]interface{})["uptime_percent"])
}

func TestGetService(t *testing.T) {
	s := newTestServer(t, "")

	w := s.do(t, http.MethodGet, "/api/v1/monitoring/services/orders", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/monitoring/services/billing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", decode(t, w)["error"].(map[string]interface{})["code"])
}

func TestDashboardAndSystem(t *testing.T) {
	s := newTestServer(t, "")

	w := s.do(t, http.MethodGet, "/api/v1/monitoring/dashboard", "")
	require.Equal(t, http.StatusOK, w.Code)
	overview := decode(t, w)["data"].(map[string]interface{})["overview"].(map[string]interface{})
	assert.Equal(t, float64(1), overview["total_services"])

	w = s.do(t, http.MethodGet, "/api/v1/monitoring/system", "")
	require.Equal(t, http.StatusOK, w.Code)
	current := decode(t, w)["data"].(map[string]interface{})["current"].(map[string]interface{})
	assert.Equal(t, 12.5, current["cpu_usage_percent"])
}

func TestGetAlerts(t *testing.T) {
	s := newTestServer(t, "")

	s.monitor.Alerts().Evaluate(context.Background(), alerting.Context{
		"serviceName":     "fleetwatch",
		"cpuUsagePercent": 95.0,
	})

	w := s.do(t, http.MethodGet, "/api/v1/monitoring/alerts?limit=5", "")
	require.Equal(t, http.StatusOK, w.Code)

	data := decode(t, w)["data"].(map[string]interface{})
	assert.Len(t, data["active"], 1)
	assert.Len(t, data["history"], 1)

	w = s.do(t, http.MethodGet, "/api/v1/monitoring/alerts?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/monitoring/alerts?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestResolveAlert(t *testing.T) {
	s := newTestServer(t, "")

	fired := s.monitor.Alerts().Evaluate(context.Background(), alerting.Context{
		"serviceName":     "fleetwatch",
		"cpuUsagePercent": 95.0,
	})
	require.Len(t, fired, 1)

	w := s.do(t, http.MethodPost, "/api/v1/monitoring/alerts/"+fired[0].ID+"/resolve", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["data"].(map[string]interface{})["resolved"])
	assert.Empty(t, s.monitor.ActiveAlerts())

	w = s.do(t, http.MethodPost, "/api/v1/monitoring/alerts/missing/resolve", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSendTestAlert(t *testing.T) {
	s := newTestServer(t, testSecret)

	w := s.do(t, http.MethodPost, "/api/v1/monitoring/alerts/test", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token, err := IssueAdminToken(testSecret, "ops", time.Hour)
	require.NoError(t, err)
	w = s.do(t, http.MethodPost, "/api/v1/monitoring/alerts/test", token)
	require.Equal(t, http.StatusOK, w.Code)

	data := decode(t, w)["data"].(map[string]interface{})
	assert.Equal(t, "Test alert sent", data["message"])
	alert := data["alert"].(map[string]interface{})
	assert.Equal(t, alerting.TypeTest, alert["type"])
	assert.Equal(t, []interface{}{alerting.ChannelConsole}, alert["channels"])
	assert.Empty(t, s.monitor.ActiveAlerts())
}

func TestAdminAuth(t *testing.T) {
	s := newTestServer(t, testSecret)

	w := s.do(t, http.MethodPost, "/api/v1/monitoring/health-check", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	wrong, err := IssueAdminToken("other-secret", "ops", time.Hour)
	require.NoError(t, err)
	w = s.do(t, http.MethodPost, "/api/v1/monitoring/health-check", wrong)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	expired, err := IssueAdminToken(testSecret, "ops", -time.Minute)
	require.NoError(t, err)
	w = s.do(t, http.MethodPost, "/api/v1/monitoring/health-check", expired)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token, err := IssueAdminToken(testSecret, "ops", time.Hour)
	require.NoError(t, err)
	w = s.do(t, http.MethodPost, "/api/v1/monitoring/health-check", token)
	assert.Equal(t, http.StatusOK, w.Code)

	// reads stay open
	w = s.do(t, http.MethodGet, "/api/v1/monitoring/services", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAdminAuth_MalformedHeader(t *testing.T) {
	s := newTestServer(t, testSecret)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/monitoring/circuits/reset", nil)
	req.Header.Set("Authorization", "Token abc")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCircuitRoutes(t *testing.T) {
	s := newTestServer(t, "")

	w := s.do(t, http.MethodGet, "/api/v1/monitoring/circuits", "")
	require.Equal(t, http.StatusOK, w.Code)
	circuits := decode(t, w)["data"].([]interface{})
	require.Len(t, circuits, 1)
	assert.Equal(t, ReadBreakerName, circuits[0].(map[string]interface{})["name"])

	w = s.do(t, http.MethodPost, "/api/v1/monitoring/circuits/"+ReadBreakerName+"/open", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OPEN", decode(t, w)["data"].(map[string]interface{})["state"])

	w = s.do(t, http.MethodGet, "/api/v1/monitoring/services", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "SERVICE_UNAVAILABLE", decode(t, w)["code"])

	// administration is still reachable
	w = s.do(t, http.MethodGet, "/api/v1/monitoring/circuits", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/monitoring/circuits/"+ReadBreakerName+"/close", "")
	require.Equal(t, http.StatusOK, w.Code)
	w = s.do(t, http.MethodGet, "/api/v1/monitoring/services", "")
	assert.Equal(t, http.StatusOK, w.Code)

	s.breakers.Get(ReadBreakerName).ForceOpen()
	w = s.do(t, http.MethodPost, "/api/v1/monitoring/circuits/reset", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, resilience.StateClosed, s.breakers.Get(ReadBreakerName).State())

	w = s.do(t, http.MethodPost, "/api/v1/monitoring/circuits/nope/open", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, "")
	s.monitor.RunHealthChecks(context.Background())

	w := s.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/plain")
	assert.Contains(t, w.Body.String(), "monitoring_uptime_seconds")
	assert.Contains(t, w.Body.String(), `service_status{service="orders"} 1`)
}

func TestNoRoute(t *testing.T) {
	s := newTestServer(t, "")

	w := s.do(t, http.MethodGet, "/api/v1/nothing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, false, decode(t, w)["success"])
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"validation", errors.NewValidationError("bad"), http.StatusBadRequest},
		{"authentication", errors.NewAuthenticationError("who"), http.StatusUnauthorized},
		{"authorization", errors.NewAuthorizationError("no"), http.StatusForbidden},
		{"not found", errors.NewNotFoundError("thing"), http.StatusNotFound},
		{"conflict", errors.NewConflictError("dup"), http.StatusConflict},
		{"timeout", errors.NewTimeoutError("poll"), http.StatusGatewayTimeout},
		{"external", errors.NewExternalError("slack", "down"), http.StatusBadGateway},
		{"unavailable", errors.NewUnavailableError("orders", "down"), http.StatusServiceUnavailable},
		{"internal", errors.NewInternalError("oops"), http.StatusInternalServerError},
		{"circuit open", &resilience.CircuitOpenError{Name: "db", Reason: "open"}, http.StatusServiceUnavailable},
		{"plain", assert.AnError, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, StatusForError(tt.err))
		})
	}
}
