package monitoring

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NikhilSetiya/fleetwatch/pkg/alerting"
	apperrors "github.com/NikhilSetiya/fleetwatch/pkg/errors"
	"github.com/NikhilSetiya/fleetwatch/pkg/health"
	"github.com/NikhilSetiya/fleetwatch/pkg/metrics"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func respond(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

// scriptedClient answers each host from its own list of status codes; a zero
// status is a transport failure
type scriptedClient struct {
	mu      sync.Mutex
	scripts map[string][]int
	calls   map[string]int
}

func newScriptedClient(scripts map[string][]int) *scriptedClient {
	return &scriptedClient{scripts: scripts, calls: make(map[string]int)}
}

func (c *scriptedClient) client() *http.Client {
	return &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		c.mu.Lock()
		defer c.mu.Unlock()

		host := req.URL.Host
		script := c.scripts[host]
		call := c.calls[host]
		c.calls[host]++

		status := http.StatusOK
		if len(script) > 0 {
			status = script[call%len(script)]
		}
		if status == 0 {
			return nil, errors.New("connection refused")
		}
		return respond(status, `{"status":"ok"}`), nil
	})}
}

type fixedSampler struct {
	sample SystemSample
	err    error
}

func (f fixedSampler) Sample(ctx context.Context) (SystemSample, error) {
	return f.sample, f.err
}

var quietHost = SystemSample{
	LoadAvg1:      1,
	LoadAvg5:      0.8,
	LoadAvg15:     0.5,
	Cores:         4,
	MemoryTotal:   8 << 30,
	MemoryUsed:    4 << 30,
	MemoryFree:    4 << 30,
	MemoryPercent: 50,
}

func newTestMonitor(t *testing.T, client *http.Client, opts ...Option) *Service {
	t.Helper()

	alerts := alerting.NewService(&alerting.Config{ServiceName: "monitoring"})
	opts = append([]Option{WithHTTPClient(client), WithSystemSampler(fixedSampler{sample: quietHost})}, opts...)
	return NewService(&Config{CheckInterval: time.Hour}, alerts, opts...)
}

func TestRegisterService_Validation(t *testing.T) {
	s := newTestMonitor(t, http.DefaultClient)

	require.NoError(t, s.RegisterService(ServiceConfig{Name: "orders", BaseURL: "http://orders:8080/"}))

	err := s.RegisterService(ServiceConfig{Name: "", BaseURL: "http://x"})
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))

	err = s.RegisterService(ServiceConfig{Name: "bad", BaseURL: "not a url"})
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))

	err = s.RegisterService(ServiceConfig{Name: "orders", BaseURL: "http://other"})
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConflict))

	status, err := s.ServiceByName("orders")
	require.NoError(t, err)
	assert.Equal(t, "http://orders:8080/health", status.URL)
	assert.Equal(t, health.StatusUnknown, status.Status)
	assert.Zero(t, status.TotalChecks)
	assert.Nil(t, status.LastCheck)

	_, err = s.ServiceByName("missing")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))
}

func TestRunHealthChecks_UptimeAfterInterleavedFailures(t *testing.T) {
	// 8 healthy and 2 non-consecutive transport failures, ending healthy
	scripted := newScriptedClient(map[string][]int{
		"orders": {200, 200, 0, 200, 200, 200, 0, 200, 200, 200},
	})
	s := newTestMonitor(t, scripted.client())
	require.NoError(t, s.RegisterService(ServiceConfig{Name: "orders", BaseURL: "http://orders"}))

	for i := 0; i < 10; i++ {
		s.RunHealthChecks(context.Background())
	}

	status, err := s.ServiceByName("orders")
	require.NoError(t, err)
	assert.Equal(t, 10, status.TotalChecks)
	assert.Equal(t, 8, status.SuccessfulChecks)
	assert.InDelta(t, 80.0, status.UptimePercent, 1e-9)
	assert.Equal(t, health.StatusHealthy, status.Status)
	assert.Zero(t, status.ConsecutiveFailures)

	for _, alert := range s.ActiveAlerts() {
		assert.NotEqual(t, "service_down", alert.RuleID)
	}
}

func TestRunHealthChecks_ConsecutiveFailuresFireServiceDown(t *testing.T) {
	scripted := newScriptedClient(map[string][]int{
		"orders":  {http.StatusServiceUnavailable},
		"reviews": {http.StatusOK},
	})
	s := newTestMonitor(t, scripted.client())
	require.NoError(t, s.RegisterService(ServiceConfig{Name: "orders", BaseURL: "http://orders"}))
	require.NoError(t, s.RegisterService(ServiceConfig{Name: "reviews", BaseURL: "http://reviews"}))

	s.RunHealthChecks(context.Background())
	s.RunHealthChecks(context.Background())
	assert.Empty(t, s.ActiveAlerts())

	results := s.RunHealthChecks(context.Background())
	require.Len(t, results, 2)
	assert.Equal(t, "orders", results[0].Service)
	assert.Equal(t, health.StatusDegraded, results[0].Status)
	assert.Equal(t, http.StatusServiceUnavailable, results[0].StatusCode)
	assert.Equal(t, health.StatusHealthy, results[1].Status)

	active := s.ActiveAlerts()
	require.Len(t, active, 1)
	assert.Equal(t, "service_down", active[0].RuleID)
	assert.Equal(t, "orders", active[0].Context["serviceName"])
	assert.Equal(t, alerting.SeverityCritical, active[0].Severity)
	assert.Equal(t, 3, s.Alerts().HealthCheckFailures("orders"))
	assert.Equal(t, 0, s.Alerts().HealthCheckFailures("reviews"))

	report := s.ServicesStatus()
	assert.Equal(t, 1, report.Healthy)
	assert.Equal(t, 1, report.Degraded)
	assert.Equal(t, "orders", report.Services[0].Name)
}

func TestRunHealthChecks_RecoveryResetsFailures(t *testing.T) {
	scripted := newScriptedClient(map[string][]int{"orders": {0, 0, 200}})
	s := newTestMonitor(t, scripted.client())
	require.NoError(t, s.RegisterService(ServiceConfig{Name: "orders", BaseURL: "http://orders"}))

	s.RunHealthChecks(context.Background())
	s.RunHealthChecks(context.Background())

	status, _ := s.ServiceByName("orders")
	assert.Equal(t, health.StatusUnhealthy, status.Status)
	assert.Equal(t, 2, status.ConsecutiveFailures)
	assert.Contains(t, status.LastError, "connection refused")

	s.RunHealthChecks(context.Background())

	status, _ = s.ServiceByName("orders")
	assert.Equal(t, health.StatusHealthy, status.Status)
	assert.Zero(t, status.ConsecutiveFailures)
	assert.Empty(t, status.LastError)
	assert.Equal(t, 0, s.Alerts().HealthCheckFailures("orders"))
	assert.Equal(t, map[string]interface{}{"status": "ok"}, status.LastBody)
}

func TestRunHealthChecks_ConcurrentWithPerServiceTimeouts(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer slow.Close()

	fast := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer fast.Close()

	s := newTestMonitor(t, &http.Client{})
	for _, name := range []string{"slow-a", "slow-b", "slow-c"} {
		require.NoError(t, s.RegisterService(ServiceConfig{Name: name, BaseURL: slow.URL, Timeout: 100 * time.Millisecond}))
	}
	require.NoError(t, s.RegisterService(ServiceConfig{Name: "fast", BaseURL: fast.URL, Timeout: time.Second}))

	start := time.Now()
	results := s.RunHealthChecks(context.Background())
	elapsed := time.Since(start)

	require.Len(t, results, 4)
	assert.Less(t, elapsed, time.Second)

	byName := make(map[string]CheckResult)
	for _, r := range results {
		byName[r.Service] = r
	}
	assert.Equal(t, health.StatusHealthy, byName["fast"].Status)
	assert.Equal(t, health.StatusUnhealthy, byName["slow-a"].Status)
	assert.Equal(t, health.StatusUnhealthy, byName["slow-c"].Status)
}

func TestStartStop(t *testing.T) {
	var calls atomic.Int64
	client := &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		calls.Add(1)
		return respond(http.StatusOK, "{}"), nil
	})}

	alerts := alerting.NewService(nil)
	s := NewService(&Config{CheckInterval: 10 * time.Millisecond}, alerts,
		WithHTTPClient(client),
		WithSystemSampler(fixedSampler{sample: quietHost}),
	)
	require.NoError(t, s.RegisterService(ServiceConfig{Name: "orders", BaseURL: "http://orders"}))

	require.NoError(t, s.Start(context.Background()))
	assert.True(t, s.Running())

	err := s.Start(context.Background())
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)

	s.Stop()
	assert.False(t, s.Running())
	stoppedAt := calls.Load()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, stoppedAt, calls.Load())

	// stopping twice is a no-op and the service can be restarted
	s.Stop()
	require.NoError(t, s.Start(context.Background()))
	s.Stop()
}

func TestStop_DiscardsInFlightResults(t *testing.T) {
	inFlight := make(chan struct{}, 1)
	finished := make(chan time.Duration, 1)
	client := &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		begun := time.Now()
		inFlight <- struct{}{}
		<-req.Context().Done()
		finished <- time.Since(begun)
		return nil, req.Context().Err()
	})}

	const checkTimeout = 300 * time.Millisecond
	s := newTestMonitor(t, client)
	require.NoError(t, s.RegisterService(ServiceConfig{Name: "orders", BaseURL: "http://orders", Timeout: checkTimeout}))

	require.NoError(t, s.Start(context.Background()))
	select {
	case <-inFlight:
	case <-time.After(2 * time.Second):
		t.Fatal("health check never started")
	}

	stopStart := time.Now()
	s.Stop()
	assert.Less(t, time.Since(stopStart), checkTimeout/2, "stop waits only for the loop, not for checks")

	// the check is not cancelled by Stop; it runs until its own timeout
	select {
	case ran := <-finished:
		assert.GreaterOrEqual(t, ran, checkTimeout-20*time.Millisecond)
	case <-time.After(2 * time.Second):
		t.Fatal("health check never finished")
	}

	// give the late result time to be dropped
	time.Sleep(50 * time.Millisecond)

	status, err := s.ServiceByName("orders")
	require.NoError(t, err)
	assert.Equal(t, health.StatusUnknown, status.Status)
	assert.Zero(t, status.TotalChecks)
	assert.Equal(t, 0, s.Alerts().HealthCheckFailures("orders"))
}

// slowNotifier delays every delivery and counts them
type slowNotifier struct {
	delay     time.Duration
	delivered atomic.Int64
}

func (n *slowNotifier) Name() string { return "pager" }

func (n *slowNotifier) Notify(ctx context.Context, alert *alerting.Alert) error {
	select {
	case <-time.After(n.delay):
		n.delivered.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestPoll_SlowChannelDoesNotSerializeServices(t *testing.T) {
	const delay = 300 * time.Millisecond
	names := []string{"billing", "inventory", "orders", "reviews"}

	scripts := make(map[string][]int, len(names))
	for _, name := range names {
		scripts[name] = []int{0}
	}

	notifier := &slowNotifier{delay: delay}
	alerts := alerting.NewService(
		&alerting.Config{ServiceName: "monitoring", DisableDefaultRules: true},
		alerting.WithNotifiers(notifier),
	)
	for _, name := range names {
		name := name
		require.NoError(t, alerts.AddRule(alerting.Rule{
			ID:       name + "_unhealthy",
			Severity: alerting.SeverityError,
			Condition: alerting.ConditionFunc(func(ctx alerting.Context) (bool, error) {
				return ctx.StringValue("serviceName") == name && ctx.StringValue("status") == string(health.StatusUnhealthy), nil
			}),
			Channels: []string{"pager"},
		}))
	}

	s := NewService(&Config{CheckInterval: time.Hour}, alerts,
		WithHTTPClient(newScriptedClient(scripts).client()),
		WithSystemSampler(fixedSampler{sample: quietHost}),
	)
	for _, name := range names {
		require.NoError(t, s.RegisterService(ServiceConfig{Name: name, BaseURL: "http://" + name}))
	}

	start := time.Now()
	s.Poll(context.Background())
	elapsed := time.Since(start)

	assert.Len(t, s.ActiveAlerts(), len(names))
	assert.Equal(t, int64(len(names)), notifier.delivered.Load())
	assert.GreaterOrEqual(t, elapsed, delay)
	assert.Less(t, elapsed, 2*delay, "one slow delivery per tick, not one per service")
}

func TestResponseTimeRingIsBounded(t *testing.T) {
	s := NewService(&Config{HistorySize: 5}, nil,
		WithHTTPClient(newScriptedClient(nil).client()),
		WithSystemSampler(fixedSampler{sample: quietHost}),
	)
	require.NoError(t, s.RegisterService(ServiceConfig{Name: "orders", BaseURL: "http://orders"}))

	for i := 0; i < 12; i++ {
		s.RunHealthChecks(context.Background())
	}

	s.servicesMu.RLock()
	ring := len(s.services["orders"].responseTimes)
	s.servicesMu.RUnlock()

	assert.Equal(t, 5, ring)
	status, _ := s.ServiceByName("orders")
	assert.Equal(t, 12, status.TotalChecks)
}

func TestCollectSystemMetrics(t *testing.T) {
	busy := quietHost
	busy.LoadAvg1 = 3.6 // 90% of 4 cores
	busy.MemoryPercent = 91

	s := newTestMonitor(t, http.DefaultClient, WithSystemSampler(fixedSampler{sample: busy}))

	snapshot := s.CollectSystemMetrics(context.Background())
	assert.InDelta(t, 90.0, snapshot.CPUPercent, 1e-9)
	assert.Positive(t, snapshot.Process.PID)

	rules := make(map[string]bool)
	for _, alert := range s.ActiveAlerts() {
		rules[alert.RuleID] = true
	}
	assert.True(t, rules["high_cpu"])
	assert.True(t, rules["high_memory"])

	report := s.SystemMetrics(context.Background())
	require.Len(t, report.History.CPU, 1)
	assert.Equal(t, 3.6, report.History.CPU[0].Value)
	assert.Equal(t, 91.0, report.History.Memory[0].Value)
}

func TestSystemHistoryIsBounded(t *testing.T) {
	s := NewService(&Config{HistorySize: 3}, nil, WithSystemSampler(fixedSampler{sample: quietHost}))

	for i := 0; i < 7; i++ {
		s.CollectSystemMetrics(context.Background())
	}

	report := s.SystemMetrics(context.Background())
	assert.Len(t, report.History.CPU, 3)
	assert.Len(t, report.History.Memory, 3)
}

func TestSamplerErrorsAreBestEffort(t *testing.T) {
	s := newTestMonitor(t, http.DefaultClient,
		WithSystemSampler(fixedSampler{sample: SystemSample{Cores: 2}, err: errors.New("no /proc")}))

	snapshot := s.CollectSystemMetrics(context.Background())
	assert.Zero(t, snapshot.Host.MemoryPercent)
	assert.Zero(t, snapshot.CPUPercent)

	summary := s.DashboardSummary(context.Background())
	assert.Equal(t, 0, summary.Overview.TotalServices)
}

func TestSystemSample_CPUPercent(t *testing.T) {
	assert.Equal(t, 50.0, SystemSample{LoadAvg1: 2, Cores: 4}.CPUPercent())
	assert.Equal(t, 0.0, SystemSample{LoadAvg1: 2}.CPUPercent())
}

type staticProbe struct {
	name string
	ctx  alerting.Context
}

func (p staticProbe) Name() string                            { return p.name }
func (p staticProbe) Sample(context.Context) alerting.Context { return p.ctx }

func TestPoll_EvaluatesProbesAndRequestWindow(t *testing.T) {
	probe := staticProbe{name: "orders-db", ctx: alerting.Context{"serviceName": "orders-db", "poolExhausted": true}}
	s := newTestMonitor(t, newScriptedClient(nil).client(), WithProbes(probe))

	for i := 0; i < 10; i++ {
		status := http.StatusOK
		if i == 0 {
			status = http.StatusBadGateway
		}
		s.TrackRequest(50*time.Millisecond, status)
	}

	s.Poll(context.Background())

	rules := make(map[string]*alerting.Alert)
	for _, alert := range s.ActiveAlerts() {
		rules[alert.RuleID] = alert
	}
	require.Contains(t, rules, "db_pool_exhausted")
	assert.Equal(t, "orders-db", rules["db_pool_exhausted"].Context["serviceName"])
	require.Contains(t, rules, "high_error_rate")
	assert.Len(t, s.AlertHistory(10), 2)
}

func TestDashboardSummary(t *testing.T) {
	scripted := newScriptedClient(map[string][]int{"orders": {200}, "reviews": {500}, "search": {0}})
	s := newTestMonitor(t, scripted.client())
	for _, name := range []string{"orders", "reviews", "search", "billing"} {
		require.NoError(t, s.RegisterService(ServiceConfig{Name: name, BaseURL: "http://" + name}))
	}

	results := s.RunHealthChecks(context.Background())
	require.Len(t, results, 4)

	// billing has no script and answers 200
	summary := s.DashboardSummary(context.Background())
	assert.Equal(t, 4, summary.Overview.TotalServices)
	assert.Equal(t, 2, summary.Overview.HealthyServices)
	assert.Equal(t, 1, summary.Overview.DegradedServices)
	assert.Equal(t, 1, summary.Overview.UnhealthyServices)
	assert.Equal(t, 50.0, summary.System.Host.MemoryPercent)
	assert.Len(t, summary.Services, 4)
	assert.LessOrEqual(t, len(summary.Alerts), 10)
}

func TestPrometheusExposition(t *testing.T) {
	scripted := newScriptedClient(map[string][]int{"orders": {200}, "reviews": {503}, "search": {0}})
	s := newTestMonitor(t, scripted.client())
	for _, name := range []string{"orders", "reviews", "search"} {
		require.NoError(t, s.RegisterService(ServiceConfig{Name: name, BaseURL: "http://" + name}))
	}
	s.RunHealthChecks(context.Background())

	text, err := s.PrometheusText()
	require.NoError(t, err)

	for _, line := range []string{
		"# TYPE monitoring_uptime_seconds gauge",
		"system_cpu_load_avg 1",
		"system_memory_used_bytes ",
		"system_memory_percent 50",
		`service_status{service="orders"} 1`,
		`service_status{service="reviews"} 0.5`,
		`service_status{service="search"} 0`,
		`service_uptime_percent{service="orders"} 100`,
		`service_uptime_percent{service="reviews"} 0`,
		"active_alerts_total 0",
	} {
		assert.Contains(t, text, line)
	}
	assert.Contains(t, text, `service_response_time_ms{service="orders"}`)
	assert.NotContains(t, text, "fleetwatch_")
}

func TestPrometheusExposition_IncludesCoreMetrics(t *testing.T) {
	m := metrics.NewMetrics(nil)
	s := newTestMonitor(t, newScriptedClient(nil).client(), WithMetrics(m))
	require.NoError(t, s.RegisterService(ServiceConfig{Name: "orders", BaseURL: "http://orders"}))

	s.RunHealthChecks(context.Background())

	text, err := s.PrometheusText()
	require.NoError(t, err)
	assert.Contains(t, text, `fleetwatch_health_checks_total{service="orders",status="healthy"} 1`)
	assert.Contains(t, text, "active_alerts_total 0")
}

func TestTrackRequestFeedsWindows(t *testing.T) {
	s := newTestMonitor(t, http.DefaultClient)

	s.TrackRequest(100*time.Millisecond, http.StatusOK)
	s.TrackRequest(300*time.Millisecond, http.StatusInternalServerError)
	s.TrackRequest(200*time.Millisecond, http.StatusNotFound)

	windowCtx := s.Alerts().MetricsContext()
	assert.Equal(t, 3, windowCtx["requestsInWindow"])
	assert.Equal(t, 1, windowCtx["errorsInWindow"])
	assert.Equal(t, 300.0, windowCtx["p95Latency"])
}
