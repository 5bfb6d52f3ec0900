package monitoring

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/NikhilSetiya/fleetwatch/pkg/alerting"
	"github.com/NikhilSetiya/fleetwatch/pkg/errors"
	"github.com/NikhilSetiya/fleetwatch/pkg/health"
	"github.com/NikhilSetiya/fleetwatch/pkg/logging"
	"github.com/NikhilSetiya/fleetwatch/pkg/metrics"
	"github.com/NikhilSetiya/fleetwatch/pkg/tracing"
)

// Config holds monitoring configuration
type Config struct {
	ServiceName    string        `json:"service_name"`
	CheckInterval  time.Duration `json:"check_interval"`
	DefaultTimeout time.Duration `json:"default_timeout"`
	HistorySize    int           `json:"history_size"`
}

// DefaultConfig returns default monitoring configuration
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "monitoring",
		CheckInterval:  30 * time.Second,
		DefaultTimeout: 5 * time.Second,
		HistorySize:    100,
	}
}

const (
	defaultHealthPath = "/health"
	dashboardAlerts   = 10
)

// Probe samples a piece of infrastructure into an alert context
type Probe interface {
	Name() string
	Sample(ctx context.Context) alerting.Context
}

// Option configures a Service
type Option func(*Service)

// WithLogger overrides the global logger
func WithLogger(logger *logging.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithHTTPClient sets the client used for health checks
func WithHTTPClient(client *http.Client) Option {
	return func(s *Service) { s.client = client }
}

// WithSystemSampler replaces the gopsutil host sampler
func WithSystemSampler(sampler SystemSampler) Option {
	return func(s *Service) { s.sampler = sampler }
}

// WithTracer traces every poll and health check
func WithTracer(tracer *tracing.TracingService) Option {
	return func(s *Service) { s.tracer = tracer }
}

// WithMetrics records health checks and polls and merges the core
// instrumentation into the exposition
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides time.Now
func WithClock(clock func() time.Time) Option {
	return func(s *Service) { s.clock = clock }
}

// WithProbes adds infrastructure probes evaluated on every tick
func WithProbes(probes ...Probe) Option {
	return func(s *Service) { s.probes = append(s.probes, probes...) }
}

// Service polls the registered services, samples the host and feeds both
// into the alerting engine
type Service struct {
	config  *Config
	alerts  *alerting.Service
	logger  *logging.Logger
	client  *http.Client
	sampler SystemSampler
	tracer  *tracing.TracingService
	metrics *metrics.Metrics
	clock   func() time.Time
	probes  []Probe

	startTime time.Time
	registry  *prometheus.Registry
	history   *systemHistory

	servicesMu sync.RWMutex
	services   map[string]*registeredService

	runMu   sync.Mutex
	running bool
	epoch   uint64 // bumped by Stop; results from an older epoch are dropped
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewService creates a new monitoring service. A nil alerts service gets a
// default alerting engine named after the monitoring service.
func NewService(config *Config, alerts *alerting.Service, opts ...Option) *Service {
	defaults := DefaultConfig()
	if config == nil {
		config = defaults
	}
	if config.ServiceName == "" {
		config.ServiceName = defaults.ServiceName
	}
	if config.CheckInterval <= 0 {
		config.CheckInterval = defaults.CheckInterval
	}
	if config.DefaultTimeout <= 0 {
		config.DefaultTimeout = defaults.DefaultTimeout
	}
	if config.HistorySize <= 0 {
		config.HistorySize = defaults.HistorySize
	}
	if alerts == nil {
		alerts = alerting.NewService(&alerting.Config{ServiceName: config.ServiceName})
	}

	s := &Service{
		config:   config,
		alerts:   alerts,
		logger:   logging.GetLogger(),
		client:   &http.Client{},
		sampler:  HostSampler{},
		tracer:   tracing.NewNoopService(),
		clock:    time.Now,
		services: make(map[string]*registeredService),
		history:  &systemHistory{limit: config.HistorySize},
		registry: prometheus.NewRegistry(),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.client = s.tracer.InstrumentHTTPClient(s.client)
	s.startTime = s.clock()
	s.registry.MustRegister(s.Collector())

	return s
}

// Alerts returns the alerting engine owned by this service
func (s *Service) Alerts() *alerting.Service {
	return s.alerts
}

// RegisterService adds a service to the poll set. No check runs until the
// next poll.
func (s *Service) RegisterService(cfg ServiceConfig) error {
	cfg.Name = strings.TrimSpace(cfg.Name)
	if cfg.Name == "" {
		return errors.NewValidationError("service name is required")
	}

	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return errors.NewValidationError(fmt.Sprintf("service %s has an invalid base URL %q", cfg.Name, cfg.BaseURL))
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	if cfg.HealthPath == "" {
		cfg.HealthPath = defaultHealthPath
	}
	if !strings.HasPrefix(cfg.HealthPath, "/") {
		cfg.HealthPath = "/" + cfg.HealthPath
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = s.config.DefaultTimeout
	}

	s.servicesMu.Lock()
	defer s.servicesMu.Unlock()

	if _, exists := s.services[cfg.Name]; exists {
		return errors.NewConflictError(fmt.Sprintf("service %s is already registered", cfg.Name))
	}
	s.services[cfg.Name] = &registeredService{config: cfg, status: health.StatusUnknown}

	s.logger.Info("Service registered for monitoring",
		"service", cfg.Name,
		"url", cfg.BaseURL+cfg.HealthPath,
		"timeout", cfg.Timeout.String(),
	)
	return nil
}

// Start runs one poll immediately and then one per CheckInterval until Stop
// is called or ctx is cancelled
func (s *Service) Start(ctx context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.running {
		return errors.NewValidationError("monitoring service is already running")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel
	s.done = make(chan struct{})

	s.logger.Info("Starting monitoring service", "interval", s.config.CheckInterval.String())

	go s.loop(loopCtx, s.done)
	return nil
}

// Stop cancels the ticker and waits for the poll loop to exit. Checks still
// in flight are left to finish under their own timeout and their results are
// discarded.
func (s *Service) Stop() {
	s.runMu.Lock()
	if !s.running {
		s.runMu.Unlock()
		return
	}
	s.running = false
	s.epoch++
	cancel, done := s.cancel, s.done
	s.runMu.Unlock()

	cancel()
	<-done

	s.logger.Info("Monitoring service stopped")
}

// Running reports whether the poll loop is active
func (s *Service) Running() bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.running
}

func (s *Service) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	s.Poll(ctx)

	ticker := time.NewTicker(s.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Poll(ctx)
		}
	}
}

// Poll runs one full tick: health checks, system metrics, infrastructure
// probes and the request-window rules
func (s *Service) Poll(ctx context.Context) {
	start := time.Now()

	ctx, span := s.tracer.StartPollSpan(ctx, s.serviceCount())
	defer span.End()

	_, contexts := s.runChecks(ctx)
	if ctx.Err() != nil {
		return
	}

	contexts = append(contexts, s.systemContext(s.recordSystemSample(ctx)))
	contexts = append(contexts, s.probeContexts(ctx)...)
	contexts = append(contexts, s.alerts.MetricsContext())
	s.evaluateAll(ctx, contexts)

	s.metrics.RecordPoll(time.Since(start))
}

// RunHealthChecks checks every registered service concurrently, each under
// its own timeout, then evaluates the service rules. It never fails; problems
// are reflected in the returned results.
func (s *Service) RunHealthChecks(ctx context.Context) []CheckResult {
	results, contexts := s.runChecks(ctx)
	s.evaluateAll(ctx, contexts)
	return results
}

type checkOutcome struct {
	index   int
	result  CheckResult
	applied bool
}

// runChecks fans the checks out and returns their results with the rule
// contexts of every service whose result was recorded. Checks are detached
// from ctx cancellation and end on their own timeout; once ctx is done the
// results gathered so far are returned and the stragglers are dropped by the
// epoch check.
func (s *Service) runChecks(ctx context.Context) ([]CheckResult, []alerting.Context) {
	s.runMu.Lock()
	epoch := s.epoch
	s.runMu.Unlock()

	s.servicesMu.RLock()
	configs := make([]ServiceConfig, 0, len(s.services))
	for _, svc := range s.services {
		configs = append(configs, svc.config)
	}
	s.servicesMu.RUnlock()

	sort.Slice(configs, func(i, j int) bool { return configs[i].Name < configs[j].Name })

	outcomes := make(chan checkOutcome, len(configs))
	checkCtx := context.WithoutCancel(ctx)
	for i, cfg := range configs {
		go func(i int, cfg ServiceConfig) {
			result, applied := s.checkService(checkCtx, cfg, epoch)
			outcomes <- checkOutcome{index: i, result: result, applied: applied}
		}(i, cfg)
	}

	received := make([]*checkOutcome, len(configs))
	for n := 0; n < len(configs); n++ {
		select {
		case <-ctx.Done():
			return collectResults(received), nil
		case o := <-outcomes:
			received[o.index] = &o
		}
	}

	var contexts []alerting.Context
	for _, o := range received {
		if !o.applied {
			continue
		}
		if evalCtx, ok := s.serviceContext(o.result.Service); ok {
			contexts = append(contexts, evalCtx)
		}
	}
	return collectResults(received), contexts
}

// collectResults keeps the finished checks in registration-name order
func collectResults(received []*checkOutcome) []CheckResult {
	results := make([]CheckResult, 0, len(received))
	for _, o := range received {
		if o != nil {
			results = append(results, o.result)
		}
	}
	return results
}

// evaluateAll evaluates every context concurrently and waits until all of
// their notifications are delivered
func (s *Service) evaluateAll(ctx context.Context, contexts []alerting.Context) {
	var wg sync.WaitGroup
	for _, evalCtx := range contexts {
		wg.Add(1)
		go func(evalCtx alerting.Context) {
			defer wg.Done()
			s.alerts.Evaluate(ctx, evalCtx)
		}(evalCtx)
	}
	wg.Wait()
}

func (s *Service) checkService(ctx context.Context, cfg ServiceConfig, epoch uint64) (CheckResult, bool) {
	target := cfg.BaseURL + cfg.HealthPath

	ctx, span := s.tracer.StartHealthCheckSpan(ctx, cfg.Name, target)
	defer span.End()

	checkCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	checker := &health.HTTPChecker{Name: cfg.Name, URL: target, Client: s.client}
	check := checker.Check(checkCtx)

	result := CheckResult{
		Service:        cfg.Name,
		Status:         check.Status,
		StatusCode:     check.StatusCode,
		ResponseTimeMs: float64(check.Duration) / float64(time.Millisecond),
		Error:          check.Error,
	}

	if !s.isCurrent(epoch) {
		s.logger.Debug("Discarding health check finished after stop", "service", cfg.Name)
		return result, false
	}

	s.servicesMu.Lock()
	svc, exists := s.services[cfg.Name]
	if !exists {
		s.servicesMu.Unlock()
		return result, false
	}
	svc.record(check, s.clock(), s.config.HistorySize)
	failures := svc.consecutiveFailures
	s.servicesMu.Unlock()

	switch check.Status {
	case health.StatusHealthy:
		s.alerts.ResetHealthCheckFailures(cfg.Name)
	case health.StatusUnhealthy:
		s.alerts.TrackHealthCheckFailure(cfg.Name)
		s.alerts.TrackError(fmt.Errorf("health check %s: %s", cfg.Name, check.Error))
		s.tracer.RecordError(span, fmt.Errorf("%s", check.Error))
	default:
		s.alerts.TrackHealthCheckFailure(cfg.Name)
	}

	s.metrics.RecordHealthCheck(cfg.Name, string(check.Status), check.Duration)

	var checkErr error
	if check.Status != health.StatusHealthy {
		checkErr = fmt.Errorf("%s", firstNonEmpty(check.Error, check.Message))
	}
	s.logger.LogHealthCheck(ctx, cfg.Name, string(check.Status), failures, check.Duration, checkErr)

	return result, true
}

func (s *Service) isCurrent(epoch uint64) bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.epoch == epoch
}

func (s *Service) serviceContext(name string) (alerting.Context, bool) {
	s.servicesMu.RLock()
	defer s.servicesMu.RUnlock()

	svc, exists := s.services[name]
	if !exists {
		return nil, false
	}
	return alerting.Context{
		"serviceName":         name,
		"consecutiveFailures": svc.consecutiveFailures,
		"status":              string(svc.status),
		"responseTime":        svc.lastResponseTime(),
		"uptime":              svc.uptimePercent(),
	}, true
}

// probeContexts samples every probe concurrently. Probes that report nothing
// are skipped; a probe error also feeds the error window.
func (s *Service) probeContexts(ctx context.Context) []alerting.Context {
	sampled := make([]alerting.Context, len(s.probes))

	var wg sync.WaitGroup
	for i, probe := range s.probes {
		wg.Add(1)
		go func(i int, probe Probe) {
			defer wg.Done()
			sampled[i] = probe.Sample(ctx)
		}(i, probe)
	}
	wg.Wait()

	contexts := make([]alerting.Context, 0, len(sampled))
	for i, evalCtx := range sampled {
		if evalCtx == nil {
			continue
		}
		if msg := evalCtx.StringValue("probeError"); msg != "" {
			s.alerts.TrackError(fmt.Errorf("probe %s: %s", s.probes[i].Name(), msg))
		}
		contexts = append(contexts, evalCtx)
	}
	return contexts
}

// TrackRequest feeds one served request into the alert windows
func (s *Service) TrackRequest(duration time.Duration, statusCode int) {
	s.alerts.TrackRequest()
	s.alerts.TrackLatency(duration)
	if statusCode >= http.StatusInternalServerError {
		s.alerts.TrackError(fmt.Errorf("HTTP %d", statusCode))
	}
}

// ServicesStatus returns every registered service ordered by name
func (s *Service) ServicesStatus() ServicesReport {
	s.servicesMu.RLock()
	services := make([]ServiceStatus, 0, len(s.services))
	for _, svc := range s.services {
		services = append(services, svc.snapshot())
	}
	s.servicesMu.RUnlock()

	sort.Slice(services, func(i, j int) bool { return services[i].Name < services[j].Name })

	report := ServicesReport{Timestamp: s.clock(), Services: services}
	for _, svc := range services {
		switch svc.Status {
		case health.StatusHealthy:
			report.Healthy++
		case health.StatusDegraded:
			report.Degraded++
		case health.StatusUnhealthy:
			report.Unhealthy++
		default:
			report.Unknown++
		}
	}
	return report
}

// ServiceByName returns the status of one registered service
func (s *Service) ServiceByName(name string) (ServiceStatus, error) {
	s.servicesMu.RLock()
	defer s.servicesMu.RUnlock()

	svc, exists := s.services[name]
	if !exists {
		return ServiceStatus{}, errors.NewNotFoundError("service " + name)
	}
	return svc.snapshot(), nil
}

// DashboardSummary combines service counts, per-service detail, a fresh
// system sample and the ten newest active alerts
func (s *Service) DashboardSummary(ctx context.Context) DashboardSummary {
	services := s.ServicesStatus()
	system := s.sampleSystem(ctx)
	alerts := s.alerts.ActiveAlerts()

	recent := alerts
	if len(recent) > dashboardAlerts {
		recent = recent[:dashboardAlerts]
	}

	return DashboardSummary{
		Timestamp: s.clock(),
		Overview: DashboardOverview{
			TotalServices:     len(services.Services),
			HealthyServices:   services.Healthy,
			DegradedServices:  services.Degraded,
			UnhealthyServices: services.Unhealthy,
			UnknownServices:   services.Unknown,
			ActiveAlerts:      len(alerts),
			SystemUptime:      s.Uptime().Seconds(),
		},
		Services: services.Services,
		System:   system,
		Alerts:   recent,
	}
}

// ActiveAlerts returns the unresolved alerts, newest first
func (s *Service) ActiveAlerts() []*alerting.Alert {
	return s.alerts.ActiveAlerts()
}

// AlertHistory returns up to limit past alerts, newest first
func (s *Service) AlertHistory(limit int) []*alerting.Alert {
	return s.alerts.AlertHistory(limit)
}

// Uptime returns how long the monitoring service has existed
func (s *Service) Uptime() time.Duration {
	return s.clock().Sub(s.startTime)
}

func (s *Service) serviceCount() int {
	s.servicesMu.RLock()
	defer s.servicesMu.RUnlock()
	return len(s.services)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
