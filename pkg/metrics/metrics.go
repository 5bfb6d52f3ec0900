// Package metrics holds the Prometheus collectors of one fleetwatch process.
// Every Metrics owns its registry, so tests and embedded instances never
// collide on the default one.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds all Prometheus metrics. A nil or disabled Metrics records
// nothing.
type Metrics struct {
	Registry *prometheus.Registry

	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight *prometheus.GaugeVec

	BreakerState       *prometheus.GaugeVec
	BreakerTransitions *prometheus.CounterVec

	HealthChecksTotal   *prometheus.CounterVec
	HealthCheckDuration *prometheus.HistogramVec
	PollDuration        prometheus.Histogram

	AlertsFired          *prometheus.CounterVec
	AlertsResolved       *prometheus.CounterVec
	NotificationsTotal   *prometheus.CounterVec
	NotificationDuration *prometheus.HistogramVec

	DatabaseConnections *prometheus.GaugeVec
	RedisConnections    *prometheus.GaugeVec

	ErrorsTotal *prometheus.CounterVec
}

// Config holds metrics configuration
type Config struct {
	Namespace string `json:"namespace"`
	Subsystem string `json:"subsystem"`
	Enabled   bool   `json:"enabled"`
	// Registry defaults to a fresh registry with the Go and process collectors
	Registry *prometheus.Registry `json:"-"`
}

func DefaultConfig() *Config {
	return &Config{
		Namespace: "fleetwatch",
		Enabled:   true,
	}
}

var (
	healthCheckBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10}
	pollBuckets        = []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30}
)

// factory builds collectors under one namespace and registers them as it goes
type factory struct {
	namespace, subsystem string
	registry             *prometheus.Registry
}

func (f factory) counter(name, help string, labels ...string) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: f.namespace, Subsystem: f.subsystem, Name: name, Help: help,
	}, labels)
	f.registry.MustRegister(c)
	return c
}

func (f factory) gauge(name, help string, labels ...string) *prometheus.GaugeVec {
	g := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: f.namespace, Subsystem: f.subsystem, Name: name, Help: help,
	}, labels)
	f.registry.MustRegister(g)
	return g
}

func (f factory) histogram(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	h := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: f.namespace, Subsystem: f.subsystem, Name: name, Help: help, Buckets: buckets,
	}, labels)
	f.registry.MustRegister(h)
	return h
}

// NewMetrics creates and registers all collectors. A disabled config yields
// an empty registry.
func NewMetrics(config *Config) *Metrics {
	if config == nil {
		config = DefaultConfig()
	}

	registry := config.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	m := &Metrics{Registry: registry}
	if !config.Enabled {
		return m
	}

	f := factory{namespace: config.Namespace, subsystem: config.Subsystem, registry: registry}

	m.HTTPRequestsTotal = f.counter("http_requests_total", "Total number of HTTP requests", "method", "path", "status_code")
	m.HTTPRequestDuration = f.histogram("http_request_duration_seconds", "HTTP request duration in seconds", prometheus.DefBuckets, "method", "path", "status_code")
	m.HTTPRequestsInFlight = f.gauge("http_requests_in_flight", "Number of HTTP requests currently being processed", "method", "path")

	m.BreakerState = f.gauge("circuit_breaker_state", "Circuit breaker state (0=closed, 1=open, 2=half-open)", "name")
	m.BreakerTransitions = f.counter("circuit_breaker_transitions_total", "Total number of circuit breaker state transitions", "name", "from", "to")

	m.HealthChecksTotal = f.counter("health_checks_total", "Total number of health checks by outcome", "service", "status")
	m.HealthCheckDuration = f.histogram("health_check_duration_seconds", "Health check duration in seconds", healthCheckBuckets, "service")
	m.PollDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: f.namespace,
		Subsystem: f.subsystem,
		Name:      "poll_duration_seconds",
		Help:      "Duration of a full poll over every registered service",
		Buckets:   pollBuckets,
	})
	registry.MustRegister(m.PollDuration)

	m.AlertsFired = f.counter("alerts_fired_total", "Total number of alerts fired", "rule", "severity")
	m.AlertsResolved = f.counter("alerts_resolved_total", "Total number of alerts resolved", "rule")
	m.NotificationsTotal = f.counter("notifications_total", "Total number of notification deliveries by outcome", "channel", "status")
	m.NotificationDuration = f.histogram("notification_duration_seconds", "Notification delivery duration in seconds", prometheus.DefBuckets, "channel")

	m.DatabaseConnections = f.gauge("database_connections", "Database pool connections observed by probes", "probe", "state")
	m.RedisConnections = f.gauge("redis_connections", "Redis pool connections observed by probes", "probe", "state")

	m.ErrorsTotal = f.counter("errors_total", "Total number of errors", "component", "error_type")

	return m
}
