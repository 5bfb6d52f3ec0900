package resilience

import "github.com/prometheus/client_golang/prometheus"

type registryCollector struct {
	registry *CircuitBreakerRegistry
	calls    *prometheus.Desc
	failures *prometheus.Desc
}

// Collector exposes the call counters of every breaker in r, read at scrape
// time. Rejections are calls{outcome="rejected"}.
func (r *CircuitBreakerRegistry) Collector(namespace string) prometheus.Collector {
	return registryCollector{
		registry: r,
		calls: prometheus.NewDesc(prometheus.BuildFQName(namespace, "circuit_breaker", "calls_total"),
			"Calls seen by a circuit breaker by outcome", []string{"name", "outcome"}, nil),
		failures: prometheus.NewDesc(prometheus.BuildFQName(namespace, "circuit_breaker", "consecutive_failures"),
			"Current consecutive failure count of a circuit breaker", []string{"name"}, nil),
	}
}

func (c registryCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.calls
	ch <- c.failures
}

func (c registryCollector) Collect(ch chan<- prometheus.Metric) {
	for _, status := range c.registry.Statuses() {
		outcomes := map[string]uint64{
			"succeeded": status.Metrics.Succeeded,
			"failed":    status.Metrics.Failed,
			"rejected":  status.Metrics.Rejected,
		}
		for outcome, n := range outcomes {
			ch <- prometheus.MustNewConstMetric(c.calls, prometheus.CounterValue, float64(n), status.Name, outcome)
		}
		ch <- prometheus.MustNewConstMetric(c.failures, prometheus.GaugeValue, float64(status.FailureCount), status.Name)
	}
}
