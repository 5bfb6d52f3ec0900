package monitoring

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/NikhilSetiya/fleetwatch/pkg/metrics"
)

// exposition timeout for the system sample taken on scrape
const scrapeSampleTimeout = 2 * time.Second

var (
	uptimeDesc = prometheus.NewDesc("monitoring_uptime_seconds",
		"Monitoring service uptime", nil, nil)
	cpuLoadDesc = prometheus.NewDesc("system_cpu_load_avg",
		"System CPU load average (1m)", nil, nil)
	memoryUsedDesc = prometheus.NewDesc("system_memory_used_bytes",
		"System memory used", nil, nil)
	memoryPercentDesc = prometheus.NewDesc("system_memory_percent",
		"System memory usage percentage", nil, nil)
	serviceStatusDesc = prometheus.NewDesc("service_status",
		"Service health status (1=healthy, 0.5=degraded, 0=unhealthy)", []string{"service"}, nil)
	serviceUptimeDesc = prometheus.NewDesc("service_uptime_percent",
		"Service uptime percentage", []string{"service"}, nil)
	serviceResponseDesc = prometheus.NewDesc("service_response_time_ms",
		"Service average response time", []string{"service"}, nil)
	activeAlertsDesc = prometheus.NewDesc("active_alerts_total",
		"Total active alerts", nil, nil)
)

// collector exposes the fleet state as gauges computed at scrape time
type collector struct {
	service *Service
}

// Describe implements prometheus.Collector
func (c collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- uptimeDesc
	ch <- cpuLoadDesc
	ch <- memoryUsedDesc
	ch <- memoryPercentDesc
	ch <- serviceStatusDesc
	ch <- serviceUptimeDesc
	ch <- serviceResponseDesc
	ch <- activeAlertsDesc
}

// Collect implements prometheus.Collector
func (c collector) Collect(ch chan<- prometheus.Metric) {
	s := c.service

	ctx, cancel := context.WithTimeout(context.Background(), scrapeSampleTimeout)
	defer cancel()
	system := s.sampleSystem(ctx)

	ch <- prometheus.MustNewConstMetric(uptimeDesc, prometheus.GaugeValue, s.Uptime().Seconds())
	ch <- prometheus.MustNewConstMetric(cpuLoadDesc, prometheus.GaugeValue, system.Host.LoadAvg1)
	ch <- prometheus.MustNewConstMetric(memoryUsedDesc, prometheus.GaugeValue, float64(system.Host.MemoryUsed))
	ch <- prometheus.MustNewConstMetric(memoryPercentDesc, prometheus.GaugeValue, system.Host.MemoryPercent)

	for _, svc := range s.ServicesStatus().Services {
		ch <- prometheus.MustNewConstMetric(serviceStatusDesc, prometheus.GaugeValue, svc.Status.Weight(), svc.Name)
		ch <- prometheus.MustNewConstMetric(serviceUptimeDesc, prometheus.GaugeValue, svc.UptimePercent, svc.Name)
		ch <- prometheus.MustNewConstMetric(serviceResponseDesc, prometheus.GaugeValue, svc.AvgResponseTimeMs, svc.Name)
	}

	ch <- prometheus.MustNewConstMetric(activeAlertsDesc, prometheus.GaugeValue, float64(len(s.alerts.ActiveAlerts())))
}

// Collector returns the fleet collector for registration elsewhere
func (s *Service) Collector() prometheus.Collector {
	return collector{service: s}
}

// Gatherer returns the fleet gauges, merged with the core instrumentation
// when metrics are enabled
func (s *Service) Gatherer() prometheus.Gatherer {
	if s.metrics != nil && s.metrics.Registry != nil {
		return prometheus.Gatherers{s.registry, s.metrics.Registry}
	}
	return s.registry
}

// WritePrometheus renders the exposition text. Values are computed on every
// call.
func (s *Service) WritePrometheus(w io.Writer) error {
	return metrics.WriteGatherer(w, s.Gatherer())
}

// PrometheusText is WritePrometheus into a string
func (s *Service) PrometheusText() (string, error) {
	var buf bytes.Buffer
	if err := s.WritePrometheus(&buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}
