package metrics

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"
)

// PrometheusMiddleware counts requests by route template
func (m *Metrics) PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.enabled() {
			c.Next()
			return
		}

		method, path := c.Request.Method, c.FullPath()
		inFlight := m.HTTPRequestsInFlight.WithLabelValues(method, path)
		inFlight.Inc()
		defer inFlight.Dec()

		start := time.Now()
		c.Next()
		m.RecordHTTPRequest(method, path, c.Writer.Status(), time.Since(start))
	}
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// WriteText writes the registry in the plaintext exposition format
func (m *Metrics) WriteText(w io.Writer) error {
	return WriteGatherer(w, m.Registry)
}

// WriteGatherer writes every family gathered from g as plaintext
func WriteGatherer(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return err
	}
	for _, family := range families {
		if _, err := expfmt.MetricFamilyToText(w, family); err != nil {
			return err
		}
	}
	return nil
}
