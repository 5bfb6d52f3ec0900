// Package probes samples infrastructure connection pools for the monitoring
// loop. Each probe yields an alerting context with a poolExhausted flag.
package probes

import (
	"time"

	"github.com/NikhilSetiya/fleetwatch/pkg/logging"
	"github.com/NikhilSetiya/fleetwatch/pkg/metrics"
)

const defaultPingTimeout = 3 * time.Second

type probeOptions struct {
	pingTimeout time.Duration
	metrics     *metrics.Metrics
	logger      *logging.Logger
}

// Option configures a probe
type Option func(*probeOptions)

// WithPingTimeout bounds each ping
func WithPingTimeout(timeout time.Duration) Option {
	return func(o *probeOptions) {
		if timeout > 0 {
			o.pingTimeout = timeout
		}
	}
}

// WithMetrics publishes pool gauges on every sample
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *probeOptions) {
		o.metrics = m
	}
}

// WithLogger sets the logger for ping failures
func WithLogger(logger *logging.Logger) Option {
	return func(o *probeOptions) {
		o.logger = logger
	}
}

func buildOptions(opts []Option) probeOptions {
	o := probeOptions{pingTimeout: defaultPingTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.GetLogger()
	}
	return o
}
