package metrics

import (
	"strconv"
	"time"
)

func (m *Metrics) enabled() bool {
	return m != nil && m.HTTPRequestsTotal != nil
}

func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	if !m.enabled() {
		return
	}
	code := strconv.Itoa(statusCode)
	m.HTTPRequestsTotal.WithLabelValues(method, path, code).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, code).Observe(duration.Seconds())
}

// RecordBreakerTransition counts a state change and sets the state gauge to
// state (0=closed, 1=open, 2=half-open)
func (m *Metrics) RecordBreakerTransition(name, from, to string, state int) {
	if !m.enabled() {
		return
	}
	m.BreakerTransitions.WithLabelValues(name, from, to).Inc()
	m.BreakerState.WithLabelValues(name).Set(float64(state))
}

func (m *Metrics) RecordHealthCheck(service, status string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.HealthChecksTotal.WithLabelValues(service, status).Inc()
	m.HealthCheckDuration.WithLabelValues(service).Observe(duration.Seconds())
}

// RecordPoll observes one full pass over the registered services
func (m *Metrics) RecordPoll(duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.PollDuration.Observe(duration.Seconds())
}

func (m *Metrics) RecordAlertFired(rule, severity string) {
	if !m.enabled() {
		return
	}
	m.AlertsFired.WithLabelValues(rule, severity).Inc()
}

func (m *Metrics) RecordAlertResolved(rule string) {
	if !m.enabled() {
		return
	}
	m.AlertsResolved.WithLabelValues(rule).Inc()
}

// RecordNotification counts one delivery attempt as success or failure
func (m *Metrics) RecordNotification(channel string, err error, duration time.Duration) {
	if !m.enabled() {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.NotificationsTotal.WithLabelValues(channel, outcome).Inc()
	m.NotificationDuration.WithLabelValues(channel).Observe(duration.Seconds())
}

func (m *Metrics) UpdateDatabaseConnections(probe string, open, inUse, idle, max int) {
	if !m.enabled() {
		return
	}
	for state, n := range map[string]int{"open": open, "in_use": inUse, "idle": idle, "max": max} {
		m.DatabaseConnections.WithLabelValues(probe, state).Set(float64(n))
	}
}

func (m *Metrics) UpdateRedisConnections(probe string, total, idle, stale int) {
	if !m.enabled() {
		return
	}
	for state, n := range map[string]int{"total": total, "idle": idle, "stale": stale} {
		m.RedisConnections.WithLabelValues(probe, state).Set(float64(n))
	}
}

func (m *Metrics) RecordError(component, errorType string) {
	if !m.enabled() {
		return
	}
	m.ErrorsTotal.WithLabelValues(component, errorType).Inc()
}
