package monitoring

import (
	"time"

	"github.com/NikhilSetiya/fleetwatch/pkg/alerting"
	"github.com/NikhilSetiya/fleetwatch/pkg/health"
)

// ServiceConfig registers a service for polling
type ServiceConfig struct {
	Name       string        `json:"name"`
	BaseURL    string        `json:"base_url"`
	HealthPath string        `json:"health_path"`
	Timeout    time.Duration `json:"timeout"`
}

// registeredService is the mutable polling state of one service. It is only
// touched under Service.servicesMu.
type registeredService struct {
	config ServiceConfig

	status              health.Status
	consecutiveFailures int
	responseTimes       []float64 // ms, oldest first, bounded by Config.HistorySize
	totalChecks         int
	successfulChecks    int
	lastCheck           time.Time
	lastError           string
	lastStatusCode      int
	lastBody            interface{}
}

func (r *registeredService) uptimePercent() float64 {
	if r.totalChecks == 0 {
		return 0
	}
	return float64(r.successfulChecks) / float64(r.totalChecks) * 100
}

func (r *registeredService) lastResponseTime() float64 {
	if len(r.responseTimes) == 0 {
		return 0
	}
	return r.responseTimes[len(r.responseTimes)-1]
}

func (r *registeredService) avgResponseTime() float64 {
	return alerting.Mean(r.responseTimes)
}

func (r *registeredService) record(check *health.Check, at time.Time, limit int) {
	r.status = check.Status
	r.lastCheck = at
	r.lastError = check.Error
	r.lastStatusCode = check.StatusCode
	r.lastBody = check.Body
	r.totalChecks++

	if check.Status == health.StatusHealthy {
		r.successfulChecks++
		r.consecutiveFailures = 0
	} else {
		r.consecutiveFailures++
	}

	r.responseTimes = append(r.responseTimes, float64(check.Duration)/float64(time.Millisecond))
	if overflow := len(r.responseTimes) - limit; overflow > 0 {
		r.responseTimes = append(r.responseTimes[:0], r.responseTimes[overflow:]...)
	}
}

func (r *registeredService) snapshot() ServiceStatus {
	status := ServiceStatus{
		Name:                r.config.Name,
		URL:                 r.config.BaseURL + r.config.HealthPath,
		Status:              r.status,
		ConsecutiveFailures: r.consecutiveFailures,
		UptimePercent:       r.uptimePercent(),
		AvgResponseTimeMs:   r.avgResponseTime(),
		LastResponseTimeMs:  r.lastResponseTime(),
		TotalChecks:         r.totalChecks,
		SuccessfulChecks:    r.successfulChecks,
		LastError:           r.lastError,
		LastStatusCode:      r.lastStatusCode,
		LastBody:            r.lastBody,
	}
	if !r.lastCheck.IsZero() {
		lastCheck := r.lastCheck
		status.LastCheck = &lastCheck
	}
	return status
}

// ServiceStatus is a read-only view of a registered service
type ServiceStatus struct {
	Name                string        `json:"name"`
	URL                 string        `json:"url"`
	Status              health.Status `json:"status"`
	LastCheck           *time.Time    `json:"last_check,omitempty"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	UptimePercent       float64       `json:"uptime_percent"`
	AvgResponseTimeMs   float64       `json:"avg_response_time_ms"`
	LastResponseTimeMs  float64       `json:"last_response_time_ms"`
	TotalChecks         int           `json:"total_checks"`
	SuccessfulChecks    int           `json:"successful_checks"`
	LastError           string        `json:"last_error,omitempty"`
	LastStatusCode      int           `json:"last_status_code,omitempty"`
	LastBody            interface{}   `json:"last_body,omitempty"`
}

// ServicesReport counts services by status
type ServicesReport struct {
	Timestamp time.Time       `json:"timestamp"`
	Healthy   int             `json:"healthy"`
	Degraded  int             `json:"degraded"`
	Unhealthy int             `json:"unhealthy"`
	Unknown   int             `json:"unknown"`
	Services  []ServiceStatus `json:"services"`
}

// CheckResult is the outcome of one health check
type CheckResult struct {
	Service        string        `json:"service"`
	Status         health.Status `json:"status"`
	StatusCode     int           `json:"status_code,omitempty"`
	ResponseTimeMs float64       `json:"response_time_ms"`
	Error          string        `json:"error,omitempty"`
}

// DashboardOverview is the headline block of the dashboard
type DashboardOverview struct {
	TotalServices     int     `json:"total_services"`
	HealthyServices   int     `json:"healthy_services"`
	DegradedServices  int     `json:"degraded_services"`
	UnhealthyServices int     `json:"unhealthy_services"`
	UnknownServices   int     `json:"unknown_services"`
	ActiveAlerts      int     `json:"active_alerts"`
	SystemUptime      float64 `json:"system_uptime_seconds"`
}

// DashboardSummary combines services, system metrics and recent alerts
type DashboardSummary struct {
	Timestamp time.Time         `json:"timestamp"`
	Overview  DashboardOverview `json:"overview"`
	Services  []ServiceStatus   `json:"services"`
	System    SystemSnapshot    `json:"system"`
	Alerts    []*alerting.Alert `json:"alerts"`
}
