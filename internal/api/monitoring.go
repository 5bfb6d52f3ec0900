package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/common/expfmt"

	"github.com/NikhilSetiya/fleetwatch/internal/monitoring"
	"github.com/NikhilSetiya/fleetwatch/pkg/alerting"
	"github.com/NikhilSetiya/fleetwatch/pkg/errors"
	"github.com/NikhilSetiya/fleetwatch/pkg/logging"
)

const (
	defaultAlertLimit = 100
	maxAlertLimit     = 1000
)

// MonitoringHandler serves the fleet state
type MonitoringHandler struct {
	monitor *monitoring.Service
	logger  *logging.Logger
}

// NewMonitoringHandler creates a new monitoring handler
func NewMonitoringHandler(monitor *monitoring.Service, logger *logging.Logger) *MonitoringHandler {
	return &MonitoringHandler{monitor: monitor, logger: logger}
}

// AlertsResponse lists active alerts and the most recent history
type AlertsResponse struct {
	Active  []*alerting.Alert `json:"active"`
	History []*alerting.Alert `json:"history"`
}

// GetDashboard handles GET /dashboard
func (h *MonitoringHandler) GetDashboard(c *gin.Context) {
	SuccessResponse(c, h.monitor.DashboardSummary(c.Request.Context()))
}

// GetServices handles GET /services
func (h *MonitoringHandler) GetServices(c *gin.Context) {
	SuccessResponse(c, h.monitor.ServicesStatus())
}

// GetService handles GET /services/:name
func (h *MonitoringHandler) GetService(c *gin.Context) {
	status, err := h.monitor.ServiceByName(c.Param("name"))
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}
	SuccessResponse(c, status)
}

// GetSystem handles GET /system
func (h *MonitoringHandler) GetSystem(c *gin.Context) {
	SuccessResponse(c, h.monitor.SystemMetrics(c.Request.Context()))
}

// GetAlerts handles GET /alerts?limit=
func (h *MonitoringHandler) GetAlerts(c *gin.Context) {
	limit := defaultAlertLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			ErrorResponseFromError(c, errors.NewValidationError("limit must be a positive integer"))
			return
		}
		limit = parsed
	}
	if limit > maxAlertLimit {
		limit = maxAlertLimit
	}

	SuccessResponse(c, AlertsResponse{
		Active:  h.monitor.ActiveAlerts(),
		History: h.monitor.AlertHistory(limit),
	})
}

// RunHealthCheck handles POST /health-check and checks every service now
func (h *MonitoringHandler) RunHealthCheck(c *gin.Context) {
	results := h.monitor.RunHealthChecks(c.Request.Context())

	h.logger.WithContext(c.Request.Context()).
		WithField("services", len(results)).
		Info("Manual health check completed")

	SuccessResponse(c, gin.H{
		"results":  results,
		"services": h.monitor.ServicesStatus(),
	})
}

// ResolveAlert handles POST /alerts/:id/resolve
func (h *MonitoringHandler) ResolveAlert(c *gin.Context) {
	alert, err := h.monitor.Alerts().ResolveAlert(c.Request.Context(), c.Param("id"))
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}
	SuccessResponse(c, alert)
}

// SendTestAlert handles POST /alerts/test and pushes an info alert through
// every configured channel
func (h *MonitoringHandler) SendTestAlert(c *gin.Context) {
	alert := h.monitor.Alerts().SendTestAlert(c.Request.Context())

	SuccessResponse(c, gin.H{
		"message":   "Test alert sent",
		"alert":     alert,
		"timestamp": alert.Timestamp,
	})
}

// GetMetrics handles GET /metrics in the Prometheus text format
func (h *MonitoringHandler) GetMetrics(c *gin.Context) {
	text, err := h.monitor.PrometheusText()
	if err != nil {
		h.logger.LogError(c.Request.Context(), err, "Failed to render metrics", nil)
		c.String(http.StatusInternalServerError, "# failed to render metrics\n")
		return
	}
	c.Data(http.StatusOK, string(expfmt.NewFormat(expfmt.TypeTextPlain)), []byte(text))
}
