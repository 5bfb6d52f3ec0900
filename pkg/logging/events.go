package logging

import (
	"context"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
)

// LogRequest records one served HTTP request
func (l *Logger) LogRequest(ctx context.Context, method, path, userAgent, clientIP string, statusCode int, duration time.Duration) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"http_method":      method,
		"http_path":        path,
		"http_status":      statusCode,
		"user_agent":       userAgent,
		"client_ip":        clientIP,
		"response_time_ms": duration.Milliseconds(),
	}).Info("HTTP request processed")
}

// LogHealthCheck records one poll of a monitored service. Failed polls are
// warnings; successful ones only show at debug.
func (l *Logger) LogHealthCheck(ctx context.Context, serviceName, status string, consecutiveFailures int, duration time.Duration, err error) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"event":                "health_check",
		"target_service":       serviceName,
		"status":               status,
		"consecutive_failures": consecutiveFailures,
		"response_time_ms":     duration.Milliseconds(),
	})

	if err == nil {
		entry.Debug("Health check completed")
		return
	}
	entry.WithField("error", err.Error()).Warn("Health check failed")
}

// LogAlertEvent records an alert being fired, resolved or failing to dispatch
func (l *Logger) LogAlertEvent(ctx context.Context, event, alertID, ruleID, severity string, fields logrus.Fields) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"event":    event,
		"alert_id": alertID,
		"rule_id":  ruleID,
		"severity": severity,
	}).WithFields(fields).Warn("Alert event")
}

// LogError logs err at error level. A stack trace is attached when the logger
// runs at debug or below.
func (l *Logger) LogError(ctx context.Context, err error, message string, fields logrus.Fields) {
	entry := l.WithContext(ctx).WithFields(errorFields(err)).WithFields(fields)
	if l.IsLevelEnabled(logrus.DebugLevel) {
		entry = entry.WithField("stack_trace", stackTrace())
	}
	entry.Error(message)
}

func stackTrace() string {
	buf := make([]byte, 4096)
	return string(buf[:runtime.Stack(buf, false)])
}
