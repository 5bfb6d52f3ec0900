package channels

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/NikhilSetiya/fleetwatch/pkg/alerting"
)

// ConsoleChannel writes alerts to the process log. It never fails.
type ConsoleChannel struct {
	logger *zap.Logger
}

// NewConsoleChannel creates the console channel
func NewConsoleChannel(logger *zap.Logger) *ConsoleChannel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConsoleChannel{logger: logger}
}

// Name implements alerting.Notifier
func (c *ConsoleChannel) Name() string {
	return alerting.ChannelConsole
}

// Notify implements alerting.Notifier
func (c *ConsoleChannel) Notify(_ context.Context, alert *alerting.Alert) error {
	if ce := c.logger.Check(consoleLevel(alert.Severity), "["+alert.Severity.Upper()+"] "+alert.Message); ce != nil {
		ce.Write(
			zap.String("alert_id", alert.ID),
			zap.String("rule_id", alert.RuleID),
			zap.String("type", alert.Type),
			zap.Time("timestamp", alert.Timestamp),
		)
	}
	return nil
}

// consoleLevel maps severities onto log levels. Critical alerts log at error
// level since the process must keep running.
func consoleLevel(severity alerting.Severity) zapcore.Level {
	switch severity {
	case alerting.SeverityInfo:
		return zapcore.InfoLevel
	case alerting.SeverityWarning:
		return zapcore.WarnLevel
	default:
		return zapcore.ErrorLevel
	}
}
