package alerting

import (
	"fmt"
	"time"
)

// DefaultRules returns the rules every Service starts with
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:          "service_down",
			Type:        TypeServiceDown,
			Description: "Three or more consecutive failed health checks",
			Severity:    SeverityCritical,
			Condition:   Threshold{Field: "consecutiveFailures", Op: OpGreaterOrEqual, Value: 3},
			Cooldown:    10 * time.Minute,
			Channels:    []string{ChannelSlack, ChannelEmail},
			Message: func(ctx Context) string {
				failures, _ := ctx.Float("consecutiveFailures")
				return fmt.Sprintf("Service %s is DOWN after %d failed health checks", ctx.StringValue("serviceName"), int(failures))
			},
		},
		{
			ID:          "high_error_rate",
			Type:        TypeHighErrorRate,
			Description: "More than 5% of requests failed in the window",
			Severity:    SeverityError,
			Condition:   Threshold{Field: "errorRate", Op: OpGreater, Value: 0.05},
			Cooldown:    5 * time.Minute,
			Channels:    []string{ChannelSlack},
			Message: func(ctx Context) string {
				rate, _ := ctx.Float("errorRate")
				return fmt.Sprintf("High error rate: %.2f%% in %s", rate*100, ctx.StringValue("serviceName"))
			},
		},
		{
			ID:          "high_latency",
			Type:        TypeHighLatency,
			Description: "p95 latency above 2000ms in the window",
			Severity:    SeverityWarning,
			Condition:   Threshold{Field: "p95Latency", Op: OpGreater, Value: 2000},
			Cooldown:    5 * time.Minute,
			Channels:    []string{ChannelSlack},
			Message: func(ctx Context) string {
				p95, _ := ctx.Float("p95Latency")
				return fmt.Sprintf("High latency detected: p95=%.0fms in %s", p95, ctx.StringValue("serviceName"))
			},
		},
		{
			ID:          "db_pool_exhausted",
			Type:        TypeDBConnection,
			Description: "Connection pool has no free connections",
			Severity:    SeverityCritical,
			Condition:   Flag{Field: "poolExhausted"},
			Cooldown:    5 * time.Minute,
			Channels:    []string{ChannelSlack, ChannelEmail},
			Message: func(ctx Context) string {
				return fmt.Sprintf("Database connection pool exhausted in %s", ctx.StringValue("serviceName"))
			},
		},
		{
			ID:          "high_memory",
			Type:        TypeMemoryHigh,
			Description: "Memory usage above 85%",
			Severity:    SeverityWarning,
			Condition:   Threshold{Field: "memoryUsagePercent", Op: OpGreater, Value: 85},
			Cooldown:    10 * time.Minute,
			Channels:    []string{ChannelSlack},
			Message: func(ctx Context) string {
				usage, _ := ctx.Float("memoryUsagePercent")
				return fmt.Sprintf("High memory usage: %.1f%% in %s", usage, ctx.StringValue("serviceName"))
			},
		},
		{
			ID:          "high_cpu",
			Type:        TypeCPUHigh,
			Description: "CPU usage above 80%",
			Severity:    SeverityWarning,
			Condition:   Threshold{Field: "cpuUsagePercent", Op: OpGreater, Value: 80},
			Cooldown:    10 * time.Minute,
			Channels:    []string{ChannelSlack},
			Message: func(ctx Context) string {
				usage, _ := ctx.Float("cpuUsagePercent")
				return fmt.Sprintf("High CPU usage: %.1f%% in %s", usage, ctx.StringValue("serviceName"))
			},
		},
	}
}

// ThresholdRule builds a rule from configuration values
func ThresholdRule(id string, severity Severity, field string, op Operator, value float64, cooldown time.Duration, channels []string) Rule {
	condition := Threshold{Field: field, Op: op, Value: value}

	return Rule{
		ID:          id,
		Type:        TypeCustom,
		Description: condition.String(),
		Severity:    severity,
		Condition:   condition,
		Cooldown:    cooldown,
		Channels:    channels,
		Message: func(ctx Context) string {
			current, _ := ctx.Float(field)
			return fmt.Sprintf("%s: %s=%v (threshold %s %v) in %s", id, field, current, op, value, ctx.StringValue("serviceName"))
		},
	}
}
