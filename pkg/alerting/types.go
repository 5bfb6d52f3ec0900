package alerting

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// Severity represents alert severity levels
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Upper returns the severity as shown to humans (INFO, WARNING, ...)
func (s Severity) Upper() string {
	return strings.ToUpper(string(s))
}

// ParseSeverity accepts any casing; unknown values become warning
func ParseSeverity(value string) Severity {
	switch Severity(strings.ToLower(strings.TrimSpace(value))) {
	case SeverityInfo:
		return SeverityInfo
	case SeverityError:
		return SeverityError
	case SeverityCritical:
		return SeverityCritical
	default:
		return SeverityWarning
	}
}

// Alert types used by the default rules
const (
	TypeServiceDown   = "service_down"
	TypeHighErrorRate = "high_error_rate"
	TypeHighLatency   = "high_latency"
	TypeDBConnection  = "db_connection"
	TypeMemoryHigh    = "memory_high"
	TypeCPUHigh       = "cpu_high"
	TypeCustom        = "custom"
	TypeTest          = "test"
)

// Channel names understood by the dispatcher
const (
	ChannelSlack   = "slack"
	ChannelEmail   = "email"
	ChannelWebhook = "webhook"
	ChannelConsole = "console"
	ChannelKafka   = "kafka"
)

// Context is the record a rule condition is evaluated against
type Context map[string]interface{}

// Float returns a numeric field. ok is false when the field is absent or not numeric.
func (c Context) Float(field string) (float64, bool) {
	value, exists := c[field]
	if !exists || value == nil {
		return 0, false
	}

	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case time.Duration:
		return float64(v.Milliseconds()), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// Bool returns a boolean field; absent or non-boolean fields are false
func (c Context) Bool(field string) bool {
	value, ok := c[field].(bool)
	return ok && value
}

// StringValue returns a string field or the empty string
func (c Context) StringValue(field string) string {
	value, _ := c[field].(string)
	return value
}

func (c Context) clone() Context {
	copied := make(Context, len(c))
	for k, v := range c {
		copied[k] = v
	}
	return copied
}

// Alert is a fired instance of a rule
type Alert struct {
	ID         string     `json:"id"`
	RuleID     string     `json:"rule_id"`
	Type       string     `json:"type"`
	Severity   Severity   `json:"severity"`
	Message    string     `json:"message"`
	Context    Context    `json:"context"`
	Timestamp  time.Time  `json:"timestamp"`
	Channels   []string   `json:"channels"`
	Resolved   bool       `json:"resolved"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Clone returns a deep copy safe to hand to callers
func (a *Alert) Clone() *Alert {
	copied := *a
	copied.Context = a.Context.clone()
	copied.Channels = append([]string(nil), a.Channels...)
	if a.ResolvedAt != nil {
		resolvedAt := *a.ResolvedAt
		copied.ResolvedAt = &resolvedAt
	}
	return &copied
}

// Rule describes when an alert fires and where it is delivered
type Rule struct {
	ID          string        `json:"id"`
	Type        string        `json:"type"`
	Description string        `json:"description,omitempty"`
	Severity    Severity      `json:"severity"`
	Condition   Condition     `json:"-"`
	Cooldown    time.Duration `json:"cooldown"`
	Channels    []string      `json:"channels"`
	// Message renders the alert text; nil renders "Alert: <id>"
	Message  func(Context) string `json:"-"`
	Disabled bool                 `json:"disabled"`
}

// Enabled reports whether the rule takes part in evaluation
func (r Rule) Enabled() bool {
	return !r.Disabled
}

// Notifier delivers alerts to one channel
type Notifier interface {
	Name() string
	Notify(ctx context.Context, alert *Alert) error
}
