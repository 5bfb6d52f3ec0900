package notifications

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NikhilSetiya/fleetwatch/pkg/alerting"
)

func testAlert() *alerting.Alert {
	return &alerting.Alert{
		ID:        "high_error_rate-1709283600000000000",
		RuleID:    "high_error_rate",
		Type:      alerting.TypeHighErrorRate,
		Severity:  alerting.SeverityWarning,
		Message:   "High error rate: 6.00% in gateway",
		Timestamp: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		Context: alerting.Context{
			"serviceName": "gateway",
			"errorRate":   0.06,
			"note":        "<script>alert(1)</script>",
		},
		Channels: []string{alerting.ChannelEmail},
	}
}

func TestTemplateManager_RenderAlert(t *testing.T) {
	tm := NewTemplateManager()
	alert := testAlert()

	t.Run("text format", func(t *testing.T) {
		message, err := tm.RenderAlert(alert, "gateway", FormatText)
		require.NoError(t, err)

		assert.Equal(t, "[WARNING] high_error_rate - gateway", message.Subject)
		assert.Contains(t, message.Body, "WARNING alert on gateway")
		assert.Contains(t, message.Body, "High error rate: 6.00% in gateway")
		assert.Contains(t, message.Body, "Rule: high_error_rate")
		assert.Contains(t, message.Body, "Time: 2024-03-01T09:00:00Z")
		assert.Contains(t, message.Body, "errorRate: 0.06")
		assert.Equal(t, FormatText, message.Format)
		assert.Equal(t, "warning", message.Metadata["severity"])
		assert.Equal(t, "gateway", message.Metadata["service"])
	})

	t.Run("html format", func(t *testing.T) {
		message, err := tm.RenderAlert(alert, "gateway", FormatHTML)
		require.NoError(t, err)

		assert.Equal(t, "[WARNING] high_error_rate - gateway", message.Subject)
		assert.Contains(t, message.Body, "<h2")
		assert.Contains(t, message.Body, "WARNING: high_error_rate")
		assert.Contains(t, message.Body, "<strong>Service:</strong>")
		assert.Contains(t, message.Body, "gateway")
		assert.NotContains(t, message.Body, "<script>")
		assert.Contains(t, message.Body, "&lt;script&gt;")
	})

	t.Run("context is sorted", func(t *testing.T) {
		message, err := tm.RenderAlert(alert, "gateway", FormatText)
		require.NoError(t, err)

		errorRate := strings.Index(message.Body, "errorRate:")
		note := strings.Index(message.Body, "note:")
		service := strings.Index(message.Body, "serviceName:")
		require.True(t, errorRate >= 0 && note >= 0 && service >= 0)
		assert.Less(t, errorRate, note)
		assert.Less(t, note, service)
	})

	t.Run("unsupported format", func(t *testing.T) {
		_, err := tm.RenderAlert(alert, "gateway", "markdown")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported format")
	})

	t.Run("nil alert", func(t *testing.T) {
		_, err := tm.RenderAlert(nil, "gateway", FormatText)
		require.Error(t, err)
	})
}

func TestSeverityColor(t *testing.T) {
	tests := []struct {
		severity alerting.Severity
		expected string
	}{
		{alerting.SeverityInfo, "#36a64f"},
		{alerting.SeverityWarning, "#ffa500"},
		{alerting.SeverityError, "#ff6b6b"},
		{alerting.SeverityCritical, "#ff0000"},
		{alerting.Severity("bogus"), "#808080"},
	}

	for _, tt := range tests {
		t.Run(string(tt.severity), func(t *testing.T) {
			assert.Equal(t, tt.expected, SeverityColor(tt.severity))
		})
	}
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "250ms", formatDuration(250*time.Millisecond))
	assert.Equal(t, "1.5s", formatDuration(1500*time.Millisecond))
	assert.Equal(t, "2.5m", formatDuration(150*time.Second))
}
