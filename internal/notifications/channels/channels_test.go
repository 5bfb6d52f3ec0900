package channels

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/NikhilSetiya/fleetwatch/pkg/alerting"
	"github.com/NikhilSetiya/fleetwatch/pkg/errors"
	"github.com/NikhilSetiya/fleetwatch/pkg/resilience"
)

var fixedNow = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func testOptions(t *testing.T) Options {
	return Options{
		Logger:      zaptest.NewLogger(t),
		ServiceName: "fleetwatch",
		Retry: resilience.RetryConfig{
			MaxAttempts:  1,
			InitialDelay: time.Millisecond,
			MaxDelay:     time.Millisecond,
		},
		Clock: func() time.Time { return fixedNow },
	}
}

func testAlert(severity alerting.Severity) *alerting.Alert {
	return &alerting.Alert{
		ID:        "high_error_rate-1709283600000000000",
		RuleID:    "high_error_rate",
		Type:      alerting.TypeHighErrorRate,
		Severity:  severity,
		Message:   "High error rate: 6.00% in gateway",
		Timestamp: fixedNow,
		Context:   alerting.Context{"serviceName": "gateway", "errorRate": 0.06},
		Channels:  []string{alerting.ChannelSlack},
	}
}

// capture records every request body the server receives
type capture struct {
	mu       sync.Mutex
	requests []*http.Request
	bodies   [][]byte
	status   int32
}

func newCaptureServer(t *testing.T, status int) (*httptest.Server, *capture) {
	c := &capture{status: int32(status)}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body json.RawMessage
		_ = json.NewDecoder(r.Body).Decode(&body)

		c.mu.Lock()
		c.requests = append(c.requests, r)
		c.bodies = append(c.bodies, body)
		c.mu.Unlock()

		w.WriteHeader(int(atomic.LoadInt32(&c.status)))
	}))
	t.Cleanup(server.Close)
	return server, c
}

func (c *capture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

func (c *capture) decode(t *testing.T, i int, v interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	require.Greater(t, len(c.bodies), i)
	require.NoError(t, json.Unmarshal(c.bodies[i], v))
}

func TestSlackChannel_Notify(t *testing.T) {
	server, received := newCaptureServer(t, http.StatusOK)
	channel := NewSlackChannel(server.URL, testOptions(t))

	err := channel.Notify(context.Background(), testAlert(alerting.SeverityWarning))
	require.NoError(t, err)

	var message SlackMessage
	received.decode(t, 0, &message)
	assert.Equal(t, "application/json", received.requests[0].Header.Get("Content-Type"))
	require.Len(t, message.Attachments, 1)

	attachment := message.Attachments[0]
	assert.Equal(t, "#ffa500", attachment.Color)
	assert.Equal(t, ":warning: HIGH_ERROR_RATE", attachment.Title)
	assert.Equal(t, "High error rate: 6.00% in gateway", attachment.Text)
	assert.Equal(t, "Fleetwatch Monitoring", attachment.Footer)
	assert.Equal(t, fixedNow.Unix(), attachment.Timestamp)
	assert.Equal(t, []SlackField{
		{Title: "Service", Value: "gateway", Short: true},
		{Title: "Severity", Value: "WARNING", Short: true},
		{Title: "Time", Value: "2024-03-01T09:00:00Z", Short: true},
	}, attachment.Fields)
}

func TestSlackChannel_SeverityColors(t *testing.T) {
	tests := []struct {
		severity alerting.Severity
		color    string
	}{
		{alerting.SeverityInfo, "#36a64f"},
		{alerting.SeverityWarning, "#ffa500"},
		{alerting.SeverityError, "#ff6b6b"},
		{alerting.SeverityCritical, "#ff0000"},
	}

	channel := NewSlackChannel("http://unused", testOptions(t))
	for _, tt := range tests {
		t.Run(string(tt.severity), func(t *testing.T) {
			message := channel.buildMessage(testAlert(tt.severity))
			assert.Equal(t, tt.color, message.Attachments[0].Color)
		})
	}
}

func TestSlackChannel_FallsBackToConfiguredService(t *testing.T) {
	channel := NewSlackChannel("http://unused", testOptions(t))
	alert := testAlert(alerting.SeverityInfo)
	alert.Context = alerting.Context{}

	message := channel.buildMessage(alert)
	assert.Equal(t, "fleetwatch", message.Attachments[0].Fields[0].Value)
}

func TestChannels_NotConfigured(t *testing.T) {
	opts := testOptions(t)
	alert := testAlert(alerting.SeverityError)

	tests := []struct {
		name     string
		notifier alerting.Notifier
	}{
		{"slack", NewSlackChannel("", opts)},
		{"webhook", NewWebhookChannel("", nil, opts)},
		{"email", NewEmailChannel("", "token", nil, opts)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.notifier.Notify(context.Background(), alert)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "not configured")
			assert.True(t, errors.IsType(err, errors.ErrorTypeExternal))
		})
	}

	_, err := NewKafkaChannel(nil, "alerts", opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not configured")
}

func TestWebhookChannel_Notify(t *testing.T) {
	server, received := newCaptureServer(t, http.StatusAccepted)
	headers := map[string]string{"X-Api-Key": "secret"}
	channel := NewWebhookChannel(server.URL, headers, testOptions(t))

	// later changes to the caller's map do not leak in
	headers["X-Api-Key"] = "changed"

	err := channel.Notify(context.Background(), testAlert(alerting.SeverityCritical))
	require.NoError(t, err)

	assert.Equal(t, "secret", received.requests[0].Header.Get("X-Api-Key"))

	var payload struct {
		Alert     alerting.Alert `json:"alert"`
		Service   string         `json:"service"`
		Timestamp string         `json:"timestamp"`
	}
	received.decode(t, 0, &payload)
	assert.Equal(t, "gateway", payload.Service)
	assert.Equal(t, "2024-03-01T09:00:00Z", payload.Timestamp)
	assert.Equal(t, "high_error_rate-1709283600000000000", payload.Alert.ID)
	assert.Equal(t, alerting.SeverityCritical, payload.Alert.Severity)
}

func TestEmailChannel_Notify(t *testing.T) {
	server, received := newCaptureServer(t, http.StatusOK)
	channel := NewEmailChannel(server.URL+"/", "svc-token", []string{"oncall@example.com"}, testOptions(t))

	err := channel.Notify(context.Background(), testAlert(alerting.SeverityError))
	require.NoError(t, err)

	request := received.requests[0]
	assert.Equal(t, "/api/notifications/email", request.URL.Path)
	assert.Equal(t, "Bearer svc-token", request.Header.Get("Authorization"))

	var body EmailRequest
	received.decode(t, 0, &body)
	assert.Equal(t, []string{"oncall@example.com"}, body.To)
	assert.Equal(t, "[ERROR] high_error_rate - gateway", body.Subject)
	assert.Contains(t, body.HTML, "High error rate: 6.00% in gateway")
	assert.Contains(t, body.HTML, "gateway")
}

func TestEmailChannel_EmptyRecipients(t *testing.T) {
	server, received := newCaptureServer(t, http.StatusOK)
	channel := NewEmailChannel(server.URL, "", nil, testOptions(t))

	require.NoError(t, channel.Notify(context.Background(), testAlert(alerting.SeverityInfo)))

	var body map[string]interface{}
	received.decode(t, 0, &body)
	assert.Equal(t, []interface{}{}, body["to"])
}

func TestRemoteChannel_Non2xxIsError(t *testing.T) {
	server, _ := newCaptureServer(t, http.StatusInternalServerError)
	channel := NewWebhookChannel(server.URL, nil, testOptions(t))

	err := channel.Notify(context.Background(), testAlert(alerting.SeverityWarning))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "webhook returned status 500")
}

func TestRemoteChannel_RetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	opts := testOptions(t)
	opts.Retry.MaxAttempts = 3
	channel := NewSlackChannel(server.URL, opts)

	require.NoError(t, channel.Notify(context.Background(), testAlert(alerting.SeverityWarning)))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestRemoteChannel_ClientErrorsAreNotRetried(t *testing.T) {
	server, received := newCaptureServer(t, http.StatusBadRequest)

	opts := testOptions(t)
	opts.Retry.MaxAttempts = 3
	channel := NewSlackChannel(server.URL, opts)

	err := channel.Notify(context.Background(), testAlert(alerting.SeverityWarning))
	require.Error(t, err)
	assert.Equal(t, 1, received.count())
}

func TestRemoteChannel_BreakerOpensAfterFailures(t *testing.T) {
	server, received := newCaptureServer(t, http.StatusServiceUnavailable)

	opts := testOptions(t)
	opts.Breakers = resilience.NewRegistry(resilience.CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     time.Minute,
	})
	channel := NewWebhookChannel(server.URL, nil, opts)
	alert := testAlert(alerting.SeverityCritical)

	for i := 0; i < 2; i++ {
		err := channel.Notify(context.Background(), alert)
		require.Error(t, err)
		assert.False(t, resilience.IsCircuitOpenError(err))
	}

	err := channel.Notify(context.Background(), alert)
	require.Error(t, err)
	assert.True(t, resilience.IsCircuitOpenError(err))
	assert.Equal(t, 2, received.count())

	breaker, ok := opts.Breakers.Lookup("notify-webhook")
	require.True(t, ok)
	assert.Equal(t, resilience.StateOpen, breaker.State())
}

func TestConsoleChannel_LevelFollowsSeverity(t *testing.T) {
	tests := []struct {
		severity alerting.Severity
		level    zapcore.Level
	}{
		{alerting.SeverityInfo, zapcore.InfoLevel},
		{alerting.SeverityWarning, zapcore.WarnLevel},
		{alerting.SeverityError, zapcore.ErrorLevel},
		{alerting.SeverityCritical, zapcore.ErrorLevel},
	}

	for _, tt := range tests {
		t.Run(string(tt.severity), func(t *testing.T) {
			core, logs := observer.New(zapcore.DebugLevel)
			channel := NewConsoleChannel(zap.New(core))

			require.NoError(t, channel.Notify(context.Background(), testAlert(tt.severity)))

			entries := logs.All()
			require.Len(t, entries, 1)
			assert.Equal(t, tt.level, entries[0].Level)
			assert.Equal(t, "["+tt.severity.Upper()+"] High error rate: 6.00% in gateway", entries[0].Message)
			assert.Equal(t, "high_error_rate", entries[0].ContextMap()["rule_id"])
		})
	}
}

func TestConsoleChannel_NilLogger(t *testing.T) {
	channel := NewConsoleChannel(nil)
	assert.Equal(t, alerting.ChannelConsole, channel.Name())
	assert.NoError(t, channel.Notify(context.Background(), testAlert(alerting.SeverityInfo)))
}

type fakeWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaChannel_Notify(t *testing.T) {
	writer := &fakeWriter{}
	channel := NewKafkaChannelWithWriter("fleetwatch.alerts", writer, testOptions(t))
	assert.Equal(t, alerting.ChannelKafka, channel.Name())

	require.NoError(t, channel.Notify(context.Background(), testAlert(alerting.SeverityCritical)))

	require.Len(t, writer.messages, 1)
	message := writer.messages[0]
	assert.Equal(t, "high_error_rate", string(message.Key))
	assert.Equal(t, fixedNow, message.Time)

	var payload WebhookPayload
	require.NoError(t, json.Unmarshal(message.Value, &payload))
	assert.Equal(t, "gateway", payload.Service)
	assert.Equal(t, "high_error_rate-1709283600000000000", payload.Alert.ID)

	require.NoError(t, channel.Close())
	assert.True(t, writer.closed)
}

func TestKafkaChannel_PublishFailure(t *testing.T) {
	writer := &fakeWriter{err: assert.AnError}
	channel := NewKafkaChannelWithWriter("fleetwatch.alerts", writer, testOptions(t))

	err := channel.Notify(context.Background(), testAlert(alerting.SeverityCritical))
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestNewKafkaChannel_BuildsWriter(t *testing.T) {
	channel, err := NewKafkaChannel([]string{"localhost:9092"}, "fleetwatch.alerts", testOptions(t))
	require.NoError(t, err)

	writer, ok := channel.writer.(*kafka.Writer)
	require.True(t, ok)
	assert.Equal(t, "fleetwatch.alerts", writer.Topic)
	assert.NoError(t, channel.Close())
}
