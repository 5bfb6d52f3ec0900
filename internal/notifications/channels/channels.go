// Package channels delivers fired alerts to Slack, generic webhooks, the
// email notification service, Kafka and the process log.
package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/NikhilSetiya/fleetwatch/pkg/alerting"
	"github.com/NikhilSetiya/fleetwatch/pkg/errors"
	"github.com/NikhilSetiya/fleetwatch/pkg/resilience"
)

const maxResponseDrain = 64 << 10

// Options is shared by every remote channel
type Options struct {
	Logger      *zap.Logger
	HTTPClient  *http.Client
	Breakers    *resilience.CircuitBreakerRegistry
	Retry       resilience.RetryConfig
	ServiceName string
	Clock       func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if o.Breakers == nil {
		o.Breakers = resilience.NewRegistry(resilience.CircuitBreakerConfig{})
	}
	if o.Retry.MaxAttempts <= 0 {
		o.Retry = resilience.DefaultRetryConfig()
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}

// BreakerName is the registry name guarding deliveries to a channel
func BreakerName(channel string) string {
	return "notify-" + channel
}

// serviceOf prefers the service recorded on the alert over the configured one
func (o Options) serviceOf(alert *alerting.Alert) string {
	if name := alert.Context.StringValue("serviceName"); name != "" {
		return name
	}
	return o.ServiceName
}

func notConfigured(channel, setting string) error {
	return errors.NewChannelError(channel, fmt.Sprintf("%s %s not configured", channel, setting))
}

// postJSON sends payload through the channel breaker and retrier. 4xx answers
// are not retried.
func postJSON(ctx context.Context, opts Options, channel, url string, payload interface{}, headers map[string]string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", channel, err)
	}

	return resilience.GuardedCall(ctx, opts.Breakers, BreakerName(channel), opts.Retry, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return errors.NewValidationError(fmt.Sprintf("failed to create %s request: %v", channel, err))
		}

		req.Header.Set("Content-Type", "application/json")
		for key, value := range headers {
			req.Header.Set(key, value)
		}

		resp, err := opts.HTTPClient.Do(req)
		if err != nil {
			return errors.NewChannelError(channel, "request failed").WithCause(err)
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseDrain))

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			return errors.NewChannelRejectedError(channel, resp.StatusCode)
		default:
			return errors.NewChannelError(channel, fmt.Sprintf("%s returned status %d", channel, resp.StatusCode))
		}
	})
}

// maskURL masks a webhook URL for logging
func maskURL(url string) string {
	if len(url) < 20 {
		return "***"
	}
	return url[:20] + "***"
}
