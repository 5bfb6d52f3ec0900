package channels

import (
	"context"

	"go.uber.org/zap"

	"github.com/NikhilSetiya/fleetwatch/pkg/alerting"
)

// WebhookPayload is the body posted to generic webhooks
type WebhookPayload struct {
	Alert     *alerting.Alert `json:"alert"`
	Service   string          `json:"service"`
	Timestamp string          `json:"timestamp"`
}

// WebhookChannel posts the alert JSON to an arbitrary endpoint
type WebhookChannel struct {
	url     string
	headers map[string]string
	opts    Options
}

// NewWebhookChannel creates a webhook channel. headers are added to every
// request and may override Content-Type.
func NewWebhookChannel(url string, headers map[string]string, opts Options) *WebhookChannel {
	copied := make(map[string]string, len(headers))
	for k, v := range headers {
		copied[k] = v
	}
	return &WebhookChannel{url: url, headers: copied, opts: opts.withDefaults()}
}

// Name implements alerting.Notifier
func (c *WebhookChannel) Name() string {
	return alerting.ChannelWebhook
}

// Notify implements alerting.Notifier
func (c *WebhookChannel) Notify(ctx context.Context, alert *alerting.Alert) error {
	if c.url == "" {
		return notConfigured(alerting.ChannelWebhook, "URL")
	}

	payload := WebhookPayload{
		Alert:     alert,
		Service:   c.opts.serviceOf(alert),
		Timestamp: c.opts.Clock().UTC().Format(timeLayout),
	}

	if err := postJSON(ctx, c.opts, alerting.ChannelWebhook, c.url, payload, c.headers); err != nil {
		return err
	}

	c.opts.Logger.Info("Successfully sent webhook notification",
		zap.String("alert_id", alert.ID),
		zap.String("url", maskURL(c.url)))
	return nil
}
