package channels

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/NikhilSetiya/fleetwatch/internal/notifications"
	"github.com/NikhilSetiya/fleetwatch/pkg/alerting"
)

const emailPath = "/api/notifications/email"

// EmailRequest is the body accepted by the notification service
type EmailRequest struct {
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

// EmailChannel hands alerts to the notification service, which owns SMTP
type EmailChannel struct {
	serviceURL   string
	serviceToken string
	recipients   []string
	templates    *notifications.TemplateManager
	opts         Options
}

// NewEmailChannel creates an email channel backed by the notification service
func NewEmailChannel(serviceURL, serviceToken string, recipients []string, opts Options) *EmailChannel {
	return &EmailChannel{
		serviceURL:   strings.TrimRight(serviceURL, "/"),
		serviceToken: serviceToken,
		recipients:   append([]string(nil), recipients...),
		templates:    notifications.NewTemplateManager(),
		opts:         opts.withDefaults(),
	}
}

// Name implements alerting.Notifier
func (c *EmailChannel) Name() string {
	return alerting.ChannelEmail
}

// Notify implements alerting.Notifier
func (c *EmailChannel) Notify(ctx context.Context, alert *alerting.Alert) error {
	if c.serviceURL == "" {
		return notConfigured(alerting.ChannelEmail, "notification service URL")
	}

	message, err := c.templates.RenderAlert(alert, c.opts.serviceOf(alert), notifications.FormatHTML)
	if err != nil {
		return fmt.Errorf("failed to render email: %w", err)
	}

	request := EmailRequest{
		To:      c.recipients,
		Subject: message.Subject,
		HTML:    message.Body,
	}
	if request.To == nil {
		request.To = []string{}
	}

	headers := map[string]string{"Authorization": "Bearer " + c.serviceToken}
	if err := postJSON(ctx, c.opts, alerting.ChannelEmail, c.serviceURL+emailPath, request, headers); err != nil {
		return err
	}

	c.opts.Logger.Info("Successfully sent email notification",
		zap.String("alert_id", alert.ID),
		zap.Strings("to", c.recipients))
	return nil
}
