package channels

import (
	"context"

	"go.uber.org/zap"

	"github.com/NikhilSetiya/fleetwatch/internal/notifications"
	"github.com/NikhilSetiya/fleetwatch/pkg/alerting"
)

const slackFooter = "Fleetwatch Monitoring"

// SlackChannel posts alerts to a Slack incoming webhook
type SlackChannel struct {
	webhookURL string
	opts       Options
}

// SlackMessage represents a Slack message payload
type SlackMessage struct {
	Text        string            `json:"text,omitempty"`
	Attachments []SlackAttachment `json:"attachments"`
}

// SlackAttachment represents a Slack message attachment
type SlackAttachment struct {
	Color     string       `json:"color"`
	Title     string       `json:"title"`
	Text      string       `json:"text"`
	Fields    []SlackField `json:"fields"`
	Footer    string       `json:"footer"`
	Timestamp int64        `json:"ts"`
}

// SlackField represents a field in a Slack attachment
type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// NewSlackChannel creates a Slack channel for the given webhook
func NewSlackChannel(webhookURL string, opts Options) *SlackChannel {
	return &SlackChannel{webhookURL: webhookURL, opts: opts.withDefaults()}
}

// Name implements alerting.Notifier
func (c *SlackChannel) Name() string {
	return alerting.ChannelSlack
}

// Notify implements alerting.Notifier
func (c *SlackChannel) Notify(ctx context.Context, alert *alerting.Alert) error {
	if c.webhookURL == "" {
		return notConfigured(alerting.ChannelSlack, "webhook URL")
	}

	if err := postJSON(ctx, c.opts, alerting.ChannelSlack, c.webhookURL, c.buildMessage(alert), nil); err != nil {
		return err
	}

	c.opts.Logger.Info("Successfully sent Slack notification",
		zap.String("alert_id", alert.ID),
		zap.String("webhook_url", maskURL(c.webhookURL)))
	return nil
}

func (c *SlackChannel) buildMessage(alert *alerting.Alert) SlackMessage {
	return SlackMessage{
		Attachments: []SlackAttachment{{
			Color: notifications.SeverityColor(alert.Severity),
			Title: severityEmoji(alert.Severity) + " " + upper(alert.Type),
			Text:  alert.Message,
			Fields: []SlackField{
				{Title: "Service", Value: c.opts.serviceOf(alert), Short: true},
				{Title: "Severity", Value: alert.Severity.Upper(), Short: true},
				{Title: "Time", Value: alert.Timestamp.UTC().Format(timeLayout), Short: true},
			},
			Footer:    slackFooter,
			Timestamp: alert.Timestamp.Unix(),
		}},
	}
}
