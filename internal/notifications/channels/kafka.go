package channels

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/NikhilSetiya/fleetwatch/pkg/alerting"
	"github.com/NikhilSetiya/fleetwatch/pkg/errors"
	"github.com/NikhilSetiya/fleetwatch/pkg/resilience"
)

// MessageWriter is the subset of *kafka.Writer used by the channel
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaChannel publishes alerts to a topic, keyed by rule id so one rule's
// alerts stay ordered within a partition
type KafkaChannel struct {
	topic  string
	writer MessageWriter
	opts   Options
}

// NewKafkaChannel creates a channel writing to brokers
func NewKafkaChannel(brokers []string, topic string, opts Options) (*KafkaChannel, error) {
	if len(brokers) == 0 {
		return nil, notConfigured(alerting.ChannelKafka, "brokers")
	}
	if topic == "" {
		return nil, notConfigured(alerting.ChannelKafka, "topic")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		RequiredAcks: kafka.RequireAll,
		Balancer:     &kafka.Hash{},
	}
	return NewKafkaChannelWithWriter(topic, writer, opts), nil
}

// NewKafkaChannelWithWriter creates a channel on an existing writer. The
// writer must already be bound to topic.
func NewKafkaChannelWithWriter(topic string, writer MessageWriter, opts Options) *KafkaChannel {
	return &KafkaChannel{topic: topic, writer: writer, opts: opts.withDefaults()}
}

// Name implements alerting.Notifier
func (c *KafkaChannel) Name() string {
	return alerting.ChannelKafka
}

// Notify implements alerting.Notifier
func (c *KafkaChannel) Notify(ctx context.Context, alert *alerting.Alert) error {
	value, err := json.Marshal(WebhookPayload{
		Alert:     alert,
		Service:   c.opts.serviceOf(alert),
		Timestamp: c.opts.Clock().UTC().Format(timeLayout),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal kafka message: %w", err)
	}

	message := kafka.Message{
		Key:   []byte(alert.RuleID),
		Value: value,
		Time:  c.opts.Clock().UTC(),
	}

	err = resilience.GuardedCall(ctx, c.opts.Breakers, BreakerName(alerting.ChannelKafka), c.opts.Retry, func(ctx context.Context) error {
		if err := c.writer.WriteMessages(ctx, message); err != nil {
			return errors.NewChannelError(alerting.ChannelKafka, "publish failed").WithCause(err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	c.opts.Logger.Info("Published alert to Kafka",
		zap.String("alert_id", alert.ID),
		zap.String("topic", c.topic))
	return nil
}

// Close flushes and closes the writer
func (c *KafkaChannel) Close() error {
	return c.writer.Close()
}
