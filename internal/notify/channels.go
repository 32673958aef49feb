package notify

import (
	"context"

	"reservation-service/internal/broker"
	"reservation-service/internal/models"

	"go.uber.org/zap"
)

// LogChannel writes notifications to the structured log.
type LogChannel struct {
	logger *zap.Logger
}

func NewLogChannel(logger *zap.Logger) *LogChannel {
	return &LogChannel{logger: logger}
}

func (c *LogChannel) Name() string { return "log" }

func (c *LogChannel) Send(_ context.Context, n Notification) error {
	fields := []zap.Field{
		zap.String("kind", n.Kind),
		zap.String("recipient", n.Recipient.UserID),
	}
	for k, v := range n.Data {
		fields = append(fields, zap.String("data."+k, v))
	}
	c.logger.Info("Notification", fields...)
	return nil
}

// KafkaChannel hands notifications to downstream delivery services.
type KafkaChannel struct {
	publisher *broker.EventPublisher
}

func NewKafkaChannel(publisher *broker.EventPublisher) *KafkaChannel {
	return &KafkaChannel{publisher: publisher}
}

func (c *KafkaChannel) Name() string { return "kafka" }

func (c *KafkaChannel) Send(ctx context.Context, n Notification) error {
	return c.publisher.PublishNotification(ctx, &models.NotificationEvent{
		BaseEvent: broker.NewBaseEvent(models.EventTypeNotification),
		Kind:      n.Kind,
		Recipient: n.Recipient.UserID,
		Data:      n.Data,
	})
}
