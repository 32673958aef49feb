package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"reservation-service/internal/models"
	"reservation-service/internal/util"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer Publisher
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer Publisher) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// NewBaseEvent stamps a fresh event id and time.
func NewBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.NewString(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
	}
}

// PublishReservationEvent publishes a reservation status change
func (ep *EventPublisher) PublishReservationEvent(ctx context.Context, event *models.ReservationEvent) error {
	return ep.producer.PublishEvent(ctx, reservationKey(event.ReservationID), event)
}

// PublishPaymentEvent publishes a guest payment or owner payout event
func (ep *EventPublisher) PublishPaymentEvent(ctx context.Context, event *models.PaymentEvent) error {
	return ep.producer.PublishEvent(ctx, reservationKey(event.ReservationID), event)
}

// PublishNotification publishes a notification for downstream delivery
func (ep *EventPublisher) PublishNotification(ctx context.Context, event *models.NotificationEvent) error {
	return ep.producer.PublishEvent(ctx, "notification-"+event.Recipient, event)
}

func reservationKey(id string) string {
	return fmt.Sprintf("reservation-%s", id)
}

// EventHandler handles incoming events
type EventHandler struct {
	onCommand         func(context.Context, *models.ReservationCommand) error
	onPaymentCaptured func(context.Context, *models.PaymentCapturedEvent) error
	logger            *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnReservationCommand registers a handler for confirm/check-in/check-out/cancel requests
func (eh *EventHandler) OnReservationCommand(handler func(context.Context, *models.ReservationCommand) error) {
	eh.onCommand = handler
}

// OnPaymentCaptured registers a handler for gateway payment captures
func (eh *EventHandler) OnPaymentCaptured(handler func(context.Context, *models.PaymentCapturedEvent) error) {
	eh.onPaymentCaptured = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	eh.logger.Debug("Handling event",
		zap.String("event_type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeConfirmRequested, models.EventTypeCheckInRequested,
		models.EventTypeCheckOutRequested, models.EventTypeCancelRequested:
		if eh.onCommand != nil {
			var event models.ReservationCommand
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal reservation command: %w", err)
			}
			return eh.onCommand(ctx, &event)
		}

	case models.EventTypePaymentCaptured:
		if eh.onPaymentCaptured != nil {
			var event models.PaymentCapturedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal PaymentCaptured event: %w", err)
			}
			return eh.onPaymentCaptured(ctx, &event)
		}

	default:
		eh.logger.Warn("Unhandled event type", zap.String("event_type", baseEvent.EventType))
	}

	return nil
}
