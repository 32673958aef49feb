package worker

import (
	"context"
	"errors"
	"fmt"

	"reservation-service/internal/apperrors"
	"reservation-service/internal/broker"
	"reservation-service/internal/lock"
	"reservation-service/internal/models"
	"reservation-service/internal/service"
	"reservation-service/internal/util"

	"go.uber.org/zap"
)

// Triggers is the part of the reservation service driven by events.
type Triggers interface {
	ConfirmReservation(ctx context.Context, reservationID string) service.Result
	CheckInReservation(ctx context.Context, reservationID string) service.Result
	CompleteReservation(ctx context.Context, reservationID string) service.Result
	CancelReservation(ctx context.Context, reservationID, reason string) service.Result
	ProcessGuestPayment(ctx context.Context, reservationID string, data service.PaymentData) service.Result
}

// EventLog remembers which events have been handled.
type EventLog interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// Dispatcher turns inbound events into workflow runs, once per event id.
type Dispatcher struct {
	triggers Triggers
	events   EventLog
	logger   *zap.Logger
}

// NewDispatcher creates a new event dispatcher
func NewDispatcher(triggers Triggers, events EventLog) *Dispatcher {
	return &Dispatcher{
		triggers: triggers,
		events:   events,
		logger:   util.GetLogger(),
	}
}

// HandleCommand runs the workflow a reservation command asks for.
func (d *Dispatcher) HandleCommand(ctx context.Context, cmd *models.ReservationCommand) error {
	ctx, span := util.StartSpan(ctx, "Dispatcher.HandleCommand")
	defer span.End()

	return d.once(ctx, cmd.BaseEvent, func() service.Result {
		switch cmd.EventType {
		case models.EventTypeConfirmRequested:
			return d.triggers.ConfirmReservation(ctx, cmd.ReservationID)
		case models.EventTypeCheckInRequested:
			return d.triggers.CheckInReservation(ctx, cmd.ReservationID)
		case models.EventTypeCheckOutRequested:
			return d.triggers.CompleteReservation(ctx, cmd.ReservationID)
		case models.EventTypeCancelRequested:
			return d.triggers.CancelReservation(ctx, cmd.ReservationID, cmd.Reason)
		default:
			err := apperrors.InvalidArgument("unsupported command %s", cmd.EventType)
			return service.Result{Error: err.Error(), Code: apperrors.KindOf(err), Err: err}
		}
	}, zap.String("reservation_id", cmd.ReservationID))
}

// HandlePaymentCaptured records a payment captured by the gateway.
func (d *Dispatcher) HandlePaymentCaptured(ctx context.Context, event *models.PaymentCapturedEvent) error {
	ctx, span := util.StartSpan(ctx, "Dispatcher.HandlePaymentCaptured")
	defer span.End()

	return d.once(ctx, event.BaseEvent, func() service.Result {
		return d.triggers.ProcessGuestPayment(ctx, event.ReservationID, service.PaymentData{
			Amount:     event.Amount,
			Method:     event.Method,
			GatewayRef: event.GatewayRef,
		})
	}, zap.String("reservation_id", event.ReservationID), zap.Int64("amount", event.Amount))
}

// once runs fn unless the event was already handled. Business failures are
// final and marked processed; retryable failures are returned unmarked so the
// consumer redelivers the message.
func (d *Dispatcher) once(ctx context.Context, event models.BaseEvent, fn func() service.Result, fields ...zap.Field) error {
	fields = append(fields, zap.String("event_id", event.EventID), zap.String("event_type", event.EventType))

	processed, err := d.events.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return fmt.Errorf("failed to check event processed: %w", err)
	}
	if processed {
		d.logger.Info("Event already processed", fields...)
		return nil
	}

	res := fn()
	switch {
	case res.Success:
		d.logger.Info("Event handled", fields...)
	case retryable(res):
		d.logger.Error("Event handling failed, will retry", append(fields,
			zap.String("code", string(res.Code)), zap.Error(res.Err))...)
		return fmt.Errorf("failed to handle %s: %w", event.EventType, res.Err)
	default:
		d.logger.Warn("Event rejected", append(fields,
			zap.String("code", string(res.Code)),
			zap.String("failed_step", res.FailedStep),
			zap.String("error", res.Error))...)
	}

	if err := d.events.MarkEventProcessed(ctx, event.EventID, event.EventType); err != nil {
		d.logger.Error("Failed to mark event processed", append(fields, zap.Error(err))...)
	}
	return nil
}

// retryable reports whether a failed run may succeed on redelivery. Besides
// internal errors this covers conflicts from a busy lock or a stale version.
func retryable(res service.Result) bool {
	if res.Code == apperrors.KindInternal {
		return true
	}
	return errors.Is(res.Err, lock.ErrLockTimeout) || errors.Is(res.Err, apperrors.ErrStaleVersion)
}

// ReservationWorker consumes reservation commands.
type ReservationWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewReservationWorker creates a new reservation worker
func NewReservationWorker(consumer *broker.Consumer, dispatcher *Dispatcher) *ReservationWorker {
	eventHandler := broker.NewEventHandler()
	eventHandler.OnReservationCommand(dispatcher.HandleCommand)

	return &ReservationWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		logger:       util.GetLogger(),
	}
}

// Start starts the worker
func (w *ReservationWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting reservation worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *ReservationWorker) Stop() error {
	w.logger.Info("Stopping reservation worker")
	return w.consumer.Close()
}

// PaymentWorker consumes payment gateway events.
type PaymentWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewPaymentWorker creates a new payment worker
func NewPaymentWorker(consumer *broker.Consumer, dispatcher *Dispatcher) *PaymentWorker {
	eventHandler := broker.NewEventHandler()
	eventHandler.OnPaymentCaptured(dispatcher.HandlePaymentCaptured)

	return &PaymentWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		logger:       util.GetLogger(),
	}
}

// Start starts the payment worker
func (pw *PaymentWorker) Start(ctx context.Context) error {
	pw.logger.Info("Starting payment worker")
	return pw.consumer.StartConsuming(ctx, pw.eventHandler.HandleMessage)
}

// Stop stops the payment worker
func (pw *PaymentWorker) Stop() error {
	pw.logger.Info("Stopping payment worker")
	return pw.consumer.Close()
}
