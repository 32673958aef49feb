package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"reservation-service/internal/apperrors"
	"reservation-service/internal/broker"
	"reservation-service/internal/lock"
	"reservation-service/internal/models"
	"reservation-service/internal/saga"
	"reservation-service/internal/util"

	"go.uber.org/zap"
)

// Result is the uniform envelope every trigger returns.
type Result struct {
	Success       bool                       `json:"success"`
	ExecutionID   string                     `json:"execution_id,omitempty"`
	Data          interface{}                `json:"data,omitempty"`
	Error         string                     `json:"error,omitempty"`
	Code          apperrors.Kind             `json:"code,omitempty"`
	Message       string                     `json:"message"`
	FailedStep    string                     `json:"failed_step,omitempty"`
	Compensated   bool                       `json:"compensated,omitempty"`
	Compensations []saga.CompensationOutcome `json:"compensations,omitempty"`
	Err           error                      `json:"-"`
}

func okResult(message string, data interface{}) Result {
	return Result{Success: true, Data: data, Message: message}
}

func errorResult(message string, err error) Result {
	return Result{
		Error:   err.Error(),
		Code:    apperrors.KindOf(err),
		Message: message,
		Err:     err,
	}
}

func sagaResult[C any](res saga.Result[C], success, failure string) Result {
	if res.Success {
		out := okResult(success, res.Context)
		out.ExecutionID = res.ExecutionID
		return out
	}
	out := errorResult(failure, res.Err)
	out.ExecutionID = res.ExecutionID
	out.FailedStep = res.FailedStep
	out.Compensated = res.Compensated
	out.Compensations = res.Compensations
	return out
}

// CreateReservationRequest is the intake payload for a new PENDING reservation.
type CreateReservationRequest struct {
	PropertyID  string    `json:"property_id" binding:"required"`
	GuestID     string    `json:"guest_id" binding:"required"`
	CheckIn     time.Time `json:"check_in" binding:"required"`
	CheckOut    time.Time `json:"check_out" binding:"required"`
	TotalAmount int64     `json:"total_amount" binding:"required"`
	Currency    string    `json:"currency"`
}

// ReservationView is a reservation with its tasks and transactions.
type ReservationView struct {
	Reservation  *models.Reservation  `json:"reservation"`
	Tasks        []models.Task        `json:"tasks"`
	Transactions []models.Transaction `json:"transactions"`
}

// ReservationService is the trigger surface of the orchestration core. Every
// workflow run holds the reservation's lock for its whole duration.
type ReservationService struct {
	store     LedgerStore
	executor  *saga.Executor
	payments  *PaymentProcessor
	locker    lock.Locker
	publisher EventPublisher
	currency  string
	logger    *zap.Logger
}

// NewReservationService creates a new reservation service. publisher may be nil.
func NewReservationService(
	store LedgerStore,
	executor *saga.Executor,
	payments *PaymentProcessor,
	locker lock.Locker,
	publisher EventPublisher,
	currency string,
) *ReservationService {
	return &ReservationService{
		store:     store,
		executor:  executor,
		payments:  payments,
		locker:    locker,
		publisher: publisher,
		currency:  currency,
		logger:    util.GetLogger(),
	}
}

// CreateReservation stores a new PENDING, UNPAID reservation.
func (s *ReservationService) CreateReservation(ctx context.Context, req *CreateReservationRequest) Result {
	ctx, span := util.StartSpan(ctx, "ReservationService.CreateReservation")
	defer span.End()

	const failure = "Failed to create reservation"
	if !req.CheckOut.After(req.CheckIn) {
		return errorResult(failure, apperrors.InvalidArgument("check_out must be after check_in"))
	}
	if req.TotalAmount < 0 {
		return errorResult(failure, apperrors.InvalidArgument("total_amount must not be negative"))
	}
	if _, err := s.store.FindProperty(ctx, req.PropertyID); err != nil {
		return errorResult(failure, err)
	}

	currency := req.Currency
	if currency == "" {
		currency = s.currency
	}
	r := &models.Reservation{
		PropertyID:         req.PropertyID,
		GuestID:            req.GuestID,
		CheckIn:            req.CheckIn.UTC(),
		CheckOut:           req.CheckOut.UTC(),
		TotalAmount:        req.TotalAmount,
		OutstandingBalance: req.TotalAmount,
		Currency:           currency,
		Status:             models.ReservationStatusPending,
		PaymentStatus:      models.PaymentStatusUnpaid,
	}
	if err := s.store.CreateReservation(ctx, r); err != nil {
		util.RecordError(span, err)
		return errorResult(failure, fmt.Errorf("failed to create reservation: %w", err))
	}

	s.logger.Info("Reservation created",
		zap.String("reservation_id", r.ID),
		zap.String("property_id", r.PropertyID),
		zap.Int64("total_amount", r.TotalAmount))
	return okResult("Reservation created", r)
}

// GetReservation returns a reservation with its tasks and transactions.
func (s *ReservationService) GetReservation(ctx context.Context, id string) (*ReservationView, error) {
	ctx, span := util.StartSpan(ctx, "ReservationService.GetReservation")
	defer span.End()

	r, err := s.store.FindReservation(ctx, id)
	if err != nil {
		return nil, err
	}
	tasks, err := s.store.ListTasks(ctx, models.TaskFilter{ReservationID: id})
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	txs, err := s.store.ListTransactions(ctx, models.TransactionFilter{ReservationID: id})
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return &ReservationView{Reservation: r, Tasks: tasks, Transactions: txs}, nil
}

// ExecutionSteps returns the step journal of one saga execution.
func (s *ReservationService) ExecutionSteps(ctx context.Context, executionID string) ([]models.StepRecord, error) {
	ctx, span := util.StartSpan(ctx, "ReservationService.ExecutionSteps")
	defer span.End()

	steps, err := s.store.ListSteps(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list steps: %w", err)
	}
	if len(steps) == 0 {
		return nil, apperrors.NotFound("execution", executionID)
	}
	return steps, nil
}

// CalculateDistribution previews the split of amount with the configured percentages.
func (s *ReservationService) CalculateDistribution(amount int64) models.Distribution {
	return CalculateIncomeDistribution(amount, s.payments.Settings())
}

// ConfirmReservation runs confirmReservation.
func (s *ReservationService) ConfirmReservation(ctx context.Context, reservationID string) Result {
	ctx, span := util.StartSpan(ctx, "ReservationService.ConfirmReservation")
	defer span.End()

	const failure = "Failed to confirm reservation"
	var res saga.Result[ConfirmContext]
	if err := s.withLock(ctx, reservationID, func(ctx context.Context) {
		res = saga.Execute(ctx, s.executor, SagaConfirmReservation, ConfirmContext{ReservationID: reservationID})
	}); err != nil {
		return errorResult(failure, err)
	}

	if res.Success {
		util.ReservationsConfirmedTotal.Inc()
		s.publishStatus(ctx, models.EventTypeReservationConfirmed, res.Context.Reservation, 0)
	}
	return sagaResult(res, "Reservation confirmed", failure)
}

// CheckInReservation runs checkInReservation.
func (s *ReservationService) CheckInReservation(ctx context.Context, reservationID string) Result {
	ctx, span := util.StartSpan(ctx, "ReservationService.CheckInReservation")
	defer span.End()

	const failure = "Failed to check in reservation"
	var res saga.Result[CheckInContext]
	if err := s.withLock(ctx, reservationID, func(ctx context.Context) {
		res = saga.Execute(ctx, s.executor, SagaCheckInReservation, CheckInContext{ReservationID: reservationID})
	}); err != nil {
		return errorResult(failure, err)
	}

	if res.Success {
		util.ReservationsCheckedInTotal.Inc()
		s.publishStatus(ctx, models.EventTypeReservationCheckedIn, res.Context.Reservation, 0)
	} else if res.Context.Reservation != nil && res.Context.Reservation.Status == models.ReservationStatusCheckedIn {
		s.logger.Error("Check-in failed after status change; reservation stays CHECKED_IN",
			zap.String("reservation_id", reservationID),
			zap.String("failed_step", res.FailedStep),
			zap.Error(res.Err))
	}
	return sagaResult(res, "Reservation checked in", failure)
}

// CancelReservation runs cancelReservation.
func (s *ReservationService) CancelReservation(ctx context.Context, reservationID, reason string) Result {
	ctx, span := util.StartSpan(ctx, "ReservationService.CancelReservation")
	defer span.End()

	const failure = "Failed to cancel reservation"
	var res saga.Result[CancelContext]
	if err := s.withLock(ctx, reservationID, func(ctx context.Context) {
		res = saga.Execute(ctx, s.executor, SagaCancelReservation, CancelContext{ReservationID: reservationID, Reason: reason})
	}); err != nil {
		return errorResult(failure, err)
	}

	if res.Success {
		util.ReservationsCancelledTotal.Inc()
		util.RefundAmountTotal.Add(float64(res.Context.Refund.Amount))
		s.publishStatus(ctx, models.EventTypeReservationCancelled, res.Context.Reservation, res.Context.Refund.Amount)
	}
	return sagaResult(res, "Reservation cancelled", failure)
}

// CompleteReservation runs completeReservation.
func (s *ReservationService) CompleteReservation(ctx context.Context, reservationID string) Result {
	ctx, span := util.StartSpan(ctx, "ReservationService.CompleteReservation")
	defer span.End()

	const failure = "Failed to complete reservation"
	var res saga.Result[CompleteContext]
	if err := s.withLock(ctx, reservationID, func(ctx context.Context) {
		res = saga.Execute(ctx, s.executor, SagaCompleteReservation, CompleteContext{ReservationID: reservationID})
	}); err != nil {
		return errorResult(failure, err)
	}

	if res.Success {
		util.ReservationsCompletedTotal.Inc()
		s.publishStatus(ctx, models.EventTypeReservationCompleted, res.Context.Reservation, 0)
	}
	return sagaResult(res, "Reservation completed", failure)
}

// ProcessGuestPayment runs processGuestPayment.
func (s *ReservationService) ProcessGuestPayment(ctx context.Context, reservationID string, data PaymentData) Result {
	ctx, span := util.StartSpan(ctx, "ReservationService.ProcessGuestPayment")
	defer span.End()

	const failure = "Failed to process payment"
	var res saga.Result[PaymentContext]
	if err := s.withLock(ctx, reservationID, func(ctx context.Context) {
		res = saga.Execute(ctx, s.executor, SagaProcessGuestPayment, PaymentContext{ReservationID: reservationID, Payment: data})
	}); err != nil {
		return errorResult(failure, err)
	}

	if !res.Success {
		util.GuestPaymentsTotal.WithLabelValues("failed").Inc()
		return sagaResult(res, "", failure)
	}

	pc := res.Context
	util.GuestPaymentsTotal.WithLabelValues(string(pc.Reservation.PaymentStatus)).Inc()
	s.publishPayment(ctx, models.EventTypeGuestPaymentRecorded, pc.Transaction, nil)
	if pc.OwnerPayout != nil {
		util.PayoutsScheduledTotal.Inc()
		s.publishPayment(ctx, models.EventTypeOwnerPayoutScheduled, pc.OwnerPayout, pc.Distribution)
	}
	return sagaResult(res, "Payment recorded", failure)
}

// ProcessOwnerPayout completes a pending owner payout.
func (s *ReservationService) ProcessOwnerPayout(ctx context.Context, transactionID string, data PayoutData) Result {
	ctx, span := util.StartSpan(ctx, "ReservationService.ProcessOwnerPayout")
	defer span.End()

	const failure = "Failed to process owner payout"
	tx, err := s.store.FindTransaction(ctx, transactionID)
	if err != nil {
		return errorResult(failure, err)
	}

	var updated *models.Transaction
	if lockErr := s.withLock(ctx, tx.ReservationID, func(ctx context.Context) {
		updated, err = s.payments.ProcessOwnerPayout(ctx, transactionID, data)
	}); lockErr != nil {
		return errorResult(failure, lockErr)
	}
	if err != nil {
		return errorResult(failure, err)
	}

	s.publishPayment(ctx, models.EventTypeOwnerPayoutCompleted, updated, updated.Metadata.Distribution)
	return okResult("Owner payout completed", updated)
}

// withLock runs fn while holding the reservation's lock.
func (s *ReservationService) withLock(ctx context.Context, reservationID string, fn func(context.Context)) error {
	unlock, err := s.locker.Lock(ctx, "reservation:"+reservationID)
	if err != nil {
		s.logger.Warn("Failed to lock reservation", zap.String("reservation_id", reservationID), zap.Error(err))
		if errors.Is(err, lock.ErrLockTimeout) {
			return apperrors.Wrap(apperrors.KindConflict, err, "reservation %s is busy", reservationID)
		}
		return fmt.Errorf("failed to lock reservation %s: %w", reservationID, err)
	}
	defer unlock()

	fn(ctx)
	return nil
}

func (s *ReservationService) publishStatus(ctx context.Context, eventType string, r *models.Reservation, refund int64) {
	if s.publisher == nil || r == nil {
		return
	}
	event := &models.ReservationEvent{
		BaseEvent:     broker.NewBaseEvent(eventType),
		ReservationID: r.ID,
		PropertyID:    r.PropertyID,
		GuestID:       r.GuestID,
		Status:        r.Status,
		RefundAmount:  refund,
	}
	if err := s.publisher.PublishReservationEvent(ctx, event); err != nil {
		s.logger.Error("Failed to publish reservation event",
			zap.String("event_type", eventType),
			zap.String("reservation_id", r.ID),
			zap.Error(err))
	}
}

func (s *ReservationService) publishPayment(ctx context.Context, eventType string, tx *models.Transaction, dist *models.Distribution) {
	if s.publisher == nil || tx == nil {
		return
	}
	event := &models.PaymentEvent{
		BaseEvent:     broker.NewBaseEvent(eventType),
		ReservationID: tx.ReservationID,
		TransactionID: tx.ID,
		Amount:        tx.Amount,
		Currency:      tx.Currency,
		Distribution:  dist,
	}
	if err := s.publisher.PublishPaymentEvent(ctx, event); err != nil {
		s.logger.Error("Failed to publish payment event",
			zap.String("event_type", eventType),
			zap.String("transaction_id", tx.ID),
			zap.Error(err))
	}
}
