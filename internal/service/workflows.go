package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"reservation-service/internal/apperrors"
	"reservation-service/internal/models"
	"reservation-service/internal/notify"
	"reservation-service/internal/saga"
	"reservation-service/internal/util"

	"go.uber.org/zap"
)

// Saga names.
const (
	SagaConfirmReservation  = "confirmReservation"
	SagaCheckInReservation  = "checkInReservation"
	SagaCancelReservation   = "cancelReservation"
	SagaCompleteReservation = "completeReservation"
)

// blockingStatuses are the states that hold a property for their dates.
var blockingStatuses = []models.ReservationStatus{
	models.ReservationStatusConfirmed,
	models.ReservationStatusCheckedIn,
}

// ConfirmContext flows through confirmReservation.
type ConfirmContext struct {
	ReservationID      string              `json:"reservation_id"`
	Reservation        *models.Reservation `json:"reservation,omitempty"`
	Property           *models.Property    `json:"-"`
	Guest              *models.User        `json:"-"`
	CleaningTask       *models.Task        `json:"cleaning_task,omitempty"`
	CheckInTask        *models.Task        `json:"check_in_task,omitempty"`
	PaymentTransaction *models.Transaction `json:"payment_transaction,omitempty"`
	Notification       *notify.Receipt     `json:"notification,omitempty"`
}

// CheckInContext flows through checkInReservation.
type CheckInContext struct {
	ReservationID string              `json:"reservation_id"`
	Reservation   *models.Reservation `json:"reservation,omitempty"`
	Property      *models.Property    `json:"-"`
	Guest         *models.User        `json:"-"`
	CheckOutTask  *models.Task        `json:"check_out_task,omitempty"`
	CleaningTask  *models.Task        `json:"cleaning_task,omitempty"`
	Notification  *notify.Receipt     `json:"notification,omitempty"`
}

// CancelContext flows through cancelReservation.
type CancelContext struct {
	ReservationID     string              `json:"reservation_id"`
	Reason            string              `json:"reason,omitempty"`
	Reservation       *models.Reservation `json:"reservation,omitempty"`
	Property          *models.Property    `json:"-"`
	Guest             *models.User        `json:"-"`
	CancelledTasks    int64               `json:"cancelled_tasks"`
	Refund            Refund              `json:"refund"`
	RefundTransaction *models.Transaction `json:"refund_transaction,omitempty"`
	Notification      *notify.Receipt     `json:"notification,omitempty"`
}

// CompleteContext flows through completeReservation.
type CompleteContext struct {
	ReservationID  string              `json:"reservation_id"`
	Reservation    *models.Reservation `json:"reservation,omitempty"`
	Property       *models.Property    `json:"-"`
	Guest          *models.User        `json:"-"`
	CompletedTasks int                 `json:"completed_tasks"`
	InspectionTask *models.Task        `json:"inspection_task,omitempty"`
	Notification   *notify.Receipt     `json:"notification,omitempty"`
}

// Workflows defines the reservation lifecycle sagas.
type Workflows struct {
	store    LedgerStore
	tasks    *TaskFactory
	notifier Notifier
	currency string
	now      func() time.Time
	logger   *zap.Logger
}

// NewWorkflows creates the reservation lifecycle workflows
func NewWorkflows(store LedgerStore, tasks *TaskFactory, notifier Notifier, currency string) *Workflows {
	return &Workflows{
		store:    store,
		tasks:    tasks,
		notifier: notifier,
		currency: currency,
		now:      time.Now,
		logger:   util.GetLogger(),
	}
}

// SetClock overrides the time source used by the refund policy.
func (w *Workflows) SetClock(now func() time.Time) {
	w.now = now
}

// BuildRegistry registers every workflow and the guest payment saga, then seals the registry.
func BuildRegistry(w *Workflows, p *PaymentProcessor) (*saga.Registry, error) {
	reg := saga.NewRegistry()
	defs := []saga.Named{
		w.ConfirmSaga(),
		w.CheckInSaga(),
		w.CancelSaga(),
		w.CompleteSaga(),
		p.GuestPaymentSaga(),
	}
	for _, def := range defs {
		if err := reg.Register(def); err != nil {
			return nil, fmt.Errorf("failed to register saga %s: %w", def.SagaName(), err)
		}
	}
	reg.Seal()
	return reg, nil
}

// ConfirmSaga defines confirmReservation.
func (w *Workflows) ConfirmSaga() *saga.Definition[ConfirmContext] {
	return saga.Define(SagaConfirmReservation,
		saga.Step[ConfirmContext]{Name: "validate", Execute: w.validateConfirm},
		saga.Step[ConfirmContext]{
			Name: "setStatusConfirmed",
			Execute: func(ctx context.Context, sc *ConfirmContext) error {
				return w.transition(ctx, &sc.Reservation, models.ReservationStatusConfirmed)
			},
			Compensate: func(ctx context.Context, sc *ConfirmContext) error {
				return w.transition(ctx, &sc.Reservation, models.ReservationStatusPending)
			},
		},
		saga.Step[ConfirmContext]{
			Name: "createCleaningTask",
			Execute: func(ctx context.Context, sc *ConfirmContext) error {
				return w.createTask(ctx, &sc.CleaningTask, TemplatePreArrivalCleaning, sc.Reservation, sc.Property, sc.Guest)
			},
			Compensate: func(ctx context.Context, sc *ConfirmContext) error {
				return w.deleteTask(ctx, sc.CleaningTask)
			},
		},
		saga.Step[ConfirmContext]{
			Name: "createCheckInTask",
			Execute: func(ctx context.Context, sc *ConfirmContext) error {
				return w.createTask(ctx, &sc.CheckInTask, TemplateCheckIn, sc.Reservation, sc.Property, sc.Guest)
			},
			Compensate: func(ctx context.Context, sc *ConfirmContext) error {
				return w.deleteTask(ctx, sc.CheckInTask)
			},
		},
		saga.Step[ConfirmContext]{
			Name:       "createGuestPaymentTransaction",
			Execute:    w.createReceivable,
			Compensate: w.cancelReceivable,
		},
		saga.Step[ConfirmContext]{
			Name: "sendConfirmationNotification",
			Execute: func(ctx context.Context, sc *ConfirmContext) error {
				sc.Notification = w.notify(ctx, notify.KindReservationConfirmed, sc.Reservation, sc.Property, sc.Guest, nil)
				return nil
			},
		},
	)
}

func (w *Workflows) validateConfirm(ctx context.Context, sc *ConfirmContext) error {
	r, err := w.loadReservation(ctx, sc.ReservationID, models.ReservationStatusPending)
	if err != nil {
		return err
	}

	overlaps, err := w.store.FindOverlappingReservations(ctx, r.PropertyID, r.CheckIn, r.CheckOut, r.ID, blockingStatuses)
	if err != nil {
		return fmt.Errorf("failed to check overlapping reservations: %w", err)
	}
	if len(overlaps) > 0 {
		return apperrors.Conflict("reservation %s overlaps reservation %s on property %s",
			r.ID, overlaps[0].ID, r.PropertyID)
	}

	sc.Reservation = r
	sc.Property, sc.Guest, err = w.loadParties(ctx, r)
	return err
}

func (w *Workflows) createReceivable(ctx context.Context, sc *ConfirmContext) error {
	r := sc.Reservation
	tx := &models.Transaction{
		UserID:        r.GuestID,
		PropertyID:    r.PropertyID,
		ReservationID: r.ID,
		Type:          models.TransactionTypeGuestPayment,
		Amount:        r.TotalAmount,
		Currency:      w.currencyOf(r),
		Status:        models.TransactionStatusPending,
	}
	if err := w.store.CreateTransaction(ctx, tx); err != nil {
		return fmt.Errorf("failed to create guest payment transaction: %w", err)
	}
	sc.PaymentTransaction = tx
	return nil
}

func (w *Workflows) cancelReceivable(ctx context.Context, sc *ConfirmContext) error {
	if sc.PaymentTransaction == nil {
		return nil
	}
	cancelled := models.TransactionStatusCancelled
	if _, err := w.store.UpdateTransaction(ctx, sc.PaymentTransaction.ID, models.TransactionPatch{Status: &cancelled}); err != nil {
		return fmt.Errorf("failed to cancel guest payment transaction: %w", err)
	}
	return nil
}

// CheckInSaga defines checkInReservation. It has no compensations: a
// failure after the status change leaves the reservation CHECKED_IN.
func (w *Workflows) CheckInSaga() *saga.Definition[CheckInContext] {
	return saga.Define(SagaCheckInReservation,
		saga.Step[CheckInContext]{
			Name: "validate",
			Execute: func(ctx context.Context, sc *CheckInContext) error {
				r, err := w.loadReservation(ctx, sc.ReservationID, models.ReservationStatusConfirmed)
				if err != nil {
					return err
				}
				sc.Reservation = r
				sc.Property, sc.Guest, err = w.loadParties(ctx, r)
				return err
			},
		},
		saga.Step[CheckInContext]{
			Name: "setStatusCheckedIn",
			Execute: func(ctx context.Context, sc *CheckInContext) error {
				return w.transition(ctx, &sc.Reservation, models.ReservationStatusCheckedIn)
			},
		},
		saga.Step[CheckInContext]{
			Name: "createCheckOutTask",
			Execute: func(ctx context.Context, sc *CheckInContext) error {
				return w.createTask(ctx, &sc.CheckOutTask, TemplateCheckOut, sc.Reservation, sc.Property, sc.Guest)
			},
		},
		saga.Step[CheckInContext]{
			Name: "createPostCheckoutCleaningTask",
			Execute: func(ctx context.Context, sc *CheckInContext) error {
				return w.createTask(ctx, &sc.CleaningTask, TemplatePostCheckoutCleaning, sc.Reservation, sc.Property, sc.Guest)
			},
		},
		saga.Step[CheckInContext]{
			Name: "sendCheckInNotification",
			Execute: func(ctx context.Context, sc *CheckInContext) error {
				sc.Notification = w.notify(ctx, notify.KindReservationCheckedIn, sc.Reservation, sc.Property, sc.Guest, nil)
				return nil
			},
		},
	)
}

// CancelSaga defines cancelReservation.
func (w *Workflows) CancelSaga() *saga.Definition[CancelContext] {
	return saga.Define(SagaCancelReservation,
		saga.Step[CancelContext]{Name: "validate", Execute: w.validateCancel},
		saga.Step[CancelContext]{Name: "cancelOpenTasks", Execute: w.cancelOpenTasks},
		saga.Step[CancelContext]{Name: "createRefund", Execute: w.createRefund, Compensate: w.voidRefund},
		saga.Step[CancelContext]{
			Name: "setStatusCancelled",
			Execute: func(ctx context.Context, sc *CancelContext) error {
				return w.transition(ctx, &sc.Reservation, models.ReservationStatusCancelled)
			},
		},
		saga.Step[CancelContext]{
			Name: "sendCancellationNotification",
			Execute: func(ctx context.Context, sc *CancelContext) error {
				sc.Notification = w.notify(ctx, notify.KindReservationCancelled, sc.Reservation, sc.Property, sc.Guest, map[string]string{
					"refundAmount": strconv.FormatInt(sc.Refund.Amount, 10),
				})
				return nil
			},
		},
	)
}

func (w *Workflows) validateCancel(ctx context.Context, sc *CancelContext) error {
	r, err := w.store.FindReservation(ctx, sc.ReservationID)
	if err != nil {
		return err
	}
	if r.Status == models.ReservationStatusCancelled {
		return apperrors.InvalidState("reservation %s is already %s", r.ID, r.Status)
	}
	sc.Reservation = r
	sc.Property, sc.Guest, err = w.loadParties(ctx, r)
	return err
}

func (w *Workflows) cancelOpenTasks(ctx context.Context, sc *CancelContext) error {
	n, err := w.store.BulkCancelTasks(ctx, sc.Reservation.ID, []models.TaskStatus{
		models.TaskStatusPending,
		models.TaskStatusInProgress,
	})
	if err != nil {
		return fmt.Errorf("failed to cancel tasks: %w", err)
	}
	sc.CancelledTasks = n
	return nil
}

func (w *Workflows) createRefund(ctx context.Context, sc *CancelContext) error {
	r := sc.Reservation
	sc.Refund = CalculateRefund(r.TotalAmount, r.CheckIn, w.now())
	if sc.Refund.Amount <= 0 {
		return nil
	}

	reason := sc.Reason
	if reason == "" {
		reason = "reservation cancelled"
	}
	tx := &models.Transaction{
		UserID:        r.GuestID,
		PropertyID:    r.PropertyID,
		ReservationID: r.ID,
		Type:          models.TransactionTypeRefund,
		Amount:        sc.Refund.Amount,
		Currency:      w.currencyOf(r),
		Status:        models.TransactionStatusPending,
		Metadata: models.TransactionMetadata{
			RefundPercent:  sc.Refund.Percent,
			DaysUntilStart: sc.Refund.DaysUntilStart,
			Reason:         reason,
		},
	}
	if err := w.store.CreateTransaction(ctx, tx); err != nil {
		return fmt.Errorf("failed to create refund: %w", err)
	}
	sc.RefundTransaction = tx
	return nil
}

func (w *Workflows) voidRefund(ctx context.Context, sc *CancelContext) error {
	if sc.RefundTransaction == nil {
		return nil
	}
	cancelled := models.TransactionStatusCancelled
	if _, err := w.store.UpdateTransaction(ctx, sc.RefundTransaction.ID, models.TransactionPatch{Status: &cancelled}); err != nil {
		return fmt.Errorf("failed to void refund: %w", err)
	}
	return nil
}

// CompleteSaga defines completeReservation, the check-out leg of the lifecycle.
func (w *Workflows) CompleteSaga() *saga.Definition[CompleteContext] {
	return saga.Define(SagaCompleteReservation,
		saga.Step[CompleteContext]{
			Name: "validate",
			Execute: func(ctx context.Context, sc *CompleteContext) error {
				r, err := w.loadReservation(ctx, sc.ReservationID, models.ReservationStatusCheckedIn)
				if err != nil {
					return err
				}
				sc.Reservation = r
				sc.Property, sc.Guest, err = w.loadParties(ctx, r)
				return err
			},
		},
		saga.Step[CompleteContext]{
			Name: "setStatusCompleted",
			Execute: func(ctx context.Context, sc *CompleteContext) error {
				return w.transition(ctx, &sc.Reservation, models.ReservationStatusCompleted)
			},
			Compensate: func(ctx context.Context, sc *CompleteContext) error {
				return w.transition(ctx, &sc.Reservation, models.ReservationStatusCheckedIn)
			},
		},
		saga.Step[CompleteContext]{Name: "completeCheckOutTasks", Execute: w.completeCheckOutTasks},
		saga.Step[CompleteContext]{
			Name: "createInspectionTask",
			Execute: func(ctx context.Context, sc *CompleteContext) error {
				return w.createTask(ctx, &sc.InspectionTask, TemplatePostCheckoutInspection, sc.Reservation, sc.Property, sc.Guest)
			},
			Compensate: func(ctx context.Context, sc *CompleteContext) error {
				return w.deleteTask(ctx, sc.InspectionTask)
			},
		},
		saga.Step[CompleteContext]{
			Name: "sendCheckOutNotification",
			Execute: func(ctx context.Context, sc *CompleteContext) error {
				sc.Notification = w.notify(ctx, notify.KindReservationCompleted, sc.Reservation, sc.Property, sc.Guest, nil)
				return nil
			},
		},
	)
}

func (w *Workflows) completeCheckOutTasks(ctx context.Context, sc *CompleteContext) error {
	open, err := w.store.ListTasks(ctx, models.TaskFilter{
		ReservationID: sc.Reservation.ID,
		Types:         []models.TaskType{models.TaskTypeCheckOut},
		Statuses:      []models.TaskStatus{models.TaskStatusPending, models.TaskStatusInProgress},
	})
	if err != nil {
		return fmt.Errorf("failed to list check-out tasks: %w", err)
	}

	completed := models.TaskStatusCompleted
	for _, t := range open {
		if _, err := w.store.UpdateTask(ctx, t.ID, models.TaskPatch{Status: &completed}); err != nil {
			return fmt.Errorf("failed to complete task %s: %w", t.ID, err)
		}
		sc.CompletedTasks++
	}
	return nil
}

// loadReservation finds a reservation and checks it is in the expected state.
func (w *Workflows) loadReservation(ctx context.Context, id string, want models.ReservationStatus) (*models.Reservation, error) {
	r, err := w.store.FindReservation(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status != want {
		return nil, apperrors.InvalidState("reservation %s is %s, expected %s", r.ID, r.Status, want)
	}
	return r, nil
}

// loadParties returns the property and guest of a reservation. A missing
// guest record is tolerated; notifications then go to the bare guest id.
func (w *Workflows) loadParties(ctx context.Context, r *models.Reservation) (*models.Property, *models.User, error) {
	property, err := w.store.FindProperty(ctx, r.PropertyID)
	if err != nil {
		return nil, nil, err
	}
	guest, err := w.store.FindUser(ctx, r.GuestID)
	if err != nil {
		if apperrors.KindOf(err) != apperrors.KindNotFound {
			return nil, nil, err
		}
		w.logger.Warn("Guest record missing", zap.String("reservation_id", r.ID), zap.String("guest_id", r.GuestID))
	}
	return property, guest, nil
}

// transition writes a new status, checked against the version last read.
func (w *Workflows) transition(ctx context.Context, r **models.Reservation, to models.ReservationStatus) error {
	current := *r
	updated, err := w.store.UpdateReservation(ctx, current.ID, current.Version, models.ReservationPatch{Status: &to})
	if err != nil {
		return err
	}
	w.logger.Info("Reservation status changed",
		zap.String("reservation_id", current.ID),
		zap.String("from", string(current.Status)),
		zap.String("to", string(to)),
		zap.Int64("version", updated.Version))
	*r = updated
	return nil
}

func (w *Workflows) createTask(ctx context.Context, dst **models.Task, template string, r *models.Reservation, p *models.Property, guest *models.User) error {
	task, err := w.tasks.CreateTaskFromTemplate(ctx, template, r, p, guest)
	if err != nil {
		return err
	}
	*dst = task
	return nil
}

func (w *Workflows) deleteTask(ctx context.Context, t *models.Task) error {
	if t == nil {
		return nil
	}
	if err := w.store.DeleteTask(ctx, t.ID); err != nil {
		return fmt.Errorf("failed to delete task %s: %w", t.ID, err)
	}
	return nil
}

// notify is fire-and-forget: delivery failures are logged, never returned.
func (w *Workflows) notify(ctx context.Context, kind string, r *models.Reservation, p *models.Property, guest *models.User, extra map[string]string) *notify.Receipt {
	data := map[string]string{
		"reservationId": r.ID,
		"checkIn":       r.CheckIn.UTC().Format(dateLayout),
		"checkOut":      r.CheckOut.UTC().Format(dateLayout),
		"currency":      w.currencyOf(r),
		"guestName":     "Guest",
	}
	if guest != nil && guest.Name != "" {
		data["guestName"] = guest.Name
	}
	if p != nil {
		data["propertyName"] = p.Name
		data["propertyAddress"] = p.Address
	}
	for k, v := range extra {
		data[k] = v
	}

	receipt, err := w.notifier.Notify(ctx, kind, recipientOf(guest, r.GuestID), data)
	if err != nil {
		w.logger.Warn("Notification not delivered",
			zap.String("kind", kind),
			zap.String("reservation_id", r.ID),
			zap.Error(err))
	}
	return &receipt
}

func (w *Workflows) currencyOf(r *models.Reservation) string {
	if r.Currency != "" {
		return r.Currency
	}
	return w.currency
}
