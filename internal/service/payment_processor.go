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

// SagaProcessGuestPayment records a guest payment and schedules the owner payout.
const SagaProcessGuestPayment = "processGuestPayment"

// PlatformAccountID is the user id agency fees are booked against.
const PlatformAccountID = "platform"

// PaymentData is a guest payment reported by the gateway.
type PaymentData struct {
	Amount     int64  `json:"amount" binding:"required"`
	Method     string `json:"method"`
	GatewayRef string `json:"gateway_ref"`
}

// PayoutData records how an owner payout was sent.
type PayoutData struct {
	Method    string `json:"method" binding:"required"`
	Reference string `json:"reference"`
	Notes     string `json:"notes"`
}

// PaymentContext flows through processGuestPayment.
type PaymentContext struct {
	ReservationID string               `json:"reservation_id"`
	Payment       PaymentData          `json:"payment"`
	Reservation   *models.Reservation  `json:"reservation,omitempty"`
	Property      *models.Property     `json:"-"`
	Guest         *models.User         `json:"-"`
	Transaction   *models.Transaction  `json:"transaction,omitempty"`
	Previous      models.Reservation   `json:"-"`
	FullyPaid     bool                 `json:"fully_paid"`
	Distribution  *models.Distribution `json:"distribution,omitempty"`
	OwnerPayout   *models.Transaction  `json:"owner_payout,omitempty"`
	AgencyFee     *models.Transaction  `json:"agency_fee,omitempty"`
	Notification  *notify.Receipt      `json:"notification,omitempty"`
}

// PaymentProcessor records guest payments and settles owner payouts.
type PaymentProcessor struct {
	store    LedgerStore
	notifier Notifier
	settings DistributionSettings
	currency string
	now      func() time.Time
	logger   *zap.Logger
}

// NewPaymentProcessor creates a new payment processor
func NewPaymentProcessor(store LedgerStore, notifier Notifier, settings DistributionSettings, currency string) *PaymentProcessor {
	return &PaymentProcessor{
		store:    store,
		notifier: notifier,
		settings: settings,
		currency: currency,
		now:      time.Now,
		logger:   util.GetLogger(),
	}
}

// SetClock overrides the time source.
func (p *PaymentProcessor) SetClock(now func() time.Time) {
	p.now = now
}

// Settings returns the distribution percentages in use.
func (p *PaymentProcessor) Settings() DistributionSettings {
	return p.settings
}

// GuestPaymentSaga defines processGuestPayment.
func (p *PaymentProcessor) GuestPaymentSaga() *saga.Definition[PaymentContext] {
	return saga.Define(SagaProcessGuestPayment,
		saga.Step[PaymentContext]{Name: "validate", Execute: p.validatePayment},
		saga.Step[PaymentContext]{Name: "recordPayment", Execute: p.recordPayment, Compensate: p.cancelPayment},
		saga.Step[PaymentContext]{Name: "updateBalances", Execute: p.updateBalances, Compensate: p.restoreBalances},
		saga.Step[PaymentContext]{Name: "schedulePayout", Execute: p.schedulePayout, Compensate: p.cancelPayout},
		saga.Step[PaymentContext]{Name: "sendPaymentReceipt", Execute: p.sendReceipt},
	)
}

func (p *PaymentProcessor) validatePayment(ctx context.Context, pc *PaymentContext) error {
	r, err := p.store.FindReservation(ctx, pc.ReservationID)
	if err != nil {
		return err
	}
	if r.PaymentStatus == models.PaymentStatusPaid {
		return apperrors.AlreadyPaid(r.ID)
	}
	if r.Status == models.ReservationStatusCancelled {
		return apperrors.InvalidState("reservation %s is %s", r.ID, r.Status)
	}
	if pc.Payment.Amount <= 0 {
		return apperrors.InvalidArgument("payment amount must be positive, got %d", pc.Payment.Amount)
	}
	if outstanding := r.TotalAmount - r.PaidAmount; pc.Payment.Amount > outstanding {
		return apperrors.InvalidArgument("payment of %d exceeds outstanding balance %d", pc.Payment.Amount, outstanding)
	}

	property, err := p.store.FindProperty(ctx, r.PropertyID)
	if err != nil {
		return err
	}
	guest, err := p.store.FindUser(ctx, r.GuestID)
	if err != nil && apperrors.KindOf(err) != apperrors.KindNotFound {
		return err
	}

	pc.Reservation = r
	pc.Previous = *r
	pc.Property = property
	pc.Guest = guest
	return nil
}

func (p *PaymentProcessor) recordPayment(ctx context.Context, pc *PaymentContext) error {
	now := p.now().UTC()
	tx := &models.Transaction{
		UserID:        pc.Reservation.GuestID,
		PropertyID:    pc.Reservation.PropertyID,
		ReservationID: pc.Reservation.ID,
		Type:          models.TransactionTypeGuestPayment,
		Amount:        pc.Payment.Amount,
		Currency:      p.currencyOf(pc.Reservation),
		Status:        models.TransactionStatusCompleted,
		Metadata: models.TransactionMetadata{
			PaymentMethod: pc.Payment.Method,
			GatewayRef:    pc.Payment.GatewayRef,
		},
		ProcessedAt: &now,
	}
	if err := p.store.CreateTransaction(ctx, tx); err != nil {
		return fmt.Errorf("failed to record guest payment: %w", err)
	}
	pc.Transaction = tx
	return nil
}

func (p *PaymentProcessor) cancelPayment(ctx context.Context, pc *PaymentContext) error {
	return p.cancelTransaction(ctx, pc.Transaction)
}

// updateBalances adds the payment to what was already paid.
func (p *PaymentProcessor) updateBalances(ctx context.Context, pc *PaymentContext) error {
	r := pc.Reservation
	paid := r.PaidAmount + pc.Payment.Amount
	outstanding := r.TotalAmount - paid
	status := models.PaymentStatusPartial
	if paid >= r.TotalAmount {
		status = models.PaymentStatusPaid
	}

	updated, err := p.store.UpdateReservation(ctx, r.ID, r.Version, models.ReservationPatch{
		PaidAmount:         &paid,
		OutstandingBalance: &outstanding,
		PaymentStatus:      &status,
	})
	if err != nil {
		return err
	}
	pc.Reservation = updated
	pc.FullyPaid = status == models.PaymentStatusPaid
	return nil
}

func (p *PaymentProcessor) restoreBalances(ctx context.Context, pc *PaymentContext) error {
	prev := pc.Previous
	updated, err := p.store.UpdateReservation(ctx, pc.Reservation.ID, pc.Reservation.Version, models.ReservationPatch{
		PaidAmount:         &prev.PaidAmount,
		OutstandingBalance: &prev.OutstandingBalance,
		PaymentStatus:      &prev.PaymentStatus,
	})
	if err != nil {
		return err
	}
	pc.Reservation = updated
	return nil
}

// schedulePayout books the owner payout and agency fee once the reservation is paid in full.
func (p *PaymentProcessor) schedulePayout(ctx context.Context, pc *PaymentContext) error {
	if !pc.FullyPaid {
		return nil
	}

	r := pc.Reservation
	dist := CalculateIncomeDistribution(r.TotalAmount, p.settings)
	pc.Distribution = &dist
	currency := p.currencyOf(r)

	payout := &models.Transaction{
		UserID:        pc.Property.OwnerID,
		PropertyID:    r.PropertyID,
		ReservationID: r.ID,
		Type:          models.TransactionTypeOwnerPayout,
		Amount:        dist.OwnerPayout,
		Currency:      currency,
		Status:        models.TransactionStatusPending,
		Metadata:      models.TransactionMetadata{Distribution: &dist},
	}
	if err := p.store.CreateTransaction(ctx, payout); err != nil {
		return fmt.Errorf("failed to create owner payout: %w", err)
	}
	pc.OwnerPayout = payout

	now := p.now().UTC()
	fee := &models.Transaction{
		UserID:        PlatformAccountID,
		PropertyID:    r.PropertyID,
		ReservationID: r.ID,
		Type:          models.TransactionTypeAgencyFee,
		Amount:        dist.PlatformFee,
		Currency:      currency,
		Status:        models.TransactionStatusCompleted,
		Metadata:      models.TransactionMetadata{Distribution: &dist},
		ProcessedAt:   &now,
	}
	if err := p.store.CreateTransaction(ctx, fee); err != nil {
		if cerr := p.cancelTransaction(ctx, payout); cerr != nil {
			p.logger.Error("Failed to cancel owner payout", zap.String("payout_id", payout.ID), zap.Error(cerr))
		}
		return fmt.Errorf("failed to create agency fee: %w", err)
	}
	pc.AgencyFee = fee

	p.logger.Info("Owner payout scheduled",
		zap.String("reservation_id", r.ID),
		zap.String("payout_id", payout.ID),
		zap.Int64("owner_payout", dist.OwnerPayout),
		zap.Int64("platform_fee", dist.PlatformFee),
		zap.Int64("agent_fee", dist.AgentFee))
	return nil
}

func (p *PaymentProcessor) cancelPayout(ctx context.Context, pc *PaymentContext) error {
	if err := p.cancelTransaction(ctx, pc.AgencyFee); err != nil {
		return err
	}
	return p.cancelTransaction(ctx, pc.OwnerPayout)
}

func (p *PaymentProcessor) sendReceipt(ctx context.Context, pc *PaymentContext) error {
	r := pc.Reservation
	currency := p.currencyOf(r)
	receipt, err := p.notifier.Notify(ctx, notify.KindPaymentReceived, recipientOf(pc.Guest, r.GuestID), map[string]string{
		"reservationId":      r.ID,
		"amount":             strconv.FormatInt(pc.Payment.Amount, 10),
		"outstandingBalance": strconv.FormatInt(r.OutstandingBalance, 10),
		"currency":           currency,
	})
	if err != nil {
		p.logger.Warn("Payment receipt not delivered", zap.String("reservation_id", r.ID), zap.Error(err))
	}
	pc.Notification = &receipt
	return nil
}

func (p *PaymentProcessor) cancelTransaction(ctx context.Context, tx *models.Transaction) error {
	if tx == nil {
		return nil
	}
	cancelled := models.TransactionStatusCancelled
	if _, err := p.store.UpdateTransaction(ctx, tx.ID, models.TransactionPatch{Status: &cancelled}); err != nil {
		return fmt.Errorf("failed to cancel transaction %s: %w", tx.ID, err)
	}
	tx.Status = cancelled
	return nil
}

// ProcessOwnerPayout marks a pending owner payout as sent. The status change
// is conditional on PENDING, so a repeated call fails with InvalidState.
func (p *PaymentProcessor) ProcessOwnerPayout(ctx context.Context, transactionID string, data PayoutData) (*models.Transaction, error) {
	ctx, span := util.StartSpan(ctx, "PaymentProcessor.ProcessOwnerPayout")
	defer span.End()

	tx, err := p.store.FindTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if tx.Type != models.TransactionTypeOwnerPayout {
		return nil, apperrors.InvalidState("transaction %s is %s, not %s", tx.ID, tx.Type, models.TransactionTypeOwnerPayout)
	}
	if tx.Status != models.TransactionStatusPending {
		return nil, apperrors.InvalidState("transaction %s is not PENDING (status %s)", tx.ID, tx.Status)
	}

	meta := tx.Metadata
	meta.PayoutMethod = data.Method
	meta.PayoutRef = data.Reference
	meta.Notes = data.Notes
	pending := models.TransactionStatusPending
	completed := models.TransactionStatusCompleted
	now := p.now().UTC()

	updated, err := p.store.UpdateTransaction(ctx, tx.ID, models.TransactionPatch{
		Status:       &completed,
		ExpectStatus: &pending,
		Metadata:     &meta,
		ProcessedAt:  &now,
	})
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	util.PayoutsCompletedTotal.Inc()
	p.logger.Info("Owner payout completed",
		zap.String("transaction_id", updated.ID),
		zap.String("reservation_id", updated.ReservationID),
		zap.Int64("amount", updated.Amount),
		zap.String("method", data.Method))

	owner, err := p.store.FindUser(ctx, updated.UserID)
	if err != nil && apperrors.KindOf(err) != apperrors.KindNotFound {
		p.logger.Warn("Failed to load payout recipient", zap.String("user_id", updated.UserID), zap.Error(err))
	}
	if _, err := p.notifier.Notify(ctx, notify.KindPayoutCompleted, recipientOf(owner, updated.UserID), map[string]string{
		"reservationId": updated.ReservationID,
		"amount":        strconv.FormatInt(updated.Amount, 10),
		"currency":      updated.Currency,
		"payoutRef":     data.Reference,
	}); err != nil {
		p.logger.Warn("Payout notification not delivered", zap.String("transaction_id", updated.ID), zap.Error(err))
	}
	return updated, nil
}

func (p *PaymentProcessor) currencyOf(r *models.Reservation) string {
	if r.Currency != "" {
		return r.Currency
	}
	return p.currency
}
