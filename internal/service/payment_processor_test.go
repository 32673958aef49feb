package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"reservation-service/internal/apperrors"
	"reservation-service/internal/models"
	"reservation-service/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartialPaymentsAccumulate(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.seed(t, "r1", 333, testNow.Add(10*24*time.Hour), models.ReservationStatusConfirmed)

	res := f.svc.ProcessGuestPayment(ctx, "r1", PaymentData{Amount: 100, Method: "card"})
	require.True(t, res.Success, res.Error)

	r := f.reservation(t, "r1")
	assert.Equal(t, models.PaymentStatusPartial, r.PaymentStatus)
	assert.Equal(t, int64(100), r.PaidAmount)
	assert.Equal(t, int64(233), r.OutstandingBalance)
	assert.Empty(t, f.transactions(t, "r1", models.TransactionTypeOwnerPayout))

	res = f.svc.ProcessGuestPayment(ctx, "r1", PaymentData{Amount: 233, Method: "card"})
	require.True(t, res.Success, res.Error)

	r = f.reservation(t, "r1")
	assert.Equal(t, models.PaymentStatusPaid, r.PaymentStatus)
	assert.Equal(t, int64(333), r.PaidAmount)
	assert.Equal(t, int64(0), r.OutstandingBalance)
	assert.Equal(t, r.TotalAmount, r.PaidAmount+r.OutstandingBalance)

	payments := f.transactions(t, "r1", models.TransactionTypeGuestPayment)
	require.Len(t, payments, 2)
	for _, tx := range payments {
		assert.Equal(t, models.TransactionStatusCompleted, tx.Status)
		assert.Equal(t, "card", tx.Metadata.PaymentMethod)
	}
	assert.Len(t, f.transactions(t, "r1", models.TransactionTypeOwnerPayout), 1)
	assert.Len(t, f.transactions(t, "r1", models.TransactionTypeAgencyFee), 1)
}

func TestProcessGuestPaymentValidation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.seed(t, "r1", 333, testNow.Add(10*24*time.Hour), models.ReservationStatusConfirmed)
	f.seed(t, "cancelled", 333, testNow.Add(20*24*time.Hour), models.ReservationStatusCancelled)

	tests := []struct {
		name string
		id   string
		data PaymentData
		want apperrors.Kind
	}{
		{"missing reservation", "missing", PaymentData{Amount: 10}, apperrors.KindNotFound},
		{"zero amount", "r1", PaymentData{Amount: 0}, apperrors.KindInvalidArgument},
		{"overpayment", "r1", PaymentData{Amount: 334}, apperrors.KindInvalidArgument},
		{"cancelled reservation", "cancelled", PaymentData{Amount: 10}, apperrors.KindInvalidState},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := f.svc.ProcessGuestPayment(ctx, tt.id, tt.data)
			assert.False(t, res.Success)
			assert.Equal(t, tt.want, res.Code)
			assert.Equal(t, "validate", res.FailedStep)
		})
	}
	assert.Empty(t, f.transactions(t, "r1"))

	require.True(t, f.svc.ProcessGuestPayment(ctx, "r1", PaymentData{Amount: 333}).Success)
	res := f.svc.ProcessGuestPayment(ctx, "r1", PaymentData{Amount: 1})
	assert.Equal(t, apperrors.KindAlreadyPaid, res.Code)
	assert.ErrorIs(t, res.Err, apperrors.ErrAlreadyPaid)
}

func TestGuestPaymentCompensatesWhenPayoutFails(t *testing.T) {
	f := newFixture(t, func(m *store.MemoryStore) LedgerStore {
		return &faultyStore{
			LedgerStore: m,
			createTransaction: func(tx *models.Transaction) error {
				if tx.Type == models.TransactionTypeAgencyFee {
					return errors.New("disk full")
				}
				return nil
			},
		}
	})
	f.seed(t, "r1", 333, testNow.Add(10*24*time.Hour), models.ReservationStatusConfirmed)

	res := f.svc.ProcessGuestPayment(context.Background(), "r1", PaymentData{Amount: 333})

	assert.False(t, res.Success)
	assert.Equal(t, "schedulePayout", res.FailedStep)
	require.Len(t, res.Compensations, 2)
	assert.Equal(t, "updateBalances", res.Compensations[0].Step)
	assert.Equal(t, "recordPayment", res.Compensations[1].Step)

	r := f.reservation(t, "r1")
	assert.Equal(t, models.PaymentStatusUnpaid, r.PaymentStatus)
	assert.Equal(t, int64(0), r.PaidAmount)
	assert.Equal(t, int64(333), r.OutstandingBalance)

	payments := f.transactions(t, "r1", models.TransactionTypeGuestPayment)
	require.Len(t, payments, 1)
	assert.Equal(t, models.TransactionStatusCancelled, payments[0].Status)

	payouts := f.transactions(t, "r1", models.TransactionTypeOwnerPayout)
	require.Len(t, payouts, 1)
	assert.Equal(t, models.TransactionStatusCancelled, payouts[0].Status)
	assert.Empty(t, f.transactions(t, "r1", models.TransactionTypeAgencyFee))
}

func payoutID(t *testing.T, f *fixture) string {
	t.Helper()
	payouts := f.transactions(t, "r1", models.TransactionTypeOwnerPayout)
	require.Len(t, payouts, 1)
	return payouts[0].ID
}

func TestProcessOwnerPayoutIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.seed(t, "r1", 333, testNow.Add(10*24*time.Hour), models.ReservationStatusConfirmed)
	require.True(t, f.svc.ProcessGuestPayment(ctx, "r1", PaymentData{Amount: 333}).Success)
	id := payoutID(t, f)

	data := PayoutData{Method: "bank_transfer", Reference: "wire-42", Notes: "March batch"}
	res := f.svc.ProcessOwnerPayout(ctx, id, data)
	require.True(t, res.Success, res.Error)

	tx := res.Data.(*models.Transaction)
	assert.Equal(t, models.TransactionStatusCompleted, tx.Status)
	assert.Equal(t, "bank_transfer", tx.Metadata.PayoutMethod)
	assert.Equal(t, "wire-42", tx.Metadata.PayoutRef)
	require.NotNil(t, tx.ProcessedAt)
	require.NotNil(t, tx.Metadata.Distribution)
	assert.Equal(t, int64(233), tx.Metadata.Distribution.OwnerPayout)

	res = f.svc.ProcessOwnerPayout(ctx, id, data)
	assert.False(t, res.Success)
	assert.Equal(t, apperrors.KindInvalidState, res.Code)
	assert.Contains(t, res.Error, "not PENDING")

	payouts := f.transactions(t, "r1", models.TransactionTypeOwnerPayout)
	require.Len(t, payouts, 1)
	assert.Equal(t, models.TransactionStatusCompleted, payouts[0].Status)
}

func TestProcessOwnerPayoutRejectsOtherTransactions(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.seed(t, "r1", 333, testNow.Add(10*24*time.Hour), models.ReservationStatusConfirmed)
	require.True(t, f.svc.ProcessGuestPayment(ctx, "r1", PaymentData{Amount: 333}).Success)

	fees := f.transactions(t, "r1", models.TransactionTypeAgencyFee)
	require.Len(t, fees, 1)
	res := f.svc.ProcessOwnerPayout(ctx, fees[0].ID, PayoutData{Method: "bank_transfer"})
	assert.Equal(t, apperrors.KindInvalidState, res.Code)

	res = f.svc.ProcessOwnerPayout(ctx, "missing", PayoutData{Method: "bank_transfer"})
	assert.Equal(t, apperrors.KindNotFound, res.Code)
}

func TestPaymentProcessorOwnerPayoutTwice(t *testing.T) {
	mem := store.NewMemoryStore()
	ctx := context.Background()
	p := NewPaymentProcessor(mem, &fakeNotifier{}, DefaultDistributionSettings(), "USD")

	tx := &models.Transaction{
		UserID:        "o1",
		ReservationID: "r1",
		Type:          models.TransactionTypeOwnerPayout,
		Amount:        233,
		Status:        models.TransactionStatusPending,
	}
	require.NoError(t, mem.CreateTransaction(ctx, tx))

	_, err := p.ProcessOwnerPayout(ctx, tx.ID, PayoutData{Method: "bank_transfer"})
	require.NoError(t, err)
	_, err = p.ProcessOwnerPayout(ctx, tx.ID, PayoutData{Method: "bank_transfer"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidState)
}
