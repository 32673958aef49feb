package service

import (
	"context"
	"time"

	"reservation-service/internal/models"
	"reservation-service/internal/notify"
)

// LedgerStore is the storage the workflows run against. Both store.Store
// and store.MemoryStore implement it.
type LedgerStore interface {
	CreateReservation(ctx context.Context, r *models.Reservation) error
	FindReservation(ctx context.Context, id string) (*models.Reservation, error)
	UpdateReservation(ctx context.Context, id string, expectedVersion int64, patch models.ReservationPatch) (*models.Reservation, error)
	FindOverlappingReservations(ctx context.Context, propertyID string, checkIn, checkOut time.Time, excludeID string, statuses []models.ReservationStatus) ([]models.Reservation, error)
	ListReservationsDueForCompletion(ctx context.Context, before time.Time) ([]models.Reservation, error)

	CreateTask(ctx context.Context, t *models.Task) error
	UpdateTask(ctx context.Context, id string, patch models.TaskPatch) (*models.Task, error)
	DeleteTask(ctx context.Context, id string) error
	ListTasks(ctx context.Context, filter models.TaskFilter) ([]models.Task, error)
	BulkCancelTasks(ctx context.Context, reservationID string, fromStatuses []models.TaskStatus) (int64, error)

	CreateTransaction(ctx context.Context, tx *models.Transaction) error
	FindTransaction(ctx context.Context, id string) (*models.Transaction, error)
	UpdateTransaction(ctx context.Context, id string, patch models.TransactionPatch) (*models.Transaction, error)
	ListTransactions(ctx context.Context, filter models.TransactionFilter) ([]models.Transaction, error)
	ListPendingPayouts(ctx context.Context, olderThan time.Time) ([]models.Transaction, error)

	FindProperty(ctx context.Context, id string) (*models.Property, error)
	FindUser(ctx context.Context, id string) (*models.User, error)

	ListSteps(ctx context.Context, executionID string) ([]models.StepRecord, error)
}

// Notifier delivers notifications. Workflows never fail because of it.
type Notifier interface {
	Notify(ctx context.Context, kind string, recipient notify.Recipient, data map[string]string) (notify.Receipt, error)
}

// EventPublisher publishes domain events after a workflow succeeds.
type EventPublisher interface {
	PublishReservationEvent(ctx context.Context, event *models.ReservationEvent) error
	PublishPaymentEvent(ctx context.Context, event *models.PaymentEvent) error
}

func recipientOf(u *models.User, fallbackID string) notify.Recipient {
	if u == nil {
		return notify.Recipient{UserID: fallbackID}
	}
	return notify.Recipient{UserID: u.ID, Name: u.Name, Email: u.Email, Phone: u.Phone}
}
