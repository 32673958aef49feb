package store

import (
	"context"
	"fmt"
	"time"

	"reservation-service/internal/apperrors"
	"reservation-service/internal/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const reservationColumns = `id, property_id, guest_id, check_in, check_out, total_amount, paid_amount,
	outstanding_balance, currency, status, payment_status, version, created_at, updated_at`

// CreateReservation inserts a reservation at version 1.
func (s *Store) CreateReservation(ctx context.Context, r *models.Reservation) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	query := `
		INSERT INTO reservations (id, property_id, guest_id, check_in, check_out, total_amount,
			paid_amount, outstanding_balance, currency, status, payment_status, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 1)
		RETURNING version, created_at, updated_at`

	err := s.db.QueryRowxContext(ctx, query,
		r.ID, r.PropertyID, r.GuestID, r.CheckIn, r.CheckOut, r.TotalAmount,
		r.PaidAmount, r.OutstandingBalance, r.Currency, r.Status, r.PaymentStatus,
	).Scan(&r.Version, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create reservation: %w", err)
	}
	return nil
}

// FindReservation retrieves a reservation by ID
func (s *Store) FindReservation(ctx context.Context, id string) (*models.Reservation, error) {
	var r models.Reservation
	err := s.db.GetContext(ctx, &r,
		"SELECT "+reservationColumns+" FROM reservations WHERE id = $1", id)
	if isNoRows(err) {
		return nil, apperrors.NotFound("reservation", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find reservation: %w", err)
	}
	return &r, nil
}

// UpdateReservation applies patch if the stored version still equals
// expectedVersion, and bumps the version.
func (s *Store) UpdateReservation(ctx context.Context, id string, expectedVersion int64, patch models.ReservationPatch) (*models.Reservation, error) {
	query := `
		UPDATE reservations SET
			status = COALESCE($1, status),
			payment_status = COALESCE($2, payment_status),
			paid_amount = COALESCE($3, paid_amount),
			outstanding_balance = COALESCE($4, outstanding_balance),
			version = version + 1,
			updated_at = NOW()
		WHERE id = $5 AND version = $6
		RETURNING ` + reservationColumns

	var r models.Reservation
	err := s.db.GetContext(ctx, &r, query,
		patch.Status, patch.PaymentStatus, patch.PaidAmount, patch.OutstandingBalance,
		id, expectedVersion)
	if isNoRows(err) {
		current, findErr := s.FindReservation(ctx, id)
		if findErr != nil {
			return nil, findErr
		}
		return nil, apperrors.StaleVersion("reservation", id, expectedVersion, current.Version)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update reservation: %w", err)
	}
	return &r, nil
}

// FindOverlappingReservations returns reservations of the property in one of
// statuses whose stay intersects [checkIn, checkOut], boundaries included.
func (s *Store) FindOverlappingReservations(ctx context.Context, propertyID string, checkIn, checkOut time.Time, excludeID string, statuses []models.ReservationStatus) ([]models.Reservation, error) {
	query := `
		SELECT ` + reservationColumns + `
		FROM reservations
		WHERE property_id = $1
		  AND id <> $2
		  AND status = ANY($3)
		  AND check_in <= $4
		  AND check_out >= $5
		ORDER BY check_in`

	var reservations []models.Reservation
	err := s.db.SelectContext(ctx, &reservations, query,
		propertyID, excludeID, pq.Array(statusStrings(statuses)), checkOut, checkIn)
	if err != nil {
		return nil, fmt.Errorf("failed to find overlapping reservations: %w", err)
	}
	return reservations, nil
}

// ListReservationsDueForCompletion returns checked-in reservations whose
// check-out is at or before the given time.
func (s *Store) ListReservationsDueForCompletion(ctx context.Context, before time.Time) ([]models.Reservation, error) {
	var reservations []models.Reservation
	err := s.db.SelectContext(ctx, &reservations,
		"SELECT "+reservationColumns+" FROM reservations WHERE status = $1 AND check_out <= $2 ORDER BY check_out",
		models.ReservationStatusCheckedIn, before)
	if err != nil {
		return nil, fmt.Errorf("failed to list reservations due for completion: %w", err)
	}
	return reservations, nil
}

func statusStrings[T ~string](values []T) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return out
}
