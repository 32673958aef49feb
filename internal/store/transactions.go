package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"reservation-service/internal/apperrors"
	"reservation-service/internal/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const transactionColumns = `id, user_id, property_id, reservation_id, type, amount, currency, status,
	metadata, processed_at, created_at, updated_at`

// CreateTransaction records a ledger entry.
func (s *Store) CreateTransaction(ctx context.Context, tx *models.Transaction) error {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	query := `
		INSERT INTO transactions (id, user_id, property_id, reservation_id, type, amount,
			currency, status, metadata, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at`

	err := s.db.QueryRowxContext(ctx, query,
		tx.ID, tx.UserID, tx.PropertyID, tx.ReservationID, tx.Type, tx.Amount,
		tx.Currency, tx.Status, tx.Metadata, tx.ProcessedAt,
	).Scan(&tx.CreatedAt, &tx.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

// FindTransaction retrieves a transaction by ID
func (s *Store) FindTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	var tx models.Transaction
	err := s.db.GetContext(ctx, &tx,
		"SELECT "+transactionColumns+" FROM transactions WHERE id = $1", id)
	if isNoRows(err) {
		return nil, apperrors.NotFound("transaction", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find transaction: %w", err)
	}
	return &tx, nil
}

// UpdateTransaction applies patch. With ExpectStatus set the update only
// happens while the stored status still matches, otherwise InvalidState.
func (s *Store) UpdateTransaction(ctx context.Context, id string, patch models.TransactionPatch) (*models.Transaction, error) {
	var metadata interface{}
	if patch.Metadata != nil {
		metadata = *patch.Metadata
	}

	query := `
		UPDATE transactions SET
			status = COALESCE($1, status),
			metadata = COALESCE($2, metadata),
			processed_at = COALESCE($3, processed_at),
			updated_at = NOW()
		WHERE id = $4 AND ($5::text IS NULL OR status = $5)
		RETURNING ` + transactionColumns

	var tx models.Transaction
	err := s.db.GetContext(ctx, &tx, query,
		patch.Status, metadata, patch.ProcessedAt, id, patch.ExpectStatus)
	if isNoRows(err) {
		current, findErr := s.FindTransaction(ctx, id)
		if findErr != nil {
			return nil, findErr
		}
		if patch.ExpectStatus == nil {
			return nil, apperrors.NotFound("transaction", id)
		}
		return nil, apperrors.InvalidState("transaction %s is %s, expected %s",
			id, current.Status, *patch.ExpectStatus)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update transaction: %w", err)
	}
	return &tx, nil
}

// ListTransactions returns transactions matching filter, oldest first.
func (s *Store) ListTransactions(ctx context.Context, filter models.TransactionFilter) ([]models.Transaction, error) {
	var (
		conds []string
		args  []interface{}
	)
	if filter.ReservationID != "" {
		args = append(args, filter.ReservationID)
		conds = append(conds, fmt.Sprintf("reservation_id = $%d", len(args)))
	}
	if len(filter.Types) > 0 {
		args = append(args, pq.Array(statusStrings(filter.Types)))
		conds = append(conds, fmt.Sprintf("type = ANY($%d)", len(args)))
	}
	if len(filter.Statuses) > 0 {
		args = append(args, pq.Array(statusStrings(filter.Statuses)))
		conds = append(conds, fmt.Sprintf("status = ANY($%d)", len(args)))
	}

	query := "SELECT " + transactionColumns + " FROM transactions"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at"

	var txs []models.Transaction
	if err := s.db.SelectContext(ctx, &txs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return txs, nil
}

// ListPendingPayouts returns owner payouts still pending since before olderThan.
func (s *Store) ListPendingPayouts(ctx context.Context, olderThan time.Time) ([]models.Transaction, error) {
	var txs []models.Transaction
	err := s.db.SelectContext(ctx, &txs,
		"SELECT "+transactionColumns+" FROM transactions WHERE type = $1 AND status = $2 AND created_at <= $3 ORDER BY created_at",
		models.TransactionTypeOwnerPayout, models.TransactionStatusPending, olderThan)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending payouts: %w", err)
	}
	return txs, nil
}
