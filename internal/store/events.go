package store

import (
	"context"
	"fmt"

	"reservation-service/internal/models"
)

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks an event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}

// RecordStep appends a saga step to the journal.
func (s *Store) RecordStep(ctx context.Context, rec models.StepRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO saga_step_journal (execution_id, saga, step, phase, status, error, duration_ms, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ExecutionID, rec.Saga, rec.Step, rec.Phase, rec.Status, rec.Error, rec.DurationMs, rec.RecordedAt)
	if err != nil {
		return fmt.Errorf("failed to record saga step: %w", err)
	}
	return nil
}

// ListSteps returns the journal of one saga execution in order.
func (s *Store) ListSteps(ctx context.Context, executionID string) ([]models.StepRecord, error) {
	var recs []models.StepRecord
	err := s.db.SelectContext(ctx, &recs, `
		SELECT execution_id, saga, step, phase, status, error, duration_ms, recorded_at
		FROM saga_step_journal WHERE execution_id = $1 ORDER BY id`, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list saga steps: %w", err)
	}
	return recs, nil
}
