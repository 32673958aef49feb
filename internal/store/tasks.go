package store

import (
	"context"
	"fmt"
	"strings"

	"reservation-service/internal/apperrors"
	"reservation-service/internal/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const taskColumns = `id, property_id, reservation_id, type, status, title, description, priority,
	scheduled_date, cost, tags, assignee_id, assignee_role, created_at, updated_at`

// CreateTask creates a new task
func (s *Store) CreateTask(ctx context.Context, t *models.Task) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Tags == nil {
		t.Tags = pq.StringArray{}
	}
	query := `
		INSERT INTO tasks (id, property_id, reservation_id, type, status, title, description,
			priority, scheduled_date, cost, tags, assignee_id, assignee_role)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at`

	err := s.db.QueryRowxContext(ctx, query,
		t.ID, t.PropertyID, t.ReservationID, t.Type, t.Status, t.Title, t.Description,
		t.Priority, t.ScheduledDate, t.Cost, t.Tags, t.AssigneeID, t.AssigneeRole,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

// UpdateTask applies patch to a task.
func (s *Store) UpdateTask(ctx context.Context, id string, patch models.TaskPatch) (*models.Task, error) {
	query := `
		UPDATE tasks SET
			status = COALESCE($1, status),
			assignee_id = COALESCE($2, assignee_id),
			updated_at = NOW()
		WHERE id = $3
		RETURNING ` + taskColumns

	var t models.Task
	err := s.db.GetContext(ctx, &t, query, patch.Status, patch.AssigneeID, id)
	if isNoRows(err) {
		return nil, apperrors.NotFound("task", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update task: %w", err)
	}
	return &t, nil
}

// DeleteTask removes a task.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM tasks WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	if n == 0 {
		return apperrors.NotFound("task", id)
	}
	return nil
}

// ListTasks returns tasks matching filter ordered by schedule.
func (s *Store) ListTasks(ctx context.Context, filter models.TaskFilter) ([]models.Task, error) {
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

	query := "SELECT " + taskColumns + " FROM tasks"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY scheduled_date, created_at"

	var tasks []models.Task
	if err := s.db.SelectContext(ctx, &tasks, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	return tasks, nil
}

// BulkCancelTasks cancels every task of the reservation currently in one of
// fromStatuses and returns how many were cancelled.
func (s *Store) BulkCancelTasks(ctx context.Context, reservationID string, fromStatuses []models.TaskStatus) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE tasks SET status = $1, updated_at = NOW() WHERE reservation_id = $2 AND status = ANY($3)",
		models.TaskStatusCancelled, reservationID, pq.Array(statusStrings(fromStatuses)))
	if err != nil {
		return 0, fmt.Errorf("failed to cancel tasks: %w", err)
	}
	return res.RowsAffected()
}
