package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Store is the Postgres ledger store.
type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// NewStoreWithDB wraps an existing connection.
func NewStoreWithDB(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// Ping checks the connection, used by the readiness check.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS properties (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL REFERENCES users(id),
		agent_id TEXT REFERENCES users(id),
		name TEXT NOT NULL,
		address TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS reservations (
		id TEXT PRIMARY KEY,
		property_id TEXT NOT NULL REFERENCES properties(id),
		guest_id TEXT NOT NULL REFERENCES users(id),
		check_in TIMESTAMPTZ NOT NULL,
		check_out TIMESTAMPTZ NOT NULL,
		total_amount BIGINT NOT NULL,
		paid_amount BIGINT NOT NULL DEFAULT 0,
		outstanding_balance BIGINT NOT NULL,
		currency TEXT NOT NULL,
		status TEXT NOT NULL,
		payment_status TEXT NOT NULL,
		version BIGINT NOT NULL DEFAULT 1,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_reservations_property_dates
		ON reservations (property_id, check_in, check_out)`,
	`CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		property_id TEXT NOT NULL REFERENCES properties(id),
		reservation_id TEXT REFERENCES reservations(id),
		type TEXT NOT NULL,
		status TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		priority TEXT NOT NULL,
		scheduled_date TIMESTAMPTZ NOT NULL,
		cost BIGINT NOT NULL DEFAULT 0,
		tags TEXT[] NOT NULL DEFAULT '{}',
		assignee_id TEXT,
		assignee_role TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_reservation ON tasks (reservation_id)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		property_id TEXT NOT NULL,
		reservation_id TEXT NOT NULL REFERENCES reservations(id),
		type TEXT NOT NULL,
		amount BIGINT NOT NULL,
		currency TEXT NOT NULL,
		status TEXT NOT NULL,
		metadata JSONB NOT NULL DEFAULT '{}',
		processed_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_reservation ON transactions (reservation_id)`,
	`CREATE TABLE IF NOT EXISTS processed_events (
		event_id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		processed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS saga_step_journal (
		id BIGSERIAL PRIMARY KEY,
		execution_id TEXT NOT NULL,
		saga TEXT NOT NULL,
		step TEXT NOT NULL,
		phase TEXT NOT NULL,
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		duration_ms BIGINT NOT NULL,
		recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// InitSchema creates the ledger tables if they do not exist.
func (s *Store) InitSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to init schema: %w", err)
		}
	}
	return nil
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
