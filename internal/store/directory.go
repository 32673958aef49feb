package store

import (
	"context"
	"fmt"

	"reservation-service/internal/apperrors"
	"reservation-service/internal/models"

	"github.com/google/uuid"
)

// CreateUser creates a new user
func (s *Store) CreateUser(ctx context.Context, u *models.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	err := s.db.QueryRowxContext(ctx,
		`INSERT INTO users (id, name, email, phone, role) VALUES ($1, $2, $3, $4, $5) RETURNING created_at`,
		u.ID, u.Name, u.Email, u.Phone, u.Role,
	).Scan(&u.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// FindUser retrieves a user by ID
func (s *Store) FindUser(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	err := s.db.GetContext(ctx, &u,
		"SELECT id, name, email, phone, role, created_at FROM users WHERE id = $1", id)
	if isNoRows(err) {
		return nil, apperrors.NotFound("user", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return &u, nil
}

// CreateProperty creates a new property
func (s *Store) CreateProperty(ctx context.Context, p *models.Property) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	err := s.db.QueryRowxContext(ctx,
		`INSERT INTO properties (id, owner_id, agent_id, name, address) VALUES ($1, $2, $3, $4, $5) RETURNING created_at`,
		p.ID, p.OwnerID, p.AgentID, p.Name, p.Address,
	).Scan(&p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create property: %w", err)
	}
	return nil
}

// FindProperty retrieves a property by ID
func (s *Store) FindProperty(ctx context.Context, id string) (*models.Property, error) {
	var p models.Property
	err := s.db.GetContext(ctx, &p,
		"SELECT id, owner_id, agent_id, name, address, created_at FROM properties WHERE id = $1", id)
	if isNoRows(err) {
		return nil, apperrors.NotFound("property", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find property: %w", err)
	}
	return &p, nil
}
