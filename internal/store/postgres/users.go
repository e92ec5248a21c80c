package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/knowledgehunter6/main-line/internal/store"
)

// CreateUser implements [store.UserStore].
func (s *Store) CreateUser(ctx context.Context, u *store.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}

	const q = `
		INSERT INTO users (id, email, first_name, last_name, role, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.pool.Exec(ctx, q, u.ID, u.Email, u.FirstName, u.LastName, string(u.Role), u.CreatedAt)
	if err != nil {
		return fmt.Errorf("user store: insert: %w", err)
	}
	return nil
}

// GetUser implements [store.UserStore].
func (s *Store) GetUser(ctx context.Context, id string) (store.User, error) {
	const q = `
		SELECT id, email, first_name, last_name, role, created_at
		FROM   users
		WHERE  id = $1`
	return s.queryUser(ctx, q, id)
}

// GetUserByEmail implements [store.UserStore].
func (s *Store) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	const q = `
		SELECT id, email, first_name, last_name, role, created_at
		FROM   users
		WHERE  email = $1`
	return s.queryUser(ctx, q, email)
}

func (s *Store) queryUser(ctx context.Context, q string, arg any) (store.User, error) {
	var (
		u    store.User
		role string
	)
	err := s.pool.QueryRow(ctx, q, arg).Scan(
		&u.ID,
		&u.Email,
		&u.FirstName,
		&u.LastName,
		&role,
		&u.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.User{}, store.ErrNotFound
		}
		return store.User{}, fmt.Errorf("user store: query: %w", err)
	}
	u.Role = store.Role(role)
	return u, nil
}
