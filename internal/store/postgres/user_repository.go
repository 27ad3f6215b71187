// Copyright 2026 The Authgate Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/authgate/authgate/internal/identity"
)

// UserRepository implements identity.UserRepository
type UserRepository struct {
	db *DB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `
	id, email, role, tenant_id, password_hash,
	is_verified, is_locked, failed_login_attempts, locked_at,
	full_name, created_at, updated_at`

func scanUser(row pgx.Row) (*identity.User, error) {
	var user identity.User
	err := row.Scan(
		&user.ID, &user.Email, &user.Role, &user.TenantID, &user.PasswordHash,
		&user.IsVerified, &user.IsLocked, &user.FailedLoginAttempts, &user.LockedAt,
		&user.FullName, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, identity.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	return &user, nil
}

// Create creates a new user account
func (r *UserRepository) Create(ctx context.Context, user *identity.User) error {
	now := time.Now()
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO users (
			id, email, role, tenant_id, password_hash,
			is_verified, is_locked, failed_login_attempts, locked_at,
			full_name, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		user.ID, user.Email, user.Role, user.TenantID, user.PasswordHash,
		user.IsVerified, user.IsLocked, user.FailedLoginAttempts, user.LockedAt,
		user.FullName, now, now,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return identity.ErrUserAlreadyExists
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}

	user.CreatedAt = now
	user.UpdatedAt = now

	return nil
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id string) (*identity.User, error) {
	return scanUser(r.db.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id = $1
	`, id))
}

// GetByEmail retrieves a user by normalized email
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*identity.User, error) {
	return scanUser(r.db.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE email = $1
	`, email))
}

// Update updates mutable account fields
func (r *UserRepository) Update(ctx context.Context, user *identity.User) error {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE users SET
			email = $2,
			role = $3,
			tenant_id = $4,
			password_hash = $5,
			is_verified = $6,
			full_name = $7,
			updated_at = NOW()
		WHERE id = $1
	`,
		user.ID, user.Email, user.Role, user.TenantID,
		user.PasswordHash, user.IsVerified, user.FullName,
	)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	if result.RowsAffected() == 0 {
		return identity.ErrUserNotFound
	}
	return nil
}

// IncrementFailedAttempts atomically bumps the failed-attempt counter.
// The increment happens in the database so two concurrent failures
// yield two distinct counts.
func (r *UserRepository) IncrementFailedAttempts(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.pool.QueryRow(ctx, `
		UPDATE users
		SET failed_login_attempts = failed_login_attempts + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING failed_login_attempts
	`, userID).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, identity.ErrUserNotFound
		}
		return 0, fmt.Errorf("failed to increment failed attempts: %w", err)
	}
	return count, nil
}

// ResetFailedAttempts zeroes the failed-attempt counter
func (r *UserRepository) ResetFailedAttempts(ctx context.Context, userID string) error {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE users
		SET failed_login_attempts = 0, updated_at = NOW()
		WHERE id = $1
	`, userID)
	if err != nil {
		return fmt.Errorf("failed to reset failed attempts: %w", err)
	}
	if result.RowsAffected() == 0 {
		return identity.ErrUserNotFound
	}
	return nil
}

// Lock marks the account locked and stamps locked_at
func (r *UserRepository) Lock(ctx context.Context, userID string) error {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE users
		SET is_locked = TRUE, locked_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`, userID)
	if err != nil {
		return fmt.Errorf("failed to lock user: %w", err)
	}
	if result.RowsAffected() == 0 {
		return identity.ErrUserNotFound
	}
	return nil
}

// Unlock clears the lock and zeroes the failed-attempt counter
func (r *UserRepository) Unlock(ctx context.Context, userID string) error {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE users
		SET is_locked = FALSE, locked_at = NULL, failed_login_attempts = 0, updated_at = NOW()
		WHERE id = $1
	`, userID)
	if err != nil {
		return fmt.Errorf("failed to unlock user: %w", err)
	}
	if result.RowsAffected() == 0 {
		return identity.ErrUserNotFound
	}
	return nil
}
