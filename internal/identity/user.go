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

package identity

import (
	"context"
	"errors"
	"time"
)

// Domain errors
var (
	ErrUserNotFound       = errors.New("user not found")
	ErrUserAlreadyExists  = errors.New("user already exists")
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrWeakPassword       = errors.New("password does not meet security requirements")
	ErrInvalidRole        = errors.New("invalid role")
	ErrTenantRequired     = errors.New("tenant id is required for this role")
	ErrSignupDisabled     = errors.New("public signup is disabled")
	ErrUserCreateDisabled = errors.New("adding new users is disabled")
	ErrNotAuthorized      = errors.New("not authorized")
)

// User is the security-relevant projection of an account. TenantID is
// empty only for the master role. PasswordHash never leaves the service
// layer in responses.
type User struct {
	ID                  string
	Email               string
	Role                string
	TenantID            string
	PasswordHash        string
	IsVerified          bool
	IsLocked            bool
	FailedLoginAttempts int
	LockedAt            *time.Time
	FullName            string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// UserRepository defines the persistence contract for user accounts.
// IncrementFailedAttempts must be atomic on the storage side: two
// concurrent failures must yield two distinct counts, never a lost
// update that undercounts toward the lockout threshold.
type UserRepository interface {
	// Create creates a new user account
	Create(ctx context.Context, user *User) error

	// GetByID retrieves a user by ID
	GetByID(ctx context.Context, id string) (*User, error)

	// GetByEmail retrieves a user by (normalized) email
	GetByEmail(ctx context.Context, email string) (*User, error)

	// Update updates mutable profile fields
	Update(ctx context.Context, user *User) error

	// IncrementFailedAttempts atomically bumps the failed-attempt
	// counter and returns the post-increment value
	IncrementFailedAttempts(ctx context.Context, userID string) (int, error)

	// ResetFailedAttempts zeroes the failed-attempt counter
	ResetFailedAttempts(ctx context.Context, userID string) error

	// Lock marks the account locked and stamps locked_at
	Lock(ctx context.Context, userID string) error

	// Unlock clears the lock and zeroes the failed-attempt counter
	Unlock(ctx context.Context, userID string) error
}

// AttemptRecorder appends login-attempt facts. Recording is
// fire-and-forget: a failure here must never change a login decision.
type AttemptRecorder interface {
	RecordAttempt(ctx context.Context, ip, email string, success bool) error
}
