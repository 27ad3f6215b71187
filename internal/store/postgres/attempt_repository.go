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
	"fmt"
)

// AttemptRepository implements identity.AttemptRecorder as an
// append-only fact table.
type AttemptRepository struct {
	db *DB
}

// NewAttemptRepository creates a new login-attempt repository
func NewAttemptRepository(db *DB) *AttemptRepository {
	return &AttemptRepository{db: db}
}

// RecordAttempt appends a login-attempt fact
func (r *AttemptRepository) RecordAttempt(ctx context.Context, ip, email string, success bool) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO login_attempts (ip_address, email, success)
		VALUES ($1, $2, $3)
	`, ip, email, success)
	if err != nil {
		return fmt.Errorf("failed to record login attempt: %w", err)
	}
	return nil
}
