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
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// SettingsRepository implements settings.Repository over a JSONB
// key/value table.
type SettingsRepository struct {
	db *DB
}

// NewSettingsRepository creates a new settings repository
func NewSettingsRepository(db *DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// decodeValue unmarshals a stored JSONB value. JSON numbers come back as
// float64; integral ones are normalized to int so cached values keep the
// type the rest of the service asserts on.
func decodeValue(raw []byte) (any, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("failed to decode setting value: %w", err)
	}
	if f, ok := v.(float64); ok && f == float64(int(f)) {
		return int(f), nil
	}
	return v, nil
}

// GetAll loads every persisted setting
func (r *SettingsRepository) GetAll(ctx context.Context) (map[string]any, error) {
	rows, err := r.db.pool.Query(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, fmt.Errorf("failed to query settings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]any)
	for rows.Next() {
		var key string
		var raw []byte
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan setting: %w", err)
		}
		value, err := decodeValue(raw)
		if err != nil {
			return nil, err
		}
		out[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate settings: %w", err)
	}
	return out, nil
}

// Get loads a single setting. The bool reports presence.
func (r *SettingsRepository) Get(ctx context.Context, key string) (any, bool, error) {
	var raw []byte
	err := r.db.pool.QueryRow(ctx, `
		SELECT value FROM settings WHERE key = $1
	`, key).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get setting: %w", err)
	}
	value, err := decodeValue(raw)
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Put upserts a single setting
func (r *SettingsRepository) Put(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode setting value: %w", err)
	}
	_, err = r.db.pool.Exec(ctx, `
		INSERT INTO settings (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`, key, raw)
	if err != nil {
		return fmt.Errorf("failed to upsert setting: %w", err)
	}
	return nil
}

// PutIfAbsent writes a setting only when the key does not exist yet.
// The conflict clause makes concurrent seeding race-free: exactly one
// caller wins each key.
func (r *SettingsRepository) PutIfAbsent(ctx context.Context, key string, value any) (bool, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("failed to encode setting value: %w", err)
	}
	result, err := r.db.pool.Exec(ctx, `
		INSERT INTO settings (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO NOTHING
	`, key, raw)
	if err != nil {
		return false, fmt.Errorf("failed to insert setting: %w", err)
	}
	return result.RowsAffected() == 1, nil
}
