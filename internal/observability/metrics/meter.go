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

package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Config holds metrics configuration
type Config struct {
	Enabled bool
}

// Meter wraps OpenTelemetry meter with the instruments this service
// actually reports.
type Meter struct {
	meter metric.Meter

	loginAttempts metric.Int64Counter
	lockouts      metric.Int64Counter
}

// New creates a new meter instance and its instruments
func New(ctx context.Context, cfg Config, serviceName string) (*Meter, error) {
	var meter metric.Meter
	if cfg.Enabled {
		meter = otel.Meter(serviceName)
	} else {
		meter = otel.Meter("noop")
	}

	loginAttempts, err := meter.Int64Counter(
		"auth_login_attempts_total",
		metric.WithDescription("Login attempts by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create login attempts counter: %w", err)
	}

	lockouts, err := meter.Int64Counter(
		"auth_account_lockouts_total",
		metric.WithDescription("Accounts transitioned to the locked state"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create lockouts counter: %w", err)
	}

	return &Meter{
		meter:         meter,
		loginAttempts: loginAttempts,
		lockouts:      lockouts,
	}, nil
}

// RecordLoginAttempt counts a login attempt with its outcome label
// (success, invalid_credentials, locked, unverified).
func (m *Meter) RecordLoginAttempt(ctx context.Context, outcome string) {
	m.loginAttempts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordLockout counts an account lock transition.
func (m *Meter) RecordLockout(ctx context.Context) {
	m.lockouts.Add(ctx, 1)
}

// GetMeter returns the underlying meter
func (m *Meter) GetMeter() metric.Meter {
	return m.meter
}
