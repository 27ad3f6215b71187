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
	"fmt"
	"log/slog"
	"os"

	"github.com/authgate/authgate/internal/authz"
	"github.com/authgate/authgate/internal/observability/logger"
)

const (
	EnvBootstrapMasterEmail    = "BOOTSTRAP_MASTER_EMAIL"
	EnvBootstrapMasterPassword = "BOOTSTRAP_MASTER_PASSWORD"
)

// BootstrapService creates the initial master account
type BootstrapService struct {
	identityService *Service
}

// NewBootstrapService creates a new bootstrap service
func NewBootstrapService(identityService *Service) *BootstrapService {
	return &BootstrapService{identityService: identityService}
}

// Bootstrap creates the master account named by the environment, if
// configured and not already present. Idempotent: re-running against an
// existing account is a silent no-op, so it is safe on every startup.
// The master account bypasses the signup and user-creation gates; it is
// the root of the role hierarchy and has no tenant.
func (s *BootstrapService) Bootstrap(ctx context.Context) error {
	email := os.Getenv(EnvBootstrapMasterEmail)
	password := os.Getenv(EnvBootstrapMasterPassword)

	if email == "" {
		return nil
	}
	if password == "" {
		return fmt.Errorf("%s is set but %s is empty", EnvBootstrapMasterEmail, EnvBootstrapMasterPassword)
	}

	normalized := NormalizeEmail(email)
	if _, err := s.identityService.users.GetByEmail(ctx, normalized); err == nil {
		slog.InfoContext(ctx, "bootstrap master account already exists", logger.Email(normalized))
		return nil
	} else if !errors.Is(err, ErrUserNotFound) {
		return fmt.Errorf("failed to check for existing master account: %w", err)
	}

	user, err := s.identityService.createUser(ctx, "", normalized, password, authz.RoleMaster, "", "System Master", true)
	if err != nil {
		return fmt.Errorf("failed to create master account: %w", err)
	}

	slog.InfoContext(ctx, "bootstrapped master account",
		logger.Email(normalized), logger.UserID(user.ID))
	return nil
}
