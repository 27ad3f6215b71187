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
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/authgate/authgate/internal/audit"
	"github.com/authgate/authgate/internal/authz"
	"github.com/authgate/authgate/internal/id"
	"github.com/authgate/authgate/internal/observability/logger"
	"github.com/authgate/authgate/internal/observability/metrics"
	"github.com/authgate/authgate/internal/settings"
	"github.com/authgate/authgate/internal/token"
)

// Denial reason codes. Expected denials are values, not errors: only a
// storage failure during a required read/write surfaces as an error.
const (
	DenyInvalidCredentials = "invalid_credentials"
	DenyLocked             = "locked"
	DenyLockedPermanent    = "locked_permanent"
	DenyUnverified         = "unverified"
)

// Denial describes why a login was refused. RemainingAttempts is -1
// when not applicable (unknown email, locked, unverified).
type Denial struct {
	Reason            string
	RemainingAttempts int
	Threshold         int
	LockoutMinutes    int
}

// LoginResult is the outcome of a login attempt. Denial is nil on the
// success path, where the token fields are populated.
type LoginResult struct {
	Denial       *Denial
	User         *User
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64 // access-token lifetime in seconds
}

// Service orchestrates authentication and account management: it
// composes the settings store, the role model, the account security
// state machine and the external password/token capabilities.
type Service struct {
	users       UserRepository
	attempts    AttemptRecorder
	refreshRepo token.RefreshTokenRepository
	issuer      *token.Issuer
	hasher      *PasswordHasher
	settings    *settings.Store
	auditLogger audit.Logger
	meter       *metrics.Meter
}

// NewService creates a new identity service
func NewService(
	users UserRepository,
	attempts AttemptRecorder,
	refreshRepo token.RefreshTokenRepository,
	issuer *token.Issuer,
	hasher *PasswordHasher,
	settingsStore *settings.Store,
	auditLogger audit.Logger,
	meter *metrics.Meter,
) *Service {
	return &Service{
		users:       users,
		attempts:    attempts,
		refreshRepo: refreshRepo,
		issuer:      issuer,
		hasher:      hasher,
		settings:    settingsStore,
		auditLogger: auditLogger,
		meter:       meter,
	}
}

// Login evaluates a login attempt. Denial order is fixed: lockout check,
// then verification check, then credential check — the order decides
// which denial a caller observes and must not be rearranged.
//
// Expected denials come back as LoginResult.Denial; an error return
// means a storage dependency failed on a required operation and the
// request must fail as a whole (silently allowing or denying a login on
// a write failure would be unsafe).
func (s *Service) Login(ctx context.Context, ip, email, password string) (*LoginResult, error) {
	email = NormalizeEmail(email)

	// Policy snapshot for this request. A stale-by-one-write value is
	// accepted; per-user state transitions below stay consistent.
	maxAttempts := s.settings.GetInt(ctx, settings.KeyMaxFailedLoginAttempts, 5)
	lockoutMinutes := s.settings.GetInt(ctx, settings.KeyLockoutDurationMinutes, 30)
	verificationRequired := s.settings.GetBool(ctx, settings.KeyEmailVerificationNeeded, true)

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if err == ErrUserNotFound {
			// Enumeration resistance: identical shape to a
			// wrong-password denial, and the attempt is still
			// recorded under the claimed email.
			s.recordAttempt(ctx, ip, email, false)
			s.auditLogger.Log(ctx, audit.Event{
				Type:      audit.TypeLoginFailed,
				Resource:  "login",
				IPAddress: ip,
				Metadata:  map[string]any{audit.AttrReason: "user_not_found", audit.AttrEmail: email},
			})
			s.meter.RecordLoginAttempt(ctx, DenyInvalidCredentials)
			return &LoginResult{Denial: &Denial{
				Reason:            DenyInvalidCredentials,
				RemainingAttempts: -1,
			}}, nil
		}
		return nil, fmt.Errorf("failed to look up account: %w", err)
	}

	// 1. Lockout check, with lazy auto-unlock.
	if user.IsLocked {
		unlocked, err := s.maybeAutoUnlock(ctx, user, lockoutMinutes)
		if err != nil {
			return nil, err
		}
		if !unlocked {
			reason := DenyLocked
			if lockoutMinutes == 0 {
				reason = DenyLockedPermanent
			}
			s.recordAttempt(ctx, ip, email, false)
			s.auditLogger.Log(ctx, audit.Event{
				Type:      audit.TypeLoginFailed,
				TenantID:  user.TenantID,
				ActorID:   user.ID,
				Resource:  "login",
				IPAddress: ip,
				Metadata:  map[string]any{audit.AttrReason: reason},
			})
			s.meter.RecordLoginAttempt(ctx, reason)
			return &LoginResult{Denial: &Denial{
				Reason:            reason,
				RemainingAttempts: -1,
				Threshold:         maxAttempts,
				LockoutMinutes:    lockoutMinutes,
			}}, nil
		}
	}

	// 2. Verification check.
	if verificationRequired && !user.IsVerified {
		s.recordAttempt(ctx, ip, email, false)
		s.auditLogger.Log(ctx, audit.Event{
			Type:      audit.TypeLoginFailed,
			TenantID:  user.TenantID,
			ActorID:   user.ID,
			Resource:  "login",
			IPAddress: ip,
			Metadata:  map[string]any{audit.AttrReason: DenyUnverified},
		})
		s.meter.RecordLoginAttempt(ctx, DenyUnverified)
		return &LoginResult{Denial: &Denial{
			Reason:            DenyUnverified,
			RemainingAttempts: -1,
		}}, nil
	}

	// 3. Credential check.
	valid, err := s.hasher.Verify(password, user.PasswordHash)
	if err != nil || !valid {
		return s.handleFailedCredential(ctx, ip, user, maxAttempts, lockoutMinutes)
	}

	return s.handleSuccess(ctx, ip, user)
}

// maybeAutoUnlock transitions a locked account back to active when the
// configured lockout duration has elapsed. Duration 0 means the lock is
// permanent and never expires. Returns true when the account was
// unlocked and the attempt may proceed to credential evaluation.
func (s *Service) maybeAutoUnlock(ctx context.Context, user *User, lockoutMinutes int) (bool, error) {
	if lockoutMinutes == 0 || user.LockedAt == nil {
		return false, nil
	}
	if time.Since(*user.LockedAt) < time.Duration(lockoutMinutes)*time.Minute {
		return false, nil
	}

	if err := s.users.Unlock(ctx, user.ID); err != nil {
		return false, fmt.Errorf("failed to auto-unlock account: %w", err)
	}
	user.IsLocked = false
	user.FailedLoginAttempts = 0
	user.LockedAt = nil

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeUserUnlocked,
		TenantID: user.TenantID,
		ActorID:  user.ID,
		Resource: "login",
		Metadata: map[string]any{audit.AttrReason: "lockout_expired"},
	})
	slog.InfoContext(ctx, "account auto-unlocked", logger.UserID(user.ID))
	return true, nil
}

// handleFailedCredential runs the failed-attempt transition: atomic
// counter increment and, at threshold, the lock transition.
func (s *Service) handleFailedCredential(ctx context.Context, ip string, user *User, maxAttempts, lockoutMinutes int) (*LoginResult, error) {
	newCount, err := s.users.IncrementFailedAttempts(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to record failed attempt: %w", err)
	}

	s.recordAttempt(ctx, ip, user.Email, false)

	if newCount >= maxAttempts {
		if err := s.users.Lock(ctx, user.ID); err != nil {
			return nil, fmt.Errorf("failed to lock account: %w", err)
		}

		reason := DenyLocked
		if lockoutMinutes == 0 {
			reason = DenyLockedPermanent
		}
		s.auditLogger.Log(ctx, audit.Event{
			Type:      audit.TypeUserLocked,
			TenantID:  user.TenantID,
			ActorID:   user.ID,
			Resource:  "login",
			IPAddress: ip,
			Metadata:  map[string]any{audit.AttrAttempts: newCount},
		})
		s.meter.RecordLockout(ctx)
		s.meter.RecordLoginAttempt(ctx, reason)
		return &LoginResult{Denial: &Denial{
			Reason:            reason,
			RemainingAttempts: 0,
			Threshold:         maxAttempts,
			LockoutMinutes:    lockoutMinutes,
		}}, nil
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:      audit.TypeLoginFailed,
		TenantID:  user.TenantID,
		ActorID:   user.ID,
		Resource:  "login",
		IPAddress: ip,
		Metadata: map[string]any{
			audit.AttrReason:   "invalid_password",
			audit.AttrAttempts: newCount,
		},
	})
	s.meter.RecordLoginAttempt(ctx, DenyInvalidCredentials)
	return &LoginResult{Denial: &Denial{
		Reason:            DenyInvalidCredentials,
		RemainingAttempts: maxAttempts - newCount,
		Threshold:         maxAttempts,
	}}, nil
}

// handleSuccess resets counters, records the attempt and issues tokens.
func (s *Service) handleSuccess(ctx context.Context, ip string, user *User) (*LoginResult, error) {
	if user.FailedLoginAttempts > 0 {
		if err := s.users.ResetFailedAttempts(ctx, user.ID); err != nil {
			return nil, fmt.Errorf("failed to reset attempt counter: %w", err)
		}
		user.FailedLoginAttempts = 0
	}

	s.recordAttempt(ctx, ip, user.Email, true)

	accessToken, err := s.issuer.IssueAccessToken(user.ID, user.Email, user.Role, user.TenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to issue access token: %w", err)
	}

	refreshToken, err := s.issuer.IssueRefreshToken(user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to issue refresh token: %w", err)
	}
	if err := s.refreshRepo.Create(ctx, refreshToken); err != nil {
		return nil, fmt.Errorf("failed to persist refresh token: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:      audit.TypeLoginSuccess,
		TenantID:  user.TenantID,
		ActorID:   user.ID,
		Resource:  "login",
		IPAddress: ip,
	})
	s.meter.RecordLoginAttempt(ctx, "success")

	return &LoginResult{
		User:         user,
		AccessToken:  accessToken,
		RefreshToken: refreshToken.Token,
		ExpiresIn:    int64(s.issuer.AccessTokenTTL().Seconds()),
	}, nil
}

// recordAttempt appends a login-attempt fact. Fire-and-forget: failures
// are logged and never change the login outcome.
func (s *Service) recordAttempt(ctx context.Context, ip, email string, success bool) {
	if err := s.attempts.RecordAttempt(ctx, ip, email, success); err != nil {
		slog.WarnContext(ctx, "failed to record login attempt",
			logger.Error(err), logger.Email(email))
	}
}

// Register creates an account through public signup. Gated by the
// allow_public_signup setting; the new account receives the configured
// default public role and starts unverified.
func (s *Service) Register(ctx context.Context, ip, email, password, tenantID, fullName string) (*User, error) {
	if !s.settings.GetBool(ctx, settings.KeyAllowPublicSignup, true) {
		return nil, ErrSignupDisabled
	}
	role := s.settings.GetString(ctx, settings.KeyDefaultPublicRole, authz.RoleCustomer)
	return s.createUser(ctx, ip, email, password, role, tenantID, fullName, false)
}

// CreateUser creates an account on behalf of an authenticated actor.
// Gated by the allow_adding_new_users setting, the actor's create_user
// capability, the strict role hierarchy and the tenant guard. Accounts
// created by staff start verified.
func (s *Service) CreateUser(ctx context.Context, actor authz.Principal, ip, email, password, role, tenantID, fullName string) (*User, error) {
	if !s.settings.GetBool(ctx, settings.KeyAllowAddingNewUsers, true) {
		return nil, ErrUserCreateDisabled
	}
	if !authz.HasPermission(actor.Role, authz.PermCreateUser) {
		return nil, ErrNotAuthorized
	}
	if !authz.CanModifyRole(actor.Role, role) {
		return nil, ErrNotAuthorized
	}
	if authz.RequiresTenant(role) {
		if d := authz.CheckTenantAccess(actor, tenantID); !d.Allowed {
			return nil, ErrNotAuthorized
		}
	}

	user, err := s.createUser(ctx, ip, email, password, role, tenantID, fullName, true)
	if err != nil {
		return nil, err
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:      audit.TypeRoleAssigned,
		TenantID:  tenantID,
		ActorID:   actor.UserID,
		Resource:  role,
		IPAddress: ip,
		Metadata:  map[string]any{"user_id": user.ID},
	})
	return user, nil
}

func (s *Service) createUser(ctx context.Context, ip, email, password, role, tenantID, fullName string, verified bool) (*User, error) {
	email = NormalizeEmail(email)
	if !isValidEmail(email) {
		return nil, ErrInvalidEmail
	}
	if !authz.IsValidRole(role) {
		return nil, ErrInvalidRole
	}
	if authz.IsSystemRole(role) {
		tenantID = ""
	} else if tenantID == "" {
		return nil, ErrTenantRequired
	}

	minLength := s.settings.GetInt(ctx, settings.KeyMinPasswordLength, 4)
	if len(password) < minLength {
		return nil, ErrWeakPassword
	}

	if existing, err := s.users.GetByEmail(ctx, email); err == nil && existing != nil {
		return nil, ErrUserAlreadyExists
	}

	passwordHash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &User{
		ID:           id.NewUUIDv7(),
		Email:        email,
		Role:         role,
		TenantID:     tenantID,
		PasswordHash: passwordHash,
		IsVerified:   verified,
		FullName:     fullName,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:      audit.TypeUserCreated,
		TenantID:  tenantID,
		ActorID:   user.ID,
		Resource:  "user",
		IPAddress: ip,
		Metadata:  map[string]any{audit.AttrEmail: email, "role": role},
	})
	return user, nil
}

// GetUser retrieves a user by ID.
func (s *Service) GetUser(ctx context.Context, userID string) (*User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// MarkVerified flips the verification flag after an out-of-band
// verification step completes.
func (s *Service) MarkVerified(ctx context.Context, userID string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return ErrUserNotFound
	}
	user.IsVerified = true
	return s.users.Update(ctx, user)
}

// NormalizeEmail lowercases and trims an email for lookup and storage.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func isValidEmail(email string) bool {
	at := strings.IndexByte(email, '@')
	return len(email) > 3 && len(email) < 255 && at > 0 && at < len(email)-1
}
