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

package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/authgate/authgate/internal/audit"
	"github.com/authgate/authgate/internal/authz"
	"github.com/authgate/authgate/internal/identity"
	"github.com/authgate/authgate/internal/observability/logger"
	"github.com/authgate/authgate/internal/settings"
	"github.com/authgate/authgate/internal/token"
)

// Handler holds HTTP handlers and dependencies
type Handler struct {
	identityService *identity.Service
	settingsStore   *settings.Store
	issuer          *token.Issuer
	auditLogger     audit.Logger
	validate        *validator.Validate
	loginPerMinute  int
}

// NewHandler creates a new HTTP handler
func NewHandler(
	identityService *identity.Service,
	settingsStore *settings.Store,
	issuer *token.Issuer,
	auditLogger audit.Logger,
	loginPerMinute int,
) *Handler {
	return &Handler{
		identityService: identityService,
		settingsStore:   settingsStore,
		issuer:          issuer,
		auditLogger:     auditLogger,
		validate:        validator.New(),
		loginPerMinute:  loginPerMinute,
	}
}

// NewRouter creates a new HTTP router
func NewRouter(h *Handler, rateLimiter *RateLimiter) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(RateLimitMiddleware(rateLimiter))
	r.Use(func(handler http.Handler) http.Handler {
		return otelhttp.NewHandler(handler, "http_request",
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	})
	r.Use(LoggingMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check
	r.Get("/health", h.HealthCheck)

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints. Login carries its own tighter per-IP limit
		// on top of the global one.
		r.Post("/auth/register", h.Register)
		r.With(httprate.LimitByIP(h.loginPerMinute, time.Minute)).
			Post("/auth/login", h.Login)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(h.AuthMiddleware)

			r.Get("/auth/me", h.GetCurrentUser)

			r.With(h.RequirePermission(authz.PermCreateUser)).
				Post("/users", h.CreateUser)

			r.Route("/settings", func(r chi.Router) {
				r.Use(h.RequirePermission(authz.PermManageSettings))
				r.Get("/", h.GetSettings)
				r.Put("/", h.UpdateSettings)
			})
		})
	})

	return r
}

// HealthCheck returns the health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "authgate",
	})
}

// RegisterRequest represents public signup data
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	TenantID string `json:"tenant_id" validate:"required"`
	FullName string `json:"full_name"`
}

// Register handles public signup
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	user, err := h.identityService.Register(r.Context(), getIPAddress(r), req.Email, req.Password, req.TenantID, req.FullName)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrSignupDisabled):
			respondError(w, http.StatusForbidden, "public signup is disabled")
		case errors.Is(err, identity.ErrUserAlreadyExists):
			respondError(w, http.StatusConflict, "user already exists")
		case errors.Is(err, identity.ErrInvalidEmail):
			respondError(w, http.StatusBadRequest, "invalid email address")
		case errors.Is(err, identity.ErrWeakPassword):
			respondError(w, http.StatusBadRequest, "password does not meet security requirements")
		case errors.Is(err, identity.ErrTenantRequired):
			respondError(w, http.StatusBadRequest, "tenant_id is required")
		default:
			slog.ErrorContext(r.Context(), "failed to register user",
				logger.Error(err),
				logger.Email(req.Email),
			)
			respondError(w, http.StatusInternalServerError, "failed to create user")
		}
		return
	}

	respondJSON(w, http.StatusCreated, userResponse(user))
}

// LoginRequest represents login credentials
type LoginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// Login handles user login. Credential denials share one status and
// message shape whether the email exists or not; a known account's
// denial additionally reports the remaining attempts before lockout.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	result, err := h.identityService.Login(r.Context(), getIPAddress(r), req.Email, req.Password)
	if err != nil {
		slog.ErrorContext(r.Context(), "login failed on a storage dependency", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "login unavailable")
		return
	}

	if d := result.Denial; d != nil {
		switch d.Reason {
		case identity.DenyLocked:
			// RemainingAttempts 0 marks the attempt that crossed the
			// threshold; later attempts against the standing lock get
			// the generic message.
			if d.RemainingAttempts == 0 {
				respondError(w, http.StatusForbidden, fmt.Sprintf(
					"account locked for %d minutes due to %d failed login attempts",
					d.LockoutMinutes, d.Threshold))
			} else {
				respondError(w, http.StatusForbidden, "account is locked due to too many failed login attempts, try again later")
			}
		case identity.DenyLockedPermanent:
			if d.RemainingAttempts == 0 {
				respondError(w, http.StatusForbidden, fmt.Sprintf(
					"account permanently locked due to %d failed login attempts, contact support",
					d.Threshold))
			} else {
				respondError(w, http.StatusForbidden, "account is permanently locked, contact support")
			}
		case identity.DenyUnverified:
			respondError(w, http.StatusForbidden, "email address not verified")
		default:
			// Same status and shape whether or not the email exists;
			// the attempt count appears only for a known account.
			if d.RemainingAttempts >= 0 {
				respondError(w, http.StatusUnauthorized, fmt.Sprintf(
					"invalid email or password, %d attempts remaining", d.RemainingAttempts))
			} else {
				respondError(w, http.StatusUnauthorized, "invalid email or password")
			}
		}
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"access_token":  result.AccessToken,
		"refresh_token": result.RefreshToken,
		"token_type":    "Bearer",
		"expires_in":    result.ExpiresIn,
		"user":          userResponse(result.User),
	})
}

// GetCurrentUser returns the authenticated account
func (h *Handler) GetCurrentUser(w http.ResponseWriter, r *http.Request) {
	principal, ok := GetPrincipal(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	user, err := h.identityService.GetUser(r.Context(), principal.UserID)
	if err != nil {
		respondError(w, http.StatusNotFound, "user not found")
		return
	}

	respondJSON(w, http.StatusOK, userResponse(user))
}

// CreateUserRequest represents administrative user creation data
type CreateUserRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	Role     string `json:"role" validate:"required"`
	TenantID string `json:"tenant_id"`
	FullName string `json:"full_name"`
}

// CreateUser creates an account on behalf of the authenticated actor
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	principal, ok := GetPrincipal(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	user, err := h.identityService.CreateUser(r.Context(), principal, getIPAddress(r),
		req.Email, req.Password, req.Role, req.TenantID, req.FullName)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrUserCreateDisabled):
			respondError(w, http.StatusForbidden, "adding new users is disabled")
		case errors.Is(err, identity.ErrNotAuthorized):
			h.auditLogger.Log(r.Context(), audit.Event{
				Type:      audit.TypeAccessDenied,
				TenantID:  principal.TenantID,
				ActorID:   principal.UserID,
				Resource:  "user",
				IPAddress: getIPAddress(r),
				Metadata:  map[string]any{audit.AttrReason: "role_hierarchy", "target_role": req.Role},
			})
			respondError(w, http.StatusForbidden, "not authorized to create this user")
		case errors.Is(err, identity.ErrUserAlreadyExists):
			respondError(w, http.StatusConflict, "user already exists")
		case errors.Is(err, identity.ErrInvalidRole):
			respondError(w, http.StatusBadRequest, "invalid role")
		case errors.Is(err, identity.ErrInvalidEmail):
			respondError(w, http.StatusBadRequest, "invalid email address")
		case errors.Is(err, identity.ErrWeakPassword):
			respondError(w, http.StatusBadRequest, "password does not meet security requirements")
		case errors.Is(err, identity.ErrTenantRequired):
			respondError(w, http.StatusBadRequest, "tenant_id is required for this role")
		default:
			slog.ErrorContext(r.Context(), "failed to create user", logger.Error(err))
			respondError(w, http.StatusInternalServerError, "failed to create user")
		}
		return
	}

	respondJSON(w, http.StatusCreated, userResponse(user))
}

// GetSettings returns the tunable settings. Internal bookkeeping keys
// never leave the service.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	all := h.settingsStore.GetAll(r.Context())
	public := make(map[string]any, len(all))
	for k, v := range all {
		if settings.IsInternalKey(k) {
			continue
		}
		public[k] = v
	}
	respondJSON(w, http.StatusOK, public)
}

// UpdateSettings validates and applies a batch of setting changes.
// Validation is all-or-nothing; persistence is per key, with failures
// reported individually.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	principal, _ := GetPrincipal(r.Context())

	var input map[string]any
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(input) == 0 {
		respondError(w, http.StatusBadRequest, "no settings provided")
		return
	}

	normalized, fieldErrors := settings.Validate(input)
	if len(fieldErrors) > 0 {
		respondJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "validation failed",
			"fields": fieldErrors,
		})
		return
	}

	keys := make([]string, 0, len(normalized))
	for k := range normalized {
		keys = append(keys, k)
	}

	if failed := h.settingsStore.SetMany(r.Context(), normalized); failed != nil {
		for key, err := range failed {
			slog.ErrorContext(r.Context(), "failed to persist setting",
				logger.SettingKey(key), logger.Error(err))
		}
		failedKeys := make([]string, 0, len(failed))
		for key := range failed {
			failedKeys = append(failedKeys, key)
		}
		respondJSON(w, http.StatusInternalServerError, map[string]any{
			"error":       "some settings failed to persist",
			"failed_keys": failedKeys,
		})
		return
	}

	h.auditLogger.Log(r.Context(), audit.Event{
		Type:      audit.TypeSettingsUpdated,
		TenantID:  principal.TenantID,
		ActorID:   principal.UserID,
		Resource:  "settings",
		IPAddress: getIPAddress(r),
		Metadata:  map[string]any{audit.AttrKeys: keys},
	})

	respondJSON(w, http.StatusOK, map[string]string{
		"message": "settings updated successfully",
	})
}

// Helper functions

// userResponse shapes a user for API responses. The password hash and
// lockout internals stay server-side.
func userResponse(user *identity.User) map[string]any {
	return map[string]any{
		"user_id":     user.ID,
		"email":       user.Email,
		"role":        user.Role,
		"tenant_id":   user.TenantID,
		"is_verified": user.IsVerified,
		"full_name":   user.FullName,
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}

func getIPAddress(r *http.Request) string {
	// Check X-Forwarded-For header first
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	// Check X-Real-IP header
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
