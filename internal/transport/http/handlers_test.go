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
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authgate/authgate/internal/audit"
	"github.com/authgate/authgate/internal/authz"
	"github.com/authgate/authgate/internal/identity"
	"github.com/authgate/authgate/internal/observability/metrics"
	"github.com/authgate/authgate/internal/settings"
	"github.com/authgate/authgate/internal/token"
)

// ---- in-memory backends ----

type memUserRepo struct {
	mu    sync.Mutex
	users map[string]*identity.User
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: make(map[string]*identity.User)}
}

func (m *memUserRepo) Create(ctx context.Context, user *identity.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == user.Email {
			return identity.ErrUserAlreadyExists
		}
	}
	m.users[user.ID] = user
	return nil
}

func (m *memUserRepo) GetByID(ctx context.Context, id string) (*identity.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return nil, identity.ErrUserNotFound
}

func (m *memUserRepo) GetByEmail(ctx context.Context, email string) (*identity.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, identity.ErrUserNotFound
}

func (m *memUserRepo) Update(ctx context.Context, user *identity.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.ID] = user
	return nil
}

func (m *memUserRepo) IncrementFailedAttempts(ctx context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return 0, identity.ErrUserNotFound
	}
	u.FailedLoginAttempts++
	return u.FailedLoginAttempts, nil
}

func (m *memUserRepo) ResetFailedAttempts(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[userID]; ok {
		u.FailedLoginAttempts = 0
	}
	return nil
}

func (m *memUserRepo) Lock(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[userID]; ok {
		now := time.Now()
		u.IsLocked = true
		u.LockedAt = &now
	}
	return nil
}

func (m *memUserRepo) Unlock(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[userID]; ok {
		u.IsLocked = false
		u.LockedAt = nil
		u.FailedLoginAttempts = 0
	}
	return nil
}

type memAttemptRecorder struct{}

func (memAttemptRecorder) RecordAttempt(ctx context.Context, ip, email string, success bool) error {
	return nil
}

type memRefreshRepo struct{}

func (memRefreshRepo) Create(ctx context.Context, t *token.RefreshToken) error { return nil }

type memSettingsRepo struct {
	mu     sync.Mutex
	values map[string]any
}

func (r *memSettingsRepo) GetAll(ctx context.Context) (map[string]any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]any, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out, nil
}

func (r *memSettingsRepo) Get(ctx context.Context, key string) (any, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.values[key]
	return v, ok, nil
}

func (r *memSettingsRepo) Put(ctx context.Context, key string, value any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[key] = value
	return nil
}

func (r *memSettingsRepo) PutIfAbsent(ctx context.Context, key string, value any) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.values[key]; ok {
		return false, nil
	}
	r.values[key] = value
	return true, nil
}

// ---- fixture ----

const handlerTestSecret = "0123456789abcdef0123456789abcdef"

type handlerFixture struct {
	router http.Handler
	users  *memUserRepo
	issuer *token.Issuer
	hasher *identity.PasswordHasher
}

func newHandlerFixture(t *testing.T, loginPerMinute int) *handlerFixture {
	t.Helper()

	users := newMemUserRepo()
	store := settings.NewStore(&memSettingsRepo{values: settings.Defaults()})
	issuer := token.NewIssuer(handlerTestSecret, "authgate", 15*time.Minute, 24*time.Hour)
	hasher := identity.NewPasswordHasher(8*1024, 1, 1, 16, 32)
	auditLogger := audit.NewSlogLogger()

	meter, err := metrics.New(context.Background(), metrics.Config{Enabled: false}, "test")
	require.NoError(t, err)

	svc := identity.NewService(users, memAttemptRecorder{}, memRefreshRepo{}, issuer, hasher, store, auditLogger, meter)
	h := NewHandler(svc, store, issuer, auditLogger, loginPerMinute)

	return &handlerFixture{
		router: NewRouter(h, NewRateLimiter(1000, 1000)),
		users:  users,
		issuer: issuer,
		hasher: hasher,
	}
}

func (f *handlerFixture) seedUser(t *testing.T, email, password, role, tenantID string) *identity.User {
	t.Helper()
	hash, err := f.hasher.Hash(password)
	require.NoError(t, err)
	user := &identity.User{
		ID:           "user-" + email,
		Email:        email,
		Role:         role,
		TenantID:     tenantID,
		PasswordHash: hash,
		IsVerified:   true,
	}
	require.NoError(t, f.users.Create(context.Background(), user))
	return user
}

func (f *handlerFixture) tokenFor(t *testing.T, user *identity.User) string {
	t.Helper()
	signed, err := f.issuer.IssueAccessToken(user.ID, user.Email, user.Role, user.TenantID)
	require.NoError(t, err)
	return signed
}

func (f *handlerFixture) do(t *testing.T, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

// ---- tests ----

// TestPurpose: Validates that an unknown email and a wrong password
// produce responses identical in status and message shape (one error
// field, same prefix), so the login endpoint cannot be used to
// enumerate accounts.
// Scope: Unit Test
// Security: Account enumeration resistance at the transport boundary.
// Test Case ID: API-01
func TestLogin_EnumerationResistance(t *testing.T) {
	f := newHandlerFixture(t, 100)
	f.seedUser(t, "alice@example.com", "correct-horse", authz.RoleAdmin, "tenant-a")

	unknown := f.do(t, http.MethodPost, "/api/v1/auth/login", "",
		map[string]string{"email": "ghost@example.com", "password": "whatever"})
	wrongPass := f.do(t, http.MethodPost, "/api/v1/auth/login", "",
		map[string]string{"email": "alice@example.com", "password": "wrong"})

	assert.Equal(t, http.StatusUnauthorized, unknown.Code)
	assert.Equal(t, unknown.Code, wrongPass.Code,
		"API-01: status must not distinguish unknown email from wrong password")

	var unknownBody, wrongBody map[string]string
	require.NoError(t, json.Unmarshal(unknown.Body.Bytes(), &unknownBody))
	require.NoError(t, json.Unmarshal(wrongPass.Body.Bytes(), &wrongBody))
	assert.Len(t, unknownBody, 1)
	assert.Len(t, wrongBody, 1, "API-01: both denials carry exactly one error field")
	assert.Contains(t, unknownBody["error"], "invalid email or password")
	assert.Contains(t, wrongBody["error"], "invalid email or password",
		"API-01: both denials share the same neutral message prefix")
}

// TestPurpose: Validates that a known account's wrong-password denial
// reports the remaining attempts counting down, and that the lock
// transition response names the lockout duration and threshold.
// Scope: Unit Test
// Test Case ID: API-08
func TestLogin_RemainingAttemptsReported(t *testing.T) {
	f := newHandlerFixture(t, 100)
	f.seedUser(t, "bob@example.com", "right-password", authz.RoleStaff, "tenant-a")

	body := map[string]string{"email": "bob@example.com", "password": "wrong"}
	for _, want := range []string{"4 attempts remaining", "3 attempts remaining", "2 attempts remaining", "1 attempts remaining"} {
		w := f.do(t, http.MethodPost, "/api/v1/auth/login", "", body)
		require.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), want)
	}

	// Fifth failure crosses the default threshold of 5.
	w := f.do(t, http.MethodPost, "/api/v1/auth/login", "", body)
	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "account locked for 30 minutes due to 5 failed login attempts")

	// The standing lock answers with the generic message.
	w = f.do(t, http.MethodPost, "/api/v1/auth/login", "",
		map[string]string{"email": "bob@example.com", "password": "right-password"})
	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "try again later")
}

// TestPurpose: Validates the successful login response shape: tokens,
// expiry and the user projection without credential material.
// Scope: Unit Test
// Test Case ID: API-02
func TestLogin_Success(t *testing.T) {
	f := newHandlerFixture(t, 100)
	f.seedUser(t, "alice@example.com", "correct-horse", authz.RoleAdmin, "tenant-a")

	w := f.do(t, http.MethodPost, "/api/v1/auth/login", "",
		map[string]string{"email": "alice@example.com", "password": "correct-horse"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["access_token"])
	assert.NotEmpty(t, resp["refresh_token"])
	assert.Equal(t, "Bearer", resp["token_type"])

	user, ok := resp["user"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "alice@example.com", user["email"])
	assert.NotContains(t, w.Body.String(), "password_hash")
}

// TestPurpose: Validates the per-IP login rate limit: requests beyond
// the configured budget are rejected with 429 before reaching the
// credential path.
// Scope: Unit Test
// Security: Online guessing throttle independent of the lockout counter.
// Test Case ID: API-03
func TestLogin_RateLimited(t *testing.T) {
	f := newHandlerFixture(t, 2)

	body := map[string]string{"email": "ghost@example.com", "password": "x"}
	for i := 0; i < 2; i++ {
		w := f.do(t, http.MethodPost, "/api/v1/auth/login", "", body)
		require.Equal(t, http.StatusUnauthorized, w.Code)
	}
	w := f.do(t, http.MethodPost, "/api/v1/auth/login", "", body)
	assert.Equal(t, http.StatusTooManyRequests, w.Code,
		"API-03: third login in the window must be throttled")
}

// TestPurpose: Validates bearer-token authentication on protected
// routes: missing, malformed and foreign tokens are rejected; a valid
// token resolves the current user; the tenant spoofing header is
// refused.
// Scope: Unit Test
// Security: Token verification and tenant context integrity.
// Test Case ID: API-04
func TestAuthMiddleware(t *testing.T) {
	f := newHandlerFixture(t, 100)
	alice := f.seedUser(t, "alice@example.com", "correct-horse", authz.RoleAdmin, "tenant-a")

	t.Run("missing token", func(t *testing.T) {
		w := f.do(t, http.MethodGet, "/api/v1/auth/me", "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("garbage token", func(t *testing.T) {
		w := f.do(t, http.MethodGet, "/api/v1/auth/me", "not-a-jwt", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("valid token", func(t *testing.T) {
		w := f.do(t, http.MethodGet, "/api/v1/auth/me", f.tokenFor(t, alice), nil)
		require.Equal(t, http.StatusOK, w.Code)

		var resp map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, alice.ID, resp["user_id"])
		assert.Equal(t, "tenant-a", resp["tenant_id"])
	})

	t.Run("tenant header rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
		req.Header.Set("Authorization", "Bearer "+f.tokenFor(t, alice))
		req.Header.Set("X-Tenant-ID", "tenant-b")
		w := httptest.NewRecorder()
		f.router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code,
			"API-04: tenant context must come from the token, never from headers")
	})
}

// TestPurpose: Validates settings management authorization and the
// update flow: only roles with manage_settings reach the endpoints,
// internal keys stay hidden, invalid values are rejected field by field,
// and valid updates round-trip.
// Scope: Unit Test
// Security: Settings capability boundary.
// Test Case ID: API-05
func TestSettingsEndpoints(t *testing.T) {
	f := newHandlerFixture(t, 100)
	master := f.seedUser(t, "root@example.com", "master-pass", authz.RoleMaster, "")
	customer := f.seedUser(t, "c@example.com", "customer-pass", authz.RoleCustomer, "tenant-a")

	t.Run("customer forbidden", func(t *testing.T) {
		w := f.do(t, http.MethodGet, "/api/v1/settings/", f.tokenFor(t, customer), nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("master reads settings without internal keys", func(t *testing.T) {
		w := f.do(t, http.MethodGet, "/api/v1/settings/", f.tokenFor(t, master), nil)
		require.Equal(t, http.StatusOK, w.Code)

		var resp map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Contains(t, resp, settings.KeyMaxFailedLoginAttempts)
		assert.NotContains(t, resp, "_initialized")
		assert.NotContains(t, resp, "_version")
	})

	t.Run("invalid values rejected per field", func(t *testing.T) {
		w := f.do(t, http.MethodPut, "/api/v1/settings/", f.tokenFor(t, master), map[string]any{
			settings.KeyMaxFailedLoginAttempts: 0,
			settings.KeyDefaultPublicRole:      "superuser",
		})
		require.Equal(t, http.StatusBadRequest, w.Code)

		var resp map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		fields, ok := resp["fields"].(map[string]any)
		require.True(t, ok)
		assert.Contains(t, fields, settings.KeyMaxFailedLoginAttempts)
		assert.Contains(t, fields, settings.KeyDefaultPublicRole)
	})

	t.Run("valid update round-trips", func(t *testing.T) {
		w := f.do(t, http.MethodPut, "/api/v1/settings/", f.tokenFor(t, master), map[string]any{
			settings.KeyMaxFailedLoginAttempts: 7,
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		w = f.do(t, http.MethodGet, "/api/v1/settings/", f.tokenFor(t, master), nil)
		require.Equal(t, http.StatusOK, w.Code)
		var resp map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.EqualValues(t, 7, resp[settings.KeyMaxFailedLoginAttempts])
	})
}

// TestPurpose: Validates administrative user creation over HTTP against
// the role hierarchy: lateral creation is refused, downward creation
// succeeds.
// Scope: Unit Test
// Security: Privilege escalation prevention at the API boundary.
// Test Case ID: API-06
func TestCreateUserEndpoint(t *testing.T) {
	f := newHandlerFixture(t, 100)
	admin := f.seedUser(t, "admin@example.com", "admin-pass", authz.RoleAdmin, "tenant-a")

	t.Run("admin creates staff", func(t *testing.T) {
		w := f.do(t, http.MethodPost, "/api/v1/users", f.tokenFor(t, admin), map[string]string{
			"email":     "staff@example.com",
			"password":  "staff-pass-123",
			"role":      authz.RoleStaff,
			"tenant_id": "tenant-a",
		})
		assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	})

	t.Run("admin cannot create admin", func(t *testing.T) {
		w := f.do(t, http.MethodPost, "/api/v1/users", f.tokenFor(t, admin), map[string]string{
			"email":     "admin2@example.com",
			"password":  "admin-pass-123",
			"role":      authz.RoleAdmin,
			"tenant_id": "tenant-a",
		})
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("customer forbidden by permission gate", func(t *testing.T) {
		customer := f.seedUser(t, "cust@example.com", "cust-pass", authz.RoleCustomer, "tenant-a")
		w := f.do(t, http.MethodPost, "/api/v1/users", f.tokenFor(t, customer), map[string]string{
			"email":     "x@example.com",
			"password":  "x-pass-1234",
			"role":      authz.RoleCustomer,
			"tenant_id": "tenant-a",
		})
		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}

// TestPurpose: Validates the health endpoint used by deployment probes.
// Scope: Unit Test
// Test Case ID: API-07
func TestHealthCheck(t *testing.T) {
	f := newHandlerFixture(t, 100)
	w := f.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}
