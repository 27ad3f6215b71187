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

// Package settings provides runtime-tunable application configuration:
// a closed set of typed keys persisted in storage and served through a
// read-through, process-local cache. Policy knobs for account security
// (lockout threshold, lockout duration, verification requirement) live
// here rather than in environment config so they can be changed without
// a redeploy.
package settings

// Public setting keys. The set is closed: writes to any other key are
// rejected during validation.
const (
	KeyAllowPublicSignup       = "allow_public_signup"
	KeyAllowAddingNewUsers     = "allow_adding_new_users"
	KeyRequireOTPOnRegister    = "require_otp_on_registration"
	KeyEmailVerificationNeeded = "email_verification_required"
	KeyDefaultPublicRole       = "default_public_role"
	KeyMinPasswordLength       = "min_password_length"
	KeyMaxFailedLoginAttempts  = "max_failed_login_attempts"
	KeyLockoutDurationMinutes  = "account_lockout_duration_minutes"
)

// Internal bookkeeping keys. Never exposed through the settings API.
const (
	keyInitialized = "_initialized"
	keyVersion     = "_version"
)

const schemaVersion = "1.0"

// Defaults returns the seed values written at first initialization and
// used as the degraded fallback when storage is unreachable. Callers
// receive a fresh copy.
func Defaults() map[string]any {
	return map[string]any{
		KeyAllowPublicSignup:       true,
		KeyAllowAddingNewUsers:     true,
		KeyRequireOTPOnRegister:    true,
		KeyEmailVerificationNeeded: true,
		KeyDefaultPublicRole:       "customer",

		KeyMinPasswordLength: 4,

		KeyMaxFailedLoginAttempts: 5,
		KeyLockoutDurationMinutes: 30, // 0 = permanent lock

		keyInitialized: true,
		keyVersion:     schemaVersion,
	}
}

// IsInternalKey reports whether key is bookkeeping state that must not
// appear in API responses or accept writes.
func IsInternalKey(key string) bool {
	return len(key) > 0 && key[0] == '_'
}
