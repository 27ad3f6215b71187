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

package settings

import (
	"fmt"
	"strings"

	"github.com/authgate/authgate/internal/authz"
)

type valueKind int

const (
	kindBool valueKind = iota
	kindInt
	kindString
)

// allowedKeys maps each writable key to its required value kind.
var allowedKeys = map[string]valueKind{
	KeyAllowPublicSignup:       kindBool,
	KeyAllowAddingNewUsers:     kindBool,
	KeyRequireOTPOnRegister:    kindBool,
	KeyEmailVerificationNeeded: kindBool,
	KeyDefaultPublicRole:       kindString,
	KeyMinPasswordLength:       kindInt,
	KeyMaxFailedLoginAttempts:  kindInt,
	KeyLockoutDurationMinutes:  kindInt,
}

// Validate checks a proposed settings update against the closed key set
// and the per-key type and range constraints. Every key is validated
// independently: one invalid key never aborts validation of the others.
// Returns the normalized valid values and a field-level error map.
func Validate(input map[string]any) (map[string]any, map[string]string) {
	valid := make(map[string]any, len(input))
	errs := make(map[string]string)

	for key, value := range input {
		kind, ok := allowedKeys[key]
		if !ok {
			errs[key] = fmt.Sprintf("unknown setting: %s", key)
			continue
		}

		switch kind {
		case kindBool:
			b, ok := value.(bool)
			if !ok {
				errs[key] = fmt.Sprintf("invalid type: expected bool, got %T", value)
				continue
			}
			valid[key] = b

		case kindInt:
			n, ok := asInt(value)
			if !ok {
				errs[key] = fmt.Sprintf("invalid type: expected int, got %T", value)
				continue
			}
			if msg := checkIntRange(key, n); msg != "" {
				errs[key] = msg
				continue
			}
			valid[key] = n

		case kindString:
			str, ok := value.(string)
			if !ok {
				errs[key] = fmt.Sprintf("invalid type: expected string, got %T", value)
				continue
			}
			if key == KeyDefaultPublicRole && !authz.IsValidRole(str) {
				errs[key] = fmt.Sprintf("invalid role: must be one of %s",
					strings.Join(authz.ValidRoles(), ", "))
				continue
			}
			valid[key] = str
		}
	}

	return valid, errs
}

// asInt accepts native ints and JSON-decoded numbers. Fractional values
// are rejected.
func asInt(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		if v != float64(int(v)) {
			return 0, false
		}
		return int(v), true
	default:
		return 0, false
	}
}

func checkIntRange(key string, n int) string {
	switch key {
	case KeyMinPasswordLength:
		if n < 4 {
			return "minimum password length must be at least 4"
		}
		if n > 128 {
			return "minimum password length cannot exceed 128"
		}
	case KeyMaxFailedLoginAttempts:
		if n < 1 {
			return "maximum failed login attempts must be at least 1"
		}
		if n > 100 {
			return "maximum failed login attempts cannot exceed 100"
		}
	case KeyLockoutDurationMinutes:
		if n < 0 {
			return "account lockout duration cannot be negative (use 0 for permanent lock)"
		}
		if n > 10080 {
			return "account lockout duration cannot exceed 10080 minutes (7 days)"
		}
	}
	return ""
}
