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

package authz

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestPurpose: Validates that the three role classes are mutually exclusive
// and collectively cover the valid role set.
// Scope: Unit Test
// Security: Role classification underpins every tenant-isolation decision.
// Test Case ID: AZ-01
func TestRoleClassification(t *testing.T) {
	for _, role := range ValidRoles() {
		classes := 0
		if IsSystemRole(role) {
			classes++
		}
		if IsInternalRole(role) {
			classes++
		}
		if IsExternalRole(role) {
			classes++
		}
		assert.Equal(t, 1, classes, "role %q must belong to exactly one class", role)
		assert.True(t, IsValidRole(role))
	}

	// Unrecognized roles answer no to everything, without panicking.
	for _, bogus := range []string{"", "root", "superadmin", "MASTER"} {
		assert.False(t, IsSystemRole(bogus))
		assert.False(t, IsInternalRole(bogus))
		assert.False(t, IsExternalRole(bogus))
		assert.False(t, IsValidRole(bogus))
	}
}

// TestPurpose: Validates the strict authority ordering of CanModifyRole
// across every role pair, including the equal-rank (lateral) denial.
// Scope: Unit Test
// Security: Prevents role escalation via user-management endpoints.
// Test Case ID: AZ-02
func TestCanModifyRole(t *testing.T) {
	tests := []struct {
		acting string
		target string
		want   bool
	}{
		{RoleMaster, RoleAdmin, true},
		{RoleMaster, RoleStaff, true},
		{RoleMaster, RoleCustomer, true},
		{RoleAdmin, RoleMaster, false},
		{RoleAdmin, RoleStaff, true},
		{RoleAdmin, RoleCustomer, true},
		{RoleStaff, RoleAdmin, false},
		{RoleStaff, RoleCustomer, true},
		{RoleCustomer, RoleStaff, false},

		// Lateral modification is denied.
		{RoleMaster, RoleMaster, false},
		{RoleAdmin, RoleAdmin, false},
		{RoleStaff, RoleStaff, false},
		{RoleCustomer, RoleCustomer, false},

		// Unknown roles on either side fail closed.
		{"root", RoleCustomer, false},
		{RoleMaster, "root", false},
	}

	for _, tt := range tests {
		got := CanModifyRole(tt.acting, tt.target)
		assert.Equal(t, tt.want, got, "CanModifyRole(%q, %q)", tt.acting, tt.target)
	}
}

// TestPurpose: Validates the permission table lookups, including unknown
// roles and unknown capabilities.
// Scope: Unit Test
// Test Case ID: AZ-03
func TestHasPermission(t *testing.T) {
	assert.True(t, HasPermission(RoleMaster, PermManageSettings))
	assert.False(t, HasPermission(RoleAdmin, PermManageSettings), "settings are master-only")
	assert.False(t, HasPermission(RoleStaff, PermCreateUser))
	assert.True(t, HasPermission(RoleAdmin, PermCreateUser))
	assert.True(t, HasPermission(RoleCustomer, PermReadProfile))
	assert.False(t, HasPermission(RoleCustomer, PermViewUsers))
	assert.False(t, HasPermission("root", PermReadProfile))
	assert.False(t, HasPermission(RoleMaster, "launch_missiles"))
}

// TestPurpose: Validates tenant requirement classification per role.
// Scope: Unit Test
// Test Case ID: AZ-04
func TestRequiresTenant(t *testing.T) {
	assert.False(t, RequiresTenant(RoleMaster))
	assert.True(t, RequiresTenant(RoleAdmin))
	assert.True(t, RequiresTenant(RoleStaff))
	assert.True(t, RequiresTenant(RoleCustomer))
	assert.True(t, RequiresTenant("bogus"), "unknown roles must not bypass tenant checks")
}

// TestPurpose: Validates tenant isolation decisions across principals and
// resource tenants: system bypass, exact match, mismatch, and the
// fail-closed path for scoped principals missing a tenant.
// Scope: Unit Test
// Security: Core tenant-isolation invariant.
// Test Case ID: AZ-05
func TestCheckTenantAccess(t *testing.T) {
	tests := []struct {
		name       string
		principal  Principal
		resource   string
		wantAllow  bool
		wantReason string
	}{
		{
			name:       "system role bypasses any tenant",
			principal:  Principal{UserID: "u1", Role: RoleMaster},
			resource:   "tenant-a",
			wantAllow:  true,
			wantReason: ReasonSystemBypass,
		},
		{
			name:       "system role allowed for empty resource tenant",
			principal:  Principal{UserID: "u1", Role: RoleMaster},
			resource:   "",
			wantAllow:  true,
			wantReason: ReasonSystemBypass,
		},
		{
			name:       "internal role matching tenant",
			principal:  Principal{UserID: "u2", Role: RoleAdmin, TenantID: "tenant-a"},
			resource:   "tenant-a",
			wantAllow:  true,
			wantReason: ReasonTenantMatch,
		},
		{
			name:       "internal role mismatched tenant",
			principal:  Principal{UserID: "u2", Role: RoleAdmin, TenantID: "tenant-a"},
			resource:   "tenant-b",
			wantAllow:  false,
			wantReason: ReasonTenantMismatch,
		},
		{
			name:       "external role mismatched tenant",
			principal:  Principal{UserID: "u3", Role: RoleCustomer, TenantID: "tenant-b"},
			resource:   "tenant-a",
			wantAllow:  false,
			wantReason: ReasonTenantMismatch,
		},
		{
			name:       "scoped principal without tenant fails closed",
			principal:  Principal{UserID: "u4", Role: RoleStaff},
			resource:   "tenant-a",
			wantAllow:  false,
			wantReason: ReasonMissingTenant,
		},
		{
			name:       "unknown role fails closed",
			principal:  Principal{UserID: "u5", Role: "root", TenantID: "tenant-a"},
			resource:   "tenant-a",
			wantAllow:  false,
			wantReason: ReasonUnknownRole,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := CheckTenantAccess(tt.principal, tt.resource)
			assert.Equal(t, tt.wantAllow, d.Allowed)
			assert.Equal(t, tt.wantReason, d.Reason)
		})
	}
}
