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

// Package authz defines the static role hierarchy, the permission table
// and the tenant isolation guard. Everything here is pure: no storage,
// no mutable state, and expected denials are return values, not errors.
package authz

// -----------------------------------------------------------------------------
// Role Name Constants
// These are the canonical role names stored on user records.
// -----------------------------------------------------------------------------

const (
	// RoleMaster is the single system role with unrestricted authority
	// across all tenants. It carries no tenant association.
	RoleMaster = "master"

	// RoleAdmin is a staff-type role scoped to a single tenant.
	RoleAdmin = "admin"

	// RoleStaff is a staff-type role scoped to a single tenant,
	// below admin in authority.
	RoleStaff = "staff"

	// RoleCustomer is the customer-facing role scoped to a single tenant.
	RoleCustomer = "customer"
)

// Capability names granted through the permission table.
const (
	PermManageSettings = "manage_settings"
	PermCreateUser     = "create_user"
	PermAssignRole     = "assign_role"
	PermViewUsers      = "view_users"
	PermReadProfile    = "read_profile"
	PermWriteProfile   = "write_profile"
)

// systemRoles, internalRoles and externalRoles partition the valid role
// set into three disjoint classes. Their union is the full valid set.
var (
	systemRoles = map[string]struct{}{
		RoleMaster: {},
	}

	internalRoles = map[string]struct{}{
		RoleAdmin: {},
		RoleStaff: {},
	}

	externalRoles = map[string]struct{}{
		RoleCustomer: {},
	}
)

// roleRank orders roles by authority. A role may modify another role only
// if its rank is strictly greater. Equal rank is a denial: lateral
// modification (one admin editing another admin's role) is disallowed.
var roleRank = map[string]int{
	RoleMaster:   100,
	RoleAdmin:    80,
	RoleStaff:    60,
	RoleCustomer: 40,
}

// rolePermissions is the static permission table. Immutable at runtime;
// changing it requires a deployment, not a request.
var rolePermissions = map[string]map[string]struct{}{
	RoleMaster: permSet(
		PermManageSettings,
		PermCreateUser,
		PermAssignRole,
		PermViewUsers,
		PermReadProfile,
		PermWriteProfile,
	),
	RoleAdmin: permSet(
		PermCreateUser,
		PermAssignRole,
		PermViewUsers,
		PermReadProfile,
		PermWriteProfile,
	),
	RoleStaff: permSet(
		PermViewUsers,
		PermReadProfile,
		PermWriteProfile,
	),
	RoleCustomer: permSet(
		PermReadProfile,
		PermWriteProfile,
	),
}

func permSet(perms ...string) map[string]struct{} {
	s := make(map[string]struct{}, len(perms))
	for _, p := range perms {
		s[p] = struct{}{}
	}
	return s
}

// IsSystemRole reports whether role is the unrestricted system role.
// Unrecognized roles answer false, never an error.
func IsSystemRole(role string) bool {
	_, ok := systemRoles[role]
	return ok
}

// IsInternalRole reports whether role is a tenant-scoped staff role.
func IsInternalRole(role string) bool {
	_, ok := internalRoles[role]
	return ok
}

// IsExternalRole reports whether role is a tenant-scoped customer role.
func IsExternalRole(role string) bool {
	_, ok := externalRoles[role]
	return ok
}

// IsValidRole reports whether role belongs to the fixed role set.
func IsValidRole(role string) bool {
	return IsSystemRole(role) || IsInternalRole(role) || IsExternalRole(role)
}

// ValidRoles returns the full valid role set in descending authority order.
func ValidRoles() []string {
	return []string{RoleMaster, RoleAdmin, RoleStaff, RoleCustomer}
}

// HasPermission reports whether role is granted the named capability.
// Unknown roles hold no permissions.
func HasPermission(role, capability string) bool {
	perms, ok := rolePermissions[role]
	if !ok {
		return false
	}
	_, ok = perms[capability]
	return ok
}

// CanModifyRole reports whether actingRole may create or modify a user
// holding targetRole. The acting rank must be strictly greater; equal
// rank is denied. Checked on every write that changes a role field.
func CanModifyRole(actingRole, targetRole string) bool {
	acting, ok := roleRank[actingRole]
	if !ok {
		return false
	}
	target, ok := roleRank[targetRole]
	if !ok {
		return false
	}
	return acting > target
}
