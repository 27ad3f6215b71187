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

// Principal is the authenticated actor a request runs as. TenantID is
// empty for the system role; tenant-scoped roles must carry one.
type Principal struct {
	UserID   string
	Role     string
	TenantID string
}

// Reason codes for tenant access decisions.
const (
	ReasonSystemBypass   = "system_bypass"
	ReasonTenantMatch    = "tenant_match"
	ReasonTenantMismatch = "tenant_mismatch"
	ReasonMissingTenant  = "missing_tenant"
	ReasonUnknownRole    = "unknown_role"
)

// Decision is the typed allow/deny result of a guard check.
type Decision struct {
	Allowed bool
	Reason  string
}

func allow(reason string) Decision { return Decision{Allowed: true, Reason: reason} }
func deny(reason string) Decision  { return Decision{Allowed: false, Reason: reason} }

// RequiresTenant reports whether role must carry a tenant association.
// True for internal and external roles, false for the system role.
// Unknown roles require a tenant so they fail closed downstream.
func RequiresTenant(role string) bool {
	return !IsSystemRole(role)
}

// CheckTenantAccess decides whether principal may act on a resource owned
// by resourceTenantID. The system role is allowed unconditionally, even
// for an empty resource tenant. Tenant-scoped principals must match the
// resource tenant exactly; a scoped principal with no tenant of its own
// is denied outright.
func CheckTenantAccess(p Principal, resourceTenantID string) Decision {
	if IsSystemRole(p.Role) {
		return allow(ReasonSystemBypass)
	}
	if !IsValidRole(p.Role) {
		return deny(ReasonUnknownRole)
	}
	if p.TenantID == "" {
		return deny(ReasonMissingTenant)
	}
	if p.TenantID != resourceTenantID {
		return deny(ReasonTenantMismatch)
	}
	return allow(ReasonTenantMatch)
}
