package auth

import (
	"context"

	"github.com/upb/agent-governance/services"
)

// Capability names checked across the pipeline.
const (
	CapSessionView     = "session.view"
	CapSessionCreate   = "session.create"
	CapSessionDelete   = "session.delete"
	CapToolExecute     = "tool.execute"
	CapAgentSpawn      = "agent.spawn"
	CapPermissionReply = "permission.reply"
	CapAuditRead       = "audit.read"
	CapPolicyManage    = "policy.manage"
	CapRedactionBypass = "redaction.bypass"
	CapSessionAnyOwner = "session.any_owner"
)

// CapabilityMap maps a capability to the minimum role allowed to use it.
// Capabilities missing from the map require RoleEmployee.
type CapabilityMap map[string]Role

// DefaultCapabilities is the static map consulted by the package-level helpers.
var DefaultCapabilities = CapabilityMap{
	CapSessionView:     RoleViewer,
	CapSessionCreate:   RoleEmployee,
	CapSessionDelete:   RoleEmployee,
	CapToolExecute:     RoleEmployee,
	CapAgentSpawn:      RoleEmployee,
	CapPermissionReply: RoleEmployee,
	CapAuditRead:       RoleAdmin,
	CapPolicyManage:    RoleAdmin,
	CapRedactionBypass: RoleAdmin,
	CapSessionAnyOwner: RoleAdmin,
}

// Required returns the minimum role for capability.
func (m CapabilityMap) Required(capability string) Role {
	if r, ok := m[capability]; ok {
		return r
	}
	return RoleEmployee
}

// Can reports whether the principal bound to ctx may use capability.
// It returns false when no principal is bound.
func (m CapabilityMap) Can(ctx context.Context, capability string) bool {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return false
	}
	return HasRole(p, m.Required(capability))
}

// AssertCan is Can with a typed failure: AuthenticationRequired without a
// principal, Forbidden with role details otherwise.
func (m CapabilityMap) AssertCan(ctx context.Context, capability string) error {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return services.ErrAuthenticationRequired
	}
	required := m.Required(capability)
	if !HasRole(p, required) {
		return services.NewForbiddenError(string(p.Role), string(required), capability)
	}
	return nil
}

// HasRole reports whether p ranks at or above required.
func HasRole(p Principal, required Role) bool {
	return p.Role.Level() >= required.Level()
}

// Can checks capability against DefaultCapabilities.
func Can(ctx context.Context, capability string) bool {
	return DefaultCapabilities.Can(ctx, capability)
}

// AssertCan checks capability against DefaultCapabilities.
func AssertCan(ctx context.Context, capability string) error {
	return DefaultCapabilities.AssertCan(ctx, capability)
}

// AssertRole requires the bound principal to rank at or above role.
func AssertRole(ctx context.Context, role Role) error {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return services.ErrAuthenticationRequired
	}
	if !HasRole(p, role) {
		return services.NewForbiddenError(string(p.Role), string(role), "")
	}
	return nil
}
