package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/upb/agent-governance/services"
)

func ctxWithRole(role Role) context.Context {
	return WithPrincipal(context.Background(), Principal{ID: "u-" + string(role), Role: role})
}

func TestRoleLevels(t *testing.T) {
	assert.Less(t, RoleViewer.Level(), RoleEmployee.Level())
	assert.Less(t, RoleEmployee.Level(), RoleAdmin.Level())
	assert.Equal(t, -1, Role("root").Level())
	assert.False(t, Role("root").Valid())
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole(" Admin ")
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, r)

	_, err = ParseRole("superuser")
	assert.Error(t, err)
}

func TestPrincipalContext(t *testing.T) {
	t.Run("unbound", func(t *testing.T) {
		_, ok := PrincipalFromContext(context.Background())
		assert.False(t, ok)
	})

	t.Run("child does not leak into parent", func(t *testing.T) {
		parent := ctxWithRole(RoleEmployee)
		child := WithPrincipal(parent, Principal{ID: "other", Role: RoleAdmin})

		p, _ := PrincipalFromContext(parent)
		c, _ := PrincipalFromContext(child)
		assert.Equal(t, RoleEmployee, p.Role)
		assert.Equal(t, RoleAdmin, c.Role)
	})
}

func TestCapabilityMap_Required(t *testing.T) {
	assert.Equal(t, RoleViewer, DefaultCapabilities.Required(CapSessionView))
	assert.Equal(t, RoleAdmin, DefaultCapabilities.Required(CapAuditRead))
	assert.Equal(t, RoleAdmin, DefaultCapabilities.Required(CapSessionAnyOwner))
	assert.Equal(t, RoleEmployee, DefaultCapabilities.Required("something.unlisted"))
}

func TestCan(t *testing.T) {
	tests := []struct {
		name       string
		ctx        context.Context
		capability string
		want       bool
	}{
		{"viewer can view", ctxWithRole(RoleViewer), CapSessionView, true},
		{"viewer cannot execute tools", ctxWithRole(RoleViewer), CapToolExecute, false},
		{"employee can spawn agents", ctxWithRole(RoleEmployee), CapAgentSpawn, true},
		{"employee cannot read audit", ctxWithRole(RoleEmployee), CapAuditRead, false},
		{"admin can read audit", ctxWithRole(RoleAdmin), CapAuditRead, true},
		{"unlisted defaults to employee", ctxWithRole(RoleEmployee), "custom.thing", true},
		{"no principal", context.Background(), CapSessionView, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Can(tt.ctx, tt.capability))
		})
	}
}

func TestAssertCan(t *testing.T) {
	t.Run("allowed", func(t *testing.T) {
		assert.NoError(t, AssertCan(ctxWithRole(RoleAdmin), CapPolicyManage))
	})

	t.Run("forbidden carries roles", func(t *testing.T) {
		err := AssertCan(ctxWithRole(RoleViewer), CapSessionCreate)

		require.Error(t, err)
		assert.True(t, services.IsForbiddenError(err))
		details := services.GetErrorDetails(err)
		assert.Equal(t, "viewer", details["current_role"])
		assert.Equal(t, "employee", details["required_role"])
		assert.Equal(t, CapSessionCreate, details["capability"])
	})

	t.Run("unauthenticated", func(t *testing.T) {
		err := AssertCan(context.Background(), CapSessionView)
		assert.True(t, services.IsUnauthorizedError(err))
	})

	t.Run("custom map", func(t *testing.T) {
		m := CapabilityMap{CapSessionView: RoleAdmin}
		assert.Error(t, m.AssertCan(ctxWithRole(RoleEmployee), CapSessionView))
	})
}

func TestAssertRole(t *testing.T) {
	assert.NoError(t, AssertRole(ctxWithRole(RoleAdmin), RoleEmployee))
	assert.True(t, services.IsForbiddenError(AssertRole(ctxWithRole(RoleEmployee), RoleAdmin)))
	assert.True(t, services.IsUnauthorizedError(AssertRole(context.Background(), RoleViewer)))
}
