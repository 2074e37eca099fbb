package session

// Role is the principal's assigned role
type Role string

const (
	// RoleSystemAdmin administers the whole platform
	RoleSystemAdmin Role = "SYSTEM_ADMIN"
	// RoleTenantAdmin administers a single tenant
	RoleTenantAdmin Role = "TENANT_ADMIN"
	// RoleAutomationManager manages automation workflows
	RoleAutomationManager Role = "AUTOMATION_MANAGER"
	// RoleAnalyst reads operational data
	RoleAnalyst Role = "ANALYST"
	// RoleAuditor reads audit logs
	RoleAuditor Role = "AUDITOR"
	// RoleEndUser has no administrative capability
	RoleEndUser Role = "END_USER"
)

// Capability is a named permission derived from a role
type Capability string

const (
	CapabilityAdmin            Capability = "admin"
	CapabilityManageUsers      Capability = "manage_users"
	CapabilityViewAuditLogs    Capability = "view_audit_logs"
	CapabilityManageAutomation Capability = "manage_automation"
)

var capabilityRoles = map[Capability][]Role{
	CapabilityAdmin:            {RoleSystemAdmin, RoleTenantAdmin},
	CapabilityManageUsers:      {RoleSystemAdmin, RoleTenantAdmin},
	CapabilityViewAuditLogs:    {RoleSystemAdmin, RoleTenantAdmin, RoleAuditor},
	CapabilityManageAutomation: {RoleSystemAdmin, RoleTenantAdmin, RoleAutomationManager},
}

// IsValid checks if the role is one of the predefined valid roles
func (r Role) IsValid() bool {
	switch r {
	case RoleSystemAdmin, RoleTenantAdmin, RoleAutomationManager, RoleAnalyst, RoleAuditor, RoleEndUser:
		return true
	default:
		return false
	}
}

// GetAllRoles returns all predefined roles
func GetAllRoles() []Role {
	return []Role{
		RoleSystemAdmin,
		RoleTenantAdmin,
		RoleAutomationManager,
		RoleAnalyst,
		RoleAuditor,
		RoleEndUser,
	}
}

// ParseRole safely parses a string into a Role type
func ParseRole(roleStr string) (Role, bool) {
	role := Role(roleStr)
	return role, role.IsValid()
}

// RolesFor returns the roles granting capability c.
func RolesFor(c Capability) []Role {
	roles := capabilityRoles[c]
	out := make([]Role, len(roles))
	copy(out, roles)
	return out
}

// Evaluator answers RBAC questions for a single role. The zero value
// represents an unauthenticated caller and grants nothing.
type Evaluator struct {
	role Role
}

// NewEvaluator returns an Evaluator for role.
func NewEvaluator(role Role) Evaluator {
	return Evaluator{role: role}
}

// EvaluatorFor returns an Evaluator for the principal role in s.
func EvaluatorFor(s Session) Evaluator {
	return Evaluator{role: s.Role()}
}

// Role returns the evaluated role
func (e Evaluator) Role() Role {
	return e.role
}

// HasRole checks if the evaluated role is role
func (e Evaluator) HasRole(role Role) bool {
	return e.role != "" && e.role == role
}

// HasAnyRole checks if the evaluated role is one of roles
func (e Evaluator) HasAnyRole(roles ...Role) bool {
	for _, role := range roles {
		if e.HasRole(role) {
			return true
		}
	}
	return false
}

// Can checks if the evaluated role grants capability c
func (e Evaluator) Can(c Capability) bool {
	return e.HasAnyRole(capabilityRoles[c]...)
}

// IsAdmin checks if the role is a system or tenant administrator
func (e Evaluator) IsAdmin() bool {
	return e.Can(CapabilityAdmin)
}

// CanManageUsers checks if the role can manage users
func (e Evaluator) CanManageUsers() bool {
	return e.Can(CapabilityManageUsers)
}

// CanViewAuditLogs checks if the role can read audit logs
func (e Evaluator) CanViewAuditLogs() bool {
	return e.Can(CapabilityViewAuditLogs)
}

// CanManageAutomation checks if the role can manage automation
func (e Evaluator) CanManageAutomation() bool {
	return e.Can(CapabilityManageAutomation)
}

// Capabilities lists every capability the role grants
func (e Evaluator) Capabilities() []Capability {
	all := []Capability{
		CapabilityAdmin,
		CapabilityManageUsers,
		CapabilityViewAuditLogs,
		CapabilityManageAutomation,
	}
	out := make([]Capability, 0, len(all))
	for _, c := range all {
		if e.Can(c) {
			out = append(out, c)
		}
	}
	return out
}
