package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleAdmin      = "admin"
	RoleSupervisor = "supervisor"
	RoleAgent      = "agent"
)

func IsAdmin(role string) bool { return role == RoleAdmin }

// Known reports whether role is one of the roles tokens may carry.
func Known(role string) bool {
	switch role {
	case RoleAdmin, RoleSupervisor, RoleAgent:
		return true
	}
	return false
}
