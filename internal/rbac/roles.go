package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
// Each pipeline role owns one stage handler.
const (
	RoleResearch    = "research"    // submits Research entries
	RoleCoordinator = "coordinator" // Sales Coordinator, decides Approval
	RoleTelecaller  = "telecaller"
	RoleSales       = "sales" // meeting owner
	RoleCRM         = "crm"
	RoleAdmin       = "admin"
)

var knownRoles = map[string]struct{}{
	RoleResearch:    {},
	RoleCoordinator: {},
	RoleTelecaller:  {},
	RoleSales:       {},
	RoleCRM:         {},
	RoleAdmin:       {},
}

func IsAdmin(role string) bool { return role == RoleAdmin }

// IsKnownRole reports whether role may be issued a token.
func IsKnownRole(role string) bool {
	_, ok := knownRoles[role]
	return ok
}

// AllRoles returns every pipeline role; used for read-only routes.
func AllRoles() []string {
	return []string{RoleResearch, RoleCoordinator, RoleTelecaller, RoleSales, RoleCRM, RoleAdmin}
}
