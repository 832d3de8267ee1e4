package rbac

// Role constants. A principal holds a role relative to one escrow.
const (
	RoleClient     = "client"
	RoleFreelancer = "freelancer"
	RoleRelayer    = "relayer"
	RoleAuthority  = "authority"
)

// Permission constants
const (
	PermRelease   = "release"
	PermRefund    = "refund"
	PermConfigure = "configure"
)

// RolePermissions defines what each role can do.
var RolePermissions = map[string][]string{
	// Client CANNOT refund: a funded job is not reneged on unilaterally
	RoleClient: {PermRelease},
	// Freelancer CANNOT move funds in either direction
	RoleFreelancer: {},
	RoleRelayer:    {PermRelease, PermRefund},
	RoleAuthority:  {PermRefund, PermConfigure},
}

// HasPermission checks if a role has a specific permission.
func HasPermission(role, permission string) bool {
	perms, ok := RolePermissions[role]
	if !ok {
		return false
	}
	for _, p := range perms {
		if p == permission {
			return true
		}
	}
	return false
}

// Grant returns the first role in roles that carries permission.
func Grant(roles []string, permission string) (string, bool) {
	for _, r := range roles {
		if HasPermission(r, permission) {
			return r, true
		}
	}
	return "", false
}

