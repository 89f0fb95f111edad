package rbac

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

func Normalize(role string) Role {
	switch Role(role) {
	case RoleAdmin, RoleMember:
		return Role(role)
	default:
		return RoleMember
	}
}

func Valid(role string) bool {
	return Role(role) == RoleAdmin || Role(role) == RoleMember
}

// IsAdmin reports whether a member's role grants workspace administration.
func IsAdmin(role string) bool {
	return Normalize(role) == RoleAdmin
}

// CanEditMessage is the single policy behind message update and remove:
// admins moderate every message, authors always keep control of their own.
func CanEditMessage(callerMemberID, callerRole, authorMemberID string) bool {
	if IsAdmin(callerRole) {
		return true
	}
	return callerMemberID != "" && callerMemberID == authorMemberID
}
