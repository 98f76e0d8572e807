package model

// Role is an access level on a file, totally ordered:
// reader < commenter < writer < owner.
type Role string

const (
	RoleNone      Role = ""
	RoleReader    Role = "reader"
	RoleCommenter Role = "commenter"
	RoleWriter    Role = "writer"
	RoleOwner     Role = "owner"
)

var roleRank = map[Role]int{
	RoleNone:      0,
	RoleReader:    1,
	RoleCommenter: 2,
	RoleWriter:    3,
	RoleOwner:     4,
}

// ValidRole reports whether r names a known role.
func ValidRole(r Role) bool {
	_, ok := roleRank[r]
	return ok && r != RoleNone
}

// AtLeast reports whether r grants at least the required level.
func (r Role) AtLeast(required Role) bool {
	return roleRank[r] >= roleRank[required]
}

// Max returns the stronger of two roles.
func (r Role) Max(other Role) Role {
	if roleRank[other] > roleRank[r] {
		return other
	}
	return r
}
