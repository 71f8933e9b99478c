package models

// UserRole is the role claim carried by access tokens.
type UserRole string

const (
	RoleSuperAdmin UserRole = "SUPERADMIN"
	RoleAdmin      UserRole = "ADMIN"
	RoleStaff      UserRole = "STAFF"
	RoleTeacher    UserRole = "TEACHER"
	RoleStudent    UserRole = "STUDENT"
)

// IsStaff reports whether the role grants platform-wide access.
func (r UserRole) IsStaff() bool {
	switch r {
	case RoleSuperAdmin, RoleAdmin, RoleStaff:
		return true
	}
	return false
}
