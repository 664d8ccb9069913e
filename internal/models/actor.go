package models

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleLecturer UserRole = "LECTURER"
	RoleHOD      UserRole = "HOD"
	RoleOffice   UserRole = "OFFICE"
	RoleStudent  UserRole = "STUDENT"
	RoleAdmin    UserRole = "ADMIN"
)

// Valid reports whether r is one of the known roles.
func (r UserRole) Valid() bool {
	switch r {
	case RoleLecturer, RoleHOD, RoleOffice, RoleStudent, RoleAdmin:
		return true
	}
	return false
}

// Actor identifies the authenticated caller of a workflow operation.
// Claims are extracted from the identity token; the gateway never
// issues tokens itself.
type Actor struct {
	Subject        string   `json:"sub"`
	FullName       string   `json:"name"`
	Role           UserRole `json:"role"`
	DepartmentCode string   `json:"department_code"`
}

// IsElevated reports whether the actor holds an administrative role.
func (a Actor) IsElevated() bool {
	return a.Role == RoleAdmin || a.Role == RoleOffice
}
