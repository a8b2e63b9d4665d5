package enums

import "fmt"

// SystemRole is the platform-wide role carried in access token claims.
type SystemRole string

const (
	SystemRoleMember SystemRole = "member"
	SystemRoleAdmin  SystemRole = "admin"
)

var validSystemRoles = []SystemRole{
	SystemRoleMember,
	SystemRoleAdmin,
}

// String implements fmt.Stringer.
func (r SystemRole) String() string {
	return string(r)
}

// IsValid reports whether the value is a known SystemRole.
func (r SystemRole) IsValid() bool {
	for _, candidate := range validSystemRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseSystemRole converts raw input into a SystemRole.
func ParseSystemRole(value string) (SystemRole, error) {
	for _, candidate := range validSystemRoles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid system role %q", value)
}
