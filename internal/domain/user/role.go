package user

import (
	"fmt"
	"strings"
)

// Role identifies which app a session belongs to.
type Role string

const (
	RolePassenger Role = "PASSENGER"
	RoleDriver    Role = "DRIVER"
)

// IsValid returns true if the role is recognized.
func (r Role) IsValid() bool {
	return r == RolePassenger || r == RoleDriver
}

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// ParseRole converts a string to a Role, case-insensitively.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	if !r.IsValid() {
		return "", fmt.Errorf("invalid role: %s", s)
	}
	return r, nil
}
