package core

import "github.com/pkg/errors"

// Role of a user on the platform.
type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
	RoleSponsor Role = "sponsor"
	RoleAdmin   Role = "admin"
)

var AllRoles = []Role{RoleStudent, RoleTeacher, RoleSponsor, RoleAdmin}

func (r Role) IsValid() bool {
	for _, role := range AllRoles {
		if r == role {
			return true
		}
	}
	return false
}

func ParseRole(s string) (Role, error) {
	r := Role(CleanString(s, true))
	if !r.IsValid() {
		return "", errors.Errorf("invalid role %q", s)
	}
	return r, nil
}
