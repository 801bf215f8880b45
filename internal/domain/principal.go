package domain

import "time"

// Role is a fixed role tag assigned to a principal.
type Role string

const (
	RoleAdmin   Role = "ADMIN"
	RoleLearner Role = "LEARNER"
)

// Principal represents an authenticated identity and its assigned roles.
type Principal struct {
	ID            int64
	Email         string
	EmailVerified bool
	PasswordHash  string
	Name          string
	AvatarURL     string
	Roles         []Role
	Status        string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// HasAnyRole reports whether the principal holds at least one of the
// required roles. An empty requirement passes.
func (p Principal) HasAnyRole(required ...Role) bool {
	if len(required) == 0 {
		return true
	}
	for _, have := range p.Roles {
		for _, want := range required {
			if have == want {
				return true
			}
		}
	}
	return false
}
