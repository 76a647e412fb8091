package approval

import (
	"fmt"
	"strings"
)

// Role is the closed set of roles that can act on an approval level.
// Actors always pass their role explicitly; there is no ambient session.
type Role uint8

const (
	RoleUnknown Role = iota
	RoleNazer
	RoleAccountant
	RoleAuditor
	RoleBoardMember
	RoleBoardChair
	RoleAdmin
)

var roleNames = [...]string{
	RoleUnknown:     "unknown",
	RoleNazer:       "nazer",
	RoleAccountant:  "accountant",
	RoleAuditor:     "auditor",
	RoleBoardMember: "board_member",
	RoleBoardChair:  "board_chair",
	RoleAdmin:       "admin",
}

// Roles lists every assignable role.
func Roles() []Role {
	return []Role{RoleNazer, RoleAccountant, RoleAuditor, RoleBoardMember, RoleBoardChair, RoleAdmin}
}

func (r Role) String() string {
	if int(r) < len(roleNames) {
		return roleNames[r]
	}
	return fmt.Sprintf("role(%d)", uint8(r))
}

// Valid reports whether r is an assignable role.
func (r Role) Valid() bool {
	return r > RoleUnknown && int(r) < len(roleNames)
}

// ParseRole parses the wire name of a role.
func ParseRole(s string) (Role, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for _, r := range Roles() {
		if roleNames[r] == name {
			return r, nil
		}
	}
	return RoleUnknown, fmt.Errorf("%w: %q", ErrUnknownRole, s)
}

func (r Role) MarshalText() ([]byte, error) {
	if r == RoleUnknown {
		return []byte{}, nil
	}
	if !r.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownRole, uint8(r))
	}
	return []byte(r.String()), nil
}

func (r *Role) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*r = RoleUnknown
		return nil
	}
	parsed, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Actor is whoever is performing a command.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// System is the actor recorded for scheduler-driven transitions.
var System = Actor{ID: "system"}
