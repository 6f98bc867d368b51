package models

import "strings"

type Role string

const (
	RoleAdmin Role = "ADMIN"
	RoleUser  Role = "USER"
)

func ParseRole(raw string) (Role, bool) {
	switch Role(strings.ToUpper(strings.TrimSpace(raw))) {
	case RoleAdmin:
		return RoleAdmin, true
	case RoleUser:
		return RoleUser, true
	default:
		return "", false
	}
}

// Principal is the authenticated actor of a single call.
type Principal struct {
	ID    int64  `json:"id"`
	Roles []Role `json:"roles"`
}

func NewPrincipal(id int64, roles ...Role) Principal {
	return Principal{ID: id, Roles: roles}
}

func (p Principal) HasRole(role Role) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func (p Principal) IsAdmin() bool {
	return p.HasRole(RoleAdmin)
}

func (p Principal) IsAuthenticated() bool {
	return p.ID > 0 && len(p.Roles) > 0
}

// Owns reports whether the appointment belongs to the principal.
func (p Principal) Owns(a *Appointment) bool {
	return a != nil && p.ID > 0 && a.UserID == p.ID
}
