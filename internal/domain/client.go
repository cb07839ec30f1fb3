package domain

import (
	"strings"
	"time"
)

type Role string

const (
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
	RoleUser      Role = "user"
)

// Level orders roles; unknown roles have no privilege at all.
func (r Role) Level() int {
	switch r {
	case RoleAdmin:
		return 3
	case RoleModerator:
		return 2
	case RoleUser:
		return 1
	default:
		return 0
	}
}

func (r Role) Valid() bool { return r.Level() > 0 }

// Satisfies reports whether r grants at least the required level.
func (r Role) Satisfies(required Role) bool {
	return r.Valid() && r.Level() >= required.Level()
}

func ParseRole(raw string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(raw)))
	return r, r.Valid()
}

type Client struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	Name         string     `gorm:"size:100;not null" json:"name"`
	Email        string     `gorm:"size:120;uniqueIndex;not null" json:"email"`
	PasswordHash string     `gorm:"size:256" json:"-"`
	Phone        string     `gorm:"size:20" json:"phone,omitempty"`
	Company      string     `gorm:"size:100" json:"company,omitempty"`
	Role         Role       `gorm:"size:20;not null;default:user" json:"role"`
	Active       bool       `gorm:"not null;default:true;index" json:"active"`
	LastAccessAt *time.Time `json:"last_access_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}
