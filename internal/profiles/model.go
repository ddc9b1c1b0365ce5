package profiles

import (
	"strings"
	"time"
)

// Role is the application role attached to a provider identity.
type Role string

const (
	RoleMember    Role = "member"
	RoleCollector Role = "collector"
	RoleAdmin     Role = "admin"
)

// ParseRole normalizes a role name, reporting whether it is known.
func ParseRole(value string) (Role, bool) {
	role := Role(strings.ToLower(strings.TrimSpace(value)))
	switch role {
	case RoleMember, RoleCollector, RoleAdmin:
		return role, true
	default:
		return "", false
	}
}

// OneOf reports whether the role is among the allowed roles.
func (r Role) OneOf(allowed ...Role) bool {
	for _, candidate := range allowed {
		if r == candidate {
			return true
		}
	}
	return false
}

// Profile extends a provider identity with an application role and onboarding flags.
type Profile struct {
	UserID          string    `gorm:"column:user_id;primaryKey;size:36" json:"user_id"`
	Email           string    `gorm:"column:email;size:320" json:"email"`
	Role            Role      `gorm:"column:role;size:16;not null" json:"role"`
	PasswordChanged bool      `gorm:"column:password_changed;not null;default:false" json:"password_changed"`
	ProfileUpdated  bool      `gorm:"column:profile_updated;not null;default:false" json:"profile_updated"`
	EmailVerified   bool      `gorm:"column:email_verified;not null;default:false" json:"email_verified"`
	CreatedAt       time.Time `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt       time.Time `gorm:"column:updated_at;not null" json:"updated_at"`
}

// TableName exposes the table backing profiles.
func (Profile) TableName() string {
	return "profiles"
}

// Flags selects onboarding flags to set; nil fields are left unchanged.
type Flags struct {
	PasswordChanged *bool `json:"password_changed,omitempty"`
	ProfileUpdated  *bool `json:"profile_updated,omitempty"`
	EmailVerified   *bool `json:"email_verified,omitempty"`
}

func (f Flags) updates() map[string]interface{} {
	updates := map[string]interface{}{}
	if f.PasswordChanged != nil {
		updates["password_changed"] = *f.PasswordChanged
	}
	if f.ProfileUpdated != nil {
		updates["profile_updated"] = *f.ProfileUpdated
	}
	if f.EmailVerified != nil {
		updates["email_verified"] = *f.EmailVerified
	}
	return updates
}
