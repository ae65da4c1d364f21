// internal/models/user.go
package models

// Role identifies which population a user belongs to.
type Role string

const (
	RoleYouth   Role = "youth"
	RoleElderly Role = "elderly"
	RoleAdmin   Role = "admin"
)

// IsValid reports whether r is one of the known roles.
func (r Role) IsValid() bool {
	switch r {
	case RoleYouth, RoleElderly, RoleAdmin:
		return true
	default:
		return false
	}
}

// Actor is the caller of an engine operation.
type Actor struct {
	UserID string `json:"userId" validate:"required"`
	Role   Role   `json:"role" validate:"required,oneof=youth elderly admin"`
}

// Contact is how a user is reached outside the app.
type Contact struct {
	UserID      string `json:"userId"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	Role        Role   `json:"role,omitempty"`
}
