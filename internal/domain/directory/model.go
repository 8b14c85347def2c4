package directory

import (
	"time"

	"github.com/google/uuid"
)

// User roles.
const (
	RolePatient = "patient"
	RoleStaff   = "staff"
	RoleAdmin   = "admin"
)

var validRoles = map[string]bool{
	RolePatient: true,
	RoleStaff:   true,
	RoleAdmin:   true,
}

// User is a directory entry that can participate in conversations.
type User struct {
	ID          uuid.UUID `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	Role        string    `json:"role"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// IsStaff reports whether the user acts on the clinic side of a
// conversation.
func (u *User) IsStaff() bool {
	return u.Role == RoleStaff || u.Role == RoleAdmin
}

// CreateUserRequest is the payload for registering a directory entry.
type CreateUserRequest struct {
	Email       string `json:"email" validate:"required,email"`
	DisplayName string `json:"display_name" validate:"required,min=1,max=200"`
	Role        string `json:"role" validate:"required,oneof=patient staff admin"`
}

// UpdateUserRequest carries partial updates; nil fields are untouched.
type UpdateUserRequest struct {
	Email       *string `json:"email,omitempty" validate:"omitempty,email"`
	DisplayName *string `json:"display_name,omitempty" validate:"omitempty,min=1,max=200"`
	Role        *string `json:"role,omitempty" validate:"omitempty,oneof=patient staff admin"`
	Active      *bool   `json:"active,omitempty"`
}
