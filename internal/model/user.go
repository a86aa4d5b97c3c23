// Package model defines the data structures used throughout the application.
package model

import "time"

// Role is the single authorization flag a user carries.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// User represents a registered account.
//
// PasswordHash is tagged json:"-" so it can never leak into a response, even
// if a handler accidentally encodes the full struct. Users created through
// GitHub sign-in have an empty hash and cannot log in with a password.
type User struct {
	ID              string    `json:"id"`
	Username        string    `json:"username"`
	Email           string    `json:"email"`
	Phone           string    `json:"phone,omitempty"`
	Role            Role      `json:"role"`
	PasswordHash    string    `json:"-"`
	ProfilePhotoURL string    `json:"profilePhotoUrl,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// IsAdmin reports whether the user holds the admin role.
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// PublicUser is the view of a User returned to callers.
type PublicUser struct {
	ID              string    `json:"id"`
	Username        string    `json:"username"`
	Email           string    `json:"email"`
	Phone           string    `json:"phone,omitempty"`
	Role            Role      `json:"role"`
	ProfilePhotoURL string    `json:"profilePhotoUrl,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Public strips credentials from the user.
func (u *User) Public() PublicUser {
	return PublicUser{
		ID:              u.ID,
		Username:        u.Username,
		Email:           u.Email,
		Phone:           u.Phone,
		Role:            u.Role,
		ProfilePhotoURL: u.ProfilePhotoURL,
		CreatedAt:       u.CreatedAt,
	}
}
