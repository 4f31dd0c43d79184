package auth

import (
	"time"

	"github.com/michelevens/ClinicLink-sub000/authz"
)

// User is the domain representation of an authenticated user.
// It mirrors the users table and should not include JSON annotations so it
// can be reused by different presentation layers.
type User struct {
	ID           string
	Email        string
	FullName     string
	PasswordHash string
	Role         authz.Role
	UniversityID *string
	SiteID       *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RegisterRequest contains user registration data supplied by callers. The
// optional party link scopes the account to one university or clinical site.
type RegisterRequest struct {
	Email        string     `json:"email"`
	Password     string     `json:"password"`
	FullName     string     `json:"full_name"`
	Role         authz.Role `json:"role"`
	UniversityID *string    `json:"university_id,omitempty"`
	SiteID       *string    `json:"site_id,omitempty"`
}

// LoginRequest contains user login credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
