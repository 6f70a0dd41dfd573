package models

import "time"

// Session is the locally held proof of authentication. At most one session is
// active per storage file; its presence gates every remote data operation.
type Session struct {
	Email      string    `json:"email"`
	DoctorUUID string    `json:"doctor_uuid"`
	Token      string    `json:"token"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Expired reports whether the session's credential is past its expiry.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// LoginRequest is the request body for POST /auth/login. The identifier may be
// either an email address or a username.
type LoginRequest struct {
	Identifier string `json:"identifier" validate:"required"`
	Password   string `json:"password" validate:"required"`
}

// RegisterRequest is the request body for POST /auth/register.
type RegisterRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Username  string `json:"username" validate:"required"`
	FirstName string `json:"first_name" validate:"required"`
	LastName  string `json:"last_name" validate:"required"`
	Password  string `json:"password" validate:"required,min=8"`
}

// AuthTokenResponse is the response body for successful login or registration.
type AuthTokenResponse struct {
	Token      string    `json:"token"`
	ExpiresAt  time.Time `json:"expires_at"`
	DoctorUUID string    `json:"doctor_uuid"`
	TokenUUID  string    `json:"token_uuid,omitempty"`
}

// ChangePasswordRequest is the request body for POST /auth/change-password.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8"`
}
