package auth

import "time"

// User is the authenticated profile as returned by /api/auth/*.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      string    `json:"role,omitempty"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// LoginInput is the login form.
type LoginInput struct {
	Email      string `validate:"required,email"`
	Password   string `validate:"required"`
	RememberMe bool
}

// RegisterInput is the registration form.
type RegisterInput struct {
	Name     string `validate:"required,min=2,max=120"`
	Email    string `validate:"required,email"`
	Password string `validate:"required"`
}

// UpdateProfileInput carries profile mutations; nil fields are unchanged.
type UpdateProfileInput struct {
	Name      *string `validate:"omitempty,min=2,max=120"`
	AvatarURL *string `validate:"omitempty,url"`
}

// ChangePasswordInput is the password-change form.
type ChangePasswordInput struct {
	CurrentPassword string `validate:"required"`
	NewPassword     string `validate:"required"`
}

// ---- wire shapes ----

type loginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"remember_me"`
	Platform   string `json:"platform"`
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Platform string `json:"platform"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token,omitempty"`
	Platform     string `json:"platform"`
}

type updateProfileRequest struct {
	Name      *string `json:"name,omitempty"`
	AvatarURL *string `json:"avatar_url,omitempty"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type sessionResponse struct {
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token,omitempty"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at,omitempty"`
}

type loginResponse struct {
	User    User            `json:"user"`
	Session sessionResponse `json:"session"`
}

type refreshResponse struct {
	Session sessionResponse `json:"session"`
}

type meResponse struct {
	User User `json:"user"`
}

// capabilitiesResponse is the server's advertised auth transport.
type capabilitiesResponse struct {
	TokenTransport string `json:"token_transport"`
}
