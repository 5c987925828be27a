// Package models defines the wire-format (JSON) types exchanged over the HTTP API and the gateway WebSocket. These
// are plain data-transfer structs; conversion from internal domain types happens via each domain package's
// ToModel method.
package models

// User is the public profile of an authenticated account.
type User struct {
	ID                   string  `json:"id"`
	Email                string  `json:"email"`
	Username             string  `json:"username"`
	DisplayName          *string `json:"display_name"`
	AvatarKey            *string `json:"avatar_key"`
	Pronouns             *string `json:"pronouns"`
	BannerKey            *string `json:"banner_key"`
	About                *string `json:"about"`
	ThemeColourPrimary   *int    `json:"theme_colour_primary"`
	ThemeColourSecondary *int    `json:"theme_colour_secondary"`
	MFAEnabled           bool    `json:"mfa_enabled"`
	EmailVerified        bool    `json:"email_verified"`
}

// UpdateUserRequest is the request body for PATCH /api/v1/users/@me.
type UpdateUserRequest struct {
	DisplayName          *string `json:"display_name"`
	AvatarKey            *string `json:"avatar_key"`
	Pronouns             *string `json:"pronouns"`
	BannerKey            *string `json:"banner_key"`
	About                *string `json:"about"`
	ThemeColourPrimary   *int    `json:"theme_colour_primary"`
	ThemeColourSecondary *int    `json:"theme_colour_secondary"`
}

// DeleteAccountRequest is the request body for DELETE /api/v1/users/@me.
type DeleteAccountRequest struct {
	Password string `json:"password"`
}

// ChangePasswordRequest is the request body for PUT /api/v1/users/@me/password.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// MessageResponse is a generic single-message acknowledgement response.
type MessageResponse struct {
	Message string `json:"message"`
}
