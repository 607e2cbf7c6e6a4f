package dto

import "time"

// OtpRequest payload for requesting a login code.
type OtpRequest struct {
	Phone string `json:"phone"`
}

// OtpVerifyRequest payload for exchanging a code for tokens.
type OtpVerifyRequest struct {
	Phone  string `json:"phone"`
	Code   string `json:"code"`
	Device string `json:"device"`
}

// RefreshRequest payload for rotating a refresh token.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
	Device       string `json:"device"`
}

// LogoutRequest payload for revoking a session.
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// TokenPairResponse standard response for auth endpoints.
type TokenPairResponse struct {
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}
