package events

import "time"

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventOtpRequested   EventType = "otp_requested"
	EventUserLoggedIn   EventType = "user_logged_in"
	EventUserLoggedOut  EventType = "user_logged_out"
	EventSessionRevoked EventType = "session_revoked"
)

// Event represents a domain event emitted by services.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	UserID    string      `json:"user_id"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// OtpRequestedPayload payload.
type OtpRequestedPayload struct {
	Phone string `json:"phone"`
}

// UserLoggedInPayload payload.
type UserLoggedInPayload struct {
	Device string `json:"device,omitempty"`
	Phone  string `json:"phone"`
}

// SessionRevokedPayload payload.
type SessionRevokedPayload struct {
	TokenID string `json:"token_id"`
	Reason  string `json:"reason,omitempty"`
}
