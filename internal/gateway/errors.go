package gateway

import "errors"

var (
	// ErrNotInitialized indicates a gateway operation before Initialize.
	// This is a programmer error surfaced at the call site, never sent to
	// a connection.
	ErrNotInitialized = errors.New("gateway not initialized")

	// ErrAuthenticationRequired indicates a handshake without any token.
	ErrAuthenticationRequired = errors.New("authentication required")

	// ErrInvalidPayload indicates a cryptographically valid token whose
	// payload failed domain validation.
	ErrInvalidPayload = errors.New("invalid token payload")

	// ErrConnectionNotFound indicates an addressed operation against an
	// unknown connection id.
	ErrConnectionNotFound = errors.New("connection not found")
)
