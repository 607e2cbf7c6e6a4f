package auth

import (
	"errors"
	"net/http"

	apperrors "github.com/spec-kit/realtime-gateway/pkg/util"
)

// Token verification failures. All are recoverable: callers reject the
// offending request and carry on.
var (
	ErrTokenEmpty            = errors.New("empty token")
	ErrTokenMalformed        = errors.New("malformed token")
	ErrTokenInvalidOrExpired = errors.New("invalid or expired token")
	ErrTokenKindMismatch     = errors.New("token kind mismatch")
	ErrUnknownKind           = errors.New("unknown token kind")
)

// ToDomainError converts token failures into coded domain errors for the
// HTTP surface. Anything else passes through apperrors.MapError.
func ToDomainError(err error) error {
	switch {
	case errors.Is(err, ErrTokenEmpty):
		return apperrors.NewDomainError("AUTHENTICATION_REQUIRED", "token required", http.StatusUnauthorized, nil)
	case errors.Is(err, ErrTokenMalformed):
		return apperrors.NewDomainError("TOKEN_MALFORMED", "malformed token", http.StatusUnauthorized, nil)
	case errors.Is(err, ErrTokenInvalidOrExpired):
		return apperrors.NewDomainError("TOKEN_INVALID_OR_EXPIRED", "invalid or expired token", http.StatusUnauthorized, nil)
	case errors.Is(err, ErrTokenKindMismatch):
		return apperrors.NewDomainError("TOKEN_KIND_MISMATCH", "wrong token kind", http.StatusUnauthorized, nil)
	default:
		return apperrors.MapError(err)
	}
}
