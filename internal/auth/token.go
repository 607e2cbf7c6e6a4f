package auth

import (
	"fmt"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/spec-kit/realtime-gateway/internal/config"
	"github.com/spec-kit/realtime-gateway/internal/domain"
)

// Kind is the purpose-tag of a signed token. It selects which secret and
// lifetime apply and is embedded in the payload so verification can recover
// it without a side channel.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
	KindOtp     Kind = "otp"
)

// Claims describes the signed JWT payload across all token kinds.
type Claims struct {
	Kind   Kind              `json:"kind,omitempty"`
	UserID string            `json:"userId,omitempty"`
	Role   domain.UserRole   `json:"role,omitempty"`
	// Refresh-only: DB token id for revocation, plus audit fields.
	TokenID string `json:"tokenId,omitempty"`
	Device  string `json:"device,omitempty"`
	// Otp-only: one-time-use semantic distinct from identity.
	Purpose string `json:"purpose,omitempty"`
	Subject string `json:"subject,omitempty"`

	Meta map[string]string `json:"meta,omitempty"`
	jwt.RegisteredClaims
}

type kindConfig struct {
	secret []byte
	ttl    time.Duration
}

// TokenService issues and verifies signed, purpose-typed tokens. Each kind
// carries its own (secret, lifetime) pair; a kind without a dedicated secret
// falls back to the base secret, but the lifetime stays kind-specific.
type TokenService struct {
	kinds map[Kind]kindConfig
	now   func() time.Time
}

// NewTokenService builds a service from auth configuration.
func NewTokenService(cfg config.AuthConfig) *TokenService {
	base := []byte(cfg.JWTSecret)
	refreshSecret := base
	if cfg.RefreshSecret != "" {
		refreshSecret = []byte(cfg.RefreshSecret)
	}
	otpSecret := base
	if cfg.OtpSecret != "" {
		otpSecret = []byte(cfg.OtpSecret)
	}

	return &TokenService{
		kinds: map[Kind]kindConfig{
			KindAccess:  {secret: base, ttl: ParseExpiry(cfg.AccessExpiry)},
			KindRefresh: {secret: refreshSecret, ttl: ParseExpiry(cfg.RefreshExpiry)},
			KindOtp:     {secret: otpSecret, ttl: ParseExpiry(cfg.OtpExpiry)},
		},
		now: time.Now,
	}
}

// Lifetime reports the configured lifetime for a kind.
func (s *TokenService) Lifetime(kind Kind) time.Duration {
	if kc, ok := s.kinds[kind]; ok {
		return kc.ttl
	}
	return DefaultExpiry
}

// Issue stamps the kind, issued-at and kind-specific expiry into the claims
// and signs them with the kind's secret.
func (s *TokenService) Issue(kind Kind, claims Claims) (string, time.Time, error) {
	kc, ok := s.kinds[kind]
	if !ok {
		return "", time.Time{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	now := s.now()
	expiresAt := now.Add(kc.ttl)
	claims.Kind = kind
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(expiresAt)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims)
	signed, err := token.SignedString(kc.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// IssueAccess signs a short-lived identity token.
func (s *TokenService) IssueAccess(userID string, role domain.UserRole) (string, time.Time, error) {
	return s.Issue(KindAccess, Claims{UserID: userID, Role: role})
}

// IssueRefresh signs a long-lived token carrying a revocation handle.
func (s *TokenService) IssueRefresh(userID string, role domain.UserRole, tokenID, device string) (string, time.Time, error) {
	return s.Issue(KindRefresh, Claims{UserID: userID, Role: role, TokenID: tokenID, Device: device})
}

// IssueOtp signs a one-time-purpose token.
func (s *TokenService) IssueOtp(purpose, subject string, meta map[string]string) (string, time.Time, error) {
	return s.Issue(KindOtp, Claims{Purpose: purpose, Subject: subject, Meta: meta})
}

// Verify decodes the token's embedded kind without checking the signature,
// selects that kind's secret, then verifies signature and expiry. Tokens
// issued before the kind scheme existed carry no kind claim; they verify
// with the base secret and pass any expectation. When expected is non-empty
// and the verified payload carries a different kind, the failure is
// ErrTokenKindMismatch, distinct from a signature or expiry failure.
func (s *TokenService) Verify(tokenStr string, expected Kind) (*Claims, error) {
	if tokenStr == "" {
		return nil, ErrTokenEmpty
	}

	kind := s.peekKind(tokenStr)
	if kind == "" {
		return nil, ErrTokenMalformed
	}
	kc := s.kinds[kind]

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return kc.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalidOrExpired, err)
	}
	if !parsed.Valid {
		return nil, ErrTokenInvalidOrExpired
	}

	// Enforce the kind's max-age even when the embedded exp claim is looser.
	if claims.IssuedAt != nil && s.now().After(claims.IssuedAt.Add(kc.ttl)) {
		return nil, ErrTokenInvalidOrExpired
	}

	// The kind embedded in the verified payload must match the expectation.
	// The access fallback above selects the secret only; a token claiming an
	// unrecognized kind still fails here. Tokens minted before the kind
	// scheme carry no kind claim and pass.
	if expected != "" && claims.Kind != "" && claims.Kind != expected {
		return nil, ErrTokenKindMismatch
	}
	return claims, nil
}

// VerifyAccess narrows verification to access tokens.
func (s *TokenService) VerifyAccess(tokenStr string) (*Claims, error) {
	return s.Verify(tokenStr, KindAccess)
}

// VerifyRefresh narrows verification to refresh tokens.
func (s *TokenService) VerifyRefresh(tokenStr string) (*Claims, error) {
	return s.Verify(tokenStr, KindRefresh)
}

// VerifyOtp narrows verification to one-time-purpose tokens.
func (s *TokenService) VerifyOtp(tokenStr string) (*Claims, error) {
	return s.Verify(tokenStr, KindOtp)
}

// peekKind reads the claimed kind from an unverified decode. Unrecognized
// kinds fall back to access for secret selection, preserving compatibility
// with tokens issued before the kind scheme existed. Returns "" when the
// token cannot be decoded at all.
func (s *TokenService) peekKind(tokenStr string) Kind {
	unverified := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenStr, unverified); err != nil {
		return ""
	}
	if _, ok := s.kinds[unverified.Kind]; !ok {
		return KindAccess
	}
	return unverified.Kind
}
