package auth

import (
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/realtime-gateway/internal/config"
	"github.com/spec-kit/realtime-gateway/internal/domain"
)

func testAuthConfig() config.AuthConfig {
	return config.AuthConfig{
		JWTSecret:     "base-secret",
		RefreshSecret: "refresh-secret",
		AccessExpiry:  "15m",
		RefreshExpiry: "30d",
		OtpExpiry:     "5m",
	}
}

func signRaw(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestIssueAndVerifyRoundTrip(t *testing.T) {
	svc := NewTokenService(testAuthConfig())

	t.Run("access", func(t *testing.T) {
		token, expiresAt, err := svc.IssueAccess("user-1", domain.RoleMember)
		require.NoError(t, err)
		require.WithinDuration(t, time.Now().Add(15*time.Minute), expiresAt, 5*time.Second)

		claims, err := svc.VerifyAccess(token)
		require.NoError(t, err)
		require.Equal(t, KindAccess, claims.Kind)
		require.Equal(t, "user-1", claims.UserID)
		require.Equal(t, domain.RoleMember, claims.Role)
	})

	t.Run("refresh", func(t *testing.T) {
		token, expiresAt, err := svc.IssueRefresh("user-1", domain.RoleMember, "token-9", "ios")
		require.NoError(t, err)
		require.WithinDuration(t, time.Now().Add(30*24*time.Hour), expiresAt, 5*time.Second)

		claims, err := svc.VerifyRefresh(token)
		require.NoError(t, err)
		require.Equal(t, KindRefresh, claims.Kind)
		require.Equal(t, "token-9", claims.TokenID)
		require.Equal(t, "ios", claims.Device)
	})

	t.Run("otp", func(t *testing.T) {
		token, _, err := svc.IssueOtp("phone-verify", "09120000000", map[string]string{"channel": "sms"})
		require.NoError(t, err)

		claims, err := svc.VerifyOtp(token)
		require.NoError(t, err)
		require.Equal(t, KindOtp, claims.Kind)
		require.Equal(t, "phone-verify", claims.Purpose)
		require.Equal(t, "09120000000", claims.Subject)
		require.Equal(t, "sms", claims.Meta["channel"])
	})
}

func TestVerifyKindMismatch(t *testing.T) {
	svc := NewTokenService(testAuthConfig())

	refresh, _, err := svc.IssueRefresh("user-1", domain.RoleMember, "token-9", "")
	require.NoError(t, err)

	_, err = svc.VerifyAccess(refresh)
	require.ErrorIs(t, err, ErrTokenKindMismatch)
	require.NotErrorIs(t, err, ErrTokenInvalidOrExpired)

	access, _, err := svc.IssueAccess("user-1", domain.RoleMember)
	require.NoError(t, err)

	_, err = svc.VerifyRefresh(access)
	require.ErrorIs(t, err, ErrTokenKindMismatch)
}

func TestVerifyRefreshSecretIsolation(t *testing.T) {
	svc := NewTokenService(testAuthConfig())
	refresh, _, err := svc.IssueRefresh("user-1", domain.RoleMember, "token-9", "")
	require.NoError(t, err)

	// A service without a dedicated refresh secret signs refresh tokens with
	// the base secret, so tokens minted against the dedicated secret fail.
	baseOnly := testAuthConfig()
	baseOnly.RefreshSecret = ""
	other := NewTokenService(baseOnly)

	_, err = other.VerifyRefresh(refresh)
	require.ErrorIs(t, err, ErrTokenInvalidOrExpired)
}

func TestVerifyRejectsEmptyAndMalformed(t *testing.T) {
	svc := NewTokenService(testAuthConfig())

	_, err := svc.VerifyAccess("")
	require.ErrorIs(t, err, ErrTokenEmpty)

	_, err = svc.VerifyAccess("not-a-token")
	require.ErrorIs(t, err, ErrTokenMalformed)
}

func TestVerifyEnforcesKindMaxAge(t *testing.T) {
	svc := NewTokenService(testAuthConfig())

	// Embedded exp is looser than the access lifetime; max-age still applies.
	token := signRaw(t, "base-secret", jwt.MapClaims{
		"kind":   "access",
		"userId": "user-1",
		"iat":    time.Now().Add(-time.Hour).Unix(),
		"exp":    time.Now().Add(time.Hour).Unix(),
	})

	_, err := svc.VerifyAccess(token)
	require.ErrorIs(t, err, ErrTokenInvalidOrExpired)
}

func TestVerifyExpiredToken(t *testing.T) {
	svc := NewTokenService(testAuthConfig())
	svc.now = func() time.Time { return time.Now().Add(-time.Hour) }

	token, _, err := svc.IssueAccess("user-1", domain.RoleMember)
	require.NoError(t, err)

	svc.now = time.Now
	_, err = svc.VerifyAccess(token)
	require.ErrorIs(t, err, ErrTokenInvalidOrExpired)
}

func TestVerifyLegacyTokenWithoutKind(t *testing.T) {
	svc := NewTokenService(testAuthConfig())

	token := signRaw(t, "base-secret", jwt.MapClaims{
		"userId": "user-1",
		"iat":    time.Now().Unix(),
		"exp":    time.Now().Add(10 * time.Minute).Unix(),
	})

	claims, err := svc.VerifyAccess(token)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.UserID)

	// A missing kind claim passes any expectation; only the base secret and
	// the access lifetime apply.
	claims, err = svc.VerifyRefresh(token)
	require.NoError(t, err)
	require.Empty(t, claims.Kind)
}

func TestVerifyUnrecognizedKindRejected(t *testing.T) {
	svc := NewTokenService(testAuthConfig())

	token := signRaw(t, "base-secret", jwt.MapClaims{
		"kind":   "session",
		"userId": "user-1",
		"iat":    time.Now().Unix(),
		"exp":    time.Now().Add(10 * time.Minute).Unix(),
	})

	// The unrecognized kind selects the access secret, so the signature
	// verifies when no expectation is given.
	claims, err := svc.Verify(token, "")
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.UserID)

	// But the embedded kind never satisfies a concrete expectation.
	_, err = svc.VerifyAccess(token)
	require.ErrorIs(t, err, ErrTokenKindMismatch)
	_, err = svc.VerifyRefresh(token)
	require.ErrorIs(t, err, ErrTokenKindMismatch)
}

func TestLifetime(t *testing.T) {
	svc := NewTokenService(testAuthConfig())
	require.Equal(t, 15*time.Minute, svc.Lifetime(KindAccess))
	require.Equal(t, 30*24*time.Hour, svc.Lifetime(KindRefresh))
	require.Equal(t, 5*time.Minute, svc.Lifetime(KindOtp))
	require.Equal(t, DefaultExpiry, svc.Lifetime(Kind("session")))
}

func TestParseExpiry(t *testing.T) {
	cases := []struct {
		expr string
		want time.Duration
	}{
		{"30s", 30 * time.Second},
		{"15m", 15 * time.Minute},
		{"2h", 2 * time.Hour},
		{"30d", 30 * 24 * time.Hour},
		{"", DefaultExpiry},
		{"10", DefaultExpiry},
		{"5w", DefaultExpiry},
		{"-5m", DefaultExpiry},
		{"15 m", DefaultExpiry},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, ParseExpiry(tc.expr), "expr %q", tc.expr)
	}
}
