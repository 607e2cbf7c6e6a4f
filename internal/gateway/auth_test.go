package gateway

import (
	"encoding/json"
	"net/http"
	"net/url"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/realtime-gateway/internal/auth"
	"github.com/spec-kit/realtime-gateway/internal/config"
)

const testSecret = "gateway-test-secret"

func signTestToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	if _, ok := claims["exp"]; !ok {
		claims["exp"] = time.Now().Add(10 * time.Minute).Unix()
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func newTestAuthenticator(t *testing.T, cfg AuthenticatorConfig) *Authenticator {
	t.Helper()
	if cfg.Verifier == nil {
		cfg.Verifier = NewSecretVerifier([]byte(testSecret))
	}
	return NewAuthenticator(cfg, zap.NewNop())
}

func TestAuthenticateTokenExtractionOrder(t *testing.T) {
	a := newTestAuthenticator(t, AuthenticatorConfig{})

	authToken := signTestToken(t, jwt.MapClaims{"userId": "from-auth"})
	headerToken := signTestToken(t, jwt.MapClaims{"userId": "from-header"})
	queryToken := signTestToken(t, jwt.MapClaims{"userId": "from-query"})

	header := http.Header{}
	header.Set("Authorization", "Bearer "+headerToken)
	query := url.Values{"token": []string{queryToken}}

	identity, err := a.Authenticate(Handshake{
		Auth:   map[string]string{"token": authToken},
		Header: header,
		Query:  query,
	})
	require.NoError(t, err)
	require.Equal(t, "from-auth", identity.UserID)

	identity, err = a.Authenticate(Handshake{Header: header, Query: query})
	require.NoError(t, err)
	require.Equal(t, "from-header", identity.UserID)

	identity, err = a.Authenticate(Handshake{Query: query})
	require.NoError(t, err)
	require.Equal(t, "from-query", identity.UserID)
}

func TestAuthenticateMissingToken(t *testing.T) {
	a := newTestAuthenticator(t, AuthenticatorConfig{})

	_, err := a.Authenticate(Handshake{Header: http.Header{}})
	require.ErrorIs(t, err, ErrAuthenticationRequired)
}

func TestAuthenticateInvalidToken(t *testing.T) {
	a := newTestAuthenticator(t, AuthenticatorConfig{})

	_, err := a.Authenticate(Handshake{Auth: map[string]string{"token": "garbage"}})
	require.ErrorIs(t, err, auth.ErrTokenInvalidOrExpired)

	wrongSecret, err2 := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"userId": "u1",
		"exp":    time.Now().Add(10 * time.Minute).Unix(),
	}).SignedString([]byte("some-other-secret"))
	require.NoError(t, err2)

	_, err = a.Authenticate(Handshake{Auth: map[string]string{"token": wrongSecret}})
	require.ErrorIs(t, err, auth.ErrTokenInvalidOrExpired)
}

func TestAuthenticatePayloadValidation(t *testing.T) {
	a := newTestAuthenticator(t, AuthenticatorConfig{})

	// Valid signature but no user id claim.
	token := signTestToken(t, jwt.MapClaims{"role": "MEMBER"})
	_, err := a.Authenticate(Handshake{Auth: map[string]string{"token": token}})
	require.ErrorIs(t, err, ErrInvalidPayload)

	custom := newTestAuthenticator(t, AuthenticatorConfig{
		PayloadValidator: func(claims map[string]any) bool {
			return claims["tenant"] == "acme"
		},
	})
	token = signTestToken(t, jwt.MapClaims{"userId": "u1"})
	_, err = custom.Authenticate(Handshake{Auth: map[string]string{"token": token}})
	require.ErrorIs(t, err, ErrInvalidPayload)

	token = signTestToken(t, jwt.MapClaims{"userId": "u1", "tenant": "acme"})
	identity, err := custom.Authenticate(Handshake{Auth: map[string]string{"token": token}})
	require.NoError(t, err)
	require.Equal(t, "u1", identity.UserID)
}

func TestAuthenticateIdentityPassthrough(t *testing.T) {
	a := newTestAuthenticator(t, AuthenticatorConfig{})

	token := signTestToken(t, jwt.MapClaims{
		"userId": "u1",
		"role":   "ADMIN",
		"email":  "u1@example.com",
		"tenant": "acme",
		"iat":    time.Now().Unix(),
	})

	identity, err := a.Authenticate(Handshake{Auth: map[string]string{"token": token}})
	require.NoError(t, err)
	require.Equal(t, "u1", identity.UserID)
	require.Equal(t, "ADMIN", identity.Role)
	require.Equal(t, "u1@example.com", identity.Email)
	require.Equal(t, "acme", identity.Extra["tenant"])

	// Identity and token bookkeeping claims never leak into the passthrough.
	for _, reserved := range []string{"userId", "role", "email", "iat", "exp", "nbf"} {
		require.NotContains(t, identity.Extra, reserved)
	}
}

func newTestClient(identity *Identity) *Client {
	gw := &Gateway{
		cfg:    config.GatewayConfig{SendBufferSize: 8},
		logger: zap.NewNop(),
	}
	return &Client{
		id:       "conn-test",
		identity: identity,
		gw:       gw,
		send:     make(chan []byte, 8),
		closed:   make(chan struct{}),
		rooms:    make(map[string]struct{}),
	}
}

func lastEmitted(t *testing.T, c *Client) Frame {
	t.Helper()
	select {
	case payload := <-c.send:
		var frame Frame
		require.NoError(t, json.Unmarshal(payload, &frame))
		return frame
	default:
		t.Fatal("no frame emitted")
		return Frame{}
	}
}

func TestRequireRoleAllows(t *testing.T) {
	a := newTestAuthenticator(t, AuthenticatorConfig{})

	called := false
	handler := a.RequireRole([]string{"ADMIN"}, func(c *Client, data json.RawMessage) {
		called = true
	})

	c := newTestClient(&Identity{UserID: "u1", Role: "ADMIN"})
	handler(c, nil)
	require.True(t, called)
	require.Empty(t, c.send)
}

func TestRequireRoleRejectsWrongRole(t *testing.T) {
	a := newTestAuthenticator(t, AuthenticatorConfig{})

	called := false
	handler := a.RequireRole([]string{"ADMIN"}, func(c *Client, data json.RawMessage) {
		called = true
	})

	c := newTestClient(&Identity{UserID: "u1", Role: "MEMBER"})
	handler(c, nil)
	require.False(t, called)

	frame := lastEmitted(t, c)
	require.Equal(t, "error", frame.Event)
	require.Contains(t, string(frame.Data), "not allowed")
}

func TestRequireRoleRejectsUnauthenticated(t *testing.T) {
	a := newTestAuthenticator(t, AuthenticatorConfig{})

	called := false
	handler := a.RequireRole([]string{"ADMIN"}, func(c *Client, data json.RawMessage) {
		called = true
	})

	c := newTestClient(&Identity{})
	handler(c, nil)
	require.False(t, called)

	frame := lastEmitted(t, c)
	require.Equal(t, "error", frame.Event)
	require.Contains(t, string(frame.Data), "authentication required")
}
