package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	jwt "github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/realtime-gateway/internal/auth"
)

// Handshake carries the credentials an inbound connection presented:
// an explicit auth payload attached at connect time, the upgrade request
// headers, and the query string.
type Handshake struct {
	Auth   map[string]string
	Header http.Header
	Query  url.Values
}

// HandshakeFromRequest builds a handshake view of a websocket upgrade request.
func HandshakeFromRequest(r *http.Request) Handshake {
	return Handshake{Header: r.Header, Query: r.URL.Query()}
}

// Identity is what authentication attaches to a connection: well-known typed
// claims plus an open-ended passthrough for anything else the token carried.
type Identity struct {
	UserID string
	Role   string
	Email  string
	Extra  map[string]any
}

// TokenVerifier validates a raw token and returns its full claim map.
type TokenVerifier func(token string) (map[string]any, error)

// NewSecretVerifier verifies handshake tokens against a dedicated HMAC
// secret, the gateway's historical convention. No kind narrowing applies.
func NewSecretVerifier(secret []byte) TokenVerifier {
	return func(token string) (map[string]any, error) {
		claims := jwt.MapClaims{}
		parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
			if t.Method != jwt.SigningMethodHS256 {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return secret, nil
		})
		if err != nil || !parsed.Valid {
			return nil, auth.ErrTokenInvalidOrExpired
		}
		return claims, nil
	}
}

// NewServiceVerifier verifies handshake tokens through the token service's
// access-kind path, then recovers the full claim map for passthrough.
func NewServiceVerifier(tokens *auth.TokenService) TokenVerifier {
	return func(token string) (map[string]any, error) {
		if _, err := tokens.VerifyAccess(token); err != nil {
			return nil, err
		}
		claims := jwt.MapClaims{}
		if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
			return nil, auth.ErrTokenMalformed
		}
		return claims, nil
	}
}

// tokenMetadataKeys are claim fields never copied onto connection data.
var tokenMetadataKeys = map[string]struct{}{
	"userId": {}, "role": {}, "email": {},
	"iat": {}, "exp": {}, "nbf": {},
}

// AuthenticatorConfig configures connection authentication. Verifier is
// required; extractor and validator default to the conventions below.
type AuthenticatorConfig struct {
	Verifier         TokenVerifier
	TokenExtractor   func(Handshake) string
	PayloadValidator func(map[string]any) bool
}

// Authenticator gates connection admission: it extracts a token from the
// handshake, verifies it, validates the payload on domain grounds and
// produces the identity attached to the connection.
type Authenticator struct {
	verify   TokenVerifier
	extract  func(Handshake) string
	validate func(map[string]any) bool
	logger   *zap.Logger
}

// NewAuthenticator constructs an authenticator.
func NewAuthenticator(cfg AuthenticatorConfig, logger *zap.Logger) *Authenticator {
	a := &Authenticator{
		verify:   cfg.Verifier,
		extract:  cfg.TokenExtractor,
		validate: cfg.PayloadValidator,
		logger:   logger,
	}
	if a.extract == nil {
		a.extract = defaultTokenExtractor
	}
	if a.validate == nil {
		a.validate = defaultPayloadValidator
	}
	return a
}

// defaultTokenExtractor checks, in order: the explicit auth payload field,
// the Authorization bearer header, and the token query parameter. First
// match wins.
func defaultTokenExtractor(h Handshake) string {
	if token := h.Auth["token"]; token != "" {
		return token
	}
	if header := h.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	if h.Query != nil {
		if token := h.Query.Get("token"); token != "" {
			return token
		}
	}
	return ""
}

// defaultPayloadValidator requires a nonempty user id claim.
func defaultPayloadValidator(claims map[string]any) bool {
	userID, _ := claims["userId"].(string)
	return userID != ""
}

// Authenticate runs the admission gate for one handshake. A nil error means
// the connection may be admitted with the returned identity.
func (a *Authenticator) Authenticate(h Handshake) (*Identity, error) {
	token := a.extract(h)
	if token == "" {
		return nil, ErrAuthenticationRequired
	}

	claims, err := a.verify(token)
	if err != nil {
		return nil, err
	}

	if !a.validate(claims) {
		return nil, ErrInvalidPayload
	}

	identity := &Identity{Extra: make(map[string]any)}
	identity.UserID, _ = claims["userId"].(string)
	identity.Role, _ = claims["role"].(string)
	identity.Email, _ = claims["email"].(string)
	for key, val := range claims {
		if _, reserved := tokenMetadataKeys[key]; reserved {
			continue
		}
		identity.Extra[key] = val
	}
	return identity, nil
}

// RequireRole wraps an event handler so it only runs when the connection's
// authenticated role is among the allowed set. Otherwise an error event is
// emitted back to that connection and the handler is skipped.
func (a *Authenticator) RequireRole(roles []string, handler EventHandler) EventHandler {
	return func(c *Client, data json.RawMessage) {
		identity := c.Identity()
		if identity == nil || identity.UserID == "" {
			c.EmitError("authentication required for this operation")
			return
		}

		allowed := false
		for _, role := range roles {
			if identity.Role == role {
				allowed = true
				break
			}
		}
		if !allowed {
			a.logger.Warn("event authorization denied",
				zap.String("connection_id", c.ID()),
				zap.String("user_id", identity.UserID),
				zap.String("role", identity.Role),
			)
			c.EmitError("you are not allowed to perform this operation")
			return
		}
		handler(c, data)
	}
}
