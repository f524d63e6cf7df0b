package guard

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"lovepage-backend/internal/session"
)

// SessionFromToken builds a signed-in session from a bearer token issued by
// the API. The signature is not checked here; the channel verifies it on
// every call. The subject and expiry only drive local session state.
func SessionFromToken(token string) (session.Session, error) {
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
	if token == "" {
		return session.Anonymous(), nil
	}
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return session.Session{}, fmt.Errorf("parse token: %w", err)
	}
	if claims.Subject == "" {
		return session.Session{}, fmt.Errorf("parse token: missing subject")
	}
	var expiresAt time.Time
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	return session.SignedInAs(claims.Subject, token, expiresAt), nil
}
