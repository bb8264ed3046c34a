package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenExpired reports whether a JWT carries an exp claim in the past. The
// signing secret lives server-side, so the claims cannot be verified here;
// they are only inspected to avoid issuing calls the server will reject
// anyway. Tokens that do not parse as JWTs are treated as opaque and pass.
func tokenExpired(token string, now time.Time) bool {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return claims.ExpiresAt.Time.Before(now)
}

// secondFactorPending reports whether the token is the temporary one issued
// mid-login while the server waits for an MFA code. Such tokens must never be
// stored as session tokens.
func secondFactorPending(token string) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	pending, _ := claims["mfa_pending"].(bool)
	return pending
}
