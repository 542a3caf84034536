package cmn

import (
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// TokenExpiringSoon parses an unverified JWT access token (§6 "conn.api_token")
// and reports whether its exp claim falls within window — used before
// reconnect so a client can surface a refresh-needed error rather than
// dialing with a token the server will reject mid-handshake. Verification is
// the issuing server's job; this is a local, no-network freshness check.
func TokenExpiringSoon(token string, window time.Duration) bool {
	if token == "" {
		return false
	}
	claims := jwt.MapClaims{}
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return false
	}
	expFloat, ok := claims["exp"].(float64)
	if !ok {
		return false
	}
	exp := time.Unix(int64(expFloat), 0)
	return time.Until(exp) < window
}
