package cmn

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": exp.Unix(),
	})
	s, err := tok.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return s
}

func TestTokenExpiringSoon(t *testing.T) {
	if TokenExpiringSoon("", time.Minute) {
		t.Fatal("expected empty token to report not-expiring")
	}
	if TokenExpiringSoon("not-a-jwt", time.Minute) {
		t.Fatal("expected unparseable token to report not-expiring")
	}

	soon := signedToken(t, time.Now().Add(5*time.Second))
	if !TokenExpiringSoon(soon, 30*time.Second) {
		t.Fatal("expected token expiring in 5s to be flagged within a 30s window")
	}

	later := signedToken(t, time.Now().Add(time.Hour))
	if TokenExpiringSoon(later, 30*time.Second) {
		t.Fatal("expected token expiring in an hour not to be flagged")
	}
}
