// Package auth verifies the session cookie set by the dashboard and
// the API key used for debug reads.
package auth

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/golang-jwt/jwt/v5"
)

var ErrUnauthorized = errors.New("unauthorized")

type Verifier struct {
	CookieName string
	Secret     []byte
	DebugKey   string
}

func NewVerifier(cookieName, secret, debugKey string) *Verifier {
	return &Verifier{CookieName: cookieName, Secret: []byte(secret), DebugKey: debugKey}
}

// AdminID extracts and verifies the admin identity from the session
// cookie. The token is an HMAC-SHA256 JWT whose subject is the admin
// id.
func (v *Verifier) AdminID(r *http.Request) (string, error) {
	cookie, err := r.Cookie(v.CookieName)
	if err != nil {
		return "", ErrUnauthorized
	}

	token, err := jwt.Parse(cookie.Value, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.Secret, nil
	})
	if err != nil || !token.Valid {
		return "", ErrUnauthorized
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrUnauthorized
	}
	if id, ok := claims["adminId"].(string); ok && id != "" {
		return id, nil
	}
	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		return sub, nil
	}
	return "", ErrUnauthorized
}

// DebugAllowed checks the API key header used by the debug dump.
func (v *Verifier) DebugAllowed(r *http.Request) bool {
	return v.DebugKey != "" && r.Header.Get("X-Api-Key") == v.DebugKey
}
