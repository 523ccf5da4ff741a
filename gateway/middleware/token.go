package middleware

import (
	"errors"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// TokenRequest describes a bearer token to mint.
type TokenRequest struct {
	Secret    string
	Subject   string
	Role      string
	RoleClaim string
	Issuer    string
	Audience  string
	TTL       time.Duration
	Now       time.Time
}

// IssueToken signs an HS256 token the Authenticator accepts. Intended for
// local tooling; production tokens come from the identity provider.
func IssueToken(req TokenRequest) (string, error) {
	secret := strings.TrimSpace(req.Secret)
	if secret == "" {
		return "", errors.New("signing secret required")
	}
	if strings.TrimSpace(req.Subject) == "" {
		return "", errors.New("subject required")
	}
	if req.TTL <= 0 {
		req.TTL = time.Hour
	}
	if req.Now.IsZero() {
		req.Now = time.Now()
	}
	if req.RoleClaim == "" {
		req.RoleClaim = "role"
	}
	claims := jwt.MapClaims{
		"sub": req.Subject,
		"iat": req.Now.Unix(),
		"exp": req.Now.Add(req.TTL).Unix(),
	}
	if req.Role != "" {
		claims[req.RoleClaim] = req.Role
	}
	if req.Issuer != "" {
		claims["iss"] = req.Issuer
	}
	if req.Audience != "" {
		claims["aud"] = req.Audience
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
