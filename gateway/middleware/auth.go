package middleware

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

type AuthConfig struct {
	Enabled    bool
	HMACSecret string
	Issuer     string
	Audience   string
	RoleClaim  string
	ClockSkew  time.Duration
}

// Principal is the caller resolved from the request.
type Principal struct {
	Subject string
	Role    string
}

type contextKey string

const contextKeyPrincipal contextKey = "votechain.principal"

// Development headers honoured only while token auth is disabled.
const (
	HeaderDevUser = "X-User-ID"
	HeaderDevRole = "X-User-Role"
)

// WithPrincipal attaches p to ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, contextKeyPrincipal, p)
}

// PrincipalFrom returns the caller attached by the Authenticator.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(contextKeyPrincipal).(Principal)
	return p, ok && p.Subject != ""
}

type Authenticator struct {
	cfg    AuthConfig
	logger *log.Logger
	secret []byte
}

func NewAuthenticator(cfg AuthConfig, logger *log.Logger) *Authenticator {
	if logger == nil {
		logger = log.Default()
	}
	if cfg.RoleClaim == "" {
		cfg.RoleClaim = "role"
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
	return &Authenticator{cfg: cfg, logger: logger, secret: []byte(strings.TrimSpace(cfg.HMACSecret))}
}

// Middleware resolves the caller and rejects anonymous requests. With auth
// disabled the caller is taken from the development headers.
func (a *Authenticator) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !a.cfg.Enabled {
				subject := strings.TrimSpace(r.Header.Get(HeaderDevUser))
				if subject == "" {
					WriteError(w, http.StatusUnauthorized, "VTC-401", "unauthorized", nil)
					return
				}
				p := Principal{Subject: subject, Role: strings.TrimSpace(r.Header.Get(HeaderDevRole))}
				next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
				return
			}
			tokenString := extractBearer(r.Header.Get("Authorization"))
			if tokenString == "" {
				WriteError(w, http.StatusUnauthorized, "VTC-401", "missing bearer token", nil)
				return
			}
			claims, err := a.parseToken(tokenString)
			if err != nil {
				a.logger.Printf("auth: token rejected: %v", err)
				WriteError(w, http.StatusUnauthorized, "VTC-401", "invalid token", nil)
				return
			}
			subject, _ := claims.GetSubject()
			if strings.TrimSpace(subject) == "" {
				WriteError(w, http.StatusUnauthorized, "VTC-401", "token subject required", nil)
				return
			}
			p := Principal{Subject: subject, Role: extractRole(claims, a.cfg.RoleClaim)}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// RequireRole rejects callers whose role differs from role.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFrom(r.Context())
			if !ok {
				WriteError(w, http.StatusUnauthorized, "VTC-401", "unauthorized", nil)
				return
			}
			if !strings.EqualFold(p.Role, role) {
				WriteError(w, http.StatusForbidden, "VTC-403", "forbidden", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// parseToken verifies signature, expiry and the configured issuer and
// audience.
func (a *Authenticator) parseToken(tokenString string) (jwt.MapClaims, error) {
	if len(a.secret) == 0 {
		return nil, errors.New("auth secret not configured")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodHS384.Alg(), jwt.SigningMethodHS512.Alg()}),
		jwt.WithLeeway(a.cfg.ClockSkew),
		jwt.WithExpirationRequired(),
	}
	if a.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.cfg.Issuer))
	}
	if a.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(a.cfg.Audience))
	}
	claims := jwt.MapClaims{}
	if _, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...); err != nil {
		return nil, err
	}
	return claims, nil
}

func extractRole(claims jwt.MapClaims, roleClaim string) string {
	switch v := claims[roleClaim].(type) {
	case string:
		return strings.TrimSpace(v)
	case []interface{}:
		// first string entry wins
		for _, entry := range v {
			if s, ok := entry.(string); ok {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}

func extractBearer(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
