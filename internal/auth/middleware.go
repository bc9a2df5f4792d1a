// Package auth guards the API with static API keys or HMAC-signed JWTs.
package auth

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nikhilbhutani/indicstt/internal/config"
)

type Claims struct {
	Scope string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

type Authenticator struct {
	keys       *KeySet
	headerName string
	secret     []byte
}

func NewAuthenticator(cfg config.AuthConfig) *Authenticator {
	header := cfg.APIKeyHeader
	if header == "" {
		header = "X-API-Key"
	}
	a := &Authenticator{
		keys:       NewKeySet(cfg.APIKeys),
		headerName: header,
	}
	if cfg.JWTSecret != "" {
		a.secret = []byte(cfg.JWTSecret)
	}
	return a
}

// Enabled reports whether any credential is configured. A disabled
// authenticator lets every request through.
func (a *Authenticator) Enabled() bool {
	return a.keys.Len() > 0 || len(a.secret) > 0
}

func (a *Authenticator) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		p, msg := a.principal(r)
		if p == nil {
			writeError(w, http.StatusUnauthorized, msg)
			return
		}

		slog.Debug("request authenticated", "principal", p.ID, "method", p.Method)
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

func (a *Authenticator) principal(r *http.Request) (*Principal, string) {
	if key := r.Header.Get(a.headerName); key != "" {
		id, ok := a.keys.Match(key)
		if !ok {
			return nil, "invalid API key"
		}
		return &Principal{ID: id, Method: MethodAPIKey, Permissions: []Permission{PermWildcard}}, ""
	}

	tokenStr := extractBearerToken(r)
	if tokenStr == "" {
		return nil, "missing credentials"
	}
	if len(a.secret) == 0 {
		return nil, "invalid token"
	}

	claims, err := a.parseToken(tokenStr)
	if err != nil {
		slog.Debug("token rejected", "error", err)
		return nil, "invalid token"
	}
	if claims.Subject == "" {
		return nil, "invalid token subject"
	}
	return &Principal{ID: "jwt:" + claims.Subject, Method: MethodJWT, Permissions: parseScope(claims.Scope)}, ""
}

func (a *Authenticator) parseToken(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("token not valid")
	}
	return claims, nil
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg, "detail": msg})
}
