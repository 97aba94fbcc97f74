package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

type contextKey string

const PrincipalKey contextKey = "principal"

func isHealthPath(p string) bool {
	switch p {
	case "/health", "/ready", "/live", "/metrics":
		return true
	}
	return false
}

// requestKey reads "Authorization: Bearer <key>", a bare Authorization
// value, or X-API-Key, in that order.
func requestKey(r *http.Request) string {
	if auth := strings.TrimSpace(r.Header.Get("Authorization")); auth != "" {
		if scheme, rest, ok := strings.Cut(auth, " "); ok && strings.EqualFold(scheme, "bearer") {
			return strings.TrimSpace(rest)
		}
		return auth
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

// principalFor compares against every key so timing does not reveal which
// principal matched.
func principalFor(apiKey string, validKeys map[string]string) string {
	var principal string
	for name, key := range validKeys {
		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) == 1 && principal == "" {
			principal = name
		}
	}
	return principal
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="annoscope"`)
	http.Error(w, msg, http.StatusUnauthorized)
}

// APIKeyAuth validates API key from Authorization header. validKeys maps a
// principal name to its key. Health checks, metrics and CORS preflight pass
// through.
func APIKeyAuth(validKeys map[string]string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isHealthPath(r.URL.Path) || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			apiKey := requestKey(r)
			if apiKey == "" {
				unauthorized(w, "missing API key")
				return
			}
			principal := principalFor(apiKey, validKeys)
			if principal == "" {
				unauthorized(w, "invalid API key")
				return
			}

			ctx := context.WithValue(r.Context(), PrincipalKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetPrincipalFromContext extracts the authenticated principal, or "".
func GetPrincipalFromContext(ctx context.Context) string {
	if p, ok := ctx.Value(PrincipalKey).(string); ok {
		return p
	}
	return ""
}
