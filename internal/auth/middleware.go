package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

type contextKey string

// ClaimsContextKey is the key under which verified claims are stored.
const ClaimsContextKey contextKey = "claims"

type Middleware struct {
	tokens *TokenManager
}

func NewMiddleware(tokens *TokenManager) *Middleware {
	return &Middleware{tokens: tokens}
}

// Authenticate verifies the bearer token and stores its claims in the
// request context. Verification is local (signature + expiry); see
// TokenManager.VerifyAccess for the revocation exposure window.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusUnauthorized, Response{Message: "authentication required"})
			return
		}

		claims, err := m.tokens.VerifyAccess(token)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, Response{Message: "invalid token"})
			return
		}

		ctx := context.WithValue(r.Context(), ClaimsContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}

// ClaimsFromContext returns the verified claims stored by Authenticate.
func ClaimsFromContext(ctx context.Context) (*Claims, error) {
	claims, ok := ctx.Value(ClaimsContextKey).(*Claims)
	if !ok {
		return nil, errors.New("claims not found in context")
	}
	return claims, nil
}
