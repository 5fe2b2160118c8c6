package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/KushalM23/SmartAgriNode/internal/audit"
)

type contextKey int

const claimsKey contextKey = iota

// Middleware guards client routes with bearer token verification.
type Middleware struct {
	verifier TokenVerifier
}

// NewMiddleware creates an auth middleware backed by verifier.
func NewMiddleware(verifier TokenVerifier) *Middleware {
	return &Middleware{verifier: verifier}
}

// RequireAuth rejects requests without a valid bearer token with 401 before
// the handler runs. On success the claims and the user id are stored in the request context.
func (m *Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := extractBearerToken(r)
		if !ok {
			writeUnauthorized(w, r, "Authorization header missing or malformed")
			return
		}

		claims, err := m.verifier.VerifyToken(token)
		if err != nil {
			writeUnauthorized(w, r, "Invalid token or expired session")
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey, claims)
		ctx = audit.WithUser(ctx, claims.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractBearerToken accepts "Bearer <token>" with a case-insensitive scheme.
func extractBearerToken(r *http.Request) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// ClaimsFrom returns the verified claims stored by RequireAuth, or nil.
func ClaimsFrom(ctx context.Context) *Claims {
	claims, _ := ctx.Value(claimsKey).(*Claims)
	return claims
}

// WithClaims stores claims in ctx the way RequireAuth does.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// writeUnauthorized writes the common error body with code UNAUTHORIZED.
func writeUnauthorized(w http.ResponseWriter, r *http.Request, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="agrinode"`)
	w.WriteHeader(http.StatusUnauthorized)

	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":         message,
		"code":          "UNAUTHORIZED",
		"correlationId": audit.CorrelationIDFrom(r.Context()),
	})
}
