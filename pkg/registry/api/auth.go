package api

import (
	"context"
	"net/http"

	"github.com/go-chi/jwtauth"
	"github.com/google/uuid"
	"github.com/skillhub/registry/pkg/registry"
)

type contextKey string

const principalKey contextKey = "principal"

// Auth verifies bearer tokens and resolves the request principal. The
// registry trusts the token's sub and role claims; issuing tokens is the
// identity provider's job.
type Auth struct {
	tokenAuth *jwtauth.JWTAuth
}

// NewAuth creates an Auth layer with an HS256 signing secret
func NewAuth(secret string) *Auth {
	return &Auth{tokenAuth: jwtauth.New("HS256", []byte(secret), nil)}
}

// TokenAuth exposes the underlying verifier, used by tests to mint tokens.
func (a *Auth) TokenAuth() *jwtauth.JWTAuth {
	return a.tokenAuth
}

// Verifier decodes a token from the request when present. It never
// rejects; Require does that for protected routes.
func (a *Auth) Verifier(next http.Handler) http.Handler {
	return jwtauth.Verifier(a.tokenAuth)(next)
}

// Principal attaches the resolved principal to the context when the
// request carried a valid token. Public routes stay anonymous.
func (a *Auth) Principal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, claims, err := jwtauth.FromContext(r.Context())
		if err != nil || token == nil {
			next.ServeHTTP(w, r)
			return
		}
		p, ok := principalFromClaims(claims)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		ctx := context.WithValue(r.Context(), principalKey, p)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Require rejects requests without a resolved principal.
func Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := PrincipalFrom(r.Context()); !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// PrincipalFrom returns the request principal, if any.
func PrincipalFrom(ctx context.Context) (registry.Principal, bool) {
	p, ok := ctx.Value(principalKey).(registry.Principal)
	return p, ok
}

func principalFromClaims(claims map[string]interface{}) (registry.Principal, bool) {
	sub, _ := claims["sub"].(string)
	userID, err := uuid.Parse(sub)
	if err != nil {
		return registry.Principal{}, false
	}
	role := registry.RoleUser
	if r, ok := claims["role"].(string); ok && r != "" {
		role = registry.Role(r)
	}
	return registry.Principal{UserID: userID, Role: role}, true
}
