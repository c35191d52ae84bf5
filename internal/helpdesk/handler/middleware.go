package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"troubledesk/internal/helpdesk/models"
	"troubledesk/pkg/fault"
)

type contextKey string

const identityKey contextKey = "identity"

// Auth validates the bearer token and stashes the caller identity in the
// request context. Token issuance happens upstream; this only reads the
// subject and role claims.
func Auth(signingKey []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			tokenString, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || tokenString == "" {
				writeError(w, fault.New(fault.CodeForbidden, "missing bearer token"))
				return
			}

			token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fault.Newf(fault.CodeForbidden, "unexpected signing method %v", t.Header["alg"])
				}
				return signingKey, nil
			})
			if err != nil || !token.Valid {
				writeError(w, fault.New(fault.CodeForbidden, "invalid token"))
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				writeError(w, fault.New(fault.CodeForbidden, "invalid claims"))
				return
			}
			sub, _ := claims["sub"].(string)
			role, _ := claims["role"].(string)
			identity := models.Identity{ID: sub, Role: models.Role(role)}
			if identity.ID == "" || !identity.Role.Valid() {
				writeError(w, fault.New(fault.CodeForbidden, "token missing subject or role"))
				return
			}

			ctx := context.WithValue(r.Context(), identityKey, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// callerFrom extracts the authenticated identity set by Auth.
func callerFrom(ctx context.Context) (models.Identity, bool) {
	id, ok := ctx.Value(identityKey).(models.Identity)
	return id, ok
}

// WithIdentity injects an identity directly; test helper for exercising
// handlers without minting tokens.
func WithIdentity(ctx context.Context, id models.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}
