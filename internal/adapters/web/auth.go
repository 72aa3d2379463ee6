package web

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"invoicing-service/internal/app"

	"github.com/golang-jwt/jwt/v5"
)

type sessionKey struct{}

// sessionFromContext returns the tenant session stored in ctx.
func sessionFromContext(ctx context.Context) app.Session {
	v, _ := ctx.Value(sessionKey{}).(app.Session)
	return v
}

// TenantClaims is the JWT payload issued by the identity provider. The account
// owner id doubles as the tenant id.
type TenantClaims struct {
	MainAccountID string `json:"main_account_id"`
	BranchID      string `json:"branch_id"`
	jwt.RegisteredClaims
}

// RequireTenant validates the bearer token (or auth_token cookie) and injects the
// tenant session into the request context. Tokens without a tenant or branch are
// rejected with 401, as is every request when no secret is configured.
func (h *Handler) RequireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" || h.jwtSecret == "" {
			writeError(w, r, "unauthorized", "UNAUTHORIZED", http.StatusUnauthorized)
			return
		}

		claims := &TenantClaims{}
		token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return []byte(h.jwtSecret), nil
		})
		if err != nil || !token.Valid {
			writeError(w, r, "invalid or expired token", "UNAUTHORIZED", http.StatusUnauthorized)
			return
		}
		if strings.TrimSpace(claims.MainAccountID) == "" || strings.TrimSpace(claims.BranchID) == "" {
			writeError(w, r, "unauthorized", "UNAUTHORIZED", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), sessionKey{}, app.Session{
			TenantID: claims.MainAccountID,
			BranchID: claims.BranchID,
			UserID:   claims.Subject,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if cookie, err := r.Cookie("auth_token"); err == nil {
		return cookie.Value
	}
	return ""
}
