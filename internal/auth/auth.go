// Package auth resolves the caller identity for the authenticated surface of
// the API (everything except the anonymous webhook execute path, which goes
// through pkg/capability instead). It owns only the narrow contract of
// validating an already-issued tenant API key — identity/token acquisition
// itself is an external collaborator per the specification's non-goals.
package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/otterscale/autoscale/internal/httpserver"
	"github.com/otterscale/autoscale/pkg/authtoken"
)

// Identity is the authenticated caller attached to the request context.
type Identity struct {
	TenantID  uuid.UUID
	KeyID     uuid.UUID
	KeyPrefix string
	Role      string
}

type contextKey string

const identityKey contextKey = "auth_identity"

// NewContext returns a copy of ctx carrying id.
func NewContext(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// FromContext returns the Identity stored in ctx, or nil if none.
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey).(*Identity)
	return id
}

// Authenticator validates a raw bearer token against stored tenant API keys.
type Authenticator interface {
	Authenticate(ctx context.Context, rawKey string) (*authtoken.Result, error)
}

// Middleware authenticates every request via the "Authorization: Bearer <key>"
// header, looked up against the tenant API key store, and stores the
// resulting Identity in the request context. Requests without a valid key
// are rejected with 401 before reaching any domain handler.
func Middleware(authn Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
				return
			}
			raw := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))

			result, err := authn.Authenticate(r.Context(), raw)
			if err != nil {
				httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "invalid api key")
				return
			}

			id := &Identity{
				TenantID:  result.TenantID,
				KeyID:     result.KeyID,
				KeyPrefix: result.KeyPrefix,
				Role:      result.Role,
			}

			next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), id)))
		})
	}
}

// RoleAdmin is the role required to manage tenant quota overrides and API keys.
const RoleAdmin = "admin"

// RequireRole rejects requests whose Identity does not have the given role.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := FromContext(r.Context())
			if id == nil || id.Role != role {
				httpserver.RespondError(w, http.StatusForbidden, "forbidden", "requires "+role+" role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// TenantFromPath resolves the chi path parameter named param and rejects the
// request if it does not match the authenticated Identity's tenant — a
// caller's API key authenticates it for exactly one tenant, never another
// tenant's groups.
func TenantFromPath(param string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := FromContext(r.Context())
			if id == nil {
				httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "missing authentication")
				return
			}
			if path := chi.URLParam(r, param); path != "" && path != id.TenantID.String() {
				httpserver.RespondError(w, http.StatusForbidden, "forbidden", "tenant mismatch")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
