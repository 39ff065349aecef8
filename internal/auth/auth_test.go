package auth_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/otterscale/autoscale/internal/auth"
	"github.com/otterscale/autoscale/pkg/authtoken"
)

type fakeAuthenticator struct {
	result *authtoken.Result
	err    error
}

func (f *fakeAuthenticator) Authenticate(_ context.Context, _ string) (*authtoken.Result, error) {
	return f.result, f.err
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddleware_RejectsMissingBearer(t *testing.T) {
	authn := &fakeAuthenticator{}
	h := auth.Middleware(authn)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestMiddleware_RejectsInvalidKey(t *testing.T) {
	authn := &fakeAuthenticator{err: http.ErrNoCookie}
	h := auth.Middleware(authn)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer bad-key")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestMiddleware_AttachesIdentityOnSuccess(t *testing.T) {
	tenantID := uuid.New()
	authn := &fakeAuthenticator{result: &authtoken.Result{
		KeyID:     uuid.New(),
		TenantID:  tenantID,
		KeyPrefix: "asc_abcdefghij",
		Role:      "operator",
	}}

	var seen *auth.Identity
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = auth.FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	h := auth.Middleware(authn)(next)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer good-key")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if seen == nil {
		t.Fatal("expected an Identity in the request context")
	}
	if seen.TenantID != tenantID || seen.Role != "operator" {
		t.Errorf("identity = %+v, want tenant %s role operator", seen, tenantID)
	}
}

func TestRequireRole_RejectsWrongRole(t *testing.T) {
	h := auth.RequireRole(auth.RoleAdmin)(okHandler())

	id := &auth.Identity{TenantID: uuid.New(), Role: "operator"}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(auth.NewContext(req.Context(), id))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
}

func TestRequireRole_AllowsMatchingRole(t *testing.T) {
	h := auth.RequireRole(auth.RoleAdmin)(okHandler())

	id := &auth.Identity{TenantID: uuid.New(), Role: auth.RoleAdmin}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(auth.NewContext(req.Context(), id))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestTenantFromPath_RejectsMismatchedTenant(t *testing.T) {
	callerTenant := uuid.New()
	otherTenant := uuid.New()

	r := chi.NewRouter()
	r.Route("/{tenant}", func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				id := &auth.Identity{TenantID: callerTenant, Role: "operator"}
				next.ServeHTTP(w, req.WithContext(auth.NewContext(req.Context(), id)))
			})
		})
		r.Use(auth.TenantFromPath("tenant"))
		r.Get("/groups", okHandler().ServeHTTP)
	})

	req := httptest.NewRequest(http.MethodGet, "/"+otherTenant.String()+"/groups", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
}

func TestTenantFromPath_AllowsMatchingTenant(t *testing.T) {
	callerTenant := uuid.New()

	r := chi.NewRouter()
	r.Route("/{tenant}", func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				id := &auth.Identity{TenantID: callerTenant, Role: "operator"}
				next.ServeHTTP(w, req.WithContext(auth.NewContext(req.Context(), id)))
			})
		})
		r.Use(auth.TenantFromPath("tenant"))
		r.Get("/groups", okHandler().ServeHTTP)
	})

	req := httptest.NewRequest(http.MethodGet, "/"+callerTenant.String()+"/groups", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestTenantFromPath_RejectsUnauthenticated(t *testing.T) {
	r := chi.NewRouter()
	r.Route("/{tenant}", func(r chi.Router) {
		r.Use(auth.TenantFromPath("tenant"))
		r.Get("/groups", okHandler().ServeHTTP)
	})

	req := httptest.NewRequest(http.MethodGet, "/"+uuid.New().String()+"/groups", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}
