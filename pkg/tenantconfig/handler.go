package tenantconfig

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/otterscale/autoscale/internal/auth"
	"github.com/otterscale/autoscale/internal/httpserver"
)

// auditLogger is the minimal surface this package needs from internal/audit.
// Importing internal/audit directly would cycle through internal/auth (for
// Identity) back into pkg/authtoken (for Result), so the dependency is
// inverted to a local interface instead.
type auditLogger interface {
	LogFromRequest(r *http.Request, tenantID uuid.UUID, action, resource string, resourceID uuid.UUID, detail json.RawMessage)
}

// Handler provides HTTP handlers for the per-tenant quota override API.
type Handler struct {
	logger  *slog.Logger
	audit   auditLogger
	service *Service
}

// NewHandler creates a tenant quota override Handler backed by the given global pool.
func NewHandler(logger *slog.Logger, audit auditLogger, pool *pgxpool.Pool) *Handler {
	return &Handler{logger: logger, audit: audit, service: NewService(pool, logger)}
}

// Routes returns a chi.Router with the quota override routes mounted. All
// routes require the admin role.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(auth.RequireRole(auth.RoleAdmin))
	r.Get("/", h.handleGet)
	r.Put("/", h.handleUpdate)
	return r
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id := auth.FromContext(r.Context())
	if id == nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "missing authentication")
		return
	}

	resp, err := h.service.Get(r.Context(), id.TenantID)
	if err != nil {
		h.logger.Error("getting tenant quota overrides", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to get configuration")
		return
	}

	httpserver.Respond(w, http.StatusOK, resp)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id := auth.FromContext(r.Context())
	if id == nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "missing authentication")
		return
	}

	var req UpdateRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	resp, err := h.service.Update(r.Context(), id.TenantID, req)
	if err != nil {
		h.logger.Error("updating tenant quota overrides", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to update configuration")
		return
	}

	if h.audit != nil {
		detail, _ := json.Marshal(req)
		h.audit.LogFromRequest(r, id.TenantID, "update", "tenant_quota_overrides", id.TenantID, detail)
	}

	httpserver.Respond(w, http.StatusOK, resp)
}
