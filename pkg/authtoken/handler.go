package authtoken

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/otterscale/autoscale/internal/httpserver"
)

// auditLogger is the subset of internal/audit.Writer this package needs.
// Declared as an interface here (rather than importing internal/audit
// directly) so internal/audit can depend on internal/auth, which depends on
// this package, without an import cycle.
type auditLogger interface {
	LogFromRequest(r *http.Request, tenantID uuid.UUID, action, resource string, resourceID uuid.UUID, detail json.RawMessage)
}

// Handler provides the admin HTTP handlers for tenant API key management,
// mounted under the authenticated, role-guarded admin surface.
type Handler struct {
	logger  *slog.Logger
	audit   auditLogger
	service *Service
}

// NewHandler creates a Handler.
func NewHandler(logger *slog.Logger, audit auditLogger, service *Service) *Handler {
	return &Handler{logger: logger, audit: audit, service: service}
}

// Routes returns a chi.Router with all API key routes mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.handleList)
	r.Post("/", h.handleCreate)
	r.Delete("/{id}", h.handleDelete)
	return r
}

func tenantFromChi(r *http.Request) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "tenant")
	id, err := uuid.Parse(raw)
	return id, err == nil
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFromChi(r)
	if !ok {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid tenant id")
		return
	}

	items, err := h.service.List(r.Context(), tenantID)
	if err != nil {
		h.logger.Error("listing api keys", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list api keys")
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"keys": items, "count": len(items)})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFromChi(r)
	if !ok {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid tenant id")
		return
	}

	var req CreateRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	resp, err := h.service.Create(r.Context(), tenantID, req)
	if err != nil {
		h.logger.Error("creating api key", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to create api key")
		return
	}

	if h.audit != nil {
		detail, _ := json.Marshal(map[string]string{"description": resp.Description})
		h.audit.LogFromRequest(r, tenantID, "create", "api_key", resp.ID, detail)
	}

	httpserver.Respond(w, http.StatusCreated, resp)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFromChi(r)
	if !ok {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid tenant id")
		return
	}
	keyID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid api key id")
		return
	}

	if err := h.service.Delete(r.Context(), tenantID, keyID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "api key not found")
			return
		}
		h.logger.Error("deleting api key", "error", err, "id", keyID)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to delete api key")
		return
	}

	if h.audit != nil {
		h.audit.LogFromRequest(r, tenantID, "delete", "api_key", keyID, nil)
	}
	httpserver.Respond(w, http.StatusNoContent, nil)
}
