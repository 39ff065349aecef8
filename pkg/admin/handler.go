package admin

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/otterscale/autoscale/internal/auth"
	"github.com/otterscale/autoscale/internal/httpserver"
)

// Handler provides the HTTP handler for deployment-wide admin stats.
type Handler struct {
	logger *slog.Logger
	store  *Store
}

// NewHandler creates an admin stats Handler backed by the global pool.
func NewHandler(logger *slog.Logger, pool *pgxpool.Pool) *Handler {
	return &Handler{logger: logger, store: NewStore(pool)}
}

// Routes returns a chi.Router with the admin stats route mounted, gated
// behind the admin role.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(auth.RequireRole(auth.RoleAdmin))
	r.Get("/stats", h.handleStats)
	return r
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.store.Counts(r.Context())
	if err != nil {
		h.logger.Error("computing admin stats", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to compute stats")
		return
	}
	httpserver.Respond(w, http.StatusOK, counts)
}
