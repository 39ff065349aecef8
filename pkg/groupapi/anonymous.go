package groupapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/otterscale/autoscale/internal/httpserver"
	"github.com/otterscale/autoscale/pkg/capability"
	"github.com/otterscale/autoscale/pkg/policy"
)

// AnonymousHandler serves the bearer-capability webhook fire endpoint,
// bypassing tenant authentication entirely: the capability hash itself is
// the credential.
type AnonymousHandler struct {
	logger   *slog.Logger
	index    *capability.Index
	executor *policy.Executor
}

// NewAnonymousHandler creates an AnonymousHandler backed by idx and ex.
func NewAnonymousHandler(logger *slog.Logger, idx *capability.Index, ex *policy.Executor) *AnonymousHandler {
	return &AnonymousHandler{logger: logger, index: idx, executor: ex}
}

// Routes returns a chi.Router with the anonymous execute route mounted at
// "/{version}/{hash}", matching the "{url_root}/v{api}/execute/{capability_version}/{hash}/" contract.
func (h *AnonymousHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/{version}/{hash}", h.handleExecute)
	return r
}

func (h *AnonymousHandler) handleExecute(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "hash")
	if hash == "" {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "missing capability hash")
		return
	}

	resolved, err := h.index.Lookup(r.Context(), hash)
	if err != nil {
		writeCapabilityError(w, h.logger, err, "looking up capability")
		return
	}

	res, err := h.executor.ExecuteCapability(r.Context(), resolved)
	if err != nil {
		writeCapabilityError(w, h.logger, err, "executing policy via capability")
		return
	}

	httpserver.Respond(w, http.StatusOK, res)
}
