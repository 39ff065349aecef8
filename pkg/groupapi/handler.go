// Package groupapi exposes the Group Store's CRUD surface — groups,
// policies, webhooks, and the authenticated policy execute endpoint — as a
// chi-routable HTTP handler scoped to one authenticated tenant.
package groupapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/otterscale/autoscale/internal/httpserver"
	"github.com/otterscale/autoscale/pkg/autoscaleerrors"
	"github.com/otterscale/autoscale/pkg/policy"
	"github.com/otterscale/autoscale/pkg/store"
)

// auditLogger is the minimal surface this package needs from internal/audit.
// See pkg/tenantconfig for why this is a local interface rather than a
// direct import.
type auditLogger interface {
	LogFromRequest(r *http.Request, tenantID uuid.UUID, action, resource string, resourceID uuid.UUID, detail json.RawMessage)
}

// Handler provides HTTP handlers for group/policy/webhook CRUD and the
// authenticated policy execute endpoint.
type Handler struct {
	logger   *slog.Logger
	audit    auditLogger
	store    *store.Store
	executor *policy.Executor
}

// NewHandler creates a Handler backed by st, executing policies through ex.
func NewHandler(logger *slog.Logger, audit auditLogger, st *store.Store, ex *policy.Executor) *Handler {
	return &Handler{logger: logger, audit: audit, store: st, executor: ex}
}

// Routes returns a chi.Router with the group/policy/webhook routes mounted.
// The caller is responsible for scoping this router to one tenant (see
// internal/auth.TenantFromPath) before mounting it.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.handleCreateGroup)
	r.Get("/", h.handleListGroups)

	r.Route("/{group}", func(r chi.Router) {
		r.Get("/", h.handleGetGroup)
		r.Delete("/", h.handleDeleteGroup)
		r.Get("/state", h.handleGetState)
		r.Get("/config", h.handleGetConfig)
		r.Put("/config", h.handleUpdateConfig)
		r.Get("/launch", h.handleGetLaunch)
		r.Put("/launch", h.handleUpdateLaunch)

		r.Route("/policies", func(r chi.Router) {
			r.Post("/", h.handleCreatePolicies)
			r.Get("/", h.handleListPolicies)

			r.Route("/{policy}", func(r chi.Router) {
				r.Get("/", h.handleGetPolicy)
				r.Put("/", h.handleUpdatePolicy)
				r.Delete("/", h.handleDeletePolicy)
				r.Post("/execute", h.handleExecutePolicy)

				r.Route("/webhooks", func(r chi.Router) {
					r.Post("/", h.handleCreateWebhooks)
					r.Get("/", h.handleListWebhooks)

					r.Route("/{webhook}", func(r chi.Router) {
						r.Get("/", h.handleGetWebhook)
						r.Put("/", h.handleUpdateWebhook)
						r.Delete("/", h.handleDeleteWebhook)
					})
				})
			})
		})
	})

	return r
}

func pathUUID(r *http.Request, param string) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, param))
}

// writeAPIError maps a pkg/autoscaleerrors.APIError to its declared HTTP
// status; anything else is a 500 with the error logged but not echoed.
func (h *Handler) writeAPIError(w http.ResponseWriter, err error, logMsg string) {
	writeCapabilityError(w, h.logger, err, logMsg)
}

// writeCapabilityError is the shared error-to-response mapper used by both
// Handler and AnonymousHandler.
func writeCapabilityError(w http.ResponseWriter, logger *slog.Logger, err error, logMsg string) {
	var apiErr autoscaleerrors.APIError
	if errors.As(err, &apiErr) {
		httpserver.RespondError(w, apiErr.HTTPStatus(), apiErr.Kind(), apiErr.Error())
		return
	}
	logger.Error(logMsg, "error", err)
	httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", logMsg)
}

// --- Groups ---

type createGroupRequest struct {
	GroupName string              `json:"groupName"`
	Config    store.GroupConfig   `json:"groupConfiguration"`
	Launch    store.LaunchConfig  `json:"launchConfiguration"`
	Policies  []store.PolicyInput `json:"scalingPolicies,omitempty"`
}

func (h *Handler) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	tenantID, err := pathUUID(r, "tenant")
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid tenant id")
		return
	}

	var req createGroupRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	m, err := h.store.CreateGroup(r.Context(), tenantID, req.GroupName, req.Config, req.Launch, req.Policies)
	if err != nil {
		h.writeAPIError(w, err, "creating scaling group")
		return
	}

	if h.audit != nil {
		detail, _ := json.Marshal(map[string]string{"groupName": req.GroupName})
		h.audit.LogFromRequest(r, tenantID, "create", "group", m.GroupID, detail)
	}

	httpserver.Respond(w, http.StatusCreated, m)
}

func (h *Handler) handleListGroups(w http.ResponseWriter, r *http.Request) {
	tenantID, err := pathUUID(r, "tenant")
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid tenant id")
		return
	}

	page := httpserver.ParsePage(r, 0)
	result, err := h.store.ListGroups(r.Context(), tenantID, page.Marker, page.Limit)
	if err != nil {
		h.writeAPIError(w, err, "listing scaling groups")
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{
		"groups": result.Items,
		"links":  httpserver.Links(r, page, len(result.Items), result.LastID),
	})
}

func (h *Handler) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	tenantID, err := pathUUID(r, "tenant")
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid tenant id")
		return
	}
	groupID, err := pathUUID(r, "group")
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid group id")
		return
	}

	q := r.URL.Query()
	withPolicies := q.Get("withPolicies") != "false"
	withWebhooks := q.Get("withWebhooks") != "false"
	getDeleting := q.Get("getDeleting") == "true"

	m, err := h.store.ViewManifest(r.Context(), tenantID, groupID, withPolicies, withWebhooks, getDeleting)
	if err != nil {
		h.writeAPIError(w, err, "viewing scaling group manifest")
		return
	}

	httpserver.Respond(w, http.StatusOK, m)
}

func (h *Handler) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	tenantID, err := pathUUID(r, "tenant")
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid tenant id")
		return
	}
	groupID, err := pathUUID(r, "group")
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid group id")
		return
	}

	if err := h.store.DeleteGroup(r.Context(), tenantID, groupID); err != nil {
		h.writeAPIError(w, err, "deleting scaling group")
		return
	}

	if h.audit != nil {
		h.audit.LogFromRequest(r, tenantID, "delete", "group", groupID, nil)
	}

	httpserver.Respond(w, http.StatusNoContent, nil)
}

func (h *Handler) handleGetState(w http.ResponseWriter, r *http.Request) {
	tenantID, err := pathUUID(r, "tenant")
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid tenant id")
		return
	}
	groupID, err := pathUUID(r, "group")
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid group id")
		return
	}

	st, err := h.store.ViewState(r.Context(), tenantID, groupID)
	if err != nil {
		h.writeAPIError(w, err, "viewing scaling group state")
		return
	}
	httpserver.Respond(w, http.StatusOK, st)
}

func (h *Handler) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	tenantID, err := pathUUID(r, "tenant")
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid tenant id")
		return
	}
	groupID, err := pathUUID(r, "group")
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid group id")
		return
	}

	cfg, err := h.store.ViewConfig(r.Context(), tenantID, groupID)
	if err != nil {
		h.writeAPIError(w, err, "viewing scaling group config")
		return
	}
	httpserver.Respond(w, http.StatusOK, cfg)
}

func (h *Handler) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	tenantID, err := pathUUID(r, "tenant")
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid tenant id")
		return
	}
	groupID, err := pathUUID(r, "group")
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid group id")
		return
	}

	var cfg store.GroupConfig
	if !httpserver.DecodeAndValidate(w, r, &cfg) {
		return
	}

	if err := h.store.UpdateConfig(r.Context(), tenantID, groupID, cfg); err != nil {
		h.writeAPIError(w, err, "updating scaling group config")
		return
	}

	if h.audit != nil {
		detail, _ := json.Marshal(cfg)
		h.audit.LogFromRequest(r, tenantID, "update", "group_config", groupID, detail)
	}

	httpserver.Respond(w, http.StatusOK, cfg)
}

func (h *Handler) handleGetLaunch(w http.ResponseWriter, r *http.Request) {
	tenantID, err := pathUUID(r, "tenant")
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid tenant id")
		return
	}
	groupID, err := pathUUID(r, "group")
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid group id")
		return
	}

	lc, err := h.store.ViewLaunchConfig(r.Context(), tenantID, groupID)
	if err != nil {
		h.writeAPIError(w, err, "viewing scaling group launch config")
		return
	}
	httpserver.Respond(w, http.StatusOK, lc)
}

func (h *Handler) handleUpdateLaunch(w http.ResponseWriter, r *http.Request) {
	tenantID, err := pathUUID(r, "tenant")
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid tenant id")
		return
	}
	groupID, err := pathUUID(r, "group")
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid group id")
		return
	}

	var patch store.LaunchConfig
	if err := httpserver.Decode(r, &patch); err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	merged, err := h.store.UpdateLaunchConfig(r.Context(), tenantID, groupID, patch)
	if err != nil {
		h.writeAPIError(w, err, "updating scaling group launch config")
		return
	}

	if h.audit != nil {
		detail, _ := json.Marshal(patch)
		h.audit.LogFromRequest(r, tenantID, "update", "group_launch_config", groupID, detail)
	}

	httpserver.Respond(w, http.StatusOK, merged)
}

// --- Policies ---

func (h *Handler) handleCreatePolicies(w http.ResponseWriter, r *http.Request) {
	tenantID, err := pathUUID(r, "tenant")
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid tenant id")
		return
	}
	groupID, err := pathUUID(r, "group")
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid group id")
		return
	}

	var req []store.PolicyInput
	if err := httpserver.Decode(r, &req); err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	created, err := h.store.CreatePolicies(r.Context(), tenantID, groupID, req)
	if err != nil {
		h.writeAPIError(w, err, "creating policies")
		return
	}

	if h.audit != nil {
		h.audit.LogFromRequest(r, tenantID, "create", "policy", groupID, nil)
	}

	httpserver.Respond(w, http.StatusCreated, map[string]any{"policies": created})
}

func (h *Handler) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	tenantID, err := pathUUID(r, "tenant")
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid tenant id")
		return
	}
	groupID, err := pathUUID(r, "group")
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid group id")
		return
	}

	page := httpserver.ParsePage(r, 0)
	result, err := h.store.ListPolicies(r.Context(), tenantID, groupID, page.Marker, page.Limit)
	if err != nil {
		h.writeAPIError(w, err, "listing policies")
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{
		"policies": result.Items,
		"links":    httpserver.Links(r, page, len(result.Items), result.LastID),
	})
}

func (h *Handler) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	tenantID, groupID, policyID, ok := h.tenantGroupPolicy(w, r)
	if !ok {
		return
	}

	p, err := h.store.GetPolicy(r.Context(), tenantID, groupID, policyID)
	if err != nil {
		h.writeAPIError(w, err, "getting policy")
		return
	}
	httpserver.Respond(w, http.StatusOK, p)
}

func (h *Handler) handleUpdatePolicy(w http.ResponseWriter, r *http.Request) {
	tenantID, groupID, policyID, ok := h.tenantGroupPolicy(w, r)
	if !ok {
		return
	}

	var in store.PolicyInput
	if !httpserver.DecodeAndValidate(w, r, &in) {
		return
	}

	p, err := h.store.UpdatePolicy(r.Context(), tenantID, groupID, policyID, in)
	if err != nil {
		h.writeAPIError(w, err, "updating policy")
		return
	}

	if h.audit != nil {
		detail, _ := json.Marshal(in)
		h.audit.LogFromRequest(r, tenantID, "update", "policy", policyID, detail)
	}

	httpserver.Respond(w, http.StatusOK, p)
}

func (h *Handler) handleDeletePolicy(w http.ResponseWriter, r *http.Request) {
	tenantID, groupID, policyID, ok := h.tenantGroupPolicy(w, r)
	if !ok {
		return
	}

	if err := h.store.DeletePolicy(r.Context(), tenantID, groupID, policyID); err != nil {
		h.writeAPIError(w, err, "deleting policy")
		return
	}

	if h.audit != nil {
		h.audit.LogFromRequest(r, tenantID, "delete", "policy", policyID, nil)
	}

	httpserver.Respond(w, http.StatusNoContent, nil)
}

func (h *Handler) handleExecutePolicy(w http.ResponseWriter, r *http.Request) {
	tenantID, groupID, policyID, ok := h.tenantGroupPolicy(w, r)
	if !ok {
		return
	}

	res, err := h.executor.ExecutePolicy(r.Context(), tenantID, groupID, policyID)
	if err != nil {
		h.writeAPIError(w, err, "executing policy")
		return
	}

	if h.audit != nil {
		detail, _ := json.Marshal(res)
		h.audit.LogFromRequest(r, tenantID, "execute", "policy", policyID, detail)
	}

	httpserver.Respond(w, http.StatusOK, res)
}

// --- Webhooks ---

func (h *Handler) handleCreateWebhooks(w http.ResponseWriter, r *http.Request) {
	tenantID, groupID, policyID, ok := h.tenantGroupPolicy(w, r)
	if !ok {
		return
	}

	var req []store.WebhookInput
	if err := httpserver.Decode(r, &req); err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	created, err := h.store.CreateWebhooks(r.Context(), tenantID, groupID, policyID, req)
	if err != nil {
		h.writeAPIError(w, err, "creating webhooks")
		return
	}

	if h.audit != nil {
		h.audit.LogFromRequest(r, tenantID, "create", "webhook", policyID, nil)
	}

	httpserver.Respond(w, http.StatusCreated, map[string]any{"webhooks": created})
}

func (h *Handler) handleListWebhooks(w http.ResponseWriter, r *http.Request) {
	tenantID, groupID, policyID, ok := h.tenantGroupPolicy(w, r)
	if !ok {
		return
	}

	page := httpserver.ParsePage(r, 0)
	result, err := h.store.ListWebhooks(r.Context(), tenantID, groupID, policyID, page.Marker, page.Limit)
	if err != nil {
		h.writeAPIError(w, err, "listing webhooks")
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{
		"webhooks": result.Items,
		"links":    httpserver.Links(r, page, len(result.Items), result.LastID),
	})
}

func (h *Handler) handleGetWebhook(w http.ResponseWriter, r *http.Request) {
	tenantID, groupID, policyID, webhookID, ok := h.tenantGroupPolicyWebhook(w, r)
	if !ok {
		return
	}

	wh, err := h.store.GetWebhook(r.Context(), tenantID, groupID, policyID, webhookID)
	if err != nil {
		h.writeAPIError(w, err, "getting webhook")
		return
	}
	httpserver.Respond(w, http.StatusOK, wh)
}

func (h *Handler) handleUpdateWebhook(w http.ResponseWriter, r *http.Request) {
	tenantID, groupID, policyID, webhookID, ok := h.tenantGroupPolicyWebhook(w, r)
	if !ok {
		return
	}

	var in store.WebhookInput
	if !httpserver.DecodeAndValidate(w, r, &in) {
		return
	}

	wh, err := h.store.UpdateWebhook(r.Context(), tenantID, groupID, policyID, webhookID, in)
	if err != nil {
		h.writeAPIError(w, err, "updating webhook")
		return
	}

	if h.audit != nil {
		detail, _ := json.Marshal(in)
		h.audit.LogFromRequest(r, tenantID, "update", "webhook", webhookID, detail)
	}

	httpserver.Respond(w, http.StatusOK, wh)
}

func (h *Handler) handleDeleteWebhook(w http.ResponseWriter, r *http.Request) {
	tenantID, groupID, policyID, webhookID, ok := h.tenantGroupPolicyWebhook(w, r)
	if !ok {
		return
	}

	if err := h.store.DeleteWebhook(r.Context(), tenantID, groupID, policyID, webhookID); err != nil {
		h.writeAPIError(w, err, "deleting webhook")
		return
	}

	if h.audit != nil {
		h.audit.LogFromRequest(r, tenantID, "delete", "webhook", webhookID, nil)
	}

	httpserver.Respond(w, http.StatusNoContent, nil)
}

// tenantGroupPolicy parses and validates the tenant/group/policy path
// triple shared by every policy-scoped route, writing a 400 response and
// returning ok=false on the first invalid segment.
func (h *Handler) tenantGroupPolicy(w http.ResponseWriter, r *http.Request) (tenantID, groupID, policyID uuid.UUID, ok bool) {
	var err error
	if tenantID, err = pathUUID(r, "tenant"); err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid tenant id")
		return
	}
	if groupID, err = pathUUID(r, "group"); err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid group id")
		return
	}
	if policyID, err = pathUUID(r, "policy"); err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid policy id")
		return
	}
	return tenantID, groupID, policyID, true
}

// tenantGroupPolicyWebhook extends tenantGroupPolicy with the webhook segment.
func (h *Handler) tenantGroupPolicyWebhook(w http.ResponseWriter, r *http.Request) (tenantID, groupID, policyID, webhookID uuid.UUID, ok bool) {
	tenantID, groupID, policyID, ok = h.tenantGroupPolicy(w, r)
	if !ok {
		return
	}
	var err error
	if webhookID, err = pathUUID(r, "webhook"); err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid webhook id")
		return tenantID, groupID, policyID, uuid.Nil, false
	}
	return tenantID, groupID, policyID, webhookID, true
}
