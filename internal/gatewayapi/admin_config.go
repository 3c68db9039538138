package gatewayapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wisbric/tollgate/internal/httpserver"
	"github.com/wisbric/tollgate/pkg/configstore"
	"github.com/wisbric/tollgate/pkg/translate"
)

// ConfigHandler exposes CRUD over translation-config versions, backed by
// the tiered configstore.Store.
type ConfigHandler struct {
	store *configstore.Store
}

// NewConfigHandler creates a ConfigHandler.
func NewConfigHandler(store *configstore.Store) *ConfigHandler {
	return &ConfigHandler{store: store}
}

// Routes returns a chi.Router with the admin config routes mounted.
func (h *ConfigHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.handleList)
	r.Get("/active", h.handleGetActive)
	r.Get("/{id}", h.handleGetByID)
	r.Post("/", h.handleCreate)
	r.Post("/{id}/activate", h.handleActivate)
	r.Delete("/{id}", h.handleDelete)
	return r
}

func (h *ConfigHandler) handleList(w http.ResponseWriter, r *http.Request) {
	versions, err := h.store.ListVersions(r.Context())
	if err != nil {
		httpserver.RespondError(w, http.StatusServiceUnavailable, "unavailable", err.Error())
		return
	}
	httpserver.Respond(w, http.StatusOK, versions)
}

func (h *ConfigHandler) handleGetActive(w http.ResponseWriter, r *http.Request) {
	v, err := h.store.GetActive(r.Context())
	if err != nil {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	httpserver.Respond(w, http.StatusOK, v)
}

func (h *ConfigHandler) handleGetByID(w http.ResponseWriter, r *http.Request) {
	v, err := h.store.FindByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	httpserver.Respond(w, http.StatusOK, v)
}

type createConfigRequest struct {
	Version   int            `json:"version" validate:"required"`
	Schema    map[string]any `json:"schema" validate:"required"`
	CreatedBy string         `json:"created_by" validate:"required"`
	Comment   string         `json:"comment"`
}

func (h *ConfigHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createConfigRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	raw, err := json.Marshal(req.Schema)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	schema, err := translate.ParseSchema(raw)
	if err != nil {
		httpserver.RespondError(w, http.StatusUnprocessableEntity, "schema_invalid", err.Error())
		return
	}

	v := configstore.Version{
		ID:        uuid.NewString(),
		Version:   req.Version,
		Schema:    schema,
		CreatedBy: req.CreatedBy,
		CreatedAt: time.Now(),
		Comment:   req.Comment,
	}
	if err := h.store.Save(r.Context(), v); err != nil {
		httpserver.RespondError(w, http.StatusServiceUnavailable, "unavailable", err.Error())
		return
	}
	httpserver.Respond(w, http.StatusCreated, v)
}

func (h *ConfigHandler) handleActivate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.store.SetActive(r.Context(), id); err != nil {
		httpserver.RespondError(w, http.StatusServiceUnavailable, "unavailable", err.Error())
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]string{"id": id, "status": "active"})
}

func (h *ConfigHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.store.Delete(r.Context(), id); err != nil {
		httpserver.RespondError(w, http.StatusConflict, "conflict", err.Error())
		return
	}
	httpserver.Respond204(w)
}
