package gatewayapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wisbric/tollgate/internal/httpserver"
	"github.com/wisbric/tollgate/pkg/keys"
)

// KeysHandler exposes read-only signing-key diagnostics for operators. It
// never returns a private key (Record.WithoutPrivateKey): the same rule
// that keeps private keys out of logs and telemetry extends to API
// responses.
type KeysHandler struct {
	store keys.Store
}

// NewKeysHandler creates a KeysHandler.
func NewKeysHandler(store keys.Store) *KeysHandler {
	return &KeysHandler{store: store}
}

// Routes returns a chi.Router with the admin key diagnostic routes mounted.
func (h *KeysHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.handleList)
	r.Get("/active", h.handleActive)
	return r
}

func (h *KeysHandler) handleList(w http.ResponseWriter, r *http.Request) {
	records, err := h.store.FindAll(r.Context())
	if err != nil {
		httpserver.RespondError(w, http.StatusServiceUnavailable, "unavailable", err.Error())
		return
	}
	out := make([]keys.Record, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.WithoutPrivateKey())
	}
	httpserver.Respond(w, http.StatusOK, out)
}

func (h *KeysHandler) handleActive(w http.ResponseWriter, r *http.Request) {
	rec, err := h.store.FindActive(r.Context())
	if err != nil {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	httpserver.Respond(w, http.StatusOK, rec.WithoutPrivateKey())
}
