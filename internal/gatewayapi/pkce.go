package gatewayapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wisbric/tollgate/internal/httpserver"
	"github.com/wisbric/tollgate/pkg/pkce"
)

// PkceHandler exposes the PKCE challenge store to the authorization-code
// flow's front door: a client stores its challenge keyed by state before
// redirecting to the external IdP, then the callback consumes it once to
// bind the code exchange to the original request.
type PkceHandler struct {
	store        *pkce.Store
	challengeTTL time.Duration
}

// NewPkceHandler creates a PkceHandler.
func NewPkceHandler(store *pkce.Store, challengeTTL time.Duration) *PkceHandler {
	return &PkceHandler{store: store, challengeTTL: challengeTTL}
}

// Routes returns a chi.Router with the PKCE challenge routes mounted.
func (h *PkceHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.handleStore)
	r.Post("/consume", h.handleConsume)
	return r
}

type storePkceRequest struct {
	State     string `json:"state" validate:"required"`
	Challenge string `json:"challenge" validate:"required"`
}

func (h *PkceHandler) handleStore(w http.ResponseWriter, r *http.Request) {
	var req storePkceRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	if err := h.store.Store(r.Context(), req.State, req.Challenge, h.challengeTTL); err != nil {
		httpserver.RespondError(w, http.StatusServiceUnavailable, "unavailable", err.Error())
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]string{"state": req.State, "status": "stored"})
}

type consumePkceRequest struct {
	State string `json:"state" validate:"required"`
}

func (h *PkceHandler) handleConsume(w http.ResponseWriter, r *http.Request) {
	var req consumePkceRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	challenge, err := h.store.ConsumeChallenge(r.Context(), req.State)
	if err != nil {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]string{"state": req.State, "challenge": challenge})
}
