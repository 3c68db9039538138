package gatewayapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wisbric/tollgate/internal/audit"
	"github.com/wisbric/tollgate/internal/httpserver"
	"github.com/wisbric/tollgate/pkg/revocation"
	"github.com/wisbric/tollgate/pkg/validator"
)

// RevocationHandler exposes the admin revocation surface: revoke by JTI,
// revoke by full token, revoke all user tokens, check JTI status, stream
// recent revocations, trigger Bloom rebuild.
type RevocationHandler struct {
	engine *revocation.Engine
	audit  *audit.Writer
}

// NewRevocationHandler creates a RevocationHandler.
func NewRevocationHandler(engine *revocation.Engine, auditWriter *audit.Writer) *RevocationHandler {
	return &RevocationHandler{engine: engine, audit: auditWriter}
}

// Routes returns a chi.Router with the admin revocation routes mounted.
func (h *RevocationHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/jti", h.handleRevokeJti)
	r.Post("/token", h.handleRevokeToken)
	r.Post("/user", h.handleRevokeUser)
	r.Get("/jti/{jti}", h.handleCheckJti)
	r.Get("/", h.handleListRecent)
	r.Post("/rebuild", h.handleRebuild)
	return r
}

type revokeJtiRequest struct {
	Jti       string    `json:"jti" validate:"required"`
	ExpiresAt time.Time `json:"expires_at" validate:"required"`
}

func (h *RevocationHandler) handleRevokeJti(w http.ResponseWriter, r *http.Request) {
	var req revokeJtiRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	if err := h.engine.Revoke(r.Context(), req.Jti, req.ExpiresAt); err != nil {
		httpserver.RespondError(w, http.StatusServiceUnavailable, "unavailable", err.Error())
		return
	}
	h.audit.RecordRevokeJti(r, req.Jti)
	httpserver.Respond(w, http.StatusOK, map[string]string{"jti": req.Jti, "status": "revoked"})
}

type revokeTokenRequest struct {
	Token     string    `json:"token" validate:"required"`
	ExpiresAt time.Time `json:"expires_at" validate:"required"`
}

// handleRevokeToken revokes by JTI extracted from a full token without
// checking its signature.
func (h *RevocationHandler) handleRevokeToken(w http.ResponseWriter, r *http.Request) {
	var req revokeTokenRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	jti, err := validator.ExtractJTIUnverified(req.Token)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if err := h.engine.Revoke(r.Context(), jti, req.ExpiresAt); err != nil {
		httpserver.RespondError(w, http.StatusServiceUnavailable, "unavailable", err.Error())
		return
	}
	h.audit.RecordRevokeJti(r, jti)
	httpserver.Respond(w, http.StatusOK, map[string]string{"jti": jti, "status": "revoked"})
}

type revokeUserRequest struct {
	UserID       string    `json:"user_id" validate:"required"`
	IssuedBefore time.Time `json:"issued_before" validate:"required"`
	ExpiresAt    time.Time `json:"expires_at" validate:"required"`
}

func (h *RevocationHandler) handleRevokeUser(w http.ResponseWriter, r *http.Request) {
	var req revokeUserRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	if err := h.engine.RevokeAllForUser(r.Context(), req.UserID, req.IssuedBefore, req.ExpiresAt); err != nil {
		httpserver.RespondError(w, http.StatusServiceUnavailable, "unavailable", err.Error())
		return
	}
	h.audit.RecordRevokeUser(r, req.UserID)
	httpserver.Respond(w, http.StatusOK, map[string]string{"user_id": req.UserID, "status": "revoked"})
}

func (h *RevocationHandler) handleCheckJti(w http.ResponseWriter, r *http.Request) {
	jti := chi.URLParam(r, "jti")
	revoked, err := h.engine.CheckJti(r.Context(), jti)
	if err != nil {
		httpserver.RespondError(w, http.StatusServiceUnavailable, "unavailable", err.Error())
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"jti": jti, "revoked": revoked})
}

func (h *RevocationHandler) handleRebuild(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.RebuildFront(r.Context(), "admin"); err != nil {
		httpserver.RespondError(w, http.StatusServiceUnavailable, "unavailable", err.Error())
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "rebuilt"})
}

func (h *RevocationHandler) handleListRecent(w http.ResponseWriter, r *http.Request) {
	params, err := httpserver.ParseCursorParams(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	var afterTime time.Time
	var afterID string
	if params.After != nil {
		afterTime = params.After.At
		afterID = params.After.Key
	}

	entries, err := h.audit.ListRevocationsAfter(r.Context(), afterTime, afterID, params.Limit+1)
	if err != nil {
		httpserver.RespondError(w, http.StatusServiceUnavailable, "unavailable", err.Error())
		return
	}

	page := httpserver.NewCursorPage(entries, params.Limit, func(e audit.Entry) httpserver.Cursor {
		return httpserver.Cursor{At: e.CreatedAt, Key: e.ID}
	})
	httpserver.Respond(w, http.StatusOK, page)
}
