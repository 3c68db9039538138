package gatewayapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/wisbric/tollgate/internal/audit"
	"github.com/wisbric/tollgate/internal/httpserver"
	"github.com/wisbric/tollgate/pkg/pipeline"
	"github.com/wisbric/tollgate/pkg/pkce"
)

// ExchangeHandler runs the per-request gateway pipeline over an inbound
// bearer token and returns the downstream-issued token. When pkceRequired
// is set, the exchange must also present state + code_verifier matching a
// previously stored challenge.
type ExchangeHandler struct {
	pipeline     *pipeline.Pipeline
	audit        *audit.Writer
	pkce         *pkce.Store
	pkceRequired bool
	logger       *slog.Logger
}

// NewExchangeHandler creates an ExchangeHandler.
func NewExchangeHandler(p *pipeline.Pipeline, auditWriter *audit.Writer, pkceStore *pkce.Store, pkceRequired bool, logger *slog.Logger) *ExchangeHandler {
	return &ExchangeHandler{pipeline: p, audit: auditWriter, pkce: pkceStore, pkceRequired: pkceRequired, logger: logger}
}

type exchangeResponse struct {
	AccessToken string   `json:"access_token"`
	ExpiresAt   string   `json:"expires_at"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
	Degraded    bool     `json:"degraded,omitempty"`
}

// HandleExchange is the gateway ingress: pull the bearer token, run it
// through the pipeline, forward the downstream token or deny with the
// pipeline's reason tag.
func (h *ExchangeHandler) HandleExchange(w http.ResponseWriter, r *http.Request) {
	audience := r.URL.Query().Get("audience")
	rawToken := r.Header.Get("Authorization")

	if h.pkceRequired && !h.verifyPkce(w, r) {
		return
	}

	outcome := h.pipeline.Handle(r.Context(), rawToken, audience)

	switch outcome.Decision {
	case pipeline.DecisionDeny:
		if outcome.StatusCode == http.StatusUnauthorized {
			detail, _ := json.Marshal(map[string]string{"reason": outcome.Reason})
			h.audit.RecordDeny("", outcome.Reason, detail)
			httpserver.RespondDenied(w, outcome.Reason)
			return
		}
		httpserver.RespondError(w, outcome.StatusCode, "unavailable", outcome.Reason)
		return
	case pipeline.DecisionForward:
		if outcome.Degraded {
			w.Header().Set("X-Tollgate-Warning", "degraded-mode: forwarding original token, issuer unavailable")
			httpserver.Respond(w, http.StatusOK, exchangeResponse{
				AccessToken: outcome.Original,
				Roles:       outcome.Claims.RoleList(),
				Permissions: outcome.Claims.PermissionList(),
				Degraded:    true,
			})
			return
		}
		httpserver.Respond(w, http.StatusOK, exchangeResponse{
			AccessToken: outcome.Issued.JWS,
			ExpiresAt:   outcome.Issued.ExpiresAt.Format("2006-01-02T15:04:05Z07:00"),
			Roles:       outcome.Claims.RoleList(),
			Permissions: outcome.Claims.PermissionList(),
		})
	}
}

// verifyPkce consumes the challenge stored for the request's state and
// checks it against the presented code_verifier. Consumption is one-shot: a
// failed verify still burns the challenge, so a guessed state can't be
// retried against the same stored value.
func (h *ExchangeHandler) verifyPkce(w http.ResponseWriter, r *http.Request) bool {
	state := r.FormValue("state")
	verifier := r.FormValue("code_verifier")
	if state == "" || verifier == "" {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "state and code_verifier are required")
		return false
	}

	challenge, err := h.pkce.ConsumeChallenge(r.Context(), state)
	if err != nil {
		httpserver.RespondDenied(w, "pkce_unknown_state")
		return false
	}
	if !pkce.VerifyS256(challenge, verifier) {
		httpserver.RespondDenied(w, "pkce_mismatch")
		return false
	}
	return true
}
