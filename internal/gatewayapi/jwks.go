// Package gatewayapi is the thin HTTP surface around the token-lifecycle
// core. Handlers here do not implement policy; they decode requests, call
// into pkg/keys, pkg/pipeline, pkg/revocation, pkg/configstore, and encode
// results.
package gatewayapi

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/wisbric/tollgate/internal/httpserver"
	"github.com/wisbric/tollgate/pkg/keys"
)

// JWKSHandler serves the gateway's own verification key set.
type JWKSHandler struct {
	publisher *keys.Publisher
	publicTTL time.Duration
	logger    *slog.Logger
}

// NewJWKSHandler creates a JWKSHandler.
func NewJWKSHandler(publisher *keys.Publisher, publicTTL time.Duration, logger *slog.Logger) *JWKSHandler {
	return &JWKSHandler{publisher: publisher, publicTTL: publicTTL, logger: logger}
}

// HandleJWKS implements GET /auth/.well-known/jwks.json.
func (h *JWKSHandler) HandleJWKS(w http.ResponseWriter, r *http.Request) {
	doc, err := h.publisher.PublicSet(r.Context())
	if err != nil {
		h.logger.Error("jwks: building public set", "error", err)
		httpserver.RespondError(w, http.StatusServiceUnavailable, "unavailable", "jwks temporarily unavailable")
		return
	}

	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", int(h.publicTTL.Seconds())))
	httpserver.Respond(w, http.StatusOK, doc)
}
