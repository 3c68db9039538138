package gatewayapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/wisbric/tollgate/internal/audit"
	"github.com/wisbric/tollgate/internal/httpserver"
)

// AuditHandler exposes the audit trail to operators: every recorded entry,
// newest first, pipeline denials included.
type AuditHandler struct {
	audit *audit.Writer
}

// NewAuditHandler creates an AuditHandler.
func NewAuditHandler(auditWriter *audit.Writer) *AuditHandler {
	return &AuditHandler{audit: auditWriter}
}

// Routes returns a chi.Router with the admin audit routes mounted.
func (h *AuditHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.handleListRecent)
	return r
}

func (h *AuditHandler) handleListRecent(w http.ResponseWriter, r *http.Request) {
	limit := httpserver.DefaultPageSize
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "limit must be a positive integer")
			return
		}
		if n > httpserver.MaxPageSize {
			n = httpserver.MaxPageSize
		}
		limit = n
	}

	entries, err := h.audit.ListRecent(r.Context(), limit)
	if err != nil {
		httpserver.RespondError(w, http.StatusServiceUnavailable, "unavailable", err.Error())
		return
	}
	httpserver.Respond(w, http.StatusOK, entries)
}
