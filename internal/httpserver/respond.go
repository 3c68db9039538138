package httpserver

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Respond writes a JSON response with the given status code.
func Respond(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("encoding response", "error", err)
	}
}

// ErrorResponse is the standard JSON error envelope returned by every
// tollgate HTTP surface, including the pipeline's 401/503 denials.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// RespondError writes a JSON error response.
func RespondError(w http.ResponseWriter, status int, errCode, message string) {
	Respond(w, status, ErrorResponse{Error: errCode, Message: message})
}

// RespondDenied writes the pipeline's 401 denial envelope with its reason
// tag.
func RespondDenied(w http.ResponseWriter, reason string) {
	Respond(w, http.StatusUnauthorized, ErrorResponse{
		Error:  "unauthorized",
		Reason: reason,
	})
}

// Respond204 writes an empty 204 No Content response.
func Respond204(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}
