package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"fintrack/internal/core"
	"fintrack/internal/log"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed encoding response", "error", err)
	}
}

func writeErrorMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeError maps the core error taxonomy onto HTTP statuses. Families
// are matched with errors.Is so wrapped causes keep their class.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, core.ErrValidation):
		writeErrorMessage(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, core.ErrNotFound):
		writeErrorMessage(w, http.StatusNotFound, "not found")
	case errors.Is(err, core.ErrConflict):
		writeErrorMessage(w, http.StatusConflict, "concurrent modification, retry the request")
	case errors.Is(err, core.ErrTimeout):
		writeErrorMessage(w, http.StatusGatewayTimeout, "store timeout")
	default:
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err)
		writeErrorMessage(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
