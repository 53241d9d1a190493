package httputil

import (
	"encoding/json"
	"log/slog"
	"net/http"

	flowmesherrors "github.com/flowmesh/flowmesh/pkg/errors"
)

// WriteJSON writes a JSON response with the given status code and data.
// If encoding fails, it logs the error.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to write JSON response", slog.Any("error", err))
	}
}

// WriteError writes a JSON error response with the given status code and message.
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, map[string]string{
		"error": message,
	})
}

// WriteErrorKind maps the error's kind to an HTTP status and writes a
// structured body carrying both the kind and the message.
func WriteErrorKind(w http.ResponseWriter, err error) {
	WriteJSON(w, flowmesherrors.HTTPStatus(err), map[string]string{
		"error":   string(flowmesherrors.KindOf(err)),
		"message": err.Error(),
	})
}
