package proxy

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/verticalgw/vertigate/internal/openaiadapter"
)

// writeJSON writes a JSON response with the given status code.
// Logs encoding failures internally using the provided context.
func writeJSON(ctx context.Context, w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	// Headers and status are written before encoding to avoid buffering.
	// If encoding fails, the client may receive a partial response.
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.ErrorContext(ctx, "failed to encode JSON response", "error", err)
	}
}

// writeJSONOpenAIError writes an OpenAI-compatible error response with the
// HTTP status code implied by the error type.
func writeJSONOpenAIError(ctx context.Context, w http.ResponseWriter, errResp *openaiadapter.ErrorResponse) {
	var status int
	switch errResp.Err.Type {
	case openaiadapter.ErrTypeInvalidRequest:
		status = http.StatusBadRequest
	case openaiadapter.ErrTypeAuthentication:
		status = http.StatusUnauthorized
	case openaiadapter.ErrTypePermissionDenied:
		status = http.StatusForbidden
	case openaiadapter.ErrTypeNotFound:
		status = http.StatusNotFound
	case openaiadapter.ErrTypeServiceUnavailable:
		status = http.StatusServiceUnavailable
	case openaiadapter.ErrTypeServer, openaiadapter.ErrTypeAPI:
		status = http.StatusInternalServerError
	default:
		status = http.StatusInternalServerError
	}

	writeJSON(ctx, w, errResp, status)
}
