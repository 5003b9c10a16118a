package console

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/embedlink/embedlink/internal/api"
	"github.com/embedlink/embedlink/internal/operation"
)

// RespondWithJSON writes payload as a JSON response.
func RespondWithJSON(w http.ResponseWriter, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to marshal response")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(response)
}

// RespondWithError writes a standardized JSON error response.
func RespondWithError(w http.ResponseWriter, code int, message string) {
	RespondWithJSON(w, code, map[string]string{"error": message})
}

// statusFor maps a controller error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, operation.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, operation.ErrClosed):
		return http.StatusGone
	case errors.Is(err, api.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, api.ErrConfiguration):
		return http.StatusServiceUnavailable
	case errors.Is(err, api.ErrTransport), errors.Is(err, api.ErrProtocol):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
