package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/codervisor/devlog/internal/service"
)

type errorResponse struct {
	Error string `json:"error"`
}

// statusFor maps the service failure taxonomy to HTTP statuses. Unknown
// errors are treated as internal.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, service.ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, service.ErrDegraded):
		return http.StatusServiceUnavailable
	case errors.Is(err, service.ErrInfrastructure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
