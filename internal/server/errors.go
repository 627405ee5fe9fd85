package server

import (
	"net/http"

	"semsearch/internal/errkind"
)

// apiError is the uniform error body returned by every endpoint.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
	Stage   string `json:"stage,omitempty"`
}

// statusFor is the single mapping from error kind to HTTP status.
func statusFor(kind errkind.Kind) int {
	switch kind {
	case errkind.Validation:
		return http.StatusBadRequest
	case errkind.NotFound:
		return http.StatusNotFound
	case errkind.ModelUnavailable:
		return http.StatusBadGateway
	case errkind.Timeout:
		return http.StatusGatewayTimeout
	case errkind.StoreUnavailable, errkind.PoolExhausted:
		return http.StatusServiceUnavailable
	default:
		// dimension_mismatch and internal are deployment or programming
		// errors, not client errors
		return http.StatusInternalServerError
	}
}

// writeKindError maps an internal error to the external response. Internal
// details are logged by the caller, never returned to the client.
func writeKindError(w http.ResponseWriter, err error) {
	kind := errkind.KindOf(err)
	status := statusFor(kind)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeJSON(w, status, apiError{
		Error:   string(kind),
		Message: msg,
		Code:    status,
		Stage:   string(errkind.StageOf(err)),
	})
}

func writeError(w http.ResponseWriter, status int, errStr, message string) {
	writeJSON(w, status, apiError{Error: errStr, Message: message, Code: status})
}
