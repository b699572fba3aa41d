package httpapi

import (
	"net/http"

	"github.com/emergent-company/agentmail/internal/apperr"
)

// errorEnvelope is the structured error shape spec §6 mandates for every
// HTTP failure response: {message, error_code, context}.
type errorEnvelope struct {
	Message   string         `json:"message"`
	ErrorCode apperr.Code    `json:"error_code"`
	Context   map[string]any `json:"context,omitempty"`
}

// writeAppError maps err's apperr.Code to an HTTP status and writes the
// structured envelope. Unmapped codes fall back to 500, matching
// apperr.CodeOf's own default for anything that isn't a recognized Coder.
func writeAppError(w http.ResponseWriter, err error) {
	code := apperr.CodeOf(err)
	writeJSON(w, statusForCode(code), errorEnvelope{
		Message:   err.Error(),
		ErrorCode: code,
	})
}

func statusForCode(code apperr.Code) int {
	switch code {
	case apperr.CodeAgentNotFound, apperr.CodeProjectNotFound, apperr.CodeMessageNotFound,
		apperr.CodeReservationNotFound, apperr.CodeProductNotFound, apperr.CodeBuildSlotNotFound:
		return http.StatusNotFound
	case apperr.CodeInvalidInput:
		return http.StatusBadRequest
	case apperr.CodeCapabilityDenied:
		return http.StatusForbidden
	case apperr.CodeConflict, apperr.CodeReservationConflict:
		return http.StatusConflict
	case apperr.CodeQuotaExceeded:
		return http.StatusRequestEntityTooLarge
	case apperr.CodeLockTimeout:
		return http.StatusLocked
	default:
		return http.StatusInternalServerError
	}
}
