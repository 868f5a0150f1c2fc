package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/playsem-core/internal/device"
	"github.com/nerrad567/playsem-core/internal/effect"
	"github.com/nerrad567/playsem-core/internal/ingress"
	"github.com/nerrad567/playsem-core/internal/timeline"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// Common error codes.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeConflict     = "conflict"
	ErrCodeInternal     = "internal_error"
	ErrCodeValidation   = "validation_error"
	ErrCodeUnavailable  = "unavailable"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeIngestError maps an effect ingest error onto the HTTP surface.
// Validation failures carry their reason code, so producers can tell
// unknown_type from missing_param without parsing the message.
func writeIngestError(w http.ResponseWriter, err error) {
	rej := ingress.NewRejection(err, effect.SourceMeta{Protocol: ProtocolHTTP}, nil)
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, effect.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, timeline.ErrDuplicateEffect):
		status = http.StatusConflict
	case errors.Is(err, timeline.ErrSchedulerOverflow):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, Error{
		Status:  status,
		Code:    rej.Reason,
		Message: rej.Message,
		Field:   rej.Field,
	})
}

// writeTimelineError maps a control error onto the HTTP surface.
func writeTimelineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, timeline.ErrInvalidTransition):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, timeline.ErrNegativeSeek),
		errors.Is(err, ingress.ErrMissingOffset),
		errors.Is(err, ingress.ErrMalformedCommand),
		errors.Is(err, ingress.ErrUnknownAction):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	default:
		writeInternalError(w, err.Error())
	}
}

// isValidationError reports whether err is a device or group validation failure.
func isValidationError(err error) bool {
	return errors.Is(err, device.ErrInvalidDevice) ||
		errors.Is(err, device.ErrInvalidName) ||
		errors.Is(err, device.ErrInvalidTransport) ||
		errors.Is(err, device.ErrInvalidCapability) ||
		errors.Is(err, device.ErrInvalidAddress) ||
		errors.Is(err, device.ErrInvalidGroup)
}
