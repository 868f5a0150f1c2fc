package effect

import (
	"errors"
	"fmt"
)

// ErrValidation matches every ValidationError via errors.Is.
var ErrValidation = errors.New("effect: validation failed")

// Reason codes carried by ValidationError.
const (
	ReasonMalformedPayload   = "malformed_payload"
	ReasonUnknownType        = "unknown_type"
	ReasonMissingTarget      = "missing_target"
	ReasonAmbiguousTarget    = "ambiguous_target"
	ReasonMissingParam       = "missing_param"
	ReasonInvalidParam       = "invalid_param"
	ReasonNegativeTrigger    = "negative_trigger"
	ReasonAmbiguousTrigger   = "ambiguous_trigger"
	ReasonInvalidTrigger     = "invalid_trigger"
	ReasonInvalidDuration    = "invalid_duration"
	ReasonPriorityOutOfRange = "priority_out_of_range"
	ReasonInvalidID          = "invalid_id"
	ReasonInvalidFlag        = "invalid_flag"
)

// ValidationError reports why a raw payload was rejected.
type ValidationError struct {
	Reason  string
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("effect: %s: %s: %s", e.Reason, e.Field, e.Message)
	}
	return fmt.Sprintf("effect: %s: %s", e.Reason, e.Message)
}

// Is lets errors.Is(err, ErrValidation) match any ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(reason, field, format string, args ...any) *ValidationError {
	return &ValidationError{Reason: reason, Field: field, Message: fmt.Sprintf(format, args...)}
}

// ReasonOf extracts the reason code from a ValidationError, or "" if err is not one.
func ReasonOf(err error) string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Reason
	}
	return ""
}
