package ingress

import (
	"errors"
	"time"

	"github.com/nerrad567/playsem-core/internal/effect"
	"github.com/nerrad567/playsem-core/internal/timeline"
)

// Reason codes for rejections that are not validation failures.
const (
	ReasonDuplicateEffect   = "duplicate_effect"
	ReasonSchedulerOverflow = "scheduler_overflow"
	ReasonInternal          = "internal_error"
)

// Rejection tells a producer why its effect was not accepted.
type Rejection struct {
	Source    string    `json:"source,omitempty"`
	Protocol  string    `json:"protocol"`
	EffectID  string    `json:"effectId,omitempty"`
	Reason    string    `json:"reason"`
	Field     string    `json:"field,omitempty"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// NewRejection describes err, as returned by an engine ingest call.
// The effect id is taken from the payload when one was supplied.
func NewRejection(err error, meta effect.SourceMeta, payload []byte) Rejection {
	r := Rejection{
		Protocol:  meta.Protocol,
		Reason:    ReasonOf(err),
		Message:   err.Error(),
		EffectID:  suppliedID(payload),
		Timestamp: time.Now().UTC(),
	}
	var ve *effect.ValidationError
	if errors.As(err, &ve) {
		r.Field = ve.Field
		r.Message = ve.Message
	}
	return r
}

// ReasonOf maps an ingest error to a stable reason code.
func ReasonOf(err error) string {
	if reason := effect.ReasonOf(err); reason != "" {
		return reason
	}
	switch {
	case errors.Is(err, timeline.ErrDuplicateEffect):
		return ReasonDuplicateEffect
	case errors.Is(err, timeline.ErrSchedulerOverflow):
		return ReasonSchedulerOverflow
	default:
		return ReasonInternal
	}
}

func suppliedID(payload []byte) string {
	if len(payload) == 0 {
		return ""
	}
	raw, err := effect.DecodeJSON(payload)
	if err != nil {
		return ""
	}
	id, _ := raw["id"].(string)
	return id
}
