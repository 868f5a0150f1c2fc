package activity

import "time"

// Outcome is the terminal result of one effect on one device.
type Outcome string

// Outcomes.
const (
	OutcomeDelivered Outcome = "delivered"
	OutcomeFailed    Outcome = "failed"
	OutcomeDropped   Outcome = "dropped"
)

// Reason codes attached to failed and dropped records.
const (
	ReasonUnknownTarget      = "unknown_target"
	ReasonCapabilityMismatch = "capability_mismatch"
	ReasonDeviceUnavailable  = "device_unavailable"
	ReasonDispatchTimeout    = "dispatch_timeout"
	ReasonSendFailed         = "send_failed"
	ReasonCancelled          = "cancelled"
	ReasonSkippedBySeek      = "skipped_by_seek"
	ReasonSchedulerOverflow  = "scheduler_overflow"
	ReasonDispatchRejected   = "dispatch_rejected"
)

// Record is one activity log entry.
type Record struct {
	ID  string `json:"id"`
	Seq uint64 `json:"seq"`

	EffectID   string `json:"effectId"`
	EffectType string `json:"effectType,omitempty"`
	Target     string `json:"target,omitempty"`
	DeviceID   string `json:"deviceId,omitempty"`

	Outcome Outcome `json:"outcome"`
	Reason  string  `json:"reason,omitempty"`
	Error   string  `json:"error,omitempty"`

	Attempts    int       `json:"attempts"`
	AttemptedAt time.Time `json:"attemptedAt"`

	// Latency is due time to successful send for delivered records and due
	// time to giving up otherwise.
	Latency   time.Duration `json:"-"`
	LatencyMs float64       `json:"latencyMs"`

	// DropCount is the overflow drop count for scheduler_overflow records.
	DropCount uint64 `json:"dropCount,omitempty"`

	RecordedAt time.Time `json:"recordedAt"`
}

// DeviceTally summarises the outcomes recorded for one device.
type DeviceTally struct {
	Delivered   uint64    `json:"delivered"`
	Failed      uint64    `json:"failed"`
	Dropped     uint64    `json:"dropped"`
	LastOutcome Outcome   `json:"lastOutcome"`
	LastReason  string    `json:"lastReason,omitempty"`
	LastAt      time.Time `json:"lastAt"`
}

// Filter selects records in Query. Zero fields match everything.
type Filter struct {
	EffectID string
	DeviceID string
	Outcome  Outcome
	Reason   string
	Since    time.Time

	// Limit caps the result; 0 means DefaultQueryLimit, capped at MaxQueryLimit.
	Limit int

	// Descending returns newest first.
	Descending bool
}

// Query limits.
const (
	DefaultQueryLimit = 100
	MaxQueryLimit     = 1000
)
