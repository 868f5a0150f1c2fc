package effect

import (
	"sync/atomic"
	"time"
)

// Type identifies the sensory channel an effect is rendered on.
// A device's capability set is a set of Types.
type Type string

// Effect types.
const (
	TypeVibration Type = "vibration"
	TypeLight     Type = "light"
	TypeWind      Type = "wind"
	TypeScent     Type = "scent"
	TypeGeneric   Type = "generic"
)

// AllTypes returns every known effect type.
func AllTypes() []Type {
	return []Type{TypeVibration, TypeLight, TypeWind, TypeScent, TypeGeneric}
}

// Valid reports whether t is a known effect type.
func (t Type) Valid() bool {
	switch t {
	case TypeVibration, TypeLight, TypeWind, TypeScent, TypeGeneric:
		return true
	default:
		return false
	}
}

// Priority bounds. Higher values are more urgent.
const (
	MinPriority     = 0
	MaxPriority     = 9
	DefaultPriority = 5
)

// Status is the lifecycle position of an accepted effect.
type Status int32

// Effect statuses. Delivered, Failed and Dropped are terminal.
const (
	StatusPending Status = iota
	StatusDispatched
	StatusDelivered
	StatusFailed
	StatusDropped
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusDispatched:
		return "dispatched"
	case StatusDelivered:
		return "delivered"
	case StatusFailed:
		return "failed"
	case StatusDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusFailed || s == StatusDropped
}

// Trigger says when an effect becomes due. Exactly one form is meaningful:
// Absolute when non-nil, otherwise Offset from timeline start.
type Trigger struct {
	Offset   time.Duration
	Absolute *time.Time
}

// IsAbsolute reports whether the trigger is a wall-clock timestamp.
func (t Trigger) IsAbsolute() bool {
	return t.Absolute != nil
}

// SourceMeta describes where an effect came from.
type SourceMeta struct {
	// Protocol is the adapter that decoded the payload ("http", "websocket", "mqtt").
	Protocol string `json:"protocol"`

	// Origin is adapter specific: remote address, MQTT topic, websocket client id.
	Origin string `json:"origin,omitempty"`
}

// Effect is the canonical, validated unit of sensory actuation.
//
// All fields are fixed once the Normalizer accepts the effect. Only the
// status changes afterwards, through SetStatus, which is safe to call from
// the scheduler and dispatch workers concurrently. Effects are always
// handled by pointer.
type Effect struct {
	ID             string
	Type           Type
	TargetDeviceID string
	TargetGroupID  string
	Params         Params
	Trigger        Trigger
	Duration       time.Duration
	Priority       int
	OneShot        bool

	// CatchUp releases the effect immediately when a seek passes over it,
	// instead of dropping it.
	CatchUp bool

	ReceivedAt time.Time
	Source     SourceMeta

	status atomic.Int32
}

// Status returns the current lifecycle status.
func (e *Effect) Status() Status {
	return Status(e.status.Load())
}

// SetStatus records a lifecycle transition.
func (e *Effect) SetStatus(s Status) {
	e.status.Store(int32(s))
}

// Target returns the device or group id the effect is aimed at.
func (e *Effect) Target() string {
	if e.TargetGroupID != "" {
		return e.TargetGroupID
	}
	return e.TargetDeviceID
}

// IsGroupTarget reports whether the effect targets a device group.
func (e *Effect) IsGroupTarget() bool {
	return e.TargetGroupID != ""
}

// View is a JSON-friendly snapshot of an Effect.
type View struct {
	ID                string         `json:"id"`
	Type              Type           `json:"type"`
	TargetDeviceID    string         `json:"targetDeviceId,omitempty"`
	TargetGroupID     string         `json:"targetGroupId,omitempty"`
	Params            map[string]any `json:"params,omitempty"`
	OffsetMs          *int64         `json:"offsetMs,omitempty"`
	AbsoluteTimestamp *time.Time     `json:"absoluteTimestamp,omitempty"`
	DurationMs        int64          `json:"durationMs"`
	Priority          int            `json:"priority"`
	OneShot           bool           `json:"oneShot"`
	CatchUp           bool           `json:"catchUp,omitempty"`
	Status            string         `json:"status"`
	ReceivedAt        time.Time      `json:"receivedAt"`
	Source            SourceMeta     `json:"source"`
}

// View returns a copy of the effect suitable for serialisation.
func (e *Effect) View() View {
	v := View{
		ID:             e.ID,
		Type:           e.Type,
		TargetDeviceID: e.TargetDeviceID,
		TargetGroupID:  e.TargetGroupID,
		Params:         e.Params.Clone(),
		DurationMs:     e.Duration.Milliseconds(),
		Priority:       e.Priority,
		OneShot:        e.OneShot,
		CatchUp:        e.CatchUp,
		Status:         e.Status().String(),
		ReceivedAt:     e.ReceivedAt,
		Source:         e.Source,
	}
	if e.Trigger.IsAbsolute() {
		abs := *e.Trigger.Absolute
		v.AbsoluteTimestamp = &abs
	} else {
		off := e.Trigger.Offset.Milliseconds()
		v.OffsetMs = &off
	}
	return v
}
