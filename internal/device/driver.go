package device

import (
	"context"
	"time"

	"github.com/nerrad567/playsem-core/internal/effect"
)

// Command is the transport-neutral instruction sent to a device.
type Command struct {
	DeviceID string        `json:"device_id"`
	EffectID string        `json:"effect_id"`
	Type     effect.Type   `json:"type"`
	Params   effect.Params `json:"params,omitempty"`
	Duration time.Duration `json:"-"`
	Priority int           `json:"priority"`
	IssuedAt time.Time     `json:"issued_at"`
}

// DurationMs is the command duration in whole milliseconds, as sent on the wire.
func (c Command) DurationMs() int64 {
	return c.Duration.Milliseconds()
}

// NewCommand builds the command that renders e on deviceID.
func NewCommand(deviceID string, e *effect.Effect, now time.Time) Command {
	return Command{
		DeviceID: deviceID,
		EffectID: e.ID,
		Type:     e.Type,
		Params:   e.Params.Clone(),
		Duration: e.Duration,
		Priority: e.Priority,
		IssuedAt: now,
	}
}

// Ack is a device's acknowledgement of a command.
type Ack struct {
	DeviceID string `json:"device_id"`
	EffectID string `json:"effect_id"`

	// Latency is the device-reported processing time, zero if the transport
	// cannot report one.
	Latency time.Duration `json:"-"`

	Detail string `json:"detail,omitempty"`
}

// Driver is the uniform capability interface every transport implements.
// A Driver is used by one device and is never called concurrently for Send:
// the dispatch pool holds an exclusive per-device slot around each call.
type Driver interface {
	// Connect opens the link. It must honour ctx cancellation.
	Connect(ctx context.Context) error

	// Disconnect closes the link. Safe to call when not connected.
	Disconnect() error

	// Send delivers cmd and waits for the device acknowledgement.
	Send(ctx context.Context, cmd Command) (Ack, error)
}

// DriverFactory builds the driver for a device from its transport and address.
type DriverFactory func(d *Device) (Driver, error)
