package engine

import (
	"time"

	"github.com/nerrad567/playsem-core/internal/activity"
	"github.com/nerrad567/playsem-core/internal/device"
	"github.com/nerrad567/playsem-core/internal/dispatch"
	"github.com/nerrad567/playsem-core/internal/timeline"
)

// Stats is the operational summary of the core.
//
// Scheduled and Dispatched count effects. Delivered, Failed and Dropped
// count activity records, one per effect and target device, so a group
// effect delivered to three devices adds three to Delivered.
type Stats struct {
	Scheduled  uint64 `json:"scheduled"`
	Dispatched uint64 `json:"dispatched"`
	Delivered  uint64 `json:"delivered"`
	Failed     uint64 `json:"failed"`
	Dropped    uint64 `json:"dropped"`

	Reasons         map[string]uint64       `json:"reasons"`
	PerDeviceHealth map[string]DeviceHealth `json:"perDeviceHealth"`

	Timeline timeline.Snapshot `json:"timeline"`
	Pool     dispatch.Stats    `json:"pool"`
}

// DeviceHealth combines a device's connection state with its outcome tally.
type DeviceHealth struct {
	State     device.ConnectionState `json:"state"`
	Transport device.TransportKind   `json:"transport"`
	LastSeen  *time.Time             `json:"lastSeen,omitempty"`
	LastError string                 `json:"lastError,omitempty"`

	activity.DeviceTally
}

// Stats returns current counters and per-device health.
func (e *Engine) Stats() Stats {
	snap := e.scheduler.Snapshot()
	pool := e.pool.Stats()
	totals := e.activity.Totals()

	health := make(map[string]DeviceHealth)
	tallies := e.activity.DeviceTallies()
	for _, d := range e.registry.List() {
		health[d.ID] = DeviceHealth{
			State:       d.State,
			Transport:   d.Transport,
			LastSeen:    d.LastSeen,
			LastError:   d.LastError,
			DeviceTally: tallies[d.ID],
		}
	}

	return Stats{
		Scheduled:       snap.Stats.Scheduled,
		Dispatched:      pool.Accepted,
		Delivered:       totals[activity.OutcomeDelivered],
		Failed:          totals[activity.OutcomeFailed],
		Dropped:         totals[activity.OutcomeDropped],
		Reasons:         e.activity.Reasons(),
		PerDeviceHealth: health,
		Timeline:        snap,
		Pool:            pool,
	}
}
