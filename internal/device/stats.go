package device

import "time"

// StateChange is emitted whenever a device's connection state changes.
type StateChange struct {
	DeviceID string          `json:"device_id"`
	From     ConnectionState `json:"from"`
	To       ConnectionState `json:"to"`
	Error    string          `json:"error,omitempty"`
	At       time.Time       `json:"at"`
}

// Stats returns registry statistics for monitoring.
type Stats struct {
	TotalDevices int                     `json:"total_devices"`
	TotalGroups  int                     `json:"total_groups"`
	ByState      map[ConnectionState]int `json:"by_state"`
	ByTransport  map[TransportKind]int   `json:"by_transport"`
}
