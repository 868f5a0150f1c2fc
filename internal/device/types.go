package device

import (
	"slices"
	"time"

	"github.com/nerrad567/playsem-core/internal/effect"
)

// TransportKind identifies how the core talks to a device.
type TransportKind string

// Transport kinds.
const (
	// TransportSerial is a USB/RS-232 device speaking newline-delimited JSON.
	TransportSerial TransportKind = "serial"
	// TransportBluetooth is a BLE device reached through an MQTT gateway.
	TransportBluetooth TransportKind = "bluetooth"
	// TransportMQTT is a network device subscribed to its own command topic.
	TransportMQTT TransportKind = "mqtt"
	// TransportTCP is a network device reached over a raw TCP socket.
	TransportTCP TransportKind = "tcp"
	// TransportMock is an in-process simulated device.
	TransportMock TransportKind = "mock"
	// TransportOther is any transport supplied by a custom DriverFactory.
	TransportOther TransportKind = "other"
)

// AllTransportKinds returns every known transport kind.
func AllTransportKinds() []TransportKind {
	return []TransportKind{
		TransportSerial, TransportBluetooth, TransportMQTT,
		TransportTCP, TransportMock, TransportOther,
	}
}

// ConnectionState is the runtime link state of a device.
//
//	Disconnected -> Connecting -> Connected
//	Connected -> Error                  (failed send)
//	Error -> Reconnecting -> Connected  (successful reconnect)
//	Reconnecting -> Error               (reconnect budget exhausted)
type ConnectionState string

// Connection states.
const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateError        ConnectionState = "error"
	StateReconnecting ConnectionState = "reconnecting"
)

// Address holds transport-specific addressing as string pairs.
//
// Examples:
//
//	serial:    {"port": "/dev/ttyUSB0", "baud": "115200"}
//	tcp:       {"host": "10.0.0.12", "port": "7000"}
//	mqtt:      {"topic": "fans/front/cmd"}             (topic optional)
//	bluetooth: {"mac": "AA:BB:CC:DD:EE:FF", "gateway": "ble-gw-1"}
//	mock:      {"latency_ms": "5", "fail_rate": "0.1"}
type Address map[string]string

// Device describes one physical (or simulated) actuator.
//
// ID, Name, Capabilities, Transport and Address are persisted. State,
// LastSeen and LastError are runtime only and owned by the Registry.
type Device struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Capabilities []effect.Type `json:"capabilities"`
	Transport    TransportKind `json:"transport"`
	Address      Address       `json:"address,omitempty"`

	State     ConnectionState `json:"state"`
	LastSeen  *time.Time      `json:"last_seen,omitempty"`
	LastError string          `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasCapability reports whether the device can render effects of type t.
func (d *Device) HasCapability(t effect.Type) bool {
	return slices.Contains(d.Capabilities, t)
}

// IsMock reports whether the device is simulated. Mock devices never
// leave the Connected state because of a transport failure.
func (d *Device) IsMock() bool {
	return d.Transport == TransportMock
}

// DeepCopy creates an independent copy of the Device so callers can never
// mutate the registry's cached entry.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}

	cpy := *d

	if d.Capabilities != nil {
		cpy.Capabilities = slices.Clone(d.Capabilities)
	}
	if d.Address != nil {
		cpy.Address = make(Address, len(d.Address))
		for k, v := range d.Address {
			cpy.Address[k] = v
		}
	}
	if d.LastSeen != nil {
		seen := *d.LastSeen
		cpy.LastSeen = &seen
	}

	return &cpy
}
