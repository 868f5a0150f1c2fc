package device

import "errors"

// Check these with errors.Is; most are wrapped with the offending id or
// field.
var (
	ErrDeviceNotFound = errors.New("device: not found")
	ErrDeviceExists   = errors.New("device: already exists")

	// Descriptor validation. ErrInvalidDevice covers everything the more
	// specific errors below do not.
	ErrInvalidDevice     = errors.New("device: invalid")
	ErrInvalidTransport  = errors.New("device: invalid transport")
	ErrInvalidCapability = errors.New("device: invalid capability")
	ErrInvalidAddress    = errors.New("device: invalid address")
	ErrInvalidName       = errors.New("device: invalid name")

	// ErrDeviceUnavailable is returned by Send unless the device is Connected.
	ErrDeviceUnavailable = errors.New("device: unavailable")

	// ErrNoDriver means the factory has no driver for the transport, such
	// as mqtt while the broker is disabled.
	ErrNoDriver = errors.New("device: no driver for transport")

	// ErrCommandRejected means the device answered but refused the command.
	// The link is healthy, so Send leaves the device Connected.
	ErrCommandRejected = errors.New("device: command rejected")

	ErrRegistryClosed = errors.New("device: registry closed")
)

var (
	ErrGroupNotFound = errors.New("device group: not found")
	ErrGroupExists   = errors.New("device group: already exists")
	ErrInvalidGroup  = errors.New("device group: invalid")
)
