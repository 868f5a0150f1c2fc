package transport

import (
	"errors"

	"github.com/nerrad567/playsem-core/internal/device"
)

var (
	// ErrNotConnected is returned by Send before Connect or after Disconnect.
	ErrNotConnected = errors.New("transport: not connected")

	// ErrSendFailed wraps I/O failures while writing a command or reading its ack.
	ErrSendFailed = errors.New("transport: send failed")

	// ErrNacked is returned when the device answers with ok=false.
	ErrNacked = device.ErrCommandRejected

	// ErrUnsupportedTransport is returned by the factory for unknown kinds.
	ErrUnsupportedTransport = errors.New("transport: unsupported transport")

	// ErrNoPublisher is returned for MQTT and Bluetooth devices when the core
	// runs without a broker connection.
	ErrNoPublisher = errors.New("transport: no mqtt publisher configured")

	// ErrInjectedFailure is the error a mock device returns on a simulated failure.
	ErrInjectedFailure = errors.New("transport: injected mock failure")

	// ErrLineTooLong is returned when a device sends an ack line without a newline
	// within maxLineSize bytes.
	ErrLineTooLong = errors.New("transport: ack line too long")
)
