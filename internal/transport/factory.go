package transport

import (
	"fmt"
	"time"

	"github.com/nerrad567/playsem-core/internal/device"
)

// Options configures NewFactory.
type Options struct {
	// MQTT publishes commands for mqtt and bluetooth devices. Nil makes
	// those transports unavailable.
	MQTT Publisher

	// DialTimeout bounds TCP connects. Zero uses defaultDialTimeout.
	DialTimeout time.Duration

	// Other builds drivers for TransportOther devices.
	Other device.DriverFactory

	// OnMock, when set, is called with every mock driver the factory builds.
	OnMock func(deviceID string, m *MockDriver)
}

// NewFactory returns the device.DriverFactory for the built-in transports.
func NewFactory(opts Options) device.DriverFactory {
	return func(d *device.Device) (device.Driver, error) {
		switch d.Transport {
		case device.TransportMock:
			m, err := mockFromAddress(d.Address)
			if err != nil {
				return nil, err
			}
			if opts.OnMock != nil {
				opts.OnMock(d.ID, m)
			}
			return m, nil
		case device.TransportSerial:
			return asDriver(NewSerialDriver(d.Address))
		case device.TransportTCP:
			return asDriver(NewTCPDriver(d.Address, opts.DialTimeout))
		case device.TransportMQTT:
			if opts.MQTT == nil {
				return nil, ErrNoPublisher
			}
			return asDriver(NewMQTTDriver(opts.MQTT, d.Address))
		case device.TransportBluetooth:
			if opts.MQTT == nil {
				return nil, ErrNoPublisher
			}
			return asDriver(NewBluetoothDriver(opts.MQTT, d.Address))
		case device.TransportOther:
			if opts.Other != nil {
				return opts.Other(d)
			}
		}
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedTransport, d.Transport)
	}
}

// asDriver keeps a failed constructor's nil pointer out of the interface.
func asDriver[T device.Driver](drv T, err error) (device.Driver, error) {
	if err != nil {
		return nil, err
	}
	return drv, nil
}
