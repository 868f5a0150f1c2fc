package transport

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/nerrad567/playsem-core/internal/device"
	"github.com/nerrad567/playsem-core/internal/infrastructure/mqtt"
)

// Publisher is the part of *mqtt.Client the MQTT drivers need.
type Publisher interface {
	PublishJSON(topic string, v any) error
	IsConnected() bool
}

// defaultGateway is used for Bluetooth devices without a "gateway" key.
const defaultGateway = "ble-gateway"

// MQTTDriver publishes commands to a device (or Bluetooth gateway) over
// MQTT. The broker acknowledgement is the delivery acknowledgement.
type MQTTDriver struct {
	pub       Publisher
	topic     string
	mac       string
	connected atomic.Bool
}

// NewMQTTDriver builds a driver for an mqtt device. The address key "topic"
// overrides the default playsem/command/{type}/{device} topic.
func NewMQTTDriver(pub Publisher, addr device.Address) (*MQTTDriver, error) {
	if pub == nil {
		return nil, ErrNoPublisher
	}
	return &MQTTDriver{pub: pub, topic: addr["topic"]}, nil
}

// NewBluetoothDriver builds a driver for a Bluetooth device reached through
// the gateway named by the address key "gateway".
func NewBluetoothDriver(pub Publisher, addr device.Address) (*MQTTDriver, error) {
	if pub == nil {
		return nil, ErrNoPublisher
	}
	if addr["mac"] == "" {
		return nil, fmt.Errorf("%w: bluetooth transport requires \"mac\"", device.ErrInvalidAddress)
	}
	gateway := addr["gateway"]
	if gateway == "" {
		gateway = defaultGateway
	}
	return &MQTTDriver{pub: pub, topic: mqtt.Topics{}.GatewayCommand(gateway), mac: addr["mac"]}, nil
}

// Connect succeeds when the broker connection is up.
func (d *MQTTDriver) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !d.pub.IsConnected() {
		return mqtt.ErrNotConnected
	}
	d.connected.Store(true)
	return nil
}

// Disconnect stops the driver from publishing. The shared broker
// connection stays open.
func (d *MQTTDriver) Disconnect() error {
	d.connected.Store(false)
	return nil
}

// Send publishes cmd. The publish itself is bounded by the client's publish
// timeout; Send returns early if ctx ends first.
func (d *MQTTDriver) Send(ctx context.Context, cmd device.Command) (device.Ack, error) {
	if !d.connected.Load() {
		return device.Ack{}, ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return device.Ack{}, err
	}

	payload := encodeCommand(cmd)
	payload.MAC = d.mac
	topic := d.topicFor(cmd)

	done := make(chan error, 1)
	go func() {
		done <- d.pub.PublishJSON(topic, payload)
	}()

	select {
	case <-ctx.Done():
		return device.Ack{}, ctx.Err()
	case err := <-done:
		if err != nil {
			return device.Ack{}, fmt.Errorf("%w: %w", ErrSendFailed, err)
		}
	}

	return device.Ack{DeviceID: cmd.DeviceID, EffectID: cmd.EffectID, Detail: "published " + topic}, nil
}

func (d *MQTTDriver) topicFor(cmd device.Command) string {
	if d.topic != "" {
		return d.topic
	}
	return mqtt.Topics{}.EffectCommand(string(cmd.Type), cmd.DeviceID)
}
