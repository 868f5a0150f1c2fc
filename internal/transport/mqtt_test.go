package transport

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/playsem-core/internal/device"
	"github.com/nerrad567/playsem-core/internal/infrastructure/mqtt"
)

type published struct {
	topic   string
	payload wireCommand
}

type fakePublisher struct {
	mu        sync.Mutex
	connected bool
	err       error
	block     chan struct{}
	messages  []published
}

func (p *fakePublisher) PublishJSON(topic string, v any) error {
	if p.block != nil {
		<-p.block
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.messages = append(p.messages, published{topic: topic, payload: v.(wireCommand)})
	return nil
}

func (p *fakePublisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *fakePublisher) sent() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.messages...)
}

func TestMQTTDriver_Topics(t *testing.T) {
	tests := []struct {
		name      string
		build     func(Publisher) (*MQTTDriver, error)
		wantTopic string
		wantMAC   string
	}{
		{
			name:      "default command topic",
			build:     func(p Publisher) (*MQTTDriver, error) { return NewMQTTDriver(p, nil) },
			wantTopic: "playsem/command/light/strip-1",
		},
		{
			name: "topic override",
			build: func(p Publisher) (*MQTTDriver, error) {
				return NewMQTTDriver(p, device.Address{"topic": "lights/front/cmd"})
			},
			wantTopic: "lights/front/cmd",
		},
		{
			name: "bluetooth gateway",
			build: func(p Publisher) (*MQTTDriver, error) {
				return NewBluetoothDriver(p, device.Address{"mac": "AA:BB:CC:DD:EE:FF", "gateway": "gw-2"})
			},
			wantTopic: "playsem/command/bluetooth/gw-2",
			wantMAC:   "AA:BB:CC:DD:EE:FF",
		},
		{
			name: "bluetooth default gateway",
			build: func(p Publisher) (*MQTTDriver, error) {
				return NewBluetoothDriver(p, device.Address{"mac": "AA:BB:CC:DD:EE:FF"})
			},
			wantTopic: "playsem/command/bluetooth/" + defaultGateway,
			wantMAC:   "AA:BB:CC:DD:EE:FF",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &fakePublisher{connected: true}
			drv, err := tt.build(pub)
			if err != nil {
				t.Fatalf("build error = %v", err)
			}
			if err := drv.Connect(context.Background()); err != nil {
				t.Fatalf("Connect() error = %v", err)
			}

			ack, err := drv.Send(context.Background(), testCommand("strip-1", "e1"))
			if err != nil {
				t.Fatalf("Send() error = %v", err)
			}
			if ack.EffectID != "e1" {
				t.Errorf("ack.EffectID = %q, want e1", ack.EffectID)
			}

			msgs := pub.sent()
			if len(msgs) != 1 {
				t.Fatalf("published %d messages, want 1", len(msgs))
			}
			if msgs[0].topic != tt.wantTopic {
				t.Errorf("topic = %q, want %q", msgs[0].topic, tt.wantTopic)
			}
			if msgs[0].payload.MAC != tt.wantMAC || msgs[0].payload.EffectID != "e1" {
				t.Errorf("payload = %+v, want mac %q", msgs[0].payload, tt.wantMAC)
			}
		})
	}
}

func TestMQTTDriver_ConnectRequiresBroker(t *testing.T) {
	drv, err := NewMQTTDriver(&fakePublisher{}, nil)
	if err != nil {
		t.Fatalf("NewMQTTDriver() error = %v", err)
	}
	if err := drv.Connect(context.Background()); !errors.Is(err, mqtt.ErrNotConnected) {
		t.Errorf("Connect() error = %v, want mqtt.ErrNotConnected", err)
	}
	if _, err := drv.Send(context.Background(), testCommand("d", "e")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send() error = %v, want ErrNotConnected", err)
	}
}

func TestMQTTDriver_PublishFailure(t *testing.T) {
	pub := &fakePublisher{connected: true, err: mqtt.ErrPublishFailed}
	drv, _ := NewMQTTDriver(pub, nil) //nolint:errcheck // publisher is non-nil
	drv.Connect(context.Background()) //nolint:errcheck // publisher is connected

	_, err := drv.Send(context.Background(), testCommand("d", "e"))
	if !errors.Is(err, ErrSendFailed) || !errors.Is(err, mqtt.ErrPublishFailed) {
		t.Errorf("Send() error = %v, want ErrSendFailed wrapping mqtt.ErrPublishFailed", err)
	}
}

func TestMQTTDriver_SendHonoursContext(t *testing.T) {
	pub := &fakePublisher{connected: true, block: make(chan struct{})}
	defer close(pub.block)

	drv, _ := NewMQTTDriver(pub, nil) //nolint:errcheck // publisher is non-nil
	drv.Connect(context.Background()) //nolint:errcheck // publisher is connected

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := drv.Send(ctx, testCommand("d", "e")); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Send() error = %v, want DeadlineExceeded", err)
	}
}

func TestMQTTDriver_Constructors(t *testing.T) {
	if _, err := NewMQTTDriver(nil, nil); !errors.Is(err, ErrNoPublisher) {
		t.Errorf("NewMQTTDriver(nil) error = %v, want ErrNoPublisher", err)
	}
	if _, err := NewBluetoothDriver(&fakePublisher{}, device.Address{}); !errors.Is(err, device.ErrInvalidAddress) {
		t.Errorf("NewBluetoothDriver(no mac) error = %v, want ErrInvalidAddress", err)
	}
}
