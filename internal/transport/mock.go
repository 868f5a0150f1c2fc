package transport

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/nerrad567/playsem-core/internal/device"
)

// MockDriver is an in-process device. It records every command it accepts
// and can simulate latency and failures.
type MockDriver struct {
	mu        sync.Mutex
	latency   time.Duration
	failRate  float64
	failNext  int
	connected bool
	sent      []device.Command
	random    func() float64
}

// NewMockDriver creates a mock with a fixed send latency and a probability
// in [0,1] that any send fails.
func NewMockDriver(latency time.Duration, failRate float64) *MockDriver {
	return &MockDriver{latency: latency, failRate: failRate, random: rand.Float64}
}

// mockFromAddress reads latency_ms and fail_rate from a mock device address.
func mockFromAddress(addr device.Address) (*MockDriver, error) {
	var latency time.Duration
	if v := addr["latency_ms"]; v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms < 0 {
			return nil, fmt.Errorf("%w: latency_ms %q", device.ErrInvalidAddress, v)
		}
		latency = time.Duration(ms) * time.Millisecond
	}

	var failRate float64
	if v := addr["fail_rate"]; v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 || f > 1 {
			return nil, fmt.Errorf("%w: fail_rate %q", device.ErrInvalidAddress, v)
		}
		failRate = f
	}

	return NewMockDriver(latency, failRate), nil
}

// Connect always succeeds unless ctx is already done.
func (m *MockDriver) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.connected = true
	m.mu.Unlock()
	return nil
}

// Disconnect marks the mock disconnected.
func (m *MockDriver) Disconnect() error {
	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()
	return nil
}

// Send waits out the configured latency (or ctx) and records cmd.
func (m *MockDriver) Send(ctx context.Context, cmd device.Command) (device.Ack, error) {
	m.mu.Lock()
	connected, latency := m.connected, m.latency
	m.mu.Unlock()

	if !connected {
		return device.Ack{}, ErrNotConnected
	}

	if latency > 0 {
		timer := time.NewTimer(latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return device.Ack{}, ctx.Err()
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return device.Ack{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failNext > 0 {
		m.failNext--
		return device.Ack{}, ErrInjectedFailure
	}
	if m.failRate > 0 && m.random() < m.failRate {
		return device.Ack{}, ErrInjectedFailure
	}

	m.sent = append(m.sent, cmd)
	return device.Ack{DeviceID: cmd.DeviceID, EffectID: cmd.EffectID, Latency: latency, Detail: "mock"}, nil
}

// FailNext makes the next n sends fail.
func (m *MockDriver) FailNext(n int) {
	m.mu.Lock()
	m.failNext = n
	m.mu.Unlock()
}

// SetLatency changes the simulated send latency.
func (m *MockDriver) SetLatency(d time.Duration) {
	m.mu.Lock()
	m.latency = d
	m.mu.Unlock()
}

// Sent returns a copy of the accepted commands in order.
func (m *MockDriver) Sent() []device.Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]device.Command, len(m.sent))
	copy(out, m.sent)
	return out
}
