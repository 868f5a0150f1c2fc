package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/playsem-core/internal/activity"
	"github.com/nerrad567/playsem-core/internal/device"
	"github.com/nerrad567/playsem-core/internal/effect"
)

var errFlaky = errors.New("link noise")

// fakeRegistry serves devices and groups from maps and records how Send
// is called. fail decides the outcome of each call (nil means success).
type fakeRegistry struct {
	mu      sync.Mutex
	devices map[string]*device.Device
	groups  map[string][]string
	fail    func(id string, call int) error
	delay   time.Duration
	block   chan struct{}
	started chan string

	calls       map[string]int
	inFlight    map[string]int
	maxInFlight map[string]int
	total       int
	maxTotal    int
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		devices:     make(map[string]*device.Device),
		groups:      make(map[string][]string),
		calls:       make(map[string]int),
		inFlight:    make(map[string]int),
		maxInFlight: make(map[string]int),
	}
}

func (r *fakeRegistry) add(id string, state device.ConnectionState, caps ...effect.Type) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices[id] = &device.Device{ID: id, Transport: device.TransportMock, Capabilities: caps, State: state}
}

func (r *fakeRegistry) Lookup(id string) (*device.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[id]
	if !ok {
		return nil, device.ErrDeviceNotFound
	}
	return d.DeepCopy(), nil
}

func (r *fakeRegistry) GroupMembers(id string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.groups[id]
	if !ok {
		return nil, device.ErrGroupNotFound
	}
	return append([]string(nil), m...), nil
}

func (r *fakeRegistry) Send(ctx context.Context, id string, e *effect.Effect) (device.Ack, time.Duration, error) {
	r.mu.Lock()
	r.calls[id]++
	call := r.calls[id]
	r.inFlight[id]++
	r.maxInFlight[id] = max(r.maxInFlight[id], r.inFlight[id])
	r.total++
	r.maxTotal = max(r.maxTotal, r.total)
	fail, delay, block, started := r.fail, r.delay, r.block, r.started
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.inFlight[id]--
		r.total--
		r.mu.Unlock()
	}()

	if started != nil {
		started <- id
	}

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return device.Ack{}, 0, ctx.Err()
		}
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return device.Ack{}, 0, ctx.Err()
		}
	}

	if fail != nil {
		if err := fail(id, call); err != nil {
			return device.Ack{}, 0, err
		}
	}
	return device.Ack{DeviceID: id, EffectID: e.ID}, time.Millisecond, nil
}

func (r *fakeRegistry) callsFor(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[id]
}

func fastRetry(maxRetries int) RetryPolicy {
	return RetryPolicy{MaxRetries: maxRetries, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond, Multiplier: 2}
}

func newTestPool(t *testing.T, reg *fakeRegistry, opts Options) (*Pool, *activity.Log) {
	t.Helper()
	log := activity.NewLog(1000)
	opts.Registry = reg
	opts.Recorder = log
	if opts.Retry == (RetryPolicy{}) {
		opts.Retry = fastRetry(2)
	}
	p, err := NewPool(opts)
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}
	t.Cleanup(p.Close)
	return p, log
}

func toDevice(id, target string, typ effect.Type) *effect.Effect {
	return &effect.Effect{ID: id, Type: typ, TargetDeviceID: target, Priority: 5}
}

func toGroup(id, group string, typ effect.Type) *effect.Effect {
	return &effect.Effect{ID: id, Type: typ, TargetGroupID: group, Priority: 5}
}

// waitForRecords waits until the log holds n records and returns them.
func waitForRecords(t *testing.T, log *activity.Log, n int) []activity.Record {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if log.Len() >= n {
			return log.All()
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d records, have %d", n, log.Len())
	return nil
}

// waitForStatus waits until e reaches a terminal status.
func waitForStatus(t *testing.T, e *effect.Effect) effect.Status {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s := e.Status(); s.Terminal() {
			return s
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("effect %s still %s", e.ID, e.Status())
	return 0
}
