package device

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/playsem-core/internal/effect"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures a Registry.
type Options struct {
	// Repository persists device descriptors. Nil keeps devices in memory only.
	Repository Repository

	// Groups persists device groups. Nil keeps groups in memory only.
	Groups GroupRepository

	// Factory builds the driver for each registered device. Required.
	Factory DriverFactory

	// Reconnect bounds the reconnect state machine. Zero value uses defaults.
	Reconnect ReconnectPolicy
}

// entry is the registry's private record for one device.
type entry struct {
	dev          *Device
	driver       Driver
	reconnecting bool
	cancel       context.CancelFunc
}

// Registry owns the set of known devices, their groups and their runtime
// connection state, and exposes a uniform Send over every transport.
//
// Connection attempts never run under the registry lock, so capability
// lookups are never blocked by a slow device. Devices that are Connecting
// or Reconnecting are excluded from FindByCapability.
//
// All public methods are thread-safe.
type Registry struct {
	repo      Repository
	groupRepo GroupRepository
	factory   DriverFactory
	policy    ReconnectPolicy

	mu      sync.RWMutex
	devices map[string]*entry
	groups  map[string]*Group
	closed  bool

	listenersMu sync.RWMutex
	listeners   []func(StateChange)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger Logger
	now    func() time.Time
}

// NewRegistry creates a new device registry.
func NewRegistry(opts Options) *Registry {
	policy := opts.Reconnect
	if policy == (ReconnectPolicy{}) {
		policy = DefaultReconnectPolicy()
	}
	policy = policy.withDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		repo:      opts.Repository,
		groupRepo: opts.Groups,
		factory:   opts.Factory,
		policy:    policy,
		devices:   make(map[string]*entry),
		groups:    make(map[string]*Group),
		ctx:       ctx,
		cancel:    cancel,
		logger:    noopLogger{},
		now:       time.Now,
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// OnStateChange registers fn to be called after every connection state
// change. fn runs on the goroutine that caused the change and must not block.
func (r *Registry) OnStateChange(fn func(StateChange)) {
	r.listenersMu.Lock()
	r.listeners = append(r.listeners, fn)
	r.listenersMu.Unlock()
}

// RefreshCache loads persisted devices and groups and connects every device
// that is not already known. It should be called once on startup.
func (r *Registry) RefreshCache(ctx context.Context) error {
	var loaded []string

	if r.repo != nil {
		devices, err := r.repo.List(ctx)
		if err != nil {
			return fmt.Errorf("loading devices: %w", err)
		}

		for i := range devices {
			d := devices[i].DeepCopy()
			d.State = StateDisconnected
			drv, err := r.buildDriver(d)
			if err != nil {
				r.logger.Warn("skipping persisted device", "id", d.ID, "error", err)
				continue
			}

			r.mu.Lock()
			if _, exists := r.devices[d.ID]; !exists {
				r.devices[d.ID] = &entry{dev: d, driver: drv}
				loaded = append(loaded, d.ID)
			}
			r.mu.Unlock()
		}
	}

	if r.groupRepo != nil {
		groups, err := r.groupRepo.List(ctx)
		if err != nil {
			return fmt.Errorf("loading groups: %w", err)
		}
		r.mu.Lock()
		for i := range groups {
			r.groups[groups[i].ID] = groups[i].DeepCopy()
		}
		r.mu.Unlock()
	}

	var wg sync.WaitGroup
	for _, id := range loaded {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			r.connect(ctx, id)
		}(id)
	}
	wg.Wait()

	r.logger.Info("device cache refreshed", "devices", len(loaded), "groups", r.GroupCount())
	return nil
}

// Register adds a device, persists it and connects it. The connection
// attempt is bounded by the reconnect policy's ConnectTimeout; a device that
// fails to connect stays registered in Error and enters the reconnect loop.
func (r *Registry) Register(ctx context.Context, d *Device) error {
	if err := ValidateDevice(d); err != nil {
		return err
	}

	dev := d.DeepCopy()
	dev.State = StateDisconnected
	dev.LastError = ""

	drv, err := r.buildDriver(dev)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRegistryClosed
	}
	if _, exists := r.devices[dev.ID]; exists {
		r.mu.Unlock()
		return ErrDeviceExists
	}
	r.devices[dev.ID] = &entry{dev: dev, driver: drv}
	r.mu.Unlock()

	if r.repo != nil {
		if err := r.repo.Create(ctx, dev.DeepCopy()); err != nil {
			r.mu.Lock()
			delete(r.devices, dev.ID)
			r.mu.Unlock()
			return err
		}
	}

	r.logger.Info("device registered",
		"id", dev.ID,
		"transport", dev.Transport,
		"capabilities", dev.Capabilities,
	)

	r.connect(ctx, dev.ID)
	return nil
}

// Deregister disconnects and removes a device. Group memberships are kept
// so the device is picked up again if it re-registers.
func (r *Registry) Deregister(ctx context.Context, id string) error {
	r.mu.RLock()
	_, ok := r.devices[id]
	r.mu.RUnlock()
	if !ok {
		return ErrDeviceNotFound
	}

	if r.repo != nil {
		if err := r.repo.Delete(ctx, id); err != nil && !errors.Is(err, ErrDeviceNotFound) {
			return err
		}
	}

	r.mu.Lock()
	en, ok := r.devices[id]
	if ok {
		delete(r.devices, id)
		if en.cancel != nil {
			en.cancel()
		}
	}
	r.mu.Unlock()
	if !ok {
		return ErrDeviceNotFound
	}

	if err := en.driver.Disconnect(); err != nil {
		r.logger.Warn("error disconnecting device", "id", id, "error", err)
	}
	r.logger.Info("device deregistered", "id", id)
	return nil
}

// Lookup returns a copy of the device with the given id.
func (r *Registry) Lookup(id string) (*Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	en, ok := r.devices[id]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	return en.dev.DeepCopy(), nil
}

// List returns copies of every device ordered by id.
func (r *Registry) List() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	devices := make([]Device, 0, len(r.devices))
	for _, en := range r.devices {
		devices = append(devices, *en.dev.DeepCopy())
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].ID < devices[j].ID })
	return devices
}

// FindByCapability returns the Connected devices that can render t,
// ordered by id.
func (r *Registry) FindByCapability(t effect.Type) []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var devices []Device
	for _, en := range r.devices {
		if en.dev.State == StateConnected && en.dev.HasCapability(t) {
			devices = append(devices, *en.dev.DeepCopy())
		}
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].ID < devices[j].ID })
	return devices
}

// Send delivers e to the device and returns the acknowledgement and the
// measured round-trip time. The caller bounds the attempt through ctx.
//
// A failed send moves a non-mock device from Connected to Error and starts
// the reconnect loop, except for ErrCommandRejected where the device
// answered and its link stays up. Send returns ErrDeviceUnavailable without touching the
// driver when the device is not Connected.
func (r *Registry) Send(ctx context.Context, id string, e *effect.Effect) (Ack, time.Duration, error) {
	r.mu.RLock()
	en, ok := r.devices[id]
	var state ConnectionState
	var drv Driver
	var mock bool
	if ok {
		state = en.dev.State
		drv = en.driver
		mock = en.dev.IsMock()
	}
	r.mu.RUnlock()

	if !ok {
		return Ack{}, 0, ErrDeviceNotFound
	}
	if state != StateConnected {
		return Ack{}, 0, fmt.Errorf("%w: %s is %s", ErrDeviceUnavailable, id, state)
	}

	start := r.now()
	ack, err := drv.Send(ctx, NewCommand(id, e, start))
	rtt := r.now().Sub(start)

	if err != nil {
		shutdown := errors.Is(err, context.Canceled) && errors.Is(ctx.Err(), context.Canceled)
		if !mock && !shutdown && !errors.Is(err, ErrCommandRejected) {
			r.markFailed(id, en, err)
		}
		return Ack{}, rtt, err
	}

	seen := r.now().UTC()
	r.mu.Lock()
	if cur, ok := r.devices[id]; ok && cur == en {
		en.dev.LastSeen = &seen
	}
	r.mu.Unlock()

	return ack, rtt, nil
}

// Reconnect restarts the reconnect loop for a device that is not Connected.
// It returns immediately; progress is visible through Lookup and OnStateChange.
func (r *Registry) Reconnect(id string) error {
	r.mu.RLock()
	en, ok := r.devices[id]
	var state ConnectionState
	if ok {
		state = en.dev.State
	}
	r.mu.RUnlock()

	if !ok {
		return ErrDeviceNotFound
	}
	if state == StateConnected {
		return nil
	}

	r.startReconnect(id, en)
	return nil
}

// DeviceCount returns the number of registered devices.
func (r *Registry) DeviceCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// GetStats returns current registry statistics.
func (r *Registry) GetStats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{
		TotalDevices: len(r.devices),
		TotalGroups:  len(r.groups),
		ByState:      make(map[ConnectionState]int),
		ByTransport:  make(map[TransportKind]int),
	}
	for _, en := range r.devices {
		stats.ByState[en.dev.State]++
		stats.ByTransport[en.dev.Transport]++
	}
	return stats
}

// Close stops every reconnect loop and disconnects all drivers.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()

	r.mu.RLock()
	drivers := make(map[string]Driver, len(r.devices))
	for id, en := range r.devices {
		drivers[id] = en.driver
	}
	r.mu.RUnlock()

	var errs []error
	for id, drv := range drivers {
		if err := drv.Disconnect(); err != nil {
			errs = append(errs, fmt.Errorf("disconnecting %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) buildDriver(d *Device) (Driver, error) {
	if r.factory == nil {
		return nil, fmt.Errorf("%w: %s: no factory configured", ErrNoDriver, d.Transport)
	}
	drv, err := r.factory(d)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNoDriver, d.Transport, err)
	}
	return drv, nil
}
