package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/nerrad567/playsem-core/internal/activity"
	"github.com/nerrad567/playsem-core/internal/device"
	"github.com/nerrad567/playsem-core/internal/effect"
)

// Logger defines the logging interface used by the Pool.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry is the part of *device.Registry the pool needs.
type Registry interface {
	Lookup(id string) (*device.Device, error)
	GroupMembers(id string) ([]string, error)
	Send(ctx context.Context, id string, e *effect.Effect) (device.Ack, time.Duration, error)
}

// Recorder receives terminal outcomes. *activity.Log implements it.
type Recorder interface {
	Append(rec activity.Record) activity.Record
}

// Defaults.
const (
	DefaultWorkers        = 4
	DefaultQueueSize      = 256
	DefaultAttemptTimeout = 500 * time.Millisecond
)

// Options configures a Pool.
type Options struct {
	Registry Registry // required
	Recorder Recorder // required

	Workers        int
	QueueSize      int
	AttemptTimeout time.Duration
	Retry          RetryPolicy
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Workers   int    `json:"workers"`
	Queued    int    `json:"queued"`
	InFlight  int64  `json:"inFlight"`
	Accepted  uint64 `json:"accepted"`
	Rejected  uint64 `json:"rejected"`
	Completed uint64 `json:"completed"`
}

type job struct {
	e   *effect.Effect
	due time.Time
}

// Pool is a fixed-size worker pool that renders due effects on devices.
type Pool struct {
	registry       Registry
	recorder       Recorder
	workers        int
	attemptTimeout time.Duration
	retry          RetryPolicy

	queue    chan job
	closeMu  sync.RWMutex
	closed   bool
	draining context.Context
	stop     context.CancelFunc
	wg       sync.WaitGroup

	slotsMu sync.Mutex
	slots   map[string]chan struct{}

	accepted  atomic.Uint64
	rejected  atomic.Uint64
	completed atomic.Uint64
	inFlight  atomic.Int64

	logger Logger
	now    func() time.Time
}

// NewPool creates a pool and starts its workers.
func NewPool(opts Options) (*Pool, error) {
	if opts.Registry == nil {
		return nil, errors.New("dispatch: registry is required")
	}
	if opts.Recorder == nil {
		return nil, errors.New("dispatch: recorder is required")
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = DefaultAttemptTimeout
	}
	if opts.Retry == (RetryPolicy{}) {
		opts.Retry = DefaultRetryPolicy()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		registry:       opts.Registry,
		recorder:       opts.Recorder,
		workers:        opts.Workers,
		attemptTimeout: opts.AttemptTimeout,
		retry:          opts.Retry.withDefaults(),
		queue:          make(chan job, opts.QueueSize),
		draining:       ctx,
		stop:           cancel,
		slots:          make(map[string]chan struct{}),
		logger:         noopLogger{},
		now:            time.Now,
	}

	p.wg.Add(p.workers)
	for i := 0; i < p.workers; i++ {
		go p.worker()
	}
	return p, nil
}

// SetLogger sets the logger for the pool.
func (p *Pool) SetLogger(logger Logger) {
	p.logger = logger
}

// Dispatch enqueues e for rendering. It never blocks: a full queue returns
// ErrQueueFull and the caller records the effect as dropped.
func (p *Pool) Dispatch(e *effect.Effect, due time.Time) error {
	p.closeMu.RLock()
	defer p.closeMu.RUnlock()

	if p.closed {
		p.rejected.Add(1)
		return ErrPoolClosed
	}

	select {
	case p.queue <- job{e: e, due: due}:
		e.SetStatus(effect.StatusDispatched)
		p.accepted.Add(1)
		return nil
	default:
		p.rejected.Add(1)
		return fmt.Errorf("%w: %d jobs queued", ErrQueueFull, cap(p.queue))
	}
}

// Close stops accepting work, lets in-flight sends finish (each is bounded
// by the attempt timeout), cancels pending retries and records every job
// still queued as dropped with reason cancelled.
func (p *Pool) Close() {
	p.closeMu.Lock()
	if p.closed {
		p.closeMu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.closeMu.Unlock()

	p.stop()
	p.wg.Wait()
}

// Stats returns current pool counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Workers:   p.workers,
		Queued:    len(p.queue),
		InFlight:  p.inFlight.Load(),
		Accepted:  p.accepted.Load(),
		Rejected:  p.rejected.Load(),
		Completed: p.completed.Load(),
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for j := range p.queue {
		if p.draining.Err() != nil {
			p.cancelJob(j)
			continue
		}
		p.inFlight.Add(1)
		p.process(j)
		p.inFlight.Add(-1)
		p.completed.Add(1)
	}
}

func (p *Pool) cancelJob(j job) {
	j.e.SetStatus(effect.StatusDropped)
	p.recorder.Append(p.record(j, "", activity.OutcomeDropped, activity.ReasonCancelled, context.Canceled, 0))
}

// process resolves targets and fans the sends out in parallel.
func (p *Pool) process(j job) {
	targets, failures := p.resolve(j.e)
	for _, rec := range failures {
		p.recordFailure(j, rec)
	}

	var (
		wg        sync.WaitGroup
		delivered atomic.Int32
	)
	for _, id := range targets {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if rec := p.deliver(j, id); rec.Outcome == activity.OutcomeDelivered {
				delivered.Add(1)
			}
		}(id)
	}
	wg.Wait()

	if delivered.Load() > 0 {
		j.e.SetStatus(effect.StatusDelivered)
	} else {
		j.e.SetStatus(effect.StatusFailed)
	}
}

// resolveFailure is a target that failed before any Send.
type resolveFailure struct {
	deviceID string
	reason   string
	err      error
}

func (p *Pool) recordFailure(j job, f resolveFailure) {
	p.logger.Debug("effect target unresolved",
		"effect_id", j.e.ID, "target", j.e.Target(), "device_id", f.deviceID, "reason", f.reason)
	p.recorder.Append(p.record(j, f.deviceID, activity.OutcomeFailed, f.reason, f.err, 0))
}

// deliver sends j to one device, retrying transient failures, and records
// the terminal outcome.
func (p *Pool) deliver(j job, deviceID string) activity.Record {
	var (
		attempts int
		lastErr  error
	)

	op := func() (device.Ack, error) {
		attempts++
		ack, err := p.attempt(j.e, deviceID)
		if err == nil {
			return ack, nil
		}
		lastErr = err
		if errors.Is(err, device.ErrDeviceNotFound) {
			return device.Ack{}, backoff.Permanent(err)
		}
		return device.Ack{}, err
	}
	notify := func(err error, wait time.Duration) {
		p.logger.Debug("retrying effect send",
			"effect_id", j.e.ID, "device_id", deviceID, "attempt", attempts, "wait", wait, "error", err)
	}

	ack, err := backoff.RetryNotifyWithData(op, backoff.WithContext(p.retry.newBackOff(), p.draining), notify)
	if err != nil {
		// A retry cut short by Close reports the failure that triggered it.
		if lastErr == nil {
			lastErr = err
		}
		reason := classify(lastErr)
		p.logger.Warn("effect send failed",
			"effect_id", j.e.ID, "device_id", deviceID, "attempts", attempts, "reason", reason, "error", lastErr)
		return p.recorder.Append(p.record(j, deviceID, activity.OutcomeFailed, reason, lastErr, attempts))
	}

	rec := p.record(j, deviceID, activity.OutcomeDelivered, "", nil, attempts)
	if ack.Detail != "" {
		p.logger.Debug("effect delivered", "effect_id", j.e.ID, "device_id", deviceID, "detail", ack.Detail)
	}
	return p.recorder.Append(rec)
}

// attempt performs one Send inside the device's exclusive slot.
func (p *Pool) attempt(e *effect.Effect, deviceID string) (device.Ack, error) {
	release, err := p.acquire(deviceID)
	if err != nil {
		return device.Ack{}, backoff.Permanent(err)
	}
	defer release()

	// In-flight sends are not cut short by Close; the timeout bounds them.
	ctx, cancel := context.WithTimeout(context.Background(), p.attemptTimeout)
	defer cancel()

	ack, _, err := p.registry.Send(ctx, deviceID, e)
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		return device.Ack{}, fmt.Errorf("%w: %s after %v", ErrDispatchTimeout, deviceID, p.attemptTimeout)
	}
	return ack, err
}

// acquire takes the device's exclusive slot, waiting for the current holder.
func (p *Pool) acquire(deviceID string) (func(), error) {
	p.slotsMu.Lock()
	slot, ok := p.slots[deviceID]
	if !ok {
		slot = make(chan struct{}, 1)
		p.slots[deviceID] = slot
	}
	p.slotsMu.Unlock()

	select {
	case slot <- struct{}{}:
		return func() { <-slot }, nil
	case <-p.draining.Done():
		return nil, p.draining.Err()
	}
}

func (p *Pool) record(j job, deviceID string, outcome activity.Outcome, reason string, err error, attempts int) activity.Record {
	now := p.now()
	rec := activity.Record{
		EffectID:    j.e.ID,
		EffectType:  string(j.e.Type),
		Target:      j.e.Target(),
		DeviceID:    deviceID,
		Outcome:     outcome,
		Reason:      reason,
		Attempts:    attempts,
		AttemptedAt: now.UTC(),
	}
	if !j.due.IsZero() {
		rec.Latency = max(now.Sub(j.due), 0)
	}
	if err != nil {
		rec.Error = err.Error()
	}
	return rec
}

// classify maps a send error to an activity reason code.
func classify(err error) string {
	switch {
	case errors.Is(err, device.ErrDeviceNotFound), errors.Is(err, ErrUnknownTarget):
		return activity.ReasonUnknownTarget
	case errors.Is(err, device.ErrDeviceUnavailable), errors.Is(err, ErrDeviceUnavailable):
		return activity.ReasonDeviceUnavailable
	case errors.Is(err, ErrCapabilityMismatch):
		return activity.ReasonCapabilityMismatch
	case errors.Is(err, ErrDispatchTimeout), errors.Is(err, context.DeadlineExceeded):
		return activity.ReasonDispatchTimeout
	case errors.Is(err, context.Canceled):
		return activity.ReasonCancelled
	default:
		return activity.ReasonSendFailed
	}
}
