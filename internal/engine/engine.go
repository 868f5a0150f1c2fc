package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/playsem-core/internal/activity"
	"github.com/nerrad567/playsem-core/internal/device"
	"github.com/nerrad567/playsem-core/internal/dispatch"
	"github.com/nerrad567/playsem-core/internal/effect"
	"github.com/nerrad567/playsem-core/internal/timeline"
)

// Logger defines the logging interface used by the Engine and passed on to
// the components it owns.
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

// DefaultTrackCapacity is how many recent effects stay available to Effect.
const DefaultTrackCapacity = 1000

// Options configures an Engine.
type Options struct {
	Registry *device.Registry // required
	Activity *activity.Log    // required

	// Timeline configures the scheduler. Dispatcher and Observer are
	// supplied by the engine and ignored here.
	Timeline timeline.Options

	// Dispatch configures the worker pool. Registry and Recorder are
	// supplied by the engine and ignored here.
	Dispatch dispatch.Options

	TrackCapacity int
}

// Engine is the running PlaySEM core.
type Engine struct {
	registry   *device.Registry
	activity   *activity.Log
	normalizer *effect.Normalizer
	scheduler  *timeline.Scheduler
	pool       *dispatch.Pool
	tracked    *tracker

	listenersMu sync.RWMutex
	listeners   []func(timeline.Transition)

	closeOnce sync.Once
	logger    Logger
	now       func() time.Time
}

// New builds an engine. The timeline starts Stopped; call Run to start the
// tick loop and Play to start the playhead.
func New(opts Options) (*Engine, error) {
	if opts.Registry == nil {
		return nil, errors.New("engine: registry is required")
	}
	if opts.Activity == nil {
		return nil, errors.New("engine: activity log is required")
	}
	if opts.TrackCapacity <= 0 {
		opts.TrackCapacity = DefaultTrackCapacity
	}

	e := &Engine{
		registry: opts.Registry,
		activity: opts.Activity,
		tracked:  newTracker(opts.TrackCapacity),
		logger:   noopLogger{},
		now:      time.Now,
	}

	popts := opts.Dispatch
	popts.Registry = opts.Registry
	popts.Recorder = opts.Activity
	pool, err := dispatch.NewPool(popts)
	if err != nil {
		return nil, fmt.Errorf("creating dispatch pool: %w", err)
	}
	e.pool = pool

	topts := opts.Timeline
	topts.Dispatcher = pool
	topts.Observer = (*observer)(e)
	sched, err := timeline.NewScheduler(topts)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating scheduler: %w", err)
	}
	e.scheduler = sched

	e.normalizer = effect.NewNormalizer(e)
	return e, nil
}

// SetLogger sets the logger for the engine and every component it owns.
func (e *Engine) SetLogger(logger Logger) {
	e.logger = logger
	e.normalizer.SetLogger(logger)
	e.scheduler.SetLogger(logger)
	e.pool.SetLogger(logger)
}

// OnTransition registers fn to be called after every play state change
// and seek. fn must not block.
func (e *Engine) OnTransition(fn func(timeline.Transition)) {
	e.listenersMu.Lock()
	e.listeners = append(e.listeners, fn)
	e.listenersMu.Unlock()
}

// Ingest validates a decoded payload and schedules it. It returns the
// assigned effect id, an *effect.ValidationError, a duplicate id error,
// or a *timeline.OverflowError when the effect itself was shed.
func (e *Engine) Ingest(raw effect.RawPayload, meta effect.SourceMeta) (string, error) {
	return e.normalizer.Ingest(raw, meta)
}

// IngestJSON decodes a JSON object and ingests it.
func (e *Engine) IngestJSON(data []byte, meta effect.SourceMeta) (string, error) {
	return e.normalizer.IngestJSON(data, meta)
}

// Submit implements effect.Sink.
func (e *Engine) Submit(eff *effect.Effect) error {
	err := e.scheduler.Submit(eff)
	if err == nil || errors.Is(err, timeline.ErrSchedulerOverflow) {
		e.tracked.add(eff)
	}
	return err
}

// Effect returns a recently ingested effect by id.
func (e *Engine) Effect(id string) (effect.View, bool) {
	eff, ok := e.tracked.get(id)
	if !ok {
		return effect.View{}, false
	}
	return eff.View(), true
}

// Play starts or resumes the timeline.
func (e *Engine) Play() error { return e.scheduler.Play() }

// Pause freezes the playhead.
func (e *Engine) Pause() error { return e.scheduler.Pause() }

// Stop cancels every pending effect and rewinds the playhead to zero.
func (e *Engine) Stop() error { return e.scheduler.Stop() }

// Seek moves the playhead without changing the play state.
func (e *Engine) Seek(offset time.Duration) error { return e.scheduler.Seek(offset) }

// CancelPending drops every pending effect without changing the play state.
func (e *Engine) CancelPending() int { return e.scheduler.CancelPending() }

// Snapshot returns the timeline state.
func (e *Engine) Snapshot() timeline.Snapshot { return e.scheduler.Snapshot() }

// Step advances a playing timeline by delta and releases what is due.
// It exists for deterministic playback in tests and tooling.
func (e *Engine) Step(delta time.Duration) { e.scheduler.Step(delta) }

// Registry returns the device registry the engine dispatches to.
func (e *Engine) Registry() *device.Registry { return e.registry }

// Activity returns the activity log.
func (e *Engine) Activity() *activity.Log { return e.activity }

// Run drives the timeline tick loop until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	return e.scheduler.Run(ctx)
}

// Close drops whatever is still pending and shuts the worker pool down.
// In-flight sends finish or time out first. Cancel the context passed to
// Run before calling Close.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		if n := e.scheduler.CancelPending(); n > 0 {
			e.logger.Info("cancelled pending effects on shutdown", "count", n)
		}
		e.pool.Close()
	})
}
