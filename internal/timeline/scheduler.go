package timeline

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/playsem-core/internal/effect"
)

// Logger defines the logging interface used by the Scheduler.
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

// State is the play state of the timeline.
type State string

// Timeline states.
const (
	StateStopped State = "stopped"
	StatePlaying State = "playing"
	StatePaused  State = "paused"
)

// Reasons an effect leaves the timeline without being released.
const (
	ReasonOverflow         = "scheduler_overflow"
	ReasonSkippedBySeek    = "skipped_by_seek"
	ReasonCancelled        = "cancelled"
	ReasonDispatchRejected = "dispatch_rejected"
)

// Defaults used when Options leave a field zero.
const (
	DefaultTickInterval    = 10 * time.Millisecond
	DefaultIngressCapacity = 100
)

// Dispatcher receives released effects. due is the wall time the effect
// became due, used to measure dispatch latency. Dispatch must not block.
type Dispatcher interface {
	Dispatch(e *effect.Effect, due time.Time) error
}

// Observer is told about drops and state changes. Calls are made without
// the scheduler lock held and must not block.
type Observer interface {
	EffectDropped(e *effect.Effect, reason string, err error)
	Transitioned(t Transition)
}

type noopObserver struct{}

func (noopObserver) EffectDropped(*effect.Effect, string, error) {}
func (noopObserver) Transitioned(Transition)                    {}

// Transition describes a state change or seek.
type Transition struct {
	Action     string        `json:"action"`
	From       State         `json:"from"`
	To         State         `json:"to"`
	Playhead   time.Duration `json:"-"`
	PlayheadMs int64         `json:"playheadMs"`
	At         time.Time     `json:"at"`
}

// Options configures a Scheduler.
type Options struct {
	// Dispatcher receives released effects. Required.
	Dispatcher Dispatcher

	Observer        Observer
	Clock           Clock
	TickInterval    time.Duration
	IngressCapacity int

	// CatchUpOnSeek releases every effect a seek passes over instead of
	// dropping it. Effects can also opt in individually.
	CatchUpOnSeek bool
}

// Stats are cumulative scheduler counters.
type Stats struct {
	Scheduled uint64            `json:"scheduled"`
	Released  uint64            `json:"released"`
	Dropped   uint64            `json:"dropped"`
	DropsBy   map[string]uint64 `json:"dropsByReason"`
}

// Snapshot is a point-in-time view of the timeline.
type Snapshot struct {
	State      State         `json:"state"`
	Playhead   time.Duration `json:"-"`
	PlayheadMs int64         `json:"playheadMs"`
	Pending    int           `json:"pending"`
	Queued     int           `json:"queued"`
	Stats      Stats         `json:"stats"`
}

// released is an effect leaving the timeline for dispatch.
type released struct {
	e   *effect.Effect
	due time.Time
}

// dropped is an effect leaving the timeline without dispatch.
type dropped struct {
	e      *effect.Effect
	reason string
	err    error
}

// Scheduler is the single owner of the timeline and its playhead.
//
// All state mutations happen under one mutex. Releases are forwarded to the
// Dispatcher outside that mutex but under a second one, so effects reach
// the dispatcher in timeline order even when Tick and Seek race.
type Scheduler struct {
	dispatcher    Dispatcher
	observer      Observer
	clock         Clock
	tickInterval  time.Duration
	catchUpOnSeek bool

	releaseMu sync.Mutex

	mu        sync.Mutex
	state     State
	playhead  time.Duration
	lastTick  time.Time
	pending   pendingHeap
	immediate []*item
	queue     *ingress
	known     map[string]struct{}
	seq       uint64
	stats     Stats

	running atomic.Bool
	logger  Logger
}

// NewScheduler creates a stopped timeline with the playhead at zero.
func NewScheduler(opts Options) (*Scheduler, error) {
	if opts.Dispatcher == nil {
		return nil, errors.New("timeline: dispatcher is required")
	}
	if opts.Observer == nil {
		opts.Observer = noopObserver{}
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock()
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.IngressCapacity <= 0 {
		opts.IngressCapacity = DefaultIngressCapacity
	}

	return &Scheduler{
		dispatcher:    opts.Dispatcher,
		observer:      opts.Observer,
		clock:         opts.Clock,
		tickInterval:  opts.TickInterval,
		catchUpOnSeek: opts.CatchUpOnSeek,
		state:         StateStopped,
		queue:         newIngress(opts.IngressCapacity),
		known:         make(map[string]struct{}),
		stats:         Stats{DropsBy: make(map[string]uint64)},
		logger:        noopLogger{},
	}, nil
}

// SetLogger sets the logger for the scheduler.
func (s *Scheduler) SetLogger(logger Logger) {
	s.logger = logger
}

// Submit offers an effect to the bounded ingress queue. It never blocks.
//
// When the queue is full the lowest-priority queued effect is dropped to
// make room, but never one with higher priority than e; in that case e
// itself is dropped and an *OverflowError is returned.
func (s *Scheduler) Submit(e *effect.Effect) error {
	s.mu.Lock()
	if _, dup := s.known[e.ID]; dup {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateEffect, e.ID)
	}

	victim := s.queue.offer(e)
	if victim != e {
		s.known[e.ID] = struct{}{}
		s.stats.Scheduled++
	}

	var overflow *OverflowError
	if victim != nil {
		delete(s.known, victim.ID)
		overflow = &OverflowError{
			EffectID:  victim.ID,
			Priority:  victim.Priority,
			DropCount: s.queue.drops,
		}
	}
	s.mu.Unlock()

	if overflow == nil {
		return nil
	}

	s.logger.Warn("scheduler overflow",
		"dropped_effect", overflow.EffectID,
		"dropped_priority", overflow.Priority,
		"drop_count", overflow.DropCount,
	)
	s.report([]dropped{{e: victim, reason: ReasonOverflow, err: overflow}})

	if victim == e {
		return overflow
	}
	return nil
}

// Schedule inserts an effect straight into the pending set, bypassing the
// ingress queue.
func (s *Scheduler) Schedule(e *effect.Effect) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.known[e.ID]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicateEffect, e.ID)
	}
	s.known[e.ID] = struct{}{}
	s.stats.Scheduled++
	s.insertLocked(e, s.clock.Now())
	return nil
}

// Tick drains the ingress queue, advances the playhead by the clock time
// elapsed since the previous tick while Playing, and releases due effects.
func (s *Scheduler) Tick() {
	s.releaseMu.Lock()
	defer s.releaseMu.Unlock()

	now := s.clock.Now()
	s.mu.Lock()
	due := s.advanceLocked(now, s.elapsedLocked(now))
	s.mu.Unlock()

	s.release(due)
}

// Step is Tick with an injected playhead delta instead of clock time.
func (s *Scheduler) Step(delta time.Duration) {
	s.releaseMu.Lock()
	defer s.releaseMu.Unlock()

	now := s.clock.Now()
	s.mu.Lock()
	due := s.advanceLocked(now, delta)
	s.mu.Unlock()

	s.release(due)
}

// Play starts or resumes the timeline.
func (s *Scheduler) Play() error {
	s.mu.Lock()
	from := s.state
	if from == StatePlaying {
		s.mu.Unlock()
		return fmt.Errorf("%w: already playing", ErrInvalidTransition)
	}
	now := s.clock.Now()
	s.state = StatePlaying
	s.lastTick = now
	t := Transition{Action: "play", From: from, To: StatePlaying, Playhead: s.playhead, At: now}
	s.mu.Unlock()

	s.transitioned(t)
	return nil
}

// Pause freezes the playhead. Effects due up to the pause are released
// first; nothing ahead of the playhead is skipped on resume.
func (s *Scheduler) Pause() error {
	s.releaseMu.Lock()
	defer s.releaseMu.Unlock()

	s.mu.Lock()
	if s.state != StatePlaying {
		from := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: cannot pause while %s", ErrInvalidTransition, from)
	}
	now := s.clock.Now()
	due := s.advanceLocked(now, s.elapsedLocked(now))
	s.state = StatePaused
	t := Transition{Action: "pause", From: StatePlaying, To: StatePaused, Playhead: s.playhead, At: now}
	s.mu.Unlock()

	s.release(due)
	s.transitioned(t)
	return nil
}

// Stop drops every queued and pending effect and rewinds to zero.
// Effects already released keep dispatching.
func (s *Scheduler) Stop() error {
	s.releaseMu.Lock()
	defer s.releaseMu.Unlock()

	s.mu.Lock()
	from := s.state
	if from == StateStopped {
		s.mu.Unlock()
		return fmt.Errorf("%w: already stopped", ErrInvalidTransition)
	}
	now := s.clock.Now()
	drops := s.cancelLocked(now)
	s.state = StateStopped
	s.playhead = 0
	t := Transition{Action: "stop", From: from, To: StateStopped, At: now}
	s.mu.Unlock()

	s.report(drops)
	s.transitioned(t)
	return nil
}

// CancelPending drops every queued and pending effect without changing
// the play state. It returns the number dropped.
func (s *Scheduler) CancelPending() int {
	s.releaseMu.Lock()
	defer s.releaseMu.Unlock()

	s.mu.Lock()
	drops := s.cancelLocked(s.clock.Now())
	s.mu.Unlock()

	s.report(drops)
	return len(drops)
}

// Seek moves the playhead to offset without changing the play state.
// Effects whose trigger is now behind the playhead are dropped, or
// released immediately when they are catch-up eligible.
func (s *Scheduler) Seek(offset time.Duration) error {
	if offset < 0 {
		return ErrNegativeSeek
	}

	s.releaseMu.Lock()
	defer s.releaseMu.Unlock()

	s.mu.Lock()
	now := s.clock.Now()
	due := s.advanceLocked(now, s.elapsedLocked(now))

	var drops []dropped
	for _, it := range s.pending.popUntil(offset, true) {
		delete(s.known, it.e.ID)
		if it.e.CatchUp || s.catchUpOnSeek {
			due = append(due, released{e: it.e, due: now})
			continue
		}
		drops = append(drops, dropped{e: it.e, reason: ReasonSkippedBySeek})
	}

	s.playhead = offset
	s.lastTick = now
	t := Transition{Action: "seek", From: s.state, To: s.state, Playhead: offset, At: now}
	s.mu.Unlock()

	s.release(due)
	s.report(drops)
	s.transitioned(t)
	return nil
}

// Snapshot returns the current state, playhead and counters.
func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := s.stats
	stats.DropsBy = make(map[string]uint64, len(s.stats.DropsBy))
	for k, v := range s.stats.DropsBy {
		stats.DropsBy[k] = v
	}
	return Snapshot{
		State:      s.state,
		Playhead:   s.playhead,
		PlayheadMs: s.playhead.Milliseconds(),
		Pending:    s.pending.Len() + len(s.immediate),
		Queued:     s.queue.len(),
		Stats:      stats,
	}
}

// Run drives Tick at the configured cadence until ctx is cancelled.
// Only one Run may be active per scheduler.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer s.running.Store(false)

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	s.logger.Info("timeline tick loop started", "interval", s.tickInterval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("timeline tick loop stopped")
			return nil
		case <-ticker.C:
			s.Tick()
		}
	}
}

func (s *Scheduler) elapsedLocked(now time.Time) time.Duration {
	if s.state != StatePlaying || s.lastTick.IsZero() {
		return 0
	}
	d := now.Sub(s.lastTick)
	if d < 0 {
		return 0
	}
	return d
}

// advanceLocked drains ingress, moves the playhead and collects what is due.
func (s *Scheduler) advanceLocked(now time.Time, delta time.Duration) []released {
	for _, e := range s.queue.take() {
		s.insertLocked(e, now)
	}

	var due []released
	for _, it := range s.immediate {
		when := now
		if r := it.e.ReceivedAt; !r.IsZero() && r.Before(now) {
			when = r
		}
		due = append(due, released{e: it.e, due: when})
		delete(s.known, it.e.ID)
	}
	s.immediate = nil

	if s.state == StatePlaying {
		s.playhead += delta
		for _, it := range s.pending.popUntil(s.playhead, false) {
			// How far the playhead overshot the trigger, in wall time.
			due = append(due, released{e: it.e, due: now.Add(it.at - s.playhead)})
			delete(s.known, it.e.ID)
		}
	}
	s.lastTick = now
	return due
}

func (s *Scheduler) insertLocked(e *effect.Effect, now time.Time) {
	s.seq++
	it := &item{e: e, seq: s.seq, at: s.resolveLocked(e.Trigger, now)}
	if e.OneShot {
		s.immediate = append(s.immediate, it)
		return
	}
	heap.Push(&s.pending, it)
}

// resolveLocked maps a trigger onto the timeline. Absolute timestamps are
// placed relative to the current playhead and never before zero.
func (s *Scheduler) resolveLocked(t effect.Trigger, now time.Time) time.Duration {
	if !t.IsAbsolute() {
		return t.Offset
	}
	at := s.playhead + t.Absolute.Sub(now)
	if at < 0 {
		return 0
	}
	return at
}

func (s *Scheduler) cancelLocked(now time.Time) []dropped {
	for _, e := range s.queue.take() {
		s.insertLocked(e, now)
	}

	var drops []dropped
	for _, it := range s.immediate {
		drops = append(drops, dropped{e: it.e, reason: ReasonCancelled})
	}
	s.immediate = nil
	for _, it := range s.pending.drain() {
		drops = append(drops, dropped{e: it.e, reason: ReasonCancelled})
	}
	for _, d := range drops {
		delete(s.known, d.e.ID)
	}
	return drops
}

// release forwards due effects in order. releaseMu must be held.
func (s *Scheduler) release(due []released) {
	if len(due) == 0 {
		return
	}

	var drops []dropped
	var ok uint64
	for _, r := range due {
		if err := s.dispatcher.Dispatch(r.e, r.due); err != nil {
			drops = append(drops, dropped{e: r.e, reason: ReasonDispatchRejected, err: err})
			continue
		}
		ok++
	}

	s.mu.Lock()
	s.stats.Released += ok
	s.mu.Unlock()

	s.report(drops)
}

// report marks effects Dropped, counts them and tells the observer.
func (s *Scheduler) report(drops []dropped) {
	if len(drops) == 0 {
		return
	}

	s.mu.Lock()
	for _, d := range drops {
		s.stats.Dropped++
		s.stats.DropsBy[d.reason]++
	}
	s.mu.Unlock()

	for _, d := range drops {
		d.e.SetStatus(effect.StatusDropped)
		s.logger.Debug("effect dropped", "effect_id", d.e.ID, "reason", d.reason)
		s.observer.EffectDropped(d.e, d.reason, d.err)
	}
}

func (s *Scheduler) transitioned(t Transition) {
	t.PlayheadMs = t.Playhead.Milliseconds()
	s.logger.Info("timeline transition",
		"action", t.Action,
		"from", t.From,
		"to", t.To,
		"playhead_ms", t.Playhead.Milliseconds(),
	)
	s.observer.Transitioned(t)
}
