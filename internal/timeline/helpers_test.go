package timeline

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/playsem-core/internal/effect"
)

var epoch = time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

// recordingDispatcher captures released effects and the playhead at release.
type recordingDispatcher struct {
	mu       sync.Mutex
	sched    *Scheduler
	got      []dispatchRecord
	rejectID string
}

type dispatchRecord struct {
	id  string
	due time.Time
}

var errRejected = errors.New("dispatch queue full")

func (d *recordingDispatcher) Dispatch(e *effect.Effect, due time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e.ID == d.rejectID {
		return errRejected
	}
	d.got = append(d.got, dispatchRecord{id: e.ID, due: due})
	return nil
}

func (d *recordingDispatcher) ids() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.got))
	for i, r := range d.got {
		out[i] = r.id
	}
	return out
}

// recordingObserver captures drops and transitions.
type recordingObserver struct {
	mu          sync.Mutex
	drops       []dropRecord
	transitions []Transition
}

type dropRecord struct {
	id     string
	reason string
	err    error
}

func (o *recordingObserver) EffectDropped(e *effect.Effect, reason string, err error) {
	o.mu.Lock()
	o.drops = append(o.drops, dropRecord{id: e.ID, reason: reason, err: err})
	o.mu.Unlock()
}

func (o *recordingObserver) Transitioned(t Transition) {
	o.mu.Lock()
	o.transitions = append(o.transitions, t)
	o.mu.Unlock()
}

func (o *recordingObserver) dropsFor(reason string) []dropRecord {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []dropRecord
	for _, d := range o.drops {
		if d.reason == reason {
			out = append(out, d)
		}
	}
	return out
}

type fixture struct {
	sched *Scheduler
	clock *ManualClock
	disp  *recordingDispatcher
	obs   *recordingObserver
}

func newFixture(t *testing.T, mutate func(*Options)) *fixture {
	t.Helper()
	f := &fixture{
		clock: NewManualClock(epoch),
		disp:  &recordingDispatcher{},
		obs:   &recordingObserver{},
	}
	opts := Options{
		Dispatcher:      f.disp,
		Observer:        f.obs,
		Clock:           f.clock,
		TickInterval:    10 * time.Millisecond,
		IngressCapacity: 100,
	}
	if mutate != nil {
		mutate(&opts)
	}
	s, err := NewScheduler(opts)
	if err != nil {
		t.Fatalf("NewScheduler() error = %v", err)
	}
	f.sched = s
	return f
}

// tickFor advances the manual clock in 10ms ticks.
func (f *fixture) tickFor(d time.Duration) {
	for elapsed := time.Duration(0); elapsed < d; elapsed += 10 * time.Millisecond {
		f.clock.Advance(10 * time.Millisecond)
		f.sched.Tick()
	}
}

func at(id string, offset time.Duration, priority int) *effect.Effect {
	return &effect.Effect{
		ID:             id,
		Type:           effect.TypeLight,
		TargetDeviceID: "dev",
		Params:         effect.Params{"intensity": 50.0},
		Trigger:        effect.Trigger{Offset: offset},
		Priority:       priority,
	}
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
