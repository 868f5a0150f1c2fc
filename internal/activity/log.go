package activity

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultCapacity is the number of records kept when none is configured.
const DefaultCapacity = 10000

// Sink receives every record after it is appended. Sinks are called
// synchronously, outside the log lock, in registration order, so they must
// not block.
type Sink interface {
	Record(rec Record)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(rec Record)

// Record calls f(rec).
func (f SinkFunc) Record(rec Record) { f(rec) }

// Log is a bounded, append-only, thread-safe activity log.
type Log struct {
	mu       sync.RWMutex
	entries  []Record
	capacity int
	head     int
	count    int
	seq      uint64

	totals    map[Outcome]uint64
	reasons   map[string]uint64
	perDevice map[string]*DeviceTally

	sinksMu sync.RWMutex
	sinks   []Sink

	now func() time.Time
}

// NewLog creates a log holding at most capacity records. Older records are
// evicted from the buffer but stay counted in the totals.
func NewLog(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{
		entries:   make([]Record, capacity),
		capacity:  capacity,
		totals:    make(map[Outcome]uint64),
		reasons:   make(map[string]uint64),
		perDevice: make(map[string]*DeviceTally),
		now:       time.Now,
	}
}

// AddSink registers a sink for subsequent records.
func (l *Log) AddSink(s Sink) {
	l.sinksMu.Lock()
	l.sinks = append(l.sinks, s)
	l.sinksMu.Unlock()
}

// Append stores rec, assigning its ID, sequence number and RecordedAt,
// and returns the stored copy.
func (l *Log) Append(rec Record) Record {
	l.mu.Lock()
	l.seq++
	rec.Seq = l.seq
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.RecordedAt = l.now().UTC()
	if rec.AttemptedAt.IsZero() {
		rec.AttemptedAt = rec.RecordedAt
	}
	rec.LatencyMs = float64(rec.Latency.Microseconds()) / 1000

	l.entries[l.head] = rec
	l.head = (l.head + 1) % l.capacity
	if l.count < l.capacity {
		l.count++
	}

	l.totals[rec.Outcome]++
	if rec.Reason != "" {
		l.reasons[rec.Reason]++
	}
	if rec.DeviceID != "" {
		l.tallyLocked(rec)
	}
	l.mu.Unlock()

	l.sinksMu.RLock()
	sinks := l.sinks
	l.sinksMu.RUnlock()
	for _, s := range sinks {
		s.Record(rec)
	}

	return rec
}

func (l *Log) tallyLocked(rec Record) {
	t, ok := l.perDevice[rec.DeviceID]
	if !ok {
		t = &DeviceTally{}
		l.perDevice[rec.DeviceID] = t
	}
	switch rec.Outcome {
	case OutcomeDelivered:
		t.Delivered++
	case OutcomeFailed:
		t.Failed++
	case OutcomeDropped:
		t.Dropped++
	}
	t.LastOutcome = rec.Outcome
	t.LastReason = rec.Reason
	t.LastAt = rec.RecordedAt
}

// All returns the retained records oldest first.
func (l *Log) All() []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.allLocked()
}

func (l *Log) allLocked() []Record {
	out := make([]Record, l.count)
	start := 0
	if l.count == l.capacity {
		start = l.head
	}
	for i := 0; i < l.count; i++ {
		out[i] = l.entries[(start+i)%l.capacity]
	}
	return out
}

// Query returns retained records matching f.
func (l *Log) Query(f Filter) []Record {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	if limit > MaxQueryLimit {
		limit = MaxQueryLimit
	}

	all := l.All()
	out := make([]Record, 0, min(limit, len(all)))

	for i := range all {
		idx := i
		if f.Descending {
			idx = len(all) - 1 - i
		}
		rec := all[idx]
		if !f.matches(rec) {
			continue
		}
		out = append(out, rec)
		if len(out) == limit {
			break
		}
	}
	return out
}

func (f Filter) matches(rec Record) bool {
	if f.EffectID != "" && rec.EffectID != f.EffectID {
		return false
	}
	if f.DeviceID != "" && rec.DeviceID != f.DeviceID {
		return false
	}
	if f.Outcome != "" && rec.Outcome != f.Outcome {
		return false
	}
	if f.Reason != "" && rec.Reason != f.Reason {
		return false
	}
	if !f.Since.IsZero() && rec.RecordedAt.Before(f.Since) {
		return false
	}
	return true
}

// Len returns the number of retained records.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.count
}

// Totals returns the number of records ever appended per outcome.
func (l *Log) Totals() map[Outcome]uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[Outcome]uint64, len(l.totals))
	for k, v := range l.totals {
		out[k] = v
	}
	return out
}

// Reasons returns the number of records ever appended per reason code.
func (l *Log) Reasons() map[string]uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]uint64, len(l.reasons))
	for k, v := range l.reasons {
		out[k] = v
	}
	return out
}

// DeviceTallies returns a copy of the per-device outcome tallies.
func (l *Log) DeviceTallies() map[string]DeviceTally {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]DeviceTally, len(l.perDevice))
	for id, t := range l.perDevice {
		out[id] = *t
	}
	return out
}
