package engine

import (
	"errors"

	"github.com/nerrad567/playsem-core/internal/activity"
	"github.com/nerrad567/playsem-core/internal/effect"
	"github.com/nerrad567/playsem-core/internal/timeline"
)

// observer records timeline drops in the activity log and fans transitions
// out to listeners.
type observer Engine

func (o *observer) EffectDropped(e *effect.Effect, reason string, err error) {
	rec := activity.Record{
		EffectID:    e.ID,
		EffectType:  string(e.Type),
		Target:      e.Target(),
		Outcome:     activity.OutcomeDropped,
		Reason:      reason,
		AttemptedAt: o.now().UTC(),
	}
	if err != nil {
		rec.Error = err.Error()
	}
	var overflow *timeline.OverflowError
	if errors.As(err, &overflow) {
		rec.DropCount = uint64(overflow.DropCount)
	}
	o.activity.Append(rec)
}

func (o *observer) Transitioned(t timeline.Transition) {
	o.listenersMu.RLock()
	listeners := make([]func(timeline.Transition), len(o.listeners))
	copy(listeners, o.listeners)
	o.listenersMu.RUnlock()

	for _, fn := range listeners {
		fn(t)
	}
}
