package timeline

import (
	"errors"
	"fmt"
)

// Sentinel errors for timeline operations.
var (
	// ErrDuplicateEffect is returned when an effect id is already queued or pending.
	ErrDuplicateEffect = errors.New("timeline: duplicate effect id")

	// ErrSchedulerOverflow is matched by every OverflowError.
	ErrSchedulerOverflow = errors.New("timeline: ingress queue full")

	// ErrInvalidTransition is returned for a state change the machine does not allow.
	ErrInvalidTransition = errors.New("timeline: invalid state transition")

	// ErrNegativeSeek is returned when seeking before the start of the timeline.
	ErrNegativeSeek = errors.New("timeline: seek offset must not be negative")

	// ErrAlreadyRunning is returned by a second concurrent Run.
	ErrAlreadyRunning = errors.New("timeline: tick loop already running")
)

// OverflowError reports an effect dropped because the ingress queue was full.
// DropCount is the number of effects dropped since the queue last drained.
type OverflowError struct {
	EffectID  string
	Priority  int
	DropCount int
}

func (e *OverflowError) Error() string {
	return fmt.Sprintf("timeline: ingress queue full: dropped effect %s (priority %d), %d dropped",
		e.EffectID, e.Priority, e.DropCount)
}

// Is makes errors.Is(err, ErrSchedulerOverflow) true.
func (e *OverflowError) Is(target error) bool {
	return target == ErrSchedulerOverflow
}
