package ingress

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/nerrad567/playsem-core/internal/effect"
)

// Control actions.
const (
	ActionPlay  = "play"
	ActionPause = "pause"
	ActionStop  = "stop"
	ActionSeek  = "seek"
)

// Controller drives the timeline. *engine.Engine implements it.
type Controller interface {
	Play() error
	Pause() error
	Stop() error
	Seek(offset time.Duration) error
}

// Command is a timeline control request.
type Command struct {
	Action   string   `json:"action"`
	OffsetMs *float64 `json:"offsetMs,omitempty"`
}

// ParseCommand decodes a control payload. Besides the JSON object form,
// a bare action word ("play", "pause", "stop") is accepted.
func ParseCommand(payload []byte) (Command, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) > 0 && trimmed[0] != '{' {
		return Command{Action: strings.ToLower(string(trimmed))}, nil
	}
	var cmd Command
	if err := json.Unmarshal(trimmed, &cmd); err != nil {
		return Command{}, fmt.Errorf("%w: %w", ErrMalformedCommand, err)
	}
	cmd.Action = strings.ToLower(strings.TrimSpace(cmd.Action))
	return cmd, nil
}

// Apply runs cmd against ctrl.
func Apply(ctrl Controller, cmd Command) error {
	switch cmd.Action {
	case ActionPlay:
		return ctrl.Play()
	case ActionPause:
		return ctrl.Pause()
	case ActionStop:
		return ctrl.Stop()
	case ActionSeek:
		if cmd.OffsetMs == nil {
			return ErrMissingOffset
		}
		ms := *cmd.OffsetMs
		if math.IsNaN(ms) || math.IsInf(ms, 0) {
			return fmt.Errorf("%w: offsetMs must be finite", ErrMalformedCommand)
		}
		if ms > effect.MaxMillis || ms < -effect.MaxMillis {
			return fmt.Errorf("%w: offsetMs out of range", ErrMalformedCommand)
		}
		return ctrl.Seek(time.Duration(ms * float64(time.Millisecond)))
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, cmd.Action)
	}
}
