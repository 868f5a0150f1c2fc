package transport

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/nerrad567/playsem-core/internal/device"
	"github.com/nerrad567/playsem-core/internal/effect"
)

// maxLineSize bounds a single ack line from a serial or TCP device.
const maxLineSize = 4096

// wireCommand is the JSON document every transport sends.
type wireCommand struct {
	DeviceID   string        `json:"device_id"`
	EffectID   string        `json:"effect_id"`
	Type       effect.Type   `json:"type"`
	Params     effect.Params `json:"params,omitempty"`
	DurationMs int64         `json:"duration_ms"`
	Priority   int           `json:"priority"`
	IssuedAt   time.Time     `json:"issued_at"`

	// MAC addresses the target behind a Bluetooth gateway.
	MAC string `json:"mac,omitempty"`
}

func encodeCommand(cmd device.Command) wireCommand {
	return wireCommand{
		DeviceID:   cmd.DeviceID,
		EffectID:   cmd.EffectID,
		Type:       cmd.Type,
		Params:     cmd.Params,
		DurationMs: cmd.DurationMs(),
		Priority:   cmd.Priority,
		IssuedAt:   cmd.IssuedAt.UTC(),
	}
}

// wireAck is the JSON line a serial or TCP device answers with.
type wireAck struct {
	EffectID  string `json:"effect_id"`
	OK        bool   `json:"ok"`
	LatencyMs int64  `json:"latency_ms,omitempty"`
	Error     string `json:"error,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

func (a wireAck) toAck(cmd device.Command) (device.Ack, error) {
	if !a.OK {
		return device.Ack{}, fmt.Errorf("%w: %s", ErrNacked, a.Error)
	}
	return device.Ack{
		DeviceID: cmd.DeviceID,
		EffectID: cmd.EffectID,
		Latency:  time.Duration(a.LatencyMs) * time.Millisecond,
		Detail:   a.Detail,
	}, nil
}

// writeCommandLine writes cmd as one JSON line.
func writeCommandLine(w io.Writer, cmd device.Command) error {
	data, err := json.Marshal(encodeCommand(cmd))
	if err != nil {
		return fmt.Errorf("encode command: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return err
	}
	return nil
}

// matchAck decodes line and reports whether it answers cmd.
// Lines that are not JSON acks, or acks for another effect, are skipped.
func matchAck(line []byte, cmd device.Command) (wireAck, bool) {
	var ack wireAck
	if err := json.Unmarshal(line, &ack); err != nil {
		return wireAck{}, false
	}
	return ack, ack.EffectID == cmd.EffectID
}
