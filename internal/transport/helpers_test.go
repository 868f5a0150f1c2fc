package transport

import (
	"time"

	"github.com/nerrad567/playsem-core/internal/device"
	"github.com/nerrad567/playsem-core/internal/effect"
)

func testCommand(deviceID, effectID string) device.Command {
	return device.Command{
		DeviceID: deviceID,
		EffectID: effectID,
		Type:     effect.TypeLight,
		Params:   effect.Params{"intensity": 80.0, "color": "#ff0000"},
		Duration: 250 * time.Millisecond,
		Priority: 5,
		IssuedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}
