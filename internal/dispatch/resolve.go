package dispatch

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nerrad567/playsem-core/internal/activity"
	"github.com/nerrad567/playsem-core/internal/device"
	"github.com/nerrad567/playsem-core/internal/effect"
)

// resolve turns an effect's target into the Connected, capable devices to
// send to, plus a failure for every target that cannot be attempted.
//
// Group members that cannot render the effect type are skipped silently
// (a group may mix lights and fans); only a group where no member is
// capable is a capability mismatch.
func (p *Pool) resolve(e *effect.Effect) ([]string, []resolveFailure) {
	if !e.IsGroupTarget() {
		return p.resolveDevice(e)
	}
	return p.resolveGroup(e)
}

func (p *Pool) resolveDevice(e *effect.Effect) ([]string, []resolveFailure) {
	id := e.TargetDeviceID
	dev, err := p.registry.Lookup(id)
	if err != nil {
		return nil, []resolveFailure{unknownTarget(id, "device", err)}
	}
	if !dev.HasCapability(e.Type) {
		return nil, []resolveFailure{{
			deviceID: id,
			reason:   activity.ReasonCapabilityMismatch,
			err:      fmt.Errorf("%w: %s cannot render %s", ErrCapabilityMismatch, id, e.Type),
		}}
	}
	if dev.State != device.StateConnected {
		return nil, []resolveFailure{unavailable(id, dev.State)}
	}
	return []string{id}, nil
}

func (p *Pool) resolveGroup(e *effect.Effect) ([]string, []resolveFailure) {
	gid := e.TargetGroupID
	members, err := p.registry.GroupMembers(gid)
	if err != nil {
		return nil, []resolveFailure{unknownTarget("", "group "+gid, err)}
	}

	var (
		known     int
		capable   []*device.Device
		connected []string
		failures  []resolveFailure
	)
	for _, id := range members {
		dev, err := p.registry.Lookup(id)
		if err != nil {
			// Members are not foreign keys; a deregistered device is just absent.
			continue
		}
		known++
		if dev.HasCapability(e.Type) {
			capable = append(capable, dev)
		}
	}

	if known > 0 && len(capable) == 0 {
		return nil, []resolveFailure{{
			reason: activity.ReasonCapabilityMismatch,
			err:    fmt.Errorf("%w: no member of group %s can render %s", ErrCapabilityMismatch, gid, e.Type),
		}}
	}

	for _, dev := range capable {
		if dev.State == device.StateConnected {
			connected = append(connected, dev.ID)
			continue
		}
		failures = append(failures, unavailable(dev.ID, dev.State))
	}

	if len(connected) == 0 {
		states := make([]string, 0, len(capable))
		for _, dev := range capable {
			states = append(states, dev.ID+"="+string(dev.State))
		}
		err := fmt.Errorf("%w: group %s has no connected members [%s]",
			ErrDeviceUnavailable, gid, strings.Join(states, " "))
		return nil, []resolveFailure{{reason: activity.ReasonDeviceUnavailable, err: err}}
	}

	return connected, failures
}

func unknownTarget(deviceID, what string, err error) resolveFailure {
	if errors.Is(err, device.ErrDeviceNotFound) || errors.Is(err, device.ErrGroupNotFound) {
		err = fmt.Errorf("%w: %s", ErrUnknownTarget, what)
		if deviceID != "" {
			err = fmt.Errorf("%w: device %s", ErrUnknownTarget, deviceID)
		}
	}
	return resolveFailure{deviceID: deviceID, reason: activity.ReasonUnknownTarget, err: err}
}

func unavailable(id string, state device.ConnectionState) resolveFailure {
	return resolveFailure{
		deviceID: id,
		reason:   activity.ReasonDeviceUnavailable,
		err:      fmt.Errorf("%w: %s is %s", ErrDeviceUnavailable, id, state),
	}
}
