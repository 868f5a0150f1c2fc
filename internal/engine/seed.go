package engine

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/nerrad567/playsem-core/internal/device"
	"github.com/nerrad567/playsem-core/internal/effect"
	"github.com/nerrad567/playsem-core/internal/infrastructure/config"
)

// DevicesFromConfig converts seed declarations into device descriptors.
func DevicesFromConfig(seeds []config.DeviceSeed) []*device.Device {
	out := make([]*device.Device, 0, len(seeds))
	for _, s := range seeds {
		caps := make([]effect.Type, 0, len(s.Capabilities))
		for _, c := range s.Capabilities {
			caps = append(caps, effect.Type(c))
		}
		out = append(out, &device.Device{
			ID:           s.ID,
			Name:         s.Name,
			Capabilities: caps,
			Transport:    device.TransportKind(s.Transport),
			Address:      device.Address(s.Address),
		})
	}
	return out
}

// GroupsFromConfig converts seed declarations into groups.
func GroupsFromConfig(seeds []config.GroupSeed) []*device.Group {
	out := make([]*device.Group, 0, len(seeds))
	for _, s := range seeds {
		out = append(out, &device.Group{ID: s.ID, Name: s.Name, Members: slices.Clone(s.Members)})
	}
	return out
}

// Seed registers devices and groups declared in configuration.
//
// Seeding is idempotent: a device that is already registered with the same
// descriptor is left alone, one whose descriptor changed is re-registered,
// and an existing group has its members replaced.
func Seed(ctx context.Context, reg *device.Registry, devices []*device.Device, groups []*device.Group, logger Logger) error {
	if logger == nil {
		logger = noopLogger{}
	}

	for _, d := range devices {
		existing, err := reg.Lookup(d.ID)
		if err == nil {
			if sameDescriptor(existing, d) {
				logger.Debug("seed device already registered", "id", d.ID)
				continue
			}
			if err := reg.Deregister(ctx, d.ID); err != nil {
				return fmt.Errorf("replacing seed device %s: %w", d.ID, err)
			}
			logger.Info("seed device changed, re-registering", "id", d.ID)
		}
		if err := reg.Register(ctx, d); err != nil {
			return fmt.Errorf("registering seed device %s: %w", d.ID, err)
		}
	}

	for _, g := range groups {
		err := reg.CreateGroup(ctx, g)
		if errors.Is(err, device.ErrGroupExists) {
			err = reg.SetGroupMembers(ctx, g.ID, g.Members)
		}
		if err != nil {
			return fmt.Errorf("seeding group %s: %w", g.ID, err)
		}
	}

	logger.Info("seed configuration applied", "devices", len(devices), "groups", len(groups))
	return nil
}

func sameDescriptor(a, b *device.Device) bool {
	return a.Name == b.Name &&
		a.Transport == b.Transport &&
		slices.Equal(a.Capabilities, b.Capabilities) &&
		maps.Equal(a.Address, b.Address)
}
