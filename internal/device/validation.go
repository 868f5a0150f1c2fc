package device

import (
	"fmt"
	"regexp"

	"github.com/nerrad567/playsem-core/internal/effect"
)

// Validation constants.
const (
	maxIDLength       = 64
	maxNameLength     = 100
	maxAddressKeys    = 20
	maxStringValueLen = 256
	maxGroupMembers   = 256
)

// ids are used in MQTT topics and URLs, so keep them to a safe alphabet.
var idRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:-]*$`)

// requiredAddressKeys lists the address keys each transport cannot work without.
var requiredAddressKeys = map[TransportKind][]string{
	TransportSerial:    {"port"},
	TransportTCP:       {"host", "port"},
	TransportBluetooth: {"mac"},
}

var validTransports map[TransportKind]struct{}

func init() {
	validTransports = make(map[TransportKind]struct{}, len(AllTransportKinds()))
	for _, t := range AllTransportKinds() {
		validTransports[t] = struct{}{}
	}
}

// ValidateID checks a device or group identifier.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidDevice)
	}
	if len(id) > maxIDLength {
		return fmt.Errorf("%w: id exceeds %d characters", ErrInvalidDevice, maxIDLength)
	}
	if !idRegex.MatchString(id) {
		return fmt.Errorf("%w: id %q contains invalid characters", ErrInvalidDevice, id)
	}
	return nil
}

// ValidateDevice performs validation on a device before registration.
// Returns an error describing the first validation failure found.
func ValidateDevice(d *Device) error {
	if d == nil {
		return ErrInvalidDevice
	}

	if err := ValidateID(d.ID); err != nil {
		return err
	}

	if len(d.Name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, maxNameLength)
	}

	if _, ok := validTransports[d.Transport]; !ok {
		return fmt.Errorf("%w: %q", ErrInvalidTransport, d.Transport)
	}

	if len(d.Capabilities) == 0 {
		return fmt.Errorf("%w: at least one capability is required", ErrInvalidCapability)
	}
	seen := make(map[effect.Type]bool, len(d.Capabilities))
	for _, c := range d.Capabilities {
		if !c.Valid() {
			return fmt.Errorf("%w: %q", ErrInvalidCapability, c)
		}
		if seen[c] {
			return fmt.Errorf("%w: %q listed twice", ErrInvalidCapability, c)
		}
		seen[c] = true
	}

	return ValidateAddress(d.Transport, d.Address)
}

// ValidateAddress checks that addr carries what transport needs.
func ValidateAddress(transport TransportKind, addr Address) error {
	if len(addr) > maxAddressKeys {
		return fmt.Errorf("%w: exceeds max keys (%d)", ErrInvalidAddress, maxAddressKeys)
	}
	for k, v := range addr {
		if len(v) > maxStringValueLen {
			return fmt.Errorf("%w: value for %q too long", ErrInvalidAddress, k)
		}
	}
	for _, key := range requiredAddressKeys[transport] {
		if addr[key] == "" {
			return fmt.Errorf("%w: %s transport requires %q", ErrInvalidAddress, transport, key)
		}
	}
	return nil
}

// ValidateGroup checks a group definition.
func ValidateGroup(g *Group) error {
	if g == nil {
		return ErrInvalidGroup
	}
	if err := ValidateID(g.ID); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidGroup, err)
	}
	if len(g.Name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidGroup, maxNameLength)
	}
	return ValidateMembers(g.Members)
}

// ValidateMembers checks a group member list.
func ValidateMembers(members []string) error {
	if len(members) > maxGroupMembers {
		return fmt.Errorf("%w: more than %d members", ErrInvalidGroup, maxGroupMembers)
	}
	seen := make(map[string]bool, len(members))
	for _, m := range members {
		if err := ValidateID(m); err != nil {
			return fmt.Errorf("%w: member: %v", ErrInvalidGroup, err)
		}
		if seen[m] {
			return fmt.Errorf("%w: member %q listed twice", ErrInvalidGroup, m)
		}
		seen[m] = true
	}
	return nil
}

// ParseCapabilities converts capability names into effect types.
func ParseCapabilities(names []string) ([]effect.Type, error) {
	caps := make([]effect.Type, 0, len(names))
	for _, n := range names {
		t := effect.Type(n)
		if !t.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrInvalidCapability, n)
		}
		caps = append(caps, t)
	}
	return caps, nil
}
