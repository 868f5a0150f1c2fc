package device

import (
	"errors"
	"strings"
	"testing"

	"github.com/nerrad567/playsem-core/internal/effect"
)

func TestValidateDevice(t *testing.T) {
	tests := []struct {
		name    string
		dev     *Device
		wantErr error
	}{
		{"nil", nil, ErrInvalidDevice},
		{"valid mock", testDevice("sim-1", TransportMock, effect.TypeLight), nil},
		{"empty id", testDevice("", TransportMock, effect.TypeLight), ErrInvalidDevice},
		{"id with slash", testDevice("a/b", TransportMock, effect.TypeLight), ErrInvalidDevice},
		{"id too long", testDevice(strings.Repeat("x", 65), TransportMock, effect.TypeLight), ErrInvalidDevice},
		{"id with colon and dot", testDevice("room.1:fan", TransportMock, effect.TypeWind), nil},
		{"bad transport", testDevice("d", TransportKind("zigbee"), effect.TypeLight), ErrInvalidTransport},
		{"no capabilities", testDevice("d", TransportMock), ErrInvalidCapability},
		{"duplicate capability", testDevice("d", TransportMock, effect.TypeLight, effect.TypeLight), ErrInvalidCapability},
		{"serial needs port", testDevice("d", TransportSerial, effect.TypeVibration), ErrInvalidAddress},
		{"tcp needs host and port", &Device{ID: "d", Transport: TransportTCP, Capabilities: []effect.Type{effect.TypeWind}, Address: Address{"host": "h"}}, ErrInvalidAddress},
		{"bluetooth with mac", &Device{ID: "d", Transport: TransportBluetooth, Capabilities: []effect.Type{effect.TypeScent}, Address: Address{"mac": "AA:BB"}}, nil},
		{"name too long", &Device{ID: "d", Name: strings.Repeat("n", 101), Transport: TransportMock, Capabilities: []effect.Type{effect.TypeLight}}, ErrInvalidName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDevice(tt.dev)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateDevice() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateDevice() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateGroup(t *testing.T) {
	tests := []struct {
		name    string
		group   *Group
		wantErr bool
	}{
		{"nil", nil, true},
		{"empty members", &Group{ID: "g"}, false},
		{"members", &Group{ID: "g", Members: []string{"a", "b"}}, false},
		{"bad id", &Group{ID: "has space"}, true},
		{"bad member", &Group{ID: "g", Members: []string{"ok", "not ok"}}, true},
		{"duplicate member", &Group{ID: "g", Members: []string{"a", "a"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateGroup(tt.group)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateGroup() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidGroup) {
				t.Errorf("ValidateGroup() error = %v, want ErrInvalidGroup", err)
			}
		})
	}
}

func TestParseCapabilities(t *testing.T) {
	caps, err := ParseCapabilities([]string{"vibration", "light"})
	if err != nil {
		t.Fatalf("ParseCapabilities() error = %v", err)
	}
	if len(caps) != 2 || caps[0] != effect.TypeVibration {
		t.Errorf("ParseCapabilities() = %v, want [vibration light]", caps)
	}

	if _, err := ParseCapabilities([]string{"smell-o-vision"}); !errors.Is(err, ErrInvalidCapability) {
		t.Errorf("ParseCapabilities(unknown) error = %v, want ErrInvalidCapability", err)
	}
}
