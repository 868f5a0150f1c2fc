package effect

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type recordingSink struct {
	mu      sync.Mutex
	effects []*Effect
	err     error
}

func (s *recordingSink) Submit(e *Effect) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.effects = append(s.effects, e)
	return nil
}

func newTestNormalizer(sink Sink) *Normalizer {
	n := NewNormalizer(sink)
	n.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return n
}

func TestIngest_Accepted(t *testing.T) {
	sink := &recordingSink{}
	n := newTestNormalizer(sink)

	id, err := n.Ingest(RawPayload{
		"type":       "light",
		"target":     "dev2",
		"params":     map[string]any{"intensity": 80, "color": "#ff8800"},
		"offsetMs":   100,
		"durationMs": 250,
	}, SourceMeta{Protocol: "http"})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if id == "" {
		t.Fatal("Ingest() returned empty id")
	}
	if len(sink.effects) != 1 {
		t.Fatalf("sink received %d effects, want 1", len(sink.effects))
	}

	e := sink.effects[0]
	if e.ID != id {
		t.Errorf("effect ID = %q, want %q", e.ID, id)
	}
	if e.Type != TypeLight {
		t.Errorf("Type = %q, want light", e.Type)
	}
	if e.TargetDeviceID != "dev2" || e.TargetGroupID != "" {
		t.Errorf("target = (%q, %q), want device dev2", e.TargetDeviceID, e.TargetGroupID)
	}
	if e.Trigger.Offset != 100*time.Millisecond {
		t.Errorf("Trigger.Offset = %v, want 100ms", e.Trigger.Offset)
	}
	if e.Duration != 250*time.Millisecond {
		t.Errorf("Duration = %v, want 250ms", e.Duration)
	}
	if e.Priority != DefaultPriority {
		t.Errorf("Priority = %d, want default %d", e.Priority, DefaultPriority)
	}
	if f, _ := e.Params.Float("intensity"); f != 80 {
		t.Errorf("intensity = %v, want 80 as float64", e.Params["intensity"])
	}
	if e.Status() != StatusPending {
		t.Errorf("Status() = %v, want pending", e.Status())
	}
	if e.ReceivedAt.IsZero() {
		t.Error("ReceivedAt not set")
	}
	if e.Source.Protocol != "http" {
		t.Errorf("Source.Protocol = %q, want http", e.Source.Protocol)
	}
}

func TestIngest_UniqueIDs(t *testing.T) {
	sink := &recordingSink{}
	n := NewNormalizer(sink)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := n.Ingest(RawPayload{"type": "generic", "target": "d"}, SourceMeta{})
		if err != nil {
			t.Fatalf("Ingest() error = %v", err)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestIngest_ClientSuppliedID(t *testing.T) {
	sink := &recordingSink{}
	n := newTestNormalizer(sink)

	id, err := n.Ingest(RawPayload{"id": "cue-17", "type": "generic", "target": "d"}, SourceMeta{})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if id != "cue-17" {
		t.Errorf("id = %q, want cue-17", id)
	}
}

func TestIngest_SinkErrorPropagates(t *testing.T) {
	errFull := errors.New("full")
	n := newTestNormalizer(&recordingSink{err: errFull})

	_, err := n.Ingest(RawPayload{"type": "generic", "target": "d"}, SourceMeta{})
	if !errors.Is(err, errFull) {
		t.Errorf("Ingest() error = %v, want sink error", err)
	}
}

func TestIngest_GroupTargets(t *testing.T) {
	tests := []struct {
		name       string
		raw        RawPayload
		wantDevice string
		wantGroup  string
	}{
		{
			name:      "group prefix",
			raw:       RawPayload{"type": "generic", "target": "group:front-row"},
			wantGroup: "front-row",
		},
		{
			name:      "explicit group field",
			raw:       RawPayload{"type": "generic", "targetGroupId": "seats"},
			wantGroup: "seats",
		},
		{
			name:       "explicit device field",
			raw:        RawPayload{"type": "generic", "targetDeviceId": "fan-1"},
			wantDevice: "fan-1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := newTestNormalizer(&recordingSink{}).Normalize(tt.raw, SourceMeta{})
			if err != nil {
				t.Fatalf("Normalize() error = %v", err)
			}
			if e.TargetDeviceID != tt.wantDevice || e.TargetGroupID != tt.wantGroup {
				t.Errorf("target = (%q, %q), want (%q, %q)", e.TargetDeviceID, e.TargetGroupID, tt.wantDevice, tt.wantGroup)
			}
		})
	}
}

func TestNormalize_Rejections(t *testing.T) {
	tests := []struct {
		name       string
		raw        RawPayload
		wantReason string
	}{
		{"nil payload", nil, ReasonMalformedPayload},
		{"unknown type", RawPayload{"type": "smell-o-vision", "target": "d"}, ReasonUnknownType},
		{"missing type", RawPayload{"target": "d"}, ReasonUnknownType},
		{"missing target", RawPayload{"type": "generic"}, ReasonMissingTarget},
		{"blank target", RawPayload{"type": "generic", "target": "  "}, ReasonMissingTarget},
		{"non-string target", RawPayload{"type": "generic", "target": 7}, ReasonMissingTarget},
		{"empty group prefix", RawPayload{"type": "generic", "target": "group:"}, ReasonMissingTarget},
		{"two targets", RawPayload{"type": "generic", "target": "a", "targetGroupId": "b"}, ReasonAmbiguousTarget},
		{"vibration without intensity", RawPayload{"type": "vibration", "target": "d"}, ReasonMissingParam},
		{"light intensity too high", RawPayload{"type": "light", "target": "d", "params": map[string]any{"intensity": 101}}, ReasonInvalidParam},
		{"light bad colour", RawPayload{"type": "light", "target": "d", "params": map[string]any{"intensity": 1, "color": "red"}}, ReasonInvalidParam},
		{"wind speed not a number", RawPayload{"type": "wind", "target": "d", "params": map[string]any{"speed": "fast"}}, ReasonInvalidParam},
		{"scent without scent", RawPayload{"type": "scent", "target": "d", "params": map[string]any{}}, ReasonMissingParam},
		{"params not an object", RawPayload{"type": "generic", "target": "d", "params": "x"}, ReasonInvalidParam},
		{"nested param value", RawPayload{"type": "generic", "target": "d", "params": map[string]any{"x": []any{1}}}, ReasonInvalidParam},
		{"negative offset", RawPayload{"type": "generic", "target": "d", "offsetMs": -1}, ReasonNegativeTrigger},
		{"offset not a number", RawPayload{"type": "generic", "target": "d", "offsetMs": "soon"}, ReasonInvalidTrigger},
		{"negative absolute", RawPayload{"type": "generic", "target": "d", "absoluteTimestamp": -5}, ReasonNegativeTrigger},
		{"bad absolute string", RawPayload{"type": "generic", "target": "d", "absoluteTimestamp": "tomorrow"}, ReasonInvalidTrigger},
		{"both triggers", RawPayload{"type": "generic", "target": "d", "offsetMs": 1, "absoluteTimestamp": 5}, ReasonAmbiguousTrigger},
		{"negative duration", RawPayload{"type": "generic", "target": "d", "durationMs": -10}, ReasonInvalidDuration},
		{"duration overflows", RawPayload{"type": "generic", "target": "d", "durationMs": 1e300}, ReasonInvalidDuration},
		{"offset overflows", RawPayload{"type": "generic", "target": "d", "offsetMs": 1e13}, ReasonInvalidTrigger},
		{"absolute overflows", RawPayload{"type": "generic", "target": "d", "absoluteTimestamp": 1e300}, ReasonInvalidTrigger},
		{"priority too high", RawPayload{"type": "generic", "target": "d", "priority": 10}, ReasonPriorityOutOfRange},
		{"priority negative", RawPayload{"type": "generic", "target": "d", "priority": -1}, ReasonPriorityOutOfRange},
		{"priority fractional", RawPayload{"type": "generic", "target": "d", "priority": 4.5}, ReasonPriorityOutOfRange},
		{"oneShot not bool", RawPayload{"type": "generic", "target": "d", "oneShot": "yes"}, ReasonInvalidFlag},
		{"empty id", RawPayload{"id": "", "type": "generic", "target": "d"}, ReasonInvalidID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &recordingSink{}
			_, err := newTestNormalizer(sink).Ingest(tt.raw, SourceMeta{})
			if err == nil {
				t.Fatal("Ingest() error = nil, want validation error")
			}
			if !errors.Is(err, ErrValidation) {
				t.Errorf("errors.Is(err, ErrValidation) = false for %v", err)
			}
			if got := ReasonOf(err); got != tt.wantReason {
				t.Errorf("reason = %q, want %q (err: %v)", got, tt.wantReason, err)
			}
			if len(sink.effects) != 0 {
				t.Error("rejected effect reached the sink")
			}
		})
	}
}

func TestNormalize_AbsoluteTimestamp(t *testing.T) {
	n := newTestNormalizer(&recordingSink{})

	e, err := n.Normalize(RawPayload{
		"type":              "generic",
		"target":            "d",
		"absoluteTimestamp": "2026-03-01T12:00:01.5Z",
	}, SourceMeta{})
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if !e.Trigger.IsAbsolute() {
		t.Fatal("trigger should be absolute")
	}
	want := time.Date(2026, 3, 1, 12, 0, 1, 500_000_000, time.UTC)
	if !e.Trigger.Absolute.Equal(want) {
		t.Errorf("Absolute = %v, want %v", e.Trigger.Absolute, want)
	}

	e, err = n.Normalize(RawPayload{
		"type":              "generic",
		"target":            "d",
		"absoluteTimestamp": float64(want.UnixMilli()),
	}, SourceMeta{})
	if err != nil {
		t.Fatalf("Normalize() unix ms error = %v", err)
	}
	if !e.Trigger.Absolute.Equal(want) {
		t.Errorf("Absolute from unix ms = %v, want %v", e.Trigger.Absolute, want)
	}
}

func TestIngestJSON(t *testing.T) {
	sink := &recordingSink{}
	n := newTestNormalizer(sink)

	id, err := n.IngestJSON([]byte(`{"type":"vibration","target":"dev1","params":{"intensity":40},"offsetMs":500,"priority":9,"oneShot":true}`), SourceMeta{Protocol: "mqtt"})
	if err != nil {
		t.Fatalf("IngestJSON() error = %v", err)
	}
	e := sink.effects[0]
	if e.ID != id || e.Priority != 9 || !e.OneShot {
		t.Errorf("effect = %+v, want priority 9 one-shot", e.View())
	}
	if f, ok := e.Params.Float("intensity"); !ok || f != 40 {
		t.Errorf("intensity = %v, want 40", e.Params["intensity"])
	}

	_, err = n.IngestJSON([]byte(`{"type":`), SourceMeta{})
	if ReasonOf(err) != ReasonMalformedPayload {
		t.Errorf("truncated JSON reason = %q, want %q", ReasonOf(err), ReasonMalformedPayload)
	}

	_, err = n.IngestJSON([]byte(`null`), SourceMeta{})
	if ReasonOf(err) != ReasonMalformedPayload {
		t.Errorf("null JSON reason = %q, want %q", ReasonOf(err), ReasonMalformedPayload)
	}
}

func TestRequiredParams(t *testing.T) {
	tests := []struct {
		typ  Type
		want []string
	}{
		{TypeVibration, []string{"intensity"}},
		{TypeLight, []string{"intensity"}},
		{TypeWind, []string{"speed"}},
		{TypeScent, []string{"scent"}},
		{TypeGeneric, nil},
	}
	for _, tt := range tests {
		got := RequiredParams(tt.typ)
		if len(got) != len(tt.want) {
			t.Errorf("RequiredParams(%s) = %v, want %v", tt.typ, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("RequiredParams(%s) = %v, want %v", tt.typ, got, tt.want)
			}
		}
	}
}
