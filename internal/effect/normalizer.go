package effect

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Logger defines the logging interface used by the Normalizer.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// RawPayload is an already-decoded effect description in the canonical wire schema:
//
//	type              string, one of the effect types
//	target            device id, or "group:<id>" for a group
//	targetDeviceId    alternative to target
//	targetGroupId     alternative to target
//	params            object, keys depend on type
//	offsetMs          number >= 0 (exclusive with absoluteTimestamp)
//	absoluteTimestamp RFC 3339 string or unix milliseconds
//	durationMs        number >= 0, default 0
//	priority          integer 0-9, default 5
//	oneShot           bool, default false
//	catchUp           bool, default false
//	id                optional client-chosen effect id
type RawPayload map[string]any

// GroupTargetPrefix marks a "target" value as a group id.
const GroupTargetPrefix = "group:"

// maxIDLength bounds client-supplied effect ids.
const maxIDLength = 128

// Sink receives accepted effects. The timeline scheduler implements it.
type Sink interface {
	Submit(e *Effect) error
}

// Normalizer validates raw payloads and turns them into canonical Effects.
// Validation never touches device or network state, so Ingest returns in
// bounded time regardless of what the devices are doing.
//
// A Normalizer is safe for concurrent use as long as its Sink is.
type Normalizer struct {
	sink   Sink
	now    func() time.Time
	newID  func() string
	logger Logger
}

// NewNormalizer creates a Normalizer that forwards accepted effects to sink.
func NewNormalizer(sink Sink) *Normalizer {
	return &Normalizer{
		sink:   sink,
		now:    time.Now,
		newID:  uuid.NewString,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the normalizer.
func (n *Normalizer) SetLogger(logger Logger) {
	n.logger = logger
}

// Ingest validates raw, assigns an id and receipt time, and forwards the
// effect to the sink. It returns the effect id, a *ValidationError, or
// whatever the sink rejected the effect with.
func (n *Normalizer) Ingest(raw RawPayload, meta SourceMeta) (string, error) {
	e, err := n.Normalize(raw, meta)
	if err != nil {
		n.logger.Debug("effect rejected",
			"protocol", meta.Protocol,
			"origin", meta.Origin,
			"reason", ReasonOf(err),
			"error", err,
		)
		return "", err
	}

	if err := n.sink.Submit(e); err != nil {
		return "", err
	}

	n.logger.Debug("effect accepted",
		"effect_id", e.ID,
		"type", e.Type,
		"target", e.Target(),
		"protocol", meta.Protocol,
	)
	return e.ID, nil
}

// IngestJSON decodes a JSON object and ingests it.
func (n *Normalizer) IngestJSON(data []byte, meta SourceMeta) (string, error) {
	raw, err := DecodeJSON(data)
	if err != nil {
		return "", err
	}
	return n.Ingest(raw, meta)
}

// DecodeJSON decodes a JSON object into a RawPayload.
func DecodeJSON(data []byte) (RawPayload, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw RawPayload
	if err := dec.Decode(&raw); err != nil {
		return nil, invalid(ReasonMalformedPayload, "", "decoding JSON: %v", err)
	}
	if raw == nil {
		return nil, invalid(ReasonMalformedPayload, "", "payload must be a JSON object")
	}
	return raw, nil
}

// Normalize validates raw and builds the canonical Effect without forwarding it.
func (n *Normalizer) Normalize(raw RawPayload, meta SourceMeta) (*Effect, error) {
	if raw == nil {
		return nil, invalid(ReasonMalformedPayload, "", "payload is empty")
	}

	e := &Effect{
		Priority: DefaultPriority,
		Source:   meta,
	}

	id, err := parseID(raw)
	if err != nil {
		return nil, err
	}
	if id == "" {
		id = n.newID()
	}
	e.ID = id

	typ, ok := raw["type"].(string)
	if !ok || !Type(typ).Valid() {
		return nil, invalid(ReasonUnknownType, "type", "unknown effect type %v", raw["type"])
	}
	e.Type = Type(typ)

	if err := parseTarget(raw, e); err != nil {
		return nil, err
	}

	params, err := parseParams(e.Type, raw["params"])
	if err != nil {
		return nil, err
	}
	e.Params = params

	trigger, err := parseTrigger(raw)
	if err != nil {
		return nil, err
	}
	e.Trigger = trigger

	if v, present := raw["durationMs"]; present {
		f, ok := toFloat(v)
		if !ok || f < 0 || math.IsInf(f, 0) || math.IsNaN(f) {
			return nil, invalid(ReasonInvalidDuration, "durationMs", "must be a non-negative number")
		}
		if f > MaxMillis {
			return nil, invalid(ReasonInvalidDuration, "durationMs", "must not exceed %.0f", MaxMillis)
		}
		e.Duration = msToDuration(f)
	}

	if v, present := raw["priority"]; present {
		f, ok := toFloat(v)
		if !ok || f != math.Trunc(f) || f < MinPriority || f > MaxPriority {
			return nil, invalid(ReasonPriorityOutOfRange, "priority", "must be an integer between %d and %d", MinPriority, MaxPriority)
		}
		e.Priority = int(f)
	}

	if e.OneShot, err = parseFlag(raw, "oneShot"); err != nil {
		return nil, err
	}
	if e.CatchUp, err = parseFlag(raw, "catchUp"); err != nil {
		return nil, err
	}

	e.ReceivedAt = n.now().UTC()
	e.SetStatus(StatusPending)
	return e, nil
}

func parseID(raw RawPayload) (string, error) {
	v, present := raw["id"]
	if !present || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" || len(s) > maxIDLength {
		return "", invalid(ReasonInvalidID, "id", "must be a non-empty string of at most %d characters", maxIDLength)
	}
	return s, nil
}

func parseTarget(raw RawPayload, e *Effect) error {
	var device, group string
	count := 0

	if v, present := raw["target"]; present {
		s, ok := v.(string)
		if !ok {
			return invalid(ReasonMissingTarget, "target", "must be a string")
		}
		if s = strings.TrimSpace(s); s != "" {
			count++
			if strings.HasPrefix(s, GroupTargetPrefix) {
				group = strings.TrimPrefix(s, GroupTargetPrefix)
			} else {
				device = s
			}
		}
	}
	for _, key := range []string{"targetDeviceId", "targetGroupId"} {
		v, present := raw[key]
		if !present {
			continue
		}
		s, ok := v.(string)
		if !ok {
			return invalid(ReasonMissingTarget, key, "must be a string")
		}
		if s = strings.TrimSpace(s); s == "" {
			continue
		}
		count++
		if key == "targetDeviceId" {
			device = s
		} else {
			group = s
		}
	}

	switch {
	case count == 0:
		return invalid(ReasonMissingTarget, "target", "a device or group target is required")
	case count > 1:
		return invalid(ReasonAmbiguousTarget, "target", "exactly one of target, targetDeviceId, targetGroupId may be set")
	case device == "" && group == "":
		return invalid(ReasonMissingTarget, "target", "group id is empty")
	}

	e.TargetDeviceID = device
	e.TargetGroupID = group
	return nil
}

func parseParams(t Type, v any) (Params, error) {
	var in map[string]any
	switch p := v.(type) {
	case nil:
		in = map[string]any{}
	case map[string]any:
		in = p
	case RawPayload:
		in = p
	default:
		return nil, invalid(ReasonInvalidParam, "params", "must be an object")
	}

	out := make(Params, len(in))
	checked := make(map[string]bool)
	for _, rule := range paramRules[t] {
		checked[rule.key] = true
		val, present := in[rule.key]
		if !present || val == nil {
			if rule.required {
				return nil, invalid(ReasonMissingParam, "params."+rule.key, "required for %s effects", t)
			}
			continue
		}
		canon, err := rule.check(val)
		if err != nil {
			return nil, invalid(ReasonInvalidParam, "params."+rule.key, "%v", err)
		}
		out[rule.key] = canon
	}

	for k, val := range in {
		if checked[k] {
			continue
		}
		canon, ok := canonicalScalar(val)
		if !ok {
			return nil, invalid(ReasonInvalidParam, "params."+k, "must be a string, number or boolean")
		}
		out[k] = canon
	}
	return out, nil
}

func parseTrigger(raw RawPayload) (Trigger, error) {
	offset, hasOffset := raw["offsetMs"]
	abs, hasAbs := raw["absoluteTimestamp"]
	hasOffset = hasOffset && offset != nil
	hasAbs = hasAbs && abs != nil

	switch {
	case hasOffset && hasAbs:
		return Trigger{}, invalid(ReasonAmbiguousTrigger, "offsetMs", "offsetMs and absoluteTimestamp are mutually exclusive")
	case hasOffset:
		f, ok := toFloat(offset)
		if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
			return Trigger{}, invalid(ReasonInvalidTrigger, "offsetMs", "must be a number")
		}
		if f < 0 {
			return Trigger{}, invalid(ReasonNegativeTrigger, "offsetMs", "must not be negative")
		}
		if f > MaxMillis {
			return Trigger{}, invalid(ReasonInvalidTrigger, "offsetMs", "must not exceed %.0f", MaxMillis)
		}
		return Trigger{Offset: msToDuration(f)}, nil
	case hasAbs:
		ts, err := parseTimestamp(abs)
		if err != nil {
			return Trigger{}, err
		}
		return Trigger{Absolute: &ts}, nil
	default:
		return Trigger{}, nil
	}
}

func parseTimestamp(v any) (time.Time, error) {
	if s, ok := v.(string); ok {
		ts, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, invalid(ReasonInvalidTrigger, "absoluteTimestamp", "must be RFC 3339: %v", err)
		}
		return ts.UTC(), nil
	}
	f, ok := toFloat(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}, invalid(ReasonInvalidTrigger, "absoluteTimestamp", "must be an RFC 3339 string or unix milliseconds")
	}
	if f < 0 {
		return time.Time{}, invalid(ReasonNegativeTrigger, "absoluteTimestamp", "must not be negative")
	}
	if f > MaxMillis {
		return time.Time{}, invalid(ReasonInvalidTrigger, "absoluteTimestamp", "must not exceed %.0f", MaxMillis)
	}
	return time.UnixMilli(int64(f)).UTC(), nil
}

func parseFlag(raw RawPayload, key string) (bool, error) {
	v, present := raw[key]
	if !present || v == nil {
		return false, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, invalid(ReasonInvalidFlag, key, "must be a boolean")
	}
	return b, nil
}

// MaxMillis is the largest millisecond value that converts to a
// time.Duration without overflowing.
const MaxMillis = float64(math.MaxInt64 / int64(time.Millisecond))

func msToDuration(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}
