package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/playsem-core/internal/activity"
	"github.com/nerrad567/playsem-core/internal/timeline"
)

// Measurement names.
const (
	MeasurementDispatch = "effect_dispatch"
	MeasurementTimeline = "timeline_transition"
	MeasurementIngest   = "effect_ingest"
)

// Record writes one activity record. It implements activity.Sink, so the
// client can be attached with activity.Log.AddSink.
func (c *Client) Record(rec activity.Record) {
	c.write(outcomePoint(rec))
}

// WriteTransition writes a timeline state change or seek.
func (c *Client) WriteTransition(t timeline.Transition) {
	c.write(transitionPoint(t))
}

// WriteIngest records one ingest attempt on protocol. An empty reason
// means the effect was accepted.
func (c *Client) WriteIngest(protocol, reason string) {
	c.write(ingestPoint(protocol, reason, time.Now()))
}

// outcomePoint maps an activity record to a point. Effect and record ids
// are fields, not tags, to keep series cardinality bounded.
func outcomePoint(rec activity.Record) *write.Point {
	tags := map[string]string{
		"outcome": string(rec.Outcome),
	}
	if rec.EffectType != "" {
		tags["effect_type"] = rec.EffectType
	}
	if rec.DeviceID != "" {
		tags["device_id"] = rec.DeviceID
	}
	if rec.Reason != "" {
		tags["reason"] = rec.Reason
	}

	fields := map[string]interface{}{
		"effect_id":  rec.EffectID,
		"latency_ms": rec.LatencyMs,
		"attempts":   rec.Attempts,
	}
	if rec.DropCount > 0 {
		fields["drop_count"] = int64(rec.DropCount) // #nosec G115 -- drop counts are far below MaxInt64
	}

	ts := rec.AttemptedAt
	if ts.IsZero() {
		ts = rec.RecordedAt
	}
	return write.NewPoint(MeasurementDispatch, tags, fields, ts)
}

func transitionPoint(t timeline.Transition) *write.Point {
	return write.NewPoint(
		MeasurementTimeline,
		map[string]string{
			"action": t.Action,
			"to":     string(t.To),
		},
		map[string]interface{}{
			"from":        string(t.From),
			"playhead_ms": t.Playhead.Milliseconds(),
		},
		t.At,
	)
}

func ingestPoint(protocol, reason string, at time.Time) *write.Point {
	result := "accepted"
	if reason != "" {
		result = reason
	}
	return write.NewPoint(
		MeasurementIngest,
		map[string]string{"protocol": protocol, "result": result},
		map[string]interface{}{"count": 1},
		at,
	)
}
