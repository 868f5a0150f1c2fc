// Package influxdb writes PlaySEM dispatch history to InfluxDB.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, batched non-blocking writes and health monitoring.
//
// # Purpose
//
// Every terminal activity record becomes one effect_dispatch point
// (tags: outcome, effect_type, device_id, reason; fields: effect_id,
// latency_ms, attempts, drop_count), and every timeline transition one
// timeline_transition point. Ingest attempts from every protocol become
// effect_ingest points (tags: protocol, result). Dispatch latency, failure
// and rejection rates can then be graphed over time. The in-memory activity log only keeps recent history.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	activityLog.AddSink(client)
//	eng.OnTransition(client.WriteTransition)
//	api.Deps{OnIngest: func(p string, err error) { client.WriteIngest(p, ingress.ReasonOf(err)) }}
//
// # Error Handling
//
// Write operations are non-blocking; batch errors are delivered to the
// SetOnError callback. Connection and health check errors are returned
// directly.
package influxdb
