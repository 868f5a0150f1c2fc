// Package activity is the append-only, in-memory log of terminal effect
// outcomes.
//
// Every effect that leaves the timeline ends here exactly once per target
// device (or once without a device when it never reached one): delivered,
// failed with a dispatch reason, or dropped by the scheduler. The log keeps
// the newest entries up to its capacity, tallies outcomes per device, and
// fans each record out to registered sinks (metrics, InfluxDB, the
// WebSocket feed).
package activity
