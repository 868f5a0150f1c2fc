// Package dispatch renders released effects on devices.
//
// A Pool implements timeline.Dispatcher. Dispatch only enqueues (it never
// blocks the tick loop); a fixed set of workers then:
//
//  1. resolves the effect's target against the registry at dispatch time
//     (a device id, or the current members of a group),
//  2. sends to every resolved device in parallel, holding an exclusive
//     per-device slot around each Send,
//  3. retries transient failures with exponential backoff,
//  4. appends one terminal activity record per target.
//
// Resolution failures (unknown target, capability mismatch, no connected
// device) are recorded immediately and never retried.
package dispatch
