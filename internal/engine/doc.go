// Package engine wires the PlaySEM core together.
//
// An Engine owns one Normalizer, one timeline Scheduler and one dispatch
// Pool, all sharing a device Registry and an activity Log:
//
//	adapter -> Engine.Ingest -> Normalizer -> Scheduler -> Pool -> Registry.Send
//	                                              |          |
//	                                              +-> activity.Log <-+
//
// Effects dropped by the timeline (overflow, seek, stop, dispatch
// rejection) are recorded in the activity log by the engine, so every
// effect that leaves Pending has a terminal entry.
//
// Usage:
//
//	eng, err := engine.New(engine.Options{Registry: reg, Activity: log})
//	go eng.Run(ctx)
//	id, err := eng.Ingest(raw, effect.SourceMeta{Protocol: "http"})
//	eng.Play()
package engine
