// Package effect defines the canonical sensory Effect and the Normalizer
// that turns decoded protocol payloads into Effects.
//
// Every ingress adapter (HTTP, WebSocket, MQTT) decodes its own framing
// into a RawPayload and calls Normalizer.Ingest. The Normalizer checks the
// effect type, the target, the per-type parameters, the trigger, the
// duration and the priority, assigns an id and a receipt timestamp, and
// hands the result to its Sink (the timeline scheduler). Rejections are
// *ValidationError values carrying a reason code the adapter can map to a
// protocol-level rejection.
//
// Target resolution is deferred to dispatch time: a device or group that
// does not exist yet is not a validation failure.
package effect
