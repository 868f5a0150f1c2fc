// Package ingress adapts external protocols onto the PlaySEM engine.
//
// Every adapter does the same three things: decode the wire payload,
// hand it to the engine with a SourceMeta naming the protocol and origin,
// and report rejections back to the sender in a form it can act on.
//
// The MQTT adapter listens on:
//
//	playsem/effects/{source}   effect payloads (JSON)
//	playsem/control            play | pause | stop | seek
//
// and publishes rejections to playsem/effects/rejected. The HTTP and
// websocket surfaces in internal/api reuse Rejection and Command so all
// three protocols report errors with the same reason codes.
package ingress
