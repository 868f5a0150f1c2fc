// Package api implements the HTTP REST API and WebSocket server for PlaySEM Core.
//
// This package provides:
//   - An HTTP ingress adapter for effects (POST /api/v1/effects)
//   - Timeline control (play, pause, stop, seek, cancel, snapshot)
//   - Device and group management backed by the device registry
//   - Activity log queries and engine stats
//   - A WebSocket hub that streams activity records, timeline transitions
//     and device state changes, and accepts effects and control commands
//   - Optional JWT bearer authentication with ticket-based WebSocket auth
//
// # Errors
//
// Every error response is {status, code, message}. Effect ingress maps
// validation failures to 400 with the validation reason as code,
// duplicate ids to 409 and a full ingress queue to 503.
//
// # Security
//
// When security.jwt.enabled is set, every route except /api/v1/health and
// the metrics endpoint requires an HS256 bearer token. Browsers cannot set
// headers on a WebSocket upgrade, so they exchange their token for a
// single-use ticket at /api/v1/auth/ws-ticket first.
package api
