// Package device provides the Device Registry for PlaySEM Core.
//
// The registry is the catalogue of every actuator the core can render
// effects on. For each device it keeps the descriptor (id, capability set,
// transport, address), the runtime connection state, and the Driver used to
// reach it. Named groups of device ids allow broadcast targeting.
//
// # Connection state machine
//
//	Disconnected ──Register──▶ Connecting ──ok──▶ Connected
//	                               │                  │ failed Send
//	                               ▼ fail             ▼
//	                             Error ◀────────── Error
//	                               │ reconnect loop
//	                               ▼
//	                          Reconnecting ──ok──▶ Connected
//	                               │ budget exhausted
//	                               ▼
//	                             Error  (until Reconnect is called)
//
// Reconnect attempts are spaced by an exponential backoff
// (github.com/cenkalti/backoff/v4) configured through ReconnectPolicy.
// Mock devices are always Connected and never enter Error because of a
// transport failure. A device that answers with a rejection
// (ErrCommandRejected) stays Connected.
//
// # Persistence
//
// Descriptors and groups are persisted through Repository and
// GroupRepository (SQLite implementations provided). Connection state is
// never persisted; RefreshCache reconnects every stored device on startup.
// The transitions themselves can be kept: HistoryRecorder, registered with
// OnStateChange, writes them to a StateHistoryRepository.
//
// # Usage
//
//	reg := device.NewRegistry(device.Options{
//	    Repository: device.NewSQLiteRepository(db.DB),
//	    Groups:     device.NewSQLiteGroupRepository(db.DB),
//	    Factory:    transport.NewFactory(transport.Options{}),
//	})
//	reg.SetLogger(log)
//	if err := reg.RefreshCache(ctx); err != nil {
//	    return err
//	}
//	ack, rtt, err := reg.Send(ctx, "chair-1", eff)
//
// # Thread Safety
//
// The Registry is safe for concurrent use. Connection attempts run outside
// the registry lock, so FindByCapability and Lookup never wait on a device.
package device
