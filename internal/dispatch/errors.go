package dispatch

import "errors"

var (
	// ErrQueueFull is returned by Dispatch when the job queue is at capacity.
	ErrQueueFull = errors.New("dispatch: queue full")

	// ErrPoolClosed is returned by Dispatch after Close.
	ErrPoolClosed = errors.New("dispatch: pool closed")

	// ErrUnknownTarget means the target device or group does not exist.
	ErrUnknownTarget = errors.New("dispatch: unknown target")

	// ErrCapabilityMismatch means no resolved device can render the effect type.
	ErrCapabilityMismatch = errors.New("dispatch: capability mismatch")

	// ErrDeviceUnavailable means no capable target device is Connected.
	ErrDeviceUnavailable = errors.New("dispatch: device unavailable")

	// ErrDispatchTimeout means a Send exceeded the per-attempt timeout.
	ErrDispatchTimeout = errors.New("dispatch: timeout")
)
