package ingress

import "errors"

var (
	// ErrUnknownAction is returned for a control command that is not
	// play, pause, stop or seek.
	ErrUnknownAction = errors.New("ingress: unknown control action")

	// ErrMissingOffset is returned for a seek without offsetMs.
	ErrMissingOffset = errors.New("ingress: seek requires offsetMs")

	// ErrMalformedCommand is returned when a control payload is not valid JSON.
	ErrMalformedCommand = errors.New("ingress: malformed control command")
)
