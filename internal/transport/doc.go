// Package transport implements device.Driver for each supported transport
// kind and a device.DriverFactory that picks one from a device's transport
// and address.
//
//	mock       in-process simulated device (latency and failure injection)
//	serial     newline-delimited JSON over a serial port (go.bug.st/serial)
//	tcp        newline-delimited JSON over a TCP socket
//	mqtt       JSON command published to playsem/command/{type}/{device}
//	bluetooth  JSON command published to a BLE gateway over MQTT
//
// Serial and TCP devices answer every command with one JSON ack line:
//
//	{"effect_id":"...","ok":true,"latency_ms":3}
//
// Acks for other effect ids (late answers to timed-out commands) are
// discarded. MQTT delivery is acknowledged by the broker, not the device.
package transport
