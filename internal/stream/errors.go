package stream

import "errors"

var (
	// ErrConfig reports a bad port, pin or parameter, detected at Start.
	ErrConfig = errors.New("invalid source configuration")
	// ErrDevice reports a device that could not be opened or armed.
	ErrDevice = errors.New("device unavailable")
	// ErrHandshake reports a device that never answered its handshake.
	ErrHandshake = errors.New("device handshake failed")
	// ErrFrame marks a malformed or truncated unit. It is only logged and
	// counted; acquisition continues.
	ErrFrame = errors.New("malformed frame")
)
