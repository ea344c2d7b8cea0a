package adapter

import "errors"

// Error taxonomy shared by every adapter. Callers classify failures with
// errors.Is; implementations wrap the underlying cause.
var (
	// ErrConnection is returned when the upstream system is unreachable or
	// the connection dropped. Retryable.
	ErrConnection = errors.New("adapter: connection failed")

	// ErrProtocol is returned when the upstream responded with data that
	// could not be understood. Retryable with backoff.
	ErrProtocol = errors.New("adapter: protocol error")

	// ErrClosed is returned by operations on a closed adapter.
	ErrClosed = errors.New("adapter: closed")

	// ErrUnknownType is returned by New for an unregistered adapter type.
	ErrUnknownType = errors.New("adapter: unknown type")

	// ErrInvalidConfig is returned by factories for unusable configuration.
	ErrInvalidConfig = errors.New("adapter: invalid configuration")
)
