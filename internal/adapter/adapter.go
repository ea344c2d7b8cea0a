package adapter

import (
	"context"

	"github.com/nerrad567/gray-logic-live/internal/signal"
)

// Adapter is one upstream source of live state.
//
// Implementations must be safe for concurrent use: the manager calls
// IsConnected and Close from other goroutines while FetchAll or Events are
// in flight.
type Adapter interface {
	// Name is the unique instance name ("main-openhab").
	Name() string

	// Type is the registered factory type ("openhab").
	Type() string

	// Prefix namespaces every signal ID this adapter emits.
	Prefix() string

	// FetchAll returns the full current state keyed by signal ID.
	// Errors wrap ErrConnection when the source is unreachable and
	// ErrProtocol when its response cannot be understood.
	FetchAll(ctx context.Context) (map[string]signal.Signal, error)

	// Events opens a live subscription. The returned channel is closed when
	// the upstream connection ends or ctx is cancelled. Each call opens a
	// new subscription.
	Events(ctx context.Context) (<-chan signal.Signal, error)

	// IsConnected reports the last known connection state. It never blocks
	// on I/O.
	IsConnected() bool

	// Close releases resources and interrupts any in-flight Events read.
	// Safe to call more than once and from any state.
	Close() error
}

// StreamErrorer is implemented by adapters that can explain why their last
// Events channel closed.
type StreamErrorer interface {
	StreamErr() error
}

// Logger defines the logging interface shared by adapter implementations.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// NoopLogger discards everything.
type NoopLogger struct{}

func (NoopLogger) Debug(string, ...any) {}
func (NoopLogger) Info(string, ...any)  {}
func (NoopLogger) Warn(string, ...any)  {}
func (NoopLogger) Error(string, ...any) {}

// SignalID joins an adapter prefix and a source-local key.
func SignalID(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + ":" + key
}
