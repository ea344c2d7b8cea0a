// Package manager supervises the lifecycle of every configured adapter.
//
// Each adapter gets its own supervisor goroutine that runs the
// connect, sync and stream cycle:
//
//	registered -> connecting -> connected -> disconnected -> connecting ...
//	                  |
//	                  +-> failed (no successful sync yet) -> connecting ...
//
// A successful FetchAll seeds the store and resets the retry backoff. Live
// events are then published until the stream ends, after which the
// supervisor waits for the next backoff delay and resyncs from scratch.
// Supervisors share no locks while doing I/O, so a hung or failing source
// never delays another.
//
// Health reports the cached state of every adapter without touching the
// network.
package manager
