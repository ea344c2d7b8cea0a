// Package api implements the HTTP read surface for Gray Logic Live.
//
// The server only reads from the core. It never writes signals:
//   - GET /api/v1/health reports every adapter's connection state
//   - GET /api/v1/signals and /api/v1/signals/{id} return current values
//   - GET /api/v1/signals/{id}/history returns recorded values when the
//     SQLite history recorder is enabled
//   - GET /api/v1/stream is a Server-Sent Events feed of published signals
//   - GET /api/v1/ws is the same feed over WebSocket, with prefix filtering
//   - GET /api/v1/system returns runtime and store statistics
//   - GET /metrics serves the Prometheus registry when one is supplied
//
// Every stream owns one store subscription. A slow client loses signals
// from its own queue and never stalls publishers or other clients.
//
// # Middleware
//
// Requests pass through request ID, logging, recovery and CORS middleware.
// The response wrapper used for logging keeps Flush and Hijack reachable so
// the streaming endpoints work behind it.
package api
