// Package openhab implements the reference adapter for openHAB.
//
// Snapshots come from the REST API (GET /rest/items, optionally filtered by
// tag). Live changes come from the server-sent event stream
// (GET /rest/events) filtered to item state changes. Every item state is
// normalized into a signal.Signal: sentinel states (UNDEF, NULL) become
// unavailable signals; state-description patterns such as "%.1f °C" supply
// the display format and unit; item types decide the value kind.
//
// The adapter registers itself under the type name "openhab".
package openhab
