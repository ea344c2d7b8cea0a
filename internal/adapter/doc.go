// Package adapter defines the contract between the live-state core and the
// external systems it reads from.
//
// An Adapter knows how to take a full snapshot of an upstream system
// (FetchAll) and how to follow its live changes (Events). Both return
// Signals that are already normalized; the adapter manager never sees raw
// upstream data.
//
// Concrete adapters live in sub-packages and register a Factory under their
// type name from an init function:
//
//	func init() {
//	    adapter.Register("openhab", New)
//	}
//
// The bootstrap code blank-imports the packages it wants available and then
// builds adapters from configuration with New.
package adapter
