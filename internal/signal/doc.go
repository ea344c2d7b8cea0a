// Package signal defines the normalized live-state value object shared by
// adapters, the signal store and every downstream consumer.
//
// A Signal is one observable point of state from an external system (a
// temperature reading, a switch position, a mode selector). Whatever shape
// the upstream system reports, adapters translate it into a Signal so that
// consumers only ever deal with one representation.
//
// Signals are plain values. They are copied, never mutated in place, and are
// safe to share between goroutines.
package signal
