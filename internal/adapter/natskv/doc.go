// Package natskv implements a source adapter over a NATS JetStream
// key-value bucket.
//
// Every key in the bucket is one signal. Values are either a JSON object
// carrying the signal fields or a plain-text state that is coerced to a
// number, boolean or string. Deleted and purged keys become unavailable.
//
// A single watcher serves both phases: entries delivered before the
// watcher's end-of-initial-values marker form the FetchAll snapshot, and
// everything after it is streamed by Events.
package natskv
