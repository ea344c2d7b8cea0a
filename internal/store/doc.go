// Package store holds the current value of every tracked signal and fans
// updates out to any number of subscribers.
//
// The store owns two pieces of state: the current-value map and the
// subscription registry. Adapters never write to it directly; the adapter
// manager seeds it with SetMany after each full sync and calls Publish for
// every live update.
//
// Fan-out is non-blocking. Each subscription has a bounded queue; when a
// queue is full the update is dropped for that subscriber only and a
// rate-limited warning is logged. A slow consumer therefore never delays
// the publisher or any other consumer.
package store
