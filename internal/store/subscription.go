package store

import (
	"iter"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/nerrad567/gray-logic-live/internal/signal"
)

// Stats holds per-subscription delivery counters.
type Stats struct {
	Delivered uint64 `json:"delivered"`
	Dropped   uint64 `json:"dropped"`
}

// Subscription is a bounded FIFO of signals published after it was created.
type Subscription struct {
	id    string
	store *Store
	ch    chan signal.Signal
	warn  rate.Sometimes

	mu   sync.Mutex
	stop func() bool

	delivered atomic.Uint64
	dropped   atomic.Uint64
	closeOnce sync.Once
}

// ID returns the subscription identifier.
func (sub *Subscription) ID() string { return sub.id }

// C returns the receive channel. It is closed when the subscription ends.
func (sub *Subscription) C() <-chan signal.Signal { return sub.ch }

// All returns an iterator over incoming signals. Leaving the loop closes the
// subscription.
//
//	for sig := range sub.All() {
//	    ...
//	}
func (sub *Subscription) All() iter.Seq[signal.Signal] {
	return func(yield func(signal.Signal) bool) {
		defer sub.Close()
		for sig := range sub.ch {
			if !yield(sig) {
				return
			}
		}
	}
}

// Stats returns delivery counters.
func (sub *Subscription) Stats() Stats {
	return Stats{
		Delivered: sub.delivered.Load(),
		Dropped:   sub.dropped.Load(),
	}
}

// Close deregisters the subscription and closes its channel. Idempotent.
func (sub *Subscription) Close() {
	sub.closeOnce.Do(func() {
		sub.mu.Lock()
		stop := sub.stop
		sub.mu.Unlock()
		if stop != nil {
			stop()
		}
		sub.store.remove(sub)
	})
}

func (sub *Subscription) warnDropped(logger Logger, signalID string) {
	sub.warn.Do(func() {
		logger.Warn("subscriber queue full, dropping signal",
			"subscriber", sub.id,
			"signal_id", signalID,
			"dropped_total", sub.dropped.Load(),
		)
	})
}
