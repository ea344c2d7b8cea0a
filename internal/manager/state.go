package manager

import (
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-live/internal/adapter"
)

// State is the lifecycle state of a supervised adapter.
type State string

const (
	StateRegistered   State = "registered"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateFailed       State = "failed"
	StateStopped      State = "stopped"
)

// Health is a point-in-time view of one adapter.
type Health struct {
	Name        string     `json:"name"`
	AdapterType string     `json:"adapter_type"`
	Connected   bool       `json:"connected"`
	LastError   string     `json:"last_error,omitempty"`
	State       State      `json:"state"`
	RetryCount  int        `json:"retry_count"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`
}

// entry is the manager's record for one adapter. The supervisor goroutine
// is the only writer until StopAll marks it stopped; Health reads it
// concurrently.
type entry struct {
	adapter adapter.Adapter

	mu        sync.RWMutex
	state     State
	connected bool
	lastErr   string
	retries   int
	nextRetry *time.Time

	ready     chan struct{}
	readyOnce sync.Once
}

func newEntry(a adapter.Adapter) *entry {
	return &entry{
		adapter: a,
		state:   StateRegistered,
		ready:   make(chan struct{}),
	}
}

// markReady signals that the first connection attempt has finished.
func (e *entry) markReady() {
	e.readyOnce.Do(func() { close(e.ready) })
}

// update applies fn under the entry lock unless the entry is stopped.
func (e *entry) update(fn func(e *entry)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateStopped {
		return
	}
	fn(e)
}

func (e *entry) setConnecting() {
	e.update(func(e *entry) {
		e.state = StateConnecting
		e.connected = false
		e.nextRetry = nil
	})
}

func (e *entry) setConnected() {
	e.update(func(e *entry) {
		e.state = StateConnected
		e.connected = true
		e.lastErr = ""
		e.retries = 0
		e.nextRetry = nil
	})
}

// setRetrying records a failure and the scheduled retry time.
func (e *entry) setRetrying(err error, everConnected bool, at time.Time) int {
	var retries int
	e.update(func(e *entry) {
		if everConnected {
			e.state = StateDisconnected
		} else {
			e.state = StateFailed
		}
		e.connected = false
		e.lastErr = err.Error()
		e.retries++
		e.nextRetry = &at
		retries = e.retries
	})
	return retries
}

func (e *entry) setFailed(msg string) {
	e.update(func(e *entry) {
		e.state = StateFailed
		e.connected = false
		e.lastErr = msg
		e.nextRetry = nil
	})
}

func (e *entry) setStopped() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = StateStopped
	e.connected = false
	e.nextRetry = nil
}

func (e *entry) health() Health {
	e.mu.RLock()
	defer e.mu.RUnlock()
	h := Health{
		Name:        e.adapter.Name(),
		AdapterType: e.adapter.Type(),
		Connected:   e.connected,
		LastError:   e.lastErr,
		State:       e.state,
		RetryCount:  e.retries,
	}
	if e.nextRetry != nil {
		t := *e.nextRetry
		h.NextRetryAt = &t
	}
	return h
}
