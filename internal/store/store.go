package store

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/nerrad567/gray-logic-live/internal/signal"
)

// Default tuning values.
const (
	DefaultQueueSize        = 256
	DefaultDropWarnInterval = 10 * time.Second
)

// Config holds store tuning.
type Config struct {
	// QueueSize is the per-subscriber buffer depth.
	QueueSize int

	// DropWarnInterval is the minimum gap between overflow warnings for a
	// single subscriber.
	DropWarnInterval time.Duration
}

// DefaultConfig returns the store defaults.
func DefaultConfig() Config {
	return Config{
		QueueSize:        DefaultQueueSize,
		DropWarnInterval: DefaultDropWarnInterval,
	}
}

// Logger defines the logging interface for the store.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Recorder receives store activity for metrics export.
type Recorder interface {
	SignalPublished()
	SignalDropped()
	SubscribersChanged(n int)
}

type noopRecorder struct{}

func (noopRecorder) SignalPublished()       {}
func (noopRecorder) SignalDropped()         {}
func (noopRecorder) SubscribersChanged(int) {}

// Store is the in-memory current-value store and fan-out hub.
//
// Publish updates the map and enqueues onto every subscription while holding
// the write lock, so each subscriber observes updates in publish order even
// with concurrent publishers. Enqueueing never blocks.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Store struct {
	cfg     Config
	logger  Logger
	metrics Recorder

	mu      sync.RWMutex
	signals map[string]signal.Signal
	subs    map[string]*Subscription
	closed  bool
}

// New creates an empty store. Zero or negative config values fall back to
// the defaults.
func New(cfg Config) *Store {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.DropWarnInterval <= 0 {
		cfg.DropWarnInterval = DefaultDropWarnInterval
	}
	return &Store{
		cfg:     cfg,
		logger:  noopLogger{},
		metrics: noopRecorder{},
		signals: make(map[string]signal.Signal),
		subs:    make(map[string]*Subscription),
	}
}

// SetLogger sets the logger. Call before the store is shared.
func (s *Store) SetLogger(logger Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetRecorder sets the metrics recorder. Call before the store is shared.
func (s *Store) SetRecorder(r Recorder) {
	if r != nil {
		s.metrics = r
	}
}

// Get returns the current signal for id.
func (s *Store) Get(id string) (signal.Signal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sig, ok := s.signals[id]
	return sig, ok
}

// GetAll returns a snapshot copy of every current signal keyed by ID.
func (s *Store) GetAll() map[string]signal.Signal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.signals)
}

// Len returns the number of tracked signals.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.signals)
}

// SetMany bulk-loads signals without notifying subscribers. Used to seed or
// resync the store from an adapter snapshot.
func (s *Store) SetMany(signals map[string]signal.Signal) {
	if len(signals) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sig := range signals {
		s.signals[id] = sig
	}
}

// Publish stores sig as the current value for its ID and offers it to every
// subscription. Subscribers whose queue is full miss this update.
//
// Every call notifies, including when the value is unchanged.
func (s *Store) Publish(sig signal.Signal) {
	var dropped []*Subscription

	s.mu.Lock()
	s.signals[sig.ID] = sig
	for _, sub := range s.subs {
		select {
		case sub.ch <- sig:
			sub.delivered.Add(1)
		default:
			sub.dropped.Add(1)
			dropped = append(dropped, sub)
		}
	}
	s.mu.Unlock()

	s.metrics.SignalPublished()
	for _, sub := range dropped {
		s.metrics.SignalDropped()
		sub.warnDropped(s.logger, sig.ID)
	}
}

// Subscribe registers a new subscription. The subscription closes when ctx
// is cancelled, when Close is called, or when the store closes.
func (s *Store) Subscribe(ctx context.Context) *Subscription {
	sub := &Subscription{
		id:    uuid.NewString(),
		store: s,
		ch:    make(chan signal.Signal, s.cfg.QueueSize),
		warn:  rate.Sometimes{Interval: s.cfg.DropWarnInterval},
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(sub.ch)
		return sub
	}
	s.subs[sub.id] = sub
	n := len(s.subs)
	s.mu.Unlock()

	s.metrics.SubscribersChanged(n)
	s.logger.Debug("subscriber added", "subscriber", sub.id, "subscribers", n)

	sub.mu.Lock()
	sub.stop = context.AfterFunc(ctx, sub.Close)
	sub.mu.Unlock()
	return sub
}

// SubscriberCount returns the number of active subscriptions.
func (s *Store) SubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// Close ends every subscription. Later subscriptions are returned already
// closed. Current values remain readable.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for id, sub := range s.subs {
		delete(s.subs, id)
		close(sub.ch)
	}
	s.mu.Unlock()

	s.metrics.SubscribersChanged(0)
}

// remove deregisters sub. Only the caller that removes it from the map
// closes its channel, so the channel is closed exactly once and never while
// Publish is sending to it.
func (s *Store) remove(sub *Subscription) {
	s.mu.Lock()
	_, existed := s.subs[sub.id]
	if existed {
		delete(s.subs, sub.id)
		close(sub.ch)
	}
	n := len(s.subs)
	s.mu.Unlock()

	if existed {
		s.metrics.SubscribersChanged(n)
		s.logger.Debug("subscriber removed", "subscriber", sub.id, "subscribers", n,
			"delivered", sub.delivered.Load(), "dropped", sub.dropped.Load())
	}
}
