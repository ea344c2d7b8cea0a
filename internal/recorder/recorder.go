// Package recorder forwards every signal published to the store to a
// persistent sink such as the SQLite history or InfluxDB.
//
// A Recorder is an ordinary store subscriber: when its writer is slow the
// store drops deliveries for it, never for other subscribers.
package recorder

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/nerrad567/gray-logic-live/internal/signal"
	"github.com/nerrad567/gray-logic-live/internal/store"
)

const (
	defaultWriteTimeout = 5 * time.Second
	errorLogInterval    = 30 * time.Second
)

// Writer persists one signal.
type Writer interface {
	WriteSignal(ctx context.Context, sig signal.Signal) error
}

// Source hands out store subscriptions.
type Source interface {
	Subscribe(ctx context.Context) *store.Subscription
}

// Logger is the logging interface used by Recorder.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}
func (noopLogger) Warn(string, ...any) {}

// Metrics counts failed writes.
type Metrics interface {
	WriteFailed(recorder string)
}

type noopMetrics struct{}

func (noopMetrics) WriteFailed(string) {}

// Recorder subscribes to a Source and writes each signal to a Writer.
type Recorder struct {
	name   string
	source Source
	writer Writer

	logger       Logger
	metrics      Metrics
	writeTimeout time.Duration
	errLog       rate.Sometimes

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	written uint64
	failed  uint64
}

// New creates a Recorder. name identifies it in logs and metrics.
func New(name string, source Source, writer Writer) *Recorder {
	return &Recorder{
		name:         name,
		source:       source,
		writer:       writer,
		logger:       noopLogger{},
		metrics:      noopMetrics{},
		writeTimeout: defaultWriteTimeout,
		errLog:       rate.Sometimes{Interval: errorLogInterval},
	}
}

// SetLogger sets the logger. Call before Start.
func (r *Recorder) SetLogger(logger Logger) { r.logger = logger }

// SetMetrics sets the failed-write counter. Call before Start.
func (r *Recorder) SetMetrics(m Metrics) { r.metrics = m }

// Start subscribes and begins writing in the background. Calling Start on
// a running Recorder does nothing.
func (r *Recorder) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	sub := r.source.Subscribe(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})

	go r.run(ctx, sub, r.done)
	r.logger.Info("recorder started", "recorder", r.name, "subscriber", sub.ID())
}

// Stop ends the subscription and waits for the in-flight write.
// Safe to call more than once, or without Start.
func (r *Recorder) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Counts returns the number of successful and failed writes.
func (r *Recorder) Counts() (written, failed uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.written, r.failed
}

func (r *Recorder) run(ctx context.Context, sub *store.Subscription, done chan struct{}) {
	defer close(done)

	for sig := range sub.All() {
		r.write(ctx, sig)
	}
}

func (r *Recorder) write(ctx context.Context, sig signal.Signal) {
	// Not cancelled with the run context; writeTimeout bounds it.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.writeTimeout)
	defer cancel()

	err := r.writer.WriteSignal(wctx, sig)

	r.mu.Lock()
	if err != nil {
		r.failed++
	} else {
		r.written++
	}
	failed := r.failed
	r.mu.Unlock()

	if err != nil {
		r.metrics.WriteFailed(r.name)
		r.errLog.Do(func() {
			r.logger.Warn("recorder write failed",
				"recorder", r.name,
				"signal_id", sig.ID,
				"failed_total", failed,
				"error", err,
			)
		})
	}
}
