package manager

import (
	"context"
	"fmt"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gray-logic-live/internal/adapter"
	"github.com/nerrad567/gray-logic-live/internal/signal"
)

// Default timing values.
const (
	DefaultInitialDelay = 5 * time.Second
	DefaultMaxDelay     = 300 * time.Second
	DefaultFetchTimeout = 30 * time.Second
	DefaultStopTimeout  = 10 * time.Second
)

// Config holds supervisor timing.
type Config struct {
	// InitialDelay is the first retry delay after a failure.
	InitialDelay time.Duration

	// MaxDelay caps the retry delay.
	MaxDelay time.Duration

	// FetchTimeout bounds each FetchAll call.
	FetchTimeout time.Duration

	// StopTimeout bounds how long StopAll waits for supervisors to exit.
	StopTimeout time.Duration
}

// DefaultConfig returns the manager defaults.
func DefaultConfig() Config {
	return Config{
		InitialDelay: DefaultInitialDelay,
		MaxDelay:     DefaultMaxDelay,
		FetchTimeout: DefaultFetchTimeout,
		StopTimeout:  DefaultStopTimeout,
	}
}

// Sink receives signals from supervised adapters. *store.Store satisfies it.
type Sink interface {
	SetMany(signals map[string]signal.Signal)
	Publish(sig signal.Signal)
}

// Logger defines the logging interface for the manager.
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

// Recorder receives adapter lifecycle changes for metrics export.
type Recorder interface {
	AdapterConnected(name, adapterType string, connected bool)
	AdapterRetry(name string)
}

type noopRecorder struct{}

func (noopRecorder) AdapterConnected(string, string, bool) {}
func (noopRecorder) AdapterRetry(string)                   {}

// Manager supervises a set of adapters.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Each adapter's state is written only by its own supervisor goroutine.
type Manager struct {
	cfg     Config
	sink    Sink
	logger  Logger
	metrics Recorder

	mu       sync.Mutex
	entries  []*entry
	names    map[string]struct{}
	prefixes map[string]string
	started  bool
	stopped  bool
	cancel   context.CancelFunc

	wg sync.WaitGroup
}

// New creates a manager that publishes into sink. Zero config values fall
// back to the defaults.
func New(sink Sink, cfg Config) *Manager {
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = DefaultInitialDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultMaxDelay
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	return &Manager{
		cfg:      cfg,
		sink:     sink,
		logger:   noopLogger{},
		metrics:  noopRecorder{},
		names:    make(map[string]struct{}),
		prefixes: make(map[string]string),
	}
}

// SetLogger sets the logger. Call before StartAll.
func (m *Manager) SetLogger(logger Logger) {
	if logger != nil {
		m.logger = logger
	}
}

// SetRecorder sets the metrics recorder. Call before StartAll.
func (m *Manager) SetRecorder(r Recorder) {
	if r != nil {
		m.metrics = r
	}
}

// Add registers an adapter. Names and signal prefixes must be unique across
// adapters. It performs no I/O.
func (m *Manager) Add(a adapter.Adapter) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return ErrStopped
	}
	if m.started {
		return ErrAlreadyStarted
	}
	name := a.Name()
	if _, dup := m.names[name]; dup {
		return fmt.Errorf("%w: %q", ErrDuplicateName, name)
	}
	prefix := a.Prefix()
	if owner, dup := m.prefixes[prefix]; dup {
		return fmt.Errorf("%w: %q already used by %q", ErrDuplicatePrefix, prefix, owner)
	}
	m.names[name] = struct{}{}
	m.prefixes[prefix] = name
	m.entries = append(m.entries, newEntry(a))
	return nil
}

// StartAll launches a supervisor for every registered adapter and waits
// until each has finished its first connection attempt, successful or not,
// or until ctx is done. Unreachable sources never make it fail; their
// retries continue in the background.
//
// Supervisors run until StopAll or until ctx is cancelled.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return ErrStopped
	}
	if m.started {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.started = true
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	entries := slices.Clone(m.entries)
	m.mu.Unlock()

	m.logger.Info("starting adapters", "count", len(entries))

	for _, e := range entries {
		m.wg.Add(1)
		go m.supervise(runCtx, e)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, e := range entries {
		g.Go(func() error {
			select {
			case <-e.ready:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// StopAll cancels every supervisor, closes every adapter and waits up to
// the configured stop timeout for supervisors to exit. All adapters end in
// the stopped state. Safe to call before StartAll and more than once.
func (m *Manager) StopAll() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	cancel := m.cancel
	entries := slices.Clone(m.entries)
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	var g errgroup.Group
	for _, e := range entries {
		g.Go(func() error {
			m.closeAdapter(e.adapter)
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(m.cfg.StopTimeout):
		m.logger.Warn("timed out waiting for adapters to stop", "timeout", m.cfg.StopTimeout.String())
	}

	for _, e := range entries {
		e.setStopped()
		m.metrics.AdapterConnected(e.adapter.Name(), e.adapter.Type(), false)
	}
	m.logger.Info("adapters stopped", "count", len(entries))
}

// Health returns the cached state of every adapter in registration order.
func (m *Manager) Health() []Health {
	m.mu.Lock()
	entries := slices.Clone(m.entries)
	m.mu.Unlock()

	out := make([]Health, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.health())
	}
	return out
}

// closeAdapter closes a, logging errors and panics.
func (m *Manager) closeAdapter(a adapter.Adapter) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("adapter close panicked", "adapter", a.Name(), "panic", r)
		}
	}()
	if err := a.Close(); err != nil {
		m.logger.Warn("adapter close failed", "adapter", a.Name(), "error", err)
	}
}

// supervise runs the connect, sync and stream cycle for one adapter until
// ctx is cancelled. A panic ends this supervisor only.
func (m *Manager) supervise(ctx context.Context, e *entry) {
	a := e.adapter
	defer m.wg.Done()
	defer e.markReady()
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("adapter supervisor panicked",
				"adapter", a.Name(),
				"panic", r,
				"stack", string(debug.Stack()),
			)
			e.setFailed(fmt.Sprintf("internal error: %v", r))
			m.metrics.AdapterConnected(a.Name(), a.Type(), false)
		}
	}()

	backoff := Backoff{Initial: m.cfg.InitialDelay, Max: m.cfg.MaxDelay}
	everConnected := false

	for {
		err := m.runOnce(ctx, e, &backoff, &everConnected)
		if ctx.Err() != nil {
			return
		}

		delay := backoff.Next()
		retries := e.setRetrying(err, everConnected, time.Now().Add(delay))
		m.metrics.AdapterConnected(a.Name(), a.Type(), false)
		m.metrics.AdapterRetry(a.Name())
		e.markReady()

		m.logger.Warn("adapter unavailable, will retry",
			"adapter", a.Name(),
			"error", err,
			"attempt", retries,
			"retry_in", delay.String(),
		)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// runOnce performs one full sync followed by live streaming. It returns
// the reason the cycle ended.
func (m *Manager) runOnce(ctx context.Context, e *entry, backoff *Backoff, everConnected *bool) error {
	a := e.adapter
	e.setConnecting()

	fetchCtx, cancel := context.WithTimeout(ctx, m.cfg.FetchTimeout)
	snapshot, err := a.FetchAll(fetchCtx)
	cancel()
	if err != nil {
		return err
	}

	m.sink.SetMany(snapshot)
	backoff.Reset()
	*everConnected = true
	e.setConnected()
	e.markReady()
	m.metrics.AdapterConnected(a.Name(), a.Type(), true)

	m.logger.Info("adapter synced", "adapter", a.Name(), "signals", len(snapshot))

	events, err := a.Events(ctx)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig, ok := <-events:
			if !ok {
				return streamErr(a)
			}
			m.sink.Publish(sig)
		}
	}
}

// streamErr returns the adapter's explanation for a closed stream.
func streamErr(a adapter.Adapter) error {
	if s, ok := a.(adapter.StreamErrorer); ok {
		if err := s.StreamErr(); err != nil {
			return err
		}
	}
	return ErrStreamEnded
}
