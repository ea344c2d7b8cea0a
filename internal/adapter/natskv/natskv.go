package natskv

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/nerrad567/gray-logic-live/internal/adapter"
	"github.com/nerrad567/gray-logic-live/internal/signal"
)

// TypeName is the registry name of this adapter.
const TypeName = "nats-kv"

const (
	defaultPrefix  = "kv"
	defaultTimeout = 10 * time.Second
	defaultBuffer  = 256
)

func init() {
	adapter.Register(TypeName, func(cfg adapter.Config) (adapter.Adapter, error) {
		return New(cfg)
	})
}

// watchFunc opens a connection and a watcher over every key in the bucket.
// ctx bounds the dial and bucket lookup; the watcher lives until watchCtx
// ends. The returned func closes the connection. onLost is called with the
// cause when the connection drops.
type watchFunc func(ctx, watchCtx context.Context, onLost func(error)) (jetstream.KeyWatcher, func(), error)

// Adapter streams a JetStream key-value bucket.
type Adapter struct {
	name    string
	prefix  string
	bucket  string
	buffer  int
	logger  adapter.Logger
	watch   watchFunc
	timeout time.Duration

	mu        sync.Mutex
	sess      *session
	closed    bool
	streamErr error

	connected atomic.Bool
}

// New creates a NATS KV adapter. cfg.URL is the server URL and the bucket
// comes from cfg.Filter or the "bucket" option.
func New(cfg adapter.Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: %s: nats url is required", adapter.ErrInvalidConfig, cfg.Name)
	}
	bucket := cfg.Filter
	if bucket == "" {
		bucket = cfg.Option("bucket", "")
	}
	if bucket == "" {
		return nil, fmt.Errorf("%w: %s: bucket is required", adapter.ErrInvalidConfig, cfg.Name)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	a := &Adapter{
		name:    cfg.Name,
		prefix:  prefix,
		bucket:  bucket,
		buffer:  defaultBuffer,
		logger:  cfg.Log(),
		timeout: timeout,
	}
	a.watch = a.natsWatch(cfg)
	return a, nil
}

// Name returns the configured instance name.
func (a *Adapter) Name() string { return a.name }

// Type returns the registry type name.
func (a *Adapter) Type() string { return TypeName }

// Prefix returns the namespace of every signal ID this adapter emits.
func (a *Adapter) Prefix() string { return a.prefix }

// IsConnected reports whether the watcher's connection is up.
func (a *Adapter) IsConnected() bool { return a.connected.Load() }

// StreamErr returns why the last watcher ended.
func (a *Adapter) StreamErr() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.streamErr
}

// natsWatch dials the server with reconnects disabled; the manager owns
// reconnection.
func (a *Adapter) natsWatch(cfg adapter.Config) watchFunc {
	return func(ctx, watchCtx context.Context, onLost func(error)) (jetstream.KeyWatcher, func(), error) {
		opts := []nats.Option{
			nats.Name("graylive-" + cfg.Name),
			nats.Timeout(a.timeout),
			nats.NoReconnect(),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				if err == nil {
					err = errors.New("disconnected")
				}
				onLost(err)
			}),
		}
		switch {
		case cfg.Token != "":
			opts = append(opts, nats.Token(cfg.Token))
		case cfg.Username != "":
			opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
		}

		nc, err := nats.Connect(cfg.URL, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", adapter.ErrConnection, err)
		}

		js, err := jetstream.New(nc)
		if err != nil {
			nc.Close()
			return nil, nil, fmt.Errorf("%w: %w", adapter.ErrConnection, err)
		}
		kv, err := js.KeyValue(ctx, a.bucket)
		if err != nil {
			nc.Close()
			if errors.Is(err, jetstream.ErrBucketNotFound) {
				return nil, nil, fmt.Errorf("%w: bucket %q: %w", adapter.ErrProtocol, a.bucket, err)
			}
			return nil, nil, fmt.Errorf("%w: %w", adapter.ErrConnection, err)
		}
		w, err := kv.WatchAll(watchCtx)
		if err != nil {
			nc.Close()
			return nil, nil, fmt.Errorf("%w: watch %q: %w", adapter.ErrConnection, a.bucket, err)
		}
		return w, nc.Close, nil
	}
}

// FetchAll opens a new watcher and returns every key delivered before the
// end-of-initial-values marker.
func (a *Adapter) FetchAll(ctx context.Context) (map[string]signal.Signal, error) {
	sess, err := a.open(ctx)
	if err != nil {
		return nil, err
	}

	snapshot := make(map[string]signal.Signal)
	updates := sess.watcher.Updates()
	for {
		select {
		case entry, ok := <-updates:
			if !ok {
				err := a.endSession(sess, adapter.ErrConnection)
				return nil, fmt.Errorf("watcher closed during initial sync: %w", err)
			}
			if entry == nil {
				a.connected.Store(true)
				a.logger.Debug("nats kv snapshot collected", "adapter", a.name, "bucket", a.bucket, "signals", len(snapshot))
				return snapshot, nil
			}
			sig := decodeEntry(a.prefix, entry)
			snapshot[sig.ID] = sig
		case <-ctx.Done():
			a.endSession(sess, adapter.ErrClosed)
			return nil, fmt.Errorf("%w: initial sync: %w", adapter.ErrConnection, ctx.Err())
		}
	}
}

// Events streams updates from the watcher opened by FetchAll, or from a
// new watcher if none is pending.
func (a *Adapter) Events(ctx context.Context) (<-chan signal.Signal, error) {
	a.mu.Lock()
	sess := a.sess
	reuse := sess != nil && !sess.claimed && !sess.isEnded()
	if reuse {
		sess.claimed = true
	}
	a.mu.Unlock()

	if !reuse {
		if _, err := a.FetchAll(ctx); err != nil {
			return nil, err
		}
		a.mu.Lock()
		sess = a.sess
		sess.claimed = true
		a.mu.Unlock()
	}

	out := make(chan signal.Signal, a.buffer)
	go a.forward(ctx, sess, out)
	return out, nil
}

func (a *Adapter) forward(ctx context.Context, sess *session, out chan<- signal.Signal) {
	defer close(out)

	updates := sess.watcher.Updates()
	for {
		select {
		case <-ctx.Done():
			a.endSession(sess, adapter.ErrClosed)
			return
		case <-sess.done:
			return
		case entry, ok := <-updates:
			if !ok {
				a.endSession(sess, adapter.ErrConnection)
				return
			}
			if entry == nil {
				continue
			}
			select {
			case out <- decodeEntry(a.prefix, entry):
			case <-ctx.Done():
				a.endSession(sess, adapter.ErrClosed)
				return
			case <-sess.done:
				return
			}
		}
	}
}

// Close stops the current watcher. Safe to call more than once.
func (a *Adapter) Close() error {
	a.mu.Lock()
	a.closed = true
	sess := a.sess
	a.mu.Unlock()

	if sess != nil {
		a.endSession(sess, adapter.ErrClosed)
	}
	a.connected.Store(false)
	return nil
}

func (a *Adapter) open(ctx context.Context) (*session, error) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil, adapter.ErrClosed
	}
	prev := a.sess
	a.mu.Unlock()

	if prev != nil {
		a.endSession(prev, adapter.ErrConnection)
	}

	watchCtx, stopWatch := context.WithCancel(context.Background())
	sess := &session{done: make(chan struct{}), stopWatch: stopWatch}
	dialCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	watcher, closeConn, err := a.watch(dialCtx, watchCtx, func(cause error) {
		a.logger.Debug("nats connection lost", "adapter", a.name, "error", cause)
		a.endSession(sess, fmt.Errorf("%w: %w", adapter.ErrConnection, cause))
	})
	if err != nil {
		stopWatch()
		return nil, err
	}
	sess.watcher = watcher
	sess.closeConn = closeConn

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		_ = watcher.Stop()
		closeConn()
		stopWatch()
		return nil, adapter.ErrClosed
	}
	a.sess = sess
	a.mu.Unlock()

	if sess.isEnded() {
		return nil, fmt.Errorf("connection lost while opening watcher: %w", sess.cause())
	}
	return sess, nil
}

// endSession stops sess once and returns the recorded cause.
func (a *Adapter) endSession(sess *session, cause error) error {
	if !sess.end(cause) {
		return sess.cause()
	}
	if sess.watcher != nil {
		_ = sess.watcher.Stop()
	}
	if sess.closeConn != nil {
		sess.closeConn()
	}
	sess.stopWatch()

	a.mu.Lock()
	if a.sess == sess {
		a.streamErr = cause
		a.connected.Store(false)
	}
	a.mu.Unlock()
	return cause
}

// session is one connection and its watcher.
type session struct {
	watcher   jetstream.KeyWatcher
	closeConn func()
	stopWatch context.CancelFunc
	done      chan struct{}

	// claimed is guarded by Adapter.mu.
	claimed bool

	mu    sync.Mutex
	ended bool
	err   error
}

func (s *session) end(err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return false
	}
	s.ended = true
	s.err = err
	close(s.done)
	return true
}

func (s *session) isEnded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

func (s *session) cause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

var _ adapter.Adapter = (*Adapter)(nil)
var _ adapter.StreamErrorer = (*Adapter)(nil)
