package mqttstate

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/nerrad567/gray-logic-live/internal/adapter"
	"github.com/nerrad567/gray-logic-live/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-live/internal/signal"
)

// TypeName is the registry name of this adapter.
const TypeName = "mqtt"

const (
	defaultPrefix  = "mqtt"
	defaultSettle  = 500 * time.Millisecond
	defaultBuffer  = 256
	defaultQoS     = 1
	defaultTimeout = 10 * time.Second

	// dropWarnInterval limits queue-full warnings per adapter.
	dropWarnInterval = 10 * time.Second
)

func init() {
	adapter.Register(TypeName, func(cfg adapter.Config) (adapter.Adapter, error) {
		return New(cfg)
	})
}

// stateClient is the part of *mqtt.Client the adapter uses.
type stateClient interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	SetOnDisconnect(callback func(err error))
	IsConnected() bool
	Close() error
}

// dialFunc opens a broker connection.
type dialFunc func(ctx context.Context, opts mqtt.Options) (stateClient, error)

func dialBroker(ctx context.Context, opts mqtt.Options) (stateClient, error) {
	client, err := mqtt.Connect(ctx, opts)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Adapter reads bridge state from an MQTT broker.
//
// Each FetchAll opens a new broker session. Events hands out that
// session's live channel, or opens a new session when none is pending.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Adapter struct {
	name   string
	prefix string
	filter string
	qos    byte
	settle time.Duration
	buffer int
	opts   mqtt.Options
	logger adapter.Logger
	dial   dialFunc

	mu        sync.Mutex
	sess      *session
	closed    bool
	streamErr error

	dropped atomic.Uint64
	dropLog rate.Sometimes
}

// New creates an MQTT state adapter. cfg.URL is the broker URL and
// cfg.Filter the subscription filter (default graylogic/state/+/+).
//
// Options:
//   - settle_ms: snapshot collection window (default 500)
//   - buffer: live event queue depth (default 256)
//   - qos: subscription QoS (default 1)
//   - client_id: MQTT client ID (default graylive-<name>)
func New(cfg adapter.Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: %s: broker url is required", adapter.ErrInvalidConfig, cfg.Name)
	}

	settleMS, err := intOption(cfg, "settle_ms", int(defaultSettle/time.Millisecond))
	if err != nil {
		return nil, err
	}
	buffer, err := intOption(cfg, "buffer", defaultBuffer)
	if err != nil {
		return nil, err
	}
	qos, err := intOption(cfg, "qos", defaultQoS)
	if err != nil {
		return nil, err
	}
	if qos < 0 || qos > 2 {
		return nil, fmt.Errorf("%w: %s: qos must be 0, 1 or 2", adapter.ErrInvalidConfig, cfg.Name)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	filter := cfg.Filter
	if filter == "" {
		filter = mqtt.AllStateTopics
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	opts := mqtt.Options{
		BrokerURL:      cfg.URL,
		ClientID:       cfg.Option("client_id", "graylive-"+cfg.Name),
		Username:       cfg.Username,
		Password:       cfg.Password,
		ConnectTimeout: timeout,
	}

	return &Adapter{
		name:    cfg.Name,
		prefix:  prefix,
		filter:  filter,
		qos:     byte(qos),
		settle:  time.Duration(settleMS) * time.Millisecond,
		buffer:  buffer,
		opts:    opts,
		logger:  cfg.Log(),
		dial:    dialBroker,
		dropLog: rate.Sometimes{Interval: dropWarnInterval},
	}, nil
}

func intOption(cfg adapter.Config, key string, def int) (int, error) {
	raw := cfg.Option(key, "")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s: option %s=%q is not a non-negative integer", adapter.ErrInvalidConfig, cfg.Name, key, raw)
	}
	return n, nil
}

// Name returns the configured instance name.
func (a *Adapter) Name() string { return a.name }

// Type returns the registry type name.
func (a *Adapter) Type() string { return TypeName }

// Prefix returns the namespace of every signal ID this adapter emits.
func (a *Adapter) Prefix() string { return a.prefix }

// IsConnected reports whether the current broker session is alive.
func (a *Adapter) IsConnected() bool {
	a.mu.Lock()
	sess := a.sess
	a.mu.Unlock()
	return sess != nil && !sess.isEnded() && sess.client.IsConnected()
}

// StreamErr returns why the last session ended.
func (a *Adapter) StreamErr() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sess != nil {
		if err := a.sess.endErr(); err != nil {
			return err
		}
	}
	return a.streamErr
}

// Dropped returns how many live messages were discarded because the event
// queue was full.
func (a *Adapter) Dropped() uint64 {
	return a.dropped.Load()
}

// FetchAll opens a new session, subscribes to the filter and returns every
// signal received during the settle window.
func (a *Adapter) FetchAll(ctx context.Context) (map[string]signal.Signal, error) {
	sess, err := a.open(ctx)
	if err != nil {
		return nil, err
	}

	select {
	case <-time.After(a.settle):
	case <-sess.done:
		return nil, sess.endErr()
	case <-ctx.Done():
		a.endSession(sess, fmt.Errorf("%w: %w", adapter.ErrConnection, ctx.Err()))
		return nil, fmt.Errorf("%w: collecting retained state: %w", adapter.ErrConnection, ctx.Err())
	}

	snapshot := sess.finishSnapshot()
	a.logger.Debug("mqtt snapshot collected", "adapter", a.name, "signals", len(snapshot))
	return snapshot, nil
}

// Events returns the live channel of the session opened by FetchAll. If
// that channel was already handed out, a new session is opened and its
// retained messages are delivered as events.
func (a *Adapter) Events(ctx context.Context) (<-chan signal.Signal, error) {
	a.mu.Lock()
	sess := a.sess
	reuse := sess != nil && !sess.isEnded() && !sess.claimed
	if reuse {
		sess.claimed = true
	}
	a.mu.Unlock()

	if !reuse {
		var err error
		sess, err = a.open(ctx)
		if err != nil {
			return nil, err
		}
		sess.finishSnapshot()
		a.mu.Lock()
		sess.claimed = true
		a.mu.Unlock()
	}

	stop := context.AfterFunc(ctx, func() {
		a.endSession(sess, fmt.Errorf("%w: %w", adapter.ErrClosed, ctx.Err()))
	})
	go func() {
		<-sess.done
		stop()
	}()

	return sess.out, nil
}

// Close ends the current session. Safe to call more than once.
func (a *Adapter) Close() error {
	a.mu.Lock()
	a.closed = true
	sess := a.sess
	a.mu.Unlock()

	if sess != nil {
		a.endSession(sess, adapter.ErrClosed)
	}
	return nil
}

// open dials the broker and subscribes, replacing any previous session.
func (a *Adapter) open(ctx context.Context) (*session, error) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil, adapter.ErrClosed
	}
	prev := a.sess
	a.mu.Unlock()

	if prev != nil {
		a.endSession(prev, fmt.Errorf("%w: superseded by new session", adapter.ErrConnection))
	}

	client, err := a.dial(ctx, a.opts)
	if err != nil {
		if errors.Is(err, mqtt.ErrInvalidOptions) {
			return nil, fmt.Errorf("%w: %w", adapter.ErrInvalidConfig, err)
		}
		return nil, fmt.Errorf("%w: %w", adapter.ErrConnection, err)
	}

	sess := newSession(client, a.buffer)
	client.SetOnDisconnect(func(err error) {
		a.logger.Warn("mqtt connection lost", "adapter", a.name, "error", err)
		a.endSession(sess, fmt.Errorf("%w: %w", adapter.ErrConnection, err))
	})

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		_ = client.Close()
		return nil, adapter.ErrClosed
	}
	a.sess = sess
	a.mu.Unlock()

	if err := client.Subscribe(a.filter, a.qos, a.handler(sess)); err != nil {
		a.endSession(sess, fmt.Errorf("%w: %w", adapter.ErrConnection, err))
		return nil, fmt.Errorf("%w: subscribe %s: %w", adapter.ErrConnection, a.filter, err)
	}
	return sess, nil
}

// handler normalizes messages for one session. Messages on topics outside
// the subscription filter are ignored.
func (a *Adapter) handler(sess *session) mqtt.MessageHandler {
	return func(topic string, payload []byte, _ bool) error {
		if !mqtt.MatchTopic(a.filter, topic) {
			a.logger.Debug("mqtt message outside filter ignored", "adapter", a.name, "topic", topic)
			return nil
		}
		for _, sig := range normalizeMessage(a.prefix, topic, payload) {
			if !sess.deliver(sig) {
				n := a.dropped.Add(1)
				a.dropLog.Do(func() {
					a.logger.Warn("mqtt event queue full, dropping", "adapter", a.name, "signal_id", sig.ID, "dropped_total", n)
				})
			}
		}
		return nil
	}
}

// endSession stops sess and records why.
func (a *Adapter) endSession(sess *session, err error) {
	if !sess.end(err) {
		return
	}
	_ = sess.client.Close()

	a.mu.Lock()
	if a.sess == sess {
		a.streamErr = err
	}
	a.mu.Unlock()
}

// session is one broker connection and its subscription.
type session struct {
	client stateClient
	out    chan signal.Signal
	done   chan struct{}

	// claimed is guarded by Adapter.mu.
	claimed bool

	mu       sync.Mutex
	snapshot map[string]signal.Signal // non-nil while collecting
	ended    bool
	err      error
}

func newSession(client stateClient, buffer int) *session {
	return &session{
		client:   client,
		out:      make(chan signal.Signal, buffer),
		done:     make(chan struct{}),
		snapshot: make(map[string]signal.Signal),
	}
}

// deliver routes sig to the snapshot or the live channel. It returns false
// when the live channel is full.
func (s *session) deliver(sig signal.Signal) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return true
	}
	if s.snapshot != nil {
		s.snapshot[sig.ID] = sig
		return true
	}
	select {
	case s.out <- sig:
		return true
	default:
		return false
	}
}

// finishSnapshot switches the session to live delivery and returns what
// was collected.
func (s *session) finishSnapshot() map[string]signal.Signal {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := maps.Clone(s.snapshot)
	s.snapshot = nil
	return snap
}

// end closes the live channel once. It reports whether this call ended it.
func (s *session) end(err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return false
	}
	s.ended = true
	s.err = err
	close(s.out)
	close(s.done)
	return true
}

func (s *session) isEnded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

func (s *session) endErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

var _ adapter.Adapter = (*Adapter)(nil)
var _ adapter.StreamErrorer = (*Adapter)(nil)
