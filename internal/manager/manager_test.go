package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-live/internal/adapter"
	"github.com/nerrad567/gray-logic-live/internal/signal"
	"github.com/nerrad567/gray-logic-live/internal/store"
)

// ============================================================================
// Test doubles
// ============================================================================

// fakeAdapter is a scriptable adapter. fetch decides the result of each
// FetchAll call; every Events call opens a channel that is handed to the
// test through opened.
type fakeAdapter struct {
	name   string
	prefix string
	fetch  func(call int) (map[string]signal.Signal, error)
	opened chan chan signal.Signal

	fetchCalls atomic.Int32
	closeCalls atomic.Int32
	closeBlock chan struct{}

	mu        sync.Mutex
	streamErr error
}

func newFake(name string, fetch func(call int) (map[string]signal.Signal, error)) *fakeAdapter {
	return &fakeAdapter{
		name:   name,
		fetch:  fetch,
		opened: make(chan chan signal.Signal, 16),
	}
}

func (f *fakeAdapter) Name() string      { return f.name }
func (f *fakeAdapter) Type() string      { return "fake" }
func (f *fakeAdapter) Prefix() string {
	if f.prefix != "" {
		return f.prefix
	}
	return f.name
}
func (f *fakeAdapter) IsConnected() bool { return true }

func (f *fakeAdapter) FetchAll(context.Context) (map[string]signal.Signal, error) {
	n := int(f.fetchCalls.Add(1))
	return f.fetch(n)
}

func (f *fakeAdapter) Events(context.Context) (<-chan signal.Signal, error) {
	ch := make(chan signal.Signal, 16)
	f.opened <- ch
	return ch, nil
}

func (f *fakeAdapter) Close() error {
	f.closeCalls.Add(1)
	if f.closeBlock != nil {
		<-f.closeBlock
	}
	return nil
}

func (f *fakeAdapter) StreamErr() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streamErr
}

func (f *fakeAdapter) nextStream(t *testing.T) chan signal.Signal {
	t.Helper()
	select {
	case ch := <-f.opened:
		return ch
	case <-time.After(2 * time.Second):
		t.Fatalf("%s: event stream never opened", f.name)
		return nil
	}
}

func num(id string, v float64) signal.Signal {
	return signal.Signal{
		ID:           id,
		Value:        signal.NumberValue(v),
		DisplayValue: signal.FormatNumber(v),
		Available:    true,
		Type:         signal.TypeNumber,
	}
}

func snapshot(sigs ...signal.Signal) map[string]signal.Signal {
	out := make(map[string]signal.Signal, len(sigs))
	for _, s := range sigs {
		out[s.ID] = s
	}
	return out
}

func fastConfig() Config {
	return Config{
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     40 * time.Millisecond,
		FetchTimeout: time.Second,
		StopTimeout:  time.Second,
	}
}

func healthOf(t *testing.T, m *Manager, name string) Health {
	t.Helper()
	for _, h := range m.Health() {
		if h.Name == name {
			return h
		}
	}
	t.Fatalf("no health for %s", name)
	return Health{}
}

var errUnreachable = fmt.Errorf("%w: dial tcp: connection refused", adapter.ErrConnection)

// ============================================================================
// Registration
// ============================================================================

func TestAdd(t *testing.T) {
	m := New(store.New(store.DefaultConfig()), fastConfig())

	require.NoError(t, m.Add(newFake("a", nil)))

	err := m.Add(newFake("a", nil))
	assert.True(t, errors.Is(err, ErrDuplicateName))

	h := m.Health()
	require.Len(t, h, 1)
	assert.Equal(t, StateRegistered, h[0].State)
	assert.False(t, h[0].Connected)
}

func TestAddDuplicatePrefix(t *testing.T) {
	m := New(store.New(store.DefaultConfig()), fastConfig())

	house := newFake("house", nil)
	house.prefix = "oh"
	garage := newFake("garage", nil)
	garage.prefix = "oh"

	require.NoError(t, m.Add(house))
	err := m.Add(garage)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicatePrefix))
	assert.Contains(t, err.Error(), `"house"`)

	garage.prefix = "garage"
	require.NoError(t, m.Add(garage), "a distinct prefix is accepted")
	assert.Len(t, m.Health(), 2)
}

func TestAddAfterStart(t *testing.T) {
	m := New(store.New(store.DefaultConfig()), fastConfig())
	require.NoError(t, m.StartAll(context.Background()))
	defer m.StopAll()

	err := m.Add(newFake("late", nil))
	assert.True(t, errors.Is(err, ErrAlreadyStarted))
	assert.True(t, errors.Is(m.StartAll(context.Background()), ErrAlreadyStarted))
}

// ============================================================================
// Sync and streaming
// ============================================================================

func TestStartAllSeedsStore(t *testing.T) {
	st := store.New(store.DefaultConfig())
	m := New(st, fastConfig())

	fake := newFake("oh", func(int) (map[string]signal.Signal, error) {
		return snapshot(num("oh:a", 1), num("oh:b", 2)), nil
	})
	require.NoError(t, m.Add(fake))

	require.NoError(t, m.StartAll(context.Background()))
	defer m.StopAll()

	assert.Equal(t, 2, st.Len(), "snapshot is in the store when StartAll returns")

	h := healthOf(t, m, "oh")
	assert.True(t, h.Connected)
	assert.Equal(t, StateConnected, h.State)
	assert.Empty(t, h.LastError)
	assert.Equal(t, "fake", h.AdapterType)
}

func TestEventsArePublished(t *testing.T) {
	st := store.New(store.DefaultConfig())
	m := New(st, fastConfig())

	fake := newFake("oh", func(int) (map[string]signal.Signal, error) {
		return snapshot(num("oh:a", 1)), nil
	})
	require.NoError(t, m.Add(fake))

	sub := st.Subscribe(context.Background())
	defer sub.Close()

	require.NoError(t, m.StartAll(context.Background()))
	defer m.StopAll()

	stream := fake.nextStream(t)
	stream <- num("oh:a", 42)

	select {
	case sig := <-sub.C():
		assert.Equal(t, "oh:a", sig.ID)
		assert.Equal(t, signal.NumberValue(42), sig.Value)
	case <-time.After(2 * time.Second):
		t.Fatal("event was not published")
	}

	got, _ := st.Get("oh:a")
	assert.Equal(t, signal.NumberValue(42), got.Value)
}

func TestReconnectResyncs(t *testing.T) {
	st := store.New(store.DefaultConfig())
	m := New(st, fastConfig())

	fake := newFake("oh", func(call int) (map[string]signal.Signal, error) {
		return snapshot(num("oh:a", float64(call))), nil
	})
	require.NoError(t, m.Add(fake))

	require.NoError(t, m.StartAll(context.Background()))
	defer m.StopAll()

	fake.mu.Lock()
	fake.streamErr = fmt.Errorf("%w: stream reset", adapter.ErrConnection)
	fake.mu.Unlock()
	close(fake.nextStream(t))

	// The second stream only opens after a full resync.
	fake.nextStream(t)
	assert.GreaterOrEqual(t, int(fake.fetchCalls.Load()), 2)

	got, _ := st.Get("oh:a")
	n, _ := got.Value.AsNumber()
	assert.GreaterOrEqual(t, n, 2.0, "store reflects the resync snapshot")

	require.Eventually(t, func() bool {
		return healthOf(t, m, "oh").Connected
	}, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, healthOf(t, m, "oh").RetryCount, "retry count resets after reconnect")
}

// retryDelays records the delay until NextRetryAt each time a retry is
// scheduled.
type retryDelays struct {
	m *Manager

	mu     sync.Mutex
	delays []time.Duration
}

func (r *retryDelays) AdapterConnected(string, string, bool) {}

func (r *retryDelays) AdapterRetry(name string) {
	for _, h := range r.m.Health() {
		if h.Name != name || h.NextRetryAt == nil {
			continue
		}
		r.mu.Lock()
		r.delays = append(r.delays, time.Until(*h.NextRetryAt))
		r.mu.Unlock()
	}
}

func (r *retryDelays) snapshot() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

func TestRetryDelayResetsAfterReconnect(t *testing.T) {
	cfg := fastConfig()
	cfg.InitialDelay = 20 * time.Millisecond
	cfg.MaxDelay = time.Second
	m := New(store.New(store.DefaultConfig()), cfg)
	rec := &retryDelays{m: m}
	m.SetRecorder(rec)

	fake := newFake("oh", func(call int) (map[string]signal.Signal, error) {
		if call <= 3 {
			return nil, errUnreachable
		}
		return snapshot(num("oh:a", 1)), nil
	})
	require.NoError(t, m.Add(fake))
	require.NoError(t, m.StartAll(context.Background()))
	defer m.StopAll()

	fake.mu.Lock()
	fake.streamErr = fmt.Errorf("%w: stream reset", adapter.ErrConnection)
	fake.mu.Unlock()
	close(fake.nextStream(t))
	fake.nextStream(t)

	delays := rec.snapshot()
	require.Len(t, delays, 4, "three failed connects and one lost stream")
	assert.Greater(t, delays[1], delays[0])
	assert.Greater(t, delays[2], delays[1])
	assert.Greater(t, delays[2], 2*cfg.InitialDelay, "delay grew while failing")
	assert.LessOrEqual(t, delays[3], cfg.InitialDelay, "delay is back to the initial value after a success")
}

func TestStreamEndWithoutCause(t *testing.T) {
	st := store.New(store.DefaultConfig())
	cfg := fastConfig()
	cfg.InitialDelay = time.Hour
	cfg.MaxDelay = time.Hour
	m := New(st, cfg)

	fake := newFake("oh", func(int) (map[string]signal.Signal, error) { return nil, nil })
	require.NoError(t, m.Add(fake))
	require.NoError(t, m.StartAll(context.Background()))
	defer m.StopAll()

	close(fake.nextStream(t))

	require.Eventually(t, func() bool {
		return healthOf(t, m, "oh").State == StateDisconnected
	}, 2*time.Second, 5*time.Millisecond)

	h := healthOf(t, m, "oh")
	assert.False(t, h.Connected)
	assert.Equal(t, ErrStreamEnded.Error(), h.LastError)
	assert.Equal(t, 1, h.RetryCount)
	require.NotNil(t, h.NextRetryAt)
	assert.WithinDuration(t, time.Now().Add(time.Hour), *h.NextRetryAt, time.Minute)
}

// ============================================================================
// Failure isolation
// ============================================================================

func TestFailingAdapterDoesNotAffectOthers(t *testing.T) {
	st := store.New(store.DefaultConfig())
	m := New(st, fastConfig())

	bad := newFake("bad", func(int) (map[string]signal.Signal, error) {
		return nil, errUnreachable
	})
	good := newFake("good", func(int) (map[string]signal.Signal, error) {
		return snapshot(num("good:x", 1)), nil
	})
	require.NoError(t, m.Add(bad))
	require.NoError(t, m.Add(good))

	require.NoError(t, m.StartAll(context.Background()))
	defer m.StopAll()

	stream := good.nextStream(t)
	for i := range 5 {
		stream <- num("good:x", float64(i+10))
	}

	require.Eventually(t, func() bool {
		got, _ := st.Get("good:x")
		n, _ := got.Value.AsNumber()
		return n == 14
	}, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return healthOf(t, m, "bad").RetryCount >= 2
	}, 2*time.Second, 5*time.Millisecond)

	h := m.Health()
	require.Len(t, h, 2)
	assert.Equal(t, "bad", h[0].Name, "health is in registration order")
	assert.Equal(t, StateFailed, h[0].State, "never connected")
	assert.False(t, h[0].Connected)
	assert.Contains(t, h[0].LastError, "connection refused")

	assert.True(t, h[1].Connected)
	assert.Empty(t, h[1].LastError)
}

func TestHungAdapterDoesNotBlockOthers(t *testing.T) {
	st := store.New(store.DefaultConfig())
	cfg := fastConfig()
	cfg.FetchTimeout = 50 * time.Millisecond
	m := New(st, cfg)

	hung := &hangingAdapter{fakeAdapter: newFake("hung", nil)}
	good := newFake("good", func(int) (map[string]signal.Signal, error) {
		return snapshot(num("good:x", 1)), nil
	})
	require.NoError(t, m.Add(hung))
	require.NoError(t, m.Add(good))

	require.NoError(t, m.StartAll(context.Background()))
	defer m.StopAll()

	_, ok := st.Get("good:x")
	assert.True(t, ok)
	assert.True(t, healthOf(t, m, "good").Connected)
	assert.Contains(t, healthOf(t, m, "hung").LastError, context.DeadlineExceeded.Error())
}

// hangingAdapter blocks FetchAll until its context ends.
type hangingAdapter struct {
	*fakeAdapter
}

func (h *hangingAdapter) FetchAll(ctx context.Context) (map[string]signal.Signal, error) {
	<-ctx.Done()
	return nil, fmt.Errorf("%w: %w", adapter.ErrConnection, ctx.Err())
}

func TestSupervisorPanicIsContained(t *testing.T) {
	st := store.New(store.DefaultConfig())
	m := New(st, fastConfig())

	broken := newFake("broken", func(int) (map[string]signal.Signal, error) {
		panic("nil map write")
	})
	good := newFake("good", func(int) (map[string]signal.Signal, error) {
		return snapshot(num("good:x", 1)), nil
	})
	require.NoError(t, m.Add(broken))
	require.NoError(t, m.Add(good))

	require.NoError(t, m.StartAll(context.Background()))
	defer m.StopAll()

	h := healthOf(t, m, "broken")
	assert.Equal(t, StateFailed, h.State)
	assert.Equal(t, "internal error: nil map write", h.LastError)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), broken.fetchCalls.Load(), "panicked supervisor does not retry")
	assert.True(t, healthOf(t, m, "good").Connected)
}

// ============================================================================
// Shutdown
// ============================================================================

func TestStopAllBeforeStart(t *testing.T) {
	m := New(store.New(store.DefaultConfig()), fastConfig())
	fake := newFake("a", nil)
	require.NoError(t, m.Add(fake))

	m.StopAll()
	m.StopAll()

	assert.Equal(t, int32(1), fake.closeCalls.Load())
	assert.Equal(t, StateStopped, m.Health()[0].State)
	assert.True(t, errors.Is(m.StartAll(context.Background()), ErrStopped))
}

func TestStopAllInterruptsBackoff(t *testing.T) {
	cfg := fastConfig()
	cfg.InitialDelay = time.Hour
	cfg.MaxDelay = time.Hour
	m := New(store.New(store.DefaultConfig()), cfg)

	fake := newFake("down", func(int) (map[string]signal.Signal, error) {
		return nil, errUnreachable
	})
	require.NoError(t, m.Add(fake))
	require.NoError(t, m.StartAll(context.Background()))

	start := time.Now()
	m.StopAll()
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	h := m.Health()[0]
	assert.Equal(t, StateStopped, h.State)
	assert.False(t, h.Connected)
	assert.Nil(t, h.NextRetryAt)
	assert.Equal(t, int32(1), fake.closeCalls.Load())
}

func TestStopAllIsBounded(t *testing.T) {
	cfg := fastConfig()
	cfg.StopTimeout = 100 * time.Millisecond
	m := New(store.New(store.DefaultConfig()), cfg)

	fake := newFake("stuck", func(int) (map[string]signal.Signal, error) { return nil, nil })
	fake.closeBlock = make(chan struct{})
	defer close(fake.closeBlock)
	require.NoError(t, m.Add(fake))
	require.NoError(t, m.StartAll(context.Background()))

	start := time.Now()
	m.StopAll()
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
	assert.Equal(t, StateStopped, m.Health()[0].State)
}

func TestStartAllContextCancelled(t *testing.T) {
	cfg := fastConfig()
	m := New(store.New(store.DefaultConfig()), cfg)
	require.NoError(t, m.Add(&hangingAdapter{fakeAdapter: newFake("hung", nil)}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	// FetchTimeout (1s) outlives ctx, so StartAll returns on ctx first.
	err := m.StartAll(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	m.StopAll()
}

// recordingRecorder implements Recorder for testing.
type recordingRecorder struct {
	mu        sync.Mutex
	connected map[string]bool
	retries   map[string]int
}

func (r *recordingRecorder) AdapterConnected(name, _ string, connected bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected[name] = connected
}

func (r *recordingRecorder) AdapterRetry(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retries[name]++
}

func TestRecorderReceivesLifecycle(t *testing.T) {
	rec := &recordingRecorder{connected: map[string]bool{}, retries: map[string]int{}}
	m := New(store.New(store.DefaultConfig()), fastConfig())
	m.SetRecorder(rec)

	require.NoError(t, m.Add(newFake("up", func(int) (map[string]signal.Signal, error) { return nil, nil })))
	require.NoError(t, m.Add(newFake("down", func(int) (map[string]signal.Signal, error) { return nil, errUnreachable })))
	require.NoError(t, m.StartAll(context.Background()))

	rec.mu.Lock()
	assert.True(t, rec.connected["up"])
	assert.False(t, rec.connected["down"])
	assert.GreaterOrEqual(t, rec.retries["down"], 1)
	rec.mu.Unlock()

	m.StopAll()
	rec.mu.Lock()
	assert.False(t, rec.connected["up"])
	rec.mu.Unlock()
}
