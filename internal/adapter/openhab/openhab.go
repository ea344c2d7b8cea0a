package openhab

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-live/internal/adapter"
	"github.com/nerrad567/gray-logic-live/internal/signal"
)

// TypeName is the registry name of this adapter.
const TypeName = "openhab"

const (
	defaultPrefix  = "oh"
	defaultTimeout = 10 * time.Second

	// eventBuffer is the depth of the channel returned by Events.
	eventBuffer = 64

	itemsPath  = "/rest/items"
	eventsPath = "/rest/events"
	eventTopic = "openhab/items/*/statechanged"

	stateChangedEvent      = "ItemStateChangedEvent"
	groupStateChangedEvent = "GroupItemStateChangedEvent"
)

func init() {
	adapter.Register(TypeName, func(cfg adapter.Config) (adapter.Adapter, error) {
		return New(cfg)
	})
}

// Adapter reads item state from an openHAB server.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Close interrupts in-flight FetchAll and Events calls.
type Adapter struct {
	name    string
	prefix  string
	baseURL string
	filter  string
	user    string
	pass    string
	token   string
	logger  adapter.Logger

	transport *http.Transport
	client    *http.Client // bounded requests
	stream    *http.Client // unbounded SSE reads

	// normalize is swapped in tests to exercise defect handling.
	normalize func(prefix string, it Item, state string) signal.Signal

	itemsMu sync.RWMutex
	items   map[string]Item

	connected atomic.Bool
	errMu     sync.Mutex
	streamErr error

	base      context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// New creates an openHAB adapter. cfg.URL is the server root
// ("http://openhab:8080"); cfg.Filter, when set, restricts items to those
// carrying that tag.
func New(cfg adapter.Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: %s: url is required", adapter.ErrInvalidConfig, cfg.Name)
	}
	u, err := url.Parse(cfg.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: %s: invalid url %q", adapter.ErrInvalidConfig, cfg.Name, cfg.URL)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	base, cancel := context.WithCancel(context.Background())

	return &Adapter{
		name:      cfg.Name,
		prefix:    prefix,
		baseURL:   strings.TrimRight(cfg.URL, "/"),
		filter:    cfg.Filter,
		user:      cfg.Username,
		pass:      cfg.Password,
		token:     cfg.Token,
		logger:    cfg.Log(),
		transport: transport,
		client:    &http.Client{Transport: transport, Timeout: timeout},
		stream:    &http.Client{Transport: transport},
		normalize: Normalize,
		items:     make(map[string]Item),
		base:      base,
		cancel:    cancel,
	}, nil
}

// Name returns the configured instance name.
func (a *Adapter) Name() string { return a.name }

// Type returns the registry type name.
func (a *Adapter) Type() string { return TypeName }

// Prefix returns the namespace of every signal ID this adapter emits.
func (a *Adapter) Prefix() string { return a.prefix }

// IsConnected reports whether the last request to openHAB succeeded.
func (a *Adapter) IsConnected() bool { return a.connected.Load() }

// StreamErr returns why the last Events channel closed.
func (a *Adapter) StreamErr() error {
	a.errMu.Lock()
	defer a.errMu.Unlock()
	return a.streamErr
}

// FetchAll loads every (tag-filtered) item and normalizes its state.
func (a *Adapter) FetchAll(ctx context.Context) (map[string]signal.Signal, error) {
	if a.closed() {
		return nil, adapter.ErrClosed
	}
	ctx, stop := a.bind(ctx)
	defer stop()

	q := url.Values{}
	q.Set("recursive", "false")
	if a.filter != "" {
		q.Set("tags", a.filter)
	}

	resp, err := a.do(ctx, a.client, itemsPath+"?"+q.Encode(), "application/json")
	if err != nil {
		a.connected.Store(false)
		return nil, err
	}
	defer resp.Body.Close()

	var items []Item
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		a.connected.Store(false)
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: reading items: %w", adapter.ErrConnection, err)
		}
		return nil, fmt.Errorf("%w: decoding items: %w", adapter.ErrProtocol, err)
	}

	byName := make(map[string]Item, len(items))
	out := make(map[string]signal.Signal, len(items))
	for _, it := range items {
		if it.Name == "" {
			continue
		}
		byName[it.Name] = it
		if sig, ok := a.normalizeItem(it, it.State); ok {
			out[sig.ID] = sig
		}
	}

	a.itemsMu.Lock()
	a.items = byName
	a.itemsMu.Unlock()

	a.connected.Store(true)
	a.logger.Debug("openhab items fetched", "adapter", a.name, "items", len(items), "signals", len(out))
	return out, nil
}

// Events opens the server-sent event stream of item state changes.
func (a *Adapter) Events(ctx context.Context) (<-chan signal.Signal, error) {
	if a.closed() {
		return nil, adapter.ErrClosed
	}
	ctx, stop := a.bind(ctx)

	q := url.Values{}
	q.Set("topics", eventTopic)
	resp, err := a.do(ctx, a.stream, eventsPath+"?"+q.Encode(), "text/event-stream")
	if err != nil {
		stop()
		a.connected.Store(false)
		return nil, err
	}

	a.setStreamErr(nil)
	a.connected.Store(true)

	out := make(chan signal.Signal, eventBuffer)
	go a.readStream(ctx, stop, resp.Body, out)
	return out, nil
}

// Close cancels in-flight requests and releases idle connections.
func (a *Adapter) Close() error {
	a.closeOnce.Do(func() {
		a.cancel()
		a.transport.CloseIdleConnections()
		a.connected.Store(false)
	})
	return nil
}

func (a *Adapter) closed() bool {
	return a.base.Err() != nil
}

// bind derives a context that also ends when the adapter is closed.
func (a *Adapter) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stopAfter := context.AfterFunc(a.base, cancel)
	return ctx, func() {
		stopAfter()
		cancel()
	}
}

// do issues an authenticated GET and classifies failures.
func (a *Adapter) do(ctx context.Context, client *http.Client, path, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %w", adapter.ErrProtocol, err)
	}
	req.Header.Set("Accept", accept)
	switch {
	case a.token != "":
		req.Header.Set("Authorization", "Bearer "+a.token)
	case a.user != "":
		req.SetBasicAuth(a.user, a.pass)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", adapter.ErrConnection, a.baseURL, err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		sentinel := adapter.ErrProtocol
		if resp.StatusCode >= http.StatusInternalServerError {
			sentinel = adapter.ErrConnection
		}
		return nil, fmt.Errorf("%w: GET %s: status %d: %s", sentinel, path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return resp, nil
}

// readStream pumps SSE events into out until the body ends or ctx is done.
func (a *Adapter) readStream(ctx context.Context, stop context.CancelFunc, body io.ReadCloser, out chan<- signal.Signal) {
	defer close(out)
	defer stop()
	defer body.Close()

	// Unblock the scanner when ctx ends.
	unblock := context.AfterFunc(ctx, func() { body.Close() })
	defer unblock()

	err := readEvents(body, func(data string) bool {
		sig, ok := a.handleEvent(data)
		if !ok {
			return true
		}
		select {
		case out <- sig:
			return true
		case <-ctx.Done():
			return false
		}
	})

	a.connected.Store(false)
	switch {
	case ctx.Err() != nil:
		a.setStreamErr(fmt.Errorf("%w: %w", adapter.ErrClosed, ctx.Err()))
	case err != nil:
		a.setStreamErr(fmt.Errorf("%w: event stream: %w", adapter.ErrConnection, err))
		a.logger.Warn("openhab event stream failed", "adapter", a.name, "error", err)
	default:
		a.setStreamErr(fmt.Errorf("%w: event stream closed by server", adapter.ErrConnection))
		a.logger.Warn("openhab event stream closed by server", "adapter", a.name)
	}
}

// handleEvent decodes one SSE data block into a signal. ok is false for
// events that carry no item state or refer to unknown items.
func (a *Adapter) handleEvent(data string) (signal.Signal, bool) {
	var ev event
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		a.logger.Debug("openhab event not understood", "adapter", a.name, "error", err)
		return signal.Signal{}, false
	}
	if ev.Type != stateChangedEvent && ev.Type != groupStateChangedEvent {
		return signal.Signal{}, false
	}

	name, ok := itemFromTopic(ev.Topic)
	if !ok {
		return signal.Signal{}, false
	}

	var payload statePayload
	if err := json.Unmarshal([]byte(ev.Payload), &payload); err != nil {
		a.logger.Warn("openhab event payload invalid", "adapter", a.name, "item", name, "error", err)
		return signal.Signal{}, false
	}

	a.itemsMu.RLock()
	it, known := a.items[name]
	a.itemsMu.RUnlock()
	if !known {
		return signal.Signal{}, false
	}

	return a.normalizeItem(it, payload.Value)
}

// itemFromTopic extracts the item name from
// "openhab/items/{name}/statechanged" or, for group aggregates,
// "openhab/items/{group}/{member}/statechanged".
func itemFromTopic(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) < 4 || len(parts) > 5 || parts[0] != "openhab" || parts[1] != "items" || parts[len(parts)-1] != "statechanged" {
		return "", false
	}
	return parts[2], parts[2] != ""
}

// normalizeItem converts one item state, containing any panic to this item.
func (a *Adapter) normalizeItem(it Item, state string) (sig signal.Signal, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("normalization defect",
				"defect", true,
				"adapter", a.name,
				"item", it.Name,
				"item_type", it.Type,
				"state", state,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			sig, ok = signal.Signal{}, false
		}
	}()
	return a.normalize(a.prefix, it, state), true
}

func (a *Adapter) setStreamErr(err error) {
	a.errMu.Lock()
	a.streamErr = err
	a.errMu.Unlock()
}

var _ adapter.Adapter = (*Adapter)(nil)
var _ adapter.StreamErrorer = (*Adapter)(nil)
