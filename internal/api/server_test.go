package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-live/internal/history"
	"github.com/nerrad567/gray-logic-live/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-live/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-live/internal/manager"
	"github.com/nerrad567/gray-logic-live/internal/signal"
	"github.com/nerrad567/gray-logic-live/internal/store"
)

type fakeHealth struct {
	mu      sync.Mutex
	entries []manager.Health
}

func (f *fakeHealth) Health() []manager.Health {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]manager.Health(nil), f.entries...)
}

type fakeHistory struct {
	entries   map[string][]history.Entry
	err       error
	lastLimit int
}

func (f *fakeHistory) History(_ context.Context, id string, limit int) ([]history.Entry, error) {
	f.lastLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	return f.entries[id], nil
}

type testDeps struct {
	store   *store.Store
	health  *fakeHealth
	history *fakeHistory
}

func number(id string, v float64, unit string) signal.Signal {
	return signal.Signal{
		ID:           id,
		Value:        signal.NumberValue(v),
		DisplayValue: signal.NumberValue(v).String() + " " + unit,
		Unit:         unit,
		Label:        id,
		Available:    true,
		Type:         signal.TypeNumber,
	}
}

// testServer creates a Server over a real store with fake health and history.
func testServer(t *testing.T, mutate ...func(*Deps)) (*Server, testDeps) {
	t.Helper()

	td := testDeps{
		store:   store.New(store.DefaultConfig()),
		health:  &fakeHealth{},
		history: &fakeHistory{entries: map[string][]history.Entry{}},
	}
	t.Cleanup(td.store.Close)

	deps := Deps{
		Config: config.APIConfig{Host: "127.0.0.1", Port: 0},
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logger:  logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test"),
		Store:   td.store,
		Health:  td.health,
		History: td.history,
		Version: "test",
	}
	for _, fn := range mutate {
		fn(&deps)
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(func() { srv.Close() })
	return srv, td
}

func get(t *testing.T, srv *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// ─── Construction ──────────────────────────────────────────────────

func TestNew_RequiresDependencies(t *testing.T) {
	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
	st := store.New(store.DefaultConfig())
	defer st.Close()

	tests := []struct {
		name string
		deps Deps
	}{
		{"no logger", Deps{Store: st, Health: &fakeHealth{}}},
		{"no store", Deps{Logger: log, Health: &fakeHealth{}}},
		{"no health", Deps{Logger: log, Store: st}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.deps); err == nil {
				t.Error("New() expected error, got nil")
			}
		})
	}
}

func TestHealthCheck_NotStarted(t *testing.T) {
	srv, _ := testServer(t)
	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() expected error before Start")
	}
}

func TestStartAndClose(t *testing.T) {
	srv, _ := testServer(t)
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() after Start = %v", err)
	}
	if err := srv.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() expected error after Close")
	}
}

// ─── Health Endpoint ───────────────────────────────────────────────

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		entries    []manager.Health
		wantStatus string
		wantConn   int
	}{
		{"no adapters", nil, "healthy", 0},
		{"all connected", []manager.Health{
			{Name: "oh", AdapterType: "openhab", Connected: true, State: manager.StateConnected},
		}, "healthy", 1},
		{"one down", []manager.Health{
			{Name: "oh", AdapterType: "openhab", Connected: true, State: manager.StateConnected},
			{Name: "bus", AdapterType: "mqtt", LastError: "adapter: connection failed", State: manager.StateFailed},
		}, "degraded", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, td := testServer(t)
			td.health.entries = tt.entries

			w := get(t, srv, "/api/v1/health")
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q, want application/json", ct)
			}

			var resp healthResponse
			decode(t, w, &resp)
			if resp.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", resp.Status, tt.wantStatus)
			}
			if resp.Connected != tt.wantConn || resp.Total != len(tt.entries) {
				t.Errorf("connected/total = %d/%d, want %d/%d", resp.Connected, resp.Total, tt.wantConn, len(tt.entries))
			}
			if resp.Version != "test" {
				t.Errorf("version = %q, want test", resp.Version)
			}
		})
	}
}

// ─── Middleware ────────────────────────────────────────────────────

func TestRequestID_Generated(t *testing.T) {
	srv, _ := testServer(t)
	w := get(t, srv, "/api/v1/health")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}
}

func TestRequestID_PreservesClient(t *testing.T) {
	srv, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want %q", got, "client-123")
	}
}

func TestCORS(t *testing.T) {
	srv, _ := testServer(t, func(d *Deps) {
		d.Config.CORS.AllowedOrigins = []string{"http://panel.local"}
	})

	tests := []struct {
		name       string
		origin     string
		wantHeader string
	}{
		{"allowed origin", "http://panel.local", "http://panel.local"},
		{"other origin", "http://evil.example", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodOptions, "/api/v1/signals", nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()
			srv.Handler().ServeHTTP(w, req)

			if w.Code != http.StatusNoContent {
				t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantHeader {
				t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, tt.wantHeader)
			}
		})
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	srv, _ := testServer(t)
	h := srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("handler bug")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	var body Error
	decode(t, w, &body)
	if body.Code != ErrCodeInternal {
		t.Errorf("code = %q, want %q", body.Code, ErrCodeInternal)
	}
}

// ─── Signal Endpoints ──────────────────────────────────────────────

func TestListSignals(t *testing.T) {
	srv, td := testServer(t)
	td.store.SetMany(map[string]signal.Signal{
		"oh:Temp":                number("oh:Temp", 21.5, "°C"),
		"oh:Humidity":            number("oh:Humidity", 40, "%"),
		"mqtt:dali.ballast-4.lx": number("mqtt:dali.ballast-4.lx", 300, "lx"),
	})

	tests := []struct {
		target  string
		wantIDs []string
	}{
		{"/api/v1/signals", []string{"mqtt:dali.ballast-4.lx", "oh:Humidity", "oh:Temp"}},
		{"/api/v1/signals?prefix=oh:", []string{"oh:Humidity", "oh:Temp"}},
		{"/api/v1/signals?prefix=kv:", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			w := get(t, srv, tt.target)
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d", w.Code)
			}
			var resp signalListResponse
			decode(t, w, &resp)

			if resp.Count != len(tt.wantIDs) || len(resp.Signals) != len(tt.wantIDs) {
				t.Fatalf("count = %d (%d signals), want %d", resp.Count, len(resp.Signals), len(tt.wantIDs))
			}
			for i, id := range tt.wantIDs {
				if resp.Signals[i].ID != id {
					t.Errorf("signals[%d].ID = %q, want %q", i, resp.Signals[i].ID, id)
				}
			}
		})
	}
}

func TestGetSignal(t *testing.T) {
	srv, td := testServer(t)
	want := number("oh:Temp", 21.5, "°C")
	td.store.SetMany(map[string]signal.Signal{want.ID: want})

	w := get(t, srv, "/api/v1/signals/oh:Temp")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var got signal.Signal
	decode(t, w, &got)
	if !got.Equal(want) {
		t.Errorf("signal = %+v, want %+v", got, want)
	}

	w = get(t, srv, "/api/v1/signals/oh:Missing")
	if w.Code != http.StatusNotFound {
		t.Errorf("missing status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestSignalHistory(t *testing.T) {
	recorded := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		target    string
		disabled  bool
		setup     func(testDeps)
		wantCode  int
		wantCount int
		wantLimit int
	}{
		{
			name:     "disabled",
			target:   "/api/v1/signals/oh:Temp/history",
			disabled: true,
			wantCode: http.StatusServiceUnavailable,
		},
		{
			name:     "invalid limit",
			target:   "/api/v1/signals/oh:Temp/history?limit=abc",
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "limit too large",
			target:   "/api/v1/signals/oh:Temp/history?limit=500",
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "unknown signal",
			target:   "/api/v1/signals/oh:Nope/history",
			wantCode: http.StatusNotFound,
		},
		{
			name:   "known signal without entries",
			target: "/api/v1/signals/oh:Temp/history",
			setup: func(td testDeps) {
				td.store.SetMany(map[string]signal.Signal{"oh:Temp": number("oh:Temp", 21.5, "°C")})
			},
			wantCode:  http.StatusOK,
			wantLimit: defaultHistoryLimit,
		},
		{
			name:   "recorded entries",
			target: "/api/v1/signals/oh:Temp/history?limit=10",
			setup: func(td testDeps) {
				td.history.entries["oh:Temp"] = []history.Entry{
					{ID: 2, Signal: number("oh:Temp", 22, "°C"), RecordedAt: recorded.Add(time.Minute)},
					{ID: 1, Signal: number("oh:Temp", 21.5, "°C"), RecordedAt: recorded},
				}
			},
			wantCode:  http.StatusOK,
			wantCount: 2,
			wantLimit: 10,
		},
		{
			name:   "read failure",
			target: "/api/v1/signals/oh:Temp/history",
			setup: func(td testDeps) {
				td.history.err = errors.New("database is locked")
			},
			wantCode: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, td := testServer(t, func(d *Deps) {
				if tt.disabled {
					d.History = nil
				}
			})
			if tt.setup != nil {
				tt.setup(td)
			}

			w := get(t, srv, tt.target)
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.wantCode, w.Body.String())
			}
			if tt.wantCode != http.StatusOK {
				return
			}

			var resp historyResponse
			decode(t, w, &resp)
			if resp.Count != tt.wantCount {
				t.Errorf("count = %d, want %d", resp.Count, tt.wantCount)
			}
			if td.history.lastLimit != tt.wantLimit {
				t.Errorf("limit passed = %d, want %d", td.history.lastLimit, tt.wantLimit)
			}
		})
	}
}

func TestSystem(t *testing.T) {
	srv, td := testServer(t)
	td.store.SetMany(map[string]signal.Signal{"oh:Temp": number("oh:Temp", 21.5, "°C")})
	td.health.entries = []manager.Health{{Name: "oh", Connected: true}, {Name: "bus"}}

	w := get(t, srv, "/api/v1/system")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp SystemMetrics
	decode(t, w, &resp)

	if resp.Store.Signals != 1 {
		t.Errorf("store.signals = %d, want 1", resp.Store.Signals)
	}
	if resp.Adapters.Total != 2 || resp.Adapters.Connected != 1 {
		t.Errorf("adapters = %+v, want 1 of 2 connected", resp.Adapters)
	}
	if resp.Runtime.Goroutines == 0 {
		t.Error("runtime.goroutines = 0")
	}
	if len(resp.Dependencies) != 0 {
		t.Errorf("dependencies = %+v, want none without checks", resp.Dependencies)
	}
}

type checkFunc func(ctx context.Context) error

func (f checkFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

func TestSystem_Dependencies(t *testing.T) {
	srv, _ := testServer(t, func(d *Deps) {
		d.Checks = map[string]HealthChecker{
			"influxdb": checkFunc(func(context.Context) error { return errors.New("influxdb health check failed: server not healthy") }),
			"database": checkFunc(func(context.Context) error { return nil }),
		}
	})

	w := get(t, srv, "/api/v1/system")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp SystemMetrics
	decode(t, w, &resp)

	want := []DependencyStatus{
		{Name: "database", Status: "ok"},
		{Name: "influxdb", Status: "error", Error: "influxdb health check failed: server not healthy"},
	}
	if len(resp.Dependencies) != len(want) {
		t.Fatalf("dependencies = %+v, want %+v", resp.Dependencies, want)
	}
	for i := range want {
		if resp.Dependencies[i] != want[i] {
			t.Errorf("dependencies[%d] = %+v, want %+v", i, resp.Dependencies[i], want[i])
		}
	}
}

func TestMetricsRoute(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("graylive_store_subscribers 0\n")) //nolint:errcheck // test handler
	})

	srv, _ := testServer(t, func(d *Deps) {
		d.Metrics = metrics
		d.MetricsPath = "/metrics"
	})
	w := get(t, srv, "/metrics")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "graylive_store_subscribers") {
		t.Errorf("GET /metrics = %d %q", w.Code, w.Body.String())
	}

	bare, _ := testServer(t)
	if w := get(t, bare, "/metrics"); w.Code != http.StatusNotFound {
		t.Errorf("GET /metrics without handler = %d, want 404", w.Code)
	}
}

// ─── Event Stream ──────────────────────────────────────────────────

// readEvent reads one SSE block, skipping comment-only blocks.
func readEvent(t *testing.T, r *bufio.Reader) map[string]string {
	t.Helper()
	for {
		fields := map[string]string{}
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				t.Fatalf("reading stream: %v", err)
			}
			line = strings.TrimRight(line, "\n")
			if line == "" {
				break
			}
			if strings.HasPrefix(line, ":") {
				continue
			}
			k, v, _ := strings.Cut(line, ": ")
			fields[k] = v
		}
		if len(fields) > 0 {
			return fields
		}
	}
}

func TestStream(t *testing.T) {
	srv, td := testServer(t)
	td.store.SetMany(map[string]signal.Signal{"oh:Temp": number("oh:Temp", 21.5, "°C")})

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/v1/stream?snapshot=true", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET stream: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}
	r := bufio.NewReader(resp.Body)

	ev := readEvent(t, r)
	if ev["event"] != sseEventSignal || ev["id"] != "1" {
		t.Errorf("snapshot event = %v", ev)
	}
	var snap signal.Signal
	if err := json.Unmarshal([]byte(ev["data"]), &snap); err != nil {
		t.Fatalf("snapshot data: %v", err)
	}
	if snap.ID != "oh:Temp" {
		t.Errorf("snapshot signal = %q, want oh:Temp", snap.ID)
	}

	td.store.Publish(number("oh:Temp", 22, "°C"))

	ev = readEvent(t, r)
	if ev["id"] != "2" {
		t.Errorf("event id = %q, want 2", ev["id"])
	}
	var got signal.Signal
	if err := json.Unmarshal([]byte(ev["data"]), &got); err != nil {
		t.Fatalf("event data: %v", err)
	}
	if n, _ := got.Value.AsNumber(); n != 22 {
		t.Errorf("value = %v, want 22", got.Value)
	}

	// Disconnecting releases the store subscription.
	cancel()
	waitFor(t, "subscription release", func() bool { return td.store.SubscriberCount() == 0 })
}

func TestStream_PrefixFilter(t *testing.T) {
	srv, td := testServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/stream?prefix=mqtt:")
	if err != nil {
		t.Fatalf("GET stream: %v", err)
	}
	defer resp.Body.Close()
	r := bufio.NewReader(resp.Body)

	td.store.Publish(number("oh:Temp", 21.5, "°C"))
	td.store.Publish(number("mqtt:knx.1-2-3.level", 80, "%"))

	ev := readEvent(t, r)
	if !strings.Contains(ev["data"], `"mqtt:knx.1-2-3.level"`) {
		t.Errorf("first event = %v, want the mqtt signal", ev)
	}
}

func TestStream_EndsOnClose(t *testing.T) {
	srv, td := testServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/stream")
	if err != nil {
		t.Fatalf("GET stream: %v", err)
	}
	defer resp.Body.Close()

	td.store.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 256)
		for {
			if _, err := resp.Body.Read(buf); err != nil {
				return
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end after store close")
	}
}

// ─── WebSocket ─────────────────────────────────────────────────────

func dialWS(t *testing.T, ts *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

type wsReply struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

func readWS(t *testing.T, conn *websocket.Conn) wsReply {
	t.Helper()
	//nolint:errcheck // test deadline
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg wsReply
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func TestWebSocket_SnapshotAndSignals(t *testing.T) {
	srv, td := testServer(t)
	td.store.SetMany(map[string]signal.Signal{"oh:Temp": number("oh:Temp", 21.5, "°C")})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn := dialWS(t, ts, "")

	snap := readWS(t, conn)
	if snap.Type != WSTypeSnapshot {
		t.Fatalf("first message type = %q, want %q", snap.Type, WSTypeSnapshot)
	}
	var signals []signal.Signal
	if err := json.Unmarshal(snap.Payload, &signals); err != nil {
		t.Fatalf("snapshot payload: %v", err)
	}
	if len(signals) != 1 || signals[0].ID != "oh:Temp" {
		t.Errorf("snapshot = %+v", signals)
	}

	td.store.Publish(number("oh:Temp", 23, "°C"))
	msg := readWS(t, conn)
	if msg.Type != WSTypeSignal {
		t.Fatalf("type = %q, want %q", msg.Type, WSTypeSignal)
	}
	var got signal.Signal
	if err := json.Unmarshal(msg.Payload, &got); err != nil {
		t.Fatalf("signal payload: %v", err)
	}
	if n, _ := got.Value.AsNumber(); n != 23 {
		t.Errorf("value = %v, want 23", got.Value)
	}

	if err := conn.WriteJSON(WSMessage{Type: WSTypePing, ID: "p1"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	pong := readWS(t, conn)
	if pong.Type != WSTypePong || pong.ID != "p1" {
		t.Errorf("reply = %+v, want pong p1", pong)
	}
}

func TestWebSocket_Subscribe(t *testing.T) {
	srv, td := testServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn := dialWS(t, ts, "")
	readWS(t, conn) // snapshot

	err := conn.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "s1",
		Payload: WSSubscribePayload{Prefixes: []string{"mqtt:"}},
	})
	if err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	if reply := readWS(t, conn); reply.Type != WSTypeResponse || reply.ID != "s1" {
		t.Fatalf("subscribe reply = %+v", reply)
	}

	td.store.Publish(number("oh:Temp", 21.5, "°C"))
	td.store.Publish(number("mqtt:knx.1-2-3.level", 80, "%"))

	msg := readWS(t, conn)
	if !strings.Contains(string(msg.Payload), `"mqtt:knx.1-2-3.level"`) {
		t.Errorf("message = %s, want the mqtt signal", msg.Payload)
	}
}

func TestWebSocket_InvalidMessage(t *testing.T) {
	srv, _ := testServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn := dialWS(t, ts, "")
	readWS(t, conn) // snapshot

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatal(err)
	}
	if reply := readWS(t, conn); reply.Type != WSTypeError {
		t.Errorf("reply type = %q, want %q", reply.Type, WSTypeError)
	}

	if err := conn.WriteJSON(WSMessage{Type: "command", ID: "c1"}); err != nil {
		t.Fatal(err)
	}
	if reply := readWS(t, conn); reply.Type != WSTypeError || reply.ID != "c1" {
		t.Errorf("reply = %+v, want error c1", reply)
	}
}

func TestWebSocket_ClosedByServer(t *testing.T) {
	srv, td := testServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn := dialWS(t, ts, "")
	readWS(t, conn) // snapshot
	waitFor(t, "client registration", func() bool { return srv.hub.ClientCount() == 1 })

	if err := srv.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	//nolint:errcheck // test deadline
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected read error after server close")
	}
	waitFor(t, "subscription release", func() bool { return td.store.SubscriberCount() == 0 })
	if n := srv.hub.ClientCount(); n != 0 {
		t.Errorf("ClientCount() = %d, want 0", n)
	}
}
