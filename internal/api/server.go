package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-live/internal/history"
	"github.com/nerrad567/gray-logic-live/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-live/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-live/internal/manager"
	"github.com/nerrad567/gray-logic-live/internal/signal"
	"github.com/nerrad567/gray-logic-live/internal/store"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// SignalStore is the part of the signal store the API reads from.
type SignalStore interface {
	Get(id string) (signal.Signal, bool)
	GetAll() map[string]signal.Signal
	Len() int
	SubscriberCount() int
	Subscribe(ctx context.Context) *store.Subscription
}

// HealthReporter reports adapter health.
type HealthReporter interface {
	Health() []manager.Health
}

// HistoryReader reads recorded signal history.
type HistoryReader interface {
	History(ctx context.Context, id string, limit int) ([]history.Entry, error)
}

// HealthChecker is a backing service whose reachability /system reports.
// *database.DB and *influxdb.Client satisfy it.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	WS      config.WebSocketConfig
	Logger  *logging.Logger
	Store   SignalStore
	Health  HealthReporter
	History HistoryReader // optional; history routes answer 503 without it

	// Checks are the backing services reported by /system, keyed by name.
	Checks map[string]HealthChecker

	// Metrics is mounted at MetricsPath when both are set.
	Metrics     http.Handler
	MetricsPath string

	Version string
}

// Server is the HTTP API server for Gray Logic Live.
//
// It is created with New, started with Start and stopped with Close.
// Handler returns the router for use without a listener.
type Server struct {
	cfg         config.APIConfig
	wsCfg       config.WebSocketConfig
	logger      *logging.Logger
	store       SignalStore
	health      HealthReporter
	history     HistoryReader
	checks      map[string]HealthChecker
	metrics     http.Handler
	metricsPath string
	version     string
	startTime   time.Time

	ctx     context.Context
	cancel  context.CancelFunc
	hub     *Hub
	streams atomic.Int64
	handler http.Handler
	server  *http.Server
}

// New creates a new API server with the given dependencies.
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("signal store is required")
	}
	if deps.Health == nil {
		return nil, fmt.Errorf("health reporter is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:         deps.Config,
		wsCfg:       deps.WS,
		logger:      deps.Logger,
		store:       deps.Store,
		health:      deps.Health,
		history:     deps.History,
		checks:      deps.Checks,
		metrics:     deps.Metrics,
		metricsPath: deps.MetricsPath,
		version:     deps.Version,
		startTime:   time.Now(),
		ctx:         ctx,
		cancel:      cancel,
		hub:         NewHub(deps.Logger),
	}
	s.handler = s.buildRouter()
	return s, nil
}

// Handler returns the server's router.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start binds the listener and serves in a background goroutine.
//
// Parameters:
//   - ctx: Context for the bind only (not used for listener lifetime)
//
// Returns:
//   - error: If the address cannot be bound
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadTimeout:       config.Seconds(s.cfg.Timeouts.Read),
		ReadHeaderTimeout: config.Seconds(s.cfg.Timeouts.Read),
		WriteTimeout:      config.Seconds(s.cfg.Timeouts.Write),
		IdleTimeout:       config.Seconds(s.cfg.Timeouts.Idle),
		// Request contexts end when Close is called so open streams return
		// and Shutdown does not wait on them.
		BaseContext: func(net.Listener) context.Context { return s.ctx },
	}

	s.logger.Info("API server starting", "address", ln.Addr().String())
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close ends all streams and gracefully shuts down the listener.
//
// It waits up to 10 seconds for in-flight requests to complete.
func (s *Server) Close() error {
	s.cancel()
	s.hub.closeAll()

	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	if s.ctx.Err() != nil {
		return fmt.Errorf("api server closed")
	}
	return nil
}
