// Gray Logic Live - live state distribution for smart-home sources.
//
// This is the main entry point for the Gray Logic Live service. It connects
// to the configured sources (openHAB, MQTT bridge state, NATS KV), keeps the
// latest value of every signal in memory and fans updates out to readers:
//   - the HTTP API (REST, Server-Sent Events, WebSocket)
//   - the optional SQLite signal history
//   - the optional InfluxDB telemetry writer
//
// Configuration is read from configs/config.yaml or $GRAYLIVE_CONFIG.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/gray-logic-live/internal/adapter"
	_ "github.com/nerrad567/gray-logic-live/internal/adapter/mqttstate"
	_ "github.com/nerrad567/gray-logic-live/internal/adapter/natskv"
	_ "github.com/nerrad567/gray-logic-live/internal/adapter/openhab"
	"github.com/nerrad567/gray-logic-live/internal/api"
	"github.com/nerrad567/gray-logic-live/internal/history"
	"github.com/nerrad567/gray-logic-live/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-live/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-live/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-live/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-live/internal/manager"
	"github.com/nerrad567/gray-logic-live/internal/metrics"
	"github.com/nerrad567/gray-logic-live/internal/recorder"
	"github.com/nerrad567/gray-logic-live/internal/store"
	"github.com/nerrad567/gray-logic-live/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the service and blocks until ctx is cancelled.
//
// Shutdown runs through the defers in reverse start order: API, adapters,
// recorders, InfluxDB, database, store.
//
// Returns:
//   - error: nil on clean shutdown, or error describing a startup failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Gray Logic Live",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := config.Path()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
		"site", cfg.Site.ID,
	)

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.New()
	}

	st := store.New(store.Config{
		QueueSize:        cfg.Store.QueueSize,
		DropWarnInterval: config.Seconds(cfg.Store.DropWarnInterval),
	})
	st.SetLogger(log.Component("store"))
	if collector != nil {
		st.SetRecorder(collector)
	}
	defer st.Close()

	mgr := manager.New(st, manager.Config{
		InitialDelay: config.Seconds(cfg.Manager.InitialDelay),
		MaxDelay:     config.Seconds(cfg.Manager.MaxDelay),
		FetchTimeout: config.Seconds(cfg.Manager.FetchTimeout),
		StopTimeout:  config.Seconds(cfg.Manager.StopTimeout),
	})
	mgr.SetLogger(log.Component("manager"))
	if collector != nil {
		mgr.SetRecorder(collector)
	}
	if err := registerAdapters(mgr, cfg.Adapters, log); err != nil {
		return err
	}

	// Backing services reported by /api/v1/system
	checks := make(map[string]api.HealthChecker)

	// History (optional)
	var historyReader api.HistoryReader
	if cfg.History.Enabled {
		db, repo, err := openHistory(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()

		pruneCtx, stopPrune := context.WithCancel(ctx)
		defer stopPrune()
		go repo.RunPruner(pruneCtx,
			config.Seconds(cfg.History.RetentionDays*secondsPerDay),
			config.Seconds(cfg.History.PruneInterval),
		)

		rec := newRecorder("history", st, repo, collector, log)
		rec.Start(context.WithoutCancel(ctx))
		defer rec.Stop()

		historyReader = repo
		checks["database"] = db
	} else {
		log.Info("signal history disabled")
	}

	// InfluxDB (optional)
	if cfg.InfluxDB.Enabled {
		influxClient, err := influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})

		checks["influxdb"] = influxClient

		rec := newRecorder("influxdb", st, influxClient, collector, log)
		rec.Start(context.WithoutCancel(ctx))
		defer rec.Stop()
	} else {
		log.Info("InfluxDB disabled")
	}

	// Adapters stop before the recorders and the store.
	defer func() {
		log.Info("stopping adapters")
		mgr.StopAll()
	}()

	// HTTP API (optional)
	if cfg.API.Enabled {
		srv, err := startAPI(ctx, cfg, st, mgr, historyReader, checks, collector, log)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API server disabled")
	}

	if err := mgr.StartAll(ctx); err != nil {
		log.Info("startup interrupted", "error", err)
	}

	connected := 0
	for _, h := range mgr.Health() {
		if h.Connected {
			connected++
		}
	}
	log.Info("initialisation complete, waiting for shutdown signal",
		"adapters", len(cfg.Adapters),
		"connected", connected,
		"signals", st.Len(),
	)

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// secondsPerDay converts history.retention_days to seconds.
const secondsPerDay = 24 * 60 * 60

// registerAdapters builds every configured adapter from the registry and
// adds it to the manager. An unknown type or a bad adapter config stops
// startup.
func registerAdapters(mgr *manager.Manager, adapters []config.AdapterConfig, log *logging.Logger) error {
	for _, ac := range adapters {
		a, err := adapter.New(adapterConfig(ac, log))
		if err != nil {
			return fmt.Errorf("creating adapter %q: %w", ac.Name, err)
		}
		if err := mgr.Add(a); err != nil {
			return fmt.Errorf("registering adapter %q: %w", ac.Name, err)
		}
		log.Info("adapter registered", "adapter", ac.Name, "type", ac.Type)
	}
	if len(adapters) == 0 {
		log.Warn("no adapters configured; the store will stay empty")
	}
	return nil
}

// adapterConfig converts the YAML adapter section into the adapter package
// config.
func adapterConfig(ac config.AdapterConfig, log *logging.Logger) adapter.Config {
	return adapter.Config{
		Name:     ac.Name,
		Type:     ac.Type,
		Prefix:   ac.Prefix,
		URL:      ac.URL,
		Filter:   ac.Filter,
		Username: ac.Username,
		Password: ac.Password,
		Token:    ac.Token,
		Timeout:  config.Seconds(ac.Timeout),
		Options:  ac.Options,
		Logger:   log.Component("adapter").With("adapter", ac.Name, "type", ac.Type),
	}
}

// openHistory opens and migrates the database and returns the history
// repository over it.
func openHistory(ctx context.Context, cfg *config.Config, log *logging.Logger) (*database.DB, *history.Repository, error) {
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	log.Info("database connected", "path", db.Path())

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		db.Close() //nolint:errcheck // already failing
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database migrations complete")

	if err := db.HealthCheck(ctx); err != nil {
		db.Close() //nolint:errcheck // already failing
		return nil, nil, fmt.Errorf("database health check: %w", err)
	}

	repo := history.NewRepository(db.DB)
	repo.SetLogger(log.Component("history"))
	return db, repo, nil
}

// newRecorder creates a store recorder with logging and, when enabled,
// write-failure metrics.
func newRecorder(name string, st *store.Store, w recorder.Writer, collector *metrics.Collector, log *logging.Logger) *recorder.Recorder {
	rec := recorder.New(name, st, w)
	rec.SetLogger(log.Component("recorder"))
	if collector != nil {
		rec.SetMetrics(collector)
	}
	return rec
}

// startAPI creates and starts the HTTP server.
func startAPI(
	ctx context.Context,
	cfg *config.Config,
	st *store.Store,
	mgr *manager.Manager,
	historyReader api.HistoryReader,
	checks map[string]api.HealthChecker,
	collector *metrics.Collector,
	log *logging.Logger,
) (*api.Server, error) {
	deps := api.Deps{
		Config:  cfg.API,
		WS:      cfg.WebSocket,
		Logger:  log.Component("api"),
		Store:   st,
		Health:  mgr,
		History: historyReader,
		Checks:  checks,
		Version: version,
	}
	if collector != nil {
		deps.Metrics = collector.Handler()
		deps.MetricsPath = cfg.Metrics.Path
	}

	srv, err := api.New(deps)
	if err != nil {
		return nil, fmt.Errorf("creating API server: %w", err)
	}
	if err := srv.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting API server: %w", err)
	}
	if err := srv.HealthCheck(ctx); err != nil {
		srv.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("API server health check: %w", err)
	}
	return srv, nil
}
