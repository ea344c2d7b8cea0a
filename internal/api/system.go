package api

import (
	"context"
	"net/http"
	"runtime"
	"sort"
	"sync"
	"time"
)

// dependencyCheckTimeout bounds each backing service check.
const dependencyCheckTimeout = 2 * time.Second

// SystemMetrics is the body of GET /api/v1/system.
type SystemMetrics struct {
	Timestamp     string         `json:"timestamp"`
	Version       string         `json:"version"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Runtime       RuntimeMetrics `json:"runtime"`
	Store         StoreMetrics   `json:"store"`
	Streams       StreamMetrics  `json:"streams"`
	Adapters      AdapterMetrics `json:"adapters"`

	Dependencies []DependencyStatus `json:"dependencies,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// StoreMetrics contains signal store statistics.
type StoreMetrics struct {
	Signals     int `json:"signals"`
	Subscribers int `json:"subscribers"`
}

// StreamMetrics counts open client streams.
type StreamMetrics struct {
	WebSocketClients int   `json:"websocket_clients"`
	EventStreams     int64 `json:"event_streams"`
}

// AdapterMetrics summarises adapter health.
type AdapterMetrics struct {
	Total     int `json:"total"`
	Connected int `json:"connected"`
}

// DependencyStatus is the result of one backing service check.
type DependencyStatus struct {
	Name   string `json:"name"`
	Status string `json:"status"` // "ok" or "error"
	Error  string `json:"error,omitempty"`
}

// handleSystem returns runtime, store and stream statistics along with the
// reachability of backing services.
func (s *Server) handleSystem(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		Store: StoreMetrics{
			Signals:     s.store.Len(),
			Subscribers: s.store.SubscriberCount(),
		},
		Streams: StreamMetrics{
			WebSocketClients: s.hub.ClientCount(),
			EventStreams:     s.streams.Load(),
		},
	}

	for _, h := range s.health.Health() {
		metrics.Adapters.Total++
		if h.Connected {
			metrics.Adapters.Connected++
		}
	}

	metrics.Dependencies = s.checkDependencies(r.Context())

	writeJSON(w, http.StatusOK, metrics)
}

// checkDependencies runs every configured check concurrently and returns
// the results sorted by name.
func (s *Server) checkDependencies(ctx context.Context) []DependencyStatus {
	if len(s.checks) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, dependencyCheckTimeout)
	defer cancel()

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		out = make([]DependencyStatus, 0, len(s.checks))
	)
	for name, check := range s.checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st := DependencyStatus{Name: name, Status: "ok"}
			if err := check.HealthCheck(ctx); err != nil {
				st.Status = "error"
				st.Error = err.Error()
			}
			mu.Lock()
			out = append(out, st)
			mu.Unlock()
		}()
	}
	wg.Wait()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
