package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-live/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-live/internal/signal"
)

// sseEventSignal is the SSE event name for published signals.
const sseEventSignal = "signal"

// defaultKeepAlive is used when no WebSocket ping interval is configured.
const defaultKeepAlive = 30 * time.Second

// handleStream serves published signals as Server-Sent Events.
//
//	event: signal
//	id: 12
//	data: {"id":"oh:Kitchen_Temp","value":21.5,...}
//
// With ?snapshot=true every current signal is sent first. The optional
// prefix parameter filters by signal ID prefix. A comment line is written
// at the keepalive interval so idle proxies keep the connection open.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rc := http.NewResponseController(w)
	prefix := r.URL.Query().Get("prefix")

	// Subscribe before reading the snapshot so nothing published in
	// between is missed. A signal may then appear twice.
	sub := s.store.Subscribe(ctx)
	defer sub.Close()

	// The server write timeout would cut the stream.
	//nolint:errcheck // Not every writer supports deadlines; the stream works without
	rc.SetWriteDeadline(time.Time{})

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if _, err := io.WriteString(w, ": connected\n\n"); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		s.logger.Warn("event stream unsupported by response writer", "error", err)
		return
	}

	s.streams.Add(1)
	defer s.streams.Add(-1)

	var seq uint64
	if r.URL.Query().Get("snapshot") == "true" {
		for _, sig := range sortedSignals(s.store.GetAll(), prefix) {
			seq++
			if err := writeSSE(w, seq, sig); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}

	keepAlive := config.Seconds(s.wsCfg.PingInterval)
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}
	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-sub.C():
			if !ok {
				return
			}
			if !strings.HasPrefix(sig.ID, prefix) {
				continue
			}
			seq++
			if err := writeSSE(w, seq, sig); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		case <-ticker.C:
			if _, err := io.WriteString(w, ": keepalive\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

// writeSSE writes one signal event.
func writeSSE(w io.Writer, seq uint64, sig signal.Signal) error {
	data, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("marshalling signal %s: %w", sig.ID, err)
	}
	_, err = fmt.Fprintf(w, "event: %s\nid: %d\ndata: %s\n\n", sseEventSignal, seq, data)
	return err
}
