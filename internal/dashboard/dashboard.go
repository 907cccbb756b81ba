// Package dashboard exposes the monitor's state to observers over
// HTTP: current snapshot, recent events, scheduler status, link
// diagnostics, and a Server-Sent Events stream of change events. It is
// a pure consumer of the ledger and scheduler read APIs.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/chaz8081/doorman-monitor/internal/sched"
	"github.com/chaz8081/doorman-monitor/internal/session"
	"github.com/chaz8081/doorman-monitor/internal/state"
)

const defaultEventCount = 50

// sseMessage is one payload pushed to stream clients.
type sseMessage struct {
	Type  string            `json:"type"`
	State state.Snapshot    `json:"state"`
	Event state.ChangeEvent `json:"event"`
}

// Server is the observer-facing HTTP server.
type Server struct {
	ledger    *state.Ledger
	scheduler *sched.Scheduler
	diagFn    func() session.Diagnostics

	srv *http.Server

	mu      sync.Mutex
	clients map[chan []byte]struct{}
}

// New creates a Server and subscribes it to the ledger for live
// streaming. diagFn supplies link diagnostics; it may be nil.
func New(ledger *state.Ledger, scheduler *sched.Scheduler, diagFn func() session.Diagnostics) *Server {
	s := &Server{
		ledger:    ledger,
		scheduler: scheduler,
		diagFn:    diagFn,
		clients:   make(map[chan []byte]struct{}),
	}
	ledger.Subscribe(s.onChange)
	return s
}

// Start begins serving on addr. Returns once the listener is bound;
// serving continues in the background.
func (s *Server) Start(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.HandleFunc("GET /api/scheduler", s.handleScheduler)
	mux.HandleFunc("GET /api/diagnostics", s.handleDiagnostics)
	mux.HandleFunc("GET /api/events/stream", s.handleStream)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("dashboard: listen on %s: %w", addr, err)
	}
	s.srv = &http.Server{Handler: mux}

	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("[dashboard] server error", "error", err)
		}
	}()

	slog.Info("[dashboard] serving", "addr", addr)
	return nil
}

// Stop shuts the server down, closing all stream clients.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// onChange fans a change event out to all stream clients. Slow clients
// are dropped rather than allowed to block the mutation path.
func (s *Server) onChange(snap state.Snapshot, ev state.ChangeEvent) {
	payload, err := json.Marshal(sseMessage{Type: "state_update", State: snap, Event: ev})
	if err != nil {
		slog.Error("[dashboard] marshal stream payload", "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.clients {
		select {
		case ch <- payload:
		default:
			delete(s.clients, ch)
			close(ch)
			slog.Warn("[dashboard] dropping slow stream client")
		}
	}
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.ledger.Snapshot())
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	count := defaultEventCount
	if raw := r.URL.Query().Get("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "count must be a positive integer", http.StatusBadRequest)
			return
		}
		count = n
	}
	events := s.ledger.RecentEvents(count)
	if events == nil {
		events = []state.ChangeEvent{}
	}
	writeJSON(w, events)
}

func (s *Server) handleScheduler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.scheduler.Status())
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, _ *http.Request) {
	if s.diagFn == nil {
		writeJSON(w, session.Diagnostics{})
		return
	}
	writeJSON(w, s.diagFn())
}

// handleStream serves Server-Sent Events. Each client gets a buffered
// channel; the connection closes when the client goes away or the
// server shuts down.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ch := make(chan []byte, 16)
	s.mu.Lock()
	s.clients[ch] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		if _, ok := s.clients[ch]; ok {
			delete(s.clients, ch)
			close(ch)
		}
		s.mu.Unlock()
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case payload, ok := <-ch:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("[dashboard] encode response", "error", err)
	}
}
