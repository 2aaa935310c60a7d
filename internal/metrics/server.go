package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"wabot/internal/bus"
	"wabot/internal/domain"
)

// Server serves the registry over HTTP.
type Server struct {
	addr    string
	path    string
	metrics *Metrics
	logger  *slog.Logger

	// Health reports the /health body and whether the bot is serving.
	// A nil Health always answers 200 OK.
	Health func() (status string, ok bool)

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

func NewServer(addr, path string, m *Metrics, logger *slog.Logger) *Server {
	if path == "" {
		path = "/metrics"
	}
	if addr == "" {
		addr = "127.0.0.1:9464"
	}
	return &Server{addr: addr, path: path, metrics: m, logger: logger.With("component", "metrics")}
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return fmt.Errorf("metrics server already running")
	}

	mux := http.NewServeMux()
	mux.Handle(s.path, promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{EnableOpenMetrics: true}))
	mux.HandleFunc("/health", s.serveHealth)

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("metrics listen %s: %w", s.addr, err)
	}
	s.listener = ln
	s.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func(srv *http.Server) {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server stopped", "err", err)
		}
	}(s.server)
	s.logger.Info("metrics server listening", "addr", ln.Addr().String(), "path", s.path)
	return nil
}

func (s *Server) serveHealth(w http.ResponseWriter, _ *http.Request) {
	status, ok := "OK", true
	if s.Health != nil {
		status, ok = s.Health()
	}
	if !ok {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_, _ = w.Write([]byte(status))
}

// SessionHealth reports the latest session state on eb. Only an open session
// counts as healthy.
func SessionHealth(eb *bus.EventBus) func() (string, bool) {
	return func() (string, bool) {
		e, ok := eb.Last(bus.EventSessionState)
		if !ok {
			return domain.StateConnecting.String(), false
		}
		state, _ := e.Payload["state"].(domain.SessionState)
		return state.String(), state == domain.StateOpen
	}
}

// Addr returns the bound address, useful when listening on port 0.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.server = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
