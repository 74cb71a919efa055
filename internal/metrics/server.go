package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/verprune/verprune/internal/logging"
)

// Server serves /metrics for Prometheus scraping and /healthz for liveness.
type Server struct {
	mu        sync.RWMutex
	addr      string
	boundAddr string
	server    *http.Server
	gatherer  prometheus.Gatherer
	logger    *logging.Logger
}

// NewServer creates a metrics server over the default registry.
// Use addr ":9090" for the default metrics port.
func NewServer(addr string) *Server {
	return NewServerWithRegistry(addr, prometheus.DefaultGatherer)
}

// NewServerWithRegistry creates a metrics server over a custom registry.
func NewServerWithRegistry(addr string, gatherer prometheus.Gatherer) *Server {
	return &Server{
		addr:     addr,
		gatherer: gatherer,
		logger:   logging.Global().WithComponent("metrics"),
	}
}

// Start listens and serves in the background.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.mu.Lock()
	s.server = srv
	s.boundAddr = ln.Addr().String()
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warnf("metrics server stopped", map[string]any{"error": err.Error()})
		}
	}()
	s.logger.Infof("metrics server listening", map[string]any{"addr": ln.Addr().String()})
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.boundAddr != "" {
		return s.boundAddr
	}
	return s.addr
}

// Close shuts down the metrics server.
func (s *Server) Close() error {
	s.mu.RLock()
	srv := s.server
	s.mu.RUnlock()
	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
