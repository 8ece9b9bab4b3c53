package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/LivTel/moptop/internal/logging"
)

// Server serves /metrics and /healthz.
type Server struct {
	srv      *http.Server
	listener net.Listener
	logger   *logging.Logger
}

// Listen binds addr. healthy, when set, decides the /healthz status.
func Listen(addr string, m *Metrics, healthy func() error, logger *logging.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listen %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if healthy != nil {
			if err := healthy(); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return &Server{
		srv:      &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		listener: ln,
		logger:   logger.With("metrics"),
	}, nil
}

func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Serve blocks until Shutdown.
func (s *Server) Serve() {
	s.logger.Log(logging.LevelInfo, "serving metrics on %s", s.Addr())
	if err := s.srv.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Log(logging.LevelError, "metrics server exited: %v", err)
	}
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
