package server

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"go.uber.org/zap"
)

// Config bundles the listener's fixed parameters.
type Config struct {
	Host        string
	Port        int
	CertFile    string
	KeyFile     string
	MaxWorkers  int
}

// Server wraps an *http.Server with the admission-controlled listener and
// the §5 handshake/header timeouts.
type Server struct {
	httpServer *http.Server
	cfg        Config
	logger     *zap.Logger
}

// New builds a Server bound to handler. handler is expected to be the
// outer router built by internal/api.NewRouter.
func New(cfg Config, handler http.Handler, logger *zap.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:           handler,
			ReadHeaderTimeout: HeaderReadTimeout,
		},
		cfg:    cfg,
		logger: logger,
	}
}

// StartAsync binds the TLS listener and serves in a background goroutine,
// matching the teacher's fire-and-watch-for-Fatal convention.
func (s *Server) StartAsync() error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to bind listener: %w", err)
	}
	admitted := newAdmissionListener(listener, s.cfg.MaxWorkers, HandshakeTimeout)

	go func() {
		s.logger.Info("starting tls server", zap.String("address", s.httpServer.Addr))
		if err := s.httpServer.ServeTLS(admitted, s.cfg.CertFile, s.cfg.KeyFile); err != nil && err != http.ErrServerClosed {
			s.logger.Fatal("server failed", zap.Error(err))
		}
	}()
	return nil
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")
	return s.httpServer.Shutdown(ctx)
}
