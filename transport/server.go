package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/goliatone/go-appstore-connect/core"
	glog "github.com/goliatone/go-logger/glog"
)

const defaultReadHeaderTimeout = 10 * time.Second
const defaultShutdownTimeout = 10 * time.Second

// Server hosts the HTTP surface with a context-driven lifecycle.
type Server struct {
	httpServer      *http.Server
	logger          core.Logger
	shutdownTimeout time.Duration
}

func NewServer(cfg core.ServerConfig, handler http.Handler, logger core.Logger) *Server {
	shutdownTimeout := cfg.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = defaultShutdownTimeout
	}
	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           handler,
			ReadHeaderTimeout: defaultReadHeaderTimeout,
		},
		logger:          glog.Ensure(logger),
		shutdownTimeout: shutdownTimeout,
	}
}

func (s *Server) Addr() string {
	if s == nil || s.httpServer == nil {
		return ""
	}
	return s.httpServer.Addr
}

// ListenAndServe runs the HTTP server until the context ends, then drains
// in-flight requests within the shutdown timeout.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil || s.httpServer == nil {
		return errors.New("transport: server is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		err := s.httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("transport: shutdown http server: %w", err)
		}
		s.logger.Info("http server stopped")
		return nil
	case err := <-serveErr:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("transport: serve http: %w", err)
	}
}

// Shutdown stops the server outside the ListenAndServe lifecycle.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil || s.httpServer == nil {
		return nil
	}
	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
	}
	return s.httpServer.Shutdown(ctx)
}
