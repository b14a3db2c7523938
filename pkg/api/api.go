// Package api exposes a small read-mostly HTTP interface for
// inspecting registered backends, cached results, and run history.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/strataregula/doe-runner/pkg/backend"
	"github.com/strataregula/doe-runner/pkg/cache"
	"github.com/strataregula/doe-runner/pkg/config"
	"github.com/strataregula/doe-runner/pkg/runstore"
)

const shutdownTimeout = 10 * time.Second

// Server exposes the API HTTP server lifecycle.
type Server interface {
	Start(ctx context.Context) error
	Stop() error
}

// Compile-time interface check.
var _ Server = (*server)(nil)

type server struct {
	log        logrus.FieldLogger
	cfg        *config.APIConfig
	registry   backend.Registry
	cache      cache.Store
	history    runstore.Store
	httpServer *http.Server
}

// NewServer creates a new API server. The history store may be nil
// when run history is disabled; its endpoints then report 404.
func NewServer(
	log logrus.FieldLogger,
	cfg *config.APIConfig,
	registry backend.Registry,
	cacheStore cache.Store,
	history runstore.Store,
) Server {
	return &server{
		log:      log.WithField("component", "api"),
		cfg:      cfg,
		registry: registry,
		cache:    cacheStore,
		history:  history,
	}
}

// Start binds the listener and serves requests until Stop is called.
func (s *server) Start(_ context.Context) error {
	router := s.buildRouter()

	s.httpServer = &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Bind the listener synchronously so we fail fast on port conflicts.
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.ListenAddr, err)
	}

	go func() {
		s.log.WithField("listen", s.cfg.ListenAddr).
			Info("API server starting")

		if err := s.httpServer.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			s.log.WithError(err).Error("HTTP server error")
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(
			context.Background(), shutdownTimeout,
		)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.WithError(err).Warn("HTTP server shutdown error")
		}
	}

	s.log.Info("API server stopped")

	return nil
}
