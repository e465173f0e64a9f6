// Package api provides the HTTP REST API server.
package api

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/good-yellow-bee/alertflow/internal/api/health"
	"github.com/good-yellow-bee/alertflow/internal/engine"
	"github.com/good-yellow-bee/alertflow/internal/notifier"
	"github.com/good-yellow-bee/alertflow/internal/storage"
)

// Config contains HTTP API server configuration.
type Config struct {
	Address         string
	HTTPTLSEnabled  bool   // Enable HTTPS for API server
	HTTPTLSCertFile string // HTTPS certificate file
	HTTPTLSKeyFile  string // HTTPS private key file
	RequestTimeout  time.Duration
	Verbose         bool
}

// SetDefaults applies default values for missing configuration.
func (c *Config) SetDefaults() {
	if c.Address == "" {
		c.Address = ":8080"
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 10 * time.Second
	}
}

// Server is the HTTP API server.
type Server struct {
	config        *Config
	storage       storage.Storage
	service       *engine.Service
	dispatcher    *notifier.Dispatcher
	feed          *notifier.DashboardProvider
	server        *http.Server
	healthHandler *health.Handler
}

// New creates a new API server. feed may be nil when the dashboard
// channel is not configured.
func New(cfg *Config, store storage.Storage, service *engine.Service, dispatcher *notifier.Dispatcher, feed *notifier.DashboardProvider) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if store == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if service == nil {
		return nil, fmt.Errorf("engine service is required")
	}

	cfg.SetDefaults()

	s := &Server{
		config:        cfg,
		storage:       store,
		service:       service,
		dispatcher:    dispatcher,
		feed:          feed,
		healthHandler: health.NewHandler(),
	}

	s.healthHandler.RegisterChecker(health.NewStorageChecker(store))
	if dispatcher != nil {
		s.healthHandler.RegisterChecker(health.NewProvidersChecker(dispatcher.HealthCheck))
	}

	router := s.setupRouter()

	s.server = &http.Server{
		Addr:         cfg.Address,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	if cfg.HTTPTLSEnabled {
		s.server.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS13,
		}
	}

	return s, nil
}

// Run starts the HTTP server and blocks until context is canceled.
func (s *Server) Run(ctx context.Context) error {
	errChan := make(chan error, 1)

	go func() {
		log.Printf("HTTP API listening on %s", s.config.Address)
		var err error
		if s.config.HTTPTLSEnabled {
			err = s.server.ListenAndServeTLS(s.config.HTTPTLSCertFile, s.config.HTTPTLSKeyFile)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Printf("shutting down HTTP API server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errChan:
		return err
	}
}

// Address returns the configured listen address.
func (s *Server) Address() string {
	return s.config.Address
}

// RegisterHealthChecker adds a health checker to the server.
func (s *Server) RegisterHealthChecker(c health.Checker) {
	if s.healthHandler != nil {
		s.healthHandler.RegisterChecker(c)
	}
}
