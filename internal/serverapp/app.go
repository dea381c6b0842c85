// Package serverapp wires configuration, observability, the database, and the
// HTTP surface into a single lifecycle: New -> Init -> Start -> WaitForStop ->
// Shutdown.
package serverapp

import (
	"database/sql"
	"fmt"
	"net/http"
	"sync"

	"crudsql/internal/config"
	"crudsql/internal/logging"
	"crudsql/internal/observability"
	"crudsql/internal/relgraph"
	"crudsql/internal/schema"
	"crudsql/internal/service"
)

// App owns runtime resources for the crudsql server lifecycle.
type App struct {
	cfg    *config.Config
	logger *logging.Logger

	loggerProvider *observability.LoggerProvider

	meterProvider   *observability.MeterProvider
	queryMetrics    *observability.QueryMetrics
	securityMetrics *observability.SecurityMetrics
	tracerProvider  *observability.TracerProvider

	db         *sql.DB
	dbStatsReg interface{ Unregister() error }

	registry *schema.Registry
	graph    *relgraph.Resolver
	services map[string]*service.Service

	mux     *http.ServeMux
	handler http.Handler

	serverAddr string
	srv        *http.Server

	cleanup cleanupStack

	stateMu      sync.Mutex
	initialized  bool
	started      bool
	serverErrors chan error

	shutdownOnce sync.Once
}

// New creates an App lifecycle wrapper.
func New(cfg *config.Config, logger *logging.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &App{
		cfg:    cfg,
		logger: logger,
	}, nil
}

// AttachLoggerProvider registers an optional logger provider for shutdown cleanup.
func (a *App) AttachLoggerProvider(provider *observability.LoggerProvider) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	a.loggerProvider = provider
}

// Services exposes the per-entity services. Intended for tests.
func (a *App) Services() map[string]*service.Service {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.services
}

// Handler exposes the fully wrapped HTTP handler. Intended for tests.
func (a *App) Handler() http.Handler {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.handler
}
