// Package http serves the imagery REST API.
package http //nolint:revive // package name conflicts with stdlib but is acceptable in this context

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/jobrunner/tessera/internal/config"
	"github.com/jobrunner/tessera/internal/ports/input"
)

// Services bundles the primary ports served over HTTP. View and Sync are
// optional; their routes are only registered when set.
type Services struct {
	Archives input.ArchiveRegistry
	Datasets input.DatasetService
	View     input.ViewService
	Capture  input.CaptureService
	Sync     input.SyncTrigger
	Health   input.HealthChecker
}

// Server is the REST API listener.
type Server struct {
	server   *http.Server
	handler  http.Handler
	services Services
	logger   *slog.Logger
	config   config.ServerConfig
}

type route struct {
	method  string
	path    string
	handler http.HandlerFunc
}

// NewServer builds the router. Extra middleware runs inside request logging
// and panic recovery; CORS, when configured, wraps everything.
func NewServer(
	cfg config.ServerConfig,
	services Services,
	logger *slog.Logger,
	middleware ...mux.MiddlewareFunc,
) *Server {
	s := &Server{
		services: services,
		logger:   logger.With("component", "http"),
		config:   cfg,
	}

	r := mux.NewRouter()
	r.Use(s.loggingMiddleware, s.recoveryMiddleware)
	r.Use(middleware...)
	for _, rt := range s.routes() {
		r.HandleFunc(rt.path, rt.handler).Methods(rt.method)
	}

	s.handler = r
	if cfg.CORS.Enabled() {
		// outside the router so preflights need no OPTIONS routes
		s.handler = s.corsMiddleware(r)
	}

	s.server = &http.Server{
		Addr:         cfg.Address(),
		Handler:      s.handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

func (s *Server) routes() []route {
	const v1 = "/api/v1"
	get, put, post := http.MethodGet, http.MethodPut, http.MethodPost

	routes := []route{
		{get, "/health", s.handleHealth},
		{get, "/health/live", s.handleLiveness},
		{get, "/health/ready", s.handleReadiness},
		{get, "/openapi.json", s.handleOpenAPI},

		{get, v1 + "/archives", s.handleListArchives},
		{get, v1 + "/archives/{archiveId}", s.handleGetArchive},

		{get, v1 + "/datasets", s.handleListDatasets},
		{get, v1 + "/datasets/{name}", s.handleGetDataset},
		{put, v1 + "/datasets/{name}/visibility", s.handleSetVisibility},
		{get, v1 + "/datasets/{name}/overview", s.handleOverview},

		{post, v1 + "/capture", s.handleCapture},
		{post, v1 + "/capture/bounds", s.handleCaptureBounds},
	}

	if s.services.View != nil {
		routes = append(routes,
			route{put, v1 + "/view", s.handleSetView},
			route{get, v1 + "/layer", s.handleLayer},
			route{put, v1 + "/layer/selection", s.handleSetSelection},
			route{put, v1 + "/layer/transparency", s.handleSetTransparency},
			route{put, v1 + "/layer/offline", s.handleSetOffline},
		)
	}
	if s.services.Sync != nil {
		routes = append(routes, route{post, v1 + "/sync", s.handleSync})
	}
	return routes
}

// Handler returns the root handler, for serving behind another listener.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens on the configured address until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("listening", "address", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	return s.server.Shutdown(ctx)
}
