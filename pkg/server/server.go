// Package server exposes the DataLens HTTP API: file upload and ingestion,
// dataset browsing, dashboards, and grouped aggregation.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/datalens-labs/datalens/pkg/cache"
	"github.com/datalens-labs/datalens/pkg/ingest"
	"github.com/datalens-labs/datalens/pkg/metrics"
	"github.com/datalens-labs/datalens/pkg/query"
	"github.com/datalens-labs/datalens/pkg/viz"
)

type Server struct {
	log            *slog.Logger
	cfg            Config
	ingester       *ingest.Ingester
	builder        *query.Builder
	cache          *cache.Cache
	uploadLimiter  *RateLimiter
	maxUploadBytes int64
	httpSrv        *http.Server
}

func New(cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	visualizer, err := viz.NewService(viz.Config{Logger: cfg.Logger, Store: cfg.Store})
	if err != nil {
		return nil, fmt.Errorf("failed to create visualizer: %w", err)
	}
	ingester, err := ingest.New(ingest.Config{
		Logger:     cfg.Logger,
		Store:      cfg.Store,
		Visualizer: visualizer,
		SampleSize: cfg.SampleSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ingester: %w", err)
	}
	builder, err := query.New(query.Config{Logger: cfg.Logger, Store: cfg.Store})
	if err != nil {
		return nil, fmt.Errorf("failed to create query builder: %w", err)
	}

	maxUploadBytes := cfg.MaxUploadBytes
	if maxUploadBytes <= 0 {
		maxUploadBytes = DefaultMaxUploadBytes
	}

	s := &Server{
		log:            cfg.Logger,
		cfg:            cfg,
		ingester:       ingester,
		builder:        builder,
		cache:          cache.New(cfg.CacheTTL, clockwork.NewRealClock()),
		uploadLimiter:  NewRateLimiter(rate.Every(time.Minute/10), 3),
		maxUploadBytes: maxUploadBytes,
	}

	s.httpSrv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.router(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1MB
	}

	return s, nil
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Get("/version", s.handleVersion)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		// Uploads are limited to 10 per minute per IP with a burst of 3.
		r.With(RateLimitMiddleware(s.uploadLimiter)).Post("/upload", s.handleUpload)
		r.Get("/uploads", s.handleUploads)
		r.Get("/uploads/{id}", s.handleUploadByID)

		r.Get("/datasets", s.handleDatasets)
		r.Get("/datasets/{id}", s.handleDataset)
		r.Get("/datasets/{id}/fields", s.handleDatasetFields)
		r.Get("/datasets/{id}/records", s.handleDatasetRecords)
		r.Delete("/datasets/{id}", s.handleDeleteDataset)

		r.Get("/dashboards", s.handleDashboards)
		r.Get("/dashboards/{id}", s.handleDashboard)

		r.Post("/aggregate", s.handleAggregate)
	})

	return r
}

func (s *Server) Run(ctx context.Context) error {
	serveErrCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("server: http server error", "error", err)
			serveErrCh <- fmt.Errorf("failed to listen and serve: %w", err)
		}
	}()

	s.log.Info("server: http listening", "address", s.cfg.ListenAddr)

	select {
	case <-ctx.Done():
		s.log.Info("server: stopping", "reason", ctx.Err(), "address", s.cfg.ListenAddr)
		shutdownTimeout := s.cfg.ShutdownTimeout
		if shutdownTimeout <= 0 {
			shutdownTimeout = 10 * time.Second
		}
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
		s.log.Info("server: http server shutdown complete")
		return nil
	case err := <-serveErrCh:
		s.log.Error("server: http server error causing shutdown", "error", err, "address", s.cfg.ListenAddr)
		return err
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok\n")); err != nil {
		s.log.Error("failed to write healthz response", "error", err)
	}
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Store.Ping(r.Context()); err != nil {
		s.log.Debug("readyz: store not ready", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		if _, err := w.Write([]byte("store not ready\n")); err != nil {
			s.log.Error("failed to write readyz response", "error", err)
		}
		return
	}

	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok\n")); err != nil {
		s.log.Error("failed to write readyz response", "error", err)
	}
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.cfg.VersionInfo)
}
