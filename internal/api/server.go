// Package api exposes the assistant over REST JSON plus a websocket stream
// for live monitoring data.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/redisops/sre-assistant/internal/analyzer"
	"github.com/redisops/sre-assistant/internal/config"
	"github.com/redisops/sre-assistant/internal/faultinject"
	"github.com/redisops/sre-assistant/internal/monitor"
	"github.com/redisops/sre-assistant/internal/rag"
)

// Server wires the HTTP listener and its handlers.
type Server struct {
	cfg        config.ServerConfig
	httpServer *http.Server
	logger     *slog.Logger
}

// Deps carries the components the handlers operate on.
type Deps struct {
	Analyzer  *analyzer.Analyzer
	Retriever *rag.Engine
	Monitor   *monitor.Monitor
	Injector  *faultinject.Injector
	Logger    *slog.Logger
}

// NewServer builds the router and binds it to the configured address.
func NewServer(cfg config.ServerConfig, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	h := &handlers{deps: deps}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()

	v1.HandleFunc("/analyze", h.analyze).Methods(http.MethodPost)
	v1.HandleFunc("/analyze/history", h.analysisHistory).Methods(http.MethodGet)
	v1.HandleFunc("/analyze/{id}", h.analysisResult).Methods(http.MethodGet)

	v1.HandleFunc("/search", h.search).Methods(http.MethodPost)
	v1.HandleFunc("/search/similar", h.searchSimilar).Methods(http.MethodGet)

	v1.HandleFunc("/knowledge", h.addKnowledge).Methods(http.MethodPost)
	v1.HandleFunc("/knowledge", h.listKnowledge).Methods(http.MethodGet)
	v1.HandleFunc("/knowledge/bulk-import", h.bulkImport).Methods(http.MethodPost)
	v1.HandleFunc("/knowledge/{id}", h.getKnowledge).Methods(http.MethodGet)
	v1.HandleFunc("/knowledge/{id}", h.deleteKnowledge).Methods(http.MethodDelete)

	v1.HandleFunc("/monitor/connect", h.monitorConnect).Methods(http.MethodPost)
	v1.HandleFunc("/monitor/disconnect", h.monitorDisconnect).Methods(http.MethodPost)
	v1.HandleFunc("/monitor/start", h.monitorStart).Methods(http.MethodPost)
	v1.HandleFunc("/monitor/stop", h.monitorStop).Methods(http.MethodPost)
	v1.HandleFunc("/monitor/status", h.monitorStatus).Methods(http.MethodGet)
	v1.HandleFunc("/monitor/metrics", h.monitorMetrics).Methods(http.MethodGet)
	v1.HandleFunc("/monitor/alerts", h.monitorAlerts).Methods(http.MethodGet)
	v1.HandleFunc("/monitor/analyze", h.monitorAnalyze).Methods(http.MethodPost)
	v1.HandleFunc("/monitor/stream", h.monitorStream).Methods(http.MethodGet)

	v1.HandleFunc("/monitor/test/fill-memory", h.testFillMemory).Methods(http.MethodPost)
	v1.HandleFunc("/monitor/test/many-connections", h.testManyConnections).Methods(http.MethodPost)
	v1.HandleFunc("/monitor/test/slow-query", h.testSlowQuery).Methods(http.MethodPost)
	v1.HandleFunc("/monitor/test/cleanup", h.testCleanup).Methods(http.MethodPost)
	v1.HandleFunc("/monitor/test/info", h.testInfo).Methods(http.MethodGet)

	corsOpts := cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}
	if len(corsOpts.AllowedOrigins) == 0 {
		corsOpts.AllowedOrigins = []string{"*"}
	}

	return &Server{
		cfg:    cfg,
		logger: deps.Logger,
		httpServer: &http.Server{
			Addr:              cfg.Address,
			Handler:           cors.New(corsOpts).Handler(r),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Start serves requests until Shutdown is invoked.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.cfg.Address)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// GracefulTimeout returns the configured graceful timeout duration.
func (s *Server) GracefulTimeout() time.Duration {
	if s.cfg.GracefulTimeout <= 0 {
		return 10 * time.Second
	}
	return s.cfg.GracefulTimeout
}
