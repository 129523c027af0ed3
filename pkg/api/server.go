package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mcptap/mcptap/pkg/analyzer"
	"github.com/mcptap/mcptap/pkg/logging"
	"github.com/mcptap/mcptap/pkg/logstore"
	"github.com/mcptap/mcptap/pkg/session"
	"github.com/mcptap/mcptap/pkg/tokens"
)

// Config wires the server to the engine's shared state.
type Config struct {
	Addr string

	Store      logstore.Store
	Sessions   *session.Tracker
	Aggregator *tokens.Aggregator
	Logger     *slog.Logger

	// AnalyzeTimeout bounds analyses triggered over the API.
	AnalyzeTimeout time.Duration
}

// Server is the inspection HTTP server.
type Server struct {
	cfg        Config
	log        *slog.Logger
	store      logstore.Store
	sessions   *session.Tracker
	agg        *tokens.Aggregator
	httpServer *http.Server
	started    time.Time
}

// New builds a server. Call ListenAndServe to start it.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	if cfg.AnalyzeTimeout <= 0 {
		cfg.AnalyzeTimeout = analyzer.DefaultTimeout
	}

	s := &Server{
		cfg:      cfg,
		log:      cfg.Logger,
		store:    cfg.Store,
		sessions: cfg.Sessions,
		agg:      cfg.Aggregator,
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	s.httpServer = &http.Server{
		Addr:        cfg.Addr,
		Handler:     mux,
		ReadTimeout: 30 * time.Second,
		// No WriteTimeout: /logs/stream holds its connection open.
	}
	return s
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /logs", s.handleLogs)
	mux.HandleFunc("GET /logs/stream", s.handleLogStream)

	mux.HandleFunc("GET /sessions", s.handleSessions)
	mux.HandleFunc("GET /sessions/{id}", s.handleSession)

	mux.HandleFunc("GET /stats/tokens", s.handleGlobalStats)
	mux.HandleFunc("GET /stats/tokens/{id}", s.handleSessionStats)
	mux.HandleFunc("DELETE /stats/tokens", s.handleClearAllStats)
	mux.HandleFunc("DELETE /stats/tokens/{id}", s.handleClearSessionStats)

	mux.HandleFunc("POST /estimate", s.handleEstimate)
	mux.HandleFunc("POST /analyze", s.handleAnalyze)
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe blocks serving requests until Shutdown.
func (s *Server) ListenAndServe() error {
	s.started = time.Now()
	s.log.Info("api listening", "addr", s.cfg.Addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, errCode, message string) {
	writeJSON(w, status, ErrorResponse{
		Error:   errCode,
		Message: message,
	})
}
