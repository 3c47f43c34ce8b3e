// Package server exposes the toolgarden HTTP API: catalog search and
// lookup, tool invocation (executor resolution + dispatch), manual health
// checks, and sync operations.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/petal-labs/toolgarden/catalog"
	"github.com/petal-labs/toolgarden/executor"
	"github.com/petal-labs/toolgarden/search"
	"github.com/petal-labs/toolgarden/syncer"
)

// HealthTrigger requests a manual health check for one tool.
type HealthTrigger func(toolID string)

// ServerConfig configures a Server instance.
type ServerConfig struct {
	Store        catalog.Store
	Index        *search.Index
	Orchestrator *syncer.Orchestrator
	Dispatcher   *executor.Dispatcher
	Verifier     *executor.Verifier
	HealthCheck  HealthTrigger
	CORSOrigin   string
	MaxBody      int64
	Logger       *slog.Logger
}

// Server is the toolgarden HTTP API server.
type Server struct {
	store        catalog.Store
	index        *search.Index
	orchestrator *syncer.Orchestrator
	dispatcher   *executor.Dispatcher
	verifier     *executor.Verifier
	healthCheck  HealthTrigger
	corsOrigin   string
	maxBody      int64
	logger       *slog.Logger
}

// NewServer creates a new Server with the given configuration.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	corsOrigin := cfg.CORSOrigin
	if corsOrigin == "" {
		corsOrigin = "*"
	}
	maxBody := cfg.MaxBody
	if maxBody <= 0 {
		maxBody = 1 << 20 // 1 MB default
	}
	return &Server{
		store:        cfg.Store,
		index:        cfg.Index,
		orchestrator: cfg.Orchestrator,
		dispatcher:   cfg.Dispatcher,
		verifier:     cfg.Verifier,
		healthCheck:  cfg.HealthCheck,
		corsOrigin:   corsOrigin,
		maxBody:      maxBody,
		logger:       logger,
	}
}

// Handler returns an http.Handler with all routes and middleware wired.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	var handler http.Handler = mux
	handler = s.corsMiddleware(handler)
	handler = s.maxBodyMiddleware(handler)

	return handler
}

// RegisterRoutes mounts API routes onto an existing mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /v1/tools", s.handleSearchTools)
	mux.HandleFunc("GET /v1/tools/{id}", s.handleGetTool)
	mux.HandleFunc("POST /v1/tools/{id}/invoke", s.handleInvokeTool)
	mux.HandleFunc("POST /v1/tools/{id}/health-check", s.handleHealthCheck)
	mux.HandleFunc("GET /v1/packages", s.handleListPackages)
	mux.HandleFunc("GET /v1/packages/{name}", s.handleGetPackage)
	mux.HandleFunc("POST /v1/sync/{source}", s.handleRunSync)
	mux.HandleFunc("GET /v1/sync/logs", s.handleListSyncLogs)
	mux.HandleFunc("POST /v1/executors/verify", s.handleVerifyExecutor)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.corsOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) maxBodyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// apiError is the standard error envelope.
type apiError struct {
	Error apiErrorBody `json:"error"`
}

type apiErrorBody struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, message string, details ...string) {
	body := apiError{
		Error: apiErrorBody{
			Code:    code,
			Message: message,
		},
	}
	if len(details) > 0 {
		body.Error.Details = details
	}
	writeJSON(w, status, body)
}
