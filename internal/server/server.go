package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ziadkadry99/tracegraph/internal/audit"
	"github.com/ziadkadry99/tracegraph/internal/graph"
	"github.com/ziadkadry99/tracegraph/internal/logging"
	"github.com/ziadkadry99/tracegraph/internal/model"
	"github.com/ziadkadry99/tracegraph/internal/rca"
	"github.com/ziadkadry99/tracegraph/internal/workflow"
)

// Config holds server configuration.
type Config struct {
	Port     int
	AllowAll bool // allow all CORS origins (dev mode)
}

// Server exposes the knowledge graph, the workflow catalog, the RCA queries
// and the audit trail over HTTP.
type Server struct {
	cfg        Config
	graph      *graph.Store
	catalog    *workflow.Store
	rca        *rca.Service
	logger     *slog.Logger
	router     chi.Router
	httpServer *http.Server
}

// New creates a server over the given stores. A nil logger discards output.
func New(cfg Config, g *graph.Store, catalog *workflow.Store, logger *slog.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		graph:   g,
		catalog: catalog,
		rca:     rca.NewService(g, catalog),
		logger:  logging.OrDiscard(logger),
	}
	s.router = s.buildRouter()
	return s
}

// buildRouter creates and configures the chi router with all routes.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestLogger(&slogFormatter{logger: s.logger}))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	corsOpts := cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}
	if s.cfg.AllowAll {
		corsOpts.AllowedOrigins = []string{"*"}
	}
	r.Use(cors.Handler(corsOpts))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Get("/api/stats", s.handleStats)
	r.Get("/api/nodes", s.handleNodes)
	r.Get("/api/nodes/{id}", s.handleNode)
	r.Get("/api/nodes/{id}/relationships", s.handleNodeRelationships)

	workflow.RegisterRoutes(r, s.catalog)
	rca.RegisterRoutes(r, s.rca)
	audit.RegisterRoutes(r, audit.NewStore(s.graph.DB()))

	return r
}

// slogFormatter feeds chi's RequestLogger into slog.
type slogFormatter struct {
	logger *slog.Logger
}

func (f *slogFormatter) NewLogEntry(r *http.Request) middleware.LogEntry {
	return &slogEntry{logger: f.logger.With(
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", middleware.GetReqID(r.Context()))}
}

type slogEntry struct {
	logger *slog.Logger
}

func (e *slogEntry) Write(status, bytes int, _ http.Header, elapsed time.Duration, _ interface{}) {
	e.logger.Debug("http request", "status", status, "bytes", bytes, "duration", elapsed)
}

func (e *slogEntry) Panic(v interface{}, stack []byte) {
	e.logger.Error("http handler panic", "panic", v, "stack", string(stack))
}

// Router returns the chi router for registering additional routes.
func (s *Server) Router() chi.Router { return s.router }

// RCA returns the RCA query service.
func (s *Server) RCA() *rca.Service { return s.rca }

// Start begins listening on the configured port.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	s.logger.Info("tracegraph server listening", "addr", addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.graph.Stats(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleNodes lists code nodes filtered by the name, q, kind and service
// query parameters.
func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	nodes, err := s.graph.Nodes(r.Context(), graph.NodeFilter{
		Name:     q.Get("name"),
		NameLike: q.Get("q"),
		Kind:     model.NodeKind(q.Get("kind")),
		Service:  q.Get("service"),
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if nodes == nil {
		nodes = []model.CodeNode{}
	}
	writeJSON(w, http.StatusOK, nodes)
}

func (s *Server) handleNode(w http.ResponseWriter, r *http.Request) {
	n, err := s.graph.Node(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, graph.ErrNotFound) {
		http.Error(w, "node not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// handleNodeRelationships returns the outgoing and incoming edges of a node.
func (s *Server) handleNodeRelationships(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := r.Context()
	if _, err := s.graph.Node(ctx, id); err != nil {
		if errors.Is(err, graph.ErrNotFound) {
			http.Error(w, "node not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out, err := s.graph.Relationships(ctx, graph.RelFilter{SourceID: id})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	in, err := s.graph.Relationships(ctx, graph.RelFilter{TargetID: id})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if out == nil {
		out = []model.Relationship{}
	}
	if in == nil {
		in = []model.Relationship{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"outgoing": out, "incoming": in})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
