// Package server exposes the decision engine over HTTP.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/stewardhq/steward/internal/engine"
	"github.com/stewardhq/steward/internal/heartbeat"
	"github.com/stewardhq/steward/internal/memory"
	"github.com/stewardhq/steward/internal/store"
)

// Server is the steward HTTP API server.
type Server struct {
	db       *store.DB
	engine   *engine.Engine
	runner   *heartbeat.Runner
	searcher *memory.Searcher
	log      *zap.SugaredLogger
	router   chi.Router
	version  string
	started  time.Time
}

// New creates a new Server.
func New(db *store.DB, eng *engine.Engine, runner *heartbeat.Runner, searcher *memory.Searcher, log *zap.SugaredLogger, version string) *Server {
	s := &Server{
		db:       db,
		engine:   eng,
		runner:   runner,
		searcher: searcher,
		log:      log,
		version:  version,
		started:  time.Now(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Post("/actions/propose", s.handlePropose)
		r.Get("/actions", s.handleListActions)

		r.Get("/pending", s.handleListPending)
		r.Post("/pending/{pendingID}/resolve", s.handleResolvePending)

		r.Get("/decisions", s.handleListDecisions)
		r.Post("/decisions/{decisionID}/feedback", s.handleFeedback)

		r.Get("/users/{userID}/autonomy", s.handleGetAutonomy)
		r.Put("/users/{userID}/autonomy", s.handlePutAutonomy)

		r.Get("/rules", s.handleListRules)
		r.Get("/memory/search", s.handleMemorySearch)

		r.Post("/heartbeat", s.handleHeartbeat)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	if err := s.db.Ping(); err != nil {
		dbOK = false
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.started).Seconds(),
		"db":      dbOK,
		"db_path": s.db.Path,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
