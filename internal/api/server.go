package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgallion1/docforge/internal/config"
	"github.com/dgallion1/docforge/internal/pathstore"
	"github.com/dgallion1/docforge/internal/pipeline"
	"github.com/dgallion1/docforge/internal/transform"
)

// Runner queues runs and tracks them while they are in memory.
type Runner interface {
	Submit(job *pipeline.Job) error
	GetJob(id string) *pipeline.Job
	ForgetJob(id string)
	QueueDepth() int
}

// Archive holds finished runs beyond the in-memory TTL.
type Archive interface {
	GetNode(ctx context.Context, key string) (*pathstore.NodeResponse, error)
	ListChildren(ctx context.Context, key string, limit int) ([]pathstore.ListChildrenResponse, error)
	DeleteNode(ctx context.Context, key string, recursive bool) error
}

// StatsSource reports model latency.
type StatsSource interface {
	Model() string
	Stats() transform.StatsSnapshot
}

// Server is the HTTP API server for docforge.
type Server struct {
	router  chi.Router
	runner  Runner
	archive Archive
	stats   StatsSource
	log     *slog.Logger
	cfg     config.Config
}

// NewServer creates and configures the HTTP server. archive and stats may be nil.
func NewServer(runner Runner, archive Archive, stats StatsSource, log *slog.Logger, cfg config.Config) *Server {
	s := &Server{
		runner:  runner,
		archive: archive,
		stats:   stats,
		log:     log,
		cfg:     cfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.cfg.APIKey))

		r.Route("/api/runs", func(r chi.Router) {
			r.Post("/", s.handleCreateRun)
			r.Post("/batch", s.handleBatchRuns)
			r.Get("/", s.handleListRuns)
			r.Get("/{runID}", s.handleRunStatus)
			r.Get("/{runID}/output", s.handleRunOutput)
			r.Delete("/{runID}", s.handleDeleteRun)
		})
		r.Get("/api/stats/llm", s.handleLLMStats)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"queue_depth": s.runner.QueueDepth(),
		"archive":     s.archive != nil,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}
