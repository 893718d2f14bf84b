// Package server exposes the read-only status API. Everything an operator
// can see here they could also get from the CLI; the HTTP surface exists so
// dashboards can poll run state without database access.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/campaign-cli/internal/model"
	"github.com/sells-group/campaign-cli/internal/store"
)

// StatusStore is the read-only slice of the store the API serves.
type StatusStore interface {
	Ping(ctx context.Context) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error)
	GetRunCounts(ctx context.Context, runID string, maxContactAttempts int) (*store.RunCounts, error)
	ListHeartbeats(ctx context.Context) ([]model.WorkerHeartbeat, error)
}

// Config tunes the server's view of worker liveness.
type Config struct {
	MaxContactAttempts int
	DeadThreshold      time.Duration
}

// Server is the chi router over the status store.
type Server struct {
	store StatusStore
	cfg   Config
	log   *zap.Logger
}

func New(st StatusStore, cfg Config) *Server {
	if cfg.MaxContactAttempts <= 0 {
		cfg.MaxContactAttempts = 3
	}
	if cfg.DeadThreshold <= 0 {
		cfg.DeadThreshold = model.DeadWorkerThreshold(30*time.Second, 5)
	}
	return &Server{
		store: st,
		cfg:   cfg,
		log:   zap.L().Named("server"),
	}
}

// Router builds the full route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}))

	r.Get("/healthz", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{id}", s.handleGetRun)
		r.Get("/workers", s.handleListWorkers)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "store unreachable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	filter := store.RunFilter{
		Status: model.RunStatus(r.URL.Query().Get("status")),
		Stage:  model.RunStage(r.URL.Query().Get("stage")),
		Limit:  100,
	}
	runs, err := s.store.ListRuns(r.Context(), filter)
	if err != nil {
		s.log.Error("list runs failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "list runs failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// runStatus is a run joined with its live backlog counts.
type runStatus struct {
	Run    *model.Run       `json:"run"`
	Counts *store.RunCounts `json:"counts"`
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	run, err := s.store.GetRun(r.Context(), runID)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	counts, err := s.store.GetRunCounts(r.Context(), runID, s.cfg.MaxContactAttempts)
	if err != nil {
		s.log.Error("run counts failed", zap.String("run_id", runID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "run counts failed")
		return
	}
	s.writeJSON(w, http.StatusOK, runStatus{Run: run, Counts: counts})
}

// workerView is a heartbeat with its liveness classification applied.
type workerView struct {
	model.WorkerHeartbeat
	Liveness string `json:"liveness"`
}

func (s *Server) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	beats, err := s.store.ListHeartbeats(r.Context())
	if err != nil {
		s.log.Error("list heartbeats failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "list workers failed")
		return
	}

	now := time.Now()
	views := make([]workerView, 0, len(beats))
	for _, hb := range beats {
		views = append(views, workerView{
			WorkerHeartbeat: hb,
			Liveness:        classify(&hb, now, s.cfg.DeadThreshold),
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"workers": views})
}

func classify(hb *model.WorkerHeartbeat, now time.Time, threshold time.Duration) string {
	switch {
	case hb.Status == model.WorkerStopped:
		return "stopped"
	case hb.Dead(now, threshold):
		return "dead"
	default:
		return "alive"
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("write response failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, map[string]string{"error": msg})
}
