// Package api exposes the ops HTTP interface for the crawler service.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/cs2watch/results-crawler/internal/crawl"
	"github.com/cs2watch/results-crawler/internal/metrics"
)

const queueTimeout = 3 * time.Second

// Server wires HTTP handlers to the stage queues.
type Server struct {
	router chi.Router
	queues map[crawl.Stage]crawl.WorkQueue
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(queues map[crawl.Stage]crawl.WorkQueue, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	s := &Server{queues: queues, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/queues", s.listQueues)
		r.Route("/queues/{stage}", func(r chi.Router) {
			r.Get("/", s.queueStats)
			r.Get("/items/{id}", s.getItem)
			r.Post("/items/{id}/reset", s.resetItem)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// listQueues handles GET /v1/queues: stats for every stage.
func (s *Server) listQueues(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), queueTimeout)
	defer cancel()

	out := make(map[string]crawl.QueueStats, len(s.queues))
	for stage, queue := range s.queues {
		stats, err := queue.Stats(ctx)
		if err != nil {
			s.logger.Error("queue stats failed", zap.String("stage", string(stage)), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "queue stats unavailable")
			return
		}
		out[string(stage)] = stats
	}
	writeJSON(w, http.StatusOK, map[string]any{"queues": out})
}

// queueStats handles GET /v1/queues/{stage}.
func (s *Server) queueStats(w http.ResponseWriter, r *http.Request) {
	queue, ok := s.stageQueue(r)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown stage")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), queueTimeout)
	defer cancel()

	stats, err := queue.Stats(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "queue stats unavailable")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// itemGetter is the optional lookup both queue backends implement; it stays
// off crawl.WorkQueue because the crawl path never reads single items.
type itemGetter interface {
	GetItem(ctx context.Context, id string) (crawl.WorkItem, error)
}

// getItem handles GET /v1/queues/{stage}/items/{id}.
func (s *Server) getItem(w http.ResponseWriter, r *http.Request) {
	queue, ok := s.stageQueue(r)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown stage")
		return
	}
	getter, ok := queue.(itemGetter)
	if !ok {
		writeError(w, http.StatusNotFound, "item lookup unsupported")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), queueTimeout)
	defer cancel()

	item, err := getter.GetItem(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "item not found")
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// resetItem handles POST /v1/queues/{stage}/items/{id}/reset: the manual
// recovery path for exhausted items.
func (s *Server) resetItem(w http.ResponseWriter, r *http.Request) {
	queue, ok := s.stageQueue(r)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown stage")
		return
	}
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "item id is required")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), queueTimeout)
	defer cancel()

	if err := queue.ResetFailed(ctx, id); err != nil {
		s.logger.Warn("item reset failed", zap.String("id", id), zap.Error(err))
		writeError(w, http.StatusNotFound, "item not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset", "id": id})
}

func (s *Server) stageQueue(r *http.Request) (crawl.WorkQueue, bool) {
	queue, ok := s.queues[crawl.Stage(chi.URLParam(r, "stage"))]
	return queue, ok
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
