// Package api exposes the extraction service over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/IgnatG/langextract-api/internal/common/logger"
	"github.com/IgnatG/langextract-api/internal/task"
)

// TaskService is the orchestrator surface the handlers need.
type TaskService interface {
	Submit(ctx context.Context, req task.Request) (string, error)
	SubmitBatch(ctx context.Context, reqs []task.Request, callbackURL string, headers map[string]string) (string, []string, error)
	GetStatus(ctx context.Context, taskID string) (*task.Task, error)
	Cancel(ctx context.Context, taskID string) (bool, error)
}

// Pinger reports backing-store health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server routes HTTP traffic to the orchestrator.
type Server struct {
	service TaskService
	health  Pinger
	log     logger.Logger
}

func NewServer(service TaskService, health Pinger, log logger.Logger) *Server {
	return &Server{service: service, health: health, log: log}
}

// Handler builds the service mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/extract", s.handleExtract)
	mux.HandleFunc("POST /api/v1/extract/batch", s.handleExtractBatch)
	mux.HandleFunc("GET /api/v1/tasks/{id}", s.handleGetTask)
	mux.HandleFunc("DELETE /api/v1/tasks/{id}", s.handleCancelTask)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.health.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
