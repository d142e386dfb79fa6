// Package api exposes the task services over JSON/HTTP.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"task-assistant/internal/service"
)

// Server is the HTTP API server.
type Server struct {
	tasks       *service.TaskService
	attachments *service.AttachmentService
	ingestion   *service.IngestionService
	logger      *slog.Logger
	mux         *http.ServeMux
	handler     http.Handler
}

// New creates a new Server.
func New(tasks *service.TaskService, attachments *service.AttachmentService, ingestion *service.IngestionService, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		tasks:       tasks,
		attachments: attachments,
		ingestion:   ingestion,
		logger:      logger,
		mux:         http.NewServeMux(),
	}
	s.routes()
	s.handler = s.logRequests(s.mux)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) routes() {
	// Tasks. Collection routes answer with and without the trailing slash.
	for _, p := range []string{"/tasks", "/tasks/{$}"} {
		s.mux.HandleFunc("POST "+p, s.handleTaskCreate)
		s.mux.HandleFunc("GET "+p, s.handleTaskList)
	}
	s.mux.HandleFunc("GET /tasks/{id}", s.handleTaskGet)
	s.mux.HandleFunc("PUT /tasks/{id}", s.handleTaskUpdate)
	s.mux.HandleFunc("DELETE /tasks/{id}", s.handleTaskDelete)

	// Attachments
	for _, p := range []string{"/tasks/{id}/attachments", "/tasks/{id}/attachments/{$}"} {
		s.mux.HandleFunc("POST "+p, s.handleAttachmentUpload)
		s.mux.HandleFunc("GET "+p, s.handleAttachmentList)
	}
	s.mux.HandleFunc("GET /attachments/{id}/download", s.handleAttachmentDownload)
	s.mux.HandleFunc("DELETE /attachments/{id}", s.handleAttachmentDelete)

	// AI
	s.mux.HandleFunc("POST /ai_generate_tasks", s.handleGenerateTasks)
	s.mux.HandleFunc("POST /ai_generate_tasks/{$}", s.handleGenerateTasks)

	// System
	s.mux.HandleFunc("GET /health", s.handleHealth)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Warn("write json", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps the service error taxonomy onto HTTP statuses.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *service.ValidationError
	switch {
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, ve.Error())
		return
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	kind := "internal"
	switch {
	case errors.Is(err, service.ErrStorage):
		kind = "storage"
	case errors.Is(err, service.ErrExternalService):
		kind = "external_service"
	}
	s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error_kind", kind, "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error(), "kind": kind})
}

// pathID parses the {id} wildcard. It writes the response itself on failure.
func pathID(w http.ResponseWriter, r *http.Request) (uint, bool) {
	raw := r.PathValue("id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		writeError(w, http.StatusBadRequest, "invalid id "+strconv.Quote(raw))
		return 0, false
	}
	return uint(id), true
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &service.ValidationError{Field: key, Reason: "must be an integer"}
	}
	return n, nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// logRequests logs one line per request and tags it with a request id.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", reqID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		s.logger.Info("http request",
			"request_id", reqID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}
