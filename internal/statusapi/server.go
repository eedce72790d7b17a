// Package statusapi serves a read-only HTTP view of recent run summaries
// and workflow instances.
package statusapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/petrijr/cadence/internal/summary"
	"github.com/petrijr/cadence/pkg/api"
)

// Server provides the status endpoints.
type Server struct {
	router    chi.Router
	engine    api.Engine
	summaries *summary.Recorder
	logger    *slog.Logger
	started   time.Time
}

// ServerOption configures the server.
type ServerOption func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a status server.
func NewServer(engine api.Engine, summaries *summary.Recorder, opts ...ServerOption) *Server {
	s := &Server{
		engine:    engine,
		summaries: summaries,
		logger:    slog.Default(),
		started:   time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.setupRouter()
	return s
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))
	r.Use(s.loggingMiddleware)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	})
	r.Use(corsHandler.Handler)

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/summaries", s.handleSummaries)
		r.Route("/instances", func(r chi.Router) {
			r.Get("/", s.handleListInstances)
			r.Get("/{instanceID}", s.handleGetInstance)
			r.Get("/{instanceID}/history", s.handleHistory)
		})
	})
	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleSummaries(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	kind := api.SummaryKind(r.URL.Query().Get("kind"))
	out := s.summaries.Recent(kind, limit)
	if out == nil {
		out = []api.RunSummary{}
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleListInstances(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := api.InstanceListOptions{
		Type:        api.WorkflowType(q.Get("type")),
		ReferenceID: q.Get("reference"),
	}
	for _, st := range q["state"] {
		opts.States = append(opts.States, api.State(st))
	}

	instances, err := s.engine.List(r.Context(), opts)
	if err != nil {
		s.logger.Error("list instances failed", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to list instances")
		return
	}
	out := make([]InstanceDTO, 0, len(instances))
	for _, inst := range instances {
		out = append(out, toDTO(inst))
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetInstance(w http.ResponseWriter, r *http.Request) {
	inst, err := s.engine.Get(r.Context(), chi.URLParam(r, "instanceID"))
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toDTO(inst))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "instanceID")
	if _, err := s.engine.Get(r.Context(), id); err != nil {
		s.respondEngineError(w, err)
		return
	}
	events, err := s.engine.History(r.Context(), id)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	if events == nil {
		events = []api.WorkflowEvent{}
	}
	respondJSON(w, http.StatusOK, events)
}

func (s *Server) respondEngineError(w http.ResponseWriter, err error) {
	if errors.Is(err, api.ErrNotFoundOrExpired) {
		respondError(w, http.StatusNotFound, "instance not found")
		return
	}
	s.logger.Error("engine request failed", "error", err)
	respondError(w, http.StatusInternalServerError, "internal error")
}

// InstanceDTO is the JSON shape of a workflow instance.
type InstanceDTO struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	ReferenceID   string          `json:"referenceId"`
	State         string          `json:"state"`
	Version       int64           `json:"version"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	ContextKey    string          `json:"contextKey,omitempty"`
	CorrelationID string          `json:"correlationId,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
	ExpiresAt     *time.Time      `json:"expiresAt,omitempty"`
}

func toDTO(inst *api.WorkflowInstance) InstanceDTO {
	dto := InstanceDTO{
		ID:            inst.ID,
		Type:          string(inst.Type),
		ReferenceID:   inst.ReferenceID,
		State:         string(inst.State),
		Version:       inst.Version,
		ContextKey:    inst.ContextKey,
		CorrelationID: inst.CorrelationID,
		CreatedAt:     inst.CreatedAt,
		UpdatedAt:     inst.UpdatedAt,
	}
	if !inst.ExpiresAt.IsZero() {
		exp := inst.ExpiresAt
		dto.ExpiresAt = &exp
	}
	if data, err := api.EncodePayload(inst.Payload); err == nil {
		dto.Payload = data
	}
	return dto
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode response", "error", err)
		}
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
