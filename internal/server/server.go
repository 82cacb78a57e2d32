// Package server is the optional local debug server: read-only
// inspection of the current config and assignments plus a dry-run
// trigger endpoint that classifies an event without presenting.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/showpath/showgate/internal/assignment"
	"github.com/showpath/showgate/internal/core/domain"
	"github.com/showpath/showgate/internal/remoteconfig"
)

type Server struct {
	Router *chi.Mux
	Addr   string

	config      *remoteconfig.Manager
	assignments *assignment.Store
	logger      *slog.Logger
	httpServer  *http.Server
}

func New(addr string, logger *slog.Logger, config *remoteconfig.Manager, assignments *assignment.Store) *Server {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(TimeoutMiddleware(10 * time.Second))
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "showgate-debug")
	})

	s := &Server{
		Router:      r,
		Addr:        addr,
		config:      config,
		assignments: assignments,
		logger:      logger,
	}

	r.Get("/debug/config", s.handleConfig)
	r.Get("/debug/assignments", s.handleAssignments)
	r.Post("/debug/trigger", s.handleTrigger)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: r,
	}
	return s
}

// Start serves until Shutdown. It blocks; run it on its own goroutine.
func (s *Server) Start() error {
	s.logger.Info("debug server listening", slog.String("addr", s.Addr))
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

type configSummary struct {
	FetchedAt  time.Time `json:"fetched_at"`
	Triggers   []string  `json:"triggers"`
	PaywallIDs []string  `json:"paywall_ids"`
	LogLevel   int       `json:"log_level"`
	Locales    []string  `json:"locales"`
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	cfg := s.config.Config()
	if cfg == nil {
		writeError(w, http.StatusServiceUnavailable, "no config loaded yet")
		return
	}
	summary := configSummary{
		FetchedAt:  cfg.FetchedAt,
		Triggers:   make([]string, 0, len(cfg.Triggers)),
		PaywallIDs: cfg.PaywallIDs(),
		LogLevel:   cfg.LogLevel,
		Locales:    cfg.Locales,
	}
	for _, t := range cfg.Triggers {
		summary.Triggers = append(summary.Triggers, t.Name)
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleAssignments(w http.ResponseWriter, r *http.Request) {
	confirmed, unconfirmed := s.assignments.All()
	writeJSON(w, http.StatusOK, map[string]map[string]domain.Variant{
		"confirmed":   confirmed,
		"unconfirmed": unconfirmed,
	})
}

type triggerRequest struct {
	EventName  string                  `json:"event_name"`
	Parameters map[string]domain.Value `json:"parameters"`
}

type triggerResponse struct {
	Result       string `json:"result"`
	ExperimentID string `json:"experiment_id,omitempty"`
	VariantID    string `json:"variant_id,omitempty"`
	PaywallID    string `json:"paywall_id,omitempty"`
}

// handleTrigger classifies a posted event. Nothing is presented, but
// occurrence counts and computed assignments advance exactly as a real
// evaluation would.
func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if req.EventName == "" {
		writeError(w, http.StatusBadRequest, "event_name is required")
		return
	}

	ev := domain.NewEvent(req.EventName, req.Parameters)
	result, _ := s.config.EvaluateTrigger(r.Context(), ev)

	resp := triggerResponse{Result: result.Kind.String()}
	if result.Experiment.ID != "" {
		resp.ExperimentID = result.Experiment.ID
		resp.VariantID = result.Experiment.Variant.ID
		resp.PaywallID = result.Experiment.Variant.PaywallID
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
