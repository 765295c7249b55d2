package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/liamcoop/automations/internal/logger"
	"github.com/liamcoop/automations/internal/metrics"
	"github.com/liamcoop/automations/rules"
	"github.com/liamcoop/automations/workspaceengine"
)

// ServerDeps are the components the HTTP API is served from.
// DB, ExecutionStore and Metrics are optional.
type ServerDeps struct {
	DB             *sql.DB
	Engine         *rules.Engine
	Workspaces     *workspaceengine.Manager
	Executions     *rules.ExecutionLog
	ExecutionStore *rules.PostgresExecutionStore
	Metrics        *metrics.EngineMetrics
	RequestTimeout time.Duration
}

type Server struct {
	ServerDeps
	router *chi.Mux
	log    *slog.Logger
}

func NewServer(deps ServerDeps) *Server {
	if deps.RequestTimeout == 0 {
		deps.RequestTimeout = 60 * time.Second
	}
	s := &Server{
		ServerDeps: deps,
		log:        logger.Component("http"),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.RequestTimeout))

	r.Get("/api/v1/health", s.handleHealth)
	if s.Metrics != nil {
		r.Handle("/metrics", s.Metrics.Handler())
	}

	r.Post("/api/v1/events", s.handleEvent)
	r.Get("/api/v1/executions", s.handleListExecutions)

	r.Route("/api/v1/rules", func(r chi.Router) {
		r.Get("/", s.handleListRules)
		r.Post("/", s.handleCreateRule)
		r.Get("/{ruleId}", s.handleGetRule)
		r.Put("/{ruleId}", s.handleUpdateRule)
		r.Delete("/{ruleId}", s.handleDeleteRule)
	})

	r.Route("/api/v1/workspaces", func(r chi.Router) {
		r.Get("/", s.handleListWorkspaces)
		r.Route("/{workspaceId}", func(r chi.Router) {
			r.Get("/", s.handleGetWorkspace)
			r.Put("/", s.handlePutWorkspace)
			r.Delete("/", s.handleDeleteWorkspace)
		})
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// requestLogger logs one line per request on the structured logger
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		s.log.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// Health check handler
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:     "healthy",
		Storage:    "memory",
		QueueDepth: s.Engine.QueueLen(),
		Warnings:   logger.TotalWarnings.Load(),
		Errors:     logger.TotalErrors.Load(),
		Time:       time.Now().UTC(),
	}
	if s.Workspaces != nil {
		resp.WorkspacesLoaded = len(s.Workspaces.Workspaces())
	}

	if s.DB != nil {
		resp.Storage = "postgres"
		if err := s.DB.PingContext(r.Context()); err != nil {
			resp.Status = "unhealthy"
			resp.Error = err.Error()
			respondJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}

	respondJSON(w, http.StatusOK, resp)
}

// Event ingestion handler
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var req EventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.EventType == "" || req.EntityType == "" {
		respondError(w, http.StatusBadRequest, "eventType and entityType are required", nil)
		return
	}

	engine := s.Engine
	if req.WorkspaceID != "" {
		if s.Workspaces == nil {
			respondError(w, http.StatusNotFound, "workspace not found", nil)
			return
		}
		var err error
		if engine, err = s.Workspaces.Engine(req.WorkspaceID); err != nil {
			respondError(w, http.StatusNotFound, "workspace not found", err)
			return
		}
	}

	ev := req.event()

	if req.Async {
		if err := engine.Submit(ev); err != nil {
			respondDispatchError(w, err)
			return
		}
		respondJSON(w, http.StatusAccepted, QueuedResponse{Status: "queued", QueueDepth: engine.QueueLen()})
		return
	}

	start := time.Now()
	// Actions run to completion even if the client goes away
	executions, err := engine.Process(context.WithoutCancel(r.Context()), ev)
	if err != nil {
		respondDispatchError(w, err)
		return
	}
	if executions == nil {
		executions = []*rules.Execution{}
	}

	respondJSON(w, http.StatusOK, EventResponse{
		Executions:     executions,
		ProcessingTime: time.Since(start).String(),
	})
}

// List executions handler. With a database, ?ruleId= reads the durable
// audit trail; otherwise the in-memory log is used.
func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	ruleID := r.URL.Query().Get("ruleId")
	entityID := r.URL.Query().Get("entityId")

	if s.ExecutionStore != nil && ruleID != "" && entityID == "" {
		limit := 0
		if l := r.URL.Query().Get("limit"); l != "" {
			n, err := strconv.Atoi(l)
			if err != nil || n < 1 {
				respondError(w, http.StatusBadRequest, "limit must be a positive integer", nil)
				return
			}
			limit = n
		}
		execs, err := s.ExecutionStore.ListByRule(r.Context(), ruleID, limit)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "failed to list executions", err)
			return
		}
		if execs == nil {
			execs = []*rules.Execution{}
		}
		respondJSON(w, http.StatusOK, ExecutionsListResponse{Executions: execs})
		return
	}

	execs := []*rules.Execution{}
	if s.Executions != nil {
		if found := s.Executions.List(rules.ExecutionFilter{RuleID: ruleID, EntityID: entityID}); found != nil {
			execs = found
		}
	}
	respondJSON(w, http.StatusOK, ExecutionsListResponse{Executions: execs})
}

// List rules handler
func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	var (
		list []*rules.Rule
		err  error
	)
	if scope := r.URL.Query().Get("scope"); scope != "" {
		list, err = s.Engine.ListRulesForScope(scope)
	} else {
		list, err = s.Engine.ListRules()
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list rules", err)
		return
	}
	if list == nil {
		list = []*rules.Rule{}
	}
	respondJSON(w, http.StatusOK, RulesListResponse{Rules: list})
}

// Create rule handler
func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var rule rules.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	warnings, err := s.Engine.Validate(&rule)
	if err != nil {
		respondRuleError(w, err)
		return
	}
	warnings = append(warnings, s.schemaWarnings(&rule)...)

	created, err := s.Engine.CreateRule(&rule)
	if err != nil {
		respondRuleError(w, err)
		return
	}
	s.invalidateWorkspaces()

	respondJSON(w, http.StatusCreated, RuleResponse{Rule: created, Warnings: warnings})
}

// Get rule handler
func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.Engine.GetRule(chi.URLParam(r, "ruleId"))
	if err != nil {
		respondRuleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, RuleResponse{Rule: rule})
}

// Update rule handler
func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	var patch rules.RulePatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	updated, err := s.Engine.UpdateRule(chi.URLParam(r, "ruleId"), patch)
	if err != nil {
		respondRuleError(w, err)
		return
	}
	s.invalidateWorkspaces()

	respondJSON(w, http.StatusOK, RuleResponse{Rule: updated, Warnings: s.schemaWarnings(updated)})
}

// Delete rule handler
func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "ruleId")

	deleted, err := s.Engine.DeleteRule(ruleID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to delete rule", err)
		return
	}
	if !deleted {
		respondError(w, http.StatusNotFound, "rule not found", nil)
		return
	}
	s.invalidateWorkspaces()

	w.WriteHeader(http.StatusNoContent)
}

// List workspaces handler
func (s *Server) handleListWorkspaces(w http.ResponseWriter, r *http.Request) {
	ids := []string{}
	if s.Workspaces != nil {
		ids = s.Workspaces.Workspaces()
	}
	respondJSON(w, http.StatusOK, WorkspacesListResponse{Workspaces: ids})
}

// Get workspace handler
func (s *Server) handleGetWorkspace(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "workspaceId")
	if s.Workspaces == nil {
		respondError(w, http.StatusNotFound, "workspace not found", nil)
		return
	}

	schema, err := s.Workspaces.Schema(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "workspace not found", err)
		return
	}
	engine, err := s.Workspaces.Engine(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "workspace not found", err)
		return
	}

	respondJSON(w, http.StatusOK, WorkspaceResponse{ID: id, Schema: schema, QueueDepth: engine.QueueLen()})
}

// Create or update workspace handler. The schema is swapped in place; the
// workspace's engine and queue are kept.
func (s *Server) handlePutWorkspace(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "workspaceId")
	if s.Workspaces == nil {
		respondError(w, http.StatusNotFound, "workspaces are not enabled", nil)
		return
	}

	var req WorkspaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	engine, err := s.Workspaces.CreateWorkspace(id, req.Schema)
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to create workspace", err)
		return
	}

	respondJSON(w, http.StatusOK, WorkspaceResponse{ID: id, Schema: req.Schema, QueueDepth: engine.QueueLen()})
}

// Delete workspace handler
func (s *Server) handleDeleteWorkspace(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "workspaceId")
	if s.Workspaces == nil {
		respondError(w, http.StatusNotFound, "workspace not found", nil)
		return
	}

	if err := s.Workspaces.RemoveWorkspace(id); err != nil {
		respondError(w, http.StatusNotFound, "workspace not found", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) schemaWarnings(rule *rules.Rule) []string {
	if s.Workspaces == nil {
		return nil
	}
	return s.Workspaces.CheckRule(rule)
}

// invalidateWorkspaces drops workspace caches after a rule change made
// through the global engine
func (s *Server) invalidateWorkspaces() {
	if s.Workspaces != nil {
		s.Workspaces.InvalidateAll()
	}
}

// Helper functions
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	respondJSON(w, status, resp)
}

// respondRuleError maps rule management errors to status codes
func respondRuleError(w http.ResponseWriter, err error) {
	var verr *rules.ValidationError
	switch {
	case errors.As(err, &verr):
		respondJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:    "rule validation failed",
			Details:  verr.Error(),
			Problems: verr.Problems,
			Warnings: verr.Warnings,
		})
	case errors.Is(err, rules.ErrRuleNotFound):
		respondError(w, http.StatusNotFound, "rule not found", err)
	default:
		respondError(w, http.StatusInternalServerError, "rule operation failed", err)
	}
}

// respondDispatchError maps engine intake errors to status codes
func respondDispatchError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, rules.ErrDispatchBusy):
		w.Header().Set("Retry-After", "1")
		respondError(w, http.StatusServiceUnavailable, "dispatcher busy", err)
	case errors.Is(err, rules.ErrEngineClosed):
		respondError(w, http.StatusServiceUnavailable, "engine shutting down", err)
	default:
		respondError(w, http.StatusInternalServerError, "event processing failed", err)
	}
}
