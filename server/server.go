// Package server exposes the engine over HTTP and a websocket review session.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/songzhibin97/graph-engine/metrics"
	"github.com/songzhibin97/graph-engine/review"
	"github.com/songzhibin97/graph-engine/types"
	"github.com/songzhibin97/graph-engine/workflow"
)

// Engine is the engine the service runs; its state is the review state.
type Engine = workflow.Engine[review.State]

// Dependencies holds what the router needs.
type Dependencies struct {
	Engine *Engine
	Logger *slog.Logger
	// Metrics, when set, records request metrics.
	Metrics *metrics.Metrics
	// MetricsHandler serves /metrics. Defaults to the global registry.
	MetricsHandler http.Handler
}

type server struct {
	engine *Engine
	logger *slog.Logger
}

// NewRouter registers every route on a chi router.
func NewRouter(deps Dependencies) chi.Router {
	s := &server{engine: deps.Engine, logger: deps.Logger}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	metricsHandler := deps.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = metrics.Handler()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Middleware)
	}

	r.Get("/healthz", handleHealth)
	r.Method(http.MethodGet, "/metrics", metricsHandler)

	r.Post("/graph/create", s.handleCreateGraph)
	r.Post("/graph/run", s.handleRunGraph)
	r.Get("/graph/state/{run_id}", s.handleGetState)
	r.Get("/ws/code-review", s.handleCodeReview)
	return r
}

// runResponse is the wire form of a run.
type runResponse struct {
	RunID       string                         `json:"run_id"`
	GraphID     string                         `json:"graph_id"`
	Finished    bool                           `json:"finished"`
	CurrentNode *string                        `json:"current_node"`
	FinalState  review.State                   `json:"final_state"`
	Log         []types.LogEntry[review.State] `json:"log"`
}

func newRunResponse(run types.Run[review.State]) runResponse {
	resp := runResponse{
		RunID:      run.RunID,
		GraphID:    run.GraphID,
		Finished:   run.Finished,
		FinalState: run.State,
		Log:        run.Log,
	}
	if run.CurrentNode != "" {
		node := run.CurrentNode
		resp.CurrentNode = &node
	}
	if resp.Log == nil {
		resp.Log = []types.LogEntry[review.State]{}
	}
	return resp
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleCreateGraph(w http.ResponseWriter, r *http.Request) {
	var g types.GraphDefinition
	if err := json.NewDecoder(r.Body).Decode(&g); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if err := s.engine.CreateGraph(r.Context(), g); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"graph_id": g.ID})
}

func (s *server) handleRunGraph(w http.ResponseWriter, r *http.Request) {
	var body struct {
		GraphID string        `json:"graph_id"`
		State   *review.State `json:"state"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if body.GraphID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("graph_id is required"))
		return
	}
	initial := review.NewState("")
	if body.State != nil {
		initial = *body.State
	}

	run, err := s.engine.StartRun(r.Context(), body.GraphID, initial)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newRunResponse(run))
}

func (s *server) handleGetState(w http.ResponseWriter, r *http.Request) {
	run, err := s.engine.GetRun(r.Context(), chi.URLParam(r, "run_id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newRunResponse(run))
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrInvalidGraph):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	writeJSON(w, status, errorBody(err.Error()))
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}
