// ABOUTME: HTTP API exposing workflow execution, dry-run plans, history, and analysis
// ABOUTME: Serves JSON with RFC 7807 problem responses carrying a per-request id

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/weftwork/weft/internal/analysis"
	"github.com/weftwork/weft/internal/orchestrator"
	"github.com/weftwork/weft/internal/registry"
	"github.com/weftwork/weft/pkg/types"
)

// Config holds server configuration
type Config struct {
	Listen string
}

// Server is the HTTP front of the engine
type Server struct {
	orchestrator *orchestrator.Orchestrator
	workflows    *registry.WorkflowRegistry
	tasks        *registry.TaskRegistry
	versions     types.WorkflowVersionRepository
	logger       types.Logger
	server       *http.Server
}

// New creates the HTTP server. The versions repository may be nil when
// version tracking is disabled.
func New(
	config Config,
	o *orchestrator.Orchestrator,
	workflows *registry.WorkflowRegistry,
	tasks *registry.TaskRegistry,
	versions types.WorkflowVersionRepository,
	logger types.Logger,
) *Server {
	if config.Listen == "" {
		config.Listen = ":8080"
	}
	s := &Server{
		orchestrator: o,
		workflows:    workflows,
		tasks:        tasks,
		versions:     versions,
		logger:       logger,
	}
	s.server = &http.Server{
		Addr:         config.Listen,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the route table, usable directly in tests
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/v1/workflows", s.handleListWorkflows)
	mux.HandleFunc("POST /api/v1/workflows/{name}/execute", s.handleExecute)
	mux.HandleFunc("POST /api/v1/workflows/{name}/test", s.handleTest)
	mux.HandleFunc("GET /api/v1/workflows/{name}/versions", s.handleVersions)
	mux.HandleFunc("GET /api/v1/executions", s.handleListExecutions)
	mux.HandleFunc("GET /api/v1/executions/{id}", s.handleGetExecution)
	mux.HandleFunc("GET /api/v1/executions/{id}/trace", s.handleTrace)
	mux.HandleFunc("POST /api/v1/executions/{id}/cancel", s.handleCancel)
	mux.HandleFunc("GET /api/v1/analysis/blast-radius", s.handleBlastRadius)

	return mux
}

// Start serves until the listener fails or Stop is called
func (s *Server) Start() error {
	if s.logger != nil {
		s.logger.Info().Str("listen", s.server.Addr).Msg("HTTP server listening")
	}
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop shuts the server down gracefully
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// problem is an RFC 7807 problem details body
type problem struct {
	Type      string `json:"type"`
	Title     string `json:"title"`
	Status    int    `json:"status"`
	Detail    string `json:"detail,omitempty"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"requestId"`
}

func (s *Server) writeProblem(w http.ResponseWriter, status int, title, detail, code string) {
	requestID := uuid.NewString()
	if s.logger != nil {
		s.logger.Warn().
			Str("requestId", requestID).
			Int("status", status).
			Str("detail", detail).
			Msg(title)
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem{
		Type:      "about:blank",
		Title:     title,
		Status:    status,
		Detail:    detail,
		Code:      code,
		RequestID: requestID,
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type workflowSummary struct {
	Name      string `json:"name"`
	Namespace string `json:"namespace,omitempty"`
	Version   string `json:"version,omitempty"`
	Tasks     int    `json:"tasks"`
}

func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	var out []workflowSummary
	for _, wf := range s.workflows.List(r.URL.Query().Get("namespace")) {
		out = append(out, workflowSummary{
			Name:      wf.Metadata.Name,
			Namespace: wf.Metadata.Namespace,
			Version:   wf.Metadata.Version(),
			Tasks:     len(wf.Tasks),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"workflows": out})
}

type executeRequest struct {
	Input     map[string]interface{} `json:"input,omitempty"`
	Namespace string                 `json:"namespace,omitempty"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var req executeRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeProblem(w, http.StatusBadRequest, "Invalid request body", err.Error(), "")
			return
		}
	}

	wf := s.workflows.Find(req.Namespace, name)
	if wf == nil {
		s.writeProblem(w, http.StatusNotFound, "Workflow not found", name, types.CodeSubWorkflowMissing)
		return
	}

	result, err := s.orchestrator.Execute(r.Context(), wf, req.Input)
	if err != nil {
		s.writeProblem(w, http.StatusInternalServerError, "Execution error", err.Error(), types.CodeOf(err))
		return
	}

	status := http.StatusOK
	if !result.Success {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, result)
}

func (s *Server) handleTest(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var req executeRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeProblem(w, http.StatusBadRequest, "Invalid request body", err.Error(), "")
			return
		}
	}

	wf := s.workflows.Find(req.Namespace, name)
	if wf == nil {
		s.writeProblem(w, http.StatusNotFound, "Workflow not found", name, types.CodeSubWorkflowMissing)
		return
	}

	plan, err := s.orchestrator.Plan(wf, req.Input)
	if err != nil {
		s.writeProblem(w, http.StatusUnprocessableEntity, "Workflow is not executable", err.Error(), types.CodeOf(err))
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (s *Server) handleVersions(w http.ResponseWriter, r *http.Request) {
	if s.versions == nil {
		s.writeProblem(w, http.StatusNotFound, "Version tracking disabled", "", "")
		return
	}
	versions, err := s.versions.GetVersions(r.PathValue("name"))
	if err != nil {
		s.writeProblem(w, http.StatusInternalServerError, "Failed to list versions", err.Error(), types.CodeOf(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"versions": versions})
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := types.ExecutionFilter{
		WorkflowName: query.Get("workflow"),
		Status:       types.ExecutionStatus(query.Get("status")),
	}
	filter.Skip, _ = strconv.Atoi(query.Get("skip"))
	filter.Take, _ = strconv.Atoi(query.Get("take"))

	records, err := s.orchestrator.ListExecutions(filter)
	if err != nil {
		s.writeProblem(w, http.StatusInternalServerError, "Failed to list executions", err.Error(), types.CodeOf(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"executions": records})
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	record, err := s.orchestrator.GetExecution(r.PathValue("id"))
	if err != nil {
		s.writeProblem(w, http.StatusInternalServerError, "Failed to load execution", err.Error(), types.CodeOf(err))
		return
	}
	if record == nil {
		s.writeProblem(w, http.StatusNotFound, "Execution not found", r.PathValue("id"), "")
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// handleTrace returns the per-task timeline of one execution
func (s *Server) handleTrace(w http.ResponseWriter, r *http.Request) {
	record, err := s.orchestrator.GetExecution(r.PathValue("id"))
	if err != nil {
		s.writeProblem(w, http.StatusInternalServerError, "Failed to load execution", err.Error(), types.CodeOf(err))
		return
	}
	if record == nil {
		s.writeProblem(w, http.StatusNotFound, "Execution not found", r.PathValue("id"), "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"executionId": record.ID,
		"workflow":    record.WorkflowName,
		"status":      record.Status,
		"startedAt":   record.StartedAt,
		"completedAt": record.CompletedAt,
		"durationMs":  record.DurationMs,
		"tasks":       record.Tasks,
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.orchestrator.Cancel(id) {
		s.writeProblem(w, http.StatusNotFound, "No active execution", id, "")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"executionId": id, "status": "cancelling"})
}

func (s *Server) handleBlastRadius(w http.ResponseWriter, r *http.Request) {
	task := r.URL.Query().Get("task")
	if task == "" {
		s.writeProblem(w, http.StatusBadRequest, "Missing task parameter", "", "")
		return
	}
	maxDepth, _ := strconv.Atoi(r.URL.Query().Get("maxDepth"))

	report := analysis.Analyze(task, s.workflows.List(""), maxDepth)
	writeJSON(w, http.StatusOK, report)
}
