package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/pkg/services"
)

// WorkflowHandler exposes the workflow API: definition, queries, and
// lifecycle commands.
type WorkflowHandler struct {
	creator      services.WorkflowCreator
	reader       services.WorkflowReader
	orchestrator services.Orchestrator
	logger       *zap.Logger
}

// NewWorkflowHandler creates a new WorkflowHandler.
func NewWorkflowHandler(
	creator services.WorkflowCreator,
	reader services.WorkflowReader,
	orchestrator services.Orchestrator,
	logger *zap.Logger,
) *WorkflowHandler {
	return &WorkflowHandler{
		creator:      creator,
		reader:       reader,
		orchestrator: orchestrator,
		logger:       logger,
	}
}

// RegisterRoutes registers the workflow handler's routes on the given mux.
func (h *WorkflowHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/workflows", h.Create)
	mux.HandleFunc("GET /api/workflows", h.List)
	mux.HandleFunc("GET /api/workflows/{id}", h.Get)
	mux.HandleFunc("POST /api/workflows/{id}/start", h.Start)
	mux.HandleFunc("POST /api/workflows/{id}/pause", h.Pause)
	mux.HandleFunc("POST /api/workflows/{id}/resume", h.Resume)
	mux.HandleFunc("POST /api/workflows/{id}/cancel", h.Cancel)
}

// Create handles POST /api/workflows.
func (h *WorkflowHandler) Create(w http.ResponseWriter, r *http.Request) {
	var input services.CreateWorkflowInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		_ = ErrorResponse(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	wf, err := h.creator.Create(r.Context(), input)
	if err != nil {
		h.logger.Warn("workflow creation rejected", zap.Error(err))
		_ = ServiceError(w, r, err)
		return
	}

	snapshot, err := h.reader.GetWorkflow(r.Context(), wf.ID)
	if err != nil {
		_ = ServiceError(w, r, err)
		return
	}
	_ = WriteJSON(w, http.StatusCreated, snapshot)
}

// List handles GET /api/workflows.
func (h *WorkflowHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	workflows, err := h.reader.ListWorkflows(r.Context(), limit, offset)
	if err != nil {
		_ = ServiceError(w, r, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, map[string]any{"workflows": workflows})
}

// Get handles GET /api/workflows/{id}.
func (h *WorkflowHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	snapshot, err := h.reader.GetWorkflow(r.Context(), id)
	if err != nil {
		_ = ServiceError(w, r, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, snapshot)
}

// Start handles POST /api/workflows/{id}/start.
func (h *WorkflowHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, h.orchestrator.Start)
}

// Pause handles POST /api/workflows/{id}/pause.
func (h *WorkflowHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, h.orchestrator.Pause)
}

// Resume handles POST /api/workflows/{id}/resume.
func (h *WorkflowHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, h.orchestrator.Resume)
}

// Cancel handles POST /api/workflows/{id}/cancel.
func (h *WorkflowHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, h.orchestrator.Cancel)
}

// command runs a lifecycle command and responds with the fresh snapshot.
func (h *WorkflowHandler) command(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id uuid.UUID) error) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := fn(r.Context(), id); err != nil {
		_ = ServiceError(w, r, err)
		return
	}

	snapshot, err := h.reader.GetWorkflow(r.Context(), id)
	if err != nil {
		_ = ServiceError(w, r, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, snapshot)
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		_ = ErrorResponse(w, r, http.StatusBadRequest, "invalid_request", "invalid workflow id")
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
