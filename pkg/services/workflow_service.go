package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/pkg/apperrors"
	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/pkg/models"
	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/pkg/repositories"
)

const maxListLimit = 1000

// TaskSnapshot is the read-model view of one task.
type TaskSnapshot struct {
	ID           uuid.UUID         `json:"id"`
	Name         string            `json:"name"`
	Type         models.TaskType   `json:"type"`
	Status       models.TaskStatus `json:"status"`
	RetryCount   int               `json:"retry_count"`
	Dependencies []uuid.UUID       `json:"dependencies,omitempty"`
	Result       map[string]any    `json:"result,omitempty"`
	Error        *string           `json:"error,omitempty"`
	StartedAt    *time.Time        `json:"started_at,omitempty"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
}

// WorkflowSnapshot is the read-model view of a workflow and its tasks.
type WorkflowSnapshot struct {
	ID              uuid.UUID             `json:"id"`
	Name            string                `json:"name"`
	Description     string                `json:"description,omitempty"`
	Status          models.WorkflowStatus `json:"status"`
	ExecutionMode   models.ExecutionMode  `json:"execution_mode"`
	Progress        float64               `json:"progress"`
	StatusMessage   string                `json:"status_message,omitempty"`
	Metadata        map[string]any        `json:"metadata,omitempty"`
	Tasks           []TaskSnapshot        `json:"tasks,omitempty"`
	TaskCount       int                   `json:"task_count"`
	StartedAt       *time.Time            `json:"started_at,omitempty"`
	CompletedAt     *time.Time            `json:"completed_at,omitempty"`
	DurationSeconds *float64              `json:"duration_seconds,omitempty"`
	CreatedAt       time.Time             `json:"created_at"`
}

// WorkflowReader serves workflow queries.
type WorkflowReader interface {
	GetWorkflow(ctx context.Context, id uuid.UUID) (WorkflowSnapshot, error)
	ListWorkflows(ctx context.Context, limit, offset int) ([]WorkflowSnapshot, error)
}

type workflowReader struct {
	workflows repositories.WorkflowRepository
	logger    *zap.Logger
}

// NewWorkflowReader creates the workflow query service.
func NewWorkflowReader(workflows repositories.WorkflowRepository, logger *zap.Logger) WorkflowReader {
	return &workflowReader{
		workflows: workflows,
		logger:    logger.Named("workflow-reader"),
	}
}

var _ WorkflowReader = (*workflowReader)(nil)

func (r *workflowReader) GetWorkflow(ctx context.Context, id uuid.UUID) (WorkflowSnapshot, error) {
	wf, err := r.workflows.GetByID(ctx, id)
	if err != nil {
		return WorkflowSnapshot{}, err
	}
	return snapshotWorkflow(wf, true), nil
}

func (r *workflowReader) ListWorkflows(ctx context.Context, limit, offset int) ([]WorkflowSnapshot, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > maxListLimit {
		return nil, fmt.Errorf("%w: limit must be at most %d", apperrors.ErrValidation, maxListLimit)
	}
	if offset < 0 {
		return nil, fmt.Errorf("%w: offset must not be negative", apperrors.ErrValidation)
	}

	wfs, err := r.workflows.GetAll(ctx, limit, offset)
	if err != nil {
		return nil, err
	}

	out := make([]WorkflowSnapshot, 0, len(wfs))
	for _, wf := range wfs {
		out = append(out, snapshotWorkflow(wf, false))
	}
	return out, nil
}

func snapshotWorkflow(wf *models.Workflow, includeTasks bool) WorkflowSnapshot {
	snap := WorkflowSnapshot{
		ID:            wf.ID,
		Name:          wf.Name,
		Description:   wf.Description,
		Status:        wf.Status,
		ExecutionMode: wf.ExecutionMode,
		Progress:      wf.Progress(),
		StatusMessage: wf.StatusMessage,
		Metadata:      wf.Metadata,
		TaskCount:     wf.TaskCount(),
		StartedAt:     wf.StartedAt,
		CompletedAt:   wf.CompletedAt,
		CreatedAt:     wf.CreatedAt,
	}
	if d, ok := wf.ExecutionDuration(); ok {
		secs := d.Seconds()
		snap.DurationSeconds = &secs
	}
	if includeTasks {
		tasks := wf.Tasks()
		snap.Tasks = make([]TaskSnapshot, 0, len(tasks))
		for _, task := range tasks {
			snap.Tasks = append(snap.Tasks, TaskSnapshot{
				ID:           task.ID,
				Name:         task.Name,
				Type:         task.Config.Type,
				Status:       task.Status,
				RetryCount:   task.RetryCount,
				Dependencies: task.Dependencies,
				Result:       task.Result,
				Error:        task.Error,
				StartedAt:    task.StartedAt,
				CompletedAt:  task.CompletedAt,
			})
		}
	}
	return snap
}
