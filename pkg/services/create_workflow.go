package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/pkg/apperrors"
	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/pkg/models"
	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/pkg/repositories"
)

// Transactor runs a function inside a store transaction. Satisfied by
// *database.DB.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// TaskInput describes one task in a workflow definition. Dependencies are
// task names within the same definition; they are resolved to ids at
// creation time.
type TaskInput struct {
	Name           string             `json:"name"`
	Type           models.TaskType    `json:"type"`
	Payload        map[string]any     `json:"payload"`
	DependsOn      []string           `json:"depends_on"`
	TimeoutSeconds int                `json:"timeout_seconds"`
	Priority       models.Priority    `json:"priority"`
	RetryPolicy    *models.RetryPolicy `json:"retry_policy"`
	IdempotencyKey *string            `json:"idempotency_key"`
}

// CreateWorkflowInput is the full workflow definition accepted by the API.
type CreateWorkflowInput struct {
	Name             string               `json:"name"`
	Description      string               `json:"description"`
	Mode             models.ExecutionMode `json:"mode"`
	ParentWorkflowID *uuid.UUID           `json:"parent_workflow_id"`
	Metadata         map[string]any       `json:"metadata"`
	Tasks            []TaskInput          `json:"tasks"`
}

// WorkflowCreator validates a workflow definition and persists it in draft.
type WorkflowCreator interface {
	Create(ctx context.Context, input CreateWorkflowInput) (*models.Workflow, error)
}

type workflowCreator struct {
	workflows repositories.WorkflowRepository
	tx        Transactor
	logger    *zap.Logger
}

// NewWorkflowCreator creates the workflow creation service.
func NewWorkflowCreator(workflows repositories.WorkflowRepository, tx Transactor, logger *zap.Logger) WorkflowCreator {
	return &workflowCreator{
		workflows: workflows,
		tx:        tx,
		logger:    logger.Named("workflow-creator"),
	}
}

var _ WorkflowCreator = (*workflowCreator)(nil)

func (c *workflowCreator) Create(ctx context.Context, input CreateWorkflowInput) (*models.Workflow, error) {
	if input.Name == "" {
		return nil, fmt.Errorf("%w: workflow name is required", apperrors.ErrValidation)
	}
	if len(input.Tasks) == 0 {
		return nil, fmt.Errorf("%w: workflow must define at least one task", apperrors.ErrValidation)
	}

	mode := input.Mode
	if mode == "" {
		mode = models.ExecutionModeSequential
	}
	if !models.IsValidExecutionMode(mode) {
		return nil, fmt.Errorf("%w: invalid execution mode %q", apperrors.ErrValidation, mode)
	}

	if input.ParentWorkflowID != nil {
		if err := c.checkParent(ctx, *input.ParentWorkflowID); err != nil {
			return nil, err
		}
	}

	wf := models.NewWorkflow(input.Name, input.Description, mode, input.ParentWorkflowID, input.Metadata)

	// First pass: assign ids so name-based dependencies can resolve
	// regardless of declaration order.
	ids := make(map[string]uuid.UUID, len(input.Tasks))
	for _, ti := range input.Tasks {
		if ti.Name == "" {
			return nil, fmt.Errorf("%w: task name is required", apperrors.ErrValidation)
		}
		if _, dup := ids[ti.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate task name %q", apperrors.ErrValidation, ti.Name)
		}
		ids[ti.Name] = uuid.New()
	}

	for _, ti := range input.Tasks {
		task, err := c.buildTask(wf.ID, ti, ids)
		if err != nil {
			return nil, err
		}
		if err := wf.AddTask(task); err != nil {
			return nil, err
		}
	}

	err := c.tx.InTx(ctx, func(ctx context.Context) error {
		return c.workflows.Save(ctx, wf)
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("workflow created",
		zap.String("workflow_id", wf.ID.String()),
		zap.String("name", wf.Name),
		zap.Int("tasks", wf.TaskCount()))
	return wf, nil
}

func (c *workflowCreator) buildTask(workflowID uuid.UUID, ti TaskInput, ids map[string]uuid.UUID) (*models.Task, error) {
	if !models.IsValidTaskType(ti.Type) {
		return nil, fmt.Errorf("%w: invalid task type %q for task %q", apperrors.ErrValidation, ti.Type, ti.Name)
	}
	if !ti.Type.IsExecutable() {
		return nil, fmt.Errorf("%w: task type %q is not executable", apperrors.ErrValidation, ti.Type)
	}

	timeout := ti.TimeoutSeconds
	if timeout == 0 {
		timeout = models.DefaultTaskTimeout
	}
	priority := ti.Priority
	if priority == "" {
		priority = models.PriorityNormal
	}
	policy := models.DefaultRetryPolicy()
	if ti.RetryPolicy != nil {
		policy = *ti.RetryPolicy
	}

	config := models.TaskConfig{
		Type:                 ti.Type,
		TimeoutSeconds:       timeout,
		Priority:             priority,
		RetryPolicy:          policy,
		IdempotencyKey:       ti.IdempotencyKey,
		MaxParallelInstances: 1,
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("task %q: %w", ti.Name, err)
	}

	deps := make([]uuid.UUID, 0, len(ti.DependsOn))
	for _, name := range ti.DependsOn {
		id, ok := ids[name]
		if !ok {
			return nil, fmt.Errorf("%w: task %q depends on unknown task %q", apperrors.ErrValidation, ti.Name, name)
		}
		if name == ti.Name {
			return nil, fmt.Errorf("%w: task %q depends on itself", apperrors.ErrValidation, ti.Name)
		}
		deps = append(deps, id)
	}

	task := models.NewTask(ti.Name, config, ti.Payload, workflowID, deps, nil)
	task.ID = ids[ti.Name]
	return task, nil
}

// checkParent verifies the parent exists and the nesting bound holds.
func (c *workflowCreator) checkParent(ctx context.Context, parentID uuid.UUID) error {
	exists, err := c.workflows.Exists(ctx, parentID)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: parent workflow %s", apperrors.ErrNotFound, parentID)
	}

	depth, err := c.workflows.Depth(ctx, parentID)
	if err != nil {
		return err
	}
	if depth >= models.MaxWorkflowDepth {
		return fmt.Errorf("%w: nesting depth %d reached", apperrors.ErrMaxDepthExceeded, depth)
	}
	return nil
}
