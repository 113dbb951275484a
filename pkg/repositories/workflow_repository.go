package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/pkg/apperrors"
	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/pkg/database"
	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/pkg/models"
)

// WorkflowRepository provides data access for workflows and their task
// aggregates.
type WorkflowRepository interface {
	// Save upserts the workflow row together with every attached task.
	Save(ctx context.Context, workflow *models.Workflow) error
	// GetByID loads a workflow with its tasks eagerly attached.
	GetByID(ctx context.Context, id uuid.UUID) (*models.Workflow, error)
	// GetAll lists workflows newest-created first, tasks attached.
	GetAll(ctx context.Context, limit, offset int) ([]*models.Workflow, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
	GetActive(ctx context.Context) ([]*models.Workflow, error)
	GetByParent(ctx context.Context, parentID uuid.UUID) ([]*models.Workflow, error)
	// Depth returns the number of workflows on the parent chain including
	// this one (1 for a root workflow).
	Depth(ctx context.Context, id uuid.UUID) (int, error)
	// DeleteTerminalBefore removes terminal workflows that completed before
	// the cutoff, cascading over their tasks. Returns the number deleted.
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type workflowRepository struct {
	db *database.DB
}

// NewWorkflowRepository creates a new WorkflowRepository.
func NewWorkflowRepository(db *database.DB) WorkflowRepository {
	return &workflowRepository{db: db}
}

var _ WorkflowRepository = (*workflowRepository)(nil)

const workflowColumns = `
	id, name, description, execution_mode, status, status_message,
	parent_workflow_id, metadata, started_at, completed_at, created_at, updated_at`

// ============================================================================
// Write Operations
// ============================================================================

func (r *workflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	q := database.QuerierFrom(ctx, r.db.Pool)

	metadataJSON, err := json.Marshal(workflow.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow metadata: %w", err)
	}

	query := `
		INSERT INTO workflows (` + workflowColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			status_message = EXCLUDED.status_message,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at,
			updated_at = EXCLUDED.updated_at`

	_, err = q.Exec(ctx, query,
		workflow.ID, workflow.Name, workflow.Description, workflow.ExecutionMode,
		workflow.Status, workflow.StatusMessage, workflow.ParentWorkflowID, metadataJSON,
		workflow.StartedAt, workflow.CompletedAt, workflow.CreatedAt, workflow.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save workflow: %w", err)
	}

	for _, task := range workflow.Tasks() {
		if err := upsertTask(ctx, q, task); err != nil {
			return err
		}
	}
	return nil
}

func (r *workflowRepository) Delete(ctx context.Context, id uuid.UUID) error {
	q := database.QuerierFrom(ctx, r.db.Pool)
	_, err := q.Exec(ctx, `DELETE FROM workflows WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}
	return nil
}

func (r *workflowRepository) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	q := database.QuerierFrom(ctx, r.db.Pool)

	tag, err := q.Exec(ctx, `
		DELETE FROM workflows
		WHERE status IN ('succeeded', 'failed', 'cancelled', 'compensated')
		  AND completed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired workflows: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ============================================================================
// Read Operations
// ============================================================================

func (r *workflowRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Workflow, error) {
	q := database.QuerierFrom(ctx, r.db.Pool)

	query := `SELECT ` + workflowColumns + ` FROM workflows WHERE id = $1`
	workflow, err := scanWorkflowRow(q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: workflow %s", apperrors.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	if err := r.attachTasks(ctx, q, []*models.Workflow{workflow}); err != nil {
		return nil, err
	}
	return workflow, nil
}

func (r *workflowRepository) GetAll(ctx context.Context, limit, offset int) ([]*models.Workflow, error) {
	q := database.QuerierFrom(ctx, r.db.Pool)

	query := `SELECT ` + workflowColumns + ` FROM workflows ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	rows, err := q.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}
	defer rows.Close()

	workflows, err := scanWorkflowRows(rows)
	if err != nil {
		return nil, err
	}
	if err := r.attachTasks(ctx, q, workflows); err != nil {
		return nil, err
	}
	return workflows, nil
}

func (r *workflowRepository) GetActive(ctx context.Context) ([]*models.Workflow, error) {
	q := database.QuerierFrom(ctx, r.db.Pool)

	query := `SELECT ` + workflowColumns + ` FROM workflows WHERE status IN ('running', 'compensating') ORDER BY created_at`
	rows, err := q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query active workflows: %w", err)
	}
	defer rows.Close()

	workflows, err := scanWorkflowRows(rows)
	if err != nil {
		return nil, err
	}
	if err := r.attachTasks(ctx, q, workflows); err != nil {
		return nil, err
	}
	return workflows, nil
}

func (r *workflowRepository) GetByParent(ctx context.Context, parentID uuid.UUID) ([]*models.Workflow, error) {
	q := database.QuerierFrom(ctx, r.db.Pool)

	query := `SELECT ` + workflowColumns + ` FROM workflows WHERE parent_workflow_id = $1 ORDER BY created_at`
	rows, err := q.Query(ctx, query, parentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query child workflows: %w", err)
	}
	defer rows.Close()

	workflows, err := scanWorkflowRows(rows)
	if err != nil {
		return nil, err
	}
	if err := r.attachTasks(ctx, q, workflows); err != nil {
		return nil, err
	}
	return workflows, nil
}

func (r *workflowRepository) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	q := database.QuerierFrom(ctx, r.db.Pool)

	var exists bool
	err := q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM workflows WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check workflow existence: %w", err)
	}
	return exists, nil
}

func (r *workflowRepository) Depth(ctx context.Context, id uuid.UUID) (int, error) {
	q := database.QuerierFrom(ctx, r.db.Pool)

	// Walk the parent chain; the cycle guard caps the recursion so a
	// corrupted chain cannot loop forever.
	query := `
		WITH RECURSIVE ancestry AS (
			SELECT id, parent_workflow_id, 1 AS depth
			FROM workflows WHERE id = $1
			UNION ALL
			SELECT w.id, w.parent_workflow_id, a.depth + 1
			FROM workflows w
			JOIN ancestry a ON w.id = a.parent_workflow_id
			WHERE a.depth < $2
		)
		SELECT MAX(depth) FROM ancestry`

	var depth *int
	err := q.QueryRow(ctx, query, id, models.MaxWorkflowDepth+1).Scan(&depth)
	if err != nil {
		return 0, fmt.Errorf("failed to compute workflow depth: %w", err)
	}
	if depth == nil {
		return 0, fmt.Errorf("%w: workflow %s", apperrors.ErrNotFound, id)
	}
	return *depth, nil
}

// ============================================================================
// Scan Helpers
// ============================================================================

func (r *workflowRepository) attachTasks(ctx context.Context, q database.Querier, workflows []*models.Workflow) error {
	if len(workflows) == 0 {
		return nil
	}

	ids := make([]uuid.UUID, len(workflows))
	byID := make(map[uuid.UUID]*models.Workflow, len(workflows))
	for i, wf := range workflows {
		ids[i] = wf.ID
		byID[wf.ID] = wf
	}

	query := `SELECT ` + taskColumns + ` FROM tasks WHERE workflow_id = ANY($1) ORDER BY created_at, id`
	rows, err := q.Query(ctx, query, ids)
	if err != nil {
		return fmt.Errorf("failed to query workflow tasks: %w", err)
	}
	defer rows.Close()

	tasks, err := scanTaskRows(rows)
	if err != nil {
		return err
	}
	for _, task := range tasks {
		if wf, ok := byID[task.WorkflowID]; ok {
			if err := wf.AttachTask(task); err != nil {
				return err
			}
		}
	}
	return nil
}

func scanWorkflowRow(row pgx.Row) (*models.Workflow, error) {
	var (
		workflow     models.Workflow
		metadataJSON []byte
	)

	err := row.Scan(
		&workflow.ID, &workflow.Name, &workflow.Description, &workflow.ExecutionMode,
		&workflow.Status, &workflow.StatusMessage, &workflow.ParentWorkflowID, &metadataJSON,
		&workflow.StartedAt, &workflow.CompletedAt, &workflow.CreatedAt, &workflow.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan workflow row: %w", err)
	}

	if err := json.Unmarshal(metadataJSON, &workflow.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow metadata: %w", err)
	}
	return &workflow, nil
}

func scanWorkflowRows(rows pgx.Rows) ([]*models.Workflow, error) {
	var workflows []*models.Workflow
	for rows.Next() {
		workflow, err := scanWorkflowRow(rows)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, workflow)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate workflow rows: %w", err)
	}
	return workflows, nil
}
