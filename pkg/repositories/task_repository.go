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

// TaskRepository provides data access for tasks.
type TaskRepository interface {
	Save(ctx context.Context, task *models.Task) error
	SaveMany(ctx context.Context, tasks []*models.Task) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error)
	GetMany(ctx context.Context, ids []uuid.UUID) ([]*models.Task, error)
	GetByWorkflow(ctx context.Context, workflowID uuid.UUID) ([]*models.Task, error)
	GetByStatus(ctx context.Context, status models.TaskStatus, limit int) ([]*models.Task, error)
	// GetReadyTasks returns waiting tasks whose dependencies have all
	// succeeded or been skipped. Answered in the store via array
	// containment over the dependencies column.
	GetReadyTasks(ctx context.Context, workflowID uuid.UUID) ([]*models.Task, error)
	// GetOverdue returns active tasks whose current attempt has outlived
	// its timeout as of the given instant. A retrying task waiting out its
	// backoff delay has no attempt in flight and is not overdue.
	GetOverdue(ctx context.Context, now time.Time, limit int) ([]*models.Task, error)
	// GetStuckQueued returns tasks sitting in queued since before the given
	// instant; their publish is presumed lost.
	GetStuckQueued(ctx context.Context, olderThan time.Time, limit int) ([]*models.Task, error)
	// GetRetryDue returns tasks whose scheduled retry came due before the
	// given instant with no executor having picked the attempt up; the
	// delayed publish is presumed lost.
	GetRetryDue(ctx context.Context, olderThan time.Time, limit int) ([]*models.Task, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
}

type taskRepository struct {
	db *database.DB
}

// NewTaskRepository creates a new TaskRepository.
func NewTaskRepository(db *database.DB) TaskRepository {
	return &taskRepository{db: db}
}

var _ TaskRepository = (*taskRepository)(nil)

const taskColumns = `
	id, workflow_id, name, task_type, timeout_seconds, priority,
	retry_policy, idempotency_key, max_parallel_instances, payload,
	dependencies, compensation_task_id, status, result, error,
	retry_count, started_at, completed_at, next_attempt_at, created_at, updated_at`

// ============================================================================
// Write Operations
// ============================================================================

func (r *taskRepository) Save(ctx context.Context, task *models.Task) error {
	q := database.QuerierFrom(ctx, r.db.Pool)
	return upsertTask(ctx, q, task)
}

// upsertTask writes the full task row. Shared with the workflow repository's
// aggregate save.
func upsertTask(ctx context.Context, q database.Querier, task *models.Task) error {
	retryPolicyJSON, payloadJSON, resultJSON, err := marshalTaskFields(task)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO tasks (` + taskColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			result = EXCLUDED.result,
			error = EXCLUDED.error,
			retry_count = EXCLUDED.retry_count,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at,
			next_attempt_at = EXCLUDED.next_attempt_at,
			updated_at = EXCLUDED.updated_at`

	_, err = q.Exec(ctx, query,
		task.ID, task.WorkflowID, task.Name, task.Config.Type, task.Config.TimeoutSeconds, task.Config.Priority,
		retryPolicyJSON, task.Config.IdempotencyKey, task.Config.MaxParallelInstances, payloadJSON,
		task.Dependencies, task.CompensationTaskID, task.Status, resultJSON, task.Error,
		task.RetryCount, task.StartedAt, task.CompletedAt, task.NextAttemptAt, task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save task: %w", err)
	}
	return nil
}

func (r *taskRepository) SaveMany(ctx context.Context, tasks []*models.Task) error {
	if len(tasks) == 0 {
		return nil
	}

	q := database.QuerierFrom(ctx, r.db.Pool)

	// Use COPY for efficient batch insert; this path only inserts fresh
	// tasks during workflow creation.
	columns := []string{
		"id", "workflow_id", "name", "task_type", "timeout_seconds", "priority",
		"retry_policy", "idempotency_key", "max_parallel_instances", "payload",
		"dependencies", "compensation_task_id", "status", "result", "error",
		"retry_count", "started_at", "completed_at", "next_attempt_at", "created_at", "updated_at",
	}

	rows := make([][]any, len(tasks))
	for i, task := range tasks {
		retryPolicyJSON, payloadJSON, resultJSON, err := marshalTaskFields(task)
		if err != nil {
			return err
		}
		rows[i] = []any{
			task.ID, task.WorkflowID, task.Name, task.Config.Type, task.Config.TimeoutSeconds, task.Config.Priority,
			retryPolicyJSON, task.Config.IdempotencyKey, task.Config.MaxParallelInstances, payloadJSON,
			task.Dependencies, task.CompensationTaskID, task.Status, resultJSON, task.Error,
			task.RetryCount, task.StartedAt, task.CompletedAt, task.NextAttemptAt, task.CreatedAt, task.UpdatedAt,
		}
	}

	_, err := q.CopyFrom(ctx, pgx.Identifier{"tasks"}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to batch save tasks: %w", err)
	}
	return nil
}

func (r *taskRepository) Delete(ctx context.Context, id uuid.UUID) error {
	q := database.QuerierFrom(ctx, r.db.Pool)
	_, err := q.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	return nil
}

// ============================================================================
// Read Operations
// ============================================================================

func (r *taskRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	q := database.QuerierFrom(ctx, r.db.Pool)

	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`
	task, err := scanTaskRow(q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: task %s", apperrors.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return task, nil
}

func (r *taskRepository) GetMany(ctx context.Context, ids []uuid.UUID) ([]*models.Task, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	q := database.QuerierFrom(ctx, r.db.Pool)

	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = ANY($1) ORDER BY created_at, id`
	rows, err := q.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()
	return scanTaskRows(rows)
}

func (r *taskRepository) GetByWorkflow(ctx context.Context, workflowID uuid.UUID) ([]*models.Task, error) {
	q := database.QuerierFrom(ctx, r.db.Pool)

	query := `SELECT ` + taskColumns + ` FROM tasks WHERE workflow_id = $1 ORDER BY created_at, id`
	rows, err := q.Query(ctx, query, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow tasks: %w", err)
	}
	defer rows.Close()
	return scanTaskRows(rows)
}

func (r *taskRepository) GetByStatus(ctx context.Context, status models.TaskStatus, limit int) ([]*models.Task, error) {
	q := database.QuerierFrom(ctx, r.db.Pool)

	query := `SELECT ` + taskColumns + ` FROM tasks WHERE status = $1 ORDER BY created_at, id LIMIT $2`
	rows, err := q.Query(ctx, query, status, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks by status: %w", err)
	}
	defer rows.Close()
	return scanTaskRows(rows)
}

func (r *taskRepository) GetReadyTasks(ctx context.Context, workflowID uuid.UUID) ([]*models.Task, error) {
	q := database.QuerierFrom(ctx, r.db.Pool)

	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE workflow_id = $1
		  AND status IN ('pending', 'queued')
		  AND dependencies <@ (
			SELECT COALESCE(array_agg(id), '{}')
			FROM tasks
			WHERE workflow_id = $1 AND status IN ('succeeded', 'skipped')
		  )
		ORDER BY created_at, id`

	rows, err := q.Query(ctx, query, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query ready tasks: %w", err)
	}
	defer rows.Close()
	return scanTaskRows(rows)
}

func (r *taskRepository) GetOverdue(ctx context.Context, now time.Time, limit int) ([]*models.Task, error) {
	q := database.QuerierFrom(ctx, r.db.Pool)

	// A retrying task with next_attempt_at set is waiting out its backoff:
	// started_at still belongs to the previous attempt, so the timeout
	// predicate only applies once an executor starts the attempt and the
	// due marker is cleared.
	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE status IN ('running', 'retrying')
		  AND next_attempt_at IS NULL
		  AND started_at IS NOT NULL
		  AND started_at + make_interval(secs => timeout_seconds) < $1
		ORDER BY started_at
		LIMIT $2`

	rows, err := q.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query overdue tasks: %w", err)
	}
	defer rows.Close()
	return scanTaskRows(rows)
}

func (r *taskRepository) GetStuckQueued(ctx context.Context, olderThan time.Time, limit int) ([]*models.Task, error) {
	q := database.QuerierFrom(ctx, r.db.Pool)

	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE status = 'queued' AND updated_at < $1
		ORDER BY updated_at
		LIMIT $2`

	rows, err := q.Query(ctx, query, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query stuck queued tasks: %w", err)
	}
	defer rows.Close()
	return scanTaskRows(rows)
}

func (r *taskRepository) GetRetryDue(ctx context.Context, olderThan time.Time, limit int) ([]*models.Task, error) {
	q := database.QuerierFrom(ctx, r.db.Pool)

	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE status IN ('retrying', 'timeout')
		  AND next_attempt_at IS NOT NULL
		  AND next_attempt_at < $1
		ORDER BY next_attempt_at
		LIMIT $2`

	rows, err := q.Query(ctx, query, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query retry-due tasks: %w", err)
	}
	defer rows.Close()
	return scanTaskRows(rows)
}

func (r *taskRepository) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	q := database.QuerierFrom(ctx, r.db.Pool)

	var exists bool
	err := q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM tasks WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check task existence: %w", err)
	}
	return exists, nil
}

// ============================================================================
// Scan Helpers
// ============================================================================

func marshalTaskFields(task *models.Task) (retryPolicy, payload, result []byte, err error) {
	retryPolicy, err = json.Marshal(task.Config.RetryPolicy)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal retry policy: %w", err)
	}
	payload, err = json.Marshal(task.Payload)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	if task.Result != nil {
		result, err = json.Marshal(task.Result)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to marshal result: %w", err)
		}
	}
	return retryPolicy, payload, result, nil
}

func scanTaskRow(row pgx.Row) (*models.Task, error) {
	var (
		task            models.Task
		retryPolicyJSON []byte
		payloadJSON     []byte
		resultJSON      []byte
	)

	err := row.Scan(
		&task.ID, &task.WorkflowID, &task.Name, &task.Config.Type, &task.Config.TimeoutSeconds, &task.Config.Priority,
		&retryPolicyJSON, &task.Config.IdempotencyKey, &task.Config.MaxParallelInstances, &payloadJSON,
		&task.Dependencies, &task.CompensationTaskID, &task.Status, &resultJSON, &task.Error,
		&task.RetryCount, &task.StartedAt, &task.CompletedAt, &task.NextAttemptAt, &task.CreatedAt, &task.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan task row: %w", err)
	}

	if err := json.Unmarshal(retryPolicyJSON, &task.Config.RetryPolicy); err != nil {
		return nil, fmt.Errorf("failed to unmarshal retry policy: %w", err)
	}
	if err := json.Unmarshal(payloadJSON, &task.Payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	if resultJSON != nil {
		if err := json.Unmarshal(resultJSON, &task.Result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal result: %w", err)
		}
	}
	return &task, nil
}

func scanTaskRows(rows pgx.Rows) ([]*models.Task, error) {
	var tasks []*models.Task
	for rows.Next() {
		task, err := scanTaskRow(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate task rows: %w", err)
	}
	return tasks, nil
}
