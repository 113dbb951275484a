package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/pkg/apperrors"
)

// Task is the aggregate for a single unit of work inside a workflow.
// Identity, configuration, payload, and dependencies are immutable after
// construction; execution state (status, retry counter, result, timestamps)
// is mutated only through the transition methods below, which enforce the
// task state machine.
type Task struct {
	ID                 uuid.UUID      `json:"id"`
	WorkflowID         uuid.UUID      `json:"workflow_id"`
	Name               string         `json:"name"`
	Config             TaskConfig     `json:"config"`
	Payload            map[string]any `json:"payload"`
	Dependencies       []uuid.UUID    `json:"dependencies"`
	CompensationTaskID *uuid.UUID     `json:"compensation_task_id,omitempty"`

	Status      TaskStatus     `json:"status"`
	Result      map[string]any `json:"result,omitempty"`
	Error       *string        `json:"error,omitempty"`
	RetryCount  int            `json:"retry_count"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	// NextAttemptAt is set while a retry is scheduled but not yet picked up:
	// the instant the backoff delay elapses and an executor may start the
	// next attempt. Cleared once the attempt starts. While it is set,
	// StartedAt still belongs to the previous attempt.
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// NewTask creates a pending task owned by the given workflow.
func NewTask(name string, config TaskConfig, payload map[string]any, workflowID uuid.UUID, dependencies []uuid.UUID, compensationTaskID *uuid.UUID) *Task {
	now := time.Now().UTC()
	if payload == nil {
		payload = map[string]any{}
	}
	return &Task{
		ID:                 uuid.New(),
		WorkflowID:         workflowID,
		Name:               name,
		Config:             config,
		Payload:            payload,
		Dependencies:       append([]uuid.UUID(nil), dependencies...),
		CompensationTaskID: compensationTaskID,
		Status:             TaskStatusPending,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// ============================================================================
// Transitions
// ============================================================================

// Queue marks the task as handed to the work queue. Only a pending task can
// be queued, which is what makes scheduling publish-at-most-once per
// pending→queued transition.
func (t *Task) Queue() error {
	if t.Status != TaskStatusPending {
		return fmt.Errorf("%w: cannot queue task in %s state", apperrors.ErrInvalidState, t.Status)
	}
	t.Status = TaskStatusQueued
	t.touch()
	return nil
}

// Start marks the task as picked up by an executor.
func (t *Task) Start() error {
	if !t.Status.IsWaiting() {
		return fmt.Errorf("%w: cannot start task in %s state", apperrors.ErrInvalidState, t.Status)
	}
	now := time.Now().UTC()
	t.Status = TaskStatusRunning
	t.StartedAt = &now
	t.NextAttemptAt = nil
	t.touch()
	return nil
}

// Complete marks the task as succeeded with the executor's result.
func (t *Task) Complete(result map[string]any) error {
	if !t.Status.IsActive() {
		return fmt.Errorf("%w: cannot complete task in %s state", apperrors.ErrInvalidState, t.Status)
	}
	now := time.Now().UTC()
	t.Status = TaskStatusSucceeded
	t.Result = result
	t.CompletedAt = &now
	t.NextAttemptAt = nil
	t.touch()
	return nil
}

// Fail records an execution failure. If the retry policy still has budget
// the task moves to retrying, the retry counter is incremented, and the next
// attempt time is stamped from the backoff delay; otherwise it moves to
// failed and completes.
func (t *Task) Fail(errMsg string) error {
	if !t.Status.IsActive() {
		return fmt.Errorf("%w: cannot fail task in %s state", apperrors.ErrInvalidState, t.Status)
	}
	t.Error = &errMsg

	if t.canRetry() {
		t.RetryCount++
		t.Status = TaskStatusRetrying
		next := time.Now().UTC().Add(t.Config.RetryPolicy.CalculateDelay(t.RetryCount - 1))
		t.NextAttemptAt = &next
	} else {
		now := time.Now().UTC()
		t.Status = TaskStatusFailed
		t.CompletedAt = &now
		t.NextAttemptAt = nil
	}
	t.touch()
	return nil
}

// Retry moves a failed or timed-out task back to running for a fresh
// attempt. The retry counter is incremented and startedAt reset.
func (t *Task) Retry() error {
	if !t.Status.CanRetry() {
		return fmt.Errorf("%w: cannot retry task in %s state", apperrors.ErrInvalidState, t.Status)
	}
	if !t.canRetry() {
		return fmt.Errorf("%w: max retries (%d) exceeded", apperrors.ErrMaxRetryExceeded, t.Config.RetryPolicy.MaxRetries)
	}
	now := time.Now().UTC()
	t.RetryCount++
	t.Status = TaskStatusRunning
	t.StartedAt = &now
	t.CompletedAt = nil
	t.NextAttemptAt = nil
	t.touch()
	return nil
}

// Cancel aborts a non-terminal task.
func (t *Task) Cancel() error {
	if t.Status.IsTerminal() {
		return fmt.Errorf("%w: cannot cancel task in %s state", apperrors.ErrInvalidState, t.Status)
	}
	now := time.Now().UTC()
	t.Status = TaskStatusCancelled
	t.CompletedAt = &now
	t.NextAttemptAt = nil
	t.touch()
	return nil
}

// Skip marks the task as skipped, recording an optional mock result for
// dependents to consume.
func (t *Task) Skip(mockResult map[string]any) {
	now := time.Now().UTC()
	if mockResult == nil {
		mockResult = map[string]any{}
	}
	t.Status = TaskStatusSkipped
	t.Result = mockResult
	t.CompletedAt = &now
	t.NextAttemptAt = nil
	t.touch()
}

// Timeout marks the task as exceeding its wall-clock budget. Timeout is not
// terminal: a task with retry budget left may be retried from here, and the
// next attempt time is stamped so the requeue can be tracked.
func (t *Task) Timeout() error {
	if !t.Status.IsActive() {
		return fmt.Errorf("%w: cannot time out task in %s state", apperrors.ErrInvalidState, t.Status)
	}
	now := time.Now().UTC()
	errMsg := "task execution timeout"
	t.Status = TaskStatusTimeout
	t.Error = &errMsg
	t.CompletedAt = &now
	if t.canRetry() {
		next := now.Add(t.Config.RetryPolicy.CalculateDelay(t.RetryCount))
		t.NextAttemptAt = &next
	} else {
		t.NextAttemptAt = nil
	}
	t.touch()
	return nil
}

// RefreshStartedAt resets the attempt clock for a retrying task when an
// executor picks the next attempt up. The status is unchanged: complete and
// fail are legal directly from retrying.
func (t *Task) RefreshStartedAt() error {
	if t.Status != TaskStatusRetrying {
		return fmt.Errorf("%w: cannot refresh attempt clock in %s state", apperrors.ErrInvalidState, t.Status)
	}
	now := time.Now().UTC()
	t.StartedAt = &now
	t.NextAttemptAt = nil
	t.touch()
	return nil
}

// ============================================================================
// Queries
// ============================================================================

// HasRetryBudget reports whether the retry policy allows another attempt.
func (t *Task) HasRetryBudget() bool {
	return t.canRetry()
}

func (t *Task) canRetry() bool {
	policy := t.Config.RetryPolicy
	return policy.Enabled && t.RetryCount < policy.MaxRetries
}

// HasDependencies returns true if the task depends on other tasks.
func (t *Task) HasDependencies() bool {
	return len(t.Dependencies) > 0
}

// IsReadyToExecute returns true if every dependency appears in the given
// set of satisfied task IDs.
func (t *Task) IsReadyToExecute(satisfied map[uuid.UUID]struct{}) bool {
	for _, dep := range t.Dependencies {
		if _, ok := satisfied[dep]; !ok {
			return false
		}
	}
	return true
}

// Deadline returns the wall-clock instant after which the current attempt is
// overdue, or false if the task has not started.
func (t *Task) Deadline() (time.Time, bool) {
	if t.StartedAt == nil {
		return time.Time{}, false
	}
	return t.StartedAt.Add(time.Duration(t.Config.TimeoutSeconds) * time.Second), true
}

// ExecutionDuration returns how long the task ran, or false if it never
// started or never completed.
func (t *Task) ExecutionDuration() (time.Duration, bool) {
	if t.StartedAt == nil || t.CompletedAt == nil {
		return 0, false
	}
	return t.CompletedAt.Sub(*t.StartedAt), true
}

func (t *Task) touch() {
	t.UpdatedAt = time.Now().UTC()
}
