package models

import (
	"fmt"

	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/pkg/apperrors"
)

// ============================================================================
// Task Type
// ============================================================================

// TaskType identifies the kind of side effect an executor performs.
type TaskType string

const (
	TaskTypeHTTP    TaskType = "http"
	TaskTypeShell   TaskType = "shell"
	TaskTypeSQL     TaskType = "sql"
	TaskTypeWebhook TaskType = "webhook"
	// TaskTypeHuman and TaskTypeSubworkflow are reserved. The state machine
	// accepts them but workflow creation rejects them until their
	// orchestration semantics are pinned down.
	TaskTypeHuman       TaskType = "human"
	TaskTypeSubworkflow TaskType = "subworkflow"
)

// ValidTaskTypes contains all valid task type values.
var ValidTaskTypes = []TaskType{
	TaskTypeHTTP,
	TaskTypeShell,
	TaskTypeSQL,
	TaskTypeWebhook,
	TaskTypeHuman,
	TaskTypeSubworkflow,
}

// IsValidTaskType checks if the given type is valid.
func IsValidTaskType(t TaskType) bool {
	for _, v := range ValidTaskTypes {
		if v == t {
			return true
		}
	}
	return false
}

// IsExecutable returns true for task types an executor can run today.
func (t TaskType) IsExecutable() bool {
	return t != TaskTypeHuman && t != TaskTypeSubworkflow
}

// ============================================================================
// Priority
// ============================================================================

// Priority is the client-facing priority label for a task.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// ValidPriorities contains all valid priority values.
var ValidPriorities = []Priority{
	PriorityLow,
	PriorityNormal,
	PriorityHigh,
	PriorityCritical,
}

// IsValidPriority checks if the given priority is valid.
func IsValidPriority(p Priority) bool {
	for _, v := range ValidPriorities {
		if v == p {
			return true
		}
	}
	return false
}

// QueuePriority maps the label to the work queue's 0..9 scale.
func (p Priority) QueuePriority() int {
	switch p {
	case PriorityLow:
		return 1
	case PriorityHigh:
		return 7
	case PriorityCritical:
		return 9
	default:
		return 4
	}
}

// ============================================================================
// Task Config
// ============================================================================

// TaskConfig is an immutable value object carrying execution configuration
// for a task: what to run, how long it may take, and how failures retry.
type TaskConfig struct {
	Type                 TaskType    `json:"type"`
	TimeoutSeconds       int         `json:"timeout_seconds"`
	Priority             Priority    `json:"priority"`
	RetryPolicy          RetryPolicy `json:"retry_policy"`
	IdempotencyKey       *string     `json:"idempotency_key,omitempty"`
	MaxParallelInstances int         `json:"max_parallel_instances"`
}

// Validate checks the config bounds.
func (c TaskConfig) Validate() error {
	if !IsValidTaskType(c.Type) {
		return fmt.Errorf("%w: unknown task type %q", apperrors.ErrValidation, c.Type)
	}
	if c.TimeoutSeconds <= 0 {
		return fmt.Errorf("%w: timeout must be positive", apperrors.ErrValidation)
	}
	if !IsValidPriority(c.Priority) {
		return fmt.Errorf("%w: unknown priority %q", apperrors.ErrValidation, c.Priority)
	}
	if c.MaxParallelInstances < 1 {
		return fmt.Errorf("%w: max_parallel_instances must be at least 1", apperrors.ErrValidation)
	}
	if err := c.RetryPolicy.Validate(); err != nil {
		return err
	}
	return nil
}

// IsIdempotent returns true if the task carries an idempotency key.
func (c TaskConfig) IsIdempotent() bool {
	return c.IdempotencyKey != nil && *c.IdempotencyKey != ""
}
