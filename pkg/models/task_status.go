package models

// ============================================================================
// Task Status
// ============================================================================

// TaskStatus represents the execution status of a task.
// State machine:
//
//	pending → queued → running → succeeded
//	                      ↓
//	                  retrying ⇄ running
//	                      ↓
//	                   failed / timeout
//
//	Any non-terminal state can transition to: cancelled
//	Any state can transition to: skipped
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusQueued    TaskStatus = "queued"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusSucceeded TaskStatus = "succeeded"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusRetrying  TaskStatus = "retrying"
	TaskStatusCancelled TaskStatus = "cancelled"
	TaskStatusSkipped   TaskStatus = "skipped"
	TaskStatusTimeout   TaskStatus = "timeout"
)

// ValidTaskStatuses contains all valid task status values.
var ValidTaskStatuses = []TaskStatus{
	TaskStatusPending,
	TaskStatusQueued,
	TaskStatusRunning,
	TaskStatusSucceeded,
	TaskStatusFailed,
	TaskStatusRetrying,
	TaskStatusCancelled,
	TaskStatusSkipped,
	TaskStatusTimeout,
}

// IsValidTaskStatus checks if the given status is valid.
func IsValidTaskStatus(s TaskStatus) bool {
	for _, v := range ValidTaskStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// IsWaiting returns true if the task has not started executing yet.
func (s TaskStatus) IsWaiting() bool {
	return s == TaskStatusPending || s == TaskStatusQueued
}

// IsActive returns true if the task is currently being executed.
func (s TaskStatus) IsActive() bool {
	return s == TaskStatusRunning || s == TaskStatusRetrying
}

// IsTerminal returns true if no further transitions are allowed.
// Note: timeout is not terminal — a timed-out task may still be retried.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusSucceeded, TaskStatusFailed, TaskStatusCancelled, TaskStatusSkipped:
		return true
	default:
		return false
	}
}

// CanRetry returns true if the task can be handed back to an executor.
func (s TaskStatus) CanRetry() bool {
	return s == TaskStatusFailed || s == TaskStatusTimeout
}
