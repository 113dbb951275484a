package models

// ============================================================================
// Workflow Status
// ============================================================================

// WorkflowStatus represents the lifecycle status of a workflow.
// State machine:
//
//	draft → pending → running → succeeded / failed
//	                   ⇅
//	                 paused
//
//	pending, running, paused can transition to: cancelled
//	compensating → compensated (reserved for Saga rollback)
type WorkflowStatus string

const (
	WorkflowStatusDraft        WorkflowStatus = "draft"
	WorkflowStatusPending      WorkflowStatus = "pending"
	WorkflowStatusRunning      WorkflowStatus = "running"
	WorkflowStatusPaused       WorkflowStatus = "paused"
	WorkflowStatusSucceeded    WorkflowStatus = "succeeded"
	WorkflowStatusFailed       WorkflowStatus = "failed"
	WorkflowStatusCancelled    WorkflowStatus = "cancelled"
	WorkflowStatusCompensating WorkflowStatus = "compensating"
	WorkflowStatusCompensated  WorkflowStatus = "compensated"
)

// ValidWorkflowStatuses contains all valid workflow status values.
var ValidWorkflowStatuses = []WorkflowStatus{
	WorkflowStatusDraft,
	WorkflowStatusPending,
	WorkflowStatusRunning,
	WorkflowStatusPaused,
	WorkflowStatusSucceeded,
	WorkflowStatusFailed,
	WorkflowStatusCancelled,
	WorkflowStatusCompensating,
	WorkflowStatusCompensated,
}

// IsValidWorkflowStatus checks if the given status is valid.
func IsValidWorkflowStatus(s WorkflowStatus) bool {
	for _, v := range ValidWorkflowStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// IsActive returns true if the workflow is making progress.
func (s WorkflowStatus) IsActive() bool {
	return s == WorkflowStatusRunning || s == WorkflowStatusCompensating
}

// IsTerminal returns true if no further transitions are allowed.
func (s WorkflowStatus) IsTerminal() bool {
	switch s {
	case WorkflowStatusSucceeded, WorkflowStatusFailed, WorkflowStatusCancelled, WorkflowStatusCompensated:
		return true
	default:
		return false
	}
}

// CanPause returns true if the workflow can be paused.
func (s WorkflowStatus) CanPause() bool {
	return s == WorkflowStatusRunning
}

// CanResume returns true if the workflow can be resumed.
func (s WorkflowStatus) CanResume() bool {
	return s == WorkflowStatusPaused
}

// CanCancel returns true if the workflow can be cancelled.
func (s WorkflowStatus) CanCancel() bool {
	return s == WorkflowStatusPending || s == WorkflowStatusRunning || s == WorkflowStatusPaused
}
