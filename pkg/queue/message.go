package queue

import (
	"github.com/google/uuid"

	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/pkg/models"
)

// TaskMessage is what the orchestrator hands to executors through the work
// queue. It carries a reference to the task, never the task itself; the
// store stays authoritative.
type TaskMessage struct {
	TaskID   uuid.UUID       `json:"task_id"`
	TaskType models.TaskType `json:"task_type"`
	Payload  map[string]any  `json:"payload"`
}

// Result events reported by executors.
const (
	EventStarted   = "started"
	EventSucceeded = "succeeded"
	EventFailed    = "failed"
	EventTimeout   = "timeout"
)

// ResultMessage is what executors push back after (or while) working on a
// task. Delivery is at-least-once; the orchestrator tolerates duplicates.
type ResultMessage struct {
	TaskID uuid.UUID      `json:"task_id"`
	Event  string         `json:"event"`
	Result map[string]any `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// delayedEnvelope wraps a task message waiting in the delayed set together
// with its target priority.
type delayedEnvelope struct {
	Message  TaskMessage `json:"message"`
	Priority int         `json:"priority"`
}
