package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/pkg/apperrors"
)

// ============================================================================
// Execution Mode
// ============================================================================

// ExecutionMode describes how a workflow's tasks are ordered.
type ExecutionMode string

const (
	ExecutionModeSequential ExecutionMode = "sequential"
	ExecutionModeParallel   ExecutionMode = "parallel"
	ExecutionModeDAG        ExecutionMode = "dag"
)

// ValidExecutionModes contains all valid execution mode values.
var ValidExecutionModes = []ExecutionMode{
	ExecutionModeSequential,
	ExecutionModeParallel,
	ExecutionModeDAG,
}

// IsValidExecutionMode checks if the given mode is valid.
func IsValidExecutionMode(m ExecutionMode) bool {
	for _, v := range ValidExecutionModes {
		if v == m {
			return true
		}
	}
	return false
}

// ============================================================================
// Workflow Entity
// ============================================================================

// Workflow is the aggregate root owning a DAG of tasks. It enforces graph
// invariants (acyclicity, size bound, draft-only topology changes) and the
// workflow lifecycle state machine. The task collection is never exposed as
// a mutable reference; use the accessor methods.
type Workflow struct {
	ID               uuid.UUID      `json:"id"`
	Name             string         `json:"name"`
	Description      string         `json:"description"`
	ExecutionMode    ExecutionMode  `json:"execution_mode"`
	ParentWorkflowID *uuid.UUID     `json:"parent_workflow_id,omitempty"`
	Metadata         map[string]any `json:"metadata"`

	Status        WorkflowStatus `json:"status"`
	StatusMessage string         `json:"status_message,omitempty"`
	StartedAt     *time.Time     `json:"started_at,omitempty"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`

	tasks     map[uuid.UUID]*Task
	taskOrder []uuid.UUID
}

// NewWorkflow creates a draft workflow with no tasks.
func NewWorkflow(name, description string, mode ExecutionMode, parentWorkflowID *uuid.UUID, metadata map[string]any) *Workflow {
	now := time.Now().UTC()
	if metadata == nil {
		metadata = map[string]any{}
	}
	return &Workflow{
		ID:               uuid.New(),
		Name:             name,
		Description:      description,
		ExecutionMode:    mode,
		ParentWorkflowID: parentWorkflowID,
		Metadata:         metadata,
		Status:           WorkflowStatusDraft,
		CreatedAt:        now,
		UpdatedAt:        now,
		tasks:            map[uuid.UUID]*Task{},
	}
}

// ============================================================================
// Task Management
// ============================================================================

// AddTask inserts a task into the graph. Topology is mutable only while the
// workflow is a draft, and an insert that would create a dependency cycle is
// rejected.
func (w *Workflow) AddTask(t *Task) error {
	if w.Status != WorkflowStatusDraft {
		return fmt.Errorf("%w: cannot add task to workflow in %s state", apperrors.ErrInvalidState, w.Status)
	}
	if t.WorkflowID != w.ID {
		return fmt.Errorf("%w: task workflow_id does not match workflow", apperrors.ErrValidation)
	}
	if len(w.tasks) >= MaxTasksPerWorkflow {
		return fmt.Errorf("%w: workflow cannot exceed %d tasks", apperrors.ErrValidation, MaxTasksPerWorkflow)
	}
	if w.createsCycle(t) {
		return fmt.Errorf("%w: adding task %q would create a cycle", apperrors.ErrCircularDependency, t.Name)
	}

	if _, exists := w.tasks[t.ID]; !exists {
		w.taskOrder = append(w.taskOrder, t.ID)
	}
	if w.tasks == nil {
		w.tasks = map[uuid.UUID]*Task{}
	}
	w.tasks[t.ID] = t
	w.touch()
	return nil
}

// RemoveTask removes a task from a draft workflow.
func (w *Workflow) RemoveTask(taskID uuid.UUID) error {
	if w.Status != WorkflowStatusDraft {
		return fmt.Errorf("%w: cannot remove task from workflow in %s state", apperrors.ErrInvalidState, w.Status)
	}
	if _, ok := w.tasks[taskID]; !ok {
		return nil
	}
	delete(w.tasks, taskID)
	for i, id := range w.taskOrder {
		if id == taskID {
			w.taskOrder = append(w.taskOrder[:i], w.taskOrder[i+1:]...)
			break
		}
	}
	w.touch()
	return nil
}

// AttachTask rehydrates a task onto a workflow loaded from the store. It
// bypasses the draft guard and cycle check: topology was validated when the
// workflow was created.
func (w *Workflow) AttachTask(t *Task) error {
	if t.WorkflowID != w.ID {
		return fmt.Errorf("%w: task workflow_id does not match workflow", apperrors.ErrValidation)
	}
	if w.tasks == nil {
		w.tasks = map[uuid.UUID]*Task{}
	}
	if _, exists := w.tasks[t.ID]; !exists {
		w.taskOrder = append(w.taskOrder, t.ID)
	}
	w.tasks[t.ID] = t
	return nil
}

// GetTask returns the task with the given ID, if present.
func (w *Workflow) GetTask(taskID uuid.UUID) (*Task, bool) {
	t, ok := w.tasks[taskID]
	return t, ok
}

// Tasks returns the workflow's tasks in insertion order.
func (w *Workflow) Tasks() []*Task {
	out := make([]*Task, 0, len(w.taskOrder))
	for _, id := range w.taskOrder {
		out = append(out, w.tasks[id])
	}
	return out
}

// TaskCount returns the number of tasks in the workflow.
func (w *Workflow) TaskCount() int {
	return len(w.tasks)
}

// ============================================================================
// Lifecycle
// ============================================================================

// Start moves the workflow into running. An empty workflow cannot start.
func (w *Workflow) Start() error {
	if w.Status != WorkflowStatusDraft && w.Status != WorkflowStatusPending {
		return fmt.Errorf("%w: cannot start workflow in %s state", apperrors.ErrInvalidState, w.Status)
	}
	if len(w.tasks) == 0 {
		return fmt.Errorf("%w: cannot start workflow with no tasks", apperrors.ErrInvalidState)
	}
	now := time.Now().UTC()
	w.Status = WorkflowStatusRunning
	w.StatusMessage = ""
	w.StartedAt = &now
	w.touch()
	return nil
}

// Complete marks an active workflow as succeeded.
func (w *Workflow) Complete() error {
	if !w.Status.IsActive() {
		return fmt.Errorf("%w: cannot complete workflow in %s state", apperrors.ErrInvalidState, w.Status)
	}
	now := time.Now().UTC()
	w.Status = WorkflowStatusSucceeded
	w.StatusMessage = "workflow completed successfully"
	w.CompletedAt = &now
	w.touch()
	return nil
}

// Fail marks the workflow as failed with the given reason.
func (w *Workflow) Fail(errMsg string) {
	now := time.Now().UTC()
	w.Status = WorkflowStatusFailed
	w.StatusMessage = errMsg
	w.CompletedAt = &now
	w.touch()
}

// Pause suspends scheduling for a running workflow. In-flight tasks keep
// running.
func (w *Workflow) Pause() error {
	if !w.Status.CanPause() {
		return fmt.Errorf("%w: cannot pause workflow in %s state", apperrors.ErrInvalidState, w.Status)
	}
	w.Status = WorkflowStatusPaused
	w.StatusMessage = "workflow paused by user"
	w.touch()
	return nil
}

// Resume restarts scheduling for a paused workflow.
func (w *Workflow) Resume() error {
	if !w.Status.CanResume() {
		return fmt.Errorf("%w: cannot resume workflow in %s state", apperrors.ErrInvalidState, w.Status)
	}
	w.Status = WorkflowStatusRunning
	w.StatusMessage = "workflow resumed"
	w.touch()
	return nil
}

// Cancel aborts a pending, running, or paused workflow.
func (w *Workflow) Cancel() error {
	if !w.Status.CanCancel() {
		return fmt.Errorf("%w: cannot cancel workflow in %s state", apperrors.ErrInvalidState, w.Status)
	}
	now := time.Now().UTC()
	w.Status = WorkflowStatusCancelled
	w.StatusMessage = "workflow cancelled by user"
	w.CompletedAt = &now
	w.touch()
	return nil
}

// StartCompensation enters Saga rollback. Reserved: no orchestration path
// drives this today.
func (w *Workflow) StartCompensation() {
	w.Status = WorkflowStatusCompensating
	w.StatusMessage = "starting compensation"
	w.touch()
}

// CompleteCompensation finishes Saga rollback.
func (w *Workflow) CompleteCompensation() error {
	if w.Status != WorkflowStatusCompensating {
		return fmt.Errorf("%w: cannot complete compensation in %s state", apperrors.ErrInvalidState, w.Status)
	}
	now := time.Now().UTC()
	w.Status = WorkflowStatusCompensated
	w.StatusMessage = "compensation completed"
	w.CompletedAt = &now
	w.touch()
	return nil
}

// ============================================================================
// Graph Queries
// ============================================================================

// GetReadyTasks returns waiting tasks whose dependencies have all finished
// successfully (succeeded or skipped). A failed or cancelled dependency
// never readies a dependent; fail-fast handles those workflows instead.
func (w *Workflow) GetReadyTasks() []*Task {
	satisfied := map[uuid.UUID]struct{}{}
	for id, t := range w.tasks {
		if t.Status == TaskStatusSucceeded || t.Status == TaskStatusSkipped {
			satisfied[id] = struct{}{}
		}
	}

	var ready []*Task
	for _, id := range w.taskOrder {
		t := w.tasks[id]
		if t.Status.IsWaiting() && t.IsReadyToExecute(satisfied) {
			ready = append(ready, t)
		}
	}
	return ready
}

// GetRootTasks returns tasks with no dependencies (graph entry points).
func (w *Workflow) GetRootTasks() []*Task {
	var roots []*Task
	for _, id := range w.taskOrder {
		if t := w.tasks[id]; !t.HasDependencies() {
			roots = append(roots, t)
		}
	}
	return roots
}

// GetDependentTasks returns the tasks that depend on the given task.
func (w *Workflow) GetDependentTasks(taskID uuid.UUID) []*Task {
	var dependents []*Task
	for _, id := range w.taskOrder {
		t := w.tasks[id]
		for _, dep := range t.Dependencies {
			if dep == taskID {
				dependents = append(dependents, t)
				break
			}
		}
	}
	return dependents
}

// createsCycle reports whether inserting the task would make the dependency
// graph cyclic. DFS over task → dependency edges, tracking the recursion
// stack; a back-edge into the stack is a cycle. O(V+E) per insert.
func (w *Workflow) createsCycle(newTask *Task) bool {
	graph := make(map[uuid.UUID][]uuid.UUID, len(w.tasks)+1)
	for id, t := range w.tasks {
		graph[id] = t.Dependencies
	}
	graph[newTask.ID] = newTask.Dependencies

	visited := map[uuid.UUID]bool{}
	onStack := map[uuid.UUID]bool{}

	var visit func(node uuid.UUID) bool
	visit = func(node uuid.UUID) bool {
		visited[node] = true
		onStack[node] = true
		for _, dep := range graph[node] {
			if !visited[dep] {
				if visit(dep) {
					return true
				}
			} else if onStack[dep] {
				return true
			}
		}
		onStack[node] = false
		return false
	}

	for id := range graph {
		if !visited[id] {
			if visit(id) {
				return true
			}
		}
	}
	return false
}

// ============================================================================
// Metrics
// ============================================================================

// Progress returns the percentage of tasks in a terminal state, 0..100.
func (w *Workflow) Progress() float64 {
	if len(w.tasks) == 0 {
		return 0
	}
	terminal := 0
	for _, t := range w.tasks {
		if t.Status.IsTerminal() {
			terminal++
		}
	}
	return float64(terminal) / float64(len(w.tasks)) * 100
}

// ExecutionDuration returns how long the workflow has been (or was)
// executing, or false if it never started.
func (w *Workflow) ExecutionDuration() (time.Duration, bool) {
	if w.StartedAt == nil {
		return 0, false
	}
	end := time.Now().UTC()
	if w.CompletedAt != nil {
		end = *w.CompletedAt
	}
	return end.Sub(*w.StartedAt), true
}

func (w *Workflow) touch() {
	w.UpdatedAt = time.Now().UTC()
}
