package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/pkg/models"
)

func newTestOrchestrator(t *testing.T) (Orchestrator, *fakeStore, *fakePublisher) {
	t.Helper()
	store := newFakeStore()
	pub := &fakePublisher{}
	orch := NewOrchestrator(store, taskStore{store}, pub, &passthroughLocker{store: store}, zap.NewNop())
	return orch, store, pub
}

func taskConfig(policy models.RetryPolicy) models.TaskConfig {
	return models.TaskConfig{
		Type:                 models.TaskTypeHTTP,
		TimeoutSeconds:       60,
		Priority:             models.PriorityNormal,
		RetryPolicy:          policy,
		MaxParallelInstances: 1,
	}
}

func addTask(t *testing.T, wf *models.Workflow, name string, policy models.RetryPolicy, deps ...uuid.UUID) *models.Task {
	t.Helper()
	task := models.NewTask(name, taskConfig(policy), map[string]any{"n": name}, wf.ID, deps, nil)
	require.NoError(t, wf.AddTask(task))
	return task
}

// diamondWorkflow builds a → (b, c) → d.
func diamondWorkflow(t *testing.T, store *fakeStore) (wf *models.Workflow, a, b, c, d *models.Task) {
	t.Helper()
	wf = models.NewWorkflow("diamond", "", models.ExecutionModeDAG, nil, nil)
	a = addTask(t, wf, "a", models.NoRetryPolicy())
	b = addTask(t, wf, "b", models.NoRetryPolicy(), a.ID)
	c = addTask(t, wf, "c", models.NoRetryPolicy(), a.ID)
	d = addTask(t, wf, "d", models.NoRetryPolicy(), b.ID, c.ID)
	store.add(wf)
	return wf, a, b, c, d
}

func TestStartQueuesAndPublishesRootTasks(t *testing.T) {
	orch, store, pub := newTestOrchestrator(t)
	ctx := context.Background()
	wf, a, b, c, d := diamondWorkflow(t, store)

	require.NoError(t, orch.Start(ctx, wf.ID))

	assert.Equal(t, models.WorkflowStatusRunning, wf.Status)
	assert.Equal(t, models.TaskStatusQueued, a.Status)
	assert.Equal(t, models.TaskStatusPending, b.Status)
	assert.Equal(t, models.TaskStatusPending, c.Status)
	assert.Equal(t, models.TaskStatusPending, d.Status)
	assert.Equal(t, []uuid.UUID{a.ID}, pub.publishedIDs())
}

func TestStartRejectsUnknownWorkflow(t *testing.T) {
	orch, _, _ := newTestOrchestrator(t)
	err := orch.Start(context.Background(), uuid.New())
	assert.Error(t, err)
}

func TestStartRejectsSecondStart(t *testing.T) {
	orch, store, _ := newTestOrchestrator(t)
	ctx := context.Background()
	wf, _, _, _, _ := diamondWorkflow(t, store)

	require.NoError(t, orch.Start(ctx, wf.ID))
	assert.Error(t, orch.Start(ctx, wf.ID))
}

// Drives the diamond through executor events and verifies scheduling order
// and the final workflow state.
func TestDiamondHappyPath(t *testing.T) {
	orch, store, pub := newTestOrchestrator(t)
	ctx := context.Background()
	wf, a, b, c, d := diamondWorkflow(t, store)
	require.NoError(t, orch.Start(ctx, wf.ID))
	pub.reset()

	require.NoError(t, orch.OnTaskStarted(ctx, a.ID))
	require.NoError(t, orch.OnTaskCompleted(ctx, a.ID, map[string]any{"out": 1}))

	// b and c become ready together; d waits for both.
	assert.Equal(t, models.TaskStatusSucceeded, a.Status)
	assert.Equal(t, models.TaskStatusQueued, b.Status)
	assert.Equal(t, models.TaskStatusQueued, c.Status)
	assert.Equal(t, models.TaskStatusPending, d.Status)
	assert.ElementsMatch(t, []uuid.UUID{b.ID, c.ID}, pub.publishedIDs())
	pub.reset()

	require.NoError(t, orch.OnTaskStarted(ctx, b.ID))
	require.NoError(t, orch.OnTaskCompleted(ctx, b.ID, nil))
	assert.Equal(t, models.TaskStatusPending, d.Status)
	assert.Empty(t, pub.publishedIDs())

	require.NoError(t, orch.OnTaskStarted(ctx, c.ID))
	require.NoError(t, orch.OnTaskCompleted(ctx, c.ID, nil))
	assert.Equal(t, models.TaskStatusQueued, d.Status)
	assert.Equal(t, []uuid.UUID{d.ID}, pub.publishedIDs())

	require.NoError(t, orch.OnTaskStarted(ctx, d.ID))
	require.NoError(t, orch.OnTaskCompleted(ctx, d.ID, nil))

	assert.Equal(t, models.WorkflowStatusSucceeded, wf.Status)
	assert.Equal(t, 100.0, wf.Progress())
	assert.NotNil(t, wf.CompletedAt)
}

func TestDuplicateCompletionDropped(t *testing.T) {
	orch, store, _ := newTestOrchestrator(t)
	ctx := context.Background()

	wf := models.NewWorkflow("single", "", models.ExecutionModeSequential, nil, nil)
	a := addTask(t, wf, "a", models.NoRetryPolicy())
	store.add(wf)
	require.NoError(t, orch.Start(ctx, wf.ID))
	require.NoError(t, orch.OnTaskStarted(ctx, a.ID))

	require.NoError(t, orch.OnTaskCompleted(ctx, a.ID, map[string]any{"first": true}))
	firstCompleted := *a.CompletedAt

	// Redelivery: no error, no state change.
	require.NoError(t, orch.OnTaskCompleted(ctx, a.ID, map[string]any{"second": true}))
	assert.Equal(t, map[string]any{"first": true}, a.Result)
	assert.Equal(t, firstCompleted, *a.CompletedAt)
	assert.Equal(t, models.WorkflowStatusSucceeded, wf.Status)
}

func TestCompletionWithLostStartEvent(t *testing.T) {
	orch, store, _ := newTestOrchestrator(t)
	ctx := context.Background()

	wf := models.NewWorkflow("single", "", models.ExecutionModeSequential, nil, nil)
	a := addTask(t, wf, "a", models.NoRetryPolicy())
	store.add(wf)
	require.NoError(t, orch.Start(ctx, wf.ID))

	// No started event: the completion alone must land.
	require.NoError(t, orch.OnTaskCompleted(ctx, a.ID, nil))
	assert.Equal(t, models.TaskStatusSucceeded, a.Status)
	assert.Equal(t, models.WorkflowStatusSucceeded, wf.Status)
}

func TestFailureWithBudgetSchedulesDelayedRetry(t *testing.T) {
	orch, store, pub := newTestOrchestrator(t)
	ctx := context.Background()

	wf := models.NewWorkflow("retry", "", models.ExecutionModeSequential, nil, nil)
	a := addTask(t, wf, "a", models.FixedDelayPolicy(2, 5))
	store.add(wf)
	require.NoError(t, orch.Start(ctx, wf.ID))
	require.NoError(t, orch.OnTaskStarted(ctx, a.ID))
	pub.reset()

	require.NoError(t, orch.OnTaskFailed(ctx, a.ID, "boom"))

	assert.Equal(t, models.TaskStatusRetrying, a.Status)
	assert.Equal(t, 1, a.RetryCount)
	assert.Equal(t, models.WorkflowStatusRunning, wf.Status)
	require.Len(t, pub.published, 1)
	assert.Equal(t, a.ID, pub.published[0].msg.TaskID)
	assert.Equal(t, 5*time.Second, pub.published[0].delay)
}

func TestExhaustedRetriesFailWorkflowAndCancelWaitingTasks(t *testing.T) {
	orch, store, pub := newTestOrchestrator(t)
	ctx := context.Background()

	wf := models.NewWorkflow("failfast", "", models.ExecutionModeSequential, nil, nil)
	a := addTask(t, wf, "a", models.FixedDelayPolicy(1, 1))
	b := addTask(t, wf, "b", models.NoRetryPolicy(), a.ID)
	store.add(wf)
	require.NoError(t, orch.Start(ctx, wf.ID))
	require.NoError(t, orch.OnTaskStarted(ctx, a.ID))

	// First failure consumes the single retry.
	require.NoError(t, orch.OnTaskFailed(ctx, a.ID, "boom"))
	require.Equal(t, models.TaskStatusRetrying, a.Status)
	require.NoError(t, orch.OnTaskStarted(ctx, a.ID))
	pub.reset()

	// Second failure exhausts the budget: fail fast.
	require.NoError(t, orch.OnTaskFailed(ctx, a.ID, "boom again"))

	assert.Equal(t, models.TaskStatusFailed, a.Status)
	assert.Equal(t, models.WorkflowStatusFailed, wf.Status)
	assert.Contains(t, wf.StatusMessage, `task "a" failed`)
	assert.Equal(t, models.TaskStatusCancelled, b.Status)
	assert.Empty(t, pub.publishedIDs())
}

func TestTimeoutWithBudgetRequeues(t *testing.T) {
	orch, store, pub := newTestOrchestrator(t)
	ctx := context.Background()

	wf := models.NewWorkflow("timeout", "", models.ExecutionModeSequential, nil, nil)
	a := addTask(t, wf, "a", models.FixedDelayPolicy(3, 2))
	store.add(wf)
	require.NoError(t, orch.Start(ctx, wf.ID))
	require.NoError(t, orch.OnTaskStarted(ctx, a.ID))
	pub.reset()

	require.NoError(t, orch.OnTaskTimedOut(ctx, a.ID))

	assert.Equal(t, models.TaskStatusTimeout, a.Status)
	// The counter advances on pickup, not on requeue.
	assert.Equal(t, 0, a.RetryCount)
	require.Len(t, pub.published, 1)
	assert.Equal(t, 2*time.Second, pub.published[0].delay)

	// Executor picks the retry up: timeout → running with the counter
	// advanced.
	require.NoError(t, orch.OnTaskStarted(ctx, a.ID))
	assert.Equal(t, models.TaskStatusRunning, a.Status)
	assert.Equal(t, 1, a.RetryCount)

	require.NoError(t, orch.OnTaskCompleted(ctx, a.ID, nil))
	assert.Equal(t, models.WorkflowStatusSucceeded, wf.Status)
}

func TestTimeoutWithoutBudgetFailsWorkflow(t *testing.T) {
	orch, store, _ := newTestOrchestrator(t)
	ctx := context.Background()

	wf := models.NewWorkflow("timeout", "", models.ExecutionModeSequential, nil, nil)
	a := addTask(t, wf, "a", models.NoRetryPolicy())
	store.add(wf)
	require.NoError(t, orch.Start(ctx, wf.ID))
	require.NoError(t, orch.OnTaskStarted(ctx, a.ID))

	require.NoError(t, orch.OnTaskTimedOut(ctx, a.ID))

	assert.Equal(t, models.TaskStatusTimeout, a.Status)
	assert.Equal(t, models.WorkflowStatusFailed, wf.Status)
	assert.Contains(t, wf.StatusMessage, "timed out")
}

func TestStaleFailureAfterTimeoutDropped(t *testing.T) {
	orch, store, _ := newTestOrchestrator(t)
	ctx := context.Background()

	wf := models.NewWorkflow("stale", "", models.ExecutionModeSequential, nil, nil)
	a := addTask(t, wf, "a", models.FixedDelayPolicy(3, 1))
	store.add(wf)
	require.NoError(t, orch.Start(ctx, wf.ID))
	require.NoError(t, orch.OnTaskStarted(ctx, a.ID))
	require.NoError(t, orch.OnTaskTimedOut(ctx, a.ID))

	// The executor's own failure report for the attempt the sweep already
	// timed out must not double-count.
	require.NoError(t, orch.OnTaskFailed(ctx, a.ID, "late"))
	assert.Equal(t, models.TaskStatusTimeout, a.Status)
	assert.Equal(t, 0, a.RetryCount)
}

func TestStaleCompletionAfterTimeoutDropped(t *testing.T) {
	orch, store, pub := newTestOrchestrator(t)
	ctx := context.Background()

	wf := models.NewWorkflow("stale-success", "", models.ExecutionModeSequential, nil, nil)
	a := addTask(t, wf, "a", models.FixedDelayPolicy(3, 1))
	store.add(wf)
	require.NoError(t, orch.Start(ctx, wf.ID))
	require.NoError(t, orch.OnTaskStarted(ctx, a.ID))
	require.NoError(t, orch.OnTaskTimedOut(ctx, a.ID))
	pub.reset()

	// A success report racing the sweep is dropped the same way a failure
	// is: the attempt was already accounted as timed out, and the pending
	// republish re-runs the task.
	require.NoError(t, orch.OnTaskCompleted(ctx, a.ID, map[string]any{"out": 1}))

	assert.Equal(t, models.TaskStatusTimeout, a.Status)
	assert.Nil(t, a.Result)
	assert.Equal(t, models.WorkflowStatusRunning, wf.Status)
	assert.Empty(t, pub.published)
}

func TestPauseBlocksSchedulingResumeRequeues(t *testing.T) {
	orch, store, pub := newTestOrchestrator(t)
	ctx := context.Background()

	wf := models.NewWorkflow("pause", "", models.ExecutionModeSequential, nil, nil)
	a := addTask(t, wf, "a", models.NoRetryPolicy())
	b := addTask(t, wf, "b", models.NoRetryPolicy(), a.ID)
	store.add(wf)
	require.NoError(t, orch.Start(ctx, wf.ID))
	require.NoError(t, orch.OnTaskStarted(ctx, a.ID))

	require.NoError(t, orch.Pause(ctx, wf.ID))
	assert.Equal(t, models.WorkflowStatusPaused, wf.Status)
	pub.reset()

	// The in-flight task still lands its result, but b is not scheduled.
	require.NoError(t, orch.OnTaskCompleted(ctx, a.ID, nil))
	assert.Equal(t, models.TaskStatusSucceeded, a.Status)
	assert.Equal(t, models.TaskStatusPending, b.Status)
	assert.Empty(t, pub.publishedIDs())

	require.NoError(t, orch.Resume(ctx, wf.ID))
	assert.Equal(t, models.WorkflowStatusRunning, wf.Status)
	assert.Equal(t, models.TaskStatusQueued, b.Status)
	assert.Equal(t, []uuid.UUID{b.ID}, pub.publishedIDs())
}

func TestResumeCompletesWorkflowFinishedWhilePaused(t *testing.T) {
	orch, store, _ := newTestOrchestrator(t)
	ctx := context.Background()

	wf := models.NewWorkflow("pause", "", models.ExecutionModeSequential, nil, nil)
	a := addTask(t, wf, "a", models.NoRetryPolicy())
	store.add(wf)
	require.NoError(t, orch.Start(ctx, wf.ID))
	require.NoError(t, orch.OnTaskStarted(ctx, a.ID))
	require.NoError(t, orch.Pause(ctx, wf.ID))
	require.NoError(t, orch.OnTaskCompleted(ctx, a.ID, nil))
	require.Equal(t, models.WorkflowStatusPaused, wf.Status)

	require.NoError(t, orch.Resume(ctx, wf.ID))
	assert.Equal(t, models.WorkflowStatusSucceeded, wf.Status)
}

func TestCancelStopsWorkflowAndDropsLateResults(t *testing.T) {
	orch, store, pub := newTestOrchestrator(t)
	ctx := context.Background()
	wf, a, b, c, d := diamondWorkflow(t, store)
	require.NoError(t, orch.Start(ctx, wf.ID))
	require.NoError(t, orch.OnTaskStarted(ctx, a.ID))

	require.NoError(t, orch.Cancel(ctx, wf.ID))

	assert.Equal(t, models.WorkflowStatusCancelled, wf.Status)
	for _, task := range []*models.Task{a, b, c, d} {
		assert.Equal(t, models.TaskStatusCancelled, task.Status, task.Name)
	}
	assert.Equal(t, []uuid.UUID{wf.ID}, pub.cancelled)

	// The executor finishes anyway; the late result is dropped.
	require.NoError(t, orch.OnTaskCompleted(ctx, a.ID, map[string]any{"late": true}))
	assert.Equal(t, models.TaskStatusCancelled, a.Status)
	assert.Nil(t, a.Result)
}

func TestCancelRejectsTerminalWorkflow(t *testing.T) {
	orch, store, _ := newTestOrchestrator(t)
	ctx := context.Background()

	wf := models.NewWorkflow("done", "", models.ExecutionModeSequential, nil, nil)
	a := addTask(t, wf, "a", models.NoRetryPolicy())
	store.add(wf)
	require.NoError(t, orch.Start(ctx, wf.ID))
	require.NoError(t, orch.OnTaskCompleted(ctx, a.ID, nil))
	require.Equal(t, models.WorkflowStatusSucceeded, wf.Status)

	assert.Error(t, orch.Cancel(ctx, wf.ID))
}

func TestRecoverRequeuesReadyTasksAndConvergesFinishedWorkflows(t *testing.T) {
	orch, store, pub := newTestOrchestrator(t)
	ctx := context.Background()

	// Crash scenario one: a succeeded but b was never queued (publish or
	// scheduling lost).
	lost := models.NewWorkflow("lost-schedule", "", models.ExecutionModeSequential, nil, nil)
	a := addTask(t, lost, "a", models.NoRetryPolicy())
	b := addTask(t, lost, "b", models.NoRetryPolicy(), a.ID)
	store.add(lost)
	require.NoError(t, lost.Start())
	require.NoError(t, a.Start())
	require.NoError(t, a.Complete(nil))

	// Crash scenario two: every task finished but the workflow row was
	// never closed out.
	open := models.NewWorkflow("open-terminal", "", models.ExecutionModeSequential, nil, nil)
	c := addTask(t, open, "c", models.NoRetryPolicy())
	store.add(open)
	require.NoError(t, open.Start())
	require.NoError(t, c.Start())
	require.NoError(t, c.Complete(nil))

	require.NoError(t, orch.Recover(ctx))

	assert.Equal(t, models.TaskStatusQueued, b.Status)
	assert.Equal(t, []uuid.UUID{b.ID}, pub.publishedIDs())
	assert.Equal(t, models.WorkflowStatusSucceeded, open.Status)
	assert.Equal(t, models.WorkflowStatusRunning, lost.Status)
}

func TestOnTaskStartedTransitions(t *testing.T) {
	orch, store, _ := newTestOrchestrator(t)
	ctx := context.Background()

	wf := models.NewWorkflow("starts", "", models.ExecutionModeSequential, nil, nil)
	a := addTask(t, wf, "a", models.FixedDelayPolicy(2, 1))
	store.add(wf)
	require.NoError(t, orch.Start(ctx, wf.ID))

	require.NoError(t, orch.OnTaskStarted(ctx, a.ID))
	require.Equal(t, models.TaskStatusRunning, a.Status)
	firstStart := *a.StartedAt

	// Duplicate started is a no-op.
	require.NoError(t, orch.OnTaskStarted(ctx, a.ID))
	assert.Equal(t, firstStart, *a.StartedAt)

	// After a failure the task waits in retrying; the next started refreshes
	// the attempt clock without another increment.
	require.NoError(t, orch.OnTaskFailed(ctx, a.ID, "boom"))
	require.Equal(t, models.TaskStatusRetrying, a.Status)
	require.NoError(t, orch.OnTaskStarted(ctx, a.ID))
	assert.Equal(t, models.TaskStatusRetrying, a.Status)
	assert.Equal(t, 1, a.RetryCount)
	assert.True(t, a.StartedAt.After(firstStart) || a.StartedAt.Equal(firstStart))
}

func TestUnknownTaskEventSurfacesExecutionError(t *testing.T) {
	orch, _, _ := newTestOrchestrator(t)
	err := orch.OnTaskCompleted(context.Background(), uuid.New(), nil)
	assert.Error(t, err)
}
