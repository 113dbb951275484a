package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/pkg/apperrors"
	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/pkg/models"
	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/pkg/queue"
	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/pkg/repositories"
)

// WorkflowLocker serializes event handling per workflow. The database
// implementation takes a row lock inside a transaction carried on the
// context; tests substitute an in-memory implementation.
type WorkflowLocker interface {
	WithWorkflowLock(ctx context.Context, workflowID uuid.UUID, fn func(ctx context.Context) error) error
}

// Orchestrator is the event-driven core: it starts workflows, reacts to
// executor events, schedules ready tasks, applies retry policies, and
// detects workflow terminal conditions. Every handler is idempotent under
// duplicate delivery, and every handler runs under the per-workflow lock so
// the sequence of persisted states is a valid interleaving of the event
// order.
type Orchestrator interface {
	Start(ctx context.Context, workflowID uuid.UUID) error
	Pause(ctx context.Context, workflowID uuid.UUID) error
	Resume(ctx context.Context, workflowID uuid.UUID) error
	Cancel(ctx context.Context, workflowID uuid.UUID) error

	OnTaskStarted(ctx context.Context, taskID uuid.UUID) error
	OnTaskCompleted(ctx context.Context, taskID uuid.UUID, result map[string]any) error
	OnTaskFailed(ctx context.Context, taskID uuid.UUID, errMsg string) error
	OnTaskTimedOut(ctx context.Context, taskID uuid.UUID) error

	// Recover converges every active workflow after a crash: requeues
	// newly-ready tasks and re-evaluates terminal conditions.
	Recover(ctx context.Context) error
}

type orchestrator struct {
	workflows repositories.WorkflowRepository
	tasks     repositories.TaskRepository
	publisher queue.Publisher
	locker    WorkflowLocker
	logger    *zap.Logger
}

// NewOrchestrator creates the orchestrator service.
func NewOrchestrator(
	workflows repositories.WorkflowRepository,
	tasks repositories.TaskRepository,
	publisher queue.Publisher,
	locker WorkflowLocker,
	logger *zap.Logger,
) Orchestrator {
	return &orchestrator{
		workflows: workflows,
		tasks:     tasks,
		publisher: publisher,
		locker:    locker,
		logger:    logger.Named("orchestrator"),
	}
}

var _ Orchestrator = (*orchestrator)(nil)
var _ queue.ResultHandler = (Orchestrator)(nil)

// pendingPublish is a queue publish deferred until the surrounding
// transaction commits. Save-before-publish: if the publish then fails the
// task sits in queued (or retrying) and the sweeper republishes it.
type pendingPublish struct {
	msg      queue.TaskMessage
	priority int
	delay    time.Duration
}

// ============================================================================
// Lifecycle Commands
// ============================================================================

func (o *orchestrator) Start(ctx context.Context, workflowID uuid.UUID) error {
	var publishes []pendingPublish

	err := o.locker.WithWorkflowLock(ctx, workflowID, func(ctx context.Context) error {
		wf, err := o.workflows.GetByID(ctx, workflowID)
		if err != nil {
			return err
		}
		if err := wf.Start(); err != nil {
			return err
		}

		for _, root := range wf.GetRootTasks() {
			if err := root.Queue(); err != nil {
				return err
			}
			publishes = append(publishes, taskPublish(root, 0))
		}

		if err := o.workflows.Save(ctx, wf); err != nil {
			return err
		}

		o.logger.Info("workflow started",
			zap.String("workflow_id", workflowID.String()),
			zap.Int("root_tasks", len(publishes)))
		return nil
	})
	if err != nil {
		return err
	}

	o.flushPublishes(ctx, publishes)
	return nil
}

func (o *orchestrator) Pause(ctx context.Context, workflowID uuid.UUID) error {
	return o.locker.WithWorkflowLock(ctx, workflowID, func(ctx context.Context) error {
		wf, err := o.workflows.GetByID(ctx, workflowID)
		if err != nil {
			return err
		}
		if err := wf.Pause(); err != nil {
			return err
		}
		if err := o.workflows.Save(ctx, wf); err != nil {
			return err
		}
		o.logger.Info("workflow paused", zap.String("workflow_id", workflowID.String()))
		return nil
	})
}

func (o *orchestrator) Resume(ctx context.Context, workflowID uuid.UUID) error {
	var publishes []pendingPublish

	err := o.locker.WithWorkflowLock(ctx, workflowID, func(ctx context.Context) error {
		wf, err := o.workflows.GetByID(ctx, workflowID)
		if err != nil {
			return err
		}
		if err := wf.Resume(); err != nil {
			return err
		}
		if err := o.workflows.Save(ctx, wf); err != nil {
			return err
		}

		// Pick up tasks that became ready while paused, and converge in
		// case everything finished during the pause.
		if err := o.scheduleDependentTasks(ctx, workflowID, &publishes); err != nil {
			return err
		}
		if err := o.checkWorkflowCompletion(ctx, workflowID); err != nil {
			return err
		}
		o.logger.Info("workflow resumed", zap.String("workflow_id", workflowID.String()))
		return nil
	})
	if err != nil {
		return err
	}

	o.flushPublishes(ctx, publishes)
	return nil
}

func (o *orchestrator) Cancel(ctx context.Context, workflowID uuid.UUID) error {
	err := o.locker.WithWorkflowLock(ctx, workflowID, func(ctx context.Context) error {
		wf, err := o.workflows.GetByID(ctx, workflowID)
		if err != nil {
			return err
		}
		if err := wf.Cancel(); err != nil {
			return err
		}
		if err := o.workflows.Save(ctx, wf); err != nil {
			return err
		}

		// Cancellation is best-effort for active tasks: their executors
		// keep running, and late results are dropped by the terminal
		// guard.
		for _, task := range wf.Tasks() {
			if task.Status.IsTerminal() {
				continue
			}
			if err := task.Cancel(); err != nil {
				continue
			}
			if err := o.tasks.Save(ctx, task); err != nil {
				return err
			}
		}

		o.logger.Info("workflow cancelled", zap.String("workflow_id", workflowID.String()))
		return nil
	})
	if err != nil {
		return err
	}

	if err := o.publisher.MarkWorkflowCancelled(ctx, workflowID); err != nil {
		o.logger.Warn("failed to mark workflow cancelled on queue",
			zap.String("workflow_id", workflowID.String()),
			zap.Error(err))
	}
	return nil
}

// ============================================================================
// Executor Events
// ============================================================================

func (o *orchestrator) OnTaskStarted(ctx context.Context, taskID uuid.UUID) error {
	workflowID, err := o.workflowForTask(ctx, taskID)
	if err != nil {
		return err
	}

	return o.locker.WithWorkflowLock(ctx, workflowID, func(ctx context.Context) error {
		task, err := o.tasks.GetByID(ctx, taskID)
		if err != nil {
			return err
		}

		switch {
		case task.Status.IsTerminal() || task.Status == models.TaskStatusRunning:
			o.logDuplicate("started", task)
			return nil
		case task.Status.IsWaiting():
			if err := task.Start(); err != nil {
				return err
			}
		case task.Status == models.TaskStatusRetrying:
			// A fresh attempt after an in-place retry: restart the
			// attempt clock so the timeout sweep measures this attempt.
			if err := task.RefreshStartedAt(); err != nil {
				return err
			}
		case task.Status == models.TaskStatusTimeout:
			if !task.HasRetryBudget() {
				o.logDuplicate("started", task)
				return nil
			}
			if err := task.Retry(); err != nil {
				return err
			}
		}

		return o.tasks.Save(ctx, task)
	})
}

func (o *orchestrator) OnTaskCompleted(ctx context.Context, taskID uuid.UUID, result map[string]any) error {
	workflowID, err := o.workflowForTask(ctx, taskID)
	if err != nil {
		return err
	}

	var publishes []pendingPublish

	err = o.locker.WithWorkflowLock(ctx, workflowID, func(ctx context.Context) error {
		task, err := o.tasks.GetByID(ctx, taskID)
		if err != nil {
			return err
		}
		if task.Status.IsTerminal() || task.Status == models.TaskStatusTimeout {
			// Terminal: duplicate delivery. Timeout: the sweep already
			// accounted this attempt as timed out; the result is stale and
			// the pending republish re-runs the task.
			o.logDuplicate("completed", task)
			return nil
		}

		// Tolerate a lost or reordered start event: an executor that
		// reports completion was necessarily running the task.
		if task.Status.IsWaiting() {
			if err := task.Start(); err != nil {
				return err
			}
		}
		if err := task.Complete(result); err != nil {
			return err
		}
		if err := o.tasks.Save(ctx, task); err != nil {
			return err
		}

		o.logger.Info("task completed",
			zap.String("task_id", taskID.String()),
			zap.String("workflow_id", workflowID.String()))

		if err := o.scheduleDependentTasks(ctx, workflowID, &publishes); err != nil {
			return err
		}
		return o.checkWorkflowCompletion(ctx, workflowID)
	})
	if err != nil {
		return err
	}

	o.flushPublishes(ctx, publishes)
	return nil
}

func (o *orchestrator) OnTaskFailed(ctx context.Context, taskID uuid.UUID, errMsg string) error {
	workflowID, err := o.workflowForTask(ctx, taskID)
	if err != nil {
		return err
	}

	var publishes []pendingPublish

	err = o.locker.WithWorkflowLock(ctx, workflowID, func(ctx context.Context) error {
		task, err := o.tasks.GetByID(ctx, taskID)
		if err != nil {
			return err
		}
		if task.Status.IsTerminal() || task.Status == models.TaskStatusTimeout {
			// Terminal: duplicate delivery. Timeout: the sweep already
			// accounted this attempt; the failure report is stale.
			o.logDuplicate("failed", task)
			return nil
		}

		if task.Status.IsWaiting() {
			if err := task.Start(); err != nil {
				return err
			}
		}
		if err := task.Fail(errMsg); err != nil {
			return err
		}
		if err := o.tasks.Save(ctx, task); err != nil {
			return err
		}

		if task.Status == models.TaskStatusRetrying {
			delay := task.Config.RetryPolicy.CalculateDelay(task.RetryCount - 1)
			publishes = append(publishes, taskPublish(task, delay))
			o.logger.Info("task retry scheduled",
				zap.String("task_id", taskID.String()),
				zap.Int("retry_count", task.RetryCount),
				zap.Duration("delay", delay))
			return nil
		}

		o.logger.Warn("task failed permanently",
			zap.String("task_id", taskID.String()),
			zap.String("workflow_id", workflowID.String()),
			zap.String("error", errMsg))
		return o.failWorkflow(ctx, workflowID, fmt.Sprintf("task %q failed: %s", task.Name, errMsg))
	})
	if err != nil {
		return err
	}

	o.flushPublishes(ctx, publishes)
	return nil
}

func (o *orchestrator) OnTaskTimedOut(ctx context.Context, taskID uuid.UUID) error {
	workflowID, err := o.workflowForTask(ctx, taskID)
	if err != nil {
		return err
	}

	var publishes []pendingPublish

	err = o.locker.WithWorkflowLock(ctx, workflowID, func(ctx context.Context) error {
		task, err := o.tasks.GetByID(ctx, taskID)
		if err != nil {
			return err
		}
		if !task.Status.IsActive() {
			o.logDuplicate("timeout", task)
			return nil
		}

		if err := task.Timeout(); err != nil {
			return err
		}
		if err := o.tasks.Save(ctx, task); err != nil {
			return err
		}

		if task.HasRetryBudget() {
			// The retry counter advances when the executor picks the
			// attempt up and reports started.
			delay := task.Config.RetryPolicy.CalculateDelay(task.RetryCount)
			publishes = append(publishes, taskPublish(task, delay))
			o.logger.Info("timed-out task requeued",
				zap.String("task_id", taskID.String()),
				zap.Duration("delay", delay))
			return nil
		}

		o.logger.Warn("task timed out permanently",
			zap.String("task_id", taskID.String()),
			zap.String("workflow_id", workflowID.String()))
		return o.failWorkflow(ctx, workflowID, fmt.Sprintf("task %q timed out", task.Name))
	})
	if err != nil {
		return err
	}

	o.flushPublishes(ctx, publishes)
	return nil
}

// ============================================================================
// Recovery
// ============================================================================

func (o *orchestrator) Recover(ctx context.Context) error {
	active, err := o.workflows.GetActive(ctx)
	if err != nil {
		return err
	}

	for _, wf := range active {
		workflowID := wf.ID
		var publishes []pendingPublish

		err := o.locker.WithWorkflowLock(ctx, workflowID, func(ctx context.Context) error {
			if err := o.scheduleDependentTasks(ctx, workflowID, &publishes); err != nil {
				return err
			}
			return o.checkWorkflowCompletion(ctx, workflowID)
		})
		if err != nil {
			o.logger.Error("failed to recover workflow",
				zap.String("workflow_id", workflowID.String()),
				zap.Error(err))
			continue
		}
		o.flushPublishes(ctx, publishes)
	}

	o.logger.Info("recovery pass complete", zap.Int("active_workflows", len(active)))
	return nil
}

// ============================================================================
// Internal Routines
// ============================================================================

// scheduleDependentTasks queues every newly-ready task. The pending→queued
// guard makes each task publish at most once; tasks found already queued
// were published by an earlier handler (or will be recovered by the
// sweeper).
func (o *orchestrator) scheduleDependentTasks(ctx context.Context, workflowID uuid.UUID, publishes *[]pendingPublish) error {
	wf, err := o.workflows.GetByID(ctx, workflowID)
	if err != nil {
		return err
	}
	if wf.Status != models.WorkflowStatusRunning {
		// Paused or already terminal: nothing is scheduled. Resume picks
		// ready tasks back up.
		return nil
	}

	ready, err := o.tasks.GetReadyTasks(ctx, workflowID)
	if err != nil {
		return err
	}

	for _, task := range ready {
		if task.Status != models.TaskStatusPending {
			continue
		}
		if err := task.Queue(); err != nil {
			continue
		}
		if err := o.tasks.Save(ctx, task); err != nil {
			return err
		}
		*publishes = append(*publishes, taskPublish(task, 0))
	}
	return nil
}

// checkWorkflowCompletion drives the workflow to its terminal state once
// every task is terminal. Succeeds only when every task succeeded or was
// skipped; otherwise the first failed task (by id order) names the error.
func (o *orchestrator) checkWorkflowCompletion(ctx context.Context, workflowID uuid.UUID) error {
	wf, err := o.workflows.GetByID(ctx, workflowID)
	if err != nil {
		return err
	}
	if wf.Status.IsTerminal() {
		return nil
	}

	tasks := wf.Tasks()
	if len(tasks) == 0 {
		return nil
	}

	allOK := true
	var failed []*models.Task
	for _, task := range tasks {
		if !task.Status.IsTerminal() {
			return nil
		}
		if task.Status != models.TaskStatusSucceeded && task.Status != models.TaskStatusSkipped {
			allOK = false
		}
		if task.Status == models.TaskStatusFailed {
			failed = append(failed, task)
		}
	}

	if allOK {
		if err := wf.Complete(); err != nil {
			// Not active (e.g. paused with everything already done);
			// completion is re-evaluated on resume.
			return nil
		}
		o.logger.Info("workflow succeeded", zap.String("workflow_id", workflowID.String()))
		return o.workflows.Save(ctx, wf)
	}

	reason := "workflow did not complete successfully"
	if len(failed) > 0 {
		sort.Slice(failed, func(i, j int) bool {
			return failed[i].ID.String() < failed[j].ID.String()
		})
		first := failed[0]
		errMsg := ""
		if first.Error != nil {
			errMsg = *first.Error
		}
		reason = fmt.Sprintf("task %q failed: %s", first.Name, errMsg)
	}
	wf.Fail(reason)
	o.logger.Warn("workflow failed",
		zap.String("workflow_id", workflowID.String()),
		zap.String("reason", reason))
	return o.workflows.Save(ctx, wf)
}

// failWorkflow applies fail-fast: the workflow fails immediately and its
// waiting tasks are cancelled so they never schedule. Active tasks remain;
// their late results are dropped by the terminal guards.
func (o *orchestrator) failWorkflow(ctx context.Context, workflowID uuid.UUID, reason string) error {
	wf, err := o.workflows.GetByID(ctx, workflowID)
	if err != nil {
		return err
	}
	if wf.Status.IsTerminal() {
		return nil
	}

	wf.Fail(reason)
	if err := o.workflows.Save(ctx, wf); err != nil {
		return err
	}

	for _, task := range wf.Tasks() {
		if !task.Status.IsWaiting() {
			continue
		}
		if err := task.Cancel(); err != nil {
			continue
		}
		if err := o.tasks.Save(ctx, task); err != nil {
			return err
		}
	}
	return nil
}

// workflowForTask resolves the owning workflow before taking its lock.
func (o *orchestrator) workflowForTask(ctx context.Context, taskID uuid.UUID) (uuid.UUID, error) {
	task, err := o.tasks.GetByID(ctx, taskID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return uuid.Nil, fmt.Errorf("%w: task %s not found", apperrors.ErrWorkflowExecution, taskID)
		}
		return uuid.Nil, err
	}
	return task.WorkflowID, nil
}

func (o *orchestrator) flushPublishes(ctx context.Context, publishes []pendingPublish) {
	for _, p := range publishes {
		var err error
		if p.delay > 0 {
			err = o.publisher.PublishDelayed(ctx, p.msg, p.priority, p.delay)
		} else {
			err = o.publisher.Publish(ctx, p.msg, p.priority)
		}
		if err != nil {
			// The task row is already saved; the recovery sweeper will
			// republish it.
			o.logger.Error("failed to publish task",
				zap.String("task_id", p.msg.TaskID.String()),
				zap.Error(err))
		}
	}
}

func (o *orchestrator) logDuplicate(event string, task *models.Task) {
	o.logger.Debug("dropping stale executor event",
		zap.String("event", event),
		zap.String("task_id", task.ID.String()),
		zap.String("status", string(task.Status)))
}

func taskPublish(task *models.Task, delay time.Duration) pendingPublish {
	return pendingPublish{
		msg: queue.TaskMessage{
			TaskID:   task.ID,
			TaskType: task.Config.Type,
			Payload:  task.Payload,
		},
		priority: task.Config.Priority.QueuePriority(),
		delay:    delay,
	}
}
