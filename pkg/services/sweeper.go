package services

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/pkg/queue"
	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/pkg/repositories"
)

const sweepBatchSize = 100

// Sweeper is the periodic safety net. It fires timeouts for tasks whose
// attempt deadline has passed, and republishes tasks whose publish was lost
// (crash between commit and publish, or a Redis hiccup) — both freshly
// queued ones and scheduled retries that never left the delayed set.
type Sweeper struct {
	tasks        repositories.TaskRepository
	orchestrator Orchestrator
	publisher    queue.Publisher
	logger       *zap.Logger

	interval       time.Duration
	recoveryWindow time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewSweeper creates the sweeper. interval is how often it runs;
// recoveryWindow is how long a task may sit in queued, or past its retry due
// time, before its publish is considered lost and reissued.
func NewSweeper(
	tasks repositories.TaskRepository,
	orchestrator Orchestrator,
	publisher queue.Publisher,
	interval time.Duration,
	recoveryWindow time.Duration,
	logger *zap.Logger,
) *Sweeper {
	return &Sweeper{
		tasks:          tasks,
		orchestrator:   orchestrator,
		publisher:      publisher,
		logger:         logger.Named("sweeper"),
		interval:       interval,
		recoveryWindow: recoveryWindow,
		stopCh:         make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (s *Sweeper) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.Sweep(ctx)
			}
		}
	}()
}

// Sweep runs one pass of all sweeps.
func (s *Sweeper) Sweep(ctx context.Context) {
	s.sweepOverdue(ctx)
	s.sweepStuckQueued(ctx)
	s.sweepRetryDue(ctx)
}

// sweepOverdue fires the timeout transition for active tasks past their
// deadline. Routed through the orchestrator so the retry policy and
// workflow fail-fast apply exactly as for an executor-reported timeout.
func (s *Sweeper) sweepOverdue(ctx context.Context) {
	overdue, err := s.tasks.GetOverdue(ctx, time.Now().UTC(), sweepBatchSize)
	if err != nil {
		s.logger.Error("failed to query overdue tasks", zap.Error(err))
		return
	}

	for _, task := range overdue {
		if err := s.orchestrator.OnTaskTimedOut(ctx, task.ID); err != nil {
			s.logger.Error("failed to time out task",
				zap.String("task_id", task.ID.String()),
				zap.Error(err))
		}
	}

	if len(overdue) > 0 {
		s.logger.Info("timed out overdue tasks", zap.Int("count", len(overdue)))
	}
}

// sweepStuckQueued republishes tasks that have sat in queued too long.
// Publishing the same task twice is harmless: executors report started, and
// the duplicate delivery collapses in the state-machine guards.
func (s *Sweeper) sweepStuckQueued(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.recoveryWindow)
	stuck, err := s.tasks.GetStuckQueued(ctx, cutoff, sweepBatchSize)
	if err != nil {
		s.logger.Error("failed to query stuck queued tasks", zap.Error(err))
		return
	}

	for _, task := range stuck {
		msg := queue.TaskMessage{
			TaskID:   task.ID,
			TaskType: task.Config.Type,
			Payload:  task.Payload,
		}
		if err := s.publisher.Publish(ctx, msg, task.Config.Priority.QueuePriority()); err != nil {
			s.logger.Error("failed to republish stuck task",
				zap.String("task_id", task.ID.String()),
				zap.Error(err))
			continue
		}
		s.logger.Warn("republished stuck queued task",
			zap.String("task_id", task.ID.String()),
			zap.Time("queued_since", task.UpdatedAt))
	}
}

// sweepRetryDue republishes scheduled retries whose delayed message never
// arrived. The recovery window keeps it from racing the legitimate delayed
// publish; if both deliveries land, the second one collapses in the
// state-machine guards.
func (s *Sweeper) sweepRetryDue(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.recoveryWindow)
	due, err := s.tasks.GetRetryDue(ctx, cutoff, sweepBatchSize)
	if err != nil {
		s.logger.Error("failed to query retry-due tasks", zap.Error(err))
		return
	}

	for _, task := range due {
		msg := queue.TaskMessage{
			TaskID:   task.ID,
			TaskType: task.Config.Type,
			Payload:  task.Payload,
		}
		if err := s.publisher.Publish(ctx, msg, task.Config.Priority.QueuePriority()); err != nil {
			s.logger.Error("failed to republish retry-due task",
				zap.String("task_id", task.ID.String()),
				zap.Error(err))
			continue
		}
		s.logger.Warn("republished overdue scheduled retry",
			zap.String("task_id", task.ID.String()),
			zap.Time("retry_due", *task.NextAttemptAt))
	}
}

// Shutdown stops the sweep loop and waits for an in-flight pass, up to the
// context deadline.
func (s *Sweeper) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stopCh) })

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
