package services

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/pkg/models"
	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/pkg/repositories"
)

// RetentionJob deletes terminal workflows older than the retention window.
// Tasks go with their workflow via the store's cascade.
type RetentionJob struct {
	workflows repositories.WorkflowRepository
	logger    *zap.Logger
	interval  time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewRetentionJob creates the retention job with the given run interval.
func NewRetentionJob(workflows repositories.WorkflowRepository, interval time.Duration, logger *zap.Logger) *RetentionJob {
	return &RetentionJob{
		workflows: workflows,
		logger:    logger.Named("retention"),
		interval:  interval,
		stopCh:    make(chan struct{}),
	}
}

// Start launches the retention loop.
func (j *RetentionJob) Start(ctx context.Context) {
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-j.stopCh:
				return
			case <-ticker.C:
				j.Run(ctx)
			}
		}
	}()
}

// Run performs one retention pass.
func (j *RetentionJob) Run(ctx context.Context) {
	cutoff := time.Now().UTC().AddDate(0, 0, -models.WorkflowRetentionDays)

	deleted, err := j.workflows.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		j.logger.Error("retention pass failed", zap.Error(err))
		return
	}
	if deleted > 0 {
		j.logger.Info("purged expired workflows",
			zap.Int64("deleted", deleted),
			zap.Time("cutoff", cutoff))
	}
}

// Shutdown stops the retention loop, waiting up to the context deadline.
func (j *RetentionJob) Shutdown(ctx context.Context) error {
	j.stopOnce.Do(func() { close(j.stopCh) })

	done := make(chan struct{})
	go func() {
		j.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
