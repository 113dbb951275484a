package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// popTimeout bounds each blocking pop so consumers notice shutdown.
const popTimeout = time.Second

// ResultHandler receives executor events in orchestrator terms. Delivery is
// at-least-once: every method must tolerate duplicates.
type ResultHandler interface {
	OnTaskStarted(ctx context.Context, taskID uuid.UUID) error
	OnTaskCompleted(ctx context.Context, taskID uuid.UUID, result map[string]any) error
	OnTaskFailed(ctx context.Context, taskID uuid.UUID, errMsg string) error
	OnTaskTimedOut(ctx context.Context, taskID uuid.UUID) error
}

// ResultConsumer bridges the executor results list to the orchestrator.
type ResultConsumer struct {
	queue   *RedisQueue
	handler ResultHandler
	logger  *zap.Logger
	workers int
}

// NewResultConsumer creates a consumer dispatching to the given handler
// with the given number of worker goroutines.
func NewResultConsumer(q *RedisQueue, handler ResultHandler, workers int, logger *zap.Logger) *ResultConsumer {
	if workers < 1 {
		workers = 1
	}
	return &ResultConsumer{
		queue:   q,
		handler: handler,
		logger:  logger.Named("result-consumer"),
		workers: workers,
	}
}

// Start launches the consumer goroutines. They stop when the context is
// cancelled or the queue shuts down; Shutdown on the queue waits for them.
func (c *ResultConsumer) Start(ctx context.Context) {
	for i := 0; i < c.workers; i++ {
		c.queue.wg.Add(1)
		go func() {
			defer c.queue.wg.Done()
			c.run(ctx)
		}()
	}
}

func (c *ResultConsumer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.queue.stopCh:
			return
		default:
		}

		msg, ok, err := c.queue.popResult(ctx, popTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("failed to pop executor result", zap.Error(err))
			time.Sleep(popTimeout)
			continue
		}
		if !ok {
			continue
		}

		c.dispatch(ctx, msg)
	}
}

// dispatch routes one result to the orchestrator. Handler errors are logged
// and the message dropped: the state-machine guards make duplicates and
// stale events no-ops, and real store failures are retried by the executor's
// at-least-once redelivery or caught by the sweeper.
func (c *ResultConsumer) dispatch(ctx context.Context, msg ResultMessage) {
	var err error
	switch msg.Event {
	case EventStarted:
		err = c.handler.OnTaskStarted(ctx, msg.TaskID)
	case EventSucceeded:
		err = c.handler.OnTaskCompleted(ctx, msg.TaskID, msg.Result)
	case EventFailed:
		err = c.handler.OnTaskFailed(ctx, msg.TaskID, msg.Error)
	case EventTimeout:
		err = c.handler.OnTaskTimedOut(ctx, msg.TaskID)
	default:
		c.logger.Error("dropping result with unknown event",
			zap.String("event", msg.Event),
			zap.String("task_id", msg.TaskID.String()))
		return
	}

	if err != nil {
		c.logger.Error("failed to handle executor result",
			zap.String("event", msg.Event),
			zap.String("task_id", msg.TaskID.String()),
			zap.Error(err))
	}
}
