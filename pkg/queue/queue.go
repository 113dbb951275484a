package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Priority bounds for the work queue.
const (
	MinPriority = 0
	MaxPriority = 9
)

// moverInterval is how often delayed messages are checked for promotion.
const moverInterval = 500 * time.Millisecond

// Publisher is the side of the work queue the orchestrator writes to.
type Publisher interface {
	// Publish enqueues a task for execution at the given priority (0..9,
	// higher is served first).
	Publish(ctx context.Context, msg TaskMessage, priority int) error
	// PublishDelayed enqueues a task that becomes visible to executors
	// after the delay. Used for retry backoff.
	PublishDelayed(ctx context.Context, msg TaskMessage, priority int, delay time.Duration) error
	// MarkWorkflowCancelled records a best-effort cancellation signal
	// executors may consult before starting a task. Not required for
	// correctness: the orchestrator drops results for cancelled tasks.
	MarkWorkflowCancelled(ctx context.Context, workflowID uuid.UUID) error
}

// RedisQueue is a priority work queue over Redis lists. Each priority level
// is its own list; executors pop highest-priority first. Delayed messages
// wait in a sorted set scored by their ready time until the mover promotes
// them.
type RedisQueue struct {
	client    *redis.Client
	namespace string
	logger    *zap.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

var _ Publisher = (*RedisQueue)(nil)

// NewRedisQueue creates a queue over the given Redis client. Keys are
// prefixed with the namespace so deployments can share a Redis.
func NewRedisQueue(client *redis.Client, namespace string, logger *zap.Logger) *RedisQueue {
	return &RedisQueue{
		client:    client,
		namespace: namespace,
		logger:    logger.Named("queue"),
		stopCh:    make(chan struct{}),
	}
}

func (q *RedisQueue) priorityKey(priority int) string {
	return fmt.Sprintf("%s:queue:p%d", q.namespace, priority)
}

func (q *RedisQueue) delayedKey() string {
	return q.namespace + ":delayed"
}

func (q *RedisQueue) resultsKey() string {
	return q.namespace + ":results"
}

func (q *RedisQueue) cancelledKey() string {
	return q.namespace + ":cancelled"
}

func clampPriority(priority int) int {
	if priority < MinPriority {
		return MinPriority
	}
	if priority > MaxPriority {
		return MaxPriority
	}
	return priority
}

// ============================================================================
// Producer Side
// ============================================================================

// Publish enqueues the message on its priority list.
func (q *RedisQueue) Publish(ctx context.Context, msg TaskMessage, priority int) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal task message: %w", err)
	}

	if err := q.client.LPush(ctx, q.priorityKey(clampPriority(priority)), data).Err(); err != nil {
		return fmt.Errorf("failed to publish task %s: %w", msg.TaskID, err)
	}

	q.logger.Debug("published task",
		zap.String("task_id", msg.TaskID.String()),
		zap.Int("priority", priority))
	return nil
}

// PublishDelayed parks the message in the delayed set until its ready time.
func (q *RedisQueue) PublishDelayed(ctx context.Context, msg TaskMessage, priority int, delay time.Duration) error {
	if delay <= 0 {
		return q.Publish(ctx, msg, priority)
	}

	envelope := delayedEnvelope{Message: msg, Priority: clampPriority(priority)}
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal delayed envelope: %w", err)
	}

	readyAt := time.Now().Add(delay)
	err = q.client.ZAdd(ctx, q.delayedKey(), redis.Z{
		Score:  float64(readyAt.UnixMilli()),
		Member: data,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish delayed task %s: %w", msg.TaskID, err)
	}

	q.logger.Debug("published delayed task",
		zap.String("task_id", msg.TaskID.String()),
		zap.Duration("delay", delay))
	return nil
}

// MarkWorkflowCancelled adds the workflow to the cancellation set.
func (q *RedisQueue) MarkWorkflowCancelled(ctx context.Context, workflowID uuid.UUID) error {
	if err := q.client.SAdd(ctx, q.cancelledKey(), workflowID.String()).Err(); err != nil {
		return fmt.Errorf("failed to mark workflow cancelled: %w", err)
	}
	return nil
}

// ============================================================================
// Executor Side
// ============================================================================

// Dequeue pops the next message, highest priority first, blocking up to the
// given timeout. Returns false when nothing was available.
func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (TaskMessage, bool, error) {
	keys := make([]string, 0, MaxPriority-MinPriority+1)
	for p := MaxPriority; p >= MinPriority; p-- {
		keys = append(keys, q.priorityKey(p))
	}

	res, err := q.client.BRPop(ctx, timeout, keys...).Result()
	if err == redis.Nil {
		return TaskMessage{}, false, nil
	}
	if err != nil {
		return TaskMessage{}, false, fmt.Errorf("failed to dequeue task: %w", err)
	}

	var msg TaskMessage
	if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
		return TaskMessage{}, false, fmt.Errorf("failed to unmarshal task message: %w", err)
	}
	return msg, true, nil
}

// IsWorkflowCancelled is the executor's fast-path check before starting a
// task.
func (q *RedisQueue) IsWorkflowCancelled(ctx context.Context, workflowID uuid.UUID) (bool, error) {
	cancelled, err := q.client.SIsMember(ctx, q.cancelledKey(), workflowID.String()).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check cancellation mark: %w", err)
	}
	return cancelled, nil
}

// PushResult reports an execution event back to the orchestrator.
func (q *RedisQueue) PushResult(ctx context.Context, result ResultMessage) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result message: %w", err)
	}
	if err := q.client.LPush(ctx, q.resultsKey(), data).Err(); err != nil {
		return fmt.Errorf("failed to push result for task %s: %w", result.TaskID, err)
	}
	return nil
}

// popResult pops the next executor result, blocking up to the timeout.
func (q *RedisQueue) popResult(ctx context.Context, timeout time.Duration) (ResultMessage, bool, error) {
	res, err := q.client.BRPop(ctx, timeout, q.resultsKey()).Result()
	if err == redis.Nil {
		return ResultMessage{}, false, nil
	}
	if err != nil {
		return ResultMessage{}, false, fmt.Errorf("failed to pop result: %w", err)
	}

	var msg ResultMessage
	if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
		return ResultMessage{}, false, fmt.Errorf("failed to unmarshal result message: %w", err)
	}
	return msg, true, nil
}

// ============================================================================
// Delayed Message Mover
// ============================================================================

// StartMover launches the background goroutine that promotes due delayed
// messages onto their priority lists.
func (q *RedisQueue) StartMover(ctx context.Context) {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		ticker := time.NewTicker(moverInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-q.stopCh:
				return
			case <-ticker.C:
				if err := q.MoveDueMessages(ctx); err != nil && ctx.Err() == nil {
					q.logger.Warn("failed to move delayed messages", zap.Error(err))
				}
			}
		}
	}()
}

// MoveDueMessages promotes every delayed message whose ready time has
// passed. The ZRem result guards against two instances promoting the same
// member: only the remover publishes.
func (q *RedisQueue) MoveDueMessages(ctx context.Context) error {
	now := float64(time.Now().UnixMilli())

	members, err := q.client.ZRangeByScore(ctx, q.delayedKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%f", now),
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to read delayed set: %w", err)
	}

	for _, member := range members {
		removed, err := q.client.ZRem(ctx, q.delayedKey(), member).Result()
		if err != nil {
			return fmt.Errorf("failed to remove delayed member: %w", err)
		}
		if removed == 0 {
			continue // another instance won the promotion
		}

		var envelope delayedEnvelope
		if err := json.Unmarshal([]byte(member), &envelope); err != nil {
			q.logger.Error("dropping malformed delayed message", zap.Error(err))
			continue
		}
		if err := q.Publish(ctx, envelope.Message, envelope.Priority); err != nil {
			return err
		}
	}
	return nil
}

// Shutdown stops the mover and any consumers started from this queue and
// waits for them to drain, up to the context deadline.
func (q *RedisQueue) Shutdown(ctx context.Context) error {
	q.stopOnce.Do(func() { close(q.stopCh) })

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("queue shutdown timed out: %w", ctx.Err())
	}
}
