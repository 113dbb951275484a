package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/pkg/apperrors"
	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/pkg/models"
	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/pkg/queue"
)

// fakeStore backs both repositories with in-memory maps. Workflow and task
// state share the same *Task pointers, mirroring the aggregate the real
// store rehydrates.
type fakeStore struct {
	mu        sync.Mutex
	workflows map[uuid.UUID]*models.Workflow
	tasks     map[uuid.UUID]*models.Task
	depths    map[uuid.UUID]int
	purged    int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		workflows: map[uuid.UUID]*models.Workflow{},
		tasks:     map[uuid.UUID]*models.Task{},
		depths:    map[uuid.UUID]int{},
	}
}

// add registers a workflow and its tasks without going through Save.
func (s *fakeStore) add(wf *models.Workflow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflows[wf.ID] = wf
	for _, t := range wf.Tasks() {
		s.tasks[t.ID] = t
	}
}

// ----- WorkflowRepository -----

func (s *fakeStore) Save(ctx context.Context, wf *models.Workflow) error {
	s.add(wf)
	return nil
}

func (s *fakeStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.workflows[id]
	if !ok {
		return nil, fmt.Errorf("%w: workflow %s", apperrors.ErrNotFound, id)
	}
	return wf, nil
}

func (s *fakeStore) GetAll(ctx context.Context, limit, offset int) ([]*models.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Workflow
	for _, wf := range s.workflows {
		out = append(out, wf)
	}
	return out, nil
}

func (s *fakeStore) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.workflows, id)
	return nil
}

func (s *fakeStore) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.workflows[id]
	return ok, nil
}

func (s *fakeStore) GetActive(ctx context.Context) ([]*models.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Workflow
	for _, wf := range s.workflows {
		if wf.Status.IsActive() {
			out = append(out, wf)
		}
	}
	return out, nil
}

func (s *fakeStore) GetByParent(ctx context.Context, parentID uuid.UUID) ([]*models.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Workflow
	for _, wf := range s.workflows {
		if wf.ParentWorkflowID != nil && *wf.ParentWorkflowID == parentID {
			out = append(out, wf)
		}
	}
	return out, nil
}

func (s *fakeStore) Depth(ctx context.Context, id uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workflows[id]; !ok {
		return 0, fmt.Errorf("%w: workflow %s", apperrors.ErrNotFound, id)
	}
	if d, ok := s.depths[id]; ok {
		return d, nil
	}
	return 1, nil
}

func (s *fakeStore) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for id, wf := range s.workflows {
		if wf.Status.IsTerminal() && wf.CreatedAt.Before(cutoff) {
			delete(s.workflows, id)
			deleted++
		}
	}
	s.purged += deleted
	return deleted, nil
}

// ----- TaskRepository (methods not shared with WorkflowRepository) -----

// taskStore adapts fakeStore to the task repository interface; Save and
// GetByID collide with the workflow methods, so tasks get their own view.
type taskStore struct{ *fakeStore }

func (s taskStore) Save(ctx context.Context, task *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = task
	return nil
}

func (s taskStore) SaveMany(ctx context.Context, tasks []*models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tasks {
		s.tasks[t.ID] = t
	}
	return nil
}

func (s taskStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: task %s", apperrors.ErrNotFound, id)
	}
	return t, nil
}

func (s taskStore) GetMany(ctx context.Context, ids []uuid.UUID) ([]*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Task
	for _, id := range ids {
		if t, ok := s.tasks[id]; ok {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s taskStore) GetByWorkflow(ctx context.Context, workflowID uuid.UUID) ([]*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Task
	for _, t := range s.tasks {
		if t.WorkflowID == workflowID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s taskStore) GetByStatus(ctx context.Context, status models.TaskStatus, limit int) ([]*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Task
	for _, t := range s.tasks {
		if t.Status == status && len(out) < limit {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s taskStore) GetReadyTasks(ctx context.Context, workflowID uuid.UUID) ([]*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	satisfied := map[uuid.UUID]struct{}{}
	for _, t := range s.tasks {
		if t.WorkflowID == workflowID &&
			(t.Status == models.TaskStatusSucceeded || t.Status == models.TaskStatusSkipped) {
			satisfied[t.ID] = struct{}{}
		}
	}
	var out []*models.Task
	for _, t := range s.tasks {
		if t.WorkflowID == workflowID && t.Status.IsWaiting() && t.IsReadyToExecute(satisfied) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s taskStore) GetOverdue(ctx context.Context, now time.Time, limit int) ([]*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Task
	for _, t := range s.tasks {
		// A retrying task waiting out its backoff carries a next-attempt
		// marker; its started_at belongs to the previous attempt.
		if !t.Status.IsActive() || t.NextAttemptAt != nil || len(out) >= limit {
			continue
		}
		if deadline, ok := t.Deadline(); ok && deadline.Before(now) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s taskStore) GetRetryDue(ctx context.Context, olderThan time.Time, limit int) ([]*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Task
	for _, t := range s.tasks {
		if t.Status != models.TaskStatusRetrying && t.Status != models.TaskStatusTimeout {
			continue
		}
		if t.NextAttemptAt != nil && t.NextAttemptAt.Before(olderThan) && len(out) < limit {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s taskStore) GetStuckQueued(ctx context.Context, olderThan time.Time, limit int) ([]*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Task
	for _, t := range s.tasks {
		if t.Status == models.TaskStatusQueued && t.UpdatedAt.Before(olderThan) && len(out) < limit {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s taskStore) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, id)
	return nil
}

func (s taskStore) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[id]
	return ok, nil
}

// ----- Publisher -----

type publishedMessage struct {
	msg      queue.TaskMessage
	priority int
	delay    time.Duration
}

type fakePublisher struct {
	mu        sync.Mutex
	published []publishedMessage
	cancelled []uuid.UUID
}

func (p *fakePublisher) Publish(ctx context.Context, msg queue.TaskMessage, priority int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, publishedMessage{msg: msg, priority: priority})
	return nil
}

func (p *fakePublisher) PublishDelayed(ctx context.Context, msg queue.TaskMessage, priority int, delay time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, publishedMessage{msg: msg, priority: priority, delay: delay})
	return nil
}

func (p *fakePublisher) MarkWorkflowCancelled(ctx context.Context, workflowID uuid.UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelled = append(p.cancelled, workflowID)
	return nil
}

func (p *fakePublisher) publishedIDs() []uuid.UUID {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]uuid.UUID, 0, len(p.published))
	for _, m := range p.published {
		out = append(out, m.msg.TaskID)
	}
	return out
}

func (p *fakePublisher) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = nil
	p.cancelled = nil
}

// ----- Locker / Transactor -----

// passthroughLocker runs the function inline; tests are single-threaded per
// workflow.
type passthroughLocker struct {
	store *fakeStore
}

func (l *passthroughLocker) WithWorkflowLock(ctx context.Context, workflowID uuid.UUID, fn func(ctx context.Context) error) error {
	if l.store != nil {
		if _, err := l.store.GetByID(ctx, workflowID); err != nil {
			return err
		}
	}
	return fn(ctx)
}

type passthroughTx struct{}

func (passthroughTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
