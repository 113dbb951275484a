package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/pkg/apperrors"
	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/pkg/models"
)

func TestGetWorkflowSnapshot(t *testing.T) {
	store := newFakeStore()
	reader := NewWorkflowReader(store, zap.NewNop())
	ctx := context.Background()

	wf := models.NewWorkflow("snap", "demo", models.ExecutionModeDAG, nil, map[string]any{"team": "data"})
	a := addTask(t, wf, "a", models.NoRetryPolicy())
	b := addTask(t, wf, "b", models.NoRetryPolicy(), a.ID)
	store.add(wf)
	require.NoError(t, wf.Start())
	require.NoError(t, a.Start())
	require.NoError(t, a.Complete(map[string]any{"rows": 10}))

	snap, err := reader.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)

	assert.Equal(t, "snap", snap.Name)
	assert.Equal(t, models.WorkflowStatusRunning, snap.Status)
	assert.Equal(t, models.ExecutionModeDAG, snap.ExecutionMode)
	assert.Equal(t, 50.0, snap.Progress)
	assert.Equal(t, 2, snap.TaskCount)
	require.Len(t, snap.Tasks, 2)
	assert.Equal(t, "a", snap.Tasks[0].Name)
	assert.Equal(t, models.TaskStatusSucceeded, snap.Tasks[0].Status)
	assert.Equal(t, map[string]any{"rows": 10}, snap.Tasks[0].Result)
	assert.Equal(t, b.ID, snap.Tasks[1].ID)
}

func TestGetWorkflowNotFound(t *testing.T) {
	store := newFakeStore()
	reader := NewWorkflowReader(store, zap.NewNop())

	_, err := reader.GetWorkflow(context.Background(), models.NewWorkflow("x", "", models.ExecutionModeSequential, nil, nil).ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestListWorkflowsBounds(t *testing.T) {
	store := newFakeStore()
	reader := NewWorkflowReader(store, zap.NewNop())
	ctx := context.Background()

	_, err := reader.ListWorkflows(ctx, 5000, 0)
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = reader.ListWorkflows(ctx, 10, -1)
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	wf := models.NewWorkflow("listed", "", models.ExecutionModeSequential, nil, nil)
	addTask(t, wf, "a", models.NoRetryPolicy())
	store.add(wf)

	out, err := reader.ListWorkflows(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, out, 1)
	// List views omit per-task detail.
	assert.Nil(t, out[0].Tasks)
	assert.Equal(t, 1, out[0].TaskCount)
}
