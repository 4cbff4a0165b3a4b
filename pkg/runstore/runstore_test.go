package runstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/droverhq/drover/pkg/types"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestPutGetRun(t *testing.T) {
	store := tempStore(t)

	rec := &types.RunRecord{
		ID:         "run-1",
		WorkflowID: "xiaohongshu_search_collect",
		ProfileID:  "p1",
		StartedAt:  time.Now().Add(-time.Minute),
		FinishedAt: time.Now(),
		Success:    true,
		FailedAt:   -1,
		Checkpoint: types.CheckpointSearchReady,
	}
	require.NoError(t, store.PutRun(rec))

	got, err := store.GetRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, rec.WorkflowID, got.WorkflowID)
	assert.Equal(t, rec.Checkpoint, got.Checkpoint)
	assert.True(t, got.Success)

	_, err = store.GetRun("missing")
	assert.Error(t, err)
}

func TestListRunsRecentFirst(t *testing.T) {
	store := tempStore(t)

	base := time.Now()
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.PutRun(&types.RunRecord{
			ID:        id,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	runs, err := store.ListRuns()
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "c", runs[0].ID)
	assert.Equal(t, "a", runs[2].ID)
}

func TestPutGetTask(t *testing.T) {
	store := tempStore(t)

	task := &types.OperationTask{
		ID:          "task-1",
		ContainerID: "xiaohongshu_home.feed",
		OperationID: "extract",
		Status:      types.TaskStatusCompleted,
		EnqueuedAt:  time.Now(),
	}
	require.NoError(t, store.PutTask(task))

	got, err := store.GetTask("task-1")
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusCompleted, got.Status)

	byContainer, err := store.ListTasksByContainer("xiaohongshu_home.feed")
	require.NoError(t, err)
	assert.Len(t, byContainer, 1)

	byContainer, err = store.ListTasksByContainer("elsewhere")
	require.NoError(t, err)
	assert.Empty(t, byContainer)
}

func TestJournalInterfacesSwallowNothingOnHappyPath(t *testing.T) {
	store := tempStore(t)

	store.RecordRun(&types.RunRecord{ID: "r1", StartedAt: time.Now()})
	store.RecordTask(&types.OperationTask{ID: "t1", ContainerID: "c", Status: types.TaskStatusFailed})

	_, err := store.GetRun("r1")
	assert.NoError(t, err)
	_, err = store.GetTask("t1")
	assert.NoError(t, err)
}
