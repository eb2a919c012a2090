package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/actuary-jobs-crawler/internal/jobs"
)

func TestRunStoreLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewRunStore()
	started := time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)

	require.NoError(t, store.StartRun(ctx, "run-1", started))
	require.NoError(t, store.StartRun(ctx, "run-1", started.Add(time.Hour)))
	run, ok := store.Run("run-1")
	require.True(t, ok)
	assert.Equal(t, "running", run.State)
	assert.Equal(t, started, run.StartedAt)

	require.NoError(t, store.FinishRun(ctx, jobs.RunSummary{RunID: "run-1", State: "done", Inserted: 3}))
	run, _ = store.Run("run-1")
	assert.Equal(t, "done", run.State)
	assert.Equal(t, 3, run.Inserted)
	assert.Equal(t, started, run.StartedAt)

	assert.Error(t, store.FinishRun(ctx, jobs.RunSummary{RunID: "nope"}))
}

func TestRunStoreReader(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewRunStore()
	base := time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)
	for i, id := range []string{"run-a", "run-b", "run-c"} {
		require.NoError(t, store.StartRun(ctx, id, base.Add(time.Duration(i)*time.Hour)))
	}

	got, err := store.GetRun(ctx, "run-b")
	require.NoError(t, err)
	assert.Equal(t, "run-b", got.RunID)

	_, err = store.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, jobs.ErrRunNotFound)

	runs, err := store.ListRuns(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-c", runs[0].RunID)
	assert.Equal(t, "run-b", runs[1].RunID)

	runs, err = store.ListRuns(ctx, 10, 2)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-a", runs[0].RunID)

	runs, err = store.ListRuns(ctx, 10, 5)
	require.NoError(t, err)
	assert.Empty(t, runs)
}
