package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/registry-harvester/internal/harvest"
)

func TestJobStoreLifecycle(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	job := harvest.Job{ID: "job-1", EntityName: "Acme", Status: harvest.JobStatusQueued}

	require.NoError(t, store.CreateJob(ctx, job))
	require.Error(t, store.CreateJob(ctx, job), "expected duplicate job error")

	require.NoError(t, store.UpdateJobStatus(ctx, job.ID, harvest.JobStatusRunning, harvest.JobOutcome{}))
	running, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, running.Started)
	require.Nil(t, running.Finished)

	require.NoError(t, store.UpdateJobStatus(ctx, job.ID, harvest.JobStatusSucceeded, harvest.JobOutcome{
		Documents: 3,
		Texts:     2,
	}))
	final, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, harvest.JobStatusSucceeded, final.Status)
	require.NotNil(t, final.Finished)
	require.Equal(t, 3, final.Documents)
	require.Equal(t, 2, final.Texts)

	_, err = store.GetJob(ctx, "missing")
	require.ErrorIs(t, err, harvest.ErrNotFound)
	require.Error(t, store.UpdateJobStatus(ctx, "missing", harvest.JobStatusFailed, harvest.JobOutcome{}))
}
