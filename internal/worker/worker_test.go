package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/registry-harvester/internal/coordinator"
	"github.com/JakeFAU/registry-harvester/internal/harvest"
	"github.com/JakeFAU/registry-harvester/internal/storage/memory"
)

type fakeQueue struct {
	mu       sync.Mutex
	items    []harvest.QueueItem
	requeued []harvest.QueueItem
}

func (q *fakeQueue) Enqueue(_ context.Context, item harvest.QueueItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.requeued = append(q.requeued, item)
	q.items = append(q.items, item)
	return nil
}

func (q *fakeQueue) Dequeue(ctx context.Context) (harvest.QueueItem, error) {
	q.mu.Lock()
	if len(q.items) > 0 {
		item := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()
		return item, nil
	}
	q.mu.Unlock()
	<-ctx.Done()
	return harvest.QueueItem{}, ctx.Err()
}

type fakeHarvester struct {
	mu      sync.Mutex
	results []error
	calls   int
}

func (h *fakeHarvester) Harvest(_ context.Context, entityName string) (coordinator.Result, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	if len(h.results) > 0 {
		err := h.results[0]
		h.results = h.results[1:]
		if err != nil {
			return coordinator.Result{}, err
		}
	}
	return coordinator.Result{
		EntityKey:  harvest.NormalizeEntityName(entityName),
		EntityName: entityName,
		Documents:  []string{"a.pdf", "b.pdf"},
		Texts:      []string{"a", "b"},
	}, nil
}

func (h *fakeHarvester) callCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

func newJob(t *testing.T, store *memory.JobStore, id string) harvest.QueueItem {
	t.Helper()
	require.NoError(t, store.CreateJob(context.Background(), harvest.Job{
		ID:         id,
		EntityName: "Acme",
		EntityKey:  "acme",
		Status:     harvest.JobStatusQueued,
		Submitted:  time.Now().UTC(),
	}))
	return harvest.QueueItem{JobID: id, EntityName: "Acme"}
}

func TestWorker_ProcessJob_Success(t *testing.T) {
	t.Parallel()

	jobs := memory.NewJobStore()
	item := newJob(t, jobs, "job-1")
	harvester := &fakeHarvester{}
	w := New(&fakeQueue{}, jobs, harvester, Config{}, zap.NewNop())

	w.processJob(context.Background(), item)

	job, err := jobs.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, harvest.JobStatusSucceeded, job.Status)
	assert.Equal(t, 2, job.Documents)
	assert.Equal(t, 2, job.Texts)
	assert.NotNil(t, job.Started)
	assert.NotNil(t, job.Finished)
	assert.Empty(t, job.ErrorText)
}

func TestWorker_ProcessJob_FailureRecorded(t *testing.T) {
	t.Parallel()

	jobs := memory.NewJobStore()
	item := newJob(t, jobs, "job-2")
	harvester := &fakeHarvester{results: []error{fmt.Errorf("search: %w", harvest.ErrEntityNotFound)}}
	queue := &fakeQueue{}
	w := New(queue, jobs, harvester, Config{MaxAttempts: 3}, zap.NewNop())

	w.processJob(context.Background(), item)

	job, err := jobs.GetJob(context.Background(), "job-2")
	require.NoError(t, err)
	assert.Equal(t, harvest.JobStatusFailed, job.Status)
	assert.Contains(t, job.ErrorText, "entity not found")
	assert.Empty(t, queue.requeued, "missing entities are not retried")
}

func TestWorker_RetryLogic(t *testing.T) {
	t.Parallel()

	jobs := memory.NewJobStore()
	item := newJob(t, jobs, "job-retry")
	queue := &fakeQueue{items: []harvest.QueueItem{item}}
	harvester := &fakeHarvester{results: []error{errors.New("ocr unavailable"), errors.New("ocr unavailable")}}
	w := New(queue, jobs, harvester, Config{MaxAttempts: 3}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		job, err := jobs.GetJob(context.Background(), "job-retry")
		return err == nil && job.Status == harvest.JobStatusSucceeded
	}, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, 3, harvester.callCount())
	queue.mu.Lock()
	defer queue.mu.Unlock()
	require.Len(t, queue.requeued, 2)
	assert.Equal(t, 1, queue.requeued[0].Attempt)
	assert.Equal(t, 2, queue.requeued[1].Attempt)
}

func TestWorker_RetriesExhausted(t *testing.T) {
	t.Parallel()

	jobs := memory.NewJobStore()
	item := newJob(t, jobs, "job-3")
	item.Attempt = 1
	harvester := &fakeHarvester{results: []error{errors.New("still broken")}}
	queue := &fakeQueue{}
	w := New(queue, jobs, harvester, Config{MaxAttempts: 2}, zap.NewNop())

	w.processJob(context.Background(), item)

	job, err := jobs.GetJob(context.Background(), "job-3")
	require.NoError(t, err)
	assert.Equal(t, harvest.JobStatusFailed, job.Status)
	assert.Empty(t, queue.requeued)
}

func TestWorker_NoHarvester(t *testing.T) {
	t.Parallel()

	jobs := memory.NewJobStore()
	item := newJob(t, jobs, "job-4")
	w := New(&fakeQueue{}, jobs, nil, Config{}, nil)

	w.processJob(context.Background(), item)

	job, err := jobs.GetJob(context.Background(), "job-4")
	require.NoError(t, err)
	assert.Equal(t, harvest.JobStatusFailed, job.Status)
}

func TestWorkerDeriveFinalStatus(t *testing.T) {
	t.Parallel()

	w := New(&fakeQueue{}, nil, &fakeHarvester{}, Config{}, nil)
	assert.Equal(t, harvest.JobStatusSucceeded, w.deriveFinalStatus(context.Background(), nil))
	assert.Equal(t, harvest.JobStatusFailed, w.deriveFinalStatus(context.Background(), errors.New("x")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, harvest.JobStatusCanceled, w.deriveFinalStatus(ctx, errors.New("x")))
}
