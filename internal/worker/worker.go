// Package worker implements the harvest job execution loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/registry-harvester/internal/coordinator"
	"github.com/JakeFAU/registry-harvester/internal/harvest"
	"github.com/JakeFAU/registry-harvester/internal/metrics"
)

// Harvester runs a full harvest for one entity.
type Harvester interface {
	Harvest(ctx context.Context, entityName string) (coordinator.Result, error)
}

// Config controls Worker behavior.
type Config struct {
	// MaxAttempts is the number of times a failed job is run; values below 1 mean 1.
	MaxAttempts int
	// JobTimeout bounds a single attempt; 0 means no limit.
	JobTimeout time.Duration
}

// Worker consumes queue items and runs them through the Harvester.
type Worker struct {
	queue     harvest.Queue
	jobStore  harvest.JobStore
	harvester Harvester
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker.
func New(
	queue harvest.Queue,
	jobStore harvest.JobStore,
	harvester Harvester,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:     queue,
		jobStore:  jobStore,
		harvester: harvester,
		cfg:       cfg,
		logger:    logger.Named("worker"),
	}
}

// Run blocks, consuming queue items until the context finishes or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, harvest.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID), zap.Int("attempt", item.Attempt))
		w.processJob(ctx, item)
	}
}

func (w *Worker) processJob(ctx context.Context, item harvest.QueueItem) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	logger := w.logger.With(zap.String("job_id", item.JobID), zap.String("entity_name", item.EntityName))
	if w.harvester == nil {
		logger.Error("no harvester configured")
		w.updateStatus(ctx, logger, item.JobID, harvest.JobStatusFailed, harvest.JobOutcome{ErrorText: "no harvester configured"})
		return
	}
	if !w.updateStatus(ctx, logger, item.JobID, harvest.JobStatusRunning, harvest.JobOutcome{}) {
		return
	}

	result, err := w.runAttempt(ctx, item.EntityName)
	outcome := harvest.JobOutcome{Documents: len(result.Documents), Texts: len(result.Texts)}
	if err != nil {
		outcome.ErrorText = err.Error()
	}

	if err != nil && w.shouldRequeue(ctx, item, err) {
		next := item
		next.Attempt++
		if w.updateStatus(ctx, logger, item.JobID, harvest.JobStatusQueued, outcome) {
			qErr := w.queue.Enqueue(ctx, next)
			if qErr == nil {
				logger.Warn("harvest attempt failed, requeued", zap.Int("attempt", item.Attempt), zap.Error(err))
				return
			}
			logger.Error("requeue failed", zap.Error(qErr))
		}
	}

	status := w.deriveFinalStatus(ctx, err)
	if err != nil {
		logger.Error("harvest failed", zap.String("status", string(status)), zap.Error(err))
	} else {
		logger.Info("harvest succeeded", zap.Int("documents", outcome.Documents), zap.Int("texts", outcome.Texts))
	}
	metrics.ObserveJob(string(status))
	w.updateStatus(ctx, logger, item.JobID, status, outcome)
}

func (w *Worker) runAttempt(ctx context.Context, entityName string) (coordinator.Result, error) {
	attemptCtx := ctx
	if w.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, w.cfg.JobTimeout)
		defer cancel()
	}
	result, err := w.harvester.Harvest(attemptCtx, entityName)
	if err != nil {
		return result, fmt.Errorf("harvest %s: %w", entityName, err)
	}
	return result, nil
}

// shouldRequeue reports whether a failed attempt gets another run. Missing
// entities and shutdowns are final.
func (w *Worker) shouldRequeue(ctx context.Context, item harvest.QueueItem, err error) bool {
	if ctx.Err() != nil || errors.Is(err, harvest.ErrEntityNotFound) {
		return false
	}
	return item.Attempt+1 < w.cfg.MaxAttempts
}

func (w *Worker) deriveFinalStatus(ctx context.Context, err error) harvest.JobStatus {
	switch {
	case err == nil:
		return harvest.JobStatusSucceeded
	case ctx.Err() != nil:
		return harvest.JobStatusCanceled
	default:
		return harvest.JobStatusFailed
	}
}

func (w *Worker) updateStatus(
	ctx context.Context,
	logger *zap.Logger,
	jobID string,
	status harvest.JobStatus,
	outcome harvest.JobOutcome,
) bool {
	if w.jobStore == nil {
		return true
	}
	// Status updates outlive cancellation of the run.
	updateCtx := context.WithoutCancel(ctx)
	if err := w.jobStore.UpdateJobStatus(updateCtx, jobID, status, outcome); err != nil {
		logger.Error("job status update failed", zap.String("status", string(status)), zap.Error(err))
		return false
	}
	return true
}
