package crawl

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/registry-harvester/internal/harvest"
	"github.com/JakeFAU/registry-harvester/internal/metrics"
)

// Result summarizes one crawl.
type Result struct {
	Requests   int  `json:"requests"`
	Documents  int  `json:"documents"`
	Failures   int  `json:"failures"`
	CapReached bool `json:"cap_reached"`
}

// Orchestrator drives the stage table for one entity at a time.
type Orchestrator struct {
	cfg      Config
	fetcher  harvest.Fetcher
	blobs    harvest.BlobStore
	retry    harvest.RetryPolicy
	clock    harvest.Clock
	logger   *zap.Logger
	handlers map[harvest.Stage]stageHandler
	seq      atomic.Uint64
}

// New wires an orchestrator. retry may be nil to disable retries.
func New(
	cfg Config,
	fetcher harvest.Fetcher,
	blobs harvest.BlobStore,
	retry harvest.RetryPolicy,
	clock harvest.Clock,
	logger *zap.Logger,
) (*Orchestrator, error) {
	if fetcher == nil || blobs == nil || clock == nil {
		return nil, fmt.Errorf("fetcher, blob store and clock are required")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		cfg:     cfg,
		fetcher: fetcher,
		blobs:   blobs,
		retry:   retry,
		clock:   clock,
		logger:  logger.Named("crawl"),
	}
	o.handlers = map[harvest.Stage]stageHandler{
		harvest.StageStart:   o.handleStart,
		harvest.StageListing: o.handleListing,
		harvest.StageDetail:  o.handleDetail,
	}
	return o, nil
}

// StartURL returns the search URL crawled for entityName.
func (o *Orchestrator) StartURL(entityName string) string {
	return o.cfg.StartURL(entityName)
}

// Crawl walks the registry for entityName and appends every stored document
// to cp. It returns harvest.ErrEntityNotFound when the search page has no
// collection links, and the first store error if one occurred.
func (o *Orchestrator) Crawl(ctx context.Context, entityName string, cp *harvest.Checkpoint) (Result, error) {
	if cp == nil {
		return Result{}, fmt.Errorf("checkpoint is required")
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	entityKey := harvest.NormalizeEntityName(entityName)
	r := &run{
		o:         o,
		ctx:       runCtx,
		cancel:    cancel,
		cp:        cp,
		entityKey: entityKey,
		sem:       semaphore.NewWeighted(int64(o.cfg.Concurrency)),
		seen:      make(map[string]struct{}),
		logger:    o.logger.With(zap.String("entity_key", entityKey)),
	}

	start := harvest.CrawlRequest{URL: o.StartURL(entityName), Stage: harvest.StageStart}
	r.admit(start)
	if err := r.process(start); err != nil {
		r.wg.Wait()
		if fatal := r.fatalErr(); fatal != nil {
			return r.snapshot(), fatal
		}
		return r.snapshot(), err
	}
	r.wg.Wait()

	result := r.snapshot()
	if result.CapReached {
		metrics.ObserveCapReached()
	}
	if fatal := r.fatalErr(); fatal != nil {
		return result, fatal
	}
	if err := ctx.Err(); err != nil {
		return result, fmt.Errorf("crawl interrupted: %w", err)
	}
	r.logger.Info("crawl finished",
		zap.Int("requests", result.Requests),
		zap.Int("documents", result.Documents),
		zap.Int("failures", result.Failures),
		zap.Bool("cap_reached", result.CapReached),
	)
	return result, nil
}

// run holds the mutable state of a single crawl.
type run struct {
	o         *Orchestrator
	ctx       context.Context
	cancel    context.CancelFunc
	cp        *harvest.Checkpoint
	entityKey string
	sem       *semaphore.Weighted
	wg        sync.WaitGroup
	logger    *zap.Logger

	mu        sync.Mutex
	seen      map[string]struct{}
	result    Result
	capLogged bool
	fatal     error
}

// admit applies de-duplication and the request cap. It reports whether the
// request should be processed.
func (r *run) admit(req harvest.CrawlRequest) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.seen[req.URL]; dup {
		return false
	}
	if limit := r.o.cfg.MaxRequests; limit > 0 && r.result.Requests >= limit {
		r.result.CapReached = true
		if !r.capLogged {
			r.capLogged = true
			r.logger.Warn("request cap reached, dropping further requests", zap.Int("max_requests", limit))
		}
		return false
	}
	r.seen[req.URL] = struct{}{}
	r.result.Requests++
	return true
}

// markSeen records a document URL and reports whether it was new.
func (r *run) markSeen(url string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.seen[url]; dup {
		return false
	}
	r.seen[url] = struct{}{}
	return true
}

// enqueue schedules req on its own goroutine once a concurrency slot is free.
func (r *run) enqueue(req harvest.CrawlRequest) {
	if r.ctx.Err() != nil || !r.admit(req) {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.sem.Acquire(r.ctx, 1); err != nil {
			return
		}
		defer r.sem.Release(1)
		if err := r.process(req); err != nil {
			r.itemFailed(req.URL, req.Stage, err)
		}
	}()
}

func (r *run) process(req harvest.CrawlRequest) error {
	handler, ok := r.o.handlers[req.Stage]
	if !ok {
		return fmt.Errorf("no handler for stage %q", req.Stage)
	}
	resp, err := r.fetch(req.URL, req.Stage)
	if err != nil {
		return err
	}
	return handler(r, req, resp)
}

func (r *run) fetch(url string, stage harvest.Stage) (harvest.FetchResponse, error) {
	resp, err := harvest.Retry(r.ctx, r.o.retry, func(ctx context.Context, attempt int) (harvest.FetchResponse, error) {
		resp, err := r.o.fetcher.Fetch(ctx, harvest.FetchRequest{URL: url, Stage: stage})
		if err != nil && attempt > 1 {
			r.logger.Debug("fetch retry failed", zap.String("url", url), zap.Int("attempt", attempt), zap.Error(err))
		}
		return resp, err
	})
	if err != nil {
		return harvest.FetchResponse{}, fmt.Errorf("fetch %s: %w", url, err)
	}
	return resp, nil
}

// itemFailed absorbs a per-item failure. Failures caused by an aborted crawl
// are not counted.
func (r *run) itemFailed(url string, stage harvest.Stage, err error) {
	if r.fatalErr() != nil || errors.Is(err, context.Canceled) {
		return
	}
	r.mu.Lock()
	r.result.Failures++
	r.mu.Unlock()
	r.logger.Warn("crawl item failed",
		zap.String("url", url),
		zap.String("stage", string(stage)),
		zap.Error(err),
	)
}

// abort records the first store failure and cancels the crawl.
func (r *run) abort(err error) error {
	r.mu.Lock()
	if r.fatal == nil {
		r.fatal = err
		r.logger.Error("crawl aborted", zap.Error(err))
	}
	r.mu.Unlock()
	r.cancel()
	return err
}

func (r *run) fatalErr() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fatal
}

func (r *run) snapshot() Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result
}

func (r *run) documentStored() {
	r.mu.Lock()
	r.result.Documents++
	r.mu.Unlock()
	metrics.ObserveDocument(string(harvest.PhaseDownload))
}
