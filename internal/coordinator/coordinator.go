// Package coordinator sequences the download and OCR phases of a harvest and
// owns their checkpoints.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/registry-harvester/internal/crawl"
	"github.com/JakeFAU/registry-harvester/internal/harvest"
	"github.com/JakeFAU/registry-harvester/internal/metrics"
)

const textContentType = "text/plain; charset=utf-8"

// Crawler walks the registry for one entity, appending stored documents to cp.
type Crawler interface {
	Crawl(ctx context.Context, entityName string, cp *harvest.Checkpoint) (crawl.Result, error)
}

// Config controls Coordinator behavior.
type Config struct {
	// OCRConcurrency bounds parallel conversions; values below 1 mean 1.
	OCRConcurrency int
	// Topic receives completion events when a publisher is configured.
	Topic string
}

// Result is the outcome of a full harvest.
type Result struct {
	EntityKey  string   `json:"entity_key"`
	EntityName string   `json:"entity_name"`
	Documents  []string `json:"documents"`
	Texts      []string `json:"texts"`
}

// phaseRunner fills an unfinished checkpoint. Returning nil lets the
// coordinator mark the phase finished.
type phaseRunner struct {
	durable bool
	run     func(ctx context.Context, entityName string, cp *harvest.Checkpoint) error
}

// Coordinator runs harvest phases against a state store.
type Coordinator struct {
	state     harvest.StateStore
	blobs     harvest.BlobStore
	crawler   Crawler
	converter harvest.Converter
	publisher harvest.Publisher
	clock     harvest.Clock
	cfg       Config
	logger    *zap.Logger
	phases    map[harvest.Phase]phaseRunner

	locksMu sync.Mutex
	locks   map[string]*entityLock
}

// entityLock is dropped from the map once no run holds or waits on it.
type entityLock struct {
	mu   sync.Mutex
	refs int
}

// New constructs a Coordinator. converter and publisher may be nil; OCR is then
// unavailable and no completion events are sent.
func New(
	state harvest.StateStore,
	blobs harvest.BlobStore,
	crawler Crawler,
	converter harvest.Converter,
	publisher harvest.Publisher,
	clock harvest.Clock,
	cfg Config,
	logger *zap.Logger,
) (*Coordinator, error) {
	if state == nil || blobs == nil || crawler == nil || clock == nil {
		return nil, fmt.Errorf("state store, blob store, crawler and clock are required")
	}
	if cfg.OCRConcurrency < 1 {
		cfg.OCRConcurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Coordinator{
		state:     state,
		blobs:     blobs,
		crawler:   crawler,
		converter: converter,
		publisher: publisher,
		clock:     clock,
		cfg:       cfg,
		logger:    logger.Named("coordinator"),
		locks:     make(map[string]*entityLock),
	}
	c.phases = map[harvest.Phase]phaseRunner{
		harvest.PhaseDownload: {durable: true, run: c.runDownload},
		// OCR texts are persisted together with finished=true.
		harvest.PhaseOCR: {durable: false, run: c.runOCR},
	}
	return c, nil
}

// Download runs the download phase and returns the stored document filenames.
func (c *Coordinator) Download(ctx context.Context, entityName string) ([]string, error) {
	return c.RunPhase(ctx, harvest.PhaseDownload, entityName)
}

// OCR runs the OCR phase, downloading first if needed, and returns the texts.
func (c *Coordinator) OCR(ctx context.Context, entityName string) ([]string, error) {
	return c.RunPhase(ctx, harvest.PhaseOCR, entityName)
}

// RunPhase runs a single phase for entityName.
func (c *Coordinator) RunPhase(ctx context.Context, phase harvest.Phase, entityName string) ([]string, error) {
	if !phase.Valid() {
		return nil, fmt.Errorf("unknown phase %q", phase)
	}
	entityKey, err := entityKeyFor(entityName)
	if err != nil {
		return nil, err
	}
	unlock := c.lock(entityKey)
	defer unlock()
	return c.runPhase(ctx, phase, entityName)
}

// Harvest runs every phase and publishes a completion event.
func (c *Coordinator) Harvest(ctx context.Context, entityName string) (Result, error) {
	entityKey, err := entityKeyFor(entityName)
	if err != nil {
		return Result{}, err
	}
	unlock := c.lock(entityKey)
	defer unlock()

	documents, err := c.runPhase(ctx, harvest.PhaseDownload, entityName)
	if err != nil {
		return Result{}, err
	}
	texts, err := c.runPhase(ctx, harvest.PhaseOCR, entityName)
	if err != nil {
		return Result{}, err
	}
	result := Result{
		EntityKey:  entityKey,
		EntityName: entityName,
		Documents:  documents,
		Texts:      texts,
	}
	if err := c.publishCompletion(ctx, result); err != nil {
		return result, err
	}
	return result, nil
}

// State returns the stored state of every phase without modifying it.
func (c *Coordinator) State(ctx context.Context, entityName string) (map[harvest.Phase]harvest.CrawlState, error) {
	entityKey, err := entityKeyFor(entityName)
	if err != nil {
		return nil, err
	}
	out := make(map[harvest.Phase]harvest.CrawlState, len(c.phases))
	for _, phase := range harvest.Phases() {
		state, err := harvest.LoadState(ctx, c.state, harvest.StateKey(phase, entityKey))
		if err != nil {
			return nil, err
		}
		out[phase] = state
	}
	return out, nil
}

func (c *Coordinator) runPhase(ctx context.Context, phase harvest.Phase, entityName string) ([]string, error) {
	runner, ok := c.phases[phase]
	if !ok {
		return nil, fmt.Errorf("no runner for phase %q", phase)
	}
	entityKey := harvest.NormalizeEntityName(entityName)
	logger := c.logger.With(zap.String("phase", string(phase)), zap.String("entity_key", entityKey))

	cp, err := harvest.OpenCheckpoint(ctx, c.state, phase, entityKey, runner.durable)
	if err != nil {
		return nil, err
	}
	if cp.Finished() {
		metrics.ObservePhaseRun(string(phase), "cached")
		logger.Info("phase already finished", zap.Int("entries", len(cp.Files())))
		return cp.Files(), nil
	}

	logger.Info("phase started", zap.Int("entries", len(cp.Files())))
	if err := runner.run(ctx, entityName, cp); err != nil {
		metrics.ObservePhaseRun(string(phase), "failed")
		logger.Error("phase failed", zap.Error(err))
		return nil, fmt.Errorf("%s phase: %w", phase, err)
	}
	if err := cp.Finish(ctx); err != nil {
		metrics.ObservePhaseRun(string(phase), "failed")
		return nil, fmt.Errorf("%s phase: %w", phase, err)
	}
	metrics.ObservePhaseRun(string(phase), "completed")
	files := cp.Files()
	logger.Info("phase finished", zap.Int("entries", len(files)))
	return files, nil
}

func (c *Coordinator) runDownload(ctx context.Context, entityName string, cp *harvest.Checkpoint) error {
	if _, err := c.crawler.Crawl(ctx, entityName, cp); err != nil {
		return err
	}
	return nil
}

func (c *Coordinator) runOCR(ctx context.Context, entityName string, cp *harvest.Checkpoint) error {
	if c.converter == nil {
		return fmt.Errorf("no ocr converter configured")
	}
	files, err := c.runPhase(ctx, harvest.PhaseDownload, entityName)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.OCRConcurrency)
	for _, filename := range files {
		if !harvest.IsPDF(filename) {
			continue
		}
		g.Go(func() error {
			return c.convertDocument(gctx, filename, cp)
		})
	}
	return g.Wait()
}

func (c *Coordinator) convertDocument(ctx context.Context, filename string, cp *harvest.Checkpoint) error {
	record, err := c.blobs.GetObject(ctx, filename)
	if err != nil {
		if errors.Is(err, harvest.ErrNotFound) {
			c.logger.Warn("document missing from store, skipping", zap.String("filename", filename))
			return nil
		}
		return fmt.Errorf("load document %s: %w", filename, err)
	}
	text, err := c.converter.Convert(ctx, record.Data)
	if err != nil {
		return fmt.Errorf("convert %s: %w", filename, err)
	}
	if _, err := c.blobs.PutObject(ctx, harvest.TextObjectName(filename), textContentType, strings.NewReader(text)); err != nil {
		return fmt.Errorf("store text for %s: %w", filename, err)
	}
	if err := cp.Append(ctx, text); err != nil {
		return fmt.Errorf("record text for %s: %w", filename, err)
	}
	metrics.ObserveDocument(string(harvest.PhaseOCR))
	return nil
}

func (c *Coordinator) publishCompletion(ctx context.Context, result Result) error {
	if c.publisher == nil || c.cfg.Topic == "" {
		return nil
	}
	event := harvest.CompletionEvent{
		EntityKey:  result.EntityKey,
		EntityName: result.EntityName,
		Documents:  len(result.Documents),
		Texts:      len(result.Texts),
		FinishedAt: c.clock.Now(),
	}
	id, err := c.publisher.Publish(ctx, c.cfg.Topic, event)
	if err != nil {
		return fmt.Errorf("publish completion: %w", err)
	}
	c.logger.Info("completion published", zap.String("entity_key", result.EntityKey), zap.String("message_id", id))
	return nil
}

// lock serializes phase runs per entity so each CrawlState has one writer.
func (c *Coordinator) lock(entityKey string) func() {
	c.locksMu.Lock()
	l, ok := c.locks[entityKey]
	if !ok {
		l = &entityLock{}
		c.locks[entityKey] = l
	}
	l.refs++
	c.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		c.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(c.locks, entityKey)
		}
		c.locksMu.Unlock()
	}
}

func entityKeyFor(entityName string) (string, error) {
	if strings.TrimSpace(entityName) == "" {
		return "", fmt.Errorf("entity name is required")
	}
	return harvest.NormalizeEntityName(entityName), nil
}
