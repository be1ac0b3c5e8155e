// Package app initializes and holds long-lived harvester services, acting as a
// dependency injection container for the CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	gcsstorage "cloud.google.com/go/storage"
	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/JakeFAU/registry-harvester/internal/clock/system"
	"github.com/JakeFAU/registry-harvester/internal/config"
	"github.com/JakeFAU/registry-harvester/internal/coordinator"
	"github.com/JakeFAU/registry-harvester/internal/crawl"
	collyfetcher "github.com/JakeFAU/registry-harvester/internal/fetcher/colly"
	"github.com/JakeFAU/registry-harvester/internal/harvest"
	"github.com/JakeFAU/registry-harvester/internal/metrics"
	"github.com/JakeFAU/registry-harvester/internal/ocr"
	"github.com/JakeFAU/registry-harvester/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/registry-harvester/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/registry-harvester/internal/publisher/pubsub"
	"github.com/JakeFAU/registry-harvester/internal/storage"
	"github.com/JakeFAU/registry-harvester/internal/storage/gcs"
	"github.com/JakeFAU/registry-harvester/internal/storage/local"
	"github.com/JakeFAU/registry-harvester/internal/storage/memory"
	"github.com/JakeFAU/registry-harvester/internal/storage/postgres"
)

// App holds the shared, long-lived services for one process.
type App struct {
	Config      config.Config
	Logger      *zap.Logger
	Backend     *storage.Backend
	Publisher   harvest.Publisher
	Coordinator *coordinator.Coordinator
	Clock       harvest.Clock
}

// New builds every service named by cfg. It fails fast when a backend cannot
// be opened; OCR stays disabled when no API key is configured.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	clock := system.New()

	reg, err := NewRegistry(cfg)
	if err != nil {
		return nil, err
	}
	backend, err := reg.Open(ctx, cfg.Storage.StateBackend, cfg.Storage.BlobBackend)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	logger.Info("storage ready",
		zap.String("state_backend", cfg.Storage.StateBackend),
		zap.String("blob_backend", cfg.Storage.BlobBackend),
	)

	publisher, err := newPublisher(ctx, cfg)
	if err != nil {
		closeBackend(backend, logger)
		return nil, err
	}

	orchestrator, err := crawl.New(
		cfg.CrawlConfig(),
		newFetcher(cfg),
		backend.Blobs,
		harvest.NewExponentialRetryPolicy(
			cfg.Crawler.MaxRetries+1,
			time.Duration(cfg.Crawler.BackoffInitialMs)*time.Millisecond,
			time.Duration(cfg.Crawler.BackoffMaxMs)*time.Millisecond,
		),
		clock,
		logger,
	)
	if err != nil {
		closeBackend(backend, logger)
		return nil, fmt.Errorf("init crawl: %w", err)
	}

	converter, err := newConverter(cfg, logger)
	if err != nil {
		closeBackend(backend, logger)
		return nil, err
	}

	coord, err := coordinator.New(
		backend.State,
		backend.Blobs,
		orchestrator,
		converter,
		publisher,
		clock,
		coordinator.Config{OCRConcurrency: cfg.OCR.Concurrency, Topic: cfg.PubSub.TopicName},
		logger,
	)
	if err != nil {
		closeBackend(backend, logger)
		return nil, fmt.Errorf("init coordinator: %w", err)
	}

	return &App{
		Config:      cfg,
		Logger:      logger,
		Backend:     backend,
		Publisher:   publisher,
		Coordinator: coord,
		Clock:       clock,
	}, nil
}

// Close releases storage and messaging clients.
func (a *App) Close() error {
	var errs []error
	if err := a.Backend.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close storage: %w", err))
	}
	if p, ok := a.Publisher.(*pubsubpublisher.Publisher); ok {
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close publisher: %w", err))
		}
	}
	return errors.Join(errs...)
}

// NewRegistry registers the memory, local, gcs and postgres backends. Backends
// selected for both state and blobs share one instance.
func NewRegistry(cfg config.Config) (*storage.Registry, error) {
	reg := storage.NewRegistry()

	memoryStore := once(func(context.Context) (*memory.Store, error) {
		return memory.NewStore(), nil
	})
	localStore := once(func(context.Context) (*local.Store, error) {
		return local.New(local.Config{BaseDir: cfg.Storage.BaseDir})
	})
	gcsStore := once(func(ctx context.Context) (*gcs.Store, error) {
		client, err := gcsstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		return gcs.New(client, gcs.Config{Bucket: cfg.Storage.GCSBucket, Prefix: cfg.Storage.Prefix})
	})

	var errs []error
	errs = append(errs, reg.RegisterState("memory", stateFrom(memoryStore)))
	errs = append(errs, reg.RegisterBlob("memory", blobsFrom(memoryStore)))
	errs = append(errs, reg.RegisterState("local", stateFrom(localStore)))
	errs = append(errs, reg.RegisterBlob("local", blobsFrom(localStore)))
	errs = append(errs, reg.RegisterState("gcs", stateFrom(gcsStore)))
	errs = append(errs, reg.RegisterBlob("gcs", blobsFrom(gcsStore)))
	errs = append(errs, reg.RegisterState("postgres", stateFrom(func(ctx context.Context) (*postgres.StateStore, error) {
		return postgres.NewStateStore(ctx, postgres.StateStoreConfig{
			DSN:      cfg.DB.DSN,
			Table:    cfg.DB.Table,
			MaxConns: int32(cfg.DB.MaxConns), //nolint:gosec // pool sizes are small
		})
	})))
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("register backends: %w", err)
	}
	return reg, nil
}

func newFetcher(cfg config.Config) *collyfetcher.Fetcher {
	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.Crawler.RateLimitRPS,
		DefaultBurst: cfg.Crawler.RateLimitBurst,
	})
	return collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.Crawler.UserAgent,
		RespectRobots: cfg.Crawler.RespectRobots,
		Timeout:       cfg.FetchTimeout(),
		MaxBodyBytes:  cfg.Crawler.MaxBodyBytes,
	}, limiter)
}

func newConverter(cfg config.Config, logger *zap.Logger) (harvest.Converter, error) {
	if err := cfg.RequireOCR(); err != nil {
		logger.Info("ocr disabled", zap.Error(err))
		return nil, nil
	}
	client, err := ocr.New(ocr.Config{
		Endpoint:    cfg.OCR.Endpoint,
		APIKey:      cfg.OCR.APIKey,
		Language:    cfg.OCR.Language,
		Timeout:     cfg.OCRTimeout(),
		MaxAttempts: cfg.OCR.MaxAttempts,
	}, metrics.NewChargeMeter(), &http.Client{Timeout: cfg.OCRTimeout()}, logger)
	if err != nil {
		return nil, fmt.Errorf("init ocr: %w", err)
	}
	return client, nil
}

func newPublisher(ctx context.Context, cfg config.Config) (harvest.Publisher, error) {
	if cfg.PubSub.ProjectID == "" {
		return memorypublisher.New(), nil
	}
	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client: %w", err)
	}
	return pubsubpublisher.New(client, map[string]string{"source": "registry-harvester"}), nil
}

func once[T any](open func(context.Context) (T, error)) func(context.Context) (T, error) {
	var (
		mu      sync.Mutex
		done    bool
		value   T
		openErr error
	)
	return func(ctx context.Context) (T, error) {
		mu.Lock()
		defer mu.Unlock()
		if !done {
			value, openErr = open(ctx)
			done = true
		}
		return value, openErr
	}
}

func stateFrom[T harvest.StateStore](open func(context.Context) (T, error)) storage.StateFactory {
	return func(ctx context.Context) (harvest.StateStore, error) {
		s, err := open(ctx)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

func blobsFrom[T harvest.BlobStore](open func(context.Context) (T, error)) storage.BlobFactory {
	return func(ctx context.Context) (harvest.BlobStore, error) {
		s, err := open(ctx)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

func closeBackend(backend *storage.Backend, logger *zap.Logger) {
	if err := backend.Close(); err != nil {
		logger.Warn("close storage failed", zap.Error(err))
	}
}
