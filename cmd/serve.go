package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/registry-harvester/internal/api"
	"github.com/JakeFAU/registry-harvester/internal/dispatcher"
	"github.com/JakeFAU/registry-harvester/internal/id/uuid"
	"github.com/JakeFAU/registry-harvester/internal/logging"
	queueMemory "github.com/JakeFAU/registry-harvester/internal/queue/memory"
	memoryStorage "github.com/JakeFAU/registry-harvester/internal/storage/memory"
	"github.com/JakeFAU/registry-harvester/internal/worker"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serves the harvest API and runs queued harvests",
		Long: `Starts the HTTP API and a worker pool. Harvests submitted through
POST /v1/harvests are queued in memory and run by the workers.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := resolveServices(cmd.Context())
			if err != nil {
				return err
			}
			return runServer(cmd.Context(), svc)
		},
	}
}

func runServer(ctx context.Context, svc *Services) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	cfg := svc.Config
	logger := svc.Logger
	jobStore := memoryStorage.NewJobStore()
	queue := queueMemory.NewQueue(cfg.Queue.Depth)

	workerCfg := worker.Config{
		MaxAttempts: cfg.Queue.MaxAttempts,
		JobTimeout:  cfg.JobTimeout(),
	}
	var workers []*worker.Worker
	for i := 0; i < cfg.Queue.Workers; i++ {
		workers = append(workers, worker.New(
			queue,
			jobStore,
			svc.Harvester,
			workerCfg,
			logger.With(zap.Int("index", i)),
		))
	}
	dispatch := dispatcher.New(queue, workers)

	apiServer := api.NewServer(jobStore, dispatch, svc.Harvester, uuid.New(), svc.Clock, cfg, logger)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	dispatched := make(chan struct{})
	go func() {
		defer close(dispatched)
		logging.Component(logger, "dispatcher").Info("dispatcher started", zap.Int("workers", len(workers)))
		dispatch.Run(ctx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err, ok := <-serveErr:
		if ok {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	queue.Close()
	stop()
	<-dispatched
	logger.Info("shutdown complete")
	return runErr
}
