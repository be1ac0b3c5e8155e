// Package cmd defines and implements the CLI commands for the harvester executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/registry-harvester/internal/app"
	"github.com/JakeFAU/registry-harvester/internal/config"
	"github.com/JakeFAU/registry-harvester/internal/coordinator"
	"github.com/JakeFAU/registry-harvester/internal/harvest"
	"github.com/JakeFAU/registry-harvester/internal/logging"
)

// Harvester is the pipeline surface the commands drive.
type Harvester interface {
	Harvest(ctx context.Context, entityName string) (coordinator.Result, error)
	RunPhase(ctx context.Context, phase harvest.Phase, entityName string) ([]string, error)
	State(ctx context.Context, entityName string) (map[harvest.Phase]harvest.CrawlState, error)
}

// Services holds what a command needs once configuration is loaded.
type Services struct {
	Config    config.Config
	Logger    *zap.Logger
	Harvester Harvester
	Clock     harvest.Clock
	Close     func() error
}

type servicesKey struct{}

// newServices is the service factory. It's a variable so tests can inject fakes.
var newServices = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Services, error) {
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return &Services{
		Config:    cfg,
		Logger:    logger,
		Harvester: a.Coordinator,
		Clock:     a.Clock,
		Close:     a.Close,
	}, nil
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "harvester",
		Short: "Resumable document harvester for the public business registry.",
		Long: `harvester searches the registry for an entity, downloads the documents
filed in its collection and converts PDFs to text through a remote OCR service.
Progress is checkpointed per phase so interrupted harvests resume.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			svc, err := newServices(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), servicesKey{}, svc))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			svc, ok := cmd.Context().Value(servicesKey{}).(*Services)
			if !ok || svc == nil {
				return
			}
			if svc.Close != nil {
				if err := svc.Close(); err != nil {
					svc.Logger.Warn("close services failed", zap.Error(err))
				}
			}
			_ = svc.Logger.Sync()
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); HARVESTER_* env vars override it")

	cmd.AddCommand(newHarvestCmd())
	cmd.AddCommand(newStateCmd())
	cmd.AddCommand(newServeCmd())
	return cmd
}

// Execute runs the CLI until completion or SIGINT/SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		if errors.Is(err, context.Canceled) {
			os.Exit(130)
		}
		zap.L().Fatal("command execution failed", zap.Error(err))
	}
}

func resolveServices(ctx context.Context) (*Services, error) {
	svc, ok := ctx.Value(servicesKey{}).(*Services)
	if !ok || svc == nil {
		return nil, errors.New("services not initialized")
	}
	return svc, nil
}
