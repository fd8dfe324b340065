package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sashabaranov/go-openai"

	"github.com/procdoc/procdoc-go/config"
	"github.com/procdoc/procdoc-go/internal/adapters/docgen"
	"github.com/procdoc/procdoc-go/internal/adapters/redisqueue"
	"github.com/procdoc/procdoc-go/internal/adapters/sweeper"
	"github.com/procdoc/procdoc-go/internal/data"
	"github.com/procdoc/procdoc-go/internal/domain/model"
	"github.com/procdoc/procdoc-go/internal/service"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Queue    *service.JobQueue
	Jobs     *data.JobRepo
	Evidence *data.EvidenceRepo
	Broker   *redisqueue.Queue
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// NewServices wires repositories, the broker, the dispatcher, and the
// document-generation handler.
func NewServices(deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil {
		return ServiceContainer{}, errors.New("service deps are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	appCfg := deps.Config
	if appCfg == nil {
		appCfg = &config.AppConfig{}
		appCfg.Sanitize()
	}

	jobRepo := data.NewJobRepo(deps.DB, data.RepoConfig{Logger: logger})
	evidenceRepo := data.NewEvidenceRepo(deps.DB, data.RepoConfig{Logger: logger})

	broker, err := redisqueue.New(redisqueue.Options{
		Client:       deps.RedisClient,
		Logger:       logger,
		KeyPrefix:    appCfg.Queue.KeyPrefix,
		HistoryLimit: appCfg.Queue.HistoryLimit,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build broker: %w", err)
	}

	queue, err := service.NewJobQueue(service.JobQueueOptions{
		Jobs:            jobRepo,
		Broker:          broker,
		Evidence:        evidenceRepo,
		Logger:          logger,
		Workers:         appCfg.Worker.Concurrency,
		StuckPendingAge: appCfg.Sweeper.PendingMaxAge,
		SweepBatch:      appCfg.Sweeper.BatchSize,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build job queue: %w", err)
	}

	if appCfg.IsWorkerEnabled() {
		generator, genErr := buildGenerator(appCfg, evidenceRepo, logger)
		if genErr != nil {
			return ServiceContainer{}, genErr
		}
		if regErr := queue.RegisterWorker(model.JobTypeProcessEvidence, generator.Handle); regErr != nil {
			return ServiceContainer{}, fmt.Errorf("register worker: %w", regErr)
		}
	}

	return ServiceContainer{
		Queue:    queue,
		Jobs:     jobRepo,
		Evidence: evidenceRepo,
		Broker:   broker,
	}, nil
}

func buildGenerator(cfg *config.AppConfig, evidence *data.EvidenceRepo, logger *slog.Logger) (*docgen.Generator, error) {
	if cfg.Docgen.APIKey == "" {
		return nil, errors.New("OPENAI_API_KEY is required to run the worker service")
	}

	var client *openai.Client
	if cfg.Docgen.BaseURL != "" {
		clientCfg := openai.DefaultConfig(cfg.Docgen.APIKey)
		clientCfg.BaseURL = cfg.Docgen.BaseURL
		client = openai.NewClientWithConfig(clientCfg)
	} else {
		client = openai.NewClient(cfg.Docgen.APIKey)
	}

	return docgen.NewGenerator(docgen.Options{
		Client:   client,
		Model:    cfg.Docgen.Model,
		Evidence: evidence,
		Logger:   logger,
	})
}

// ServiceOrchestrationConfig contains configuration for service orchestration.
type ServiceOrchestrationConfig struct {
	Config   *config.AppConfig
	Services ServiceContainer
	Logger   *slog.Logger
}

const (
	// shutdownWaitTimeout is the maximum time to wait for services to stop gracefully.
	shutdownWaitTimeout = 15 * time.Second
)

// backgroundService describes a startable background component.
type backgroundService struct {
	mode  config.ServiceMode
	name  string
	start func(context.Context) error
}

// backgroundServiceHandle tracks a running background service.
type backgroundServiceHandle struct {
	name string
	done <-chan struct{}
}

func buildBackgroundServices(cfg *ServiceOrchestrationConfig, logger *slog.Logger) ([]backgroundService, error) {
	services := []backgroundService{
		{
			mode:  config.ServiceModeWorker,
			name:  "worker",
			start: cfg.Services.Queue.Run,
		},
	}

	sweeperRunner, err := sweeper.NewRunner(sweeper.RunnerOptions{
		Queue:    cfg.Services.Queue,
		Logger:   logger,
		Interval: cfg.Config.Sweeper.Interval,
	})
	if err != nil {
		return nil, fmt.Errorf("build sweeper: %w", err)
	}
	services = append(services, backgroundService{
		mode:  config.ServiceModeSweeper,
		name:  "sweeper",
		start: sweeperRunner.Run,
	})

	return services, nil
}

func launchBackground(
	ctx context.Context,
	logger *slog.Logger,
	errCh chan<- error,
	descriptor backgroundService,
) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := descriptor.start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errMsg := fmt.Errorf("%s failed: %w", descriptor.name, err)
			select {
			case errCh <- errMsg:
			case <-ctx.Done():
			}
		}
	}()

	logger.InfoContext(ctx, "background service started", "service", descriptor.name)
	return done
}

// RunServicesWithShutdown starts all enabled services and manages their lifecycle.
// This function blocks until a shutdown signal is received or a service fails.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	if cfg == nil {
		return errors.New("service orchestration config is required")
	}
	if cfg.Config == nil {
		return errors.New("service orchestration config missing AppConfig")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	enabledServices, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}

	serviceCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	candidates, err := buildBackgroundServices(cfg, logger)
	if err != nil {
		return err
	}

	errCh := make(chan error, len(candidates))
	handles := make([]backgroundServiceHandle, 0, len(candidates))
	for _, svc := range candidates {
		if !enabledServices[svc.mode] {
			continue
		}
		handles = append(handles, backgroundServiceHandle{
			name: svc.name,
			done: launchBackground(serviceCtx, logger, errCh, svc),
		})
	}
	if len(handles) == 0 {
		return errors.New("no services enabled")
	}

	return waitForShutdown(shutdownConfig{
		cancel:      cancel,
		errCh:       errCh,
		logger:      logger,
		backgrounds: handles,
	})
}

// shutdownConfig contains dependencies for graceful shutdown.
type shutdownConfig struct {
	cancel      context.CancelFunc
	errCh       <-chan error
	logger      *slog.Logger
	backgrounds []backgroundServiceHandle
}

// waitForShutdown waits for shutdown signal or service error.
func waitForShutdown(cfg shutdownConfig) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
		cfg.logger.Info("shutting down services...")
		cfg.cancel()
		gracefulStop(cfg)
		return nil
	case err := <-cfg.errCh:
		cfg.logger.Error("service error", "error", err)
		cfg.cancel()
		gracefulStop(cfg)
		return err
	}
}

// gracefulStop waits for background services to finish.
func gracefulStop(cfg shutdownConfig) {
	for _, svc := range cfg.backgrounds {
		waitForService(svc.done, svc.name, cfg.logger)
	}
}

// waitForService waits for a service to finish with timeout.
func waitForService(done <-chan struct{}, name string, logger *slog.Logger) {
	if done == nil {
		return
	}
	select {
	case <-done:
		logger.Info(name + " stopped")
	case <-time.After(shutdownWaitTimeout):
		logger.Warn("timeout waiting for " + name + " to stop")
	}
}
