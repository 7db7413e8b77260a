package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kirillkom/paperless-ai-queue/internal/config"
	"github.com/kirillkom/paperless-ai-queue/internal/core/usecase"
	"github.com/kirillkom/paperless-ai-queue/internal/infrastructure/docstore/paperless"
	"github.com/kirillkom/paperless-ai-queue/internal/infrastructure/extractor"
	"github.com/kirillkom/paperless-ai-queue/internal/infrastructure/llm"
	"github.com/kirillkom/paperless-ai-queue/internal/infrastructure/pricing"
	"github.com/kirillkom/paperless-ai-queue/internal/infrastructure/queue/nats"
	"github.com/kirillkom/paperless-ai-queue/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/paperless-ai-queue/internal/infrastructure/resilience"
	"github.com/kirillkom/paperless-ai-queue/internal/infrastructure/scheduler"
	"github.com/kirillkom/paperless-ai-queue/internal/infrastructure/secrets"
	"github.com/kirillkom/paperless-ai-queue/internal/observability/logging"
	"github.com/kirillkom/paperless-ai-queue/internal/observability/metrics"
)

type App struct {
	Config config.Config
	Logger *slog.Logger

	Bus *nats.Bus

	QueueUC      *usecase.QueueUseCase
	AnalyzeUC    *usecase.AnalyzeDocumentUseCase
	ApplyUC      *usecase.ApplySuggestionUseCase
	AutomationUC *usecase.InstanceAutomationUseCase
	SearchUC     *usecase.EntitySearchUseCase
	ScanUC       *usecase.ScanUseCase
	Worker       *usecase.QueueWorker

	WorkerMetrics *metrics.WorkerMetrics

	instances *postgres.InstanceRepository
	closeFn   func()
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	box, err := secrets.NewBox(cfg.SecretKey)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init secret box: %w", err)
	}

	prices, err := pricing.Load(cfg.PricingFile)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("load pricing table: %w", err)
	}

	bus, err := nats.New(cfg.NATSURL, cfg.NATSWakeupSubject, cfg.NATSInstanceSubject, nats.Options{
		ResilienceExecutor: resilience.NewExecutorWithLogger(resilience.EventConfig(), logging.Component(logger, "nats")),
		Logger:             logging.Component(logger, "nats"),
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init event bus: %w", err)
	}

	docStoreExecutor := resilience.NewExecutorWithLogger(
		resilience.DocumentStoreConfig(cfg.DocStoreRPS, cfg.DocStoreBurst),
		logging.Component(logger, "docstore"),
	)
	llmExecutor := resilience.NewExecutorWithLogger(resilience.ModelConfig(), logging.Component(logger, "llm"))

	stores := paperless.NewFactory(box, docStoreExecutor, cfg.DocStoreTimeout)
	models := llm.NewFactory(cfg.LLMTimeout, llmExecutor)
	textExtractor := extractor.New()

	queueRepo := postgres.NewQueueRepository(db)
	instanceRepo := postgres.NewInstanceRepository(db)
	botRepo := postgres.NewBotRepository(db)
	documentRepo := postgres.NewDocumentRepository(db)
	auditRepo := postgres.NewAuditRepository(db)

	workerMetrics := metrics.NewWorkerMetrics("worker")
	observer := workerMetrics.Observer("worker")

	queueUC := usecase.NewQueueUseCase(queueRepo, instanceRepo, bus, logging.Component(logger, "queue"), cfg.QueueMaxAttempts)
	analyzeUC := usecase.NewAnalyzeDocumentUseCase(
		documentRepo,
		instanceRepo,
		botRepo,
		box,
		models,
		stores,
		auditRepo,
		auditRepo,
		prices,
		usecase.AnalysisLimits{
			MaxSteps:     cfg.AgentMaxSteps,
			ContentLimit: cfg.AgentContentLimit,
			MaxTokens:    int64(cfg.AgentMaxTokens),
		},
		logging.Component(logger, "analysis"),
	)
	applier := usecase.NewSuggestionApplier(documentRepo, logging.Component(logger, "applier"))
	applyUC := usecase.NewApplySuggestionUseCase(documentRepo, instanceRepo, auditRepo, stores, applier)
	searchUC := usecase.NewEntitySearchUseCase(instanceRepo, stores)
	scanUC := usecase.NewScanUseCase(
		instanceRepo,
		stores,
		queueRepo,
		queueUC,
		documentRepo,
		textExtractor,
		scheduler.CalculateNextScanTime,
		observer,
		cfg.ScanPageSize,
		logging.Component(logger, "scan"),
	)
	automationUC := usecase.NewInstanceAutomationUseCase(
		instanceRepo,
		scheduler.CalculateNextScanTime,
		nil,
		bus,
		logging.Component(logger, "automation"),
	)
	worker := usecase.NewQueueWorker(
		queueRepo,
		instanceRepo,
		stores,
		documentRepo,
		textExtractor,
		analyzeUC,
		applier,
		observer,
		usecase.WorkerOptions{
			Concurrency:    cfg.WorkerConcurrency,
			PollInterval:   cfg.WorkerPollInterval,
			RetryDelay:     cfg.WorkerRetryDelay,
			ProcessTimeout: cfg.WorkerProcessTimeout,
			StaleAfter:     cfg.WorkerStaleAfter,
			SweepInterval:  cfg.WorkerSweepInterval,
		},
		logging.Component(logger, "worker"),
	)

	return &App{
		Config: cfg,
		Logger: logger,
		Bus:    bus,

		QueueUC:      queueUC,
		AnalyzeUC:    analyzeUC,
		ApplyUC:      applyUC,
		AutomationUC: automationUC,
		SearchUC:     searchUC,
		ScanUC:       scanUC,
		Worker:       worker,

		WorkerMetrics: workerMetrics,

		instances: instanceRepo,
		closeFn: func() {
			bus.Close()
			_ = db.Close()
		},
	}, nil
}

// StartScheduler creates the per-instance scan registry, binds it to the
// automation use case and schedules every enabled instance. The caller
// stops the registry on shutdown.
func (a *App) StartScheduler(ctx context.Context) (*scheduler.Registry, error) {
	registry := scheduler.NewRegistry(ctx, a.ScanUC.ScheduledScan, logging.Component(a.Logger, "scheduler"))
	a.AutomationUC = usecase.NewInstanceAutomationUseCase(
		a.instances,
		scheduler.CalculateNextScanTime,
		registry,
		nil,
		logging.Component(a.Logger, "automation"),
	)
	scheduled, err := a.AutomationUC.SyncAll(ctx)
	if err != nil {
		registry.Stop()
		return nil, fmt.Errorf("schedule instances: %w", err)
	}
	a.Logger.Info("scheduler_started", "instances", scheduled)
	return registry, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
