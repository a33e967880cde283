package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ragbridge/pipeline/internal/config"
	"github.com/ragbridge/pipeline/internal/core/mapping"
	"github.com/ragbridge/pipeline/internal/core/ports"
	"github.com/ragbridge/pipeline/internal/core/usecase"
	"github.com/ragbridge/pipeline/internal/infrastructure/modelgateway"
	"github.com/ragbridge/pipeline/internal/infrastructure/queue/nats"
	"github.com/ragbridge/pipeline/internal/infrastructure/repository/postgres"
	"github.com/ragbridge/pipeline/internal/infrastructure/resilience"
)

type App struct {
	Config config.Config
	Logger *slog.Logger

	Bus  *nats.Bus
	Repo ports.DocumentRepository

	IngestUC    ports.DocumentIngestor
	PipelineUC  *usecase.PipelineUseCase
	ExecutorUC  ports.StageWorker
	ReprocessUC *usecase.ReprocessUseCase
	VRuleAdmin  ports.ValidationRuleAdmin
	MRuleAdmin  ports.MappingRuleAdmin

	closeFn func()
}

// New wires the application graph. metrics carries the binary's domain
// collectors into the use cases; nil disables recording.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger, metrics ports.PipelineMetrics) (*App, error) {
	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	repo := postgres.NewDocumentRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	vRuleRepo := postgres.NewValidationRuleRepository(db)
	mRuleRepo := postgres.NewMappingRuleRepository(db)
	queueRepo := postgres.NewQueueRepository(db)
	leaseRepo := postgres.NewLeaseRepository(db)

	executor := resilience.NewExecutor(resilience.DefaultConfig())

	bus, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSTaskSubject, nats.Options{
		ResilienceExecutor: executor,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init stage task bus: %w", err)
	}

	gateway := modelgateway.New(
		cfg.ModelGatewayURL,
		modelgateway.WithTimeout(time.Duration(cfg.ModelGatewayTimeout)*time.Second),
		modelgateway.WithResilienceExecutor(executor),
	)

	var matcher mapping.ModelMatcher
	if cfg.ModelMatchEnabled {
		matcher = gateway
	}
	mapper := mapping.NewEngine(matcher)

	retryPolicy, err := config.LoadRetryPolicy(cfg.RetryPolicyPath)
	if err != nil {
		bus.Close()
		_ = db.Close()
		return nil, fmt.Errorf("load retry policy: %w", err)
	}

	leaseTTL := time.Duration(cfg.LeaseTTLSeconds) * time.Second

	reprocessUC := usecase.NewReprocessUseCase(
		queueRepo, repo, leaseRepo, bus, bus, retryPolicy, metrics, leaseTTL, logger,
	)
	pipelineUC := usecase.NewPipelineUseCase(repo, leaseRepo, bus, bus, reprocessUC, metrics, leaseTTL, logger)
	ingestUC := usecase.NewIngestDocumentUseCase(repo, leaseRepo, bus, leaseTTL)
	executorUC := usecase.NewStageExecutorUseCase(
		repo, vRuleRepo, mRuleRepo, gateway, mapper,
		pipelineUC, pipelineUC, bus, metrics, cfg.FieldParallelism, logger,
	)

	return &App{
		Config: cfg,
		Logger: logger,

		Bus:  bus,
		Repo: repo,

		IngestUC:    ingestUC,
		PipelineUC:  pipelineUC,
		ExecutorUC:  executorUC,
		ReprocessUC: reprocessUC,
		VRuleAdmin:  usecase.NewValidationRuleAdminUseCase(vRuleRepo),
		MRuleAdmin:  usecase.NewMappingRuleAdminUseCase(mRuleRepo, mapper),

		closeFn: func() {
			bus.Close()
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
