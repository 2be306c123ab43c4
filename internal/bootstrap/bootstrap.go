package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mlejeune/papierflow/internal/config"
	"github.com/mlejeune/papierflow/internal/core/domain"
	"github.com/mlejeune/papierflow/internal/core/ports"
	"github.com/mlejeune/papierflow/internal/core/usecase"
	"github.com/mlejeune/papierflow/internal/infrastructure/cache"
	"github.com/mlejeune/papierflow/internal/infrastructure/extractor"
	"github.com/mlejeune/papierflow/internal/infrastructure/extractor/pdftext"
	"github.com/mlejeune/papierflow/internal/infrastructure/extractor/plaintext"
	"github.com/mlejeune/papierflow/internal/infrastructure/llm/ollama"
	"github.com/mlejeune/papierflow/internal/infrastructure/normalize"
	"github.com/mlejeune/papierflow/internal/infrastructure/queue/nats"
	"github.com/mlejeune/papierflow/internal/infrastructure/repository/memory"
	"github.com/mlejeune/papierflow/internal/infrastructure/repository/postgres"
	"github.com/mlejeune/papierflow/internal/infrastructure/resilience"
	"github.com/mlejeune/papierflow/internal/infrastructure/rules"
	"github.com/mlejeune/papierflow/internal/infrastructure/storage/localfs"
	"github.com/mlejeune/papierflow/internal/observability/logging"
	"github.com/mlejeune/papierflow/internal/observability/metrics"
)

// App wires the full pipeline once and hands the api and worker binaries
// their respective entry points.
type App struct {
	Config config.Config
	Logger *slog.Logger

	Queue    ports.MessageQueue
	Taxonomy ports.TaxonomyStore

	Intake       *usecase.IntakeUseCase
	Orchestrator *usecase.Orchestrator

	WorkerMetrics *metrics.WorkerMetrics

	closeFn func()
}

func New(ctx context.Context, cfg config.Config, service string) (*App, error) {
	logger := logging.NewJSONLogger(service, cfg.LogLevel)
	slog.SetDefault(logger)

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	batches := postgres.NewBatchRepository(db)
	documents := postgres.NewDocumentRepository(db)

	// The taxonomy store is swappable: postgres for multi-process
	// deployments, memory for single-process trials. Batch and document
	// state always lives in postgres.
	var taxonomy ports.TaxonomyStore
	switch cfg.StoreBackend {
	case "memory":
		taxonomy = memory.NewTaxonomyStore()
	default:
		taxonomy = postgres.NewTaxonomyRepository(db)
	}

	tree, err := localfs.New(cfg.StoragePath)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init folder tree: %w", err)
	}

	executor := resilience.NewExecutor(resilience.DefaultConfig())
	workerMetrics := metrics.NewWorkerMetrics(service)

	queue, err := nats.NewWithOptions(
		cfg.NATSURL,
		cfg.NATSSubmitSubject,
		cfg.NATSControlSubject,
		cfg.NATSEventsSubject,
		nats.Options{
			ResilienceExecutor: executor,
			LagObserver:        workerMetrics.ObserveQueueLag,
		},
	)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init message queue: %w", err)
	}

	matcher, err := loadRuleMatcher(cfg.RuleTablePath)
	if err != nil {
		queue.Close()
		_ = db.Close()
		return nil, err
	}
	normalizer, err := loadNormalizer(cfg.AliasTablePath)
	if err != nil {
		queue.Close()
		_ = db.Close()
		return nil, err
	}

	if err := seedBaseCategories(ctx, taxonomy, matcher); err != nil {
		queue.Close()
		_ = db.Close()
		return nil, fmt.Errorf("seed base categories: %w", err)
	}

	analyzer := ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, executor)
	analysisCache := cache.New(time.Duration(cfg.AnalysisCacheTTLMinutes) * time.Minute)

	textExtractor := extractor.NewDispatcher(plaintext.NewExtractor(tree))
	textExtractor.Register("application/pdf", pdftext.NewExtractor(tree))

	intake := usecase.NewIntakeUseCase(batches, documents, tree, queue, int64(cfg.MaxFileSizeMB)<<20)
	classifier := usecase.NewClassifierUseCase(analyzer, analysisCache, matcher, normalizer, taxonomy, usecase.ClassifierConfig{
		RuleTrustedConfidence: cfg.RuleTrustedConfidence,
		ConfidenceFloor:       cfg.ConfidenceFloor,
		DegradedConfidenceCap: cfg.DegradedConfidenceCap,
		AnalysisTimeout:       time.Duration(cfg.AnalysisTimeoutSeconds) * time.Second,
	}, logger)
	organizer := usecase.NewOrganizerUseCase(taxonomy, tree, documents, cfg.OrganizeThreshold, workerMetrics, logger)
	orchestrator := usecase.NewOrchestrator(batches, documents, textExtractor, classifier, organizer, queue, usecase.OrchestratorConfig{
		PoolSize:          cfg.WorkerPoolSize,
		MaxRetriesPerFile: cfg.MaxRetriesPerFile,
		RetryBackoff:      time.Duration(cfg.RetryBackoffMillis) * time.Millisecond,
		RollbackGrace:     time.Duration(cfg.RollbackGraceMinutes) * time.Minute,
	}, workerMetrics, logger)

	return &App{
		Config: cfg,
		Logger: logger,

		Queue:    queue,
		Taxonomy: taxonomy,

		Intake:       intake,
		Orchestrator: orchestrator,

		WorkerMetrics: workerMetrics,

		closeFn: func() {
			queue.Close()
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

func loadRuleMatcher(path string) (*rules.Matcher, error) {
	if path == "" {
		return rules.NewMatcher(rules.DefaultRules())
	}
	matcher, err := rules.NewMatcherFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("load rule table: %w", err)
	}
	return matcher, nil
}

func loadNormalizer(path string) (*normalize.Normalizer, error) {
	if path == "" {
		return normalize.New(), nil
	}
	normalizer, err := normalize.NewFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("load alias table: %w", err)
	}
	return normalizer, nil
}

// seedBaseCategories makes the rule table's categories and the fallback
// bucket exist before the first document arrives, so flat placement never
// races category creation.
func seedBaseCategories(ctx context.Context, taxonomy ports.TaxonomyStore, matcher *rules.Matcher) error {
	names := append(matcher.BaseCategories(), domain.CategoryUncategorized)
	for _, name := range names {
		if _, err := taxonomy.EnsureCategory(ctx, name, true); err != nil {
			return fmt.Errorf("ensure category %q: %w", name, err)
		}
	}
	return nil
}
