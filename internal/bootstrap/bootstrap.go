package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/josephwmusso/IntraNest/internal/config"
	"github.com/josephwmusso/IntraNest/internal/core/domain"
	"github.com/josephwmusso/IntraNest/internal/core/ports"
	"github.com/josephwmusso/IntraNest/internal/core/usecase"
	"github.com/josephwmusso/IntraNest/internal/infrastructure/cache/redisstore"
	"github.com/josephwmusso/IntraNest/internal/infrastructure/chunking"
	"github.com/josephwmusso/IntraNest/internal/infrastructure/extractor"
	"github.com/josephwmusso/IntraNest/internal/infrastructure/llm/ollama"
	"github.com/josephwmusso/IntraNest/internal/infrastructure/queue/memory"
	"github.com/josephwmusso/IntraNest/internal/infrastructure/queue/nats"
	"github.com/josephwmusso/IntraNest/internal/infrastructure/repository/postgres"
	"github.com/josephwmusso/IntraNest/internal/infrastructure/resilience"
	"github.com/josephwmusso/IntraNest/internal/infrastructure/storage/s3store"
	"github.com/josephwmusso/IntraNest/internal/infrastructure/vector/qdrant"
	"github.com/josephwmusso/IntraNest/internal/observability/metrics"
)

// Role selects which side of the pipeline a process runs.
type Role string

const (
	RoleAPI    Role = "api"
	RoleWorker Role = "worker"
)

type App struct {
	Config config.Config
	Role   Role

	IngestUC  ports.DocumentIngestor
	ProcessUC ports.DocumentProcessor
	QueryUC   *usecase.QueryUseCase

	HTTPMetrics   *metrics.HTTPServerMetrics
	WorkerMetrics *metrics.WorkerMetrics
	Health        map[string]func(context.Context) error

	// Consumer is nil when this process does not run workers.
	Consumer ports.JobConsumer
	Recovery *usecase.StalledJobRecovery

	closeFns []func()
}

func New(ctx context.Context, cfg config.Config, role Role, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if role == RoleWorker && cfg.QueueBackend == config.QueueBackendMemory {
		return nil, errors.New("queue backend memory runs workers inside the api process; use QUEUE_BACKEND=nats for a dedicated worker")
	}

	app := &App{Config: cfg, Role: role, Health: map[string]func(context.Context) error{}}
	ok := false
	defer func() {
		if !ok {
			app.Close()
		}
	}()

	executor := resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    cfg.RetryMaxAttempts,
		RetryInitialBackoff: cfg.RetryInitialBackoff,
		RetryMaxBackoff:     cfg.RetryMaxBackoff,
		RetryMultiplier:     2,
		RetryJitterPercent:  cfg.RetryJitterPercent,
		BreakerEnabled:      cfg.BreakerEnabled,
		BreakerOpenTimeout:  cfg.BreakerOpenTimeout,
	})

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	app.closeFns = append(app.closeFns, func() { _ = redisClient.Close() })
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	cache := redisstore.NewStatusCache(redisClient, redisstore.StatusCacheOptions{Retention: cfg.StatusRetentionTTL})
	app.Health["redis"] = cache.Ping

	storage, err := s3store.New(ctx, s3store.Config{
		Endpoint:       cfg.S3Endpoint,
		Region:         cfg.S3Region,
		Bucket:         cfg.S3Bucket,
		AccessKey:      cfg.S3AccessKey,
		SecretKey:      cfg.S3SecretKey,
		Prefix:         cfg.S3Prefix,
		UsePathStyle:   cfg.S3UsePathStyle,
		MaxObjectBytes: cfg.MaxUploadBytes,
	}, s3store.Options{ResilienceExecutor: executor})
	if err != nil {
		return nil, fmt.Errorf("init object storage: %w", err)
	}
	app.Health["s3"] = storage.Ping

	var catalog ports.DocumentCatalog
	if cfg.PostgresDSN != "" {
		db, err := postgres.OpenDB(cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		app.closeFns = append(app.closeFns, func() { _ = db.Close() })
		pg := postgres.NewDocumentCatalog(db)
		if err := pg.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		catalog = pg
		app.Health["postgres"] = pg.Ping
	} else {
		logger.Warn("document_catalog_disabled", "reason", "POSTGRES_DSN is empty")
	}

	embedder := ollama.NewEmbedder(ollama.NewWithOptions(cfg.OllamaURL, cfg.OllamaEmbedModel, ollama.Options{
		Timeout:            cfg.DependencyTimeout,
		ResilienceExecutor: executor,
	}))
	vectorDB := qdrant.NewWithOptions(cfg.QdrantURL, cfg.QdrantCollection, qdrant.Options{
		Timeout:            cfg.DependencyTimeout,
		ResilienceExecutor: executor,
	})
	app.Health["qdrant"] = vectorDB.Ping

	localOpts := memory.Options{
		Capacity:     cfg.QueueCapacity,
		Concurrency:  cfg.WorkerConcurrency,
		JobTimeout:   cfg.JobTimeout,
		DrainTimeout: cfg.DrainTimeout,
		Logger:       logger,
	}

	var jobQueue ports.JobQueue
	switch cfg.QueueBackend {
	case config.QueueBackendNATS:
		q, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
			RequestTimeout:     cfg.DependencyTimeout,
			ResilienceExecutor: executor,
			Local:              localOpts,
			Logger:             logger,
		})
		if err != nil {
			return nil, fmt.Errorf("init message queue: %w", err)
		}
		app.closeFns = append(app.closeFns, q.Close)
		app.Health["nats"] = func(context.Context) error { return q.Ping() }
		jobQueue = q
		if role == RoleWorker {
			app.Consumer = q
		}
	default:
		q := memory.New(localOpts)
		jobQueue = q
		app.Consumer = q
	}

	app.HTTPMetrics = metrics.NewHTTPServerMetrics(string(role))
	if app.Consumer != nil {
		if role == RoleAPI {
			registry := app.HTTPMetrics.Registry()
			app.WorkerMetrics = metrics.NewWorkerMetricsWithRegistry(string(role), registry, registry)
		} else {
			app.WorkerMetrics = metrics.NewWorkerMetrics(string(role))
		}
		if q, isMemory := app.Consumer.(*memory.Queue); isMemory {
			app.WorkerMetrics.RegisterQueueDepth(q.Len)
		}
	}

	policy := domain.UploadPolicy{
		MaxBytes:         cfg.MaxUploadBytes,
		AllowedMimeTypes: cfg.AllowedMimeTypeList(),
	}
	app.IngestUC = usecase.NewIngestionCoordinator(cache, storage, jobQueue, usecase.CoordinatorOptions{
		Policy:   policy,
		GrantTTL: cfg.UploadGrantTTL,
		Logger:   logger,
	})
	app.QueryUC = usecase.NewQueryUseCase(embedder, vectorDB, catalog)

	if app.Consumer != nil {
		var observer ports.ProcessingObserver
		if app.WorkerMetrics != nil {
			observer = app.WorkerMetrics
		}
		app.ProcessUC = usecase.NewProcessDocumentUseCase(usecase.ProcessDeps{
			Cache:     cache,
			Lock:      redisstore.NewDocumentLock(redisClient),
			Storage:   storage,
			Extractor: extractor.NewDefaultRegistry(),
			Chunker:   chunking.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap),
			Embedder:  embedder,
			Index:     vectorDB,
			Catalog:   catalog,
			Observer:  observer,
			Logger:    logger,
		}, usecase.ProcessOptions{
			CallTimeout: cfg.DependencyTimeout,
			LockTTL:     cfg.LockTTL,
		})

		recoveryDelay := time.Duration(0)
		if cfg.QueueBackend == config.QueueBackendNATS {
			// Requeued jobs travel through the broker; give the subscription time to form.
			recoveryDelay = 5 * time.Second
		}
		app.Recovery = usecase.NewStalledJobRecovery(cache, jobQueue, usecase.RecoveryOptions{
			StaleAfter:   cfg.JobTimeout,
			Interval:     cfg.RecoveryInterval,
			InitialDelay: recoveryDelay,
			Logger:       logger,
		})
	}

	ok = true
	return app, nil
}

// RunWorkers blocks until ctx is done, processing jobs from the configured backend.
func (a *App) RunWorkers(ctx context.Context) error {
	if a.Consumer == nil || a.ProcessUC == nil {
		return errors.New("this process is not configured to run workers")
	}
	if a.Recovery != nil {
		go a.Recovery.Run(ctx)
	}
	return a.Consumer.Consume(ctx, a.ProcessUC.Process)
}

func (a *App) Close() {
	for i := len(a.closeFns) - 1; i >= 0; i-- {
		a.closeFns[i]()
	}
	a.closeFns = nil
}
