// Package app wires configuration, storage and services into the object
// graph shared by the civic-ingest binaries.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"civic-ingest/internal/ai"
	"civic-ingest/internal/config"
	"civic-ingest/internal/database"
	"civic-ingest/internal/objectstore"
	"civic-ingest/internal/search"
	"civic-ingest/internal/telemetry"
	"civic-ingest/services"

	"cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

// App holds the long-lived clients and services of one process
type App struct {
	Config  *config.Config
	Logger  *slog.Logger
	Metrics *telemetry.Metrics

	Mongo   *mongo.Client
	DB      *mongo.Database
	Repos   *database.Repositories
	Storage *storage.Client
	Bucket  *objectstore.Bucket
	Redis   *redis.Client

	Extractor *services.MetadataExtractor
	Analyzer  *services.QualityAnalyzer
	OCR       *services.OCRWorker
	Blobs     *services.BlobStore
	Indexing  *services.IndexingClient
	Registry  *services.Registry
	Ingestor  *services.Ingestor
	Discovery *services.Discovery
	Worker    *services.BatchWorker
	OCRQueue  *services.OCRQueue
	Jobs      *services.JobService
	Review    *services.ReviewIndexer
	Intake    *services.IntakeService

	closers []func()
}

// Options toggles the optional pieces of the graph
type Options struct {
	// NeedStorage connects to the object store; required for discovery, sync and GCS blobs.
	NeedStorage bool
}

// New connects to MongoDB (and the object store and Redis when configured) and
// builds every service. Close releases what was opened.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	metrics, err := telemetry.InitMetrics()
	if err != nil {
		logger.Warn("Metrics disabled", "error", err)
	}
	a.Metrics = metrics

	a.Mongo, err = config.ConnectMongoDB(cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = a.Mongo.Disconnect(ctx)
	})
	a.DB = a.Mongo.Database(cfg.DBName)
	a.Repos = database.NewRepositories(a.DB)

	if opts.NeedStorage {
		a.Storage, err = config.NewStorageClient(ctx)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = a.Storage.Close() })
		a.Bucket = objectstore.NewBucket(a.Storage, cfg.BucketName)
	}

	cache, err := a.storeCache(cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	rules, err := services.LoadMetadataRules(cfg.MetadataRulesFile)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Extractor = services.NewMetadataExtractor(rules)

	recognizer, err := a.recognizer(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	var primary objectstore.BlobBackend
	if a.Storage != nil && cfg.BlobBucket != "" {
		primary = objectstore.NewGCSBlobs(a.Storage, cfg.BlobBucket, cfg.BlobPrefix)
	}

	a.Analyzer = services.NewQualityAnalyzer(cfg, logger)
	a.OCR = services.NewDefaultOCRWorker(cfg, recognizer, logger)
	a.Blobs = services.NewBlobStore(a.Repos.Blobs, primary, objectstore.NewLocalBlobs(cfg.FileStorageDir), cfg.OCRClaimTTL, logger)
	a.Indexing = services.NewIndexingClient(
		search.NewClient(cfg.SearchAPIKey, cfg.SearchAPIURL, cfg.SearchRPS),
		a.Repos.Stores, cache, metrics, logger,
	)
	a.Registry = services.NewRegistry(a.Repos.Documents, logger)
	a.Ingestor = services.NewIngestor(a.Analyzer, a.OCR, a.Blobs, a.Indexing, a.Registry, metrics, logger)
	a.OCRQueue = services.NewOCRQueue(a.Blobs, a.OCR, metrics, logger)
	a.UseEnqueuer(nil)

	if a.Bucket != nil {
		a.Discovery = services.NewDiscovery(a.Bucket, a.Repos.Sync, a.Extractor, cfg.EligibleExtensions, metrics, logger)
		a.Worker = services.NewBatchWorker(a.Repos.Sync, a.Bucket, a.Blobs, a.Ingestor, a.Extractor, metrics, logger)
	}

	return a, nil
}

// UseEnqueuer rebuilds the review services around an index queue. A nil
// enqueuer leaves approved jobs to be indexed inline.
func (a *App) UseEnqueuer(enqueuer services.IndexEnqueuer) {
	a.Jobs = services.NewJobService(a.Repos.Jobs, enqueuer, a.Logger)
	a.Review = services.NewReviewIndexer(a.Jobs, a.Blobs, a.Ingestor, a.Logger)
	a.Intake = services.NewIntakeService(a.Analyzer, a.Blobs, a.Jobs, a.Extractor, a.Logger)
}

func (a *App) storeCache(cfg *config.Config, logger *slog.Logger) (services.StoreCache, error) {
	if cfg.StoreCache != "redis" {
		return services.NewMemoryStoreCache(256, cfg.StoreCacheTTL), nil
	}
	rdb, err := a.RedisClient()
	if err != nil {
		return nil, err
	}
	return services.NewRedisStoreCache(rdb, cfg.StoreCacheTTL, logger), nil
}

// RedisClient connects lazily; the store cache and the rate limiter share it
func (a *App) RedisClient() (*redis.Client, error) {
	if a.Redis != nil {
		return a.Redis, nil
	}
	rdb, err := config.NewRedisClient(a.Config)
	if err != nil {
		return nil, err
	}
	a.Redis = rdb
	a.closers = append(a.closers, func() { _ = rdb.Close() })
	return rdb, nil
}

func (a *App) recognizer(ctx context.Context, cfg *config.Config) (services.TextRecognizer, error) {
	switch cfg.OCREngine {
	case "", "tesseract":
		return nil, nil
	case "gemini":
		g, err := ai.NewGeminiRecognizer(ctx, cfg.SearchAPIKey, cfg.OCRModel, cfg.GeminiTier)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = g.Close() })
		return g, nil
	default:
		return nil, fmt.Errorf("unknown OCR_ENGINE %q", cfg.OCREngine)
	}
}

// Close releases clients in reverse order of creation
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
