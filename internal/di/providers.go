package di

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aihub/docsearch/internal/config"
	"github.com/aihub/docsearch/internal/database"
	"github.com/aihub/docsearch/internal/kafka"
	"github.com/aihub/docsearch/internal/knowledge"
	"github.com/aihub/docsearch/internal/logger"
	"github.com/aihub/docsearch/internal/ollama"
	"github.com/aihub/docsearch/internal/repository"
	"github.com/aihub/docsearch/internal/services"
	"github.com/aihub/docsearch/internal/storage"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.uber.org/dig"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RegisterInfrastructure 注册外部依赖：配置、数据库、Redis、文件存储
func RegisterInfrastructure(c *dig.Container, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config not loaded")
	}
	providers := []interface{}{
		func() *config.Config { return cfg },
		func(cfg *config.Config) (*gorm.DB, error) {
			return database.Open(cfg.Database)
		},
		func(cfg *config.Config) (*redis.Client, error) {
			return database.InitRedis(context.Background(), cfg.Redis)
		},
		func(cfg *config.Config) (storage.BlobStore, error) {
			return storage.New(context.Background(), cfg.Storage)
		},
	}
	for _, p := range providers {
		if err := c.Provide(p); err != nil {
			return err
		}
	}
	return nil
}

// RegisterServices 注册领域服务，依赖 RegisterInfrastructure 提供的类型
func RegisterServices(c *dig.Container) error {
	providers := []interface{}{
		NewClosers,
		newLogrusLogger,
		repository.NewDocumentRepository,
		newStatusCache,
		newHealthChecker,
		newModelRegistry,
		newIndexFactory,
		newExtractor,
		func(cfg *config.Config) *knowledge.Chunker {
			return knowledge.NewChunker(cfg.Knowledge.ChunkSize, cfg.Knowledge.ChunkOverlap)
		},
		func(reg *knowledge.ModelRegistry) knowledge.Embedder { return reg.Embedder() },
		newIngestionService,
		newWorkerEnvFactory,
		newWorkerPool,
		newJobQueue,
		func(cfg *config.Config, repo repository.DocumentRepository, blobs storage.BlobStore, queue services.JobQueue, cache *services.RedisStatusCache) *services.DocumentService {
			svc := services.NewDocumentService(repo, blobs, queue, cache)
			svc.SetStaleAfter(cfg.Ingest.LockTTL)
			return svc
		},
		newSearchEngine,
		func(cfg *config.Config) ollama.Generator {
			client := ollama.NewClient(cfg.LLM.BaseURL, cfg.LLM.Timeout, cfg.LLM.Temperature)
			return ollama.NewBreakerGenerator(client, cfg.LLM.BreakerThreshold, cfg.LLM.BreakerCooldown)
		},
		func(cfg *config.Config, engine *knowledge.SearchEngine, llm ollama.Generator) *services.AnswerService {
			return services.NewAnswerService(engine, llm, cfg.LLM.Model, cfg.LLM.FallbackModel)
		},
	}
	for _, p := range providers {
		if err := c.Provide(p); err != nil {
			return err
		}
	}
	return nil
}

// newLogrusLogger 数据库健康检查与迁移使用的 logrus 日志
func newLogrusLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetFormatter(&logrus.JSONFormatter{})
	l.SetLevel(logrus.InfoLevel)
	if os.Getenv("LOG_LEVEL") == "debug" {
		l.SetLevel(logrus.DebugLevel)
	}
	return l
}

func newStatusCache(cfg *config.Config, rdb *redis.Client) *services.RedisStatusCache {
	if rdb == nil {
		return services.NewRedisStatusCache(nil, 0)
	}
	return services.NewRedisStatusCache(rdb, secondsToDuration(cfg.Redis.TTL))
}

func newHealthChecker(db *gorm.DB, rdb *redis.Client, log *logrus.Logger) (*database.HealthChecker, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	hc := database.NewHealthChecker(sqlDB, log)
	if rdb != nil {
		hc.AddCheck("redis", database.RedisPing(rdb))
	}
	return hc, nil
}

func newModelRegistry(cfg *config.Config) *knowledge.ModelRegistry {
	k := cfg.Knowledge
	return knowledge.NewModelRegistry(knowledge.ModelLoaders{
		Embedder: func() (knowledge.Embedder, error) {
			return knowledge.NewOpenAIEmbedder(knowledge.EmbeddingOptions{
				BaseURL:   k.Embedding.BaseURL,
				APIKey:    k.Embedding.APIKey,
				Model:     k.Embedding.Model,
				Dimension: k.Embedding.Dimension,
				BatchSize: k.Embedding.BatchSize,
			})
		},
		CrossEncoder: func() (knowledge.CrossEncoder, error) {
			return knowledge.NewTEICrossEncoder(k.Rerank.BaseURL, k.Rerank.Timeout)
		},
		OCR: func() (knowledge.OCREngine, error) {
			return knowledge.NewTesseractOCR(k.Extraction.OCRLanguages...)
		},
	})
}

func newIndexFactory(cfg *config.Config) knowledge.VectorIndexFactory {
	vs := cfg.Knowledge.VectorStore
	if vs.Provider == "milvus" {
		return knowledge.MilvusIndexFactory(knowledge.MilvusOptions{
			Address:    vs.Milvus.Address,
			Username:   vs.Milvus.Username,
			Password:   vs.Milvus.Password,
			Database:   vs.Milvus.Database,
			Collection: vs.Collection,
			VectorSize: cfg.Knowledge.Embedding.Dimension,
		})
	}
	return knowledge.SQLiteIndexFactory(vs.Path, vs.Collection)
}

func newExtractor(cfg *config.Config, reg *knowledge.ModelRegistry) *knowledge.Extractor {
	ex := cfg.Knowledge.Extraction
	if err := knowledge.SetPDFLicense(ex.LicenseKey); err != nil {
		logger.Warn("unipdf license rejected, running unlicensed", zap.Error(err))
	}
	return knowledge.NewExtractor(reg.OCR(), knowledge.ExtractorOptions{
		PageTextThreshold: ex.PageTextThreshold,
		DocTextThreshold:  ex.DocTextThreshold,
		ZoomLevels:        ex.ZoomLevels,
	})
}

func newIngestionService(blobs storage.BlobStore, extractor *knowledge.Extractor, chunker *knowledge.Chunker, embedder knowledge.Embedder, cache *services.RedisStatusCache) *services.IngestionService {
	return services.NewIngestionService(blobs, extractor, chunker, embedder, cache)
}

// newWorkerEnvFactory 每个 worker 拿到独立的 gorm 会话与索引句柄
func newWorkerEnvFactory(db *gorm.DB, factory knowledge.VectorIndexFactory) services.WorkerEnvFactory {
	return func(ctx context.Context, workerID int) (services.WorkerEnv, func(), error) {
		index, err := factory(ctx)
		if err != nil {
			return services.WorkerEnv{}, nil, err
		}
		session := db.Session(&gorm.Session{NewDB: true})
		return services.WorkerEnv{
			Docs:  repository.NewDocumentRepository(session),
			Index: index,
		}, func() { _ = index.Close() }, nil
	}
}

func newWorkerPool(cfg *config.Config, svc *services.IngestionService, envs services.WorkerEnvFactory, cache *services.RedisStatusCache) *services.IngestWorkerPool {
	var locker services.DocumentLocker
	if cfg.Redis.Enabled {
		locker = cache
	}
	return services.NewIngestWorkerPool(svc, envs, locker, services.WorkerPoolOptions{
		Workers:     cfg.Ingest.Workers,
		MaxAttempts: cfg.Ingest.MaxAttempts,
		Backoff:     cfg.Ingest.Backoff,
		LockTTL:     cfg.Ingest.LockTTL,
	})
}

// newJobQueue 启用 Kafka 时投递到 topic，否则直接进入本进程工作池
func newJobQueue(cfg *config.Config, pool *services.IngestWorkerPool) (services.JobQueue, error) {
	if !cfg.Kafka.Enabled {
		return pool, nil
	}
	return kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
}

func newSearchEngine(cfg *config.Config, reg *knowledge.ModelRegistry, factory knowledge.VectorIndexFactory, closers *Closers) (*knowledge.SearchEngine, error) {
	index, err := factory(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to open vector index: %w", err)
	}
	closers.Add(index.Close)
	reranker := knowledge.NewReranker(reg.CrossEncoder(), cfg.Knowledge.Rerank.TopN)
	return knowledge.NewSearchEngine(reg.Embedder(), index, reranker, cfg.Knowledge.SearchTopK), nil
}

func secondsToDuration(s int) time.Duration {
	return time.Duration(s) * time.Second
}

// NewLocalExtractor 不依赖数据库与向量库的抽取器，供命令行离线使用
func NewLocalExtractor(cfg *config.Config) (*knowledge.Extractor, *knowledge.Chunker, *knowledge.ModelRegistry) {
	reg := newModelRegistry(cfg)
	chunker := knowledge.NewChunker(cfg.Knowledge.ChunkSize, cfg.Knowledge.ChunkOverlap)
	return newExtractor(cfg, reg), chunker, reg
}
