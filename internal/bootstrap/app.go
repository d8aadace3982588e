package bootstrap

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	appsvc "agentkb/internal/app"
	"agentkb/internal/cache"
	"agentkb/internal/config"
	"agentkb/internal/document"
	"agentkb/internal/embedding"
	postgresClient "agentkb/internal/platform/postgres"
	rabbitmqClient "agentkb/internal/platform/rabbitmq"
	redisClient "agentkb/internal/platform/redis"
	"agentkb/internal/store"
	"agentkb/internal/worker"
)

type App struct {
	Config          *config.Config
	DB              *gorm.DB
	Redis           *redis.Client
	MQConn          *amqp.Connection
	Store           *store.Store
	Knowledge       *appsvc.KnowledgeService
	IngestPublisher *rabbitmqClient.IngestPublisher
	IngestWorker    *worker.IngestWorker

	StartedAt time.Time
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}

	// Connections attach to the app as they open, so a failure partway
	// through construction releases everything opened so far.
	app := &App{Config: cfg}
	started := false
	defer func() {
		if !started {
			_ = app.Close()
		}
	}()

	db, err := postgresClient.New(ctx, cfg.PostgresDSN())
	if err != nil {
		return nil, err
	}
	app.DB = db

	vectorStore, err := store.New(ctx, db, cfg.Embedding.Dimension)
	if err != nil {
		return nil, err
	}
	app.Store = vectorStore

	redisCli, err := redisClient.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, err
	}
	app.Redis = redisCli

	mqConn, err := rabbitmqClient.New(ctx, cfg.RabbitMQ.URL, cfg.RabbitMQ.IngestQueue)
	if err != nil {
		return nil, err
	}
	app.MQConn = mqConn

	provider, err := embedding.New(embedding.Config{
		Provider:  cfg.Embedding.Provider,
		BaseURL:   cfg.Embedding.BaseURL,
		APIKey:    cfg.Embedding.APIKey,
		Model:     cfg.Embedding.Model,
		Dimension: cfg.Embedding.Dimension,
	})
	if err != nil {
		return nil, fmt.Errorf("construct embedding provider failed: %w", err)
	}

	queryCache := cache.NewEmbeddingCache(
		redisCli,
		cfg.Embedding.Model,
		time.Duration(cfg.Redis.QueryCacheTTLSeconds)*time.Second,
	)
	processor := document.NewProcessor(cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap)

	app.Knowledge = appsvc.NewKnowledgeService(processor, provider, vectorStore, queryCache, appsvc.SearchDefaults{
		TopK:                cfg.RAG.TopK,
		SimilarityThreshold: cfg.RAG.SimilarityThreshold,
	})

	app.IngestPublisher = rabbitmqClient.NewIngestPublisher(mqConn, cfg.RabbitMQ.IngestQueue)
	app.IngestWorker = worker.NewIngestWorker(mqConn, app.Knowledge, cfg.RabbitMQ.IngestQueue)
	if err := app.IngestWorker.Start(ctx); err != nil {
		return nil, fmt.Errorf("start ingest worker failed: %w", err)
	}

	app.StartedAt = time.Now()
	started = true
	return app, nil
}

func (a *App) Close() error {
	var closeErr error
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			closeErr = err
		}
	}
	if a.IngestWorker != nil {
		a.IngestWorker.Close()
	}
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil {
			closeErr = err
		}
	}
	if a.DB != nil {
		sqlDB, err := a.DB.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				closeErr = err
			}
		}
	}
	return closeErr
}
