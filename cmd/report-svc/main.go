// 研报生成服务入口
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"zhiku-report-api/internal/application/pipeline"
	"zhiku-report-api/internal/config"
	"zhiku-report-api/internal/infrastructure/embedding"
	"zhiku-report-api/internal/infrastructure/llm"
	"zhiku-report-api/internal/infrastructure/persistence/milvus"
	"zhiku-report-api/internal/infrastructure/persistence/postgres"
	redisinfra "zhiku-report-api/internal/infrastructure/persistence/redis"
	"zhiku-report-api/internal/infrastructure/retrieval/milvusretriever"
	"zhiku-report-api/internal/infrastructure/retrieval/zhipu"
	"zhiku-report-api/internal/infrastructure/websearch"
	"zhiku-report-api/internal/interfaces/http/handler"
	"zhiku-report-api/internal/interfaces/http/middleware"
	"zhiku-report-api/internal/interfaces/http/router"
	"zhiku-report-api/pkg/logger"
	"zhiku-report-api/pkg/tracer"
)

func main() {
	// 加载 .env 文件（可选）
	_ = godotenv.Load()

	cfg := config.MustLoad()

	logger.Init(cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)

	ctx := context.Background()
	logger.Info(ctx, "starting report service",
		"name", cfg.App.Name,
		"version", cfg.App.Version,
		"env", cfg.App.Env,
	)

	// 初始化追踪
	shutdownTracer, err := tracer.Init(ctx, tracer.Config{
		ServiceName: cfg.App.Name,
		Endpoint:    cfg.Observability.Tracing.Endpoint,
		SampleRate:  cfg.Observability.Tracing.SampleRate,
		Enabled:     cfg.Observability.Tracing.Enabled,
	})
	if err != nil {
		logger.Warn(ctx, "tracer init failed", "error", err)
	}
	defer func() {
		if shutdownTracer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownTracer(shutdownCtx)
		}
	}()

	// Redis（可选，承载检索缓存与限流）
	var (
		redisClient *redisinfra.Client
		cache       *redisinfra.Cache
		limiter     middleware.RateLimiter
	)
	redisClient, err = redisinfra.NewClient(&cfg.Cache.Redis)
	if err != nil {
		logger.Warn(ctx, "redis unavailable, cache and rate limiting disabled", "error", err)
		redisClient = nil
	} else {
		defer redisClient.Close()
		cache = redisinfra.NewCache(redisClient)
		limiter = redisinfra.NewRateLimiter(redisClient)
	}

	// Postgres（可选，报告持久化尽力而为）
	var (
		pgClient   *postgres.Client
		reportRepo *postgres.ReportRepository
	)
	pgClient, err = postgres.NewClient(&cfg.Database.Postgres)
	if err != nil {
		logger.Warn(ctx, "postgres unavailable, report persistence disabled", "error", err)
		pgClient = nil
	} else {
		defer pgClient.Close()
		reportRepo = postgres.NewReportRepository(pgClient)
		if err := reportRepo.Migrate(); err != nil {
			logger.Warn(ctx, "report table migration failed", "error", err)
		}
	}

	// Milvus（可选，自建向量知识库）
	var milvusClient *milvus.Client
	milvusClient, err = milvus.NewClient(ctx, &cfg.Vector.Milvus)
	if err != nil {
		logger.Warn(ctx, "milvus unavailable, vector retrieval disabled", "error", err)
		milvusClient = nil
	}

	// LLM 工厂与检索器
	models := llm.NewEinoFactory(cfg)

	retrievers := map[string]pipeline.KnowledgeRetriever{
		"zhipu": zhipu.NewClient(cfg.Knowledge, cache),
	}
	if milvusClient != nil {
		embedder, err := embedding.NewEinoEmbedder(ctx, &cfg.Embedding)
		if err != nil {
			logger.Warn(ctx, "embedder init failed, milvus retrieval disabled", "error", err)
		} else {
			retrievers["milvus"] = milvusretriever.NewRetriever(milvus.NewRepository(milvusClient), embedder)
		}
	}

	// 组装管线
	planner := pipeline.NewPlanner(models, cfg.Knowledge)
	coordinator := pipeline.NewCoordinator(retrievers, websearch.NewClient(cfg.WebSearch), cfg.Knowledge, cfg.WebSearch.Count)
	summarizer := pipeline.NewSummarizer(models)

	var store pipeline.ReportStore
	if reportRepo != nil {
		store = reportRepo
	}
	orchestrator := pipeline.NewOrchestrator(planner, coordinator, summarizer, store, cfg.Knowledge.MaxDocsForSummary)

	// HTTP 层
	reportHandler := handler.NewReportHandler(orchestrator, reportRepo)
	healthHandler := handler.NewHealthHandler(pgClient, redisClient, milvusClient)
	r := router.New(cfg, reportHandler, healthHandler, limiter)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.HTTP.Host, cfg.Server.HTTP.Port),
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.HTTP.ReadTimeout,
		WriteTimeout: cfg.Server.HTTP.WriteTimeout,
		IdleTimeout:  cfg.Server.HTTP.IdleTimeout,
	}

	go func() {
		logger.Info(ctx, "http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal(ctx, "http server failed", err)
		}
	}()

	// 等待退出信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info(ctx, "shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "server shutdown failed", err)
	}

	logger.Info(ctx, "server exited")
}
