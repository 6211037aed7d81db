package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"tasksync.app/tasksync/common/id"
	"tasksync.app/tasksync/common/logger"
	"tasksync.app/tasksync/common/otel"
	"tasksync.app/tasksync/core/config"
	"tasksync.app/tasksync/core/db"
	"tasksync.app/tasksync/internal/analysis"
	"tasksync.app/tasksync/internal/pipeline"
	"tasksync.app/tasksync/internal/queue"
	"tasksync.app/tasksync/internal/sink"
	"tasksync.app/tasksync/internal/source"
	"tasksync.app/tasksync/internal/store"
	"tasksync.app/tasksync/internal/worker"
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeWorker)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	slog.InfoContext(ctx, "tasksync worker starting",
		"env", cfg.Env,
		"consumer_group", cfg.Queue.Group,
		"consumer_name", cfg.Queue.Consumer)

	// Different node ID than the server so snowflake IDs never collide
	if err := id.Init(2); err != nil {
		slog.ErrorContext(ctx, "failed to initialize id generator", "error", err)
		os.Exit(1)
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()
	slog.InfoContext(ctx, "database connected")

	redisOpts, err := redis.ParseURL(cfg.Queue.RedisURL)
	if err != nil {
		slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	slog.InfoContext(ctx, "redis connected", "stream", cfg.Queue.Stream)

	consumer, err := queue.NewRedisConsumer(redisClient, queue.ConsumerConfig{
		Stream:       cfg.Queue.Stream,
		Group:        cfg.Queue.Group,
		Consumer:     cfg.Queue.Consumer,
		DLQStream:    cfg.Queue.DLQStream,
		BatchSize:    1, // one discussion at a time
		Block:        5 * time.Second,
		RequeueDelay: time.Second,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create consumer", "error", err)
		os.Exit(1)
	}

	stores := store.New(database)

	registry := source.NewRegistry(
		source.NewSlackAdapter(nil),
		source.NewFigmaAdapter(nil, stores.SourceConfigs),
		source.NewEmailAdapter(stores.SourceConfigs),
	)
	taskSink := sink.NewNotionSink(nil, cfg.Sink)

	// Without an API key every run falls back to the pass-through summary.
	var analyzer pipeline.Analyzer
	if cfg.LLM.Enabled() {
		llmClient, err := analysis.NewClient(cfg.LLM)
		if err != nil {
			slog.ErrorContext(ctx, "failed to create llm client", "error", err)
			os.Exit(1)
		}
		cache := analysis.NewResultCache(cfg.Analyze.CacheTTL, cfg.Analyze.CacheMaxSize)
		analyzer = analysis.NewEngine(llmClient, cache, cfg.Analyze)
		slog.InfoContext(ctx, "analysis engine ready", "model", llmClient.Model())
	} else {
		slog.WarnContext(ctx, "no llm api key configured, analysis disabled")
	}

	processor := pipeline.NewProcessor(registry, analyzer, taskSink, stores)

	w := worker.New(consumer, processor, stores.Jobs, worker.Config{
		MaxAttempts: cfg.Queue.MaxAttempts,
	})

	reclaimer := worker.NewRedisReclaimer(redisClient, worker.RedisReclaimerConfig{
		Stream:    cfg.Queue.Stream,
		Group:     cfg.Queue.Group,
		Consumer:  cfg.Queue.Consumer + "-reclaimer",
		MinIdle:   5 * time.Minute,
		Interval:  1 * time.Minute,
		BatchSize: 10,
	}, consumer, func(ctx context.Context, msg queue.Message) error {
		w.ProcessMessage(ctx, msg)
		return nil
	})

	errCh := make(chan error, 2)
	go func() {
		errCh <- w.Run(ctx)
	}()
	go func() {
		reclaimer.Run(ctx)
		errCh <- nil
	}()

	slog.InfoContext(ctx, "worker initialized and running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down worker...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Reclaimer first (quick), then the worker which may be mid-job
	reclaimer.Stop()
	w.Stop()

	select {
	case <-shutdownCtx.Done():
		slog.WarnContext(ctx, "shutdown timeout exceeded")
	case err := <-errCh:
		if err != nil {
			slog.ErrorContext(ctx, "worker error during shutdown", "error", err)
		}
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(ctx, "worker shutdown complete")
}

const banner = `
████████╗ █████╗ ███████╗██╗  ██╗███████╗██╗   ██╗███╗   ██╗ ██████╗
╚══██╔══╝██╔══██╗██╔════╝██║ ██╔╝██╔════╝╚██╗ ██╔╝████╗  ██║██╔════╝
   ██║   ███████║███████╗█████╔╝ ███████╗ ╚████╔╝ ██╔██╗ ██║██║
   ██║   ██╔══██║╚════██║██╔═██╗ ╚════██║  ╚██╔╝  ██║╚██╗██║██║
   ██║   ██║  ██║███████║██║  ██╗███████║   ██║   ██║ ╚████║╚██████╗
   ╚═╝   ╚═╝  ╚═╝╚══════╝╚═╝  ╚═╝╚══════╝   ╚═╝   ╚═╝  ╚═══╝ ╚═════╝
`
