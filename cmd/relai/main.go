package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/relai/internal/config"
	"github.com/gosuda/relai/internal/engine"
	"github.com/gosuda/relai/internal/server"
	"github.com/gosuda/relai/internal/store/postgres"
	redisstore "github.com/gosuda/relai/internal/store/redis"
	"github.com/gosuda/relai/internal/tasks"
)

func main() {
	worker := flag.Bool("worker", false, "run the background maintenance worker instead of the API server")
	flag.Parse()

	if err := run(*worker); err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
}

func run(worker bool) error {
	// Initialize structured logging from environment.
	logLevel := os.Getenv("RELAI_LOG_LEVEL")
	level, parseErr := zerolog.ParseLevel(logLevel)
	if parseErr != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	logFormat := os.Getenv("RELAI_LOG_FORMAT")
	if logFormat == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}

	ctx := context.Background()

	// Load configuration from environment.
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if cfg.Database.MaxConns < 0 || cfg.Database.MaxConns > math.MaxInt32 {
		return fmt.Errorf("database max_conns %d out of int32 range", cfg.Database.MaxConns)
	}

	// Connect to PostgreSQL.
	store, err := postgres.New(ctx, cfg.Database.DSN(), int32(cfg.Database.MaxConns)) //nolint:gosec // bounds checked above
	if err != nil {
		return err
	}
	defer store.Close()

	// Connect to Redis. The same instance backs session memory and the job
	// queue.
	redisClient, err := redisstore.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	// Build the answer engine: backend generator behind a circuit breaker.
	registry := engine.DefaultRegistry()
	generator, err := registry.Create(cfg.Engine.Backend, cfg.Engine)
	if err != nil {
		return err
	}
	assistant := engine.NewAssistant(engine.NewBreakerGenerator(
		generator, cfg.Engine.BreakerFailures, cfg.Engine.BreakerCooldown))

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}

	if worker {
		return runWorker(cfg, store, redisClient, assistant, redisOpt)
	}

	retriever, err := engine.NewWeaviateRetriever(cfg.Engine)
	if err != nil {
		return err
	}

	enq := tasks.NewAsynqEnqueuer(redisOpt)
	defer enq.Close()

	// Graceful shutdown on SIGINT / SIGTERM.
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	srv := server.New(ctx, cfg, store, redisClient, assistant, retriever, enq)

	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("starting server")
		if startErr := srv.Start(ctx); startErr != nil {
			log.Error().Err(startErr).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		return shutdownErr
	}

	log.Info().Msg("stopped")
	return nil
}

func runWorker(cfg *config.Config, store *postgres.Store, redisClient *goredis.Client, assistant *engine.Assistant, redisOpt asynq.RedisClientOpt) error {
	handlers := tasks.NewHandlers(store, redisClient, assistant,
		cfg.Chat.SessionTTL, cfg.Chat.BufferTTL)

	log.Info().Int("concurrency", cfg.Worker.Concurrency).Msg("starting maintenance worker")

	// Run blocks until SIGINT/SIGTERM, which asynq traps itself.
	srv := tasks.NewWorker(redisOpt, cfg.Worker.Concurrency)
	if err := srv.Run(handlers.Mux()); err != nil {
		return fmt.Errorf("worker: %w", err)
	}
	return nil
}
