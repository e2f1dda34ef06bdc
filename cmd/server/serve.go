package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/Oldsnak/video-downloader-api/internal/config"
	"github.com/Oldsnak/video-downloader-api/internal/engine"
	"github.com/Oldsnak/video-downloader-api/internal/events"
	"github.com/Oldsnak/video-downloader-api/internal/logging"
	"github.com/Oldsnak/video-downloader-api/internal/model"
	"github.com/Oldsnak/video-downloader-api/internal/progress"
	"github.com/Oldsnak/video-downloader-api/internal/ratelimit"
	"github.com/Oldsnak/video-downloader-api/internal/security"
	"github.com/Oldsnak/video-downloader-api/internal/server"
	"github.com/Oldsnak/video-downloader-api/internal/service"
	"github.com/Oldsnak/video-downloader-api/internal/storage"
	"github.com/Oldsnak/video-downloader-api/internal/store"
	"github.com/Oldsnak/video-downloader-api/internal/worker"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the download workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(logging.Options{Level: cfg.Server.LogLevel, Format: cfg.Server.LogFormat})
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "addr", cfg.Redis.Addr, "error", err)
	}

	jobs, err := openStore(cfg, redisClient, logger)
	if err != nil {
		return err
	}
	defer jobs.Close()

	files := storage.NewLocal(cfg.Download.Dir, cfg.Server.APIPrefix)
	if err := files.EnsureDir(); err != nil {
		return fmt.Errorf("create download dir: %w", err)
	}

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	asynqClient := asynq.NewClient(redisOpt)
	defer asynqClient.Close()
	inspector := asynq.NewInspector(redisOpt)
	defer inspector.Close()

	bus := events.NewBus(cfg.Events.MailboxSize, logger)
	eng := engine.NewYtDlp(cfg.Engine.Binary)
	guard := security.NewGuard(nil)
	dispatcher := service.NewAsynqDispatcher(asynqClient, inspector, cfg.Download.MaxRetry)

	// Initialize services
	downloadService := service.NewDownloadService(jobs, eng, guard, files, dispatcher, bus, service.Options{
		AllowedDomains: cfg.Download.AllowedDomains,
		APIPrefix:      cfg.Server.APIPrefix,
		StreamSecret:   cfg.Auth.APIKey,
		StreamTokenTTL: cfg.Auth.StreamTokenTTL,
	}, logger)

	if cfg.Auth.APIKey == "" {
		logger.Warn("API key not configured, authentication disabled")
	}
	if err := eng.Available(ctx); err != nil {
		logger.Warn("retrieval engine not available", "error", err)
	}

	// Start Asynq worker server
	pipeline := progress.NewPipeline(jobs, bus, logger)
	downloadWorker := worker.NewDownloadWorker(jobs, eng, guard, files, pipeline, bus, logger)
	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.Download.Concurrency,
		Queues: map[string]int{
			model.QueueDownloads: 1,
		},
		Logger:          logging.NewAsynqLogger(logger),
		ShutdownTimeout: 10 * time.Second,
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(model.TaskTypeDownload, downloadWorker.ProcessTask)
	if err := srv.Start(mux); err != nil {
		return fmt.Errorf("start workers: %w", err)
	}
	defer srv.Shutdown()

	app := server.New(server.Options{
		APIPrefix:   cfg.Server.APIPrefix,
		APIKey:      cfg.Auth.APIKey,
		CORSOrigins: cfg.Server.CORSOrigins,
		AccessLog:   true,
	}, server.Deps{
		Service:   downloadService,
		Bus:       bus,
		Governor:  openGovernor(cfg, redisClient),
		Validator: service.NewValidator(),
		Logger:    logger,
	})

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		logger.Info("shutting down server")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			logger.Error("server shutdown error", "error", err)
		}
	}()

	addr := ":" + cfg.Server.Port
	logger.Info("server starting", "addr", addr, "env", cfg.Server.Env, "store", cfg.Store.Driver)
	if err := app.Listen(addr); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func openStore(cfg *config.Config, redisClient *redis.Client, logger *slog.Logger) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return store.OpenSQLite(cfg.Store.SQLitePath, logger)
	case "redis", "":
		return store.NewRedisStore(redisClient, cfg.Store.JobTTL, logger), nil
	}
	return nil, errors.New("unknown store driver " + cfg.Store.Driver)
}

func openGovernor(cfg *config.Config, redisClient *redis.Client) ratelimit.Governor {
	if cfg.RateLimit.Backend == "redis" {
		return ratelimit.NewRedisWindow(redisClient, "download", cfg.RateLimit.MaxRequests, cfg.RateLimit.Window)
	}
	return ratelimit.NewWindow(cfg.RateLimit.MaxRequests, cfg.RateLimit.Window)
}
