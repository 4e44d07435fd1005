package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/renderdeck/api/internal/client"
	"github.com/renderdeck/api/internal/config"
	"github.com/renderdeck/api/internal/handler"
	"github.com/renderdeck/api/internal/infra"
	"github.com/renderdeck/api/internal/middleware"
	"github.com/renderdeck/api/internal/render"
	"github.com/renderdeck/api/internal/service"
	"github.com/renderdeck/api/internal/store"
	"github.com/renderdeck/api/internal/worker"
	"github.com/renderdeck/api/internal/workspace"
	"github.com/renderdeck/api/pkg/response"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := infra.NewLogger(cfg.Server.Env, cfg.Server.LogLevel)

	// Record store: Redis when reachable, in-memory otherwise. The degraded
	// mode loses records on restart but keeps the service usable.
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx := context.Background()
	redisAvailable := true
	var kv store.KV = store.NewRedisKV(redisClient)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Msg("Redis not available, falling back to in-memory store")
		redisAvailable = false
		kv = store.NewMemKV()
	}
	st := store.New(kv, time.Duration(cfg.Storage.TTLHours)*time.Hour)

	ws := workspace.NewManager(cfg.Storage.DataDir, cfg.Storage.LogsDir)

	lifecycle := service.NewLifecycle(st, logger)
	if _, err := lifecycle.RecoverOrphans(ctx); err != nil {
		logger.Error().Err(err).Msg("orphan recovery sweep failed")
	}

	// Artifact mirroring is optional; without credentials results are served
	// from local disk only.
	var artifacts client.StorageClient
	if cfg.S3.AccessKeyID != "" && cfg.S3.SecretAccessKey != "" {
		s3Client, err := client.NewS3Client(&cfg.S3)
		if err != nil {
			logger.Warn().Err(err).Msg("artifact mirror not initialized")
		} else {
			artifacts = s3Client
		}
	}

	coordinator := render.NewCoordinator(st, ws, lifecycle, &cfg.Render, artifacts, logger)

	projectService := service.NewProjectService(st, ws, logger)
	jobService := service.NewJobService(st, ws, coordinator, cfg.Storage.MediaURL, logger)

	validate := validator.New()
	projectHandler := handler.NewProjectHandler(projectService, validate)
	jobHandler := handler.NewJobHandler(jobService, validate)

	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    250 * 1024 * 1024,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		activeJob, _, rendering := coordinator.Active()
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"redis":     redisAvailable,
				"artifacts": artifacts != nil,
			},
			"rendering": rendering,
			"activeJob": activeJob,
		})
	})

	// Rendered frames and staged archives are served straight from disk.
	app.Static(cfg.Storage.MediaURL, cfg.Storage.DataDir)

	api := app.Group("/api")
	if cfg.JWT.Secret != "" {
		api.Use(middleware.NewAuthMiddleware(cfg.JWT.Secret).Authenticate())
	}

	var rateLimitRedis *redis.Client
	if redisAvailable {
		rateLimitRedis = redisClient
	}
	rateLimiter := middleware.NewRateLimiter(rateLimitRedis)

	projects := api.Group("/projects")
	projects.Post("/", rateLimiter.UploadLimit(cfg.RateLimit.UploadPerHour), projectHandler.Upload)
	projects.Get("/:projectId", projectHandler.Get)
	projects.Post("/:projectId/render", rateLimiter.StartLimit(cfg.RateLimit.StartPerHour), jobHandler.Start)

	jobs := api.Group("/jobs")
	jobs.Get("/:jobId", jobHandler.Status)
	jobs.Post("/:jobId/cancel", jobHandler.Cancel)
	jobs.Get("/:jobId/logs", jobHandler.Logs)
	jobs.Get("/:jobId/results", jobHandler.Results)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/jobs/:jobId", websocket.New(jobHandler.StreamLogsWS))

	// The maintenance queue needs Redis; in degraded mode expired projects
	// simply stay on disk until the next healthy start.
	if redisAvailable {
		cleanupWorker := worker.NewCleanupWorker(st, ws, coordinator, logger)
		go startMaintenanceWorker(cfg, cleanupWorker, logger)
		go startMaintenanceScheduler(cfg, logger)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		logger.Info().Msg("shutting down server")
		coordinator.Shutdown()
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			logger.Error().Err(err).Msg("server shutdown error")
		}
	}()

	addr := ":" + cfg.Server.Port
	logger.Info().Str("addr", addr).Msg("server starting")
	if err := app.Listen(addr); err != nil {
		logger.Fatal().Err(err).Msg("server error")
	}
}

func startMaintenanceWorker(cfg *config.Config, cleanupWorker *worker.CleanupWorker, logger zerolog.Logger) {
	asynqLogLevel := asynq.InfoLevel
	switch strings.ToLower(cfg.Server.LogLevel) {
	case "debug":
		asynqLogLevel = asynq.DebugLevel
	case "warn":
		asynqLogLevel = asynq.WarnLevel
	case "error":
		asynqLogLevel = asynq.ErrorLevel
	}

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: 1,
			Queues: map[string]int{
				worker.QueueMaintenance: 1,
			},
			LogLevel: asynqLogLevel,
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(worker.TaskTypeWorkspaceCleanup, cleanupWorker.ProcessTask)

	if err := srv.Run(mux); err != nil {
		logger.Error().Err(err).Msg("maintenance worker error")
	}
}

func startMaintenanceScheduler(cfg *config.Config, logger zerolog.Logger) {
	scheduler := asynq.NewScheduler(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		nil,
	)

	if _, err := scheduler.Register(
		cfg.Cleanup.Interval,
		worker.NewCleanupTask(),
		asynq.Queue(worker.QueueMaintenance),
	); err != nil {
		logger.Error().Err(err).Msg("failed to register cleanup schedule")
		return
	}

	if err := scheduler.Run(); err != nil {
		logger.Error().Err(err).Msg("maintenance scheduler error")
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return response.Error(c, code, response.CodeServiceError, message, nil)
}
