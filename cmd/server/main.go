package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/bookvision/visualization/internal/client"
	"github.com/bookvision/visualization/internal/config"
	"github.com/bookvision/visualization/internal/handler"
	"github.com/bookvision/visualization/internal/logger"
	"github.com/bookvision/visualization/internal/middleware"
	"github.com/bookvision/visualization/internal/queue"
	"github.com/bookvision/visualization/internal/repository"
	"github.com/bookvision/visualization/internal/retry"
	"github.com/bookvision/visualization/internal/service"
	ws "github.com/bookvision/visualization/internal/websocket"
	"github.com/bookvision/visualization/internal/worker"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		boot := zerolog.New(os.Stderr).With().Timestamp().Logger()
		boot.Fatal().Err(err).Msg("failed to load config")
	}
	log := logger.New(cfg.Server.Env, cfg.Server.LogLevel)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Msg("redis not available")
	}

	// Initialize Asynq client
	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer asynqClient.Close()

	validate := validator.New()

	// Event fan-out: WebSocket hub always, Kafka when brokers are configured
	hub := ws.NewHub(log)
	go hub.Run(ctx)

	sinks := []service.EventSink{hub}
	var kafkaPublisher *client.KafkaPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaPublisher = client.NewKafkaPublisher(&cfg.Kafka, log)
		defer kafkaPublisher.Close()
		sinks = append(sinks, kafkaPublisher)
	}
	events := service.NewEventPublisher(log, sinks...)

	// External clients
	catalogClient := client.NewCatalogClient(&cfg.Catalog, redisClient, log)
	promptGenClient := client.NewPromptGenClient(&cfg.PromptGen, log)
	groqClient := client.NewGroqClient(&cfg.Groq, log)
	prompts := service.NewPromptService(log, promptGenClient, groqClient)

	var images service.ImageGenerator
	imageAPIClient := client.NewImageAPIClient(&cfg.ImageAPI, log)
	if imageAPIClient.IsConfigured() {
		images = imageAPIClient
	} else {
		log.Info().Msg("image API not configured, using placeholder generator")
		images = &client.MockImageGenerator{Delay: 2 * time.Second}
	}

	// Storage: R2 when configured, local disk otherwise
	var storage client.StorageClient
	var localStorage *client.LocalStorage
	if cfg.R2.AccessKeyID != "" && cfg.R2.SecretAccessKey != "" {
		r2Client, err := client.NewR2Client(&cfg.R2)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize R2 client")
		}
		storage = r2Client
	} else {
		localStorage, err = client.NewLocalStorage(cfg.Storage.LocalPath, cfg.Storage.PublicURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize local storage")
		}
		log.Info().Str("path", cfg.Storage.LocalPath).Msg("R2 not configured, storing images on disk")
		storage = localStorage
	}
	ingestor := service.NewImageIngestor(storage, images, log)

	// Pipeline
	durations := service.NewDurationTracker(redisClient, cfg.Visualization.DefaultJobDuration, log)
	repo := repository.NewRedisJobRepository(redisClient, cfg.Visualization.JobRetention)
	vizService := service.NewVisualizationService(service.Dependencies{
		Repo:       repo,
		Queue:      queue.New(durations),
		Catalog:    catalogClient,
		Events:     events,
		Images:     ingestor,
		Tasks:      asynqClient,
		PurgeDelay: cfg.Storage.PurgeDelay,
		Log:        log,
	})

	orchestrator := worker.NewOrchestrator(vizService, prompts, images, ingestor, durations, worker.Config{
		Workers:      cfg.Visualization.Workers,
		PollInterval: cfg.Visualization.PollInterval,
		Policy: retry.Policy{
			MaxRetries:             cfg.Visualization.MaxRetries,
			PromptTimeout:          cfg.Visualization.PromptTimeout,
			ImageGenerationTimeout: cfg.Visualization.ImageGenerationTimeout,
			StorageTimeout:         cfg.Visualization.StorageTimeout,
		},
	}, log)

	orchestratorDone := make(chan struct{})
	go func() {
		defer close(orchestratorDone)
		if err := orchestrator.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("orchestrator stopped")
		}
	}()

	// Asynq server for deferred maintenance tasks
	asynqServer := newWorkerServer(cfg, log)
	purgeWorker := worker.NewPurgeWorker(ingestor, log)
	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypeImagePurge, purgeWorker.ProcessTask)
	if err := asynqServer.Start(mux); err != nil {
		log.Error().Err(err).Msg("asynq worker error")
	}

	// Handlers and middleware
	vizHandler := handler.NewVisualizationHandler(vizService, validate)
	wsHandler := handler.NewWebSocketHandler(hub, vizService)
	healthHandler := handler.NewHealthHandler(vizService, map[string]bool{
		"catalog":   catalogClient.IsConfigured(),
		"promptgen": promptGenClient.IsConfigured(),
		"groq":      groqClient.IsConfigured(),
		"imageApi":  imageAPIClient.IsConfigured(),
		"r2":        localStorage == nil,
		"kafka":     kafkaPublisher != nil,
	})

	if cfg.Gateway.Enabled {
		log.Info().Msg("gateway mode enabled, trusting X-User-* headers")
	}
	authMiddleware := middleware.NewAuthMiddleware(cfg.JWT.Secret, cfg.Gateway.Enabled)
	rateLimiter := middleware.NewRateLimiter(redisClient, log)

	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    1 * 1024 * 1024,
	})

	// Global middleware
	app.Use(recover.New())
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams}\n"
	}
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: logFormat,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	app.Get("/health", healthHandler.Health)
	if localStorage != nil {
		app.Static("/images", cfg.Storage.LocalPath)
	}

	// API routes
	api := app.Group("/api", authMiddleware.Authenticate())

	viz := api.Group("/visualizations")
	viz.Post("/", rateLimiter.CreateLimit(cfg.RateLimit.CreatePerMin), vizHandler.Create)
	viz.Get("/:jobId", vizHandler.Get)
	viz.Get("/:jobId/position", vizHandler.Position)
	viz.Get("/:jobId/events", vizHandler.Events)
	viz.Post("/:jobId/cancel", vizHandler.Cancel)
	viz.Post("/:jobId/images/:imageId/select", vizHandler.SelectImage)
	viz.Delete("/:jobId/images/:imageId", vizHandler.DeleteImage)

	api.Get("/books/:bookId/visualizations", vizHandler.ListByBook)
	api.Get("/me/visualizations", vizHandler.ListMine)

	// WebSocket routes
	wsRoutes := app.Group("/ws", wsHandler.RequireUpgrade, authMiddleware.Authenticate())
	wsRoutes.Get("/jobs/:jobId", wsHandler.Job, wsHandler.Serve())
	wsRoutes.Get("/books/:bookId", wsHandler.Book, wsHandler.Serve())
	wsRoutes.Get("/users/:userId", wsHandler.User, wsHandler.Serve())

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info().Msg("shutting down server")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Error().Err(err).Msg("server shutdown error")
		}
	}()

	addr := ":" + cfg.Server.Port
	log.Info().Str("addr", addr).Msg("server starting")
	if err := app.Listen(addr); err != nil {
		log.Error().Err(err).Msg("server error")
	}

	stop()
	asynqServer.Shutdown()
	<-orchestratorDone
	log.Info().Msg("server stopped")
}

func newWorkerServer(cfg *config.Config, log zerolog.Logger) *asynq.Server {
	return asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: 2,
			Queues: map[string]int{
				"maintenance": 1,
			},
			Logger:   logger.Asynq(log),
			LogLevel: logger.AsynqLevel(cfg.Server.LogLevel),
		},
	)
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "SERVICE_ERROR",
			"message": message,
		},
	})
}
