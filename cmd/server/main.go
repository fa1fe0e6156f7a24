package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/clipcast/publisher/internal/auth"
	"github.com/clipcast/publisher/internal/config"
	"github.com/clipcast/publisher/internal/coordinator"
	"github.com/clipcast/publisher/internal/handler"
	"github.com/clipcast/publisher/internal/middleware"
	"github.com/clipcast/publisher/internal/publisher"
	"github.com/clipcast/publisher/internal/secrets"
	"github.com/clipcast/publisher/internal/service"
	"github.com/clipcast/publisher/internal/storage"
	"github.com/clipcast/publisher/internal/trigger"
	ws "github.com/clipcast/publisher/internal/websocket"
	"github.com/clipcast/publisher/internal/worker"
	"github.com/clipcast/publisher/pkg/response"
)

// @title          ClipCast Publisher API
// @version        1.0
// @description    Publish orchestration service that delivers finished clips from object storage to YouTube, Facebook and Buffer.
// @BasePath       /
// @securityDefinitions.apikey BearerAuth
// @in             header
// @name           Authorization
// @description    Enter your bearer token in the format **Bearer &lt;token&gt;**
func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	setupLogging(cfg)

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// Test Redis connection
	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logrus.Warnf("Redis not available: %v", err)
	}

	// Initialize Asynq client
	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer asynqClient.Close()

	// Initialize validator
	validate := validator.New()

	// Initialize WebSocket hub
	hub := ws.NewHub()
	go hub.Run()

	// Initialize object storage
	store, err := newObjectStore(ctx, cfg)
	if err != nil {
		logrus.Fatalf("Failed to init %s storage: %v", cfg.Storage.Driver, err)
	}
	fetcher := storage.NewFetcher(store, cfg.Ingest.MaxSizeBytes)
	scanner := trigger.NewScanner(store, cfg.Storage.Bucket, &cfg.Ingest)
	secretStore := secrets.NewEnvStore()

	// Initialize platform publishers and the coordinator that walks them
	coord := coordinator.New(&cfg.Publish,
		publisher.NewYouTubePublisher(&cfg.YouTube),
		publisher.NewFacebookPublisher(&cfg.Facebook),
		publisher.NewBufferPublisher(&cfg.Buffer),
	)

	// Initialize services
	publishService := service.NewPublishService(redisClient, asynqClient, scanner, cfg)

	// Initialize handlers
	publishHandler := handler.NewPublishHandler(publishService, validate)
	notifyHandler := handler.NewNotifyHandler(publishService, cfg, validate)

	// Behind the gateway the proxy has already verified the caller and we
	// trust its identity headers. Everywhere else tokens are validated
	// against the OIDC provider, with shared-secret JWTs as fallback.
	var authMW fiber.Handler
	var tokenVerifier auth.TokenVerifier
	authMode := "legacy"
	if cfg.Gateway.Enabled {
		authMW = middleware.GatewayAuthMiddleware()
		authMode = "gateway"
	} else if cfg.OIDC.Issuer != "" {
		verifier, err := auth.NewJWKSVerifier(&cfg.OIDC)
		if err != nil {
			logrus.Fatalf("Failed to init JWKS verifier: %v", err)
		}
		defer verifier.Close()
		tokenVerifier = verifier
		if cfg.JWT.Secret != "" {
			authMW = middleware.NewAuthMiddlewareWithFallback(verifier, cfg.JWT.Secret).Authenticate()
			authMode = "oidc+legacy"
		} else {
			authMW = middleware.NewAuthMiddleware(verifier).Authenticate()
			authMode = "oidc"
		}
	} else {
		authMW = middleware.NewLegacyAuthMiddleware(cfg.JWT.Secret).Authenticate()
	}
	logrus.Infof("Auth mode: %s", authMode)

	authHandler := handler.NewAuthHandler(tokenVerifier, cfg.JWT.Secret)
	rateLimiter := middleware.NewRateLimiter(redisClient)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "clipcast-publisher",
		ErrorHandler: customErrorHandler,
		BodyLimit:    1 * 1024 * 1024,
	})

	// Global middleware
	app.Use(recover.New())
	isDebug := strings.EqualFold(cfg.Server.LogLevel, "debug")
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if isDebug {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${body}\n"
	}
	app.Use(logger.New(logger.Config{
		Format: logFormat,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Hook-Secret",
	}))

	// Root endpoint
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"service":   "clipcast-publisher",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		redisStatus := "ok"
		if err := redisClient.Ping(c.Context()).Err(); err != nil {
			redisStatus = "unavailable"
		}
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"redis":   redisStatus,
				"storage": cfg.Storage.Driver,
				"auth":    authMode,
			},
		})
	})

	app.Get("/auth/verify", authHandler.Verify)

	// Storage notifications authenticate with the hook secret, not user tokens.
	app.Post("/hooks/storage", notifyHandler.Storage)

	// API routes
	api := app.Group("/api", authMW)
	api.Post("/publish", rateLimiter.PublishLimit(cfg.RateLimit.PublishPerHour), publishHandler.Start)
	api.Get("/publish/status/:jobId", publishHandler.Status)
	api.Get("/publish/result/:jobId", publishHandler.Result)
	api.Post("/publish/scan", rateLimiter.ScanLimit(cfg.RateLimit.ScanPerMin), publishHandler.Scan)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/jobs/:jobId", websocket.New(func(conn *websocket.Conn) {
		hub.HandleConnection(conn, conn.Params("jobId"))
	}))

	// Start background workers
	go startWorkerServer(cfg, publishService, store, fetcher, coord, secretStore, hub)

	if cfg.Schedule.Enabled {
		go startScheduler(cfg)
	}

	// Start server
	go func() {
		if err := app.Listen(":" + cfg.Server.Port); err != nil {
			logrus.Fatalf("Server failed: %v", err)
		}
	}()
	logrus.Infof("Server listening on port %s", cfg.Server.Port)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down...")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logrus.Errorf("Shutdown error: %v", err)
	}
}

func setupLogging(cfg *config.Config) {
	level, err := logrus.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	if cfg.Server.Env == "production" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

func newObjectStore(ctx context.Context, cfg *config.Config) (storage.ObjectStore, error) {
	switch cfg.Storage.Driver {
	case "gcs":
		return storage.NewGCSStore(ctx, &cfg.Storage)
	case "s3":
		return storage.NewS3Store(&cfg.Storage)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Storage.Driver)
	}
}

// startWorkerServer consumes publish and scan tasks. A publish job uploads to
// its targets sequentially inside one task, so queue concurrency only bounds
// how many artifacts are in flight at once.
func startWorkerServer(cfg *config.Config, publishService *service.PublishService, store storage.ObjectStore, fetcher *storage.Fetcher, coord *coordinator.Coordinator, secretStore secrets.Store, hub *ws.Hub) {
	asynqLogLevel := asynq.InfoLevel
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		asynqLogLevel = asynq.DebugLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "warn") {
		asynqLogLevel = asynq.WarnLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "error") {
		asynqLogLevel = asynq.ErrorLevel
	}

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"publish": 6,
				"scan":    4,
			},
			LogLevel: asynqLogLevel,
		},
	)

	publishWorker := worker.NewPublishWorker(publishService, store, fetcher, coord, secretStore, cfg, hub)
	scanWorker := worker.NewScanWorker(publishService)

	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypePublish, publishWorker.ProcessTask)
	mux.HandleFunc(service.TaskTypeScan, scanWorker.ProcessTask)

	if err := srv.Run(mux); err != nil {
		logrus.Errorf("Asynq worker error: %v", err)
	}
}

// startScheduler enqueues a scan task on the configured cron spec. The scan
// worker re-checks the posting window, so a firing outside it is a no-op.
func startScheduler(cfg *config.Config) {
	loc, err := time.LoadLocation(cfg.Schedule.Timezone)
	if err != nil {
		logrus.Warnf("Invalid schedule timezone %q, falling back to UTC: %v", cfg.Schedule.Timezone, err)
		loc = time.UTC
	}

	scheduler := asynq.NewScheduler(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		&asynq.SchedulerOpts{Location: loc},
	)

	task, err := service.NewScanTask("scheduled")
	if err != nil {
		logrus.Fatalf("Failed to build scan task: %v", err)
	}
	if _, err := scheduler.Register(cfg.Schedule.Spec, task, asynq.Queue("scan")); err != nil {
		logrus.Fatalf("Failed to register scan schedule %q: %v", cfg.Schedule.Spec, err)
	}

	logrus.Infof("Scan scheduler running with spec %q", cfg.Schedule.Spec)
	if err := scheduler.Run(); err != nil {
		logrus.Fatalf("Scheduler failed: %v", err)
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal server error"

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		code = fiberErr.Code
		message = fiberErr.Message
	}

	if code >= 500 {
		logrus.Errorf("Unhandled error on %s %s: %v", c.Method(), c.Path(), err)
	}

	return response.Error(c, code, response.CodeServiceError, message, nil)
}
