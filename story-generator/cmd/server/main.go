package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storybook-server/pkg/taskmanager"
	"storybook-server/shared/interfaces"
	sharedLogger "storybook-server/shared/logger"
	sharedMiddleware "storybook-server/shared/middleware"
	"storybook-server/story-generator/internal/api"
	"storybook-server/story-generator/internal/bootstrap"
	"storybook-server/story-generator/internal/config"
	"storybook-server/story-generator/internal/worker"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	ginprometheus "github.com/zsais/go-gin-prometheus"
	"go.uber.org/zap"
)

func main() {
	// .env нужен только для локального запуска
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := sharedLogger.New(sharedLogger.Config{
		Level:    cfg.LogLevel,
		Encoding: cfg.LogEncoding,
		Service:  "story-generator-api",
	})
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	cfg.LogSummary(logger)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	// Пустой RABBITMQ_URL отключает публикацию прогресса, очередь задач и NOTIFIER=queue.
	var conn *amqp.Connection
	if cfg.RabbitMQURL != "" {
		conn, err = bootstrap.ConnectRabbitMQ(ctx, cfg.RabbitMQURL, logger)
		if err != nil {
			logger.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
		}
		defer conn.Close()
	}

	components, err := bootstrap.Build(ctx, cfg, conn, logger)
	if err != nil {
		logger.Fatal("Failed to initialize dependencies", zap.Error(err))
	}
	defer components.Close()

	var (
		tasks      interfaces.TaskPublisher
		localTasks *taskmanager.TaskManager
	)
	if cfg.AsyncFullStory {
		switch cfg.TaskBackend {
		case "local":
			taskLogger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "story-generator-api").Logger()
			localTasks = taskmanager.New(taskmanager.Config{MaxTasks: cfg.LocalMaxTasks},
				worker.NewTaskHandler(components.Orchestrator, cfg.StoryTimeout, logger), taskLogger)
			tasks = localTasks
			logger.Info("Full story runs are executed in-process", zap.Int("max_tasks", cfg.LocalMaxTasks))
		default:
			if components.Publisher == nil {
				logger.Fatal("ASYNC_FULL_STORY with TASK_BACKEND=rabbitmq requires RabbitMQ")
			}
			tasks = components.Publisher
			logger.Info("Full story runs are queued to the worker")
		}
	}

	storyHandler := api.NewStoryHandler(components.Orchestrator, tasks, components.Verifier, cfg.StoryTimeout, logger)

	if cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.RedirectTrailingSlash = true
	router.Use(sharedMiddleware.ZapLoggingMiddlewareForGin(logger))
	router.Use(gin.Recovery())

	p := ginprometheus.NewPrometheus("gin")

	corsConfig := cors.DefaultConfig()
	if len(cfg.CORSAllowedOrigins) == 0 || (len(cfg.CORSAllowedOrigins) == 1 && cfg.CORSAllowedOrigins[0] == "*") {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = cfg.CORSAllowedOrigins
		corsConfig.AllowCredentials = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	healthHandler := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
	router.GET("/health", healthHandler)
	router.HEAD("/health", healthHandler)

	storyHandler.RegisterRoutes(router)

	// После регистрации роутов, чтобы метрики видели все пути. Отдает /metrics.
	p.Use(router)

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		// Синхронный полный прогон длится минутами
		WriteTimeout: cfg.StoryTimeout + time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	logger.Info("Starting HTTP server", zap.String("port", cfg.HTTPPort))
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP Server listen error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP Server forced to shutdown", zap.Error(err))
	}
	if localTasks != nil {
		if err := localTasks.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Background story tasks cancelled", zap.Error(err))
		}
	}
	logger.Info("Server exiting")
}
