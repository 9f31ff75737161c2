package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	sharedLogger "storybook-server/shared/logger"
	"storybook-server/story-generator/internal/bootstrap"
	"storybook-server/story-generator/internal/config"
	"storybook-server/story-generator/internal/messaging"
	"storybook-server/story-generator/internal/worker"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Ошибка загрузки конфигурации: %v\n", err)
		os.Exit(1)
	}

	logger, err := sharedLogger.New(sharedLogger.Config{
		Level:    cfg.LogLevel,
		Encoding: cfg.LogEncoding,
		Service:  "story-generator-worker",
	})
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	logger.Info("Starting story generator worker...")
	cfg.LogSummary(logger)

	initCtx, initCancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer initCancel()

	conn, err := bootstrap.ConnectRabbitMQ(initCtx, cfg.RabbitMQURL, logger)
	if err != nil {
		logger.Fatal("Не удалось подключиться к RabbitMQ", zap.Error(err))
	}
	defer conn.Close()

	components, err := bootstrap.Build(initCtx, cfg, conn, logger)
	if err != nil {
		logger.Fatal("Failed to initialize dependencies", zap.Error(err))
	}
	defer components.Close()

	if cfg.PushgatewayURL != "" {
		pusher, err := worker.NewMetricsPusher(cfg.PushgatewayURL, logger)
		if err != nil {
			logger.Warn("Pushgateway is unavailable, metrics are served on /metrics only", zap.Error(err))
		} else {
			pusher.Start(15 * time.Second)
			defer pusher.Close()
		}
	}

	metricsServer := startMetricsServer(cfg.MetricsPort, logger)

	handler := worker.NewTaskHandler(components.Orchestrator, cfg.StoryTimeout, logger)
	consumer := messaging.NewTaskConsumer(conn, handler, cfg.WorkerPrefetch, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := consumer.Start(ctx); err != nil {
		logger.Fatal("Failed to start task consumer", zap.Error(err))
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

	// Сначала отменяем подписку, чтобы выполняющиеся задачи успели завершиться.
	if err := consumer.Stop(time.Minute); err != nil {
		logger.Error("Error stopping task consumer", zap.Error(err))
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Metrics server forced to shutdown", zap.Error(err))
	}
	logger.Info("Worker exiting")
}

func startMetricsServer(port string, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(worker.Gatherer(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("Starting metrics server", zap.String("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Metrics server error", zap.Error(err))
		}
	}()
	return srv
}
