package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	sharedLogger "storybook-server/shared/logger"
	"storybook-server/shared/middleware"
	"storybook-server/websocket-service/internal/config"
	"storybook-server/websocket-service/internal/handler"
	"storybook-server/websocket-service/internal/messaging"
	"storybook-server/websocket-service/internal/service"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Загружаем .env файл (если есть) для локальной разработки
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		initLogger("info")
		log.Fatal().Err(err).Msg("Ошибка загрузки конфигурации")
	}
	initLogger(cfg.LogLevel)
	cfg.LogSummary(log.Logger)

	zapLogger, err := sharedLogger.New(sharedLogger.Config{Level: cfg.LogLevel, Service: "websocket-service"})
	if err != nil {
		log.Fatal().Err(err).Msg("Ошибка инициализации zap логгера")
	}
	defer zapLogger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	verifier, err := service.NewTokenVerifier(ctx, cfg.Auth, zapLogger)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("Ошибка инициализации проверки токенов")
	}

	rabbitConn, err := connectRabbitMQ(cfg.RabbitMQ.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("Не удалось подключиться к RabbitMQ")
	}
	defer rabbitConn.Close()

	connManager := handler.NewConnectionManager(log.Logger)

	mqConsumer := messaging.NewConsumer(rabbitConn, connManager, log.Logger)
	if err := mqConsumer.Start(); err != nil {
		log.Fatal().Err(err).Msg("Не удалось запустить консьюмер RabbitMQ")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.EchoZerologLogger(log.Logger))
	e.Use(echoMiddleware.Recover())
	e.Use(echoMiddleware.CORSWithConfig(echoMiddleware.CORSConfig{
		AllowOrigins: cfg.Server.AllowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	wsHandler := handler.NewWebSocketHandler(connManager, cfg.Server.AllowedOrigins, cfg.Server.SendBuffer, log.Logger)
	wsGroup := e.Group("/ws")
	wsGroup.Use(middleware.EchoAuthMiddleware(verifier))
	wsGroup.GET("", wsHandler.Handle)

	metricsSrv := startMetricsServer(cfg.Server.MetricsPort)

	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("WebSocket сервер слушает")
		if err := e.Start(":" + cfg.Server.Port); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Ошибка запуска сервера")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Получен сигнал завершения, начинаем graceful shutdown...")

	mqConsumer.Stop()
	connManager.CloseAll()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Ошибка при graceful shutdown Echo")
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Ошибка остановки сервера метрик")
	}

	log.Info().Msg("WebSocket сервис успешно остановлен")
}

// initLogger настраивает глобальный логгер
func initLogger(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Str("service", "websocket-service").Logger()

	// В режиме разработки используем более читаемый вывод
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		log.Logger = zerolog.New(output).With().Timestamp().Caller().Logger()
	}

	logLevel := zerolog.InfoLevel
	if lvl, err := zerolog.ParseLevel(level); err == nil {
		logLevel = lvl
	}
	zerolog.SetGlobalLevel(logLevel)
}

func startMetricsServer(port string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: ":" + port, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info().Str("port", port).Msg("Запуск сервера метрик")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Ошибка сервера метрик")
		}
	}()
	return srv
}

// connectRabbitMQ пытается подключиться к RabbitMQ с несколькими попытками
func connectRabbitMQ(url string) (*amqp.Connection, error) {
	var conn *amqp.Connection
	var err error
	maxRetries := 5
	retryDelay := 5 * time.Second

	for i := 0; i < maxRetries; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			log.Info().Msg("Успешное подключение к RabbitMQ")
			return conn, nil
		}
		log.Warn().Err(err).Int("attempt", i+1).Int("max", maxRetries).Dur("delay", retryDelay).Msg("Не удалось подключиться к RabbitMQ, повтор")
		time.Sleep(retryDelay)
	}
	return nil, err
}
