package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storybook-server/notification-service/internal/config"
	"storybook-server/notification-service/internal/messaging"
	"storybook-server/notification-service/internal/service"
	"storybook-server/shared/database"
	"storybook-server/shared/firebaseapp"
	"storybook-server/shared/interfaces"
	sharedLogger "storybook-server/shared/logger"
	"storybook-server/shared/notifications"

	"github.com/joho/godotenv"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config.yml", "путь к yaml конфигурации")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	logger, err := sharedLogger.New(sharedLogger.Config{
		Level:    cfg.Log.Level,
		Encoding: cfg.Log.Encoding,
		Service:  "notification-service",
	})
	if err != nil {
		log.Fatalf("Ошибка инициализации логгера: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("Логгер инициализирован", "logLevel", cfg.Log.Level)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	rabbitConn, err := connectRabbitMQ(cfg.RabbitMQ.URI, logger)
	if err != nil {
		sugar.Fatalf("Не удалось подключиться к RabbitMQ: %v", err)
	}
	defer rabbitConn.Close()

	app, err := firebaseapp.New(ctx, firebaseapp.Config{
		ProjectID:       cfg.Firebase.ProjectID,
		CredentialsFile: cfg.Firebase.CredentialsPath,
	}, logger)
	if err != nil {
		sugar.Fatalf("Ошибка инициализации Firebase: %v", err)
	}
	firestoreClient, err := app.Firestore(ctx)
	if err != nil {
		sugar.Fatalf("Ошибка создания клиента Firestore: %v", err)
	}
	defer firestoreClient.Close()
	accounts := database.NewFirestoreStoryGateway(firestoreClient, cfg.Env, logger)

	var senders []service.PlatformSender
	if !cfg.Firebase.DisableFCM {
		fcmSender, err := service.NewFCMSender(ctx, app, logger)
		if err != nil {
			sugar.Fatalf("Ошибка инициализации FCM Sender: %v", err)
		}
		senders = append(senders, fcmSender)
	}
	apnsSender, err := service.NewApnsSender(cfg.APNS, logger)
	if err != nil {
		sugar.Fatalf("Ошибка инициализации APNS Sender: %v", err)
	}
	if apnsSender != nil {
		senders = append(senders, apnsSender)
	}

	var email interfaces.NotificationGateway
	if cfg.Email.APIKey != "" {
		email = notifications.NewSendGridNotifier(notifications.EmailConfig{
			APIKey:    cfg.Email.APIKey,
			FromEmail: cfg.Email.FromEmail,
			FromName:  cfg.Email.FromName,
		}, accounts, logger)
	}

	notificationService := service.NewNotificationService(service.NewAccountTokenProvider(accounts, logger), email, logger, senders...)

	processor := messaging.NewProcessor(logger, notificationService)
	consumer := messaging.NewConsumer(rabbitConn, logger, cfg.WorkerConcurrency, processor)

	healthSrv := startHealthCheckServer(cfg.HealthCheckPort, logger)

	consumerErrChan := make(chan error, 1)
	go func() {
		sugar.Info("Запуск консьюмера RabbitMQ...")
		consumerErrChan <- consumer.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		sugar.Info("Получен сигнал завершения, начинаем остановку...")
		consumer.Stop()
		<-consumerErrChan
	case err := <-consumerErrChan:
		sugar.Errorf("Консьюмер завершился, инициируем остановку: %v", err)
	}

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := healthSrv.Shutdown(ctxShutdown); err != nil {
		sugar.Errorf("Ошибка при остановке Health Check сервера: %v", err)
	}
	sugar.Info("Сервис уведомлений успешно остановлен.")
}

func startHealthCheckServer(port string, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("Запуск Health Check сервера", zap.String("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Ошибка запуска Health Check сервера", zap.Error(err))
		}
	}()
	return srv
}

// connectRabbitMQ пытается подключиться к RabbitMQ с несколькими попытками.
func connectRabbitMQ(uri string, logger *zap.Logger) (*amqp.Connection, error) {
	var (
		connection *amqp.Connection
		err        error
	)
	maxRetries := 50
	retryDelay := 5 * time.Second

	for i := 0; i < maxRetries; i++ {
		connection, err = amqp.Dial(uri)
		if err == nil {
			logger.Info("Подключение к RabbitMQ успешно установлено")
			go func() {
				closeErr := <-connection.NotifyClose(make(chan *amqp.Error, 1))
				if closeErr != nil {
					// Без соединения консьюмер бесполезен, перезапуск выполнит оркестратор контейнеров.
					logger.Fatal("Соединение с RabbitMQ разорвано", zap.Error(closeErr))
				}
			}()
			return connection, nil
		}
		logger.Warn("Не удалось подключиться к RabbitMQ, попытка переподключения...",
			zap.Error(err),
			zap.Int("retry", i+1),
			zap.Duration("delay", retryDelay),
		)
		time.Sleep(retryDelay)
	}
	return nil, fmt.Errorf("не удалось подключиться к RabbitMQ после %d попыток: %w", maxRetries, err)
}
