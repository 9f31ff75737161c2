// Package bootstrap собирает зависимости оркестратора по конфигурации.
// Используется и API сервером, и воркером.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"time"

	pkgdb "storybook-server/pkg/database"
	"storybook-server/pkg/migration"
	"storybook-server/shared/authutils"
	"storybook-server/shared/database"
	"storybook-server/shared/firebaseapp"
	"storybook-server/shared/interfaces"
	"storybook-server/shared/messaging"
	"storybook-server/shared/notifications"
	"storybook-server/shared/storage"
	"storybook-server/story-generator/internal/ai"
	"storybook-server/story-generator/internal/config"
	"storybook-server/story-generator/internal/pipeline"

	firebase "firebase.google.com/go/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.uber.org/zap"
)

// Components - собранные зависимости процесса. Close освобождает все открытые ресурсы.
type Components struct {
	Orchestrator *pipeline.Orchestrator
	Gateway      interfaces.StoryDocumentGateway
	Publisher    *messaging.RabbitMQPublisher
	Verifier     interfaces.TokenVerifier
	FirebaseApp  *firebase.App

	closers []func()
}

// Close закрывает ресурсы в обратном порядке открытия.
func (c *Components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

func (c *Components) onClose(f func()) { c.closers = append(c.closers, f) }

// Build создает оркестратор со всеми бэкендами из cfg. conn может быть nil,
// тогда прогресс не публикуется, а NOTIFIER=queue недоступен.
func Build(ctx context.Context, cfg *config.Config, conn *amqp.Connection, logger *zap.Logger) (*Components, error) {
	c := &Components{}
	ok := false
	defer func() {
		if !ok {
			c.Close()
		}
	}()

	if needsFirebase(cfg) {
		app, err := firebaseapp.New(ctx, firebaseapp.Config{
			ProjectID:       cfg.FirebaseProjectID,
			CredentialsFile: cfg.FirebaseCredentialsFile,
			StorageBucket:   cfg.FirebaseStorageBucket,
		}, logger)
		if err != nil {
			return nil, err
		}
		c.FirebaseApp = app
	}

	if conn != nil {
		pub, err := messaging.NewRabbitMQPublisher(conn, logger)
		if err != nil {
			return nil, err
		}
		c.Publisher = pub
		c.onClose(func() { _ = pub.Close() })
	}

	gateway, err := c.buildGateway(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	c.Gateway = gateway

	objects, err := c.buildStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	notifier, err := c.buildNotifier(cfg, gateway, logger)
	if err != nil {
		return nil, err
	}

	locker, err := c.buildLocker(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	verifier, err := c.buildVerifier(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	c.Verifier = verifier

	prompts, err := ai.NewPromptProvider(logger)
	if err != nil {
		return nil, err
	}
	text, err := ai.NewTextGenerator(cfg, prompts, logger)
	if err != nil {
		return nil, err
	}
	image, err := ai.NewImageGenerator(ctx, cfg, prompts, logger)
	if err != nil {
		return nil, err
	}

	deps := pipeline.Deps{
		Gateway:  gateway,
		Text:     text,
		Image:    image,
		Storage:  objects,
		Notifier: notifier,
		Locker:   locker,
		Logger:   logger,
	}
	if c.Publisher != nil {
		deps.Progress = c.Publisher
	}
	c.Orchestrator = pipeline.New(deps, pipeline.OptionsFromConfig(cfg))

	ok = true
	return c, nil
}

func needsFirebase(cfg *config.Config) bool {
	return cfg.DocumentStore == "firestore" || cfg.StorageBackend == "firebase" || cfg.AuthMode == "firebase"
}

func (c *Components) buildGateway(ctx context.Context, cfg *config.Config, logger *zap.Logger) (interfaces.StoryDocumentGateway, error) {
	switch cfg.DocumentStore {
	case "firestore":
		client, err := c.FirebaseApp.Firestore(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create firestore client: %w", err)
		}
		c.onClose(func() { _ = client.Close() })
		return database.NewFirestoreStoryGateway(client, cfg.Env, logger), nil
	case "postgres":
		pool, err := openPostgres(ctx, cfg)
		if err != nil {
			return nil, err
		}
		c.onClose(pool.Close)
		return database.NewPgStoryGateway(pool, cfg.Env, logger), nil
	default:
		logger.Warn("Using in-memory document store, data is lost on restart")
		return database.NewMemoryStoryGateway(), nil
	}
}

// openPostgres подключается с повторами и применяет встроенные миграции.
func openPostgres(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	zlog := zerolog.New(os.Stdout).With().Timestamp().Str("service", "story-generator").Logger()

	const maxRetries = 10
	retryDelay := 3 * time.Second
	var (
		pool *pgxpool.Pool
		err  error
	)
	for attempt := 1; attempt <= maxRetries; attempt++ {
		pool, err = pkgdb.Open(ctx, pkgdb.Config{
			DSN:         cfg.GetDSN(),
			MaxConns:    int32(cfg.DBMaxConns),
			IdleTimeout: cfg.DBIdleTimeout,
			PingTimeout: 5 * time.Second,
		}, zlog)
		if err == nil {
			break
		}
		zlog.Warn().Err(err).Int("attempt", attempt).Int("max_attempts", maxRetries).Msg("PostgreSQL is not ready")
		if attempt < maxRetries {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryDelay):
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("не удалось подключиться к БД после %d попыток: %w", maxRetries, err)
	}

	migrator := migration.NewMigrator(migration.Config{FS: database.MigrationsFS, Dir: database.MigrationsDir}, pool, zlog)
	if err := migrator.Up(); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ошибка применения миграций: %w", err)
	}
	return pool, nil
}

func (c *Components) buildStorage(ctx context.Context, cfg *config.Config, logger *zap.Logger) (interfaces.ObjectStorage, error) {
	if cfg.StorageBackend == "minio" {
		s, err := storage.NewMinIOStorage(storage.MinIOConfig{
			Endpoint:      cfg.MinioEndpoint,
			AccessKey:     cfg.MinioAccessKey,
			SecretKey:     cfg.MinioSecretKey,
			Bucket:        cfg.MinioBucket,
			UseSSL:        cfg.MinioUseSSL,
			PublicBaseURL: cfg.MinioPublicBaseURL,
		}, logger)
		if err != nil {
			return nil, err
		}
		if err := s.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return s, nil
	}

	client, err := c.FirebaseApp.Storage(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create firebase storage client: %w", err)
	}
	bucket, err := client.Bucket(cfg.FirebaseStorageBucket)
	if err != nil {
		return nil, fmt.Errorf("failed to open bucket '%s': %w", cfg.FirebaseStorageBucket, err)
	}
	return storage.NewGCSStorage(bucket, cfg.FirebaseStorageBucket, logger), nil
}

func (c *Components) buildNotifier(cfg *config.Config, accounts notifications.AccountLookup, logger *zap.Logger) (interfaces.NotificationGateway, error) {
	switch cfg.Notifier {
	case "email":
		return notifications.NewSendGridNotifier(notifications.EmailConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, accounts, logger), nil
	case "queue":
		if c.Publisher == nil {
			return nil, fmt.Errorf("NOTIFIER=queue требует подключения к RabbitMQ")
		}
		return notifications.NewQueueNotifier(c.Publisher, logger), nil
	default:
		return notifications.NewLogNotifier(logger), nil
	}
}

func (c *Components) buildLocker(ctx context.Context, cfg *config.Config, logger *zap.Logger) (interfaces.Locker, error) {
	if cfg.RedisAddr == "" {
		logger.Info("Using in-process story locks")
		return database.NewMemoryLocker(), nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
	}
	c.onClose(func() { _ = client.Close() })
	logger.Info("Using Redis story locks", zap.String("addr", cfg.RedisAddr))
	return database.NewRedisLocker(client, "storybook:lock:", logger), nil
}

func (c *Components) buildVerifier(ctx context.Context, cfg *config.Config, logger *zap.Logger) (interfaces.TokenVerifier, error) {
	if cfg.AuthMode == "jwt" {
		return authutils.NewJWTVerifier(cfg.JWTSecret, logger)
	}
	client, err := c.FirebaseApp.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create firebase auth client: %w", err)
	}
	return authutils.NewFirebaseVerifier(client, logger), nil
}

// ConnectRabbitMQ подключается к RabbitMQ с несколькими попытками.
func ConnectRabbitMQ(ctx context.Context, url string, logger *zap.Logger) (*amqp.Connection, error) {
	const maxRetries = 5
	retryDelay := 5 * time.Second

	var (
		conn *amqp.Connection
		err  error
	)
	for i := 0; i < maxRetries; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			logger.Info("Connected to RabbitMQ")
			return conn, nil
		}
		logger.Warn("Failed to connect to RabbitMQ, retrying",
			zap.Int("attempt", i+1),
			zap.Int("max_attempts", maxRetries),
			zap.Duration("delay", retryDelay),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryDelay):
		}
	}
	return nil, err
}
