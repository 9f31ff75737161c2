// Package firebaseapp создает firebase.App, общий для Firestore, Storage, Auth и FCM.
package firebaseapp

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// Config - параметры проекта Firebase.
type Config struct {
	ProjectID       string
	CredentialsFile string // пустой путь - Application Default Credentials
	StorageBucket   string
}

// New инициализирует Firebase App.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*firebase.App, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	fbCfg := &firebase.Config{ProjectID: cfg.ProjectID, StorageBucket: cfg.StorageBucket}

	app, err := firebase.NewApp(ctx, fbCfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации Firebase App (project '%s'): %w", cfg.ProjectID, err)
	}
	logger.Info("Firebase App initialized",
		zap.String("project_id", cfg.ProjectID),
		zap.Bool("credentials_file", cfg.CredentialsFile != ""),
		zap.String("bucket", cfg.StorageBucket),
	)
	return app, nil
}
