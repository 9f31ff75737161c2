package service

import (
	"context"
	"fmt"

	"storybook-server/shared/authutils"
	"storybook-server/shared/firebaseapp"
	"storybook-server/shared/interfaces"
	"storybook-server/websocket-service/internal/config"

	"go.uber.org/zap"
)

// NewTokenVerifier создает проверку токенов клиента тем же способом, что и HTTP API.
// Общие компоненты логируют через zap, поэтому сюда передается zap-логгер.
func NewTokenVerifier(ctx context.Context, cfg config.AuthConfig, logger *zap.Logger) (interfaces.TokenVerifier, error) {
	if cfg.Mode == "jwt" {
		return authutils.NewJWTVerifier(cfg.JWTSecret, logger)
	}

	app, err := firebaseapp.New(ctx, firebaseapp.Config{
		ProjectID:       cfg.ProjectID,
		CredentialsFile: cfg.CredentialsFile,
	}, logger)
	if err != nil {
		return nil, err
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания Firebase Auth клиента: %w", err)
	}
	return authutils.NewFirebaseVerifier(client, logger), nil
}
