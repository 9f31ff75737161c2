package interfaces

import (
	"context"

	"storybook-server/shared/models"
)

// TokenVerifier проверяет bearer-токен вызывающей стороны и возвращает ее идентичность.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, tokenString string) (models.Identity, error)
}
