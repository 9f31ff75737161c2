package authutils

import (
	"context"
	"fmt"

	"storybook-server/shared/models"

	"firebase.google.com/go/v4/auth"
	"go.uber.org/zap"
)

// IDTokenVerifier - часть firebase auth.Client, нужная для проверки ID токенов.
type IDTokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
}

// FirebaseVerifier проверяет Firebase ID токены мобильного клиента.
type FirebaseVerifier struct {
	client IDTokenVerifier
	logger *zap.Logger
}

// NewFirebaseVerifier создает FirebaseVerifier поверх firebase auth.Client.
func NewFirebaseVerifier(client IDTokenVerifier, logger *zap.Logger) *FirebaseVerifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FirebaseVerifier{client: client, logger: logger.Named("FirebaseVerifier")}
}

// VerifyToken проверяет ID токен и возвращает uid и email из него.
func (v *FirebaseVerifier) VerifyToken(ctx context.Context, tokenString string) (models.Identity, error) {
	token, err := v.client.VerifyIDToken(ctx, tokenString)
	if err != nil {
		v.logger.Warn("Firebase ID token verification failed", zap.Error(err), zap.String("tokenSnippet", tokenSnippet(tokenString)))
		if auth.IsIDTokenExpired(err) {
			return models.Identity{}, models.ErrTokenExpired
		}
		return models.Identity{}, fmt.Errorf("%w: %v", models.ErrTokenInvalid, err)
	}
	if token.UID == "" {
		return models.Identity{}, fmt.Errorf("%w: uid missing", models.ErrTokenInvalid)
	}

	email, _ := token.Claims["email"].(string)
	return models.Identity{UID: token.UID, Email: email}, nil
}
