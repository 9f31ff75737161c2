package service

import (
	"context"
	"errors"
	"fmt"

	"storybook-server/shared/models"

	"go.uber.org/zap"
)

// AccountLookup находит аккаунт родителя вместе с токенами его устройств.
type AccountLookup interface {
	GetAccount(ctx context.Context, accountID string) (*models.Account, error)
}

// TokenProvider возвращает токены устройств аккаунта.
type TokenProvider interface {
	GetAccountDeviceTokens(ctx context.Context, accountID string) ([]models.DeviceToken, error)
}

// accountTokenProvider читает токены из документа аккаунта.
type accountTokenProvider struct {
	accounts AccountLookup
	logger   *zap.Logger
}

func NewAccountTokenProvider(accounts AccountLookup, logger *zap.Logger) TokenProvider {
	return &accountTokenProvider{accounts: accounts, logger: logger.Named("account_token_provider")}
}

func (p *accountTokenProvider) GetAccountDeviceTokens(ctx context.Context, accountID string) ([]models.DeviceToken, error) {
	account, err := p.accounts.GetAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, models.ErrAccountNotFound) {
			p.logger.Warn("Аккаунт не найден, push не отправляется", zap.String("account_id", accountID))
			return nil, nil
		}
		return nil, fmt.Errorf("ошибка чтения аккаунта %s: %w", accountID, err)
	}

	tokens := make([]models.DeviceToken, 0, len(account.Devices))
	seen := make(map[string]struct{}, len(account.Devices))
	for _, d := range account.Devices {
		if d.Token == "" {
			continue
		}
		if _, dup := seen[d.Token]; dup {
			continue
		}
		seen[d.Token] = struct{}{}
		tokens = append(tokens, d)
	}
	return tokens, nil
}
