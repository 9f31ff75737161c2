package notifications

import (
	"context"
	"fmt"

	"storybook-server/shared/interfaces"
	"storybook-server/shared/models"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"
)

var _ interfaces.NotificationGateway = (*EmailNotifier)(nil)

// MailSender - часть клиента SendGrid, которой пользуется EmailNotifier.
type MailSender interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// AccountLookup находит аккаунт получателя.
type AccountLookup interface {
	GetAccount(ctx context.Context, accountID string) (*models.Account, error)
}

// EmailConfig - отправитель писем.
type EmailConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
}

// EmailNotifier отправляет родителю письмо о готовности истории через SendGrid.
type EmailNotifier struct {
	sender   MailSender
	accounts AccountLookup
	from     *mail.Email
	logger   *zap.Logger
}

// NewSendGridNotifier создает EmailNotifier поверх клиента SendGrid.
func NewSendGridNotifier(cfg EmailConfig, accounts AccountLookup, logger *zap.Logger) *EmailNotifier {
	return NewEmailNotifier(sendgrid.NewSendClient(cfg.APIKey), cfg, accounts, logger)
}

func NewEmailNotifier(sender MailSender, cfg EmailConfig, accounts AccountLookup, logger *zap.Logger) *EmailNotifier {
	return &EmailNotifier{
		sender:   sender,
		accounts: accounts,
		from:     mail.NewEmail(cfg.FromName, cfg.FromEmail),
		logger:   logger.Named("EmailNotifier"),
	}
}

func (n *EmailNotifier) NotifyStoryReady(ctx context.Context, note interfaces.StoryReadyNotification) error {
	log := n.logger.With(zap.String("story_id", note.StoryID), zap.String("account_id", note.AccountID))

	account, err := n.accounts.GetAccount(ctx, note.AccountID)
	if err != nil {
		return fmt.Errorf("failed to load account for story ready email: %w", err)
	}
	if account.Email == "" {
		log.Warn("Account has no email, story ready email skipped")
		return nil
	}

	lang := detectLanguage(note.Title, account.Language)
	msg := renderStoryReadyEmail(lang, account.Name, note.KidName, note.Title, note.Link)
	email := mail.NewSingleEmail(n.from, msg.Subject, mail.NewEmail(account.Name, account.Email), msg.Text, msg.HTML)

	resp, err := n.sender.SendWithContext(ctx, email)
	if err != nil {
		log.Error("SendGrid request failed", zap.Error(err))
		return fmt.Errorf("sendgrid send failed: %w", err)
	}
	if resp.StatusCode >= 300 {
		log.Error("SendGrid rejected email", zap.Int("status", resp.StatusCode), zap.String("body", resp.Body))
		return fmt.Errorf("sendgrid returned status %d", resp.StatusCode)
	}

	log.Info("Story ready email sent", zap.String("language", lang), zap.Int("status", resp.StatusCode))
	return nil
}
