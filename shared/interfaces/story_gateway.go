package interfaces

import (
	"context"

	"storybook-server/shared/models"
)

// StoryDocumentGateway - доступ к документам детей, аккаунтов и историй.
// Все методы возвращают сентинел-ошибки из shared/models (ErrKidNotFound, ErrStoryNotFound, ...).
//
//go:generate mockery --name StoryDocumentGateway --output ../../story-generator/internal/mocks --outpkg mocks --case=underscore
type StoryDocumentGateway interface {
	// GetKid возвращает профиль ребенка. ErrKidNotFound, если документа нет.
	GetKid(ctx context.Context, kidID string) (*models.Kid, error)
	// IncrementKidStories атомарно увеличивает счетчик созданных историй.
	IncrementKidStories(ctx context.Context, kidID string) error
	// UpdateKidAvatar сохраняет URL сгенерированного аватара.
	UpdateKidAvatar(ctx context.Context, kidID, avatarURL string) error
	// GetAccount возвращает аккаунт родителя. ErrAccountNotFound, если документа нет.
	GetAccount(ctx context.Context, accountID string) (*models.Account, error)

	// CreateStory создает документ истории и заполняет story.ID, если он пустой.
	CreateStory(ctx context.Context, story *models.Story) (string, error)
	// GetStory возвращает документ истории. ErrStoryNotFound, если документа нет.
	GetStory(ctx context.Context, storyID string) (*models.Story, error)
	// UpdateStory обновляет только заданные поля (title, status, pages, coverImageUrl) и lastUpdated.
	UpdateStory(ctx context.Context, storyID string, update models.StoryUpdate) error
	// PatchPage обновляет одну страницу по пути pages.{n}, не затрагивая остальные.
	// Защищен проверкой версии документа; при конфликте документ перечитывается ограниченное число раз.
	// ErrPageOutOfRange, если pageNum вне массива; ErrPagesMissing, если pages отсутствует или не массив.
	PatchPage(ctx context.Context, storyID string, pageNum int, patch models.PagePatch) (*models.Story, error)
	// MarkReadyNotified атомарно отмечает, что уведомление о готовности отправлено.
	// Возвращает ErrAlreadyNotified, если отметка уже стоит.
	MarkReadyNotified(ctx context.Context, storyID string) error
}
