package database

import (
	"context"
	"sync"
	"time"

	"storybook-server/shared/interfaces"
	"storybook-server/shared/models"

	"github.com/google/uuid"
)

var _ interfaces.StoryDocumentGateway = (*MemoryStoryGateway)(nil)

// MemoryStoryGateway хранит документы в памяти процесса. Используется в тестах и для локального запуска.
// Все возвращаемые значения - копии, изменения вне шлюза не влияют на хранилище.
type MemoryStoryGateway struct {
	mu       sync.Mutex
	kids     map[string]models.Kid
	accounts map[string]models.Account
	stories  map[string]models.Story
	now      func() time.Time
}

func NewMemoryStoryGateway() *MemoryStoryGateway {
	return &MemoryStoryGateway{
		kids:     map[string]models.Kid{},
		accounts: map[string]models.Account{},
		stories:  map[string]models.Story{},
		now:      time.Now,
	}
}

// PutKid добавляет или заменяет профиль ребенка.
func (g *MemoryStoryGateway) PutKid(kid models.Kid) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.kids[kid.ID] = kid
}

// PutAccount добавляет или заменяет аккаунт.
func (g *MemoryStoryGateway) PutAccount(acc models.Account) {
	g.mu.Lock()
	defer g.mu.Unlock()
	acc.Devices = append([]models.DeviceToken(nil), acc.Devices...)
	g.accounts[acc.ID] = acc
}

// PutStory записывает документ истории как есть (включая nil Pages).
func (g *MemoryStoryGateway) PutStory(story models.Story) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stories[story.ID] = cloneStory(story)
}

func (g *MemoryStoryGateway) GetKid(ctx context.Context, kidID string) (*models.Kid, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	kid, ok := g.kids[kidID]
	if !ok {
		return nil, models.ErrKidNotFound
	}
	return &kid, nil
}

func (g *MemoryStoryGateway) IncrementKidStories(ctx context.Context, kidID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	kid, ok := g.kids[kidID]
	if !ok {
		return models.ErrKidNotFound
	}
	kid.StoriesCreated++
	g.kids[kidID] = kid
	return nil
}

func (g *MemoryStoryGateway) UpdateKidAvatar(ctx context.Context, kidID, avatarURL string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	kid, ok := g.kids[kidID]
	if !ok {
		return models.ErrKidNotFound
	}
	kid.AvatarURL = avatarURL
	g.kids[kidID] = kid
	return nil
}

func (g *MemoryStoryGateway) GetAccount(ctx context.Context, accountID string) (*models.Account, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	acc, ok := g.accounts[accountID]
	if !ok {
		return nil, models.ErrAccountNotFound
	}
	acc.Devices = append([]models.DeviceToken(nil), acc.Devices...)
	return &acc, nil
}

func (g *MemoryStoryGateway) CreateStory(ctx context.Context, story *models.Story) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if story.ID == "" {
		story.ID = uuid.NewString()
	}
	if story.Pages == nil {
		story.Pages = []models.Page{}
	}
	now := g.now()
	story.CreatedAt, story.LastUpdated = now, now
	story.Version = 1
	g.stories[story.ID] = cloneStory(*story)
	return story.ID, nil
}

func (g *MemoryStoryGateway) GetStory(ctx context.Context, storyID string) (*models.Story, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.stories[storyID]
	if !ok {
		return nil, models.ErrStoryNotFound
	}
	out := cloneStory(s)
	return &out, nil
}

func (g *MemoryStoryGateway) UpdateStory(ctx context.Context, storyID string, update models.StoryUpdate) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.stories[storyID]
	if !ok {
		return models.ErrStoryNotFound
	}
	if update.IsEmpty() {
		return nil
	}
	if update.Title != nil {
		s.Title = *update.Title
	}
	if update.Status != nil {
		s.Status = *update.Status
	}
	if update.Pages != nil {
		s.Pages = append([]models.Page{}, update.Pages...)
	}
	if update.CoverImageURL != nil {
		s.CoverImageURL = *update.CoverImageURL
	}
	s.Version++
	s.LastUpdated = g.now()
	g.stories[storyID] = s
	return nil
}

func (g *MemoryStoryGateway) PatchPage(ctx context.Context, storyID string, pageNum int, patch models.PagePatch) (*models.Story, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.stories[storyID]
	if !ok {
		return nil, models.ErrStoryNotFound
	}
	if s.Pages == nil {
		return nil, models.ErrPagesMissing
	}
	if pageNum < 0 || pageNum >= len(s.Pages) {
		return nil, models.ErrPageOutOfRange
	}

	pages := append([]models.Page{}, s.Pages...)
	patch.Apply(&pages[pageNum])
	s.Pages = pages
	s.Version++
	s.LastUpdated = g.now()
	g.stories[storyID] = s

	out := cloneStory(s)
	return &out, nil
}

func (g *MemoryStoryGateway) MarkReadyNotified(ctx context.Context, storyID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.stories[storyID]
	if !ok {
		return models.ErrStoryNotFound
	}
	if s.ReadyNotifiedAt != nil {
		return models.ErrAlreadyNotified
	}
	now := g.now()
	s.ReadyNotifiedAt = &now
	s.Version++
	g.stories[storyID] = s
	return nil
}

func cloneStory(s models.Story) models.Story {
	if s.Pages != nil {
		s.Pages = append([]models.Page{}, s.Pages...)
	}
	if s.ReadyNotifiedAt != nil {
		t := *s.ReadyNotifiedAt
		s.ReadyNotifiedAt = &t
	}
	return s
}
