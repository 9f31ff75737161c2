package models

import (
	"fmt"
	"strings"
	"time"
)

// Stage - этап генерации истории. Закрытое перечисление.
type Stage string

const (
	StageInitializing     Stage = "initializing"
	StageTitlesGenerated  Stage = "titles_generated"
	StagePagesGenerated   Stage = "pages_generated"
	StagePromptsGenerated Stage = "prompts_generated"
	StageImagesInProgress Stage = "images_in_progress"
	StageCompleted        Stage = "completed"
)

var stageOrder = map[Stage]int{
	StageInitializing:     0,
	StageTitlesGenerated:  1,
	StagePagesGenerated:   2,
	StagePromptsGenerated: 3,
	StageImagesInProgress: 4,
	StageCompleted:        5,
}

// Order возвращает порядковый номер этапа; -1 для неизвестного значения.
func (s Stage) Order() int {
	if o, ok := stageOrder[s]; ok {
		return o
	}
	return -1
}

// IsValid проверяет, что этап входит в перечисление.
func (s Stage) IsValid() bool {
	return s.Order() >= 0
}

// StoryStatus - контрольная точка прогресса (этап + процент), которую опрашивает клиент.
type StoryStatus struct {
	Stage   Stage `json:"stage" firestore:"stage"`
	Percent int   `json:"percent" firestore:"percent"`
}

// Label возвращает старое строковое представление статуса (initializing, progress_40, completed).
func (s StoryStatus) Label() string {
	switch s.Stage {
	case StageInitializing:
		if s.Percent <= 5 {
			return string(StageInitializing)
		}
	case StageCompleted:
		return string(StageCompleted)
	}
	return fmt.Sprintf("progress_%d", s.Percent)
}

// Before сообщает, что s предшествует other (по этапу, затем по проценту).
func (s StoryStatus) Before(other StoryStatus) bool {
	if s.Stage.Order() != other.Stage.Order() {
		return s.Stage.Order() < other.Stage.Order()
	}
	return s.Percent < other.Percent
}

// PageType - тип страницы книги.
type PageType string

const (
	PageTypeNormal     PageType = "NORMAL"
	PageTypeGoodChoice PageType = "GOOD_CHOICE"
	PageTypeBadChoice  PageType = "BAD_CHOICE"
	PageTypeCover      PageType = "COVER"
)

// NormalizePageType приводит произвольную строку от модели к известному PageType.
func NormalizePageType(raw string) PageType {
	switch PageType(strings.ToUpper(strings.TrimSpace(raw))) {
	case PageTypeGoodChoice:
		return PageTypeGoodChoice
	case PageTypeBadChoice:
		return PageTypeBadChoice
	case PageTypeCover:
		return PageTypeCover
	default:
		return PageTypeNormal
	}
}

// Page - одна страница книги. PageNum всегда равен индексу в Story.Pages.
type Page struct {
	PageNum          int      `json:"pageNum" firestore:"pageNum"`
	PageType         PageType `json:"pageType" firestore:"pageType"`
	StoryText        string   `json:"storyText" firestore:"storyText"`
	ImagePrompt      string   `json:"imagePrompt" firestore:"imagePrompt"`
	SelectedImageURL string   `json:"selectedImageUrl" firestore:"selectedImageUrl"`
}

// HasImage сообщает, что для страницы уже сохранено изображение.
func (p Page) HasImage() bool {
	return p.SelectedImageURL != ""
}

// PagePatch - точечное изменение одной страницы. nil-поля не трогаются.
type PagePatch struct {
	ImagePrompt      *string
	SelectedImageURL *string
}

// Apply применяет патч к странице. Пустой SelectedImageURL игнорируется:
// изображение страницы никогда не сбрасывается обратно в пустое значение.
func (pp PagePatch) Apply(p *Page) {
	if pp.ImagePrompt != nil {
		p.ImagePrompt = *pp.ImagePrompt
	}
	if pp.SelectedImageURL != nil && *pp.SelectedImageURL != "" {
		p.SelectedImageURL = *pp.SelectedImageURL
	}
}

// IsEmpty сообщает, что патч ничего не меняет.
func (pp PagePatch) IsEmpty() bool {
	return pp.ImagePrompt == nil && (pp.SelectedImageURL == nil || *pp.SelectedImageURL == "")
}

// Story - основной изменяемый документ истории.
type Story struct {
	ID                 string      `json:"id" firestore:"-"`
	UserID             string      `json:"userId" firestore:"userId"`
	KidID              string      `json:"kidId" firestore:"kidId"`
	AccountID          string      `json:"accountId" firestore:"accountId"`
	Status             StoryStatus `json:"status" firestore:"status"`
	Title              string      `json:"title" firestore:"title"`
	ProblemDescription string      `json:"problemDescription" firestore:"problemDescription"`
	Advantages         string      `json:"advantages,omitempty" firestore:"advantages"`
	Disadvantages      string      `json:"disadvantages,omitempty" firestore:"disadvantages"`
	Pages              []Page      `json:"pages" firestore:"pages"`
	CoverImageURL      string      `json:"coverImageUrl,omitempty" firestore:"coverImageUrl"`
	Version            int64       `json:"version" firestore:"version"`
	ReadyNotifiedAt    *time.Time  `json:"readyNotifiedAt,omitempty" firestore:"readyNotifiedAt"`
	CreatedAt          time.Time   `json:"createdAt" firestore:"createdAt,serverTimestamp"`
	LastUpdated        time.Time   `json:"lastUpdated" firestore:"lastUpdated,serverTimestamp"`
}

// AllPagesHaveImages сообщает, что у каждой страницы есть изображение.
// История без страниц не считается завершенной.
func (s *Story) AllPagesHaveImages() bool {
	if len(s.Pages) == 0 {
		return false
	}
	for _, p := range s.Pages {
		if !p.HasImage() {
			return false
		}
	}
	return true
}

// CountPagesWithImages возвращает количество страниц с изображением.
func (s *Story) CountPagesWithImages() int {
	n := 0
	for _, p := range s.Pages {
		if p.HasImage() {
			n++
		}
	}
	return n
}

// StoryUpdate - набор полей для частичного обновления документа истории.
// nil означает "не менять". Pages заменяет массив целиком и используется
// только до начала постраничной генерации изображений.
type StoryUpdate struct {
	Title         *string
	Status        *StoryStatus
	Pages         []Page
	CoverImageURL *string
}

// IsEmpty сообщает, что обновление ничего не меняет.
func (u StoryUpdate) IsEmpty() bool {
	return u.Title == nil && u.Status == nil && u.Pages == nil && u.CoverImageURL == nil
}

// ImageResult - результат генерации изображения одной страницы.
type ImageResult struct {
	PageNum  int    `json:"pageNum"`
	Success  bool   `json:"success"`
	ImageURL string `json:"imageUrl,omitempty"`
	Prompt   string `json:"imagePrompt,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Kid - профиль ребенка (хранится в коллекции users_{env}).
type Kid struct {
	ID             string `json:"id" firestore:"-"`
	AccountID      string `json:"accountId" firestore:"accountId"`
	Name           string `json:"name" firestore:"name"`
	Age            int    `json:"age" firestore:"age"`
	Gender         string `json:"gender" firestore:"gender"`
	AvatarURL      string `json:"avatarUrl,omitempty" firestore:"avatarUrl"`
	ImageURL       string `json:"imageUrl,omitempty" firestore:"imageUrl"`
	StoriesCreated int64  `json:"stories_created" firestore:"stories_created"`
}

// ReferenceImageURL возвращает фото, по которому рисуются иллюстрации.
func (k *Kid) ReferenceImageURL() string {
	if k.ImageURL != "" {
		return k.ImageURL
	}
	return k.AvatarURL
}

// DeviceToken - токен устройства для push-уведомлений.
type DeviceToken struct {
	Token    string `json:"token" firestore:"token"`
	Platform string `json:"platform" firestore:"platform"` // "android" или "ios"
}

// Account - аккаунт родителя.
type Account struct {
	ID       string        `json:"id" firestore:"-"`
	Email    string        `json:"email" firestore:"email"`
	Name     string        `json:"name" firestore:"name"`
	Language string        `json:"language,omitempty" firestore:"language"`
	Devices  []DeviceToken `json:"devices,omitempty" firestore:"devices"`
}
