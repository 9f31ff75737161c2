package pipeline

import (
	"fmt"
	"strconv"
	"strings"

	"storybook-server/shared/models"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// invalid оборачивает ошибку валидации в ErrInvalidInput.
func invalid(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
}

// FullStoryRequest - вход полного прогона.
type FullStoryRequest struct {
	UserID             string `json:"userId"`
	KidID              string `json:"kidId"`
	ProblemDescription string `json:"problemDescription"`
	Advantages         string `json:"advantages,omitempty"`
	Disadvantages      string `json:"disadvantages,omitempty"`
}

func (r FullStoryRequest) Validate() error {
	return invalid(validation.ValidateStruct(&r,
		validation.Field(&r.UserID, validation.Required),
		validation.Field(&r.KidID, validation.Required),
		validation.Field(&r.ProblemDescription, validation.Required, validation.Length(1, 2000)),
	))
}

// FullStoryResult - итог полного прогона. Неудачи отдельных страниц - это данные, а не ошибка.
type FullStoryResult struct {
	Success         bool                 `json:"success"`
	StoryID         string               `json:"storyId"`
	Title           string               `json:"title"`
	PagesCount      int                  `json:"pagesCount"`
	ImagesGenerated int                  `json:"imagesGenerated"`
	ImageResults    []models.ImageResult `json:"imageResults"`
	Message         string               `json:"message"`
}

// PagesTextRequest - изолированная генерация текста страниц.
type PagesTextRequest struct {
	Name               string `json:"name"`
	ProblemDescription string `json:"problemDescription"`
	Title              string `json:"title"`
	Age                int    `json:"age"`
	Gender             string `json:"gender,omitempty"`
	Advantages         string `json:"advantages,omitempty"`
	Disadvantages      string `json:"disadvantages,omitempty"`
	AccountID          string `json:"accountId"`
	UserID             string `json:"userId"`
	StoryID            string `json:"storyId,omitempty"`
}

func (r PagesTextRequest) Validate() error {
	return invalid(validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Required),
		validation.Field(&r.ProblemDescription, validation.Required),
		validation.Field(&r.Title, validation.Required),
		validation.Field(&r.Age, validation.Required, validation.Min(1), validation.Max(18)),
		validation.Field(&r.AccountID, validation.Required),
		validation.Field(&r.UserID, validation.Required),
	))
}

// PagesTextResult - сырой текст страниц и id истории, если страницы сохранены.
type PagesTextResult struct {
	Success bool   `json:"success"`
	Text    string `json:"text"`
	StoryID string `json:"storyId,omitempty"`
}

// ImagePromptPage - одна страница в запросе генерации промпта.
type ImagePromptPage struct {
	PageText string `json:"pageText"`
	PageNum  *int   `json:"pageNum,omitempty"`
	Gender   string `json:"gender,omitempty"`
	Age      int    `json:"age,omitempty"`
}

// ImagePromptRequest - одиночный запрос (PageText) или пакетный (Pages).
type ImagePromptRequest struct {
	ImagePromptPage
	Pages []ImagePromptPage `json:"pages,omitempty"`
}

// IsBatch сообщает, что запрос пакетный.
func (r ImagePromptRequest) IsBatch() bool {
	return len(r.Pages) > 0
}

func (r ImagePromptRequest) Validate() error {
	if r.IsBatch() {
		return nil
	}
	return invalid(validation.ValidateStruct(&r.ImagePromptPage,
		validation.Field(&r.ImagePromptPage.PageText, validation.Required),
	))
}

// ImagePromptResult - результат для одной страницы пакета.
type ImagePromptResult struct {
	PageNum     int    `json:"pageNum"`
	Success     bool   `json:"success"`
	ImagePrompt string `json:"imagePrompt,omitempty"`
	Error       string `json:"error,omitempty"`
}

// ImagePromptResponse - ответ одиночного (ImagePrompt) или пакетного (Results, Pages) запроса.
type ImagePromptResponse struct {
	Success     bool                `json:"success"`
	ImagePrompt string              `json:"imagePrompt,omitempty"`
	Results     []ImagePromptResult `json:"results,omitempty"`
	Pages       []models.Page       `json:"pages,omitempty"`
}

// PromptAndImageRequest - цикл уточнения для одной страницы с записью результата.
type PromptAndImageRequest struct {
	PageText   string `json:"pageText"`
	Gender     string `json:"gender,omitempty"`
	Age        int    `json:"age,omitempty"`
	ImageURL   string `json:"imageUrl"`
	AccountID  string `json:"accountId"`
	UserID     string `json:"userId"`
	StoryID    string `json:"storyId"`
	UpdatePath string `json:"updatePath"`
}

func (r PromptAndImageRequest) Validate() error {
	return invalid(validation.ValidateStruct(&r,
		validation.Field(&r.PageText, validation.Required),
		validation.Field(&r.ImageURL, validation.Required),
		validation.Field(&r.AccountID, validation.Required),
		validation.Field(&r.UserID, validation.Required),
		validation.Field(&r.StoryID, validation.Required),
		validation.Field(&r.UpdatePath, validation.Required, validation.By(func(interface{}) error {
			_, err := ParseUpdatePath(r.UpdatePath)
			return err
		})),
	))
}

// ParseUpdatePath принимает "pages/3", "pages.3" или "3" и возвращает номер страницы.
func ParseUpdatePath(path string) (int, error) {
	p := strings.TrimSpace(path)
	p = strings.TrimPrefix(p, "pages")
	p = strings.TrimLeft(p, "/.")
	n, err := strconv.Atoi(p)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("update path '%s' does not address a page", path)
	}
	return n, nil
}

// PromptAndImageResult - итог цикла уточнения для страницы.
type PromptAndImageResult struct {
	Success     bool   `json:"success"`
	ImagePrompt string `json:"imagePrompt"`
	ImageURL    string `json:"imageUrl"`
	PageNum     int    `json:"pageNum"`
	Attempts    int    `json:"attempts"`
}

// PageImageRequest - генерация изображения страницы по готовому промпту.
// PageText, если задан, должен совпадать с текстом сохраненной страницы.
type PageImageRequest struct {
	StoryID     string  `json:"storyId"`
	PageNum     *int    `json:"pageNum"`
	ImagePrompt string  `json:"imagePrompt"`
	ImageURL    string  `json:"imageUrl"`
	AccountID   string  `json:"accountId"`
	UserID      string  `json:"userId"`
	PageText    *string `json:"pageText,omitempty"`
}

func (r PageImageRequest) Validate() error {
	return invalid(validation.ValidateStruct(&r,
		validation.Field(&r.StoryID, validation.Required),
		validation.Field(&r.PageNum, validation.NotNil),
		validation.Field(&r.ImagePrompt, validation.Required),
		validation.Field(&r.ImageURL, validation.Required),
		validation.Field(&r.AccountID, validation.Required),
		validation.Field(&r.UserID, validation.Required),
	))
}

// PageImageResult - URL сохраненного изображения страницы.
type PageImageResult struct {
	Success  bool   `json:"success"`
	PageNum  int    `json:"pageNum"`
	ImageURL string `json:"imageUrl"`
}

// AvatarRequest - генерация аватара ребенка по фото.
type AvatarRequest struct {
	KidID     string `json:"kidId"`
	ImageURL  string `json:"imageUrl"`
	AccountID string `json:"accountId"`
	UserID    string `json:"userId"`
}

func (r AvatarRequest) Validate() error {
	return invalid(validation.ValidateStruct(&r,
		validation.Field(&r.KidID, validation.Required),
		validation.Field(&r.ImageURL, validation.Required),
		validation.Field(&r.AccountID, validation.Required),
		validation.Field(&r.UserID, validation.Required),
	))
}

// AvatarResult - URL аватара.
type AvatarResult struct {
	Success   bool   `json:"success"`
	AvatarURL string `json:"avatarUrl"`
}

// CoverRequest - генерация обложки истории.
type CoverRequest struct {
	StoryID   string `json:"storyId"`
	AccountID string `json:"accountId"`
	UserID    string `json:"userId"`
	ImageURL  string `json:"imageUrl,omitempty"`
}

func (r CoverRequest) Validate() error {
	return invalid(validation.ValidateStruct(&r,
		validation.Field(&r.StoryID, validation.Required),
		validation.Field(&r.AccountID, validation.Required),
		validation.Field(&r.UserID, validation.Required),
	))
}

// CoverResult - URL обложки.
type CoverResult struct {
	Success       bool   `json:"success"`
	CoverImageURL string `json:"coverImageUrl"`
}
