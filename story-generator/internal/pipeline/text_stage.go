package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"storybook-server/shared/models"
	"storybook-server/story-generator/internal/ai"
	"storybook-server/story-generator/internal/config"
	"storybook-server/story-generator/internal/schemas"

	"go.uber.org/zap"
)

// storyBrief - данные ребенка и ситуации, из которых строятся промпты текста.
type storyBrief struct {
	Name               string
	Gender             string
	Age                int
	ProblemDescription string
	Advantages         string
	Disadvantages      string
}

func (b storyBrief) variables() map[string]any {
	return map[string]any{
		"name":               b.Name,
		"gender":             b.Gender,
		"age":                b.Age,
		"problemDescription": b.ProblemDescription,
		"advantages":         b.Advantages,
		"disadvantages":      b.Disadvantages,
	}
}

// input - структурированный контекст для модели.
func (b storyBrief) input() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Name: %s\n", b.Name)
	if b.Gender != "" {
		fmt.Fprintf(&sb, "Gender: %s\n", b.Gender)
	}
	fmt.Fprintf(&sb, "Problem: %s\n", b.ProblemDescription)
	if b.Age > 0 {
		fmt.Fprintf(&sb, "Age: %d\n", b.Age)
	}
	if b.Advantages != "" {
		fmt.Fprintf(&sb, "Advantages: %s\n", b.Advantages)
	}
	if b.Disadvantages != "" {
		fmt.Fprintf(&sb, "Disadvantages: %s\n", b.Disadvantages)
	}
	return strings.TrimSpace(sb.String())
}

func briefFor(kid *models.Kid, story *models.Story) storyBrief {
	return storyBrief{
		Name:               kid.Name,
		Gender:             kid.Gender,
		Age:                kid.Age,
		ProblemDescription: story.ProblemDescription,
		Advantages:         story.Advantages,
		Disadvantages:      story.Disadvantages,
	}
}

// chooseTitle запрашивает варианты заголовков и выбирает один случайно.
func (o *Orchestrator) chooseTitle(ctx context.Context, userID string, brief storyBrief) (string, []string, error) {
	raw, err := o.generateText(ctx, ai.TextRequest{
		UserID:    userID,
		PromptID:  config.PromptStoryTitles,
		Variables: brief.variables(),
		Input:     brief.input(),
	})
	if err != nil {
		return "", nil, fmt.Errorf("title generation failed: %w", err)
	}
	titles, err := schemas.ParseTitles(raw)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", models.ErrNoTitles, err)
	}
	idx := o.opts.PickTitle(len(titles))
	if idx < 0 || idx >= len(titles) {
		idx = 0
	}
	return titles[idx], titles, nil
}

// generatePagesText запрашивает текст книги по выбранному заголовку.
func (o *Orchestrator) generatePagesText(ctx context.Context, userID, title string, brief storyBrief) (string, error) {
	vars := brief.variables()
	vars["title"] = title
	raw, err := o.generateText(ctx, ai.TextRequest{
		UserID:    userID,
		PromptID:  config.PromptStoryPages,
		Variables: vars,
		Input:     "Title: " + title + "\n" + brief.input(),
	})
	if err != nil {
		return "", fmt.Errorf("pages generation failed: %w", err)
	}
	return raw, nil
}

// parsePages разбирает страницы; пустой результат прерывает прогон.
func parsePages(raw string) ([]models.Page, error) {
	pages, err := schemas.ParsePages(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrNoPages, err)
	}
	if len(pages) == 0 {
		return nil, models.ErrNoPages
	}
	return pages, nil
}

// GenerateStoryPagesText генерирует текст страниц по готовому заголовку.
// Если задан StoryID, разобранные страницы сохраняются в эту историю.
func (o *Orchestrator) GenerateStoryPagesText(ctx context.Context, req PagesTextRequest) (*PagesTextResult, error) {
	if _, err := requireCaller(ctx); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	log := o.logger.With(zap.String("user_id", req.UserID), zap.String("story_id", req.StoryID))

	brief := storyBrief{
		Name:               req.Name,
		Gender:             req.Gender,
		Age:                req.Age,
		ProblemDescription: req.ProblemDescription,
		Advantages:         req.Advantages,
		Disadvantages:      req.Disadvantages,
	}
	raw, err := o.generatePagesText(ctx, req.UserID, req.Title, brief)
	if err != nil {
		return nil, err
	}
	result := &PagesTextResult{Success: true, Text: raw}
	if req.StoryID == "" {
		return result, nil
	}

	story, err := o.gateway.GetStory(ctx, req.StoryID)
	if err != nil {
		return nil, err
	}
	pages, err := parsePages(raw)
	if err != nil {
		return nil, err
	}
	title := req.Title
	if err := o.tracker(story, log).SetWith(ctx, statusPagesPersisted, models.StoryUpdate{Title: &title, Pages: pages}); err != nil {
		return nil, fmt.Errorf("failed to persist pages: %w", err)
	}
	log.Info("Pages text persisted", zap.Int("pages", len(pages)))
	result.StoryID = req.StoryID
	return result, nil
}

// pagePrompt генерирует промпт иллюстрации для текста одной страницы.
func (o *Orchestrator) pagePrompt(ctx context.Context, userID string, page ImagePromptPage, pageNum int) (string, error) {
	raw, err := o.generateText(ctx, ai.TextRequest{
		UserID:   userID,
		PromptID: config.PromptImagePrompt,
		Variables: map[string]any{
			"gender":  page.Gender,
			"age":     page.Age,
			"pageNum": strconv.Itoa(pageNum),
		},
		Input: page.PageText,
	})
	if err != nil {
		return "", err
	}
	prompt := strings.TrimSpace(schemas.RepairImagePrompt(raw, pageNum))
	if prompt == "" {
		return "", models.ErrEmptyAIResponse
	}
	return prompt, nil
}

// GenerateStoryImagePrompt генерирует промпт для одной страницы или для пакета страниц.
// В пакете ошибка одной страницы записывается в ее результат и не прерывает остальные.
func (o *Orchestrator) GenerateStoryImagePrompt(ctx context.Context, req ImagePromptRequest) (*ImagePromptResponse, error) {
	caller, err := requireCaller(ctx)
	if err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if !req.IsBatch() {
		pageNum := 0
		if req.PageNum != nil {
			pageNum = *req.PageNum
		}
		prompt, err := o.pagePrompt(ctx, caller.UID, req.ImagePromptPage, pageNum)
		if err != nil {
			return nil, fmt.Errorf("image prompt generation failed: %w", err)
		}
		return &ImagePromptResponse{Success: true, ImagePrompt: prompt}, nil
	}

	resp := &ImagePromptResponse{Success: true}
	for i, page := range req.Pages {
		pageNum := i
		if page.PageNum != nil {
			pageNum = *page.PageNum
		}
		if page.Gender == "" {
			page.Gender = req.Gender
		}
		if page.Age == 0 {
			page.Age = req.Age
		}
		out := models.Page{PageNum: pageNum, PageType: models.PageTypeNormal, StoryText: page.PageText}

		if strings.TrimSpace(page.PageText) == "" {
			resp.Results = append(resp.Results, ImagePromptResult{PageNum: pageNum, Error: "pageText is empty"})
			resp.Pages = append(resp.Pages, out)
			continue
		}
		prompt, err := o.pagePrompt(ctx, caller.UID, page, pageNum)
		if err != nil {
			o.logger.Warn("Image prompt failed for page", zap.Int("page_num", pageNum), zap.Error(err))
			resp.Results = append(resp.Results, ImagePromptResult{PageNum: pageNum, Error: err.Error()})
			resp.Pages = append(resp.Pages, out)
			continue
		}
		out.ImagePrompt = prompt
		resp.Results = append(resp.Results, ImagePromptResult{PageNum: pageNum, Success: true, ImagePrompt: prompt})
		resp.Pages = append(resp.Pages, out)
	}
	return resp, nil
}
