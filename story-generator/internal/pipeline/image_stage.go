package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"storybook-server/shared/models"
	"storybook-server/shared/storage"
	"storybook-server/story-generator/internal/ai"
	"storybook-server/story-generator/internal/config"
	"storybook-server/story-generator/internal/refinement"

	"go.uber.org/zap"
)

// pageImageRequest - запрос изображения страницы по готовому промпту и фото ребенка.
func pageImageRequest(userID string, pageNum int, prompt, referenceURL string) ai.ImageRequest {
	parts := []ai.ContentPart{ai.TextPart(prompt)}
	if referenceURL != "" {
		parts = append(parts, ai.ImagePart(referenceURL))
	}
	return ai.ImageRequest{
		UserID:    userID,
		PromptID:  config.PromptPageImage,
		Variables: map[string]any{"pageNum": strconv.Itoa(pageNum)},
		Input:     []ai.ContentBlock{ai.UserBlock(parts...)},
	}
}

// renderPage генерирует изображение страницы в режиме opts.ImageMode.
// В режиме retry промпт обязателен и не переписывается.
func (o *Orchestrator) renderPage(ctx context.Context, in refinement.Input) (refinement.Result, error) {
	if o.opts.ImageMode == config.ImageModeRefine {
		return o.loop.Run(ctx, in)
	}
	prompt := strings.TrimSpace(in.SeedPrompt)
	if prompt == "" {
		return refinement.Result{}, models.ErrMissingImagePrompt
	}
	b64, err := o.generateImage(ctx, pageImageRequest(in.UserID, in.PageNum, prompt, in.ReferenceImageURL))
	if err != nil {
		return refinement.Result{}, err
	}
	return refinement.Result{Prompt: prompt, ImageBase64: b64, Attempts: 1}, nil
}

// storePageImage загружает изображение и точечно записывает промпт и URL в страницу.
func (o *Orchestrator) storePageImage(ctx context.Context, story *models.Story, pageNum int, prompt, b64 string) (*models.Story, string, error) {
	url, err := o.upload(ctx, storage.PageImagePath(story.AccountID, story.UserID, story.ID, pageNum), b64)
	if err != nil {
		return nil, "", err
	}
	patch := models.PagePatch{SelectedImageURL: &url}
	if prompt != "" {
		patch.ImagePrompt = &prompt
	}
	updated, err := o.gateway.PatchPage(ctx, story.ID, pageNum, patch)
	if err != nil {
		return nil, "", fmt.Errorf("failed to save image of page %d: %w", pageNum, err)
	}
	return updated, url, nil
}

// loadPage возвращает историю и проверяет, что страница pageNum существует.
func (o *Orchestrator) loadPage(ctx context.Context, storyID string, pageNum int) (*models.Story, error) {
	story, err := o.gateway.GetStory(ctx, storyID)
	if err != nil {
		return nil, err
	}
	if story.Pages == nil {
		return nil, models.ErrPagesMissing
	}
	if pageNum < 0 || pageNum >= len(story.Pages) {
		return nil, fmt.Errorf("%w: page %d of %d", models.ErrPageOutOfRange, pageNum, len(story.Pages))
	}
	return story, nil
}

// GenerateImagePromptAndImage запускает цикл уточнения для одной страницы,
// сохраняет изображение по UpdatePath и проверяет, готова ли история целиком.
func (o *Orchestrator) GenerateImagePromptAndImage(ctx context.Context, req PromptAndImageRequest) (*PromptAndImageResult, error) {
	if _, err := requireCaller(ctx); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	pageNum, _ := ParseUpdatePath(req.UpdatePath)
	log := o.logger.With(zap.String("story_id", req.StoryID), zap.Int("page_num", pageNum), zap.String("user_id", req.UserID))

	story, err := o.loadPage(ctx, req.StoryID, pageNum)
	if err != nil {
		return nil, err
	}
	unlock, err := o.lock(ctx, pageLockKey(req.StoryID, pageNum))
	if err != nil {
		return nil, err
	}
	defer unlock()

	res, err := o.loop.Run(ctx, refinement.Input{
		UserID:            req.UserID,
		StoryID:           req.StoryID,
		PageNum:           pageNum,
		PageText:          req.PageText,
		Gender:            req.Gender,
		Age:               req.Age,
		ReferenceImageURL: req.ImageURL,
	})
	if err != nil {
		pageImagesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("page image generation failed: %w", err)
	}
	story.AccountID, story.UserID = req.AccountID, req.UserID
	updated, url, err := o.storePageImage(ctx, story, pageNum, res.Prompt, res.ImageBase64)
	if err != nil {
		pageImagesTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	pageImagesTotal.WithLabelValues("success").Inc()
	log.Info("Page image saved", zap.Int("attempts", res.Attempts))

	o.tracker(updated, log).PageImage(ctx, pageNum, url)
	o.notifyIfComplete(ctx, updated, "")
	return &PromptAndImageResult{
		Success:     true,
		ImagePrompt: res.Prompt,
		ImageURL:    url,
		PageNum:     pageNum,
		Attempts:    res.Attempts,
	}, nil
}

// GenerateStoryPageImage генерирует изображение страницы по готовому промпту (только повторы, без уточнения).
// Номер страницы проверяется по сохраненной истории; PageText, если передан, должен совпадать с текстом страницы.
func (o *Orchestrator) GenerateStoryPageImage(ctx context.Context, req PageImageRequest) (*PageImageResult, error) {
	if _, err := requireCaller(ctx); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	pageNum := *req.PageNum
	log := o.logger.With(zap.String("story_id", req.StoryID), zap.Int("page_num", pageNum), zap.String("user_id", req.UserID))

	story, err := o.loadPage(ctx, req.StoryID, pageNum)
	if err != nil {
		return nil, err
	}
	if req.PageText != nil && strings.TrimSpace(*req.PageText) != strings.TrimSpace(story.Pages[pageNum].StoryText) {
		return nil, fmt.Errorf("%w: text of page %d differs from the stored one", models.ErrPageMismatch, pageNum)
	}

	unlock, err := o.lock(ctx, pageLockKey(req.StoryID, pageNum))
	if err != nil {
		return nil, err
	}
	defer unlock()

	b64, err := o.generateImage(ctx, pageImageRequest(req.UserID, pageNum, req.ImagePrompt, req.ImageURL))
	if err != nil {
		pageImagesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("page image generation failed: %w", err)
	}
	story.AccountID, story.UserID = req.AccountID, req.UserID
	updated, url, err := o.storePageImage(ctx, story, pageNum, "", b64)
	if err != nil {
		pageImagesTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	pageImagesTotal.WithLabelValues("success").Inc()
	log.Info("Page image saved")

	o.tracker(updated, log).PageImage(ctx, pageNum, url)
	o.notifyIfComplete(ctx, updated, "")
	return &PageImageResult{Success: true, PageNum: pageNum, ImageURL: url}, nil
}

// GenerateKidAvatarImage рисует аватар ребенка по фото и сохраняет его URL в профиле.
func (o *Orchestrator) GenerateKidAvatarImage(ctx context.Context, req AvatarRequest) (*AvatarResult, error) {
	if _, err := requireCaller(ctx); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	kid, err := o.gateway.GetKid(ctx, req.KidID)
	if err != nil {
		return nil, err
	}

	b64, err := o.generateImage(ctx, ai.ImageRequest{
		UserID:    req.UserID,
		PromptID:  config.PromptAvatarImage,
		Variables: map[string]any{"name": kid.Name, "age": kid.Age, "gender": kid.Gender},
		Input:     []ai.ContentBlock{ai.UserBlock(ai.TextPart("Portrait of "+kid.Name), ai.ImagePart(req.ImageURL))},
	})
	if err != nil {
		return nil, fmt.Errorf("avatar generation failed: %w", err)
	}
	url, err := o.upload(ctx, storage.AvatarPath(req.AccountID, req.UserID), b64)
	if err != nil {
		return nil, err
	}
	if err := o.gateway.UpdateKidAvatar(ctx, req.KidID, url); err != nil {
		return nil, fmt.Errorf("failed to save avatar url: %w", err)
	}
	o.logger.Info("Kid avatar saved", zap.String("kid_id", req.KidID), zap.String("user_id", req.UserID))
	return &AvatarResult{Success: true, AvatarURL: url}, nil
}

// GenerateStoryCoverImage рисует обложку по заголовку и первой странице истории.
func (o *Orchestrator) GenerateStoryCoverImage(ctx context.Context, req CoverRequest) (*CoverResult, error) {
	if _, err := requireCaller(ctx); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	story, err := o.gateway.GetStory(ctx, req.StoryID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(story.Title) == "" {
		return nil, fmt.Errorf("%w: story has no title yet", models.ErrStoryNotReady)
	}

	parts := []ai.ContentPart{ai.TextPart("Book cover for \"" + story.Title + "\"")}
	if len(story.Pages) > 0 && story.Pages[0].StoryText != "" {
		parts = append(parts, ai.TextPart(story.Pages[0].StoryText))
	}
	if req.ImageURL != "" {
		parts = append(parts, ai.ImagePart(req.ImageURL))
	}
	b64, err := o.generateImage(ctx, ai.ImageRequest{
		UserID:    req.UserID,
		PromptID:  config.PromptCoverImage,
		Variables: map[string]any{"title": story.Title},
		Input:     []ai.ContentBlock{ai.UserBlock(parts...)},
	})
	if err != nil {
		return nil, fmt.Errorf("cover generation failed: %w", err)
	}
	url, err := o.upload(ctx, storage.CoverPath(req.AccountID, req.UserID, req.StoryID), b64)
	if err != nil {
		return nil, err
	}
	if err := o.gateway.UpdateStory(ctx, req.StoryID, models.StoryUpdate{CoverImageURL: &url}); err != nil {
		return nil, fmt.Errorf("failed to save cover url: %w", err)
	}
	o.logger.Info("Story cover saved", zap.String("story_id", req.StoryID))
	return &CoverResult{Success: true, CoverImageURL: url}, nil
}

// pageOutcome переводит ошибку страницы в ImageResult.
func pageOutcome(pageNum int, prompt string, err error) models.ImageResult {
	msg := err.Error()
	if errors.Is(err, models.ErrMissingImagePrompt) {
		msg = "missing image prompt"
	}
	return models.ImageResult{PageNum: pageNum, Success: false, Prompt: prompt, Error: msg}
}
