package pipeline

import (
	"context"
	"fmt"
	"time"

	"storybook-server/shared/models"
	"storybook-server/story-generator/internal/refinement"

	"go.uber.org/zap"
)

// GenerateFullStory выполняет полный прогон: создание истории, заголовок, страницы,
// промпты и изображения. Ошибки отдельных страниц попадают в ImageResults.
func (o *Orchestrator) GenerateFullStory(ctx context.Context, req FullStoryRequest) (*FullStoryResult, error) {
	if _, err := requireCaller(ctx); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	story, kid, err := o.createStory(ctx, req)
	if err != nil {
		storiesTotal.WithLabelValues("failed").Inc()
		return nil, err
	}
	return o.runLocked(ctx, story, kid)
}

// CreateStory выполняет только создание документа истории. Остальные шаги
// выполняет Resume (обычно в воркере).
func (o *Orchestrator) CreateStory(ctx context.Context, req FullStoryRequest) (*models.Story, error) {
	if _, err := requireCaller(ctx); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	story, _, err := o.createStory(ctx, req)
	return story, err
}

// Resume продолжает прогон ранее созданной истории. Уже выполненные шаги
// (заголовок, страницы, промпты, изображения страниц) не повторяются.
func (o *Orchestrator) Resume(ctx context.Context, storyID string) (*FullStoryResult, error) {
	if _, err := requireCaller(ctx); err != nil {
		return nil, err
	}
	story, err := o.gateway.GetStory(ctx, storyID)
	if err != nil {
		return nil, err
	}
	kid, err := o.gateway.GetKid(ctx, story.KidID)
	if err != nil {
		return nil, err
	}
	return o.runLocked(ctx, story, kid)
}

// RegenerateMissingImages повторяет генерацию изображений только для страниц без изображения.
func (o *Orchestrator) RegenerateMissingImages(ctx context.Context, storyID string) (*FullStoryResult, error) {
	if _, err := requireCaller(ctx); err != nil {
		return nil, err
	}
	log := o.logger.With(zap.String("story_id", storyID))

	unlock, err := o.lock(ctx, storyLockKey(storyID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	story, err := o.gateway.GetStory(ctx, storyID)
	if err != nil {
		return nil, err
	}
	if len(story.Pages) == 0 {
		return nil, models.ErrPagesMissing
	}
	kid, err := o.gateway.GetKid(ctx, story.KidID)
	if err != nil {
		return nil, err
	}
	ref := kid.ReferenceImageURL()
	if ref == "" {
		return nil, models.ErrNoReferenceImage
	}

	tracker := o.tracker(story, log)
	missing := len(story.Pages) - story.CountPagesWithImages()
	log.Info("Regenerating missing page images", zap.Int("missing", missing))

	o.fillPrompts(ctx, story, kid, tracker, log)
	results, generated, latest := o.renderPages(ctx, story, kid, ref, tracker, log)
	o.finishImages(ctx, latest, kid, tracker, log)

	return &FullStoryResult{
		Success:         true,
		StoryID:         story.ID,
		Title:           story.Title,
		PagesCount:      len(story.Pages),
		ImagesGenerated: generated,
		ImageResults:    results,
		Message:         fmt.Sprintf("regenerated %d of %d missing page images", generated, missing),
	}, nil
}

func (o *Orchestrator) createStory(ctx context.Context, req FullStoryRequest) (*models.Story, *models.Kid, error) {
	kid, err := o.gateway.GetKid(ctx, req.KidID)
	if err != nil {
		return nil, nil, err
	}

	story := &models.Story{
		UserID:             req.UserID,
		KidID:              req.KidID,
		AccountID:          kid.AccountID,
		Status:             statusCreated,
		ProblemDescription: req.ProblemDescription,
		Advantages:         req.Advantages,
		Disadvantages:      req.Disadvantages,
	}
	id, err := o.gateway.CreateStory(ctx, story)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create story: %w", err)
	}
	story.ID = id

	// Счетчик историй не должен ронять генерацию.
	if err := o.gateway.IncrementKidStories(ctx, kid.ID); err != nil {
		o.logger.Warn("Failed to increment kid stories counter", zap.String("kid_id", kid.ID), zap.Error(err))
	}
	o.logger.Info("Story created", zap.String("story_id", id), zap.String("user_id", req.UserID), zap.String("kid_id", req.KidID))
	o.tracker(story, o.logger).Announce(ctx)
	return story, kid, nil
}

func (o *Orchestrator) runLocked(ctx context.Context, story *models.Story, kid *models.Kid) (*FullStoryResult, error) {
	unlock, err := o.lock(ctx, storyLockKey(story.ID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	started := time.Now()
	result, err := o.run(ctx, story, kid)
	storyDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		storiesTotal.WithLabelValues("failed").Inc()
	}
	return result, err
}

// run выполняет шаги 3-10 полного прогона.
func (o *Orchestrator) run(ctx context.Context, story *models.Story, kid *models.Kid) (*FullStoryResult, error) {
	log := o.logger.With(zap.String("story_id", story.ID), zap.String("user_id", story.UserID))
	tracker := o.tracker(story, log)
	brief := briefFor(kid, story)

	if story.Title == "" {
		if err := tracker.Set(ctx, statusTitlesReq); err != nil {
			return nil, err
		}
		title, titles, err := o.chooseTitle(ctx, story.UserID, brief)
		if err != nil {
			return nil, err
		}
		story.Title = title
		if err := tracker.SetWith(ctx, statusTitleChosen, models.StoryUpdate{Title: &title}); err != nil {
			return nil, err
		}
		log.Info("Title chosen", zap.String("title", title), zap.Int("candidates", len(titles)))
	}

	if len(story.Pages) == 0 {
		raw, err := o.generatePagesText(ctx, story.UserID, story.Title, brief)
		if err != nil {
			return nil, err
		}
		if err := tracker.Set(ctx, statusPagesGenerated); err != nil {
			return nil, err
		}
		pages, err := parsePages(raw)
		if err != nil {
			return nil, err
		}
		if err := tracker.Set(ctx, statusPagesParsed); err != nil {
			return nil, err
		}
		story.Pages = pages
		if err := tracker.SetWith(ctx, statusPagesPersisted, models.StoryUpdate{Pages: pages}); err != nil {
			return nil, err
		}
		log.Info("Pages persisted", zap.Int("pages", len(pages)))
	}

	result := &FullStoryResult{
		StoryID:    story.ID,
		Title:      story.Title,
		PagesCount: len(story.Pages),
	}

	o.fillPrompts(ctx, story, kid, tracker, log)

	ref := kid.ReferenceImageURL()
	if ref == "" {
		if err := tracker.Set(ctx, statusCompleted); err != nil {
			return nil, err
		}
		storiesTotal.WithLabelValues("no_reference").Inc()
		log.Warn("Kid has no reference image, page images skipped")
		result.Success = true
		result.ImageResults = []models.ImageResult{}
		result.Message = fmt.Sprintf("Story created with %d pages. Images were not generated because %s has no photo.", len(story.Pages), kid.Name)
		return result, nil
	}

	results, generated, latest := o.renderPages(ctx, story, kid, ref, tracker, log)
	complete := o.finishImages(ctx, latest, kid, tracker, log)

	result.Success = true
	result.ImagesGenerated = generated
	result.ImageResults = results
	if complete {
		storiesTotal.WithLabelValues("completed").Inc()
		result.Message = fmt.Sprintf("Story generated with %d pages and all images.", len(story.Pages))
	} else {
		storiesTotal.WithLabelValues("partial").Inc()
		result.Message = fmt.Sprintf("Story generated with %d pages, %d of them have images.", len(story.Pages), latest.CountPagesWithImages())
	}
	return result, nil
}

// fillPrompts генерирует промпты для страниц без промпта (прогресс 60 -> 70).
// Ошибка страницы не прерывает пакет. Промпты сохраняются точечно после пакета.
func (o *Orchestrator) fillPrompts(ctx context.Context, story *models.Story, kid *models.Kid, tracker *ProgressTracker, log *zap.Logger) {
	var pending []int
	for i, p := range story.Pages {
		if p.ImagePrompt == "" && !p.HasImage() {
			pending = append(pending, i)
		}
	}

	generated := map[int]string{}
	for done, i := range pending {
		prompt, err := o.pagePrompt(ctx, story.UserID, ImagePromptPage{
			PageText: story.Pages[i].StoryText,
			Gender:   kid.Gender,
			Age:      kid.Age,
		}, i)
		if err != nil {
			log.Warn("Image prompt generation failed", zap.Int("page_num", i), zap.Error(err))
		} else {
			generated[i] = prompt
		}
		if err := tracker.Set(ctx, linearStatus(models.StagePromptsGenerated, 60, 70, done+1, len(pending))); err != nil {
			log.Warn("Failed to record prompts progress", zap.Error(err))
		}
	}

	for i, prompt := range generated {
		p := prompt
		if _, err := o.gateway.PatchPage(ctx, story.ID, i, models.PagePatch{ImagePrompt: &p}); err != nil {
			log.Warn("Failed to persist image prompt", zap.Int("page_num", i), zap.Error(err))
			continue
		}
		story.Pages[i].ImagePrompt = p
	}
	if err := tracker.Set(ctx, linearStatus(models.StagePromptsGenerated, 60, 70, 1, 1)); err != nil {
		log.Warn("Failed to record prompts progress", zap.Error(err))
	}
	if len(pending) > 0 {
		log.Info("Image prompts generated", zap.Int("generated", len(generated)), zap.Int("requested", len(pending)))
	}
}

// renderPages последовательно генерирует изображения страниц без изображения (прогресс 70 -> 95).
// Возвращает результаты по страницам, число новых изображений и последнюю версию истории.
func (o *Orchestrator) renderPages(ctx context.Context, story *models.Story, kid *models.Kid, ref string, tracker *ProgressTracker, log *zap.Logger) ([]models.ImageResult, int, *models.Story) {
	total := len(story.Pages)
	results := make([]models.ImageResult, 0, total)
	generated := 0
	latest := story

	if err := tracker.Set(ctx, linearStatus(models.StageImagesInProgress, 70, 95, 0, total)); err != nil {
		log.Warn("Failed to record images progress", zap.Error(err))
	}

	for i, page := range story.Pages {
		if page.HasImage() {
			continue
		}
		res, updated := o.renderStoryPage(ctx, story, kid, ref, page, log)
		results = append(results, res)
		if res.Success {
			generated++
			latest = updated
			pageImagesTotal.WithLabelValues("success").Inc()
			tracker.PageImage(ctx, page.PageNum, res.ImageURL)
			o.notifyIfComplete(ctx, latest, kid.Name)
		} else {
			pageImagesTotal.WithLabelValues("error").Inc()
		}
		if err := tracker.Set(ctx, linearStatus(models.StageImagesInProgress, 70, 95, i+1, total)); err != nil {
			log.Warn("Failed to record images progress", zap.Error(err))
		}
	}
	return results, generated, latest
}

// renderStoryPage генерирует, загружает и сохраняет изображение одной страницы под блокировкой страницы.
func (o *Orchestrator) renderStoryPage(ctx context.Context, story *models.Story, kid *models.Kid, ref string, page models.Page, log *zap.Logger) (models.ImageResult, *models.Story) {
	pageLog := log.With(zap.Int("page_num", page.PageNum))

	unlock, err := o.lock(ctx, pageLockKey(story.ID, page.PageNum))
	if err != nil {
		pageLog.Warn("Page is locked by another operation", zap.Error(err))
		return pageOutcome(page.PageNum, page.ImagePrompt, err), nil
	}
	defer unlock()

	res, err := o.renderPage(ctx, refinement.Input{
		UserID:            story.UserID,
		StoryID:           story.ID,
		PageNum:           page.PageNum,
		PageText:          page.StoryText,
		Gender:            kid.Gender,
		Age:               kid.Age,
		ReferenceImageURL: ref,
		SeedPrompt:        page.ImagePrompt,
	})
	if err != nil {
		pageLog.Warn("Page image generation failed", zap.Error(err))
		return pageOutcome(page.PageNum, page.ImagePrompt, err), nil
	}

	updated, url, err := o.storePageImage(ctx, story, page.PageNum, res.Prompt, res.ImageBase64)
	if err != nil {
		pageLog.Error("Failed to store page image", zap.Error(err))
		return pageOutcome(page.PageNum, res.Prompt, err), nil
	}
	pageLog.Info("Page image saved", zap.Int("attempts", res.Attempts))
	return models.ImageResult{PageNum: page.PageNum, Success: true, ImageURL: url, Prompt: res.Prompt}, updated
}

// finishImages записывает completed/100 и отправляет уведомление, если все страницы с изображениями.
func (o *Orchestrator) finishImages(ctx context.Context, latest *models.Story, kid *models.Kid, tracker *ProgressTracker, log *zap.Logger) bool {
	if err := tracker.Set(ctx, statusCompleted); err != nil {
		log.Error("Failed to mark story completed", zap.Error(err))
	}
	if o.notifyIfComplete(ctx, latest, kid.Name) {
		return true
	}
	log.Warn("Story completed without all page images, notification skipped",
		zap.Int("pages", len(latest.Pages)),
		zap.Int("with_images", latest.CountPagesWithImages()),
	)
	return false
}
