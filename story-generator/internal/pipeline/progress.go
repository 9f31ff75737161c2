package pipeline

import (
	"context"
	"time"

	"storybook-server/shared/interfaces"
	"storybook-server/shared/messaging"
	"storybook-server/shared/models"

	"go.uber.org/zap"
)

// Контрольные точки прогресса.
var (
	statusCreated        = models.StoryStatus{Stage: models.StageInitializing, Percent: 5}
	statusTitlesReq      = models.StoryStatus{Stage: models.StageInitializing, Percent: 10}
	statusTitleChosen    = models.StoryStatus{Stage: models.StageTitlesGenerated, Percent: 20}
	statusPagesGenerated = models.StoryStatus{Stage: models.StagePagesGenerated, Percent: 40}
	statusPagesParsed    = models.StoryStatus{Stage: models.StagePagesGenerated, Percent: 50}
	statusPagesPersisted = models.StoryStatus{Stage: models.StagePagesGenerated, Percent: 60}
	statusCompleted      = models.StoryStatus{Stage: models.StageCompleted, Percent: 100}
)

// linearStatus возвращает процент между from и to после done из total шагов.
func linearStatus(stage models.Stage, from, to, done, total int) models.StoryStatus {
	if total <= 0 {
		return models.StoryStatus{Stage: stage, Percent: to}
	}
	return models.StoryStatus{Stage: stage, Percent: from + (to-from)*done/total}
}

// ProgressTracker записывает контрольные точки одной истории и не дает прогрессу откатиться назад.
type ProgressTracker struct {
	storyID   string
	userID    string
	current   models.StoryStatus
	gateway   interfaces.StoryDocumentGateway
	publisher interfaces.ProgressPublisher
	logger    *zap.Logger
}

func newProgressTracker(story *models.Story, gateway interfaces.StoryDocumentGateway, publisher interfaces.ProgressPublisher, logger *zap.Logger) *ProgressTracker {
	return &ProgressTracker{
		storyID:   story.ID,
		userID:    story.UserID,
		current:   story.Status,
		gateway:   gateway,
		publisher: publisher,
		logger:    logger,
	}
}

// Current возвращает последнюю записанную контрольную точку.
func (p *ProgressTracker) Current() models.StoryStatus {
	return p.current
}

// Set записывает статус, если он не раньше текущего. Повтор текущего статуса не пишется.
func (p *ProgressTracker) Set(ctx context.Context, status models.StoryStatus) error {
	if status == p.current || status.Before(p.current) {
		p.logger.Debug("Progress checkpoint skipped",
			zap.String("requested", status.Label()), zap.String("current", p.current.Label()))
		return nil
	}
	if err := p.gateway.UpdateStory(ctx, p.storyID, models.StoryUpdate{Status: &status}); err != nil {
		return err
	}
	p.current = status
	p.publish(ctx, messaging.StoryProgressEvent{StoryID: p.storyID, UserID: p.userID, Status: status})
	return nil
}

// SetWith пишет статус вместе с другими полями истории одной операцией.
func (p *ProgressTracker) SetWith(ctx context.Context, status models.StoryStatus, update models.StoryUpdate) error {
	if !status.Before(p.current) && status != p.current {
		update.Status = &status
	}
	if err := p.gateway.UpdateStory(ctx, p.storyID, update); err != nil {
		return err
	}
	if update.Status != nil {
		p.current = status
		p.publish(ctx, messaging.StoryProgressEvent{StoryID: p.storyID, UserID: p.userID, Status: status})
	}
	return nil
}

// Announce публикует текущую контрольную точку без записи в документ.
func (p *ProgressTracker) Announce(ctx context.Context) {
	p.publish(ctx, messaging.StoryProgressEvent{StoryID: p.storyID, UserID: p.userID, Status: p.current})
}

// PageImage сообщает клиенту о готовом изображении страницы.
func (p *ProgressTracker) PageImage(ctx context.Context, pageNum int, imageURL string) {
	n := pageNum
	p.publish(ctx, messaging.StoryProgressEvent{
		StoryID: p.storyID, UserID: p.userID, Status: p.current, PageNum: &n, ImageURL: imageURL,
	})
}

// publish отправляет событие без гарантий: клиент всегда может перечитать историю.
func (p *ProgressTracker) publish(ctx context.Context, event messaging.StoryProgressEvent) {
	if p.publisher == nil {
		return
	}
	event.Label = event.Status.Label()
	event.Timestamp = time.Now().UTC()
	if err := p.publisher.PublishProgress(ctx, event); err != nil {
		p.logger.Warn("Failed to publish progress event", zap.String("label", event.Label), zap.Error(err))
	}
}
