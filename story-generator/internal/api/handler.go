// Package api - HTTP API генератора историй.
package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"storybook-server/shared/interfaces"
	"storybook-server/shared/messaging"
	"storybook-server/shared/middleware"
	"storybook-server/shared/models"
	"storybook-server/story-generator/internal/pipeline"

	"github.com/gin-gonic/gin"
	"github.com/segmentio/ksuid"
	"go.uber.org/zap"
)

// StoryService - операции, которые API вызывает у оркестратора.
type StoryService interface {
	GenerateFullStory(ctx context.Context, req pipeline.FullStoryRequest) (*pipeline.FullStoryResult, error)
	CreateStory(ctx context.Context, req pipeline.FullStoryRequest) (*models.Story, error)
	GetStory(ctx context.Context, storyID string) (*models.Story, error)
	RegenerateMissingImages(ctx context.Context, storyID string) (*pipeline.FullStoryResult, error)
	GenerateStoryPagesText(ctx context.Context, req pipeline.PagesTextRequest) (*pipeline.PagesTextResult, error)
	GenerateStoryImagePrompt(ctx context.Context, req pipeline.ImagePromptRequest) (*pipeline.ImagePromptResponse, error)
	GenerateImagePromptAndImage(ctx context.Context, req pipeline.PromptAndImageRequest) (*pipeline.PromptAndImageResult, error)
	GenerateStoryPageImage(ctx context.Context, req pipeline.PageImageRequest) (*pipeline.PageImageResult, error)
	GenerateKidAvatarImage(ctx context.Context, req pipeline.AvatarRequest) (*pipeline.AvatarResult, error)
	GenerateStoryCoverImage(ctx context.Context, req pipeline.CoverRequest) (*pipeline.CoverResult, error)
}

var _ StoryService = (*pipeline.Orchestrator)(nil)

// StoryHandler обрабатывает HTTP запросы к API генератора.
type StoryHandler struct {
	service  StoryService
	tasks    interfaces.TaskPublisher // nil - полный прогон выполняется синхронно
	verifier interfaces.TokenVerifier
	timeout  time.Duration
	logger   *zap.Logger
}

// NewStoryHandler создает обработчик. Если tasks не nil, полный прогон и догенерация
// изображений ставятся в очередь воркера, а API сразу отвечает 202.
func NewStoryHandler(service StoryService, tasks interfaces.TaskPublisher, verifier interfaces.TokenVerifier, timeout time.Duration, logger *zap.Logger) *StoryHandler {
	return &StoryHandler{
		service:  service,
		tasks:    tasks,
		verifier: verifier,
		timeout:  timeout,
		logger:   logger.Named("StoryHandler"),
	}
}

// RegisterRoutes регистрирует маршруты /api/v1.
func (h *StoryHandler) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1", middleware.GinAuthMiddleware(h.verifier, h.logger))
	{
		v1.POST("/stories/full", h.generateFullStory)
		v1.GET("/stories/:id", h.getStory)
		v1.POST("/stories/:id/missing-images", h.regenerateMissingImages)
		v1.POST("/stories/:id/cover", h.generateCover)
		v1.POST("/stories/pages-text", h.generatePagesText)
		v1.POST("/image-prompts", h.generateImagePrompt)
		v1.POST("/page-images/refined", h.generatePromptAndImage)
		v1.POST("/page-images", h.generatePageImage)
		v1.POST("/kids/:id/avatar", h.generateAvatar)
	}
}

// handleServiceError отвечает {code, message} со статусом, соответствующим ErrorKind.
func (h *StoryHandler) handleServiceError(c *gin.Context, err error) {
	kind := models.KindOf(err)
	status := models.HTTPStatusForKind(kind)
	msg := err.Error()

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		msg = "generation timed out"
	case kind == models.KindInternal:
		h.logger.Error("Unhandled internal error", zap.String("path", c.Request.URL.Path), zap.Error(err))
		msg = "An unexpected internal error occurred"
	}
	c.AbortWithStatusJSON(status, models.ErrorResponse{Code: kind, Message: msg})
}

// bind разбирает JSON тела запроса; ошибка разбора - invalid-argument.
func (h *StoryHandler) bind(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		h.logger.Warn("Invalid request body", zap.String("path", c.Request.URL.Path), zap.Error(err))
		c.AbortWithStatusJSON(http.StatusBadRequest, models.ErrorResponse{
			Code:    models.KindInvalidArgument,
			Message: "invalid request body: " + err.Error(),
		})
		return false
	}
	return true
}

// callerID возвращает uid проверенной личности; middleware гарантирует, что она есть.
func callerID(c *gin.Context) string {
	id, _ := models.IdentityFromContext(c.Request.Context())
	return id.UID
}

// fillUserID подставляет uid вызывающего, если userId не передан в теле.
func fillUserID(c *gin.Context, userID *string) {
	if strings.TrimSpace(*userID) == "" {
		*userID = callerID(c)
	}
}

// opContext ограничивает длительность синхронной генерации.
func (h *StoryHandler) opContext(c *gin.Context) (context.Context, context.CancelFunc) {
	if h.timeout <= 0 {
		return context.WithCancel(c.Request.Context())
	}
	return context.WithTimeout(c.Request.Context(), h.timeout)
}

func (h *StoryHandler) generateFullStory(c *gin.Context) {
	var req pipeline.FullStoryRequest
	if !h.bind(c, &req) {
		return
	}
	fillUserID(c, &req.UserID)

	if h.tasks != nil {
		story, err := h.service.CreateStory(c.Request.Context(), req)
		if err != nil {
			h.handleServiceError(c, err)
			return
		}
		if err := h.enqueue(c, messaging.TaskTypeResumeStory, story.ID, story.UserID, story.KidID, story.AccountID); err != nil {
			h.handleServiceError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"success": true, "storyId": story.ID, "status": story.Status})
		return
	}

	ctx, cancel := h.opContext(c)
	defer cancel()
	res, err := h.service.GenerateFullStory(ctx, req)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *StoryHandler) enqueue(c *gin.Context, taskType messaging.TaskType, storyID, userID, kidID, accountID string) error {
	task := messaging.StoryTask{
		TaskID:    ksuid.New().String(),
		Type:      taskType,
		StoryID:   storyID,
		UserID:    userID,
		KidID:     kidID,
		AccountID: accountID,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.tasks.PublishStoryTask(c.Request.Context(), task); err != nil {
		return err
	}
	h.logger.Info("Story task enqueued",
		zap.String("task_id", task.TaskID),
		zap.String("type", string(taskType)),
		zap.String("story_id", storyID),
	)
	return nil
}

func (h *StoryHandler) getStory(c *gin.Context) {
	story, err := h.service.GetStory(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"story":       story,
		"statusLabel": story.Status.Label(),
	})
}

func (h *StoryHandler) regenerateMissingImages(c *gin.Context) {
	storyID := c.Param("id")
	if h.tasks != nil {
		story, err := h.service.GetStory(c.Request.Context(), storyID)
		if err != nil {
			h.handleServiceError(c, err)
			return
		}
		if err := h.enqueue(c, messaging.TaskTypeMissingImages, story.ID, story.UserID, story.KidID, story.AccountID); err != nil {
			h.handleServiceError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"success": true, "storyId": story.ID})
		return
	}

	ctx, cancel := h.opContext(c)
	defer cancel()
	res, err := h.service.RegenerateMissingImages(ctx, storyID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *StoryHandler) generatePagesText(c *gin.Context) {
	var req pipeline.PagesTextRequest
	if !h.bind(c, &req) {
		return
	}
	fillUserID(c, &req.UserID)

	ctx, cancel := h.opContext(c)
	defer cancel()
	res, err := h.service.GenerateStoryPagesText(ctx, req)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *StoryHandler) generateImagePrompt(c *gin.Context) {
	var req pipeline.ImagePromptRequest
	if !h.bind(c, &req) {
		return
	}
	ctx, cancel := h.opContext(c)
	defer cancel()
	res, err := h.service.GenerateStoryImagePrompt(ctx, req)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *StoryHandler) generatePromptAndImage(c *gin.Context) {
	var req pipeline.PromptAndImageRequest
	if !h.bind(c, &req) {
		return
	}
	fillUserID(c, &req.UserID)

	ctx, cancel := h.opContext(c)
	defer cancel()
	res, err := h.service.GenerateImagePromptAndImage(ctx, req)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *StoryHandler) generatePageImage(c *gin.Context) {
	var req pipeline.PageImageRequest
	if !h.bind(c, &req) {
		return
	}
	fillUserID(c, &req.UserID)

	ctx, cancel := h.opContext(c)
	defer cancel()
	res, err := h.service.GenerateStoryPageImage(ctx, req)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *StoryHandler) generateAvatar(c *gin.Context) {
	var req pipeline.AvatarRequest
	if !h.bind(c, &req) {
		return
	}
	req.KidID = c.Param("id")
	fillUserID(c, &req.UserID)

	ctx, cancel := h.opContext(c)
	defer cancel()
	res, err := h.service.GenerateKidAvatarImage(ctx, req)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *StoryHandler) generateCover(c *gin.Context) {
	var req pipeline.CoverRequest
	if !h.bind(c, &req) {
		return
	}
	req.StoryID = c.Param("id")
	fillUserID(c, &req.UserID)

	ctx, cancel := h.opContext(c)
	defer cancel()
	res, err := h.service.GenerateStoryCoverImage(ctx, req)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
