package pipeline_test

import (
	"context"
	"testing"

	"storybook-server/shared/models"
	"storybook-server/shared/storage"
	"storybook-server/story-generator/internal/config"
	"storybook-server/story-generator/internal/pipeline"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pageImageRequest(pageNum int) pipeline.PageImageRequest {
	return pipeline.PageImageRequest{
		StoryID:     "story-1",
		PageNum:     intPtr(pageNum),
		ImagePrompt: "a boy with a red kite",
		ImageURL:    "https://files.test/john.png",
		AccountID:   "acc-1",
		UserID:      "user-1",
	}
}

func TestGenerateStoryPageImage(t *testing.T) {
	e := newEnv(t, config.ImageModeRetry)
	e.putKid(true)
	pages := storedPages()
	pages[0].SelectedImageURL = "https://files.test/page-0.png"
	pages[1].SelectedImageURL = "https://files.test/page-1.png"
	e.putStory(pages)

	res, err := e.orch.GenerateStoryPageImage(authed(), pageImageRequest(2))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.PageNum)

	story, err := e.gateway.GetStory(context.Background(), "story-1")
	require.NoError(t, err)
	assert.Equal(t, res.ImageURL, story.Pages[2].SelectedImageURL)
	// промпт страницы не меняется
	assert.Equal(t, "happy boy", story.Pages[2].ImagePrompt)
	assert.Equal(t, "https://files.test/page-1.png", story.Pages[1].SelectedImageURL)
	_, ok := e.storage.Object(storage.PageImagePath("acc-1", "user-1", "story-1", 2))
	assert.True(t, ok)

	require.Equal(t, 1, e.image.Count())
	req := e.image.requests[0]
	assert.Equal(t, []string{"a boy with a red kite"}, req.Texts())
	assert.Equal(t, []string{"https://files.test/john.png"}, req.ImageURLs())

	assert.Equal(t, 1, e.notifier.Count())

	// повторная генерация последней страницы не шлет второе уведомление
	_, err = e.orch.GenerateStoryPageImage(authed(), pageImageRequest(2))
	require.NoError(t, err)
	assert.Equal(t, 1, e.notifier.Count())
}

func TestGenerateStoryPageImage_Rejections(t *testing.T) {
	tests := []struct {
		name  string
		setup func(e *env)
		req   func() pipeline.PageImageRequest
		kind  models.ErrorKind
		err   error
	}{
		{
			name:  "page out of range",
			setup: func(e *env) { e.putStory(storedPages()) },
			req:   func() pipeline.PageImageRequest { return pageImageRequest(3) },
			kind:  models.KindOutOfRange,
			err:   models.ErrPageOutOfRange,
		},
		{
			name:  "negative page",
			setup: func(e *env) { e.putStory(storedPages()) },
			req:   func() pipeline.PageImageRequest { return pageImageRequest(-1) },
			kind:  models.KindOutOfRange,
			err:   models.ErrPageOutOfRange,
		},
		{
			name:  "page text differs",
			setup: func(e *env) { e.putStory(storedPages()) },
			req: func() pipeline.PageImageRequest {
				r := pageImageRequest(1)
				text := "Somebody else's page."
				r.PageText = &text
				return r
			},
			kind: models.KindFailedPrecondition,
			err:  models.ErrPageMismatch,
		},
		{
			name:  "pages missing",
			setup: func(e *env) { e.putStory(nil) },
			req:   func() pipeline.PageImageRequest { return pageImageRequest(0) },
			kind:  models.KindFailedPrecondition,
			err:   models.ErrPagesMissing,
		},
		{
			name:  "story not found",
			setup: func(e *env) {},
			req:   func() pipeline.PageImageRequest { return pageImageRequest(0) },
			kind:  models.KindNotFound,
			err:   models.ErrStoryNotFound,
		},
		{
			name:  "page number missing",
			setup: func(e *env) { e.putStory(storedPages()) },
			req: func() pipeline.PageImageRequest {
				r := pageImageRequest(0)
				r.PageNum = nil
				return r
			},
			kind: models.KindInvalidArgument,
			err:  models.ErrInvalidInput,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, config.ImageModeRetry)
			tt.setup(e)

			_, err := e.orch.GenerateStoryPageImage(authed(), tt.req())
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, tt.kind, models.KindOf(err))
			assert.Zero(t, e.image.Count())
		})
	}
}

func TestGenerateStoryPageImage_MatchingTextAccepted(t *testing.T) {
	e := newEnv(t, config.ImageModeRetry)
	e.putStory(storedPages())

	req := pageImageRequest(1)
	text := "  John shares his toy. "
	req.PageText = &text
	_, err := e.orch.GenerateStoryPageImage(authed(), req)
	require.NoError(t, err)
	assert.Zero(t, e.notifier.Count())
}

func TestGenerateImagePromptAndImage(t *testing.T) {
	e := newEnv(t, config.ImageModeRefine)
	e.putStory(storedPages())

	res, err := e.orch.GenerateImagePromptAndImage(authed(), pipeline.PromptAndImageRequest{
		PageText:   "John shares his toy.",
		Gender:     "boy",
		Age:        7,
		ImageURL:   "https://files.test/john.png",
		AccountID:  "acc-1",
		UserID:     "user-1",
		StoryID:    "story-1",
		UpdatePath: "pages/1",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.PageNum)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, "illustration: John shares his toy.", res.ImagePrompt)

	story, err := e.gateway.GetStory(context.Background(), "story-1")
	require.NoError(t, err)
	assert.Equal(t, res.ImagePrompt, story.Pages[1].ImagePrompt)
	assert.Equal(t, res.ImageURL, story.Pages[1].SelectedImageURL)
	assert.False(t, story.Pages[0].HasImage())
	assert.Zero(t, e.notifier.Count())
}

func TestGenerateImagePromptAndImage_BadUpdatePath(t *testing.T) {
	e := newEnv(t, config.ImageModeRefine)
	e.putStory(storedPages())

	_, err := e.orch.GenerateImagePromptAndImage(authed(), pipeline.PromptAndImageRequest{
		PageText:   "John shares his toy.",
		ImageURL:   "https://files.test/john.png",
		AccountID:  "acc-1",
		UserID:     "user-1",
		StoryID:    "story-1",
		UpdatePath: "cover",
	})
	assert.Equal(t, models.KindInvalidArgument, models.KindOf(err))
}

func TestParseUpdatePath(t *testing.T) {
	for path, want := range map[string]int{"pages/3": 3, "pages.0": 0, "7": 7} {
		got, err := pipeline.ParseUpdatePath(path)
		require.NoError(t, err, path)
		assert.Equal(t, want, got, path)
	}
	for _, bad := range []string{"", "pages/", "pages/-1", "cover"} {
		_, err := pipeline.ParseUpdatePath(bad)
		assert.Error(t, err, bad)
	}
}

func TestGenerateStoryImagePrompt(t *testing.T) {
	t.Run("single", func(t *testing.T) {
		e := newEnv(t, config.ImageModeRefine)
		res, err := e.orch.GenerateStoryImagePrompt(authed(), pipeline.ImagePromptRequest{
			ImagePromptPage: pipeline.ImagePromptPage{PageText: "John flies a kite.", Gender: "boy", Age: 7},
		})
		require.NoError(t, err)
		assert.Equal(t, "illustration: John flies a kite.", res.ImagePrompt)
	})

	t.Run("batch keeps going after a bad page", func(t *testing.T) {
		e := newEnv(t, config.ImageModeRefine)
		res, err := e.orch.GenerateStoryImagePrompt(authed(), pipeline.ImagePromptRequest{
			Pages: []pipeline.ImagePromptPage{
				{PageText: "John wakes up."},
				{PageText: "   "},
				{PageText: "John is happy.", PageNum: intPtr(7)},
			},
		})
		require.NoError(t, err)
		require.Len(t, res.Results, 3)
		require.Len(t, res.Pages, 3)

		assert.True(t, res.Results[0].Success)
		assert.False(t, res.Results[1].Success)
		assert.NotEmpty(t, res.Results[1].Error)
		assert.Equal(t, 7, res.Results[2].PageNum)
		assert.Equal(t, "illustration: John is happy.", res.Pages[2].ImagePrompt)
	})

	t.Run("empty page text", func(t *testing.T) {
		e := newEnv(t, config.ImageModeRefine)
		_, err := e.orch.GenerateStoryImagePrompt(authed(), pipeline.ImagePromptRequest{})
		assert.Equal(t, models.KindInvalidArgument, models.KindOf(err))
	})
}

func TestGenerateStoryPagesText(t *testing.T) {
	e := newEnv(t, config.ImageModeRefine)
	e.gateway.PutStory(models.Story{
		ID:     "story-2",
		UserID: "user-1",
		KidID:  "kid-1",
		Status: models.StoryStatus{Stage: models.StageInitializing, Percent: 5},
		Pages:  []models.Page{},
	})

	req := pipeline.PagesTextRequest{
		Name:               "John",
		ProblemDescription: "does not share toys",
		Title:              "John and the Toy",
		Age:                7,
		AccountID:          "acc-1",
		UserID:             "user-1",
	}

	res, err := e.orch.GenerateStoryPagesText(authed(), req)
	require.NoError(t, err)
	assert.Equal(t, threePages, res.Text)
	assert.Empty(t, res.StoryID)

	req.StoryID = "story-2"
	res, err = e.orch.GenerateStoryPagesText(authed(), req)
	require.NoError(t, err)
	assert.Equal(t, "story-2", res.StoryID)

	story, err := e.gateway.GetStory(context.Background(), "story-2")
	require.NoError(t, err)
	assert.Equal(t, "John and the Toy", story.Title)
	require.Len(t, story.Pages, 3)
	assert.Equal(t, 2, story.Pages[2].PageNum)
	assert.Equal(t, models.StoryStatus{Stage: models.StagePagesGenerated, Percent: 60}, story.Status)
}

func TestGenerateKidAvatarImage(t *testing.T) {
	e := newEnv(t, config.ImageModeRefine)
	e.putKid(true)

	res, err := e.orch.GenerateKidAvatarImage(authed(), pipeline.AvatarRequest{
		KidID: "kid-1", ImageURL: "https://files.test/john.png", AccountID: "acc-1", UserID: "user-1",
	})
	require.NoError(t, err)

	kid, err := e.gateway.GetKid(context.Background(), "kid-1")
	require.NoError(t, err)
	assert.Equal(t, res.AvatarURL, kid.AvatarURL)
	_, ok := e.storage.Object(storage.AvatarPath("acc-1", "user-1"))
	assert.True(t, ok)
	assert.Equal(t, config.PromptAvatarImage, e.image.requests[0].PromptID)
}

func TestGenerateStoryCoverImage(t *testing.T) {
	t.Run("saves cover", func(t *testing.T) {
		e := newEnv(t, config.ImageModeRefine)
		e.putStory(storedPages())

		res, err := e.orch.GenerateStoryCoverImage(authed(), pipeline.CoverRequest{StoryID: "story-1", AccountID: "acc-1", UserID: "user-1"})
		require.NoError(t, err)

		story, err := e.gateway.GetStory(context.Background(), "story-1")
		require.NoError(t, err)
		assert.Equal(t, res.CoverImageURL, story.CoverImageURL)
		_, ok := e.storage.Object(storage.CoverPath("acc-1", "user-1", "story-1"))
		assert.True(t, ok)
	})

	t.Run("story without title", func(t *testing.T) {
		e := newEnv(t, config.ImageModeRefine)
		e.gateway.PutStory(models.Story{ID: "story-3", UserID: "user-1", Pages: []models.Page{}})

		_, err := e.orch.GenerateStoryCoverImage(authed(), pipeline.CoverRequest{StoryID: "story-3", AccountID: "acc-1", UserID: "user-1"})
		assert.Equal(t, models.KindFailedPrecondition, models.KindOf(err))
		assert.Zero(t, e.image.Count())
	})
}

func TestGetStory(t *testing.T) {
	e := newEnv(t, config.ImageModeRefine)
	e.putStory(storedPages())

	_, err := e.orch.GetStory(context.Background(), "story-1")
	assert.Equal(t, models.KindUnauthenticated, models.KindOf(err))

	story, err := e.orch.GetStory(authed(), "story-1")
	require.NoError(t, err)
	assert.Equal(t, "John and the Toy", story.Title)

	_, err = e.orch.GetStory(authed(), "missing")
	assert.Equal(t, models.KindNotFound, models.KindOf(err))
}
