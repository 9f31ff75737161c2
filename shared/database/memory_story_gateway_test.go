package database

import (
	"context"
	"testing"

	"storybook-server/shared/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestMemoryStoryGateway_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	g := NewMemoryStoryGateway()

	story := &models.Story{UserID: "u1", KidID: "k1"}
	id, err := g.CreateStory(ctx, story)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, id, story.ID)

	got, err := g.GetStory(ctx, id)
	require.NoError(t, err)
	assert.NotNil(t, got.Pages, "new stories get an empty pages array")
	assert.Equal(t, int64(1), got.Version)

	_, err = g.GetStory(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrStoryNotFound)
}

func TestMemoryStoryGateway_PatchPage(t *testing.T) {
	ctx := context.Background()
	g := NewMemoryStoryGateway()
	g.PutStory(models.Story{ID: "s1", Pages: []models.Page{{PageNum: 0}, {PageNum: 1}}})

	updated, err := g.PatchPage(ctx, "s1", 1, models.PagePatch{SelectedImageURL: strPtr("https://img/1.png")})
	require.NoError(t, err)
	assert.Equal(t, "https://img/1.png", updated.Pages[1].SelectedImageURL)
	assert.Empty(t, updated.Pages[0].SelectedImageURL)

	// пустой URL не сбрасывает изображение
	_, err = g.PatchPage(ctx, "s1", 1, models.PagePatch{SelectedImageURL: strPtr("")})
	require.NoError(t, err)
	got, _ := g.GetStory(ctx, "s1")
	assert.Equal(t, "https://img/1.png", got.Pages[1].SelectedImageURL)

	_, err = g.PatchPage(ctx, "s1", 2, models.PagePatch{ImagePrompt: strPtr("x")})
	assert.ErrorIs(t, err, models.ErrPageOutOfRange)
	_, err = g.PatchPage(ctx, "s1", -1, models.PagePatch{ImagePrompt: strPtr("x")})
	assert.ErrorIs(t, err, models.ErrPageOutOfRange)

	g.PutStory(models.Story{ID: "s2"})
	_, err = g.PatchPage(ctx, "s2", 0, models.PagePatch{ImagePrompt: strPtr("x")})
	assert.ErrorIs(t, err, models.ErrPagesMissing)
}

func TestMemoryStoryGateway_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	g := NewMemoryStoryGateway()
	g.PutStory(models.Story{ID: "s1", Pages: []models.Page{{StoryText: "original"}}})

	got, err := g.GetStory(ctx, "s1")
	require.NoError(t, err)
	got.Pages[0].StoryText = "changed"

	again, _ := g.GetStory(ctx, "s1")
	assert.Equal(t, "original", again.Pages[0].StoryText)
}

func TestMemoryStoryGateway_UpdateStory(t *testing.T) {
	ctx := context.Background()
	g := NewMemoryStoryGateway()
	g.PutStory(models.Story{ID: "s1", Title: "old", Version: 3})

	status := models.StoryStatus{Stage: models.StageTitlesGenerated, Percent: 20}
	require.NoError(t, g.UpdateStory(ctx, "s1", models.StoryUpdate{Title: strPtr("new"), Status: &status}))

	got, _ := g.GetStory(ctx, "s1")
	assert.Equal(t, "new", got.Title)
	assert.Equal(t, status, got.Status)
	assert.Equal(t, int64(4), got.Version)

	assert.ErrorIs(t, g.UpdateStory(ctx, "nope", models.StoryUpdate{Title: strPtr("x")}), models.ErrStoryNotFound)
}

func TestMemoryStoryGateway_MarkReadyNotifiedOnce(t *testing.T) {
	ctx := context.Background()
	g := NewMemoryStoryGateway()
	g.PutStory(models.Story{ID: "s1"})

	require.NoError(t, g.MarkReadyNotified(ctx, "s1"))
	assert.ErrorIs(t, g.MarkReadyNotified(ctx, "s1"), models.ErrAlreadyNotified)

	got, _ := g.GetStory(ctx, "s1")
	assert.NotNil(t, got.ReadyNotifiedAt)
}

func TestMemoryStoryGateway_Kids(t *testing.T) {
	ctx := context.Background()
	g := NewMemoryStoryGateway()
	g.PutKid(models.Kid{ID: "k1", Name: "John"})

	require.NoError(t, g.IncrementKidStories(ctx, "k1"))
	require.NoError(t, g.IncrementKidStories(ctx, "k1"))
	require.NoError(t, g.UpdateKidAvatar(ctx, "k1", "https://a.png"))

	kid, err := g.GetKid(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), kid.StoriesCreated)
	assert.Equal(t, "https://a.png", kid.AvatarURL)

	_, err = g.GetKid(ctx, "k2")
	assert.ErrorIs(t, err, models.ErrKidNotFound)
	_, err = g.GetAccount(ctx, "a1")
	assert.ErrorIs(t, err, models.ErrAccountNotFound)
}
