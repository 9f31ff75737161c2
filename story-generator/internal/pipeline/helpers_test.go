package pipeline_test

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"storybook-server/shared/database"
	"storybook-server/shared/interfaces"
	"storybook-server/shared/models"
	"storybook-server/shared/storage"
	"storybook-server/story-generator/internal/ai"
	"storybook-server/story-generator/internal/config"
	"storybook-server/story-generator/internal/pipeline"
	"storybook-server/story-generator/internal/refinement"

	"go.uber.org/zap"
)

var pngB64 = base64.StdEncoding.EncodeToString([]byte("\x89PNG fake"))

const threePages = `{"pages":[
 {"pageNum":0,"pageType":"NORMAL","text":"John wakes up."},
 {"pageNum":1,"pageType":"GOOD_CHOICE","text":"John shares his toy."},
 {"pageNum":2,"pageType":"NORMAL","text":"John is happy."}
]}`

// fakeText отвечает по логическому id промпта.
type fakeText struct {
	mu        sync.Mutex
	responses map[string]func(req ai.TextRequest) (string, error)
	calls     map[string]int
}

func newFakeText() *fakeText {
	return &fakeText{
		responses: map[string]func(ai.TextRequest) (string, error){
			config.PromptStoryTitles: func(ai.TextRequest) (string, error) {
				return `{"titles":["The Brave Day","John and the Toy","A Kind Heart"]}`, nil
			},
			config.PromptStoryPages: func(ai.TextRequest) (string, error) { return threePages, nil },
			config.PromptImagePrompt: func(req ai.TextRequest) (string, error) {
				return "illustration: " + req.Input, nil
			},
		},
		calls: map[string]int{},
	}
}

func (f *fakeText) GenerateText(ctx context.Context, req ai.TextRequest) (string, error) {
	f.mu.Lock()
	f.calls[req.PromptID]++
	fn, ok := f.responses[req.PromptID]
	f.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("unexpected prompt %s", req.PromptID)
	}
	return fn(req)
}

func (f *fakeText) Calls(promptID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[promptID]
}

// fakeImage возвращает изображение для страницы или ошибку из failures.
type fakeImage struct {
	mu       sync.Mutex
	failures map[int]error
	requests []ai.ImageRequest
}

func (f *fakeImage) GenerateImage(ctx context.Context, req ai.ImageRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if s, ok := req.Variables["pageNum"].(string); ok {
		if n, err := strconv.Atoi(s); err == nil {
			if err := f.failures[n]; err != nil {
				return "", err
			}
		}
	}
	return pngB64, nil
}

func (f *fakeImage) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// recordingGateway запоминает все записанные статусы.
type recordingGateway struct {
	*database.MemoryStoryGateway
	mu       sync.Mutex
	statuses []models.StoryStatus
}

func (g *recordingGateway) UpdateStory(ctx context.Context, storyID string, update models.StoryUpdate) error {
	if update.Status != nil {
		g.mu.Lock()
		g.statuses = append(g.statuses, *update.Status)
		g.mu.Unlock()
	}
	return g.MemoryStoryGateway.UpdateStory(ctx, storyID, update)
}

func (g *recordingGateway) Statuses() []models.StoryStatus {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]models.StoryStatus(nil), g.statuses...)
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []interfaces.StoryReadyNotification
}

func (n *recordingNotifier) NotifyStoryReady(ctx context.Context, note interfaces.StoryReadyNotification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, note)
	return nil
}

func (n *recordingNotifier) Count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.notes)
}

type env struct {
	orch     *pipeline.Orchestrator
	gateway  *recordingGateway
	text     *fakeText
	image    *fakeImage
	storage  *storage.MemoryStorage
	notifier *recordingNotifier
	locker   *database.MemoryLocker
}

func noSleep(context.Context, time.Duration) error { return nil }

func newEnv(t *testing.T, mode string, tweaks ...func(*pipeline.Options)) *env {
	t.Helper()
	e := &env{
		gateway:  &recordingGateway{MemoryStoryGateway: database.NewMemoryStoryGateway()},
		text:     newFakeText(),
		image:    &fakeImage{failures: map[int]error{}},
		storage:  storage.NewMemoryStorage("https://files.test"),
		notifier: &recordingNotifier{},
		locker:   database.NewMemoryLocker(),
	}

	opts := pipeline.DefaultOptions()
	opts.ImageMode = mode
	opts.TextPolicy.Sleep = noSleep
	opts.ImagePolicy.Sleep = noSleep
	opts.StoryLinkBaseURL = "https://app.test/stories"
	opts.PickTitle = func(n int) int { return 1 }
	for _, tweak := range tweaks {
		tweak(&opts)
	}

	e.orch = pipeline.New(pipeline.Deps{
		Gateway:    e.gateway,
		Text:       e.text,
		Image:      e.image,
		Storage:    e.storage,
		Notifier:   e.notifier,
		Locker:     e.locker,
		Logger:     zap.NewNop(),
		Refinement: refinement.New(e.text, e.image, opts.ImagePolicy, zap.NewNop(), refinement.WithSleep(noSleep)),
	}, opts)
	return e
}

func authed() context.Context {
	return models.WithIdentity(context.Background(), models.Identity{UID: "user-1"})
}

func (e *env) putKid(withPhoto bool) models.Kid {
	kid := models.Kid{ID: "kid-1", AccountID: "acc-1", Name: "John", Age: 7, Gender: "boy"}
	if withPhoto {
		kid.ImageURL = "https://files.test/john.png"
	}
	e.gateway.PutKid(kid)
	return kid
}

func (e *env) putStory(pages []models.Page) models.Story {
	story := models.Story{
		ID:                 "story-1",
		UserID:             "user-1",
		KidID:              "kid-1",
		AccountID:          "acc-1",
		Title:              "John and the Toy",
		ProblemDescription: "does not share toys",
		Status:             models.StoryStatus{Stage: models.StagePagesGenerated, Percent: 60},
		Pages:              pages,
	}
	e.gateway.PutStory(story)
	return story
}

func storedPages() []models.Page {
	return []models.Page{
		{PageNum: 0, PageType: models.PageTypeNormal, StoryText: "John wakes up.", ImagePrompt: "boy waking up"},
		{PageNum: 1, PageType: models.PageTypeNormal, StoryText: "John shares his toy.", ImagePrompt: "boy sharing"},
		{PageNum: 2, PageType: models.PageTypeNormal, StoryText: "John is happy.", ImagePrompt: "happy boy"},
	}
}

func intPtr(n int) *int { return &n }
