package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"storybook-server/shared/interfaces"
	"storybook-server/shared/models"

	"cloud.google.com/go/firestore"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var _ interfaces.StoryDocumentGateway = (*FirestoreStoryGateway)(nil)

// FirestoreStoryGateway хранит детей, аккаунты и истории в Firestore.
type FirestoreStoryGateway struct {
	client *firestore.Client
	cols   Collections
	logger *zap.Logger
}

func NewFirestoreStoryGateway(client *firestore.Client, env string, logger *zap.Logger) *FirestoreStoryGateway {
	return &FirestoreStoryGateway{
		client: client,
		cols:   CollectionsFor(env),
		logger: logger.Named("FirestoreStoryGateway"),
	}
}

func (g *FirestoreStoryGateway) kid(id string) *firestore.DocumentRef {
	return g.client.Collection(g.cols.Kids).Doc(id)
}

func (g *FirestoreStoryGateway) story(id string) *firestore.DocumentRef {
	return g.client.Collection(g.cols.Stories).Doc(id)
}

func isNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

func (g *FirestoreStoryGateway) GetKid(ctx context.Context, kidID string) (*models.Kid, error) {
	snap, err := g.kid(kidID).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, models.ErrKidNotFound
		}
		return nil, fmt.Errorf("firestore get kid '%s': %w", kidID, err)
	}
	var kid models.Kid
	if err := snap.DataTo(&kid); err != nil {
		return nil, fmt.Errorf("firestore decode kid '%s': %w", kidID, err)
	}
	kid.ID = snap.Ref.ID
	return &kid, nil
}

func (g *FirestoreStoryGateway) IncrementKidStories(ctx context.Context, kidID string) error {
	_, err := g.kid(kidID).Update(ctx, []firestore.Update{
		{Path: "stories_created", Value: firestore.Increment(1)},
	})
	if err != nil {
		if isNotFound(err) {
			return models.ErrKidNotFound
		}
		return fmt.Errorf("firestore increment stories for kid '%s': %w", kidID, err)
	}
	return nil
}

func (g *FirestoreStoryGateway) UpdateKidAvatar(ctx context.Context, kidID, avatarURL string) error {
	_, err := g.kid(kidID).Update(ctx, []firestore.Update{{Path: "avatarUrl", Value: avatarURL}})
	if err != nil {
		if isNotFound(err) {
			return models.ErrKidNotFound
		}
		return fmt.Errorf("firestore update avatar for kid '%s': %w", kidID, err)
	}
	return nil
}

func (g *FirestoreStoryGateway) GetAccount(ctx context.Context, accountID string) (*models.Account, error) {
	snap, err := g.client.Collection(g.cols.Accounts).Doc(accountID).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, models.ErrAccountNotFound
		}
		return nil, fmt.Errorf("firestore get account '%s': %w", accountID, err)
	}
	var acc models.Account
	if err := snap.DataTo(&acc); err != nil {
		return nil, fmt.Errorf("firestore decode account '%s': %w", accountID, err)
	}
	acc.ID = snap.Ref.ID
	return &acc, nil
}

func (g *FirestoreStoryGateway) CreateStory(ctx context.Context, story *models.Story) (string, error) {
	ref := g.client.Collection(g.cols.Stories).NewDoc()
	if story.ID != "" {
		ref = g.story(story.ID)
	}
	if story.Pages == nil {
		story.Pages = []models.Page{}
	}
	story.Version = 1

	if _, err := ref.Create(ctx, story); err != nil {
		return "", fmt.Errorf("firestore create story: %w", err)
	}
	story.ID = ref.ID
	g.logger.Debug("Story document created", zap.String("story_id", ref.ID), zap.String("collection", g.cols.Stories))
	return ref.ID, nil
}

func (g *FirestoreStoryGateway) GetStory(ctx context.Context, storyID string) (*models.Story, error) {
	snap, err := g.story(storyID).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, models.ErrStoryNotFound
		}
		return nil, fmt.Errorf("firestore get story '%s': %w", storyID, err)
	}
	return decodeStory(snap)
}

func decodeStory(snap *firestore.DocumentSnapshot) (*models.Story, error) {
	var s models.Story
	if err := snap.DataTo(&s); err != nil {
		return nil, fmt.Errorf("firestore decode story '%s': %w", snap.Ref.ID, err)
	}
	s.ID = snap.Ref.ID
	return &s, nil
}

func (g *FirestoreStoryGateway) UpdateStory(ctx context.Context, storyID string, update models.StoryUpdate) error {
	if update.IsEmpty() {
		return nil
	}
	updates := []firestore.Update{
		{Path: "lastUpdated", Value: firestore.ServerTimestamp},
		{Path: "version", Value: firestore.Increment(1)},
	}
	if update.Title != nil {
		updates = append(updates, firestore.Update{Path: "title", Value: *update.Title})
	}
	if update.Status != nil {
		updates = append(updates, firestore.Update{Path: "status", Value: *update.Status})
	}
	if update.Pages != nil {
		updates = append(updates, firestore.Update{Path: "pages", Value: update.Pages})
	}
	if update.CoverImageURL != nil {
		updates = append(updates, firestore.Update{Path: "coverImageUrl", Value: *update.CoverImageURL})
	}

	if _, err := g.story(storyID).Update(ctx, updates); err != nil {
		if isNotFound(err) {
			return models.ErrStoryNotFound
		}
		return fmt.Errorf("firestore update story '%s': %w", storyID, err)
	}
	return nil
}

// PatchPage меняет одну страницу. Firestore не умеет адресовать элемент массива по индексу,
// поэтому массив pages перезаписывается целиком с предусловием LastUpdateTime прочитанного снимка.
// При гонке с другим писателем документ перечитывается.
func (g *FirestoreStoryGateway) PatchPage(ctx context.Context, storyID string, pageNum int, patch models.PagePatch) (*models.Story, error) {
	ref := g.story(storyID)
	for attempt := 1; attempt <= maxPatchAttempts; attempt++ {
		snap, err := ref.Get(ctx)
		if err != nil {
			if isNotFound(err) {
				return nil, models.ErrStoryNotFound
			}
			return nil, fmt.Errorf("firestore get story '%s': %w", storyID, err)
		}

		raw, err := snap.DataAt("pages")
		if err != nil {
			return nil, models.ErrPagesMissing
		}
		if _, ok := raw.([]interface{}); !ok {
			return nil, models.ErrPagesMissing
		}

		story, err := decodeStory(snap)
		if err != nil {
			return nil, err
		}
		if pageNum < 0 || pageNum >= len(story.Pages) {
			return nil, models.ErrPageOutOfRange
		}
		patch.Apply(&story.Pages[pageNum])

		_, err = ref.Update(ctx, []firestore.Update{
			{Path: "pages", Value: story.Pages},
			{Path: "lastUpdated", Value: firestore.ServerTimestamp},
			{Path: "version", Value: firestore.Increment(1)},
		}, firestore.LastUpdateTime(snap.UpdateTime))
		if err == nil {
			story.Version++
			return story, nil
		}
		if status.Code(err) != codes.FailedPrecondition {
			return nil, fmt.Errorf("firestore patch page %d of story '%s': %w", pageNum, storyID, err)
		}
		g.logger.Debug("Story changed concurrently, re-reading",
			zap.String("story_id", storyID), zap.Int("page_num", pageNum), zap.Int("attempt", attempt))
	}
	return nil, fmt.Errorf("%w: page %d of story '%s'", models.ErrVersionConflict, pageNum, storyID)
}

func (g *FirestoreStoryGateway) MarkReadyNotified(ctx context.Context, storyID string) error {
	ref := g.story(storyID)
	err := g.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		if v, err := snap.DataAt("readyNotifiedAt"); err == nil && v != nil {
			return models.ErrAlreadyNotified
		}
		return tx.Update(ref, []firestore.Update{
			{Path: "readyNotifiedAt", Value: time.Now().UTC()},
			{Path: "version", Value: firestore.Increment(1)},
		})
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, models.ErrAlreadyNotified):
		return models.ErrAlreadyNotified
	case isNotFound(err):
		return models.ErrStoryNotFound
	default:
		return fmt.Errorf("firestore mark story '%s' notified: %w", storyID, err)
	}
}
