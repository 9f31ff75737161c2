package database

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"storybook-server/shared/interfaces"
	"storybook-server/shared/models"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

var _ interfaces.StoryDocumentGateway = (*PgStoryGateway)(nil)

const (
	getDocumentQuery = `SELECT doc, version, created_at, updated_at FROM documents WHERE collection = $1 AND id = $2`

	insertDocumentQuery = `INSERT INTO documents (collection, id, doc, version) VALUES ($1, $2, $3, 1)
RETURNING created_at, updated_at`

	mergeDocumentQuery = `UPDATE documents SET doc = doc || $3::jsonb, version = version + 1, updated_at = NOW()
WHERE collection = $1 AND id = $2`

	patchFieldQuery = `UPDATE documents SET doc = jsonb_set(doc, $3::text[], $4::jsonb, true), version = version + 1, updated_at = NOW()
WHERE collection = $1 AND id = $2 AND version = $5
RETURNING doc, version, created_at, updated_at`

	incrementKidStoriesQuery = `UPDATE documents
SET doc = jsonb_set(doc, '{stories_created}', to_jsonb(COALESCE((doc->>'stories_created')::bigint, 0) + 1)),
    version = version + 1, updated_at = NOW()
WHERE collection = $1 AND id = $2`

	markReadyNotifiedQuery = `UPDATE documents SET doc = jsonb_set(doc, '{readyNotifiedAt}', $3::jsonb), version = version + 1, updated_at = NOW()
WHERE collection = $1 AND id = $2 AND COALESCE(doc->'readyNotifiedAt', 'null'::jsonb) = 'null'::jsonb`

	documentExistsQuery = `SELECT EXISTS(SELECT 1 FROM documents WHERE collection = $1 AND id = $2)`
)

// documentRow - строка таблицы documents.
type documentRow struct {
	Doc       []byte    `db:"doc"`
	Version   int64     `db:"version"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// PgStoryGateway хранит документы в одной JSONB таблице PostgreSQL.
// Версия документа лежит в колонке version и защищает постраничные патчи.
type PgStoryGateway struct {
	db     interfaces.DBTX
	cols   Collections
	logger *zap.Logger
}

func NewPgStoryGateway(db interfaces.DBTX, env string, logger *zap.Logger) *PgStoryGateway {
	return &PgStoryGateway{db: db, cols: CollectionsFor(env), logger: logger.Named("PgStoryGateway")}
}

func (g *PgStoryGateway) get(ctx context.Context, collection, id string, notFound error) (*documentRow, error) {
	var row documentRow
	if err := pgxscan.Get(ctx, g.db, &row, getDocumentQuery, collection, id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound
		}
		g.logger.Error("Failed to get document", zap.String("collection", collection), zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get %s/%s: %w", collection, id, err)
	}
	return &row, nil
}

func (g *PgStoryGateway) GetKid(ctx context.Context, kidID string) (*models.Kid, error) {
	row, err := g.get(ctx, g.cols.Kids, kidID, models.ErrKidNotFound)
	if err != nil {
		return nil, err
	}
	var kid models.Kid
	if err := json.Unmarshal(row.Doc, &kid); err != nil {
		return nil, fmt.Errorf("failed to decode kid %s: %w", kidID, err)
	}
	kid.ID = kidID
	return &kid, nil
}

func (g *PgStoryGateway) IncrementKidStories(ctx context.Context, kidID string) error {
	tag, err := g.db.Exec(ctx, incrementKidStoriesQuery, g.cols.Kids, kidID)
	if err != nil {
		return fmt.Errorf("failed to increment stories for kid %s: %w", kidID, err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrKidNotFound
	}
	return nil
}

func (g *PgStoryGateway) UpdateKidAvatar(ctx context.Context, kidID, avatarURL string) error {
	return g.merge(ctx, g.cols.Kids, kidID, map[string]interface{}{"avatarUrl": avatarURL}, models.ErrKidNotFound)
}

func (g *PgStoryGateway) GetAccount(ctx context.Context, accountID string) (*models.Account, error) {
	row, err := g.get(ctx, g.cols.Accounts, accountID, models.ErrAccountNotFound)
	if err != nil {
		return nil, err
	}
	var acc models.Account
	if err := json.Unmarshal(row.Doc, &acc); err != nil {
		return nil, fmt.Errorf("failed to decode account %s: %w", accountID, err)
	}
	acc.ID = accountID
	return &acc, nil
}

func (g *PgStoryGateway) CreateStory(ctx context.Context, story *models.Story) (string, error) {
	if story.ID == "" {
		story.ID = uuid.NewString()
	}
	if story.Pages == nil {
		story.Pages = []models.Page{}
	}
	story.Version = 1
	doc, err := json.Marshal(story)
	if err != nil {
		return "", fmt.Errorf("failed to encode story: %w", err)
	}
	err = g.db.QueryRow(ctx, insertDocumentQuery, g.cols.Stories, story.ID, doc).Scan(&story.CreatedAt, &story.LastUpdated)
	if err != nil {
		g.logger.Error("Failed to insert story document", zap.String("story_id", story.ID), zap.Error(err))
		return "", fmt.Errorf("failed to create story: %w", err)
	}
	return story.ID, nil
}

func (g *PgStoryGateway) GetStory(ctx context.Context, storyID string) (*models.Story, error) {
	row, err := g.get(ctx, g.cols.Stories, storyID, models.ErrStoryNotFound)
	if err != nil {
		return nil, err
	}
	return decodeStoryRow(storyID, row)
}

func decodeStoryRow(storyID string, row *documentRow) (*models.Story, error) {
	var s models.Story
	if err := json.Unmarshal(row.Doc, &s); err != nil {
		return nil, fmt.Errorf("failed to decode story %s: %w", storyID, err)
	}
	s.ID = storyID
	s.Version = row.Version
	s.CreatedAt = row.CreatedAt
	s.LastUpdated = row.UpdatedAt
	return &s, nil
}

func (g *PgStoryGateway) UpdateStory(ctx context.Context, storyID string, update models.StoryUpdate) error {
	if update.IsEmpty() {
		return nil
	}
	fields := map[string]interface{}{}
	if update.Title != nil {
		fields["title"] = *update.Title
	}
	if update.Status != nil {
		fields["status"] = *update.Status
	}
	if update.Pages != nil {
		fields["pages"] = update.Pages
	}
	if update.CoverImageURL != nil {
		fields["coverImageUrl"] = *update.CoverImageURL
	}
	return g.merge(ctx, g.cols.Stories, storyID, fields, models.ErrStoryNotFound)
}

func (g *PgStoryGateway) merge(ctx context.Context, collection, id string, fields map[string]interface{}, notFound error) error {
	patch, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to encode patch for %s/%s: %w", collection, id, err)
	}
	tag, err := g.db.Exec(ctx, mergeDocumentQuery, collection, id, patch)
	if err != nil {
		g.logger.Error("Failed to update document", zap.String("collection", collection), zap.String("id", id), zap.Error(err))
		return fmt.Errorf("failed to update %s/%s: %w", collection, id, err)
	}
	if tag.RowsAffected() == 0 {
		return notFound
	}
	return nil
}

// PatchPage пишет только элемент pages[n] через jsonb_set с проверкой версии.
func (g *PgStoryGateway) PatchPage(ctx context.Context, storyID string, pageNum int, patch models.PagePatch) (*models.Story, error) {
	for attempt := 1; attempt <= maxPatchAttempts; attempt++ {
		row, err := g.get(ctx, g.cols.Stories, storyID, models.ErrStoryNotFound)
		if err != nil {
			return nil, err
		}

		var shape struct {
			Pages json.RawMessage `json:"pages"`
		}
		if err := json.Unmarshal(row.Doc, &shape); err != nil {
			return nil, fmt.Errorf("failed to decode story %s: %w", storyID, err)
		}
		raw := bytes.TrimSpace(shape.Pages)
		if len(raw) == 0 || raw[0] != '[' {
			return nil, models.ErrPagesMissing
		}
		var pages []models.Page
		if err := json.Unmarshal(raw, &pages); err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrPagesMissing, err)
		}
		if pageNum < 0 || pageNum >= len(pages) {
			return nil, models.ErrPageOutOfRange
		}

		page := pages[pageNum]
		patch.Apply(&page)
		pageJSON, err := json.Marshal(page)
		if err != nil {
			return nil, fmt.Errorf("failed to encode page %d: %w", pageNum, err)
		}

		var updated documentRow
		path := []string{"pages", strconv.Itoa(pageNum)}
		err = pgxscan.Get(ctx, g.db, &updated, patchFieldQuery, g.cols.Stories, storyID, path, pageJSON, row.Version)
		if err == nil {
			return decodeStoryRow(storyID, &updated)
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("failed to patch page %d of story %s: %w", pageNum, storyID, err)
		}
		g.logger.Debug("Story version changed, re-reading",
			zap.String("story_id", storyID), zap.Int("page_num", pageNum), zap.Int("attempt", attempt))
	}
	return nil, fmt.Errorf("%w: page %d of story %s", models.ErrVersionConflict, pageNum, storyID)
}

func (g *PgStoryGateway) MarkReadyNotified(ctx context.Context, storyID string) error {
	stamp, err := json.Marshal(time.Now().UTC())
	if err != nil {
		return err
	}
	tag, err := g.db.Exec(ctx, markReadyNotifiedQuery, g.cols.Stories, storyID, stamp)
	if err != nil {
		return fmt.Errorf("failed to mark story %s notified: %w", storyID, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := g.db.QueryRow(ctx, documentExistsQuery, g.cols.Stories, storyID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check story %s: %w", storyID, err)
	}
	if !exists {
		return models.ErrStoryNotFound
	}
	return models.ErrAlreadyNotified
}
