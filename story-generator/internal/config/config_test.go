package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// setLocalEnv задает минимальное окружение без внешних секретов.
func setLocalEnv(t *testing.T) {
	t.Setenv("DOCUMENT_STORE", "memory")
	t.Setenv("STORAGE_BACKEND", "minio")
	t.Setenv("MINIO_SECRET_KEY", "minio-secret")
	t.Setenv("NOTIFIER", "log")
	t.Setenv("AI_TEXT_CLIENT", "ollama")
	t.Setenv("AI_IMAGE_CLIENT", "gemini")
	t.Setenv("GEMINI_API_KEY", "gemini-key")
	t.Setenv("AUTH_MODE", "jwt")
	t.Setenv("JWT_SECRET", "jwt-secret")
}

func TestLoadConfig_Defaults(t *testing.T) {
	setLocalEnv(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, ImageModeRefine, cfg.ImageMode)
	assert.Equal(t, 3, cfg.AIMaxAttempts)
	assert.Equal(t, time.Second, cfg.AIBaseRetryDelay)
	assert.Equal(t, 30*time.Minute, cfg.StoryTimeout)
	assert.Equal(t, 1, cfg.WorkerPrefetch)
	assert.False(t, cfg.AsyncFullStory)
	assert.Equal(t, "jwt-secret", cfg.JWTSecret)
	assert.Equal(t, "gemini-key", cfg.GeminiAPIKey)
	assert.Equal(t, "minio-secret", cfg.MinioSecretKey)
	assert.Empty(t, cfg.AIAPIKey, "ollama with gemini images needs no OpenAI key")
}

func TestLoadConfig_RemotePromptIDs(t *testing.T) {
	setLocalEnv(t)
	t.Setenv("AI_REMOTE_PROMPT_IDS", "story_titles:pmpt_1,story_pages:pmpt_2")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "pmpt_1", cfg.RemotePromptID(PromptStoryTitles))
	assert.Equal(t, "pmpt_2", cfg.RemotePromptID(PromptStoryPages))
	assert.Equal(t, PromptCoverImage, cfg.RemotePromptID(PromptCoverImage))
}

func TestLoadConfig_RejectsUnknownValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"document store", "DOCUMENT_STORE", "mongo"},
		{"image mode", "IMAGE_MODE", "always"},
		{"text client", "AI_TEXT_CLIENT", "claude"},
		{"auth mode", "AUTH_MODE", "basic"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setLocalEnv(t)
			t.Setenv(tt.key, tt.val)

			_, err := LoadConfig()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestLoadConfig_MissingSecret(t *testing.T) {
	setLocalEnv(t)
	t.Setenv("AUTH_MODE", "jwt")
	t.Setenv("JWT_SECRET", "")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jwt_secret")
}

func TestLogSummary_MasksPassword(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	cfg := &Config{DBUser: "postgres", DBPassword: "s3cr3t", DBHost: "db", DBPort: "5432", DBName: "storybook_db", DBSSLMode: "disable"}

	cfg.LogSummary(zap.New(core))

	require.Equal(t, 1, logs.Len())
	dsn := logs.All()[0].ContextMap()["db_dsn"]
	assert.Equal(t, "postgres://postgres:********@db:5432/storybook_db?sslmode=disable", dsn)
	assert.NotContains(t, dsn, "s3cr3t")
}
