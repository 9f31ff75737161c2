package ai

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"
	"sync"
	"text/template"

	"go.uber.org/zap"
)

var ErrPromptNotFound = errors.New("prompt not found")

//go:embed prompts/*.md
var embeddedPrompts embed.FS

// PromptProvider хранит локальный каталог промптов (markdown-шаблоны text/template).
// Используется бэкендами, у которых нет сохраненных промптов на стороне API (openai chat, ollama).
type PromptProvider struct {
	mu        sync.RWMutex
	templates map[string]*template.Template
	logger    *zap.Logger
}

// NewPromptProvider загружает встроенные промпты.
func NewPromptProvider(logger *zap.Logger) (*PromptProvider, error) {
	p := &PromptProvider{templates: map[string]*template.Template{}, logger: logger.Named("PromptProvider")}
	if err := p.LoadFS(embeddedPrompts, "prompts"); err != nil {
		return nil, err
	}
	return p, nil
}

// LoadFS загружает все *.md из dir; ключ промпта - имя файла без расширения.
// Уже загруженные промпты с тем же ключом заменяются.
func (p *PromptProvider) LoadFS(fsys fs.FS, dir string) error {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return fmt.Errorf("failed to read prompts dir '%s': %w", dir, err)
	}

	loaded := make(map[string]*template.Template, len(entries))
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".md" {
			continue
		}
		content, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return fmt.Errorf("failed to read prompt '%s': %w", e.Name(), err)
		}
		key := strings.TrimSuffix(e.Name(), ".md")
		tmpl, err := template.New(key).Parse(string(content))
		if err != nil {
			return fmt.Errorf("failed to parse prompt '%s': %w", key, err)
		}
		loaded[key] = tmpl
	}

	p.mu.Lock()
	for k, v := range loaded {
		p.templates[k] = v
	}
	p.mu.Unlock()

	p.logger.Info("Prompts loaded", zap.String("dir", dir), zap.Int("count", len(loaded)))
	return nil
}

// Render подставляет переменные в промпт key.
func (p *PromptProvider) Render(key string, vars map[string]any) (string, error) {
	p.mu.RLock()
	tmpl, ok := p.templates[key]
	p.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: key='%s'", ErrPromptNotFound, key)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("failed to render prompt '%s': %w", key, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// Keys возвращает загруженные ключи (для логов и тестов).
func (p *PromptProvider) Keys() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	keys := make([]string, 0, len(p.templates))
	for k := range p.templates {
		keys = append(keys, k)
	}
	return keys
}
