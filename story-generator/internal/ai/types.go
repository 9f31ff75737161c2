// Package ai содержит клиенты текстовой модели и модели изображений.
package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrAIGenerationFailed - ошибка при генерации текста или изображения AI
var ErrAIGenerationFailed = errors.New("ошибка генерации AI")

// Типы частей мультимодального ввода.
const (
	PartInputText  = "input_text"
	PartInputImage = "input_image"
)

// TextRequest - запрос на генерацию текста по именованному промпту.
type TextRequest struct {
	UserID    string
	PromptID  string         // логический id промпта (config.Prompt*)
	Variables map[string]any // подставляются в промпт
	Input     string         // пользовательский ввод, не пустой
}

// Validate проверяет обязательные поля.
func (r TextRequest) Validate() error {
	if r.PromptID == "" {
		return fmt.Errorf("%w: prompt id is empty", ErrAIGenerationFailed)
	}
	if strings.TrimSpace(r.Input) == "" {
		return fmt.Errorf("%w: input is empty", ErrAIGenerationFailed)
	}
	return nil
}

// ContentPart - часть сообщения: текст или ссылка на изображение.
type ContentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// ContentBlock - сообщение одной роли из нескольких частей.
type ContentBlock struct {
	Role  string        `json:"role"`
	Parts []ContentPart `json:"content"`
}

// TextPart и ImagePart - короткие конструкторы частей.
func TextPart(text string) ContentPart { return ContentPart{Type: PartInputText, Text: text} }

func ImagePart(url string) ContentPart { return ContentPart{Type: PartInputImage, ImageURL: url} }

// UserBlock собирает пользовательское сообщение из частей.
func UserBlock(parts ...ContentPart) ContentBlock {
	return ContentBlock{Role: "user", Parts: parts}
}

// ImageRequest - запрос на генерацию изображения.
type ImageRequest struct {
	UserID    string
	PromptID  string
	Variables map[string]any
	Input     []ContentBlock
}

// Validate проверяет, что во вводе есть хотя бы одна часть.
func (r ImageRequest) Validate() error {
	for _, b := range r.Input {
		if len(b.Parts) > 0 {
			return nil
		}
	}
	return fmt.Errorf("%w: image input is empty", ErrAIGenerationFailed)
}

// Texts возвращает текстовые части ввода по порядку.
func (r ImageRequest) Texts() []string {
	var out []string
	for _, b := range r.Input {
		for _, p := range b.Parts {
			if p.Type == PartInputText && p.Text != "" {
				out = append(out, p.Text)
			}
		}
	}
	return out
}

// ImageURLs возвращает ссылки на референсные изображения.
func (r ImageRequest) ImageURLs() []string {
	var out []string
	for _, b := range r.Input {
		for _, p := range b.Parts {
			if p.Type == PartInputImage && p.ImageURL != "" {
				out = append(out, p.ImageURL)
			}
		}
	}
	return out
}

// TextGenerator генерирует текст по именованному промпту.
//
//go:generate mockery --name TextGenerator --output ../mocks --outpkg mocks --case=underscore
type TextGenerator interface {
	// GenerateText возвращает непустой текст ответа модели.
	GenerateText(ctx context.Context, req TextRequest) (string, error)
}

// ImageGenerator генерирует изображение и возвращает его в base64.
//
//go:generate mockery --name ImageGenerator --output ../mocks --outpkg mocks --case=underscore
type ImageGenerator interface {
	GenerateImage(ctx context.Context, req ImageRequest) (string, error)
}

// UsageInfo содержит информацию об использовании токенов
type UsageInfo struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// stringVariables приводит переменные промпта к строкам (Responses API принимает только строки).
func stringVariables(vars map[string]any) map[string]string {
	out := make(map[string]string, len(vars))
	for k, v := range vars {
		switch val := v.(type) {
		case nil:
			out[k] = ""
		case string:
			out[k] = val
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	return out
}
