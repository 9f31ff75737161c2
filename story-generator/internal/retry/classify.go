package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"storybook-server/shared/models"

	"github.com/ollama/ollama/api"
	"github.com/openai/openai-go/v3"
	openaigo "github.com/sashabaranov/go-openai"
	"google.golang.org/genai"
)

// Category - класс ошибки внешнего вызова.
type Category int

const (
	// Transient - сеть, 5xx, 429, таймаут: повторяем как есть.
	Transient Category = iota
	// Refinable - отказ из-за содержимого промпта: повтор не поможет, нужно переписать промпт.
	Refinable
	// Permanent - ошибка запроса или доступа: не повторяем и не уточняем.
	Permanent
)

func (c Category) String() string {
	switch c {
	case Transient:
		return "transient"
	case Refinable:
		return "refinable"
	case Permanent:
		return "permanent"
	default:
		return fmt.Sprintf("category(%d)", int(c))
	}
}

// refinableSubstrings - запасная эвристика для ошибок без структурированного кода.
var refinableSubstrings = []string{
	"content policy",
	"content_policy",
	"safety",
	"inappropriate",
	"quality",
	"invalid prompt",
	"refused",
	"blocked",
	"filtered",
	"rejected",
}

// refinableCodes - коды ошибок API, означающие отказ по содержимому.
var refinableCodes = map[string]struct{}{
	"content_policy_violation":    {},
	"moderation_blocked":          {},
	"content_filter":              {},
	"image_generation_user_error": {},
	"safety":                      {},
	"prohibited_content":          {},
}

// Classify относит ошибку к одной из категорий. Сначала используются структурированные
// коды ошибок SDK, затем поиск подстрок в тексте ошибки.
func Classify(err error) Category {
	if err == nil {
		return Transient
	}
	if errors.Is(err, models.ErrContentRefused) {
		return Refinable
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, models.ErrInvalidInput) {
		return Permanent
	}

	if status, code, msg, ok := structured(err); ok {
		return classifyStatus(status, code, msg)
	}

	if matchesRefinable(err.Error()) {
		return Refinable
	}
	return Transient
}

// IsRefinable сообщает, что ошибку можно обойти, переписав промпт.
func IsRefinable(err error) bool {
	return Classify(err) == Refinable
}

// IsNonRetryable - предикат для Policy: refinable и permanent ошибки не повторяются.
func IsNonRetryable(err error) bool {
	c := Classify(err)
	return c == Refinable || c == Permanent
}

func structured(err error) (status int, code, msg string, ok bool) {
	var oaErr *openai.Error
	if errors.As(err, &oaErr) {
		return oaErr.StatusCode, oaErr.Code + " " + oaErr.Type, oaErr.Message, true
	}

	var goErr *openaigo.APIError
	if errors.As(err, &goErr) {
		c := goErr.Type
		if goErr.Code != nil {
			c = fmt.Sprint(goErr.Code) + " " + c
		}
		return goErr.HTTPStatusCode, c, goErr.Message, true
	}

	var reqErr *openaigo.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode, "", reqErr.Error(), true
	}

	var gErr genai.APIError
	if errors.As(err, &gErr) {
		return gErr.Code, gErr.Status, gErr.Message, true
	}
	var gErrPtr *genai.APIError
	if errors.As(err, &gErrPtr) {
		return gErrPtr.Code, gErrPtr.Status, gErrPtr.Message, true
	}

	var olErr api.StatusError
	if errors.As(err, &olErr) {
		return olErr.StatusCode, "", olErr.ErrorMessage, true
	}
	return 0, "", "", false
}

func classifyStatus(status int, code, msg string) Category {
	for _, c := range strings.Fields(strings.ToLower(code)) {
		if _, ok := refinableCodes[c]; ok {
			return Refinable
		}
	}

	switch {
	case status == 0:
		if matchesRefinable(msg) {
			return Refinable
		}
		return Transient
	case status == http.StatusTooManyRequests:
		if strings.Contains(strings.ToLower(code), "insufficient_quota") {
			return Permanent
		}
		return Transient
	case status == http.StatusRequestTimeout || status >= http.StatusInternalServerError:
		return Transient
	case status >= http.StatusBadRequest:
		if matchesRefinable(msg) {
			return Refinable
		}
		return Permanent
	default:
		return Transient
	}
}

func matchesRefinable(msg string) bool {
	lower := strings.ToLower(msg)
	for _, s := range refinableSubstrings {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}
