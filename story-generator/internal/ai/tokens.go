package ai

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

const fallbackEncoding = "cl100k_base"

var (
	encodings   = map[string]*tiktoken.Tiktoken{}
	encodingsMu sync.Mutex
)

// encodingFor возвращает энкодер для модели; для неизвестных моделей - cl100k_base.
// nil, если словарь недоступен (например, нет сети для загрузки BPE).
func encodingFor(model string) *tiktoken.Tiktoken {
	encodingsMu.Lock()
	defer encodingsMu.Unlock()

	if tke, ok := encodings[model]; ok {
		return tke
	}
	tke, err := tiktoken.EncodingForModel(model)
	if err != nil {
		tke, err = tiktoken.GetEncoding(fallbackEncoding)
		if err != nil {
			tke = nil
		}
	}
	encodings[model] = tke
	return tke
}

// CountTokens оценивает число токенов текста; 0, если энкодер недоступен.
func CountTokens(model, text string) int {
	if text == "" {
		return 0
	}
	tke := encodingFor(model)
	if tke == nil {
		return 0
	}
	return len(tke.Encode(text, nil, nil))
}

// estimateUsage используется, когда бэкенд не вернул usage.
func estimateUsage(model, prompt, completion string) UsageInfo {
	u := UsageInfo{
		PromptTokens:     CountTokens(model, prompt),
		CompletionTokens: CountTokens(model, completion),
	}
	u.TotalTokens = u.PromptTokens + u.CompletionTokens
	if u.TotalTokens > 0 {
		aiUsageEstimated.WithLabelValues(model).Inc()
	}
	return u
}
