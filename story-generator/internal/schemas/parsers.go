package schemas

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"storybook-server/pkg/lenientjson"
	"storybook-server/shared/models"
)

// ErrInvalidTitles - ответ модели не содержит непустого списка строк-заголовков.
var ErrInvalidTitles = errors.New("titles payload is empty or malformed")

// pageNumber - номер страницы от модели: число или строка с числом.
// Нечисловое значение не ломает разбор страницы, номер просто считается отсутствующим.
type pageNumber struct {
	n     int
	valid bool
}

func (p *pageNumber) UnmarshalJSON(data []byte) error {
	*p = pageNumber{}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		var str string
		if json.Unmarshal(data, &str) != nil {
			return nil
		}
		num = json.Number(strings.TrimSpace(str))
	}
	if n, err := strconv.Atoi(num.String()); err == nil {
		*p = pageNumber{n: n, valid: true}
	}
	return nil
}

// pageDTO - страница в том виде, в каком ее возвращает модель.
type pageDTO struct {
	PageNum     pageNumber `json:"pageNum"`
	PageType    string `json:"pageType"`
	Text        string `json:"text"`
	StoryText   string `json:"storyText"`
	ImagePrompt string `json:"imagePrompt"`
}

func (p pageDTO) text() string {
	if p.StoryText != "" {
		return p.StoryText
	}
	return p.Text
}

// ParseTitles разбирает список заголовков: голый массив строк или {"titles":[...]}.
// Известная поломка {titles=[...]} чинится до разбора.
func ParseTitles(raw string) ([]string, error) {
	var payload json.RawMessage
	if err := lenientjson.Decode(raw, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTitles, err)
	}

	list := payload
	if firstByte(payload) == '{' {
		var obj struct {
			Titles json.RawMessage `json:"titles"`
		}
		if err := json.Unmarshal(payload, &obj); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidTitles, err)
		}
		list = obj.Titles
	}
	if firstByte(list) != '[' {
		return nil, fmt.Errorf("%w: titles is not an array", ErrInvalidTitles)
	}

	var items []interface{}
	if err := json.Unmarshal(list, &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTitles, err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: empty list", ErrInvalidTitles)
	}

	titles := make([]string, 0, len(items))
	for i, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("%w: element %d is %T, not a string", ErrInvalidTitles, i, item)
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, fmt.Errorf("%w: element %d is empty", ErrInvalidTitles, i)
		}
		titles = append(titles, s)
	}
	return titles, nil
}

// ParsePages разбирает {"pages":[...]} (или голый массив страниц).
// Если ответ оборван, восстанавливаются все полностью полученные страницы.
// Результат нормализован: PageNum равен индексу, неизвестный PageType становится NORMAL.
func ParsePages(raw string) ([]models.Page, error) {
	dtos, err := decodePages(raw)
	if err != nil {
		return nil, err
	}
	if len(dtos) == 0 {
		return nil, fmt.Errorf("%w: pages array is empty", models.ErrNoPages)
	}

	pages := make([]models.Page, len(dtos))
	for i, dto := range dtos {
		pages[i] = models.Page{
			PageNum:     i,
			PageType:    models.NormalizePageType(dto.PageType),
			StoryText:   strings.TrimSpace(dto.text()),
			ImagePrompt: strings.TrimSpace(dto.ImagePrompt),
		}
	}
	return pages, nil
}

func decodePages(raw string) ([]pageDTO, error) {
	var payload json.RawMessage
	if err := lenientjson.Decode(raw, &payload); err == nil {
		list := payload
		if firstByte(payload) == '{' {
			var obj struct {
				Pages json.RawMessage `json:"pages"`
			}
			if err := json.Unmarshal(payload, &obj); err != nil {
				return nil, fmt.Errorf("%w: %v", models.ErrNoPages, err)
			}
			list = obj.Pages
		}
		if firstByte(list) == '[' {
			var dtos []pageDTO
			if err := json.Unmarshal(list, &dtos); err != nil {
				return nil, fmt.Errorf("%w: %v", models.ErrNoPages, err)
			}
			return dtos, nil
		}
		// Валидный JSON без массива pages. Возможно, это последний span оборванного ответа,
		// поэтому пробуем восстановить страницы посимвольно.
	}

	dtos := recoverPages(lenientjson.Repair(lenientjson.Clean(raw)))
	if len(dtos) == 0 {
		return nil, fmt.Errorf("%w: no complete page objects recovered", models.ErrNoPages)
	}
	return dtos, nil
}

// RepairImagePrompt проверяет, не вернула ли модель вместо промпта сериализованный набор страниц.
// Если да, возвращает imagePrompt страницы pageNum (сначала по полю pageNum, затем по индексу).
// В остальных случаях промпт возвращается без изменений.
func RepairImagePrompt(prompt string, pageNum int) string {
	cleaned := lenientjson.Clean(prompt)
	if first := firstByte([]byte(cleaned)); first != '{' && first != '[' {
		return prompt
	}

	var dtos []pageDTO
	var single pageDTO
	var payload json.RawMessage
	if err := lenientjson.Decode(cleaned, &payload); err == nil {
		switch firstByte(payload) {
		case '[':
			_ = json.Unmarshal(payload, &dtos)
		case '{':
			var obj struct {
				Pages json.RawMessage `json:"pages"`
			}
			if json.Unmarshal(payload, &obj) == nil && firstByte(obj.Pages) == '[' {
				_ = json.Unmarshal(obj.Pages, &dtos)
			} else {
				_ = json.Unmarshal(payload, &single)
			}
		}
	} else {
		dtos = recoverPages(lenientjson.Repair(cleaned))
	}

	for _, dto := range dtos {
		if dto.PageNum.valid && dto.PageNum.n == pageNum && strings.TrimSpace(dto.ImagePrompt) != "" {
			return strings.TrimSpace(dto.ImagePrompt)
		}
	}
	if pageNum >= 0 && pageNum < len(dtos) && strings.TrimSpace(dtos[pageNum].ImagePrompt) != "" {
		return strings.TrimSpace(dtos[pageNum].ImagePrompt)
	}
	if p := strings.TrimSpace(single.ImagePrompt); p != "" {
		return p
	}
	return prompt
}

// recoverPages достает полностью полученные объекты страниц из оборванного ответа:
// сначала из массива под ключом pages, затем из голого массива.
func recoverPages(repaired string) []pageDTO {
	var dtos []pageDTO
	for _, key := range []string{"pages", ""} {
		for _, elem := range lenientjson.CompleteElements(repaired, key) {
			if firstByte(elem) != '{' {
				continue
			}
			var dto pageDTO
			if json.Unmarshal(elem, &dto) == nil {
				dtos = append(dtos, dto)
			}
		}
		if len(dtos) > 0 {
			break
		}
	}
	return dtos
}

func firstByte(b []byte) byte {
	for _, c := range b {
		if c != ' ' && c != '\n' && c != '\t' && c != '\r' {
			return c
		}
	}
	return 0
}
