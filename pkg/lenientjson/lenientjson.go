// Package lenientjson декодирует JSON, сгенерированный языковыми моделями:
// обрезанный, обернутый в markdown или с типичными синтаксическими ошибками.
package lenientjson

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrNoJSON возвращается, когда ни одна стратегия не дала валидный JSON.
var ErrNoJSON = errors.New("no decodable JSON found")

var fenceRegex = regexp.MustCompile("(?s)```[A-Za-z]*\\s*(.*?)\\s*```")

// Clean удаляет BOM и markdown-обертку ```json ... ```.
// Незакрытый блок (ответ оборвался) тоже распознается.
func Clean(raw string) string {
	s := strings.TrimSpace(strings.TrimPrefix(raw, "\ufeff"))
	if m := fenceRegex.FindStringSubmatch(s); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	if strings.HasPrefix(s, "```") {
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			return strings.TrimSpace(s[nl+1:])
		}
		return ""
	}
	return s
}

// Repair исправляет синтаксис вне строковых литералов:
//   - {key=[ ... и key: без кавычек становятся {"key":[ ...
//   - запятые перед } и ] удаляются.
//
// Содержимое строк не меняется.
func Repair(raw string) string {
	var b strings.Builder
	b.Grow(len(raw) + 16)

	inString, escape := false, false
	var last byte // последний значимый символ вне строк
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if inString {
			b.WriteByte(c)
			switch {
			case escape:
				escape = false
			case c == '\\':
				escape = true
			case c == '"':
				inString = false
				last = '"'
			}
			continue
		}

		switch {
		case c == '"':
			inString = true
			b.WriteByte(c)
		case c == '=':
			b.WriteByte(':')
			last = ':'
		case c == ',':
			if j := nextNonSpace(raw, i+1); j < len(raw) && (raw[j] == '}' || raw[j] == ']') {
				continue
			}
			b.WriteByte(c)
			last = c
		case isIdentStart(c) && (last == '{' || last == ','):
			j := i
			for j < len(raw) && isIdentPart(raw[j]) {
				j++
			}
			if k := nextNonSpace(raw, j); k < len(raw) && (raw[k] == ':' || raw[k] == '=') {
				b.WriteByte('"')
				b.WriteString(raw[i:j])
				b.WriteByte('"')
				last = '"'
			} else {
				b.WriteString(raw[i:j])
				last = raw[j-1]
			}
			i = j - 1
		default:
			b.WriteByte(c)
			if !isSpace(c) {
				last = c
			}
		}
	}
	return b.String()
}

// Spans возвращает все сбалансированные {...} и [...] верхнего уровня.
// Скобки внутри строк не учитываются. Незакрытый хвост в результат не попадает.
func Spans(raw string) []string {
	var spans []string
	var stack []byte
	start := -1
	inString, escape := false, false

	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if len(stack) == 0 {
			if c == '{' || c == '[' {
				start = i
				stack = append(stack, closerFor(c))
			}
			continue
		}
		if inString {
			switch {
			case escape:
				escape = false
			case c == '\\':
				escape = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, closerFor(c))
		case '}', ']':
			if stack[len(stack)-1] != c {
				// несогласованная скобка: текущий кандидат отбрасывается
				stack = stack[:0]
				continue
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				spans = append(spans, raw[start:i+1])
			}
		}
	}
	return spans
}

// LastSpan возвращает последний сбалансированный span.
func LastSpan(raw string) (string, bool) {
	spans := Spans(raw)
	if len(spans) == 0 {
		return "", false
	}
	return spans[len(spans)-1], true
}

// CompleteElements проходит массив под ключом key посимвольно и возвращает
// все полностью полученные элементы. Оборванный последний элемент отбрасывается.
// При пустом key используется первый массив в тексте.
func CompleteElements(raw, key string) []json.RawMessage {
	start := arrayStart(raw, key)
	if start < 0 {
		return nil
	}

	var out []json.RawMessage
	i := start + 1
	for i < len(raw) {
		for i < len(raw) && (isSpace(raw[i]) || raw[i] == ',') {
			i++
		}
		if i >= len(raw) || raw[i] == ']' {
			break
		}
		end, ok := scanValue(raw, i)
		if !ok {
			break
		}
		elem := raw[i:end]
		if json.Valid([]byte(elem)) {
			out = append(out, json.RawMessage(elem))
		} else if fixed := Repair(elem); json.Valid([]byte(fixed)) {
			out = append(out, json.RawMessage(fixed))
		}
		i = end
	}
	return out
}

// Decode пробует по очереди: исходный текст, текст после Repair, затем сбалансированные
// span'ы от последнего к первому (каждый как есть и после Repair). Так пояснения модели
// со скобками после валидного ответа не мешают разбору.
func Decode(raw string, v interface{}) error {
	cleaned := Clean(raw)
	if cleaned == "" {
		return ErrNoJSON
	}

	repaired := Repair(cleaned)
	candidates := []string{cleaned, repaired}
	spans := Spans(cleaned)
	for i := len(spans) - 1; i >= 0; i-- {
		candidates = append(candidates, spans[i], Repair(spans[i]))
	}
	repairedSpans := Spans(repaired)
	for i := len(repairedSpans) - 1; i >= 0; i-- {
		candidates = append(candidates, repairedSpans[i])
	}

	var err error
	for _, candidate := range candidates {
		if err = json.Unmarshal([]byte(candidate), v); err == nil {
			return nil
		}
	}
	return fmt.Errorf("%w: %v", ErrNoJSON, err)
}

func arrayStart(raw, key string) int {
	if key == "" {
		return strings.IndexByte(raw, '[')
	}
	re := regexp.MustCompile(`"?` + regexp.QuoteMeta(key) + `"?\s*[:=]\s*\[`)
	loc := re.FindStringIndex(raw)
	if loc == nil {
		return -1
	}
	return loc[1] - 1
}

// scanValue возвращает индекс сразу после значения, начинающегося в raw[i].
// ok=false, если значение оборвано концом ввода.
func scanValue(raw string, i int) (int, bool) {
	switch raw[i] {
	case '{', '[':
		var stack []byte
		inString, escape := false, false
		for j := i; j < len(raw); j++ {
			c := raw[j]
			if inString {
				switch {
				case escape:
					escape = false
				case c == '\\':
					escape = true
				case c == '"':
					inString = false
				}
				continue
			}
			switch c {
			case '"':
				inString = true
			case '{', '[':
				stack = append(stack, closerFor(c))
			case '}', ']':
				if len(stack) == 0 || stack[len(stack)-1] != c {
					return j, false
				}
				stack = stack[:len(stack)-1]
				if len(stack) == 0 {
					return j + 1, true
				}
			}
		}
		return len(raw), false
	case '"':
		escape := false
		for j := i + 1; j < len(raw); j++ {
			switch {
			case escape:
				escape = false
			case raw[j] == '\\':
				escape = true
			case raw[j] == '"':
				return j + 1, true
			}
		}
		return len(raw), false
	default:
		for j := i; j < len(raw); j++ {
			if c := raw[j]; c == ',' || c == ']' || c == '}' || isSpace(c) {
				return j, true
			}
		}
		return len(raw), false
	}
}

func closerFor(c byte) byte {
	if c == '{' {
		return '}'
	}
	return ']'
}

func nextNonSpace(s string, i int) int {
	for i < len(s) && isSpace(s[i]) {
		i++
	}
	return i
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\n' || c == '\t' || c == '\r'
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || c == '-' || (c >= '0' && c <= '9')
}
