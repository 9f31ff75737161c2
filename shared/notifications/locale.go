package notifications

import (
	"fmt"
	"html"
	"strings"

	"github.com/abadojack/whatlanggo"
)

// emailTemplate - тексты письма "история готова" на одном языке.
type emailTemplate struct {
	Subject  string
	Greeting string
	Hello    string // приветствие без имени
	Body     string
	Button   string
}

var emailTemplates = map[string]emailTemplate{
	"en": {
		Subject:  "Your storybook \"%s\" is ready",
		Greeting: "Hi %s,",
		Hello:    "Hi,",
		Body:     "%s's story \"%s\" is fully illustrated and ready to read.",
		Button:   "Open the story",
	},
	"ru": {
		Subject:  "Ваша книга \"%s\" готова",
		Greeting: "Здравствуйте, %s!",
		Hello:    "Здравствуйте!",
		Body:     "История для %s \"%s\" полностью проиллюстрирована и готова к чтению.",
		Button:   "Открыть историю",
	},
	"es": {
		Subject:  "Tu cuento \"%s\" está listo",
		Greeting: "Hola %s,",
		Hello:    "Hola,",
		Body:     "El cuento de %s \"%s\" ya está ilustrado y listo para leer.",
		Button:   "Abrir el cuento",
	},
}

// detectLanguage выбирает язык письма: по заголовку истории, затем по языку аккаунта, иначе английский.
func detectLanguage(title, accountLanguage string) string {
	if info := whatlanggo.Detect(title); info.IsReliable() {
		if lang := info.Lang.Iso6391(); hasTemplate(lang) {
			return lang
		}
	}
	if lang := strings.ToLower(strings.TrimSpace(accountLanguage)); lang != "" {
		if i := strings.IndexAny(lang, "-_"); i > 0 {
			lang = lang[:i]
		}
		if hasTemplate(lang) {
			return lang
		}
	}
	return "en"
}

func hasTemplate(lang string) bool {
	_, ok := emailTemplates[lang]
	return ok
}

// renderedEmail - готовое письмо.
type renderedEmail struct {
	Subject string
	Text    string
	HTML    string
}

func renderStoryReadyEmail(lang, parentName, kidName, title, link string) renderedEmail {
	tpl := emailTemplates[lang]
	greeting := tpl.Hello
	if parentName != "" {
		greeting = fmt.Sprintf(tpl.Greeting, parentName)
	}
	body := fmt.Sprintf(tpl.Body, kidName, title)

	text := greeting + "\n\n" + body
	page := "<p>" + html.EscapeString(greeting) + "</p><p>" + html.EscapeString(body) + "</p>"
	if link != "" {
		text += "\n\n" + tpl.Button + ": " + link
		page += fmt.Sprintf(`<p><a href="%s">%s</a></p>`, html.EscapeString(link), tpl.Button)
	}
	return renderedEmail{Subject: fmt.Sprintf(tpl.Subject, title), Text: text, HTML: page}
}
