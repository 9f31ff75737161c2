package ai

import (
	"encoding/json"

	"storybook-server/story-generator/internal/config"

	"github.com/invopop/jsonschema"
)

// TitlesOutput - ожидаемая форма ответа на промпт story_titles.
type TitlesOutput struct {
	Titles []string `json:"titles" jsonschema:"minItems=1,description=Candidate book titles"`
}

// PageOutput - одна страница в ответе на промпт story_pages.
type PageOutput struct {
	PageNum   int    `json:"pageNum"`
	PageType  string `json:"pageType" jsonschema:"enum=NORMAL,enum=GOOD_CHOICE,enum=BAD_CHOICE,enum=COVER"`
	StoryText string `json:"storyText"`
}

// PagesOutput - ожидаемая форма ответа на промпт story_pages.
type PagesOutput struct {
	Pages []PageOutput `json:"pages" jsonschema:"minItems=1"`
}

func reflectSchema[T any]() *jsonschema.Schema {
	r := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	return r.Reflect(v)
}

// outputSchemas - схемы структурированного ответа по логическому id промпта.
// Промпты без схемы возвращают свободный текст.
var outputSchemas = map[string]*jsonschema.Schema{
	config.PromptStoryTitles: reflectSchema[TitlesOutput](),
	config.PromptStoryPages:  reflectSchema[PagesOutput](),
}

// OutputSchema возвращает схему ответа для промпта или nil.
func OutputSchema(promptID string) *jsonschema.Schema {
	return outputSchemas[promptID]
}

// outputSchemaJSON - схема в виде JSON для бэкендов, принимающих сырой JSON (ollama).
func outputSchemaJSON(promptID string) json.RawMessage {
	s := OutputSchema(promptID)
	if s == nil {
		return nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil
	}
	return b
}
