package schemas

import (
	"testing"

	"storybook-server/shared/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTitles(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{"object", `{"titles":["A","B"]}`, []string{"A", "B"}},
		{"malformed equals", `{titles=["A","B"]}`, []string{"A", "B"}},
		{"bare array", `["One", "Two", "Three"]`, []string{"One", "Two", "Three"}},
		{"fenced", "```json\n{\"titles\": [\"A\"]}\n```", []string{"A"}},
		{"prose around", `Here are five titles: ["A", "B"]. Enjoy!`, []string{"A", "B"}},
		{"object then braced chatter", "{\"titles\":[\"A\",\"B\"]}\nTip: pick {one}.", []string{"A", "B"}},
		{"object then bracketed chatter", `{"titles":["A","B"]} You can ask for [more] titles.`, []string{"A", "B"}},
		{"array then bracketed chatter", `["A", "B"] (see [notes])`, []string{"A", "B"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTitles(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseTitles_RepairedMatchesStrict(t *testing.T) {
	strict, err := ParseTitles(`{"titles":["A","B"]}`)
	require.NoError(t, err)
	repaired, err := ParseTitles(`{titles=["A","B"]}`)
	require.NoError(t, err)
	assert.Equal(t, strict, repaired)
}

func TestParseTitles_Rejects(t *testing.T) {
	for name, raw := range map[string]string{
		"empty array":    `{"titles":[]}`,
		"non-string":     `{"titles":["A", 2]}`,
		"blank element":  `["A", "  "]`,
		"titles missing": `{"other":["A"]}`,
		"not json":       `I can't do that`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseTitles(raw)
			assert.ErrorIs(t, err, ErrInvalidTitles)
		})
	}
}

func TestParsePages(t *testing.T) {
	raw := `{"pages":[
		{"pageNum":3,"pageType":"NORMAL","text":"First"},
		{"pageNum":7,"pageType":"good_choice","storyText":"Second"},
		{"pageType":"SOMETHING","text":"Third","imagePrompt":"a cat"}
	]}`

	pages, err := ParsePages(raw)
	require.NoError(t, err)
	require.Len(t, pages, 3)

	for i, p := range pages {
		assert.Equal(t, i, p.PageNum, "pageNum must equal index")
	}
	assert.Equal(t, models.PageTypeNormal, pages[0].PageType)
	assert.Equal(t, models.PageTypeGoodChoice, pages[1].PageType)
	assert.Equal(t, "Second", pages[1].StoryText)
	assert.Equal(t, models.PageTypeNormal, pages[2].PageType)
	assert.Equal(t, "a cat", pages[2].ImagePrompt)
	assert.Empty(t, pages[0].SelectedImageURL)
}

func TestParsePages_BareKeys(t *testing.T) {
	pages, err := ParsePages(`{"pages":[{pageNum:0,pageType:"NORMAL",text:"..."}]}`)
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, "...", pages[0].StoryText)
}

func TestParsePages_TruncatedRecoversCompletePages(t *testing.T) {
	raw := `{"pages":[{"pageNum":0,"pageType":"NORMAL","text":"One {brace} inside"},` +
		`{"pageNum":1,"pageType":"BAD_CHOICE","text":"Two \"quoted\""},` +
		`{"pageNum":2,"pageType":"NORMAL","text":"Three is cut off mid-sen`

	pages, err := ParsePages(raw)
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Equal(t, "One {brace} inside", pages[0].StoryText)
	assert.Equal(t, `Two "quoted"`, pages[1].StoryText)
	assert.Equal(t, models.PageTypeBadChoice, pages[1].PageType)
	assert.Equal(t, 1, pages[1].PageNum)
}

func TestParsePages_StringPageNum(t *testing.T) {
	raw := `{"pages":[
		{"pageNum":"0","pageType":"NORMAL","text":"One"},
		{"pageNum":"one","pageType":"NORMAL","text":"Two"},
		{"pageNum":null,"text":"Three"}
	]}`

	pages, err := ParsePages(raw)
	require.NoError(t, err)
	require.Len(t, pages, 3)
	for i, p := range pages {
		assert.Equal(t, i, p.PageNum)
	}
	assert.Equal(t, "Two", pages[1].StoryText)
}

func TestParsePages_TruncatedStringPageNum(t *testing.T) {
	raw := `{"pages":[{"pageNum":"0","text":"One"},{"pageNum":"1","text":"Two"},{"pageNum":"2","te`

	pages, err := ParsePages(raw)
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Equal(t, "Two", pages[1].StoryText)
}

func TestParsePages_TruncatedBareArray(t *testing.T) {
	raw := `[{"pageNum":0,"text":"One"},{"pageNum":1,"text":"Two"},{"pageNum":2,"te`

	pages, err := ParsePages(raw)
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Equal(t, "One", pages[0].StoryText)
	assert.Equal(t, "Two", pages[1].StoryText)
}

func TestParsePages_Failures(t *testing.T) {
	for name, raw := range map[string]string{
		"empty pages":     `{"pages":[]}`,
		"pages not array": `{"pages":"nope"}`,
		"no json":         `Once upon a time`,
		"cut before page": `{"pages":[{"pageNum":0,"te`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParsePages(raw)
			assert.ErrorIs(t, err, models.ErrNoPages)
		})
	}
}

func TestRepairImagePrompt(t *testing.T) {
	t.Run("plain prompt unchanged", func(t *testing.T) {
		assert.Equal(t, "A boy walking to school", RepairImagePrompt("A boy walking to school", 2))
	})

	t.Run("serialized pages matched by pageNum", func(t *testing.T) {
		nested := `{"pages":[{"pageNum":1,"imagePrompt":"one"},{"pageNum":0,"imagePrompt":"zero"}]}`
		assert.Equal(t, "zero", RepairImagePrompt(nested, 0))
		assert.Equal(t, "one", RepairImagePrompt(nested, 1))
	})

	t.Run("string pageNum", func(t *testing.T) {
		nested := `{"pages":[{"pageNum":"1","imagePrompt":"one"},{"pageNum":"0","imagePrompt":"zero"}]}`
		assert.Equal(t, "zero", RepairImagePrompt(nested, 0))
		assert.Equal(t, "one", RepairImagePrompt(nested, 1))
	})

	t.Run("truncated bare array", func(t *testing.T) {
		nested := `[{"pageNum":0,"imagePrompt":"zero"},{"pageNum":1,"imagePrompt":"one"},{"pageNum":2,"imagePr`
		assert.Equal(t, "one", RepairImagePrompt(nested, 1))
	})

	t.Run("falls back to index", func(t *testing.T) {
		nested := `[{"imagePrompt":"first"},{"imagePrompt":"second"}]`
		assert.Equal(t, "second", RepairImagePrompt(nested, 1))
	})

	t.Run("single page object", func(t *testing.T) {
		assert.Equal(t, "lonely", RepairImagePrompt(`{"imagePrompt":"lonely"}`, 5))
	})

	t.Run("truncated collection", func(t *testing.T) {
		nested := `{"pages":[{"pageNum":0,"imagePrompt":"zero"},{"pageNum":1,"imagePr`
		assert.Equal(t, "zero", RepairImagePrompt(nested, 0))
	})

	t.Run("no match keeps original", func(t *testing.T) {
		nested := `{"pages":[{"pageNum":0,"imagePrompt":"zero"}]}`
		assert.Equal(t, nested, RepairImagePrompt(nested, 4))
	})
}
