package lenientjson

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClean(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n[1]\n```", "[1]"},
		{"bom and spaces", "\ufeff  {\"a\":1}  ", `{"a":1}`},
		{"unterminated fence", "```json\n{\"a\":", `{"a":`},
		{"plain", `[1,2]`, `[1,2]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Clean(tt.in))
		})
	}
}

func TestRepair(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"equals after bare key", `{titles=["A","B"]}`, `{"titles":["A","B"]}`},
		{"bare keys and trailing commas", `{a: 1, b: [1,2,],}`, `{"a": 1, "b": [1,2]}`},
		{"string content untouched", `{"text":"a=b, }"}`, `{"text":"a=b, }"}`},
		{"literals in arrays stay bare", `[true, false, null]`, `[true, false, null]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Repair(tt.in)
			assert.Equal(t, tt.want, got)
			assert.True(t, json.Valid([]byte(got)), "repaired output must be valid JSON: %s", got)
		})
	}
}

func TestSpans(t *testing.T) {
	raw := `noise {"a":"}"} more [1,[2]] tail {"x":`
	assert.Equal(t, []string{`{"a":"}"}`, `[1,[2]]`}, Spans(raw))

	last, ok := LastSpan(raw)
	require.True(t, ok)
	assert.Equal(t, `[1,[2]]`, last)

	_, ok = LastSpan("no json here")
	assert.False(t, ok)
}

func TestCompleteElements_TruncatedTail(t *testing.T) {
	raw := `{"pages":[{"text":"one"},{"text":"two, [x]"},{"text":"thr`

	elems := CompleteElements(raw, "pages")
	require.Len(t, elems, 2)

	var second struct {
		Text string `json:"text"`
	}
	require.NoError(t, json.Unmarshal(elems[1], &second))
	assert.Equal(t, "two, [x]", second.Text)
}

func TestCompleteElements_MissingKey(t *testing.T) {
	assert.Nil(t, CompleteElements(`{"other":[1,2]}`, "pages"))
}

func TestCompleteElements_NoKeyUsesFirstArray(t *testing.T) {
	elems := CompleteElements(`["a", "b", "c`, "")
	require.Len(t, elems, 2)
	assert.Equal(t, `"a"`, string(elems[0]))
}

func TestDecode(t *testing.T) {
	t.Run("fenced with trailing comma", func(t *testing.T) {
		var v []string
		require.NoError(t, Decode("```json\n[\"A\", \"B\",]\n```", &v))
		assert.Equal(t, []string{"A", "B"}, v)
	})

	t.Run("wrapped in prose", func(t *testing.T) {
		var v []string
		require.NoError(t, Decode(`Sure! Here you go: ["A", "B"] Enjoy.`, &v))
		assert.Equal(t, []string{"A", "B"}, v)
	})

	t.Run("equals separator", func(t *testing.T) {
		var v struct {
			Titles []string `json:"titles"`
		}
		require.NoError(t, Decode(`{titles=["A"]}`, &v))
		assert.Equal(t, []string{"A"}, v.Titles)
	})

	t.Run("bracketed chatter after payload", func(t *testing.T) {
		var v struct {
			Titles []string `json:"titles"`
		}
		require.NoError(t, Decode("{\"titles\":[\"A\",\"B\"]}\nTip: pick {one}.", &v))
		assert.Equal(t, []string{"A", "B"}, v.Titles)

		var list []string
		require.NoError(t, Decode(`["A", "B"] and [more] later`, &list))
		assert.Equal(t, []string{"A", "B"}, list)
	})

	t.Run("garbage", func(t *testing.T) {
		var v []string
		err := Decode("I cannot help with that", &v)
		assert.ErrorIs(t, err, ErrNoJSON)
	})

	t.Run("empty", func(t *testing.T) {
		var v []string
		assert.ErrorIs(t, Decode("   ", &v), ErrNoJSON)
	})
}
