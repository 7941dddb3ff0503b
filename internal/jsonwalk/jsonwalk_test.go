package jsonwalk

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func decode(t *testing.T, s string) any {
	t.Helper()
	var v any
	assert.NoError(t, json.Unmarshal([]byte(s), &v))
	return v
}

func TestMapsCollectsNestedObjects(t *testing.T) {
	payload := decode(t, `{
		"data": {
			"items": [
				{"id": "n1", "note_card": {"title": "a"}},
				{"id": "n2"}
			]
		},
		"code": 0
	}`)

	maps := Maps(payload, DefaultMaxNodes)
	ids := map[string]bool{}
	for _, m := range maps {
		if id, ok := m["id"].(string); ok {
			ids[id] = true
		}
	}
	assert.True(t, ids["n1"])
	assert.True(t, ids["n2"])
	// root, data, two items and the nested card
	assert.Len(t, maps, 5)
}

func TestMapsNodeCap(t *testing.T) {
	// A linked chain deeper than the cap must stop without recursing
	// to the bottom.
	leaf := map[string]any{"depth": "bottom"}
	root := any(leaf)
	for i := 0; i < 5000; i++ {
		root = map[string]any{"next": root}
	}
	maps := Maps(root, 100)
	assert.LessOrEqual(t, len(maps), 100)
}

func TestMapsScalarRoot(t *testing.T) {
	assert.Empty(t, Maps("plain string", DefaultMaxNodes))
	assert.Empty(t, Maps(nil, DefaultMaxNodes))
}

func TestTruthy(t *testing.T) {
	assert.False(t, Truthy(nil))
	assert.False(t, Truthy(""))
	assert.False(t, Truthy(float64(0)))
	assert.False(t, Truthy(false))
	assert.False(t, Truthy(map[string]any{}))
	assert.False(t, Truthy([]any{}))
	assert.True(t, Truthy("x"))
	assert.True(t, Truthy(float64(1)))
	assert.True(t, Truthy([]any{1}))
}

func TestFirstString(t *testing.T) {
	m := map[string]any{
		"title":   "",
		"name":    "  padded  ",
		"desc":    "later",
		"note_id": float64(7012345),
	}
	assert.Equal(t, "padded", FirstString(m, "title", "name", "desc"))
	assert.Equal(t, "7012345", FirstString(m, "note_id"))
	assert.Equal(t, "", FirstString(m, "missing"))
}

func TestAsInt(t *testing.T) {
	assert.Equal(t, 12, AsInt(float64(12.9), 0))
	assert.Equal(t, -12, AsInt(float64(-12.9), 0))
	assert.Equal(t, 34, AsInt(" 34 ", 0))
	assert.Equal(t, 5, AsInt("not a number", 5))
	// Fractional strings do not parse as counts.
	assert.Equal(t, 5, AsInt("12.5", 5))
	assert.Equal(t, 1, AsInt(true, 0))
	assert.Equal(t, 9, AsInt(nil, 9))
}

func TestFirstInt(t *testing.T) {
	m := map[string]any{
		"liked_count": float64(0),
		"like_count":  "1024",
	}
	// Zero is falsy, so the chain falls through to the next spelling.
	assert.Equal(t, 1024, FirstInt(m, 0, "liked_count", "like_count"))
	assert.Equal(t, 7, FirstInt(m, 7, "missing"))
}

func TestAsBool(t *testing.T) {
	for _, v := range []any{true, float64(1), "1", "true", "YES", " y "} {
		b, ok := AsBool(v)
		assert.True(t, ok, "value %v", v)
		assert.True(t, b, "value %v", v)
	}
	for _, v := range []any{false, float64(0), "0", "false", "no", "N"} {
		b, ok := AsBool(v)
		assert.True(t, ok, "value %v", v)
		assert.False(t, b, "value %v", v)
	}
	_, ok := AsBool("maybe")
	assert.False(t, ok)
	_, ok = AsBool(nil)
	assert.False(t, ok)
}

func TestAsMapAsSlice(t *testing.T) {
	assert.Nil(t, AsMap("nope"))
	assert.Nil(t, AsSlice("nope"))
	assert.Equal(t, map[string]any{"a": float64(1)}, AsMap(map[string]any{"a": float64(1)}))
	assert.Equal(t, []any{"x"}, AsSlice([]any{"x"}))
}

func TestPaginationHints(t *testing.T) {
	payload := decode(t, `{
		"data": {
			"cursor": "c-100",
			"has_more": true,
			"comments": [{"content": "hi"}]
		}
	}`)
	hints := PaginationHints(payload)
	assert.Len(t, hints, 1)
	assert.Equal(t, "c-100", hints[0].CursorValues["cursor"])
	if assert.NotNil(t, hints[0].HasMore) {
		assert.True(t, *hints[0].HasMore)
	}
}

func TestPaginationHintsSpellings(t *testing.T) {
	payload := decode(t, `{
		"a": {"next_cursor": 200, "hasMore": "false"},
		"b": {"max_cursor": "m1", "offset": 40},
		"c": {"more": 1},
		"d": {"content": "no pagination data"}
	}`)
	hints := PaginationHints(payload)
	assert.Len(t, hints, 3)

	byCursor := map[string]PageHint{}
	for _, h := range hints {
		for k := range h.CursorValues {
			byCursor[k] = h
		}
		if len(h.CursorValues) == 0 {
			byCursor["none"] = h
		}
	}
	assert.Equal(t, "200", byCursor["next_cursor"].CursorValues["next_cursor"])
	if assert.NotNil(t, byCursor["next_cursor"].HasMore) {
		assert.False(t, *byCursor["next_cursor"].HasMore)
	}
	assert.Equal(t, "m1", byCursor["max_cursor"].CursorValues["max_cursor"])
	assert.Equal(t, "40", byCursor["max_cursor"].CursorValues["offset"])
	assert.Nil(t, byCursor["max_cursor"].HasMore)
	if assert.NotNil(t, byCursor["none"].HasMore) {
		assert.True(t, *byCursor["none"].HasMore)
	}
}

func TestPaginationHintsCap(t *testing.T) {
	items := make([]any, 0, 40)
	for i := 0; i < 40; i++ {
		items = append(items, map[string]any{"cursor": "c"})
	}
	hints := PaginationHints([]any{items})
	assert.Len(t, hints, 24)
}
