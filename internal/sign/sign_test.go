package sign

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChecksum(t *testing.T) {
	cases := map[string]uint32{
		"":              3988292384,
		"hello":         3685229990,
		"test":          902298924,
		"1757912345678": 4140835795,
	}
	for in, want := range cases {
		assert.Equal(t, want, Checksum(in), "input %q", in)
	}
}

func TestChecksumTruncation(t *testing.T) {
	// Only the first 57 bytes contribute, so inputs sharing that
	// prefix collapse to the same value.
	prefix := ""
	for i := 0; i < 57; i++ {
		prefix += "a"
	}
	want := uint32(3184255329)
	assert.Equal(t, want, Checksum(prefix))
	assert.Equal(t, want, Checksum(prefix+"a"))
	assert.Equal(t, want, Checksum(prefix+"XYZABC"))
}

func TestSignedChecksum(t *testing.T) {
	assert.Equal(t, int64(3988292384), SignedChecksum(""))
	// Non-empty inputs can land outside int32 range; the platform
	// receives the wide value, not a truncation of it.
	assert.Equal(t, int64(-609737306), SignedChecksum("hello"))
	assert.Equal(t, int64(-3392668372), SignedChecksum("test"))
}

func TestBase64Alt(t *testing.T) {
	cases := map[string]string{
		"":            "",
		"a":           "Gc==",
		"ab":          "GnH=",
		"abc":         "GnQ0",
		"f":           "8W==",
		"fo":          "8fu=",
		"foo":         "8fR6",
		"hello world": "yBpVJBuW49RUJBc=",
		"健身":          "EGBSCNx3",
	}
	for in, want := range cases {
		assert.Equal(t, want, Base64Alt(in), "input %q", in)
	}
}

func TestParamsEncode(t *testing.T) {
	p := Params{
		{"note_id", "abc123"},
		{"cursor", ""},
		{"top_comment_id", ""},
		{"image_formats", "jpg,webp,avif"},
		{"xsec_token", "AB3+/=~x_ okQ"},
	}
	want := "note_id=abc123&cursor=&top_comment_id=&image_formats=jpg%2Cwebp%2Cavif&xsec_token=AB3%2B%2F%3D~x_%20okQ"
	assert.Equal(t, want, p.Encode())
}

func TestParamsEncodeUnicode(t *testing.T) {
	p := Params{{"keyword", "健身"}, {"page", "1"}}
	assert.Equal(t, "keyword=%E5%81%A5%E8%BA%AB&page=1", p.Encode())
}

func TestParamValue(t *testing.T) {
	assert.Equal(t, "", ParamValue(nil))
	assert.Equal(t, "plain", ParamValue("plain"))
	assert.Equal(t, "jpg,webp,avif", ParamValue([]string{"jpg", "webp", "avif"}))
	assert.Equal(t, "1,2", ParamValue([]any{1, 2}))
	assert.Equal(t, "42", ParamValue(42))
}

func TestCompactJSON(t *testing.T) {
	v := struct {
		A string `json:"a"`
		B int    `json:"b"`
	}{A: "<&>", B: 7}
	js, err := CompactJSON(v)
	assert.NoError(t, err)
	// Angle brackets and ampersands stay literal; the client never
	// HTML-escapes its sign payloads.
	assert.Equal(t, `{"a":"<&>","b":7}`, js)
}

func TestCanonicalSignStringQuery(t *testing.T) {
	p := Params{
		{"note_id", "abc123"},
		{"cursor", ""},
		{"top_comment_id", ""},
		{"image_formats", "jpg,webp,avif"},
	}
	s, err := CanonicalSignString("/api/sns/web/v2/comment/page", p, nil)
	assert.NoError(t, err)
	assert.Equal(t, "/api/sns/web/v2/comment/page?note_id=abc123&cursor=&top_comment_id=&image_formats=jpg%2Cwebp%2Cavif", s)
}

func TestCanonicalSignStringBody(t *testing.T) {
	body := struct {
		Keyword  string `json:"keyword"`
		Page     int    `json:"page"`
		PageSize int    `json:"page_size"`
		SearchID string `json:"search_id"`
		Sort     string `json:"sort"`
		NoteType int    `json:"note_type"`
	}{
		Keyword:  "健身",
		Page:     1,
		PageSize: 20,
		SearchID: "1757912345678",
		Sort:     "general",
		NoteType: 0,
	}
	s, err := CanonicalSignString("/api/sns/web/v1/search/notes", nil, body)
	assert.NoError(t, err)
	assert.Equal(t, `/api/sns/web/v1/search/notes{"keyword":"健身","page":1,"page_size":20,"search_id":"1757912345678","sort":"general","note_type":0}`, s)
}

func TestCanonicalSignStringBare(t *testing.T) {
	s, err := CanonicalSignString("/api/sns/web/v1/homefeed", nil, nil)
	assert.NoError(t, err)
	assert.Equal(t, "/api/sns/web/v1/homefeed", s)
}
