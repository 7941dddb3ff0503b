package crawler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanNoteAnchors(t *testing.T) {
	sess := newFakeSession()
	sess.html = `<html><body>
		<a href="/explore/abc"><span>健身日记</span></a>
		<a href="https://www.xiaohongshu.com/discovery/item/def"><h3>减脂餐</h3></a>
		<a href="/search_result/ghi?xsec_token=tok"><span>健身搜索卡</span></a>
		<a href="/explore/abc"><span>健身日记重复</span></a>
		<a href="/user/profile/xyz">不是笔记</a>
	</body></html>`

	rows, err := scanNoteAnchors(context.Background(), sess, "dom", 10)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "https://www.xiaohongshu.com/explore/abc", rows[0].URL)
	assert.Equal(t, "abc", rows[0].ID)
	assert.Equal(t, "健身日记", rows[0].Title)
	assert.Equal(t, "dom", rows[0].Source)
	assert.Equal(t, "https://www.xiaohongshu.com/discovery/item/def", rows[1].URL)
	assert.Equal(t, "def", rows[1].ID)
	assert.Equal(t, "ghi", rows[2].ID)
}

func TestScanNoteAnchorsLimit(t *testing.T) {
	sess := newFakeSession()
	sess.html = `<html><body>
		<a href="/explore/a">甲</a>
		<a href="/explore/b">乙</a>
		<a href="/explore/c">丙</a>
	</body></html>`
	rows, err := scanNoteAnchors(context.Background(), sess, "dom", 2)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}
