package errors

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHardClassification(t *testing.T) {
	assert.True(t, NewSignatureUnavailable("xiaohongshu", "mnsv2_empty_signature").IsHard())
	assert.True(t, NewDeadlineReached("xiaohongshu").IsHard())
	assert.True(t, NewProtocolRejected("xiaohongshu", 300011, "account abnormal", true).IsHard())
	assert.False(t, NewProtocolRejected("xiaohongshu", -100, "unknown", false).IsHard())
	assert.False(t, NewThrottled("xiaohongshu", 2*time.Second).IsHard())
	assert.False(t, NewEmptyResult("xiaohongshu", "signed_search").IsHard())
}

func TestSessionNeutral(t *testing.T) {
	assert.True(t, SessionNeutral(NewThrottled("xiaohongshu", time.Second)))
	assert.True(t, SessionNeutral(NewEmptyResult("xiaohongshu", "comments")))
	assert.True(t, SessionNeutral(NewStepTimeout("xiaohongshu", "navigate", 3*time.Second)))
	assert.True(t, SessionNeutral(NewDeadlineReached("xiaohongshu")))
	assert.False(t, SessionNeutral(NewSignatureUnavailable("xiaohongshu", "mnsv2_eval_failed")))
	assert.False(t, SessionNeutral(NewProtocolRejected("xiaohongshu", 300012, "network risk", true)))
	assert.False(t, SessionNeutral(fmt.Errorf("plain error")))
}

func TestUnwrapAndKind(t *testing.T) {
	inner := fmt.Errorf("connection reset")
	err := NewNavigationFailed("xiaohongshu", "https://example.com", inner)

	assert.Equal(t, inner, err.Unwrap())
	assert.Equal(t, KindNavigationFailed, KindOf(err))
	assert.Equal(t, Kind(""), KindOf(inner))

	wrapped := fmt.Errorf("candidate 2: %w", NewProtocolRejected("xiaohongshu", -104, "search forbidden", true))
	code, ok := CodeOf(wrapped)
	assert.True(t, ok)
	assert.Equal(t, -104, code)
	assert.True(t, IsHard(wrapped))
}
