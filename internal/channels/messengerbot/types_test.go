package messengerbot

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestValidate(t *testing.T) {
	ok := Request{Room: "가족방", Sender: "엄마", Message: "저녁 7시에 모여요"}
	assert.NoError(t, ok.Validate())

	for _, tc := range []struct {
		name string
		req  Request
		want string
	}{
		{"no room", Request{Sender: "a", Message: "b"}, "room"},
		{"no sender", Request{Room: "r", Message: "b"}, "sender"},
		{"blank message", Request{Room: "r", Sender: "a", Message: "   "}, "message"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.req.Validate()
			if assert.Error(t, err) {
				assert.Contains(t, err.Error(), tc.want)
			}
		})
	}
}

func TestFromKakao(t *testing.T) {
	assert.True(t, (&Request{}).FromKakao())
	assert.True(t, (&Request{PackageName: KakaoPackage}).FromKakao())
	assert.False(t, (&Request{PackageName: "com.other.app"}).FromKakao())
}

func TestPromptsAndReplies(t *testing.T) {
	assert.Contains(t, SummaryPrompt(3, "hello"), "정확히 3줄")
	assert.Contains(t, SummaryPrompt(0, "hello"), "정확히 3줄")
	assert.True(t, strings.HasSuffix(SummaryPrompt(2, "본문"), "\n\n본문"))
	assert.Equal(t, "📝 메시지 요약:\n한 줄", FormatSummary("  한 줄\n"))

	long := strings.Repeat("가", 300)
	fb := FallbackReply(long)
	assert.Contains(t, fb, strings.Repeat("가", 200)+"...")
	assert.NotContains(t, fb, strings.Repeat("가", 201))
	assert.Contains(t, NotConfiguredReply(long), strings.Repeat("가", 100))
	assert.NotContains(t, NotConfiguredReply(long), strings.Repeat("가", 101))
}
