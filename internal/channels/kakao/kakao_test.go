package kakao

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePayload = `{
  "intent": {"id": "i1", "name": "주문문의"},
  "userRequest": {
    "timezone": "Asia/Seoul",
    "block": {"id": "b1", "name": "폴백 블록"},
    "utterance": "  배송 언제 와요?  ",
    "lang": "ko",
    "user": {"id": "abc123", "type": "botUserKey", "properties": {}},
    "newField": true
  },
  "bot": {"id": "bot1", "name": "상담봇"}
}`

func TestDecodeAndValidate(t *testing.T) {
	var req SkillRequest
	require.NoError(t, json.Unmarshal([]byte(samplePayload), &req))
	require.NoError(t, Validate(&req))

	assert.Equal(t, "abc123", req.UserID())
	assert.Equal(t, "배송 언제 와요?", req.Utterance())
	assert.Equal(t, "주문문의", req.IntentName())
	assert.Equal(t, "", req.ActionName())
	assert.Equal(t, "폴백 블록", req.BlockName())
}

func TestValidateMissingFields(t *testing.T) {
	var req SkillRequest
	require.NoError(t, json.Unmarshal([]byte(`{"userRequest":{"block":{"id":"b"}}}`), &req))

	err := Validate(&req)
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.ElementsMatch(t, []string{
		"userRequest.user.id", "userRequest.block", "userRequest.utterance", "userRequest.timezone",
	}, ve.Fields)

	err = Validate(&SkillRequest{})
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, []string{"userRequest"}, ve.Fields)
}

func TestEmptyUtteranceIsValid(t *testing.T) {
	var req SkillRequest
	body := strings.Replace(samplePayload, `"  배송 언제 와요?  "`, `""`, 1)
	require.NoError(t, json.Unmarshal([]byte(body), &req))
	assert.NoError(t, Validate(&req))
	assert.Equal(t, "", req.Utterance())
}

func TestAccessorsOnNil(t *testing.T) {
	var req *SkillRequest
	assert.Empty(t, req.UserID())
	assert.Empty(t, req.Utterance())
	assert.Empty(t, req.IntentName())
}

// --- filter ---

func TestMessageFilter(t *testing.T) {
	f := MessageFilter{MaxLength: 10, SpamFilter: true}

	assert.NoError(t, f.Check("안녕하세요"))
	assert.True(t, errors.Is(f.Check(strings.Repeat("가", 11)), ErrTooLong))
	assert.NoError(t, f.Check(strings.Repeat("가", 10)), "limit counts runes, not bytes")

	f.MaxLength = 0
	for _, spam := range []string{
		"여기 보세요 https://evil.example/x",
		"연락주세요 010-1234-5678",
		"신상품 광고입니다",
	} {
		assert.True(t, errors.Is(f.Check(spam), ErrSpam), spam)
	}
	assert.NoError(t, f.Check("보고서 확인 부탁드립니다"))

	f.SpamFilter = false
	assert.NoError(t, f.Check("https://ok.example"))
}

// --- responses ---

func TestTextResponseShape(t *testing.T) {
	resp := TextResponse("hi", []string{"처음으로", "상담원 연결"})
	data, err := json.Marshal(resp)
	require.NoError(t, err)

	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, "2.0", m["version"])
	tmpl := m["template"].(map[string]interface{})
	outputs := tmpl["outputs"].([]interface{})
	require.Len(t, outputs, 1)
	assert.Equal(t, "hi", outputs[0].(map[string]interface{})["simpleText"].(map[string]interface{})["text"])
	qr := tmpl["quickReplies"].([]interface{})
	require.Len(t, qr, 2)
	assert.Equal(t, map[string]interface{}{"label": "처음으로", "action": "message", "messageText": "처음으로"}, qr[0])
}

func TestSimpleResponseOmitsQuickReplies(t *testing.T) {
	data, err := json.Marshal(SimpleResponse("x"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "quickReplies")
	assert.NotContains(t, string(data), "context")
}

func TestCardDefaults(t *testing.T) {
	resp := CardResponse(BasicCard{}, nil)
	assert.Equal(t, "제목", resp.Template.Outputs[0].BasicCard.Title)
	list := ListResponse("", []ListItem{{Title: "a"}}, nil)
	assert.Equal(t, "목록", list.Template.Outputs[0].ListCard.Header.Title)
	car := CarouselResponse([]BasicCard{{Title: "a"}, {Title: "b"}}, []string{"x"})
	assert.Equal(t, "basicCard", car.Template.Outputs[0].Carousel.Type)
	assert.Len(t, car.Template.QuickReplies, 1)
}

func TestRateLimitedMessage(t *testing.T) {
	assert.Contains(t, RateLimitedMessage(0), "1초")
	assert.Contains(t, RateLimitedMessage(42), "42초")
	assert.Contains(t, TooLongMessage(1000), "1000자")
}
