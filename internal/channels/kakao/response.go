package kakao

import "fmt"

// SkillResponse is the envelope returned to Open Builder. Every webhook
// answer, including errors, uses it with HTTP 200.
type SkillResponse struct {
	Version  string                 `json:"version"`
	Template Template               `json:"template"`
	Context  map[string]interface{} `json:"context,omitempty"`
	Data     map[string]interface{} `json:"data,omitempty"`
}

type Template struct {
	Outputs      []Output     `json:"outputs"`
	QuickReplies []QuickReply `json:"quickReplies,omitempty"`
}

// Output holds exactly one component.
type Output struct {
	SimpleText *SimpleText `json:"simpleText,omitempty"`
	BasicCard  *BasicCard  `json:"basicCard,omitempty"`
	Carousel   *Carousel   `json:"carousel,omitempty"`
	ListCard   *ListCard   `json:"listCard,omitempty"`
}

type SimpleText struct {
	Text string `json:"text"`
}

type Thumbnail struct {
	ImageURL string `json:"imageUrl"`
}

type Button struct {
	Label       string `json:"label"`
	Action      string `json:"action"` // "webLink", "message", ...
	WebLinkURL  string `json:"webLinkUrl,omitempty"`
	MessageText string `json:"messageText,omitempty"`
}

type BasicCard struct {
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Thumbnail   *Thumbnail `json:"thumbnail,omitempty"`
	Buttons     []Button   `json:"buttons,omitempty"`
}

type Carousel struct {
	Type  string      `json:"type"` // "basicCard"
	Items []BasicCard `json:"items"`
}

type ListCard struct {
	Header ListHeader `json:"header"`
	Items  []ListItem `json:"items"`
}

type ListHeader struct {
	Title string `json:"title"`
}

type ListItem struct {
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	ImageURL    string    `json:"imageUrl,omitempty"`
	Link        *ListLink `json:"link,omitempty"`
}

type ListLink struct {
	Web string `json:"web"`
}

type QuickReply struct {
	Label       string `json:"label"`
	Action      string `json:"action"`
	MessageText string `json:"messageText"`
}

// SimpleResponse wraps one text bubble.
func SimpleResponse(text string) SkillResponse {
	return SkillResponse{
		Version:  Version,
		Template: Template{Outputs: []Output{{SimpleText: &SimpleText{Text: text}}}},
	}
}

// TextResponse is a text bubble followed by message-action quick replies.
func TextResponse(text string, quickReplies []string) SkillResponse {
	resp := SimpleResponse(text)
	resp.Template.QuickReplies = messageReplies(quickReplies)
	return resp
}

// CardResponse renders a single basic card.
func CardResponse(card BasicCard, quickReplies []string) SkillResponse {
	if card.Title == "" {
		card.Title = "제목"
	}
	return SkillResponse{
		Version: Version,
		Template: Template{
			Outputs:      []Output{{BasicCard: &card}},
			QuickReplies: messageReplies(quickReplies),
		},
	}
}

// CarouselResponse renders basic cards side by side.
func CarouselResponse(items []BasicCard, quickReplies []string) SkillResponse {
	return SkillResponse{
		Version: Version,
		Template: Template{
			Outputs:      []Output{{Carousel: &Carousel{Type: "basicCard", Items: items}}},
			QuickReplies: messageReplies(quickReplies),
		},
	}
}

// ListResponse renders a list card.
func ListResponse(title string, items []ListItem, quickReplies []string) SkillResponse {
	if title == "" {
		title = "목록"
	}
	return SkillResponse{
		Version: Version,
		Template: Template{
			Outputs:      []Output{{ListCard: &ListCard{Header: ListHeader{Title: title}, Items: items}}},
			QuickReplies: messageReplies(quickReplies),
		},
	}
}

// WithContext attaches output contexts to a response.
func (r SkillResponse) WithContext(ctx map[string]interface{}) SkillResponse {
	if len(ctx) > 0 {
		r.Context = ctx
	}
	return r
}

func messageReplies(labels []string) []QuickReply {
	if len(labels) == 0 {
		return nil
	}
	out := make([]QuickReply, 0, len(labels))
	for _, l := range labels {
		out = append(out, QuickReply{Label: l, Action: "message", MessageText: l})
	}
	return out
}

// Messages shown to users for conditions handled before the model is called.
const (
	MsgGreeting       = "안녕하세요! 무엇을 도와드릴까요?"
	MsgRateLimited    = "죄송합니다. 현재 요청이 많아 잠시 후 다시 시도해 주세요."
	MsgInvalidRequest = "요청 형식이 올바르지 않습니다. 다시 시도해 주세요."
	MsgSpam           = "적절하지 않은 내용이 포함되어 있습니다. 다른 방식으로 문의해 주세요."
	MsgTemporaryError = "죄송합니다. 일시적인 오류가 발생했습니다. 잠시 후 다시 시도해주세요."
)

// RateLimitedMessage tells the user when to retry.
func RateLimitedMessage(retryAfterSeconds int) string {
	if retryAfterSeconds < 1 {
		retryAfterSeconds = 1
	}
	return fmt.Sprintf("%s (%d초 후 다시 이용하실 수 있습니다)", MsgRateLimited, retryAfterSeconds)
}

// TooLongMessage is shown when an utterance exceeds the length limit.
func TooLongMessage(limit int) string {
	return fmt.Sprintf("메시지가 너무 깁니다. %d자 이내로 입력해 주세요.", limit)
}
