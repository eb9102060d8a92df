// Package messengerbot defines the Messenger Bot R relay payloads. The relay
// forwards a KakaoTalk chat message from an Android device and expects a
// short summary back.
package messengerbot

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// KakaoPackage is the package name the relay reports for KakaoTalk.
const KakaoPackage = "com.kakao.talk"

// Request is posted by the relay for every observed message.
type Request struct {
	Room        string `json:"room"`
	Sender      string `json:"sender"`
	Message     string `json:"message"`
	IsGroupChat bool   `json:"isGroupChat"`
	Timestamp   int64  `json:"timestamp,omitempty"`
	PackageName string `json:"packageName,omitempty"`
}

// Validate returns an error naming the first missing required field.
func (r *Request) Validate() error {
	switch {
	case strings.TrimSpace(r.Room) == "":
		return fmt.Errorf("room is required")
	case strings.TrimSpace(r.Sender) == "":
		return fmt.Errorf("sender is required")
	case strings.TrimSpace(r.Message) == "":
		return fmt.Errorf("message is required")
	}
	return nil
}

// FromKakao reports whether the relay captured the message from KakaoTalk.
// An empty package name is accepted.
func (r *Request) FromKakao() bool {
	return r.PackageName == "" || r.PackageName == KakaoPackage
}

// Response is returned to the relay.
type Response struct {
	Room           string  `json:"room"`
	Message        string  `json:"message"`
	Success        bool    `json:"success"`
	ProcessingTime float64 `json:"processing_time"` // seconds
	ModelUsed      string  `json:"model_used,omitempty"`
	Error          string  `json:"error,omitempty"`
}

// SummaryPrompt asks the model for an n-line Korean summary of msg.
func SummaryPrompt(lines int, msg string) string {
	if lines <= 0 {
		lines = 3
	}
	return fmt.Sprintf("다음 메시지를 정확히 %d줄로 간결하게 요약해주세요. 핵심 내용만 포함하고 자연스러운 한국어로 작성해주세요:\n\n%s", lines, msg)
}

// FormatSummary prefixes a model summary for display in the chat room.
func FormatSummary(summary string) string {
	return "📝 메시지 요약:\n" + strings.TrimSpace(summary)
}

// NotConfiguredReply is sent when no model credentials are configured.
func NotConfiguredReply(msg string) string {
	return fmt.Sprintf("AI 요약 서비스가 설정되지 않았습니다.\n받은 메시지: %s", head(msg, 100))
}

// FallbackReply echoes the message when the model call failed.
func FallbackReply(msg string) string {
	return fmt.Sprintf("메시지를 받았습니다:\n%s...\n\n(AI 요약 서비스가 일시적으로 사용할 수 없습니다)", head(msg, 200))
}

// head returns the first n runes of s.
func head(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
