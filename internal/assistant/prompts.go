package assistant

import "fmt"

// StartOverCommand resets the caller's conversation.
const StartOverCommand = "처음으로"

const (
	StartOverReply = "대화를 처음부터 다시 시작합니다. 무엇을 도와드릴까요?"
	FallbackReply  = "죄송합니다. 현재 시스템에 일시적인 문제가 발생했습니다. 잠시 후 다시 문의해 주세요."
)

var (
	FallbackQuickReplies = []string{StartOverCommand, "상담원 연결"}
	defaultQuickReplies  = []string{"도움이 더 필요해요", StartOverCommand}
)

const basePrompt = `당신은 %s, 한국의 비즈니스 고객지원 전문 AI 어시스턴트입니다.

역할과 특성:
- 친근하고 전문적인 톤으로 응답합니다
- 한국어로만 응답하며, 존댓말을 사용합니다
- 고객의 문의사항을 정확히 파악하고 도움이 되는 답변을 제공합니다
- 불확실한 정보는 추측하지 않고 확인이 필요하다고 안내합니다

주요 업무 영역:
1. 일반 문의 응답
2. 제품/서비스 안내
3. 주문 및 배송 문의
4. 기술 지원
5. 계정 관리 도움

응답 지침:
- 응답은 간결하고 명확하게 작성합니다 (최대 200자 이내)
- 필요시 단계별 안내를 제공합니다
- 추가 도움이 필요한 경우 상담원 연결을 안내합니다
- 개인정보는 절대 요청하거나 저장하지 않습니다`

// Intent names configured in the chatbot builder.
const (
	IntentOrder   = "주문문의"
	IntentProduct = "제품문의"
	IntentSupport = "기술지원"
	IntentAccount = "계정문의"
)

var intentContexts = map[string]string{
	IntentOrder:   "고객이 주문 관련 문의를 하고 있습니다. 주문번호, 배송상태, 취소/교환/환불에 대해 도움을 드리세요.",
	IntentProduct: "고객이 제품에 대해 문의하고 있습니다. 제품 정보, 사용법, 호환성 등에 대해 안내해 주세요.",
	IntentSupport: "고객이 기술적 문제를 겪고 있습니다. 단계별 해결방법을 제공하거나 기술지원팀 연결을 안내하세요.",
	IntentAccount: "고객이 계정 관련 문의를 하고 있습니다. 로그인, 비밀번호 재설정, 회원정보 등에 대해 도움을 드리세요.",
}

var intentQuickReplies = map[string][]string{
	IntentOrder:   {"주문 조회", "배송 조회", "취소/환불"},
	IntentProduct: {"다른 제품 보기", "사용법 문의", "구매하기"},
	IntentSupport: {"다시 설명해주세요", "상담원 연결", "다른 방법"},
	IntentAccount: {"비밀번호 재설정", "로그인 도움", "회원가입"},
}

// SystemPrompt builds the system message for an intent. Unknown intents get
// the base prompt only.
func SystemPrompt(botName, intent string) string {
	if botName == "" {
		botName = "고객지원 봇"
	}
	p := fmt.Sprintf(basePrompt, botName)
	if ctx, ok := intentContexts[intent]; ok {
		p += "\n\n현재 상황: " + ctx
	}
	return p
}

// QuickReplies returns the suggested follow-ups for an intent, at most max.
func QuickReplies(intent string, max int) []string {
	replies, ok := intentQuickReplies[intent]
	if !ok {
		replies = defaultQuickReplies
	}
	return capReplies(replies, max)
}
