package http

import (
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/nextlevelbuilder/talkgate/internal/assistant"
	"github.com/nextlevelbuilder/talkgate/internal/channels"
	"github.com/nextlevelbuilder/talkgate/internal/channels/kakao"
	"github.com/nextlevelbuilder/talkgate/internal/channels/messengerbot"
	"github.com/nextlevelbuilder/talkgate/internal/conversation"
)

const messengerBotPrefix = "/webhook/messenger-bot-r"

// MessengerBotHandler serves the Messenger Bot R relay.
type MessengerBotHandler struct {
	assistant    *assistant.Service
	guard        *RateLimitGuard
	maxBody      int64
	testEndpoint bool
}

// NewMessengerBotHandler creates the relay handler.
func NewMessengerBotHandler(svc *assistant.Service, guard *RateLimitGuard, maxBody int64, testEndpoint bool) *MessengerBotHandler {
	return &MessengerBotHandler{assistant: svc, guard: guard, maxBody: maxBody, testEndpoint: testEndpoint}
}

// RegisterRoutes registers the relay routes on the given mux.
func (h *MessengerBotHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("POST "+messengerBotPrefix+"/message", h.guard.General(http.HandlerFunc(h.handleMessage)))
	mux.Handle("GET "+messengerBotPrefix+"/status", h.guard.General(http.HandlerFunc(h.handleStatus)))
	mux.Handle("GET "+messengerBotPrefix+"/config", h.guard.General(http.HandlerFunc(h.handleConfig)))
	if h.testEndpoint {
		mux.Handle("POST "+messengerBotPrefix+"/test", h.guard.General(http.HandlerFunc(h.handleTest)))
	}
}

func seconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*100) / 100
}

func (h *MessengerBotHandler) handleMessage(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req messengerbot.Request
	if err := decodeJSON(w, r, h.maxBody, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("messengerbot.invalid_request", "error", err)
		writeError(w, http.StatusBadRequest, "room, sender, message fields are required")
		return
	}
	if !req.FromKakao() {
		slog.Info("messengerbot.non_kakao_package", "package", req.PackageName, "room", req.Room)
	}

	if res, ok := h.guard.ConsumeUser(req.Room + "/" + req.Sender); !ok {
		writeJSON(w, http.StatusTooManyRequests, messengerbot.Response{
			Room:           req.Room,
			Message:        kakao.RateLimitedMessage(res.RetryAfterSeconds()),
			ProcessingTime: seconds(time.Since(start)),
			Error:          "rate limited",
		})
		return
	}

	slog.Info("messengerbot.message",
		"room", req.Room,
		"group", req.IsGroupChat,
		"length", len([]rune(req.Message)),
	)

	writeJSON(w, http.StatusOK, h.summarize(r, req, start))
}

func (h *MessengerBotHandler) summarize(r *http.Request, req messengerbot.Request, start time.Time) messengerbot.Response {
	resp := messengerbot.Response{Room: req.Room, Success: true}
	if !h.assistant.Available() {
		resp.Message = messengerbot.NotConfiguredReply(req.Message)
		resp.ProcessingTime = seconds(time.Since(start))
		return resp
	}

	kind := conversation.PeerDirect
	if req.IsGroupChat {
		kind = conversation.PeerGroup
	}
	reply, _ := h.assistant.Summarize(r.Context(), channels.Inbound{
		Channel:  channels.MessengerBot,
		UserID:   req.Sender,
		ChatID:   req.Room,
		PeerKind: kind,
		Content:  req.Message,
	})
	resp.Message = reply.Text
	if !reply.Fallback {
		resp.ModelUsed = reply.Model
	}
	resp.ProcessingTime = seconds(time.Since(start))
	return resp
}

func (h *MessengerBotHandler) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":           "active",
		"service":          "KakaoTalk Messenger Bot R webhook",
		"openai_available": h.assistant.Available(),
		"endpoint":         messengerBotPrefix + "/message",
		"timestamp":        time.Now().UTC().Format(time.RFC3339),
	})
}

func baseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

// handleConfig shows what to paste into the relay app.
func (h *MessengerBotHandler) handleConfig(w http.ResponseWriter, r *http.Request) {
	base := baseURL(r) + messengerBotPrefix
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"webhook_url": base + "/message",
		"test_url":    base + "/test",
		"status_url":  base + "/status",
		"example_payload": messengerbot.Request{
			Room:        "채팅방 이름",
			Sender:      "보낸 사람",
			Message:     "요약할 메시지",
			IsGroupChat: true,
			Timestamp:   time.Now().Unix(),
			PackageName: messengerbot.KakaoPackage,
		},
		"response_format": messengerbot.Response{
			Room:           "채팅방 이름",
			Message:        "📝 메시지 요약:\n...",
			Success:        true,
			ProcessingTime: 1.23,
			ModelUsed:      h.assistant.Model(),
		},
	})
}

func (h *MessengerBotHandler) handleTest(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var body struct {
		Message string `json:"message"`
	}
	_ = decodeJSON(w, r, h.maxBody, &body)
	if body.Message == "" {
		body.Message = "안녕하세요! 테스트 메시지입니다."
	}
	req := messengerbot.Request{
		Room:        "테스트 채팅방",
		Sender:      "테스트 사용자",
		Message:     body.Message,
		Timestamp:   time.Now().Unix(),
		PackageName: messengerbot.KakaoPackage,
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "success",
		"message": "웹훅 테스트 완료",
		"data": map[string]interface{}{
			"test_input":  req,
			"test_output": h.summarize(r, req, start),
		},
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
