package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/nextlevelbuilder/talkgate/internal/assistant"
	"github.com/nextlevelbuilder/talkgate/internal/channels"
	"github.com/nextlevelbuilder/talkgate/internal/channels/kakao"
	"github.com/nextlevelbuilder/talkgate/internal/conversation"
)

const kakaoWebhookPath = "/webhook/kakaotalk"

// KakaoOptions configures the skill webhook.
type KakaoOptions struct {
	Filter          kakao.MessageFilter
	MaxBodyBytes    int64
	MaxQuickReplies int
	TestEndpoint    bool // expose POST /webhook/test
	Version         string
}

// KakaoHandler serves the KakaoTalk skill webhook. Every reply on the
// webhook path is HTTP 200 with a skill envelope.
type KakaoHandler struct {
	assistant *assistant.Service
	guard     *RateLimitGuard
	opts      KakaoOptions
}

// NewKakaoHandler creates the skill webhook handler.
func NewKakaoHandler(svc *assistant.Service, guard *RateLimitGuard, opts KakaoOptions) *KakaoHandler {
	return &KakaoHandler{assistant: svc, guard: guard, opts: opts}
}

// RegisterRoutes registers the webhook routes on the given mux.
func (h *KakaoHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("POST "+kakaoWebhookPath, h.guard.General(http.HandlerFunc(h.handleSkill)))
	mux.Handle("GET /webhook/status", h.guard.General(http.HandlerFunc(h.handleStatus)))
	if h.opts.TestEndpoint {
		mux.Handle("POST /webhook/test", h.guard.General(http.HandlerFunc(h.handleTest)))
	}
}

func (h *KakaoHandler) skill(w http.ResponseWriter, resp kakao.SkillResponse) {
	writeJSON(w, http.StatusOK, resp)
}

func (h *KakaoHandler) handleSkill(w http.ResponseWriter, r *http.Request) {
	var req kakao.SkillRequest
	if err := decodeJSON(w, r, h.opts.MaxBodyBytes, &req); err != nil {
		slog.Warn("kakao.bad_payload", "error", err)
		h.skill(w, kakao.SimpleResponse(kakao.MsgInvalidRequest))
		return
	}
	if err := kakao.Validate(&req); err != nil {
		slog.Warn("kakao.invalid_request", "error", err)
		h.skill(w, kakao.SimpleResponse(kakao.MsgInvalidRequest))
		return
	}

	userID := req.UserID()
	if res, ok := h.guard.ConsumeUser(userID); !ok {
		secs := res.RetryAfterSeconds()
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		h.skill(w, kakao.SimpleResponse(kakao.RateLimitedMessage(secs)))
		return
	}

	text := req.Utterance()
	if text == "" {
		h.skill(w, kakao.TextResponse(kakao.MsgGreeting, assistant.QuickReplies("", h.opts.MaxQuickReplies)))
		return
	}

	if err := h.opts.Filter.Check(text); err != nil {
		slog.Warn("security.kakao_filtered", "user", userID, "reason", err)
		if errors.Is(err, kakao.ErrTooLong) {
			h.skill(w, kakao.SimpleResponse(kakao.TooLongMessage(h.opts.Filter.MaxLength)))
			return
		}
		h.skill(w, kakao.SimpleResponse(kakao.MsgSpam))
		return
	}

	slog.Info("kakao.message",
		"user", userID,
		"intent", req.IntentName(),
		"block", req.BlockName(),
		"preview", channels.Preview(text, 40),
	)

	reply, _ := h.assistant.Respond(r.Context(), channels.Inbound{
		Channel:  channels.Kakao,
		UserID:   userID,
		PeerKind: conversation.PeerDirect,
		Content:  text,
		Intent:   req.IntentName(),
		Metadata: map[string]string{"block": req.BlockName(), "action": req.ActionName()},
	})
	h.skill(w, kakao.TextResponse(reply.Text, reply.QuickReplies))
}

func (h *KakaoHandler) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "active",
		"service":   "KakaoTalk skill server",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.opts.Version,
	})
}

type testMessageRequest struct {
	Message string `json:"message"`
	UserID  string `json:"userId"`
}

// handleTest runs a message through the assistant and shows both the raw
// reply and the envelope the platform would receive.
func (h *KakaoHandler) handleTest(w http.ResponseWriter, r *http.Request) {
	var req testMessageRequest
	if err := decodeJSON(w, r, h.opts.MaxBodyBytes, &req); err != nil || req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	if req.UserID == "" {
		req.UserID = "test-user"
	}
	reply, err := h.assistant.Respond(r.Context(), channels.Inbound{
		Channel: channels.Test,
		UserID:  req.UserID,
		Content: req.Message,
	})
	out := map[string]interface{}{
		"input":         req,
		"aiResponse":    reply,
		"kakaoResponse": kakao.TextResponse(reply.Text, reply.QuickReplies),
	}
	if err != nil {
		out["error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, out)
}
