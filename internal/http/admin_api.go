package http

import (
	"log/slog"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/nextlevelbuilder/talkgate/internal/adminauth"
	"github.com/nextlevelbuilder/talkgate/internal/assistant"
	"github.com/nextlevelbuilder/talkgate/internal/channels"
	"github.com/nextlevelbuilder/talkgate/internal/channels/kakao"
	"github.com/nextlevelbuilder/talkgate/internal/config"
	"github.com/nextlevelbuilder/talkgate/internal/ratelimit"
	"github.com/nextlevelbuilder/talkgate/internal/store"
)

// AdminAPIHandler serves the authenticated admin API.
type AdminAPIHandler struct {
	cfg       *config.Config
	auth      *AdminAuthHandler
	guard     *RateLimitGuard
	sessions  *adminauth.Store
	assistant *assistant.Service
	exchanges store.ExchangeStore // nil when the exchange log is off
	version   string
	startedAt time.Time
}

// AdminAPIDeps bundles what the admin API reports on.
type AdminAPIDeps struct {
	Config    *config.Config
	Auth      *AdminAuthHandler
	Guard     *RateLimitGuard
	Sessions  *adminauth.Store
	Assistant *assistant.Service
	Exchanges store.ExchangeStore
	Version   string
}

// NewAdminAPIHandler creates the admin API handler.
func NewAdminAPIHandler(d AdminAPIDeps) *AdminAPIHandler {
	return &AdminAPIHandler{
		cfg:       d.Config,
		auth:      d.Auth,
		guard:     d.Guard,
		sessions:  d.Sessions,
		assistant: d.Assistant,
		exchanges: d.Exchanges,
		version:   d.Version,
		startedAt: time.Now(),
	}
}

// RegisterRoutes registers all admin API routes on the given mux.
func (h *AdminAPIHandler) RegisterRoutes(mux *http.ServeMux) {
	auth := func(fn http.HandlerFunc) http.Handler { return h.auth.RequireAuth(fn) }
	mux.Handle("GET /admin/api/config", auth(h.handleConfig))
	mux.Handle("GET /admin/api/status", auth(h.handleStatus))
	mux.Handle("GET /admin/api/rate-limit-status", auth(h.handleRateLimitStatus))
	mux.Handle("POST /admin/api/rate-limit-reset", auth(h.handleRateLimitReset))
	mux.Handle("GET /admin/api/sessions", auth(h.handleSessions))
	mux.Handle("GET /admin/api/conversations", auth(h.handleConversations))
	mux.Handle("DELETE /admin/api/conversations/{key}", auth(h.handleClearConversation))
	mux.Handle("GET /admin/api/exchanges", auth(h.handleExchanges))
	mux.Handle("POST /admin/api/test/webhook", auth(h.handleTestWebhook))
	mux.Handle("POST /admin/api/test/openai", auth(h.handleTestOpenAI))
}

func (h *AdminAPIHandler) handleConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"config":  h.cfg.MaskedView(),
		"hash":    h.cfg.Hash(),
	})
}

func policyView(p ratelimit.Policy) map[string]interface{} {
	return map[string]interface{}{
		"points":        p.Points,
		"duration":      p.Duration.String(),
		"blockDuration": p.BlockDuration.String(),
	}
}

func (h *AdminAPIHandler) handleStatus(w http.ResponseWriter, _ *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	tiers := h.guard.Tiers()
	conv := h.assistant.Conversations()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"status": map[string]interface{}{
			"version":    h.version,
			"env":        h.cfg.Env,
			"uptime":     time.Since(h.startedAt).Round(time.Second).String(),
			"goVersion":  runtime.Version(),
			"goroutines": runtime.NumGoroutine(),
			"memory": map[string]uint64{
				"heapAlloc": mem.HeapAlloc,
				"sys":       mem.Sys,
			},
			"stores": map[string]int{
				"ratelimit_general": tiers.General.Len(),
				"ratelimit_user":    tiers.User.Len(),
				"conversations":     conv.Len(),
				"admin_sessions":    h.sessions.Len(),
			},
			"rateLimit": map[string]interface{}{
				ratelimit.TierGeneral: policyView(tiers.General.Policy()),
				ratelimit.TierUser:    policyView(tiers.User.Policy()),
			},
			"conversation": map[string]interface{}{
				"maxTurns": conv.Config().MaxTurns,
				"ttl":      conv.Config().TTL.String(),
			},
			"openaiAvailable": h.assistant.Available(),
			"model":           h.assistant.Model(),
			"exchangeLog":     h.exchanges != nil,
		},
	})
}

// handleRateLimitStatus peeks both tiers. ip defaults to the caller.
func (h *AdminAPIHandler) handleRateLimitStatus(w http.ResponseWriter, r *http.Request) {
	ip := r.URL.Query().Get("ip")
	if ip == "" {
		ip = ClientIP(r, h.cfg.Gateway.TrustProxy)
	}
	userID := r.URL.Query().Get("userId")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"ip":      ip,
		"userId":  userID,
		"status":  h.guard.Tiers().Report(ip, userID),
	})
}

func (h *AdminAPIHandler) handleRateLimitReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IP     string `json:"ip"`
		UserID string `json:"userId"`
	}
	if err := decodeJSON(w, r, h.cfg.Gateway.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.IP == "" && req.UserID == "" {
		req.IP = ClientIP(r, h.cfg.Gateway.TrustProxy)
	}
	reset := h.guard.Tiers().ResetPair(req.IP, req.UserID)
	slog.Info("admin.rate_limit_reset", "admin", actor(r), "ip", req.IP, "user_id", req.UserID, "reset", reset)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"reset":   reset,
		"message": "Rate limit이 리셋되었습니다.",
	})
}

func (h *AdminAPIHandler) handleSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"sessions": h.sessions.Sessions(),
	})
}

func (h *AdminAPIHandler) handleConversations(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":       true,
		"conversations": h.assistant.Conversations().Snapshot(),
	})
}

func (h *AdminAPIHandler) handleClearConversation(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	h.assistant.Conversations().Clear(key)
	slog.Info("admin.conversation_cleared", "admin", actor(r), "session", key)
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "cleared": key})
}

func (h *AdminAPIHandler) handleExchanges(w http.ResponseWriter, r *http.Request) {
	if h.exchanges == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success":   true,
			"enabled":   false,
			"exchanges": []store.ExchangeData{},
		})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	list, err := h.exchanges.List(r.Context(), store.ExchangeListOpts{
		SessionKey: r.URL.Query().Get("session"),
		Limit:      limit,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list exchanges")
		return
	}
	if list == nil {
		list = []store.ExchangeData{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"enabled":   true,
		"exchanges": list,
	})
}

func (h *AdminAPIHandler) handleTestWebhook(w http.ResponseWriter, r *http.Request) {
	var req testMessageRequest
	if err := decodeJSON(w, r, h.cfg.Gateway.MaxBodyBytes, &req); err != nil || req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	if req.UserID == "" {
		req.UserID = "admin-test"
	}
	reply, err := h.assistant.Respond(r.Context(), channels.Inbound{
		Channel: channels.Admin,
		UserID:  req.UserID,
		Content: req.Message,
	})
	out := map[string]interface{}{
		"success":       err == nil,
		"response":      reply,
		"kakaoResponse": kakao.TextResponse(reply.Text, reply.QuickReplies),
	}
	if err != nil {
		out["error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, out)
}

// handleTestOpenAI sends a one-off message on a throwaway session.
func (h *AdminAPIHandler) handleTestOpenAI(w http.ResponseWriter, r *http.Request) {
	if !h.assistant.Available() {
		writeError(w, http.StatusBadRequest, "API 키가 필요합니다.")
		return
	}
	reply, err := h.assistant.Respond(r.Context(), channels.Inbound{
		Channel: channels.Admin,
		Content: "안녕하세요",
	})
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": false,
			"error":   err.Error(),
		})
		return
	}
	h.assistant.Conversations().Clear(reply.SessionKey)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"model":     reply.Model,
		"response":  reply.Text,
		"latencyMs": reply.Latency.Milliseconds(),
	})
}
