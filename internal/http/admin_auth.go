package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/nextlevelbuilder/talkgate/internal/adminauth"
)

const sessionCookie = "admin_session"

// Error codes returned by RequireAuth.
const (
	CodeNoSession      = "NO_SESSION"
	CodeInvalidSession = "INVALID_SESSION"
)

type sessionCtxKey struct{}

// SessionFromContext returns the admin session attached by RequireAuth.
func SessionFromContext(ctx context.Context) (adminauth.Session, bool) {
	s, ok := ctx.Value(sessionCtxKey{}).(adminauth.Session)
	return s, ok
}

// actor names the admin behind r for audit logs.
func actor(r *http.Request) string {
	if s, ok := SessionFromContext(r.Context()); ok {
		return s.Username
	}
	return "auth-disabled"
}

// AdminAuthOptions configures the admin gate.
type AdminAuthOptions struct {
	// DisableAuth lets every admin request through. Config validation
	// rejects it in production.
	DisableAuth  bool
	SecureCookie bool
	TrustProxy   bool
	MaxBodyBytes int64
}

// AdminAuthHandler serves login/logout/status and gates the admin API.
type AdminAuthHandler struct {
	sessions *adminauth.Store
	opts     AdminAuthOptions
}

// NewAdminAuthHandler creates the admin auth handler.
func NewAdminAuthHandler(sessions *adminauth.Store, opts AdminAuthOptions) *AdminAuthHandler {
	if opts.DisableAuth {
		slog.Warn("security.admin_auth_disabled", "detail", "all admin endpoints are unauthenticated")
	}
	return &AdminAuthHandler{sessions: sessions, opts: opts}
}

// RegisterRoutes registers the auth routes on the given mux.
func (h *AdminAuthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /admin/auth/login", h.handleLogin)
	mux.HandleFunc("POST /admin/auth/logout", h.handleLogout)
	mux.HandleFunc("GET /admin/auth/status", h.handleStatus)
}

// token reads the session token from the cookie, then the bearer header.
func (h *AdminAuthHandler) token(r *http.Request) string {
	if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	return extractBearerToken(r)
}

func (h *AdminAuthHandler) setCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.sessions.TTL() / time.Second),
		HttpOnly: true,
		Secure:   h.opts.SecureCookie,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *AdminAuthHandler) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.opts.SecureCookie,
		SameSite: http.SameSiteStrictMode,
	})
}

// RequireAuth admits requests carrying a live session presented from its
// bound origin.
func (h *AdminAuthHandler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.opts.DisableAuth {
			slog.Debug("security.admin_auth_bypassed", "path", r.URL.Path)
			next.ServeHTTP(w, r)
			return
		}
		token := h.token(r)
		if token == "" {
			writeCode(w, http.StatusUnauthorized, CodeNoSession, "인증이 필요합니다.")
			return
		}
		sess, ok := h.sessions.Validate(token, ClientIP(r, h.opts.TrustProxy))
		if !ok {
			h.clearCookie(w)
			writeCode(w, http.StatusUnauthorized, CodeInvalidSession, "세션이 만료되었거나 유효하지 않습니다.")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionCtxKey{}, sess)))
	})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	// Bearer returns the token in the body for non-browser clients.
	Bearer bool `json:"bearer,omitempty"`
}

func (h *AdminAuthHandler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, h.opts.MaxBodyBytes, &req); err != nil || req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "사용자명과 비밀번호를 입력해주세요.")
		return
	}

	ip := ClientIP(r, h.opts.TrustProxy)
	token, sess, err := h.sessions.Login(r.Context(), req.Username, req.Password)
	switch {
	case errors.Is(err, adminauth.ErrNotConfigured):
		writeError(w, http.StatusServiceUnavailable, "admin login is not configured")
		return
	case errors.Is(err, adminauth.ErrInvalidCredentials):
		slog.Warn("security.admin_login_failed", "username", req.Username, "ip", ip, "user_agent", r.UserAgent())
		h.sessions.FailedLoginDelay(r.Context())
		writeError(w, http.StatusUnauthorized, "잘못된 사용자명 또는 비밀번호입니다.")
		return
	case err != nil:
		slog.Error("admin.login_error", "error", err)
		writeError(w, http.StatusInternalServerError, "로그인 처리 중 오류가 발생했습니다.")
		return
	}

	slog.Info("admin.login", "username", sess.Username, "session", adminauth.MaskToken(token), "ip", ip)
	h.setCookie(w, token)
	out := map[string]interface{}{
		"success":   true,
		"message":   "로그인되었습니다.",
		"user":      map[string]string{"username": sess.Username},
		"expiresIn": int(h.sessions.TTL() / time.Second),
	}
	if req.Bearer {
		out["token"] = token
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *AdminAuthHandler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token := h.token(r); token != "" {
		h.sessions.Logout(token)
		slog.Info("admin.logout", "session", adminauth.MaskToken(token))
	}
	h.clearCookie(w)
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": "로그아웃되었습니다."})
}

func (h *AdminAuthHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if h.opts.DisableAuth {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success":       true,
			"authenticated": true,
			"authDisabled":  true,
		})
		return
	}
	token := h.token(r)
	if token == "" {
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "authenticated": false})
		return
	}
	sess, ok := h.sessions.Validate(token, ClientIP(r, h.opts.TrustProxy))
	if !ok {
		h.clearCookie(w)
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "authenticated": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":       true,
		"authenticated": true,
		"user": map[string]interface{}{
			"username":     sess.Username,
			"lastActivity": sess.LastActivityAt,
		},
	})
}
