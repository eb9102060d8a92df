package http

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/nextlevelbuilder/talkgate/internal/channels/kakao"
	"github.com/nextlevelbuilder/talkgate/internal/ratelimit"
)

const bypassHeader = "X-Bypass-Rate-Limit"

// RejectObserver counts rate-limit rejections by tier.
type RejectObserver interface {
	RateLimited(tier string)
}

// RateLimitGuard applies both tiers. The general tier runs as middleware on
// the client address; the user tier is checked by handlers once the user id
// is known.
type RateLimitGuard struct {
	tiers       *ratelimit.Tiers
	bypassToken string
	trustProxy  bool
	observer    RejectObserver
}

// NewRateLimitGuard creates a guard. An empty bypassToken disables bypass.
func NewRateLimitGuard(tiers *ratelimit.Tiers, bypassToken string, trustProxy bool, observer RejectObserver) *RateLimitGuard {
	return &RateLimitGuard{tiers: tiers, bypassToken: bypassToken, trustProxy: trustProxy, observer: observer}
}

// Tiers returns the underlying limiters.
func (g *RateLimitGuard) Tiers() *ratelimit.Tiers { return g.tiers }

func (g *RateLimitGuard) bypassed(r *http.Request) bool {
	if g.bypassToken == "" {
		return false
	}
	got := r.Header.Get(bypassHeader)
	return got != "" && subtle.ConstantTimeCompare([]byte(got), []byte(g.bypassToken)) == 1
}

// General consumes one general-tier point per request, keyed by client IP.
func (g *RateLimitGuard) General(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.bypassed(r) {
			slog.Debug("security.rate_limit_bypassed", "path", r.URL.Path)
			next.ServeHTTP(w, r)
			return
		}
		ip := ClientIP(r, g.trustProxy)
		res, err := g.tiers.General.Consume(ip)
		if err != nil && !errors.Is(err, ratelimit.ErrFault) {
			// Only an empty key gets here; there is no address to account to.
			slog.Warn("security.rate_limit_no_key", "path", r.URL.Path, "error", err)
			writeError(w, http.StatusBadRequest, "client address unavailable")
			return
		}
		if !res.Allowed {
			g.reject(w, r, ratelimit.TierGeneral, ip, res)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ConsumeUser charges the user tier. It returns the result and reports
// whether the request may proceed. An empty user id is never charged.
func (g *RateLimitGuard) ConsumeUser(userID string) (ratelimit.Result, bool) {
	if userID == "" {
		return ratelimit.Result{Allowed: true}, true
	}
	res, err := g.tiers.User.Consume(ratelimit.UserKey(userID))
	if err != nil && !errors.Is(err, ratelimit.ErrFault) {
		return ratelimit.Result{Allowed: true}, true
	}
	if !res.Allowed {
		slog.Warn("security.rate_limited", "tier", ratelimit.TierUser, "user", userID, "retry_after", res.RetryAfterSeconds())
		g.count(ratelimit.TierUser)
	}
	return res, res.Allowed
}

func (g *RateLimitGuard) count(tier string) {
	if g.observer != nil {
		g.observer.RateLimited(tier)
	}
}

func (g *RateLimitGuard) reject(w http.ResponseWriter, r *http.Request, tier, key string, res ratelimit.Result) {
	secs := res.RetryAfterSeconds()
	slog.Warn("security.rate_limited", "tier", tier, "key", key, "path", r.URL.Path, "retry_after", secs)
	g.count(tier)
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	if isKakaoPath(r.URL.Path) {
		writeJSON(w, http.StatusOK, kakao.SimpleResponse(kakao.RateLimitedMessage(secs)))
		return
	}
	writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{
		"success":    false,
		"error":      "Too many requests",
		"retryAfter": secs,
	})
}
