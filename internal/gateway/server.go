package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/talkgate/internal/adminauth"
	"github.com/nextlevelbuilder/talkgate/internal/assistant"
	"github.com/nextlevelbuilder/talkgate/internal/channels/kakao"
	"github.com/nextlevelbuilder/talkgate/internal/config"
	"github.com/nextlevelbuilder/talkgate/internal/conversation"
	httpapi "github.com/nextlevelbuilder/talkgate/internal/http"
	"github.com/nextlevelbuilder/talkgate/internal/ratelimit"
	"github.com/nextlevelbuilder/talkgate/internal/store"
	"github.com/nextlevelbuilder/talkgate/internal/telemetry"
)

const shutdownTimeout = 5 * time.Second

// Deps is everything the server serves. Exchanges and Metrics may be nil.
type Deps struct {
	Config        *config.Config
	Tiers         *ratelimit.Tiers
	Conversations *conversation.Cache
	Sessions      *adminauth.Store
	Assistant     *assistant.Service
	Exchanges     store.ExchangeStore
	Metrics       *telemetry.Metrics
	Version       string
}

// Server is the HTTP gateway: webhooks, admin surface, health and metrics.
// It also owns the sweepers of the in-memory stores.
type Server struct {
	cfg       *config.Config
	deps      Deps
	guard     *httpapi.RateLimitGuard
	startedAt time.Time

	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer creates a new gateway server.
func NewServer(d Deps) *Server {
	var observer httpapi.RejectObserver
	if d.Metrics != nil {
		observer = d.Metrics
	}
	cfg := d.Config
	return &Server{
		cfg:       cfg,
		deps:      d,
		guard:     httpapi.NewRateLimitGuard(d.Tiers, cfg.RateLimit.BypassToken, cfg.Gateway.TrustProxy, observer),
		startedAt: time.Now(),
	}
}

// BuildMux creates and caches the mux with all routes registered.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}
	cfg := s.cfg
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	if s.deps.Metrics != nil && cfg.Telemetry.Metrics {
		mux.Handle("GET /metrics", s.deps.Metrics.Handler())
	}

	testEndpoint := !cfg.IsProduction()
	if cfg.Channels.Kakao.TestEndpoint != nil {
		testEndpoint = *cfg.Channels.Kakao.TestEndpoint
	}

	httpapi.NewKakaoHandler(s.deps.Assistant, s.guard, httpapi.KakaoOptions{
		Filter: kakao.MessageFilter{
			MaxLength:  cfg.Channels.Kakao.MaxMessageLength,
			SpamFilter: cfg.Channels.Kakao.SpamFilterEnabled(),
		},
		MaxBodyBytes:    cfg.Gateway.MaxBodyBytes,
		MaxQuickReplies: cfg.Conversation.MaxQuickReplies,
		TestEndpoint:    testEndpoint,
		Version:         s.deps.Version,
	}).RegisterRoutes(mux)

	if cfg.Channels.MessengerBot.Enabled {
		httpapi.NewMessengerBotHandler(s.deps.Assistant, s.guard, cfg.Gateway.MaxBodyBytes, testEndpoint).RegisterRoutes(mux)
	}

	auth := httpapi.NewAdminAuthHandler(s.deps.Sessions, httpapi.AdminAuthOptions{
		DisableAuth:  cfg.Admin.DisableAuth,
		SecureCookie: cfg.Admin.SecureCookie || cfg.IsProduction(),
		TrustProxy:   cfg.Gateway.TrustProxy,
		MaxBodyBytes: cfg.Gateway.MaxBodyBytes,
	})
	auth.RegisterRoutes(mux)

	httpapi.NewAdminAPIHandler(httpapi.AdminAPIDeps{
		Config:    cfg,
		Auth:      auth,
		Guard:     s.guard,
		Sessions:  s.deps.Sessions,
		Assistant: s.deps.Assistant,
		Exchanges: s.deps.Exchanges,
		Version:   s.deps.Version,
	}).RegisterRoutes(mux)

	s.mux = mux
	return mux
}

// Handler wraps the mux in the request middleware chain.
func (s *Server) Handler() http.Handler {
	return httpapi.Chain(s.BuildMux(),
		httpapi.Recover,
		httpapi.RequestID,
		httpapi.CORS(s.cfg.Gateway.AllowedOrigins),
		requestTimeout(s.cfg.Gateway.RequestTimeout.D()),
	)
}

// Start serves HTTP and runs the store sweepers until ctx is done, then
// shuts the listener down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Gateway.Host, fmt.Sprint(s.cfg.Gateway.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("gateway listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("gateway server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Warn("gateway shutdown", "error", err)
		}
		return nil
	})
	g.Go(func() error { s.deps.Tiers.Run(gctx); return nil })
	g.Go(func() error { s.deps.Conversations.Run(gctx); return nil })
	g.Go(func() error { s.deps.Sessions.Run(gctx); return nil })

	return g.Wait()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","version":%q,"env":%q,"uptime":%q}`,
		s.deps.Version, s.cfg.Env, time.Since(s.startedAt).Round(time.Second).String())
}

// requestTimeout bounds each request's context. The model call honours it.
func requestTimeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if d <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
