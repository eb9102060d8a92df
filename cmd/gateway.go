package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nextlevelbuilder/talkgate/internal/adminauth"
	"github.com/nextlevelbuilder/talkgate/internal/assistant"
	"github.com/nextlevelbuilder/talkgate/internal/config"
	"github.com/nextlevelbuilder/talkgate/internal/conversation"
	"github.com/nextlevelbuilder/talkgate/internal/gateway"
	"github.com/nextlevelbuilder/talkgate/internal/providers"
	"github.com/nextlevelbuilder/talkgate/internal/ratelimit"
	"github.com/nextlevelbuilder/talkgate/internal/store"
	"github.com/nextlevelbuilder/talkgate/internal/store/pg"
	"github.com/nextlevelbuilder/talkgate/internal/store/sqlite"
	"github.com/nextlevelbuilder/talkgate/internal/telemetry"
	"github.com/nextlevelbuilder/talkgate/internal/timedstore"
)

const shutdownFlushTimeout = 5 * time.Second

func runGateway() error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "path", cfgPath, "error", err)
		return err
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Telemetry
	shutdownTracer, err := telemetry.InitTracer(ctx, telemetry.TracerConfig{
		Enabled:     cfg.Telemetry.Enabled,
		Endpoint:    cfg.Telemetry.Endpoint,
		Protocol:    cfg.Telemetry.Protocol,
		Insecure:    cfg.Telemetry.Insecure,
		ServiceName: cfg.Telemetry.ServiceName,
		Headers:     cfg.Telemetry.Headers,
	})
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer flush("tracer", shutdownTracer)

	metrics, err := telemetry.InitMetrics(cfg.Telemetry.Metrics)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	defer flush("metrics", metrics.Shutdown)

	// In-memory stores
	storeOpts := func(name string) []timedstore.Option {
		return []timedstore.Option{
			timedstore.WithShards(cfg.Stores.Shards),
			timedstore.WithMaxEntries(cfg.Stores.MaxEntries),
			timedstore.WithSweepInterval(cfg.Stores.SweepInterval.D()),
			timedstore.WithMetrics(metrics.Store(name)),
		}
	}

	tiers, err := ratelimit.NewTiers(
		tierPolicy(cfg.RateLimit.General),
		tierPolicy(cfg.RateLimit.User),
		func(tier string) []timedstore.Option { return storeOpts("ratelimit_" + tier) },
	)
	if err != nil {
		return err
	}
	conv, err := conversation.New(conversation.Config{
		MaxTurns: cfg.Conversation.MaxTurns,
		TTL:      cfg.Conversation.TTL.D(),
	}, storeOpts("conversation")...)
	if err != nil {
		return err
	}
	sessions, err := adminauth.New(adminauth.Config{
		Username:              cfg.Admin.Username,
		PasswordHash:          cfg.Admin.PasswordHash,
		TTL:                   cfg.Admin.SessionTTL.D(),
		PurgeOnOriginMismatch: cfg.Admin.PurgeOnOriginMismatch,
		FailedLoginDelay:      cfg.Admin.FailedLoginDelay.D(),
	}, storeOpts("admin_sessions")...)
	if err != nil {
		return err
	}
	if !sessions.Configured() && !cfg.Admin.DisableAuth {
		slog.Warn("admin login disabled: TALKGATE_ADMIN_PASSWORD_HASH is not set (generate one with `talkgate hash-password`)")
	}
	if cfg.RateLimit.BypassToken != "" {
		slog.Warn("security.rate_limit_bypass_enabled", "header", "X-Bypass-Rate-Limit")
	}

	// Exchange log
	stores, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := stores.Close(); err != nil {
			slog.Warn("close stores", "error", err)
		}
	}()

	// Model
	var prov providers.Provider
	if cfg.Provider.APIKey != "" {
		prov = newProvider(cfg)
	} else {
		slog.Warn("no model API key configured: every reply will use the fallback message")
	}

	opts := []assistant.Option{assistant.WithObserver(metrics)}
	if stores.Exchanges != nil {
		opts = append(opts, assistant.WithExchangeStore(stores.Exchanges))
	}
	svc := assistant.New(prov, conv, assistant.Config{
		BotName:           cfg.Channels.Kakao.BotName,
		Model:             cfg.Provider.Model,
		MaxTokens:         cfg.Provider.MaxTokens,
		Temperature:       cfg.Provider.Temperature,
		PresencePenalty:   cfg.Provider.PresencePenalty,
		FrequencyPenalty:  cfg.Provider.FrequencyPenalty,
		MaxQuickReplies:   cfg.Conversation.MaxQuickReplies,
		RequestsPerSecond: cfg.Provider.RequestsPerSecond,
		Burst:             cfg.Provider.Burst,
		SummaryLines:      cfg.Channels.MessengerBot.SummaryLines,
		SummaryMaxTokens:  cfg.Channels.MessengerBot.MaxTokens,
		SummaryModel:      cfg.Channels.MessengerBot.Model,
	}, opts...)

	server := gateway.NewServer(gateway.Deps{
		Config:        cfg,
		Tiers:         tiers,
		Conversations: conv,
		Sessions:      sessions,
		Assistant:     svc,
		Exchanges:     stores.Exchanges,
		Metrics:       metrics,
		Version:       Version,
	})

	slog.Info("talkgate starting",
		"version", Version,
		"env", cfg.Env,
		"config_hash", cfg.Hash(),
		"model", svc.Model(),
		"exchange_log", cfg.ExchangeLogEnabled(),
		"sweep_interval", cfg.Stores.SweepInterval.String(),
	)

	if err := server.Start(ctx); err != nil {
		slog.Error("gateway error", "error", err)
		return err
	}
	slog.Info("graceful shutdown complete")
	return nil
}

func tierPolicy(t config.TierConfig) ratelimit.Policy {
	return ratelimit.Policy{
		Points:        t.Points,
		Duration:      t.Duration.D(),
		BlockDuration: t.BlockDuration.D(),
	}
}

func newProvider(cfg *config.Config) *providers.OpenAIProvider {
	retry := providers.DefaultRetryConfig()
	retry.Attempts = cfg.Provider.MaxRetries + 1
	return providers.NewOpenAIProvider("openai", cfg.Provider.APIKey, cfg.Provider.APIBase, cfg.Provider.Model).
		WithTimeout(cfg.Provider.Timeout.D()).
		WithRetry(retry)
}

// openStores opens the configured exchange-log backend. The returned Stores
// has a nil Exchanges when the log is off.
func openStores(cfg *config.Config) (*store.Stores, error) {
	sc := store.StoreConfig{
		Driver:      cfg.Database.Driver,
		SQLitePath:  config.ExpandHome(cfg.Database.SQLitePath),
		PostgresDSN: cfg.Database.PostgresDSN,
	}
	switch sc.Driver {
	case "sqlite":
		ex, err := sqlite.Open(sc.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite exchange log: %w", err)
		}
		slog.Info("exchange log enabled", "driver", "sqlite", "path", sc.SQLitePath)
		return &store.Stores{Exchanges: ex}, nil
	case "postgres":
		stores, err := pg.NewPGStores(sc)
		if err != nil {
			return nil, err
		}
		slog.Info("exchange log enabled", "driver", "postgres")
		return stores, nil
	}
	return &store.Stores{}, nil
}

func flush(name string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownFlushTimeout)
	defer cancel()
	if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("shutdown "+name, "error", err)
	}
}
